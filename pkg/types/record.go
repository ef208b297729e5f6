package types

// Magic is the 8-byte sequence found at both ends of a capture log.
const Magic = "\x89MCAP0\r\n"

// Record opcodes of the container format.
const (
	OpHeader          byte = 0x01
	OpFooter          byte = 0x02
	OpSchema          byte = 0x03
	OpChannel         byte = 0x04
	OpMessage         byte = 0x05
	OpChunk           byte = 0x06
	OpMessageIndex    byte = 0x07
	OpChunkIndex      byte = 0x08
	OpAttachment      byte = 0x09
	OpAttachmentIndex byte = 0x0A
	OpStatistics      byte = 0x0B
	OpMetadata        byte = 0x0C
	OpMetadataIndex   byte = 0x0D
	OpSummaryOffset   byte = 0x0E
	OpDataEnd         byte = 0x0F
)

// Chunk compression tags defined by the container format.
const (
	CompressionNone = ""
	CompressionLZ4  = "lz4"
	CompressionZstd = "zstd"
)

// Footer points at the summary section. SummaryStart == 0 means the log was
// written without a summary.
type Footer struct {
	SummaryStart       uint64
	SummaryOffsetStart uint64
	SummaryCRC         uint32
}
