package types

const (
	// MessageIndexEntrySize is the encoded size of one entry: log_time(8) + offset(8).
	MessageIndexEntrySize = 16
)

// MessageIndexEntry locates one message inside a chunk: its log time and its
// byte offset within the chunk's uncompressed records. Entries for one
// channel of one chunk are sorted ascending by log time by construction.
type MessageIndexEntry struct {
	LogTime uint64
	Offset  uint64
}

// ChunkIndex is the summary-section entry for one chunk. Chunks are
// conventionally non-overlapping and time-ordered, but the format does not
// enforce it; readers must tolerate violations.
type ChunkIndex struct {
	MessageStartTime uint64
	MessageEndTime   uint64
	ChunkStartOffset uint64
	ChunkLength      uint64
	// MessageIndexOffsets maps channel id to the file offset of that
	// channel's message index record for this chunk.
	MessageIndexOffsets map[uint16]uint64
	MessageIndexLength  uint64
	Compression         string
	CompressedSize      uint64
	UncompressedSize    uint64
}

// AttachmentIndex locates an attachment record and repeats its metadata.
type AttachmentIndex struct {
	Offset     uint64
	Length     uint64
	LogTime    uint64
	CreateTime uint64
	DataSize   uint64
	Name       string
	MediaType  string
}

// MetadataIndex locates a metadata record.
type MetadataIndex struct {
	Offset uint64
	Length uint64
	Name   string
}
