package codec

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/capstream-io/capstream/pkg/types"
)

// recordHeaderSize is opcode(1) + length(8).
const recordHeaderSize = 9

// chunkHeader is the fixed part of a chunk record; records holds the
// (possibly compressed) encoded records that follow it.
type chunkHeader struct {
	messageStartTime uint64
	messageEndTime   uint64
	uncompressedSize uint64
	uncompressedCRC  uint32
	compression      string
	records          []byte
}

func parseChunk(p []byte) (*chunkHeader, error) {
	c := newCursor(p)
	h := &chunkHeader{
		messageStartTime: c.u64("chunk message_start_time"),
		messageEndTime:   c.u64("chunk message_end_time"),
		uncompressedSize: c.u64("chunk uncompressed_size"),
		uncompressedCRC:  c.u32("chunk uncompressed_crc"),
		compression:      c.str("chunk compression"),
	}
	recordsLen := c.u64("chunk records length")
	h.records = c.take(int(recordsLen), "chunk records")
	return h, c.err
}

func parseSchema(p []byte) (*types.Schema, error) {
	c := newCursor(p)
	s := &types.Schema{
		ID:       c.u16("schema id"),
		Name:     c.str("schema name"),
		Encoding: c.str("schema encoding"),
		Data:     c.bytesU32("schema data"),
	}
	return s, c.err
}

func parseChannel(p []byte) (*types.Channel, error) {
	c := newCursor(p)
	ch := &types.Channel{
		ID:              c.u16("channel id"),
		SchemaID:        c.u16("channel schema_id"),
		Topic:           c.str("channel topic"),
		MessageEncoding: c.str("channel message_encoding"),
		Metadata:        c.strMap("channel metadata"),
	}
	return ch, c.err
}

func parseMessage(p []byte) (types.MessageHeader, []byte, error) {
	c := newCursor(p)
	h := types.MessageHeader{
		ChannelID:   c.u16("message channel_id"),
		Sequence:    c.u32("message sequence"),
		LogTime:     c.u64("message log_time"),
		PublishTime: c.u64("message publish_time"),
	}
	data := c.rest()
	return h, data, c.err
}

func parseMessageIndex(p []byte) (uint16, []types.MessageIndexEntry, error) {
	c := newCursor(p)
	channelID := c.u16("message index channel_id")
	n := c.u32("message index records length")
	body := c.take(int(n), "message index records")
	if c.err != nil {
		return 0, nil, c.err
	}
	if len(body)%types.MessageIndexEntrySize != 0 {
		return 0, nil, fmt.Errorf("malformed message index for channel %d: length %d not a multiple of %d",
			channelID, len(body), types.MessageIndexEntrySize)
	}
	entries := make([]types.MessageIndexEntry, 0, len(body)/types.MessageIndexEntrySize)
	inner := newCursor(body)
	for inner.remaining() > 0 {
		entries = append(entries, types.MessageIndexEntry{
			LogTime: inner.u64("message index log_time"),
			Offset:  inner.u64("message index offset"),
		})
	}
	return channelID, entries, inner.err
}

func parseChunkIndex(p []byte) (*types.ChunkIndex, error) {
	c := newCursor(p)
	ci := &types.ChunkIndex{
		MessageStartTime:    c.u64("chunk index message_start_time"),
		MessageEndTime:      c.u64("chunk index message_end_time"),
		ChunkStartOffset:    c.u64("chunk index chunk_start_offset"),
		ChunkLength:         c.u64("chunk index chunk_length"),
		MessageIndexOffsets: c.u16u64Map("chunk index message_index_offsets"),
		MessageIndexLength:  c.u64("chunk index message_index_length"),
		Compression:         c.str("chunk index compression"),
		CompressedSize:      c.u64("chunk index compressed_size"),
		UncompressedSize:    c.u64("chunk index uncompressed_size"),
	}
	return ci, c.err
}

func parseStatistics(p []byte) (*types.Statistics, error) {
	c := newCursor(p)
	st := &types.Statistics{
		MessageCount:     c.u64("statistics message_count"),
		SchemaCount:      c.u16("statistics schema_count"),
		ChannelCount:     c.u32("statistics channel_count"),
		AttachmentCount:  c.u32("statistics attachment_count"),
		MetadataCount:    c.u32("statistics metadata_count"),
		ChunkCount:       c.u32("statistics chunk_count"),
		MessageStartTime: c.u64("statistics message_start_time"),
		MessageEndTime:   c.u64("statistics message_end_time"),
	}
	st.ChannelMessageCounts = c.u16u64Map("statistics channel_message_counts")
	return st, c.err
}

func parseAttachment(p []byte) (*types.Attachment, error) {
	c := newCursor(p)
	att := &types.Attachment{
		LogTime:    c.u64("attachment log_time"),
		CreateTime: c.u64("attachment create_time"),
		Name:       c.str("attachment name"),
		MediaType:  c.str("attachment media_type"),
	}
	dataLen := c.u64("attachment data length")
	data := c.take(int(dataLen), "attachment data")
	c.u32("attachment crc")
	if c.err != nil {
		return nil, c.err
	}
	att.Data = append([]byte(nil), data...)
	return att, nil
}

func parseAttachmentIndex(p []byte) (*types.AttachmentIndex, error) {
	c := newCursor(p)
	ai := &types.AttachmentIndex{
		Offset:     c.u64("attachment index offset"),
		Length:     c.u64("attachment index length"),
		LogTime:    c.u64("attachment index log_time"),
		CreateTime: c.u64("attachment index create_time"),
		DataSize:   c.u64("attachment index data_size"),
		Name:       c.str("attachment index name"),
		MediaType:  c.str("attachment index media_type"),
	}
	return ai, c.err
}

func parseMetadata(p []byte) (*types.Metadata, error) {
	c := newCursor(p)
	m := &types.Metadata{
		Name:     c.str("metadata name"),
		Metadata: c.strMap("metadata entries"),
	}
	return m, c.err
}

func parseMetadataIndex(p []byte) (*types.MetadataIndex, error) {
	c := newCursor(p)
	mi := &types.MetadataIndex{
		Offset: c.u64("metadata index offset"),
		Length: c.u64("metadata index length"),
		Name:   c.str("metadata index name"),
	}
	return mi, c.err
}

func parseFooter(p []byte) (*types.Footer, error) {
	c := newCursor(p)
	f := &types.Footer{
		SummaryStart:       c.u64("footer summary_start"),
		SummaryOffsetStart: c.u64("footer summary_offset_start"),
		SummaryCRC:         c.u32("footer summary_crc"),
	}
	return f, c.err
}

// walkRecords iterates the records packed in b, calling fn with each opcode
// and payload. Framing errors abort the walk.
func walkRecords(b []byte, fn func(op byte, payload []byte) error) error {
	off := 0
	for off < len(b) {
		if off+recordHeaderSize > len(b) {
			return fmt.Errorf("truncated record header at offset %d", off)
		}
		op := b[off]
		length := binary.LittleEndian.Uint64(b[off+1:])
		body := off + recordHeaderSize
		end := body + int(length)
		if end < body || end > len(b) {
			return fmt.Errorf("record 0x%02X at offset %d overruns buffer (length %d)", op, off, length)
		}
		if err := fn(op, b[body:end]); err != nil {
			return err
		}
		off = end
	}
	return nil
}

// sortedChannelIDs returns the keys of a per-channel map in ascending order,
// for deterministic iteration.
func sortedChannelIDs(m map[uint16][]types.MessageIndexEntry) []uint16 {
	ids := make([]uint16, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
