package codec

import (
	"fmt"
	"io"
	"sort"

	"github.com/capstream-io/capstream/pkg/types"
	"github.com/capstream-io/capstream/util"
)

// WriterOptions controls how a log is laid out. Durability is the caller's
// concern; the writer only produces bytes.
type WriterOptions struct {
	// Compression tag for chunks: "", "lz4" or "zstd".
	Compression string
	// ChunkSize is the uncompressed byte threshold at which a chunk is cut.
	ChunkSize int
	// DisableSummary omits the trailing index section; such logs only
	// support linear reads.
	DisableSummary bool
	Profile        string
	Library        string
}

const defaultChunkSize = 1 << 20

// Writer produces a chunked capture log with message indexes, chunk indexes
// and a trailing summary, suitable for the indexed reader. Used by tests and
// recording hosts.
type Writer struct {
	w    io.Writer
	off  uint64
	opts WriterOptions

	schemas    []*types.Schema
	schemaIDs  map[string]uint16
	channels   []*types.Channel
	channelIDs map[string]uint16

	chunk        []byte
	chunkStart   uint64
	chunkEnd     uint64
	chunkHasMsgs bool
	msgIndex     map[uint16][]types.MessageIndexEntry

	chunkIndexes      []*types.ChunkIndex
	attachmentIndexes []*types.AttachmentIndex
	metadataIndexes   []*types.MetadataIndex
	stats             types.Statistics

	closed bool
}

// NewWriter starts a log on w, writing the leading magic and header record.
func NewWriter(w io.Writer, opts *WriterOptions) (*Writer, error) {
	o := WriterOptions{}
	if opts != nil {
		o = *opts
	}
	if o.ChunkSize <= 0 {
		o.ChunkSize = defaultChunkSize
	}
	switch o.Compression {
	case types.CompressionNone, types.CompressionLZ4, types.CompressionZstd, "none":
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", o.Compression)
	}
	if o.Compression == "none" {
		o.Compression = types.CompressionNone
	}

	wr := &Writer{
		w:          w,
		opts:       o,
		schemaIDs:  map[string]uint16{},
		channelIDs: map[string]uint16{},
		msgIndex:   map[uint16][]types.MessageIndexEntry{},
	}
	if err := wr.write([]byte(types.Magic)); err != nil {
		return nil, err
	}
	var body []byte
	body = appendStr(body, o.Profile)
	body = appendStr(body, o.Library)
	if err := wr.writeRecord(types.OpHeader, body); err != nil {
		return nil, err
	}
	return wr, nil
}

func (w *Writer) write(b []byte) error {
	n, err := w.w.Write(b)
	w.off += uint64(n)
	if err != nil {
		return fmt.Errorf("log write failed: %w", err)
	}
	return nil
}

func (w *Writer) writeRecord(op byte, body []byte) error {
	hdr := make([]byte, 0, recordHeaderSize)
	hdr = append(hdr, op)
	hdr = appendU64(hdr, uint64(len(body)))
	if err := w.write(hdr); err != nil {
		return err
	}
	return w.write(body)
}

// appendChunkRecord appends a record to the current chunk's uncompressed
// records and returns the record's offset within them.
func (w *Writer) appendChunkRecord(op byte, body []byte) uint64 {
	off := uint64(len(w.chunk))
	w.chunk = append(w.chunk, op)
	w.chunk = appendU64(w.chunk, uint64(len(body)))
	w.chunk = append(w.chunk, body...)
	return off
}

func encodeSchema(s *types.Schema) []byte {
	var b []byte
	b = appendU16(b, s.ID)
	b = appendStr(b, s.Name)
	b = appendStr(b, s.Encoding)
	b = appendBytesU32(b, s.Data)
	return b
}

func encodeChannel(ch *types.Channel) []byte {
	var b []byte
	b = appendU16(b, ch.ID)
	b = appendU16(b, ch.SchemaID)
	b = appendStr(b, ch.Topic)
	b = appendStr(b, ch.MessageEncoding)
	b = appendStrMap(b, ch.Metadata)
	return b
}

func appendStrMap(b []byte, m map[string]string) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var body []byte
	for _, k := range keys {
		body = appendStr(body, k)
		body = appendStr(body, m[k])
	}
	return appendBytesU32(b, body)
}

func appendU16U64Map(b []byte, m map[uint16]uint64) []byte {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, int(k))
	}
	sort.Ints(keys)
	var body []byte
	for _, k := range keys {
		body = appendU16(body, uint16(k))
		body = appendU64(body, m[uint16(k)])
	}
	return appendBytesU32(b, body)
}

// AddSchema registers a schema and returns its id. Identical content gets
// the previously assigned id.
func (w *Writer) AddSchema(name, encoding string, data []byte) (uint16, error) {
	if w.closed {
		return 0, fmt.Errorf("writer is closed")
	}
	key := name + "\x00" + encoding + "\x00" + string(data)
	if id, ok := w.schemaIDs[key]; ok {
		return id, nil
	}
	id := uint16(len(w.schemas) + 1)
	s := &types.Schema{ID: id, Name: name, Encoding: encoding, Data: append([]byte(nil), data...)}
	w.schemas = append(w.schemas, s)
	w.schemaIDs[key] = id
	w.appendChunkRecord(types.OpSchema, encodeSchema(s))
	return id, nil
}

// AddChannel registers a channel and returns its id. schemaID 0 means the
// channel has no schema.
func (w *Writer) AddChannel(schemaID uint16, topic, messageEncoding string, metadata map[string]string) (uint16, error) {
	if w.closed {
		return 0, fmt.Errorf("writer is closed")
	}
	if schemaID != 0 && int(schemaID) > len(w.schemas) {
		return 0, fmt.Errorf("unknown schema id %d", schemaID)
	}
	key := fmt.Sprintf("%d\x00%s\x00%s", schemaID, topic, messageEncoding)
	if id, ok := w.channelIDs[key]; ok {
		return id, nil
	}
	id := uint16(len(w.channels))
	ch := &types.Channel{ID: id, SchemaID: schemaID, Topic: topic, MessageEncoding: messageEncoding, Metadata: metadata}
	w.channels = append(w.channels, ch)
	w.channelIDs[key] = id
	w.appendChunkRecord(types.OpChannel, encodeChannel(ch))
	return id, nil
}

// WriteMessage appends one message to the current chunk, cutting a new chunk
// once the configured uncompressed size is reached.
func (w *Writer) WriteMessage(channelID uint16, sequence uint32, logTime, publishTime uint64, data []byte) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if int(channelID) >= len(w.channels) {
		return fmt.Errorf("unknown channel id %d", channelID)
	}

	var body []byte
	body = appendU16(body, channelID)
	body = appendU32(body, sequence)
	body = appendU64(body, logTime)
	body = appendU64(body, publishTime)
	body = append(body, data...)
	off := w.appendChunkRecord(types.OpMessage, body)

	w.msgIndex[channelID] = append(w.msgIndex[channelID], types.MessageIndexEntry{LogTime: logTime, Offset: off})
	if !w.chunkHasMsgs || logTime < w.chunkStart {
		w.chunkStart = logTime
	}
	if !w.chunkHasMsgs || logTime > w.chunkEnd {
		w.chunkEnd = logTime
	}
	w.chunkHasMsgs = true

	w.stats.MessageCount++
	if w.stats.ChannelMessageCounts == nil {
		w.stats.ChannelMessageCounts = map[uint16]uint64{}
	}
	w.stats.ChannelMessageCounts[channelID]++
	if w.stats.MessageCount == 1 || logTime < w.stats.MessageStartTime {
		w.stats.MessageStartTime = logTime
	}
	if logTime > w.stats.MessageEndTime {
		w.stats.MessageEndTime = logTime
	}

	if len(w.chunk) >= w.opts.ChunkSize {
		return w.FlushChunk()
	}
	return nil
}

// FlushChunk cuts the current chunk, writing the chunk record, its message
// index records and the in-memory chunk index entry. A chunk holding no
// messages (only schema/channel declarations) is carried over into the next
// one.
func (w *Writer) FlushChunk() error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if !w.chunkHasMsgs {
		return nil
	}

	compressed, err := util.Compress(w.chunk, w.opts.Compression)
	if err != nil {
		return fmt.Errorf("compressing chunk: %w", err)
	}

	var body []byte
	body = appendU64(body, w.chunkStart)
	body = appendU64(body, w.chunkEnd)
	body = appendU64(body, uint64(len(w.chunk)))
	body = appendU32(body, 0) // uncompressed crc not computed
	body = appendStr(body, w.opts.Compression)
	body = appendU64(body, uint64(len(compressed)))
	body = append(body, compressed...)

	chunkOffset := w.off
	if err := w.writeRecord(types.OpChunk, body); err != nil {
		return err
	}
	chunkLength := w.off - chunkOffset

	indexStart := w.off
	indexOffsets := make(map[uint16]uint64, len(w.msgIndex))
	for _, channelID := range sortedChannelIDs(w.msgIndex) {
		entries := w.msgIndex[channelID]
		var rec []byte
		rec = appendU16(rec, channelID)
		var entryBytes []byte
		for _, e := range entries {
			entryBytes = appendU64(entryBytes, e.LogTime)
			entryBytes = appendU64(entryBytes, e.Offset)
		}
		rec = appendBytesU32(rec, entryBytes)
		indexOffsets[channelID] = w.off
		if err := w.writeRecord(types.OpMessageIndex, rec); err != nil {
			return err
		}
	}

	w.chunkIndexes = append(w.chunkIndexes, &types.ChunkIndex{
		MessageStartTime:    w.chunkStart,
		MessageEndTime:      w.chunkEnd,
		ChunkStartOffset:    chunkOffset,
		ChunkLength:         chunkLength,
		MessageIndexOffsets: indexOffsets,
		MessageIndexLength:  w.off - indexStart,
		Compression:         w.opts.Compression,
		CompressedSize:      uint64(len(compressed)),
		UncompressedSize:    uint64(len(w.chunk)),
	})
	w.stats.ChunkCount++

	w.chunk = nil
	w.chunkHasMsgs = false
	w.chunkStart = 0
	w.chunkEnd = 0
	w.msgIndex = map[uint16][]types.MessageIndexEntry{}
	return nil
}

// WriteAttachment writes an attachment record between chunks.
func (w *Writer) WriteAttachment(att *types.Attachment) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if err := w.FlushChunk(); err != nil {
		return err
	}

	var body []byte
	body = appendU64(body, att.LogTime)
	body = appendU64(body, att.CreateTime)
	body = appendStr(body, att.Name)
	body = appendStr(body, att.MediaType)
	body = appendU64(body, uint64(len(att.Data)))
	body = append(body, att.Data...)
	body = appendU32(body, 0) // crc not computed

	offset := w.off
	if err := w.writeRecord(types.OpAttachment, body); err != nil {
		return err
	}
	w.attachmentIndexes = append(w.attachmentIndexes, &types.AttachmentIndex{
		Offset:     offset,
		Length:     w.off - offset,
		LogTime:    att.LogTime,
		CreateTime: att.CreateTime,
		DataSize:   uint64(len(att.Data)),
		Name:       att.Name,
		MediaType:  att.MediaType,
	})
	w.stats.AttachmentCount++
	return nil
}

// WriteMetadata writes a metadata record between chunks.
func (w *Writer) WriteMetadata(meta *types.Metadata) error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if err := w.FlushChunk(); err != nil {
		return err
	}

	var body []byte
	body = appendStr(body, meta.Name)
	body = appendStrMap(body, meta.Metadata)

	offset := w.off
	if err := w.writeRecord(types.OpMetadata, body); err != nil {
		return err
	}
	w.metadataIndexes = append(w.metadataIndexes, &types.MetadataIndex{
		Offset: offset,
		Length: w.off - offset,
		Name:   meta.Name,
	})
	w.stats.MetadataCount++
	return nil
}

// Close flushes the last chunk and writes the data-end record, the summary
// section (unless disabled), the footer and the trailing magic.
func (w *Writer) Close() error {
	if w.closed {
		return fmt.Errorf("writer is closed")
	}
	if err := w.FlushChunk(); err != nil {
		return err
	}
	w.closed = true

	var dataEnd []byte
	dataEnd = appendU32(dataEnd, 0) // data section crc not computed
	if err := w.writeRecord(types.OpDataEnd, dataEnd); err != nil {
		return err
	}

	var summaryStart uint64
	if !w.opts.DisableSummary {
		summaryStart = w.off
		for _, s := range w.schemas {
			if err := w.writeRecord(types.OpSchema, encodeSchema(s)); err != nil {
				return err
			}
		}
		for _, ch := range w.channels {
			if err := w.writeRecord(types.OpChannel, encodeChannel(ch)); err != nil {
				return err
			}
		}
		for _, ci := range w.chunkIndexes {
			var b []byte
			b = appendU64(b, ci.MessageStartTime)
			b = appendU64(b, ci.MessageEndTime)
			b = appendU64(b, ci.ChunkStartOffset)
			b = appendU64(b, ci.ChunkLength)
			b = appendU16U64Map(b, ci.MessageIndexOffsets)
			b = appendU64(b, ci.MessageIndexLength)
			b = appendStr(b, ci.Compression)
			b = appendU64(b, ci.CompressedSize)
			b = appendU64(b, ci.UncompressedSize)
			if err := w.writeRecord(types.OpChunkIndex, b); err != nil {
				return err
			}
		}
		for _, ai := range w.attachmentIndexes {
			var b []byte
			b = appendU64(b, ai.Offset)
			b = appendU64(b, ai.Length)
			b = appendU64(b, ai.LogTime)
			b = appendU64(b, ai.CreateTime)
			b = appendU64(b, ai.DataSize)
			b = appendStr(b, ai.Name)
			b = appendStr(b, ai.MediaType)
			if err := w.writeRecord(types.OpAttachmentIndex, b); err != nil {
				return err
			}
		}
		for _, mi := range w.metadataIndexes {
			var b []byte
			b = appendU64(b, mi.Offset)
			b = appendU64(b, mi.Length)
			b = appendStr(b, mi.Name)
			if err := w.writeRecord(types.OpMetadataIndex, b); err != nil {
				return err
			}
		}

		w.stats.SchemaCount = uint16(len(w.schemas))
		w.stats.ChannelCount = uint32(len(w.channels))
		var st []byte
		st = appendU64(st, w.stats.MessageCount)
		st = appendU16(st, w.stats.SchemaCount)
		st = appendU32(st, w.stats.ChannelCount)
		st = appendU32(st, w.stats.AttachmentCount)
		st = appendU32(st, w.stats.MetadataCount)
		st = appendU32(st, w.stats.ChunkCount)
		st = appendU64(st, w.stats.MessageStartTime)
		st = appendU64(st, w.stats.MessageEndTime)
		st = appendU16U64Map(st, w.stats.ChannelMessageCounts)
		if err := w.writeRecord(types.OpStatistics, st); err != nil {
			return err
		}
	}

	var footer []byte
	footer = appendU64(footer, summaryStart)
	footer = appendU64(footer, 0) // no summary offset section
	footer = appendU32(footer, 0) // summary crc not computed
	if err := w.writeRecord(types.OpFooter, footer); err != nil {
		return err
	}
	return w.write([]byte(types.Magic))
}
