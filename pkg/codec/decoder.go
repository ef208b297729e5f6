package codec

import (
	"fmt"

	"github.com/capstream-io/capstream/pkg/metrics"
	"github.com/capstream-io/capstream/pkg/source"
	"github.com/capstream-io/capstream/pkg/types"
	"github.com/capstream-io/capstream/util"
)

// Decoder decodes chunks and message indexes from a byte source. It resolves
// message channels against the summary's channel table, falling back to
// channel records found inline while walking the data section.
//
// A Decoder holds only read state and never mutates the source or summary,
// so any number of Decoders may share one source.
type Decoder struct {
	src      source.Source
	channels map[uint16]*types.Channel
	schemas  map[uint16]*types.Schema
}

// NewDecoder builds a decoder over src. sum may be nil for summary-less
// logs; channels are then learned from inline records only.
func NewDecoder(src source.Source, sum *types.Summary) *Decoder {
	d := &Decoder{
		src:      src,
		channels: map[uint16]*types.Channel{},
		schemas:  map[uint16]*types.Schema{},
	}
	if sum != nil {
		for id, ch := range sum.Channels {
			d.channels[id] = ch
		}
		for id, s := range sum.Schemas {
			d.schemas[id] = s
		}
	}
	return d
}

// chunkRecords reads and decompresses the records of the chunk described by
// ci. Cost is proportional to the chunk, independent of overall log size.
func (d *Decoder) chunkRecords(ci *types.ChunkIndex) ([]byte, error) {
	raw, err := source.ReadRange(d.src, ci.ChunkStartOffset, ci.ChunkLength)
	if err != nil {
		metrics.DecodeFailures.Inc()
		return nil, fmt.Errorf("reading chunk at offset %d: %w", ci.ChunkStartOffset, err)
	}
	if len(raw) < recordHeaderSize || raw[0] != types.OpChunk {
		metrics.DecodeFailures.Inc()
		return nil, fmt.Errorf("offset %d does not hold a chunk record", ci.ChunkStartOffset)
	}
	hdr, err := parseChunk(raw[recordHeaderSize:])
	if err != nil {
		metrics.DecodeFailures.Inc()
		return nil, fmt.Errorf("parsing chunk at offset %d: %w", ci.ChunkStartOffset, err)
	}
	records, err := util.Decompress(hdr.records, hdr.compression)
	if err != nil {
		metrics.DecodeFailures.Inc()
		return nil, fmt.Errorf("decompressing %q chunk at offset %d: %w", hdr.compression, ci.ChunkStartOffset, err)
	}
	metrics.ChunksDecoded.Inc()
	return records, nil
}

func (d *Decoder) register(op byte, payload []byte) error {
	switch op {
	case types.OpSchema:
		s, err := parseSchema(payload)
		if err != nil {
			return err
		}
		d.schemas[s.ID] = s
	case types.OpChannel:
		ch, err := parseChannel(payload)
		if err != nil {
			return err
		}
		if _, ok := d.channels[ch.ID]; !ok {
			d.channels[ch.ID] = ch
		}
	}
	return nil
}

func (d *Decoder) resolveMessage(payload []byte) (*types.Message, error) {
	hdr, data, err := parseMessage(payload)
	if err != nil {
		return nil, err
	}
	ch, ok := d.channels[hdr.ChannelID]
	if !ok {
		return nil, fmt.Errorf("message references unknown channel %d", hdr.ChannelID)
	}
	metrics.MessagesDecoded.Inc()
	return &types.Message{
		Channel:     ch,
		Sequence:    hdr.Sequence,
		LogTime:     hdr.LogTime,
		PublishTime: hdr.PublishTime,
		Data:        data,
	}, nil
}

// StreamChunk decodes one chunk and calls visit for every message in storage
// order. Channel and schema records inside the chunk are registered first.
func (d *Decoder) StreamChunk(ci *types.ChunkIndex, visit func(*types.Message) error) error {
	records, err := d.chunkRecords(ci)
	if err != nil {
		return err
	}
	return walkRecords(records, func(op byte, payload []byte) error {
		switch op {
		case types.OpSchema, types.OpChannel:
			return d.register(op, payload)
		case types.OpMessage:
			msg, err := d.resolveMessage(payload)
			if err != nil {
				metrics.DecodeFailures.Inc()
				return err
			}
			return visit(msg)
		}
		return nil
	})
}

// MessageIndexes reads the chunk's message index block and returns the
// per-channel entries, sorted ascending by log time by construction. Only
// the index block is read; the chunk payload stays untouched.
func (d *Decoder) MessageIndexes(ci *types.ChunkIndex) (map[uint16][]types.MessageIndexEntry, error) {
	out := make(map[uint16][]types.MessageIndexEntry, len(ci.MessageIndexOffsets))
	for channelID, off := range ci.MessageIndexOffsets {
		hdr, err := source.ReadRange(d.src, off, recordHeaderSize)
		if err != nil {
			return nil, fmt.Errorf("reading message index header for channel %d: %w", channelID, err)
		}
		if hdr[0] != types.OpMessageIndex {
			return nil, fmt.Errorf("offset %d does not hold a message index record", off)
		}
		c := newCursor(hdr[1:])
		length := c.u64("message index record length")
		payload, err := source.ReadRange(d.src, off+recordHeaderSize, length)
		if err != nil {
			return nil, fmt.Errorf("reading message index for channel %d: %w", channelID, err)
		}
		id, entries, err := parseMessageIndex(payload)
		if err != nil {
			return nil, err
		}
		if id != channelID {
			return nil, fmt.Errorf("message index at offset %d is for channel %d, expected %d", off, id, channelID)
		}
		if len(entries) > 0 {
			out[id] = entries
		}
	}
	metrics.IndexReads.Inc()
	return out, nil
}

// SeekMessage decodes exactly one message located by a message index entry.
func (d *Decoder) SeekMessage(ci *types.ChunkIndex, entry types.MessageIndexEntry) (*types.Message, error) {
	records, err := d.chunkRecords(ci)
	if err != nil {
		return nil, err
	}
	off := int(entry.Offset)
	if off < 0 || off+recordHeaderSize > len(records) {
		return nil, fmt.Errorf("index entry offset %d out of chunk bounds (%d)", entry.Offset, len(records))
	}
	if records[off] != types.OpMessage {
		return nil, fmt.Errorf("index entry offset %d does not hold a message record", entry.Offset)
	}
	c := newCursor(records[off+1:])
	length := c.u64("message record length")
	end := off + recordHeaderSize + int(length)
	if end < off+recordHeaderSize || end > len(records) {
		return nil, fmt.Errorf("message record at offset %d overruns chunk", entry.Offset)
	}
	return d.resolveMessage(records[off+recordHeaderSize : end])
}

// StreamAll walks the data section from the beginning, entering chunks, and
// calls visit for every message in storage order. It needs no summary and
// stops at the data-end record (or the footer).
func (d *Decoder) StreamAll(visit func(*types.Message) error) error {
	return d.walkDataSection(func(op byte, payload []byte) error {
		switch op {
		case types.OpSchema, types.OpChannel:
			return d.register(op, payload)
		case types.OpMessage:
			msg, err := d.resolveMessage(payload)
			if err != nil {
				metrics.DecodeFailures.Inc()
				return err
			}
			return visit(msg)
		}
		return nil
	})
}

// StreamAllRaw is StreamAll without channel resolution or payload decoding:
// visit receives the message header and raw payload bytes.
func (d *Decoder) StreamAllRaw(visit func(*types.RawMessage) error) error {
	return d.walkDataSection(func(op byte, payload []byte) error {
		if op != types.OpMessage {
			return nil
		}
		hdr, data, err := parseMessage(payload)
		if err != nil {
			metrics.DecodeFailures.Inc()
			return err
		}
		return visit(&types.RawMessage{Header: hdr, Data: data})
	})
}

func (d *Decoder) walkDataSection(fn func(op byte, payload []byte) error) error {
	size := uint64(d.src.Size())
	magicLen := uint64(len(types.Magic))
	if size < magicLen {
		return fmt.Errorf("log too small: %d bytes", size)
	}
	head, err := source.ReadRange(d.src, 0, magicLen)
	if err != nil {
		return err
	}
	if string(head) != types.Magic {
		return fmt.Errorf("bad start magic")
	}

	off := magicLen
	for off+recordHeaderSize <= size {
		hdr, err := source.ReadRange(d.src, off, recordHeaderSize)
		if err != nil {
			return err
		}
		op := hdr[0]
		c := newCursor(hdr[1:])
		length := c.u64("record length")
		if op == types.OpDataEnd || op == types.OpFooter {
			return nil
		}
		payload, err := source.ReadRange(d.src, off+recordHeaderSize, length)
		if err != nil {
			return fmt.Errorf("reading record 0x%02X at offset %d: %w", op, off, err)
		}

		if op == types.OpChunk {
			chunk, err := parseChunk(payload)
			if err != nil {
				metrics.DecodeFailures.Inc()
				return fmt.Errorf("parsing chunk at offset %d: %w", off, err)
			}
			records, err := util.Decompress(chunk.records, chunk.compression)
			if err != nil {
				metrics.DecodeFailures.Inc()
				return fmt.Errorf("decompressing chunk at offset %d: %w", off, err)
			}
			metrics.ChunksDecoded.Inc()
			if err := walkRecords(records, fn); err != nil {
				return err
			}
		} else if err := fn(op, payload); err != nil {
			return err
		}
		off += recordHeaderSize + length
	}
	return nil
}

// ReadAttachment reads one attachment record located by its index entry.
func ReadAttachment(src source.Source, idx *types.AttachmentIndex) (*types.Attachment, error) {
	rec, err := source.ReadRange(src, idx.Offset, idx.Length)
	if err != nil {
		return nil, fmt.Errorf("reading attachment %q: %w", idx.Name, err)
	}
	if len(rec) < recordHeaderSize || rec[0] != types.OpAttachment {
		return nil, fmt.Errorf("offset %d does not hold an attachment record", idx.Offset)
	}
	return parseAttachment(rec[recordHeaderSize:])
}

// ReadMetadata reads one metadata record located by its index entry.
func ReadMetadata(src source.Source, idx *types.MetadataIndex) (*types.Metadata, error) {
	rec, err := source.ReadRange(src, idx.Offset, idx.Length)
	if err != nil {
		return nil, fmt.Errorf("reading metadata %q: %w", idx.Name, err)
	}
	if len(rec) < recordHeaderSize || rec[0] != types.OpMetadata {
		return nil, fmt.Errorf("offset %d does not hold a metadata record", idx.Offset)
	}
	return parseMetadata(rec[recordHeaderSize:])
}
