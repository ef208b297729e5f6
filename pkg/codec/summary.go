package codec

import (
	"bytes"
	"fmt"

	"github.com/capstream-io/capstream/pkg/source"
	"github.com/capstream-io/capstream/pkg/types"
)

// footerRecordSize is the record header plus the fixed 20-byte footer body.
const footerRecordSize = recordHeaderSize + 20

// ReadFooter locates and parses the footer record at the end of the log.
// With ignoreEndMagic set, a missing trailing magic is tolerated (truncated
// but otherwise well-formed logs).
func ReadFooter(src source.Source, ignoreEndMagic bool) (*types.Footer, error) {
	size := uint64(src.Size())
	minSize := uint64(len(types.Magic))*2 + footerRecordSize
	if size < minSize {
		return nil, fmt.Errorf("log too small for a footer: %d bytes", size)
	}

	head, err := source.ReadRange(src, 0, uint64(len(types.Magic)))
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(head, []byte(types.Magic)) {
		return nil, fmt.Errorf("bad start magic")
	}

	footerEnd := size - uint64(len(types.Magic))
	if ignoreEndMagic {
		footerEnd = size
	} else {
		tail, err := source.ReadRange(src, size-uint64(len(types.Magic)), uint64(len(types.Magic)))
		if err != nil {
			return nil, err
		}
		if !bytes.Equal(tail, []byte(types.Magic)) {
			return nil, fmt.Errorf("bad end magic")
		}
	}

	rec, err := source.ReadRange(src, footerEnd-footerRecordSize, footerRecordSize)
	if err != nil {
		return nil, err
	}
	if rec[0] != types.OpFooter {
		return nil, fmt.Errorf("expected footer record, found opcode 0x%02X", rec[0])
	}
	return parseFooter(rec[recordHeaderSize:])
}

// ReadSummary parses the trailing index section. Returns (nil, nil) when the
// log was written without one; that is a degraded log, not an error.
func ReadSummary(src source.Source, ignoreEndMagic bool) (*types.Summary, error) {
	footer, err := ReadFooter(src, ignoreEndMagic)
	if err != nil {
		return nil, err
	}
	if footer.SummaryStart == 0 {
		return nil, nil
	}

	end := uint64(src.Size()) - uint64(len(types.Magic)) - footerRecordSize
	if ignoreEndMagic {
		end = uint64(src.Size()) - footerRecordSize
	}
	if footer.SummaryStart >= end {
		return nil, fmt.Errorf("summary start %d beyond footer at %d", footer.SummaryStart, end)
	}
	section, err := source.ReadRange(src, footer.SummaryStart, end-footer.SummaryStart)
	if err != nil {
		return nil, fmt.Errorf("reading summary section: %w", err)
	}

	sum := &types.Summary{
		Channels: map[uint16]*types.Channel{},
		Schemas:  map[uint16]*types.Schema{},
	}
	err = walkRecords(section, func(op byte, payload []byte) error {
		switch op {
		case types.OpSchema:
			s, err := parseSchema(payload)
			if err != nil {
				return err
			}
			sum.Schemas[s.ID] = s
		case types.OpChannel:
			ch, err := parseChannel(payload)
			if err != nil {
				return err
			}
			sum.Channels[ch.ID] = ch
		case types.OpChunkIndex:
			ci, err := parseChunkIndex(payload)
			if err != nil {
				return err
			}
			sum.ChunkIndexes = append(sum.ChunkIndexes, ci)
		case types.OpAttachmentIndex:
			ai, err := parseAttachmentIndex(payload)
			if err != nil {
				return err
			}
			sum.AttachmentIndexes = append(sum.AttachmentIndexes, ai)
		case types.OpMetadataIndex:
			mi, err := parseMetadataIndex(payload)
			if err != nil {
				return err
			}
			sum.MetadataIndexes = append(sum.MetadataIndexes, mi)
		case types.OpStatistics:
			st, err := parseStatistics(payload)
			if err != nil {
				return err
			}
			sum.Stats = st
		}
		// Summary offsets and unknown records are skipped.
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("parsing summary section: %w", err)
	}
	return sum, nil
}
