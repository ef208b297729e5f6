// Package reader provides an indexed session over a chunked capture log:
// linear and indexed message access, bulk time-range and channel queries,
// fast counts, and a seekable merge iterator.
//
// Indexed operations require the log's trailing summary section. Logs
// without one still support the linear Messages and RawMessages scans; every
// indexed method then returns its sentinel value (empty slice, -1, false)
// and records a description retrievable with LastError.
package reader

import (
	"errors"
	"fmt"

	"github.com/capstream-io/capstream/pkg/codec"
	"github.com/capstream-io/capstream/pkg/metrics"
	"github.com/capstream-io/capstream/pkg/source"
	"github.com/capstream-io/capstream/pkg/types"
	"github.com/capstream-io/capstream/util"
)

var (
	ErrNotOpen         = errors.New("reader is not open")
	ErrNoSummary       = errors.New("no summary available (indexed queries require a summary)")
	ErrInvalidArgument = errors.New("invalid argument")
)

// Reader is a read session over one capture log. It owns the byte source,
// caches the summary parsed at open time, and keeps the last error
// description of the most recent failed operation.
//
// A Reader is single-threaded; iterators and queries created from it share
// its immutable byte source.
type Reader struct {
	path           string
	src            source.Source
	dec            *codec.Decoder
	summary        *types.Summary
	ignoreEndMagic bool
	lastErr        string
}

// Option configures a Reader at open time.
type Option func(*Reader)

// IgnoreEndMagic tolerates a missing trailing magic, for logs cut off by a
// crashed recorder.
func IgnoreEndMagic() Option {
	return func(r *Reader) { r.ignoreEndMagic = true }
}

// Open memory-maps (or buffers) the log at path and parses its summary.
// A missing or unparseable summary is not fatal: the reader degrades to
// linear access and records the reason.
func Open(path string, opts ...Option) (*Reader, error) {
	r := &Reader{path: path}
	for _, opt := range opts {
		opt(r)
	}
	src, err := source.Open(path)
	if err != nil {
		return nil, err
	}
	r.attach(src)
	return r, nil
}

// FromBytes builds a reader over an in-memory log.
func FromBytes(data []byte, opts ...Option) *Reader {
	r := &Reader{path: "<memory>"}
	for _, opt := range opts {
		opt(r)
	}
	r.attach(source.FromBytes(data))
	return r
}

func (r *Reader) attach(src source.Source) {
	r.src = src
	sum, err := codec.ReadSummary(src, r.ignoreEndMagic)
	if err != nil {
		r.setErr("reading summary failed: %v", err)
	}
	r.summary = sum
	r.dec = codec.NewDecoder(src, sum)
	metrics.OpenReaders.Inc()
}

// Close releases the byte source. The reader and anything derived from it
// must not be used afterwards.
func (r *Reader) Close() error {
	if r.src == nil {
		return nil
	}
	err := r.src.Close()
	r.src = nil
	r.dec = nil
	r.summary = nil
	r.lastErr = ""
	metrics.OpenReaders.Dec()
	return err
}

func (r *Reader) setErr(format string, v ...interface{}) {
	r.lastErr = fmt.Sprintf(format, v...)
	util.Error("reader %s: %s", r.path, r.lastErr)
}

func (r *Reader) clearErr() {
	r.lastErr = ""
}

// LastError returns the description of the most recent failure, or "".
func (r *Reader) LastError() string {
	return r.lastErr
}

// Path returns the path the reader was opened from, or "<memory>".
func (r *Reader) Path() string {
	return r.path
}

// HasSummary reports whether the log carried a trailing index section.
func (r *Reader) HasSummary() bool {
	return r.summary != nil
}

// Summary returns the cached summary, or nil for summary-less logs.
func (r *Reader) Summary() *types.Summary {
	return r.summary
}

// withSummary is the guard every indexed operation goes through.
func (r *Reader) withSummary() (*types.Summary, error) {
	if r.src == nil {
		r.setErr("%v", ErrNotOpen)
		return nil, ErrNotOpen
	}
	if r.summary == nil {
		r.setErr("%v", ErrNoSummary)
		return nil, ErrNoSummary
	}
	return r.summary, nil
}

// Footer reads and parses the log's footer record.
func (r *Reader) Footer() (*types.Footer, error) {
	if r.src == nil {
		r.setErr("%v", ErrNotOpen)
		return nil, ErrNotOpen
	}
	f, err := codec.ReadFooter(r.src, r.ignoreEndMagic)
	if err != nil {
		r.setErr("reading footer failed: %v", err)
		return nil, err
	}
	return f, nil
}

// Messages reads every message in storage order by scanning the data
// section linearly. Needs no summary. On a decode failure the messages
// accumulated so far are returned and the error is recorded.
func (r *Reader) Messages() []*types.Message {
	r.clearErr()
	if r.src == nil {
		r.setErr("%v", ErrNotOpen)
		return nil
	}
	var out []*types.Message
	err := r.dec.StreamAll(func(m *types.Message) error {
		out = append(out, m)
		return nil
	})
	if err != nil {
		r.setErr("reading messages failed: %v", err)
	}
	return out
}

// RawMessages is Messages without channel resolution: headers plus raw
// payload bytes.
func (r *Reader) RawMessages() []*types.RawMessage {
	r.clearErr()
	if r.src == nil {
		r.setErr("%v", ErrNotOpen)
		return nil
	}
	var out []*types.RawMessage
	err := r.dec.StreamAllRaw(func(m *types.RawMessage) error {
		out = append(out, m)
		return nil
	})
	if err != nil {
		r.setErr("reading raw messages failed: %v", err)
	}
	return out
}

// Attachments reads every attachment via the summary's attachment indexes.
func (r *Reader) Attachments() []*types.Attachment {
	r.clearErr()
	sum, err := r.withSummary()
	if err != nil {
		return nil
	}
	var out []*types.Attachment
	for _, idx := range sum.AttachmentIndexes {
		att, err := codec.ReadAttachment(r.src, idx)
		if err != nil {
			r.setErr("reading attachment failed: %v", err)
			break
		}
		out = append(out, att)
	}
	return out
}

// MetadataEntries reads every metadata record via the summary's metadata
// indexes.
func (r *Reader) MetadataEntries() []*types.Metadata {
	r.clearErr()
	sum, err := r.withSummary()
	if err != nil {
		return nil
	}
	var out []*types.Metadata
	for _, idx := range sum.MetadataIndexes {
		meta, err := codec.ReadMetadata(r.src, idx)
		if err != nil {
			r.setErr("reading metadata failed: %v", err)
			break
		}
		out = append(out, meta)
	}
	return out
}

// ChunkCount returns the number of chunk indexes, or 0 without a summary.
func (r *Reader) ChunkCount() int {
	if r.summary == nil {
		return 0
	}
	return len(r.summary.ChunkIndexes)
}

// ChunkIndexes returns the summary's chunk index list in summary order.
func (r *Reader) ChunkIndexes() []*types.ChunkIndex {
	r.clearErr()
	sum, err := r.withSummary()
	if err != nil {
		return nil
	}
	return sum.ChunkIndexes
}

// MessageIndexesForChunk reads the per-channel message indexes of one chunk.
// Only the chunk's index block is read, so cost is proportional to that
// chunk's entry count regardless of log size.
func (r *Reader) MessageIndexesForChunk(ci *types.ChunkIndex) map[uint16][]types.MessageIndexEntry {
	r.clearErr()
	if _, err := r.withSummary(); err != nil {
		return nil
	}
	out, err := r.dec.MessageIndexes(ci)
	if err != nil {
		r.setErr("reading message indexes failed: %v", err)
		return nil
	}
	return out
}

// SeekMessage decodes the single message addressed by a chunk index and a
// message index entry.
func (r *Reader) SeekMessage(ci *types.ChunkIndex, entry types.MessageIndexEntry) *types.Message {
	r.clearErr()
	if _, err := r.withSummary(); err != nil {
		return nil
	}
	msg, err := r.dec.SeekMessage(ci, entry)
	if err != nil {
		r.setErr("seek message failed: %v", err)
		return nil
	}
	return msg
}

// FirstMessageTime returns the earliest log time in microseconds, or -1 if
// unavailable. Uses the stats record when present, else chunk index ranges.
func (r *Reader) FirstMessageTime() int64 {
	r.clearErr()
	sum, err := r.withSummary()
	if err != nil {
		return -1
	}
	if sum.Stats != nil {
		return int64(sum.Stats.MessageStartTime)
	}
	first := int64(-1)
	for _, ci := range sum.ChunkIndexes {
		if first < 0 || int64(ci.MessageStartTime) < first {
			first = int64(ci.MessageStartTime)
		}
	}
	return first
}

// LastMessageTime returns the latest log time in microseconds, or -1.
func (r *Reader) LastMessageTime() int64 {
	r.clearErr()
	sum, err := r.withSummary()
	if err != nil {
		return -1
	}
	if sum.Stats != nil {
		return int64(sum.Stats.MessageEndTime)
	}
	last := int64(-1)
	for _, ci := range sum.ChunkIndexes {
		if int64(ci.MessageEndTime) > last {
			last = int64(ci.MessageEndTime)
		}
	}
	return last
}

// Duration returns last minus first message time in microseconds, or -1.
func (r *Reader) Duration() int64 {
	first, last := r.FirstMessageTime(), r.LastMessageTime()
	if first < 0 || last < 0 {
		return -1
	}
	return last - first
}
