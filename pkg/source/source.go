// Package source provides the shared, read-only byte source a capture log is
// read through. A source is created once at open time and may be shared by
// any number of iterators and queries; it is immutable after construction.
package source

import (
	"fmt"
	"io"
	"os"

	"golang.org/x/exp/mmap"

	"github.com/capstream-io/capstream/util"
)

// Source is a random-access view over a log's bytes.
type Source interface {
	io.ReaderAt
	Size() int64
	Close() error
}

// Open memory-maps the file at path. If mapping fails the whole file is
// loaded into memory instead, so callers always get a usable source.
func Open(path string) (Source, error) {
	r, err := mmap.Open(path)
	if err == nil {
		return &mmapSource{r: r}, nil
	}
	util.Warn("mmap of %s failed, falling back to buffered read: %v", path, err)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return &memSource{data: data}, nil
}

// FromBytes wraps an in-memory buffer. The caller must not mutate data after
// handing it over.
func FromBytes(data []byte) Source {
	return &memSource{data: data}
}

// ReadRange reads exactly n bytes starting at off, with bounds checking.
func ReadRange(s Source, off, n uint64) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	end := off + n
	if end < off || end > uint64(s.Size()) {
		return nil, fmt.Errorf("read range [%d, %d) out of bounds (size %d)", off, end, s.Size())
	}
	buf := make([]byte, n)
	if _, err := s.ReadAt(buf, int64(off)); err != nil {
		return nil, fmt.Errorf("read at offset %d failed: %w", off, err)
	}
	return buf, nil
}

type mmapSource struct {
	r *mmap.ReaderAt
}

func (m *mmapSource) ReadAt(p []byte, off int64) (int, error) { return m.r.ReadAt(p, off) }
func (m *mmapSource) Size() int64                             { return int64(m.r.Len()) }
func (m *mmapSource) Close() error                            { return m.r.Close() }

type memSource struct {
	data []byte
}

func (m *memSource) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 || off > int64(len(m.data)) {
		return 0, fmt.Errorf("offset %d out of range", off)
	}
	n := copy(p, m.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (m *memSource) Size() int64 { return int64(len(m.data)) }

func (m *memSource) Close() error {
	m.data = nil
	return nil
}
