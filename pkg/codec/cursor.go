package codec

import (
	"encoding/binary"
	"fmt"
)

// cursor walks a record payload with a sticky error, so parse functions can
// chain reads and check once at the end. All integers are little-endian.
type cursor struct {
	b   []byte
	off int
	err error
}

func newCursor(b []byte) *cursor {
	return &cursor{b: b}
}

func (c *cursor) fail(n int, what string) {
	if c.err == nil {
		c.err = fmt.Errorf("truncated record: need %d bytes for %s at offset %d, have %d", n, what, c.off, len(c.b)-c.off)
	}
}

func (c *cursor) take(n int, what string) []byte {
	if c.err != nil {
		return nil
	}
	// n < 0 catches u64 length fields past the int range
	if n < 0 || c.off+n > len(c.b) {
		c.fail(n, what)
		return nil
	}
	out := c.b[c.off : c.off+n]
	c.off += n
	return out
}

func (c *cursor) u8(what string) byte {
	b := c.take(1, what)
	if b == nil {
		return 0
	}
	return b[0]
}

func (c *cursor) u16(what string) uint16 {
	b := c.take(2, what)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (c *cursor) u32(what string) uint32 {
	b := c.take(4, what)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (c *cursor) u64(what string) uint64 {
	b := c.take(8, what)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// str reads a u32-length-prefixed string.
func (c *cursor) str(what string) string {
	n := c.u32(what)
	b := c.take(int(n), what)
	if b == nil {
		return ""
	}
	return string(b)
}

// bytesU32 reads a u32-length-prefixed byte slice (copied).
func (c *cursor) bytesU32(what string) []byte {
	n := c.u32(what)
	b := c.take(int(n), what)
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// strMap reads a u32-byte-length-prefixed map of string to string.
func (c *cursor) strMap(what string) map[string]string {
	n := c.u32(what)
	body := c.take(int(n), what)
	if body == nil {
		return nil
	}
	m := map[string]string{}
	inner := newCursor(body)
	for inner.remaining() > 0 && inner.err == nil {
		k := inner.str(what + " key")
		v := inner.str(what + " value")
		if inner.err != nil {
			break
		}
		m[k] = v
	}
	if inner.err != nil && c.err == nil {
		c.err = inner.err
	}
	return m
}

// u16u64Map reads a u32-byte-length-prefixed map of u16 to u64.
func (c *cursor) u16u64Map(what string) map[uint16]uint64 {
	n := c.u32(what)
	body := c.take(int(n), what)
	if body == nil {
		return nil
	}
	if len(body)%10 != 0 {
		if c.err == nil {
			c.err = fmt.Errorf("malformed %s: length %d not a multiple of 10", what, len(body))
		}
		return nil
	}
	m := make(map[uint16]uint64, len(body)/10)
	for i := 0; i+10 <= len(body); i += 10 {
		k := binary.LittleEndian.Uint16(body[i:])
		v := binary.LittleEndian.Uint64(body[i+2:])
		m[k] = v
	}
	return m
}

func (c *cursor) rest() []byte {
	if c.err != nil {
		return nil
	}
	out := make([]byte, len(c.b)-c.off)
	copy(out, c.b[c.off:])
	c.off = len(c.b)
	return out
}

func (c *cursor) remaining() int {
	return len(c.b) - c.off
}

// Little-endian append helpers used by the writer.

func appendU16(b []byte, v uint16) []byte {
	return binary.LittleEndian.AppendUint16(b, v)
}

func appendU32(b []byte, v uint32) []byte {
	return binary.LittleEndian.AppendUint32(b, v)
}

func appendU64(b []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(b, v)
}

func appendStr(b []byte, s string) []byte {
	b = appendU32(b, uint32(len(s)))
	return append(b, s...)
}

func appendBytesU32(b, p []byte) []byte {
	b = appendU32(b, uint32(len(p)))
	return append(b, p...)
}
