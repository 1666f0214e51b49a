package binlog

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Event is a decoded binlog event. Concrete types live in this package; the
// Registry can hold constructors for others as long as they embed BaseEvent.
type Event interface {
	Header() Header
	Type() EventType
	ChecksumAlg() ChecksumAlg
	Checksum() uint32
	IsValid() bool
	// Validate is the variant's own structural self-check, run once after
	// construction.
	Validate() error

	stamp(alg ChecksumAlg, crc uint32)
}

// BaseEvent carries the header and footer attributes every event shares. The
// footer is set by the deserializer, never by the variant.
type BaseEvent struct {
	header   Header
	alg      ChecksumAlg
	checksum uint32
	valid    bool
}

// NewBaseEvent parses the common header of buf. Constructors registered from
// outside the package use it to build their embedded base.
func NewBaseEvent(buf []byte) (BaseEvent, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return BaseEvent{}, err
	}
	return BaseEvent{header: h, alg: ChecksumUndef}, nil
}

func (b *BaseEvent) Header() Header           { return b.header }
func (b *BaseEvent) Type() EventType          { return b.header.Type }
func (b *BaseEvent) ChecksumAlg() ChecksumAlg { return b.alg }
func (b *BaseEvent) Checksum() uint32         { return b.checksum }

// IsValid reports whether the event passed deserialization.
func (b *BaseEvent) IsValid() bool { return b.valid }

func (b *BaseEvent) stamp(alg ChecksumAlg, crc uint32) {
	b.alg = alg
	b.checksum = crc
	b.valid = true
}

var errShortBody = errors.New("event body truncated")

// cursor walks an event body. The first short read latches err and every
// later read returns zero values, so constructors check err once at the end.
type cursor struct {
	b   []byte
	pos int
	err error
}

func newCursor(b []byte, start int) *cursor {
	c := &cursor{b: b, pos: start}
	if start > len(b) {
		c.err = fmt.Errorf("%w: body starts at %d of %d", errShortBody, start, len(b))
	}
	return c
}

func (c *cursor) remaining() int {
	if c.err != nil {
		return 0
	}
	return len(c.b) - c.pos
}

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || n > len(c.b)-c.pos {
		c.err = fmt.Errorf("%w: need %d bytes at %d, have %d", errShortBody, n, c.pos, len(c.b)-c.pos)
		return nil
	}
	out := c.b[c.pos : c.pos+n]
	c.pos += n
	return out
}

func (c *cursor) skip(n int) { c.take(n) }

func (c *cursor) u8() uint8 {
	if b := c.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (c *cursor) u16() uint16 {
	if b := c.take(2); b != nil {
		return binary.LittleEndian.Uint16(b)
	}
	return 0
}

func (c *cursor) u32() uint32 {
	if b := c.take(4); b != nil {
		return binary.LittleEndian.Uint32(b)
	}
	return 0
}

// uintN reads an n-byte little-endian unsigned integer, n <= 8.
func (c *cursor) uintN(n int) uint64 {
	b := c.take(n)
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (c *cursor) u64() uint64 {
	if b := c.take(8); b != nil {
		return binary.LittleEndian.Uint64(b)
	}
	return 0
}

// packed reads a length-encoded integer. The NULL marker decodes as 0.
func (c *cursor) packed() uint64 {
	first := c.u8()
	switch {
	case first < 251:
		return uint64(first)
	case first == 251:
		return 0
	case first == 252:
		return c.uintN(2)
	case first == 253:
		return c.uintN(3)
	case first == 254:
		return c.uintN(8)
	}
	if c.err == nil {
		c.err = fmt.Errorf("%w: invalid packed integer prefix 0x%x", errShortBody, first)
	}
	return 0
}

func (c *cursor) rest() []byte {
	if c.err != nil {
		return nil
	}
	return c.take(len(c.b) - c.pos)
}

// bodyStart is where the post-header begins under fde.
func bodyStart(fde *FormatDescription) int {
	if n := fde.CommonHeaderLen(); n >= LogEventMinimalHeaderLen {
		return n
	}
	return LogEventMinimalHeaderLen
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	return append(make([]byte, 0, len(b)), b...)
}

// seek moves the cursor to an absolute offset, never backwards.
func (c *cursor) seek(pos int) {
	if c.err != nil || pos <= c.pos {
		return
	}
	c.skip(pos - c.pos)
}

func (c *cursor) peek() (byte, bool) {
	if c.err != nil || c.pos >= len(c.b) {
		return 0, false
	}
	return c.b[c.pos], true
}
