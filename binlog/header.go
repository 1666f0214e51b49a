package binlog

import (
	"encoding/binary"
	"fmt"
)

// Header is the fixed 19-byte prefix shared by every event.
type Header struct {
	Timestamp uint32
	Type      EventType
	ServerID  uint32
	EventLen  uint32 // includes header and checksum trailer
	LogPos    uint32 // position of the next event
	Flags     uint16
}

// ParseHeader decodes the common header from the start of buf.
func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < LogEventMinimalHeaderLen {
		return Header{}, fmt.Errorf("event header needs %d bytes, got %d", LogEventMinimalHeaderLen, len(buf))
	}
	return Header{
		Timestamp: binary.LittleEndian.Uint32(buf[TimestampOffset:]),
		Type:      EventType(buf[EventTypeOffset]),
		ServerID:  binary.LittleEndian.Uint32(buf[ServerIDOffset:]),
		EventLen:  binary.LittleEndian.Uint32(buf[EventLenOffset:]),
		LogPos:    binary.LittleEndian.Uint32(buf[LogPosOffset:]),
		Flags:     binary.LittleEndian.Uint16(buf[FlagsOffset:]),
	}, nil
}

// Ignorable reports whether the producer marked the event safe to skip.
func (h Header) Ignorable() bool {
	return h.Flags&FlagIgnorable != 0
}

// Put writes the header into the first 19 bytes of buf.
func (h Header) Put(buf []byte) {
	binary.LittleEndian.PutUint32(buf[TimestampOffset:], h.Timestamp)
	buf[EventTypeOffset] = byte(h.Type)
	binary.LittleEndian.PutUint32(buf[ServerIDOffset:], h.ServerID)
	binary.LittleEndian.PutUint32(buf[EventLenOffset:], h.EventLen)
	binary.LittleEndian.PutUint32(buf[LogPosOffset:], h.LogPos)
	binary.LittleEndian.PutUint16(buf[FlagsOffset:], h.Flags)
}
