package binlog

import (
	"encoding/binary"
	"math/rand/v2"
	"sync"
)

// FaultInjector is a Hooks implementation for tests. Each toggle can be
// flipped between reads; corruption positions come from a seeded generator
// so failures reproduce.
type FaultInjector struct {
	FailAllocate     bool
	FailChecksum     bool
	UnknownIgnorable bool
	Corrupt          bool

	mu        sync.Mutex
	rng       *rand.Rand
	corrupted []int
}

// NewFaultInjector returns an injector with every toggle off. seed drives
// which byte CorruptEvent picks.
func NewFaultInjector(seed uint64) *FaultInjector {
	return &FaultInjector{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (f *FaultInjector) SimulateAllocateFailure() bool  { return f.FailAllocate }
func (f *FaultInjector) SimulateChecksumFailure() bool  { return f.FailChecksum }
func (f *FaultInjector) SimulateUnknownIgnorable() bool { return f.UnknownIgnorable }

// CorruptEvent increments one byte between the header and the trailer.
func (f *FaultInjector) CorruptEvent(buf []byte) {
	if !f.Corrupt || !corruptible(EventType(buf[EventTypeOffset])) {
		return
	}
	span := len(buf) - ChecksumLen - LogEventMinimalHeaderLen
	if span <= 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	pos := f.rng.IntN(span) + LogEventMinimalHeaderLen
	buf[pos]++
	f.corrupted = append(f.corrupted, pos)
}

// Corrupted lists the byte positions mutated so far.
func (f *FaultInjector) Corrupted() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.corrupted...)
}

// EventBuilder encodes well-formed events for tests. Positions advance as
// events are built, starting right after the 4-byte file magic.
type EventBuilder struct {
	Timestamp uint32
	ServerID  uint32
	Flags     uint16
	Alg       ChecksumAlg
	pos       uint32
}

func NewEventBuilder(alg ChecksumAlg) *EventBuilder {
	return &EventBuilder{ServerID: 1, Alg: alg, pos: 4}
}

// Event wraps body in a header and, when Alg calls for one, a CRC32 trailer.
func (b *EventBuilder) Event(t EventType, body []byte) []byte {
	n := LogEventMinimalHeaderLen + len(body)
	if b.Alg.HasTrailer() {
		n += ChecksumLen
	}
	buf := make([]byte, n)
	b.pos += uint32(n)
	Header{
		Timestamp: b.Timestamp,
		Type:      t,
		ServerID:  b.ServerID,
		EventLen:  uint32(n),
		LogPos:    b.pos,
		Flags:     b.Flags,
	}.Put(buf)
	copy(buf[LogEventMinimalHeaderLen:], body)
	if b.Alg.HasTrailer() {
		Seal(buf)
	}
	return buf
}

// FormatDescription encodes fd as a format description event and switches the
// builder to fd's checksum algorithm for the events that follow.
func (b *EventBuilder) FormatDescription(fd *FormatDescription) []byte {
	body := make([]byte, stCommonHeaderLenOffset+1, stCommonHeaderLenOffset+1+fd.NumberOfEventTypes()+ChecksumAlgDescLen)
	binary.LittleEndian.PutUint16(body[stBinlogVerOffset:], fd.BinlogVersion())
	copy(body[stServerVerOffset:stServerVerOffset+stServerVerLen], fd.ServerVersion())
	binary.LittleEndian.PutUint32(body[stCreatedOffset:], fd.CreatedAt())
	body[stCommonHeaderLenOffset] = uint8(fd.CommonHeaderLen())
	body = append(body, fd.postHeaderLen...)

	alg := fd.ChecksumAlg()
	b.Alg = ChecksumUndef
	if alg != ChecksumUndef {
		body = append(body, byte(alg), 0, 0, 0, 0)
	}
	buf := b.Event(FormatDescriptionEvent, body)
	if alg != ChecksumUndef {
		Seal(buf)
	}
	b.Alg = alg
	return buf
}

// Seal rewrites the CRC32 trailer of buf.
func Seal(buf []byte) {
	binary.LittleEndian.PutUint32(buf[len(buf)-ChecksumLen:], ComputeChecksum(buf))
}

// Concat joins encoded events into one stream.
func Concat(events ...[]byte) []byte {
	var out []byte
	for _, e := range events {
		out = append(out, e...)
	}
	return out
}

// RotateBody encodes a rotate event body.
func RotateBody(position uint64, file string) []byte {
	body := binary.LittleEndian.AppendUint64(nil, position)
	return append(body, file...)
}

// QueryBody encodes a query event body under the v4 post-header layout.
func QueryBody(threadID uint32, database, statement string) []byte {
	body := binary.LittleEndian.AppendUint32(nil, threadID)
	body = binary.LittleEndian.AppendUint32(body, 0) // exec time
	body = append(body, byte(len(database)))
	body = binary.LittleEndian.AppendUint16(body, 0) // error code
	body = binary.LittleEndian.AppendUint16(body, 0) // status vars length
	body = append(body, database...)
	body = append(body, 0)
	return append(body, statement...)
}

// XidBody encodes a commit event body.
func XidBody(xid uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, xid)
}

// StartEncryptionBody encodes a start encryption event body.
func StartEncryptionBody(scheme uint8, keyVersion uint32, nonce []byte) []byte {
	body := []byte{scheme}
	body = binary.LittleEndian.AppendUint32(body, keyVersion)
	return append(body, nonce...)
}

// TableMapBody encodes a table map body with every column typed as LONG.
func TableMapBody(tableID uint64, schema, table string, columns int) []byte {
	var body []byte
	for i := 0; i < 6; i++ {
		body = append(body, byte(tableID>>(8*i)))
	}
	body = binary.LittleEndian.AppendUint16(body, 0)
	body = append(body, byte(len(schema)))
	body = append(body, schema...)
	body = append(body, 0, byte(len(table)))
	body = append(body, table...)
	body = append(body, 0, byte(columns))
	for i := 0; i < columns; i++ {
		body = append(body, 3)
	}
	body = append(body, 0) // metadata length
	return append(body, make([]byte, (columns+7)/8)...)
}

// WriteRowsBody encodes a v2 write rows body with all columns present.
func WriteRowsBody(tableID uint64, columns int, rows []byte) []byte {
	var body []byte
	for i := 0; i < 6; i++ {
		body = append(body, byte(tableID>>(8*i)))
	}
	body = binary.LittleEndian.AppendUint16(body, RowsFlagStmtEnd)
	body = binary.LittleEndian.AppendUint16(body, 2) // extra data length, itself only
	body = append(body, byte(columns))
	bitmap := make([]byte, (columns+7)/8)
	for i := range bitmap {
		bitmap[i] = 0xff
	}
	body = append(body, bitmap...)
	return append(body, rows...)
}

// GtidBody encodes a GTID event body with logical timestamps.
func GtidBody(sid [16]byte, gno int64, lastCommitted, seq int64) []byte {
	body := []byte{1}
	body = append(body, sid[:]...)
	body = binary.LittleEndian.AppendUint64(body, uint64(gno))
	body = append(body, logicalTimestampTypecode)
	body = binary.LittleEndian.AppendUint64(body, uint64(lastCommitted))
	return binary.LittleEndian.AppendUint64(body, uint64(seq))
}
