package binlog

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

const (
	gtidFixedLen             = 1 + 16 + 8
	logicalTimestampTypecode = 2
	commitTimestampLen       = 7
	encodedCommitTsHighBit   = uint64(1) << 55
	serverVersionHighBit     = uint32(1) << 31
	maxGNO                   = int64(^uint64(0) >> 1)
	viewIDMaxLen             = 40
	xidDataMaxLen            = 64
)

// Gtid opens a transaction. Anonymous GTID events share the layout with a
// zero source id.
type Gtid struct {
	BaseEvent
	Flags                    uint8
	SID                      uuid.UUID
	GNO                      int64
	LastCommitted            int64
	SequenceNumber           int64
	ImmediateCommitTimestamp uint64
	OriginalCommitTimestamp  uint64
	TransactionLength        uint64
	ImmediateServerVersion   uint32
	OriginalServerVersion    uint32
}

func newGtid(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	ev := &Gtid{BaseEvent: base}
	start := bodyStart(fde)
	c := newCursor(buf, start)
	ev.Flags = c.u8()
	if sid := c.take(16); sid != nil {
		ev.SID, _ = uuid.FromBytes(sid)
	}
	ev.GNO = int64(c.u64())
	if b, ok := c.peek(); ok && b == logicalTimestampTypecode && c.remaining() >= 17 {
		c.skip(1)
		ev.LastCommitted = int64(c.u64())
		ev.SequenceNumber = int64(c.u64())
	}
	c.seek(start + fde.PostHeaderLen(base.header.Type))

	if c.remaining() >= commitTimestampLen {
		ev.ImmediateCommitTimestamp = c.uintN(commitTimestampLen)
		ev.OriginalCommitTimestamp = ev.ImmediateCommitTimestamp
		if ev.ImmediateCommitTimestamp&encodedCommitTsHighBit != 0 {
			ev.ImmediateCommitTimestamp &^= encodedCommitTsHighBit
			ev.OriginalCommitTimestamp = c.uintN(commitTimestampLen)
		}
	}
	if c.remaining() > 0 {
		ev.TransactionLength = c.packed()
	}
	if c.remaining() >= 4 {
		ev.ImmediateServerVersion = c.u32()
		ev.OriginalServerVersion = ev.ImmediateServerVersion
		if ev.ImmediateServerVersion&serverVersionHighBit != 0 {
			ev.ImmediateServerVersion &^= serverVersionHighBit
			ev.OriginalServerVersion = c.u32()
		}
	}
	return ev, c.err
}

// Anonymous reports whether the event carries no GTID.
func (e *Gtid) Anonymous() bool {
	return e.Type() == AnonymousGtidEvent
}

// String renders the GTID as "uuid:gno", or "ANONYMOUS".
func (e *Gtid) String() string {
	if e.Anonymous() {
		return "ANONYMOUS"
	}
	return e.SID.String() + ":" + strconv.FormatInt(e.GNO, 10)
}

func (e *Gtid) Validate() error {
	if e.Anonymous() {
		return nil
	}
	if e.SID == uuid.Nil {
		return errors.New("gtid event with nil source id")
	}
	if e.GNO < 1 || e.GNO >= maxGNO {
		return fmt.Errorf("gtid sequence %d out of range", e.GNO)
	}
	return nil
}

// GtidInterval is a half-open range [Start, End) of transaction numbers.
type GtidInterval struct {
	Start int64
	End   int64
}

// GtidSetEntry lists the executed intervals of one source.
type GtidSetEntry struct {
	SID       uuid.UUID
	Intervals []GtidInterval
}

// PreviousGtids lists every GTID executed before the current binlog file.
type PreviousGtids struct {
	BaseEvent
	Sets []GtidSetEntry
}

func newPreviousGtids(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	ev := &PreviousGtids{BaseEvent: base}
	c := newCursor(buf, bodyStart(fde)+fde.PostHeaderLen(PreviousGtidsEvent))
	n := c.u64()
	// Each entry needs at least 24 bytes; reject counts the body cannot hold.
	if n > uint64(c.remaining())/24 {
		return nil, fmt.Errorf("%w: %d gtid sources", errShortBody, n)
	}
	for i := uint64(0); i < n && c.err == nil; i++ {
		var entry GtidSetEntry
		if sid := c.take(16); sid != nil {
			entry.SID, _ = uuid.FromBytes(sid)
		}
		intervals := c.u64()
		if intervals > uint64(c.remaining())/16 {
			return nil, fmt.Errorf("%w: %d gtid intervals", errShortBody, intervals)
		}
		for j := uint64(0); j < intervals; j++ {
			entry.Intervals = append(entry.Intervals, GtidInterval{
				Start: int64(c.u64()),
				End:   int64(c.u64()),
			})
		}
		ev.Sets = append(ev.Sets, entry)
	}
	if c.err == nil && c.remaining() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after gtid set", c.remaining())
	}
	return ev, c.err
}

// String renders the set in the server's text form, e.g. "uuid:1-5:7".
func (e *PreviousGtids) String() string {
	var sb strings.Builder
	for i, s := range e.Sets {
		if i > 0 {
			sb.WriteString(",\n")
		}
		sb.WriteString(s.SID.String())
		for _, iv := range s.Intervals {
			sb.WriteByte(':')
			sb.WriteString(strconv.FormatInt(iv.Start, 10))
			if iv.End-1 > iv.Start {
				sb.WriteByte('-')
				sb.WriteString(strconv.FormatInt(iv.End-1, 10))
			}
		}
	}
	return sb.String()
}

func (e *PreviousGtids) Validate() error {
	for _, s := range e.Sets {
		for _, iv := range s.Intervals {
			if iv.Start < 1 || iv.End <= iv.Start {
				return fmt.Errorf("invalid gtid interval [%d,%d) for %s", iv.Start, iv.End, s.SID)
			}
		}
	}
	return nil
}

// TransactionContext carries certification data for group replication.
type TransactionContext struct {
	BaseEvent
	ServerUUID      string
	ThreadID        uint32
	GtidSpecified   bool
	SnapshotVersion []byte
	WriteSet        [][]byte
	ReadSet         [][]byte
}

func newTransactionContext(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	ev := &TransactionContext{BaseEvent: base}
	start := bodyStart(fde)
	c := newCursor(buf, start)
	uuidLen := int(c.u8())
	ev.ThreadID = c.u32()
	ev.GtidSpecified = c.u8() != 0
	snapshotLen := int(c.u32())
	writeItems := c.u32()
	readItems := c.u32()
	c.seek(start + fde.PostHeaderLen(TransactionContextEvent))

	ev.ServerUUID = string(c.take(uuidLen))
	ev.SnapshotVersion = cloneBytes(c.take(snapshotLen))
	ev.WriteSet = readSetItems(c, writeItems)
	ev.ReadSet = readSetItems(c, readItems)
	return ev, c.err
}

func readSetItems(c *cursor, n uint32) [][]byte {
	// Each item carries at least its 2-byte length.
	if uint64(n) > uint64(c.remaining())/2 {
		c.take(int(n) * 2)
		return nil
	}
	items := make([][]byte, 0, n)
	for i := uint32(0); i < n && c.err == nil; i++ {
		items = append(items, cloneBytes(c.take(int(c.u16()))))
	}
	return items
}

func (e *TransactionContext) Validate() error {
	if e.ServerUUID == "" {
		return errors.New("transaction context without server uuid")
	}
	return nil
}

// ViewChange records a group membership change.
type ViewChange struct {
	BaseEvent
	ViewID         string
	SequenceNumber int64
	CertInfo       map[string][]byte
}

func newViewChange(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	ev := &ViewChange{BaseEvent: base}
	start := bodyStart(fde)
	c := newCursor(buf, start)
	ev.ViewID = cString(c.take(viewIDMaxLen))
	ev.SequenceNumber = int64(c.u64())
	entries := c.u32()
	c.seek(start + fde.PostHeaderLen(ViewChangeEvent))

	if uint64(entries) > uint64(c.remaining())/8 {
		return nil, fmt.Errorf("%w: %d certification entries", errShortBody, entries)
	}
	ev.CertInfo = make(map[string][]byte, entries)
	for i := uint32(0); i < entries && c.err == nil; i++ {
		key := string(c.take(int(c.u32())))
		ev.CertInfo[key] = cloneBytes(c.take(int(c.u32())))
	}
	return ev, c.err
}

func (e *ViewChange) Validate() error {
	if e.ViewID == "" {
		return errors.New("view change without view id")
	}
	return nil
}

// XaPrepare ends the first phase of an XA transaction.
type XaPrepare struct {
	BaseEvent
	OnePhase bool
	FormatID int32
	Gtrid    []byte
	Bqual    []byte
}

func newXaPrepare(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	ev := &XaPrepare{BaseEvent: base}
	c := newCursor(buf, bodyStart(fde)+fde.PostHeaderLen(XaPrepareEvent))
	ev.OnePhase = c.u8() != 0
	ev.FormatID = int32(c.u32())
	gtridLen := int(c.u32())
	bqualLen := int(c.u32())
	if gtridLen < 0 || bqualLen < 0 || gtridLen > xidDataMaxLen || bqualLen > xidDataMaxLen {
		return nil, fmt.Errorf("xid component lengths %d/%d out of range", gtridLen, bqualLen)
	}
	ev.Gtrid = cloneBytes(c.take(gtridLen))
	ev.Bqual = cloneBytes(c.take(bqualLen))
	return ev, c.err
}

func (e *XaPrepare) Validate() error {
	if e.FormatID == -1 {
		return errors.New("xa prepare with null xid")
	}
	if len(e.Gtrid) == 0 {
		return errors.New("xa prepare with empty gtrid")
	}
	return nil
}
