package binlog

import (
	"errors"
	"fmt"
)

// Query is a statement executed on the producer.
type Query struct {
	BaseEvent
	ThreadID   uint32
	ExecTime   uint32
	ErrorCode  uint16
	StatusVars []byte
	Database   string
	Statement  string
}

// parseQuery reads the shared query layout. It returns the cursor positioned
// at the end of the post-header so callers with a longer post-header can
// decode their own fields.
func parseQuery(buf []byte, fde *FormatDescription, t EventType) (*Query, []byte, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, nil, err
	}
	phl := fde.PostHeaderLen(t)
	if phl < queryHeaderMinimalLen {
		return nil, nil, fmt.Errorf("query post-header length %d below %d", phl, queryHeaderMinimalLen)
	}

	q := &Query{BaseEvent: base}
	c := newCursor(buf, bodyStart(fde))
	q.ThreadID = c.u32()
	q.ExecTime = c.u32()
	dbLen := int(c.u8())
	q.ErrorCode = c.u16()
	statusLen := 0
	used := queryHeaderMinimalLen
	if phl >= queryHeaderLen {
		statusLen = int(c.u16())
		used = queryHeaderLen
	}
	extra := c.take(phl - used)

	q.StatusVars = cloneBytes(c.take(statusLen))
	q.Database = string(c.take(dbLen))
	c.skip(1)
	q.Statement = string(c.rest())
	if c.err != nil {
		return nil, nil, c.err
	}
	return q, extra, nil
}

func newQuery(buf []byte, fde *FormatDescription) (Event, error) {
	q, _, err := parseQuery(buf, fde, QueryEvent)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (e *Query) Validate() error { return nil }

// Duplicate handling modes of LOAD DATA.
const (
	LoadDupError   uint8 = 0
	LoadDupIgnore  uint8 = 1
	LoadDupReplace uint8 = 2
)

// ExecuteLoadQuery is the LOAD DATA statement that consumes the blocks sent
// before it. FilenameStart and FilenameEnd delimit the file name inside the
// statement text.
type ExecuteLoadQuery struct {
	Query
	FileID        uint32
	FilenameStart uint32
	FilenameEnd   uint32
	DupHandling   uint8
}

func newExecuteLoadQuery(buf []byte, fde *FormatDescription) (Event, error) {
	q, extra, err := parseQuery(buf, fde, ExecuteLoadQueryEvent)
	if err != nil {
		return nil, err
	}
	if len(extra) < executeLoadQueryExtraLen {
		return nil, fmt.Errorf("execute load query post-header too short: %d", len(extra))
	}
	c := newCursor(extra, 0)
	ev := &ExecuteLoadQuery{Query: *q}
	ev.FileID = c.u32()
	ev.FilenameStart = c.u32()
	ev.FilenameEnd = c.u32()
	ev.DupHandling = c.u8()
	return ev, c.err
}

func (e *ExecuteLoadQuery) Validate() error {
	if e.FileID == 0 {
		return errors.New("execute load query with file id 0")
	}
	if e.FilenameStart > e.FilenameEnd || int(e.FilenameEnd) > len(e.Statement) {
		return fmt.Errorf("file name span [%d,%d) outside statement", e.FilenameStart, e.FilenameEnd)
	}
	if e.DupHandling > LoadDupReplace {
		return fmt.Errorf("unknown duplicate handling %d", e.DupHandling)
	}
	return nil
}

// Filename is the file name embedded in the statement.
func (e *ExecuteLoadQuery) Filename() string {
	return e.Statement[e.FilenameStart:e.FilenameEnd]
}

// RowsQuery carries the original statement text of a row-based transaction.
type RowsQuery struct {
	BaseEvent
	Statement string
}

func newRowsQuery(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	c := newCursor(buf, bodyStart(fde)+fde.PostHeaderLen(RowsQueryEvent))
	c.skip(1) // truncated length, superseded by the event length
	ev := &RowsQuery{BaseEvent: base, Statement: string(c.rest())}
	return ev, c.err
}

func (e *RowsQuery) Validate() error { return nil }

// Intvar kinds.
const (
	IntvarInvalid      uint8 = 0
	IntvarLastInsertID uint8 = 1
	IntvarInsertID     uint8 = 2
)

// Intvar sets LAST_INSERT_ID or INSERT_ID for the next statement.
type Intvar struct {
	BaseEvent
	Kind  uint8
	Value uint64
}

func newIntvar(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	c := newCursor(buf, bodyStart(fde)+fde.PostHeaderLen(IntvarEvent))
	ev := &Intvar{BaseEvent: base}
	ev.Kind = c.u8()
	ev.Value = c.u64()
	return ev, c.err
}

func (e *Intvar) Validate() error {
	if e.Kind != IntvarLastInsertID && e.Kind != IntvarInsertID {
		return fmt.Errorf("unknown intvar kind %d", e.Kind)
	}
	return nil
}

// Rand carries the RAND() seeds of the next statement.
type Rand struct {
	BaseEvent
	Seed1 uint64
	Seed2 uint64
}

func newRand(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	c := newCursor(buf, bodyStart(fde)+fde.PostHeaderLen(RandEvent))
	ev := &Rand{BaseEvent: base}
	ev.Seed1 = c.u64()
	ev.Seed2 = c.u64()
	return ev, c.err
}

func (e *Rand) Validate() error { return nil }

// Xid commits a transaction.
type Xid struct {
	BaseEvent
	XID uint64
}

func newXid(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	c := newCursor(buf, bodyStart(fde)+fde.PostHeaderLen(XidEvent))
	ev := &Xid{BaseEvent: base, XID: c.u64()}
	return ev, c.err
}

func (e *Xid) Validate() error { return nil }

// UserVar assigns a user variable referenced by the next statement.
type UserVar struct {
	BaseEvent
	Name      string
	IsNull    bool
	ValueType uint8
	Charset   uint32
	Value     []byte
	Flags     uint8
}

func newUserVar(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	c := newCursor(buf, bodyStart(fde)+fde.PostHeaderLen(UserVarEvent))
	ev := &UserVar{BaseEvent: base}
	nameLen := int(c.u32())
	ev.Name = string(c.take(nameLen))
	ev.IsNull = c.u8() != 0
	if !ev.IsNull {
		ev.ValueType = c.u8()
		ev.Charset = c.u32()
		ev.Value = cloneBytes(c.take(int(c.u32())))
		if c.remaining() > 0 {
			ev.Flags = c.u8()
		}
	}
	return ev, c.err
}

func (e *UserVar) Validate() error {
	if e.Name == "" {
		return errors.New("user variable without a name")
	}
	return nil
}
