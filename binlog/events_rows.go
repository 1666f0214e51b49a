package binlog

import (
	"errors"
	"fmt"
)

// Rows flags.
const (
	RowsFlagStmtEnd          uint16 = 0x1
	RowsFlagNoForeignKeys    uint16 = 0x2
	RowsFlagNoUniqueChecks   uint16 = 0x4
	RowsFlagCompleteRows     uint16 = 0x8
	dummyTableID             uint64 = 0x00ffffff
	oldTableMapPostHeaderLen        = 6
)

// Rows is a write, update or delete rows event in any of its encodings. The
// row images are kept undecoded; they need the preceding TableMap to parse.
type Rows struct {
	BaseEvent
	TableID     uint64
	Flags       uint16
	ExtraData   []byte
	ColumnCount uint64
	// ColumnsBefore selects the columns present in the before image (or the
	// only image for write and delete). ColumnsAfter is set for updates.
	ColumnsBefore []byte
	ColumnsAfter  []byte
	RowData       []byte
}

func isUpdateRows(t EventType) bool {
	return t == UpdateRowsEventV1 || t == UpdateRowsEvent || t == PartialUpdateRowsEvent
}

func isRowsV2(t EventType) bool {
	return t == WriteRowsEvent || t == UpdateRowsEvent || t == DeleteRowsEvent || t == PartialUpdateRowsEvent
}

// readTableID decodes the table id that opens rows and table map post-headers.
func readTableID(c *cursor, phl int) uint64 {
	if phl == oldTableMapPostHeaderLen {
		return uint64(c.u32())
	}
	return c.uintN(6)
}

func newRows(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	t := base.header.Type
	phl := fde.PostHeaderLen(t)
	ev := &Rows{BaseEvent: base}

	c := newCursor(buf, bodyStart(fde))
	ev.TableID = readTableID(c, phl)
	ev.Flags = c.u16()
	if isRowsV2(t) && phl > rowsHeaderLenV1 {
		extraLen := int(c.u16())
		if extraLen < 2 {
			return nil, fmt.Errorf("rows extra data length %d below 2", extraLen)
		}
		ev.ExtraData = cloneBytes(c.take(extraLen - 2))
	}

	ev.ColumnCount = c.packed()
	// Each column needs at least one bitmap bit in the remaining body.
	if ev.ColumnCount > uint64(c.remaining())*8 {
		return nil, fmt.Errorf("%w: %d columns", errShortBody, ev.ColumnCount)
	}
	bitmapLen := int((ev.ColumnCount + 7) / 8)
	ev.ColumnsBefore = cloneBytes(c.take(bitmapLen))
	if isUpdateRows(t) {
		ev.ColumnsAfter = cloneBytes(c.take(bitmapLen))
	}
	ev.RowData = cloneBytes(c.rest())
	return ev, c.err
}

// IsStatementEnd reports whether this is the last rows event of its statement.
func (e *Rows) IsStatementEnd() bool {
	return e.Flags&RowsFlagStmtEnd != 0
}

func (e *Rows) Validate() error {
	if e.ColumnCount == 0 {
		return errors.New("rows event without columns")
	}
	if e.ColumnsBefore == nil {
		return errors.New("rows event without column bitmap")
	}
	if isUpdateRows(e.Type()) && e.ColumnsAfter == nil {
		return errors.New("update rows event without after-image bitmap")
	}
	if e.RowData == nil {
		return errors.New("rows event without row data")
	}
	return nil
}

// TableMap binds a table id to a schema and column layout for the rows events
// that follow it.
type TableMap struct {
	BaseEvent
	TableID     uint64
	Flags       uint16
	Schema      string
	Table       string
	ColumnCount uint64
	ColumnTypes []byte
	Metadata    []byte
	NullBitmap  []byte
	// OptionalMetadata holds the TLV block newer servers append.
	OptionalMetadata []byte
}

func newTableMap(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	phl := fde.PostHeaderLen(TableMapEvent)
	ev := &TableMap{BaseEvent: base}

	c := newCursor(buf, bodyStart(fde))
	ev.TableID = readTableID(c, phl)
	ev.Flags = c.u16()
	ev.Schema = string(c.take(int(c.u8())))
	c.skip(1)
	ev.Table = string(c.take(int(c.u8())))
	c.skip(1)
	ev.ColumnCount = c.packed()
	if ev.ColumnCount > uint64(c.remaining()) {
		return nil, fmt.Errorf("%w: %d columns", errShortBody, ev.ColumnCount)
	}
	ev.ColumnTypes = cloneBytes(c.take(int(ev.ColumnCount)))
	if c.remaining() > 0 {
		ev.Metadata = cloneBytes(c.take(int(c.packed())))
		ev.NullBitmap = cloneBytes(c.take(int((ev.ColumnCount + 7) / 8)))
		ev.OptionalMetadata = cloneBytes(c.rest())
	}
	return ev, c.err
}

func (e *TableMap) Validate() error {
	if e.Table == "" {
		return errors.New("table map without table name")
	}
	if e.TableID == dummyTableID {
		return errors.New("table map uses the reserved dummy table id")
	}
	if uint64(len(e.ColumnTypes)) != e.ColumnCount {
		return fmt.Errorf("table map declares %d columns, has %d types", e.ColumnCount, len(e.ColumnTypes))
	}
	return nil
}
