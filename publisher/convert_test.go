package publisher

import (
	"testing"

	"github.com/google/uuid"
	"github.com/maxpert/binlogstream/binlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type eventFactory struct {
	b   *binlog.EventBuilder
	fde *binlog.FormatDescription
}

func newEventFactory() *eventFactory {
	return &eventFactory{
		b:   binlog.NewEventBuilder(binlog.ChecksumCRC32),
		fde: binlog.NewFormatDescription(4, "", binlog.ChecksumCRC32),
	}
}

func (f *eventFactory) decode(t *testing.T, typ binlog.EventType, body []byte) binlog.Event {
	t.Helper()
	raw := f.b.Event(typ, body)
	ev, err := binlog.Deserialize(raw, uint32(len(raw)), f.fde, true)
	require.NoError(t, err)
	return ev
}

func TestFromEventHeaderFields(t *testing.T) {
	f := newEventFactory()
	f.b.Timestamp = 1700000000
	f.b.ServerID = 12
	ev := f.decode(t, binlog.XidEvent, binlog.XidBody(77))

	rec := FromEvent("primary", "/data/mysql/binlog.000003", 4, ev)
	assert.Equal(t, "primary", rec.Stream)
	assert.Equal(t, "binlog.000003", rec.File)
	assert.Equal(t, uint64(4), rec.Offset)
	assert.Equal(t, ev.Header().LogPos, rec.NextPos)
	assert.Equal(t, "XID_EVENT", rec.Type)
	assert.Equal(t, uint8(binlog.XidEvent), rec.TypeCode)
	assert.Equal(t, uint32(12), rec.ServerID)
	assert.Equal(t, uint32(1700000000), rec.Timestamp)
	assert.Equal(t, "CRC32", rec.ChecksumAlg)
	assert.Equal(t, ev.Checksum(), rec.Checksum)
	assert.NotZero(t, rec.Checksum)
	assert.Equal(t, uint64(77), rec.XID)
	assert.Equal(t, "primary:binlog.000003:4", rec.Key())
}

func TestFromEventStatementType(t *testing.T) {
	tests := []struct {
		stmt     string
		expected string
	}{
		{"INSERT INTO orders VALUES (1)", "insert"},
		{"update orders set paid = 1", "update"},
		{"DELETE FROM orders", "delete"},
		{"BEGIN", "begin"},
		{"COMMIT", "commit"},
		{"CREATE TABLE t (id INT)", "ddl"},
	}
	f := newEventFactory()
	for _, tt := range tests {
		t.Run(tt.stmt, func(t *testing.T) {
			ev := f.decode(t, binlog.QueryEvent, binlog.QueryBody(1, "shop", tt.stmt))
			rec := FromEvent("s", "binlog.000001", 4, ev)
			assert.Equal(t, "shop", rec.Database)
			assert.Equal(t, tt.stmt, rec.Statement)
			assert.Equal(t, tt.expected, rec.StatementType)
		})
	}
}

func TestFromEventVariants(t *testing.T) {
	f := newEventFactory()
	sid := uuid.MustParse("3e11fa47-71ca-11e1-9e33-c80aa9429562")

	rot := FromEvent("s", "binlog.000001", 4, f.decode(t, binlog.RotateEvent, binlog.RotateBody(4, "binlog.000002")))
	assert.Equal(t, "binlog.000002", rot.RotateTo)

	gtid := FromEvent("s", "binlog.000001", 4, f.decode(t, binlog.GtidEvent, binlog.GtidBody(sid, 5, 3, 4)))
	assert.Equal(t, "3e11fa47-71ca-11e1-9e33-c80aa9429562:5", gtid.GTID)

	tm := FromEvent("s", "binlog.000001", 4, f.decode(t, binlog.TableMapEvent, binlog.TableMapBody(12, "shop", "orders", 3)))
	assert.Equal(t, "shop", tm.Database)
	assert.Equal(t, "orders", tm.Table)
	assert.Equal(t, uint64(12), tm.TableID)

	rows := FromEvent("s", "binlog.000001", 4, f.decode(t, binlog.WriteRowsEvent, binlog.WriteRowsBody(12, 3, []byte{0, 1, 0, 0, 0})))
	assert.Equal(t, uint64(12), rows.TableID)
	assert.Equal(t, OpInsert, rows.Operation)
	assert.Empty(t, rows.Database, "rows events carry no names on their own")
}

func TestRowsOperation(t *testing.T) {
	assert.Equal(t, OpInsert, rowsOperation(binlog.WriteRowsEventV1))
	assert.Equal(t, OpUpdate, rowsOperation(binlog.UpdateRowsEvent))
	assert.Equal(t, OpUpdate, rowsOperation(binlog.PartialUpdateRowsEvent))
	assert.Equal(t, OpDelete, rowsOperation(binlog.DeleteRowsEventV1))
	assert.Equal(t, OpNone, rowsOperation(binlog.QueryEvent))
}

func TestConverterTracksTableMaps(t *testing.T) {
	c, err := NewConverter(9, 0)
	require.NoError(t, err)
	f := newEventFactory()

	c.Convert("a", "binlog.000001", 4, f.decode(t, binlog.TableMapEvent, binlog.TableMapBody(12, "shop", "orders", 3)))
	rows := f.decode(t, binlog.WriteRowsEvent, binlog.WriteRowsBody(12, 3, []byte{0, 1, 0, 0, 0}))

	rec := c.Convert("a", "binlog.000001", 200, rows)
	assert.Equal(t, uint64(9), rec.NodeID)
	assert.Equal(t, "shop", rec.Database)
	assert.Equal(t, "orders", rec.Table)

	other := c.Convert("b", "binlog.000001", 200, rows)
	assert.Empty(t, other.Database, "table ids are per stream")

	c.Convert("a", "binlog.000001", 300, f.decode(t, binlog.RotateEvent, binlog.RotateBody(4, "binlog.000002")))
	after := c.Convert("a", "binlog.000002", 120, rows)
	assert.Empty(t, after.Database, "a rotate forgets the file's table ids")
}
