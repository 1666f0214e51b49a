package publisher

import (
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/maxpert/binlogstream/binlog"
	"vitess.io/vitess/go/vt/sqlparser"
)

// DefaultTableCacheSize bounds the table ids remembered across streams
const DefaultTableCacheSize = 4096

type tableKey struct {
	stream string
	id     uint64
}

type tableRef struct {
	database string
	table    string
}

// Converter turns decoded events into records. It remembers table maps so
// rows events can be tagged with the database and table they touch.
type Converter struct {
	nodeID uint64
	tables *lru.Cache[tableKey, tableRef]
}

// NewConverter creates a converter stamping records with nodeID
func NewConverter(nodeID uint64, tableCacheSize int) (*Converter, error) {
	if tableCacheSize <= 0 {
		tableCacheSize = DefaultTableCacheSize
	}
	tables, err := lru.New[tableKey, tableRef](tableCacheSize)
	if err != nil {
		return nil, err
	}
	return &Converter{nodeID: nodeID, tables: tables}, nil
}

// Convert builds the record of ev, read at offset of path in stream
func (c *Converter) Convert(stream, path string, offset uint64, ev binlog.Event) EventRecord {
	rec := FromEvent(stream, path, offset, ev)
	rec.NodeID = c.nodeID

	switch e := ev.(type) {
	case *binlog.TableMap:
		c.tables.Add(tableKey{stream, e.TableID}, tableRef{e.Schema, e.Table})
	case *binlog.Rows:
		if ref, ok := c.tables.Get(tableKey{stream, e.TableID}); ok {
			rec.Database = ref.database
			rec.Table = ref.table
		}
	case *binlog.Rotate:
		// Table ids are only unique within one file
		if e.Header().LogPos != 0 {
			c.forget(stream)
		}
	}
	return rec
}

func (c *Converter) forget(stream string) {
	for _, k := range c.tables.Keys() {
		if k.stream == stream {
			c.tables.Remove(k)
		}
	}
}

// FromEvent builds the record of ev without any cross-event state
func FromEvent(stream, path string, offset uint64, ev binlog.Event) EventRecord {
	h := ev.Header()
	rec := EventRecord{
		Stream:      stream,
		File:        filepath.Base(path),
		Offset:      offset,
		NextPos:     h.LogPos,
		Type:        h.Type.String(),
		TypeCode:    uint8(h.Type),
		ServerID:    h.ServerID,
		Timestamp:   h.Timestamp,
		Flags:       h.Flags,
		ChecksumAlg: ev.ChecksumAlg().String(),
		Checksum:    ev.Checksum(),
	}

	switch e := ev.(type) {
	case *binlog.Query:
		fillStatement(&rec, e)
	case *binlog.ExecuteLoadQuery:
		fillStatement(&rec, &e.Query)
	case *binlog.TableMap:
		rec.Database = e.Schema
		rec.Table = e.Table
		rec.TableID = e.TableID
	case *binlog.Rows:
		rec.TableID = e.TableID
		rec.Operation = rowsOperation(h.Type)
	case *binlog.Gtid:
		rec.GTID = e.String()
	case *binlog.Xid:
		rec.XID = e.XID
	case *binlog.Rotate:
		rec.RotateTo = e.NextFile
	}
	return rec
}

func fillStatement(rec *EventRecord, q *binlog.Query) {
	rec.Database = q.Database
	rec.Statement = q.Statement
	rec.StatementType = strings.ToLower(sqlparser.Preview(q.Statement).String())
}

func rowsOperation(t binlog.EventType) string {
	switch t {
	case binlog.WriteRowsEvent, binlog.WriteRowsEventV1:
		return OpInsert
	case binlog.UpdateRowsEvent, binlog.UpdateRowsEventV1, binlog.PartialUpdateRowsEvent:
		return OpUpdate
	case binlog.DeleteRowsEvent, binlog.DeleteRowsEventV1:
		return OpDelete
	}
	return OpNone
}
