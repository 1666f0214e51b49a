package publisher

import "strconv"

// Row operations carried by rows events
const (
	OpNone   = ""
	OpInsert = "insert"
	OpUpdate = "update"
	OpDelete = "delete"
)

// EventRecord is the publishable form of one decoded binlog event
type EventRecord struct {
	SeqNum      uint64 `msgpack:"seq" json:"seq"`            // Publish log sequence
	Stream      string `msgpack:"stream" json:"stream"`      // Configured stream name
	File        string `msgpack:"file" json:"file"`          // Binlog file base name
	Offset      uint64 `msgpack:"off" json:"offset"`         // Event start in the file
	NextPos     uint32 `msgpack:"next" json:"next_pos"`      // Header next-position
	Type        string `msgpack:"type" json:"type"`          // Event type name
	TypeCode    uint8  `msgpack:"code" json:"type_code"`     // Raw type code
	ServerID    uint32 `msgpack:"sid" json:"server_id"`      // Originating server
	Timestamp   uint32 `msgpack:"ts" json:"timestamp"`       // Header timestamp (unix s)
	Flags       uint16 `msgpack:"flags" json:"flags"`        // Header flags
	ChecksumAlg string `msgpack:"alg" json:"checksum_alg"`   // Algorithm in force
	Checksum    uint32 `msgpack:"crc" json:"checksum"`       // Trailer value, 0 without one
	NodeID      uint64 `msgpack:"node" json:"node_id"`       // Decoding node

	Database      string `msgpack:"db,omitempty" json:"database,omitempty"`
	Table         string `msgpack:"tbl,omitempty" json:"table,omitempty"`
	Statement     string `msgpack:"stmt,omitempty" json:"statement,omitempty"`
	StatementType string `msgpack:"stype,omitempty" json:"statement_type,omitempty"`
	Operation     string `msgpack:"op,omitempty" json:"operation,omitempty"`
	TableID       uint64 `msgpack:"tid,omitempty" json:"table_id,omitempty"`
	GTID          string `msgpack:"gtid,omitempty" json:"gtid,omitempty"`
	XID           uint64 `msgpack:"xid,omitempty" json:"xid,omitempty"`
	RotateTo      string `msgpack:"rot,omitempty" json:"rotate_to,omitempty"`
}

// Key identifies the event's place in the source. Sinks partition on it so
// one stream's events stay ordered.
func (r EventRecord) Key() string {
	return r.Stream + ":" + r.File + ":" + strconv.FormatUint(r.Offset, 10)
}

// Sink represents a destination for event records (e.g., Kafka, NATS, SQLite)
type Sink interface {
	// Publish sends a record to the sink
	Publish(topic string, key string, value []byte) error
	// Close releases any resources held by the sink
	Close() error
}

// Transformer encodes event records for a sink
type Transformer interface {
	Transform(record EventRecord) ([]byte, error)
	ContentType() string
}

// Filter determines whether a record should be published
type Filter interface {
	Match(eventType, database string) bool
}
