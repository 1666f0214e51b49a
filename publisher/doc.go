// Package publisher fans decoded binlog events out to external systems.
//
// Each event is converted to an EventRecord and appended to a Pebble-backed
// log with a monotonically increasing sequence number. Every configured sink
// runs a Worker that tails the log from its own persisted cursor, filters
// records by event type and database, encodes them with a Transformer and
// publishes them. Records every cursor has passed are deleted in the
// background.
//
// Key layout:
//
//	/rec/{seq:016x}    -> msgpack(EventRecord)
//	/cursor/{sink}     -> uint64
//	/seq               -> uint64 (last assigned)
//
// Delivery is at least once: a worker publishes before it advances its
// cursor. A DuplicateFilter can suppress events a restarted stream reads a
// second time.
package publisher
