package publisher

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/pebble"
	"github.com/maxpert/binlogstream/encoding"
	"github.com/maxpert/binlogstream/telemetry"
	"github.com/rs/zerolog/log"
)

// Key layout
const (
	prefixRecord = "/rec/"    // /rec/{16-hex-digit-seq}
	prefixCursor = "/cursor/" // /cursor/{sinkName}
	keyNextSeq   = "/seq"     // last assigned sequence
)

const (
	memTableSize             = 32 << 20
	l0CompactionThreshold    = 2
	l0StopWritesThreshold    = 12
	maxConcurrentCompactions = 2

	defaultReadLimit    = 100
	cleanupIntervalMask = 0x7F // every 128 sequences
)

var ErrLogClosed = errors.New("publish log is closed")

// PublishLog is a Pebble-backed append-only queue of event records. Each
// sink keeps its own cursor; records below every cursor are deleted.
type PublishLog struct {
	db   *pebble.DB
	path string

	cursors   map[string]uint64
	cursorsMu sync.RWMutex

	// appendMu serializes sequence assignment across streams
	appendMu sync.Mutex
	lastSeq  atomic.Uint64

	cleanupMu      sync.Mutex
	cleanupRunning atomic.Bool
	cleanupWg      sync.WaitGroup

	closed atomic.Bool
}

// LogStats is a point-in-time view of the log
type LogStats struct {
	LastSeq uint64            `json:"last_seq"`
	Cursors map[string]uint64 `json:"cursors"`
}

// OpenPublishLog creates or opens the log stored in dir
func OpenPublishLog(dir string) (*PublishLog, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		MemTableSize:             memTableSize,
		L0CompactionThreshold:    l0CompactionThreshold,
		L0StopWritesThreshold:    l0StopWritesThreshold,
		MaxConcurrentCompactions: func() int { return maxConcurrentCompactions },
	})
	if err != nil {
		return nil, fmt.Errorf("open publish log at %s: %w", dir, err)
	}

	pl := &PublishLog{db: db, path: dir, cursors: make(map[string]uint64)}
	if err := pl.loadLastSeq(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load sequence: %w", err)
	}
	if err := pl.loadCursors(); err != nil {
		db.Close()
		return nil, fmt.Errorf("load cursors: %w", err)
	}
	telemetry.PublishLogSeq.Set(float64(pl.lastSeq.Load()))
	return pl, nil
}

func (pl *PublishLog) loadLastSeq() error {
	val, closer, err := pl.db.Get([]byte(keyNextSeq))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	defer closer.Close()

	if len(val) != 8 {
		return fmt.Errorf("invalid sequence value length: %d", len(val))
	}
	pl.lastSeq.Store(binary.LittleEndian.Uint64(val))
	return nil
}

func (pl *PublishLog) loadCursors() error {
	prefix := []byte(prefixCursor)
	iter, err := pl.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(prefixCursor):])
		val, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if len(val) != 8 {
			return fmt.Errorf("corrupted cursor for sink %s: length %d", name, len(val))
		}
		pl.cursors[name] = binary.LittleEndian.Uint64(val)
	}
	if err := iter.Error(); err != nil {
		return err
	}

	if len(pl.cursors) > 0 {
		log.Info().Int("cursors", len(pl.cursors)).Msg("Loaded publish log cursors")
	}
	return nil
}

// Append stores records and assigns their sequence numbers in place
func (pl *PublishLog) Append(records []EventRecord) error {
	if len(records) == 0 {
		return nil
	}
	if pl.closed.Load() {
		return ErrLogClosed
	}

	pl.appendMu.Lock()
	defer pl.appendMu.Unlock()

	seq := pl.lastSeq.Load()
	batch := pl.db.NewBatch()
	defer batch.Close()

	for i := range records {
		seq++
		records[i].SeqNum = seq
		val, err := encoding.Marshal(&records[i])
		if err != nil {
			return fmt.Errorf("marshal record: %w", err)
		}
		if err := batch.Set(recordKey(seq), val, nil); err != nil {
			return fmt.Errorf("write record: %w", err)
		}
	}

	seqBuf := binary.LittleEndian.AppendUint64(nil, seq)
	if err := batch.Set([]byte(keyNextSeq), seqBuf, nil); err != nil {
		return fmt.Errorf("write sequence: %w", err)
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("commit records: %w", err)
	}

	pl.lastSeq.Store(seq)
	telemetry.PublishLogSeq.Set(float64(seq))
	return nil
}

// ReadFrom returns up to limit records after cursor
func (pl *PublishLog) ReadFrom(cursor uint64, limit int) ([]EventRecord, error) {
	if pl.closed.Load() {
		return nil, ErrLogClosed
	}
	if limit <= 0 {
		limit = defaultReadLimit
	}

	start := recordKey(cursor + 1)
	iter, err := pl.db.NewIter(&pebble.IterOptions{
		LowerBound: start,
		UpperBound: prefixUpperBound([]byte(prefixRecord)),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	records := make([]EventRecord, 0, limit)
	for iter.First(); iter.Valid() && len(records) < limit; iter.Next() {
		val, err := iter.ValueAndErr()
		if err != nil {
			return nil, err
		}
		var rec EventRecord
		if err := encoding.Unmarshal(val, &rec); err != nil {
			log.Warn().Err(err).Str("key", string(iter.Key())).Msg("Skipping unreadable publish log record")
			continue
		}
		records = append(records, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	return records, nil
}

// Earliest returns the cursor that reads the oldest stored record
func (pl *PublishLog) Earliest() (uint64, error) {
	records, err := pl.ReadFrom(0, 1)
	if err != nil || len(records) == 0 {
		return 0, err
	}
	return records[0].SeqNum - 1, nil
}

// Cursor returns the last sequence sinkName has published, 0 for a new sink
func (pl *PublishLog) Cursor(sinkName string) (uint64, error) {
	if pl.closed.Load() {
		return 0, ErrLogClosed
	}
	pl.cursorsMu.RLock()
	defer pl.cursorsMu.RUnlock()
	return pl.cursors[sinkName], nil
}

// AdvanceCursor records that sinkName has published up to seq
func (pl *PublishLog) AdvanceCursor(sinkName string, seq uint64) error {
	if pl.closed.Load() {
		return ErrLogClosed
	}

	pl.cursorsMu.Lock()
	pl.cursors[sinkName] = seq
	pl.cursorsMu.Unlock()

	val := binary.LittleEndian.AppendUint64(nil, seq)
	if err := pl.db.Set([]byte(prefixCursor+sinkName), val, pebble.Sync); err != nil {
		return fmt.Errorf("update cursor: %w", err)
	}

	if seq&cleanupIntervalMask == 0 && pl.cleanupRunning.CompareAndSwap(false, true) {
		pl.cleanupWg.Add(1)
		go func() {
			defer pl.cleanupWg.Done()
			defer pl.cleanupRunning.Store(false)
			pl.cleanup()
		}()
	}
	return nil
}

// Stats reports the last sequence and every cursor
func (pl *PublishLog) Stats() LogStats {
	pl.cursorsMu.RLock()
	defer pl.cursorsMu.RUnlock()
	cursors := make(map[string]uint64, len(pl.cursors))
	for k, v := range pl.cursors {
		cursors[k] = v
	}
	return LogStats{LastSeq: pl.lastSeq.Load(), Cursors: cursors}
}

// cleanup deletes records every sink has published
func (pl *PublishLog) cleanup() {
	pl.cleanupMu.Lock()
	defer pl.cleanupMu.Unlock()

	if pl.closed.Load() {
		return
	}

	pl.cursorsMu.RLock()
	if len(pl.cursors) == 0 {
		pl.cursorsMu.RUnlock()
		return
	}
	low := ^uint64(0)
	for _, c := range pl.cursors {
		low = min(low, c)
	}
	pl.cursorsMu.RUnlock()

	if low == 0 {
		return
	}
	// Keep the record at low so Earliest still finds a starting point
	if err := pl.db.DeleteRange([]byte(prefixRecord), recordKey(low), pebble.Sync); err != nil {
		log.Warn().Err(err).Uint64("min_cursor", low).Msg("Failed to clean up publish log")
		return
	}
	log.Debug().Uint64("min_cursor", low).Msg("Cleaned up publish log")
}

// Close waits for cleanup and closes the store
func (pl *PublishLog) Close() error {
	if !pl.closed.CompareAndSwap(false, true) {
		return ErrLogClosed
	}
	pl.cleanupWg.Wait()
	return pl.db.Close()
}

func recordKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%016x", prefixRecord, seq))
}

func prefixUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
