package publisher

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/cespare/xxhash/v2"
	"github.com/gobwas/glob"
	cuckoo "github.com/linvon/cuckoo-filter"
	"github.com/maxpert/binlogstream/telemetry"
)

// GlobFilter selects records by event type name and database
type GlobFilter struct {
	eventGlobs    []glob.Glob
	databaseGlobs []glob.Glob
}

// NewGlobFilter compiles the patterns. An empty list matches everything.
// Event patterns are matched against names such as QUERY_EVENT.
func NewGlobFilter(eventPatterns, dbPatterns []string) (*GlobFilter, error) {
	events, err := compileAll("event", eventPatterns)
	if err != nil {
		return nil, err
	}
	dbs, err := compileAll("database", dbPatterns)
	if err != nil {
		return nil, err
	}
	return &GlobFilter{eventGlobs: events, databaseGlobs: dbs}, nil
}

func compileAll(kind string, patterns []string) ([]glob.Glob, error) {
	out := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, p, err)
		}
		out = append(out, g)
	}
	return out, nil
}

// Match reports whether both the type and database pass. Records without a
// database only pass when no database patterns are set.
func (f *GlobFilter) Match(eventType, database string) bool {
	return matchAny(f.eventGlobs, eventType) && matchAny(f.databaseGlobs, database)
}

func matchAny(globs []glob.Glob, s string) bool {
	if len(globs) == 0 {
		return true
	}
	for _, g := range globs {
		if g.Match(s) {
			return true
		}
	}
	return false
}

const (
	dedupBucketSize      = 4
	dedupFingerprintBits = 32
	// DefaultDedupCapacity is the number of fingerprints kept before the
	// filter is recycled
	DefaultDedupCapacity = 1 << 20
)

// DuplicateFilter drops records already seen, such as the events replayed
// when a stream restarts from an older position. Identity is the stream,
// file, offset and checksum, hashed with XXH64. False positives are possible
// at the cuckoo filter's rate.
type DuplicateFilter struct {
	mu       sync.Mutex
	filter   *cuckoo.Filter
	capacity uint
	count    uint
	buf      [8]byte
}

// NewDuplicateFilter remembers up to capacity records, then starts over
func NewDuplicateFilter(capacity uint) *DuplicateFilter {
	if capacity == 0 {
		capacity = DefaultDedupCapacity
	}
	return &DuplicateFilter{filter: newCuckoo(capacity), capacity: capacity}
}

func newCuckoo(capacity uint) *cuckoo.Filter {
	return cuckoo.NewFilter(dedupBucketSize, dedupFingerprintBits, capacity, cuckoo.TableTypePacked)
}

// Fingerprint hashes the identity of rec
func Fingerprint(rec EventRecord) uint64 {
	d := xxhash.New()
	d.WriteString(rec.Stream)
	d.Write([]byte{0})
	d.WriteString(rec.File)
	var tail [12]byte
	binary.LittleEndian.PutUint64(tail[:8], rec.Offset)
	binary.LittleEndian.PutUint32(tail[8:], rec.Checksum)
	d.Write(tail[:])
	return d.Sum64()
}

// Seen records rec and reports whether it had been recorded before
func (d *DuplicateFilter) Seen(rec EventRecord) bool {
	if d.Contains(rec) {
		return true
	}
	d.Add(rec)
	return false
}

// Contains reports whether rec has been added, without recording it
func (d *DuplicateFilter) Contains(rec EventRecord) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	binary.LittleEndian.PutUint64(d.buf[:], Fingerprint(rec))
	if d.filter.Contain(d.buf[:]) {
		telemetry.DuplicateRecordsTotal.Inc()
		return true
	}
	return false
}

// Add records rec. A full filter is replaced by an empty one first.
func (d *DuplicateFilter) Add(rec EventRecord) {
	d.mu.Lock()
	defer d.mu.Unlock()

	binary.LittleEndian.PutUint64(d.buf[:], Fingerprint(rec))
	if d.count >= d.capacity || !d.filter.Add(d.buf[:]) {
		d.filter = newCuckoo(d.capacity)
		d.count = 0
		d.filter.Add(d.buf[:])
	}
	d.count++
}

// Size is the number of fingerprints held
func (d *DuplicateFilter) Size() uint {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}
