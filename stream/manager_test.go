package stream

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/maxpert/binlogstream/binlog"
	"github.com/maxpert/binlogstream/cfg"
	"github.com/maxpert/binlogstream/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu      sync.Mutex
	offsets []uint64
	types   []binlog.EventType
	paths   []string
}

func (r *recorder) handle(_ context.Context, _, path string, offset uint64, ev binlog.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.offsets = append(r.offsets, offset)
	r.types = append(r.types, ev.Type())
	r.paths = append(r.paths, path)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.types)
}

func writeFile(t *testing.T, dir, name string, events ...[]byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := append([]byte(nil), source.Magic...)
	content = append(content, binlog.Concat(events...)...)
	require.NoError(t, os.WriteFile(path, content, 0o644))
	return path
}

func appendFile(t *testing.T, path string, data []byte) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write(data)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func fdeEvent(b *binlog.EventBuilder) []byte {
	return b.FormatDescription(binlog.NewFormatDescription(4, "8.0.36", binlog.ChecksumCRC32))
}

func baseOptions() Options {
	return Options{
		VerifyChecksum:   true,
		FollowPoll:       5 * time.Millisecond,
		FollowMaxBackoff: 20 * time.Millisecond,
	}
}

func TestStreamReadsWholeFile(t *testing.T) {
	b := binlog.NewEventBuilder(binlog.ChecksumUndef)
	fde := fdeEvent(b)
	q := b.Event(binlog.QueryEvent, binlog.QueryBody(1, "db", "BEGIN"))
	xid := b.Event(binlog.XidEvent, binlog.XidBody(1))
	path := writeFile(t, t.TempDir(), "binlog.000001", fde, q, xid)

	rec := &recorder{}
	m := NewManager(baseOptions(), rec.handle)
	sum, err := m.Start(context.Background(), "main", path).Get()
	require.NoError(t, err)

	assert.Equal(t, StateDone, sum.State)
	assert.Equal(t, uint64(3), sum.Events)
	assert.Equal(t, uint64(4+len(fde)+len(q)+len(xid)), sum.Position)
	assert.NotEmpty(t, sum.Session)
	assert.Equal(t, []uint64{4, uint64(4 + len(fde)), uint64(4 + len(fde) + len(q))}, rec.offsets)
	assert.Equal(t, []binlog.EventType{binlog.FormatDescriptionEvent, binlog.QueryEvent, binlog.XidEvent}, rec.types)

	st, ok := m.Status("main")
	require.True(t, ok)
	assert.Equal(t, StateDone, st.State)
	assert.Empty(t, st.LastError)
}

func TestStreamFailsOnCorruptEvent(t *testing.T) {
	b := binlog.NewEventBuilder(binlog.ChecksumUndef)
	fde := fdeEvent(b)
	xid := b.Event(binlog.XidEvent, binlog.XidBody(1))
	xid[binlog.LogEventMinimalHeaderLen] ^= 0xff
	path := writeFile(t, t.TempDir(), "binlog.000001", fde, xid)

	m := NewManager(baseOptions(), nil)
	sum, err := m.Start(context.Background(), "bad", path).Get()
	require.Error(t, err)
	assert.ErrorIs(t, err, binlog.ErrChecksumFailure)
	assert.Equal(t, StateFailed, sum.State)
	assert.Equal(t, uint64(1), sum.Events)

	st, _ := m.Status("bad")
	assert.Contains(t, st.LastError, "crc")
}

func TestStreamOpenFailure(t *testing.T) {
	m := NewManager(baseOptions(), nil)
	_, err := m.Start(context.Background(), "missing", filepath.Join(t.TempDir(), "nope")).Get()
	assert.Error(t, err)
	st, ok := m.Status("missing")
	require.True(t, ok)
	assert.Equal(t, StateFailed, st.State)
}

func TestStreamHandlerError(t *testing.T) {
	b := binlog.NewEventBuilder(binlog.ChecksumUndef)
	path := writeFile(t, t.TempDir(), "binlog.000001", fdeEvent(b))

	boom := errors.New("sink unavailable")
	m := NewManager(baseOptions(), func(context.Context, string, string, uint64, binlog.Event) error {
		return boom
	})
	sum, err := m.Start(context.Background(), "main", path).Get()
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, sum.State)
}

func TestStreamFollowPicksUpAppendedEvents(t *testing.T) {
	b := binlog.NewEventBuilder(binlog.ChecksumUndef)
	path := writeFile(t, t.TempDir(), "binlog.000001", fdeEvent(b))

	opts := baseOptions()
	opts.Follow = true
	rec := &recorder{}
	m := NewManager(opts, rec.handle)
	fut := m.Start(context.Background(), "tail", path)

	require.Eventually(t, func() bool {
		st, _ := m.Status("tail")
		return st.State == StateFollowing
	}, 2*time.Second, 5*time.Millisecond)

	_, err := m.Start(context.Background(), "tail", path).Get()
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	q := b.Event(binlog.QueryEvent, binlog.QueryBody(1, "db", "INSERT INTO t VALUES (1)"))
	appendFile(t, path, q[:10])
	appendFile(t, path, q[10:25])
	require.Eventually(t, func() bool {
		st, _ := m.Status("tail")
		return st.State == StateFollowing
	}, 2*time.Second, 5*time.Millisecond)
	appendFile(t, path, q[25:])
	appendFile(t, path, b.Event(binlog.XidEvent, binlog.XidBody(2)))

	require.Eventually(t, func() bool { return rec.count() == 3 }, 2*time.Second, 5*time.Millisecond)

	assert.True(t, m.Stop("tail"))
	sum, err := fut.Get()
	require.NoError(t, err)
	assert.Equal(t, StateStopped, sum.State)
	assert.Equal(t, uint64(3), sum.Events)
	assert.False(t, m.Stop("tail"))
}

func TestStreamFollowsRotation(t *testing.T) {
	dir := t.TempDir()
	b1 := binlog.NewEventBuilder(binlog.ChecksumUndef)
	first := writeFile(t, dir, "binlog.000001",
		fdeEvent(b1),
		b1.Event(binlog.RotateEvent, binlog.RotateBody(4, "binlog.000002")))

	b2 := binlog.NewEventBuilder(binlog.ChecksumUndef)
	writeFile(t, dir, "binlog.000002",
		fdeEvent(b2),
		b2.Event(binlog.XidEvent, binlog.XidBody(1)))

	opts := baseOptions()
	opts.Follow = true
	rec := &recorder{}
	m := NewManager(opts, rec.handle)
	fut := m.Start(context.Background(), "rot", first)

	require.Eventually(t, func() bool { return rec.count() == 4 }, 2*time.Second, 5*time.Millisecond)
	st, _ := m.Status("rot")
	assert.Equal(t, filepath.Join(dir, "binlog.000002"), st.Path)

	m.StopAll()
	sum, err := fut.Get()
	require.NoError(t, err)
	assert.Equal(t, StateStopped, sum.State)
	assert.Equal(t, filepath.Join(dir, "binlog.000002"), rec.paths[3])
	assert.Equal(t, uint64(4), rec.offsets[2], "offsets restart in the new file")
}

func TestStreamStartAtResumesAfterFormatDescription(t *testing.T) {
	b := binlog.NewEventBuilder(binlog.ChecksumUndef)
	fde := fdeEvent(b)
	q := b.Event(binlog.QueryEvent, binlog.QueryBody(1, "db", "BEGIN"))
	xid := b.Event(binlog.XidEvent, binlog.XidBody(8))
	path := writeFile(t, t.TempDir(), "binlog.000001", fde, q, xid)

	rec := &recorder{}
	m := NewManager(baseOptions(), rec.handle)
	resumeAt := uint64(4 + len(fde) + len(q))
	sum, err := m.StartAt(context.Background(), "resume", path, resumeAt).Get()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), sum.Events)
	assert.Equal(t, []binlog.EventType{binlog.XidEvent}, rec.types)
	assert.Equal(t, []uint64{resumeAt}, rec.offsets)

	_, err = m.StartAt(context.Background(), "inside", path, 10).Get()
	assert.Error(t, err)
}

func TestStreamRateLimit(t *testing.T) {
	b := binlog.NewEventBuilder(binlog.ChecksumUndef)
	events := [][]byte{fdeEvent(b)}
	for i := 0; i < 5; i++ {
		events = append(events, b.Event(binlog.XidEvent, binlog.XidBody(uint64(i))))
	}
	path := writeFile(t, t.TempDir(), "binlog.000001", events...)

	opts := baseOptions()
	opts.RateLimit = 100
	opts.RateBurst = 1
	m := NewManager(opts, nil)
	began := time.Now()
	sum, err := m.Start(context.Background(), "slow", path).Get()
	require.NoError(t, err)
	assert.Equal(t, uint64(6), sum.Events)
	assert.GreaterOrEqual(t, time.Since(began), 40*time.Millisecond)
}

func TestStatusesAndStreamStats(t *testing.T) {
	dir := t.TempDir()
	b := binlog.NewEventBuilder(binlog.ChecksumUndef)
	fde := fdeEvent(b)
	a := writeFile(t, dir, "a.000001", fde)
	z := writeFile(t, dir, "z.000001", fde)

	m := NewManager(baseOptions(), nil)
	m.Start(context.Background(), "zeta", z)
	m.Start(context.Background(), "alpha", a)
	m.Wait()

	statuses := m.Statuses()
	require.Len(t, statuses, 2)
	assert.Equal(t, "alpha", statuses[0].Name)
	assert.Equal(t, "zeta", statuses[1].Name)

	stats := m.StreamStats()
	require.Len(t, stats, 2)
	assert.False(t, stats[0].Running)
	assert.Equal(t, uint64(1), stats[0].Events)
	assert.Equal(t, uint64(4+len(fde)), stats[0].Position)
}

func TestOptionsFromConfig(t *testing.T) {
	c := &cfg.Configuration{Reader: cfg.ReaderConfiguration{
		MaxEventSize:       4096,
		VerifyChecksum:     true,
		ShrinkThreshold:    7,
		Follow:             true,
		FollowPollMS:       50,
		FollowMaxBackoffMS: 500,
		RateLimit:          10,
		RateBurst:          3,
	}}
	opts := OptionsFromConfig(c, nil)
	assert.Equal(t, uint32(4096), opts.MaxEventSize)
	assert.True(t, opts.VerifyChecksum)
	assert.Equal(t, 7, opts.ShrinkThreshold)
	assert.True(t, opts.Follow)
	assert.Equal(t, 50*time.Millisecond, opts.FollowPoll)
	assert.Equal(t, 500*time.Millisecond, opts.FollowMaxBackoff)
	assert.Equal(t, float64(10), opts.RateLimit)
	assert.Equal(t, 3, opts.RateBurst)
	assert.Nil(t, opts.Keyring)
}
