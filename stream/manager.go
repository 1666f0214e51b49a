package stream

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jizhuozhi/go-future"
	"github.com/maxpert/binlogstream/binlog"
	"github.com/maxpert/binlogstream/cfg"
	"github.com/maxpert/binlogstream/crypt"
	"github.com/maxpert/binlogstream/source"
	"github.com/maxpert/binlogstream/telemetry"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/ksuid"
	"github.com/sourcegraph/conc"
	"golang.org/x/time/rate"
)

var ErrAlreadyRunning = errors.New("stream: already running")

// State of a stream.
type State string

const (
	StateRunning   State = "running"
	StateFollowing State = "following"
	StateDone      State = "done"
	StateStopped   State = "stopped"
	StateFailed    State = "failed"
)

// Status is a snapshot of one stream.
type Status struct {
	Name      string    `json:"name"`
	Session   string    `json:"session"`
	Path      string    `json:"path"`
	Position  uint64    `json:"position"`
	Events    uint64    `json:"events"`
	State     State     `json:"state"`
	LastError string    `json:"last_error,omitempty"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary is what a finished stream resolves its future with.
type Summary struct {
	Name     string
	Session  string
	Path     string
	Position uint64
	Events   uint64
	State    State
}

// Handler receives every decoded event. offset is the event's start position
// in path. A non-nil error ends the stream.
type Handler func(ctx context.Context, name, path string, offset uint64, ev binlog.Event) error

// Options configures how every stream of a Manager is read.
type Options struct {
	MaxEventSize     uint32
	VerifyChecksum   bool
	ShrinkThreshold  int
	Follow           bool
	FollowPoll       time.Duration
	FollowMaxBackoff time.Duration
	RateLimit        float64
	RateBurst        int
	// Keyring enables decryption of encrypted binlogs when set.
	Keyring crypt.Keyring
	Open    func(path string) (source.Source, error)
}

// OptionsFromConfig maps the reader section of c.
func OptionsFromConfig(c *cfg.Configuration, keyring crypt.Keyring) Options {
	return Options{
		MaxEventSize:     c.Reader.MaxEventSize,
		VerifyChecksum:   c.Reader.VerifyChecksum,
		ShrinkThreshold:  c.Reader.ShrinkThreshold,
		Follow:           c.Reader.Follow,
		FollowPoll:       time.Duration(c.Reader.FollowPollMS) * time.Millisecond,
		FollowMaxBackoff: time.Duration(c.Reader.FollowMaxBackoffMS) * time.Millisecond,
		RateLimit:        c.Reader.RateLimit,
		RateBurst:        c.Reader.RateBurst,
		Keyring:          keyring,
	}
}

type tracker struct {
	mu     sync.Mutex
	st     Status
	cancel context.CancelFunc
}

func (t *tracker) snapshot() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st
}

func (t *tracker) update(fn func(*Status)) {
	t.mu.Lock()
	fn(&t.st)
	t.st.UpdatedAt = time.Now()
	t.mu.Unlock()
}

func (t *tracker) active() bool {
	s := t.snapshot()
	return s.State == StateRunning || s.State == StateFollowing
}

// Manager runs one binlog reader per stream in parallel.
type Manager struct {
	opts    Options
	handler Handler
	streams *xsync.MapOf[string, *tracker]
	startMu sync.Mutex
	wg      conc.WaitGroup
}

// NewManager returns a Manager that hands events to handler.
func NewManager(opts Options, handler Handler) *Manager {
	if opts.Open == nil {
		opts.Open = source.OpenAuto
	}
	if opts.FollowPoll <= 0 {
		opts.FollowPoll = 200 * time.Millisecond
	}
	if opts.FollowMaxBackoff < opts.FollowPoll {
		opts.FollowMaxBackoff = opts.FollowPoll
	}
	if handler == nil {
		handler = func(context.Context, string, string, uint64, binlog.Event) error { return nil }
	}
	return &Manager{
		opts:    opts,
		handler: handler,
		streams: xsync.NewMapOf[string, *tracker](),
	}
}

// Start reads path from the first event.
func (m *Manager) Start(ctx context.Context, name, path string) *future.Future[Summary] {
	return m.StartAt(ctx, name, path, 0)
}

// StartAt reads path from position pos. The file's format description is read
// first so events past it decode under the right context.
func (m *Manager) StartAt(ctx context.Context, name, path string, pos uint64) *future.Future[Summary] {
	p := future.NewPromise[Summary]()

	m.startMu.Lock()
	if t, ok := m.streams.Load(name); ok && t.active() {
		m.startMu.Unlock()
		p.Set(Summary{Name: name, Path: path}, fmt.Errorf("%w: %s", ErrAlreadyRunning, name))
		return p.Future()
	}

	now := time.Now()
	t := &tracker{st: Status{
		Name:      name,
		Session:   ksuid.New().String(),
		Path:      path,
		Position:  source.MagicLen,
		State:     StateRunning,
		StartedAt: now,
		UpdatedAt: now,
	}}
	src, err := m.opts.Open(path)
	if err != nil {
		t.st.State = StateFailed
		t.st.LastError = err.Error()
		m.streams.Store(name, t)
		m.startMu.Unlock()
		log.Warn().Err(err).Str("stream", name).Str("path", path).Msg("Failed to open binlog")
		p.Set(summaryOf(t.st), err)
		return p.Future()
	}

	runCtx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	m.streams.Store(name, t)
	m.startMu.Unlock()

	telemetry.ActiveStreams.Inc()
	log.Info().
		Str("stream", name).
		Str("session", t.st.Session).
		Str("path", path).
		Uint64("position", pos).
		Msg("Binlog stream started")

	m.wg.Go(func() {
		defer cancel()
		defer telemetry.ActiveStreams.Dec()
		err := m.run(runCtx, t, src, pos)
		st := t.snapshot()
		if err != nil && st.State == StateFailed {
			log.Warn().Err(err).Str("stream", name).Uint64("position", st.Position).Msg("Binlog stream failed")
		} else {
			log.Info().
				Str("stream", name).
				Str("state", string(st.State)).
				Uint64("events", st.Events).
				Uint64("position", st.Position).
				Msg("Binlog stream finished")
		}
		p.Set(summaryOf(st), err)
	})
	return p.Future()
}

func summaryOf(s Status) Summary {
	return Summary{
		Name:     s.Name,
		Session:  s.Session,
		Path:     s.Path,
		Position: s.Position,
		Events:   s.Events,
		State:    s.State,
	}
}

func (m *Manager) newReader(name string, src source.Source) *binlog.Reader {
	opts := binlog.ReaderOptions{
		Name:            name,
		MaxEventSize:    m.opts.MaxEventSize,
		SkipChecksum:    !m.opts.VerifyChecksum,
		ShrinkThreshold: m.opts.ShrinkThreshold,
	}
	if m.opts.Keyring != nil {
		opts.Crypto = crypt.NewData(m.opts.Keyring)
	}
	return binlog.NewReader(src, opts)
}

// run reads until the source ends, the context is cancelled, or an error
// occurs. Every path it returns through leaves a terminal state in t.
func (m *Manager) run(ctx context.Context, t *tracker, src source.Source, startPos uint64) error {
	name := t.snapshot().Name
	path := t.snapshot().Path
	reader := m.newReader(name, src)
	defer func() {
		reader.Close()
		src.Close()
	}()

	finish := func(state State, cause error) error {
		t.update(func(s *Status) {
			s.State = state
			if cause != nil {
				s.LastError = cause.Error()
			}
		})
		return cause
	}

	if startPos > source.MagicLen {
		if err := m.resume(reader, src, startPos); err != nil {
			return finish(StateFailed, err)
		}
		t.update(func(s *Status) { s.Position = startPos })
	}

	var limiter *rate.Limiter
	if m.opts.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(m.opts.RateLimit), max(m.opts.RateBurst, 1))
	}
	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = m.opts.FollowPoll
	poll.MaxInterval = m.opts.FollowMaxBackoff

	for {
		if ctx.Err() != nil {
			return finish(StateStopped, nil)
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return finish(StateStopped, nil)
			}
		}

		start := reader.Position()
		ev, err := reader.ReadEvent()
		if err != nil {
			kind := binlog.KindOf(err)
			atTail := kind == binlog.ReadEOF || kind == binlog.TruncEvent
			seeker, seekable := src.(source.Seeker)
			if m.opts.Follow && atTail && seekable {
				if err := seeker.SeekTo(start); err != nil {
					return finish(StateFailed, err)
				}
				t.update(func(s *Status) { s.State = StateFollowing })
				telemetry.FollowPollsTotal.Inc()
				wait := poll.NextBackOff()
				if wait == backoff.Stop {
					wait = m.opts.FollowMaxBackoff
				}
				select {
				case <-ctx.Done():
					return finish(StateStopped, nil)
				case <-time.After(wait):
				}
				continue
			}
			if kind == binlog.ReadEOF {
				return finish(StateDone, nil)
			}
			return finish(StateFailed, err)
		}
		poll.Reset()

		end := reader.Position()
		t.update(func(s *Status) {
			s.Position = end
			s.Events++
			s.State = StateRunning
		})
		if err := m.handler(ctx, name, path, start, ev); err != nil {
			return finish(StateFailed, fmt.Errorf("handler: %w", err))
		}

		if rot, ok := ev.(*binlog.Rotate); ok && m.opts.Follow && rot.Header().LogPos != 0 {
			nextPath := filepath.Join(filepath.Dir(path), filepath.Base(rot.NextFile))
			next, err := m.opts.Open(nextPath)
			if err != nil {
				return finish(StateFailed, fmt.Errorf("open rotated binlog %s: %w", nextPath, err))
			}
			log.Info().Str("stream", name).Str("from", path).Str("to", nextPath).Msg("Following binlog rotation")
			reader.Close()
			src.Close()
			src = next
			path = nextPath
			reader = m.newReader(name, src)
			if rot.Position > source.MagicLen {
				if err := m.resume(reader, src, rot.Position); err != nil {
					return finish(StateFailed, err)
				}
			}
			t.update(func(s *Status) {
				s.Path = path
				s.Position = reader.Position()
			})
		}
	}
}

// resume reads the format description at the head of the file and then moves
// to pos.
func (m *Manager) resume(reader *binlog.Reader, src source.Source, pos uint64) error {
	seeker, ok := src.(source.Seeker)
	if !ok {
		return fmt.Errorf("resume at %d: %w", pos, source.ErrNotSeekable)
	}
	ev, err := reader.ReadEvent()
	if err != nil {
		return fmt.Errorf("read format description: %w", err)
	}
	if ev.Type() != binlog.FormatDescriptionEvent {
		log.Warn().Stringer("type", ev.Type()).Msg("Binlog does not open with a format description")
	}
	if pos < reader.Position() {
		return fmt.Errorf("resume position %d lies inside the format description", pos)
	}
	return seeker.SeekTo(pos)
}

// Stop cancels a running stream. It reports whether the stream was active.
func (m *Manager) Stop(name string) bool {
	t, ok := m.streams.Load(name)
	if !ok || !t.active() || t.cancel == nil {
		return false
	}
	t.cancel()
	return true
}

// StopAll cancels every stream and waits for them to finish.
func (m *Manager) StopAll() {
	m.streams.Range(func(_ string, t *tracker) bool {
		if t.cancel != nil {
			t.cancel()
		}
		return true
	})
	m.Wait()
}

// Wait blocks until every started stream has finished.
func (m *Manager) Wait() {
	m.wg.Wait()
}

// Status returns the snapshot of one stream.
func (m *Manager) Status(name string) (Status, bool) {
	t, ok := m.streams.Load(name)
	if !ok {
		return Status{}, false
	}
	return t.snapshot(), true
}

// Statuses returns every stream ordered by name.
func (m *Manager) Statuses() []Status {
	var out []Status
	m.streams.Range(func(_ string, t *tracker) bool {
		out = append(out, t.snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// StreamStats feeds the telemetry collector.
func (m *Manager) StreamStats() []telemetry.StreamStat {
	statuses := m.Statuses()
	out := make([]telemetry.StreamStat, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, telemetry.StreamStat{
			Name:     s.Name,
			Position: s.Position,
			Events:   s.Events,
			Running:  s.State == StateRunning || s.State == StateFollowing,
		})
	}
	return out
}
