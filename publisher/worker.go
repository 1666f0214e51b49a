package publisher

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/maxpert/binlogstream/telemetry"
	"github.com/rs/zerolog/log"
)

const (
	DefaultBatchSize       = 100
	DefaultPollInterval    = 100 * time.Millisecond
	DefaultRetryInitial    = 100 * time.Millisecond
	DefaultRetryMax        = 30 * time.Second
	DefaultRetryMultiplier = 2.0
	// DefaultMaxRetries bounds publish attempts per record
	DefaultMaxRetries = 100
)

var errWorkerStopped = errors.New("worker stopped")

// WorkerConfig configures one sink's publishing loop
type WorkerConfig struct {
	Name            string      // Sink name, also the cursor name
	Log             *PublishLog // Records to publish
	Sink            Sink
	Transformer     Transformer
	Filter          Filter
	TopicPrefix     string // e.g. "binlog"
	BatchSize       int
	PollInterval    time.Duration
	RetryInitial    time.Duration
	RetryMax        time.Duration
	RetryMultiplier float64
	MaxRetries      int
}

// Worker tails the publish log and delivers records to its sink at least once
type Worker struct {
	config      WorkerConfig
	cursor      atomic.Uint64
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     atomic.Bool
	lifecycleMu sync.Mutex
}

// NewWorker validates config and positions the worker at its saved cursor
func NewWorker(config WorkerConfig) (*Worker, error) {
	switch {
	case config.Name == "":
		return nil, fmt.Errorf("worker name is required")
	case config.Log == nil:
		return nil, fmt.Errorf("publish log is required")
	case config.Sink == nil:
		return nil, fmt.Errorf("sink is required")
	case config.Transformer == nil:
		return nil, fmt.Errorf("transformer is required")
	case config.Filter == nil:
		return nil, fmt.Errorf("filter is required")
	}

	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RetryInitial <= 0 {
		config.RetryInitial = DefaultRetryInitial
	}
	if config.RetryMax <= 0 {
		config.RetryMax = DefaultRetryMax
	}
	if config.RetryMultiplier <= 0 {
		config.RetryMultiplier = DefaultRetryMultiplier
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}

	cursor, err := config.Log.Cursor(config.Name)
	if err != nil {
		return nil, fmt.Errorf("load cursor: %w", err)
	}
	if cursor == 0 {
		if cursor, err = config.Log.Earliest(); err != nil {
			return nil, fmt.Errorf("find earliest record: %w", err)
		}
	}

	w := &Worker{config: config, stopCh: make(chan struct{}), doneCh: make(chan struct{})}
	w.cursor.Store(cursor)
	return w, nil
}

// Name is the sink name
func (w *Worker) Name() string { return w.config.Name }

// Cursor is the last sequence handled
func (w *Worker) Cursor() uint64 { return w.cursor.Load() }

// Running reports whether the poll loop is active
func (w *Worker) Running() bool { return w.running.Load() }

// Start launches the poll loop
func (w *Worker) Start() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if w.running.Load() {
		return
	}
	w.running.Store(true)
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})

	log.Info().Str("sink", w.config.Name).Uint64("cursor", w.cursor.Load()).Msg("Starting publisher worker")
	go w.pollLoop()
}

// Stop waits for the in-flight record to finish or give up
func (w *Worker) Stop() {
	w.lifecycleMu.Lock()
	defer w.lifecycleMu.Unlock()

	if !w.running.Load() {
		return
	}
	close(w.stopCh)
	<-w.doneCh
	w.running.Store(false)
	log.Info().Str("sink", w.config.Name).Msg("Publisher worker stopped")
}

func (w *Worker) pollLoop() {
	defer close(w.doneCh)

	for {
		select {
		case <-w.stopCh:
			return
		default:
		}

		records, err := w.config.Log.ReadFrom(w.cursor.Load(), w.config.BatchSize)
		if err != nil {
			log.Error().Err(err).Str("sink", w.config.Name).Uint64("cursor", w.cursor.Load()).Msg("Failed to read publish log")
			w.sleep(w.config.PollInterval)
			continue
		}
		if len(records) == 0 {
			w.sleep(w.config.PollInterval)
			continue
		}

		for _, rec := range records {
			if err := w.processRecord(rec); err != nil {
				if !errors.Is(err, errWorkerStopped) {
					log.Error().Err(err).Str("sink", w.config.Name).Uint64("seq", rec.SeqNum).Msg("Giving up on record")
				}
				return
			}
			w.cursor.Store(rec.SeqNum)
		}
	}
}

// processRecord publishes rec then advances the cursor. A crash between the
// two redelivers rec on restart.
func (w *Worker) processRecord(rec EventRecord) error {
	if !w.config.Filter.Match(rec.Type, rec.Database) {
		telemetry.RecordsPublishedTotal.With(w.config.Name, "filtered").Inc()
		w.advance(rec.SeqNum)
		return nil
	}

	data, err := w.config.Transformer.Transform(rec)
	if err != nil {
		return fmt.Errorf("transform record: %w", err)
	}
	if err := w.publishWithRetry(w.buildTopic(rec), rec.Key(), data); err != nil {
		return err
	}
	w.advance(rec.SeqNum)
	return nil
}

func (w *Worker) advance(seq uint64) {
	if err := w.config.Log.AdvanceCursor(w.config.Name, seq); err != nil {
		log.Warn().Err(err).Str("sink", w.config.Name).Uint64("seq", seq).Msg("Failed to advance cursor, record may be redelivered")
	}
}

// buildTopic is prefix.stream, plus the database when the record has one
func (w *Worker) buildTopic(rec EventRecord) string {
	topic := rec.Stream
	if rec.Database != "" {
		topic += "." + rec.Database
	}
	if w.config.TopicPrefix != "" {
		topic = w.config.TopicPrefix + "." + topic
	}
	return topic
}

func (w *Worker) publishWithRetry(topic, key string, data []byte) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = w.config.RetryInitial
	b.MaxInterval = w.config.RetryMax
	b.Multiplier = w.config.RetryMultiplier
	b.RandomizationFactor = 0
	b.Reset()

	for attempt := 1; ; attempt++ {
		start := time.Now()
		err := w.config.Sink.Publish(topic, key, data)
		telemetry.PublishDurationSeconds.With(w.config.Name).Observe(time.Since(start).Seconds())
		if err == nil {
			telemetry.RecordsPublishedTotal.With(w.config.Name, "ok").Inc()
			return nil
		}
		telemetry.RecordsPublishedTotal.With(w.config.Name, "error").Inc()

		if attempt >= w.config.MaxRetries {
			return fmt.Errorf("exhausted %d attempts for topic %s: %w", w.config.MaxRetries, topic, err)
		}

		delay := b.NextBackOff()
		log.Warn().Err(err).Str("sink", w.config.Name).Str("topic", topic).Int("attempt", attempt).Dur("retry_delay", delay).Msg("Publish failed, retrying")
		if !w.sleep(delay) {
			return errWorkerStopped
		}
	}
}

// sleep returns false if the worker was stopped first
func (w *Worker) sleep(d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-w.stopCh:
		return false
	case <-timer.C:
		return true
	}
}
