package publisher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxpert/binlogstream/binlog"
	"github.com/maxpert/binlogstream/cfg"
	"github.com/rs/zerolog/log"
)

var ErrRegistryStopped = errors.New("publisher registry not running")

const drainPollInterval = 50 * time.Millisecond

// RegistryConfig configures the publisher
type RegistryConfig struct {
	DataDir       string // Publish log lives in {DataDir}/publish_log
	NodeID        uint64
	Dedup         bool
	DedupCapacity uint
	SinkConfigs   []cfg.SinkConfiguration
}

// Registry owns the publish log and one worker per sink. Decoded events
// enter through Handle.
type Registry struct {
	log       *PublishLog
	converter *Converter
	dedup     *DuplicateFilter
	workers   []*Worker
	running   atomic.Bool
	mu        sync.Mutex
	// dedupMu keeps check, append and record of a batch together
	dedupMu sync.Mutex
}

// SinkStatus describes one worker
type SinkStatus struct {
	Name    string `json:"name"`
	Cursor  uint64 `json:"cursor"`
	Running bool   `json:"running"`
}

// RegistryStats is served by the admin API
type RegistryStats struct {
	Log   LogStats     `json:"log"`
	Sinks []SinkStatus `json:"sinks"`
}

// NewRegistry opens the publish log and creates one worker per configured sink
func NewRegistry(config RegistryConfig) (*Registry, error) {
	if config.DataDir == "" {
		return nil, fmt.Errorf("data directory is required")
	}

	converter, err := NewConverter(config.NodeID, 0)
	if err != nil {
		return nil, err
	}
	pubLog, err := OpenPublishLog(filepath.Join(config.DataDir, "publish_log"))
	if err != nil {
		return nil, err
	}

	r := &Registry{
		log:       pubLog,
		converter: converter,
		workers:   make([]*Worker, 0, len(config.SinkConfigs)),
	}
	if config.Dedup {
		r.dedup = NewDuplicateFilter(config.DedupCapacity)
	}

	for _, sc := range config.SinkConfigs {
		if err := r.AddSink(sc); err != nil {
			for _, w := range r.workers {
				w.config.Sink.Close()
			}
			pubLog.Close()
			return nil, fmt.Errorf("add sink %q: %w", sc.Name, err)
		}
	}

	log.Info().Int("sinks", len(r.workers)).Bool("dedup", config.Dedup).Msg("Publisher registry initialized")
	return r, nil
}

// AddSink builds the sink, transformer and filter named by config
func (r *Registry) AddSink(config cfg.SinkConfiguration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snk, err := createSink(config)
	if err != nil {
		return fmt.Errorf("create sink: %w", err)
	}
	trans, err := createTransformer(config.Format)
	if err != nil {
		snk.Close()
		return fmt.Errorf("create transformer: %w", err)
	}
	filter, err := NewGlobFilter(config.FilterEvents, config.FilterDatabases)
	if err != nil {
		snk.Close()
		return fmt.Errorf("create filter: %w", err)
	}

	worker, err := NewWorker(WorkerConfig{
		Name:            config.Name,
		Log:             r.log,
		Sink:            snk,
		Transformer:     trans,
		Filter:          filter,
		TopicPrefix:     config.TopicPrefix,
		BatchSize:       config.BatchSize,
		PollInterval:    time.Duration(config.PollIntervalMS) * time.Millisecond,
		RetryInitial:    time.Duration(config.RetryInitialMS) * time.Millisecond,
		RetryMax:        time.Duration(config.RetryMaxMS) * time.Millisecond,
		RetryMultiplier: config.RetryMultiplier,
	})
	if err != nil {
		snk.Close()
		return fmt.Errorf("create worker: %w", err)
	}
	r.workers = append(r.workers, worker)
	if r.running.Load() {
		worker.Start()
	}

	log.Info().Str("sink", config.Name).Str("type", config.Type).Str("format", config.Format).Msg("Added sink")
	return nil
}

func (r *Registry) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.running.Load() {
		return fmt.Errorf("registry already running")
	}
	for _, w := range r.workers {
		w.Start()
	}
	r.running.Store(true)
	return nil
}

// Stop stops every worker, closes the sinks and the publish log
func (r *Registry) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running.Swap(false) {
		return
	}
	for _, w := range r.workers {
		w.Stop()
		if err := w.config.Sink.Close(); err != nil {
			log.Warn().Err(err).Str("sink", w.Name()).Msg("Failed to close sink")
		}
	}
	if err := r.log.Close(); err != nil {
		log.Warn().Err(err).Msg("Failed to close publish log")
	}
	log.Info().Msg("Publisher registry stopped")
}

// Append stores records for every sink. With deduplication on, records
// already stored are dropped, and fingerprints are only recorded once the
// append has succeeded so a failed append can be replayed.
func (r *Registry) Append(records []EventRecord) error {
	if !r.running.Load() {
		return ErrRegistryStopped
	}
	if r.dedup == nil {
		return r.log.Append(records)
	}

	r.dedupMu.Lock()
	defer r.dedupMu.Unlock()

	kept := make([]EventRecord, 0, len(records))
	batch := make(map[uint64]struct{}, len(records))
	for _, rec := range records {
		fp := Fingerprint(rec)
		if _, dup := batch[fp]; dup || r.dedup.Contains(rec) {
			continue
		}
		batch[fp] = struct{}{}
		kept = append(kept, rec)
	}
	if err := r.log.Append(kept); err != nil {
		return err
	}
	for _, rec := range kept {
		r.dedup.Add(rec)
	}
	return nil
}

// Handle converts and appends one decoded event. Its signature matches the
// stream manager's handler.
func (r *Registry) Handle(_ context.Context, stream, path string, offset uint64, ev binlog.Event) error {
	return r.Append([]EventRecord{r.converter.Convert(stream, path, offset, ev)})
}

// Drain waits until every sink's cursor has reached the last appended record
// or ctx is done.
func (r *Registry) Drain(ctx context.Context) error {
	ticker := time.NewTicker(drainPollInterval)
	defer ticker.Stop()
	for {
		stats := r.Stats()
		behind := 0
		for _, s := range stats.Sinks {
			if s.Cursor < stats.Log.LastSeq {
				behind++
			}
		}
		if behind == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("%d sinks behind seq %d: %w", behind, stats.Log.LastSeq, ctx.Err())
		case <-ticker.C:
		}
	}
}

// Stats reports the log sequence and every sink's cursor
func (r *Registry) Stats() RegistryStats {
	r.mu.Lock()
	sinks := make([]SinkStatus, 0, len(r.workers))
	for _, w := range r.workers {
		sinks = append(sinks, SinkStatus{Name: w.Name(), Cursor: w.Cursor(), Running: w.Running()})
	}
	r.mu.Unlock()
	sort.Slice(sinks, func(i, j int) bool { return sinks[i].Name < sinks[j].Name })
	return RegistryStats{Log: r.log.Stats(), Sinks: sinks}
}

// SinkFactory creates a Sink from its configuration
type SinkFactory func(cfg.SinkConfiguration) (Sink, error)

// TransformerFactory creates a Transformer
type TransformerFactory func() Transformer

var (
	sinkFactories        = make(map[string]SinkFactory)
	transformerFactories = make(map[string]TransformerFactory)
	factoryMu            sync.RWMutex
)

// RegisterSink registers a sink factory for a type
func RegisterSink(sinkType string, factory SinkFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	sinkFactories[sinkType] = factory
}

// RegisterTransformer registers a transformer factory for a format
func RegisterTransformer(format string, factory TransformerFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	transformerFactories[format] = factory
}

func createSink(config cfg.SinkConfiguration) (Sink, error) {
	factoryMu.RLock()
	factory, ok := sinkFactories[config.Type]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown sink type: %s", config.Type)
	}
	return factory(config)
}

func createTransformer(format string) (Transformer, error) {
	factoryMu.RLock()
	factory, ok := transformerFactories[format]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown format: %s", format)
	}
	return factory(), nil
}
