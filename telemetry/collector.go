package telemetry

import (
	"sync"
	"time"
)

// StreamStat is a point-in-time view of one stream.
type StreamStat struct {
	Name     string
	Position uint64
	Events   uint64
	Running  bool
}

// StreamLister is implemented by whatever owns the running streams.
type StreamLister interface {
	StreamStats() []StreamStat
}

// MetricsCollector periodically collects stream stats and updates gauges
type MetricsCollector struct {
	lister   StreamLister
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewMetricsCollector polls lister every interval once started
func NewMetricsCollector(lister StreamLister, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		lister:   lister,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start collects once immediately, then on every tick until Stop
func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()

	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.lister == nil {
		return
	}

	running := 0
	for _, s := range mc.lister.StreamStats() {
		StreamPosition.With(s.Name).Set(float64(s.Position))
		StreamEvents.With(s.Name).Set(float64(s.Events))
		if s.Running {
			running++
		}
	}
	ActiveStreams.Set(float64(running))
}
