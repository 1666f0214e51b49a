package telemetry

// Histogram bucket definitions
var (
	// DecodeBuckets covers per-event read and deserialize latency.
	DecodeBuckets = []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1}

	// EventSizeBuckets spans heartbeat-sized events up to large row batches.
	EventSizeBuckets = []float64{32, 128, 512, 2048, 8192, 32768, 131072, 524288, 2097152, 8388608}

	// PublishBuckets for sink round trips.
	PublishBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5}
)

// Decoder Metrics
var (
	// EventsDecodedTotal counts decoded events by type name
	EventsDecodedTotal CounterVec = noopCounterVec{}

	// ReadErrorsTotal counts failed reads by error kind
	ReadErrorsTotal CounterVec = noopCounterVec{}

	// EventBytesTotal counts raw event bytes read
	EventBytesTotal Counter = NoopStat{}

	// EventSizeBytes measures the declared length of each event
	EventSizeBytes Histogram = NoopStat{}

	// DecodeDurationSeconds measures read plus deserialize time per event
	DecodeDurationSeconds Histogram = NoopStat{}

	// DecryptionBufferBytes tracks scratch buffer capacity per stream
	DecryptionBufferBytes GaugeVec = noopGaugeVec{}

	// FormatDescriptionsTotal counts context replacements
	FormatDescriptionsTotal Counter = NoopStat{}
)

// Stream Metrics
var (
	// ActiveStreams tracks streams currently being read
	ActiveStreams Gauge = NoopStat{}

	// StreamPosition tracks the byte offset each stream has consumed up to
	StreamPosition GaugeVec = noopGaugeVec{}

	// StreamEvents tracks events handled per stream
	StreamEvents GaugeVec = noopGaugeVec{}

	// FollowPollsTotal counts tail polls that found no new event
	FollowPollsTotal Counter = NoopStat{}
)

// Publisher Metrics
var (
	// RecordsPublishedTotal counts publish attempts by sink and result
	RecordsPublishedTotal CounterVec = noopCounterVec{}

	// PublishDurationSeconds measures sink publish latency
	PublishDurationSeconds HistogramVec = noopHistogramVec{}

	// DuplicateRecordsTotal counts records suppressed as duplicates
	DuplicateRecordsTotal Counter = NoopStat{}

	// PublishLogSeq tracks the newest sequence in the publish log
	PublishLogSeq Gauge = NoopStat{}
)

// InitMetrics initializes all Prometheus metrics.
// Must be called after InitializeTelemetry().
func InitMetrics() {
	EventsDecodedTotal = NewCounterVec(
		"decoder", "events_decoded_total",
		"Events decoded by type",
		[]string{"type"},
	)
	ReadErrorsTotal = NewCounterVec(
		"decoder", "read_errors_total",
		"Failed event reads by error kind",
		[]string{"kind"},
	)
	EventBytesTotal = NewCounter(
		"decoder", "event_bytes_total",
		"Raw event bytes read",
	)
	EventSizeBytes = NewHistogram(
		"decoder", "event_size_bytes",
		"Declared event length in bytes",
		EventSizeBuckets,
	)
	DecodeDurationSeconds = NewHistogram(
		"decoder", "decode_duration_seconds",
		"Time to read and deserialize one event",
		DecodeBuckets,
	)
	DecryptionBufferBytes = NewGaugeVec(
		"decoder", "decryption_buffer_bytes",
		"Decryption scratch buffer capacity",
		[]string{"stream"},
	)
	FormatDescriptionsTotal = NewCounter(
		"decoder", "format_descriptions_total",
		"Format description events applied",
	)

	ActiveStreams = NewGauge(
		"stream", "active_streams",
		"Streams currently being read",
	)
	StreamPosition = NewGaugeVec(
		"stream", "position_bytes",
		"Byte offset consumed per stream",
		[]string{"stream"},
	)
	StreamEvents = NewGaugeVec(
		"stream", "events",
		"Events handled per stream",
		[]string{"stream"},
	)
	FollowPollsTotal = NewCounter(
		"stream", "follow_polls_total",
		"Tail polls that found no new event",
	)

	RecordsPublishedTotal = NewCounterVec(
		"publisher", "records_published_total",
		"Publish attempts by sink and result",
		[]string{"sink", "result"},
	)
	PublishDurationSeconds = NewHistogramVec(
		"publisher", "publish_duration_seconds",
		"Sink publish latency",
		[]string{"sink"},
		PublishBuckets,
	)
	DuplicateRecordsTotal = NewCounter(
		"publisher", "duplicate_records_total",
		"Records suppressed as duplicates",
	)
	PublishLogSeq = NewGauge(
		"publisher", "log_seq",
		"Newest sequence in the publish log",
	)
}
