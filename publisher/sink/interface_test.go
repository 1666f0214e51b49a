package sink

import "github.com/maxpert/binlogstream/publisher"

var (
	_ publisher.Sink = (*KafkaSink)(nil)
	_ publisher.Sink = (*NatsSink)(nil)
	_ publisher.Sink = (*SQLiteSink)(nil)
	_ publisher.Sink = (*MockSink)(nil)
)
