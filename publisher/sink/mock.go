package sink

import (
	"sync"

	"github.com/maxpert/binlogstream/cfg"
	"github.com/maxpert/binlogstream/publisher"
)

// Mocks holds every MockSink created through the "mock" sink type, by name
var Mocks sync.Map

func init() {
	publisher.RegisterSink("mock", func(config cfg.SinkConfiguration) (publisher.Sink, error) {
		m := &MockSink{}
		Mocks.Store(config.Name, m)
		return m, nil
	})
}

// MockSink records messages in memory
type MockSink struct {
	Messages   []MockMessage
	PublishErr error
	Closed     bool
	mu         sync.Mutex
}

// MockMessage is one recorded Publish call
type MockMessage struct {
	Topic string
	Key   string
	Value []byte
}

// Publish records the message, or returns PublishErr when set
func (m *MockSink) Publish(topic, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PublishErr != nil {
		return m.PublishErr
	}
	m.Messages = append(m.Messages, MockMessage{Topic: topic, Key: key, Value: value})
	return nil
}

func (m *MockSink) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Closed = true
	return nil
}

// Snapshot copies the recorded messages
func (m *MockSink) Snapshot() []MockMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockMessage(nil), m.Messages...)
}

// Reset drops the recorded messages
func (m *MockSink) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Messages = nil
}
