package sink

import (
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/maxpert/binlogstream/cfg"
	"github.com/maxpert/binlogstream/publisher"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultKafkaConfig(t *testing.T) {
	config := DefaultKafkaConfig([]string{"localhost:9092", "localhost:9093"})
	assert.Len(t, config.Brokers, 2)
	assert.Equal(t, DefaultKafkaBatchSize, config.BatchSize)
	assert.Equal(t, int64(1<<20), config.BatchBytes)
	assert.Equal(t, kafka.RequireAll, config.RequiredAcks)
	assert.True(t, config.AutoCreateTopics)
	assert.Equal(t, DefaultKafkaWriteTimeout, config.WriteTimeout)
}

func TestNewKafkaSink(t *testing.T) {
	s, err := NewKafkaSink(KafkaConfig{
		Brokers:      []string{"localhost:9092"},
		BatchSize:    50,
		RequiredAcks: kafka.RequireOne,
	})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 50, s.writer.BatchSize)
	assert.Equal(t, int64(DefaultKafkaBatchBytes), s.writer.BatchBytes)
	assert.Equal(t, kafka.RequireOne, s.writer.RequiredAcks)
	assert.False(t, s.writer.Async)
	assert.IsType(t, &kafka.Hash{}, s.writer.Balancer)
	assert.Equal(t, DefaultKafkaWriteTimeout, s.timeout)

	_, err = NewKafkaSink(KafkaConfig{})
	assert.Error(t, err)
}

func TestSinkFactories(t *testing.T) {
	_, err := publisher.NewRegistry(publisher.RegistryConfig{
		DataDir:     t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "n", Type: "nats", Format: "json"}},
	})
	assert.ErrorContains(t, err, "nats_url")

	_, err = publisher.NewRegistry(publisher.RegistryConfig{
		DataDir:     t.TempDir(),
		SinkConfigs: []cfg.SinkConfiguration{{Name: "q", Type: "sqlite", Format: "json"}},
	})
	assert.ErrorContains(t, err, "sqlite_path")
}

func TestStreamName(t *testing.T) {
	assert.Equal(t, "binlog_primary_shop", streamName("binlog.primary.shop"))
	assert.Equal(t, "a_b_c", streamName("a*b>c"))
}

func TestSQLiteSink(t *testing.T) {
	s, err := NewSQLiteSink(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	defer s.Close()

	payload := []byte{0x00, 0x27, 0xff, 'x'}
	require.NoError(t, s.Publish("binlog.primary", "primary:binlog.000001:4", payload))
	require.NoError(t, s.Publish("binlog.primary", "primary:binlog.000001:90", []byte("b")))
	require.NoError(t, s.Publish("binlog.replica", "replica:binlog.000001:4", []byte("c")))

	// A redelivery is ignored
	require.NoError(t, s.Publish("binlog.primary", "primary:binlog.000001:4", []byte("again")))

	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	rows, err := s.Rows("binlog.primary")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "primary:binlog.000001:4", rows[0].Key)
	assert.Equal(t, payload, rows[0].Value)
	assert.WithinDuration(t, time.Now(), time.UnixMilli(rows[0].PublishedAt), time.Minute)
}

func TestSQLiteSinkReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	s, err := NewSQLiteSink(path)
	require.NoError(t, err)
	require.NoError(t, s.Publish("t", "k", []byte("v")))
	require.NoError(t, s.Close())

	s, err = NewSQLiteSink(path)
	require.NoError(t, err)
	defer s.Close()
	n, err := s.Count()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestMockSink(t *testing.T) {
	m := &MockSink{}
	require.NoError(t, m.Publish("topic", "k1", []byte("v1")))
	require.NoError(t, m.Publish("topic", "k2", nil))

	msgs := m.Snapshot()
	require.Len(t, msgs, 2)
	assert.Equal(t, MockMessage{Topic: "topic", Key: "k1", Value: []byte("v1")}, msgs[0])
	assert.Nil(t, msgs[1].Value)

	m.Reset()
	assert.Empty(t, m.Snapshot())

	failure := errors.New("publish failed")
	m.PublishErr = failure
	assert.ErrorIs(t, m.Publish("topic", "k", nil), failure)
	assert.Empty(t, m.Snapshot())

	require.NoError(t, m.Close())
	assert.True(t, m.Closed)
}

func TestMockSinkConcurrent(t *testing.T) {
	m := &MockSink{}
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Publish("topic", "key", []byte("value"))
		}()
	}
	wg.Wait()
	assert.Len(t, m.Snapshot(), 10)
}
