package publisher

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *PublishLog {
	t.Helper()
	pl, err := OpenPublishLog(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { pl.Close() })
	return pl
}

func testRecords(n int) []EventRecord {
	out := make([]EventRecord, n)
	for i := range out {
		out[i] = EventRecord{
			Stream:   "primary",
			File:     "binlog.000001",
			Offset:   uint64(4 + i*100),
			Type:     "QUERY_EVENT",
			TypeCode: 2,
			Database: "shop",
		}
	}
	return out
}

func TestPublishLogAppendAndRead(t *testing.T) {
	pl := openTestLog(t)

	records := testRecords(2)
	records[1].Type = "XID_EVENT"
	records[1].XID = 42
	require.NoError(t, pl.Append(records))

	assert.Equal(t, uint64(1), records[0].SeqNum)
	assert.Equal(t, uint64(2), records[1].SeqNum)

	read, err := pl.ReadFrom(0, 10)
	require.NoError(t, err)
	require.Len(t, read, 2)
	assert.Equal(t, records[0], read[0])
	assert.Equal(t, uint64(42), read[1].XID)

	read, err = pl.ReadFrom(1, 10)
	require.NoError(t, err)
	require.Len(t, read, 1)
	assert.Equal(t, uint64(2), read[0].SeqNum)
}

func TestPublishLogReadLimit(t *testing.T) {
	pl := openTestLog(t)
	require.NoError(t, pl.Append(testRecords(10)))

	read, err := pl.ReadFrom(0, 3)
	require.NoError(t, err)
	require.Len(t, read, 3)
	assert.Equal(t, uint64(3), read[2].SeqNum)

	read, err = pl.ReadFrom(8, 0)
	require.NoError(t, err)
	assert.Len(t, read, 2)
}

func TestPublishLogEmpty(t *testing.T) {
	pl := openTestLog(t)

	require.NoError(t, pl.Append(nil))
	read, err := pl.ReadFrom(0, 10)
	require.NoError(t, err)
	assert.Empty(t, read)

	earliest, err := pl.Earliest()
	require.NoError(t, err)
	assert.Zero(t, earliest)
}

func TestPublishLogPersistence(t *testing.T) {
	dir := t.TempDir()

	pl, err := OpenPublishLog(dir)
	require.NoError(t, err)
	require.NoError(t, pl.Append(testRecords(3)))
	require.NoError(t, pl.AdvanceCursor("kafka", 2))
	require.NoError(t, pl.Close())

	pl, err = OpenPublishLog(dir)
	require.NoError(t, err)
	defer pl.Close()

	cursor, err := pl.Cursor("kafka")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), cursor)

	more := testRecords(1)
	require.NoError(t, pl.Append(more))
	assert.Equal(t, uint64(4), more[0].SeqNum)

	stats := pl.Stats()
	assert.Equal(t, uint64(4), stats.LastSeq)
	assert.Equal(t, map[string]uint64{"kafka": 2}, stats.Cursors)
}

func TestPublishLogCleanup(t *testing.T) {
	pl := openTestLog(t)
	require.NoError(t, pl.Append(testRecords(200)))

	require.NoError(t, pl.AdvanceCursor("a", 150))
	require.NoError(t, pl.AdvanceCursor("b", 100))
	pl.cleanup()

	earliest, err := pl.Earliest()
	require.NoError(t, err)
	assert.Equal(t, uint64(99), earliest, "record 100 is kept so the slowest sink can resume")

	read, err := pl.ReadFrom(100, 10)
	require.NoError(t, err)
	require.NotEmpty(t, read)
	assert.Equal(t, uint64(101), read[0].SeqNum)
}

func TestPublishLogClosed(t *testing.T) {
	pl, err := OpenPublishLog(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, pl.Close())

	assert.ErrorIs(t, pl.Append(testRecords(1)), ErrLogClosed)
	_, err = pl.ReadFrom(0, 1)
	assert.ErrorIs(t, err, ErrLogClosed)
	assert.ErrorIs(t, pl.AdvanceCursor("x", 1), ErrLogClosed)
	assert.ErrorIs(t, pl.Close(), ErrLogClosed)
}

func TestPublishLogConcurrentAppend(t *testing.T) {
	pl := openTestLog(t)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			recs := testRecords(5)
			for j := range recs {
				recs[j].Stream = fmt.Sprintf("s%d", i)
			}
			assert.NoError(t, pl.Append(recs))
		}(i)
	}
	wg.Wait()

	read, err := pl.ReadFrom(0, 100)
	require.NoError(t, err)
	require.Len(t, read, 40)
	for i, r := range read {
		assert.Equal(t, uint64(i+1), r.SeqNum)
	}
}

func TestRecordKeyOrdering(t *testing.T) {
	assert.Equal(t, "/rec/00000000000000ff", string(recordKey(255)))
	assert.Less(t, string(recordKey(9)), string(recordKey(10)))
	assert.Equal(t, []byte("/rec0"), prefixUpperBound([]byte(prefixRecord)))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}
