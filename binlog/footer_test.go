package binlog

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitServerVersion(t *testing.T) {
	tests := []struct {
		in   string
		want [3]uint8
	}{
		{"8.0.14", [3]uint8{8, 0, 14}},
		{"5.6.1-log", [3]uint8{5, 6, 1}},
		{"5.7", [3]uint8{5, 7, 0}},
		{"10.4.12-MariaDB", [3]uint8{10, 4, 12}},
		{"8", [3]uint8{}},
		{"256.0.0", [3]uint8{}},
		{"5.300.1", [3]uint8{}},
		{"", [3]uint8{}},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			buf := make([]byte, stServerVerLen)
			copy(buf, tt.in)
			assert.Equal(t, tt.want, splitServerVersion(buf))
		})
	}
}

func fdeWithVersion(version string, alg ChecksumAlg) []byte {
	fd := NewFormatDescription(BinlogVersion, version, alg)
	return NewEventBuilder(ChecksumOff).FormatDescription(fd)
}

func TestChecksumAlgFromFDE(t *testing.T) {
	assert.Equal(t, ChecksumCRC32, ChecksumAlgFromFDE(fdeWithVersion("8.0.14", ChecksumCRC32)))
	assert.Equal(t, ChecksumOff, ChecksumAlgFromFDE(fdeWithVersion("5.6.1", ChecksumOff)))
	assert.Equal(t, ChecksumUndef, ChecksumAlgFromFDE(fdeWithVersion("5.5.40", ChecksumUndef)))
	assert.Equal(t, ChecksumUndef, ChecksumAlgFromFDE(make([]byte, LogEventMinimalHeaderLen+10)))
}

func TestChecksumRoundTrip(t *testing.T) {
	b := NewEventBuilder(ChecksumCRC32)
	ev := b.Event(QueryEvent, QueryBody(1, "db", "SELECT 1"))
	assert.False(t, checksumMismatch(ev, ChecksumCRC32))
	assert.False(t, checksumMismatch(ev, ChecksumOff))
	assert.False(t, checksumMismatch(ev, ChecksumUndef))

	want := binary.LittleEndian.Uint32(ev[len(ev)-ChecksumLen:])
	assert.Equal(t, want, ComputeChecksum(ev))
}

func TestChecksumDetectsEverySingleByteMutation(t *testing.T) {
	b := NewEventBuilder(ChecksumCRC32)
	ev := b.Event(QueryEvent, QueryBody(42, "shop", "UPDATE t SET a = 1"))
	for i := LogEventMinimalHeaderLen; i < len(ev)-ChecksumLen; i++ {
		mutated := append([]byte(nil), ev...)
		mutated[i]++
		require.True(t, checksumMismatch(mutated, ChecksumCRC32), "byte %d", i)
	}
}

func TestFDEChecksumIgnoresInUseFlag(t *testing.T) {
	ev := fdeWithVersion("8.0.14", ChecksumCRC32)
	require.False(t, checksumMismatch(ev, ChecksumCRC32))

	inUse := append([]byte(nil), ev...)
	binary.LittleEndian.PutUint16(inUse[FlagsOffset:], FlagBinlogInUse)
	assert.False(t, checksumMismatch(inUse, ChecksumCRC32))
	assert.Equal(t, FlagBinlogInUse, binary.LittleEndian.Uint16(inUse[FlagsOffset:]), "buffer must not be mutated")

	// Other events include the flag byte in their checksum.
	q := NewEventBuilder(ChecksumCRC32).Event(XidEvent, XidBody(9))
	q[FlagsOffset] |= byte(FlagBinlogInUse)
	assert.True(t, checksumMismatch(q, ChecksumCRC32))
}

func TestChecksumShortBufferFails(t *testing.T) {
	assert.True(t, checksumMismatch(make([]byte, LogEventMinimalHeaderLen), ChecksumCRC32))
	assert.Equal(t, uint32(0), ComputeChecksum(make([]byte, 3)))
}
