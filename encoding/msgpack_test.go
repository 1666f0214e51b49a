package encoding

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	Seq    uint64 `msgpack:"seq"`
	Stream string `msgpack:"stream"`
	CRC    uint32 `msgpack:"crc"`
	Extra  string `msgpack:"extra,omitempty"`
}

func TestRoundTripStruct(t *testing.T) {
	in := sample{Seq: 1 << 40, Stream: "primary", CRC: 0xdeadbeef}
	data, err := Marshal(&in)
	require.NoError(t, err)

	var out sample
	require.NoError(t, Unmarshal(data, &out))
	assert.Equal(t, in, out)
}

func TestCompactInts(t *testing.T) {
	small, err := Marshal(uint64(5))
	require.NoError(t, err)
	assert.Len(t, small, 1, "positive fixint")
}

func TestMarshalResultIsNotShared(t *testing.T) {
	a, err := Marshal("first")
	require.NoError(t, err)
	b, err := Marshal("second")
	require.NoError(t, err)

	var s string
	require.NoError(t, Unmarshal(a, &s))
	assert.Equal(t, "first", s)
	require.NoError(t, Unmarshal(b, &s))
	assert.Equal(t, "second", s)
}

func TestUnmarshalInterfaceKeepsStrings(t *testing.T) {
	data, err := Marshal(map[string]any{"db": "shop"})
	require.NoError(t, err)

	var out any
	require.NoError(t, Unmarshal(data, &out))
	m, ok := out.(map[string]any)
	require.True(t, ok)
	assert.IsType(t, "", m["db"])
}

func TestUnmarshalGarbage(t *testing.T) {
	var out sample
	assert.Error(t, Unmarshal([]byte{0xc1}, &out))
}

func TestMarshalConcurrent(t *testing.T) {
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				in := sample{Seq: uint64(i*1000 + j), Stream: "s"}
				data, err := Marshal(&in)
				if !assert.NoError(t, err) {
					return
				}
				var out sample
				if assert.NoError(t, Unmarshal(data, &out)) {
					assert.Equal(t, in, out)
				}
			}
		}(i)
	}
	wg.Wait()
}
