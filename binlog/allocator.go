package binlog

// Allocator hands out raw event buffers. Allocate returns size+1 bytes, the
// extra byte being a zero pad some body parsers scan up to, or nil on failure.
type Allocator interface {
	Allocate(size int) []byte
	Deallocate(buf []byte)
}

// DefaultAllocator allocates from the Go heap.
type DefaultAllocator struct {
	Hooks Hooks
}

// Allocate returns a zeroed size+1 byte slice, or nil when the hooks
// simulate a failure or size is negative.
func (a DefaultAllocator) Allocate(size int) []byte {
	if a.Hooks != nil && a.Hooks.SimulateAllocateFailure() {
		return nil
	}
	if size < 0 {
		return nil
	}
	return make([]byte, size+1)
}

// Deallocate zeroes buf so decrypted payloads do not linger until the next GC.
func (DefaultAllocator) Deallocate(buf []byte) {
	clear(buf)
}
