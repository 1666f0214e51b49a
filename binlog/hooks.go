package binlog

// Hooks lets tests steer the reader and deserializer into their failure
// paths. Production code uses NoopHooks.
type Hooks interface {
	SimulateAllocateFailure() bool
	SimulateChecksumFailure() bool
	SimulateUnknownIgnorable() bool
	// CorruptEvent may mutate one byte of a fully read event before its
	// checksum is verified.
	CorruptEvent(buf []byte)
}

// NoopHooks disables every fault.
type NoopHooks struct{}

func (NoopHooks) SimulateAllocateFailure() bool  { return false }
func (NoopHooks) SimulateChecksumFailure() bool  { return false }
func (NoopHooks) SimulateUnknownIgnorable() bool { return false }
func (NoopHooks) CorruptEvent([]byte)            {}

func hooksOrNoop(h Hooks) Hooks {
	if h == nil {
		return NoopHooks{}
	}
	return h
}

// corruptible reports whether fault injection may touch events of type t.
// These types drive position bookkeeping and must stay intact.
func corruptible(t EventType) bool {
	switch t {
	case FormatDescriptionEvent, PreviousGtidsEvent, GtidEvent, StartEncryptionEvent:
		return false
	}
	return true
}
