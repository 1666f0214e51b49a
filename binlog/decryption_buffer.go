package binlog

import "errors"

// ErrBufferAlloc is returned when the decryption buffer cannot obtain storage.
var ErrBufferAlloc = errors.New("decryption buffer allocation failed")

// DecryptionBuffer is scratch space for decrypting one event at a time. It
// grows on demand and halves after shrinkThreshold consecutive requests below
// half its size.
//
// A DecryptionBuffer belongs to exactly one stream and is not safe for
// concurrent use.
type DecryptionBuffer struct {
	buf             []byte
	smallRequests   int
	shrinkThreshold int
	alloc           func(n int) []byte
}

// NewDecryptionBuffer returns an empty buffer. A threshold <= 0 selects
// DefaultShrinkThreshold.
func NewDecryptionBuffer(shrinkThreshold int) *DecryptionBuffer {
	if shrinkThreshold <= 0 {
		shrinkThreshold = DefaultShrinkThreshold
	}
	return &DecryptionBuffer{
		shrinkThreshold: shrinkThreshold,
		alloc:           func(n int) []byte { return make([]byte, n) },
	}
}

// SetSize makes at least n bytes available through Data.
func (d *DecryptionBuffer) SetSize(n int) error {
	size := len(d.buf)
	if n == size {
		return nil
	}
	if n > size {
		d.smallRequests = 0
		return d.resize(n)
	}

	if n >= size/2 {
		d.smallRequests = 0
		return nil
	}
	d.smallRequests++
	if d.smallRequests < d.shrinkThreshold {
		return nil
	}
	if err := d.resize(size / 2); err != nil {
		return err
	}
	d.smallRequests = 0
	return nil
}

func (d *DecryptionBuffer) resize(n int) error {
	clear(d.buf)
	d.buf = nil
	if n == 0 {
		return nil
	}
	b := d.alloc(n)
	if len(b) < n {
		return ErrBufferAlloc
	}
	d.buf = b[:n]
	return nil
}

// Data returns the current storage. Its length is the buffer capacity, which
// may exceed the last size requested.
func (d *DecryptionBuffer) Data() []byte {
	return d.buf
}

// Size is the current capacity in bytes.
func (d *DecryptionBuffer) Size() int {
	return len(d.buf)
}

// SmallRequests is the current run of requests below half the capacity.
func (d *DecryptionBuffer) SmallRequests() int {
	return d.smallRequests
}

// Release zeroes and drops the storage.
func (d *DecryptionBuffer) Release() {
	_ = d.resize(0)
	d.smallRequests = 0
}
