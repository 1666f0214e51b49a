package binlog

import (
	"errors"
	"fmt"
	"io"
	"math"
)

// Source is the byte stream events are framed from. Position is the offset of
// the next byte Read will return.
type Source interface {
	io.Reader
	Position() uint64
}

// CryptoState is the per-stream decryption capability.
type CryptoState interface {
	Enabled() bool
	Init(scheme uint8, keyVersion uint32, nonce []byte) error
	// Decrypt writes the plaintext of src into dst. offset is the low 32 bits
	// of the event's start position in the stream.
	Decrypt(offset uint32, src, dst []byte) error
}

// StreamOptions configures an EventDataStream.
type StreamOptions struct {
	MaxEventSize    uint32
	ShrinkThreshold int
	Crypto          CryptoState
	Hooks           Hooks
}

// EventDataStream frames raw events out of a Source: it reads the header,
// checks the declared length, reads the rest, decrypts and verifies it. One
// event is in flight at a time and the stream is not safe for concurrent use.
type EventDataStream struct {
	src          Source
	maxEventSize uint32
	crypto       CryptoState
	hooks        Hooks
	decryptBuf   *DecryptionBuffer

	header      [LogEventMinimalHeaderLen]byte
	eventLength uint32
}

// NewEventDataStream wraps src.
func NewEventDataStream(src Source, opts StreamOptions) *EventDataStream {
	if opts.MaxEventSize == 0 {
		opts.MaxEventSize = DefaultMaxEventSize
	}
	return &EventDataStream{
		src:          src,
		maxEventSize: opts.MaxEventSize,
		crypto:       opts.Crypto,
		hooks:        hooksOrNoop(opts.Hooks),
		decryptBuf:   NewDecryptionBuffer(opts.ShrinkThreshold),
	}
}

// readFixedLength fills buf completely. A source that ends before the first
// byte reports emptyKind; one that ends part way reports TRUNC_EVENT.
func (s *EventDataStream) readFixedLength(buf []byte, emptyKind ErrorKind) error {
	if len(buf) == 0 {
		return nil
	}
	n, err := io.ReadFull(s.src, buf)
	switch {
	case err == nil:
		return nil
	case n == 0 && errors.Is(err, io.EOF):
		return newReadError(emptyKind)
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return newReadError(TruncEvent).wrap(fmt.Errorf("read %d of %d bytes", n, len(buf)))
	default:
		return newReadError(SystemIO).wrap(err)
	}
}

// ReadHeader reads the common header of the next event.
func (s *EventDataStream) ReadHeader() error {
	return s.readFixedLength(s.header[:], ReadEOF)
}

// Header returns the last header read.
func (s *EventDataStream) Header() []byte {
	return s.header[:]
}

// CheckHeader derives the event length from the last header read.
func (s *EventDataStream) CheckHeader() (uint32, error) {
	h, _ := ParseHeader(s.header[:])
	s.eventLength = h.EventLen
	if s.eventLength < LogEventMinimalHeaderLen {
		return 0, newReadError(Bogus).withType(h.Type).wrap(
			fmt.Errorf("declared length %d", s.eventLength))
	}
	if s.eventLength > s.maxEventSize {
		return 0, newReadError(EventTooLarge).withType(h.Type).wrap(
			fmt.Errorf("declared length %d exceeds %d", s.eventLength, s.maxEventSize))
	}
	return s.eventLength, nil
}

// EventLength is the length derived by the last CheckHeader.
func (s *EventDataStream) EventLength() uint32 {
	return s.eventLength
}

func (s *EventDataStream) cryptoEnabled() bool {
	return s.crypto != nil && s.crypto.Enabled()
}

// FillEventData completes the event in buf, which must hold at least
// EventLength bytes. alg is the algorithm of the active context; a format
// description event overrides it with its own.
func (s *EventDataStream) FillEventData(buf []byte, verify bool, alg ChecksumAlg) error {
	n := int(s.eventLength)
	if len(buf) < n {
		return newReadError(MemAllocate).wrap(fmt.Errorf("buffer of %d bytes for %d byte event", len(buf), n))
	}
	event := buf[:n]
	copy(event, s.header[:])
	if err := s.readFixedLength(event[LogEventMinimalHeaderLen:], TruncEvent); err != nil {
		return err
	}

	if s.cryptoEnabled() {
		if err := s.decrypt(event); err != nil {
			return newReadError(Decrypt).wrap(err)
		}
	}

	if corruptible(EventType(event[EventTypeOffset])) {
		s.hooks.CorruptEvent(event)
	}

	if verify {
		if EventType(event[EventTypeOffset]) == FormatDescriptionEvent {
			alg = ChecksumAlgFromFDE(event)
		}
		if checksumMismatch(event, alg) && !s.hooks.SimulateUnknownIgnorable() {
			if s.cryptoEnabled() {
				return newReadError(Decrypt)
			}
			return newReadError(ChecksumFailure)
		}
	}
	return nil
}

func (s *EventDataStream) decrypt(event []byte) error {
	if err := s.decryptBuf.SetSize(len(event)); err != nil {
		return err
	}
	pos := s.src.Position() - uint64(len(event))
	plain := s.decryptBuf.Data()[:len(event)]
	if err := s.crypto.Decrypt(uint32(pos&math.MaxUint32), event, plain); err != nil {
		return err
	}
	copy(event, plain)
	return nil
}

// ReadEventData reads one whole event into a buffer from alloc. The caller
// owns the returned buffer and releases it through alloc.Deallocate.
func (s *EventDataStream) ReadEventData(alloc Allocator, verify bool, alg ChecksumAlg) ([]byte, uint32, error) {
	if err := s.ReadHeader(); err != nil {
		return nil, 0, err
	}
	length, err := s.CheckHeader()
	if err != nil {
		return nil, 0, err
	}
	buf := alloc.Allocate(int(length))
	if buf == nil {
		return nil, 0, newReadError(MemAllocate)
	}
	if err := s.FillEventData(buf, verify, alg); err != nil {
		alloc.Deallocate(buf)
		return nil, 0, err
	}
	return buf, length, nil
}

// StartDecryption enables decryption for the rest of the stream. It may be
// called once.
func (s *EventDataStream) StartDecryption(ev *StartEncryption) error {
	if s.crypto == nil {
		return newReadError(DecryptInitFailure).wrap(errors.New("no crypto state configured"))
	}
	if s.crypto.Enabled() {
		return newReadError(DecryptInitFailure).wrap(errors.New("decryption already started"))
	}
	if ev == nil || !ev.IsValid() {
		return newReadError(DecryptInitFailure).wrap(errors.New("invalid start encryption event"))
	}
	if err := s.crypto.Init(ev.Scheme, ev.KeyVersion, ev.Nonce); err != nil {
		return newReadError(DecryptInitFailure).wrap(err)
	}
	return nil
}

// DecryptionBuffer exposes the scratch buffer for metrics.
func (s *EventDataStream) DecryptionBuffer() *DecryptionBuffer {
	return s.decryptBuf
}

// Close zeroes the decryption buffer.
func (s *EventDataStream) Close() {
	s.decryptBuf.Release()
}
