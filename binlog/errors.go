package binlog

import (
	"errors"
	"fmt"
)

// ErrorKind classifies why an event could not be produced.
type ErrorKind int

const (
	Success ErrorKind = iota
	// ReadEOF means the source ended cleanly before any header byte. It is a
	// termination signal, not corruption.
	ReadEOF
	Bogus
	SystemIO
	EventTooLarge
	MemAllocate
	TruncEvent
	TruncFDEvent
	ChecksumFailure
	InvalidEvent
	DecryptInitFailure
	Decrypt
)

var errorKindNames = [...]string{
	Success:            "SUCCESS",
	ReadEOF:            "READ_EOF",
	Bogus:              "BOGUS",
	SystemIO:           "SYSTEM_IO",
	EventTooLarge:      "EVENT_TOO_LARGE",
	MemAllocate:        "MEM_ALLOCATE",
	TruncEvent:         "TRUNC_EVENT",
	TruncFDEvent:       "TRUNC_FD_EVENT",
	ChecksumFailure:    "CHECKSUM_FAILURE",
	InvalidEvent:       "INVALID_EVENT",
	DecryptInitFailure: "DECRYPT_INIT_FAILURE",
	Decrypt:            "DECRYPT",
}

var errorKindMessages = [...]string{
	Success:            "success",
	ReadEOF:            "arrived the end of the file",
	Bogus:              "corrupted data in log event",
	SystemIO:           "I/O error reading log event",
	EventTooLarge:      "event too big",
	MemAllocate:        "memory allocation failed reading log event",
	TruncEvent:         "binlog truncated in the middle of event; consider out of disk space",
	TruncFDEvent:       "found invalid Format description event in binary log",
	ChecksumFailure:    "event read from binlog did not pass crc check",
	InvalidEvent:       "found invalid event in binary log",
	DecryptInitFailure: "failed to initialize binlog decryption",
	Decrypt:            "failed to decrypt content read from binlog",
}

func (k ErrorKind) String() string {
	if k >= 0 && int(k) < len(errorKindNames) {
		return errorKindNames[k]
	}
	return fmt.Sprintf("ERROR_KIND_%d", int(k))
}

// Message is the operator-facing description of the kind.
func (k ErrorKind) Message() string {
	if k >= 0 && int(k) < len(errorKindMessages) {
		return errorKindMessages[k]
	}
	return "unknown binlog read error"
}

// ReadError reports a failed read or deserialize attempt. Type and Offset are
// filled in when known; Offset is the byte position of the event start.
type ReadError struct {
	Kind      ErrorKind
	Type      EventType
	HasType   bool
	Offset    uint64
	HasOffset bool
	Err       error
}

func newReadError(kind ErrorKind) *ReadError {
	return &ReadError{Kind: kind}
}

func (e *ReadError) Error() string {
	msg := "binlog: " + e.Kind.Message()
	if e.HasType {
		msg += fmt.Sprintf(" (type %s)", e.Type)
	}
	if e.HasOffset {
		msg += fmt.Sprintf(" at offset %d", e.Offset)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Is matches any *ReadError of the same kind, so callers can compare against
// the Err* sentinels regardless of offset or type details.
func (e *ReadError) Is(target error) bool {
	t, ok := target.(*ReadError)
	return ok && t.Kind == e.Kind
}

func (e *ReadError) withType(t EventType) *ReadError {
	e.Type = t
	e.HasType = true
	return e
}

func (e *ReadError) withOffset(off uint64) *ReadError {
	e.Offset = off
	e.HasOffset = true
	return e
}

// Sentinels for errors.Is.
var (
	ErrReadEOF            = newReadError(ReadEOF)
	ErrBogus              = newReadError(Bogus)
	ErrSystemIO           = newReadError(SystemIO)
	ErrEventTooLarge      = newReadError(EventTooLarge)
	ErrMemAllocate        = newReadError(MemAllocate)
	ErrTruncEvent         = newReadError(TruncEvent)
	ErrTruncFDEvent       = newReadError(TruncFDEvent)
	ErrChecksumFailure    = newReadError(ChecksumFailure)
	ErrInvalidEvent       = newReadError(InvalidEvent)
	ErrDecryptInitFailure = newReadError(DecryptInitFailure)
	ErrDecrypt            = newReadError(Decrypt)
)

// KindOf extracts the kind from err. nil maps to Success and foreign errors
// to SystemIO.
func KindOf(err error) ErrorKind {
	if err == nil {
		return Success
	}
	var re *ReadError
	if errors.As(err, &re) {
		return re.Kind
	}
	return SystemIO
}

// IsEOF reports whether err is the clean end-of-stream signal.
func IsEOF(err error) bool {
	return KindOf(err) == ReadEOF
}

func (e *ReadError) wrap(err error) *ReadError {
	e.Err = err
	return e
}
