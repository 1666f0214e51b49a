package binlog

import (
	"errors"
	"fmt"
)

// maxLogIdentLen bounds the file name carried by a rotate event.
const maxLogIdentLen = 512

// Rotate names the next binlog file and the position to resume from.
type Rotate struct {
	BaseEvent
	Position uint64
	NextFile string
}

func newRotate(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	ev := &Rotate{BaseEvent: base, Position: 4}
	c := newCursor(buf, bodyStart(fde))
	if fde.PostHeaderLen(RotateEvent) > 0 {
		ev.Position = c.u64()
	}
	ev.NextFile = string(c.rest())
	return ev, c.err
}

func (e *Rotate) Validate() error {
	if e.NextFile == "" {
		return errors.New("rotate event without a file name")
	}
	if len(e.NextFile) > maxLogIdentLen {
		return fmt.Errorf("rotate file name too long: %d bytes", len(e.NextFile))
	}
	return nil
}

// Stop marks a clean server shutdown.
type Stop struct {
	BaseEvent
}

func newStop(buf []byte, _ *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	return &Stop{BaseEvent: base}, nil
}

func (e *Stop) Validate() error { return nil }

// FormatDescriptionLog is the decoded format description event. Its Context
// governs every event that follows it.
type FormatDescriptionLog struct {
	BaseEvent
	ctx *FormatDescription
}

func newFormatDescriptionLog(buf []byte, _ *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	fd, err := parseFormatDescription(buf)
	if err != nil {
		return nil, err
	}
	return &FormatDescriptionLog{BaseEvent: base, ctx: fd}, nil
}

// Context returns the decoding context the event declares.
func (e *FormatDescriptionLog) Context() *FormatDescription {
	return e.ctx
}

func (e *FormatDescriptionLog) Validate() error {
	if e.ctx.CommonHeaderLen() < LogEventMinimalHeaderLen {
		return fmt.Errorf("common header length %d below %d", e.ctx.CommonHeaderLen(), LogEventMinimalHeaderLen)
	}
	if !e.ctx.HasPostHeaderTable() {
		return errors.New("format description without post-header table")
	}
	return nil
}

// Incident kinds.
const (
	IncidentNone       uint16 = 0
	IncidentLostEvents uint16 = 1
	incidentCount             = 2
)

// Incident reports that the producer may have lost events.
type Incident struct {
	BaseEvent
	Kind    uint16
	Message string
}

func newIncident(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	ev := &Incident{BaseEvent: base}
	c := newCursor(buf, bodyStart(fde))
	ev.Kind = c.u16()
	if extra := fde.PostHeaderLen(IncidentEvent) - 2; extra > 0 {
		c.skip(extra)
	}
	if c.remaining() > 0 {
		n := int(c.u8())
		ev.Message = string(c.take(n))
	}
	return ev, c.err
}

func (e *Incident) Validate() error {
	if e.Kind <= IncidentNone || e.Kind >= incidentCount {
		return fmt.Errorf("unknown incident kind %d", e.Kind)
	}
	return nil
}

// Encryption schemes understood by StartEncryption.
const (
	CryptoSchemeAESCTR uint8 = 1
	NonceLen                 = 12
)

// StartEncryption switches the rest of the stream to encrypted events.
type StartEncryption struct {
	BaseEvent
	Scheme     uint8
	KeyVersion uint32
	Nonce      []byte
}

func newStartEncryption(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	ev := &StartEncryption{BaseEvent: base}
	c := newCursor(buf, bodyStart(fde))
	ev.Scheme = c.u8()
	ev.KeyVersion = c.u32()
	ev.Nonce = cloneBytes(c.take(NonceLen))
	return ev, c.err
}

func (e *StartEncryption) Validate() error {
	if e.Scheme != CryptoSchemeAESCTR {
		return fmt.Errorf("unsupported crypto scheme %d", e.Scheme)
	}
	if len(e.Nonce) != NonceLen {
		return fmt.Errorf("nonce must be %d bytes", NonceLen)
	}
	return nil
}

// Ignorable stands in for an event this decoder does not know but the
// producer flagged as safe to skip.
type Ignorable struct {
	BaseEvent
}

func newIgnorable(buf []byte, _ *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	return &Ignorable{BaseEvent: base}, nil
}

func (e *Ignorable) Validate() error { return nil }

// AppendBlock carries one chunk of a LOAD DATA file.
type AppendBlock struct {
	BaseEvent
	FileID uint32
	Block  []byte
}

func parseAppendBlock(buf []byte, fde *FormatDescription, t EventType) (*AppendBlock, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	ev := &AppendBlock{BaseEvent: base}
	c := newCursor(buf, bodyStart(fde))
	ev.FileID = c.u32()
	if extra := fde.PostHeaderLen(t) - 4; extra > 0 {
		c.skip(extra)
	}
	ev.Block = cloneBytes(c.rest())
	return ev, c.err
}

func newAppendBlock(buf []byte, fde *FormatDescription) (Event, error) {
	return parseAppendBlock(buf, fde, AppendBlockEvent)
}

func (e *AppendBlock) Validate() error {
	if e.Block == nil {
		return errors.New("append block without data")
	}
	return nil
}

// BeginLoadQuery is the first block of a LOAD DATA file.
type BeginLoadQuery struct {
	AppendBlock
}

func newBeginLoadQuery(buf []byte, fde *FormatDescription) (Event, error) {
	ab, err := parseAppendBlock(buf, fde, BeginLoadQueryEvent)
	if err != nil {
		return nil, err
	}
	return &BeginLoadQuery{AppendBlock: *ab}, nil
}

// DeleteFile discards a LOAD DATA file.
type DeleteFile struct {
	BaseEvent
	FileID uint32
}

func newDeleteFile(buf []byte, fde *FormatDescription) (Event, error) {
	base, err := NewBaseEvent(buf)
	if err != nil {
		return nil, err
	}
	c := newCursor(buf, bodyStart(fde))
	ev := &DeleteFile{BaseEvent: base, FileID: c.u32()}
	return ev, c.err
}

func (e *DeleteFile) Validate() error {
	if e.FileID == 0 {
		return errors.New("delete file event with file id 0")
	}
	return nil
}
