package binlog

import (
	"errors"
	"time"

	"github.com/maxpert/binlogstream/telemetry"
	"github.com/rs/zerolog/log"
)

// ReaderOptions configures a Reader. The zero value reads a plain v4 stream
// with checksums verified against the default limits.
type ReaderOptions struct {
	Name              string
	MaxEventSize      uint32
	SkipChecksum      bool
	FormatDescription *FormatDescription
	Crypto            CryptoState
	Allocator         Allocator
	Hooks             Hooks
	ShrinkThreshold   int
	Registry          *Registry
}

// Reader produces decoded events from a Source, tracking the active format
// description and switching to decryption when the stream asks for it.
type Reader struct {
	name   string
	src    Source
	stream *EventDataStream
	deser  *Deserializer
	alloc  Allocator
	fde    *FormatDescription
	verify bool
}

// NewReader builds a Reader over src.
func NewReader(src Source, opts ReaderOptions) *Reader {
	hooks := hooksOrNoop(opts.Hooks)
	fde := opts.FormatDescription
	if fde == nil {
		fde = NewFormatDescription(BinlogVersion, "", ChecksumUndef)
	}
	alloc := opts.Allocator
	if alloc == nil {
		alloc = DefaultAllocator{Hooks: hooks}
	}
	return &Reader{
		name: opts.Name,
		src:  src,
		stream: NewEventDataStream(src, StreamOptions{
			MaxEventSize:    opts.MaxEventSize,
			ShrinkThreshold: opts.ShrinkThreshold,
			Crypto:          opts.Crypto,
			Hooks:           hooks,
		}),
		deser:  NewDeserializer(opts.Registry, hooks),
		alloc:  alloc,
		fde:    fde,
		verify: !opts.SkipChecksum,
	}
}

// FormatDescription is the context the next event will be decoded with.
func (r *Reader) FormatDescription() *FormatDescription {
	return r.fde
}

// SetFormatDescription replaces the active context, e.g. when resuming in
// the middle of a file whose format description was read earlier.
func (r *Reader) SetFormatDescription(fde *FormatDescription) {
	r.fde = fde
}

// Position is the offset of the next unread byte.
func (r *Reader) Position() uint64 {
	return r.src.Position()
}

// ReadEvent decodes the next event. At a clean end of stream it returns an
// error for which IsEOF is true.
func (r *Reader) ReadEvent() (Event, error) {
	began := time.Now()
	start := r.src.Position()

	if err := r.stream.ReadHeader(); err != nil {
		return nil, r.fail(err, start, false)
	}
	length, err := r.stream.CheckHeader()
	if err != nil {
		return nil, r.fail(err, start, true)
	}

	buf := r.alloc.Allocate(int(length))
	if buf == nil {
		return nil, r.fail(newReadError(MemAllocate), start, true)
	}
	if err := r.stream.FillEventData(buf, r.verify, r.fde.ChecksumAlg()); err != nil {
		r.alloc.Deallocate(buf)
		return nil, r.fail(err, start, true)
	}
	ev, err := r.deser.Deserialize(buf, length, r.fde, r.verify)
	r.alloc.Deallocate(buf)
	if err != nil {
		return nil, r.fail(err, start, true)
	}

	switch e := ev.(type) {
	case *FormatDescriptionLog:
		r.fde = e.Context()
		telemetry.FormatDescriptionsTotal.Inc()
		log.Debug().
			Str("stream", r.name).
			Str("server_version", r.fde.ServerVersion()).
			Stringer("checksum", r.fde.ChecksumAlg()).
			Int("event_types", r.fde.NumberOfEventTypes()).
			Msg("Format description replaced")
	case *StartEncryption:
		if err := r.stream.StartDecryption(e); err != nil {
			return nil, r.fail(err, start, true)
		}
		log.Info().
			Str("stream", r.name).
			Uint32("key_version", e.KeyVersion).
			Msg("Binlog decryption started")
	}

	telemetry.EventsDecodedTotal.With(ev.Type().String()).Inc()
	telemetry.EventBytesTotal.Add(float64(length))
	telemetry.EventSizeBytes.Observe(float64(length))
	telemetry.DecodeDurationSeconds.Observe(time.Since(began).Seconds())
	telemetry.DecryptionBufferBytes.With(r.name).Set(float64(r.stream.DecryptionBuffer().Size()))
	return ev, nil
}

// fail annotates err with the event's start offset and, once the header is
// in hand, its type code.
func (r *Reader) fail(err error, start uint64, haveHeader bool) error {
	var re *ReadError
	if !errors.As(err, &re) {
		re = newReadError(SystemIO).wrap(err)
	}
	re.withOffset(start)
	if haveHeader && !re.HasType {
		re.withType(EventType(r.stream.Header()[EventTypeOffset]))
	}

	if re.Kind == ReadEOF {
		log.Debug().Str("stream", r.name).Uint64("offset", start).Msg("End of binlog stream")
		return re
	}
	telemetry.ReadErrorsTotal.With(re.Kind.String()).Inc()
	ev := log.Warn().
		Str("stream", r.name).
		Str("kind", re.Kind.String()).
		Uint64("offset", start)
	if re.HasType {
		ev = ev.Str("event_type", re.Type.String())
	}
	ev.Err(re.Err).Msg(re.Kind.Message())
	return re
}

// Close releases the decryption buffer. The source is owned by the caller.
func (r *Reader) Close() {
	r.stream.Close()
}
