package binlog

import (
	"encoding/binary"
	"fmt"
)

// Constructor builds one event variant. buf spans the event without its
// checksum trailer.
type Constructor func(buf []byte, fde *FormatDescription) (Event, error)

type registration struct {
	build           Constructor
	needsPostHeader bool
}

// RegisterOption tunes a registration.
type RegisterOption func(*registration)

// RequiresPostHeaderTable refuses construction under a context whose
// post-header table is empty.
func RequiresPostHeaderTable() RegisterOption {
	return func(r *registration) { r.needsPostHeader = true }
}

// Registry maps type codes to constructors. Unregistered codes decode as
// Ignorable when the producer set the ignorable flag and fail otherwise.
//
// A Registry takes no locks: finish registering before handing it to a
// Deserializer. Lookups from any number of goroutines are safe after that.
type Registry struct {
	entries map[EventType]registration
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[EventType]registration)}
}

// Register binds t to build, replacing any earlier constructor. It must not
// be called while a Deserializer is using r.
func (r *Registry) Register(t EventType, build Constructor, opts ...RegisterOption) {
	reg := registration{build: build}
	for _, opt := range opts {
		opt(&reg)
	}
	r.entries[t] = reg
}

func (r *Registry) lookup(t EventType) (registration, bool) {
	reg, ok := r.entries[t]
	return reg, ok
}

// Registered reports whether t has a constructor.
func (r *Registry) Registered(t EventType) bool {
	_, ok := r.lookup(t)
	return ok
}

// NewDefaultRegistry returns a registry holding every built-in variant.
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register(QueryEvent, newQuery)
	r.Register(RotateEvent, newRotate)
	r.Register(AppendBlockEvent, newAppendBlock)
	r.Register(DeleteFileEvent, newDeleteFile)
	r.Register(StopEvent, newStop)
	r.Register(IntvarEvent, newIntvar)
	r.Register(XidEvent, newXid)
	r.Register(RandEvent, newRand)
	r.Register(UserVarEvent, newUserVar)
	r.Register(FormatDescriptionEvent, newFormatDescriptionLog)
	r.Register(BeginLoadQueryEvent, newBeginLoadQuery)
	r.Register(ExecuteLoadQueryEvent, newExecuteLoadQuery)
	r.Register(IncidentEvent, newIncident)
	r.Register(RowsQueryEvent, newRowsQuery)
	r.Register(GtidEvent, newGtid)
	r.Register(AnonymousGtidEvent, newGtid)
	r.Register(PreviousGtidsEvent, newPreviousGtids)
	r.Register(TransactionContextEvent, newTransactionContext)
	r.Register(ViewChangeEvent, newViewChange)
	r.Register(XaPrepareEvent, newXaPrepare)
	r.Register(StartEncryptionEvent, newStartEncryption)

	for _, t := range []EventType{
		TableMapEvent,
		WriteRowsEventV1, UpdateRowsEventV1, DeleteRowsEventV1,
		WriteRowsEvent, UpdateRowsEvent, DeleteRowsEvent,
		PartialUpdateRowsEvent,
	} {
		build := Constructor(newRows)
		if t == TableMapEvent {
			build = newTableMap
		}
		r.Register(t, build, RequiresPostHeaderTable())
	}
	return r
}

var defaultRegistry = NewDefaultRegistry()

// Deserializer turns raw event buffers into typed events.
type Deserializer struct {
	registry *Registry
	hooks    Hooks
}

// NewDeserializer binds a registry and hooks; nil selects the defaults.
func NewDeserializer(registry *Registry, hooks Hooks) *Deserializer {
	if registry == nil {
		registry = defaultRegistry
	}
	return &Deserializer{registry: registry, hooks: hooksOrNoop(hooks)}
}

// Deserialize decodes buf with the built-in registry and no hooks.
func Deserialize(buf []byte, length uint32, fde *FormatDescription, verify bool) (Event, error) {
	return NewDeserializer(nil, nil).Deserialize(buf, length, fde, verify)
}

// Deserialize decodes the event of the given declared length at the start of
// buf under fde. buf may be longer than length, as allocator buffers are.
func (d *Deserializer) Deserialize(buf []byte, length uint32, fde *FormatDescription, verify bool) (Event, error) {
	if length < LogEventMinimalHeaderLen {
		return nil, newReadError(TruncEvent)
	}
	if uint64(len(buf)) < LogEventMinimalHeaderLen {
		return nil, newReadError(TruncEvent)
	}
	embedded := binary.LittleEndian.Uint32(buf[EventLenOffset:])
	t := EventType(buf[EventTypeOffset])
	if length != embedded {
		kind := TruncEvent
		if length > embedded {
			kind = Bogus
		}
		return nil, newReadError(kind).withType(t)
	}
	if uint64(len(buf)) < uint64(length) {
		return nil, newReadError(TruncEvent).withType(t)
	}
	buf = buf[:length]

	if t == FormatDescriptionEvent {
		if length <= LogEventMinimalHeaderLen+stCommonHeaderLenOffset {
			return nil, newReadError(TruncFDEvent).withType(t)
		}
		headerLen := uint32(buf[LogEventMinimalHeaderLen+stCommonHeaderLenOffset])
		if length < headerLen+stServerVerOffset+stServerVerLen {
			return nil, newReadError(TruncFDEvent).withType(t)
		}
	}

	alg := fde.ChecksumAlg()
	if t == FormatDescriptionEvent {
		alg = ChecksumAlgFromFDE(buf)
	}

	unknownIgnorable := d.hooks.SimulateUnknownIgnorable()
	if verify && !unknownIgnorable {
		if checksumMismatch(buf, alg) || (alg.HasTrailer() && d.hooks.SimulateChecksumFailure()) {
			return nil, newReadError(ChecksumFailure).withType(t)
		}
	}

	if int(t) > fde.NumberOfEventTypes() && t != StartEncryptionEvent && !unknownIgnorable {
		return nil, newReadError(InvalidEvent).withType(t).wrap(
			fmt.Errorf("context describes %d event types", fde.NumberOfEventTypes()))
	}

	working := length
	if alg != ChecksumUndef && (t == FormatDescriptionEvent || alg != ChecksumOff) {
		if working < LogEventMinimalHeaderLen+ChecksumLen {
			return nil, newReadError(InvalidEvent).withType(t)
		}
		working -= ChecksumLen
	}

	ev, err := d.construct(buf[:working], fde, t)
	if err != nil {
		return nil, newReadError(InvalidEvent).withType(t).wrap(err)
	}
	if err := ev.Validate(); err != nil {
		return nil, newReadError(InvalidEvent).withType(t).wrap(err)
	}

	var crc uint32
	if alg.HasTrailer() {
		crc = binary.LittleEndian.Uint32(buf[working:])
	}
	ev.stamp(alg, crc)
	return ev, nil
}

func (d *Deserializer) construct(buf []byte, fde *FormatDescription, t EventType) (Event, error) {
	reg, ok := d.registry.lookup(t)
	if !ok {
		if binary.LittleEndian.Uint16(buf[FlagsOffset:])&FlagIgnorable == 0 {
			return nil, fmt.Errorf("unknown event type %s", t)
		}
		return newIgnorable(buf, fde)
	}
	if reg.needsPostHeader && !fde.HasPostHeaderTable() {
		return nil, fmt.Errorf("%s needs a post-header table", t)
	}
	ev, err := reg.build(buf, fde)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		return nil, fmt.Errorf("%s constructor returned no event", t)
	}
	return ev, nil
}
