package binlog

import "strconv"

// EventType is the one-byte type code at offset 4 of every event header.
type EventType uint8

const (
	UnknownEvent            EventType = 0
	StartEventV3            EventType = 1
	QueryEvent              EventType = 2
	StopEvent               EventType = 3
	RotateEvent             EventType = 4
	IntvarEvent             EventType = 5
	LoadEvent               EventType = 6
	SlaveEvent              EventType = 7
	CreateFileEvent         EventType = 8
	AppendBlockEvent        EventType = 9
	ExecLoadEvent           EventType = 10
	DeleteFileEvent         EventType = 11
	NewLoadEvent            EventType = 12
	RandEvent               EventType = 13
	UserVarEvent            EventType = 14
	FormatDescriptionEvent  EventType = 15
	XidEvent                EventType = 16
	BeginLoadQueryEvent     EventType = 17
	ExecuteLoadQueryEvent   EventType = 18
	TableMapEvent           EventType = 19
	PreGAWriteRowsEvent     EventType = 20
	PreGAUpdateRowsEvent    EventType = 21
	PreGADeleteRowsEvent    EventType = 22
	WriteRowsEventV1        EventType = 23
	UpdateRowsEventV1       EventType = 24
	DeleteRowsEventV1       EventType = 25
	IncidentEvent           EventType = 26
	HeartbeatEvent          EventType = 27
	IgnorableEvent          EventType = 28
	RowsQueryEvent          EventType = 29
	WriteRowsEvent          EventType = 30
	UpdateRowsEvent         EventType = 31
	DeleteRowsEvent         EventType = 32
	GtidEvent               EventType = 33
	AnonymousGtidEvent      EventType = 34
	PreviousGtidsEvent      EventType = 35
	TransactionContextEvent EventType = 36
	ViewChangeEvent         EventType = 37
	XaPrepareEvent          EventType = 38
	PartialUpdateRowsEvent  EventType = 39

	// StartEncryptionEvent lies outside the post-header table range and is
	// decodable whatever the active FDE describes.
	StartEncryptionEvent EventType = 159
)

// LogEventTypes is the number of types described by a current (v4) FDE, the
// code of PartialUpdateRowsEvent. Untyped so it can size tables and fill
// uint8 post-header lengths.
const LogEventTypes = 39

var eventTypeNames = map[EventType]string{
	UnknownEvent:            "UNKNOWN_EVENT",
	StartEventV3:            "START_EVENT_V3",
	QueryEvent:              "QUERY_EVENT",
	StopEvent:               "STOP_EVENT",
	RotateEvent:             "ROTATE_EVENT",
	IntvarEvent:             "INTVAR_EVENT",
	LoadEvent:               "LOAD_EVENT",
	SlaveEvent:              "SLAVE_EVENT",
	CreateFileEvent:         "CREATE_FILE_EVENT",
	AppendBlockEvent:        "APPEND_BLOCK_EVENT",
	ExecLoadEvent:           "EXEC_LOAD_EVENT",
	DeleteFileEvent:         "DELETE_FILE_EVENT",
	NewLoadEvent:            "NEW_LOAD_EVENT",
	RandEvent:               "RAND_EVENT",
	UserVarEvent:            "USER_VAR_EVENT",
	FormatDescriptionEvent:  "FORMAT_DESCRIPTION_EVENT",
	XidEvent:                "XID_EVENT",
	BeginLoadQueryEvent:     "BEGIN_LOAD_QUERY_EVENT",
	ExecuteLoadQueryEvent:   "EXECUTE_LOAD_QUERY_EVENT",
	TableMapEvent:           "TABLE_MAP_EVENT",
	PreGAWriteRowsEvent:     "PRE_GA_WRITE_ROWS_EVENT",
	PreGAUpdateRowsEvent:    "PRE_GA_UPDATE_ROWS_EVENT",
	PreGADeleteRowsEvent:    "PRE_GA_DELETE_ROWS_EVENT",
	WriteRowsEventV1:        "WRITE_ROWS_EVENT_V1",
	UpdateRowsEventV1:       "UPDATE_ROWS_EVENT_V1",
	DeleteRowsEventV1:       "DELETE_ROWS_EVENT_V1",
	IncidentEvent:           "INCIDENT_EVENT",
	HeartbeatEvent:          "HEARTBEAT_LOG_EVENT",
	IgnorableEvent:          "IGNORABLE_LOG_EVENT",
	RowsQueryEvent:          "ROWS_QUERY_LOG_EVENT",
	WriteRowsEvent:          "WRITE_ROWS_EVENT",
	UpdateRowsEvent:         "UPDATE_ROWS_EVENT",
	DeleteRowsEvent:         "DELETE_ROWS_EVENT",
	GtidEvent:               "GTID_LOG_EVENT",
	AnonymousGtidEvent:      "ANONYMOUS_GTID_LOG_EVENT",
	PreviousGtidsEvent:      "PREVIOUS_GTIDS_LOG_EVENT",
	TransactionContextEvent: "TRANSACTION_CONTEXT_EVENT",
	ViewChangeEvent:         "VIEW_CHANGE_EVENT",
	XaPrepareEvent:          "XA_PREPARE_LOG_EVENT",
	PartialUpdateRowsEvent:  "PARTIAL_UPDATE_ROWS_EVENT",
	StartEncryptionEvent:    "START_ENCRYPTION_EVENT",
}

func (t EventType) String() string {
	if name, ok := eventTypeNames[t]; ok {
		return name
	}
	return "EVENT_TYPE_" + strconv.Itoa(int(t))
}

// Common header layout (binlog v4).
const (
	LogEventMinimalHeaderLen = 19

	TimestampOffset = 0
	EventTypeOffset = 4
	ServerIDOffset  = 5
	EventLenOffset  = 9
	LogPosOffset    = 13
	FlagsOffset     = 17
)

// Format description body layout, relative to the end of the common header.
const (
	stBinlogVerOffset       = 0
	stServerVerOffset       = 2
	stServerVerLen          = 50
	stCreatedOffset         = stServerVerOffset + stServerVerLen
	stCommonHeaderLenOffset = stCreatedOffset + 4
)

// Header flags.
const (
	FlagBinlogInUse uint16 = 0x1
	FlagIgnorable   uint16 = 0x80
)

// Checksum trailer.
const (
	ChecksumLen        = 4
	ChecksumAlgDescLen = 1
)

// ChecksumAlg is the algorithm announced by a format description event.
type ChecksumAlg uint8

const (
	ChecksumOff   ChecksumAlg = 0
	ChecksumCRC32 ChecksumAlg = 1
	ChecksumUndef ChecksumAlg = 255
)

func (a ChecksumAlg) String() string {
	switch a {
	case ChecksumOff:
		return "OFF"
	case ChecksumCRC32:
		return "CRC32"
	case ChecksumUndef:
		return "UNDEF"
	default:
		return "ALG_" + strconv.Itoa(int(a))
	}
}

// HasTrailer reports whether events written under this algorithm carry a checksum value.
func (a ChecksumAlg) HasTrailer() bool {
	return a != ChecksumOff && a != ChecksumUndef
}

// Defaults used when the caller does not configure the reader.
const (
	DefaultMaxEventSize    uint32 = 1 << 30
	DefaultShrinkThreshold        = 100
)
