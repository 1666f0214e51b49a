package binlog

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// BinlogVersion is the only binlog format version the default tables are built for.
const BinlogVersion = 4

// ServerVersion is announced by contexts built with NewFormatDescription when
// the caller passes an empty version.
const ServerVersion = "8.0.14-binlogstream"

const (
	queryHeaderMinimalLen       = 11
	queryHeaderLen              = queryHeaderMinimalLen + 2
	startV3HeaderLen            = stCreatedOffset + 4
	rotateHeaderLen             = 8
	appendBlockHeaderLen        = 4
	deleteFileHeaderLen         = 4
	createFileHeaderLen         = 4
	execLoadHeaderLen           = 4
	loadHeaderLen               = 18
	beginLoadQueryHeaderLen     = appendBlockHeaderLen
	executeLoadQueryExtraLen    = 13
	executeLoadQueryHeaderLen   = queryHeaderLen + executeLoadQueryExtraLen
	tableMapHeaderLen           = 8
	rowsHeaderLenV1             = 8
	rowsHeaderLenV2             = 10
	incidentHeaderLen           = 2
	gtidPostHeaderLen           = 42
	transactionContextHeaderLen = 18
	viewChangeHeaderLen         = 52
	formatDescriptionHeaderLen  = stCommonHeaderLenOffset + 1 + LogEventTypes
)

// v4PostHeaderLens is indexed by type code - 1.
var v4PostHeaderLens = [LogEventTypes]uint8{
	startV3HeaderLen,           // START_EVENT_V3
	queryHeaderLen,             // QUERY_EVENT
	0,                          // STOP_EVENT
	rotateHeaderLen,            // ROTATE_EVENT
	0,                          // INTVAR_EVENT
	0,                          // LOAD_EVENT
	0,                          // SLAVE_EVENT
	0,                          // CREATE_FILE_EVENT
	appendBlockHeaderLen,       // APPEND_BLOCK_EVENT
	0,                          // EXEC_LOAD_EVENT
	deleteFileHeaderLen,        // DELETE_FILE_EVENT
	0,                          // NEW_LOAD_EVENT
	0,                          // RAND_EVENT
	0,                          // USER_VAR_EVENT
	formatDescriptionHeaderLen, // FORMAT_DESCRIPTION_EVENT
	0,                          // XID_EVENT
	beginLoadQueryHeaderLen,    // BEGIN_LOAD_QUERY_EVENT
	executeLoadQueryHeaderLen,  // EXECUTE_LOAD_QUERY_EVENT
	tableMapHeaderLen,          // TABLE_MAP_EVENT
	0, 0, 0,                    // PRE_GA rows events
	rowsHeaderLenV1, rowsHeaderLenV1, rowsHeaderLenV1,
	incidentHeaderLen,          // INCIDENT_EVENT
	0,                          // HEARTBEAT_LOG_EVENT
	0,                          // IGNORABLE_LOG_EVENT
	0,                          // ROWS_QUERY_LOG_EVENT
	rowsHeaderLenV2, rowsHeaderLenV2, rowsHeaderLenV2,
	gtidPostHeaderLen,           // GTID_LOG_EVENT
	gtidPostHeaderLen,           // ANONYMOUS_GTID_LOG_EVENT
	0,                           // PREVIOUS_GTIDS_LOG_EVENT
	transactionContextHeaderLen, // TRANSACTION_CONTEXT_EVENT
	viewChangeHeaderLen,         // VIEW_CHANGE_EVENT
	0,                           // XA_PREPARE_LOG_EVENT
	rowsHeaderLenV2,             // PARTIAL_UPDATE_ROWS_EVENT
}

var v3PostHeaderLens = [...]uint8{
	startV3HeaderLen,
	queryHeaderMinimalLen,
	0,
	rotateHeaderLen,
	0,
	loadHeaderLen,
	0,
	createFileHeaderLen,
	appendBlockHeaderLen,
	execLoadHeaderLen,
	deleteFileHeaderLen,
	loadHeaderLen,
	0,
	0,
}

// FormatDescription is the per-epoch decoding context. It never changes after
// construction; a new format description event replaces it wholesale.
type FormatDescription struct {
	binlogVersion   uint16
	serverVersion   string
	createdAt       uint32
	commonHeaderLen uint8
	postHeaderLen   []uint8
	checksumAlg     ChecksumAlg
}

// NewFormatDescription builds the context a reader assumes before it has seen
// a format description event. Versions other than 3 and 4 get an empty
// post-header table.
func NewFormatDescription(binlogVersion uint16, serverVersion string, alg ChecksumAlg) *FormatDescription {
	if serverVersion == "" {
		serverVersion = ServerVersion
	}
	var table []uint8
	switch binlogVersion {
	case 4:
		table = v4PostHeaderLens[:]
	case 3:
		table = v3PostHeaderLens[:]
	}
	return NewFormatDescriptionFromTable(binlogVersion, serverVersion, LogEventMinimalHeaderLen, table, alg)
}

// NewFormatDescriptionFromTable builds a context from an explicit post-header
// table indexed by type code - 1. The table is copied.
func NewFormatDescriptionFromTable(binlogVersion uint16, serverVersion string, commonHeaderLen uint8, table []uint8, alg ChecksumAlg) *FormatDescription {
	fd := &FormatDescription{
		binlogVersion:   binlogVersion,
		serverVersion:   serverVersion,
		commonHeaderLen: commonHeaderLen,
		checksumAlg:     alg,
	}
	if len(table) > 0 {
		fd.postHeaderLen = append([]uint8(nil), table...)
	}
	return fd
}

// WithChecksumAlg returns a copy of the context with a different algorithm.
func (f *FormatDescription) WithChecksumAlg(alg ChecksumAlg) *FormatDescription {
	cp := *f
	cp.checksumAlg = alg
	return &cp
}

// BinlogVersion is the format version, 4 for every supported server.
func (f *FormatDescription) BinlogVersion() uint16 { return f.binlogVersion }

// ServerVersion is the producer's version string, trimmed at the first NUL.
func (f *FormatDescription) ServerVersion() string { return f.serverVersion }

// CreatedAt is the creation timestamp from the FDE body, 0 for rotated files.
func (f *FormatDescription) CreatedAt() uint32 { return f.createdAt }

// CommonHeaderLen is the header length every event under this context uses.
func (f *FormatDescription) CommonHeaderLen() int { return int(f.commonHeaderLen) }

// ChecksumAlg is the trailer algorithm of events under this context.
func (f *FormatDescription) ChecksumAlg() ChecksumAlg { return f.checksumAlg }

// NumberOfEventTypes is the size of the post-header table.
func (f *FormatDescription) NumberOfEventTypes() int {
	return len(f.postHeaderLen)
}

// HasPostHeaderTable reports whether the table is non-empty.
func (f *FormatDescription) HasPostHeaderTable() bool {
	return len(f.postHeaderLen) > 0
}

// PostHeaderLen returns the fixed post-header size for t, or 0 when the table
// does not describe t.
func (f *FormatDescription) PostHeaderLen(t EventType) int {
	idx := int(t) - 1
	if idx < 0 || idx >= len(f.postHeaderLen) {
		return 0
	}
	return int(f.postHeaderLen[idx])
}

// PostHeaderTable returns a copy of the table.
func (f *FormatDescription) PostHeaderTable() []uint8 {
	return append([]uint8(nil), f.postHeaderLen...)
}

// parseFormatDescription decodes the body of a format description event. buf
// is the event with its checksum trailer already removed whenever the event
// declares a checksum-aware algorithm; the algorithm descriptor is then the
// last byte of buf.
func parseFormatDescription(buf []byte) (*FormatDescription, error) {
	h, err := ParseHeader(buf)
	if err != nil {
		return nil, err
	}
	body := buf[LogEventMinimalHeaderLen:]
	if len(body) <= stCommonHeaderLenOffset {
		return nil, fmt.Errorf("format description body too short: %d bytes", len(body))
	}

	fd := &FormatDescription{
		binlogVersion:   binary.LittleEndian.Uint16(body[stBinlogVerOffset:]),
		serverVersion:   cString(body[stServerVerOffset : stServerVerOffset+stServerVerLen]),
		createdAt:       binary.LittleEndian.Uint32(body[stCreatedOffset:]),
		commonHeaderLen: body[stCommonHeaderLenOffset],
		checksumAlg:     ChecksumUndef,
	}

	start := stCommonHeaderLenOffset + 1
	types := len(body) - start
	if uint32(len(buf)) < h.EventLen {
		if types < ChecksumAlgDescLen {
			return nil, fmt.Errorf("format description missing checksum descriptor")
		}
		fd.checksumAlg = ChecksumAlg(buf[len(buf)-1])
		types -= ChecksumAlgDescLen
	}
	fd.postHeaderLen = append([]uint8(nil), body[start:start+types]...)
	return fd, nil
}

// cString trims a NUL-padded fixed-width field.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}
