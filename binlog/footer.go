package binlog

import (
	"encoding/binary"
	"hash/crc32"
)

// checksumVersionProduct is 5.6.1, the first server version that writes checksums.
var checksumVersionProduct = versionProduct([3]uint8{5, 6, 1})

// splitServerVersion parses "major.minor.patch[-suffix]". Any component that is
// missing a separator or does not fit in a byte zeroes the whole result.
func splitServerVersion(version []byte) [3]uint8 {
	var split [3]uint8
	p := 0
	for i := 0; i < 3; i++ {
		number := 0
		for p < len(version) && version[p] >= '0' && version[p] <= '9' {
			number = number*10 + int(version[p]-'0')
			if number > 255 {
				break
			}
			p++
		}
		sep := byte(0)
		if p < len(version) {
			sep = version[p]
		}
		if number >= 256 || (sep != '.' && i == 0) {
			return [3]uint8{}
		}
		split[i] = uint8(number)
		if sep == '.' {
			p++
		}
	}
	return split
}

func versionProduct(split [3]uint8) uint32 {
	return (uint32(split[0])*256+uint32(split[1]))*256 + uint32(split[2])
}

// ChecksumAlgFromFDE derives the checksum algorithm a format description event
// declares for itself. buf must span the whole event including its trailer.
// Pre-5.6.1 producers and buffers too short to hold the server version yield UNDEF.
func ChecksumAlgFromFDE(buf []byte) ChecksumAlg {
	versionStart := LogEventMinimalHeaderLen + stServerVerOffset
	if len(buf) < versionStart+stServerVerLen {
		return ChecksumUndef
	}
	version := buf[versionStart : versionStart+stServerVerLen]
	if versionProduct(splitServerVersion(version)) < checksumVersionProduct {
		return ChecksumUndef
	}
	if len(buf) < ChecksumLen+ChecksumAlgDescLen {
		return ChecksumUndef
	}
	return ChecksumAlg(buf[len(buf)-ChecksumLen-ChecksumAlgDescLen])
}

// ComputeChecksum returns the CRC32 of buf minus its trailer slot. Format
// description events are checksummed with the in-use flag cleared.
func ComputeChecksum(buf []byte) uint32 {
	if len(buf) < LogEventMinimalHeaderLen+ChecksumLen {
		return 0
	}
	body := buf[:len(buf)-ChecksumLen]
	if EventType(body[EventTypeOffset]) != FormatDescriptionEvent ||
		body[FlagsOffset]&byte(FlagBinlogInUse) == 0 {
		return crc32.ChecksumIEEE(body)
	}
	crc := crc32.Update(0, crc32.IEEETable, body[:FlagsOffset])
	crc = crc32.Update(crc, crc32.IEEETable, []byte{body[FlagsOffset] &^ byte(FlagBinlogInUse)})
	return crc32.Update(crc, crc32.IEEETable, body[FlagsOffset+1:])
}

// checksumMismatch verifies the trailer of buf under alg. OFF and UNDEF never fail.
func checksumMismatch(buf []byte, alg ChecksumAlg) bool {
	if !alg.HasTrailer() {
		return false
	}
	if len(buf) < LogEventMinimalHeaderLen+ChecksumLen {
		return true
	}
	incoming := binary.LittleEndian.Uint32(buf[len(buf)-ChecksumLen:])
	return ComputeChecksum(buf) != incoming
}
