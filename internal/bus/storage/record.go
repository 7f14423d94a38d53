package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
)

// Log record framing, big-endian:
//
//	[magic u8=0xA1][crc32 u32 over payload][length u32][type u8][timestamp f64][payload]
//
// ENQUEUE payloads carry the serialized message envelope; all other types
// carry the UTF-8 message id.
const (
	magicByte  = 0xA1
	headerSize = 18
)

type recordType uint8

const (
	recordEnqueue recordType = iota
	recordAck
	recordNack
	recordProcessing
	recordDLQ
)

func (t recordType) String() string {
	switch t {
	case recordEnqueue:
		return "ENQUEUE"
	case recordAck:
		return "ACK"
	case recordNack:
		return "NACK"
	case recordProcessing:
		return "PROCESSING"
	case recordDLQ:
		return "DLQ"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

var (
	errBadMagic   = errors.New("invalid magic byte")
	errBadCRC     = errors.New("crc mismatch")
	errShortWrite = errors.New("truncated record")
)

// encodeRecord frames a record with its header. The caller supplies the
// timestamp so compaction can preserve original ordering.
func encodeRecord(t recordType, timestamp float64, payload []byte) []byte {
	buf := make([]byte, headerSize+len(payload))
	buf[0] = magicByte
	binary.BigEndian.PutUint32(buf[1:5], crc32.ChecksumIEEE(payload))
	binary.BigEndian.PutUint32(buf[5:9], uint32(len(payload)))
	buf[9] = byte(t)
	binary.BigEndian.PutUint64(buf[10:18], math.Float64bits(timestamp))
	copy(buf[headerSize:], payload)
	return buf
}

type recordHeader struct {
	crc       uint32
	length    uint32
	typ       recordType
	timestamp float64
}

// readHeader reads one record header from r. Returns io.EOF at a clean end
// of file, errShortWrite on a truncated header, errBadMagic on a framing
// error.
func readHeader(r io.Reader) (recordHeader, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		if err == io.EOF {
			return recordHeader{}, io.EOF
		}
		return recordHeader{}, errShortWrite
	}
	if buf[0] != magicByte {
		return recordHeader{}, errBadMagic
	}
	return recordHeader{
		crc:       binary.BigEndian.Uint32(buf[1:5]),
		length:    binary.BigEndian.Uint32(buf[5:9]),
		typ:       recordType(buf[9]),
		timestamp: math.Float64frombits(binary.BigEndian.Uint64(buf[10:18])),
	}, nil
}

// verifyCRC checks the payload against the header checksum.
func (h recordHeader) verifyCRC(payload []byte) bool {
	return crc32.ChecksumIEEE(payload) == h.crc
}
