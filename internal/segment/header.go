package segment

import (
	"encoding/binary"
	"errors"
)

// HeaderSize is the fixed 64-byte header every segment file begins with,
// so a stray segment can be classified without external metadata
// (spec.md §4.A).
const HeaderSize = 64

// segmentMagic identifies a cuttdb segment file, distinct from the record
// and page magics embedded in the body.
var segmentMagic = [16]byte{'C', 'u', 'T', 't', 'D', 'b', 'S', 'e', 'G', 'm', 'E', 'n', 'T', 0, 0, 0}

// Status is a segment's lifecycle state (I6/I7 in spec.md §3).
type Status uint32

const (
	StatusWriting Status = 1
	StatusFull    Status = 2
)

// Type distinguishes an index segment from a data segment.
type Type uint32

const (
	TypeIndex Type = 1
	TypeData  Type = 2
)

// Header is the on-disk segment header: magic + first-oid + last-oid +
// size + fid + status + type, zero-padded to HeaderSize.
type Header struct {
	FirstOID uint64
	LastOID  uint64
	Size     uint32
	FID      uint32
	Status   Status
	Type     Type
}

// Encode renders h as a HeaderSize-byte array.
func (h Header) Encode() [HeaderSize]byte {
	var buf [HeaderSize]byte
	copy(buf[0:16], segmentMagic[:])
	binary.LittleEndian.PutUint64(buf[16:24], h.FirstOID)
	binary.LittleEndian.PutUint64(buf[24:32], h.LastOID)
	binary.LittleEndian.PutUint32(buf[32:36], h.Size)
	binary.LittleEndian.PutUint32(buf[36:40], h.FID)
	binary.LittleEndian.PutUint32(buf[40:44], uint32(h.Status))
	binary.LittleEndian.PutUint32(buf[44:48], uint32(h.Type))
	return buf
}

var errBadSegmentMagic = errors.New("segment: bad header magic")

// DecodeHeader parses a HeaderSize-byte segment header.
func DecodeHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, errCorruptSegment("segment header truncated")
	}
	if string(buf[0:16]) != string(segmentMagic[:]) {
		return Header{}, errBadSegmentMagic
	}
	var h Header
	h.FirstOID = binary.LittleEndian.Uint64(buf[16:24])
	h.LastOID = binary.LittleEndian.Uint64(buf[24:32])
	h.Size = binary.LittleEndian.Uint32(buf[32:36])
	h.FID = binary.LittleEndian.Uint32(buf[36:40])
	h.Status = Status(binary.LittleEndian.Uint32(buf[40:44]))
	h.Type = Type(binary.LittleEndian.Uint32(buf[44:48]))
	return h, nil
}
