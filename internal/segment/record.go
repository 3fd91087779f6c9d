package segment

import "encoding/binary"

const (
	// RecordMagic marks a live data record on disk (written by this
	// implementation; matches 0x19871022 from spec.md §6).
	RecordMagic uint32 = 0x19871022

	// RecordMagicDeleted is the legacy deleted-record marker
	// (spec.md §9 OQ2). The scanner still recognizes it as a live record
	// during recovery/compaction scans for backward compatibility with
	// segments written by the original engine, but this implementation
	// never emits it: deletions are tracked exclusively via the deletion
	// log (spec.md §3 Lifecycle).
	RecordMagicDeleted uint32 = 0x19871023

	// PageMagic marks an index page (matches 0x19890604).
	PageMagic uint32 = 0x19890604

	// RecordHeaderSize is RECHSIZE: magic(4) + ksize(4) + vsize(4) +
	// expire(4) + oid(8).
	RecordHeaderSize = 4 + 4 + 4 + 4 + 8
)

// Record is a single data-log entry (CDBREC on disk).
type Record struct {
	Magic   uint32
	KeySize uint32
	ValSize uint32
	Expire  uint32 // absolute unix seconds; 0 = never
	OID     uint64
	Key     []byte
	Value   []byte
}

// EncodedSize returns the unaligned on-disk size of the record.
func (r *Record) EncodedSize() int {
	return RecordHeaderSize + len(r.Key) + len(r.Value)
}

// Encode appends the on-disk byte representation of r to dst and returns
// the result.
func (r *Record) Encode(dst []byte) []byte {
	var hdr [RecordHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], r.Magic)
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(len(r.Key)))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(r.Value)))
	binary.LittleEndian.PutUint32(hdr[12:16], r.Expire)
	binary.LittleEndian.PutUint64(hdr[16:24], r.OID)

	dst = append(dst, hdr[:]...)
	dst = append(dst, r.Key...)
	dst = append(dst, r.Value...)
	return dst
}

// DecodeRecordHeader parses the fixed header portion of a record, so a
// caller holding only the "advance read" window can learn ksize/vsize
// before deciding whether a second read is needed (spec.md §4.A read path).
func DecodeRecordHeader(buf []byte) (Record, error) {
	if len(buf) < RecordHeaderSize {
		return Record{}, errCorruptSegment("record header truncated")
	}
	var r Record
	r.Magic = binary.LittleEndian.Uint32(buf[0:4])
	r.KeySize = binary.LittleEndian.Uint32(buf[4:8])
	r.ValSize = binary.LittleEndian.Uint32(buf[8:12])
	r.Expire = binary.LittleEndian.Uint32(buf[12:16])
	r.OID = binary.LittleEndian.Uint64(buf[16:24])

	if r.Magic != RecordMagic && r.Magic != RecordMagicDeleted {
		return Record{}, errCorruptSegment("bad record magic")
	}
	return r, nil
}

// DecodeRecord parses a complete record (header + key + value) from buf.
func DecodeRecord(buf []byte) (Record, error) {
	r, err := DecodeRecordHeader(buf)
	if err != nil {
		return Record{}, err
	}
	need := RecordHeaderSize + int(r.KeySize) + int(r.ValSize)
	if len(buf) < need {
		return Record{}, errCorruptSegment("record body truncated")
	}
	r.Key = append([]byte(nil), buf[RecordHeaderSize:RecordHeaderSize+int(r.KeySize)]...)
	r.Value = append([]byte(nil), buf[RecordHeaderSize+int(r.KeySize):need]...)
	return r, nil
}
