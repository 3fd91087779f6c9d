package engine

import (
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/fusiyuan2010/cuttdb/internal/segment"
	"github.com/fusiyuan2010/cuttdb/pkg/errors"
)

// mainIndexMagic identifies mainindex.cdb (spec.md §6).
var mainIndexMagic = [17]byte{'C', 'u', 'T', 't', 'D', 'b', 'F', 'i', 'L', 'e', 'P', 'a', 'R', 't', 'I', 'a', 'L'}

// mainIndexHeaderSize is the fixed 64-byte mainindex.cdb header.
const mainIndexHeaderSize = 64

// Open-signature values (spec.md §6): 2 = OPEN, 3 = CLOSED.
const (
	signatureOpen   uint32 = 2
	signatureClosed uint32 = 3
)

// mainIndexHeader is mainindex.cdb's fixed header: magic, hsize, oid, roid,
// rnum, open-signature.
type mainIndexHeader struct {
	HashSize  uint32
	OID       uint64
	ROID      uint64
	RecordNum uint64
	Signature uint32
}

func encodeMainIndexHeader(h mainIndexHeader) [mainIndexHeaderSize]byte {
	var buf [mainIndexHeaderSize]byte
	copy(buf[0:17], mainIndexMagic[:])
	binary.LittleEndian.PutUint32(buf[17:21], h.HashSize)
	binary.LittleEndian.PutUint64(buf[21:29], h.OID)
	binary.LittleEndian.PutUint64(buf[29:37], h.ROID)
	binary.LittleEndian.PutUint64(buf[37:45], h.RecordNum)
	binary.LittleEndian.PutUint32(buf[45:49], h.Signature)
	return buf
}

func decodeMainIndexHeader(buf []byte) (mainIndexHeader, error) {
	if len(buf) < mainIndexHeaderSize {
		return mainIndexHeader{}, errors.NewEngineError(nil, errors.ErrorCodeHeaderError, "mainindex header truncated").
			WithOperation("Open")
	}
	if string(buf[0:17]) != string(mainIndexMagic[:]) {
		return mainIndexHeader{}, errors.NewEngineError(nil, errors.ErrorCodeHeaderError, "mainindex bad magic").
			WithOperation("Open")
	}
	var h mainIndexHeader
	h.HashSize = binary.LittleEndian.Uint32(buf[17:21])
	h.OID = binary.LittleEndian.Uint64(buf[21:29])
	h.ROID = binary.LittleEndian.Uint64(buf[29:37])
	h.RecordNum = binary.LittleEndian.Uint64(buf[37:45])
	h.Signature = binary.LittleEndian.Uint32(buf[45:49])
	return h, nil
}

func mainIndexPath(dir string) string { return filepath.Join(dir, "mainindex.cdb") }

// readMainIndex reads mainindex.cdb's header and main bucket table, if the
// file exists. ok is false when the file is missing (a brand-new database).
func readMainIndex(dir string) (h mainIndexHeader, mtable []segment.VOffset, ok bool, err error) {
	f, oerr := os.Open(mainIndexPath(dir))
	if oerr != nil {
		if os.IsNotExist(oerr) {
			return mainIndexHeader{}, nil, false, nil
		}
		return mainIndexHeader{}, nil, false, errors.NewEngineError(oerr, errors.ErrorCodeFileOpenFailed, "failed to open mainindex.cdb").
			WithOperation("Open")
	}
	defer f.Close()

	var hdrBuf [mainIndexHeaderSize]byte
	if _, err := io.ReadFull(f, hdrBuf[:]); err != nil {
		return mainIndexHeader{}, nil, false, errors.NewEngineError(err, errors.ErrorCodeHeaderError, "failed to read mainindex.cdb header").
			WithOperation("Open")
	}
	h, derr := decodeMainIndexHeader(hdrBuf[:])
	if derr != nil {
		return mainIndexHeader{}, nil, false, derr
	}

	mtable = make([]segment.VOffset, h.HashSize)
	entries := make([]byte, int(h.HashSize)*6)
	if _, err := io.ReadFull(f, entries); err != nil {
		return mainIndexHeader{}, nil, false, errors.NewEngineError(err, errors.ErrorCodeHeaderError, "failed to read mainindex.cdb table").
			WithOperation("Open")
	}
	for i := range mtable {
		mtable[i] = segment.DecodeVOffset(entries[i*6 : i*6+6])
	}
	return h, mtable, true, nil
}

// writeMainIndex writes mainindex.cdb's header and main bucket table,
// atomically via a temp-file-then-rename so a crash mid-write never leaves
// a torn header (spec.md §4.G step 8 "write header ... proceed").
func writeMainIndex(dir string, h mainIndexHeader, mtable []segment.VOffset) error {
	tmp := mainIndexPath(dir) + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return errors.NewEngineError(err, errors.ErrorCodeFileOpenFailed, "failed to create mainindex.cdb").
			WithOperation("Close")
	}

	hdrBuf := encodeMainIndexHeader(h)
	if _, err := f.Write(hdrBuf[:]); err != nil {
		f.Close()
		return errors.NewEngineError(err, errors.ErrorCodeWriteError, "failed to write mainindex.cdb header").
			WithOperation("Close")
	}

	entries := make([]byte, len(mtable)*6)
	for i, off := range mtable {
		segment.EncodeVOffset(entries[i*6:i*6+6], off)
	}
	if _, err := f.Write(entries); err != nil {
		f.Close()
		return errors.NewEngineError(err, errors.ErrorCodeWriteError, "failed to write mainindex.cdb table").
			WithOperation("Close")
	}
	if err := f.Close(); err != nil {
		return errors.NewEngineError(err, errors.ErrorCodeWriteError, "failed to close mainindex.cdb").
			WithOperation("Close")
	}
	if err := os.Rename(tmp, mainIndexPath(dir)); err != nil {
		return errors.NewEngineError(err, errors.ErrorCodeWriteError, "failed to install mainindex.cdb").
			WithOperation("Close")
	}
	return nil
}

// segmentMetaRecord is one mainmeta.cdb record: the junk-bytes and
// nearest-expire bookkeeping that isn't persisted in the segment's own
// 64-byte header (spec.md §3 "File meta", §6 recovery step 2).
type segmentMetaRecord struct {
	Type          segment.Type
	FID           uint32
	Junk          uint32
	NearestExpire uint32
}

const segmentMetaRecordSize = 4 + 4 + 4 + 4

func mainMetaPath(dir string) string { return filepath.Join(dir, "mainmeta.cdb") }

// readMainMeta reads every segmentMetaRecord from mainmeta.cdb, if present.
func readMainMeta(dir string) ([]segmentMetaRecord, error) {
	data, err := os.ReadFile(mainMetaPath(dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.NewEngineError(err, errors.ErrorCodeFileOpenFailed, "failed to read mainmeta.cdb").
			WithOperation("Open")
	}

	var out []segmentMetaRecord
	for off := 0; off+segmentMetaRecordSize <= len(data); off += segmentMetaRecordSize {
		rec := segmentMetaRecord{
			Type:          segment.Type(binary.LittleEndian.Uint32(data[off : off+4])),
			FID:           binary.LittleEndian.Uint32(data[off+4 : off+8]),
			Junk:          binary.LittleEndian.Uint32(data[off+8 : off+12]),
			NearestExpire: binary.LittleEndian.Uint32(data[off+12 : off+16]),
		}
		out = append(out, rec)
	}
	return out, nil
}

// writeMainMeta persists recs to mainmeta.cdb.
func writeMainMeta(dir string, recs []segmentMetaRecord) error {
	buf := make([]byte, 0, len(recs)*segmentMetaRecordSize)
	for _, r := range recs {
		var b [segmentMetaRecordSize]byte
		binary.LittleEndian.PutUint32(b[0:4], uint32(r.Type))
		binary.LittleEndian.PutUint32(b[4:8], r.FID)
		binary.LittleEndian.PutUint32(b[8:12], r.Junk)
		binary.LittleEndian.PutUint32(b[12:16], r.NearestExpire)
		buf = append(buf, b[:]...)
	}
	if err := os.WriteFile(mainMetaPath(dir), buf, 0o644); err != nil {
		return errors.NewEngineError(err, errors.ErrorCodeWriteError, "failed to write mainmeta.cdb").
			WithOperation("Close")
	}
	return nil
}
