// Package segment implements the append-only segmented log store (spec.md
// component A): data and index segment files, write buffers, the segment
// file-descriptor LRU cache, and the deletion log. It is grounded on
// vio_apnd2.c (the original "APND2" VIO backend) and cdb_vio.h's
// capability-set shape, adapted to the teacher's (ignite) Storage/Config
// lifecycle pattern.
package segment

import (
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/fusiyuan2010/cuttdb/pkg/filesys"
)

// Meta mirrors the original's per-segment file-meta bookkeeping (spec.md
// §3 "File meta").
type Meta struct {
	FID           uint32
	FirstOID      uint64
	LastOID       uint64
	Size          uint32
	Junk          uint32
	Status        Status
	Type          Type
	NearestExpire uint32
	RefCount      int32
	UnlinkPending bool
}

// Config configures a Store, following the teacher's Config-struct
// injection pattern (Options + Logger).
type Config struct {
	Dir                   string
	DataSegmentCap        uint32
	IndexSegmentCap       uint32
	DataBufferSize        int
	IndexBufferSize       int
	DeletionBufferEntries int
	FDCacheSize           int
	Logger                *zap.SugaredLogger
}

// lowWatermark is the "leave at least 16 KiB" rotation threshold from
// spec.md §4.A.
const lowWatermark = 16 * 1024

// Store owns every on-disk segment file, the write buffers, the fd cache,
// and the deletion log. All segment-file I/O and metadata mutation is
// serialized by mu, the segment-store lock from spec.md §5.
type Store struct {
	mu sync.Mutex

	dir    string
	log    *zap.SugaredLogger
	fds    *FDCache
	dataCap, indexCap uint32

	dataBuf  *Buffer
	indexBuf *Buffer

	dataFile  *os.File // currently WRITING data segment, opened RDWR
	indexFile *os.File // currently WRITING index segment, opened RDWR

	dataSegs  []*Meta // ordered by first-oid (== creation order)
	indexSegs []*Meta
	dataByFID  map[uint32]*Meta
	indexByFID map[uint32]*Meta

	deletionBuf   []VOffset
	deletionLimit int
	deletionFile  *os.File
}

// Open scans dir for existing segments, opens (or creates) the current
// WRITING segment of each type, and returns a ready Store. Recovery's use
// of the discovered metadata (replaying records past roid, rebuilding
// mtable) happens one layer up, in internal/engine; Store only exposes the
// raw segment inventory via Segments.
func Open(cfg Config) (*Store, error) {
	if err := filesys.CreateDir(cfg.Dir, 0o755, true); err != nil {
		return nil, errIO(err, "failed to create data directory")
	}

	s := &Store{
		dir:           cfg.Dir,
		log:           cfg.Logger,
		fds:           NewFDCache(cfg.Dir, cfg.FDCacheSize),
		dataCap:       cfg.DataSegmentCap,
		indexCap:      cfg.IndexSegmentCap,
		dataBuf:       NewBuffer(cfg.DataBufferSize),
		indexBuf:      NewBuffer(cfg.IndexBufferSize),
		dataByFID:     map[uint32]*Meta{},
		indexByFID:    map[uint32]*Meta{},
		deletionLimit: cfg.DeletionBufferEntries,
	}

	dataNames, indexNames, err := DiscoverSegments(cfg.Dir)
	if err != nil {
		return nil, err
	}

	for _, name := range dataNames {
		if err := s.loadSegment(TypeData, name); err != nil {
			return nil, err
		}
	}
	for _, name := range indexNames {
		if err := s.loadSegment(TypeIndex, name); err != nil {
			return nil, err
		}
	}

	if err := s.reopenOrCreateWriting(TypeData); err != nil {
		return nil, err
	}
	if err := s.reopenOrCreateWriting(TypeIndex); err != nil {
		return nil, err
	}

	delFile, err := os.OpenFile(deletionLogPath(cfg.Dir), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errIO(err, "failed to open deletion log")
	}
	s.deletionFile = delFile

	return s, nil
}

func deletionLogPath(dir string) string {
	return filepath.Join(dir, "dellog.cdb")
}

func (s *Store) loadSegment(t Type, name string) error {
	path := filepath.Join(s.dir, name)
	f, err := os.Open(path)
	if err != nil {
		return errIO(err, "failed to open segment during scan")
	}
	defer f.Close()

	var hdr [HeaderSize]byte
	if _, err := f.ReadAt(hdr[:], 0); err != nil {
		return errIO(err, "failed to read segment header during scan")
	}
	h, err := DecodeHeader(hdr[:])
	if err != nil {
		if s.log != nil {
			s.log.Warnw("skipping unreadable segment", "file", name, "error", err)
		}
		return nil
	}

	meta := &Meta{
		FID: h.FID, FirstOID: h.FirstOID, LastOID: h.LastOID,
		Size: h.Size, Status: h.Status, Type: h.Type,
	}
	s.addMeta(meta)
	return nil
}

func (s *Store) addMeta(m *Meta) {
	if m.Type == TypeIndex {
		s.indexSegs = append(s.indexSegs, m)
		s.indexByFID[m.FID] = m
	} else {
		s.dataSegs = append(s.dataSegs, m)
		s.dataByFID[m.FID] = m
	}
}

// ApplySegmentMeta installs junk-byte and nearest-expire bookkeeping for an
// already-discovered segment, used by recovery when restoring mainmeta.cdb
// (spec.md §6 recovery step 2: "other fields are re-derived"). Reports
// whether fid names a known segment of type t.
func (s *Store) ApplySegmentMeta(t Type, fid uint32, junk uint32, nearestExpire uint32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.metaFor(t, fid)
	if m == nil {
		return false
	}
	m.Junk = junk
	m.NearestExpire = nearestExpire
	return true
}

// AddSegmentJunk accumulates n more junk bytes onto a segment's bookkeeping,
// used by recovery and the KV pipeline whenever a record or page is
// superseded (spec.md §3 Lifecycle: "the old offset's space is added to its
// segment's junk-bytes").
func (s *Store) AddSegmentJunk(t Type, fid uint32, n uint32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m := s.metaFor(t, fid); m != nil {
		m.Junk += n
	}
}

// UnlinkSegment removes a FULL, non-writing segment's metadata and backing
// file, invalidating any cached fd first. Used by compaction once every
// page or record still referenced by the index has been rewritten
// elsewhere (spec.md §4.F: "mark the segment unlink-pending; actually
// unlink when ref-count reaches zero" — this Go port has no concurrent
// in-flight-reader refcount to wait on, so the unlink happens as soon as
// compaction's rewrite pass for the segment completes).
func (s *Store) UnlinkSegment(t Type, fid uint32) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m := s.metaFor(t, fid)
	if m == nil || m.Status != StatusFull {
		return nil
	}

	s.fds.Invalidate(t, fid)
	if err := os.Remove(Path(s.dir, t, fid)); err != nil && !os.IsNotExist(err) {
		return errIO(err, "failed to unlink compacted segment")
	}

	if t == TypeIndex {
		delete(s.indexByFID, fid)
		s.indexSegs = removeMeta(s.indexSegs, fid)
	} else {
		delete(s.dataByFID, fid)
		s.dataSegs = removeMeta(s.dataSegs, fid)
	}
	return nil
}

func removeMeta(segs []*Meta, fid uint32) []*Meta {
	out := segs[:0]
	for _, m := range segs {
		if m.FID != fid {
			out = append(out, m)
		}
	}
	return out
}

// Segments returns a stable, first-oid-ordered snapshot of the segment
// metadata table for the given type, used by recovery and the compaction
// workers.
func (s *Store) Segments(t Type) []Meta {
	s.mu.Lock()
	defer s.mu.Unlock()

	src := s.dataSegs
	if t == TypeIndex {
		src = s.indexSegs
	}
	out := make([]Meta, len(src))
	for i, m := range src {
		out[i] = *m
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FirstOID < out[j].FirstOID })
	return out
}

func (s *Store) reopenOrCreateWriting(t Type) error {
	segs := s.dataSegs
	if t == TypeIndex {
		segs = s.indexSegs
	}

	for _, m := range segs {
		if m.Status == StatusWriting {
			f, err := os.OpenFile(Path(s.dir, t, m.FID), os.O_RDWR, 0o644)
			if err != nil {
				return errIO(err, "failed to reopen writing segment")
			}
			s.setWritingFile(t, f)
			buf := s.bufferFor(t)
			buf.Reset(m.FID, uint64(m.Size))
			return nil
		}
	}

	return s.rotate(t)
}

func (s *Store) bufferFor(t Type) *Buffer {
	if t == TypeIndex {
		return s.indexBuf
	}
	return s.dataBuf
}

func (s *Store) setWritingFile(t Type, f *os.File) {
	if t == TypeIndex {
		s.indexFile = f
	} else {
		s.dataFile = f
	}
}

func (s *Store) writingFile(t Type) *os.File {
	if t == TypeIndex {
		return s.indexFile
	}
	return s.dataFile
}

func (s *Store) capFor(t Type) uint32 {
	if t == TypeIndex {
		return s.indexCap
	}
	return s.dataCap
}

func (s *Store) metaFor(t Type, fid uint32) *Meta {
	if t == TypeIndex {
		return s.indexByFID[fid]
	}
	return s.dataByFID[fid]
}

// allocateFID picks a free fid by linear probing forward from the highest
// known fid of this type, wrapping at MaxFID (spec.md §4.A).
func (s *Store) allocateFID(t Type) (uint32, error) {
	byFID := s.dataByFID
	if t == TypeIndex {
		byFID = s.indexByFID
	}

	start := uint32(1)
	for fid := range byFID {
		if fid >= start {
			start = fid + 1
		}
	}

	for i := 0; i < MaxFID; i++ {
		fid := (start + uint32(i)) % MaxFID
		if fid == 0 {
			continue
		}
		if _, used := byFID[fid]; !used {
			return fid, nil
		}
	}
	return 0, errNoFreeFid()
}

// rotate finalizes the current writing segment (if any) as FULL and opens
// a freshly allocated one as the new writing segment.
func (s *Store) rotate(t Type) error {
	if cur := s.writingFile(t); cur != nil {
		if err := s.finalizeWriting(t); err != nil {
			return err
		}
	}

	fid, err := s.allocateFID(t)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(Path(s.dir, t, fid), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return errIO(err, "failed to create segment file")
	}

	meta := &Meta{FID: fid, Status: StatusWriting, Type: t, Size: HeaderSize}
	hdr := Header{FID: fid, Status: StatusWriting, Type: t, Size: HeaderSize}
	if _, err := f.WriteAt(headerBytes(hdr), 0); err != nil {
		f.Close()
		return errIO(err, "failed to write new segment header")
	}

	s.addMeta(meta)
	s.setWritingFile(t, f)
	s.bufferFor(t).Reset(fid, HeaderSize)
	return nil
}

func headerBytes(h Header) []byte {
	arr := h.Encode()
	return arr[:]
}

// finalizeWriting flushes the current writing segment's buffer, marks it
// FULL, rewrites its header, and closes the write handle.
func (s *Store) finalizeWriting(t Type) error {
	if err := s.flushBuffer(t); err != nil {
		return err
	}

	buf := s.bufferFor(t)
	meta := s.metaFor(t, buf.FID())
	if meta == nil {
		return nil
	}
	meta.Status = StatusFull

	f := s.writingFile(t)
	hdr := Header{FID: meta.FID, FirstOID: meta.FirstOID, LastOID: meta.LastOID,
		Size: meta.Size, Status: StatusFull, Type: t}
	if _, err := f.WriteAt(headerBytes(hdr), 0); err != nil {
		return errIO(err, "failed to finalize segment header")
	}
	return f.Close()
}

// flushBuffer writes the buffer's pending bytes to the writing segment file
// and clears the pending window.
func (s *Store) flushBuffer(t Type) error {
	buf := s.bufferFor(t)
	if buf.Len() == 0 {
		return nil
	}

	f := s.writingFile(t)
	if _, err := f.WriteAt(buf.Pending(), int64(buf.Base())); err != nil {
		return errIO(err, "failed to flush segment buffer")
	}
	buf.MarkFlushed()
	return nil
}

// Flush flushes the data buffer, index buffer, and deletion log (spec.md
// §4.F "Flush (5s)").
func (s *Store) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushBuffer(TypeData); err != nil {
		return err
	}
	if err := s.flushBuffer(TypeIndex); err != nil {
		return err
	}
	return s.flushDeletionLog()
}

func (s *Store) flushDeletionLog() error {
	if len(s.deletionBuf) == 0 {
		return nil
	}
	buf := make([]byte, 0, len(s.deletionBuf)*6)
	for _, off := range s.deletionBuf {
		var b [6]byte
		putVOffset(b[:], off)
		buf = append(buf, b[:]...)
	}
	if _, err := s.deletionFile.Write(buf); err != nil {
		return errIO(err, "failed to write deletion log")
	}
	s.deletionBuf = s.deletionBuf[:0]
	return nil
}

// appendAligned advances buf/file state to a 16-byte-aligned offset,
// rotating the segment first if writing payload would leave less than
// lowWatermark bytes free.
func (s *Store) appendAligned(t Type, payload []byte) (VOffset, *Meta, error) {
	buf := s.bufferFor(t)
	meta := s.metaFor(t, buf.FID())

	cur := buf.Base() + uint64(buf.Len())
	aligned := AlignUp(cur)
	projected := aligned + uint64(len(payload))

	if projected > uint64(s.capFor(t))-lowWatermark {
		if err := s.rotate(t); err != nil {
			return 0, nil, err
		}
		buf = s.bufferFor(t)
		meta = s.metaFor(t, buf.FID())
		cur = buf.Base() + uint64(buf.Len())
		aligned = AlignUp(cur)
	}

	if pad := aligned - cur; pad > 0 {
		buf.Append(make([]byte, pad))
	}

	start := buf.Base() + uint64(buf.Len())

	if buf.Fits(len(payload)) {
		buf.Append(payload)
	} else {
		if err := s.flushBuffer(t); err != nil {
			return 0, nil, err
		}
		if buf.Fits(len(payload)) {
			buf.Append(payload)
		} else {
			// Larger than the buffer's capacity: bypass it and write
			// directly, keeping the buffer positioned right after.
			f := s.writingFile(t)
			if _, err := f.WriteAt(payload, int64(start)); err != nil {
				return 0, nil, errIO(err, "failed to write oversized record")
			}
			buf.Reset(buf.FID(), start+uint64(len(payload)))
		}
	}

	voff := NewVOffset(meta.FID, start)
	meta.Size = uint32(start + uint64(len(payload)))
	return voff, meta, nil
}

// AppendRecord writes rec to the data log, returning its virtual offset.
func (s *Store) AppendRecord(rec *Record) (VOffset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := rec.Encode(make([]byte, 0, rec.EncodedSize()))
	voff, meta, err := s.appendAligned(TypeData, payload)
	if err != nil {
		return 0, err
	}
	if meta.FirstOID == 0 || rec.OID < meta.FirstOID {
		meta.FirstOID = rec.OID
	}
	if rec.OID > meta.LastOID {
		meta.LastOID = rec.OID
	}
	return voff, nil
}

// AppendPage writes page to the index log, returning its virtual offset.
func (s *Store) AppendPage(page *Page) (VOffset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	payload := page.Encode(make([]byte, 0, page.EncodedSize()))
	voff, meta, err := s.appendAligned(TypeIndex, payload)
	if err != nil {
		return 0, err
	}
	if meta.FirstOID == 0 || page.OID < meta.FirstOID {
		meta.FirstOID = page.OID
	}
	if page.OID > meta.LastOID {
		meta.LastOID = page.OID
	}
	return voff, nil
}

// AppendDeletion records a deleted record's offset, spilling the in-memory
// deletion buffer to disk once it reaches its configured capacity (spec.md
// §4.A).
func (s *Store) AppendDeletion(off VOffset) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deletionBuf = append(s.deletionBuf, off)
	if len(s.deletionBuf) >= s.deletionLimit {
		return s.flushDeletionLog()
	}
	return nil
}

// DrainDeletionLog reads every offset ever recorded in the on-disk deletion
// log, invoking visit for each (recovery step 7, spec.md §6).
func (s *Store) DrainDeletionLog(visit func(VOffset) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushDeletionLog(); err != nil {
		return err
	}

	data, err := os.ReadFile(deletionLogPath(s.dir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errIO(err, "failed to read deletion log")
	}

	for i := 0; i+6 <= len(data); i += 6 {
		off := getVOffset(data[i : i+6])
		if err := visit(off); err != nil {
			return err
		}
	}
	return nil
}

// RemoveDeletionLog unlinks the on-disk deletion log file, used by Close
// (spec.md §5 "close ... unlinks pid and deletion-log files").
func (s *Store) RemoveDeletionLog() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(deletionLogPath(s.dir)); err != nil && !os.IsNotExist(err) {
		return errIO(err, "failed to remove deletion log")
	}
	return nil
}

// TruncateDeletionLog discards the on-disk deletion log, used by the
// segment store's clean-point hook once dirty pages have all been flushed
// (spec.md §4.F "Dirty page flush").
func (s *Store) TruncateDeletionLog() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.deletionFile.Truncate(0); err != nil {
		return errIO(err, "failed to truncate deletion log")
	}
	_, err := s.deletionFile.Seek(0, io.SeekStart)
	if err != nil {
		return errIO(err, "failed to reseek deletion log")
	}
	return nil
}

const (
	defaultRecordAdvanceRead = 4 * 1024
	defaultPageAdvanceRead   = 3 * 1024
)

// ReadRecord reads the record at off. If fullRead is false, only enough of
// the record is guaranteed to be read to compare keys (spec.md §4.A VIO
// read-rec contract); callers that need the value should pass fullRead.
func (s *Store) ReadRecord(off VOffset, fullRead bool) (Record, error) {
	return s.ReadRecordAdvance(off, defaultRecordAdvanceRead, fullRead)
}

// ReadRecordAdvance is ReadRecord with an explicit advance-read window size.
func (s *Store) ReadRecordAdvance(off VOffset, advance int, fullRead bool) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	window, err := s.readWindow(TypeData, off, advance)
	if err != nil {
		return Record{}, err
	}

	hdr, err := DecodeRecordHeader(window)
	if err != nil {
		return Record{}, err
	}

	need := RecordHeaderSize + int(hdr.KeySize) + int(hdr.ValSize)
	if need <= len(window) {
		return DecodeRecord(window)
	}

	full, err := s.readWindow(TypeData, off, need)
	if err != nil {
		return Record{}, err
	}
	return DecodeRecord(full)
}

// ReadPage reads the index page at off.
func (s *Store) ReadPage(off VOffset) (Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	window, err := s.readWindow(TypeIndex, off, defaultPageAdvanceRead)
	if err != nil {
		return Page{}, err
	}

	hdr, err := DecodePageHeader(window)
	if err != nil {
		return Page{}, err
	}

	need := PageHeaderSize + cap(hdr.Items)*PageItemSize
	if need <= len(window) {
		return DecodePage(window)
	}

	full, err := s.readWindow(TypeIndex, off, need)
	if err != nil {
		return Page{}, err
	}
	return DecodePage(full)
}

// readWindow serves n bytes starting at off's real offset, preferring the
// in-memory write buffer when off names the currently-writing segment and
// the whole window is already pending; otherwise it flushes (so the bytes
// are certainly on disk) and reads via the fd cache.
func (s *Store) readWindow(t Type, off VOffset, n int) ([]byte, error) {
	fid := off.FileID()
	real := off.RealOffset()

	buf := s.bufferFor(t)
	if buf.FID() == fid {
		if window, ok := buf.Lookup(real, n); ok {
			out := make([]byte, len(window))
			copy(out, window)
			return out, nil
		}
		if err := s.flushBuffer(t); err != nil {
			return nil, err
		}
	}

	f, err := s.fds.Get(t, fid)
	if err != nil {
		return nil, err
	}

	meta := s.metaFor(t, fid)
	remaining := n
	if meta != nil {
		if avail := int(meta.Size) - int(real); avail < remaining {
			remaining = avail
		}
	}
	if remaining <= 0 {
		return nil, errCorruptSegment("read past end of segment")
	}

	out := make([]byte, remaining)
	if _, err := f.ReadAt(out, int64(real)); err != nil {
		return nil, errIO(err, "failed to read segment window")
	}
	return out, nil
}

// ScanPages walks every index segment in first-oid order, invoking visit for
// each page found. A corrupt page at some offset causes the scan to resync
// by stepping forward 16 bytes, matching spec.md §7's crash-tolerant scan
// contract ("scanning must tolerate torn tails from crashes"). Used by
// recovery to rebuild the main bucket table.
func (s *Store) ScanPages(visit func(fid uint32, off VOffset, page Page) error) error {
	for _, meta := range s.Segments(TypeIndex) {
		data, err := os.ReadFile(Path(s.dir, TypeIndex, meta.FID))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errIO(err, "failed to read index segment during scan")
		}

		pos := HeaderSize
		for pos+PageHeaderSize <= len(data) {
			page, err := DecodePage(data[pos:])
			if err != nil {
				pos += alignSize
				continue
			}
			if err := visit(meta.FID, NewVOffset(meta.FID, uint64(pos)), page); err != nil {
				return err
			}
			pos += int(AlignUp(uint64(page.EncodedSize())))
		}
	}
	return nil
}

// ScanRecords walks every data segment in first-oid order, invoking visit
// for each record found, with the same crash-tolerant resync behavior as
// ScanPages. Used by recovery to replay records past roid.
func (s *Store) ScanRecords(visit func(fid uint32, off VOffset, rec Record) error) error {
	for _, meta := range s.Segments(TypeData) {
		data, err := os.ReadFile(Path(s.dir, TypeData, meta.FID))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return errIO(err, "failed to read data segment during scan")
		}

		pos := HeaderSize
		for pos+RecordHeaderSize <= len(data) {
			rec, err := DecodeRecord(data[pos:])
			if err != nil {
				pos += alignSize
				continue
			}
			if err := visit(meta.FID, NewVOffset(meta.FID, uint64(pos)), rec); err != nil {
				return err
			}
			pos += int(AlignUp(uint64(rec.EncodedSize())))
		}
	}
	return nil
}

// Close flushes everything, finalizes both writing segments' headers
// without marking them FULL (they remain WRITING so the next Open resumes
// appending to them), and closes every open file handle.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.flushBuffer(TypeData); err != nil {
		return err
	}
	if err := s.flushBuffer(TypeIndex); err != nil {
		return err
	}
	if err := s.flushDeletionLog(); err != nil {
		return err
	}

	for t, f := range map[Type]*os.File{TypeData: s.dataFile, TypeIndex: s.indexFile} {
		buf := s.bufferFor(t)
		meta := s.metaFor(t, buf.FID())
		if meta != nil {
			hdr := Header{FID: meta.FID, FirstOID: meta.FirstOID, LastOID: meta.LastOID,
				Size: meta.Size, Status: StatusWriting, Type: t}
			if _, err := f.WriteAt(headerBytes(hdr), 0); err != nil {
				return errIO(err, "failed to write final segment header")
			}
		}
		if err := f.Close(); err != nil {
			return errIO(err, "failed to close segment file")
		}
	}

	s.fds.Close()
	return s.deletionFile.Close()
}
