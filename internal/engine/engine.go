// Package engine implements the KV pipeline (set/get/del), crash recovery,
// background compaction, and the Engine lifecycle tying the segment store,
// hash index, cache coordinator, and background scheduler together into one
// usable database.
//
// Grounded on cdb_core.c's cdb_set2/cdb_get/cdb_del (pipeline.go), cdb_bgtask
// and the compaction passes sketched in cdb_core.c (compaction.go), the
// startup scan plus cuttdb.h's force_recovery contract (recovery.go), and
// ignite/internal/engine's Engine/Config/Close lifecycle shape (engine.go).
package engine

import (
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/fusiyuan2010/cuttdb/internal/bloom"
	"github.com/fusiyuan2010/cuttdb/internal/cache"
	"github.com/fusiyuan2010/cuttdb/internal/index"
	"github.com/fusiyuan2010/cuttdb/internal/segment"
	"github.com/fusiyuan2010/cuttdb/internal/workers"
	"github.com/fusiyuan2010/cuttdb/pkg/errors"
	"github.com/fusiyuan2010/cuttdb/pkg/filesys"
	"github.com/fusiyuan2010/cuttdb/pkg/options"
)

// ErrClosed is returned by every pipeline operation once Close has run.
var ErrClosed = errors.NewEngineError(nil, errors.ErrorCodeInvalidInput, "engine is closed").WithOperation("Engine")

// Config configures a new Engine.
type Config struct {
	Options options.Options
	Logger  *zap.SugaredLogger
}

// Engine ties the segment store, hash index, cache coordinator, and
// background scheduler together into a single usable database. Every
// exported pipeline method (Set/Get/Delete, in pipeline.go) assumes the
// Engine was built by New and is safe for concurrent use by multiple
// caller goroutines, per spec.md §5's concurrency model.
type Engine struct {
	opts options.Options
	log  *zap.SugaredLogger

	closed   atomic.Bool
	inMemory bool

	store *segment.Store
	index *index.Index
	cache *cache.Coordinator
	bf    *bloom.Filter
	sched *workers.Scheduler

	oid            atomic.Uint64 // next-oid generator
	roid           atomic.Uint64 // last known clean-point oid
	lastCleanPoint atomic.Int64  // unix seconds of the last clean point
}

func (e *Engine) nextOID() uint64 { return e.oid.Add(1) }

// New opens (or creates) a database directory per opts and starts its
// background workers. In-memory mode (opts.InMemory) skips every on-disk
// concern entirely: no pid file, no segments, no recovery.
func New(cfg Config) (*Engine, error) {
	opts := cfg.Options
	e := &Engine{opts: opts, log: cfg.Logger, inMemory: opts.InMemory}

	e.cache = cache.New(cache.Config{
		RecordLimitBytes: opts.RecordCacheMB * 1024 * 1024,
		PageLimitBytes:   opts.PageCacheMB * 1024 * 1024,
		DirtyEnabled:     !opts.InMemory,
	})

	if opts.BloomFilterSize > 0 {
		e.bf = bloom.New(opts.BloomFilterSize, opts.BloomFilterSize*2)
	}

	if opts.InMemory {
		if opts.RecordCacheMB == 0 {
			return nil, errors.NewEngineError(nil, errors.ErrorCodeMemDbNoCache, "in-memory database requires a record cache").
				WithOperation("Open")
		}
		e.index = index.New(index.Config{HashSize: opts.HashSize, Bloom: e.bf, Logger: e.log})
		return e, nil
	}

	if err := e.openOnDisk(opts); err != nil {
		return nil, err
	}
	return e, nil
}

func (e *Engine) openOnDisk(opts options.Options) error {
	dir := opts.DataDir
	if err := filesys.CreateDir(dir, 0o755, true); err != nil {
		return errors.NewEngineError(err, errors.ErrorCodePathOpenFailed, "failed to create database directory").
			WithOperation("Open")
	}

	if err := acquirePidFile(dir); err != nil {
		return err
	}

	hdr, mtable, indexPresent, err := readMainIndex(dir)
	if err != nil {
		releasePidFile(dir)
		return err
	}

	force := forceRecoveryRequested(dir)
	needsRecovery := force || (indexPresent && hdr.Signature != signatureClosed)

	roid := hdr.ROID
	if force {
		if err := resetForForceRecovery(dir); err != nil {
			releasePidFile(dir)
			return err
		}
		indexPresent = false
		mtable = nil
		roid = 0
	}

	hsize := opts.HashSize
	if indexPresent && hdr.HashSize != 0 {
		hsize = hdr.HashSize
	}

	store, err := segment.Open(segment.Config{
		Dir:                   dir,
		DataSegmentCap:        opts.Segment.DataSegmentSize,
		IndexSegmentCap:       opts.Segment.IndexSegmentSize,
		DataBufferSize:        int(opts.Segment.DataBufferSize),
		IndexBufferSize:       int(opts.Segment.IndexBufferSize),
		DeletionBufferEntries: opts.Segment.DeletionBufferEntries,
		FDCacheSize:           opts.FdCacheSize,
		Logger:                e.log,
	})
	if err != nil {
		releasePidFile(dir)
		return err
	}
	e.store = store

	e.index = index.New(index.Config{HashSize: hsize, Store: store, Cache: e.cache, Bloom: e.bf, Logger: e.log})
	if indexPresent && !needsRecovery {
		for bid, off := range mtable {
			e.index.SetMainTableEntry(uint32(bid), off)
		}
		e.index.SetRecordCount(hdr.RecordNum)
	}

	oidStart := hdr.OID
	if needsRecovery {
		metas, merr := readMainMeta(dir)
		if merr != nil {
			store.Close()
			releasePidFile(dir)
			return merr
		}
		newRoid, maxOID, rerr := runRecovery(store, e.index, metas, roid)
		if rerr != nil {
			store.Close()
			releasePidFile(dir)
			return rerr
		}
		roid = newRoid
		if maxOID > oidStart {
			oidStart = maxOID
		}
		if err := clearForceRecovery(dir); err != nil {
			store.Close()
			releasePidFile(dir)
			return err
		}
	}

	e.oid.Store(oidStart)
	e.roid.Store(roid)
	e.lastCleanPoint.Store(time.Now().Unix())

	if opts.PageWarmup {
		if err := e.index.Warmup(); err != nil {
			store.Close()
			releasePidFile(dir)
			return err
		}
	}

	if err := e.persistHeader(signatureOpen); err != nil {
		store.Close()
		releasePidFile(dir)
		return err
	}

	e.sched = workers.New(e.log)
	e.registerWorkers()
	e.sched.Start()
	return nil
}

func (e *Engine) registerWorkers() {
	w := e.opts.Workers
	_ = e.sched.Add("flush", time.Duration(w.FlushIntervalSeconds)*time.Second, e.store.Flush)
	_ = e.sched.Add("dirty-page-flush", time.Duration(w.DirtyPageFlushIntervalSeconds)*time.Second, e.flushDirtyPageTail)
	_ = e.sched.Add("index-compact", time.Duration(w.IndexCompactIntervalSeconds)*time.Second, e.compactIndexSegments)
	_ = e.sched.Add("data-compact", time.Duration(w.DataCompactIntervalSeconds)*time.Second, e.compactDataSegments)
}

// persistHeader writes mainindex.cdb and mainmeta.cdb with the given
// open-signature, reflecting the engine's current oid/roid/rnum and every
// segment's junk-bytes/nearest-expire bookkeeping.
func (e *Engine) persistHeader(signature uint32) error {
	dir := e.opts.DataDir
	hsize := e.index.HashSize()

	mtable := make([]segment.VOffset, hsize)
	for bid := uint32(0); bid < hsize; bid++ {
		mtable[bid] = e.index.MainTableEntry(bid)
	}

	hdr := mainIndexHeader{
		HashSize:  hsize,
		OID:       e.oid.Load(),
		ROID:      e.roid.Load(),
		RecordNum: e.index.RecordCount(),
		Signature: signature,
	}
	if err := writeMainIndex(dir, hdr, mtable); err != nil {
		return err
	}

	var metas []segmentMetaRecord
	for _, m := range e.store.Segments(segment.TypeIndex) {
		metas = append(metas, segmentMetaRecord{Type: segment.TypeIndex, FID: m.FID, Junk: m.Junk, NearestExpire: m.NearestExpire})
	}
	for _, m := range e.store.Segments(segment.TypeData) {
		metas = append(metas, segmentMetaRecord{Type: segment.TypeData, FID: m.FID, Junk: m.Junk, NearestExpire: m.NearestExpire})
	}
	return writeMainMeta(dir, metas)
}

// Close stops the background worker, flushes every buffer and dirty page,
// persists the header with signature CLOSED, and releases the pid and
// deletion-log files (spec.md §5 "Cancellation and shutdown"). In-flight
// calls on other goroutines are undefined once Close returns; callers must
// quiesce first.
func (e *Engine) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	if e.inMemory {
		return nil
	}

	e.sched.Stop()

	if err := e.store.Flush(); err != nil {
		return err
	}
	for {
		flushed, err := e.cache.DrainDirtyTailOnce(func(time.Time, int) bool { return true }, e.index.FlushPage)
		if err != nil {
			return err
		}
		if !flushed {
			break
		}
	}
	e.roid.Store(e.oid.Load())

	if err := e.persistHeader(signatureClosed); err != nil {
		return err
	}
	if err := e.store.Close(); err != nil {
		return err
	}
	if err := e.store.RemoveDeletionLog(); err != nil {
		return err
	}
	return releasePidFile(e.opts.DataDir)
}

// Stat mirrors cdb_stat: cache hit/miss counters plus the current record
// count (spec.md §6 "stat", supplemented per SPEC_FULL.md).
type Stat struct {
	cache.Stats
	RecordCount uint64
}

// Stat returns a snapshot of the engine's current counters.
func (e *Engine) Stat() Stat {
	s := Stat{RecordCount: e.index.RecordCount()}
	if e.cache != nil {
		s.Stats = e.cache.GetStats()
	}
	return s
}
