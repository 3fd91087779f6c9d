package engine

import (
	"time"

	"github.com/fusiyuan2010/cuttdb/internal/index"
	"github.com/fusiyuan2010/cuttdb/internal/segment"
)

// flushDirtyPageTail is the dirty-page-flush worker (spec.md §4.F, 1s):
// drain the dirty cache's LRU tail while the tail has been dirty for more
// than 40s, or the cache is small and it has been a while since the last
// clean point (spec.md §9 OQ1). On a full drain, advance roid to oid and
// truncate the deletion log — the engine's clean-point hook.
func (e *Engine) flushDirtyPageTail() error {
	shouldFlush := func(dirtiedAt time.Time, dirtyLen int) bool {
		if time.Since(dirtiedAt) > 40*time.Second {
			return true
		}
		return dirtyLen < 1024 && time.Since(e.lastCleanPointTime()) > 120*time.Second
	}

	drained := false
	for {
		flushed, err := e.cache.DrainDirtyTailOnce(shouldFlush, e.index.FlushPage)
		if err != nil {
			return err
		}
		if !flushed {
			break
		}
		drained = true
	}
	if !drained {
		return nil
	}

	if e.cache.DirtyLen() == 0 {
		e.roid.Store(e.oid.Load())
		e.lastCleanPoint.Store(time.Now().Unix())
		return e.store.TruncateDeletionLog()
	}
	return nil
}

func (e *Engine) lastCleanPointTime() time.Time {
	return time.Unix(e.lastCleanPoint.Load(), 0)
}

// compactIndexSegments is the index-compaction worker (spec.md §4.F, 60s):
// for each FULL index segment whose junk-bytes exceed half its size,
// rewrite every page still referenced by mtable to the current WRITING
// index segment, then unlink the now-fully-superseded segment.
func (e *Engine) compactIndexSegments() error {
	for _, m := range e.store.Segments(segment.TypeIndex) {
		if m.Status != segment.StatusFull || m.UnlinkPending {
			continue
		}
		if m.Junk <= m.Size/2 {
			continue
		}
		if err := e.compactIndexSegment(m); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) compactIndexSegment(m segment.Meta) error {
	err := e.store.ScanPages(func(fid uint32, off segment.VOffset, page segment.Page) error {
		if fid != m.FID {
			return nil
		}

		bid := page.BucketID
		group := e.index.LockGroup(bid)
		e.cache.LockBucket(group)
		defer e.cache.UnlockBucket(group)

		if e.index.MainTableEntry(bid) != off {
			return nil // superseded since the scan started
		}
		pageCopy := page
		return e.index.FlushPage(bid, &pageCopy)
	})
	if err != nil {
		return err
	}

	// Every page this segment still held is now rewritten elsewhere (or
	// was already stale before the scan began), so the whole segment is
	// reclaimable.
	e.store.ApplySegmentMeta(segment.TypeIndex, m.FID, m.Size, 0)
	return e.store.UnlinkSegment(segment.TypeIndex, m.FID)
}

// compactDataSegments is the data-compaction worker (spec.md §4.F, 120s):
// select FULL data segments whose junk-bytes exceed half their size, or
// whose nearest-expire has passed, and rewrite every still-live unexpired
// record elsewhere while dropping expired ones from the index.
func (e *Engine) compactDataSegments() error {
	now := nowUnix()
	for _, m := range e.store.Segments(segment.TypeData) {
		if m.Status != segment.StatusFull || m.UnlinkPending {
			continue
		}
		expired := m.NearestExpire != 0 && m.NearestExpire <= now
		if m.Junk <= m.Size/2 && !expired {
			continue
		}
		if err := e.compactDataSegment(m); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) compactDataSegment(m segment.Meta) error {
	now := nowUnix()
	err := e.store.ScanRecords(func(fid uint32, off segment.VOffset, rec segment.Record) error {
		if fid != m.FID {
			return nil
		}
		return e.rewriteOrDropRecord(rec, off, now)
	})
	if err != nil {
		return err
	}

	// Every record this segment still held is now rewritten elsewhere (or
	// dropped from the index as expired, or was already stale before the
	// scan began), so the whole segment is reclaimable.
	e.store.ApplySegmentMeta(segment.TypeData, m.FID, m.Size, 0)
	return e.store.UnlinkSegment(segment.TypeData, m.FID)
}

func (e *Engine) rewriteOrDropRecord(rec segment.Record, off segment.VOffset, now uint32) error {
	hash := keyHash(rec.Key)
	bid := e.index.BucketID(hash)
	packed := segment.PackHash(hash)
	group := e.index.LockGroup(bid)

	e.cache.LockBucket(group)
	defer e.cache.UnlockBucket(group)

	live, err := e.recordStillLive(hash, off)
	if err != nil || !live {
		return err
	}

	if isExpired(rec.Expire, now) {
		return e.index.UpdatePage(bid, packed, off, index.OpDelete)
	}

	newOff, err := e.store.AppendRecord(&rec)
	if err != nil {
		return err
	}
	if err := e.index.ReplaceOff(bid, packed, off, newOff); err != nil {
		return err
	}
	// The record cache may hold this key's prior on-disk offset; drop it
	// rather than keep serving a now-stale cached offset to the next
	// Set/Delete that needs to resolve it.
	e.cache.RecordDelete(rec.Key)
	return nil
}

func (e *Engine) recordStillLive(hash uint64, off segment.VOffset) (bool, error) {
	offs, err := e.index.GetOff(hash)
	if err != nil {
		return false, err
	}
	for _, c := range offs {
		if c == off {
			return true, nil
		}
	}
	return false, nil
}
