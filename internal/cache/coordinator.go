// Package cache implements the three-tier cache hierarchy and the
// cross-cutting lock protocol described in spec.md §4.D/§5: a record
// cache, a clean index-page cache, and a dirty index-page cache, each an
// LRU table from internal/lru, plus the 256-way bucket-group lock array
// and the mandatory try-lock-and-bail eviction discipline that keeps the
// documented lock order (mlock -> pclock|dpclock|rclock) from inverting.
//
// Grounded on cdb_core.c's cache-tier logic and the lock-ordering comments
// in cdb_types.h/cdb_lock.h.
package cache

import (
	"sync"
	"time"

	"github.com/fusiyuan2010/cuttdb/internal/lru"
	"github.com/fusiyuan2010/cuttdb/internal/segment"
)

// mlockGroups is MLOCKNUM: the number of bucket-group locks.
const mlockGroups = 256

// dirtyEntry is the value stored in the dirty page cache: the page plus
// when it was last marked dirty, needed by the 40s/"mostly clean" flush
// rule (spec.md §9 OQ1).
type dirtyEntry struct {
	page      *segment.Page
	dirtiedAt time.Time
}

// Config configures a Coordinator.
type Config struct {
	RecordLimitBytes uint64
	PageLimitBytes   uint64
	DirtyEnabled     bool // whether a dirty page cache tier exists at all
}

// Coordinator owns the record cache, the clean/dirty page caches, and the
// lock set that orders access to them relative to the bucket-group locks.
type Coordinator struct {
	mlock [mlockGroups]sync.Mutex

	rclock sync.Mutex
	record *lru.Table
	rclimit uint64

	pclock sync.Mutex
	clean  *lru.Table

	dpclock      sync.Mutex
	dirty        *lru.Table
	dirtyEnabled bool

	pclimit uint64

	stlock sync.Mutex
	stats  Stats
}

// Stats mirrors the hit/miss counters from cdb_core.h's CDBSTAT (spec.md
// §10 supplemented feature).
type Stats struct {
	RecordHits, RecordMisses uint64
	PageHits, PageMisses     uint64
}

// New creates a Coordinator. A zero PageLimitBytes/RecordLimitBytes means
// "no limit", matching the original's behavior when caching is configured
// off for a tier.
func New(cfg Config) *Coordinator {
	return &Coordinator{
		record:       lru.New(true, nil),
		rclimit:      cfg.RecordLimitBytes,
		clean:        lru.New(true, lru.IdentityHash32),
		dirty:        lru.New(true, lru.IdentityHash32),
		dirtyEnabled: cfg.DirtyEnabled,
		pclimit:      cfg.PageLimitBytes,
	}
}

// LockBucket acquires the bucket-group lock covering bid (spec.md §5:
// "bucket-group lock id = (hash>>24) mod hsize mod 256").
func (c *Coordinator) LockBucket(bid uint32) { c.mlock[bid%mlockGroups].Lock() }

// UnlockBucket releases the bucket-group lock covering bid.
func (c *Coordinator) UnlockBucket(bid uint32) { c.mlock[bid%mlockGroups].Unlock() }

// ---- record cache ----

// RecordGet returns the cached value for key, if present.
func (c *Coordinator) RecordGet(key []byte) ([]byte, bool) {
	c.rclock.Lock()
	defer c.rclock.Unlock()

	v, ok := c.record.Get(key, true)
	c.stlock.Lock()
	if ok {
		c.stats.RecordHits++
	} else {
		c.stats.RecordMisses++
	}
	c.stlock.Unlock()

	if !ok {
		return nil, false
	}
	return v.([]byte), true
}

// RecordPut inserts or refreshes key/value in the record cache.
func (c *Coordinator) RecordPut(key, value []byte) {
	c.rclock.Lock()
	defer c.rclock.Unlock()
	c.record.InsertSized(key, value, uint64(len(key)+len(value)))
}

// RecordDelete removes key from the record cache, if present.
func (c *Coordinator) RecordDelete(key []byte) {
	c.rclock.Lock()
	defer c.rclock.Unlock()
	c.record.Delete(key)
}

// RecordOverflow reports whether the record cache exceeds its configured
// limit (RCOVERFLOW in the original).
func (c *Coordinator) RecordOverflow() bool {
	c.rclock.Lock()
	defer c.rclock.Unlock()
	return c.rclimit > 0 && c.record.Size() > c.rclimit
}

// RecordEvictTail drops the least-recently-used record cache entry.
func (c *Coordinator) RecordEvictTail() {
	c.rclock.Lock()
	defer c.rclock.Unlock()
	c.record.RemoveTail()
}

// ---- page caches ----

func bucketKey(bid uint32) []byte {
	return []byte{byte(bid), byte(bid >> 8), byte(bid >> 16), byte(bid >> 24)}
}

func bucketFromKey(key []byte) uint32 {
	return uint32(key[0]) | uint32(key[1])<<8 | uint32(key[2])<<16 | uint32(key[3])<<24
}

func pageCost(p *segment.Page) uint64 {
	return uint64(64 + len(p.Items)*segment.PageItemSize)
}

// PageLookup returns the cached page for bid, reporting whether it came
// from the dirty tier (callers use this to decide where to reinsert after
// mutating, per spec.md §4.D "page mutation order").
func (c *Coordinator) PageLookup(bid uint32) (page *segment.Page, dirty bool, found bool) {
	key := bucketKey(bid)

	c.pclock.Lock()
	if item, ok := c.clean.GetItem(key, true); ok {
		c.pclock.Unlock()
		c.recordPageHit()
		return item.Value.(*segment.Page), false, true
	}
	c.pclock.Unlock()

	if !c.dirtyEnabled {
		c.recordPageMiss()
		return nil, false, false
	}

	c.dpclock.Lock()
	defer c.dpclock.Unlock()
	if item, ok := c.dirty.GetItem(key, true); ok {
		c.recordPageHit()
		return item.Value.(*dirtyEntry).page, true, true
	}
	c.recordPageMiss()
	return nil, false, false
}

func (c *Coordinator) recordPageHit() {
	c.stlock.Lock()
	c.stats.PageHits++
	c.stlock.Unlock()
}

func (c *Coordinator) recordPageMiss() {
	c.stlock.Lock()
	c.stats.PageMisses++
	c.stlock.Unlock()
}

// DirtyCacheEnabled reports whether a dirty page cache tier was configured.
func (c *Coordinator) DirtyCacheEnabled() bool { return c.dirtyEnabled }

// PagePutClean inserts page into the clean cache (used right after a disk
// read, spec.md §4.D lookup step 4).
func (c *Coordinator) PagePutClean(bid uint32, page *segment.Page) {
	c.pclock.Lock()
	defer c.pclock.Unlock()
	c.clean.InsertSized(bucketKey(bid), page, pageCost(page))
}

// PagePutDirty inserts page into the dirty cache (used after a mutation,
// when dirty caching is enabled). If disabled, callers must write the page
// straight through the segment store instead.
func (c *Coordinator) PagePutDirty(bid uint32, page *segment.Page) {
	c.dpclock.Lock()
	defer c.dpclock.Unlock()
	c.dirty.InsertSized(bucketKey(bid), &dirtyEntry{page: page, dirtiedAt: time.Now()}, pageCost(page))
}

// PageRemove drops bid from whichever page cache currently holds it (the
// first step of spec.md §4.D's page mutation order: "delete from whichever
// cache holds it, mutate, reinsert").
func (c *Coordinator) PageRemove(bid uint32) {
	key := bucketKey(bid)

	c.pclock.Lock()
	c.clean.Delete(key)
	c.pclock.Unlock()

	if c.dirtyEnabled {
		c.dpclock.Lock()
		c.dirty.Delete(key)
		c.dpclock.Unlock()
	}
}

// PageCacheOverflow reports whether the combined clean+dirty page cache
// exceeds its configured limit (PCOVERFLOW in the original).
func (c *Coordinator) PageCacheOverflow() bool {
	if c.pclimit == 0 {
		return false
	}
	c.pclock.Lock()
	size := c.clean.Size()
	c.pclock.Unlock()

	if c.dirtyEnabled {
		c.dpclock.Lock()
		size += c.dirty.Size()
		c.dpclock.Unlock()
	}
	return size > c.pclimit
}

// FlushPageFunc persists a dirty page to the segment store and updates the
// caller's main bucket table entry for bid, all while the bucket's mlock is
// held by the Coordinator.
type FlushPageFunc func(bid uint32, page *segment.Page) error

// EvictPageOverflow implements spec.md §4.D's page cache overflow
// response: prefer dropping the clean tail (no write-back needed, it's
// already on disk); if the clean cache is empty, flush the dirty tail
// using the mandatory try-lock-and-bail protocol, since dpclock is already
// held and blocking on mlock would invert the documented lock order.
func (c *Coordinator) EvictPageOverflow(flush FlushPageFunc) error {
	if !c.PageCacheOverflow() {
		return nil
	}

	c.pclock.Lock()
	if _, ok := c.clean.PopTail(); ok {
		c.pclock.Unlock()
		return nil
	}
	c.pclock.Unlock()

	if !c.dirtyEnabled {
		return nil
	}
	return c.tryFlushDirtyTail(flush)
}

// tryFlushDirtyTail peeks the dirty cache's LRU tail, try-locks the
// corresponding bucket's mlock without blocking, and on success removes the
// entry and flushes it. On failure to acquire the lock it bails out
// entirely rather than blocking, per spec.md §4.D.
func (c *Coordinator) tryFlushDirtyTail(flush FlushPageFunc) error {
	c.dpclock.Lock()
	item, ok := c.dirty.Tail()
	if !ok {
		c.dpclock.Unlock()
		return nil
	}
	bid := bucketFromKey(item.Key)

	if !c.mlock[bid%mlockGroups].TryLock() {
		c.dpclock.Unlock()
		return nil
	}
	c.dirty.Delete(item.Key)
	c.dpclock.Unlock()

	entry := item.Value.(*dirtyEntry)
	err := flush(bid, entry.page)
	c.mlock[bid%mlockGroups].Unlock()
	return err
}

// DrainDirtyTailOnce inspects the dirty cache's LRU tail and, if shouldFlush
// approves it (spec.md §9 OQ1's 40s-stale-or-mostly-clean rule), flushes it
// using the same try-lock-and-bail discipline. It returns false when there
// was nothing to drain (empty cache, or the tail didn't qualify, or the
// try-lock failed), which callers use to stop looping for this pass.
func (c *Coordinator) DrainDirtyTailOnce(shouldFlush func(dirtiedAt time.Time, dirtyLen int) bool, flush FlushPageFunc) (bool, error) {
	if !c.dirtyEnabled {
		return false, nil
	}

	c.dpclock.Lock()
	item, ok := c.dirty.Tail()
	if !ok {
		c.dpclock.Unlock()
		return false, nil
	}
	entry := item.Value.(*dirtyEntry)
	if !shouldFlush(entry.dirtiedAt, int(c.dirty.Len())) {
		c.dpclock.Unlock()
		return false, nil
	}
	bid := bucketFromKey(item.Key)

	if !c.mlock[bid%mlockGroups].TryLock() {
		c.dpclock.Unlock()
		return false, nil
	}
	c.dirty.Delete(item.Key)
	c.dpclock.Unlock()

	err := flush(bid, entry.page)
	c.mlock[bid%mlockGroups].Unlock()
	return true, err
}

// DirtyLen returns the number of pages currently in the dirty cache.
func (c *Coordinator) DirtyLen() int {
	c.dpclock.Lock()
	defer c.dpclock.Unlock()
	return int(c.dirty.Len())
}

// GetStats returns a snapshot of the hit/miss counters.
func (c *Coordinator) GetStats() Stats {
	c.stlock.Lock()
	defer c.stlock.Unlock()
	return c.stats
}
