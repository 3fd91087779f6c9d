// Package index implements the hash index core (spec.md §4.B): the main
// bucket table, page load/materialise logic, and the three bucket-level
// operations (cdb_getoff, cdb_updatepage, cdb_replaceoff) that the KV
// pipeline drives while holding the corresponding bucket-group lock.
//
// Grounded on cdb_core.c's getoff/updatepage/replaceoff trio, with the
// package shape (Config struct, zap logging, layered errors) adapted from
// ignite's internal/index.
package index

import (
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/fusiyuan2010/cuttdb/internal/bloom"
	"github.com/fusiyuan2010/cuttdb/internal/cache"
	"github.com/fusiyuan2010/cuttdb/internal/segment"
	"github.com/fusiyuan2010/cuttdb/pkg/errors"
)

// Op selects the mutation cdb_updatepage performs.
type Op int

const (
	OpInsert Op = iota
	OpDelete
)

// inlineCapacity is cdb_getoff's small inline result size; beyond this the
// caller's result slice simply keeps growing (Go slices make the "overflow
// allocates a larger array" distinction in the original moot).
const inlineCapacity = 8

// Config configures an Index.
type Config struct {
	HashSize uint32
	Store    *segment.Store
	Cache    *cache.Coordinator
	Bloom    *bloom.Filter // nil disables the bloom-filter shortcut
	Logger   *zap.SugaredLogger
}

// Index owns the main bucket table and the page-level operations above it.
// Every exported method here assumes the caller already holds the
// bucket-group lock for bid (via cache.Coordinator.LockBucket) — the index
// itself does no locking, matching spec.md §4.E's "take mlock ... call
// getoff/updatepage/replaceoff ... release mlock" pipeline shape.
type Index struct {
	hsize  uint32
	mtable []segment.VOffset

	// pageItemCounts tracks how many items the currently-installed page for
	// each bucket holds, so recovery can compute the rnum delta when a
	// later-oid page supersedes an earlier one for the same bucket.
	pageItemCounts []int

	store *segment.Store
	cache *cache.Coordinator
	bf    *bloom.Filter
	log   *zap.SugaredLogger

	rnum atomic.Uint64
}

// New creates an Index with an empty main bucket table of the given size
// (spec.md §7 "hsize clamped to >= 4096" is enforced by the caller/options
// layer, not here).
func New(cfg Config) *Index {
	return &Index{
		hsize:          cfg.HashSize,
		mtable:         make([]segment.VOffset, cfg.HashSize),
		pageItemCounts: make([]int, cfg.HashSize),
		store:          cfg.Store,
		cache:          cfg.Cache,
		bf:             cfg.Bloom,
		log:            cfg.Logger,
	}
}

// HashSize returns the configured main bucket table size.
func (ix *Index) HashSize() uint32 { return ix.hsize }

// BucketID computes bid = (hash >> 24) mod hsize (spec.md §4.B).
func (ix *Index) BucketID(hash uint64) uint32 {
	return uint32((hash >> 24) % uint64(ix.hsize))
}

// LockGroup maps a bucket id to its mlock group id, bid mod 256 (spec.md
// §5). Callers use this to drive cache.Coordinator.LockBucket.
func (ix *Index) LockGroup(bid uint32) uint32 {
	return bid % 256
}

// RecordCount returns the current global record count (rnum), maintained by
// UpdatePage.
func (ix *Index) RecordCount() uint64 {
	return ix.rnum.Load()
}

// SetRecordCount is used at open to install the record count persisted in
// mainindex.cdb.
func (ix *Index) SetRecordCount(n uint64) {
	ix.rnum.Store(n)
}

// MainTableEntry returns the raw mtable[bid] offset, used when the header is
// persisted and by the compaction workers.
func (ix *Index) MainTableEntry(bid uint32) segment.VOffset {
	return ix.mtable[bid]
}

// SetMainTableEntry installs mtable[bid] directly, bypassing page load/
// materialise logic (used at open to install the main table read from
// mainindex.cdb when no recovery is needed).
func (ix *Index) SetMainTableEntry(bid uint32, off segment.VOffset) {
	ix.mtable[bid] = off
}

// loadPage returns the page for bid, consulting the cache hierarchy before
// falling back to a disk read (spec.md §4.D lookup order), inserting into
// the clean page cache on a disk hit. A NULL mtable entry means "no page
// yet"; callers materialise one as needed.
func (ix *Index) loadPage(bid uint32) (*segment.Page, bool, error) {
	if page, dirty, found := ix.cache.PageLookup(bid); found {
		return page, dirty, nil
	}

	off := ix.mtable[bid]
	if off.IsNull() {
		return nil, false, nil
	}

	page, err := ix.store.ReadPage(off)
	if err != nil {
		return nil, false, errors.NewIndexError(err, errors.ErrorCodeIndexCorrupted, "failed to read index page").
			WithOperation("loadPage").
			WithDetail("bucket_id", bid)
	}
	ix.cache.PagePutClean(bid, &page)
	return &page, false, nil
}

// GetOff implements cdb_getoff: probe the bloom filter (if enabled), load
// the bucket's page, and collect every item's offset whose packed hash
// matches. Multiple matches are expected — callers disambiguate by reading
// each candidate record's key.
func (ix *Index) GetOff(hash uint64) ([]segment.VOffset, error) {
	bid := ix.BucketID(hash)
	packed := segment.PackHash(hash)

	if ix.bf != nil {
		key := bloomKey(bid, packed)
		if !ix.bf.MightContain(key) {
			return nil, nil
		}
	}

	page, _, err := ix.loadPage(bid)
	if err != nil {
		return nil, err
	}
	if page == nil {
		return nil, nil
	}

	offs := make([]segment.VOffset, 0, inlineCapacity)
	for _, item := range page.Items {
		if item.Hash == packed {
			offs = append(offs, item.Offset)
		}
	}
	return offs, nil
}

// UpdatePage implements cdb_updatepage: load-or-materialise the bucket's
// page, apply an insert or delete of (packed-hash, offset), and write the
// result back through the dirty page cache (or directly through the
// segment store, if dirty caching is disabled). Updates rnum and, on
// insert, the bloom filter.
func (ix *Index) UpdatePage(bid uint32, hash segment.PackedHash, offset segment.VOffset, op Op) error {
	page, wasDirty, err := ix.loadPage(bid)
	if err != nil {
		return err
	}
	if page == nil {
		if op == OpDelete {
			return nil // nothing to delete, a no-op
		}
		page = &segment.Page{Magic: segment.PageMagic, BucketID: bid}
	}

	switch op {
	case OpInsert:
		page.Items = append(page.Items, segment.PageItem{Hash: hash, Offset: offset})
		ix.rnum.Add(1)
		if ix.bf != nil {
			ix.bf.Set(bloomKey(bid, hash))
		}
	case OpDelete:
		idx := -1
		for i, item := range page.Items {
			if item.Hash == hash && item.Offset == offset {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil // no matching item, a no-op
		}
		page.Items = append(page.Items[:idx], page.Items[idx+1:]...)
		ix.rnum.Add(^uint64(0)) // decrement
	}

	return ix.writeBack(bid, page, wasDirty)
}

// ReplaceOff implements cdb_replaceoff: replace the offset of the item
// matching hash/oldOff with newOff, in place. If the page came from the
// clean cache it is promoted to the dirty cache (or written straight
// through, if dirty caching is disabled).
func (ix *Index) ReplaceOff(bid uint32, hash segment.PackedHash, oldOff, newOff segment.VOffset) error {
	page, wasDirty, err := ix.loadPage(bid)
	if err != nil {
		return err
	}
	if page == nil {
		return errors.NewIndexError(nil, errors.ErrorCodeIndexKeyNotFound, "replaceoff on an empty bucket").
			WithOperation("ReplaceOff").
			WithDetail("bucket_id", bid)
	}

	found := false
	for i, item := range page.Items {
		if item.Hash == hash && item.Offset == oldOff {
			page.Items[i].Offset = newOff
			found = true
			break
		}
	}
	if !found {
		return errors.NewIndexError(nil, errors.ErrorCodeIndexKeyNotFound, "replaceoff found no matching item").
			WithOperation("ReplaceOff").
			WithDetail("bucket_id", bid)
	}

	return ix.writeBack(bid, page, wasDirty)
}

// writeBack persists page after a mutation: through the dirty cache when
// enabled (dropping it from the clean cache first, per spec.md §4.D's
// "page mutation order"), or directly through the segment store and
// mtable otherwise.
func (ix *Index) writeBack(bid uint32, page *segment.Page, wasDirty bool) error {
	ix.cache.PageRemove(bid)

	if ix.cache.DirtyCacheEnabled() {
		ix.cache.PagePutDirty(bid, page)
		return nil
	}

	prevOff, prevCount := ix.mtable[bid], ix.pageItemCounts[bid]

	off, err := ix.store.AppendPage(page)
	if err != nil {
		return errors.NewIndexError(err, errors.ErrorCodeIndexCorrupted, "failed to write index page").
			WithOperation("writeBack").
			WithDetail("bucket_id", bid)
	}
	ix.mtable[bid] = off
	ix.pageItemCounts[bid] = len(page.Items)
	ix.chargeSupersededPage(prevOff, prevCount)

	ix.cache.PagePutClean(bid, page)
	_ = wasDirty
	return nil
}

// FlushPage is the cache.FlushPageFunc the cache coordinator's dirty-tail
// eviction/drain calls invoke: persist page to the segment store and
// install its new offset into mtable.
func (ix *Index) FlushPage(bid uint32, page *segment.Page) error {
	prevOff, prevCount := ix.mtable[bid], ix.pageItemCounts[bid]

	off, err := ix.store.AppendPage(page)
	if err != nil {
		return errors.NewIndexError(err, errors.ErrorCodeIndexCorrupted, "failed to flush dirty index page").
			WithOperation("FlushPage").
			WithDetail("bucket_id", bid)
	}
	ix.mtable[bid] = off
	ix.pageItemCounts[bid] = len(page.Items)
	ix.chargeSupersededPage(prevOff, prevCount)
	return nil
}

// chargeSupersededPage adds a superseded page's encoded size to its old
// segment's junk-bytes (spec.md §3 Lifecycle: "the old offset's space is
// added to its segment's junk-bytes"), the same accounting recovery's
// ReplayPage-driven pass performs, done here so the compaction workers'
// junk-ratio threshold can also fire from ordinary live traffic and not
// only after a crash.
func (ix *Index) chargeSupersededPage(prevOff segment.VOffset, prevCount int) {
	if prevOff.IsNull() || ix.store == nil {
		return
	}
	oldSize := segment.PageHeaderSize + prevCount*segment.PageItemSize
	ix.store.AddSegmentJunk(segment.TypeIndex, prevOff.FileID(), uint32(oldSize))
}

// ReplayPage installs off as bucket bid's page during recovery, setting the
// bloom filter bit for each item and returning the previously-installed
// offset (NULL if none) so the caller can charge its page's bytes to the
// old segment's junk-bytes (spec.md §6 recovery step 5: "this rebuilds the
// index even if intermediate index pages are stale"). Unlike UpdatePage,
// this bypasses the page cache entirely — recovery reads pages directly off
// disk via segment.Store.ScanPages.
func (ix *Index) ReplayPage(bid uint32, off segment.VOffset, items []segment.PageItem) (prevOff segment.VOffset, prevCount int) {
	prevOff = ix.mtable[bid]
	prevCount = ix.pageItemCounts[bid]

	ix.mtable[bid] = off
	ix.pageItemCounts[bid] = len(items)
	ix.rnum.Add(uint64(int64(len(items) - prevCount)))

	if ix.bf != nil {
		for _, item := range items {
			ix.bf.Set(bloomKey(bid, item.Hash))
		}
	}
	return prevOff, prevCount
}

// Warmup reads every bucket's page into the clean page cache, used when
// options.WithPageWarmup is set (CDB_PAGEWARMUP in the original).
func (ix *Index) Warmup() error {
	for bid := uint32(0); bid < ix.hsize; bid++ {
		if _, _, err := ix.loadPage(bid); err != nil {
			return err
		}
	}
	return nil
}

// bloomKey packs (bid<<24)|(hash&0xFFFFFF) into 4 big-endian bytes, the key
// the bloom filter is probed/set with (spec.md §4.B).
func bloomKey(bid uint32, hash segment.PackedHash) []byte {
	v := (bid << 24) | (uint32(hash) & 0xFFFFFF)
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}
