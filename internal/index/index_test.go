package index

import (
	"testing"

	"github.com/fusiyuan2010/cuttdb/internal/bloom"
	"github.com/fusiyuan2010/cuttdb/internal/cache"
	"github.com/fusiyuan2010/cuttdb/internal/segment"
)

func newTestIndex(t *testing.T, hsize uint32, dirty bool, bf *bloom.Filter) (*Index, *segment.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := segment.Open(segment.Config{
		Dir: dir, DataSegmentCap: 128 * 1024 * 1024, IndexSegmentCap: 16 * 1024 * 1024,
		DataBufferSize: 64 * 1024, IndexBufferSize: 64 * 1024,
		DeletionBufferEntries: 100, FDCacheSize: 16,
	})
	if err != nil {
		t.Fatalf("segment.Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	coord := cache.New(cache.Config{RecordLimitBytes: 1 << 20, PageLimitBytes: 1 << 20, DirtyEnabled: dirty})
	ix := New(Config{HashSize: hsize, Store: store, Cache: coord, Bloom: bf})
	return ix, store
}

func TestBucketIDMatchesSpecFormula(t *testing.T) {
	ix, _ := newTestIndex(t, 4096, false, nil)
	hash := uint64(0xABCDEF1234567890)
	want := uint32((hash >> 24) % 4096)
	if got := ix.BucketID(hash); got != want {
		t.Fatalf("BucketID() = %d; want %d", got, want)
	}
}

func TestUpdatePageInsertThenGetOff(t *testing.T) {
	ix, _ := newTestIndex(t, 4096, false, nil)
	hash := uint64(0x1122334455667788)
	bid := ix.BucketID(hash)
	packed := segment.PackHash(hash)
	off := segment.NewVOffset(1, 64)

	if err := ix.UpdatePage(bid, packed, off, OpInsert); err != nil {
		t.Fatalf("UpdatePage(insert) error: %v", err)
	}
	if ix.RecordCount() != 1 {
		t.Fatalf("RecordCount() = %d; want 1", ix.RecordCount())
	}

	offs, err := ix.GetOff(hash)
	if err != nil {
		t.Fatalf("GetOff() error: %v", err)
	}
	if len(offs) != 1 || offs[0] != off {
		t.Fatalf("GetOff() = %v; want [%v]", offs, off)
	}
}

func TestUpdatePageDeleteRemovesItem(t *testing.T) {
	ix, _ := newTestIndex(t, 4096, false, nil)
	hash := uint64(0x1122334455667788)
	bid := ix.BucketID(hash)
	packed := segment.PackHash(hash)
	off := segment.NewVOffset(1, 64)

	if err := ix.UpdatePage(bid, packed, off, OpInsert); err != nil {
		t.Fatalf("UpdatePage(insert) error: %v", err)
	}
	if err := ix.UpdatePage(bid, packed, off, OpDelete); err != nil {
		t.Fatalf("UpdatePage(delete) error: %v", err)
	}
	if ix.RecordCount() != 0 {
		t.Fatalf("RecordCount() = %d; want 0", ix.RecordCount())
	}

	offs, err := ix.GetOff(hash)
	if err != nil {
		t.Fatalf("GetOff() error: %v", err)
	}
	if len(offs) != 0 {
		t.Fatalf("GetOff() after delete = %v; want empty", offs)
	}
}

func TestReplaceOffUpdatesInPlace(t *testing.T) {
	ix, _ := newTestIndex(t, 4096, false, nil)
	hash := uint64(0x1122334455667788)
	bid := ix.BucketID(hash)
	packed := segment.PackHash(hash)
	oldOff := segment.NewVOffset(1, 64)
	newOff := segment.NewVOffset(1, 128)

	if err := ix.UpdatePage(bid, packed, oldOff, OpInsert); err != nil {
		t.Fatalf("UpdatePage(insert) error: %v", err)
	}
	if err := ix.ReplaceOff(bid, packed, oldOff, newOff); err != nil {
		t.Fatalf("ReplaceOff() error: %v", err)
	}

	offs, err := ix.GetOff(hash)
	if err != nil {
		t.Fatalf("GetOff() error: %v", err)
	}
	if len(offs) != 1 || offs[0] != newOff {
		t.Fatalf("GetOff() after replace = %v; want [%v]", offs, newOff)
	}
}

func TestReplaceOffOnEmptyBucketErrors(t *testing.T) {
	ix, _ := newTestIndex(t, 4096, false, nil)
	if err := ix.ReplaceOff(0, 1, segment.NewVOffset(1, 16), segment.NewVOffset(1, 32)); err == nil {
		t.Fatal("ReplaceOff() on an empty bucket returned nil error")
	}
}

func TestUpdatePageDirtyCacheRoute(t *testing.T) {
	ix, store := newTestIndex(t, 4096, true, nil)
	hash := uint64(0xAABBCCDDEEFF0011)
	bid := ix.BucketID(hash)
	packed := segment.PackHash(hash)
	off := segment.NewVOffset(1, 64)

	if err := ix.UpdatePage(bid, packed, off, OpInsert); err != nil {
		t.Fatalf("UpdatePage(insert) error: %v", err)
	}
	// With dirty caching enabled the page should not have been written
	// through to the segment store yet; mtable stays NULL until flushed.
	if !ix.MainTableEntry(bid).IsNull() {
		t.Fatal("mtable entry set before the dirty page was flushed")
	}

	offs, err := ix.GetOff(hash)
	if err != nil {
		t.Fatalf("GetOff() error: %v", err)
	}
	if len(offs) != 1 || offs[0] != off {
		t.Fatalf("GetOff() from dirty cache = %v; want [%v]", offs, off)
	}
	_ = store
}

func TestGetOffBloomShortCircuitsDefiniteMiss(t *testing.T) {
	bf := bloom.New(1000, 8192)
	ix, _ := newTestIndex(t, 4096, false, bf)

	hash := uint64(0x1234567890ABCDEF)
	offs, err := ix.GetOff(hash)
	if err != nil {
		t.Fatalf("GetOff() error: %v", err)
	}
	if offs != nil {
		t.Fatalf("GetOff() on a bloom-filter miss = %v; want nil", offs)
	}
}

func TestGetOffBloomHitAfterInsert(t *testing.T) {
	bf := bloom.New(1000, 8192)
	ix, _ := newTestIndex(t, 4096, false, bf)

	hash := uint64(0x1234567890ABCDEF)
	bid := ix.BucketID(hash)
	packed := segment.PackHash(hash)
	off := segment.NewVOffset(1, 64)

	if err := ix.UpdatePage(bid, packed, off, OpInsert); err != nil {
		t.Fatalf("UpdatePage(insert) error: %v", err)
	}

	offs, err := ix.GetOff(hash)
	if err != nil {
		t.Fatalf("GetOff() error: %v", err)
	}
	if len(offs) != 1 || offs[0] != off {
		t.Fatalf("GetOff() after insert = %v; want [%v]", offs, off)
	}
}
