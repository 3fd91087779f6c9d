package cuttdb

import (
	"testing"
	"time"

	"github.com/fusiyuan2010/cuttdb/pkg/errors"
	"github.com/fusiyuan2010/cuttdb/pkg/options"
)

func TestOpenSetGetDeleteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, options.WithHashSize(options.MinHashSize))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	key, value := []byte("k1"), []byte("v1")
	if err := db.Set(key, value, Overwrite); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	got, err := db.Get(key)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("Get() = %q; want v1", got)
	}

	if err := db.Delete(key); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := db.Get(key); !errors.IsEngineError(err) {
		t.Fatalf("Get() after Delete() error = %v; want an EngineError", err)
	}
}

func TestSetXAppliesExpiry(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, options.WithHashSize(options.MinHashSize))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	key := []byte("ttl")
	if err := db.SetX(key, []byte("v1"), Overwrite, time.Hour); err != nil {
		t.Fatalf("SetX() error: %v", err)
	}
	got, err := db.Get(key)
	if err != nil || string(got) != "v1" {
		t.Fatalf("Get() = %q, %v; want v1, nil", got, err)
	}
}

func TestInMemoryOpenRequiresCache(t *testing.T) {
	_, err := Open("", options.WithInMemory(), options.WithCacheLimits(0, 0))
	ee, ok := errors.AsEngineError(err)
	if !ok || ee.Code() != errors.ErrorCodeMemDbNoCache {
		t.Fatalf("Open(in-memory, no cache) error = %v; want ErrorCodeMemDbNoCache", err)
	}
}

func TestInMemoryOpenSetGetDelete(t *testing.T) {
	db, err := Open("", options.WithInMemory(), options.WithCacheLimits(16, 0))
	if err != nil {
		t.Fatalf("Open(in-memory) error: %v", err)
	}
	defer db.Close()

	key := []byte("mem")
	if err := db.Set(key, []byte("v"), Overwrite); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	got, err := db.Get(key)
	if err != nil || string(got) != "v" {
		t.Fatalf("Get() = %q, %v; want v, nil", got, err)
	}
}

func TestStatReportsRecordCount(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, options.WithHashSize(options.MinHashSize))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		key := []byte{byte('a' + i)}
		if err := db.Set(key, []byte("v"), Overwrite); err != nil {
			t.Fatalf("Set(%d) error: %v", i, err)
		}
	}
	if got := db.Stat().RecordCount; got != 3 {
		t.Fatalf("Stat().RecordCount = %d; want 3", got)
	}
}

func TestCloseThenOperationsReturnErrClosed(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, options.WithHashSize(options.MinHashSize))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := db.Set([]byte("k"), []byte("v"), Overwrite); err != ErrClosed {
		t.Fatalf("Set() after Close() = %v; want ErrClosed", err)
	}
	if _, err := db.Get([]byte("k")); err != ErrClosed {
		t.Fatalf("Get() after Close() = %v; want ErrClosed", err)
	}
}

func TestIteratorWalksSetRecords(t *testing.T) {
	dir := t.TempDir()
	db, err := Open(dir, options.WithHashSize(options.MinHashSize))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer db.Close()

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, k := range keys {
		if err := db.Set(k, []byte("v"), Overwrite); err != nil {
			t.Fatalf("Set(%s) error: %v", k, err)
		}
	}

	it := db.NewIterator(0)
	defer it.Close()

	count := 0
	for it.Next() {
		if len(it.Key()) == 0 {
			t.Fatal("iterator produced a record with an empty key")
		}
		count++
	}
	if err := it.Err(); err != nil {
		t.Fatalf("iterator Err() = %v; want nil", err)
	}
	if count != len(keys) {
		t.Fatalf("iterator produced %d records; want %d", count, len(keys))
	}
}
