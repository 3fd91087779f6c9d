package engine

import (
	"os"
	"testing"

	"github.com/fusiyuan2010/cuttdb/pkg/errors"
	"github.com/fusiyuan2010/cuttdb/pkg/options"
)

func testOptions(dir string) options.Options {
	o := options.NewDefaultOptions()
	o.DataDir = dir
	o.HashSize = options.MinHashSize
	o.Segment.DataSegmentSize = 1 * 1024 * 1024
	o.Segment.IndexSegmentSize = 256 * 1024
	o.Segment.DataBufferSize = 64 * 1024
	o.Segment.IndexBufferSize = 64 * 1024
	o.Segment.DeletionBufferEntries = 100
	o.FdCacheSize = 16
	return o
}

func openTestEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := New(Config{Options: testOptions(dir)})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return e
}

func TestOpenCreatesOnDiskLayout(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	for _, name := range []string{"pid.cdb", "mainindex.cdb", "mainmeta.cdb"} {
		if _, err := os.Stat(dir + "/" + name); err != nil {
			t.Fatalf("expected %s to exist after Open: %v", name, err)
		}
	}
}

func TestSetGetDeleteRoundTrip(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	key, value := []byte("k1"), []byte("v1")
	if err := e.Set(key, value, Overwrite, 0); err != nil {
		t.Fatalf("Set() error: %v", err)
	}

	got, err := e.Get(key)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("Get() = %q; want v1", got)
	}

	if err := e.Delete(key); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := e.Get(key); !errors.IsEngineError(err) {
		t.Fatalf("Get() after delete error = %v; want an EngineError", err)
	}
}

func TestSetInsertIfNotExistRejectsDuplicate(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	key := []byte("dup")
	if err := e.Set(key, []byte("v1"), Overwrite, 0); err != nil {
		t.Fatalf("first Set() error: %v", err)
	}
	err := e.Set(key, []byte("v2"), InsertIfNotExist, 0)
	ee, ok := errors.AsEngineError(err)
	if !ok || ee.Code() != errors.ErrorCodeExist {
		t.Fatalf("Set(InsertIfNotExist) on existing key error = %v; want ErrorCodeExist", err)
	}
}

func TestSetInsertIfExistRejectsMissing(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	err := e.Set([]byte("missing"), []byte("v1"), InsertIfExist, 0)
	ee, ok := errors.AsEngineError(err)
	if !ok || ee.Code() != errors.ErrorCodeNotFound {
		t.Fatalf("Set(InsertIfExist) on missing key error = %v; want ErrorCodeNotFound", err)
	}
}

func TestSetWithFutureExpiryStaysLive(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	key := []byte("ttl")
	if err := e.Set(key, []byte("v1"), Overwrite, 3600); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	got, err := e.Get(key)
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("Get() = %q; want v1", got)
	}
}

func TestOperationsAfterCloseReturnErrClosed(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	if err := e.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := e.Set([]byte("k"), []byte("v"), Overwrite, 0); err != ErrClosed {
		t.Fatalf("Set() after Close = %v; want ErrClosed", err)
	}
	if _, err := e.Get([]byte("k")); err != ErrClosed {
		t.Fatalf("Get() after Close = %v; want ErrClosed", err)
	}
	if err := e.Delete([]byte("k")); err != ErrClosed {
		t.Fatalf("Delete() after Close = %v; want ErrClosed", err)
	}
}

func TestReopenSurvivesCleanClose(t *testing.T) {
	dir := t.TempDir()
	e1 := openTestEngine(t, dir)
	if err := e1.Set([]byte("persist"), []byte("me"), Overwrite, 0); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := e1.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	e2 := openTestEngine(t, dir)
	defer e2.Close()
	got, err := e2.Get([]byte("persist"))
	if err != nil {
		t.Fatalf("Get() after reopen error: %v", err)
	}
	if string(got) != "me" {
		t.Fatalf("Get() after reopen = %q; want me", got)
	}
}

func TestInMemoryEngineRequiresRecordCache(t *testing.T) {
	o := options.NewDefaultOptions()
	o.InMemory = true
	o.RecordCacheMB = 0
	_, err := New(Config{Options: o})
	ee, ok := errors.AsEngineError(err)
	if !ok || ee.Code() != errors.ErrorCodeMemDbNoCache {
		t.Fatalf("New(in-memory, no cache) error = %v; want ErrorCodeMemDbNoCache", err)
	}
}

func TestInMemoryEngineSetGetDelete(t *testing.T) {
	o := options.NewDefaultOptions()
	o.InMemory = true
	o.RecordCacheMB = 16
	e, err := New(Config{Options: o})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}

	key := []byte("mem")
	if err := e.Set(key, []byte("v"), Overwrite, 0); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	got, err := e.Get(key)
	if err != nil || string(got) != "v" {
		t.Fatalf("Get() = %q, %v; want v, nil", got, err)
	}
	if err := e.Delete(key); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	if _, err := e.Get(key); !errors.IsEngineError(err) {
		t.Fatalf("Get() after delete error = %v; want EngineError", err)
	}
}

func TestStatReportsRecordCount(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	for i := 0; i < 5; i++ {
		key := []byte{byte('a' + i)}
		if err := e.Set(key, []byte("v"), Overwrite, 0); err != nil {
			t.Fatalf("Set() error: %v", err)
		}
	}
	if got := e.Stat().RecordCount; got != 5 {
		t.Fatalf("Stat().RecordCount = %d; want 5", got)
	}
}
