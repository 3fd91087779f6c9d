package engine

import (
	"os"
	"testing"
)

// simulateCrash closes the segment store without persisting mainindex.cdb's
// CLOSED signature, mirroring a process that dies mid-session: the header on
// disk (if any) still says OPEN, so the next Open must run recovery.
func simulateCrash(t *testing.T, e *Engine) {
	t.Helper()
	if err := e.store.Flush(); err != nil {
		t.Fatalf("Flush() error: %v", err)
	}
	if err := e.persistHeader(signatureOpen); err != nil {
		t.Fatalf("persistHeader(OPEN) error: %v", err)
	}
	if err := e.store.Close(); err != nil {
		t.Fatalf("store.Close() error: %v", err)
	}
	e.closed.Store(true)
}

func TestRecoveryReplaysRecordsAfterUncleanShutdown(t *testing.T) {
	dir := t.TempDir()
	e1 := openTestEngine(t, dir)

	keys := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, k := range keys {
		if err := e1.Set(k, []byte("v-"+string(k)), Overwrite, 0); err != nil {
			t.Fatalf("Set(%s) error: %v", k, err)
		}
	}
	simulateCrash(t, e1)

	e2 := openTestEngine(t, dir)
	defer e2.Close()

	for _, k := range keys {
		got, err := e2.Get(k)
		if err != nil {
			t.Fatalf("Get(%s) after recovery error: %v", k, err)
		}
		if string(got) != "v-"+string(k) {
			t.Fatalf("Get(%s) after recovery = %q; want v-%s", k, got, k)
		}
	}
	if got := e2.Stat().RecordCount; got != uint64(len(keys)) {
		t.Fatalf("Stat().RecordCount after recovery = %d; want %d", got, len(keys))
	}
}

func TestRecoveryHonorsDeletionLog(t *testing.T) {
	dir := t.TempDir()
	e1 := openTestEngine(t, dir)

	if err := e1.Set([]byte("keep"), []byte("v1"), Overwrite, 0); err != nil {
		t.Fatalf("Set(keep) error: %v", err)
	}
	if err := e1.Set([]byte("gone"), []byte("v2"), Overwrite, 0); err != nil {
		t.Fatalf("Set(gone) error: %v", err)
	}
	if err := e1.Delete([]byte("gone")); err != nil {
		t.Fatalf("Delete(gone) error: %v", err)
	}
	simulateCrash(t, e1)

	e2 := openTestEngine(t, dir)
	defer e2.Close()

	if _, err := e2.Get([]byte("keep")); err != nil {
		t.Fatalf("Get(keep) after recovery error: %v", err)
	}
	if _, err := e2.Get([]byte("gone")); err == nil {
		t.Fatal("Get(gone) after recovery succeeded; want NotFound since it was deleted before the crash")
	}
}

func TestForceRecoveryRebuildsFromDataLogAlone(t *testing.T) {
	dir := t.TempDir()
	e1 := openTestEngine(t, dir)
	if err := e1.Set([]byte("x"), []byte("y"), Overwrite, 0); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	if err := e1.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	if err := os.WriteFile(forceRecoveryPath(dir), nil, 0o644); err != nil {
		t.Fatalf("failed to create force_recovery sentinel: %v", err)
	}

	e2 := openTestEngine(t, dir)
	defer e2.Close()

	if forceRecoveryRequested(dir) {
		t.Fatal("force_recovery sentinel still present after Open")
	}
	got, err := e2.Get([]byte("x"))
	if err != nil || string(got) != "y" {
		t.Fatalf("Get(x) after force recovery = %q, %v; want y, nil", got, err)
	}
}
