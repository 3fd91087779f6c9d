package lru

import (
	"fmt"
	"testing"
)

func TestTableInsertGet(t *testing.T) {
	tbl := New(true, nil)

	tbl.Insert([]byte("alpha"), []byte("1"))
	tbl.Insert([]byte("beta"), []byte("2"))

	v, ok := tbl.Get([]byte("alpha"), true)
	if !ok || string(v.([]byte)) != "1" {
		t.Fatalf("Get(alpha) = %q, %v; want 1, true", v, ok)
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d; want 2", tbl.Len())
	}
}

func TestTableInsertReplaces(t *testing.T) {
	tbl := New(false, nil)

	tbl.Insert([]byte("k"), []byte("first"))
	tbl.Insert([]byte("k"), []byte("second"))

	if tbl.Len() != 1 {
		t.Fatalf("Len() = %d; want 1 after replace", tbl.Len())
	}
	v, ok := tbl.Get([]byte("k"), false)
	if !ok || string(v.([]byte)) != "second" {
		t.Fatalf("Get(k) = %q; want second", v)
	}
}

func TestTableDelete(t *testing.T) {
	tbl := New(true, nil)
	tbl.Insert([]byte("k"), []byte("v"))

	if !tbl.Delete([]byte("k")) {
		t.Fatal("Delete(k) = false; want true")
	}
	if tbl.Exist([]byte("k")) {
		t.Fatal("Exist(k) = true after delete")
	}
	if tbl.Delete([]byte("k")) {
		t.Fatal("second Delete(k) = true; want false")
	}
}

func TestTableLRUOrder(t *testing.T) {
	tbl := New(true, nil)
	tbl.Insert([]byte("a"), []byte("1"))
	tbl.Insert([]byte("b"), []byte("2"))
	tbl.Insert([]byte("c"), []byte("3"))

	tail, ok := tbl.Tail()
	if !ok || string(tail.Key) != "a" {
		t.Fatalf("Tail() = %q; want a (least recently used)", tail.Key)
	}

	// Touch "a" so it becomes most-recently-used; "b" should now be the tail.
	tbl.Get([]byte("a"), true)
	tail, ok = tbl.Tail()
	if !ok || string(tail.Key) != "b" {
		t.Fatalf("Tail() after touching a = %q; want b", tail.Key)
	}

	popped, ok := tbl.PopTail()
	if !ok || string(popped.Key) != "b" {
		t.Fatalf("PopTail() = %q; want b", popped.Key)
	}
	if tbl.Exist([]byte("b")) {
		t.Fatal("b still present after PopTail")
	}
	if tbl.Len() != 2 {
		t.Fatalf("Len() = %d; want 2 after pop", tbl.Len())
	}
}

func TestTableBucketGrowth(t *testing.T) {
	tbl := New(false, nil)
	const n = 5000
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		tbl.Insert(key, []byte("v"))
	}
	if tbl.Len() != n {
		t.Fatalf("Len() = %d; want %d", tbl.Len(), n)
	}
	for i := 0; i < n; i++ {
		key := []byte(fmt.Sprintf("key-%d", i))
		if !tbl.Exist(key) {
			t.Fatalf("Exist(%s) = false after growth", key)
		}
	}
}

func TestTableIdentityHash(t *testing.T) {
	tbl := New(true, IdentityHash32)

	key := func(n uint32) []byte {
		return []byte{byte(n), byte(n >> 8), byte(n >> 16), byte(n >> 24)}
	}

	tbl.Insert(key(1), []byte("one"))
	tbl.Insert(key(2), []byte("two"))

	v, ok := tbl.Get(key(1), false)
	if !ok || string(v.([]byte)) != "one" {
		t.Fatalf("Get(1) = %q, %v; want one, true", v, ok)
	}
}

func TestMurmurHash1Deterministic(t *testing.T) {
	a := MurmurHash1([]byte("some-key"))
	b := MurmurHash1([]byte("some-key"))
	if a != b {
		t.Fatalf("MurmurHash1 not deterministic: %d != %d", a, b)
	}
	c := MurmurHash1([]byte("some-other-key"))
	if a == c {
		t.Fatalf("MurmurHash1 collided for distinct keys (unlikely but not impossible): %d", a)
	}
}

func TestTableIterate(t *testing.T) {
	tbl := New(false, nil)
	want := map[string]bool{"a": true, "b": true, "c": true}
	for k := range want {
		tbl.Insert([]byte(k), []byte("v"))
	}

	got := map[string]bool{}
	tbl.Iterate(func(item *Item) bool {
		got[string(item.Key)] = true
		return true
	})

	if len(got) != len(want) {
		t.Fatalf("Iterate visited %d items; want %d", len(got), len(want))
	}
	for k := range want {
		if !got[k] {
			t.Fatalf("Iterate missed key %q", k)
		}
	}
}

func TestTableClear(t *testing.T) {
	tbl := New(true, nil)
	tbl.Insert([]byte("a"), []byte("1"))
	tbl.Insert([]byte("b"), []byte("2"))

	tbl.Clear()

	if tbl.Len() != 0 {
		t.Fatalf("Len() = %d after Clear; want 0", tbl.Len())
	}
	if _, ok := tbl.Tail(); ok {
		t.Fatal("Tail() returned an item after Clear")
	}
}
