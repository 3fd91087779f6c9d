// Package lru implements the chained hash table with an optional intrusive
// LRU list that backs every cache tier in cuttdb: the record cache, the
// clean and dirty index page caches (internal/cache), and the segment file
// descriptor cache (internal/segment). It is a direct port of
// cdb_hashtable.c/.h from the original C implementation.
//
// The table is not internally synchronized — callers hold the appropriate
// spec.md §5 lock (rclock, pclock, dpclock, or the segment-store lock)
// around every call, exactly as the original CDBHASHTABLE relies on its
// caller for concurrency control.
package lru

const (
	// topLevelBucketsPow is CDBHTBNUMPOW: 256 top-level buckets, chosen so
	// the table grows smoothly as each bucket's second-level chain array
	// doubles independently.
	topLevelBucketsPow = 8
	topLevelBuckets    = 1 << topLevelBucketsPow

	initialChainSlots = 2

	// itemOverheadBytes approximates sizeof(CDBHTITEM) plus bookkeeping:
	// the hash and chain pointer. LRU items additionally cost two pointers
	// (prev/next), accounted for separately. The caller-supplied cost for
	// the payload itself is added on top (see Insert).
	itemOverheadBytes = 16
	lruPointerBytes   = 16
)

// Item is one entry in the table: an opaque key plus an arbitrary value
// (a []byte for the record cache, a *segment.Page for the page caches, an
// *os.File handle for the fd cache) plus the bookkeeping needed for
// chaining and (optionally) LRU ordering.
type Item struct {
	Key   []byte
	Value any
	cost  uint64

	hash  uint32
	hnext *Item

	// prev/next form the global LRU list; unused when the table is not in
	// LRU mode.
	prev, next *Item
}

type bucket struct {
	slots []*Item
	rnum  uint32
}

// Table is the chained hash table described in spec.md §4.C.
type Table struct {
	lru  bool
	hash HashFunc

	buckets [topLevelBuckets]bucket

	size uint64 // running memory estimate, bytes
	num  uint64 // item count

	head, tail *Item // LRU mode only
}

// New creates a table. If lru is true, every Insert places the new item at
// the head of the LRU list, Get/GetItem with mtf set move an item to the head, and
// PopTail/RemoveTail/Tail operate on the LRU tail. hash defaults to
// MurmurHash1 when nil.
func New(lru bool, hash HashFunc) *Table {
	t := &Table{lru: lru, hash: hash}
	if t.hash == nil {
		t.hash = MurmurHash1
	}
	for i := range t.buckets {
		t.buckets[i].slots = make([]*Item, initialChainSlots)
		t.size += uint64(initialChainSlots) * 8
	}
	return t
}

// Len returns the number of items currently stored.
func (t *Table) Len() uint64 { return t.num }

// Size returns the table's running memory estimate in bytes.
func (t *Table) Size() uint64 { return t.size }

func (t *Table) itemCost(item *Item) uint64 {
	cost := uint64(itemOverheadBytes+len(item.Key)) + item.cost
	if t.lru {
		cost += lruPointerBytes
	}
	return cost
}

func splitHash(hash uint32) (topBucket uint32) {
	return hash & (topLevelBuckets - 1)
}

func chainIndex(hash uint32, bnum uint32) uint32 {
	return (hash >> topLevelBucketsPow) & (bnum - 1)
}

// growIfNeeded doubles (or quadruples, while small) a bucket's second-level
// chain array once its load factor exceeds 2, exactly mirroring
// cdb_ht_insert's inline rehash.
func (t *Table) growIfNeeded(b *bucket) {
	if b.rnum <= b.bnum()*2 {
		return
	}

	factor := uint32(2)
	if b.bnum() < 512 {
		factor = 4
	}

	newSlots := make([]*Item, b.bnum()*factor)
	for _, head := range b.slots {
		cur := head
		for cur != nil {
			next := cur.hnext
			idx := chainIndex(cur.hash, uint32(len(newSlots)))
			cur.hnext = newSlots[idx]
			newSlots[idx] = cur
			cur = next
		}
	}

	t.size += uint64(len(newSlots)-len(b.slots)) * 8
	b.slots = newSlots
}

func (b *bucket) bnum() uint32 { return uint32(len(b.slots)) }

// Insert stores key/value with a zero accounted cost; use InsertSized when
// the caller wants Size() to reflect the payload's memory footprint (the
// record and page caches do; the fd cache, which evicts purely by count,
// does not need to).
func (t *Table) Insert(key []byte, value any) {
	t.InsertSized(key, value, 0)
}

// InsertSized stores key/value, replacing any existing entry for key first
// (the primary replace path per spec.md §4.C), accounting cost bytes of
// memory usage for Size(). In LRU mode the new item is placed at the head.
func (t *Table) InsertSized(key []byte, value any, cost uint64) {
	t.deleteLocked(key)

	hash := t.hash(key)
	top := splitHash(hash)
	b := &t.buckets[top]

	t.growIfNeeded(b)
	idx := chainIndex(hash, b.bnum())

	item := &Item{Key: key, Value: value, hash: hash, cost: cost}
	item.hnext = b.slots[idx]
	b.slots[idx] = item

	if t.lru {
		if t.head != nil {
			t.head.prev = item
		}
		item.next = t.head
		t.head = item
		if t.tail == nil {
			t.tail = item
		}
	}

	b.rnum++
	t.num++
	t.size += t.itemCost(item)
}

// find locates the chain entry for key without mutating LRU order.
func (t *Table) find(key []byte) (*bucket, uint32, *Item, *Item) {
	hash := t.hash(key)
	top := splitHash(hash)
	b := &t.buckets[top]
	idx := chainIndex(hash, b.bnum())

	var prev *Item
	cur := b.slots[idx]
	for cur != nil {
		if cur.hash == hash && bytesEqual(cur.Key, key) {
			return b, idx, prev, cur
		}
		prev = cur
		cur = cur.hnext
	}
	return b, idx, nil, nil
}

// Get returns the value for key. If mtf is true and the table is in LRU
// mode, a hit moves the item to the head of the LRU list.
func (t *Table) Get(key []byte, mtf bool) (any, bool) {
	item, ok := t.GetItem(key, mtf)
	if !ok {
		return nil, false
	}
	return item.Value, true
}

// GetItem is like Get but returns the backing Item, letting the caller
// inspect it without copying the value.
func (t *Table) GetItem(key []byte, mtf bool) (*Item, bool) {
	_, _, _, item := t.find(key)
	if item == nil {
		return nil, false
	}
	if t.lru && mtf {
		t.moveToFront(item)
	}
	return item, true
}

// Exist reports whether key is present, without affecting LRU order.
func (t *Table) Exist(key []byte) bool {
	_, _, _, item := t.find(key)
	return item != nil
}

func (t *Table) moveToFront(item *Item) {
	if t.head == item {
		return
	}
	t.unlinkLRU(item)
	item.next = t.head
	item.prev = nil
	if t.head != nil {
		t.head.prev = item
	}
	t.head = item
	if t.tail == nil {
		t.tail = item
	}
}

func (t *Table) unlinkLRU(item *Item) {
	if item.prev != nil {
		item.prev.next = item.next
	}
	if item.next != nil {
		item.next.prev = item.prev
	}
	if t.head == item {
		t.head = item.next
	}
	if t.tail == item {
		t.tail = item.prev
	}
	item.prev, item.next = nil, nil
}

// Delete removes key, reporting whether it was present.
func (t *Table) Delete(key []byte) bool {
	return t.deleteLocked(key)
}

func (t *Table) deleteLocked(key []byte) bool {
	b, idx, prev, item := t.find(key)
	if item == nil {
		return false
	}

	if t.lru {
		t.unlinkLRU(item)
	}
	if prev != nil {
		prev.hnext = item.hnext
	} else {
		b.slots[idx] = item.hnext
	}

	t.size -= t.itemCost(item)
	t.num--
	b.rnum--
	return true
}

// Tail returns the least-recently-used item without removing it. Valid only
// in LRU mode.
func (t *Table) Tail() (*Item, bool) {
	if !t.lru || t.tail == nil {
		return nil, false
	}
	return t.tail, true
}

// PopTail removes and returns the least-recently-used item. Valid only in
// LRU mode.
func (t *Table) PopTail() (*Item, bool) {
	if !t.lru || t.tail == nil {
		return nil, false
	}
	item := t.tail
	t.deleteLocked(item.Key)
	return item, true
}

// RemoveTail discards the least-recently-used item.
func (t *Table) RemoveTail() bool {
	_, ok := t.PopTail()
	return ok
}

// Clear empties the table, releasing all references.
func (t *Table) Clear() {
	for i := range t.buckets {
		t.buckets[i].slots = make([]*Item, initialChainSlots)
		t.buckets[i].rnum = 0
	}
	t.head, t.tail = nil, nil
	t.num = 0
	t.size = uint64(topLevelBuckets) * initialChainSlots * 8
}

// Iterate visits every item in insertion-agnostic order (bucket order, not
// LRU order), stopping early if visit returns false. It mirrors
// cdb_ht_iterbegin/cdb_ht_iternext's traversal order.
func (t *Table) Iterate(visit func(item *Item) bool) {
	for i := range t.buckets {
		for _, head := range t.buckets[i].slots {
			for cur := head; cur != nil; cur = cur.hnext {
				if !visit(cur) {
					return
				}
			}
		}
	}
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
