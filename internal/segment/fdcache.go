package segment

import (
	"os"

	"github.com/fusiyuan2010/cuttdb/internal/lru"
)

// FDCache is the bounded LRU cache of open read-only segment file
// descriptors described in spec.md §4.A ("a bounded LRU cache (default
// 16384 entries) holds open read-only fds keyed by (type, fid)"). It is
// built directly on internal/lru's chained hash table in LRU mode, keyed
// by a 4-byte encoding of (type, fid) run through IdentityHash32.
type FDCache struct {
	table    *lru.Table
	capacity int
	dir      string
}

// NewFDCache creates an fd cache rooted at dir with the given capacity
// (spec.md §4.A default 16384).
func NewFDCache(dir string, capacity int) *FDCache {
	return &FDCache{
		table:    lru.New(true, lru.IdentityHash32),
		capacity: capacity,
		dir:      dir,
	}
}

func fdKey(t Type, fid uint32) []byte {
	// Pack type into the top byte and fid into the low 24 bits; fid never
	// uses its own top byte (MaxFID = 1<<24), so there is no collision.
	v := uint32(t)<<24 | (fid & 0xFFFFFF)
	return []byte{byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24)}
}

// Get returns an open, read-only *os.File for the given segment, opening
// and caching it on a miss. Eviction closes the LRU tail's fd when the
// cache is at capacity.
func (c *FDCache) Get(t Type, fid uint32) (*os.File, error) {
	key := fdKey(t, fid)
	if item, ok := c.table.GetItem(key, true); ok {
		return item.Value.(*os.File), nil
	}

	f, err := os.Open(Path(c.dir, t, fid))
	if err != nil {
		return nil, errIO(err, "failed to open segment for reading")
	}

	if int(c.table.Len()) >= c.capacity {
		c.evictTail()
	}

	c.table.Insert(key, f)
	return f, nil
}

func (c *FDCache) evictTail() {
	item, ok := c.table.PopTail()
	if !ok {
		return
	}
	item.Value.(*os.File).Close()
}

// Invalidate closes and drops the cached fd for a segment, used when a
// segment is unlinked by compaction.
func (c *FDCache) Invalidate(t Type, fid uint32) {
	key := fdKey(t, fid)
	item, ok := c.table.GetItem(key, false)
	if !ok {
		return
	}
	item.Value.(*os.File).Close()
	c.table.Delete(key)
}

// Close closes every cached fd.
func (c *FDCache) Close() {
	c.table.Iterate(func(item *lru.Item) bool {
		item.Value.(*os.File).Close()
		return true
	})
	c.table.Clear()
}
