// Package bloom implements the split-bitmap bloom filter cuttdb uses as an
// optional negative-lookup shortcut ahead of the hash index, grounded on
// cdb_bloomfilter.c/.h from the original implementation. It is exercised
// only when a database is opened with options.WithBloomFilter; the filter
// never replaces the index, it only lets Get short-circuit a definite miss
// without touching the page cache or segment store.
package bloom

const (
	// hashNum is CDBBFHASHNUM: the maximum number of independent hash
	// functions a filter can use.
	hashNum = 16

	// splitPow is CDBBFSPLITPOW: the bitmap is split into 2^splitPow
	// independently-allocated shards so a large filter never requires one
	// huge contiguous allocation.
	splitPow  = 6
	splitNum  = 1 << splitPow
	splitMask = splitNum - 1
)

// seeds are BFSEEDS: multiplicative hash constants, one per hash function,
// applied byte-by-byte over the key.
var seeds = [hashNum]uint64{
	217636919, 290182597, 386910137, 515880193,
	687840301, 917120411, 1222827239, 1610612741,
	3300450239, 3300450259, 3300450281, 3300450289,
	3221225473, 4294967291, 163227661, 122420729,
}

// Filter is a fixed-size bloom filter over opaque byte keys.
type Filter struct {
	bitmap [splitNum][]byte
	rnum   uint64
	size   uint64
	hnum   int
}

// New creates a filter sized for size bytes total (split across splitNum
// shards), tuned for an estimated rnum records. hnum is derived the same
// way cdb_bf_new derives it: target a 0.7 load ratio, clamped to [1, 16].
func New(rnum, size uint64) *Filter {
	if rnum == 0 {
		rnum = 1
	}

	bf := &Filter{size: size}
	bf.hnum = int(size * 8 * 7 / (rnum * 10))
	if bf.hnum > hashNum {
		bf.hnum = hashNum
	}
	if bf.hnum == 0 {
		bf.hnum = 1
	}

	shardSize := size >> splitPow
	for i := range bf.bitmap {
		bf.bitmap[i] = make([]byte, shardSize)
	}
	return bf
}

// HashCount returns the number of hash functions in use, useful for tests
// and diagnostics.
func (bf *Filter) HashCount() int { return bf.hnum }

// Len returns the number of keys recorded via Set.
func (bf *Filter) Len() uint64 { return bf.rnum }

func (bf *Filter) positions(key []byte) [hashNum]uint64 {
	var hval [hashNum]uint64
	for _, b := range key {
		for i := 0; i < bf.hnum; i++ {
			hval[i] = hval[i]*seeds[i] + uint64(b)
		}
	}
	return hval
}

func (bf *Filter) bitsPerShard() uint64 {
	return (bf.size >> splitPow) << 3
}

// Set records key as present.
func (bf *Filter) Set(key []byte) {
	hval := bf.positions(key)
	bitsPerShard := bf.bitsPerShard()

	for i := 0; i < bf.hnum; i++ {
		p := (hval[i] >> splitPow) % bitsPerShard
		shard := bf.bitmap[hval[i]&splitMask]
		shard[p>>3] |= 1 << (p & 0x07)
	}
	bf.rnum++
}

// MightContain reports whether key may have been set. A false result is a
// definite miss; a true result may be a false positive.
func (bf *Filter) MightContain(key []byte) bool {
	hval := bf.positions(key)
	bitsPerShard := bf.bitsPerShard()

	for i := 0; i < bf.hnum; i++ {
		p := (hval[i] >> splitPow) % bitsPerShard
		shard := bf.bitmap[hval[i]&splitMask]
		if shard[p>>3]&(1<<(p&0x07)) == 0 {
			return false
		}
	}
	return true
}

// Reset clears every bit, as if the filter were newly created.
func (bf *Filter) Reset() {
	for i := range bf.bitmap {
		for j := range bf.bitmap[i] {
			bf.bitmap[i][j] = 0
		}
	}
	bf.rnum = 0
}
