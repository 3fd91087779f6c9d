// Package options provides data structures and functions for configuring the
// cuttdb storage engine. It defines every tunable parameter that controls
// the engine's hash index sizing, cache limits, segment layout, worker
// intervals, and the optional bloom filter, following the functional-options
// pattern.
package options

import (
	"strings"
)

// Options defines the configuration parameters for a cuttdb instance. It
// mirrors cdb_option()/cdb_option_bloomfilter()/cdb_option_areadsize() from
// the original C API, plus the segment and worker tunables this port adds.
type Options struct {
	// DataDir is the base path where the database directory lives.
	//
	// Default: "/var/lib/cuttdb"
	DataDir string `json:"dataDir"`

	// InMemory, when true, disables all disk segments: records live only
	// in the record cache. Corresponds to opening with path ":memory:" in
	// the original API. Requires a non-zero RecordCacheMB (cdb_open would
	// fail with CDB_MEMDBNOCACHE otherwise).
	InMemory bool `json:"inMemory"`

	// HashSize is the number of slots in the main bucket table. Clamped to
	// >= 4096 per spec.md §8 and fixed for the lifetime of the database
	// (persisted in the header, not reconfigurable after creation).
	//
	// Default: 1,000,000
	HashSize uint32 `json:"hashSize"`

	// RecordCacheMB is the size limit, in MiB, for the record cache.
	//
	// Default: 128
	RecordCacheMB uint64 `json:"recordCacheMB"`

	// PageCacheMB is the size limit, in MiB, for the combined clean+dirty
	// index page cache.
	//
	// Default: 1024
	PageCacheMB uint64 `json:"pageCacheMB"`

	// BloomFilterSize is the estimated record count used to size the
	// optional bloom filter. Zero disables the filter. Minimum 100,000 when
	// enabled (cdb_option_bloomfilter's documented floor).
	BloomFilterSize uint64 `json:"bloomFilterSize"`

	// AdvanceReadSize is the speculative record read size, clamped to
	// [1KiB, 64KiB-1] by WithAdvanceReadSize. The engine does not read this
	// field: record reads use the segment store's fixed 4KiB window and page
	// reads its fixed 3KiB window.
	//
	// Default: 4096
	AdvanceReadSize uint32 `json:"advanceReadSize"`

	// FdCacheSize bounds the number of open read-only segment file
	// descriptors kept warm by the segment store's LRU fd cache.
	//
	// Default: 16384
	FdCacheSize int `json:"fdCacheSize"`

	// PageWarmup, when true, reads every index page into the clean page
	// cache during Open (CDB_PAGEWARMUP).
	PageWarmup bool `json:"pageWarmup"`

	// Segment configures segment file layout and size caps.
	Segment SegmentOptions `json:"segment"`

	// Workers configures background worker intervals.
	Workers WorkerOptions `json:"workers"`

	// ErrorCallback holds a (code, file, line) hook in the shape of
	// cdb_seterrcb. The engine does not invoke it; errors are delivered
	// only as returned error values.
	ErrorCallback func(code string, file string, line int)
}

// SegmentOptions controls segment file naming and size caps (spec.md §4.A).
type SegmentOptions struct {
	// DataSegmentSize is the size cap for a data segment before it is
	// marked FULL and a new one is allocated.
	//
	// Default: 128 MiB
	DataSegmentSize uint32 `json:"dataSegmentSize"`

	// IndexSegmentSize is the size cap for an index segment.
	//
	// Default: 16 MiB
	IndexSegmentSize uint32 `json:"indexSegmentSize"`

	// DataBufferSize is the size of the in-memory append buffer for the
	// data log.
	//
	// Default: 2 MiB
	DataBufferSize uint32 `json:"dataBufferSize"`

	// IndexBufferSize is the size of the in-memory append buffer for the
	// index log.
	//
	// Default: 2 MiB
	IndexBufferSize uint32 `json:"indexBufferSize"`

	// DeletionBufferEntries bounds how many deleted offsets are held in
	// memory before the deletion log is spilled to disk.
	//
	// Default: 10,000
	DeletionBufferEntries int `json:"deletionBufferEntries"`
}

// WorkerOptions controls the interval, in seconds, for each background
// worker registered with the scheduler (spec.md §4.F).
type WorkerOptions struct {
	FlushIntervalSeconds           int `json:"flushIntervalSeconds"`
	DirtyPageFlushIntervalSeconds  int `json:"dirtyPageFlushIntervalSeconds"`
	IndexCompactIntervalSeconds    int `json:"indexCompactIntervalSeconds"`
	DataCompactIntervalSeconds     int `json:"dataCompactIntervalSeconds"`
	DataCompactRecheckFactorFactor int `json:"dataCompactRecheckFactor"`
}

// OptionFunc is a function type that modifies the engine's configuration.
type OptionFunc func(*Options)

// WithDefaultOptions applies the full set of default configuration values.
func WithDefaultOptions() OptionFunc {
	return func(o *Options) {
		*o = NewDefaultOptions()
	}
}

// WithDataDir sets the primary data directory.
func WithDataDir(directory string) OptionFunc {
	return func(o *Options) {
		directory = strings.TrimSpace(directory)
		if directory != "" {
			o.DataDir = directory
		}
	}
}

// WithInMemory opens the database in the special in-memory-only mode
// (equivalent to the original API's CDB_MEMDB path sentinel).
func WithInMemory() OptionFunc {
	return func(o *Options) {
		o.InMemory = true
	}
}

// WithHashSize sets the main bucket table size, clamped to >= 4096.
func WithHashSize(hsize uint32) OptionFunc {
	return func(o *Options) {
		if hsize < MinHashSize {
			hsize = MinHashSize
		}
		o.HashSize = hsize
	}
}

// WithCacheLimits sets the record and page cache limits, in MiB.
func WithCacheLimits(recordCacheMB, pageCacheMB uint64) OptionFunc {
	return func(o *Options) {
		o.RecordCacheMB = recordCacheMB
		o.PageCacheMB = pageCacheMB
	}
}

// WithBloomFilter enables the optional bloom filter, sized for the given
// estimated record count (minimum 100,000).
func WithBloomFilter(estimatedRecords uint64) OptionFunc {
	return func(o *Options) {
		if estimatedRecords < MinBloomFilterRecords {
			estimatedRecords = MinBloomFilterRecords
		}
		o.BloomFilterSize = estimatedRecords
	}
}

// WithAdvanceReadSize sets the speculative read size, clamped to
// [1KiB, 64KiB-1].
func WithAdvanceReadSize(size uint32) OptionFunc {
	return func(o *Options) {
		if size < MinAdvanceReadSize {
			size = MinAdvanceReadSize
		}
		if size > MaxAdvanceReadSize {
			size = MaxAdvanceReadSize
		}
		o.AdvanceReadSize = size
	}
}

// WithFdCacheSize sets the capacity of the segment file descriptor LRU cache.
func WithFdCacheSize(n int) OptionFunc {
	return func(o *Options) {
		if n > 0 {
			o.FdCacheSize = n
		}
	}
}

// WithPageWarmup enables reading all index pages into the clean page cache
// during Open.
func WithPageWarmup() OptionFunc {
	return func(o *Options) {
		o.PageWarmup = true
	}
}

// WithSegmentSizes sets the data and index segment size caps, in bytes.
func WithSegmentSizes(dataSize, indexSize uint32) OptionFunc {
	return func(o *Options) {
		if dataSize > 0 {
			o.Segment.DataSegmentSize = dataSize
		}
		if indexSize > 0 {
			o.Segment.IndexSegmentSize = indexSize
		}
	}
}

// WithWorkerIntervals overrides the background worker intervals, in
// seconds. A zero value leaves the corresponding default untouched.
func WithWorkerIntervals(flush, dirtyPageFlush, indexCompact, dataCompact int) OptionFunc {
	return func(o *Options) {
		if flush > 0 {
			o.Workers.FlushIntervalSeconds = flush
		}
		if dirtyPageFlush > 0 {
			o.Workers.DirtyPageFlushIntervalSeconds = dirtyPageFlush
		}
		if indexCompact > 0 {
			o.Workers.IndexCompactIntervalSeconds = indexCompact
		}
		if dataCompact > 0 {
			o.Workers.DataCompactIntervalSeconds = dataCompact
		}
	}
}

// WithErrorCallback stores cb in Options.ErrorCallback. The engine does not
// invoke it; errors are delivered only as returned error values.
func WithErrorCallback(cb func(code string, file string, line int)) OptionFunc {
	return func(o *Options) {
		o.ErrorCallback = cb
	}
}

// Apply returns a new Options value built from the defaults with the given
// functional options applied, in order.
func Apply(opts ...OptionFunc) Options {
	o := NewDefaultOptions()
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}
