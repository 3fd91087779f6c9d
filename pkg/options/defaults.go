package options

const (
	// DefaultDataDir is the default base directory where cuttdb stores its
	// database directories.
	DefaultDataDir = "/var/lib/cuttdb"

	// MinHashSize is the smallest allowed main bucket table size
	// (spec.md §8: "hsize clamped to >= 4096").
	MinHashSize uint32 = 4096

	// DefaultHashSize matches cdb_option's documented default of 1 million,
	// suitable for roughly 100 million records per the original API's docs.
	DefaultHashSize uint32 = 1_000_000

	// DefaultRecordCacheMB and DefaultPageCacheMB mirror cdb_option's
	// documented default of (1000000, 128, 1024).
	DefaultRecordCacheMB uint64 = 128
	DefaultPageCacheMB   uint64 = 1024

	// MinBloomFilterRecords is cdb_option_bloomfilter's documented floor.
	MinBloomFilterRecords uint64 = 100_000

	// MinAdvanceReadSize and MaxAdvanceReadSize mirror
	// cdb_option_areadsize's documented range [1KiB, 64KiB).
	MinAdvanceReadSize uint32 = 1 * 1024
	MaxAdvanceReadSize uint32 = 64*1024 - 1

	// DefaultAdvanceReadSize mirrors PAGEAREADSIZE's sibling for records:
	// large enough to cover header + a modest key/value pair in one seek.
	DefaultAdvanceReadSize uint32 = 4 * 1024

	// PageAdvanceReadSize is the spec-fixed (non-tunable) advance read size
	// for index pages (spec.md §4.A).
	PageAdvanceReadSize uint32 = 3 * 1024

	// DefaultFdCacheSize mirrors spec.md §4.A's default of 16384 open
	// read-only segment file descriptors.
	DefaultFdCacheSize = 16384

	// DefaultDataSegmentSize and DefaultIndexSegmentSize mirror spec.md
	// §4.A's size caps (128 MiB / 16 MiB).
	DefaultDataSegmentSize  uint32 = 128 * 1024 * 1024
	DefaultIndexSegmentSize uint32 = 16 * 1024 * 1024

	// DefaultDataBufferSize and DefaultIndexBufferSize mirror spec.md
	// §4.A's 2 MiB write buffers.
	DefaultDataBufferSize  uint32 = 2 * 1024 * 1024
	DefaultIndexBufferSize uint32 = 2 * 1024 * 1024

	// DefaultDeletionBufferEntries mirrors spec.md §4.A's 10,000-entry
	// deletion buffer before it spills.
	DefaultDeletionBufferEntries = 10_000

	// Default worker intervals, in seconds, from spec.md §4.F.
	DefaultFlushIntervalSeconds          = 5
	DefaultDirtyPageFlushIntervalSeconds = 1
	DefaultIndexCompactIntervalSeconds   = 60
	DefaultDataCompactIntervalSeconds    = 120

	// DefaultDataCompactRecheckFactor mirrors DATARCYLECHECKFACTOR. It is
	// carried in WorkerOptions only: the data-compaction worker does not
	// read it and considers every FULL data segment on each pass, with no
	// per-segment recheck delay.
	DefaultDataCompactRecheckFactor = 4
)

// NewDefaultOptions returns the default configuration for a new database.
func NewDefaultOptions() Options {
	return Options{
		DataDir:         DefaultDataDir,
		HashSize:        DefaultHashSize,
		RecordCacheMB:   DefaultRecordCacheMB,
		PageCacheMB:     DefaultPageCacheMB,
		AdvanceReadSize: DefaultAdvanceReadSize,
		FdCacheSize:     DefaultFdCacheSize,
		Segment: SegmentOptions{
			DataSegmentSize:       DefaultDataSegmentSize,
			IndexSegmentSize:      DefaultIndexSegmentSize,
			DataBufferSize:        DefaultDataBufferSize,
			IndexBufferSize:       DefaultIndexBufferSize,
			DeletionBufferEntries: DefaultDeletionBufferEntries,
		},
		Workers: WorkerOptions{
			FlushIntervalSeconds:           DefaultFlushIntervalSeconds,
			DirtyPageFlushIntervalSeconds:  DefaultDirtyPageFlushIntervalSeconds,
			IndexCompactIntervalSeconds:    DefaultIndexCompactIntervalSeconds,
			DataCompactIntervalSeconds:     DefaultDataCompactIntervalSeconds,
			DataCompactRecheckFactorFactor: DefaultDataCompactRecheckFactor,
		},
	}
}
