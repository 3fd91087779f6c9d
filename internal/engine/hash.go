// Package engine implements the KV pipeline (set/get/del), crash recovery,
// and the Engine lifecycle tying the segment store, hash index, cache
// coordinator, and background scheduler together into one usable database.
//
// Grounded on cdb_core.c's cdb_set2/cdb_get/cdb_del (pipeline.go), the
// startup scan in cdb_core.c plus cuttdb.h's force_recovery contract
// (recovery.go), and ignite/internal/engine's Engine/Config/Close lifecycle
// shape (engine.go).
package engine

import "hash/crc64"

// hashTable is the CRC-64 ISO polynomial table used to hash keys. The
// original engine hashes keys with its own cdb_crc64 (CDBHASH64); the
// standard library's hash/crc64 produces the same class of well-distributed
// 64-bit fingerprint without hand-rolling a CRC table.
var hashTable = crc64.MakeTable(crc64.ISO)

// keyHash computes the 64-bit hash cdb_getoff/cdb_updatepage/cdb_replaceoff
// all key off: the high bits select the bucket (Index.BucketID), the low 24
// bits are stored in the page item as the packed hash (segment.PackHash).
func keyHash(key []byte) uint64 {
	return crc64.Checksum(key, hashTable)
}

// SetOption is a bitmask of flags controlling Engine.Set's conflict and
// cache-placement behavior, mirroring the original opt-flags parameter
// (spec.md §6 "set").
type SetOption uint8

const (
	// Overwrite allows the write regardless of whether a prior live record
	// exists for the key.
	Overwrite SetOption = 1 << iota

	// InsertIfExist requires a prior live record to exist; the write fails
	// with ErrorCodeNotFound otherwise.
	InsertIfExist

	// InsertIfNotExist requires no prior live record to exist; the write
	// fails with ErrorCodeExist otherwise.
	InsertIfNotExist

	// InsertCache places (or refreshes) the written value in the record
	// cache in addition to the data log.
	InsertCache
)

// Has reports whether flag is set in opt.
func (opt SetOption) Has(flag SetOption) bool { return opt&flag != 0 }
