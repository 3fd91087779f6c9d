package engine

import (
	"time"

	"github.com/fusiyuan2010/cuttdb/internal/index"
	"github.com/fusiyuan2010/cuttdb/internal/segment"
	"github.com/fusiyuan2010/cuttdb/pkg/errors"
)

// cachedValueOverhead is the fixed-size prefix of a record cache entry:
// old-offset(6) + expire(4), matching spec.md §4.D's record cache value
// layout [old-offset:6][expire:4][value bytes].
const cachedValueOverhead = 6 + 4

// encodeCachedValue packs a record cache entry: the record's own on-disk
// offset (so a later Set/Delete can find it without a page scan), its
// absolute expire, and the value bytes.
func encodeCachedValue(off segment.VOffset, expire uint32, value []byte) []byte {
	buf := make([]byte, cachedValueOverhead+len(value))
	segment.EncodeVOffset(buf[0:6], off)
	buf[6] = byte(expire)
	buf[7] = byte(expire >> 8)
	buf[8] = byte(expire >> 16)
	buf[9] = byte(expire >> 24)
	copy(buf[cachedValueOverhead:], value)
	return buf
}

// decodeCachedValue reverses encodeCachedValue.
func decodeCachedValue(buf []byte) (off segment.VOffset, expire uint32, value []byte) {
	off = segment.DecodeVOffset(buf[0:6])
	expire = uint32(buf[6]) | uint32(buf[7])<<8 | uint32(buf[8])<<16 | uint32(buf[9])<<24
	value = buf[cachedValueOverhead:]
	return
}

func isExpired(expire uint32, now uint32) bool {
	return expire != 0 && expire <= now
}

func nowUnix() uint32 { return uint32(time.Now().Unix()) }

// Set implements cdb_set2: resolve any prior live record for key, enforce
// opt's conflict flags, append the new record, and repoint the index (or
// insert a fresh item if there was no prior record). See spec.md §4.E.
func (e *Engine) Set(key, value []byte, opt SetOption, expireSeconds uint32) error {
	if e.closed.Load() {
		return ErrClosed
	}

	now := nowUnix()
	expire := uint32(0)
	if expireSeconds != 0 {
		expire = now + expireSeconds
	}

	if e.inMemory {
		return e.setInMemory(key, value, expire)
	}

	hash := keyHash(key)
	bid := e.index.BucketID(hash)
	packed := segment.PackHash(hash)
	group := e.index.LockGroup(bid)

	e.cache.LockBucket(group)
	defer e.cache.UnlockBucket(group)

	priorOff, priorSize, priorExpired, found, err := e.resolvePrior(key, hash, now)
	if err != nil {
		return err
	}

	if found && !priorExpired {
		if opt.Has(InsertIfNotExist) {
			return errors.NewEngineError(nil, errors.ErrorCodeExist, "key already has a live record").
				WithOperation("Set").WithKey(key)
		}
	} else if opt.Has(InsertIfExist) {
		return errors.NewEngineError(nil, errors.ErrorCodeNotFound, "no live record to overwrite").
			WithOperation("Set").WithKey(key)
	}

	oid := e.nextOID()
	rec := &segment.Record{Magic: segment.RecordMagic, Expire: expire, OID: oid, Key: key, Value: value}
	newOff, err := e.store.AppendRecord(rec)
	if err != nil {
		return errors.NewEngineError(err, errors.ErrorCodeWriteError, "failed to append record").
			WithOperation("Set").WithKey(key).WithOID(oid)
	}

	if found {
		if err := e.index.ReplaceOff(bid, packed, priorOff, newOff); err != nil {
			return err
		}
		e.store.AddSegmentJunk(segment.TypeData, priorOff.FileID(), uint32(priorSize))
	} else {
		if err := e.index.UpdatePage(bid, packed, newOff, index.OpInsert); err != nil {
			return err
		}
	}

	if opt.Has(InsertCache) {
		e.cache.RecordPut(key, encodeCachedValue(newOff, expire, value))
	}

	if e.cache.RecordOverflow() {
		e.cache.RecordEvictTail()
	}
	return nil
}

// resolvePrior finds the on-disk offset (and encoded size, for junk-byte
// accounting) of the most recent live record for key, preferring the record
// cache and falling back to a page scan that disambiguates packed-hash
// collisions by reading each candidate's key.
func (e *Engine) resolvePrior(key []byte, hash uint64, now uint32) (off segment.VOffset, size int, expired bool, found bool, err error) {
	if cached, ok := e.cache.RecordGet(key); ok {
		cOff, cExpire, cValue := decodeCachedValue(cached)
		size = segment.RecordHeaderSize + len(key) + len(cValue)
		return cOff, size, isExpired(cExpire, now), true, nil
	}

	offs, err := e.index.GetOff(hash)
	if err != nil {
		return 0, 0, false, false, err
	}
	for _, candidate := range offs {
		rec, rerr := e.store.ReadRecord(candidate, false)
		if rerr != nil {
			continue
		}
		if string(rec.Key) != string(key) {
			continue
		}
		return candidate, rec.EncodedSize(), isExpired(rec.Expire, now), true, nil
	}
	return 0, 0, false, false, nil
}

// Get implements cdb_get: serve from the record cache when present (subject
// to expiration), otherwise scan the bucket's page, read each candidate
// record, and populate the record cache on a disk hit.
func (e *Engine) Get(key []byte) ([]byte, error) {
	if e.closed.Load() {
		return nil, ErrClosed
	}

	now := nowUnix()

	if e.inMemory {
		return e.getInMemory(key, now)
	}

	if cached, ok := e.cache.RecordGet(key); ok {
		_, expire, value := decodeCachedValue(cached)
		if isExpired(expire, now) {
			return nil, errors.NewEngineError(nil, errors.ErrorCodeNotFound, "key expired").
				WithOperation("Get").WithKey(key)
		}
		out := make([]byte, len(value))
		copy(out, value)
		return out, nil
	}

	hash := keyHash(key)
	bid := e.index.BucketID(hash)
	group := e.index.LockGroup(bid)

	e.cache.LockBucket(group)
	defer e.cache.UnlockBucket(group)

	offs, err := e.index.GetOff(hash)
	if err != nil {
		return nil, err
	}

	for _, off := range offs {
		rec, rerr := e.store.ReadRecord(off, true)
		if rerr != nil {
			continue
		}
		if string(rec.Key) != string(key) {
			continue
		}
		if isExpired(rec.Expire, now) {
			break
		}
		e.cache.RecordPut(key, encodeCachedValue(off, rec.Expire, rec.Value))
		if e.cache.RecordOverflow() {
			e.cache.RecordEvictTail()
		}
		out := make([]byte, len(rec.Value))
		copy(out, rec.Value)
		return out, nil
	}

	return nil, errors.NewEngineError(nil, errors.ErrorCodeNotFound, "key not found").
		WithOperation("Get").WithKey(key)
}

// Delete implements cdb_del: resolve the prior offset exactly like Set, then
// remove the index item and append a deletion-log entry. The record bytes
// stay in the data segment until compaction reclaims them.
func (e *Engine) Delete(key []byte) error {
	if e.closed.Load() {
		return ErrClosed
	}

	if e.inMemory {
		return e.deleteInMemory(key)
	}

	now := nowUnix()
	hash := keyHash(key)
	bid := e.index.BucketID(hash)
	packed := segment.PackHash(hash)
	group := e.index.LockGroup(bid)

	e.cache.LockBucket(group)
	defer e.cache.UnlockBucket(group)

	e.cache.RecordDelete(key)

	off, size, found, err := e.resolvePriorNoCache(key, hash, now)
	if err != nil {
		return err
	}
	if !found {
		return errors.NewEngineError(nil, errors.ErrorCodeNotFound, "key not found").
			WithOperation("Delete").WithKey(key)
	}

	if err := e.index.UpdatePage(bid, packed, off, index.OpDelete); err != nil {
		return err
	}
	e.store.AddSegmentJunk(segment.TypeData, off.FileID(), uint32(size))
	// Deletion-log append failure doesn't fail the call: the index has
	// already forgotten the record, which is the externally visible
	// contract; a missed dellog entry only costs a stale junk-byte
	// accounting line that compaction will discover on its own scan.
	_ = e.store.AppendDeletion(off)
	return nil
}

// resolvePriorNoCache is resolvePrior's page-scan half, used by Delete after
// it has already (unconditionally) evicted any record cache entry.
func (e *Engine) resolvePriorNoCache(key []byte, hash uint64, now uint32) (segment.VOffset, int, bool, error) {
	offs, err := e.index.GetOff(hash)
	if err != nil {
		return 0, 0, false, err
	}
	for _, candidate := range offs {
		rec, rerr := e.store.ReadRecord(candidate, false)
		if rerr != nil {
			continue
		}
		if string(rec.Key) != string(key) {
			continue
		}
		return candidate, rec.EncodedSize(), true, nil
	}
	return 0, 0, false, nil
}

// ---- in-memory special path (spec.md §4.E "In-memory mode") ----

func (e *Engine) setInMemory(key, value []byte, expire uint32) error {
	e.cache.RecordPut(key, encodeCachedValue(0, expire, value))
	if e.cache.RecordOverflow() {
		e.cache.RecordEvictTail()
	}
	return nil
}

func (e *Engine) getInMemory(key []byte, now uint32) ([]byte, error) {
	cached, ok := e.cache.RecordGet(key)
	if !ok {
		return nil, errors.NewEngineError(nil, errors.ErrorCodeNotFound, "key not found").
			WithOperation("Get").WithKey(key)
	}
	_, expire, value := decodeCachedValue(cached)
	if isExpired(expire, now) {
		return nil, errors.NewEngineError(nil, errors.ErrorCodeNotFound, "key expired").
			WithOperation("Get").WithKey(key)
	}
	out := make([]byte, len(value))
	copy(out, value)
	return out, nil
}

func (e *Engine) deleteInMemory(key []byte) error {
	e.cache.RecordDelete(key)
	return nil
}
