package engine

import (
	"errors"
	"sync"

	"github.com/fusiyuan2010/cuttdb/internal/segment"
)

// errIterStopped unwinds ScanRecords's visit callback once a RecordIterator's
// consumer has called Close, distinguishing a deliberate stop from a genuine
// scan error.
var errIterStopped = errors.New("iterator stopped")

// iterItem is one record handed from the scanning goroutine to the consumer.
type iterItem struct {
	key    []byte
	value  []byte
	expire uint32
	oid    uint64
}

// RecordIterator implements the "iterate-new"/"iterate" pair (spec.md §6) as
// a pull-based Go iterator: a background goroutine walks every data segment
// in oid order via segment.Store.ScanRecords, filters to records with
// oid >= the requested start-oid that are still live in the index and not
// expired, and feeds them through a channel to Next/Key/Value/Expire/OID.
type RecordIterator struct {
	ch     chan iterItem
	errCh  chan error
	stop   chan struct{}
	once   sync.Once
	cur    iterItem
	err    error
	closed bool
}

// NewIterator starts a RecordIterator beginning at startOID (inclusive).
// Callers must eventually call Close to release the scanning goroutine,
// even after Next returns false.
func (e *Engine) NewIterator(startOID uint64) *RecordIterator {
	it := &RecordIterator{
		ch:    make(chan iterItem, 64),
		errCh: make(chan error, 1),
		stop:  make(chan struct{}),
	}

	go func() {
		defer close(it.ch)

		err := e.store.ScanRecords(func(_ uint32, off segment.VOffset, rec segment.Record) error {
			select {
			case <-it.stop:
				return errIterStopped
			default:
			}

			if rec.OID < startOID {
				return nil
			}
			if isExpired(rec.Expire, nowUnix()) {
				return nil
			}

			hash := keyHash(rec.Key)
			bid := e.index.BucketID(hash)
			group := e.index.LockGroup(bid)
			e.cache.LockBucket(group)
			live, lerr := e.recordStillLive(hash, off)
			e.cache.UnlockBucket(group)
			if lerr != nil {
				return lerr
			}
			if !live {
				return nil
			}

			item := iterItem{
				key:    append([]byte(nil), rec.Key...),
				value:  append([]byte(nil), rec.Value...),
				expire: rec.Expire,
				oid:    rec.OID,
			}
			select {
			case it.ch <- item:
				return nil
			case <-it.stop:
				return errIterStopped
			}
		})
		if err != nil && err != errIterStopped {
			it.errCh <- err
		}
	}()

	return it
}

// Next advances the iterator, reporting whether a record was produced. Once
// it returns false the scan is finished (or an error occurred, retrievable
// via Err) and Key/Value/Expire/OID must not be called.
func (it *RecordIterator) Next() bool {
	item, ok := <-it.ch
	if !ok {
		select {
		case err := <-it.errCh:
			it.err = err
		default:
		}
		return false
	}
	it.cur = item
	return true
}

// Key returns the current record's key.
func (it *RecordIterator) Key() []byte { return it.cur.key }

// Value returns the current record's value.
func (it *RecordIterator) Value() []byte { return it.cur.value }

// Expire returns the current record's absolute expire time (0 = never).
func (it *RecordIterator) Expire() uint32 { return it.cur.expire }

// OID returns the current record's operation id.
func (it *RecordIterator) OID() uint64 { return it.cur.oid }

// Err returns the first error the scan encountered, if any.
func (it *RecordIterator) Err() error { return it.err }

// Close stops the scanning goroutine. Safe to call more than once, and safe
// to call before the iterator is exhausted.
func (it *RecordIterator) Close() {
	it.once.Do(func() { close(it.stop) })
	for range it.ch {
		// drain so the scanning goroutine's blocked send can observe stop
		// and the goroutine exits instead of leaking.
	}
}
