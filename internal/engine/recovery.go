package engine

import (
	"os"
	"path/filepath"

	"github.com/fusiyuan2010/cuttdb/internal/index"
	"github.com/fusiyuan2010/cuttdb/internal/segment"
	"github.com/fusiyuan2010/cuttdb/pkg/errors"
)

// resetForForceRecovery implements recovery step 1's force-recovery clause:
// unlink every index segment so step 5 rebuilds mtable from the data log
// alone, ignoring whatever mtable/roid state mainindex.cdb last recorded.
func resetForForceRecovery(dir string) error {
	_, indexNames, err := segment.DiscoverSegments(dir)
	if err != nil {
		return err
	}
	for _, name := range indexNames {
		path := filepath.Join(dir, name)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return errors.NewEngineError(err, errors.ErrorCodeIO, "failed to unlink index segment during force recovery").
				WithOperation("Recover")
		}
	}
	return nil
}

// runRecovery executes recovery steps 2, 5, 6, and 7 (spec.md §4.G). Steps
// 1, 3, and 4 are handled by segment.Store.Open itself: segment discovery,
// first-oid ordering via Segments(), and WRITING-segment creation. ix must
// already be freshly constructed (empty mtable) when this runs.
//
// roid is the last known clean-point oid read from mainindex.cdb (0 when
// force recovery reset it). It returns the roid to persist going forward
// (unchanged — recovery doesn't advance the clean point itself, only the
// dirty-page-flush task does that) and the highest oid observed, which the
// caller folds into the oid generator so newly assigned oids never collide
// with a replayed one.
func runRecovery(store *segment.Store, ix *index.Index, metas []segmentMetaRecord, roid uint64) (newRoid uint64, maxOID uint64, err error) {
	for _, m := range metas {
		store.ApplySegmentMeta(m.Type, m.FID, m.Junk, m.NearestExpire)
	}

	if err := replayIndexPages(store, ix); err != nil {
		return 0, 0, err
	}

	maxOID = roid
	if err := store.ScanRecords(func(_ uint32, off segment.VOffset, rec segment.Record) error {
		if rec.OID > maxOID {
			maxOID = rec.OID
		}
		if rec.OID <= roid {
			return nil
		}
		return replayRecord(store, ix, rec, off)
	}); err != nil {
		return 0, 0, err
	}

	if err := drainDeletionLog(store, ix); err != nil {
		return 0, 0, err
	}

	return roid, maxOID, nil
}

// replayIndexPages is recovery step 5: iterate every index page in oid
// order (segment.Store.ScanPages walks segments in first-oid order, and
// appends within a segment are oid-increasing), installing each directly
// into mtable and charging any page it supersedes to its old segment's
// junk-bytes.
func replayIndexPages(store *segment.Store, ix *index.Index) error {
	return store.ScanPages(func(_ uint32, off segment.VOffset, page segment.Page) error {
		prevOff, prevCount := ix.ReplayPage(page.BucketID, off, page.Items)
		if !prevOff.IsNull() {
			oldSize := segment.PageHeaderSize + prevCount*segment.PageItemSize
			store.AddSegmentJunk(segment.TypeIndex, prevOff.FileID(), uint32(oldSize))
		}
		return nil
	})
}

// replayRecord is recovery step 6's per-record disambiguation, mirroring
// cdb_set2's own "getoff then compare keys" loop: if an index item already
// names this exact offset (the page-replay pass above already covered it),
// do nothing; if it names a different offset holding the same key, repoint
// it; otherwise insert a fresh item.
func replayRecord(store *segment.Store, ix *index.Index, rec segment.Record, off segment.VOffset) error {
	hash := keyHash(rec.Key)
	bid := ix.BucketID(hash)
	packed := segment.PackHash(hash)

	offs, err := ix.GetOff(hash)
	if err != nil {
		return err
	}
	for _, candidate := range offs {
		if candidate == off {
			return nil
		}
		candRec, rerr := store.ReadRecord(candidate, false)
		if rerr != nil {
			continue
		}
		if string(candRec.Key) == string(rec.Key) {
			return ix.ReplaceOff(bid, packed, candidate, off)
		}
	}
	return ix.UpdatePage(bid, packed, off, index.OpInsert)
}

// drainDeletionLog is recovery step 7: every logged offset is read back (to
// learn its key and size), removed from the index, and its bytes charged as
// junk to its segment. An unreadable logged offset (a torn tail) is skipped
// rather than failing the whole recovery, matching spec.md §7's "a failed
// read during compaction skips the record" tolerance.
func drainDeletionLog(store *segment.Store, ix *index.Index) error {
	return store.DrainDeletionLog(func(off segment.VOffset) error {
		rec, rerr := store.ReadRecord(off, true)
		if rerr != nil {
			return nil
		}
		hash := keyHash(rec.Key)
		bid := ix.BucketID(hash)
		packed := segment.PackHash(hash)
		if err := ix.UpdatePage(bid, packed, off, index.OpDelete); err != nil {
			return err
		}
		store.AddSegmentJunk(segment.TypeData, off.FileID(), uint32(rec.EncodedSize()))
		return nil
	})
}
