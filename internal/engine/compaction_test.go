package engine

import (
	"bytes"
	"testing"
	"time"

	"github.com/fusiyuan2010/cuttdb/internal/segment"
	"github.com/fusiyuan2010/cuttdb/pkg/options"
)

// compactionTestOptions forces tiny segment caps so a handful of ~1KB
// records pushes appendAligned's rotation logic (cap - lowWatermark) into
// finalizing an early segment as FULL, without needing megabytes of data.
func compactionTestOptions(dir string) options.Options {
	o := testOptions(dir)
	o.Segment.DataSegmentSize = 32 * 1024
	o.Segment.IndexSegmentSize = 32 * 1024
	o.Segment.DataBufferSize = 4 * 1024
	o.Segment.IndexBufferSize = 4 * 1024
	return o
}

func bigValue(n int, fill byte) []byte {
	v := make([]byte, n)
	for i := range v {
		v[i] = fill
	}
	return v
}

// TestCompactDataSegmentsReclaimsJunkSegment overwrites enough of an early
// FULL data segment's records to push its junk ratio past 50%, then checks
// that the live-traffic junk accounting (not just recovery) is enough for
// compactDataSegments to select and reclaim it, and that every key that
// should still be live reads back correctly afterward.
func TestCompactDataSegmentsReclaimsJunkSegment(t *testing.T) {
	dir := t.TempDir()
	e, err := New(Config{Options: compactionTestOptions(dir)})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer e.Close()

	const n = 40
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte{byte('A' + i)}
		if err := e.Set(keys[i], bigValue(900, byte(i)), Overwrite, 0); err != nil {
			t.Fatalf("Set(%d) error: %v", i, err)
		}
	}

	full := e.store.Segments(segment.TypeData)
	foundFull := false
	for _, m := range full {
		if m.Status == segment.StatusFull {
			foundFull = true
		}
	}
	if !foundFull {
		t.Fatal("expected at least one FULL data segment after writing 40 ~900-byte records")
	}

	// Overwrite every key: each Set supersedes the record written above,
	// charging its size as junk to whichever segment held the old copy.
	for i := 0; i < n; i++ {
		if err := e.Set(keys[i], bigValue(900, byte(i+1)), Overwrite, 0); err != nil {
			t.Fatalf("overwrite Set(%d) error: %v", i, err)
		}
	}

	before := e.store.Segments(segment.TypeData)
	candidateFID := uint32(0)
	haveCandidate := false
	for _, m := range before {
		if m.Status == segment.StatusFull && m.Junk > m.Size/2 {
			candidateFID = m.FID
			haveCandidate = true
			break
		}
	}
	if !haveCandidate {
		t.Fatal("expected a FULL data segment with Junk > Size/2 from live overwrite traffic alone")
	}

	if err := e.compactDataSegments(); err != nil {
		t.Fatalf("compactDataSegments() error: %v", err)
	}

	for _, m := range e.store.Segments(segment.TypeData) {
		if m.FID == candidateFID {
			t.Fatalf("segment fid=%d still present after compaction", candidateFID)
		}
	}

	for i := 0; i < n; i++ {
		got, err := e.Get(keys[i])
		if err != nil {
			t.Fatalf("Get(%d) after compaction error: %v", i, err)
		}
		if !bytes.Equal(got, bigValue(900, byte(i+1))) {
			t.Fatalf("Get(%d) after compaction returned stale or wrong value", i)
		}
	}
}

// TestCompactIndexSegmentsReclaimsJunkSegment drives enough bucket-page
// rewrites (via repeated overwriting Sets across many distinct buckets) to
// fill and supersede an early index segment, then checks compactIndexSegments
// reclaims it once its junk ratio crosses the threshold.
func TestCompactIndexSegmentsReclaimsJunkSegment(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	const n = 200
	keys := make([][]byte, n)
	for i := 0; i < n; i++ {
		keys[i] = []byte{byte(i), byte(i >> 8), 'k'}
		if err := e.Set(keys[i], []byte("v"), Overwrite, 0); err != nil {
			t.Fatalf("Set(%d) error: %v", i, err)
		}
	}

	var fullBefore []segment.Meta
	for _, m := range e.store.Segments(segment.TypeIndex) {
		if m.Status == segment.StatusFull {
			fullBefore = append(fullBefore, m)
		}
	}
	if len(fullBefore) == 0 {
		t.Skip("index segment never reached FULL with this record count; rotation threshold not exercised")
	}

	// Repeatedly rewrite every key's bucket page so each key's page gets
	// superseded multiple times, charging junk to the segments that held
	// the earlier page copies.
	for round := 0; round < 4; round++ {
		for i := 0; i < n; i++ {
			if err := e.Set(keys[i], []byte("v2"), Overwrite, 0); err != nil {
				t.Fatalf("round %d Set(%d) error: %v", round, i, err)
			}
		}
	}

	haveCandidate := false
	var candidateFID uint32
	for _, m := range e.store.Segments(segment.TypeIndex) {
		if m.Status == segment.StatusFull && m.Junk > m.Size/2 {
			haveCandidate = true
			candidateFID = m.FID
			break
		}
	}
	if !haveCandidate {
		t.Skip("no index segment crossed the junk threshold from live traffic in this run")
	}

	if err := e.compactIndexSegments(); err != nil {
		t.Fatalf("compactIndexSegments() error: %v", err)
	}

	for _, m := range e.store.Segments(segment.TypeIndex) {
		if m.FID == candidateFID {
			t.Fatalf("index segment fid=%d still present after compaction", candidateFID)
		}
	}

	for i := 0; i < n; i++ {
		got, err := e.Get(keys[i])
		if err != nil {
			t.Fatalf("Get(%d) after index compaction error: %v", i, err)
		}
		if string(got) != "v2" {
			t.Fatalf("Get(%d) after index compaction = %q; want v2", i, got)
		}
	}
}

// TestCompactDataSegmentsDropsExpiredRecords checks that compactDataSegment
// drops index entries for records whose expiry has already passed, once
// that segment has actually rotated to FULL.
func TestCompactDataSegmentsDropsExpiredRecords(t *testing.T) {
	dir := t.TempDir()
	e, err := New(Config{Options: compactionTestOptions(dir)})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	defer e.Close()

	key := []byte("soon-expired")
	if err := e.Set(key, bigValue(900, 1), Overwrite, 1); err != nil {
		t.Fatalf("Set() error: %v", err)
	}
	// Pad the segment with enough filler so appendAligned's rotation logic
	// finalizes it as FULL.
	for i := 0; i < 40; i++ {
		if err := e.Set([]byte{byte('Z'), byte(i)}, bigValue(900, byte(i)), Overwrite, 0); err != nil {
			t.Fatalf("filler Set(%d) error: %v", i, err)
		}
	}

	var m segment.Meta
	found := false
	for _, cand := range e.store.Segments(segment.TypeData) {
		if cand.Status == segment.StatusFull {
			m = cand
			found = true
			break
		}
	}
	if !found {
		t.Skip("no data segment reached FULL with this record count; rotation threshold not exercised")
	}

	// The key was written with a 1s expiry; wait until it has passed.
	time.Sleep(2 * time.Second)

	// Force the segment's nearest-expire into the past, mirroring what the
	// expiring-write path would have recorded at append time.
	e.store.ApplySegmentMeta(segment.TypeData, m.FID, m.Junk, 1)
	m.NearestExpire = 1

	if err := e.compactDataSegment(m); err != nil {
		t.Fatalf("compactDataSegment() error: %v", err)
	}

	if _, err := e.Get(key); err == nil {
		t.Fatal("Get() on an expired-and-compacted key succeeded; want not found")
	}
}
