package segment

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
)

const (
	dataPrefix  = "dat"
	indexPrefix = "idx"
	fileExt     = ".cdb"

	// MaxFID is the wrap point for fid recycling by linear probing
	// (spec.md §4.A: "wrapping at 2^24").
	MaxFID = 1 << 24
)

func prefixFor(t Type) string {
	if t == TypeIndex {
		return indexPrefix
	}
	return dataPrefix
}

// FileName renders the 8-digit-fid filename for a segment of the given type
// (idxNNNNNNNN.cdb / datNNNNNNNN.cdb, spec.md §6).
func FileName(t Type, fid uint32) string {
	return fmt.Sprintf("%s%08d%s", prefixFor(t), fid, fileExt)
}

// ParseFileName extracts the type and fid from a segment filename, or
// reports ok=false if name doesn't match the expected convention.
func ParseFileName(name string) (t Type, fid uint32, ok bool) {
	base := strings.TrimSuffix(name, fileExt)
	if !strings.HasSuffix(name, fileExt) || len(base) != 11 {
		return 0, 0, false
	}

	var prefix string
	switch base[:3] {
	case dataPrefix:
		t, prefix = TypeData, dataPrefix
	case indexPrefix:
		t, prefix = TypeIndex, indexPrefix
	default:
		return 0, 0, false
	}
	_ = prefix

	n, err := strconv.ParseUint(base[3:], 10, 32)
	if err != nil {
		return 0, 0, false
	}
	return t, uint32(n), true
}

// DiscoverSegments lists every segment file in dir, sorted lexicographically
// (which, because fids are zero-padded to a fixed width, is also numeric
// order), following the same lexicographic-sort discovery technique the
// generic segment package used, adapted to this package's own filename
// convention.
func DiscoverSegments(dir string) (data []string, index []string, err error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, errIO(err, "failed to read segment directory")
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		t, _, ok := ParseFileName(e.Name())
		if !ok {
			continue
		}
		switch t {
		case TypeData:
			data = append(data, e.Name())
		case TypeIndex:
			index = append(index, e.Name())
		}
	}

	slices.Sort(data)
	slices.Sort(index)
	return data, index, nil
}

// Path joins dir and the segment's filename.
func Path(dir string, t Type, fid uint32) string {
	return filepath.Join(dir, FileName(t, fid))
}
