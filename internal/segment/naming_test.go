package segment

import "testing"

func TestFileNameRoundTrip(t *testing.T) {
	cases := []struct {
		typ Type
		fid uint32
	}{
		{TypeData, 1},
		{TypeIndex, 42},
		{TypeData, 16777215},
	}

	for _, c := range cases {
		name := FileName(c.typ, c.fid)
		gotType, gotFID, ok := ParseFileName(name)
		if !ok {
			t.Fatalf("ParseFileName(%q) = not ok", name)
		}
		if gotType != c.typ || gotFID != c.fid {
			t.Fatalf("ParseFileName(%q) = (%v, %d); want (%v, %d)", name, gotType, gotFID, c.typ, c.fid)
		}
	}
}

func TestFileNameConvention(t *testing.T) {
	if got := FileName(TypeData, 1); got != "dat00000001.cdb" {
		t.Fatalf("FileName(data, 1) = %q; want dat00000001.cdb", got)
	}
	if got := FileName(TypeIndex, 1); got != "idx00000001.cdb" {
		t.Fatalf("FileName(index, 1) = %q; want idx00000001.cdb", got)
	}
}

func TestParseFileNameRejectsGarbage(t *testing.T) {
	for _, bad := range []string{"mainindex.cdb", "foo.txt", "dat123.cdb", ""} {
		if _, _, ok := ParseFileName(bad); ok {
			t.Fatalf("ParseFileName(%q) = ok; want rejected", bad)
		}
	}
}
