package segment

import "encoding/binary"

const (
	// PageHeaderSize is PAGEHSIZE: magic(4) + bid(4) + num(4) + oid(8).
	PageHeaderSize = 4 + 4 + 4 + 8

	// PageItemSize is sizeof(PITEM): FOFF(6) + PHASH(3).
	PageItemSize = 9

	// PageGrowIncrement is CDB_PAGEINCR: a page's item capacity grows by
	// this many slots whenever it overflows.
	PageGrowIncrement = 4
)

// PageItem is one (hash, offset) slot inside an index page (PITEM on disk).
type PageItem struct {
	Hash   PackedHash
	Offset VOffset
}

// Page is an index page: every record whose bucket id equals BucketID has
// its (packed-hash, offset) pair stored here (CDBPAGE on disk).
type Page struct {
	Magic    uint32
	BucketID uint32
	OID      uint64
	Items    []PageItem
}

// EncodedSize returns the unaligned on-disk size of the page.
func (p *Page) EncodedSize() int {
	return PageHeaderSize + len(p.Items)*PageItemSize
}

// Encode appends the on-disk byte representation of p to dst.
func (p *Page) Encode(dst []byte) []byte {
	var hdr [PageHeaderSize]byte
	binary.LittleEndian.PutUint32(hdr[0:4], PageMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], p.BucketID)
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(p.Items)))
	binary.LittleEndian.PutUint64(hdr[12:20], p.OID)
	dst = append(dst, hdr[:]...)

	for _, item := range p.Items {
		var buf [PageItemSize]byte
		// FOFF: i4 (24 bits of fid, packed with offset in this Go port's
		// VOffset) is encoded as the raw 64-bit VOffset's low 48 bits,
		// split fid(3 bytes)+offset(3 bytes) to mirror FOFF{i4,i2} layout.
		putVOffset(buf[0:6], item.Offset)
		putPackedHash(buf[6:9], item.Hash)
		dst = append(dst, buf[:]...)
	}
	return dst
}

// EncodeVOffset writes the 6-byte on-disk representation of v to dst, which
// must be at least 6 bytes long. Exported for callers outside this package
// that need the same wire format (e.g. the record cache's packed value, per
// spec.md §4.D).
func EncodeVOffset(dst []byte, v VOffset) { putVOffset(dst, v) }

// DecodeVOffset parses a 6-byte on-disk virtual offset.
func DecodeVOffset(src []byte) VOffset { return getVOffset(src) }

func putVOffset(dst []byte, v VOffset) {
	raw := uint64(v)
	dst[0] = byte(raw)
	dst[1] = byte(raw >> 8)
	dst[2] = byte(raw >> 16)
	dst[3] = byte(raw >> 24)
	dst[4] = byte(raw >> 32)
	dst[5] = byte(raw >> 40)
}

func getVOffset(src []byte) VOffset {
	raw := uint64(src[0]) | uint64(src[1])<<8 | uint64(src[2])<<16 |
		uint64(src[3])<<24 | uint64(src[4])<<32 | uint64(src[5])<<40
	return VOffset(raw)
}

func putPackedHash(dst []byte, h PackedHash) {
	dst[0] = byte(h)
	dst[1] = byte(h >> 8)
	dst[2] = byte(h >> 16)
}

func getPackedHash(src []byte) PackedHash {
	return PackedHash(uint32(src[0]) | uint32(src[1])<<8 | uint32(src[2])<<16)
}

// DecodePageHeader parses the fixed header, returning the item count so the
// caller knows whether the advance-read window already covers the whole
// page (spec.md §4.A read path, 3 KiB default window for pages).
func DecodePageHeader(buf []byte) (Page, error) {
	if len(buf) < PageHeaderSize {
		return Page{}, errCorruptSegment("page header truncated")
	}
	var p Page
	p.Magic = binary.LittleEndian.Uint32(buf[0:4])
	if p.Magic != PageMagic {
		return Page{}, errCorruptSegment("bad page magic")
	}
	p.BucketID = binary.LittleEndian.Uint32(buf[4:8])
	num := binary.LittleEndian.Uint32(buf[8:12])
	p.OID = binary.LittleEndian.Uint64(buf[12:20])
	p.Items = make([]PageItem, 0, num)
	return p, nil
}

// DecodePage parses a complete page (header + items) from buf.
func DecodePage(buf []byte) (Page, error) {
	p, err := DecodePageHeader(buf)
	if err != nil {
		return Page{}, err
	}
	num := cap(p.Items)
	need := PageHeaderSize + num*PageItemSize
	if len(buf) < need {
		return Page{}, errCorruptSegment("page body truncated")
	}
	off := PageHeaderSize
	for i := 0; i < num; i++ {
		item := PageItem{
			Offset: getVOffset(buf[off : off+6]),
			Hash:   getPackedHash(buf[off+6 : off+9]),
		}
		p.Items = append(p.Items, item)
		off += PageItemSize
	}
	return p, nil
}
