package segment

// Buffer is the in-memory append window backing the currently-WRITING
// segment's data or index stream (spec.md §4.A: "2 MiB each, backing an
// append-only byte stream"). Bytes land here first; Flush pushes them to
// the segment file. A read for an offset inside [base, base+len(pending))
// is served straight from pending instead of touching disk.
type Buffer struct {
	capacity int
	pending  []byte
	base     uint64 // file offset the first byte of pending corresponds to
	fid      uint32 // fid of the segment this buffer is currently appending to
}

// NewBuffer creates a buffer with the given capacity (spec.md §4.A: 2 MiB
// default for both data and index buffers).
func NewBuffer(capacity int) *Buffer {
	return &Buffer{capacity: capacity, pending: make([]byte, 0, capacity)}
}

// Reset repositions the buffer at the start of a fresh segment (after
// rotation) or after a flush, discarding any pending bytes.
func (b *Buffer) Reset(fid uint32, base uint64) {
	b.fid = fid
	b.base = base
	b.pending = b.pending[:0]
}

// FID returns the fid of the segment this buffer is currently targeting.
func (b *Buffer) FID() uint32 { return b.fid }

// Base returns the file offset corresponding to the first pending byte.
func (b *Buffer) Base() uint64 { return b.base }

// Len returns the number of pending bytes not yet flushed.
func (b *Buffer) Len() int { return len(b.pending) }

// Remaining returns how many more bytes can be appended before the buffer
// is full.
func (b *Buffer) Remaining() int { return b.capacity - len(b.pending) }

// Fits reports whether n more bytes can be appended without exceeding
// capacity. Records/pages at or above capacity bypass the buffer entirely
// and are written directly after a flush (spec.md §4.A).
func (b *Buffer) Fits(n int) bool { return n <= b.Remaining() }

// Append adds data to the pending window. Callers must have checked Fits
// first (or be performing the direct-write bypass path).
func (b *Buffer) Append(data []byte) {
	b.pending = append(b.pending, data...)
}

// Pending returns the unflushed bytes.
func (b *Buffer) Pending() []byte { return b.pending }

// Lookup returns the slice of pending bytes starting at file offset
// realOffset with the given length, if it lies entirely within the
// pending window.
func (b *Buffer) Lookup(realOffset uint64, n int) ([]byte, bool) {
	if realOffset < b.base {
		return nil, false
	}
	start := realOffset - b.base
	if start+uint64(n) > uint64(len(b.pending)) {
		return nil, false
	}
	return b.pending[start : start+uint64(n)], true
}

// MarkFlushed advances base past the bytes just written to disk and clears
// the pending window.
func (b *Buffer) MarkFlushed() {
	b.base += uint64(len(b.pending))
	b.pending = b.pending[:0]
}
