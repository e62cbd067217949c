package polyfs

import (
	"bytes"
	"testing"
)

// TestExpandFileWithMiddleHole covers spec.md §8 scenario 3: a 3-block file
// where the middle block is a hole (its end pointer equals the running
// start offset, meaning no bytes back it in the image at all).
func TestExpandFileWithMiddleHole(t *testing.T) {
	const offset = 0
	nblocks := uint32(3)
	block0 := bytes.Repeat([]byte{0xaa}, BlockSize)
	block2 := bytes.Repeat([]byte{0xbb}, BlockSize)

	tableEnd := uint64(offset) + 4*uint64(nblocks)
	next0 := tableEnd + uint64(len(block0))
	next1 := next0 // hole: zero compressed bytes between next0 and next1
	next2 := next1 + uint64(len(block2))

	image := make([]byte, next2)
	putLE32 := func(off uint64, v uint32) {
		image[off] = byte(v)
		image[off+1] = byte(v >> 8)
		image[off+2] = byte(v >> 16)
		image[off+3] = byte(v >> 24)
	}
	putLE32(0, uint32(next0))
	putLE32(4, uint32(next1))
	putLE32(8, uint32(next2))
	copy(image[tableEnd:], block0)
	copy(image[next1:], block2)

	src := NewSource(newMockReaderAt(image))
	decomp := NewDecompressor(0)
	wc := &WalkContext{src: src, decomp: decomp}

	var buf bytes.Buffer
	size := uint32(3 * BlockSize)
	if err := wc.expandFile(offset, size, &buf); err != nil {
		t.Fatalf("expandFile: %v", err)
	}

	want := make([]byte, 0, size)
	want = append(want, block0...)
	want = append(want, make([]byte, BlockSize)...)
	want = append(want, block2...)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("extracted content did not match: hole or surrounding blocks are wrong")
	}
	if wc.endData != next2 {
		t.Errorf("endData = %d, want %d", wc.endData, next2)
	}
}

// TestExpandFileAllHoles covers the degenerate case of a single-block,
// entirely sparse file: the whole block's content is zero with nothing
// backing it in the image.
func TestExpandFileAllHoles(t *testing.T) {
	const offset = 0
	size := uint32(10)
	tableEnd := uint64(offset) + 4 // one block, one pointer

	image := make([]byte, tableEnd)
	ptr := uint32(tableEnd) // pointer equals the running offset: a hole
	image[0] = byte(ptr)
	image[1] = byte(ptr >> 8)
	image[2] = byte(ptr >> 16)
	image[3] = byte(ptr >> 24)

	src := NewSource(newMockReaderAt(image))
	decomp := NewDecompressor(0)
	wc := &WalkContext{src: src, decomp: decomp}

	var buf bytes.Buffer
	if err := wc.expandFile(offset, size, &buf); err != nil {
		t.Fatalf("expandFile: %v", err)
	}
	want := make([]byte, size)
	if !bytes.Equal(buf.Bytes(), want) {
		t.Errorf("got %v, want %d zero bytes", buf.Bytes(), size)
	}
}
