package polyfs

import (
	"encoding/binary"
	"io"
)

// expandFile walks a regular file's block-end-pointer table, expanding
// each block in turn and writing it to w (if w is non-nil; a nil w means
// we're only checking, not extracting). offset and size are the inode's
// raw fields: offset is the byte offset of the pointer table, size is the
// file's total decompressed length.
//
// The pointer table has one 32-bit little-endian entry per block, holding
// the byte offset one past the end of that block's compressed data (or, for
// an uncompressed or stored block, one past its raw data). A block whose
// end pointer equals the running start offset is a hole: zero bytes with
// nothing backing them in the image, BlockSize of them, or the remaining
// file length for the last block.
func (wc *WalkContext) expandFile(offset uint32, size uint32, w io.Writer) error {
	nblocks := uint32(0)
	if size > 0 {
		nblocks = (size + BlockSize - 1) / BlockSize
	}

	curr := uint64(offset) + 4*uint64(nblocks)
	remaining := size
	ptr := make([]byte, 4)

	for k := uint32(0); k < nblocks; k++ {
		if _, err := wc.src.ReadAt(ptr, int64(offset)+4*int64(k)); err != nil {
			return ioError("reading block pointer", err)
		}
		next := uint64(binary.LittleEndian.Uint32(ptr))
		if next > wc.endData {
			wc.endData = next
		}

		isLast := k == nblocks-1
		blockLen := BlockSize
		if isLast {
			blockLen = int(remaining)
		}

		var n int
		if curr == next {
			wc.verbose.Hole(int64(curr), blockLen)
			wc.decomp.Hole(blockLen)
			n = blockLen
		} else {
			wc.verbose.Block(int64(curr), int64(next))
			compLen := next - curr
			compBuf := make([]byte, compLen)
			if _, err := wc.src.ReadAt(compBuf, int64(curr)); err != nil {
				return ioError("reading compressed block", err)
			}
			var err error
			n, err = wc.decomp.UncompressBlock(compBuf)
			if err != nil {
				return err
			}
		}

		if !isLast {
			if n != BlockSize {
				return ErrNonBlockBytes
			}
		} else if uint32(n) != remaining {
			return ErrNonSizeBytes
		}

		if w != nil {
			if _, err := w.Write(wc.decomp.Output()[:n]); err != nil {
				return wrapError(ExitError, "writing extracted data", err)
			}
		}

		remaining -= uint32(n)
		curr = next
	}
	return nil
}
