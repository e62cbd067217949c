package polyfs

import (
	"bytes"
	"fmt"
	"hash/crc32"
	"io"

	lzo "github.com/anchore/go-lzo"
	kzlib "github.com/klauspost/compress/zlib"
)

// lzoMaxCompressedLen is the worst-case size of an LZO1X-compressed
// BlockSize-sized block: BlockSize plus the standard LZO expansion
// allowance.
const lzoMaxCompressedLen = BlockSize + BlockSize/16 + 64 + 3

// blockMaxSizeWithOverhead sizes the scratch buffer used for the LZO
// overlap self-check; it must hold the worst-case compressed
// representation of a block.
const blockMaxSizeWithOverhead = lzoMaxCompressedLen

// zlibMaxCompressedLen bounds the largest zlib stream we'll accept for one
// block: in the pathological case zlib can grow data slightly, so allow up
// to twice BlockSize before calling it corrupt rather than merely unlucky.
const zlibMaxCompressedLen = 2 * BlockSize

// lzoDecompress is the LZO1X decompression call, held behind a variable so
// tests can substitute a fake without needing a real LZO1X-encoded fixture.
var lzoDecompress = lzo.Decompress1X

type compressionMode int

const (
	modeStored compressionMode = iota
	modeZlib
	modeLZO
)

// Decompressor turns compressed on-disk blocks into plaintext, reusing a
// single scratch buffer across calls the way the teacher's table/inode
// readers reuse their own internal buffer rather than allocating per call.
type Decompressor struct {
	mode    compressionMode
	scratch [2 * BlockSize]byte
	zr      io.ReadCloser // nil until first zlib block is seen
}

// NewDecompressor selects a decompression mode from the superblock's
// feature flags. FSID_VERSION_1 images with neither ZLIB_COMPRESSION nor
// LZO_COMPRESSION set store blocks uncompressed.
func NewDecompressor(flags Flags) *Decompressor {
	d := &Decompressor{mode: modeStored}
	switch {
	case flags.Has(FlagLZOCompression):
		d.mode = modeLZO
	case flags.Has(FlagZlibCompression):
		d.mode = modeZlib
	}
	return d
}

// Output returns the scratch buffer backing the most recent
// UncompressBlock call. Callers slice it to the returned length themselves.
func (d *Decompressor) Output() []byte {
	return d.scratch[:]
}

// Hole zero-fills the first n bytes of the scratch buffer and returns them,
// for the sparse-hole case where a block's compressed representation is
// entirely absent from the image.
func (d *Decompressor) Hole(n int) []byte {
	for i := 0; i < n; i++ {
		d.scratch[i] = 0
	}
	return d.scratch[:n]
}

// UncompressBlock decompresses one block's worth of compressed bytes into
// the scratch buffer and returns how many bytes were produced.
func (d *Decompressor) UncompressBlock(compressed []byte) (int, error) {
	switch d.mode {
	case modeLZO:
		return d.decompressLZO(compressed)
	case modeZlib:
		return d.decompressZlib(compressed)
	default:
		return d.decompressStored(compressed)
	}
}

func (d *Decompressor) decompressStored(raw []byte) (int, error) {
	if len(raw) > BlockSize {
		return 0, ErrBlockTooLarge
	}
	return copy(d.scratch[:], raw), nil
}

// decompressZlib feeds compressed through a zlib reader, initialising it
// lazily on first use and Reset-ing it for every subsequent block. Each
// block is an independent zlib stream (its own header and adler32
// trailer), which is what makes repeatedly Reset-ing a single inflate
// context onto a fresh byte slice equivalent to the reference
// implementation's inflateReset-before-each-block approach.
func (d *Decompressor) decompressZlib(compressed []byte) (int, error) {
	if len(compressed) > zlibMaxCompressedLen {
		return 0, ErrBlockTooLarge
	}

	r := bytes.NewReader(compressed)
	if d.zr == nil {
		zr, err := kzlib.NewReader(r)
		if err != nil {
			return 0, wrapError(ExitUncorrected, "zlib init", err)
		}
		d.zr = zr
	} else if err := d.zr.(kzlib.Resetter).Reset(r, nil); err != nil {
		return 0, wrapError(ExitUncorrected, "zlib reset", err)
	}

	total := 0
	for total < len(d.scratch) {
		n, err := d.zr.Read(d.scratch[total:])
		total += n
		if err != nil {
			if err == io.EOF {
				break // end of this block's stream is expected
			}
			return 0, wrapError(ExitUncorrected, "zlib decompress", err)
		}
	}
	return total, nil
}

// decompressLZO decompresses an LZO1X block and then runs the corruption
// detection self-check (lzoOverlapCheck): the
// compressed bytes are copied to the tail of a fresh, worst-case-sized
// buffer and decompressed a second time from there, and the two results
// must agree in both length and content.
func (d *Decompressor) decompressLZO(compressed []byte) (int, error) {
	if len(compressed) > lzoMaxCompressedLen {
		return 0, ErrBlockTooLarge
	}

	out, err := lzoDecompress(bytes.NewReader(compressed), BlockSize, len(compressed))
	if err != nil {
		return 0, wrapError(ExitUncorrected, "lzo decompress", err)
	}
	if len(out) > len(d.scratch) {
		return 0, ErrBlockTooLarge
	}
	n := copy(d.scratch[:], out)

	if err := d.lzoOverlapCheck(compressed, d.scratch[:n]); err != nil {
		return 0, err
	}
	return n, nil
}

func (d *Decompressor) lzoOverlapCheck(compressed, want []byte) error {
	buf := make([]byte, blockMaxSizeWithOverhead)
	offset := blockMaxSizeWithOverhead - len(compressed)
	copy(buf[offset:], compressed)

	got, err := lzoDecompress(bytes.NewReader(buf[offset:]), BlockSize, len(compressed))
	if err != nil {
		return fmt.Errorf("%w: lzo overlap check: %v", ErrDecompression, err)
	}
	if len(got) != len(want) || crc32.ChecksumIEEE(got) != crc32.ChecksumIEEE(want) {
		return ErrLZOOverlapMismatch
	}
	return nil
}

// Close releases the zlib inflate context, if one was ever created.
func (d *Decompressor) Close() error {
	if d.zr != nil {
		return d.zr.Close()
	}
	return nil
}
