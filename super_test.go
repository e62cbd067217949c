package polyfs

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

func baseSuperblock() *Superblock {
	sb := &Superblock{
		Magic: Magic,
		Size:  BlockSize * 4,
		Flags: FlagFSIDVersion1,
	}
	sb.FSID.Files = 1
	root := encodeInode(uint16(S_IFDIR|0755), 0, 0, 0, 0, uint32(SuperblockSize/4))
	copy(sb.RootRaw[:], root)
	return sb
}

func TestDecodeSuperblockAtOffsetZero(t *testing.T) {
	sb := baseSuperblock()
	data := encodeSuperblock(sb)
	data = append(data, make([]byte, BlockSize*4-len(data))...)

	src := NewSource(newMockReaderAt(data))
	got, start, err := DecodeSuperblock(src, int64(len(data)), nil)
	if err != nil {
		t.Fatalf("DecodeSuperblock: %v", err)
	}
	if start != 0 {
		t.Errorf("start = %d, want 0", start)
	}
	if got.Size != sb.Size {
		t.Errorf("Size = %d, want %d", got.Size, sb.Size)
	}
}

func TestDecodeSuperblockAtPadOffset(t *testing.T) {
	sb := baseSuperblock()
	sbBytes := encodeSuperblock(sb)

	data := make([]byte, PadSize+len(sbBytes))
	copy(data[PadSize:], sbBytes)
	data = append(data, make([]byte, int(sb.Size)-len(data))...)

	src := NewSource(newMockReaderAt(data))
	_, start, err := DecodeSuperblock(src, int64(len(data)), nil)
	if err != nil {
		t.Fatalf("DecodeSuperblock: %v", err)
	}
	if start != PadSize {
		t.Errorf("start = %d, want %d", start, PadSize)
	}
}

func TestDecodeSuperblockMagicNotFound(t *testing.T) {
	data := make([]byte, PadSize+SuperblockSize+16)
	src := NewSource(newMockReaderAt(data))
	_, _, err := DecodeSuperblock(src, int64(len(data)), nil)
	if !errors.Is(err, ErrMagicNotFound) {
		t.Errorf("err = %v, want ErrMagicNotFound", err)
	}
}

func TestDecodeSuperblockTooSmall(t *testing.T) {
	data := make([]byte, 10)
	src := NewSource(newMockReaderAt(data))
	_, _, err := DecodeSuperblock(src, int64(len(data)), nil)
	if !errors.Is(err, ErrSuperblockTooSmall) {
		t.Errorf("err = %v, want ErrSuperblockTooSmall", err)
	}
}

func TestDecodeSuperblockUnsupportedFeatures(t *testing.T) {
	sb := baseSuperblock()
	sb.Flags |= 1 << 30
	data := encodeSuperblock(sb)
	data = append(data, make([]byte, int(sb.Size)-len(data))...)

	src := NewSource(newMockReaderAt(data))
	_, _, err := DecodeSuperblock(src, int64(len(data)), nil)
	if !errors.Is(err, ErrUnsupportedFeatures) {
		t.Errorf("err = %v, want ErrUnsupportedFeatures", err)
	}
	if ExitCodeOf(err) != ExitError {
		t.Errorf("exit code = %d, want ExitError", ExitCodeOf(err))
	}
}

func TestDecodeSuperblockTruncated(t *testing.T) {
	sb := baseSuperblock()
	data := encodeSuperblock(sb) // shorter than sb.Size

	src := NewSource(newMockReaderAt(data))
	_, _, err := DecodeSuperblock(src, int64(len(data)), nil)
	if !errors.Is(err, ErrImageTruncated) {
		t.Errorf("err = %v, want ErrImageTruncated", err)
	}
}

func TestDecodeSuperblockZeroFileCount(t *testing.T) {
	sb := baseSuperblock()
	sb.FSID.Files = 0
	data := encodeSuperblock(sb)
	data = append(data, make([]byte, int(sb.Size)-len(data))...)

	src := NewSource(newMockReaderAt(data))
	_, _, err := DecodeSuperblock(src, int64(len(data)), nil)
	if !errors.Is(err, ErrZeroFileCount) {
		t.Errorf("err = %v, want ErrZeroFileCount", err)
	}
}

func TestDecodeSuperblockWarnsWhenFileLongerThanSize(t *testing.T) {
	sb := baseSuperblock()
	data := encodeSuperblock(sb)
	data = append(data, make([]byte, int(sb.Size)-len(data))...)
	data = append(data, make([]byte, 32)...) // file is longer than super.Size

	var diag bytes.Buffer
	src := NewSource(newMockReaderAt(data))
	_, _, err := DecodeSuperblock(src, int64(len(data)), &diag)
	if err != nil {
		t.Fatalf("DecodeSuperblock: %v", err)
	}
	if !strings.Contains(diag.String(), "warning") {
		t.Errorf("diag = %q, want it to contain a warning", diag.String())
	}
}

func TestDecodeSuperblockNoWarningWhenSizeMatches(t *testing.T) {
	sb := baseSuperblock()
	data := encodeSuperblock(sb)
	data = append(data, make([]byte, int(sb.Size)-len(data))...)

	var diag bytes.Buffer
	src := NewSource(newMockReaderAt(data))
	_, _, err := DecodeSuperblock(src, int64(len(data)), &diag)
	if err != nil {
		t.Fatalf("DecodeSuperblock: %v", err)
	}
	if diag.Len() != 0 {
		t.Errorf("diag = %q, want no warning when file length matches super.Size", diag.String())
	}
}
