package polyfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"reflect"
)

const (
	// Magic is the polyfs superblock magic, stored little-endian on disk.
	// It spells "Poly" in ASCII.
	Magic uint32 = 0x796c6f50

	// BlockSize is the fixed data block size used throughout a polyfs image.
	BlockSize = 4096

	// PadSize is the alternate superblock offset used when a boot sector
	// occupies the first 512 bytes of the image.
	PadSize = 512

	// SuperblockSize is sizeof(struct polyfs_super), including the embedded
	// root inode.
	SuperblockSize = 76

	// InodeSize is the size of one packed on-disk inode record.
	InodeSize = 12
)

// FSID carries the filesystem identification fields of the superblock.
type FSID struct {
	CRC     uint32
	Edition uint32
	Blocks  uint32
	Files   uint32
}

// fsidCRCOffset is the byte offset of FSID.CRC within the superblock,
// relative to the start of the superblock itself.
const fsidCRCOffset = 4 + 4 + 4 + 4 + 16

// Superblock is the decoded, endian-normalised polyfs superblock.
type Superblock struct {
	Magic     uint32
	Size      uint32
	Flags     Flags
	Future    uint32
	Signature [16]byte
	FSID      FSID
	Name      [16]byte
	RootRaw   [InodeSize]byte
}

// RootInode decodes the embedded root inode record.
func (sb *Superblock) RootInode() (Inode, error) {
	return decodeInodeBytes(sb.RootRaw[:])
}

// unmarshal fills every exported field of sb from data, in declaration
// order, the same way the teacher's reflection-driven Superblock decode
// does: walk the exported fields and binary.Read each one in turn.
func (sb *Superblock) unmarshal(data []byte) error {
	v := reflect.ValueOf(sb).Elem()
	r := bytes.NewReader(data)
	for i := 0; i < v.NumField(); i++ {
		f := v.Type().Field(i)
		if f.PkgPath != "" {
			continue // unexported
		}
		if err := binary.Read(r, binary.LittleEndian, v.Field(i).Addr().Interface()); err != nil {
			return fmt.Errorf("decoding superblock field %s: %w", f.Name, err)
		}
	}
	return nil
}

// DecodeSuperblock probes offset 0 and then offset PadSize for the polyfs
// magic, decodes whichever copy is found, and validates it against
// fileLength. It returns the decoded superblock and the byte offset at
// which it was found. diag receives the one non-fatal warning this step can
// produce (the image is longer than the filesystem it declares); it may be
// nil to discard the warning.
func DecodeSuperblock(src *Source, fileLength int64, diag io.Writer) (*Superblock, int64, error) {
	if fileLength < SuperblockSize {
		return nil, 0, ErrSuperblockTooSmall
	}

	buf := make([]byte, SuperblockSize)
	if _, err := src.ReadAt(buf, 0); err != nil {
		return nil, 0, ioError("reading superblock at offset 0", err)
	}

	var start int64
	if binary.LittleEndian.Uint32(buf[:4]) != Magic {
		if fileLength < PadSize+SuperblockSize {
			return nil, 0, ErrMagicNotFound
		}
		if _, err := src.ReadAt(buf, PadSize); err != nil {
			return nil, 0, ioError(fmt.Sprintf("reading superblock at offset %d", PadSize), err)
		}
		if binary.LittleEndian.Uint32(buf[:4]) != Magic {
			return nil, 0, ErrMagicNotFound
		}
		start = PadSize
	}

	sb := &Superblock{}
	if err := sb.unmarshal(buf); err != nil {
		return nil, 0, err
	}

	if sb.Flags&^Flags(SupportedFlags) != 0 {
		return nil, 0, ErrUnsupportedFeatures
	}
	if !sb.Flags.Has(FlagFSIDVersion1) {
		return nil, 0, ErrBadVersion
	}
	if sb.Size < BlockSize {
		return nil, 0, ErrImageTooSmall
	}
	if sb.FSID.Files == 0 {
		return nil, 0, ErrZeroFileCount
	}
	if fileLength < int64(sb.Size) {
		return nil, 0, ErrImageTruncated
	}
	if fileLength > int64(sb.Size) && diag != nil {
		fmt.Fprintln(diag, "warning: file extends past end of filesystem")
	}

	return sb, start, nil
}
