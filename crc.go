package polyfs

import "hash/crc32"

// VerifyCRC recomputes the IEEE CRC-32 over [start, start+super.Size) with
// the on-disk crc field zeroed for the duration of the computation, and
// compares it against the value recorded in the superblock. The image is
// read in BlockSize chunks through src so this never requires the whole
// image resident in memory.
func VerifyCRC(src *Source, super *Superblock, start int64) error {
	crcOffset := start + fsidCRCOffset
	if crcOffset+4 > start+BlockSize {
		return ErrCRCFieldOutOfFirstBlock
	}

	h := crc32.NewIEEE()
	buf := make([]byte, BlockSize)
	pos := start
	remaining := int64(super.Size)

	for remaining > 0 {
		chunk := int64(BlockSize)
		if remaining < chunk {
			chunk = remaining
		}
		data := buf[:chunk]
		if _, err := src.ReadAt(data, pos); err != nil {
			return ioError("reading image for crc verification", err)
		}
		if pos == start {
			off := crcOffset - pos
			for i := int64(0); i < 4; i++ {
				data[off+i] = 0
			}
		}
		h.Write(data)
		pos += chunk
		remaining -= chunk
	}

	if h.Sum32() != super.FSID.CRC {
		return ErrCRCMismatch
	}
	return nil
}
