package polyfs

import (
	"bytes"
	"io"
	"path"
	"time"
)

// undefinedOffset marks a layout counter that hasn't been set yet, the way
// the reference implementation uses ~0 for "start_dir"/"start_data" before
// the walk reaches anything but the root.
const undefinedOffset = ^uint64(0)

// WalkContext carries everything a tree walk needs: the image, the
// decompressor, an optional extraction sink, and the four layout counters
// tracked across the whole walk. Bundling these into one value (instead of
// the package-level globals the reference implementation uses) keeps a walk
// re-entrant and testable in isolation.
type WalkContext struct {
	src     *Source
	decomp  *Decompressor
	sink    Sink
	super   *Superblock
	start   int64
	verbose *VerboseLogger

	startDir, endDir   uint64
	startData, endData uint64
}

// NewWalkContext builds a walk over an already-decoded superblock. sink may
// be nil, meaning check only: every inode is still visited and validated,
// but no filesystem effects happen.
func NewWalkContext(src *Source, super *Superblock, start int64, decomp *Decompressor, sink Sink, verbose *VerboseLogger) *WalkContext {
	return &WalkContext{
		src: src, decomp: decomp, sink: sink, super: super, start: start, verbose: verbose,
		startDir: undefinedOffset, startData: undefinedOffset,
	}
}

// Walk decodes and validates the root inode, recursively expands the whole
// tree under rootPath, and finishes with the cross-tree layout invariant
// check. rootPath is used for every path and verbose trace, whether or not
// extraction is actually happening: the default "/" is preserved even in
// check-only mode, matching the reference implementation's behavior of
// always defaulting extract_dir regardless of whether -x was given.
func (wc *WalkContext) Walk(rootPath string) error {
	root, err := wc.super.RootInode()
	if err != nil {
		return err
	}
	if root.Kind != KindDirectory {
		return ErrRootNotDirectory
	}

	rootOffset := uint64(root.Offset) * 4
	if !wc.super.Flags.Has(FlagShiftedRootOffset) {
		fixed := uint64(SuperblockSize) + uint64(wc.start)
		if rootOffset != fixed {
			return ErrBadRootOffset
		}
	}

	wc.verbose.Inode('d', root, rootPath)

	if wc.sink != nil {
		if err := wc.sink.Mkdir(rootPath, root.FileMode()); err != nil {
			return wrapError(ExitError, "mkdir failed: "+rootPath, err)
		}
	}

	if err := wc.expandDirChildren(rootPath, root); err != nil {
		return err
	}
	if wc.sink != nil {
		if err := wc.applyStatus(rootPath, root, false); err != nil {
			return err
		}
	}

	return wc.CheckInvariants()
}

// Expand dispatches on an already-decoded inode's kind.
func (wc *WalkContext) Expand(p string, ino Inode) error {
	switch ino.Kind {
	case KindDirectory:
		return wc.expandDirectory(p, ino)
	case KindRegular:
		return wc.expandRegular(p, ino)
	case KindSymlink:
		return wc.expandSymlink(p, ino)
	case KindCharDevice, KindBlockDevice, KindFifo, KindSocket:
		return wc.expandSpecial(p, ino)
	default:
		return ErrBogusMode
	}
}

func (wc *WalkContext) expandDirectory(p string, ino Inode) error {
	offset := uint64(ino.ByteOffset())
	if offset == 0 && ino.Size != 0 {
		return ErrDirZeroOffsetNonZeroSize
	}

	wc.verbose.Inode('d', ino, p)

	if wc.sink != nil {
		if err := wc.sink.Mkdir(p, ino.FileMode()); err != nil {
			return wrapError(ExitError, "mkdir failed: "+p, err)
		}
	}

	if err := wc.expandDirChildren(p, ino); err != nil {
		return err
	}

	if wc.sink != nil {
		return wc.applyStatus(p, ino, false)
	}
	return nil
}

// expandDirChildren iterates the child inode records packed into a
// directory's payload: each record is the fixed 12-byte inode immediately
// followed by its name, zero-padded to a multiple of 4 bytes.
func (wc *WalkContext) expandDirChildren(p string, ino Inode) error {
	offset := uint64(ino.ByteOffset())
	if offset == 0 {
		return nil // empty directory (root with no children, or a leaf dir)
	}

	if wc.startDir == undefinedOffset || offset < wc.startDir {
		wc.startDir = offset
	}

	cur := offset
	remaining := int64(ino.Size)

	for remaining > 0 {
		child, err := ReadInode(wc.src, int64(cur))
		if err != nil {
			return err
		}
		cur += InodeSize
		remaining -= InodeSize

		nameLen := child.NameBytes()
		if nameLen == 0 {
			return ErrZeroFilenameLength
		}
		nameBuf := make([]byte, nameLen)
		if _, err := wc.src.ReadAt(nameBuf, int64(cur)); err != nil {
			return ioError("reading directory entry name", err)
		}
		name := string(bytes.TrimRight(nameBuf, "\x00"))
		if nameLen-len(name) > 3 {
			return ErrBadFilenameLength
		}
		cur += uint64(nameLen)
		remaining -= int64(nameLen)

		if cur <= wc.startDir {
			return ErrBadInodeOffset
		}
		if cur > wc.endDir {
			wc.endDir = cur
		}

		if err := wc.Expand(path.Join(p, name), child); err != nil {
			return err
		}
	}
	return nil
}

func (wc *WalkContext) expandRegular(p string, ino Inode) error {
	offset := ino.ByteOffset()
	if (offset == 0) != (ino.Size == 0) {
		return ErrFileOffsetSizeMismatch
	}

	if offset != 0 && (wc.startData == undefinedOffset || uint64(offset) < wc.startData) {
		wc.startData = uint64(offset)
	}

	wc.verbose.Inode('f', ino, p)

	var w io.WriteCloser
	if wc.sink != nil {
		var err error
		w, err = wc.sink.CreateFile(p, ino.FileMode())
		if err != nil {
			return wrapError(ExitError, "open failed: "+p, err)
		}
	}

	if ino.Size != 0 {
		var sinkW io.Writer
		if w != nil {
			sinkW = w
		}
		if err := wc.expandFile(offset, ino.Size, sinkW); err != nil {
			if w != nil {
				w.Close()
			}
			return err
		}
	}

	if w != nil {
		if err := w.Close(); err != nil {
			return wrapError(ExitError, "closing file: "+p, err)
		}
		return wc.applyStatus(p, ino, false)
	}
	return nil
}

func (wc *WalkContext) expandSymlink(p string, ino Inode) error {
	offset := uint64(ino.ByteOffset())
	if offset == 0 {
		return ErrSymlinkZeroOffset
	}
	if ino.Size == 0 {
		return ErrSymlinkZeroSize
	}
	if wc.startData == undefinedOffset || offset < wc.startData {
		wc.startData = offset
	}

	ptr := make([]byte, 4)
	if _, err := wc.src.ReadAt(ptr, int64(offset)); err != nil {
		return ioError("reading symlink block pointer", err)
	}
	curr := offset + 4
	next := uint64(leUint32(ptr))
	if next > wc.endData {
		wc.endData = next
	}

	compBuf := make([]byte, next-curr)
	if _, err := wc.src.ReadAt(compBuf, int64(curr)); err != nil {
		return ioError("reading symlink target", err)
	}
	n, err := wc.decomp.UncompressBlock(compBuf)
	if err != nil {
		return err
	}
	if uint32(n) != ino.Size {
		return ErrSymlinkSizeMismatch
	}
	target := string(wc.decomp.Output()[:n])

	wc.verbose.Symlink(ino, p, target)

	if wc.sink != nil {
		if err := wc.sink.Symlink(target, p); err != nil {
			return wrapError(ExitError, "symlink failed: "+p, err)
		}
	}
	return nil
}

func (wc *WalkContext) expandSpecial(p string, ino Inode) error {
	if ino.Offset != 0 {
		return ErrSpecialNonZeroOffset
	}

	var typeChar byte
	switch ino.Kind {
	case KindCharDevice:
		typeChar = 'c'
	case KindBlockDevice:
		typeChar = 'b'
	case KindFifo:
		if ino.Size != 0 {
			return ErrFifoNonZeroSize
		}
		typeChar = 'p'
	case KindSocket:
		if ino.Size != 0 {
			return ErrSocketNonZeroSize
		}
		typeChar = 's'
	}

	wc.verbose.Inode(typeChar, ino, p)

	if wc.sink != nil {
		var err error
		switch ino.Kind {
		case KindCharDevice, KindBlockDevice:
			err = wc.sink.Mknod(p, ino.FileMode(), uint64(ino.Size))
		case KindFifo:
			err = wc.sink.Mkfifo(p, ino.FileMode())
		case KindSocket:
			err = wc.sink.Mknod(p, ino.FileMode(), 0)
		}
		if err != nil {
			return wrapError(ExitError, "mknod failed: "+p, err)
		}
		return wc.applyStatus(p, ino, false)
	}
	return nil
}

// applyStatus re-applies ownership, the setuid/setgid bits and a zeroed
// mtime to an already-created filesystem object, matching
// change_file_status in the reference implementation: chown only happens
// as root, setuid/setgid bits are re-applied only after a successful
// chown (plain mkdir/mknod/open already apply the permission bits), and
// none of this runs for symlinks, whose ownership and timestamps aren't
// meaningful on most filesystems.
func (wc *WalkContext) applyStatus(p string, ino Inode, isSymlink bool) error {
	if wc.sink == nil || isSymlink {
		return nil
	}
	if isPrivileged() {
		if err := wc.sink.Chown(p, int(ino.UID), int(ino.GID)); err != nil {
			return wrapError(ExitError, "chown failed: "+p, err)
		}
		if ino.Mode&(S_ISUID|S_ISGID) != 0 {
			if err := wc.sink.Chmod(p, ino.FileMode()); err != nil {
				return wrapError(ExitError, "chmod failed: "+p, err)
			}
		}
	}
	if err := wc.sink.Chtimes(p, time.Unix(0, 0)); err != nil {
		return wrapError(ExitError, "utime failed: "+p, err)
	}
	return nil
}

// CheckInvariants verifies the layout chain
// sizeof(super)+start ≤ start_dir ≤ end_dir ≤ start_data ≤ end_data ≤ super.Size,
// tolerating counters that were never set because no directory has any
// entries or the image has no regular files or symlinks.
func (wc *WalkContext) CheckInvariants() error {
	lowerBound := uint64(SuperblockSize) + uint64(wc.start)

	if wc.startDir != undefinedOffset {
		if wc.startDir < lowerBound {
			return ErrLayoutDirStart
		}
		if wc.endDir < wc.startDir {
			return ErrLayoutDirOrder
		}
	}
	if wc.endDir != 0 && wc.startData != undefinedOffset && wc.startData < wc.endDir {
		return ErrLayoutDirDataBoundary
	}
	if wc.startData != undefinedOffset && wc.endData < wc.startData {
		return ErrLayoutDataOrder
	}
	if wc.endData > uint64(wc.super.Size) {
		return ErrLayoutDataBounds
	}
	return nil
}

func leUint32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
