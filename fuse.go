//go:build fuse

package polyfs

import (
	"bytes"
	"context"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// FS mounts a checked polyfs image read-only, reusing the same decode path
// (ReadInode, expandFile) a check or extraction walk uses; inodes are read
// from the image on each request.
// It is an optional exposure, not part of the CLI's default build: nothing
// in the base spec needs a live mount, but go-fuse is wired here so the
// dependency earns its place rather than sitting unused.
type FS struct {
	fs.Inode

	src    *Source
	decomp *Decompressor
	super  *Superblock
	start  int64
	ino    Inode
}

// Mount decodes the root inode of an already-decoded super, checks that it
// is a directory, and returns a go-fuse root node ready to be passed to
// fs.Mount. It does not verify the image's CRC.
func Mount(src *Source, super *Superblock, start int64) (*FS, error) {
	root, err := super.RootInode()
	if err != nil {
		return nil, err
	}
	if root.Kind != KindDirectory {
		return nil, ErrRootNotDirectory
	}
	return &FS{src: src, decomp: NewDecompressor(super.Flags), super: super, start: start, ino: root}, nil
}

var _ fs.NodeGetattrer = (*FS)(nil)
var _ fs.NodeLookuper = (*FS)(nil)
var _ fs.NodeReaddirer = (*FS)(nil)
var _ fs.NodeOpener = (*FS)(nil)
var _ fs.NodeReader = (*FS)(nil)

func (n *FS) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = uint32(ModeToUnix(n.ino.FileMode()))
	out.Size = uint64(n.ino.Size)
	out.Uid = uint32(n.ino.UID)
	out.Gid = uint32(n.ino.GID)
	return 0
}

func (n *FS) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	offset := uint64(n.ino.ByteOffset())
	if offset == 0 {
		return nil, syscall.ENOENT
	}

	cur := offset
	remaining := int64(n.ino.Size)
	for remaining > 0 {
		child, err := ReadInode(n.src, int64(cur))
		if err != nil {
			return nil, syscall.EIO
		}
		cur += InodeSize
		remaining -= InodeSize

		nameLen := child.NameBytes()
		nameBuf := make([]byte, nameLen)
		if _, err := n.src.ReadAt(nameBuf, int64(cur)); err != nil {
			return nil, syscall.EIO
		}
		cur += uint64(nameLen)
		remaining -= int64(nameLen)

		childName := trimName(nameBuf)
		if childName != name {
			continue
		}

		childNode := &FS{src: n.src, decomp: n.decomp, super: n.super, start: n.start, ino: child}
		stable := fs.StableAttr{Mode: uint32(ModeToUnix(child.FileMode()))}
		out.Mode = stable.Mode
		return n.NewInode(ctx, childNode, stable), 0
	}
	return nil, syscall.ENOENT
}

func (n *FS) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	offset := uint64(n.ino.ByteOffset())
	var entries []fuse.DirEntry
	if offset == 0 {
		return fs.NewListDirStream(entries), 0
	}

	cur := offset
	remaining := int64(n.ino.Size)
	for remaining > 0 {
		child, err := ReadInode(n.src, int64(cur))
		if err != nil {
			return nil, syscall.EIO
		}
		cur += InodeSize
		remaining -= InodeSize

		nameLen := child.NameBytes()
		nameBuf := make([]byte, nameLen)
		if _, err := n.src.ReadAt(nameBuf, int64(cur)); err != nil {
			return nil, syscall.EIO
		}
		cur += uint64(nameLen)
		remaining -= int64(nameLen)

		entries = append(entries, fuse.DirEntry{
			Name: trimName(nameBuf),
			Mode: uint32(ModeToUnix(child.FileMode())),
		})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *FS) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	if n.ino.Kind != KindRegular {
		return nil, 0, syscall.EISDIR
	}
	return nil, fuse.FOPEN_KEEP_CACHE, 0
}

func (n *FS) Read(ctx context.Context, f fs.FileHandle, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	var buf bytes.Buffer
	if err := n.readFile(&buf); err != nil {
		return nil, syscall.EIO
	}
	data := buf.Bytes()
	if off >= int64(len(data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(data)) {
		end = int64(len(data))
	}
	return fuse.ReadResultData(data[off:end]), 0
}

func (n *FS) readFile(w *bytes.Buffer) error {
	wc := NewWalkContext(n.src, n.super, n.start, n.decomp, nil, nil)
	return wc.expandFile(n.ino.ByteOffset(), n.ino.Size, w)
}

func trimName(buf []byte) string {
	i := len(buf)
	for i > 0 && buf[i-1] == 0 {
		i--
	}
	return string(buf[:i])
}
