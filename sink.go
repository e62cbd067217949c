package polyfs

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"
)

// Sink receives the effects of extracting a tree: every directory, file,
// symlink and device node the walker visits, plus ownership/mode/time
// metadata. Keeping the host-facing syscalls behind this interface is what
// lets walk.go stay agnostic of the extraction destination, the same way
// the teacher keeps host-specific inode behavior split into its own files
// away from the portable decode path.
type Sink interface {
	Mkdir(path string, mode fs.FileMode) error
	CreateFile(path string, mode fs.FileMode) (io.WriteCloser, error)
	Symlink(target, path string) error
	Mknod(path string, mode fs.FileMode, dev uint64) error
	Mkfifo(path string, mode fs.FileMode) error
	Chown(path string, uid, gid int) error
	Chmod(path string, mode fs.FileMode) error
	Chtimes(path string, mtime time.Time) error
}

// HostSink extracts into a real directory tree rooted at root.
type HostSink struct {
	root string
}

// NewHostSink returns a Sink that extracts beneath root. root must already
// exist.
func NewHostSink(root string) *HostSink {
	return &HostSink{root: root}
}

// resolve maps an image-internal path onto a host path beneath h.root,
// rejecting anything that would escape the extraction root via "..".
func (h *HostSink) resolve(p string) (string, error) {
	full := filepath.Join(h.root, p)
	rel, err := filepath.Rel(h.root, full)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path %q escapes extraction root", p)
	}
	return full, nil
}

func (h *HostSink) Mkdir(p string, mode fs.FileMode) error {
	full, err := h.resolve(p)
	if err != nil {
		return err
	}
	return os.Mkdir(full, mode.Perm())
}

func (h *HostSink) CreateFile(p string, mode fs.FileMode) (io.WriteCloser, error) {
	full, err := h.resolve(p)
	if err != nil {
		return nil, err
	}
	return os.OpenFile(full, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
}

func (h *HostSink) Symlink(target, p string) error {
	full, err := h.resolve(p)
	if err != nil {
		return err
	}
	return os.Symlink(target, full)
}

func (h *HostSink) Mknod(p string, mode fs.FileMode, dev uint64) error {
	full, err := h.resolve(p)
	if err != nil {
		return err
	}
	return unix.Mknod(full, ModeToUnix(mode), int(dev))
}

func (h *HostSink) Mkfifo(p string, mode fs.FileMode) error {
	full, err := h.resolve(p)
	if err != nil {
		return err
	}
	return unix.Mkfifo(full, ModeToUnix(mode))
}

func (h *HostSink) Chown(p string, uid, gid int) error {
	full, err := h.resolve(p)
	if err != nil {
		return err
	}
	return os.Lchown(full, uid, gid)
}

func (h *HostSink) Chmod(p string, mode fs.FileMode) error {
	full, err := h.resolve(p)
	if err != nil {
		return err
	}
	return os.Chmod(full, mode)
}

func (h *HostSink) Chtimes(p string, mtime time.Time) error {
	full, err := h.resolve(p)
	if err != nil {
		return err
	}
	return os.Chtimes(full, mtime, mtime)
}

// isPrivileged reports whether we're running as root, the precondition for
// chown and for honoring setuid/setgid bits on extraction.
func isPrivileged() bool {
	return os.Geteuid() == 0
}
