package polyfs

import (
	"fmt"
	"io"
	"log"

	"golang.org/x/sys/unix"
)

// VerboseLogger prints the per-inode trace lines a -v run produces. level 1
// prints one line per inode visited; level 2 additionally traces each block
// of file data as it's expanded.
type VerboseLogger struct {
	level int
	out   *log.Logger
}

func NewVerboseLogger(w io.Writer, level int) *VerboseLogger {
	if level <= 0 {
		return nil
	}
	return &VerboseLogger{level: level, out: log.New(w, "", 0)}
}

// Inode prints "<type> <mode> <info> <uid>:<gid> <path>" for one visited
// inode. typeChar is one of d, f, l, c, b, p, s.
func (v *VerboseLogger) Inode(typeChar byte, ino Inode, path string) {
	if v == nil {
		return
	}
	mode := ino.Mode &^ uint16(S_IFMT)
	v.out.Printf("%c %04o %s %5d:%-3d %s", typeChar, mode, formatInfo(typeChar, ino), ino.UID, ino.GID, path)
}

// Symlink prints a symlink's trace line with its target appended in
// "path -> target" form.
func (v *VerboseLogger) Symlink(ino Inode, path, target string) {
	v.Inode('l', ino, fmt.Sprintf("%s -> %s", path, target))
}

func formatInfo(typeChar byte, ino Inode) string {
	if typeChar == 'c' || typeChar == 'b' {
		dev := uint64(ino.Size)
		return fmt.Sprintf("%4d,%4d", unix.Major(dev), unix.Minor(dev))
	}
	return fmt.Sprintf("%9d", ino.Size)
}

// Hole prints a level-2 trace line for a sparse block.
func (v *VerboseLogger) Hole(at int64, length int) {
	if v == nil || v.level < 2 {
		return
	}
	v.out.Printf("  hole at %d (%d)", at, length)
}

// Block prints a level-2 trace line for a compressed block being expanded.
func (v *VerboseLogger) Block(curr, next int64) {
	if v == nil || v.level < 2 {
		return
	}
	v.out.Printf("  uncompressing block at %d to %d (%d)", curr, next, next-curr)
}
