// Command polyfsck checks the consistency of a polyfs filesystem image,
// optionally extracting its contents to a directory on the host.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/chrisboot/polyfsck"
)

const usage = `usage: polyfsck [-hv] [-x DIR] FILE

  -h        show this help and exit
  -v        increase verbosity (may be repeated)
  -x DIR    extract the filesystem into DIR (default "/")
`

func main() {
	os.Exit(int(run(os.Args[1:])))
}

func run(args []string) polyfs.ExitCode {
	verbosity := 0
	extractDir := "/"
	extracting := false
	var file string

	i := 0
	for i < len(args) {
		arg := args[i]
		switch {
		case arg == "-h" || arg == "--help":
			fmt.Fprint(os.Stdout, usage)
			return polyfs.ExitOK
		case arg == "-v":
			verbosity++
		case arg == "-x":
			extracting = true
			i++
			if i >= len(args) {
				fmt.Fprintln(os.Stderr, "polyfsck: -x requires a directory")
				return polyfs.ExitUsage
			}
			extractDir = args[i]
		default:
			if file != "" {
				fmt.Fprintln(os.Stderr, "polyfsck: too many arguments")
				fmt.Fprint(os.Stderr, usage)
				return polyfs.ExitUsage
			}
			file = arg
		}
		i++
	}

	if file == "" {
		fmt.Fprint(os.Stderr, usage)
		return polyfs.ExitUsage
	}

	err := check(file, extractDir, extracting, verbosity)
	if err != nil {
		fmt.Fprintf(os.Stderr, "polyfsck: %s\n", err)
	}
	return polyfs.ExitCodeOf(err)
}

func check(file, extractDir string, extracting bool, verbosity int) error {
	f, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("opening %s: %w", file, err)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat %s: %w", file, err)
	}

	size := fi.Size()
	if fi.Mode()&os.ModeDevice != 0 {
		// block devices report no size through stat; seek to the end instead
		if size, err = f.Seek(0, io.SeekEnd); err != nil {
			return fmt.Errorf("seek %s: %w", file, err)
		}
	}

	src := polyfs.NewSource(f)

	super, start, err := polyfs.DecodeSuperblock(src, size, os.Stderr)
	if err != nil {
		return err
	}

	if err := polyfs.VerifyCRC(src, super, start); err != nil {
		return err
	}

	decomp := polyfs.NewDecompressor(super.Flags)
	defer decomp.Close()

	var sink polyfs.Sink
	if extracting {
		sink = polyfs.NewHostSink(extractDir)
	}

	verbose := os.Stdout
	wc := polyfs.NewWalkContext(src, super, start, decomp, sink, polyfs.NewVerboseLogger(verbose, verbosity))

	// The sink is rooted at extractDir, so walk paths are relative to it.
	return wc.Walk("/")
}
