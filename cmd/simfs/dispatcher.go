package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/jbesta/simfs"
	"github.com/jbesta/simfs/driver"
	"github.com/jbesta/simfs/internal/fixtures"
)

// source is one entry in the dispatcher's input stack: the scanner feeding
// lines, and an optional closer for "load"-opened script files.
type source struct {
	scanner *bufio.Scanner
	closer  io.Closer
}

// Dispatcher is the interactive command loop (spec §6.2). Everything it
// knows about paths, status strings, and argument shapes belongs here; the
// filesystem semantics it calls into live entirely in package driver.
type Dispatcher struct {
	imagePath string
	fs        *driver.FileSystem
	out       io.Writer
	sources   []source
	quit      bool
}

// NewDispatcher builds a Dispatcher reading commands from stdin, reporting
// to out, against the image at imagePath. If the image doesn't exist yet,
// the dispatcher starts unmounted and prints the format instruction from
// spec §6.1; otherwise it loads the existing image.
func NewDispatcher(imagePath string, stdin io.Reader, out io.Writer) *Dispatcher {
	d := &Dispatcher{imagePath: imagePath, out: out}
	d.pushScanner(stdin, nil)

	if _, err := os.Stat(imagePath); os.IsNotExist(err) {
		fmt.Fprintln(out, "image does not exist; run 'format <size>' first")
		return d
	}

	f, err := os.OpenFile(imagePath, os.O_RDWR, 0o644)
	if err != nil {
		fmt.Fprintf(out, "could not open image: %s\n", err)
		return d
	}
	fs, ferr := driver.Load(f)
	if ferr != nil {
		fmt.Fprintf(out, "could not load image: %s\n", ferr)
		return d
	}
	d.fs = fs
	return d
}

func (d *Dispatcher) pushScanner(r io.Reader, closer io.Closer) {
	d.sources = append(d.sources, source{scanner: bufio.NewScanner(r), closer: closer})
}

// Run drains the command source stack (stdin, plus any nested "load"
// scripts) one line at a time until a "q" or the top-level source is
// exhausted.
func (d *Dispatcher) Run() {
	for !d.quit && len(d.sources) > 0 {
		top := &d.sources[len(d.sources)-1]
		if !top.scanner.Scan() {
			if top.closer != nil {
				top.closer.Close()
			}
			d.sources = d.sources[:len(d.sources)-1]
			continue
		}
		d.dispatch(top.scanner.Text())
	}
}

func (d *Dispatcher) dispatch(line string) {
	tokens := strings.Fields(line)
	if len(tokens) == 0 {
		return
	}
	cmd, args := tokens[0], tokens[1:]

	switch cmd {
	case "q":
		d.quit = true
	case "format":
		d.cmdFormat(args)
	case "load":
		d.cmdLoad(args)
	case "defrag":
		d.cmd0(args, d.requireFS().Defrag)
	case "mkdir":
		d.cmd1(args, d.requireFS().Mkdir)
	case "rmdir":
		d.cmd1(args, d.requireFS().Rmdir)
	case "rm":
		d.cmd1(args, d.requireFS().Rm)
	case "cd":
		d.cmd1(args, d.requireFS().Cd)
	case "cp":
		d.cmd2(args, d.requireFS().Cp)
	case "mv":
		d.cmd2(args, d.requireFS().Mv)
	case "incp":
		d.cmd2(args, d.requireFS().Incp)
	case "outcp":
		d.cmd2(args, d.requireFS().Outcp)
	case "ls":
		d.cmdLs(args)
	case "cat":
		d.cmdCat(args)
	case "info":
		d.cmdInfo(args)
	case "pwd":
		d.cmdPwd()
	default:
		fmt.Fprintln(d.out, simfs.StatusUnknownCommand)
	}
}

// requireFS returns the mounted filesystem, or prints the format reminder
// and returns nil if no image is mounted yet. The cmdN helpers treat a nil
// *driver.FileSystem receiver as "already reported, do nothing further".
func (d *Dispatcher) requireFS() *driver.FileSystem {
	if d.fs == nil {
		fmt.Fprintln(d.out, "image does not exist; run 'format <size>' first")
	}
	return d.fs
}

func (d *Dispatcher) report(status simfs.Status, err error) {
	if err != nil {
		fmt.Fprintf(d.out, "fatal I/O error: %s\n", err)
		return
	}
	fmt.Fprintln(d.out, status)
}

// cmd0 runs a zero-argument operation (defrag).
func (d *Dispatcher) cmd0(args []string, op func() (simfs.Status, error)) {
	if d.fs == nil {
		return
	}
	if len(args) != 0 {
		fmt.Fprintln(d.out, simfs.StatusUnknownCommand)
		return
	}
	d.report(op())
}

// cmd1 runs a one-argument operation (mkdir, rmdir, rm, cd) and prints its
// status.
func (d *Dispatcher) cmd1(args []string, op func(string) (simfs.Status, error)) {
	if d.fs == nil {
		return
	}
	if len(args) != 1 {
		fmt.Fprintln(d.out, simfs.StatusUnknownCommand)
		return
	}
	d.report(op(args[0]))
}

// cmd2 runs a two-argument operation (cp, mv, incp, outcp) and prints its
// status.
func (d *Dispatcher) cmd2(args []string, op func(a, b string) (simfs.Status, error)) {
	if d.fs == nil {
		return
	}
	if len(args) != 2 {
		fmt.Fprintln(d.out, simfs.StatusUnknownCommand)
		return
	}
	d.report(op(args[0], args[1]))
}

func (d *Dispatcher) cmdLs(args []string) {
	if len(args) != 1 || d.fs == nil {
		d.requireFS()
		return
	}
	lines, status, err := d.fs.Ls(args[0])
	if err != nil {
		fmt.Fprintf(d.out, "fatal I/O error: %s\n", err)
		return
	}
	if status != simfs.StatusOK {
		fmt.Fprintln(d.out, status)
		return
	}
	for _, l := range lines {
		fmt.Fprintln(d.out, l)
	}
}

func (d *Dispatcher) cmdCat(args []string) {
	if len(args) != 1 || d.fs == nil {
		d.requireFS()
		return
	}
	data, status, err := d.fs.Cat(args[0])
	if err != nil {
		fmt.Fprintf(d.out, "fatal I/O error: %s\n", err)
		return
	}
	if status != simfs.StatusOK {
		fmt.Fprintln(d.out, status)
		return
	}
	d.out.Write(data)
}

func (d *Dispatcher) cmdInfo(args []string) {
	if len(args) != 1 || d.fs == nil {
		d.requireFS()
		return
	}
	line, status, err := d.fs.Info(args[0])
	if err != nil {
		fmt.Fprintf(d.out, "fatal I/O error: %s\n", err)
		return
	}
	if status != simfs.StatusOK {
		fmt.Fprintln(d.out, status)
		return
	}
	fmt.Fprintln(d.out, line)
}

func (d *Dispatcher) cmdPwd() {
	fs := d.requireFS()
	if fs == nil {
		return
	}
	fmt.Fprintln(d.out, fs.Pwd())
}

func (d *Dispatcher) cmdLoad(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(d.out, simfs.StatusUnknownCommand)
		return
	}
	f, err := os.Open(args[0])
	if err != nil {
		fmt.Fprintf(d.out, "could not open script %q: %s\n", args[0], err)
		return
	}
	d.pushScanner(f, f)
}

func (d *Dispatcher) cmdFormat(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(d.out, simfs.StatusCannotCreateFile)
		return
	}

	raw := args[0]
	if preset, ok := fixtures.Lookup(raw); ok {
		raw = fmt.Sprintf("%d", preset.SizeBytes)
	}

	size, perr := parseSize(raw)
	if perr != nil {
		fmt.Fprintln(d.out, simfs.StatusCannotCreateFile)
		return
	}

	f, ferr := os.OpenFile(d.imagePath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if ferr != nil {
		fmt.Fprintf(d.out, "could not create image: %s\n", ferr)
		return
	}
	if err := f.Truncate(int64(size)); err != nil {
		f.Close()
		fmt.Fprintf(d.out, "could not size image: %s\n", err)
		return
	}

	fs, err := driver.Format(f, size)
	if err != nil {
		f.Close()
		if err.Kind == simfs.KindNoSpace {
			fmt.Fprintln(d.out, simfs.StatusNotEnoughSpace)
		} else {
			fmt.Fprintln(d.out, simfs.StatusCannotCreateFile)
		}
		return
	}
	d.fs = fs
	fmt.Fprintln(d.out, simfs.StatusOK)
}
