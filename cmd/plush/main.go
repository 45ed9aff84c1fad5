// plush CLI - runs plush scripts or starts the interactive REPL
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/chazu/plush/compiler"
	"github.com/chazu/plush/manifest"
	"github.com/chazu/plush/vm"
	"github.com/mattn/go-isatty"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

var log = commonlog.GetLogger("plush.cmd")

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

// run is the whole CLI minus the process exit, so tests can drive it.
func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("plush", flag.ContinueOnError)
	fs.SetOutput(stderr)
	verbose := fs.Bool("v", false, "Verbose output (debug logging)")
	dis := fs.Bool("dis", false, "Print the disassembly before running")

	fs.Usage = func() {
		fmt.Fprintf(stderr, "Usage: plush [options] [file.pls]\n\n")
		fmt.Fprintf(stderr, "Runs a plush source file. Without a file, starts the REPL.\n\n")
		fmt.Fprintf(stderr, "Options:\n")
		fs.PrintDefaults()
		fmt.Fprintf(stderr, "\nExamples:\n")
		fmt.Fprintf(stderr, "  plush                  # Start REPL\n")
		fmt.Fprintf(stderr, "  plush hello.pls        # Run hello.pls\n")
		fmt.Fprintf(stderr, "  plush -dis hello.pls   # Show bytecode, then run\n")
	}
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	paths := fs.Args()
	if len(paths) > 1 {
		fs.Usage()
		return 2
	}

	dir := "."
	if len(paths) == 1 {
		dir = filepath.Dir(paths[0])
	}
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		fmt.Fprintf(stderr, "Error loading %s: %v\n", manifest.FileName, err)
		return 1
	}
	configureLogging(m, *verbose)

	opts := m.VMOptions()
	opts.Stdout = stdout
	opts.Stdin = stdin
	v := vm.New(opts)
	log.Info("starting", "vm", v.ID, "project", m.Project.Name, "config", m.Dir)

	if len(paths) == 0 {
		return runREPL(v, m, stdin, stdout, stderr)
	}
	return runFile(v, paths[0], *dis, stdout, stderr)
}

func configureLogging(m *manifest.Manifest, verbose bool) {
	verbosity := m.Log.Verbosity
	if verbose {
		verbosity = 2
	}
	var path *string
	if m.Log.Path != "" {
		path = &m.Log.Path
	}
	commonlog.Configure(verbosity, path)
}

func runFile(v *vm.VM, path string, dis bool, stdout, stderr io.Writer) int {
	fn, err := compiler.CompileFile(v, path)
	if err != nil {
		fmt.Fprintln(stderr, paint(stderr, err.Error()))
		return 1
	}
	if dis {
		fmt.Fprint(stdout, v.Disassemble(fn))
	}
	if _, err := v.EvalSafe(fn); err != nil {
		fmt.Fprintln(stderr, paint(stderr, err.Error()))
		return 1
	}
	return 0
}

// paint colours diagnostics red when w is a terminal.
func paint(w io.Writer, s string) string {
	if !isTerminal(w) {
		return s
	}
	return "\x1b[31m" + s + "\x1b[0m"
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
