package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/chazu/plush/compiler"
	"github.com/chazu/plush/manifest"
	"github.com/chazu/plush/vm"
	"github.com/peterh/liner"
)

const (
	banner     = "plush REPL (type ':help' for commands, ':quit' to exit)"
	promptMain = ">> "
	promptCont = ".. "
	replSource = "<repl>"
)

// repl reads entries through prompt and evaluates each one as its own
// compilation unit. Locals do not survive between entries.
type repl struct {
	vm       *vm.VM
	prompt   func(prompt string) (string, error)
	remember func(entry string)
	out      io.Writer
	errOut   io.Writer
}

func runREPL(v *vm.VM, m *manifest.Manifest, stdin io.Reader, stdout, stderr io.Writer) int {
	r := &repl{vm: v, out: stdout, errOut: stderr}

	if stdin == os.Stdin {
		ln := liner.NewLiner()
		defer ln.Close()
		ln.SetCtrlCAborts(true)

		history := m.HistoryPath()
		loadHistory(ln, history)
		defer saveHistory(ln, history)

		r.prompt = ln.Prompt
		r.remember = ln.AppendHistory
	} else {
		sc := bufio.NewScanner(stdin)
		r.prompt = func(p string) (string, error) {
			fmt.Fprint(stdout, p)
			if !sc.Scan() {
				if err := sc.Err(); err != nil {
					return "", err
				}
				return "", io.EOF
			}
			return sc.Text(), nil
		}
		r.remember = func(string) {}
	}

	fmt.Fprintln(stdout, banner)
	if m.Project.Name != "" {
		fmt.Fprintf(stdout, "project %s %s\n", m.Project.Name, m.Project.Version)
	}
	r.loop()
	return 0
}

func loadHistory(ln *liner.State, path string) {
	if path == "" {
		return
	}
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()
	if _, err := ln.ReadHistory(f); err != nil {
		log.Error("cannot read history", "path", path, "error", err)
	}
}

func saveHistory(ln *liner.State, path string) {
	if path == "" {
		return
	}
	f, err := os.Create(path)
	if err != nil {
		log.Error("cannot write history", "path", path, "error", err)
		return
	}
	defer f.Close()
	if _, err := ln.WriteHistory(f); err != nil {
		log.Error("cannot write history", "path", path, "error", err)
	}
}

func (r *repl) loop() {
	for {
		src, ok := r.read()
		if !ok {
			fmt.Fprintln(r.out)
			return
		}
		entry := strings.TrimSpace(src)
		if entry == "" {
			continue
		}
		r.remember(strings.ReplaceAll(entry, "\n", " "))

		if strings.HasPrefix(entry, ":") {
			if r.command(entry) {
				return
			}
			continue
		}
		r.eval(src)
	}
}

// read collects lines until they form a complete entry. A line that leaves
// the entry unfinished at end of input asks for a continuation line.
func (r *repl) read() (string, bool) {
	var b strings.Builder
	for {
		p := promptMain
		if b.Len() > 0 {
			p = promptCont
		}
		line, err := r.prompt(p)
		if errors.Is(err, io.EOF) {
			return "", false
		}
		if err != nil {
			// Ctrl-C drops the pending entry.
			return "", true
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)

		src := b.String()
		entry := strings.TrimSpace(src)
		if entry == "" || strings.HasPrefix(entry, ":") {
			return src, true
		}
		_, err = compileEntry(r.vm, src)
		if err == nil {
			return src, true
		}
		var perr *compiler.ParseError
		if errors.As(err, &perr) && perr.Incomplete() {
			continue
		}
		return src, true
	}
}

// compileEntry compiles src as a unit of statements. If that fails and src
// is a bare expression, the expression's value becomes the unit's result.
// The error reported is always the one for src as written.
func compileEntry(v *vm.VM, src string) (*vm.Function, error) {
	fn, err := compiler.Compile(v, src, replSource)
	if err == nil {
		return fn, nil
	}
	if efn, eerr := compiler.Compile(v, "return "+src+"\n;", replSource); eerr == nil {
		return efn, nil
	}
	return nil, err
}

func (r *repl) eval(src string) {
	fn, err := compileEntry(r.vm, src)
	if err != nil {
		fmt.Fprintln(r.errOut, paint(r.errOut, err.Error()))
		return
	}
	result, err := r.vm.EvalSafe(fn)
	if err != nil {
		fmt.Fprintln(r.errOut, paint(r.errOut, err.Error()))
		return
	}
	if !result.IsNil() {
		fmt.Fprintln(r.out, r.show(result))
	}
}

func (r *repl) show(v vm.Value) string {
	if v.IsStr() {
		return strconv.Quote(r.vm.Format(v))
	}
	return r.vm.Format(v)
}

// command runs a REPL meta-command and reports whether the REPL should exit.
func (r *repl) command(line string) bool {
	name, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)

	switch name {
	case ":help", ":h", ":?":
		fmt.Fprintln(r.out, "REPL Commands:")
		fmt.Fprintln(r.out, "  :help, :h, :?     Show this help")
		fmt.Fprintln(r.out, "  :dis <source>     Show the bytecode for source")
		fmt.Fprintln(r.out, "  :gc               Collect garbage and show heap statistics")
		fmt.Fprintln(r.out, "  :quit, :q         Exit REPL")
	case ":dis":
		if arg == "" {
			fmt.Fprintln(r.out, "usage: :dis <source>")
			break
		}
		fn, err := compileEntry(r.vm, arg)
		if err != nil {
			fmt.Fprintln(r.errOut, paint(r.errOut, err.Error()))
			break
		}
		fmt.Fprint(r.out, r.vm.Disassemble(fn))
	case ":gc":
		freed := r.vm.Collect()
		st := r.vm.HeapStats()
		fmt.Fprintf(r.out, "freed %d objects; %d live, %d bytes (threshold %d, %d collections)\n",
			freed, st.Objects, st.Bytes, st.Threshold, st.Collections)
	case ":quit", ":q":
		return true
	default:
		fmt.Fprintf(r.out, "unknown command %s. Type :help for commands.\n", name)
	}
	return false
}
