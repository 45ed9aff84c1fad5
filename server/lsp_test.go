package server

import (
	"context"
	"errors"
	"strings"
	"testing"

	protocol "github.com/tliron/glsp/protocol_3_16"

	"github.com/chazu/plush/vm"
)

func newTestWorker(t *testing.T) *VMWorker {
	t.Helper()
	w := NewVMWorker(vm.New(vm.Options{}))
	t.Cleanup(w.Stop)
	return w
}

// ---------------------------------------------------------------------------
// Text extraction helpers
// ---------------------------------------------------------------------------

func TestExtractPrefix(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"simple word", "let x = pri", protocol.Position{Line: 0, Character: 11}, "pri"},
		{"at start", "whi", protocol.Position{Line: 0, Character: 3}, "whi"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "let a = 1;\nre", protocol.Position{Line: 1, Character: 2}, "re"},
		{"after paren", "println(cou", protocol.Position{Line: 0, Character: 11}, "cou"},
		{"cursor at beginning", "hello", protocol.Position{Line: 0, Character: 0}, ""},
		{"line beyond document", "single line", protocol.Position{Line: 5, Character: 0}, ""},
		{"column beyond line", "abc", protocol.Position{Line: 0, Character: 40}, "abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractPrefix(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractPrefix = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestExtractWord(t *testing.T) {
	tests := []struct {
		name string
		text string
		pos  protocol.Position
		want string
	}{
		{"inside word", "hello world", protocol.Position{Line: 0, Character: 3}, "hello"},
		{"at end", "hello world", protocol.Position{Line: 0, Character: 5}, "hello"},
		{"second word", "hello world", protocol.Position{Line: 0, Character: 8}, "world"},
		{"empty line", "", protocol.Position{Line: 0, Character: 0}, ""},
		{"multi line", "first\nprintln(1);", protocol.Position{Line: 1, Character: 3}, "println"},
		{"underscore", "read_int()", protocol.Position{Line: 0, Character: 6}, "read_int"},
		{"line beyond document", "single line", protocol.Position{Line: 5, Character: 0}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractWord(tt.text, tt.pos); got != tt.want {
				t.Errorf("extractWord = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestBoolPtr(t *testing.T) {
	if p := boolPtr(true); p == nil || !*p {
		t.Error("boolPtr(true) should point at true")
	}
	if p := boolPtr(false); p == nil || *p {
		t.Error("boolPtr(false) should point at false")
	}
}

// ---------------------------------------------------------------------------
// Diagnostics
// ---------------------------------------------------------------------------

func TestDiagnoseClean(t *testing.T) {
	diags := Diagnose("let x = 1;\nprintln(x);\n")
	if diags == nil || len(diags) != 0 {
		t.Errorf("diagnostics = %+v, want empty non-nil slice", diags)
	}
}

func TestDiagnoseParseError(t *testing.T) {
	diags := Diagnose("let x = 1;\n  y = 2;\n")
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(diags))
	}
	d := diags[0]
	if !strings.Contains(d.Message, `undeclared variable "y"`) {
		t.Errorf("message = %q", d.Message)
	}
	if d.Range.Start.Line != 1 || d.Range.Start.Character != 2 {
		t.Errorf("start = %+v, want line 1 char 2", d.Range.Start)
	}
	if d.Range.End.Character != 3 {
		t.Errorf("end = %+v, want char 3", d.Range.End)
	}
	if d.Severity == nil || *d.Severity != protocol.DiagnosticSeverityError {
		t.Error("severity should be error")
	}
	if d.Source == nil || *d.Source != "plush" {
		t.Error("source should be plush")
	}
}

func TestDiagnoseAtEOF(t *testing.T) {
	diags := Diagnose("{ let x = 1;")
	if len(diags) != 1 {
		t.Fatalf("diagnostics = %d, want 1", len(diags))
	}
	if diags[0].Range.Start != diags[0].Range.End {
		t.Errorf("end-of-input diagnostic should be empty, got %+v", diags[0].Range)
	}
}

func TestDiagnoseReleasesLiterals(t *testing.T) {
	v := vm.New(vm.Options{})
	diagnose(v, `println('a', "b", 'c');`)
	if got := v.HeapStats().Objects; got != 0 {
		t.Errorf("objects after diagnose = %d, want 0", got)
	}
}

// ---------------------------------------------------------------------------
// Completion, hover, definition
// ---------------------------------------------------------------------------

func labels(items []protocol.CompletionItem) []string {
	var out []string
	for _, it := range items {
		out = append(out, it.Label)
	}
	return out
}

func TestComplete(t *testing.T) {
	w := newTestWorker(t)
	text := "let price = 1;\n{ let prime = 2; }\npr"
	pos := protocol.Position{Line: 2, Character: 2}

	result, err := w.Do(context.Background(), func(v *vm.VM) any {
		return complete(v, text, pos, "pr")
	})
	if err != nil {
		t.Fatalf("complete returned error: %v", err)
	}
	got := strings.Join(labels(result.([]protocol.CompletionItem)), ",")
	// prime is out of scope on line 3.
	if got != "price,print,println" {
		t.Errorf("completions = %s, want price,print,println", got)
	}
}

func TestCompleteKeywords(t *testing.T) {
	w := newTestWorker(t)

	result, err := w.Do(context.Background(), func(v *vm.VM) any {
		return complete(v, "wh", protocol.Position{Line: 0, Character: 2}, "wh")
	})
	if err != nil {
		t.Fatal(err)
	}
	items := result.([]protocol.CompletionItem)
	if len(items) != 1 || items[0].Label != "while" {
		t.Fatalf("completions = %v, want [while]", labels(items))
	}
	if items[0].Kind == nil || *items[0].Kind != protocol.CompletionItemKindKeyword {
		t.Error("while should be a keyword completion")
	}
}

func TestHover(t *testing.T) {
	w := newTestWorker(t)
	text := "let total = 3;\nprintln(total);\n{ let inner = 1; inner; }"

	tests := []struct {
		word string
		pos  protocol.Position
		want string
	}{
		{"println", protocol.Position{Line: 1, Character: 2}, "host function"},
		{"total", protocol.Position{Line: 1, Character: 10}, "slot 0, declared at 1:5"},
		{"let", protocol.Position{Line: 0, Character: 1}, "keyword"},
		{"inner", protocol.Position{Line: 2, Character: 19}, "block depth 1"},
	}
	for _, tt := range tests {
		result, err := w.Do(context.Background(), func(v *vm.VM) any {
			return hover(v, text, tt.pos, tt.word)
		})
		if err != nil {
			t.Fatal(err)
		}
		h := result.(*protocol.Hover)
		if h == nil {
			t.Errorf("hover(%s) = nil", tt.word)
			continue
		}
		md := h.Contents.(protocol.MarkupContent).Value
		if !strings.Contains(md, tt.want) {
			t.Errorf("hover(%s) = %q, want it to contain %q", tt.word, md, tt.want)
		}
	}
}

func TestHoverUnknownWord(t *testing.T) {
	w := newTestWorker(t)

	result, err := w.Do(context.Background(), func(v *vm.VM) any {
		return hover(v, "nothing", protocol.Position{}, "nothing")
	})
	if err != nil {
		t.Fatal(err)
	}
	if h := result.(*protocol.Hover); h != nil {
		t.Errorf("hover for unknown word = %+v, want nil", h)
	}
}

func TestResolveShadowing(t *testing.T) {
	w := newTestWorker(t)
	text := "let x = 1;\n{\n  let x = 2;\n  x;\n}\nx;"

	check := func(line uint32, wantLine int) {
		t.Helper()
		result, _ := w.Do(context.Background(), func(v *vm.VM) any {
			sym, ok := resolve(v, text, protocol.Position{Line: line, Character: 2}, "x")
			if !ok {
				return 0
			}
			return sym.Line
		})
		if result.(int) != wantLine {
			t.Errorf("x on line %d resolves to line %v, want %d", line+1, result, wantLine)
		}
	}
	check(3, 3)
	check(5, 1)
}

func TestSymbolRange(t *testing.T) {
	w := newTestWorker(t)
	result, _ := w.Do(context.Background(), func(v *vm.VM) any {
		sym, _ := resolve(v, "let count = 0;\ncount;", protocol.Position{Line: 1, Character: 1}, "count")
		return symbolRange(sym)
	})
	r := result.(protocol.Range)
	if r.Start.Line != 0 || r.Start.Character != 4 || r.End.Character != 9 {
		t.Errorf("range = %+v", r)
	}
}

// ---------------------------------------------------------------------------
// VMWorker
// ---------------------------------------------------------------------------

func TestWorkerRecoversFault(t *testing.T) {
	w := newTestWorker(t)

	_, err := w.Do(context.Background(), func(v *vm.VM) any {
		fn := vm.NewFunction("boom")
		fn.Emit(vm.Simple(vm.OpPanic))
		return v.Eval(fn)
	})
	var f *vm.Fault
	if !errors.As(err, &f) {
		t.Fatalf("error = %v, want *vm.Fault", err)
	}
	if f.Fn != "boom" || f.PC != 0 || f.Op != vm.OpPanic {
		t.Errorf("fault position = %s at %d (%s)", f.Fn, f.PC, f.Op)
	}

	// The worker keeps serving requests on a clean VM.
	result, err := w.Do(context.Background(), func(v *vm.VM) any { return v.StackDepth() })
	if err != nil || result.(int) != 0 {
		t.Errorf("after fault: depth %v, %v", result, err)
	}
}

func TestWorkerHonoursContext(t *testing.T) {
	w := newTestWorker(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := w.Do(ctx, func(v *vm.VM) any { return 1 }); !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestFaultDiagnostic(t *testing.T) {
	d := faultDiagnostic(&vm.Fault{Fn: "doc", PC: 7, Op: vm.OpAdd, Msg: "operand kind mismatch"})
	if d.Message != "internal error at instruction 7: operand kind mismatch" {
		t.Errorf("message = %q", d.Message)
	}
	if d.Code == nil || d.Code.Value != "ADD" {
		t.Errorf("code = %+v, want ADD", d.Code)
	}
	if d.Severity == nil || *d.Severity != protocol.DiagnosticSeverityError {
		t.Error("fault diagnostics should be errors")
	}
}

func TestWorkerRecoversPanic(t *testing.T) {
	w := newTestWorker(t)

	_, err := w.Do(context.Background(), func(v *vm.VM) any { panic("plain") })
	if err == nil || err.Error() != "plain" {
		t.Errorf("error = %v, want plain", err)
	}
}

func TestDocumentStore(t *testing.T) {
	lsp := &LspServer{docs: make(map[string]string)}

	lsp.setDoc("file:///a.pls", "let a = 1;")
	if text, ok := lsp.doc("file:///a.pls"); !ok || text != "let a = 1;" {
		t.Errorf("doc = %q, %v", text, ok)
	}
	if _, ok := lsp.doc("file:///b.pls"); ok {
		t.Error("unknown document should not be found")
	}
}
