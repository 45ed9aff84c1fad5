package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/plush/compiler"
	"github.com/chazu/plush/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "plush-lsp"

// requestTimeout bounds how long a handler waits for the VM worker.
const requestTimeout = 5 * time.Second

var log = commonlog.GetLogger("plush.server")

// Options configures the language server.
type Options struct {
	VM      vm.Options
	Version string
	Debug   bool // log every LSP message
}

// LspServer publishes compile diagnostics and answers completion, hover and
// definition requests for plush sources.
type LspServer struct {
	worker *VMWorker

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server with its own VM. Documents are only
// compiled, never run, so the VM's output is discarded.
func NewLSP(opts Options) *LspServer {
	opts.VM.Stdout = io.Discard
	opts.VM.Stdin = strings.NewReader("")
	if opts.Version == "" {
		opts.Version = "0.1.0"
	}

	s := &LspServer{
		worker:  NewVMWorker(vm.New(opts.VM)),
		docs:    make(map[string]string),
		version: opts.Version,
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, opts.Debug)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("initializing", "version", s.version)

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.setDoc(uri, text)
	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.setDoc(uri, whole.Text)
			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) setDoc(uri protocol.DocumentUri, text string) {
	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()
}

func (s *LspServer) doc(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// do runs fn on the VM worker, giving up after requestTimeout.
func (s *LspServer) do(fn func(*vm.VM) any) (any, error) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	return s.worker.Do(ctx, fn)
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.doc(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}

	result, err := s.do(func(v *vm.VM) any {
		return complete(v, text, params.Position, prefix)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.doc(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	result, err := s.do(func(v *vm.VM) any {
		return hover(v, text, params.Position, word)
	})
	if err != nil {
		return nil, err
	}
	return result.(*protocol.Hover), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.doc(uri)
	if !ok {
		return nil, nil
	}

	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}

	result, err := s.do(func(v *vm.VM) any {
		sym, ok := resolve(v, text, params.Position, word)
		if !ok {
			return nil
		}
		return []protocol.Location{{URI: uri, Range: symbolRange(sym)}}
	})
	if err != nil || result == nil {
		return nil, err
	}
	return result, nil
}

// analyze returns the locals declared in text. Literals the compiler placed
// on the heap are released straight away.
func analyze(v *vm.VM, text string) ([]compiler.Symbol, error) {
	syms, err := compiler.Analyze(v, text, "")
	v.Collect()
	return syms, err
}

// visible returns the symbols whose scope contains pos, innermost last.
func visible(syms []compiler.Symbol, pos protocol.Position) []compiler.Symbol {
	line, col := int(pos.Line)+1, int(pos.Character)+1
	var out []compiler.Symbol
	for _, sym := range syms {
		if before(sym.Line, sym.Col, line, col) && before(line, col, sym.EndLine, sym.EndCol) {
			out = append(out, sym)
		}
	}
	return out
}

func before(l1, c1, l2, c2 int) bool {
	return l1 < l2 || (l1 == l2 && c1 <= c2)
}

// resolve finds the declaration word refers to at pos.
func resolve(v *vm.VM, text string, pos protocol.Position, word string) (compiler.Symbol, bool) {
	syms, _ := analyze(v, text)
	vis := visible(syms, pos)
	for i := len(vis) - 1; i >= 0; i-- {
		if vis[i].Name == word {
			return vis[i], true
		}
	}
	return compiler.Symbol{}, false
}

func complete(v *vm.VM, text string, pos protocol.Position, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	seen := make(map[string]bool)

	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if seen[label] || !strings.HasPrefix(label, prefix) {
			return
		}
		seen[label] = true
		items = append(items, protocol.CompletionItem{
			Label:  label,
			Kind:   &kind,
			Detail: &detail,
		})
	}

	syms, _ := analyze(v, text)
	vis := visible(syms, pos)
	for i := len(vis) - 1; i >= 0; i-- {
		add(vis[i].Name, protocol.CompletionItemKindVariable, fmt.Sprintf("local slot %d", vis[i].Slot))
	}
	for _, name := range v.HostNames() {
		add(name, protocol.CompletionItemKindFunction, "host function")
	}
	for _, kw := range compiler.Keywords() {
		add(kw, protocol.CompletionItemKindKeyword, "keyword")
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Label < items[j].Label
	})
	return items
}

var hostDocs = map[string]string{
	"print":    "Writes its int64 and string arguments with no separator and no trailing newline.",
	"println":  "Like print, followed by a newline.",
	"read_int": "Reads one line from standard input and parses it as a signed integer.",
}

var keywordDocs = map[string]string{
	"let":    "`let name = expr;` declares a local in the current block.",
	"if":     "`if (cond) stmt else stmt` runs one branch; cond must be an int64.",
	"else":   "Alternative branch of an `if`.",
	"while":  "`while (cond) stmt` repeats stmt while cond is nonzero.",
	"assert": "`assert expr;` aborts the program when expr is zero.",
	"return": "`return expr;` ends the unit with the value of expr.",
}

func hover(v *vm.VM, text string, pos protocol.Position, word string) *protocol.Hover {
	var md string
	if sym, ok := resolve(v, text, pos, word); ok {
		md = fmt.Sprintf("**%s** (local)\n\nslot %d, declared at %d:%d, block depth %d", sym.Name, sym.Slot, sym.Line, sym.Col, sym.Depth)
	} else if h := v.Host(word); h != nil {
		md = fmt.Sprintf("**%s** (host function)\n\n%s", h.Name, hostDocs[h.Name])
	} else if doc, ok := keywordDocs[word]; ok {
		md = fmt.Sprintf("**%s** (keyword)\n\n%s", word, doc)
	} else {
		return nil
	}
	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: md,
		},
	}
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	result, err := s.do(func(v *vm.VM) any {
		return diagnose(v, text)
	})
	var diagnostics []protocol.Diagnostic
	var f *vm.Fault
	switch {
	case errors.As(err, &f):
		diagnostics = []protocol.Diagnostic{faultDiagnostic(f)}
	case err != nil:
		log.Error("diagnostics failed", "uri", string(uri), "error", err.Error())
		return
	default:
		diagnostics = result.([]protocol.Diagnostic)
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// Diagnose compiles src and reports its compile error, if any, as LSP
// diagnostics.
func Diagnose(src string) []protocol.Diagnostic {
	return diagnose(vm.New(vm.Options{Stdout: io.Discard}), src)
}

func diagnose(v *vm.VM, src string) []protocol.Diagnostic {
	_, err := compiler.Compile(v, src, "")
	v.Collect()

	diagnostics := []protocol.Diagnostic{}
	if err == nil {
		return diagnostics
	}

	pe, ok := err.(*compiler.ParseError)
	if !ok {
		pe = &compiler.ParseError{Line: 1, Col: 1, Msg: err.Error()}
	}
	start := protocol.Position{Line: uint32(pe.Line - 1), Character: uint32(pe.Col - 1)}
	end := start
	if !pe.AtEOF {
		end.Character++
	}

	severity := protocol.DiagnosticSeverityError
	source := "plush"
	return append(diagnostics, protocol.Diagnostic{
		Range:    protocol.Range{Start: start, End: end},
		Severity: &severity,
		Source:   &source,
		Message:  pe.Msg,
	})
}

// faultDiagnostic reports a fault raised while analysing a document. It
// points at the top of the file since a fault has no source position.
func faultDiagnostic(f *vm.Fault) protocol.Diagnostic {
	severity := protocol.DiagnosticSeverityError
	source := "plush"
	code := protocol.IntegerOrString{Value: f.Op.String()}
	return protocol.Diagnostic{
		Range:    protocol.Range{},
		Severity: &severity,
		Code:     &code,
		Source:   &source,
		Message:  fmt.Sprintf("internal error at instruction %d: %s", f.PC, f.Msg),
	}
}

func symbolRange(sym compiler.Symbol) protocol.Range {
	start := protocol.Position{Line: uint32(sym.Line - 1), Character: uint32(sym.Col - 1)}
	end := start
	end.Character += uint32(len(sym.Name))
	return protocol.Range{Start: start, End: end}
}

// --- Text extraction helpers ---

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}

	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}

	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
