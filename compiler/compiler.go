package compiler

import (
	"fmt"
	"os"

	"github.com/chazu/plush/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("plush.compiler")

// keywords cannot be used as identifiers.
var keywords = map[string]bool{
	"let":    true,
	"if":     true,
	"else":   true,
	"while":  true,
	"assert": true,
	"return": true,
}

// Keywords returns the reserved words of the language.
func Keywords() []string {
	return []string{"assert", "else", "if", "let", "return", "while"}
}

// ---------------------------------------------------------------------------
// Compiler: single pass from source to bytecode
// ---------------------------------------------------------------------------

// Compiler turns one unit of source into a Function. String literals are
// placed on the VM's heap as they are read, so a Compiler needs the VM that
// will run the result.
type Compiler struct {
	vm      *vm.VM
	cur     *Cursor
	fn      *vm.Function
	scopes  *Scopes
	symbols []Symbol
}

// Symbol is a local declared with let. The binding is visible from its
// declaration to the end of the enclosing block (End*).
type Symbol struct {
	Name      string
	Slot      int
	Depth     int // enclosing blocks; 0 at the top level
	Line, Col int
	EndLine   int
	EndCol    int
}

// Compile compiles src as one unit named name. No partial function is
// returned on error; the error is always a *ParseError.
func Compile(v *vm.VM, src, name string) (*vm.Function, error) {
	c := newCompiler(v, src, name)
	if err := c.unit(); err != nil {
		log.Debug("compile failed", "unit", name, "error", err.Error())
		return nil, err
	}
	log.Debug("compiled", "unit", name, "instructions", c.fn.Len(), "locals", c.fn.NumLocals)
	return c.fn, nil
}

// Analyze compiles src and returns the locals it declares. On error the
// symbols seen before the failure are still returned; their scopes end at
// the failure point.
func Analyze(v *vm.VM, src, name string) ([]Symbol, error) {
	c := newCompiler(v, src, name)
	err := c.unit()
	c.endSymbols(0)
	return c.symbols, err
}

func newCompiler(v *vm.VM, src, name string) *Compiler {
	fn := vm.NewFunction(name)
	return &Compiler{
		vm:     v,
		cur:    NewCursor(name, src),
		fn:     fn,
		scopes: NewScopes(fn),
	}
}

// CompileFile reads and compiles the file at path.
func CompileFile(v *vm.VM, path string) (*vm.Function, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return Compile(v, string(src), path)
}

func (c *Compiler) emit(in vm.Instr) int {
	return c.fn.Emit(in)
}

// endSymbols closes the visibility range of every symbol from index from on
// that is still open.
func (c *Compiler) endSymbols(from int) {
	line, col := c.cur.Pos()
	for i := from; i < len(c.symbols); i++ {
		if c.symbols[i].EndLine == 0 {
			c.symbols[i].EndLine, c.symbols[i].EndCol = line, col
		}
	}
}

func (c *Compiler) errorAt(line, col int, format string, args ...any) *ParseError {
	err := c.cur.Errorf(format, args...)
	err.Line, err.Col = line, col
	err.AtEOF = false
	return err
}

// ---------------------------------------------------------------------------
// Statements
// ---------------------------------------------------------------------------

// unit compiles statements to the end of input. Falling off the end yields
// Nil.
func (c *Compiler) unit() error {
	for {
		c.cur.SkipWhitespaceAndComments()
		if c.cur.Eof() {
			break
		}
		if err := c.stmt(); err != nil {
			return err
		}
	}
	c.emit(vm.Push(vm.Nil))
	c.emit(vm.Simple(vm.OpReturn))
	return nil
}

func (c *Compiler) stmt() error {
	switch {
	case c.cur.MatchKeyword("let"):
		return c.letStmt()
	case c.cur.MatchToken("{"):
		return c.block()
	case c.cur.MatchKeyword("if"):
		return c.ifStmt()
	case c.cur.MatchKeyword("while"):
		return c.whileStmt()
	case c.cur.MatchKeyword("assert"):
		return c.assertStmt()
	case c.cur.MatchKeyword("return"):
		return c.returnStmt()
	}

	if err := c.expr(); err != nil {
		return err
	}
	if err := c.cur.ExpectToken(";"); err != nil {
		return err
	}
	c.emit(vm.Simple(vm.OpPop))
	return nil
}

// let <ident> = <expr> ;
// The initializer is compiled before the name is bound, so it sees any
// outer binding of the same name.
func (c *Compiler) letStmt() error {
	c.cur.SkipWhitespaceAndComments()
	line, col := c.cur.Pos()
	if !isIdentStart(c.cur.Peek()) {
		return c.cur.Errorf("expected identifier after let")
	}
	ident := c.cur.ParseIdentifier()
	if keywords[ident] {
		return c.errorAt(line, col, "cannot use keyword %q as a variable name", ident)
	}
	if !c.assignmentFollows() {
		return c.cur.Errorf("expected \"=\" after let %s", ident)
	}
	c.cur.Advance()

	if err := c.expr(); err != nil {
		return err
	}
	if err := c.cur.ExpectToken(";"); err != nil {
		return err
	}

	slot, ok := c.scopes.Declare(ident)
	if !ok {
		return c.errorAt(line, col, "variable %q already declared in this scope", ident)
	}
	c.emit(vm.SetLocal(slot))
	c.symbols = append(c.symbols, Symbol{Name: ident, Slot: slot, Depth: c.scopes.Depth(), Line: line, Col: col})
	return nil
}

// { <stmt>* }
func (c *Compiler) block() error {
	c.scopes.Nested()
	first := len(c.symbols)
	defer func() {
		c.endSymbols(first)
		c.scopes.Close()
	}()

	for {
		c.cur.SkipWhitespaceAndComments()
		if c.cur.Eof() {
			return c.cur.Errorf("unexpected end of input, expected \"}\"")
		}
		if c.cur.MatchExact("}") {
			return nil
		}
		if err := c.stmt(); err != nil {
			return err
		}
	}
}

// condition compiles ( <expr> ).
func (c *Compiler) condition() error {
	if err := c.cur.ExpectToken("("); err != nil {
		return err
	}
	if err := c.expr(); err != nil {
		return err
	}
	return c.cur.ExpectToken(")")
}

// if ( <expr> ) <stmt> [ else <stmt> ]
func (c *Compiler) ifStmt() error {
	if err := c.condition(); err != nil {
		return err
	}
	skipThen := c.emit(vm.IfFalse(0))
	if err := c.stmt(); err != nil {
		return err
	}

	if !c.cur.MatchKeyword("else") {
		c.fn.PatchJump(skipThen, c.fn.Len())
		return nil
	}
	skipElse := c.emit(vm.Jump(0))
	c.fn.PatchJump(skipThen, c.fn.Len())
	if err := c.stmt(); err != nil {
		return err
	}
	c.fn.PatchJump(skipElse, c.fn.Len())
	return nil
}

// while ( <expr> ) <stmt>
func (c *Compiler) whileStmt() error {
	head := c.fn.Len()
	if err := c.condition(); err != nil {
		return err
	}
	exit := c.emit(vm.IfFalse(0))
	if err := c.stmt(); err != nil {
		return err
	}
	back := c.emit(vm.Jump(0))
	c.fn.PatchJump(back, head)
	c.fn.PatchJump(exit, c.fn.Len())
	return nil
}

// assert <expr> ;
func (c *Compiler) assertStmt() error {
	if err := c.expr(); err != nil {
		return err
	}
	if err := c.cur.ExpectToken(";"); err != nil {
		return err
	}
	c.emit(vm.IfTrue(2))
	c.emit(vm.Simple(vm.OpPanic))
	return nil
}

// return <expr> ;
func (c *Compiler) returnStmt() error {
	if err := c.expr(); err != nil {
		return err
	}
	if err := c.cur.ExpectToken(";"); err != nil {
		return err
	}
	c.emit(vm.Simple(vm.OpReturn))
	return nil
}
