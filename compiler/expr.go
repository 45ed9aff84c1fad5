package compiler

import "github.com/chazu/plush/vm"

// ---------------------------------------------------------------------------
// Expression compiler
// ---------------------------------------------------------------------------

// binop is an infix operator. Higher prec binds tighter.
type binop struct {
	tok  string
	prec int
	op   vm.Opcode
}

// binops is searched in order, so two-character operators come before their
// one-character prefixes.
var binops = []binop{
	{"==", 0, vm.OpEq},
	{"!=", 0, vm.OpNe},
	{"<=", 1, vm.OpLe},
	{">=", 1, vm.OpGe},
	{"<", 1, vm.OpLt},
	{">", 1, vm.OpGt},
	{"+", 2, vm.OpAdd},
	{"-", 2, vm.OpSub},
	{"*", 3, vm.OpMul},
	{"%", 3, vm.OpMod},
}

func (c *Compiler) matchBinop() (binop, bool) {
	c.cur.SkipWhitespaceAndComments()
	for _, b := range binops {
		if c.cur.MatchExact(b.tok) {
			return b, true
		}
	}
	return binop{}, false
}

// expr compiles one expression using an operator stack. The emitted code
// leaves exactly one value on the stack.
func (c *Compiler) expr() error {
	var ops []binop

	if err := c.atom(); err != nil {
		return err
	}
	for {
		b, ok := c.matchBinop()
		if !ok {
			break
		}
		// All operators are left-associative, so equal precedence pops too.
		for len(ops) > 0 && ops[len(ops)-1].prec >= b.prec {
			c.emit(vm.Simple(ops[len(ops)-1].op))
			ops = ops[:len(ops)-1]
		}
		ops = append(ops, b)
		if err := c.atom(); err != nil {
			return err
		}
	}
	for i := len(ops) - 1; i >= 0; i-- {
		c.emit(vm.Simple(ops[i].op))
	}
	return nil
}

// atom compiles a unary expression or a primary with optional call suffixes.
func (c *Compiler) atom() error {
	c.cur.SkipWhitespaceAndComments()

	switch ch := c.cur.Peek(); {
	case c.cur.Eof():
		return c.cur.Errorf("unexpected end of input")
	case ch == '-':
		c.cur.Advance()
		if err := c.atom(); err != nil {
			return err
		}
		c.emit(vm.Simple(vm.OpNeg))
		return nil
	case ch == '!':
		c.cur.Advance()
		if err := c.atom(); err != nil {
			return err
		}
		c.emit(vm.Simple(vm.OpNot))
		return nil
	}

	if err := c.primary(); err != nil {
		return err
	}
	return c.calls()
}

func (c *Compiler) primary() error {
	switch ch := c.cur.Peek(); {
	case isDigit(ch):
		n, err := c.cur.ParseInt()
		if err != nil {
			return err
		}
		c.emit(vm.Push(vm.FromInt64(n)))

	case ch == '(':
		c.cur.Advance()
		if err := c.expr(); err != nil {
			return err
		}
		return c.cur.ExpectToken(")")

	case ch == '\'' || ch == '"':
		s, err := c.cur.ParseStringLiteral()
		if err != nil {
			return err
		}
		c.emit(vm.Push(c.vm.NewString(s)))

	case isIdentStart(ch):
		return c.name()

	default:
		return c.cur.Errorf("unexpected character %q", ch)
	}
	return nil
}

// name compiles a variable load, an assignment or a host function reference.
func (c *Compiler) name() error {
	line, col := c.cur.Pos()
	ident := c.cur.ParseIdentifier()
	if keywords[ident] {
		return c.errorAt(line, col, "unexpected keyword %q", ident)
	}

	slot, isLocal := c.scopes.Lookup(ident)

	if c.assignmentFollows() {
		if !isLocal {
			if c.vm.Host(ident) != nil {
				return c.errorAt(line, col, "cannot assign to host function %q", ident)
			}
			return c.errorAt(line, col, "undeclared variable %q", ident)
		}
		c.cur.Advance() // '='
		if err := c.expr(); err != nil {
			return err
		}
		c.emit(vm.Simple(vm.OpDup))
		c.emit(vm.SetLocal(slot))
		return nil
	}

	if isLocal {
		c.emit(vm.GetLocal(slot))
		return nil
	}
	if h := c.vm.Host(ident); h != nil {
		c.emit(vm.Push(vm.FromHost(h)))
		return nil
	}
	return c.errorAt(line, col, "undeclared variable %q", ident)
}

// assignmentFollows reports whether the next token is a lone '='.
func (c *Compiler) assignmentFollows() bool {
	c.cur.SkipWhitespaceAndComments()
	return c.cur.Peek() == '=' && c.cur.peekByte(1) != '='
}

// calls compiles any number of argument lists following a primary.
func (c *Compiler) calls() error {
	for c.cur.MatchToken("(") {
		argc := 0
		if !c.cur.MatchToken(")") {
			for {
				if err := c.expr(); err != nil {
					return err
				}
				argc++
				if c.cur.MatchToken(",") {
					continue
				}
				if err := c.cur.ExpectToken(")"); err != nil {
					return err
				}
				break
			}
		}
		c.emit(vm.Call(argc))
	}
	return nil
}
