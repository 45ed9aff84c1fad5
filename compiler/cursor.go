package compiler

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// ---------------------------------------------------------------------------
// Cursor: character-level source reader
// ---------------------------------------------------------------------------

// Cursor reads source text one character at a time, tracking line and
// column. The source itself is never modified.
type Cursor struct {
	name string
	src  string
	pos  int // byte offset of the next character
	line int // 1-based
	col  int // 1-based
}

// NewCursor creates a cursor at the start of src. name is used in errors.
func NewCursor(name, src string) *Cursor {
	return &Cursor{name: name, src: src, line: 1, col: 1}
}

// Eof reports whether all input has been consumed.
func (c *Cursor) Eof() bool {
	return c.pos >= len(c.src)
}

// Peek returns the next character without consuming it, or 0 at end of
// input.
func (c *Cursor) Peek() rune {
	if c.Eof() {
		return 0
	}
	r, _ := utf8.DecodeRuneInString(c.src[c.pos:])
	return r
}

// peekByte returns the byte n positions ahead, or 0 past the end.
func (c *Cursor) peekByte(n int) byte {
	if c.pos+n >= len(c.src) {
		return 0
	}
	return c.src[c.pos+n]
}

// Advance consumes one character and returns it. A newline moves to column
// 1 of the next line.
func (c *Cursor) Advance() rune {
	if c.Eof() {
		return 0
	}
	r, size := utf8.DecodeRuneInString(c.src[c.pos:])
	c.pos += size
	if r == '\n' {
		c.line++
		c.col = 1
	} else {
		c.col++
	}
	return r
}

// Pos returns the current line and column.
func (c *Cursor) Pos() (line, col int) {
	return c.line, c.col
}

// SkipWhitespaceAndComments consumes blanks and // line comments.
func (c *Cursor) SkipWhitespaceAndComments() {
	for !c.Eof() {
		switch ch := c.Peek(); {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			c.Advance()
		case ch == '/' && c.peekByte(1) == '/':
			for !c.Eof() && c.Peek() != '\n' {
				c.Advance()
			}
		default:
			return
		}
	}
}

// MatchExact consumes tok if the upcoming characters equal it. Whitespace is
// not skipped. On failure nothing is consumed.
func (c *Cursor) MatchExact(tok string) bool {
	if !strings.HasPrefix(c.src[c.pos:], tok) {
		return false
	}
	for range tok {
		c.Advance()
	}
	return true
}

// MatchToken skips whitespace and comments, then behaves like MatchExact.
func (c *Cursor) MatchToken(tok string) bool {
	c.SkipWhitespaceAndComments()
	return c.MatchExact(tok)
}

// MatchKeyword is MatchToken for a word: kw only matches when it is not
// followed by another identifier character.
func (c *Cursor) MatchKeyword(kw string) bool {
	c.SkipWhitespaceAndComments()
	if !strings.HasPrefix(c.src[c.pos:], kw) || isIdentChar(rune(c.peekByte(len(kw)))) {
		return false
	}
	return c.MatchExact(kw)
}

// ExpectToken is MatchToken that fails with a ParseError.
func (c *Cursor) ExpectToken(tok string) error {
	if c.MatchToken(tok) {
		return nil
	}
	if c.Eof() {
		return c.Errorf("expected %q, got end of input", tok)
	}
	return c.Errorf("expected %q, got %q", tok, c.Peek())
}

// ParseInt consumes a run of decimal digits. It returns 0 if there are none.
func (c *Cursor) ParseInt() (int64, error) {
	var n int64
	for ch := c.Peek(); isDigit(ch); ch = c.Peek() {
		d := int64(ch - '0')
		if n > (math.MaxInt64-d)/10 {
			return 0, c.Errorf("integer literal out of range")
		}
		n = n*10 + d
		c.Advance()
	}
	return n, nil
}

// ParseIdentifier consumes a run of [A-Za-z0-9_].
func (c *Cursor) ParseIdentifier() string {
	start := c.pos
	for isIdentChar(c.Peek()) {
		c.Advance()
	}
	return c.src[start:c.pos]
}

// ParseStringLiteral consumes a quoted literal and returns its contents with
// escapes resolved. The cursor must be on the opening quote; the literal
// ends at the next unescaped occurrence of that same quote.
func (c *Cursor) ParseStringLiteral() (string, error) {
	line, col := c.Pos()
	quote := c.Advance()

	var sb strings.Builder
	for {
		if c.Eof() {
			return "", c.Errorf("unterminated string literal starting at %d:%d", line, col)
		}
		start := c.pos
		ch := c.Advance()
		switch ch {
		case quote:
			return sb.String(), nil
		case '\\':
			if c.Eof() {
				return "", c.Errorf("unterminated string literal starting at %d:%d", line, col)
			}
			esc := c.Advance()
			switch esc {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case '\\', '\'', '"':
				sb.WriteRune(esc)
			default:
				return "", c.Errorf("unknown escape sequence \\%c", esc)
			}
		default:
			// Source bytes are kept as written, even when not valid UTF-8.
			sb.WriteString(c.src[start:c.pos])
		}
	}
}

// Errorf returns a ParseError at the current position.
func (c *Cursor) Errorf(format string, args ...any) *ParseError {
	return &ParseError{
		Source: c.name,
		Line:   c.line,
		Col:    c.col,
		Msg:    fmt.Sprintf(format, args...),
		AtEOF:  c.Eof(),
	}
}

func isDigit(ch rune) bool {
	return ch >= '0' && ch <= '9'
}

func isIdentStart(ch rune) bool {
	return ch == '_' || (ch >= 'a' && ch <= 'z') || (ch >= 'A' && ch <= 'Z')
}

func isIdentChar(ch rune) bool {
	return isIdentStart(ch) || isDigit(ch)
}
