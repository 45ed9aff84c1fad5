package compiler

import "fmt"

// ParseError is a compile-time error. Line and Col are 1-based and point at
// the place where compilation stopped.
type ParseError struct {
	Source string
	Line   int
	Col    int
	Msg    string

	// AtEOF is set when the input ended before the construct was complete.
	AtEOF bool
}

func (e *ParseError) Error() string {
	if e.Source == "" {
		return fmt.Sprintf("%d:%d: %s", e.Line, e.Col, e.Msg)
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.Source, e.Line, e.Col, e.Msg)
}

// Incomplete reports whether more input could make the source compile.
// The REPL uses it to ask for a continuation line.
func (e *ParseError) Incomplete() bool {
	return e.AtEOF
}
