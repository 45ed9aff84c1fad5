package compiler

import "github.com/chazu/plush/vm"

// ---------------------------------------------------------------------------
// Scope chain
// ---------------------------------------------------------------------------

// scope is one lexical block. Scopes live in an arena and refer to their
// parent by index.
type scope struct {
	parent int // -1 for the function's top-level scope
	names  map[string]int
	next   int // next unused slot index
}

// Scopes maps identifiers to frame-local slots of one function. It exists
// only while that function is being compiled.
type Scopes struct {
	fn     *vm.Function
	arena  []scope
	active int
}

// NewScopes creates a scope chain for fn with an empty top-level scope.
func NewScopes(fn *vm.Function) *Scopes {
	return &Scopes{
		fn:    fn,
		arena: []scope{{parent: -1, names: make(map[string]int)}},
	}
}

// Declare binds name in the innermost scope and returns its slot. It fails
// if name is already declared in that same scope; shadowing an outer
// binding is fine.
func (s *Scopes) Declare(name string) (int, bool) {
	sc := &s.arena[s.active]
	if _, dup := sc.names[name]; dup {
		return 0, false
	}
	slot := sc.next
	sc.names[name] = slot
	sc.next++
	s.fn.EnsureLocals(sc.next)
	return slot, true
}

// Lookup resolves name from the innermost scope outward.
func (s *Scopes) Lookup(name string) (int, bool) {
	for i := s.active; i >= 0; i = s.arena[i].parent {
		if slot, ok := s.arena[i].names[name]; ok {
			return slot, true
		}
	}
	return 0, false
}

// Nested opens a child of the innermost scope. The child continues the
// parent's slot numbering.
func (s *Scopes) Nested() {
	s.arena = append(s.arena, scope{
		parent: s.active,
		names:  make(map[string]int),
		next:   s.arena[s.active].next,
	})
	s.active = len(s.arena) - 1
}

// Close ends the innermost scope. The parent's cursor moves past every slot
// the child used, so later siblings never reuse a slot.
func (s *Scopes) Close() {
	child := s.arena[s.active]
	if child.parent < 0 {
		panic("compiler: closing the top-level scope")
	}
	s.active = child.parent
	if parent := &s.arena[s.active]; child.next > parent.next {
		parent.next = child.next
	}
}

// Depth returns how many scopes enclose the innermost one.
func (s *Scopes) Depth() int {
	d := 0
	for i := s.active; s.arena[i].parent >= 0; i = s.arena[i].parent {
		d++
	}
	return d
}
