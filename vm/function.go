package vm

import "strconv"

// Function is a compiled bytecode unit. The compiler appends to Code and
// grows NumLocals; once compilation finishes both are left untouched.
type Function struct {
	Name      string
	Params    []string
	NumLocals int
	Code      []Instr
}

// NewFunction creates an empty function.
func NewFunction(name string) *Function {
	return &Function{
		Name: name,
		Code: make([]Instr, 0, 32),
	}
}

// Emit appends an instruction and returns its position.
func (f *Function) Emit(in Instr) int {
	f.Code = append(f.Code, in)
	return len(f.Code) - 1
}

// Len returns the number of instructions, which is also the position the
// next Emit will use.
func (f *Function) Len() int {
	return len(f.Code)
}

// PatchJump retargets the jump at position at so that it lands on target.
// Offsets are relative to the jump instruction itself.
func (f *Function) PatchJump(at, target int) {
	if !f.Code[at].Op.IsJump() {
		panic("PatchJump: instruction at " + strconv.Itoa(at) + " is " + f.Code[at].Op.String())
	}
	f.Code[at].Arg = target - at
}

// EnsureLocals raises NumLocals to at least n. It never shrinks.
func (f *Function) EnsureLocals(n int) {
	if n > f.NumLocals {
		f.NumLocals = n
	}
}

// size estimates the bytes a heap-placed function accounts for.
func (f *Function) size() int {
	n := 64 + len(f.Name) + 32*len(f.Code)
	for _, p := range f.Params {
		n += 16 + len(p)
	}
	return n
}
