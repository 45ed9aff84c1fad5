package vm

import "fmt"

// Fault is the panic value for every run-time fault. The interpreter never
// recovers from one. Embedders that recover on their own must call Reset
// before reusing the VM; EvalSafe restores the stack itself.
type Fault struct {
	Fn  string // function being executed, empty outside Eval
	PC  int
	Op  Opcode
	Msg string
}

func (f *Fault) Error() string {
	if f.Fn == "" {
		return "vm fault: " + f.Msg
	}
	return fmt.Sprintf("vm fault in %s at %d (%s): %s", f.Fn, f.PC, f.Op, f.Msg)
}

// fault aborts evaluation with a Fault describing the current instruction.
func (vm *VM) fault(format string, args ...any) {
	f := &Fault{Msg: fmt.Sprintf(format, args...), PC: vm.pc}
	if vm.fun != nil {
		f.Fn = vm.fun.Name
		if vm.pc >= 0 && vm.pc < len(vm.fun.Code) {
			f.Op = vm.fun.Code[vm.pc].Op
		}
	}
	panic(f)
}

// AsFault extracts a Fault from a recovered panic value.
func AsFault(r any) (*Fault, bool) {
	f, ok := r.(*Fault)
	return f, ok
}
