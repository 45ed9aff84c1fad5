package vm

import (
	"fmt"
	"strings"
)

// Disassemble returns a human-readable listing of fn. Jump targets are shown
// as absolute positions and string immediates with their contents.
func (vm *VM) Disassemble(fn *Function) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("; === %s ===\n", fn.Name))
	if len(fn.Params) > 0 {
		sb.WriteString(fmt.Sprintf("; Parameters (%d): %s\n", len(fn.Params), strings.Join(fn.Params, ", ")))
	}
	if fn.NumLocals > 0 {
		sb.WriteString(fmt.Sprintf("; Locals: %d slots\n", fn.NumLocals))
	}

	for pc, in := range fn.Code {
		sb.WriteString(fmt.Sprintf("%04d  ", pc))
		switch {
		case in.Op.IsJump():
			sb.WriteString(fmt.Sprintf("%-10s %+d -> %04d", in.Op, in.Arg, pc+in.Arg))
		case in.Op == OpPush:
			sb.WriteString(fmt.Sprintf("%-10s %s", in.Op, vm.immediate(in.Val)))
		default:
			sb.WriteString(in.String())
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

func (vm *VM) immediate(v Value) string {
	if v.kind != KindStr {
		return vm.Format(v)
	}
	s, ok := vm.StringOf(v)
	if !ok {
		return v.String()
	}
	// Truncate long strings for readability
	if len(s) > 40 {
		s = s[:37] + "..."
	}
	return fmt.Sprintf("%q", s)
}
