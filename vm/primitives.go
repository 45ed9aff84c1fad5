package vm

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// registerBuiltins installs the host functions every VM starts with.
func (vm *VM) registerBuiltins() {
	vm.RegisterHost("print", func(vm *VM, args []Value) Value {
		vm.write("print", args, false)
		return Nil
	})

	vm.RegisterHost("println", func(vm *VM, args []Value) Value {
		vm.write("println", args, true)
		return Nil
	})

	// read_int blocks on one line of input.
	vm.RegisterHost("read_int", func(vm *VM, args []Value) Value {
		line, err := vm.stdin.ReadString('\n')
		if err != nil && (err != io.EOF || line == "") {
			vm.fault("read_int: %v", err)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
		if err != nil {
			vm.fault("read_int: malformed integer %q", strings.TrimSpace(line))
		}
		return FromInt64(n)
	})
}

// write concatenates Int64 and Str arguments onto stdout.
func (vm *VM) write(name string, args []Value, newline bool) {
	var sb strings.Builder
	for _, a := range args {
		switch a.kind {
		case KindInt64:
			sb.WriteString(strconv.FormatInt(a.Int64(), 10))
		case KindStr:
			sb.WriteString(vm.mustString(a))
		default:
			vm.fault("%s: cannot print a %s value", name, a.kind)
		}
	}
	if newline {
		sb.WriteByte('\n')
	}
	if _, err := fmt.Fprint(vm.stdout, sb.String()); err != nil {
		vm.fault("%s: %v", name, err)
	}
}
