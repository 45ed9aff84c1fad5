package vm

import (
	"bytes"
	"strings"
	"testing"
)

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func newTestVM(t *testing.T) (*VM, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	return New(Options{Stdout: &out, Stdin: strings.NewReader("")}), &out
}

func build(locals int, code ...Instr) *Function {
	fn := NewFunction("test")
	fn.NumLocals = locals
	for _, in := range code {
		fn.Emit(in)
	}
	return fn
}

// expectFault runs fn and fails unless evaluation faults with a message
// containing want.
func expectFault(t *testing.T, vm *VM, fn *Function, want string) {
	t.Helper()
	_, err := vm.EvalSafe(fn)
	if err == nil {
		t.Fatalf("expected fault containing %q, got none", want)
	}
	if !strings.Contains(err.Error(), want) {
		t.Errorf("fault = %q, want it to contain %q", err.Error(), want)
	}
}

// ---------------------------------------------------------------------------
// Basic execution tests
// ---------------------------------------------------------------------------

func TestEvalReturnNil(t *testing.T) {
	vm, _ := newTestVM(t)

	fn := build(0, Push(Nil), Simple(OpReturn))
	if got := vm.Eval(fn); !got.IsNil() {
		t.Errorf("result = %v, want nil", got)
	}
	if vm.StackDepth() != 0 {
		t.Errorf("stack depth after eval = %d, want 0", vm.StackDepth())
	}
}

func TestEvalHaltYieldsNil(t *testing.T) {
	vm, _ := newTestVM(t)

	fn := build(1, Push(FromInt64(9)), Simple(OpHalt))
	if got := vm.Eval(fn); !got.IsNil() {
		t.Errorf("result = %v, want nil", got)
	}
	if vm.StackDepth() != 0 {
		t.Errorf("stack depth after halt = %d, want 0", vm.StackDepth())
	}
}

func TestEvalArithmetic(t *testing.T) {
	tests := []struct {
		name string
		op   Opcode
		a, b int64
		want int64
	}{
		{"add", OpAdd, 3, 4, 7},
		{"sub operand order", OpSub, 10, 3, 7},
		{"mul", OpMul, 6, 7, 42},
		{"mod", OpMod, 17, 5, 2},
		{"mod negative", OpMod, -7, 3, -1},
		{"lt", OpLt, 1, 2, 1},
		{"le equal", OpLe, 2, 2, 1},
		{"gt", OpGt, 1, 2, 0},
		{"ge", OpGe, 3, 2, 1},
		{"eq", OpEq, 5, 5, 1},
		{"ne", OpNe, 5, 5, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			vm, _ := newTestVM(t)
			fn := build(0,
				Push(FromInt64(tt.a)),
				Push(FromInt64(tt.b)),
				Simple(tt.op),
				Simple(OpReturn),
			)
			got := vm.Eval(fn)
			if !got.IsInt64() || got.Int64() != tt.want {
				t.Errorf("%d %s %d = %v, want %d", tt.a, tt.op, tt.b, got, tt.want)
			}
		})
	}
}

func TestEvalUnary(t *testing.T) {
	vm, _ := newTestVM(t)

	neg := build(0, Push(FromInt64(5)), Simple(OpNeg), Simple(OpReturn))
	if got := vm.Eval(neg); got.Int64() != -5 {
		t.Errorf("-5 = %v", got)
	}

	not0 := build(0, Push(FromInt64(0)), Simple(OpNot), Simple(OpReturn))
	if got := vm.Eval(not0); got.Int64() != 1 {
		t.Errorf("!0 = %v, want 1", got)
	}

	not7 := build(0, Push(FromInt64(7)), Simple(OpNot), Simple(OpReturn))
	if got := vm.Eval(not7); got.Int64() != 0 {
		t.Errorf("!7 = %v, want 0", got)
	}
}

func TestEvalLocals(t *testing.T) {
	vm, _ := newTestVM(t)

	// let a = 4; let b = a * 2; return b;
	fn := build(2,
		Push(FromInt64(4)),
		SetLocal(0),
		GetLocal(0),
		Push(FromInt64(2)),
		Simple(OpMul),
		SetLocal(1),
		GetLocal(1),
		Simple(OpReturn),
	)
	if got := vm.Eval(fn); got.Int64() != 8 {
		t.Errorf("result = %v, want 8", got)
	}
}

func TestEvalDup(t *testing.T) {
	vm, _ := newTestVM(t)

	fn := build(1,
		Push(FromInt64(3)),
		Simple(OpDup),
		SetLocal(0),
		GetLocal(0),
		Simple(OpAdd),
		Simple(OpReturn),
	)
	if got := vm.Eval(fn); got.Int64() != 6 {
		t.Errorf("result = %v, want 6", got)
	}
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func TestEvalJumpsAreRelative(t *testing.T) {
	vm, _ := newTestVM(t)

	fn := build(0,
		Jump(3),            // 0 -> 3
		Push(FromInt64(1)), // 1
		Simple(OpReturn),   // 2
		Push(FromInt64(2)), // 3
		Simple(OpReturn),   // 4
	)
	if got := vm.Eval(fn); got.Int64() != 2 {
		t.Errorf("result = %v, want 2", got)
	}
}

func TestEvalLoopCountsToTen(t *testing.T) {
	vm, _ := newTestVM(t)

	// i = 0; while (i < 10) i = i + 1; return i;
	fn := build(1,
		Push(FromInt64(0)), // 0
		SetLocal(0),        // 1
		GetLocal(0),        // 2 head
		Push(FromInt64(10)),
		Simple(OpLt),
		IfFalse(6), // 5 -> 11
		GetLocal(0),
		Push(FromInt64(1)),
		Simple(OpAdd),
		SetLocal(0),
		Jump(-8), // 10 -> 2
		GetLocal(0),
		Simple(OpReturn),
	)
	if got := vm.Eval(fn); got.Int64() != 10 {
		t.Errorf("result = %v, want 10", got)
	}
}

func TestEvalAssertLowering(t *testing.T) {
	vm, _ := newTestVM(t)

	pass := build(0,
		Push(FromInt64(1)),
		IfTrue(2),
		Simple(OpPanic),
		Push(Nil),
		Simple(OpReturn),
	)
	if _, err := vm.EvalSafe(pass); err != nil {
		t.Fatalf("assert 1 faulted: %v", err)
	}

	fail := build(0,
		Push(FromInt64(0)),
		IfTrue(2),
		Simple(OpPanic),
		Push(Nil),
		Simple(OpReturn),
	)
	expectFault(t, vm, fail, "panic")
}

// ---------------------------------------------------------------------------
// Strings
// ---------------------------------------------------------------------------

func TestEvalStringConcatAndEquality(t *testing.T) {
	vm, _ := newTestVM(t)

	foo := vm.NewString("foo")
	bar := vm.NewString("bar")
	foobar := vm.NewString("foobar")

	fn := build(0,
		Push(foo),
		Push(bar),
		Simple(OpAdd),
		Push(foobar),
		Simple(OpEq),
		Simple(OpReturn),
	)
	if got := vm.Eval(fn); got.Int64() != 1 {
		t.Errorf("'foo' + 'bar' == 'foobar' = %v, want 1", got)
	}
}

func TestEvalStringConcatResult(t *testing.T) {
	vm, _ := newTestVM(t)

	fn := build(0,
		Push(vm.NewString("ab")),
		Push(vm.NewString("cd")),
		Simple(OpAdd),
		Simple(OpReturn),
	)
	got := vm.Eval(fn)
	s, ok := vm.StringOf(got)
	if !ok || s != "abcd" {
		t.Errorf("result = %q (%v), want \"abcd\"", s, ok)
	}
}

// ---------------------------------------------------------------------------
// Host calls
// ---------------------------------------------------------------------------

func TestEvalHostCall(t *testing.T) {
	vm, out := newTestVM(t)

	fn := build(0,
		Push(FromHost(vm.Host("println"))),
		Push(vm.NewString("n = ")),
		Push(FromInt64(42)),
		Call(2),
		Simple(OpReturn),
	)
	got := vm.Eval(fn)
	if !got.IsNil() {
		t.Errorf("println returned %v, want nil", got)
	}
	if out.String() != "n = 42\n" {
		t.Errorf("output = %q, want %q", out.String(), "n = 42\n")
	}
}

func TestEvalCustomHost(t *testing.T) {
	vm, _ := newTestVM(t)

	vm.RegisterHost("sum", func(vm *VM, args []Value) Value {
		var total int64
		for _, a := range args {
			total += a.Int64()
		}
		return FromInt64(total)
	})

	fn := build(0,
		Push(FromInt64(100)),
		Push(FromHost(vm.Host("sum"))),
		Push(FromInt64(1)),
		Push(FromInt64(2)),
		Push(FromInt64(3)),
		Call(3),
		Simple(OpSub),
		Simple(OpReturn),
	)
	if got := vm.Eval(fn); got.Int64() != 94 {
		t.Errorf("result = %v, want 94", got)
	}
}

func TestReadInt(t *testing.T) {
	vm := New(Options{Stdin: strings.NewReader("  -17 \n5")})

	fn := build(0,
		Push(FromHost(vm.Host("read_int"))),
		Call(0),
		Push(FromHost(vm.Host("read_int"))),
		Call(0),
		Simple(OpSub),
		Simple(OpReturn),
	)
	if got := vm.Eval(fn); got.Int64() != -22 {
		t.Errorf("result = %v, want -22", got)
	}
}

func TestReadIntMalformed(t *testing.T) {
	vm := New(Options{Stdin: strings.NewReader("twelve\n")})

	fn := build(0,
		Push(FromHost(vm.Host("read_int"))),
		Call(0),
		Simple(OpReturn),
	)
	expectFault(t, vm, fn, "malformed integer")
}

// ---------------------------------------------------------------------------
// Faults
// ---------------------------------------------------------------------------

func TestEvalFaults(t *testing.T) {
	vm, _ := newTestVM(t)
	str := vm.NewString("s")

	tests := []struct {
		name string
		fn   *Function
		want string
	}{
		{"pop underflow", build(0, Simple(OpPop)), "stack underflow"},
		{"dup underflow", build(0, Simple(OpDup)), "stack underflow"},
		{"return underflow", build(0, Simple(OpReturn)), "stack underflow"},
		{"underflow into locals", build(1, Simple(OpPop)), "stack underflow"},
		{"kind mismatch", build(0, Push(FromInt64(1)), Push(str), Simple(OpAdd)), "kind mismatch"},
		{"eq mismatch", build(0, Push(FromInt64(1)), Push(Nil), Simple(OpEq)), "kind mismatch"},
		{"neg string", build(0, Push(str), Simple(OpNeg)), "expected int64"},
		{"cond not int", build(0, Push(Nil), IfTrue(1)), "condition must be int64"},
		{"call int", build(0, Push(FromInt64(1)), Call(0)), "cannot call"},
		{"mod zero", build(0, Push(FromInt64(1)), Push(FromInt64(0)), Simple(OpMod)), "modulo by zero"},
		{"bad local", build(1, GetLocal(3)), "out of bounds"},
		{"invalid opcode", build(0, Simple(Opcode(0xEE))), "invalid opcode"},
		{"fall off end", build(0, Push(Nil)), "out of bounds"},
		{"print nil", build(0, Push(FromHost(vm.Host("print"))), Push(Nil), Call(1)), "cannot print"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectFault(t, vm, tt.fn, tt.want)
			if vm.StackDepth() != 0 {
				t.Errorf("stack depth after fault = %d, want 0", vm.StackDepth())
			}
		})
	}
}

func TestEvalPanicsWithFault(t *testing.T) {
	vm, _ := newTestVM(t)

	defer func() {
		r := recover()
		f, ok := AsFault(r)
		if !ok {
			t.Fatalf("recovered %v, want *Fault", r)
		}
		if f.Fn != "test" || f.Op != OpPanic || f.PC != 0 {
			t.Errorf("fault = %+v", f)
		}
	}()
	vm.Eval(build(0, Simple(OpPanic)))
}

func TestEvalIdempotent(t *testing.T) {
	fn := build(1,
		Push(FromInt64(6)),
		SetLocal(0),
		GetLocal(0),
		GetLocal(0),
		Simple(OpMul),
		Simple(OpReturn),
	)

	a, _ := newTestVM(t)
	b, _ := newTestVM(t)
	first, second := a.Eval(fn), b.Eval(fn)
	if first != second || first.Int64() != 36 {
		t.Errorf("results differ: %v vs %v", first, second)
	}
}
