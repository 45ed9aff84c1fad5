package vm

// ---------------------------------------------------------------------------
// Eval: the dispatch loop
// ---------------------------------------------------------------------------

// Eval runs fn in a fresh frame on top of the current stack and returns the
// value it yields. Any run-time fault panics with a *Fault.
func (vm *VM) Eval(fn *Function) Value {
	callerFun, callerPC := vm.fun, vm.pc
	if callerFun != nil {
		vm.suspended = append(vm.suspended, callerFun)
	}

	// Frame header: [pc placeholder][saved fp][locals...]
	vm.push(Nil)
	vm.push(FromUInt64(uint64(vm.fp)))
	vm.fp = len(vm.stack)
	for i := 0; i < fn.NumLocals; i++ {
		vm.push(Nil)
	}
	vm.fun = fn
	vm.pc = 0

	vm.log.Debug("eval", "fn", fn.Name, "locals", fn.NumLocals, "code", len(fn.Code))

	result := vm.run()

	if callerFun != nil {
		vm.suspended[len(vm.suspended)-1] = nil
		vm.suspended = vm.suspended[:len(vm.suspended)-1]
	}
	vm.fun, vm.pc = callerFun, callerPC
	return result
}

// EvalSafe is like Eval but converts a fault into an error. The stack is
// reset afterwards, so the VM can be reused; objects allocated by the failed
// evaluation become garbage.
func (vm *VM) EvalSafe(fn *Function) (result Value, err error) {
	depth, nested := len(vm.stack), len(vm.suspended)
	fp, fun, pc := vm.fp, vm.fun, vm.pc
	defer func() {
		if r := recover(); r != nil {
			f, ok := AsFault(r)
			if !ok {
				panic(r)
			}
			vm.log.Info("evaluation aborted", "fault", f.Msg, "pc", f.PC)
			clear(vm.stack[depth:])
			vm.stack = vm.stack[:depth]
			clear(vm.suspended[nested:])
			vm.suspended = vm.suspended[:nested]
			vm.fp, vm.fun, vm.pc = fp, fun, pc
			result, err = Nil, f
		}
	}()
	return vm.Eval(fn), nil
}

// run executes the active frame until Return or Halt.
func (vm *VM) run() Value {
	for {
		code := vm.fun.Code
		if vm.pc < 0 || vm.pc >= len(code) {
			vm.fault("instruction cursor %d out of bounds", vm.pc)
		}
		in := code[vm.pc]

		switch in.Op {
		// --- Stack ---
		case OpPush:
			vm.push(in.Val)
		case OpPop:
			vm.pop()
		case OpDup:
			vm.push(vm.top())

		// --- Locals ---
		case OpGetLocal:
			vm.push(vm.stack[vm.local(in.Arg)])
		case OpSetLocal:
			v := vm.pop()
			vm.stack[vm.local(in.Arg)] = v

		// --- Arithmetic ---
		case OpAdd:
			b, a := vm.pop(), vm.pop()
			if a.kind == KindStr && b.kind == KindStr {
				s := vm.mustString(a) + vm.mustString(b)
				vm.push(vm.NewString(s))
				break
			}
			x, y := vm.ints(in.Op, a, b)
			vm.push(FromInt64(x + y))
		case OpSub:
			x, y := vm.popInts(in.Op)
			vm.push(FromInt64(x - y))
		case OpMul:
			x, y := vm.popInts(in.Op)
			vm.push(FromInt64(x * y))
		case OpMod:
			x, y := vm.popInts(in.Op)
			if y == 0 {
				vm.fault("modulo by zero")
			}
			vm.push(FromInt64(x % y))
		case OpNeg:
			vm.push(FromInt64(-vm.asInt(vm.pop())))
		case OpNot:
			vm.push(FromBool(vm.asInt(vm.pop()) == 0))

		// --- Comparison ---
		case OpEq:
			vm.push(FromBool(vm.equal(vm.pop2())))
		case OpNe:
			vm.push(FromBool(!vm.equal(vm.pop2())))
		case OpLt:
			x, y := vm.popInts(in.Op)
			vm.push(FromBool(x < y))
		case OpLe:
			x, y := vm.popInts(in.Op)
			vm.push(FromBool(x <= y))
		case OpGt:
			x, y := vm.popInts(in.Op)
			vm.push(FromBool(x > y))
		case OpGe:
			x, y := vm.popInts(in.Op)
			vm.push(FromBool(x >= y))

		// --- Control flow ---
		case OpJump:
			vm.pc += in.Arg
			continue
		case OpIfTrue:
			if vm.cond() {
				vm.pc += in.Arg
				continue
			}
		case OpIfFalse:
			if !vm.cond() {
				vm.pc += in.Arg
				continue
			}
		case OpCall:
			vm.call(in.Arg)
		case OpReturn:
			return vm.unwind(vm.pop())
		case OpPanic:
			vm.fault("panic")
		case OpHalt:
			return vm.unwind(Nil)

		default:
			vm.fault("invalid opcode 0x%02X", byte(in.Op))
		}
		vm.pc++
	}
}

// unwind drops the active frame, restores the caller's frame pointer and
// returns result.
func (vm *VM) unwind(result Value) Value {
	base := vm.fp - 2
	if base < 0 {
		vm.fault("corrupt frame at fp %d", vm.fp)
	}
	saved := vm.stack[vm.fp-1]
	if saved.kind != KindUInt64 {
		vm.fault("corrupt frame: saved frame pointer is %s", saved.kind)
	}
	clear(vm.stack[base:])
	vm.stack = vm.stack[:base]
	vm.fp = int(saved.UInt64())
	return result
}

// call invokes the callee sitting argc slots below the top of the stack and
// replaces callee and arguments with its result.
func (vm *VM) call(argc int) {
	n := len(vm.stack)
	at := n - argc - 1
	if argc < 0 || at < vm.floor() {
		vm.fault("stack underflow")
	}
	callee := vm.stack[at]
	if callee.kind != KindHostFn || callee.host == nil {
		vm.fault("cannot call a %s value", callee.kind)
	}
	result := callee.host.Fn(vm, vm.stack[at+1:n:n])
	clear(vm.stack[at:])
	vm.stack = vm.stack[:at]
	vm.push(result)
}

// ---------------------------------------------------------------------------
// Operand helpers
// ---------------------------------------------------------------------------

// pop2 pops the right-hand operand then the left-hand one and returns them
// in source order.
func (vm *VM) pop2() (Value, Value) {
	b := vm.pop()
	a := vm.pop()
	return a, b
}

func (vm *VM) popInts(op Opcode) (int64, int64) {
	a, b := vm.pop2()
	return vm.ints(op, a, b)
}

func (vm *VM) ints(op Opcode, a, b Value) (int64, int64) {
	if a.kind != KindInt64 || b.kind != KindInt64 {
		vm.fault("operand kind mismatch: %s %s %s", a.kind, op, b.kind)
	}
	return a.Int64(), b.Int64()
}

func (vm *VM) asInt(v Value) int64 {
	if v.kind != KindInt64 {
		vm.fault("expected int64, got %s", v.kind)
	}
	return v.Int64()
}

func (vm *VM) cond() bool {
	v := vm.pop()
	if v.kind != KindInt64 {
		vm.fault("condition must be int64, got %s", v.kind)
	}
	return v.Int64() != 0
}

// equal compares two values of the same kind. Strings compare by content.
func (vm *VM) equal(a, b Value) bool {
	if a.kind != b.kind {
		vm.fault("operand kind mismatch: %s == %s", a.kind, b.kind)
	}
	switch a.kind {
	case KindNil:
		return true
	case KindInt64, KindUInt64, KindFun:
		return a.bits == b.bits
	case KindStr:
		return a.bits == b.bits || vm.mustString(a) == vm.mustString(b)
	case KindHostFn:
		return a.host == b.host
	}
	vm.fault("cannot compare %s values", a.kind)
	return false
}
