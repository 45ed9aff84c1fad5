package vm

import "fmt"

// ---------------------------------------------------------------------------
// Opcode definitions
// ---------------------------------------------------------------------------

// Opcode selects the operation an Instr performs.
type Opcode byte

// Stack operations
const (
	OpPush Opcode = 0x01 // push immediate Val
	OpPop  Opcode = 0x02 // discard top of stack
	OpDup  Opcode = 0x03 // duplicate top of stack
)

// Local variables
const (
	OpGetLocal Opcode = 0x10 // push stack[fp+Arg]
	OpSetLocal Opcode = 0x11 // pop into stack[fp+Arg]
)

// Arithmetic
const (
	OpAdd Opcode = 0x20
	OpSub Opcode = 0x21
	OpMul Opcode = 0x22
	OpMod Opcode = 0x23
	OpNeg Opcode = 0x24
	OpNot Opcode = 0x25
)

// Comparison
const (
	OpEq Opcode = 0x30
	OpNe Opcode = 0x31
	OpLt Opcode = 0x32
	OpLe Opcode = 0x33
	OpGt Opcode = 0x34
	OpGe Opcode = 0x35
)

// Control flow
const (
	OpJump    Opcode = 0x40 // pc += Arg
	OpIfTrue  Opcode = 0x41 // pop, pc += Arg if nonzero
	OpIfFalse Opcode = 0x42 // pop, pc += Arg if zero
	OpCall    Opcode = 0x43 // call with Arg arguments
	OpReturn  Opcode = 0x44
	OpPanic   Opcode = 0x45
	OpHalt    Opcode = 0x46
)

// ---------------------------------------------------------------------------
// Opcode metadata
// ---------------------------------------------------------------------------

// OperandKind says how an instruction's operand is interpreted.
type OperandKind uint8

const (
	OperandNone OperandKind = iota
	OperandValue
	OperandSlot
	OperandOffset
	OperandArgc
)

// OpcodeInfo holds metadata about an opcode.
type OpcodeInfo struct {
	Name    string
	Operand OperandKind
}

var opcodeTable = map[Opcode]OpcodeInfo{
	OpPush: {"PUSH", OperandValue},
	OpPop:  {"POP", OperandNone},
	OpDup:  {"DUP", OperandNone},

	OpGetLocal: {"GET_LOCAL", OperandSlot},
	OpSetLocal: {"SET_LOCAL", OperandSlot},

	OpAdd: {"ADD", OperandNone},
	OpSub: {"SUB", OperandNone},
	OpMul: {"MUL", OperandNone},
	OpMod: {"MOD", OperandNone},
	OpNeg: {"NEG", OperandNone},
	OpNot: {"NOT", OperandNone},

	OpEq: {"EQ", OperandNone},
	OpNe: {"NE", OperandNone},
	OpLt: {"LT", OperandNone},
	OpLe: {"LE", OperandNone},
	OpGt: {"GT", OperandNone},
	OpGe: {"GE", OperandNone},

	OpJump:    {"JUMP", OperandOffset},
	OpIfTrue:  {"IF_TRUE", OperandOffset},
	OpIfFalse: {"IF_FALSE", OperandOffset},
	OpCall:    {"CALL", OperandArgc},
	OpReturn:  {"RETURN", OperandNone},
	OpPanic:   {"PANIC", OperandNone},
	OpHalt:    {"HALT", OperandNone},
}

// Info returns metadata for op. Unknown opcodes get an UNKNOWN name.
func (op Opcode) Info() OpcodeInfo {
	if info, ok := opcodeTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// String returns the opcode mnemonic.
func (op Opcode) String() string {
	return op.Info().Name
}

// IsJump reports whether op retargets the instruction cursor by an offset.
func (op Opcode) IsJump() bool {
	return op == OpJump || op == OpIfTrue || op == OpIfFalse
}

// ---------------------------------------------------------------------------
// Instr
// ---------------------------------------------------------------------------

// Instr is one instruction. Val is used by OpPush; Arg carries the slot
// index, jump offset or argument count for the opcodes that take one.
type Instr struct {
	Op  Opcode
	Val Value
	Arg int
}

// Push returns an OpPush instruction.
func Push(v Value) Instr { return Instr{Op: OpPush, Val: v} }

// GetLocal returns an OpGetLocal instruction for slot idx.
func GetLocal(idx int) Instr { return Instr{Op: OpGetLocal, Arg: idx} }

// SetLocal returns an OpSetLocal instruction for slot idx.
func SetLocal(idx int) Instr { return Instr{Op: OpSetLocal, Arg: idx} }

// Jump returns an unconditional relative jump.
func Jump(off int) Instr { return Instr{Op: OpJump, Arg: off} }

// IfTrue returns a conditional relative jump taken on a nonzero condition.
func IfTrue(off int) Instr { return Instr{Op: OpIfTrue, Arg: off} }

// IfFalse returns a conditional relative jump taken on a zero condition.
func IfFalse(off int) Instr { return Instr{Op: OpIfFalse, Arg: off} }

// Call returns a call instruction with argc arguments.
func Call(argc int) Instr { return Instr{Op: OpCall, Arg: argc} }

// Simple returns an instruction for an opcode that takes no operand.
func Simple(op Opcode) Instr { return Instr{Op: op} }

func (in Instr) String() string {
	switch in.Op.Info().Operand {
	case OperandValue:
		return fmt.Sprintf("%s %s", in.Op, in.Val)
	case OperandSlot, OperandArgc:
		return fmt.Sprintf("%s %d", in.Op, in.Arg)
	case OperandOffset:
		return fmt.Sprintf("%s %+d", in.Op, in.Arg)
	default:
		return in.Op.String()
	}
}
