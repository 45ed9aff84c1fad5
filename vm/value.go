package vm

import (
	"fmt"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind uint8

const (
	KindNil Kind = iota
	KindInt64
	KindUInt64 // saved frame pointers
	KindHostFn
	KindFun // heap-allocated Function
	KindStr // heap-allocated string
)

var kindNames = [...]string{
	KindNil:    "nil",
	KindInt64:  "int64",
	KindUInt64: "uint64",
	KindHostFn: "hostfn",
	KindFun:    "fun",
	KindStr:    "str",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// Value is the tagged union that flows through the operand stack.
//
// Scalars live in bits. Heap references store a Handle into the VM's heap in
// bits as well, so a Value never holds a Go pointer to a heap object and the
// collector stays in charge of object lifetime.
type Value struct {
	kind Kind
	bits uint64
	host *HostFunc
}

// Nil is the zero Value.
var Nil = Value{}

// FromInt64 returns an Int64 value.
func FromInt64(n int64) Value {
	return Value{kind: KindInt64, bits: uint64(n)}
}

// FromUInt64 returns a UInt64 value.
func FromUInt64(n uint64) Value {
	return Value{kind: KindUInt64, bits: n}
}

// FromBool returns Int64 1 for true and Int64 0 for false.
func FromBool(b bool) Value {
	if b {
		return FromInt64(1)
	}
	return FromInt64(0)
}

// FromHost returns a reference to a native host function.
func FromHost(h *HostFunc) Value {
	return Value{kind: KindHostFn, host: h}
}

func heapRef(kind Kind, h Handle) Value {
	return Value{kind: kind, bits: uint64(h)}
}

// ---------------------------------------------------------------------------
// Accessors
// ---------------------------------------------------------------------------

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNil() bool    { return v.kind == KindNil }
func (v Value) IsInt64() bool  { return v.kind == KindInt64 }
func (v Value) IsStr() bool    { return v.kind == KindStr }
func (v Value) IsHostFn() bool { return v.kind == KindHostFn }

// IsHeapRef reports whether the value participates in garbage collection.
func (v Value) IsHeapRef() bool {
	return v.kind == KindFun || v.kind == KindStr
}

// Int64 returns the payload of an Int64 value.
func (v Value) Int64() int64 { return int64(v.bits) }

// UInt64 returns the payload of a UInt64 value.
func (v Value) UInt64() uint64 { return v.bits }

// Handle returns the heap handle of a Fun or Str value.
func (v Value) Handle() Handle { return Handle(v.bits) }

// Host returns the host function of a HostFn value, or nil.
func (v Value) Host() *HostFunc { return v.host }

// String renders the value without dereferencing heap handles.
// Use VM.Format to show string contents.
func (v Value) String() string {
	switch v.kind {
	case KindNil:
		return "nil"
	case KindInt64:
		return strconv.FormatInt(int64(v.bits), 10)
	case KindUInt64:
		return strconv.FormatUint(v.bits, 10) + "u"
	case KindHostFn:
		if v.host != nil {
			return "<host " + v.host.Name + ">"
		}
		return "<host>"
	case KindFun:
		return fmt.Sprintf("<fun #%d>", v.bits)
	case KindStr:
		return fmt.Sprintf("<str #%d>", v.bits)
	default:
		return "<?>"
	}
}
