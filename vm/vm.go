package vm

import (
	"bufio"
	"io"
	"os"
	"sort"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// VM: The plush virtual machine
// ---------------------------------------------------------------------------

// Options configures a VM. Zero values select the defaults.
type Options struct {
	GCThreshold   int // heap bytes before an automatic collection
	StackCapacity int // initial operand stack capacity
	Stdout        io.Writer
	Stdin         io.Reader
	Logger        commonlog.Logger
}

// VM owns one operand/control stack, the instruction cursor, the host
// function table and the heap. It is single-threaded and not reentrant.
type VM struct {
	// ID identifies this VM in log records.
	ID string

	stack []Value
	fp    int       // index of local 0 of the active frame
	pc    int       // index into fun.Code
	fun   *Function // function being evaluated, nil when idle

	// suspended holds the callers of nested Evals started by host
	// functions, outermost first.
	suspended []*Function

	heap  *Heap
	hosts map[string]*HostFunc

	stdout io.Writer
	stdin  *bufio.Reader

	log commonlog.Logger
}

// New creates a VM with the builtin host functions registered.
func New(opts Options) *VM {
	if opts.StackCapacity <= 0 {
		opts.StackCapacity = 1024
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stdin == nil {
		opts.Stdin = os.Stdin
	}
	if opts.Logger == nil {
		opts.Logger = commonlog.GetLogger("plush.vm")
	}

	id := uuid.New().String()
	vm := &VM{
		ID:     id,
		stack:  make([]Value, 0, opts.StackCapacity),
		heap:   newHeap(opts.GCThreshold),
		hosts:  make(map[string]*HostFunc),
		stdout: opts.Stdout,
		stdin:  bufio.NewReader(opts.Stdin),
		log:    commonlog.NewKeyValueLogger(opts.Logger, "vm", id),
	}
	vm.registerBuiltins()
	return vm
}

// Logger returns the VM's logger. Records carry the VM's ID.
func (vm *VM) Logger() commonlog.Logger {
	return vm.log
}

// ---------------------------------------------------------------------------
// Stack operations
// ---------------------------------------------------------------------------

// floor is the lowest stack index temporaries of the active frame may use.
func (vm *VM) floor() int {
	if vm.fun == nil {
		return 0
	}
	return vm.fp + vm.fun.NumLocals
}

func (vm *VM) push(v Value) {
	vm.stack = append(vm.stack, v)
}

func (vm *VM) pop() Value {
	n := len(vm.stack)
	if n <= vm.floor() {
		vm.fault("stack underflow")
	}
	v := vm.stack[n-1]
	vm.stack[n-1] = Nil
	vm.stack = vm.stack[:n-1]
	return v
}

func (vm *VM) top() Value {
	n := len(vm.stack)
	if n <= vm.floor() {
		vm.fault("stack underflow")
	}
	return vm.stack[n-1]
}

func (vm *VM) local(idx int) int {
	i := vm.fp + idx
	if idx < 0 || vm.fun == nil || idx >= vm.fun.NumLocals || i >= len(vm.stack) {
		vm.fault("local slot %d out of bounds", idx)
	}
	return i
}

// Reset drops every frame and value on the stack, leaving the VM idle.
// Heap objects that were only reachable from the stack become garbage.
func (vm *VM) Reset() {
	clear(vm.stack)
	vm.stack = vm.stack[:0]
	clear(vm.suspended)
	vm.suspended = vm.suspended[:0]
	vm.fp, vm.pc, vm.fun = 0, 0, nil
}

// StackDepth returns the number of values on the operand/control stack.
func (vm *VM) StackDepth() int {
	return len(vm.stack)
}

// ---------------------------------------------------------------------------
// Heap placement
// ---------------------------------------------------------------------------

// NewString places s on the heap and returns a reference to it.
func (vm *VM) NewString(s string) Value {
	return vm.place(object{kind: KindStr, str: s, size: 16 + len(s)})
}

// NewFunction places f on the heap and returns a reference to it.
func (vm *VM) NewFunction(f *Function) Value {
	return vm.place(object{kind: KindFun, fun: f, size: f.size()})
}

// place registers obj, first collecting if the heap would cross its
// threshold while an execution context is active. Compile-time literals are
// not rooted by any frame yet, so nothing is collected on an empty stack.
func (vm *VM) place(obj object) Value {
	if vm.heap.wouldExceed(obj.size) && len(vm.stack) > 0 {
		vm.collect()
		if vm.heap.grow() {
			vm.log.Info("gc threshold raised", "threshold", vm.heap.threshold)
		}
	}
	return heapRef(obj.kind, vm.heap.insert(obj))
}

// StringOf returns the contents of a string reference.
func (vm *VM) StringOf(v Value) (string, bool) {
	obj := vm.heap.get(v, KindStr)
	if obj == nil {
		return "", false
	}
	return obj.str, true
}

// FunctionOf returns the function behind a function reference.
func (vm *VM) FunctionOf(v Value) (*Function, bool) {
	obj := vm.heap.get(v, KindFun)
	if obj == nil {
		return nil, false
	}
	return obj.fun, true
}

func (vm *VM) mustString(v Value) string {
	s, ok := vm.StringOf(v)
	if !ok {
		vm.fault("dangling string reference %s", v)
	}
	return s
}

// Collect runs a full collection cycle now and returns the number of
// objects freed.
func (vm *VM) Collect() int {
	return vm.collect()
}

func (vm *VM) collect() int {
	freed := vm.heap.collect(vm.roots)
	st := vm.heap.Stats()
	vm.log.Debug("collection",
		"freed", freed,
		"live", st.Objects,
		"bytes", st.Bytes,
		"threshold", st.Threshold,
		"pause", st.LastPause)
	return freed
}

// roots hands every root to mark: each value on the operand/control stack,
// plus the immediates of every active function. Those are not heap objects
// themselves, and a caller suspended under a nested Eval still needs its
// literals.
func (vm *VM) roots(mark func(Value)) {
	for _, v := range vm.stack {
		mark(v)
	}
	for _, fn := range vm.suspended {
		markImmediates(fn, mark)
	}
	if vm.fun != nil {
		markImmediates(vm.fun, mark)
	}
}

func markImmediates(fn *Function, mark func(Value)) {
	for _, in := range fn.Code {
		mark(in.Val)
	}
}

// HeapStats returns the heap counters.
func (vm *VM) HeapStats() HeapStats {
	return vm.heap.Stats()
}

// ---------------------------------------------------------------------------
// Host functions
// ---------------------------------------------------------------------------

// HostFunc is a native function callable from plush code. Fn receives a
// read-only view of the arguments that is only valid during the call.
type HostFunc struct {
	Name string
	Fn   func(vm *VM, args []Value) Value
}

// RegisterHost adds or replaces a host function.
func (vm *VM) RegisterHost(name string, fn func(vm *VM, args []Value) Value) *HostFunc {
	h := &HostFunc{Name: name, Fn: fn}
	vm.hosts[name] = h
	return h
}

// Host looks up a host function by name.
func (vm *VM) Host(name string) *HostFunc {
	return vm.hosts[name]
}

// HostNames returns the registered host function names, sorted.
func (vm *VM) HostNames() []string {
	names := make([]string, 0, len(vm.hosts))
	for name := range vm.hosts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Format renders v for display, showing string contents.
func (vm *VM) Format(v Value) string {
	if v.kind == KindStr {
		if s, ok := vm.StringOf(v); ok {
			return s
		}
	}
	if v.kind == KindFun {
		if f, ok := vm.FunctionOf(v); ok {
			return "<fun " + f.Name + ">"
		}
	}
	return v.String()
}
