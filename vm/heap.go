package vm

import (
	"time"
)

// ---------------------------------------------------------------------------
// Heap: mark-and-sweep managed Function and String objects
// ---------------------------------------------------------------------------

// Handle is a stable index into the heap's object table.
type Handle uint32

// DefaultGCThreshold is the heap size in bytes that triggers an automatic
// collection.
const DefaultGCThreshold = 10_000_000

// object is one heap slot. A slot with kind KindNil is free.
type object struct {
	kind   Kind
	marked bool
	size   int
	str    string
	fun    *Function
}

// Heap owns every heap object. Values refer to objects by Handle only.
type Heap struct {
	objects []object
	free    []Handle

	live      int
	bytes     int
	threshold int

	collections int
	lastFreed   int
	lastPause   time.Duration
}

// HeapStats is a snapshot of heap counters.
type HeapStats struct {
	Objects     int
	Bytes       int
	Threshold   int
	Collections int
	LastFreed   int
	LastPause   time.Duration
}

func newHeap(threshold int) *Heap {
	if threshold <= 0 {
		threshold = DefaultGCThreshold
	}
	return &Heap{threshold: threshold}
}

// Stats returns the current counters.
func (h *Heap) Stats() HeapStats {
	return HeapStats{
		Objects:     h.live,
		Bytes:       h.bytes,
		Threshold:   h.threshold,
		Collections: h.collections,
		LastFreed:   h.lastFreed,
		LastPause:   h.lastPause,
	}
}

// wouldExceed reports whether placing size more bytes crosses the threshold.
func (h *Heap) wouldExceed(size int) bool {
	return h.bytes+size > h.threshold
}

// insert registers obj and returns its handle, reusing a free slot if any.
func (h *Heap) insert(obj object) Handle {
	var hd Handle
	if n := len(h.free); n > 0 {
		hd = h.free[n-1]
		h.free = h.free[:n-1]
		h.objects[hd] = obj
	} else {
		hd = Handle(len(h.objects))
		h.objects = append(h.objects, obj)
	}
	h.live++
	h.bytes += obj.size
	return hd
}

// get returns the live object for v, or nil if v does not name one of the
// expected kind.
func (h *Heap) get(v Value, kind Kind) *object {
	if v.kind != kind {
		return nil
	}
	hd := v.Handle()
	if int(hd) >= len(h.objects) {
		return nil
	}
	obj := &h.objects[hd]
	if obj.kind != kind {
		return nil
	}
	return obj
}

// collect runs one full cycle. roots is called once and must hand every
// root value to mark. It returns the number of objects freed.
func (h *Heap) collect(roots func(mark func(Value))) int {
	start := time.Now()

	for i := range h.objects {
		h.objects[i].marked = false
	}

	// Mark phase. The worklist keeps deep function graphs off the Go stack.
	var work []Handle
	mark := func(v Value) {
		if !v.IsHeapRef() {
			return
		}
		hd := v.Handle()
		if int(hd) >= len(h.objects) || h.objects[hd].kind != v.kind {
			panic(&Fault{Msg: "dangling heap reference " + v.String()})
		}
		if h.objects[hd].marked {
			return
		}
		h.objects[hd].marked = true
		work = append(work, hd)
	}

	roots(mark)

	for len(work) > 0 {
		hd := work[len(work)-1]
		work = work[:len(work)-1]
		if obj := &h.objects[hd]; obj.kind == KindFun {
			for _, in := range obj.fun.Code {
				mark(in.Val)
			}
		}
	}

	// Sweep phase
	freed := 0
	for i := range h.objects {
		obj := &h.objects[i]
		if obj.kind == KindNil || obj.marked {
			continue
		}
		h.bytes -= obj.size
		h.live--
		*obj = object{}
		h.free = append(h.free, Handle(i))
		freed++
	}

	h.collections++
	h.lastFreed = freed
	h.lastPause = time.Since(start)
	return freed
}

// grow doubles the threshold when live data still fills more than half of
// it, so the next automatic cycle is not triggered immediately.
func (h *Heap) grow() bool {
	if h.bytes <= h.threshold/2 {
		return false
	}
	h.threshold *= 2
	return true
}
