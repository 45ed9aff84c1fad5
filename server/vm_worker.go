package server

import (
	"context"
	"fmt"

	"github.com/chazu/plush/vm"
)

// job is one piece of work for the worker goroutine. reply is buffered so
// the worker never blocks on a caller that gave up.
type job struct {
	fn    func(*vm.VM) any
	reply chan jobResult
}

type jobResult struct {
	value any
	err   error
}

// VMWorker owns a VM and runs every job against it on one goroutine. The
// VM is single-threaded, so LSP handlers never touch it directly.
type VMWorker struct {
	vm   *vm.VM
	jobs chan job
	quit chan struct{}
}

// NewVMWorker starts a worker for v.
func NewVMWorker(v *vm.VM) *VMWorker {
	w := &VMWorker{
		vm:   v,
		jobs: make(chan job, 64),
		quit: make(chan struct{}),
	}
	go w.loop()
	return w
}

func (w *VMWorker) loop() {
	for {
		select {
		case j := <-w.jobs:
			j.reply <- w.run(j.fn)
		case <-w.quit:
			return
		}
	}
}

// run calls fn and turns a panic into an error. A *vm.Fault is returned
// as is, so callers can report where evaluation stopped. After any panic
// the VM is reset, since the aborted job left its frames behind.
func (w *VMWorker) run(fn func(*vm.VM) any) (res jobResult) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		w.vm.Reset()
		if f, ok := vm.AsFault(r); ok {
			log.Warning("job faulted", "fn", f.Fn, "pc", f.PC, "op", f.Op.String(), "fault", f.Msg)
			res.err = f
			return
		}
		res.err = fmt.Errorf("%v", r)
	}()
	return jobResult{value: fn(w.vm)}
}

// Do runs fn on the worker goroutine and waits for its result, or for ctx
// to end.
func (w *VMWorker) Do(ctx context.Context, fn func(*vm.VM) any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	j := job{fn: fn, reply: make(chan jobResult, 1)}
	select {
	case w.jobs <- j:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	select {
	case res := <-j.reply:
		return res.value, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Stop shuts down the worker goroutine. Pending jobs are abandoned.
func (w *VMWorker) Stop() {
	close(w.quit)
}
