// Package fiber implements cooperatively scheduled user-level threads on top
// of goroutines. A fiber only executes while a worker has switched to it, and
// gives the worker back control at explicit suspension points.
package fiber

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/fzft/go-uthread-io/log"
	"go.uber.org/zap"
)

// ID identifies a fiber. IDs start at 1, zero is never a live fiber.
type ID uint64

type State int32

const (
	StateCreated State = iota
	StateReady
	StateRunning
	StateSuspended
	StateDone
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateDone:
		return "done"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Scheduler accepts fibers that became runnable.
type Scheduler interface {
	Schedule(f *Fiber)
}

// PostSwitchFunc runs on the worker after the suspending fiber has been
// parked, and before the worker picks its next fiber.
type PostSwitchFunc func(f *Fiber, arg any)

type switchMsg struct {
	post PostSwitchFunc
	arg  any
	done bool
}

type Fiber struct {
	id    ID
	state atomic.Int32
	sched  Scheduler
	fn     func(f *Fiber)
	logger *zap.Logger

	run   chan struct{}
	yield chan switchMsg
	done  chan struct{}

	resumes atomic.Uint64
	panicked any
}

var lastID atomic.Uint64

// New creates a fiber that will execute fn once started.
func New(s Scheduler, fn func(f *Fiber)) *Fiber {
	return &Fiber{
		id:     ID(lastID.Add(1)),
		sched:  s,
		fn:     fn,
		logger: log.Logger,
		run:    make(chan struct{}),
		yield:  make(chan switchMsg),
		done:   make(chan struct{}),
	}
}

func (f *Fiber) ID() ID { return f.id }

func (f *Fiber) State() State { return State(f.state.Load()) }

// Resumes reports how many times the fiber was made ready after a suspension.
func (f *Fiber) Resumes() uint64 { return f.resumes.Load() }

// Done is closed once the fiber function has returned.
func (f *Fiber) Done() <-chan struct{} { return f.done }

// Panic returns the value recovered from the fiber function, if any.
func (f *Fiber) Panic() any {
	<-f.done
	return f.panicked
}

// Start makes a created fiber runnable.
func (f *Fiber) Start() {
	if !f.state.CompareAndSwap(int32(StateCreated), int32(StateReady)) {
		panic(fmt.Errorf("fiber %d: start in state %s", f.id, f.State()))
	}
	go f.main()
	f.sched.Schedule(f)
}

func (f *Fiber) main() {
	<-f.run
	defer func() {
		if r := recover(); r != nil {
			f.panicked = r
			f.logger.Error("fiber panicked", zap.Uint64("fiber", uint64(f.id)), zap.Any("panic", r))
		}
		f.yield <- switchMsg{done: true}
	}()
	f.fn(f)
}

// Switch transfers the calling worker to f until f suspends or returns. When
// f suspended with a post-switch callback, the callback runs before Switch
// returns, on the worker, with f already parked.
func (f *Fiber) Switch() {
	if !f.state.CompareAndSwap(int32(StateReady), int32(StateRunning)) {
		panic(fmt.Errorf("fiber %d: switch in state %s", f.id, f.State()))
	}
	f.run <- struct{}{}
	msg := <-f.yield
	if msg.done {
		f.state.Store(int32(StateDone))
		close(f.done)
		return
	}
	f.state.Store(int32(StateSuspended))
	if msg.post != nil {
		msg.post(f, msg.arg)
	}
}

// Suspend parks the running fiber. It must be called from f itself. post is
// invoked once f is parked; whoever makes f runnable again (post itself, or a
// later Resume) decides when Suspend returns.
func (f *Fiber) Suspend(post PostSwitchFunc, arg any) {
	f.yield <- switchMsg{post: post, arg: arg}
	<-f.run
}

// Yield suspends f and immediately reschedules it behind the other ready fibers.
func (f *Fiber) Yield() {
	f.Suspend(func(f *Fiber, _ any) { f.Resume() }, nil)
}

// MarkReady moves a suspended fiber to ready without scheduling it. It is
// used by callers that hand fibers to the scheduler in bulk.
func (f *Fiber) MarkReady() bool {
	if !f.state.CompareAndSwap(int32(StateSuspended), int32(StateReady)) {
		return false
	}
	f.resumes.Add(1)
	return true
}

// Resume makes a suspended fiber runnable on its scheduler. Resuming a fiber
// that is not suspended is a bug in the caller and panics.
func (f *Fiber) Resume() {
	if !f.MarkReady() {
		panic(fmt.Errorf("fiber %d: resume in state %s", f.id, f.State()))
	}
	f.sched.Schedule(f)
}

// Join waits for the fiber to finish.
func (f *Fiber) Join(ctx context.Context) error {
	select {
	case <-f.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
