// Package poll parks fibers on descriptor readiness. A Reactor owns one
// Backend and one polling loop; every descriptor gets a PollData record whose
// read and write slots carry the handshake between the fiber that wants to
// wait, the polling loop that reports readiness and whoever closes the
// descriptor.
package poll

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/fzft/go-uthread-io/fiber"
	"github.com/fzft/go-uthread-io/log"
	"github.com/joeycumines/go-catrate"
	"go.uber.org/zap"
)

type Reactor struct {
	backend Backend
	sched   Scheduler
	cache   pollCache
	logger  *zap.Logger
	limiter *catrate.Limiter

	postSwitchFunc fiber.PostSwitchFunc

	// bulkQueue is only touched by the goroutine inside Poll.
	bulkQueue []*fiber.Fiber
	polling   atomic.Bool

	stats counters

	// beforePostSwitch runs at the start of the post-switch callback.
	beforePostSwitch func(f *fiber.Fiber, pd *PollData)
}

func New(backend Backend, sched Scheduler, opts ...Option) *Reactor {
	r := &Reactor{
		backend:   backend,
		sched:     sched,
		logger:    log.Logger,
		limiter:   catrate.NewLimiter(DefaultLogRates),
		bulkQueue: make([]*fiber.Fiber, 0, defaultBatchCapacity),
	}
	r.postSwitchFunc = r.postSwitch
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Acquire takes a cleared record from the pool for fd. The descriptor is
// registered lazily by Open or the first Block.
func (r *Reactor) Acquire(fd int) (*PollData, error) {
	if fd <= 0 {
		return nil, ErrInvalidFD
	}
	pd := r.cache.alloc()
	pd.mu.Lock()
	pd.resetLocked()
	pd.closing = false
	pd.closeErr = nil
	pd.pooled = false
	pd.fd = fd
	pd.mu.Unlock()
	return pd, nil
}

// Open registers pd with the backend. Opening an opened record is a no-op.
func (r *Reactor) Open(pd *PollData) error {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.closing {
		return ErrClosing
	}
	if pd.fd <= 0 {
		return ErrInvalidFD
	}
	if pd.opened.Load() {
		return nil
	}
	if err := r.backend.Register(pd.fd, pd); err != nil {
		r.stats.registerFailures.Add(1)
		r.logLimited("register", "failed to register descriptor", zap.Int("fd", pd.fd), zap.Error(err))
		return &RegistrationError{Op: "register", FD: pd.fd, Err: err}
	}
	pd.opened.Store(true)
	r.stats.opens.Add(1)
	return nil
}

// Wait blocks f until every direction in flag has been reported ready.
func (r *Reactor) Wait(f *fiber.Fiber, pd *PollData, flag Flag) error {
	if flag&Read != 0 {
		if err := r.Block(f, pd, true); err != nil {
			return err
		}
	}
	if flag&Write != 0 {
		if err := r.Block(f, pd, false); err != nil {
			return err
		}
	}
	return nil
}

// Block parks f until the direction is ready. A readiness event that arrived
// before the call is consumed without parking. f must be the running fiber.
func (r *Reactor) Block(f *fiber.Fiber, pd *PollData, isRead bool) error {
	if !pd.opened.Load() {
		if err := r.Open(pd); err != nil {
			return err
		}
	}

	pd.mu.Lock()
	if pd.closing {
		pd.mu.Unlock()
		return ErrClosing
	}
	s := pd.slot(isRead)
	switch {
	case s.state == slotReady && (s.waiter == nil || s.waiter == f):
		s.clear()
		pd.mu.Unlock()
		r.stats.immediate.Add(1)
		return nil
	case s.waiter != nil:
		err := &ConcurrentWaiterError{FD: pd.fd, Read: isRead, Waiter: s.waiter.ID(), Caller: f.ID()}
		pd.mu.Unlock()
		r.stats.violations.Add(1)
		r.logLimited("waiter", "concurrent waiter rejected", zap.Error(err))
		return err
	}
	s.state = slotArmed
	s.waiter = f
	seq := pd.seq.Load()
	pd.mu.Unlock()

	r.stats.blocks.Add(1)
	f.Suspend(r.postSwitchFunc, pd.op(isRead))

	pd.mu.Lock()
	closed := pd.closing || pd.seq.Load() != seq
	pd.mu.Unlock()
	if closed {
		return ErrClosing
	}
	return nil
}

// postSwitch completes Block once f is parked: either f becomes the slot's
// waiter, or a notification that raced the suspension wakes it right away.
func (r *Reactor) postSwitch(f *fiber.Fiber, arg any) {
	op := arg.(*waitOp)
	pd := op.pd
	if r.beforePostSwitch != nil {
		r.beforePostSwitch(f, pd)
	}

	pd.mu.Lock()
	s := pd.slot(op.isRead)
	if s.waiter != f || (s.state != slotArmed && s.state != slotReady) {
		// The record was reset underneath f. Never leave f parked.
		state := s.state
		pd.mu.Unlock()
		r.stats.violations.Add(1)
		r.logLimited("post-switch", "slot changed while fiber was suspending",
			zap.Uint64("fiber", uint64(f.ID())), zap.Stringer("slot", state))
		f.Resume()
		return
	}
	if s.state == slotArmed && !pd.closing {
		s.state = slotWaiting
		pd.mu.Unlock()
		return
	}
	// Either readiness raced in, or Close left the release of f to us.
	if s.state == slotReady {
		r.stats.raced.Add(1)
	}
	s.clear()
	free := pd.closing && r.retireLocked(pd)
	pd.mu.Unlock()
	r.stats.wakeups.Add(1)
	f.Resume()
	if free {
		r.cache.release(pd)
	}
}

// Unblock applies readiness for flag. A parked waiter is resumed and the slot
// returns to idle, otherwise the event is kept until the next Block.
func (r *Reactor) Unblock(pd *PollData, flag Flag) {
	pd.mu.Lock()
	if pd.closing {
		pd.mu.Unlock()
		return
	}
	rw, ww := unblockLocked(pd, flag)
	pd.mu.Unlock()
	r.resume(rw)
	r.resume(ww)
}

func (r *Reactor) resume(f *fiber.Fiber) {
	if f == nil {
		return
	}
	r.stats.wakeups.Add(1)
	f.Resume()
}

func unblockLocked(pd *PollData, flag Flag) (rw, ww *fiber.Fiber) {
	if flag&Read != 0 {
		rw = unblockSlot(&pd.read)
	}
	if flag&Write != 0 {
		ww = unblockSlot(&pd.write)
	}
	return rw, ww
}

// unblockSlot delivers one event to s and returns the fiber to wake, if any.
func unblockSlot(s *slot) *fiber.Fiber {
	switch s.state {
	case slotIdle, slotArmed:
		// An armed waiter keeps its claim, its post-switch will consume this.
		s.state = slotReady
	case slotWaiting:
		w := s.waiter
		s.clear()
		return w
	}
	// slotReady: the pending event already covers this one.
	return nil
}

// Close releases every parked waiter, deregisters the descriptor and returns
// the record to the pool. Closing a record that is already closing returns
// the result of the first Close.
func (r *Reactor) Close(pd *PollData) error {
	pd.mu.Lock()
	if pd.closing {
		err := pd.closeErr
		pd.mu.Unlock()
		return err
	}
	fd := pd.fd
	rw, ww := unblockLocked(pd, pd.waitingLocked())
	pd.closing = true

	var err error
	if pd.opened.Load() {
		if derr := r.backend.Deregister(fd); derr != nil {
			err = &RegistrationError{Op: "deregister", FD: fd, Err: derr}
		}
	}
	pd.closeErr = err
	free := r.retireLocked(pd)
	pd.mu.Unlock()

	r.resume(rw)
	r.resume(ww)
	if free {
		r.cache.release(pd)
	}
	r.stats.closes.Add(1)
	if err != nil {
		r.logLimited("deregister", "failed to deregister descriptor", zap.Int("fd", fd), zap.Error(err))
	}
	return err
}

// Reset clears pd under its lock.
func (r *Reactor) Reset(pd *PollData) {
	pd.Reset()
}

// retireLocked resets a closing record once no fiber is still suspending on
// it, and reports whether the caller must hand it back to the pool. fd is kept
// until the next Acquire so late readers never see it change under them.
func (r *Reactor) retireLocked(pd *PollData) bool {
	if pd.pooled || pendingSlot(&pd.read) || pendingSlot(&pd.write) {
		return false
	}
	pd.resetLocked()
	pd.pooled = true
	return true
}

// pendingSlot reports whether a fiber claimed s and has not finished its
// post-switch yet.
func pendingSlot(s *slot) bool {
	return s.state == slotArmed || (s.state == slotReady && s.waiter != nil)
}

// PollReady is the per-fiber delivery path.
func (r *Reactor) PollReady(pd *PollData, flag Flag) {
	r.Unblock(pd, flag)
}

// Poll runs one backend pass, blocking up to timeout (forever if negative).
func (r *Reactor) Poll(timeout time.Duration) error {
	if !r.polling.CompareAndSwap(false, true) {
		return ErrConcurrentPoll
	}
	defer r.polling.Store(false)

	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
		if msec == 0 && timeout > 0 {
			msec = 1
		}
	}
	err := r.backend.Wait(msec, r)
	// a backend that never flagged isLast must not strand fibers
	r.flushBulk()
	if err != nil {
		return fmt.Errorf("poll: wait: %w", err)
	}
	return nil
}

// Run is the reactor's polling loop. It occupies one OS thread until ctx is
// done or the backend fails.
func (r *Reactor) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	stop := context.AfterFunc(ctx, func() {
		if err := r.backend.Wake(); err != nil {
			r.logger.Warn("failed to wake poller", zap.Error(err))
		}
	})
	defer stop()

	r.logger.Debug("poller started")
	defer r.logger.Debug("poller stopped")
	for ctx.Err() == nil {
		if err := r.Poll(-1); err != nil {
			r.logger.Error("poller failed", zap.Error(err))
			return err
		}
	}
	return nil
}

// Shutdown closes the backend. Records still open are not released.
func (r *Reactor) Shutdown() error {
	return r.backend.Close()
}

func (r *Reactor) logLimited(category, msg string, fields ...zap.Field) {
	if _, ok := r.limiter.Allow(category); !ok {
		r.stats.suppressed.Add(1)
		return
	}
	r.logger.Error(msg, fields...)
}
