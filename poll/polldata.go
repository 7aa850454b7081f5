package poll

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fzft/go-uthread-io/fiber"
)

// Flag selects readiness directions.
type Flag uint8

const (
	Read Flag = 1 << iota
	Write
)

func (f Flag) String() string {
	switch f {
	case 0:
		return "none"
	case Read:
		return "read"
	case Write:
		return "write"
	case Read | Write:
		return "read|write"
	}
	return fmt.Sprintf("flag(%d)", uint8(f))
}

type slotState uint8

const (
	// slotIdle: no fiber waiting, no event pending.
	slotIdle slotState = iota
	// slotArmed: waiter decided to park but its post-switch has not run yet.
	slotArmed
	// slotReady: an event arrived with nobody waiting, next Block returns at once.
	slotReady
	// slotWaiting: waiter is parked.
	slotWaiting
)

func (s slotState) String() string {
	switch s {
	case slotIdle:
		return "idle"
	case slotArmed:
		return "armed"
	case slotReady:
		return "ready"
	case slotWaiting:
		return "waiting"
	}
	return fmt.Sprintf("slot(%d)", uint8(s))
}

// slot holds one direction of a descriptor. waiter is set while a fiber owns
// the slot: armed, waiting, or ready before its post-switch consumed the event.
type slot struct {
	state  slotState
	waiter *fiber.Fiber
}

func (s *slot) clear() {
	s.state = slotIdle
	s.waiter = nil
}

// waitOp is the post-switch argument of a parked fiber; one per direction so
// a reader and a writer can be mid-suspension at the same time.
type waitOp struct {
	pd     *PollData
	isRead bool
}

// PollData is the per-descriptor readiness record. Records come from the
// reactor's pool and go back to it on Close.
type PollData struct {
	link *PollData // pool free list, guarded by pollCache.mu

	opened atomic.Bool
	// seq is bumped under mu on every reset. Woken waiters and the backend
	// compare it to detect a record that was closed or reused.
	seq atomic.Uint64

	mu       sync.Mutex
	fd       int // written only by Acquire
	closing  bool
	read     slot
	write    slot
	pooled   bool // returned to the pool, waits for the next alloc
	closeErr error

	rop waitOp
	wop waitOp
}

func newPollData() *PollData {
	pd := &PollData{}
	pd.rop = waitOp{pd: pd, isRead: true}
	pd.wop = waitOp{pd: pd, isRead: false}
	return pd
}

func (pd *PollData) FD() int {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.fd
}

// Opened reports whether the descriptor is registered with the backend.
func (pd *PollData) Opened() bool { return pd.opened.Load() }

func (pd *PollData) Closing() bool {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	return pd.closing
}

// Reset clears both slots and the lifecycle flags.
func (pd *PollData) Reset() {
	pd.mu.Lock()
	pd.resetLocked()
	pd.closing = false
	pd.closeErr = nil
	pd.mu.Unlock()
}

// resetLocked drains the slots and forgets the registration. closing is left
// alone so that a late Close on a retired record stays a no-op.
func (pd *PollData) resetLocked() {
	pd.read.clear()
	pd.write.clear()
	pd.opened.Store(false)
	pd.seq.Add(1)
}

func (pd *PollData) slot(isRead bool) *slot {
	if isRead {
		return &pd.read
	}
	return &pd.write
}

func (pd *PollData) op(isRead bool) *waitOp {
	if isRead {
		return &pd.rop
	}
	return &pd.wop
}

// waitingLocked returns the directions that hold a parked fiber.
func (pd *PollData) waitingLocked() Flag {
	var flag Flag
	if pd.read.state == slotWaiting {
		flag |= Read
	}
	if pd.write.state == slotWaiting {
		flag |= Write
	}
	return flag
}
