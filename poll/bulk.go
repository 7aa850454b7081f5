package poll

import (
	"fmt"

	"github.com/fzft/go-uthread-io/fiber"
)

// UnblockBulk is Unblock for the polling loop: instead of resuming a parked
// waiter it marks it ready and appends it to the reactor batch, which
// PollReadyBulk submits once per backend pass.
func (r *Reactor) UnblockBulk(pd *PollData, flag Flag) {
	r.assertPoller()

	pd.mu.Lock()
	defer pd.mu.Unlock()
	if pd.closing {
		return
	}
	rw, ww := unblockLocked(pd, flag)
	r.pushBulk(rw)
	r.pushBulk(ww)
}

// PollReadyBulk delivers readiness through the batch. On the last record of a
// backend pass the whole batch goes to the scheduler in one call.
func (r *Reactor) PollReadyBulk(pd *PollData, flag Flag, isLast bool) {
	r.UnblockBulk(pd, flag)
	if isLast {
		r.flushBulk()
	}
}

func (r *Reactor) pushBulk(f *fiber.Fiber) {
	if f == nil {
		return
	}
	if !f.MarkReady() {
		panic(fmt.Errorf("poll: fiber %d in state %s left a waiting slot", f.ID(), f.State()))
	}
	r.bulkQueue = append(r.bulkQueue, f)
}

func (r *Reactor) flushBulk() {
	n := len(r.bulkQueue)
	if n == 0 {
		return
	}
	r.sched.ScheduleBatch(r.bulkQueue)
	r.stats.batches.Add(1)
	r.stats.batched.Add(uint64(n))
	r.stats.wakeups.Add(uint64(n))
	clear(r.bulkQueue)
	r.bulkQueue = r.bulkQueue[:0]
}

// assertPoller enforces the single producer rule of the batch: only the
// goroutine inside Poll may feed it.
func (r *Reactor) assertPoller() {
	if !r.polling.Load() {
		panic("poll: bulk readiness delivered outside Poll")
	}
}
