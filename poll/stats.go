package poll

import "sync/atomic"

type counters struct {
	opens            atomic.Uint64
	closes           atomic.Uint64
	registerFailures atomic.Uint64
	blocks           atomic.Uint64
	immediate        atomic.Uint64
	raced            atomic.Uint64
	wakeups          atomic.Uint64
	batches          atomic.Uint64
	batched          atomic.Uint64
	violations       atomic.Uint64
	suppressed       atomic.Uint64
}

// Stats is a snapshot of reactor activity.
type Stats struct {
	Opens            uint64 // successful registrations
	Closes           uint64
	RegisterFailures uint64
	Blocks           uint64 // fibers that actually parked
	Immediate        uint64 // Block calls satisfied by a pending event
	Raced            uint64 // events that arrived while a fiber was suspending
	Wakeups          uint64
	Batches          uint64 // bulk submissions to the scheduler
	Batched          uint64
	Violations       uint64
	SuppressedLogs   uint64
	PoolAllocated    int
	PoolFree         int
}

func (r *Reactor) Stats() Stats {
	allocated, free := r.cache.stats()
	return Stats{
		Opens:            r.stats.opens.Load(),
		Closes:           r.stats.closes.Load(),
		RegisterFailures: r.stats.registerFailures.Load(),
		Blocks:           r.stats.blocks.Load(),
		Immediate:        r.stats.immediate.Load(),
		Raced:            r.stats.raced.Load(),
		Wakeups:          r.stats.wakeups.Load(),
		Batches:          r.stats.batches.Load(),
		Batched:          r.stats.batched.Load(),
		Violations:       r.stats.violations.Load(),
		SuppressedLogs:   r.stats.suppressed.Load(),
		PoolAllocated:    allocated,
		PoolFree:         free,
	}
}
