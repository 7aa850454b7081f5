package netfd

import "sync/atomic"

const (
	refClosing = 1 << 63
	refMask    = refClosing - 1
)

// fdRef counts the operations that use a descriptor. Once the closing bit is
// set no new reference is handed out, and whoever drops the last reference
// destroys the descriptor.
type fdRef struct {
	state atomic.Uint64
}

// incref takes a reference. It fails once the descriptor is closing.
func (r *fdRef) incref() bool {
	for {
		old := r.state.Load()
		if old&refClosing != 0 {
			return false
		}
		if old&refMask == refMask {
			panic("netfd: too many concurrent operations on a descriptor")
		}
		if r.state.CompareAndSwap(old, old+1) {
			return true
		}
	}
}

// increfAndClose takes a reference and marks the descriptor closing. Only the
// first caller succeeds.
func (r *fdRef) increfAndClose() bool {
	for {
		old := r.state.Load()
		if old&refClosing != 0 {
			return false
		}
		if r.state.CompareAndSwap(old, (old+1)|refClosing) {
			return true
		}
	}
}

// decref drops a reference and reports whether it was the last one of a
// closing descriptor.
func (r *fdRef) decref() bool {
	for {
		old := r.state.Load()
		if old&refMask == 0 {
			panic("netfd: inconsistent descriptor reference count")
		}
		next := old - 1
		if r.state.CompareAndSwap(old, next) {
			return next == refClosing
		}
	}
}

func (r *fdRef) closing() bool {
	return r.state.Load()&refClosing != 0
}
