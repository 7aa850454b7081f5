package poll

import "github.com/fzft/go-uthread-io/fiber"

// Backend is the OS readiness multiplexer behind a Reactor.
type Backend interface {
	// Register starts watching fd for both directions on behalf of pd.
	Register(fd int, pd *PollData) error
	// Deregister stops watching fd.
	Deregister(fd int) error
	// Wait blocks up to msec milliseconds (forever if negative) and reports
	// every ready record to d. The final record of a pass is reported with
	// isLast set.
	Wait(msec int, d Dispatcher) error
	// Wake makes a blocked Wait return early.
	Wake() error
	Close() error
}

// Dispatcher receives readiness from a Backend.
type Dispatcher interface {
	PollReady(pd *PollData, flag Flag)
	PollReadyBulk(pd *PollData, flag Flag, isLast bool)
}

// Scheduler takes fibers released by the bulk path in a single submission.
type Scheduler interface {
	ScheduleBatch(fs []*fiber.Fiber)
}
