// Package cluster groups worker goroutines around one FIFO ready queue.
package cluster

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"
	"github.com/fzft/go-uthread-io/fiber"
	"github.com/fzft/go-uthread-io/log"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Stats is a snapshot of the scheduler counters.
type Stats struct {
	Scheduled  uint64 // fibers handed over one at a time
	Batches    uint64 // ScheduleBatch calls
	Batched    uint64 // fibers handed over through ScheduleBatch
	Switches   uint64
	QueueDepth int
}

type Cluster struct {
	workers int

	mu      sync.Mutex
	cond    *sync.Cond
	ready   *queue.Queue
	stopped bool

	scheduled atomic.Uint64
	batches   atomic.Uint64
	batched   atomic.Uint64
	switches  atomic.Uint64
}

// New creates a cluster with the given number of workers, defaulting to
// GOMAXPROCS when workers < 1.
func New(workers int) *Cluster {
	if workers < 1 {
		workers = runtime.GOMAXPROCS(0)
	}
	c := &Cluster{
		workers: workers,
		ready:   queue.New(),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

func (c *Cluster) Workers() int { return c.workers }

// Spawn creates a fiber bound to this cluster and schedules it.
func (c *Cluster) Spawn(fn func(f *fiber.Fiber)) *fiber.Fiber {
	f := fiber.New(c, fn)
	f.Start()
	return f
}

// Schedule appends one ready fiber to the run queue.
func (c *Cluster) Schedule(f *fiber.Fiber) {
	c.mu.Lock()
	c.ready.Add(f)
	c.mu.Unlock()
	c.scheduled.Add(1)
	c.cond.Signal()
}

// ScheduleBatch appends all fibers under a single lock acquisition. The
// slice is not retained.
func (c *Cluster) ScheduleBatch(fs []*fiber.Fiber) {
	if len(fs) == 0 {
		return
	}
	c.mu.Lock()
	for _, f := range fs {
		c.ready.Add(f)
	}
	c.mu.Unlock()
	c.batches.Add(1)
	c.batched.Add(uint64(len(fs)))
	if len(fs) == 1 {
		c.cond.Signal()
	} else {
		c.cond.Broadcast()
	}
}

// Run executes fibers on the cluster workers until ctx is done or Stop is
// called. Fibers still queued at that point stay queued.
func (c *Cluster) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, c.Stop)
	defer stop()

	g, _ := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		id := i
		g.Go(func() error {
			log.Logger.Debug("worker started", zap.Int("worker", id))
			defer log.Logger.Debug("worker stopped", zap.Int("worker", id))
			for {
				f, ok := c.next()
				if !ok {
					return nil
				}
				c.switches.Add(1)
				f.Switch()
			}
		})
	}
	return g.Wait()
}

// Stop wakes every worker and makes them return once their current fiber
// yields.
func (c *Cluster) Stop() {
	c.mu.Lock()
	c.stopped = true
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *Cluster) next() (*fiber.Fiber, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.ready.Length() == 0 && !c.stopped {
		c.cond.Wait()
	}
	if c.stopped {
		return nil, false
	}
	return c.ready.Remove().(*fiber.Fiber), true
}

func (c *Cluster) Stats() Stats {
	c.mu.Lock()
	depth := c.ready.Length()
	c.mu.Unlock()
	return Stats{
		Scheduled:  c.scheduled.Load(),
		Batches:    c.batches.Load(),
		Batched:    c.batched.Load(),
		Switches:   c.switches.Load(),
		QueueDepth: depth,
	}
}
