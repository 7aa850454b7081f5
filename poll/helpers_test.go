package poll

import (
	"sync"
	"testing"

	"github.com/fzft/go-uthread-io/fiber"
)

// manualScheduler lets a test act as the only worker: fibers run when the
// test calls runNext.
type manualScheduler struct {
	mu      sync.Mutex
	queue   []*fiber.Fiber
	singles int
	batches [][]fiber.ID
}

func (s *manualScheduler) Schedule(f *fiber.Fiber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, f)
	s.singles++
}

func (s *manualScheduler) ScheduleBatch(fs []*fiber.Fiber) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]fiber.ID, 0, len(fs))
	for _, f := range fs {
		ids = append(ids, f.ID())
		s.queue = append(s.queue, f)
	}
	s.batches = append(s.batches, ids)
}

func (s *manualScheduler) runNext() bool {
	s.mu.Lock()
	if len(s.queue) == 0 {
		s.mu.Unlock()
		return false
	}
	f := s.queue[0]
	s.queue = s.queue[1:]
	s.mu.Unlock()
	f.Switch()
	return true
}

func (s *manualScheduler) drain() {
	for s.runNext() {
	}
}

func (s *manualScheduler) queued() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *manualScheduler) singleCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.singles
}

func (s *manualScheduler) batchIDs() [][]fiber.ID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]fiber.ID(nil), s.batches...)
}

type fakeEvent struct {
	pd   *PollData
	flag Flag
}

// fakeBackend replays scripted passes instead of asking the kernel.
type fakeBackend struct {
	mu            sync.Mutex
	registered    map[int]*PollData
	deregistered  []int
	registerErr   error
	deregisterErr error
	passes        [][]fakeEvent
	neverLast     bool

	waiting chan struct{}
	wake    chan struct{}
	closed  bool
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		registered: make(map[int]*PollData),
		waiting:    make(chan struct{}, 1),
		wake:       make(chan struct{}, 1),
	}
}

func (b *fakeBackend) Register(fd int, pd *PollData) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.registerErr != nil {
		return b.registerErr
	}
	b.registered[fd] = pd
	return nil
}

func (b *fakeBackend) Deregister(fd int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.registered, fd)
	b.deregistered = append(b.deregistered, fd)
	return b.deregisterErr
}

func (b *fakeBackend) push(events ...fakeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.passes = append(b.passes, events)
}

func (b *fakeBackend) Wait(msec int, d Dispatcher) error {
	b.mu.Lock()
	if len(b.passes) == 0 {
		b.mu.Unlock()
		if msec == 0 {
			return nil
		}
		select {
		case b.waiting <- struct{}{}:
		default:
		}
		<-b.wake
		return nil
	}
	pass := b.passes[0]
	b.passes = b.passes[1:]
	neverLast := b.neverLast
	b.mu.Unlock()

	for i, ev := range pass {
		d.PollReadyBulk(ev.pd, ev.flag, !neverLast && i == len(pass)-1)
	}
	return nil
}

func (b *fakeBackend) Wake() error {
	select {
	case b.wake <- struct{}{}:
	default:
	}
	return nil
}

func (b *fakeBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

func (b *fakeBackend) isRegistered(fd int) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.registered[fd]
	return ok
}

func slotOf(pd *PollData, isRead bool) (slotState, *fiber.Fiber) {
	pd.mu.Lock()
	defer pd.mu.Unlock()
	s := pd.slot(isRead)
	return s.state, s.waiter
}

func newTestReactor(t *testing.T) (*Reactor, *fakeBackend, *manualScheduler) {
	t.Helper()
	be := newFakeBackend()
	s := &manualScheduler{}
	return New(be, s, WithLogRates(nil)), be, s
}

// blockingFiber starts a fiber that blocks once on pd and stores the result.
func blockingFiber(r *Reactor, s *manualScheduler, pd *PollData, isRead bool, result *error) *fiber.Fiber {
	f := fiber.New(s, func(f *fiber.Fiber) {
		*result = r.Block(f, pd, isRead)
	})
	f.Start()
	return f
}
