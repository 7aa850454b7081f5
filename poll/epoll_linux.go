//go:build linux

package poll

import (
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"unsafe"

	"go.uber.org/multierr"
	"golang.org/x/sys/unix"
)

const (
	readEvents  = unix.EPOLLIN | unix.EPOLLPRI | unix.EPOLLRDHUP
	writeEvents = unix.EPOLLOUT
	// every descriptor is watched for both directions, edge triggered, for
	// its whole registration
	registerEvents = readEvents | writeEvents | unix.EPOLLET
)

const DefaultMaxEvents = 128

type wakeSignal uint64

const signalWake wakeSignal = 1

// registration remembers the record generation that owns fd, so events
// collected for an older generation can be dropped.
type registration struct {
	pd  *PollData
	seq uint64
}

type readyEvent struct {
	registration
	flag Flag
}

// Epoll is the linux Backend. A descriptor registry keyed by fd maps kernel
// events back to records; an eventfd lets other goroutines interrupt Wait.
type Epoll struct {
	epollFd int
	efd     int

	mu       sync.RWMutex
	registry map[int]registration

	// owned by the goroutine in Wait
	events []unix.EpollEvent
	ready  []readyEvent

	closed atomic.Bool
}

func NewEpoll(maxEvents int) (*Epoll, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	efd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, multierr.Append(os.NewSyscallError("eventfd", err), unix.Close(epfd))
	}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, efd, &unix.EpollEvent{Fd: int32(efd), Events: unix.EPOLLIN}); err != nil {
		return nil, multierr.Combine(os.NewSyscallError("epoll_ctl add", err), unix.Close(efd), unix.Close(epfd))
	}
	return &Epoll{
		epollFd:  epfd,
		efd:      efd,
		registry: make(map[int]registration),
		events:   make([]unix.EpollEvent, maxEvents),
		ready:    make([]readyEvent, 0, maxEvents),
	}, nil
}

// Register adds fd to the epoll set. A descriptor number the kernel still
// knows about is modified in place. The caller holds pd's lock, so the
// generation recorded here is the one being opened.
func (e *Epoll) Register(fd int, pd *PollData) error {
	if e.closed.Load() {
		return ErrBackendClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	err := e.add(fd)
	if errors.Is(err, unix.EEXIST) {
		err = e.mod(fd)
	}
	if err != nil {
		return err
	}
	e.registry[fd] = registration{pd: pd, seq: pd.seq.Load()}
	return nil
}

// Deregister removes fd from the epoll set. The registry entry is dropped
// even if the kernel already forgot the descriptor.
func (e *Epoll) Deregister(fd int) error {
	e.mu.Lock()
	_, ok := e.registry[fd]
	delete(e.registry, fd)
	e.mu.Unlock()
	if !ok {
		return nil
	}
	return e.del(fd)
}

// Len returns the number of registered descriptors.
func (e *Epoll) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.registry)
}

func (e *Epoll) Wait(msec int, d Dispatcher) error {
	if e.closed.Load() {
		return ErrBackendClosed
	}
	n, err := unix.EpollWait(e.epollFd, e.events, msec)
	if err != nil {
		if err == unix.EINTR {
			return nil
		}
		return os.NewSyscallError("epoll_wait", err)
	}

	e.ready = e.ready[:0]
	e.mu.RLock()
	for i := 0; i < n; i++ {
		ev := &e.events[i]
		fd := int(ev.Fd)
		if fd == e.efd {
			e.drainWake()
			continue
		}
		reg, ok := e.registry[fd]
		if !ok {
			continue
		}
		if flag := eventFlag(ev.Events); flag != 0 {
			e.ready = append(e.ready, readyEvent{registration: reg, flag: flag})
		}
	}
	e.mu.RUnlock()

	// A Close, and maybe an Acquire, can slip in once the registry lock is
	// released. Drop events for records that moved on.
	live := e.ready[:0]
	for _, re := range e.ready {
		if re.pd.seq.Load() == re.seq {
			live = append(live, re)
		}
	}
	last := len(live) - 1
	for i, re := range live {
		d.PollReadyBulk(re.pd, re.flag, i == last)
	}
	clear(e.ready)
	return nil
}

func eventFlag(events uint32) Flag {
	var flag Flag
	if events&(readEvents|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		flag |= Read
	}
	if events&(writeEvents|unix.EPOLLHUP|unix.EPOLLERR) != 0 {
		flag |= Write
	}
	return flag
}

// Wake interrupts a blocked Wait.
func (e *Epoll) Wake() error {
	sig := signalWake
	_, err := unix.Write(e.efd, (*(*[8]byte)(unsafe.Pointer(&sig)))[:])
	if err != nil && err != unix.EAGAIN {
		return os.NewSyscallError("write eventfd", err)
	}
	return nil
}

func (e *Epoll) drainWake() {
	var buf wakeSignal
	_, _ = unix.Read(e.efd, (*(*[8]byte)(unsafe.Pointer(&buf)))[:])
}

// Close releases the eventfd and the epoll instance. It must not race a
// running Wait.
func (e *Epoll) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	e.mu.Lock()
	clear(e.registry)
	e.mu.Unlock()
	return multierr.Combine(
		os.NewSyscallError("close eventfd", unix.Close(e.efd)),
		os.NewSyscallError("close epoll", unix.Close(e.epollFd)),
	)
}

func (e *Epoll) add(fd int) error {
	return os.NewSyscallError("epoll_ctl add",
		unix.EpollCtl(e.epollFd, unix.EPOLL_CTL_ADD, fd, &unix.EpollEvent{Fd: int32(fd), Events: registerEvents}))
}

func (e *Epoll) mod(fd int) error {
	return os.NewSyscallError("epoll_ctl mod",
		unix.EpollCtl(e.epollFd, unix.EPOLL_CTL_MOD, fd, &unix.EpollEvent{Fd: int32(fd), Events: registerEvents}))
}

func (e *Epoll) del(fd int) error {
	return os.NewSyscallError("epoll_ctl del", unix.EpollCtl(e.epollFd, unix.EPOLL_CTL_DEL, fd, nil))
}
