// Package server runs a TCP server whose connections are served by fibers on
// a worker cluster, parked on an epoll reactor while they wait for I/O.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/fzft/go-uthread-io/cluster"
	"github.com/fzft/go-uthread-io/config"
	"github.com/fzft/go-uthread-io/fiber"
	"github.com/fzft/go-uthread-io/log"
	"github.com/fzft/go-uthread-io/netfd"
	"github.com/fzft/go-uthread-io/poll"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type Server struct {
	cfg     config.Config
	handler Handler

	reactor *poll.Reactor
	cluster *cluster.Cluster
	ln      *netfd.Listener
	ready   chan struct{}

	mu      sync.Mutex
	closing bool
	conns   map[netfd.Conn]struct{}
	fibers  sync.WaitGroup
}

// Stats is a snapshot of the running server.
type Stats struct {
	Conns   int
	Reactor poll.Stats
	Cluster cluster.Stats
}

func NewServer(cfg config.Config) *Server {
	return &Server{
		cfg:   cfg,
		ready: make(chan struct{}),
		conns: make(map[netfd.Conn]struct{}),
	}
}

// SetHandler must be called before Run. The default handler echoes.
func (s *Server) SetHandler(handler Handler) {
	s.handler = handler
}

// Ready is closed once the server accepts connections.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Addr is the bound listener address, valid after Ready.
func (s *Server) Addr() net.Addr { return s.ln.Addr() }

// Stats is valid after Ready.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	conns := len(s.conns)
	s.mu.Unlock()
	return Stats{
		Conns:   conns,
		Reactor: s.reactor.Stats(),
		Cluster: s.cluster.Stats(),
	}
}

// Run serves until ctx is done. Shutdown closes the listener and every open
// connection, then waits up to ShutdownTimeout for their fibers.
func (s *Server) Run(ctx context.Context) error {
	if s.handler == nil {
		s.handler = DefaultHandler{BufferSize: s.cfg.ReadBufferSize}
	}

	backend, err := poll.NewEpoll(s.cfg.MaxEvents)
	if err != nil {
		log.Logger.Error("failed to create poller", zap.Error(err))
		return err
	}
	s.cluster = cluster.New(s.cfg.Workers)
	s.reactor = poll.New(backend, s.cluster, poll.WithBatchCapacity(s.cfg.BatchCapacity))

	ln, err := netfd.Listen(s.reactor, s.cfg.Addr)
	if err != nil {
		log.Logger.Error("listen error", zap.String("addr", s.cfg.Addr), zap.Error(err))
		return multierr.Append(err, backend.Close())
	}
	s.ln = ln

	// the runtime outlives ctx so that released fibers can still finish
	runtimeCtx, stopRuntime := context.WithCancel(context.Background())
	defer stopRuntime()
	g, gctx := errgroup.WithContext(runtimeCtx)
	g.Go(func() error { return s.reactor.Run(gctx) })
	g.Go(func() error { return s.cluster.Run(gctx) })

	s.fibers.Add(1)
	s.cluster.Spawn(s.accept)
	close(s.ready)
	log.Logger.Info("listening on", zap.String("addr", ln.Addr().String()), zap.Int("workers", s.cluster.Workers()))

	select {
	case <-ctx.Done():
	case <-gctx.Done():
	}
	log.Logger.Info("shutting down server")

	err = s.shutdown()
	stopRuntime()
	return multierr.Combine(err, g.Wait(), s.reactor.Shutdown())
}

func (s *Server) accept(f *fiber.Fiber) {
	defer s.fibers.Done()
	for {
		conn, err := s.ln.Accept(f)
		if err != nil {
			if errors.Is(err, poll.ErrClosing) {
				return
			}
			log.Logger.Error("accept error", zap.Error(err))
			f.Yield()
			continue
		}
		if !s.track(conn) {
			_ = conn.Close()
			return
		}
		log.Logger.Debug("new connection", zap.Int("fd", conn.Fd()), zap.String("ip", conn.Ip()))
		s.cluster.Spawn(func(f *fiber.Fiber) { s.serve(f, conn) })
	}
}

func (s *Server) serve(f *fiber.Fiber, conn netfd.Conn) {
	defer s.fibers.Done()
	err := s.handler.Serve(f, conn)
	if err != nil && !errors.Is(err, poll.ErrClosing) {
		log.Logger.Debug("connection error", zap.Int("fd", conn.Fd()), zap.Error(err))
	}
	s.untrack(conn)
	if err := conn.Close(); err != nil {
		log.Logger.Debug("close error", zap.Int("fd", conn.Fd()), zap.Error(err))
	}
}

// track registers conn and its fiber unless the server is shutting down.
func (s *Server) track(conn netfd.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closing {
		return false
	}
	s.conns[conn] = struct{}{}
	s.fibers.Add(1)
	return true
}

func (s *Server) untrack(conn netfd.Conn) {
	s.mu.Lock()
	delete(s.conns, conn)
	s.mu.Unlock()
}

func (s *Server) shutdown() error {
	s.mu.Lock()
	s.closing = true
	conns := make([]netfd.Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	s.mu.Unlock()

	err := s.ln.Close()
	for _, c := range conns {
		err = multierr.Append(err, c.Close())
	}

	done := make(chan struct{})
	go func() {
		s.fibers.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(s.cfg.ShutdownTimeout):
		log.Logger.Warn("fibers still running after shutdown timeout", zap.Duration("timeout", s.cfg.ShutdownTimeout))
	}
	return err
}
