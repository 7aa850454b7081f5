//go:build linux

package server

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/fzft/go-uthread-io/config"
	"github.com/fzft/go-uthread-io/fiber"
	"github.com/fzft/go-uthread-io/netfd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startServer(t *testing.T, handler Handler) (*Server, context.CancelFunc, <-chan error) {
	t.Helper()
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.Workers = 2
	cfg.ShutdownTimeout = 2 * time.Second

	s := NewServer(cfg)
	if handler != nil {
		s.SetHandler(handler)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case err := <-done:
		cancel()
		t.Fatalf("server failed to start: %v", err)
	case <-time.After(5 * time.Second):
		cancel()
		t.Fatal("server did not start")
	}
	return s, cancel, done
}

func stop(t *testing.T, cancel context.CancelFunc, done <-chan error) {
	t.Helper()
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not stop")
	}
}

func dial(t *testing.T, s *Server) net.Conn {
	t.Helper()
	nc, err := net.Dial("tcp", s.Addr().String())
	require.NoError(t, err)
	require.NoError(t, nc.SetDeadline(time.Now().Add(5*time.Second)))
	t.Cleanup(func() { _ = nc.Close() })
	return nc
}

func TestEchoManyClients(t *testing.T) {
	s, cancel, done := startServer(t, nil)
	defer stop(t, cancel, done)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		nc := dial(t, s)
		wg.Add(1)
		go func(i int, nc net.Conn) {
			defer wg.Done()
			for round := 0; round < 10; round++ {
				msg := []byte(fmt.Sprintf("client %02d round %02d", i, round))
				if _, err := nc.Write(msg); !assert.NoError(t, err) {
					return
				}
				buf := make([]byte, len(msg))
				if _, err := io.ReadFull(nc, buf); !assert.NoError(t, err) {
					return
				}
				assert.Equal(t, string(msg), string(buf))
			}
		}(i, nc)
	}
	wg.Wait()

	st := s.Stats()
	assert.Greater(t, st.Reactor.Opens, uint64(16))
	assert.Greater(t, st.Cluster.Switches, uint64(0))
}

func TestShutdownClosesIdleConnections(t *testing.T) {
	s, cancel, done := startServer(t, nil)
	nc := dial(t, s)

	require.Eventually(t, func() bool { return s.Stats().Conns == 1 }, 5*time.Second, time.Millisecond)
	stop(t, cancel, done)

	_, err := nc.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)
}

func TestCustomHandler(t *testing.T) {
	greeting := "hello from fd "
	s, cancel, done := startServer(t, HandlerFunc(func(f *fiber.Fiber, conn netfd.Conn) error {
		_, err := conn.Write(f, []byte(fmt.Sprintf("%s%d\n", greeting, conn.Fd())))
		return err
	}))
	defer stop(t, cancel, done)

	nc := dial(t, s)
	data, err := io.ReadAll(nc)
	require.NoError(t, err)
	assert.Contains(t, string(data), greeting)

	require.Eventually(t, func() bool { return s.Stats().Conns == 0 }, 5*time.Second, time.Millisecond)
}

func TestRunFailsOnBadAddress(t *testing.T) {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:99999"
	err := NewServer(cfg).Run(context.Background())
	assert.Error(t, err)
}
