package server

import (
	"errors"
	"io"

	"github.com/fzft/go-uthread-io/config"
	"github.com/fzft/go-uthread-io/fiber"
	"github.com/fzft/go-uthread-io/log"
	"github.com/fzft/go-uthread-io/netfd"
	"go.uber.org/zap"
)

// Handler serves one connection on its own fiber. The server closes conn
// once Serve returns.
type Handler interface {
	Serve(f *fiber.Fiber, conn netfd.Conn) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(f *fiber.Fiber, conn netfd.Conn) error

func (fn HandlerFunc) Serve(f *fiber.Fiber, conn netfd.Conn) error { return fn(f, conn) }

// DefaultHandler writes back whatever it reads until the peer hangs up.
type DefaultHandler struct {
	BufferSize int
}

func (dh DefaultHandler) Serve(f *fiber.Fiber, conn netfd.Conn) error {
	size := dh.BufferSize
	if size <= 0 {
		size = config.DefaultReadBufferSize
	}
	buf := make([]byte, size)
	for {
		n, err := conn.Read(f, buf)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		log.Logger.Debug("read data", zap.Int("fd", conn.Fd()), zap.Int("bytes", n))
		if _, err := conn.Write(f, buf[:n]); err != nil {
			return err
		}
	}
}
