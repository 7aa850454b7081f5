package server

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/fzft/go-uthread-io/fiber"
	"github.com/stretchr/testify/assert"
)

type scriptedConn struct {
	reads    [][]byte
	readErr  error
	written  bytes.Buffer
	writeErr error
}

func (c *scriptedConn) Read(_ *fiber.Fiber, p []byte) (int, error) {
	if len(c.reads) == 0 {
		if c.readErr != nil {
			return 0, c.readErr
		}
		return 0, io.EOF
	}
	n := copy(p, c.reads[0])
	c.reads[0] = c.reads[0][n:]
	if len(c.reads[0]) == 0 {
		c.reads = c.reads[1:]
	}
	return n, nil
}

func (c *scriptedConn) Write(_ *fiber.Fiber, p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.written.Write(p)
}

func (c *scriptedConn) Close() error { return nil }
func (c *scriptedConn) Fd() int      { return 42 }
func (c *scriptedConn) Ip() string   { return "127.0.0.1" }

func TestDefaultHandlerEchoes(t *testing.T) {
	c := &scriptedConn{reads: [][]byte{[]byte("hello "), []byte("a longer second chunk")}}

	err := DefaultHandler{BufferSize: 8}.Serve(nil, c)

	assert.NoError(t, err)
	assert.Equal(t, "hello a longer second chunk", c.written.String())
}

func TestDefaultHandlerReturnsErrors(t *testing.T) {
	boom := errors.New("reset")

	err := DefaultHandler{}.Serve(nil, &scriptedConn{readErr: boom})
	assert.ErrorIs(t, err, boom)

	err = DefaultHandler{}.Serve(nil, &scriptedConn{reads: [][]byte{[]byte("x")}, writeErr: boom})
	assert.ErrorIs(t, err, boom)
}
