package netfd

import (
	"io"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

func TestIsTemporaryError(t *testing.T) {
	assert.True(t, IsTemporaryError(unix.EAGAIN))
	assert.True(t, IsTemporaryError(os.NewSyscallError("read", unix.EWOULDBLOCK)))
	assert.False(t, IsTemporaryError(unix.ECONNRESET))
	assert.False(t, IsTemporaryError(io.EOF))
}
