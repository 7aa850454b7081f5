//go:build linux

package netfd

import (
	"fmt"
	"io"
	"net"
	"os"

	"github.com/fzft/go-uthread-io/fiber"
	"github.com/fzft/go-uthread-io/log"
	"github.com/fzft/go-uthread-io/poll"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// netFD ties a socket to its reactor record. Every operation holds a
// reference for its whole duration; the descriptor number and the record are
// released only when the last reference drops after Close.
type netFD struct {
	sysfd   int
	pd      *poll.PollData
	reactor *poll.Reactor
	ref     fdRef
}

func newNetFD(r *poll.Reactor, sysfd int) (*netFD, error) {
	pd, err := r.Acquire(sysfd)
	if err != nil {
		return nil, err
	}
	if err := r.Open(pd); err != nil {
		_ = r.Close(pd)
		return nil, err
	}
	return &netFD{sysfd: sysfd, pd: pd, reactor: r}, nil
}

func (fd *netFD) incref() error {
	if !fd.ref.incref() {
		return poll.ErrClosing
	}
	return nil
}

func (fd *netFD) decref() {
	if !fd.ref.decref() {
		return
	}
	if err := fd.destroy(); err != nil {
		log.Logger.Warn("failed to release descriptor", zap.Int("fd", fd.sysfd), zap.Error(err))
	}
}

// destroy deregisters first, then closes the descriptor, so the number is
// never reused while the reactor still watches it.
func (fd *netFD) destroy() error {
	return multierr.Append(
		fd.reactor.Close(fd.pd),
		os.NewSyscallError("close", unix.Close(fd.sysfd)),
	)
}

// Close stops new operations and wakes the parked ones. The descriptor is
// closed here when no operation is in flight, otherwise by the last one to
// leave. Closing again is a no-op.
func (fd *netFD) Close() error {
	if !fd.ref.increfAndClose() {
		return nil
	}
	// parked fibers wake up, see the closing bit and drop their reference
	fd.reactor.Unblock(fd.pd, poll.Read|poll.Write)
	if fd.ref.decref() {
		return fd.destroy()
	}
	return nil
}

func (fd *netFD) Fd() int { return fd.sysfd }

type conn struct {
	*netFD
	ip string
}

// NewConn adopts a connected socket. The descriptor is switched to
// non-blocking mode and owned by the returned Conn.
func NewConn(r *poll.Reactor, sysfd int, ip string) (Conn, error) {
	if err := unix.SetNonblock(sysfd, true); err != nil {
		return nil, fmt.Errorf("set nonblock error for fd %d: %w", sysfd, os.NewSyscallError("fcntl", err))
	}
	fd, err := newNetFD(r, sysfd)
	if err != nil {
		return nil, err
	}
	return &conn{netFD: fd, ip: ip}, nil
}

func (c *conn) Read(f *fiber.Fiber, p []byte) (int, error) {
	if err := c.incref(); err != nil {
		return 0, err
	}
	defer c.decref()
	if len(p) == 0 {
		return 0, nil
	}
	for {
		if c.ref.closing() {
			return 0, poll.ErrClosing
		}
		n, err := unix.Read(c.sysfd, p)
		switch {
		case err == nil && n == 0:
			return 0, io.EOF
		case err == nil:
			return n, nil
		case err == unix.EINTR:
			continue
		case IsTemporaryError(err):
			if err := c.reactor.Block(f, c.pd, true); err != nil {
				return 0, err
			}
		default:
			return 0, os.NewSyscallError("read", err)
		}
	}
}

func (c *conn) Write(f *fiber.Fiber, p []byte) (int, error) {
	if err := c.incref(); err != nil {
		return 0, err
	}
	defer c.decref()
	written := 0
	for written < len(p) {
		if c.ref.closing() {
			return written, poll.ErrClosing
		}
		n, err := unix.Write(c.sysfd, p[written:])
		if n > 0 {
			written += n
		}
		switch {
		case err == nil:
		case err == unix.EINTR:
		case IsTemporaryError(err):
			if err := c.reactor.Block(f, c.pd, false); err != nil {
				return written, err
			}
		default:
			return written, os.NewSyscallError("write", err)
		}
	}
	return written, nil
}

func (c *conn) Ip() string { return c.ip }

// Listener accepts connections on a non-blocking TCP socket.
type Listener struct {
	*netFD
	addr net.Addr
}

// Listen binds a TCP listener on addr ("host:port", port 0 picks one).
func Listen(r *poll.Reactor, addr string) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, err
	}
	family, sa, err := sockaddr(tcpAddr)
	if err != nil {
		return nil, err
	}

	sysfd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := listen(sysfd, sa); err != nil {
		return nil, multierr.Append(err, unix.Close(sysfd))
	}
	local, err := unix.Getsockname(sysfd)
	if err != nil {
		return nil, multierr.Append(os.NewSyscallError("getsockname", err), unix.Close(sysfd))
	}

	fd, err := newNetFD(r, sysfd)
	if err != nil {
		return nil, multierr.Append(err, unix.Close(sysfd))
	}
	return &Listener{netFD: fd, addr: tcpAddrOf(local)}, nil
}

func listen(sysfd int, sa unix.Sockaddr) error {
	if err := unix.SetsockoptInt(sysfd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return os.NewSyscallError("setsockopt", err)
	}
	if err := unix.Bind(sysfd, sa); err != nil {
		return os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(sysfd, unix.SOMAXCONN); err != nil {
		return os.NewSyscallError("listen", err)
	}
	return nil
}

// Accept parks f until a connection arrives.
func (l *Listener) Accept(f *fiber.Fiber) (Conn, error) {
	if err := l.incref(); err != nil {
		return nil, err
	}
	defer l.decref()
	for {
		if l.ref.closing() {
			return nil, poll.ErrClosing
		}
		connFd, sa, err := unix.Accept4(l.sysfd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		switch {
		case err == nil:
			c, err := NewConn(l.reactor, connFd, ipOf(sa))
			if err != nil {
				return nil, multierr.Append(err, unix.Close(connFd))
			}
			return c, nil
		case err == unix.EINTR, err == unix.ECONNABORTED:
			continue
		case IsTemporaryError(err):
			if err := l.reactor.Block(f, l.pd, true); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("accept error: %w", os.NewSyscallError("accept4", err))
		}
	}
}

func (l *Listener) Addr() net.Addr { return l.addr }

func sockaddr(addr *net.TCPAddr) (int, unix.Sockaddr, error) {
	if addr.IP == nil {
		return unix.AF_INET, &unix.SockaddrInet4{Port: addr.Port}, nil
	}
	if ip4 := addr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		copy(sa.Addr[:], ip4)
		return unix.AF_INET, sa, nil
	}
	if ip6 := addr.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: addr.Port}
		copy(sa.Addr[:], ip6)
		return unix.AF_INET6, sa, nil
	}
	return 0, nil, fmt.Errorf("netfd: unsupported address %s", addr)
}

func ipOf(sa unix.Sockaddr) string {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3]).String()
	case *unix.SockaddrInet6:
		return net.IP(addr.Addr[:]).String()
	}
	return ""
}

func tcpAddrOf(sa unix.Sockaddr) net.Addr {
	switch addr := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IPv4(addr.Addr[0], addr.Addr[1], addr.Addr[2], addr.Addr[3]), Port: addr.Port}
	case *unix.SockaddrInet6:
		return &net.TCPAddr{IP: net.IP(addr.Addr[:]), Port: addr.Port}
	}
	return &net.TCPAddr{}
}
