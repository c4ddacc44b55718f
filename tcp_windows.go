//go:build windows

package iocp

import (
	"errors"
	"net"
	"os"
	"sync/atomic"
	"time"

	"golang.org/x/sys/windows"

	"github.com/xtaci/iocp/internal/sockaddr"
)

// TCPConn is a connected stream socket. Read and Write submit WSARecv and
// WSASend; their completions arrive on the port the connection is registered
// with. Connect, shutdown and close are synchronous.
type TCPConn struct {
	connSocket
}

// TCPListener is a listening stream socket. Accept blocks; it never takes
// part in completion port I/O.
type TCPListener struct {
	fd     windows.Handle
	laddr  net.Addr
	closed atomic.Bool
}

func resolveTCP(op, address string) (sockaddr.Addr, *net.TCPAddr, error) {
	taddr, err := net.ResolveTCPAddr("tcp", address)
	if err != nil {
		return sockaddr.Addr{}, nil, &net.OpError{Op: op, Net: "tcp", Err: err}
	}
	a, err := sockaddr.FromTCPAddr(taddr)
	if err != nil {
		return sockaddr.Addr{}, nil, &net.OpError{Op: op, Net: "tcp", Addr: taddr, Err: err}
	}
	return a, taddr, nil
}

// DialTCP connects to address. The connect itself is synchronous.
func DialTCP(address string) (*TCPConn, error) {
	return dialTCP(address, 0)
}

// DialTCPTimeout is DialTCP giving up after timeout, which must be positive.
// A connect that times out returns an error matching os.ErrDeadlineExceeded.
func DialTCPTimeout(address string, timeout time.Duration) (*TCPConn, error) {
	if timeout <= 0 {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("iocp: non-positive dial timeout")}
	}
	return dialTCP(address, timeout)
}

func dialTCP(address string, timeout time.Duration) (*TCPConn, error) {
	raddr, taddr, err := resolveTCP("dial", address)
	if err != nil {
		return nil, err
	}
	fd, err := openSocket(raddr, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return nil, &net.OpError{Op: "dial", Net: "tcp", Addr: taddr, Err: err}
	}
	if timeout > 0 {
		err = connectTimeout(fd, toSockaddr(raddr), timeout)
	} else if err = windows.Connect(fd, toSockaddr(raddr)); err != nil {
		err = os.NewSyscallError("connect", err)
	}
	if err != nil {
		closeSocket(fd)
		return nil, &net.OpError{Op: "dial", Net: "tcp", Addr: taddr, Err: err}
	}
	laddr, err := localAddr(fd)
	if err != nil {
		closeSocket(fd)
		return nil, &net.OpError{Op: "dial", Net: "tcp", Addr: taddr, Err: err}
	}
	return newTCPConn(fd, laddr, raddr), nil
}

func newTCPConn(fd windows.Handle, laddr, raddr sockaddr.Addr) *TCPConn {
	c := &TCPConn{}
	c.fd = fd
	c.net = "tcp"
	c.laddr = laddr.TCPAddr()
	c.raddr = raddr.TCPAddr()
	return c
}

// CloseWrite shuts down the sending side of the connection.
func (c *TCPConn) CloseWrite() error {
	if err := c.ok(); err != nil {
		return err
	}
	if err := windows.Shutdown(c.fd, windows.SHUT_WR); err != nil {
		return &net.OpError{Op: "close", Net: c.net, Source: c.laddr, Addr: c.raddr, Err: os.NewSyscallError("shutdown", err)}
	}
	return nil
}

// ListenTCP binds and listens on address. Use port 0 for an ephemeral port
// and read it back from Addr.
func ListenTCP(address string) (*TCPListener, error) {
	a, taddr, err := resolveTCP("listen", address)
	if err != nil {
		return nil, err
	}
	fd, err := openSocket(a, windows.SOCK_STREAM, windows.IPPROTO_TCP)
	if err != nil {
		return nil, &net.OpError{Op: "listen", Net: "tcp", Addr: taddr, Err: err}
	}
	fail := func(call string, err error) (*TCPListener, error) {
		closeSocket(fd)
		return nil, &net.OpError{Op: "listen", Net: "tcp", Addr: taddr, Err: os.NewSyscallError(call, err)}
	}
	if err := windows.Bind(fd, toSockaddr(a)); err != nil {
		return fail("bind", err)
	}
	if err := windows.Listen(fd, windows.SOMAXCONN); err != nil {
		return fail("listen", err)
	}
	laddr, err := localAddr(fd)
	if err != nil {
		closeSocket(fd)
		return nil, &net.OpError{Op: "listen", Net: "tcp", Addr: taddr, Err: err}
	}
	return &TCPListener{fd: fd, laddr: laddr.TCPAddr()}, nil
}

// Addr returns the bound address.
func (l *TCPListener) Addr() net.Addr { return l.laddr }

// Accept blocks until a peer connects. The returned connection is not
// registered with any port yet.
func (l *TCPListener) Accept() (*TCPConn, error) {
	if l.closed.Load() {
		return nil, &net.OpError{Op: "accept", Net: "tcp", Addr: l.laddr, Err: ErrClosed}
	}
	// the accepted socket holds its own reference
	if err := winsock.acquire(); err != nil {
		return nil, &net.OpError{Op: "accept", Net: "tcp", Addr: l.laddr, Err: err}
	}
	fd, raddr, err := accept(l.fd)
	if err != nil {
		winsock.release()
		return nil, &net.OpError{Op: "accept", Net: "tcp", Addr: l.laddr, Err: err}
	}
	laddr, err := localAddr(fd)
	if err != nil {
		closeSocket(fd)
		return nil, &net.OpError{Op: "accept", Net: "tcp", Addr: l.laddr, Err: err}
	}
	return newTCPConn(fd, laddr, raddr), nil
}

// Handle returns the listening socket.
func (l *TCPListener) Handle() Handle { return Handle(l.fd) }

// Close stops listening. A blocked Accept returns an error.
func (l *TCPListener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return &net.OpError{Op: "close", Net: "tcp", Addr: l.laddr, Err: ErrClosed}
	}
	if err := closeSocket(l.fd); err != nil {
		return &net.OpError{Op: "close", Net: "tcp", Addr: l.laddr, Err: err}
	}
	return nil
}

var (
	_ ReadWriter     = (*TCPConn)(nil)
	_ HandleProvider = (*TCPListener)(nil)
)
