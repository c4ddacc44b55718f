//go:build windows

package iocp

import (
	"math"
	"net"
	"net/netip"
	"os"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/xtaci/iocp/internal/sockaddr"
)

var (
	modws2_32       = windows.NewLazySystemDLL("ws2_32.dll")
	procAccept      = modws2_32.NewProc("accept")
	procWSAPoll     = modws2_32.NewProc("WSAPoll")
	procIoctlSocket = modws2_32.NewProc("ioctlsocket")
)

const (
	_POLLERR    = 0x0001
	_POLLHUP    = 0x0002
	_POLLWRNORM = 0x0010

	// FIONBIO for ioctlsocket
	_FIONBIO = 0x8004667E

	// SO_ERROR socket option (not exported by x/sys/windows)
	_SO_ERROR = 0x1007

	_WSAEWOULDBLOCK = syscall.Errno(10035)
)

// wsaPollFd mirrors WSAPOLLFD.
type wsaPollFd struct {
	fd      uintptr
	events  int16
	revents int16
}

// netSocket is the part shared by TCP and UDP sockets: a native socket
// holding one reference on the network subsystem.
type netSocket struct {
	fd     windows.Handle
	net    string
	laddr  net.Addr
	raddr  net.Addr
	closed atomic.Bool
}

// openSocket creates a socket for the family of a, taking a reference on the
// network subsystem first.
func openSocket(a sockaddr.Addr, typ, proto int) (windows.Handle, error) {
	if err := winsock.acquire(); err != nil {
		return windows.InvalidHandle, err
	}
	family := windows.AF_INET
	if a.IP.Is6() {
		family = windows.AF_INET6
	}
	fd, err := windows.Socket(family, typ, proto)
	if err != nil {
		winsock.release()
		return windows.InvalidHandle, os.NewSyscallError("socket", err)
	}
	return fd, nil
}

// closeSocket closes fd and drops its subsystem reference.
func closeSocket(fd windows.Handle) error {
	err := windows.Closesocket(fd)
	winsock.release()
	if err != nil {
		return os.NewSyscallError("closesocket", err)
	}
	return nil
}

// toSockaddr converts a for the synchronous connect/bind pass-throughs.
func toSockaddr(a sockaddr.Addr) windows.Sockaddr {
	if a.IP.Is4() {
		return &windows.SockaddrInet4{Port: int(a.Port), Addr: a.IP.As4()}
	}
	return &windows.SockaddrInet6{Port: int(a.Port), ZoneId: a.ScopeID, Addr: a.IP.As16()}
}

func fromSockaddr(sa windows.Sockaddr) sockaddr.Addr {
	switch sa := sa.(type) {
	case *windows.SockaddrInet4:
		return sockaddr.Addr{IP: netip.AddrFrom4(sa.Addr), Port: uint16(sa.Port)}
	case *windows.SockaddrInet6:
		return sockaddr.Addr{IP: netip.AddrFrom16(sa.Addr), Port: uint16(sa.Port), ScopeID: sa.ZoneId}
	}
	return sockaddr.Addr{}
}

func localAddr(fd windows.Handle) (sockaddr.Addr, error) {
	sa, err := windows.Getsockname(fd)
	if err != nil {
		return sockaddr.Addr{}, os.NewSyscallError("getsockname", err)
	}
	return fromSockaddr(sa), nil
}

// accept blocks until a connection arrives on the listening socket l.
func accept(l windows.Handle) (windows.Handle, sockaddr.Addr, error) {
	var rsa sockaddr.Storage
	rsaLen := sockaddr.SizeofStorage
	r0, _, e1 := procAccept.Call(uintptr(l), uintptr(unsafe.Pointer(&rsa)), uintptr(unsafe.Pointer(&rsaLen)))
	fd := windows.Handle(r0)
	if fd == windows.InvalidHandle {
		return fd, sockaddr.Addr{}, os.NewSyscallError("accept", e1)
	}
	raddr, err := sockaddr.Decode(&rsa, rsaLen)
	if err != nil {
		windows.Closesocket(fd)
		return windows.InvalidHandle, sockaddr.Addr{}, err
	}
	return fd, raddr, nil
}

func (s *netSocket) Handle() Handle { return Handle(s.fd) }

func (s *netSocket) LocalAddr() net.Addr { return s.laddr }

func (s *netSocket) RemoteAddr() net.Addr { return s.raddr }

func (s *netSocket) ok() error {
	if s.closed.Load() {
		return &net.OpError{Op: "use", Net: s.net, Source: s.laddr, Addr: s.raddr, Err: ErrClosed}
	}
	return nil
}

// Close closes the socket. Outstanding operations complete with an error.
func (s *netSocket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return &net.OpError{Op: "close", Net: s.net, Source: s.laddr, Addr: s.raddr, Err: ErrClosed}
	}
	if err := closeSocket(s.fd); err != nil {
		return &net.OpError{Op: "close", Net: s.net, Source: s.laddr, Addr: s.raddr, Err: err}
	}
	return nil
}

// connSocket adds stream-style receive and send to a socket that has a peer
// or accepts datagrams. Listeners do not embed it.
type connSocket struct {
	netSocket
}

// Read submits a receive on the socket.
func (s *connSocket) Read(buf []byte) (*Context, error) {
	if err := s.ok(); err != nil {
		return nil, err
	}
	return submitRecv(Handle(s.fd), buf)
}

// Write submits a send on the connected socket.
func (s *connSocket) Write(buf []byte) (*Context, error) {
	if err := s.ok(); err != nil {
		return nil, err
	}
	return submitSend(Handle(s.fd), buf)
}

// setNonBlocking switches the blocking mode of a socket.
func setNonBlocking(fd windows.Handle, on bool) error {
	var mode uint32
	if on {
		mode = 1
	}
	ret, _, e1 := procIoctlSocket.Call(uintptr(fd), _FIONBIO, uintptr(unsafe.Pointer(&mode)))
	if ret != 0 {
		return os.NewSyscallError("ioctlsocket", e1)
	}
	return nil
}

// connectTimeout connects fd to sa, giving up after timeout. The socket is
// left in blocking mode.
func connectTimeout(fd windows.Handle, sa windows.Sockaddr, timeout time.Duration) error {
	if err := setNonBlocking(fd, true); err != nil {
		return err
	}
	err := windows.Connect(fd, sa)
	if err != nil && err != _WSAEWOULDBLOCK {
		return os.NewSyscallError("connect", err)
	}
	if err != nil {
		pfd := wsaPollFd{fd: uintptr(fd), events: _POLLWRNORM}
		ms := toMillis(timeout)
		if ms == infiniteMillis {
			ms = math.MaxInt32
		}
		ret, _, e1 := procWSAPoll.Call(uintptr(unsafe.Pointer(&pfd)), 1, uintptr(ms))
		switch int32(ret) {
		case -1:
			return os.NewSyscallError("WSAPoll", e1)
		case 0:
			return os.ErrDeadlineExceeded
		}
		if pfd.revents&(_POLLERR|_POLLHUP) != 0 {
			soerr, err := windows.GetsockoptInt(fd, windows.SOL_SOCKET, _SO_ERROR)
			if err != nil {
				return os.NewSyscallError("getsockopt", err)
			}
			return os.NewSyscallError("connect", syscall.Errno(soerr))
		}
	}
	return setNonBlocking(fd, false)
}
