//go:build windows

package iocp

import (
	"net"
	"os"

	"golang.org/x/sys/windows"

	"github.com/xtaci/iocp/internal/sockaddr"
)

// UDPConn is a datagram socket. RecvFrom and SendTo submit WSARecvFrom and
// WSASendTo; a socket from DialUDP may also use Read and Write towards its
// fixed peer.
type UDPConn struct {
	connSocket
}

func resolveUDP(op, address string) (sockaddr.Addr, *net.UDPAddr, error) {
	uaddr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return sockaddr.Addr{}, nil, &net.OpError{Op: op, Net: "udp", Err: err}
	}
	a, err := sockaddr.FromUDPAddr(uaddr)
	if err != nil {
		return sockaddr.Addr{}, nil, &net.OpError{Op: op, Net: "udp", Addr: uaddr, Err: err}
	}
	return a, uaddr, nil
}

// ListenUDP binds a datagram socket to address.
func ListenUDP(address string) (*UDPConn, error) {
	a, uaddr, err := resolveUDP("listen", address)
	if err != nil {
		return nil, err
	}
	return openUDP("listen", a, uaddr, windows.Bind)
}

// DialUDP creates a datagram socket connected to address.
func DialUDP(address string) (*UDPConn, error) {
	a, uaddr, err := resolveUDP("dial", address)
	if err != nil {
		return nil, err
	}
	c, err := openUDP("dial", a, uaddr, windows.Connect)
	if err != nil {
		return nil, err
	}
	c.raddr = uaddr
	return c, nil
}

func openUDP(op string, a sockaddr.Addr, uaddr *net.UDPAddr, attach func(windows.Handle, windows.Sockaddr) error) (*UDPConn, error) {
	fd, err := openSocket(a, windows.SOCK_DGRAM, windows.IPPROTO_UDP)
	if err != nil {
		return nil, &net.OpError{Op: op, Net: "udp", Addr: uaddr, Err: err}
	}
	call := "bind"
	if op == "dial" {
		call = "connect"
	}
	if err := attach(fd, toSockaddr(a)); err != nil {
		closeSocket(fd)
		return nil, &net.OpError{Op: op, Net: "udp", Addr: uaddr, Err: os.NewSyscallError(call, err)}
	}
	laddr, err := localAddr(fd)
	if err != nil {
		closeSocket(fd)
		return nil, &net.OpError{Op: op, Net: "udp", Addr: uaddr, Err: err}
	}
	c := &UDPConn{}
	c.fd = fd
	c.net = "udp"
	c.laddr = laddr.UDPAddr()
	return c, nil
}

// RecvFrom submits a datagram receive. The source address is available from
// the Context's Peer once it is completed.
func (c *UDPConn) RecvFrom(buf []byte) (*Context, error) {
	if err := c.ok(); err != nil {
		return nil, err
	}
	return submitRecvFrom(Handle(c.fd), buf)
}

// SendTo submits a datagram send towards addr.
func (c *UDPConn) SendTo(buf []byte, addr *net.UDPAddr) (*Context, error) {
	if err := c.ok(); err != nil {
		return nil, err
	}
	to, err := sockaddr.FromUDPAddr(addr)
	if err != nil {
		return nil, &SubmitError{Op: OpSendTo, Buffer: buf, Err: err}
	}
	return submitSendTo(Handle(c.fd), buf, to)
}

var (
	_ PacketConn = (*UDPConn)(nil)
	_ ReadWriter = (*UDPConn)(nil)
)
