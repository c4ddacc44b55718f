//go:build windows

package iocp

import (
	"errors"
	"os"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/xtaci/iocp/internal/sockaddr"
)

func (c *Context) native() *windows.Overlapped {
	return (*windows.Overlapped)(unsafe.Pointer(&c.o))
}

func (c *Context) nativeBuf() *windows.WSABuf {
	return (*windows.WSABuf)(unsafe.Pointer(&c.wsabuf))
}

func (c *Context) nativePeer() *windows.RawSockaddrAny {
	return (*windows.RawSockaddrAny)(unsafe.Pointer(&c.peer))
}

// issued normalizes the status of a native submission. Synchronous success
// and a pending operation both queue a completion packet, so both return c.
func issued(c *Context, call string, err error) (*Context, error) {
	if err == nil || errors.Is(err, windows.ERROR_IO_PENDING) {
		return c, nil
	}
	c.abort()
	return nil, &SubmitError{Op: c.op, Buffer: c.buf, Err: os.NewSyscallError(call, err)}
}

// submitRead issues ReadFile on h into buf at offset.
func submitRead(h Handle, op OpType, buf []byte, offset uint64) (*Context, error) {
	if len(buf) == 0 {
		return nil, ErrEmptyBuffer
	}
	c := newContext(op, h, buf, offset)
	var done uint32 // meaningless for overlapped handles
	err := windows.ReadFile(windows.Handle(h), buf, &done, c.native())
	return issued(c, "ReadFile", err)
}

// submitWrite issues WriteFile on h from buf at offset.
func submitWrite(h Handle, op OpType, buf []byte, offset uint64) (*Context, error) {
	if len(buf) == 0 {
		return nil, ErrEmptyBuffer
	}
	c := newContext(op, h, buf, offset)
	var done uint32
	err := windows.WriteFile(windows.Handle(h), buf, &done, c.native())
	return issued(c, "WriteFile", err)
}

// submitRecv issues WSARecv on the connected socket s.
func submitRecv(s Handle, buf []byte) (*Context, error) {
	if len(buf) == 0 {
		return nil, ErrEmptyBuffer
	}
	c := newContext(OpRead, s, buf, 0)
	var recvd uint32
	err := windows.WSARecv(windows.Handle(s), c.nativeBuf(), 1, &recvd, &c.flags, c.native(), nil)
	return issued(c, "WSARecv", err)
}

// submitSend issues WSASend on the connected socket s.
func submitSend(s Handle, buf []byte) (*Context, error) {
	if len(buf) == 0 {
		return nil, ErrEmptyBuffer
	}
	c := newContext(OpWrite, s, buf, 0)
	var sent uint32
	err := windows.WSASend(windows.Handle(s), c.nativeBuf(), 1, &sent, 0, c.native(), nil)
	return issued(c, "WSASend", err)
}

// submitRecvFrom issues WSARecvFrom on s. The source address is written into
// the Context's own storage, which lives as long as the buffer.
func submitRecvFrom(s Handle, buf []byte) (*Context, error) {
	if len(buf) == 0 {
		return nil, ErrEmptyBuffer
	}
	c := newContext(OpRecvFrom, s, buf, 0)
	c.peerLen = sockaddr.SizeofStorage
	var recvd uint32
	err := windows.WSARecvFrom(windows.Handle(s), c.nativeBuf(), 1, &recvd, &c.flags,
		c.nativePeer(), &c.peerLen, c.native(), nil)
	return issued(c, "WSARecvFrom", err)
}

// submitSendTo issues WSASendTo on s towards to.
func submitSendTo(s Handle, buf []byte, to sockaddr.Addr) (*Context, error) {
	if len(buf) == 0 {
		return nil, ErrEmptyBuffer
	}
	c := newContext(OpSendTo, s, buf, 0)
	n, err := sockaddr.Encode(to, &c.peer)
	if err != nil {
		c.abort()
		return nil, &SubmitError{Op: OpSendTo, Buffer: buf, Err: err}
	}
	c.peerLen = n
	var sent uint32
	err = windows.WSASendTo(windows.Handle(s), c.nativeBuf(), 1, &sent, 0,
		c.nativePeer(), c.peerLen, c.native(), nil)
	return issued(c, "WSASendTo", err)
}

// Cancel asks the kernel to abandon the operation. It succeeds when the
// operation was stopped and when there was nothing left to stop. A
// cancelled operation still queues one completion, which must be drained and
// passed to Complete.
func (c *Context) Cancel() error {
	if !c.inKernel() || c.op == OpNotify {
		return nil
	}
	err := windows.CancelIoEx(windows.Handle(c.handle), c.native())
	if err == nil || errors.Is(err, windows.ERROR_NOT_FOUND) {
		return nil
	}
	return os.NewSyscallError("CancelIoEx", err)
}
