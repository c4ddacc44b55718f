// The MIT License (MIT)
//
// Copyright (c) 2019 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package iocp

import (
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"unsafe"

	"github.com/xtaci/iocp/internal/sockaddr"
)

// context states
const (
	ctxIdle    int32 = iota // not owned by the kernel, not completed
	ctxPending              // referenced by the kernel or queued on a port
	ctxDone
)

// appendOffset asks the kernel to write at the current end of file.
const appendOffset = ^uint64(0)

// Context is one outstanding or completed operation. It owns the submitted
// buffer until Complete hands it back.
//
// The embedded descriptor is referenced by the kernel while the operation is
// in flight, so the Context and the buffer's backing array stay pinned from
// submission until the port dequeues its completion. A dequeued Context that
// is never completed is ordinary garbage.
type Context struct {
	// must be the first field, completions point at it
	o overlapped

	op     OpType
	handle Handle
	buf    []byte
	state  atomic.Int32
	pinned atomic.Bool
	pinner runtime.Pinner

	// native call arguments that must outlive the call
	wsabuf  wsaBuf
	flags   uint32
	peer    sockaddr.Storage
	peerLen int32
}

// inflightSet holds every Context the kernel may still write through, keyed
// by descriptor. Dequeuing a packet takes its Context out and unpins it.
type inflightSet struct {
	mu sync.Mutex
	m  map[*overlapped]*Context
}

var inflight = &inflightSet{m: make(map[*overlapped]*Context)}

func (s *inflightSet) add(c *Context) {
	s.mu.Lock()
	s.m[&c.o] = c
	s.mu.Unlock()
}

func (s *inflightSet) take(ov *overlapped) *Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.m[ov]
	if ok {
		delete(s.m, ov)
	}
	return c
}

func (s *inflightSet) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.m)
}

// newContext allocates and arms a Context for a submission on h.
func newContext(op OpType, h Handle, buf []byte, offset uint64) *Context {
	c := &Context{op: op, handle: h, buf: buf}
	c.o.Offset, c.o.OffsetHigh = packOffset(offset)
	if len(buf) > 0 {
		c.wsabuf = wsaBuf{Len: uint32(len(buf)), Buf: &buf[0]}
	}
	c.arm()
	return c
}

// NewNotification returns a descriptor for a synthetic completion posted with
// CompletionPort.Post. The offset travels with the packet and is reported by
// OperationalResult.Offset.
func NewNotification(offset uint64) *Context {
	c := &Context{op: OpNotify}
	c.o.Offset, c.o.OffsetHigh = packOffset(offset)
	return c
}

// arm hands c to the kernel: pinned and registered as in flight. It fails if
// c is already armed or completed.
func (c *Context) arm() bool {
	if !c.state.CompareAndSwap(ctxIdle, ctxPending) {
		return false
	}
	c.pinner.Pin(c)
	if len(c.buf) > 0 {
		c.pinner.Pin(&c.buf[0])
	}
	c.pinned.Store(true)
	inflight.add(c)
	return true
}

// disarm takes c back from the kernel after its packet was dequeued or its
// submission refused.
func (c *Context) disarm(final int32) {
	if c.state.CompareAndSwap(ctxPending, final) {
		inflight.take(&c.o)
		c.unpin()
	}
}

func (c *Context) unpin() {
	if c.pinned.CompareAndSwap(true, false) {
		c.pinner.Unpin()
	}
}

// settle releases the Context behind a dequeued descriptor, if it is ours.
func settle(ov *overlapped) *Context {
	c := inflight.take(ov)
	if c == nil {
		return nil
	}
	c.state.CompareAndSwap(ctxPending, ctxIdle)
	c.unpin()
	return c
}

// abort releases a Context whose operation never started.
func (c *Context) abort() { c.disarm(ctxDone) }

// Op returns the operation kind.
func (c *Context) Op() OpType { return c.op }

// Handle returns the handle the operation was issued on.
func (c *Context) Handle() Handle { return c.handle }

// Offset returns the byte offset stored in the descriptor.
func (c *Context) Offset() uint64 { return unpackOffset(c.o.Offset, c.o.OffsetHigh) }

// Descriptor returns the identity reported by OperationalResult.Descriptor
// for this operation's completion.
func (c *Context) Descriptor() uintptr { return uintptr(unsafe.Pointer(&c.o)) }

// Done reports whether Complete has been called.
func (c *Context) Done() bool { return c.state.Load() == ctxDone }

// inKernel reports whether the operation may still be in flight.
func (c *Context) inKernel() bool { return c.state.Load() == ctxPending }

// Complete correlates res with this Context and returns the transferred part
// of the buffer together with the completion status. The Context is released
// and must not be completed again.
func (c *Context) Complete(res OperationalResult) ([]byte, error) {
	if res.desc != &c.o {
		return nil, ErrMismatch
	}
	if !c.state.CompareAndSwap(ctxIdle, ctxDone) && !c.state.CompareAndSwap(ctxPending, ctxDone) {
		return nil, ErrCompleted
	}
	inflight.take(&c.o)
	c.unpin()

	n := int(res.bytes)
	if n > len(c.buf) {
		n = len(c.buf)
	}
	return c.buf[:n], res.err
}

// Buffer returns the whole buffer once the Context is done, nil before.
func (c *Context) Buffer() []byte {
	if !c.Done() {
		return nil
	}
	return c.buf
}

// Peer returns the source address of a completed RecvFrom, or the
// destination of a SendTo.
func (c *Context) Peer() (*net.UDPAddr, error) {
	if c.op != OpRecvFrom && c.op != OpSendTo {
		return nil, ErrUnsupported
	}
	if c.op == OpRecvFrom && !c.Done() {
		return nil, ErrInFlight
	}
	a, err := sockaddr.Decode(&c.peer, c.peerLen)
	if err != nil {
		return nil, err
	}
	return a.UDPAddr(), nil
}
