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
	"errors"
	"strconv"
)

const (
	// Default number of completions drained per PollMany by Workers.
	defaultBatchSize = 64

	// WakeupToken is the completion key of packets posted by Wakeup. Workers
	// exit when they dequeue one carrying no descriptor.
	WakeupToken = ^uintptr(0)
)

var (
	// ErrUnsupported means the object or platform cannot take part in completion port I/O
	ErrUnsupported = errors.New("iocp: unsupported")
	// ErrPortClosed means the completion port has been closed
	ErrPortClosed = errors.New("iocp: completion port closed")
	// ErrTimeout means no completion became ready before the poll deadline
	ErrTimeout = errors.New("iocp: poll timed out")
	// ErrAlreadyRegistered means the handle is already bound to a completion port
	ErrAlreadyRegistered = errors.New("iocp: handle already registered")
	// ErrEmptyBuffer means the buffer is empty
	ErrEmptyBuffer = errors.New("iocp: empty buffer")
	// ErrCompleted means the Context has already been completed
	ErrCompleted = errors.New("iocp: context already completed")
	// ErrInFlight means the operation has not been completed yet
	ErrInFlight = errors.New("iocp: operation in flight")
	// ErrMismatch means the result was produced by another Context
	ErrMismatch = errors.New("iocp: result belongs to another context")
	// ErrClosed means the I/O object has been closed
	ErrClosed = errors.New("iocp: use of closed object")
	// ErrCPUID indicates the given cpuid is invalid
	ErrCPUID = errors.New("iocp: no such cpuid")
)

// OpType defines the operation type.
type OpType int

const (
	// OpRead reads at the object's cursor
	OpRead OpType = iota
	// OpWrite writes at the object's cursor
	OpWrite
	// OpReadAt reads at an explicit offset
	OpReadAt
	// OpWriteAt writes at an explicit offset
	OpWriteAt
	// OpRecvFrom receives a datagram and its source address
	OpRecvFrom
	// OpSendTo sends a datagram to an explicit address
	OpSendTo
	// OpNotify marks a descriptor used only for posted completions
	OpNotify
)

var opNames = [...]string{"read", "write", "readat", "writeat", "recvfrom", "sendto", "notify"}

func (op OpType) String() string {
	if op >= 0 && int(op) < len(opNames) {
		return opNames[op]
	}
	return "op(" + strconv.Itoa(int(op)) + ")"
}

// Handle is a native file or socket handle.
type Handle uintptr

// HandleProvider is implemented by every I/O object that exposes a stable
// native handle usable for registration and native I/O calls.
type HandleProvider interface {
	Handle() Handle
}

// overlapped mirrors the native OVERLAPPED record. The kernel keeps a raw
// pointer to it while the operation is outstanding.
type overlapped struct {
	Internal     uintptr
	InternalHigh uintptr
	Offset       uint32
	OffsetHigh   uint32
	HEvent       uintptr
}

// overlappedEntry mirrors OVERLAPPED_ENTRY as filled by
// GetQueuedCompletionStatusEx.
type overlappedEntry struct {
	key      uintptr
	ov       *overlapped
	internal uintptr
	qty      uint32
}

// wsaBuf mirrors WSABUF.
type wsaBuf struct {
	Len uint32
	Buf *byte
}

// SubmitError reports a submission the kernel refused. The operation never
// started and Buffer is handed back to the caller unchanged.
type SubmitError struct {
	Op     OpType
	Buffer []byte
	Err    error
}

func (e *SubmitError) Error() string {
	return "iocp: submit " + e.Op.String() + ": " + e.Err.Error()
}

func (e *SubmitError) Unwrap() error { return e.Err }
