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

//go:build windows

package iocp

import (
	"errors"
	"fmt"
	"os"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	// not wrapped by x/sys/windows
	modkernel32                     = windows.NewLazySystemDLL("kernel32.dll")
	procGetQueuedCompletionStatusEx = modkernel32.NewProc("GetQueuedCompletionStatusEx")
)

func createPort(concurrency uint32) (Handle, error) {
	h, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, concurrency)
	if err != nil {
		return 0, os.NewSyscallError("CreateIoCompletionPort", err)
	}
	return Handle(h), nil
}

func closePort(h Handle) error {
	if err := windows.CloseHandle(windows.Handle(h)); err != nil {
		return os.NewSyscallError("CloseHandle", err)
	}
	return nil
}

func (p *CompletionPort) associate(h Handle, token uintptr) error {
	_, err := windows.CreateIoCompletionPort(windows.Handle(h), windows.Handle(p.handle), token, 0)
	if err == nil {
		return nil
	}
	serr := os.NewSyscallError("CreateIoCompletionPort", err)
	// the kernel rejects a second association of the same handle this way
	if errors.Is(err, windows.ERROR_INVALID_PARAMETER) {
		return fmt.Errorf("%w: %w", ErrAlreadyRegistered, serr)
	}
	return serr
}

// waitError maps the failure of a dequeue that returned no packet.
func (p *CompletionPort) waitError(call string, err error) error {
	switch {
	case errors.Is(err, syscall.Errno(windows.WAIT_TIMEOUT)):
		return ErrTimeout
	case p.closed.Load():
		// handle closed underneath a blocked waiter
		return ErrPortClosed
	case errors.Is(err, windows.ERROR_ABANDONED_WAIT_0):
		return ErrPortClosed
	}
	return os.NewSyscallError(call, err)
}

func (p *CompletionPort) poll(ms uint32) (OperationalResult, error) {
	var qty uint32
	var key uintptr
	var ov *windows.Overlapped

	err := windows.GetQueuedCompletionStatus(windows.Handle(p.handle), &qty, &key, &ov, ms)
	if ov == nil {
		if err != nil {
			return OperationalResult{}, p.waitError("GetQueuedCompletionStatus", err)
		}
		// posted without descriptor
		return newResult(key, qty, nil, nil), nil
	}
	// A packet was dequeued. Its status is the one left in the descriptor:
	// GetQueuedCompletionStatus reports success for a packet requeued with
	// PostQueuedCompletionStatus even when the operation failed.
	desc := (*overlapped)(unsafe.Pointer(ov))
	status := statusError(desc.Internal)
	if status == nil {
		status = err
	}
	return newResult(key, qty, desc, status), nil
}

func (p *CompletionPort) pollMany(results []OperationalResult, ms uint32) (int, error) {
	entries := make([]overlappedEntry, len(results))
	var n uint32

	r1, _, e1 := procGetQueuedCompletionStatusEx.Call(
		uintptr(p.handle),
		uintptr(unsafe.Pointer(&entries[0])),
		uintptr(len(entries)),
		uintptr(unsafe.Pointer(&n)),
		uintptr(ms),
		0, // not alertable
	)
	if r1 == 0 {
		return 0, p.waitError("GetQueuedCompletionStatusEx", e1)
	}

	for i := 0; i < int(n); i++ {
		results[i] = decodeEntry(&entries[i])
	}
	return int(n), nil
}

func (p *CompletionPort) post(token uintptr, bytes uint32, ov *overlapped) error {
	err := windows.PostQueuedCompletionStatus(windows.Handle(p.handle), bytes, token, (*windows.Overlapped)(unsafe.Pointer(ov)))
	if err != nil {
		return os.NewSyscallError("PostQueuedCompletionStatus", err)
	}
	return nil
}

// statusError converts the NTSTATUS left in a dequeued descriptor.
func statusError(status uintptr) error {
	if status == 0 {
		return nil
	}
	return windows.NTStatus(uint32(status)).Errno()
}
