package iocp

import "unsafe"

// OperationalResult is one decoded completion packet.
//
// It carries no buffer: use Context.Complete, or a Tracker keyed by
// Descriptor, to get back to the Context that produced it.
type OperationalResult struct {
	token  uintptr
	bytes  uint32
	offset uint64
	desc   *overlapped
	ctx    *Context // set when the descriptor was in flight from this package
	err    error
}

// decodeEntry turns a raw OVERLAPPED_ENTRY into a result. The operation's
// status is the one the kernel left in the descriptor itself.
func decodeEntry(e *overlappedEntry) OperationalResult {
	var err error
	if e.ov != nil {
		err = statusError(e.ov.Internal)
	}
	return newResult(e.key, e.qty, e.ov, err)
}

// newResult builds the result of a dequeued packet. The kernel is done with
// the descriptor, so its Context is released here.
func newResult(token uintptr, qty uint32, ov *overlapped, err error) OperationalResult {
	r := OperationalResult{token: token, bytes: qty, desc: ov, err: err}
	if ov != nil {
		r.offset = unpackOffset(ov.Offset, ov.OffsetHigh)
		r.ctx = settle(ov)
	}
	return r
}

// Token returns the completion key the handle was registered with, or the
// token given to Post.
func (r OperationalResult) Token() uintptr { return r.token }

// BytesUsed returns the number of bytes transferred.
func (r OperationalResult) BytesUsed() uint32 { return r.bytes }

// Offset returns the byte offset recorded in the descriptor at submission.
// It is zero for cursor-less operations and for packets without descriptor.
func (r OperationalResult) Offset() uint64 { return r.offset }

// Descriptor identifies the Context that produced this result, zero for
// packets posted without one. It matches Context.Descriptor.
func (r OperationalResult) Descriptor() uintptr { return uintptr(unsafe.Pointer(r.desc)) }

// Err returns the completion status of the operation, nil on success.
// A cancelled operation usually reports ERROR_OPERATION_ABORTED.
func (r OperationalResult) Err() error { return r.err }

// IsWakeup reports whether r is a wake-up packet posted by Wakeup.
func (r OperationalResult) IsWakeup() bool {
	return r.token == WakeupToken && r.desc == nil
}

// packOffset splits a 64 bit offset into the descriptor's low/high halves.
func packOffset(off uint64) (lo, hi uint32) {
	return uint32(off), uint32(off >> 32)
}

func unpackOffset(lo, hi uint32) uint64 {
	return uint64(hi)<<32 | uint64(lo)
}
