// Package iocp is an asynchronous I/O driver built on I/O completion ports.
//
// iocp works in submit/poll mode: submitting a Read, Write, ReadAt, WriteAt,
// RecvFrom or SendTo hands the caller's buffer to the kernel and returns a
// *Context immediately, and any number of goroutines drain finished
// operations from a CompletionPort with Poll or PollMany. Each
// OperationalResult is matched back to its Context by the caller, usually
// through a Tracker, and Context.Complete returns the buffer.
//
// A submitted buffer belongs to the kernel until its completion has been
// dequeued and passed to Complete.
package iocp
