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
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds the construction parameters of a CompletionPort.
type Config struct {
	// Concurrency is the number of threads the kernel lets run completions
	// at once; 0 means one per processor.
	Concurrency uint32
	// Logger receives lifecycle events. Nil uses a warn-level logger on stderr.
	Logger logrus.FieldLogger
}

// DefaultConfig returns the configuration used by NewCompletionPort when
// given a zero Config.
func DefaultConfig() Config {
	return Config{Logger: defaultLogger()}
}

func defaultLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetLevel(logrus.WarnLevel)
	return l.WithField("component", "iocp")
}

// CompletionPort multiplexes the completions of every handle registered on
// it. All methods are safe for concurrent use; any number of goroutines may
// poll the same port, and each completion is delivered to exactly one of
// them.
type CompletionPort struct {
	handle  Handle
	log     logrus.FieldLogger
	closed  atomic.Bool
	dieOnce sync.Once
}

// NewCompletionPort creates a completion port.
func NewCompletionPort(cfg Config) (*CompletionPort, error) {
	if cfg.Logger == nil {
		cfg.Logger = defaultLogger()
	}
	h, err := createPort(cfg.Concurrency)
	if err != nil {
		return nil, err
	}
	p := &CompletionPort{handle: h, log: cfg.Logger}
	p.log.WithField("concurrency", cfg.Concurrency).Debug("completion port created")
	return p, nil
}

// Handle returns the native completion port handle.
func (p *CompletionPort) Handle() Handle { return p.handle }

// Register binds the handle of obj to the port; every completion of an
// operation issued on it carries token. A handle can be bound to one port
// only, binding it again fails with ErrAlreadyRegistered.
func (p *CompletionPort) Register(obj HandleProvider, token uintptr) error {
	if obj == nil {
		return ErrUnsupported
	}
	return p.RegisterHandle(obj.Handle(), token)
}

// RegisterHandle is Register for a raw handle.
func (p *CompletionPort) RegisterHandle(h Handle, token uintptr) error {
	if p.closed.Load() {
		return ErrPortClosed
	}
	if err := p.associate(h, token); err != nil {
		return err
	}
	p.log.WithFields(logrus.Fields{"handle": h, "token": token}).Debug("handle registered")
	return nil
}

// Poll blocks until one completion is ready or timeout elapses, in which case
// it returns ErrTimeout. Infinite waits forever.
//
// A failed I/O operation is still a completion: it is returned with a nil
// error and OperationalResult.Err set.
func (p *CompletionPort) Poll(timeout time.Duration) (OperationalResult, error) {
	if p.closed.Load() {
		return OperationalResult{}, ErrPortClosed
	}
	return p.poll(toMillis(timeout))
}

// PollMany blocks until at least one completion is ready or timeout elapses,
// then fills results with as many ready completions as fit without waiting
// for more. It returns the number of results written.
func (p *CompletionPort) PollMany(results []OperationalResult, timeout time.Duration) (int, error) {
	if len(results) == 0 {
		return 0, ErrEmptyBuffer
	}
	if p.closed.Load() {
		return 0, ErrPortClosed
	}
	return p.pollMany(results, toMillis(timeout))
}

// PollBatch is PollMany returning a new slice of at most max results.
func (p *CompletionPort) PollBatch(max int, timeout time.Duration) ([]OperationalResult, error) {
	if max <= 0 {
		return nil, ErrEmptyBuffer
	}
	results := make([]OperationalResult, max)
	n, err := p.PollMany(results, timeout)
	if err != nil {
		return nil, err
	}
	return results[:n], nil
}

// Post queues a synthetic completion carrying token and bytes. ctx may be nil,
// or a descriptor from NewNotification that is later passed to Complete.
// Descriptors of real I/O operations are rejected with ErrUnsupported: their
// buffer belongs to the kernel until the operation's own completion.
func (p *CompletionPort) Post(token uintptr, bytes uint32, ctx *Context) error {
	if p.closed.Load() {
		return ErrPortClosed
	}
	if ctx == nil {
		return p.post(token, bytes, nil)
	}
	if ctx.op != OpNotify {
		return ErrUnsupported
	}
	return p.postContext(token, bytes, ctx)
}

// postContext queues ctx's descriptor, keeping ctx pinned until dequeued.
func (p *CompletionPort) postContext(token uintptr, bytes uint32, ctx *Context) error {
	if !ctx.arm() {
		if ctx.Done() {
			return ErrCompleted
		}
		return ErrInFlight
	}
	if err := p.post(token, bytes, &ctx.o); err != nil {
		ctx.disarm(ctxIdle)
		return err
	}
	return nil
}

// Repost queues res again unchanged, status included, handing it to another
// poller. The result's Context must not have been completed.
func (p *CompletionPort) Repost(res OperationalResult) error {
	if p.closed.Load() {
		return ErrPortClosed
	}
	if res.ctx != nil {
		return p.postContext(res.token, res.bytes, res.ctx)
	}
	return p.post(res.token, res.bytes, res.desc)
}

// Wakeup posts n wake-up packets, releasing up to n blocked pollers.
func (p *CompletionPort) Wakeup(n int) error {
	for i := 0; i < n; i++ {
		if err := p.Post(WakeupToken, 0, nil); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the completion port. Pollers blocked on it return
// ErrPortClosed; closing twice returns ErrPortClosed.
//
// Using a closed port is not fatal here: every method returns ErrPortClosed
// instead of aborting the process.
func (p *CompletionPort) Close() error {
	err := ErrPortClosed
	p.dieOnce.Do(func() {
		p.closed.Store(true)
		err = closePort(p.handle)
		if err != nil {
			p.log.WithError(err).Warn("close completion port")
			return
		}
		p.log.Debug("completion port closed")
	})
	return err
}
