package iocp

import "sync"

// Tracker maps outstanding descriptors back to their Contexts so a poller
// can find the Context for a result it dequeued. It is safe for concurrent
// use.
type Tracker struct {
	mu       sync.Mutex
	inflight map[uintptr]*Context
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{inflight: make(map[uintptr]*Context)}
}

// Track records ctx as outstanding. Track it right after submission, before
// its completion can be polled by another goroutine.
func (t *Tracker) Track(ctx *Context) {
	t.mu.Lock()
	t.inflight[ctx.Descriptor()] = ctx
	t.mu.Unlock()
}

// Resolve removes and returns the Context that produced res. A result whose
// Context is not tracked yet can be handed back with CompletionPort.Repost.
func (t *Tracker) Resolve(res OperationalResult) (*Context, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	ctx, ok := t.inflight[res.Descriptor()]
	if ok {
		delete(t.inflight, res.Descriptor())
	}
	return ctx, ok
}

// Len returns the number of outstanding Contexts.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.inflight)
}

// Drain removes and returns every outstanding Context, e.g. to cancel them
// at shutdown. Their completions still have to be polled and completed.
func (t *Tracker) Drain() []*Context {
	t.mu.Lock()
	defer t.mu.Unlock()
	ctxs := make([]*Context, 0, len(t.inflight))
	for d, ctx := range t.inflight {
		ctxs = append(ctxs, ctx)
		delete(t.inflight, d)
	}
	return ctxs
}
