package iocp

import "sync"

// wsaRef counts the users of the network subsystem. The first acquire starts
// it and the last release tears it down; releasing more than acquired is a
// no-op.
type wsaRef struct {
	mu      sync.Mutex
	refs    int
	startup func() error
	cleanup func() error
}

func (w *wsaRef) acquire() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.refs == 0 {
		if err := w.startup(); err != nil {
			return err
		}
	}
	w.refs++
	return nil
}

func (w *wsaRef) release() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.refs == 0 {
		return nil
	}
	w.refs--
	if w.refs == 0 {
		return w.cleanup()
	}
	return nil
}

func (w *wsaRef) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.refs
}

// winsock gates every socket created by this package.
var winsock = &wsaRef{startup: wsaStartup, cleanup: wsaCleanup}
