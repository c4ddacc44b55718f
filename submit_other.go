//go:build !windows

package iocp

// Cancel is unsupported without completion ports.
func (c *Context) Cancel() error {
	if !c.inKernel() || c.op == OpNotify {
		return nil
	}
	return ErrUnsupported
}
