//go:build !windows

package iocp

import "runtime"

// setAffinity only locks the calling goroutine to its OS thread; pinning is
// done with SetThreadAffinityMask where completion ports exist.
func setAffinity(cpuId int) error {
	runtime.LockOSThread()
	return nil
}
