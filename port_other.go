//go:build !windows

package iocp

import "fmt"

func createPort(uint32) (Handle, error) { return 0, ErrUnsupported }

func closePort(Handle) error { return ErrUnsupported }

func (p *CompletionPort) associate(Handle, uintptr) error { return ErrUnsupported }

func (p *CompletionPort) poll(uint32) (OperationalResult, error) {
	return OperationalResult{}, ErrUnsupported
}

func (p *CompletionPort) pollMany([]OperationalResult, uint32) (int, error) {
	return 0, ErrUnsupported
}

func (p *CompletionPort) post(uintptr, uint32, *overlapped) error { return ErrUnsupported }

// statusCode is a raw completion status on platforms without NTSTATUS mapping.
type statusCode uint32

func (s statusCode) Error() string { return fmt.Sprintf("iocp: completion status 0x%08x", uint32(s)) }

func statusError(status uintptr) error {
	if status == 0 {
		return nil
	}
	return statusCode(status)
}
