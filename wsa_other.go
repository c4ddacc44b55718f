//go:build !windows

package iocp

func wsaStartup() error { return ErrUnsupported }

func wsaCleanup() error { return nil }
