//go:build windows

package iocp

import (
	"os"

	"golang.org/x/sys/windows"
)

// Winsock 2.2
const wsaVersion = 0x0202

func wsaStartup() error {
	var data windows.WSAData
	if err := windows.WSAStartup(wsaVersion, &data); err != nil {
		return os.NewSyscallError("WSAStartup", err)
	}
	return nil
}

func wsaCleanup() error {
	if err := windows.WSACleanup(); err != nil {
		return os.NewSyscallError("WSACleanup", err)
	}
	return nil
}
