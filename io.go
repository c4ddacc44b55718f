package iocp

import "net"

// Reader submits reads at the object's implicit cursor.
type Reader interface {
	Read(buf []byte) (*Context, error)
}

// Writer submits writes at the object's implicit cursor.
type Writer interface {
	Write(buf []byte) (*Context, error)
}

// ReaderAt submits reads at an explicit byte offset.
type ReaderAt interface {
	ReadAt(buf []byte, off int64) (*Context, error)
}

// WriterAt submits writes at an explicit byte offset.
type WriterAt interface {
	WriteAt(buf []byte, off int64) (*Context, error)
}

// ReadWriter groups Read and Write with the handle they are issued on.
type ReadWriter interface {
	HandleProvider
	Reader
	Writer
}

// PacketConn submits datagram receives and sends on an unconnected socket.
// The source of a received datagram is available from Context.Peer once the
// Context is completed.
type PacketConn interface {
	HandleProvider
	RecvFrom(buf []byte) (*Context, error)
	SendTo(buf []byte, addr *net.UDPAddr) (*Context, error)
}
