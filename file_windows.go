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

//go:build windows

package iocp

import (
	"errors"
	"io"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/windows"
)

// File is a file opened for overlapped I/O.
//
// Overlapped handles have no kernel file pointer, so Read and Write reserve
// their range from a cursor kept by File at submission time; ReadAt and
// WriteAt never touch it.
type File struct {
	handle    windows.Handle
	name      string
	append    bool
	pos       atomic.Int64
	closeOnce sync.Once
	closed    atomic.Bool
}

// OpenFile opens the named file with os.OpenFile style flags and
// FILE_FLAG_OVERLAPPED set.
func OpenFile(name string, flag int, perm os.FileMode) (*File, error) {
	namep, err := windows.UTF16PtrFromString(name)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}

	var access uint32
	switch flag & (os.O_RDONLY | os.O_WRONLY | os.O_RDWR) {
	case os.O_RDONLY:
		access = windows.GENERIC_READ
	case os.O_WRONLY:
		access = windows.GENERIC_WRITE
	case os.O_RDWR:
		access = windows.GENERIC_READ | windows.GENERIC_WRITE
	}

	var createmode uint32
	switch {
	case flag&(os.O_CREATE|os.O_EXCL) == (os.O_CREATE | os.O_EXCL):
		createmode = windows.CREATE_NEW
	case flag&(os.O_CREATE|os.O_TRUNC) == (os.O_CREATE | os.O_TRUNC):
		createmode = windows.CREATE_ALWAYS
	case flag&os.O_CREATE == os.O_CREATE:
		createmode = windows.OPEN_ALWAYS
	case flag&os.O_TRUNC == os.O_TRUNC:
		createmode = windows.TRUNCATE_EXISTING
	default:
		createmode = windows.OPEN_EXISTING
	}

	attrs := uint32(windows.FILE_ATTRIBUTE_NORMAL | windows.FILE_FLAG_OVERLAPPED)
	if flag&os.O_CREATE != 0 && perm&0200 == 0 {
		attrs |= windows.FILE_ATTRIBUTE_READONLY
	}
	share := uint32(windows.FILE_SHARE_READ | windows.FILE_SHARE_WRITE | windows.FILE_SHARE_DELETE)

	h, err := windows.CreateFile(namep, access, share, nil, createmode, attrs, 0)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}
	return &File{handle: h, name: name, append: flag&os.O_APPEND != 0}, nil
}

// Open opens the named file for reading.
func Open(name string) (*File, error) {
	return OpenFile(name, os.O_RDONLY, 0)
}

// Create creates or truncates the named file for reading and writing.
func Create(name string) (*File, error) {
	return OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

// Name returns the name the file was opened with.
func (f *File) Name() string { return f.name }

// Handle returns the native file handle.
func (f *File) Handle() Handle { return Handle(f.handle) }

func (f *File) check(op string) error {
	if f == nil {
		return ErrUnsupported
	}
	if f.closed.Load() {
		return &os.PathError{Op: op, Path: f.name, Err: ErrClosed}
	}
	return nil
}

// reserve advances the cursor past n bytes and returns where they start.
func (f *File) reserve(n int) uint64 {
	return uint64(f.pos.Add(int64(n)) - int64(n))
}

// Read submits a read of len(buf) bytes at the cursor.
func (f *File) Read(buf []byte) (*Context, error) {
	if err := f.check("read"); err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, ErrEmptyBuffer
	}
	return submitRead(Handle(f.handle), OpRead, buf, f.reserve(len(buf)))
}

// Write submits a write of buf at the cursor, or at the end of file when
// opened with os.O_APPEND.
func (f *File) Write(buf []byte) (*Context, error) {
	if err := f.check("write"); err != nil {
		return nil, err
	}
	if len(buf) == 0 {
		return nil, ErrEmptyBuffer
	}
	if f.append {
		return submitWrite(Handle(f.handle), OpWrite, buf, appendOffset)
	}
	return submitWrite(Handle(f.handle), OpWrite, buf, f.reserve(len(buf)))
}

// ReadAt submits a read of len(buf) bytes at off.
func (f *File) ReadAt(buf []byte, off int64) (*Context, error) {
	if err := f.check("readat"); err != nil {
		return nil, err
	}
	if off < 0 {
		return nil, &os.PathError{Op: "readat", Path: f.name, Err: errors.New("negative offset")}
	}
	return submitRead(Handle(f.handle), OpReadAt, buf, uint64(off))
}

// WriteAt submits a write of buf at off.
func (f *File) WriteAt(buf []byte, off int64) (*Context, error) {
	if err := f.check("writeat"); err != nil {
		return nil, err
	}
	if off < 0 {
		return nil, &os.PathError{Op: "writeat", Path: f.name, Err: errors.New("negative offset")}
	}
	return submitWrite(Handle(f.handle), OpWriteAt, buf, uint64(off))
}

// Seek sets the cursor used by Read and Write.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.check("seek"); err != nil {
		return 0, err
	}
	var base int64
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		base = f.pos.Load()
	case io.SeekEnd:
		size, err := f.Size()
		if err != nil {
			return 0, err
		}
		base = size
	default:
		return 0, &os.PathError{Op: "seek", Path: f.name, Err: errors.New("invalid whence")}
	}
	if base+offset < 0 {
		return 0, &os.PathError{Op: "seek", Path: f.name, Err: errors.New("negative position")}
	}
	f.pos.Store(base + offset)
	return base + offset, nil
}

// Size returns the current file size.
func (f *File) Size() (int64, error) {
	if err := f.check("stat"); err != nil {
		return 0, err
	}
	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(f.handle, &info); err != nil {
		return 0, &os.PathError{Op: "stat", Path: f.name, Err: err}
	}
	return int64(info.FileSizeHigh)<<32 | int64(info.FileSizeLow), nil
}

// Truncate changes the size of the file.
func (f *File) Truncate(size int64) error {
	if err := f.check("truncate"); err != nil {
		return err
	}
	if size < 0 {
		return &os.PathError{Op: "truncate", Path: f.name, Err: errors.New("negative size")}
	}
	if _, err := windows.Seek(f.handle, size, io.SeekStart); err != nil {
		return &os.PathError{Op: "truncate", Path: f.name, Err: err}
	}
	if err := windows.SetEndOfFile(f.handle); err != nil {
		return &os.PathError{Op: "truncate", Path: f.name, Err: err}
	}
	return nil
}

// Sync flushes the file's buffers to disk.
func (f *File) Sync() error {
	if err := f.check("sync"); err != nil {
		return err
	}
	if err := windows.FlushFileBuffers(f.handle); err != nil {
		return &os.PathError{Op: "sync", Path: f.name, Err: err}
	}
	return nil
}

// Close cancels the file's outstanding operations and closes the handle.
// Their completions, if any, are still queued on the port.
func (f *File) Close() error {
	if f == nil {
		return ErrUnsupported
	}
	err := &os.PathError{Op: "close", Path: f.name, Err: ErrClosed}
	f.closeOnce.Do(func() {
		f.closed.Store(true)
		// ERROR_NOT_FOUND when nothing is outstanding
		_ = windows.CancelIoEx(f.handle, nil)
		if cerr := windows.CloseHandle(f.handle); cerr != nil {
			err = &os.PathError{Op: "close", Path: f.name, Err: cerr}
			return
		}
		err = nil
	})
	if err == nil {
		return nil
	}
	return err
}
