//go:build windows

package iocp

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func tempFile(t *testing.T, p *CompletionPort, token uintptr) *File {
	f, err := Create(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { f.Close() })
	if err := p.Register(f, token); err != nil {
		t.Fatal(err)
	}
	return f
}

// wait polls one completion and checks it belongs to ctx.
func wait(t *testing.T, p *CompletionPort, ctx *Context) ([]byte, error) {
	t.Helper()
	res, err := p.Poll(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Descriptor() != ctx.Descriptor() {
		t.Fatal("completion of another operation")
	}
	return ctx.Complete(res)
}

func TestFileWriteThenRead(t *testing.T) {
	p := newTestPort(t)
	f := tempFile(t, p, 42)

	wctx, err := f.WriteAt([]byte("123"), 0)
	if err != nil {
		t.Fatal(err)
	}
	res, err := p.Poll(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if res.Token() != 42 || res.BytesUsed() != 3 || res.Offset() != 0 {
		t.Fatalf("unexpected write completion %+v", res)
	}
	if _, err := wctx.Complete(res); err != nil {
		t.Fatal(err)
	}

	rctx, err := f.ReadAt(make([]byte, 3), 0)
	if err != nil {
		t.Fatal(err)
	}
	got, err := wait(t, p, rctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "123" {
		t.Fatalf("want %q, got %q", "123", got)
	}

	// exactly one completion per submission
	if _, err := p.Poll(10 * time.Millisecond); err != ErrTimeout {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
}

func TestFileCursor(t *testing.T) {
	p := newTestPort(t)
	f := tempFile(t, p, 1)

	for _, s := range []string{"ab", "cd"} {
		ctx, err := f.Write([]byte(s))
		if err != nil {
			t.Fatal(err)
		}
		if _, err := wait(t, p, ctx); err != nil {
			t.Fatal(err)
		}
	}
	if off, err := f.Seek(0, 0); err != nil || off != 0 {
		t.Fatal(off, err)
	}
	ctx, err := f.Read(make([]byte, 8))
	if err != nil {
		t.Fatal(err)
	}
	got, err := wait(t, p, ctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "abcd" {
		t.Fatalf("want %q, got %q", "abcd", got)
	}

	size, err := f.Size()
	if err != nil || size != 4 {
		t.Fatalf("want size 4, got %d %v", size, err)
	}
	if err := f.Truncate(1); err != nil {
		t.Fatal(err)
	}
	if size, _ := f.Size(); size != 1 {
		t.Fatalf("want size 1 after truncate, got %d", size)
	}
	if err := f.Sync(); err != nil {
		t.Fatal(err)
	}
}

func TestFileAppend(t *testing.T) {
	p := newTestPort(t)
	name := filepath.Join(t.TempDir(), "log")
	if err := os.WriteFile(name, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := OpenFile(name, os.O_WRONLY|os.O_APPEND, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := p.Register(f, 0); err != nil {
		t.Fatal(err)
	}

	ctx, err := f.Write([]byte("yz"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wait(t, p, ctx); err != nil {
		t.Fatal(err)
	}
	f.Close()

	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "xyz" {
		t.Fatalf("want %q, got %q", "xyz", data)
	}
}

func TestDoubleRegistration(t *testing.T) {
	p := newTestPort(t)
	f := tempFile(t, p, 1)

	if err := p.Register(f, 2); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("same port: want ErrAlreadyRegistered, got %v", err)
	}
	q := newTestPort(t)
	if err := q.Register(f, 1); !errors.Is(err, ErrAlreadyRegistered) {
		t.Fatalf("other port: want ErrAlreadyRegistered, got %v", err)
	}
}

func TestFileInvalidSubmissions(t *testing.T) {
	p := newTestPort(t)
	f := tempFile(t, p, 1)

	if _, err := f.ReadAt(nil, 0); err != ErrEmptyBuffer {
		t.Fatalf("want ErrEmptyBuffer, got %v", err)
	}
	if _, err := f.WriteAt([]byte("a"), -1); err == nil {
		t.Fatal("negative offset accepted")
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := f.Write([]byte("a")); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if err := f.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close: want ErrClosed, got %v", err)
	}
}

func TestOpenMissingFile(t *testing.T) {
	_, err := Open(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("want ErrNotExist, got %v", err)
	}
	var pe *os.PathError
	if !errors.As(err, &pe) {
		t.Fatal("want *os.PathError")
	}
}

func TestPostRejectsIOContext(t *testing.T) {
	p := newTestPort(t)
	f := tempFile(t, p, 1)

	ctx, err := f.WriteAt([]byte("abc"), 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := p.Post(1, 3, ctx); err != ErrUnsupported {
		t.Fatalf("want ErrUnsupported, got %v", err)
	}
	got, err := wait(t, p, ctx)
	if err != nil || len(got) != 3 {
		t.Fatalf("the write must complete on its own: %q %v", got, err)
	}
	if _, err := p.Poll(10 * time.Millisecond); err != ErrTimeout {
		t.Fatalf("want ErrTimeout, got %v", err)
	}
}
