//go:build windows

package iocp

import (
	"bytes"
	"errors"
	"net"
	"sync"
	"testing"
	"time"

	"golang.org/x/sys/windows"
)

// echoServer accepts connections and echoes them through a worker pool,
// reading again only after the previous write completes.
func echoServer(t testing.TB, bufsize int) *TCPListener {
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	p, err := NewCompletionPort(Config{})
	if err != nil {
		t.Fatal(err)
	}
	tracker := NewTracker()
	var mu sync.Mutex
	conns := make(map[uintptr]*TCPConn)

	handler := func(res OperationalResult) {
		ctx, ok := tracker.Resolve(res)
		if !ok {
			// completed before the acceptor tracked it
			p.Repost(res)
			return
		}
		buf, err := ctx.Complete(res)
		mu.Lock()
		conn := conns[res.Token()]
		mu.Unlock()
		if err != nil || len(buf) == 0 {
			conn.Close()
			return
		}
		var next *Context
		switch ctx.Op() {
		case OpRead:
			next, err = conn.Write(buf)
		case OpWrite:
			next, err = conn.Read(ctx.Buffer())
		}
		if err != nil {
			conn.Close()
			return
		}
		tracker.Track(next)
	}
	workers, err := StartWorkers(p, WorkerConfig{Workers: 1}, handler, nil)
	if err != nil {
		t.Fatal(err)
	}

	accepted := make(chan *TCPConn)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				close(accepted)
				return
			}
			accepted <- conn
		}
	}()
	go func() {
		var token uintptr
		for conn := range accepted {
			token++
			mu.Lock()
			conns[token] = conn
			mu.Unlock()
			if err := p.Register(conn, token); err != nil {
				conn.Close()
				continue
			}
			ctx, err := conn.Read(make([]byte, bufsize))
			if err != nil {
				conn.Close()
				continue
			}
			tracker.Track(ctx)
		}
	}()

	t.Cleanup(func() {
		ln.Close()
		workers.Stop()
		p.Close()
	})
	return ln
}

func TestTCPEcho(t *testing.T) {
	ln := echoServer(t, 1)
	conn, err := net.Dial("tcp", ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	tx := []byte("hello world")
	rx := make([]byte, len(tx))
	if _, err := conn.Write(tx); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	n := 0
	for n < len(rx) {
		m, err := conn.Read(rx[n:])
		if err != nil {
			t.Fatal(err)
		}
		n += m
	}
	if !bytes.Equal(tx, rx) {
		t.Fatalf("want %q, got %q", tx, rx)
	}
}

func TestTCPClient(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go func() {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		buf := make([]byte, 4)
		n, _ := c.Read(buf)
		c.Write(buf[:n])
	}()

	p := newTestPort(t)
	conn, err := DialTCP(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	if conn.RemoteAddr().String() != ln.Addr().String() {
		t.Fatalf("remote %v, want %v", conn.RemoteAddr(), ln.Addr())
	}
	if err := p.Register(conn, 3); err != nil {
		t.Fatal(err)
	}

	wctx, err := conn.Write([]byte("ping"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wait(t, p, wctx); err != nil {
		t.Fatal(err)
	}
	rctx, err := conn.Read(make([]byte, 16))
	if err != nil {
		t.Fatal(err)
	}
	got, err := wait(t, p, rctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "ping" {
		t.Fatalf("want %q, got %q", "ping", got)
	}
}

func TestCancelPendingRead(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	hold := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			hold <- c
		}
	}()

	p := newTestPort(t)
	conn, err := DialTCP(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	peer := <-hold
	defer peer.Close()
	if err := p.Register(conn, 1); err != nil {
		t.Fatal(err)
	}

	// the peer never writes, the receive stays pending
	ctx, err := conn.Read(make([]byte, 8))
	if err != nil {
		t.Fatal(err)
	}
	if err := ctx.Cancel(); err != nil {
		t.Fatal(err)
	}
	if err := ctx.Cancel(); err != nil {
		t.Fatal("second cancel:", err)
	}

	_, err = wait(t, p, ctx)
	if !errors.Is(err, windows.ERROR_OPERATION_ABORTED) {
		t.Fatalf("want ERROR_OPERATION_ABORTED, got %v", err)
	}
	if err := ctx.Cancel(); err != nil {
		t.Fatal("cancel after completion:", err)
	}
}

func TestUDPRoundTrip(t *testing.T) {
	p := newTestPort(t)
	server, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer server.Close()
	client, err := DialUDP(server.LocalAddr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer client.Close()
	if err := p.Register(server, 1); err != nil {
		t.Fatal(err)
	}
	if err := p.Register(client, 2); err != nil {
		t.Fatal(err)
	}

	rctx, err := server.RecvFrom(make([]byte, 64))
	if err != nil {
		t.Fatal(err)
	}
	wctx, err := client.Write([]byte("datagram"))
	if err != nil {
		t.Fatal(err)
	}

	pending := map[uintptr]*Context{rctx.Descriptor(): rctx, wctx.Descriptor(): wctx}
	var payload []byte
	for len(pending) > 0 {
		res, err := p.Poll(5 * time.Second)
		if err != nil {
			t.Fatal(err)
		}
		ctx := pending[res.Descriptor()]
		delete(pending, res.Descriptor())
		buf, err := ctx.Complete(res)
		if err != nil {
			t.Fatal(err)
		}
		if ctx == rctx {
			if res.Token() != 1 {
				t.Fatalf("receive completed with token %d", res.Token())
			}
			payload = buf
		}
	}
	if string(payload) != "datagram" {
		t.Fatalf("want %q, got %q", "datagram", payload)
	}

	from, err := rctx.Peer()
	if err != nil {
		t.Fatal(err)
	}
	if from.String() != client.LocalAddr().String() {
		t.Fatalf("peer %v, want %v", from, client.LocalAddr())
	}

	// reply to the observed source
	sctx, err := server.SendTo([]byte("reply"), from)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wait(t, p, sctx); err != nil {
		t.Fatal(err)
	}
	rctx, err = client.Read(make([]byte, 64))
	if err != nil {
		t.Fatal(err)
	}
	got, err := wait(t, p, rctx)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "reply" {
		t.Fatalf("want %q, got %q", "reply", got)
	}
}

func TestSocketRefCounting(t *testing.T) {
	before := winsock.count()
	conn, err := ListenUDP("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	if winsock.count() != before+1 {
		t.Fatalf("open socket: want %d refs, got %d", before+1, winsock.count())
	}
	if err := conn.Close(); err != nil {
		t.Fatal(err)
	}
	if winsock.count() != before {
		t.Fatalf("closed socket: want %d refs, got %d", before, winsock.count())
	}
	if err := conn.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close: want ErrClosed, got %v", err)
	}
	if _, err := conn.RecvFrom(make([]byte, 1)); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
}

func TestRepostKeepsFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	hold := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			hold <- c
		}
	}()

	p := newTestPort(t)
	conn, err := DialTCP(ln.Addr().String())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	peer := <-hold
	defer peer.Close()
	if err := p.Register(conn, 1); err != nil {
		t.Fatal(err)
	}

	before := inflight.len()
	ctx, err := conn.Read(make([]byte, 8))
	if err != nil {
		t.Fatal(err)
	}
	if err := ctx.Cancel(); err != nil {
		t.Fatal(err)
	}
	res, err := p.Poll(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if !errors.Is(res.Err(), windows.ERROR_OPERATION_ABORTED) {
		t.Fatalf("want ERROR_OPERATION_ABORTED, got %v", res.Err())
	}

	// not resolved yet, hand it to the next poller
	if err := p.Repost(res); err != nil {
		t.Fatal(err)
	}
	again, err := p.Poll(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if again.Descriptor() != ctx.Descriptor() || again.Token() != 1 {
		t.Fatal("reposted packet changed identity")
	}
	if !errors.Is(again.Err(), windows.ERROR_OPERATION_ABORTED) {
		t.Fatalf("reposted failure: want ERROR_OPERATION_ABORTED, got %v", again.Err())
	}

	// same through the batched path
	if err := p.Repost(again); err != nil {
		t.Fatal(err)
	}
	batch, err := p.PollBatch(4, 5*time.Second)
	if err != nil || len(batch) != 1 {
		t.Fatalf("want one result, got %d %v", len(batch), err)
	}
	if !errors.Is(batch[0].Err(), windows.ERROR_OPERATION_ABORTED) {
		t.Fatalf("batched failure: want ERROR_OPERATION_ABORTED, got %v", batch[0].Err())
	}

	// drained and discarded without Complete
	if inflight.len() != before {
		t.Fatalf("want %d in flight, got %d", before, inflight.len())
	}
	if ctx.pinned.Load() {
		t.Fatal("discarded context still pinned")
	}
}

func TestDialTCPTimeout(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	conn, err := DialTCPTimeout(ln.Addr().String(), 5*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	peer := <-accepted
	defer peer.Close()

	// the socket is back in blocking mode and usable with the port
	p := newTestPort(t)
	if err := p.Register(conn, 1); err != nil {
		t.Fatal(err)
	}
	ctx, err := conn.Write([]byte("hi"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := wait(t, p, ctx); err != nil {
		t.Fatal(err)
	}
	conn.Close()

	if _, err := DialTCPTimeout(ln.Addr().String(), 0); err == nil {
		t.Fatal("zero timeout accepted")
	}

	// nothing listens there any more
	addr := ln.Addr().String()
	ln.Close()
	before := winsock.count()
	if _, err := DialTCPTimeout(addr, 10*time.Second); err == nil {
		t.Fatal("dial to a closed port succeeded")
	}
	if winsock.count() != before {
		t.Fatalf("failed dial leaked a socket reference: %d -> %d", before, winsock.count())
	}
}

func TestListenerHasNoIO(t *testing.T) {
	ln, err := ListenTCP("127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	var l any = ln
	if _, ok := l.(Reader); ok {
		t.Fatal("a listener must not submit receives")
	}
	if err := ln.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := ln.Accept(); !errors.Is(err, ErrClosed) {
		t.Fatalf("want ErrClosed, got %v", err)
	}
	if err := ln.Close(); !errors.Is(err, ErrClosed) {
		t.Fatalf("second Close: want ErrClosed, got %v", err)
	}
}
