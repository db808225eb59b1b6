package reactor

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func freeListenAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

func startEchoServer(t *testing.T, numLoops int) (addr string, srv *TcpServer, mainLoop *EventLoop) {
	t.Helper()
	addr = freeListenAddr(t)
	mainLoop = NewEventLoop("main-" + addr)

	srv, err := NewTcpServer(mainLoop, addr, "test-echo", WithNumLoops(numLoops))
	require.NoError(t, err)

	srv.SetMessageCallback(func(conn *TcpConnection, buf *Buffer, _ Timestamp) {
		conn.Send([]byte(buf.RetrieveAllAsString()))
	})

	go mainLoop.Loop()
	require.NoError(t, srv.Start())

	time.Sleep(20 * time.Millisecond)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
		mainLoop.Quit()
	})
	return addr, srv, mainLoop
}

func TestEchoServerRoundTrip(t *testing.T) {
	addr, _, _ := startEchoServer(t, 1)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("hello\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := bufio.NewReader(conn).ReadString('\n')
	require.NoError(t, err)
	require.Equal(t, "hello\n", line)
}

func TestEchoServerHalfClose(t *testing.T) {
	addr, _, _ := startEchoServer(t, 1)

	var connUp, connDown sync.WaitGroup
	connUp.Add(1)
	connDown.Add(1)

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("abc"))
	require.NoError(t, err)

	tcpConn := conn.(*net.TCPConn)
	require.NoError(t, tcpConn.CloseWrite())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, 3)
	_, err = conn.Read(buf)
	require.NoError(t, err)
	require.Equal(t, "abc", string(buf))

	n, err := conn.Read(make([]byte, 1))
	require.Equal(t, 0, n)
	require.Error(t, err) // EOF once the server sees half-close and closes its side too
}

func TestCrossGoroutineSend(t *testing.T) {
	addr := freeListenAddr(t)
	mainLoop := NewEventLoop("xgsend-main-" + addr)

	srv, err := NewTcpServer(mainLoop, addr, "xgsend-test", WithNumLoops(1))
	require.NoError(t, err)

	connCh := make(chan *TcpConnection, 1)
	srv.SetConnectionCallback(func(conn *TcpConnection) {
		if conn.Connected() {
			connCh <- conn
		}
	})

	go mainLoop.Loop()
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
		mainLoop.Quit()
	})

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()

	var serverConn *TcpConnection
	select {
	case serverConn = <-connCh:
	case <-time.After(2 * time.Second):
		t.Fatal("server never reported the accepted connection")
	}

	const perGoroutine = 1000
	const goroutines = 4
	total := perGoroutine * goroutines

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				serverConn.Send([]byte("x"))
			}
		}()
	}
	wg.Wait()

	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	received := 0
	buf := make([]byte, 4096)
	for received < total {
		n, err := conn.Read(buf)
		if err != nil {
			break
		}
		received += n
	}
	require.Equal(t, total, received)
}

func TestRoundRobinAssignment(t *testing.T) {
	addr := freeListenAddr(t)
	mainLoop := NewEventLoop("rr-main-" + addr)

	srv, err := NewTcpServer(mainLoop, addr, "rr-test", WithNumLoops(3), WithLoadBalancer(RoundRobin))
	require.NoError(t, err)

	var mu sync.Mutex
	assigned := make([]*EventLoop, 0, 6)
	connected := make(chan struct{}, 6)
	srv.SetConnectionCallback(func(conn *TcpConnection) {
		if conn.Connected() {
			mu.Lock()
			assigned = append(assigned, conn.Loop())
			mu.Unlock()
			connected <- struct{}{}
		}
	})

	go mainLoop.Loop()
	require.NoError(t, srv.Start())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Stop(ctx)
		mainLoop.Quit()
	})

	conns := make([]net.Conn, 0, 6)
	for i := 0; i < 6; i++ {
		c, err := net.DialTimeout("tcp", addr, time.Second)
		require.NoError(t, err)
		conns = append(conns, c)
	}
	defer func() {
		for _, c := range conns {
			c.Close()
		}
	}()

	for i := 0; i < 6; i++ {
		select {
		case <-connected:
		case <-time.After(2 * time.Second):
			t.Fatalf("connection %d never reported connected", i)
		}
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, assigned, 6)
	for i := 0; i < 6; i++ {
		require.Same(t, assigned[i%3], assigned[i], fmt.Sprintf("index %d", i))
	}
}
