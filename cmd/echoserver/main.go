// Command echoserver is a minimal demonstration of the reactor package:
// it echoes whatever bytes it receives back to the sender.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gotcp/reactor"
)

func main() {
	addr := flag.String("addr", ":9000", "listen address")
	loops := flag.Int("loops", 4, "number of I/O sub-loops")
	flag.Parse()

	mainLoop := reactor.NewEventLoop("main")

	srv, err := reactor.NewTcpServer(mainLoop, *addr, "echo",
		reactor.WithNumLoops(*loops),
		reactor.WithLoadBalancer(reactor.RoundRobin),
		reactor.WithTCPNoDelay(true),
		reactor.WithTicker(30*time.Second),
	)
	if err != nil {
		panic(err)
	}

	srv.SetConnectionCallback(func(conn *reactor.TcpConnection) {
		if conn.Connected() {
			println("connection up:", conn.Name())
		} else {
			println("connection down:", conn.Name())
		}
	})
	srv.SetMessageCallback(func(conn *reactor.TcpConnection, buf *reactor.Buffer, _ reactor.Timestamp) {
		data := buf.RetrieveAllAsString()
		if err := conn.Send([]byte(data)); err != nil {
			println("send failed:", err.Error())
		}
	})

	go mainLoop.Loop()

	if err := srv.Start(); err != nil {
		panic(err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		println("shutdown error:", err.Error())
	}
	mainLoop.Quit()
}
