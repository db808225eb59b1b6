package reactor

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventLoopRunInLoopFromOtherGoroutineIsQueued(t *testing.T) {
	loop := newTestLoop(t)

	done := make(chan struct{})
	var onLoop bool
	var mu sync.Mutex
	loop.RunInLoop(func() {
		mu.Lock()
		onLoop = loop.IsInLoopGoroutine()
		mu.Unlock()
		close(done)
	})

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task posted via RunInLoop never ran")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, onLoop)
}

func TestEventLoopQueueInLoopPreservesFIFOOrder(t *testing.T) {
	loop := newTestLoop(t)

	var mu sync.Mutex
	var seq []int
	n := 50
	doneCh := make(chan struct{})

	for i := 0; i < n; i++ {
		i := i
		loop.QueueInLoop(func() {
			mu.Lock()
			seq = append(seq, i)
			done := len(seq) == n
			mu.Unlock()
			if done {
				close(doneCh)
			}
		})
	}

	select {
	case <-doneCh:
	case <-time.After(2 * time.Second):
		t.Fatal("queued tasks never completed")
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seq, n)
	for i, v := range seq {
		assert.Equal(t, i, v)
	}
}

func TestEventLoopQuitStopsLoop(t *testing.T) {
	th := NewEventLoopThread("quit-test", false, nil)
	loop := th.StartLoop()

	time.Sleep(10 * time.Millisecond)

	done := make(chan struct{})
	go func() {
		th.Stop()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("thread did not stop after Quit")
	}
	_ = loop
}
