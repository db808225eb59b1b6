package reactor

import (
	"os"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gotcp/reactor/internal/netpoll"
)

// newTestLoop spawns a loop on its own goroutine via EventLoopThread, the
// same path production code uses, so the loop's cached thread id matches
// the goroutine that actually calls Loop().
func newTestLoop(t *testing.T) *EventLoop {
	t.Helper()
	th := NewEventLoopThread("test", false, nil)
	loop := th.StartLoop()
	t.Cleanup(th.Stop)
	return loop
}

// runOnLoop posts fn to loop and blocks until it has run.
func runOnLoop(t *testing.T, loop *EventLoop, fn func()) {
	t.Helper()
	done := make(chan struct{})
	loop.RunInLoop(func() {
		fn()
		close(done)
	})
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task posted to loop never ran")
	}
}

func newTestPipeFd(t *testing.T) int {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)
	t.Cleanup(func() { r.Close(); w.Close() })
	return int(r.Fd())
}

func TestChannelInterestToggles(t *testing.T) {
	loop := newTestLoop(t)
	ch := NewChannel(loop, newTestPipeFd(t))
	assert.True(t, ch.IsNoneEvent())

	runOnLoop(t, loop, ch.EnableReading)
	assert.True(t, ch.IsReading())
	assert.False(t, ch.IsWriting())

	runOnLoop(t, loop, ch.EnableWriting)
	assert.True(t, ch.IsWriting())

	runOnLoop(t, loop, ch.DisableWriting)
	assert.False(t, ch.IsWriting())

	runOnLoop(t, loop, ch.DisableAll)
	assert.True(t, ch.IsNoneEvent())
}

func TestChannelHandleEventOrdering(t *testing.T) {
	loop := newTestLoop(t)
	ch := NewChannel(loop, newTestPipeFd(t))

	var order []string
	ch.SetCloseCallback(func() { order = append(order, "close") })
	ch.SetErrorCallback(func() { order = append(order, "error") })
	ch.SetReadCallback(func(Timestamp) { order = append(order, "read") })
	ch.SetWriteCallback(func() { order = append(order, "write") })

	ch.SetReceived(netpoll.ErrorEvent | netpoll.Readable | netpoll.Writable)
	ch.HandleEvent(Now())

	require.Equal(t, []string{"error", "read", "write"}, order)
}

func TestChannelHupWithoutReadableFiresClose(t *testing.T) {
	loop := newTestLoop(t)
	ch := NewChannel(loop, newTestPipeFd(t))

	closed := false
	ch.SetCloseCallback(func() { closed = true })
	ch.SetReceived(netpoll.Hup)
	ch.HandleEvent(Now())

	assert.True(t, closed)
}

func TestChannelTieSkipsDispatchOnceOwnerGone(t *testing.T) {
	loop := newTestLoop(t)
	ch := NewChannel(loop, newTestPipeFd(t))

	fired := false
	ch.SetReadCallback(func(Timestamp) { fired = true })

	func() {
		owner := &TcpConnection{}
		ch.Tie(owner)
	}()
	runtime.GC()
	runtime.GC()

	ch.SetReceived(netpoll.Readable)
	ch.HandleEvent(Now())

	assert.False(t, fired, "dispatch must not fire once the tied owner is unreachable")
}
