package reactor

import (
	"fmt"
	"runtime"
	"sync"
	"time"
	"unsafe"

	"go.uber.org/atomic"
	"golang.org/x/sys/unix"

	"github.com/gotcp/reactor/internal/logging"
	"github.com/gotcp/reactor/internal/netpoll"
	"github.com/gotcp/reactor/internal/thread"
)

// pollTimeout is the fixed interval passed to the Poller on every cycle.
// There is no user-facing timer queue; this is purely how often the loop
// wakes up to notice Quit() when nothing else is pending.
const pollTimeout = 10 * time.Second

// EventLoop runs the poll/dispatch/drain-pending-tasks cycle on exactly
// one goroutine. Construction and the call to Loop need not happen on the
// same goroutine (the common pattern is NewEventLoop followed by
// `go loop.Loop()`): Loop locks its goroutine to its current OS thread for
// the remainder of the loop's life and re-derives the thread id its
// pinning checks compare against from there, so the invariant holds
// regardless of which goroutine constructed the loop or whether that
// goroutine had already migrated OS threads. Every method besides
// RunInLoop/QueueInLoop/Quit/Wakeup is only safe to call from the
// goroutine that is executing Loop.
type EventLoop struct {
	tid     int
	looping atomic.Bool
	quit    atomic.Bool
	calling atomic.Bool

	poller         netpoll.Poller
	activeChannels []netpoll.Descriptor

	wakeupFd      int
	wakeupChannel *Channel

	mu           sync.Mutex
	pendingTasks []func()

	pollReturnTime Timestamp

	ticker   *time.Ticker
	tickStop chan struct{}
	tickFn   func()

	name string
}

// NewEventLoop constructs an EventLoop, provisionally claiming the
// calling goroutine's current OS thread id so the wakeup Channel can be
// registered during construction. Loop reclaims the id it actually runs
// on, so this provisional claim does not need to match the goroutine
// that later calls Loop. It is a fatal error for two EventLoops to end up
// pinned to the same OS thread once Loop is running.
func NewEventLoop(name string) *EventLoop {
	tid := thread.Tid()
	poller, err := netpoll.Open()
	if err != nil {
		logging.Fatalf("reactor: failed to open poller: %v", err)
	}
	wfd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		logging.Fatalf("reactor: eventfd creation failed: %v", err)
	}
	loop := &EventLoop{
		tid:      tid,
		poller:   poller,
		wakeupFd: wfd,
		name:     name,
	}
	if !thread.Claim(tid, uintptr(unsafe.Pointer(loop))) {
		logging.Fatalf("reactor: another EventLoop already owns thread %d", tid)
	}
	loop.wakeupChannel = NewChannel(loop, wfd)
	loop.wakeupChannel.SetReadCallback(loop.handleWakeup)
	loop.wakeupChannel.EnableReading()
	return loop
}

// assertInLoopGoroutine logs a fatal diagnostic if called from a
// goroutine other than the one that owns this loop's thread id.
func (l *EventLoop) assertInLoopGoroutine() {
	if !l.IsInLoopGoroutine() {
		logging.Fatalf("reactor: operation invoked from thread %d, expected loop thread %d", thread.Tid(), l.tid)
	}
}

// IsInLoopGoroutine reports whether the calling goroutine is pinned to
// this loop's thread id.
func (l *EventLoop) IsInLoopGoroutine() bool {
	return thread.Tid() == l.tid
}

// WithTickerFunc installs the housekeeping-ticker callback fired every
// interval on the loop goroutine. Disabled unless interval is positive.
func (l *EventLoop) WithTickerFunc(interval time.Duration, fn func()) {
	if interval <= 0 || fn == nil {
		return
	}
	l.ticker = time.NewTicker(interval)
	l.tickStop = make(chan struct{})
	l.tickFn = fn
	go l.runTicker()
}

// Loop runs the poll/dispatch/drain cycle until Quit is called. It locks
// the calling goroutine to its current OS thread for the loop's entire
// lifetime and adopts that thread id as the one every later
// assertInLoopGoroutine check compares against, releasing whatever id was
// provisionally claimed at construction. This is what lets NewEventLoop
// and Loop run on different goroutines (or the same goroutine after an
// OS-thread migration) without breaking the one-loop-per-thread
// invariant.
func (l *EventLoop) Loop() {
	runtime.LockOSThread()
	if tid := thread.Tid(); tid != l.tid {
		thread.Release(l.tid)
		if !thread.Claim(tid, uintptr(unsafe.Pointer(l))) {
			logging.Fatalf("reactor: another EventLoop already owns thread %d", tid)
		}
		l.tid = tid
	}
	l.looping.Store(true)
	l.quit.Store(false)
	logging.Infof("reactor: EventLoop %s starting on tid %d", l.name, l.tid)

	for !l.quit.Load() {
		l.activeChannels = l.activeChannels[:0]
		returnTime, err := l.poller.Poll(pollTimeout, &l.activeChannels)
		if err != nil {
			logging.Errorf("reactor: poll error: %v", err)
			continue
		}
		l.pollReturnTime = Timestamp{t: returnTime}
		for _, desc := range l.activeChannels {
			ch, ok := desc.(*Channel)
			if !ok {
				continue
			}
			ch.HandleEvent(l.pollReturnTime)
		}
		l.calling.Store(true)
		l.doPendingTasks()
		l.calling.Store(false)
	}

	if l.tickStop != nil {
		close(l.tickStop)
	}
	l.looping.Store(false)
	logging.Infof("reactor: EventLoop %s stopping", l.name)
}

func (l *EventLoop) runTicker() {
	defer l.ticker.Stop()
	for {
		select {
		case <-l.ticker.C:
			l.RunInLoop(l.tickFn)
		case <-l.tickStop:
			return
		}
	}
}

// Quit requests the loop to stop after its current cycle. Safe to call
// from any goroutine.
func (l *EventLoop) Quit() {
	l.quit.Store(true)
	if !l.IsInLoopGoroutine() {
		l.Wakeup()
	}
}

// RunInLoop executes task immediately if called from the loop goroutine,
// otherwise defers it via QueueInLoop.
func (l *EventLoop) RunInLoop(task func()) {
	if l.IsInLoopGoroutine() {
		task()
		return
	}
	l.QueueInLoop(task)
}

// QueueInLoop appends task to the pending queue, waking the loop if the
// caller is not on the loop goroutine, or if the loop is currently inside
// its own drain phase (so a task queued by another task runs on the very
// next cycle, whose poll returns at once, instead of waiting for the poll
// timeout).
func (l *EventLoop) QueueInLoop(task func()) {
	l.mu.Lock()
	l.pendingTasks = append(l.pendingTasks, task)
	l.mu.Unlock()

	if !l.IsInLoopGoroutine() || l.calling.Load() {
		l.Wakeup()
	}
}

func (l *EventLoop) doPendingTasks() {
	l.mu.Lock()
	tasks := l.pendingTasks
	l.pendingTasks = nil
	l.mu.Unlock()

	for _, t := range tasks {
		t()
	}
}

// Wakeup unblocks a concurrent Poll.Poll call by writing to the wakeup
// fd. Safe to call from any goroutine.
func (l *EventLoop) Wakeup() {
	one := uint64(1)
	_, err := unix.Write(l.wakeupFd, (*[8]byte)(unsafe.Pointer(&one))[:])
	if err != nil && err != unix.EAGAIN {
		logging.Errorf("reactor: wakeup write failed: %v", err)
	}
}

func (l *EventLoop) handleWakeup(_ Timestamp) {
	var buf [8]byte
	_, err := unix.Read(l.wakeupFd, buf[:])
	if err != nil && err != unix.EAGAIN {
		logging.Errorf("reactor: wakeup read failed: %v", err)
	}
}

// UpdateChannel forwards to the Poller. Must be called on the loop
// goroutine.
func (l *EventLoop) UpdateChannel(ch *Channel) {
	l.assertInLoopGoroutine()
	unregister := ch.Index() == netpoll.IndexAdded && ch.IsNoneEvent()
	if err := l.poller.UpdateChannel(ch); err != nil {
		if unregister {
			logging.LogErr(fmt.Errorf("reactor: unregister fd %d: %w", ch.Fd(), err))
			return
		}
		logging.Fatalf("reactor: epoll_ctl failed for fd %d: %v", ch.Fd(), err)
	}
}

// RemoveChannel forwards to the Poller. Must be called on the loop
// goroutine.
func (l *EventLoop) RemoveChannel(ch *Channel) {
	l.assertInLoopGoroutine()
	if err := l.poller.RemoveChannel(ch); err != nil {
		logging.LogErr(fmt.Errorf("reactor: remove channel fd %d: %w", ch.Fd(), err))
	}
}

// HasChannel forwards to the Poller.
func (l *EventLoop) HasChannel(ch *Channel) bool {
	return l.poller.HasChannel(ch)
}

// Close releases the loop's kernel resources. Must be called after Loop
// has returned.
func (l *EventLoop) Close() error {
	thread.Release(l.tid)
	if err := unix.Close(l.wakeupFd); err != nil {
		logging.LogErr(err)
	}
	return l.poller.Close()
}
