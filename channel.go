package reactor

import (
	"weak"

	"github.com/gotcp/reactor/internal/netpoll"
)

// Channel binds one file descriptor to its interest mask, its
// last-observed readiness, and its four per-event callbacks. A Channel
// never owns its fd: some other object (a Socket, a wakeup fd) owns the
// descriptor's lifetime. Only the owning EventLoop's goroutine may read or
// mutate a Channel's mask or invoke its callbacks.
type Channel struct {
	loop *EventLoop
	fd   int

	interest netpoll.EventMask
	received netpoll.EventMask
	index    netpoll.Index

	tied  bool
	owner weak.Pointer[TcpConnection]

	readCallback  func(receiveTime Timestamp)
	writeCallback func()
	closeCallback func()
	errorCallback func()
}

// NewChannel constructs a Channel for fd, owned by loop. The Channel
// starts with no interest and index New; it is not registered with the
// Poller until Enable* is called.
func NewChannel(loop *EventLoop, fd int) *Channel {
	return &Channel{loop: loop, fd: fd, index: netpoll.IndexNew}
}

// Fd returns the bound file descriptor.
func (c *Channel) Fd() int { return c.fd }

// Interest implements netpoll.Descriptor.
func (c *Channel) Interest() netpoll.EventMask { return c.interest }

// SetReceived implements netpoll.Descriptor; called only by the Poller
// during Poll.
func (c *Channel) SetReceived(mask netpoll.EventMask) { c.received = mask }

// Index implements netpoll.Descriptor.
func (c *Channel) Index() netpoll.Index { return c.index }

// SetIndex implements netpoll.Descriptor; called only by the Poller.
func (c *Channel) SetIndex(idx netpoll.Index) { c.index = idx }

// SetReadCallback installs the callback fired when the fd becomes
// readable (or has urgent data).
func (c *Channel) SetReadCallback(cb func(receiveTime Timestamp)) { c.readCallback = cb }

// SetWriteCallback installs the callback fired when the fd becomes
// writable.
func (c *Channel) SetWriteCallback(cb func()) { c.writeCallback = cb }

// SetCloseCallback installs the callback fired on HUP-without-readable.
func (c *Channel) SetCloseCallback(cb func()) { c.closeCallback = cb }

// SetErrorCallback installs the callback fired when the kernel reports an
// error condition.
func (c *Channel) SetErrorCallback(cb func()) { c.errorCallback = cb }

// Tie binds the Channel's dispatch to owner's lifetime: once owner
// becomes unreachable, HandleEvent silently stops dispatching instead of
// calling into a dead connection. This is the sole use-after-free guard
// described in the spec's Channel contract, implemented with the standard
// library's weak pointer rather than an approximation.
func (c *Channel) Tie(owner *TcpConnection) {
	c.owner = weak.Make(owner)
	c.tied = true
}

// IsWriting reports whether the Writable bit is currently in the
// interest mask.
func (c *Channel) IsWriting() bool { return c.interest&netpoll.Writable != 0 }

// IsReading reports whether the Readable bit is currently in the
// interest mask.
func (c *Channel) IsReading() bool { return c.interest&netpoll.Readable != 0 }

// EnableReading adds Readable (and Urgent) to the interest mask and
// re-registers with the Poller.
func (c *Channel) EnableReading() {
	c.interest |= netpoll.Readable | netpoll.Urgent
	c.update()
}

// DisableReading removes Readable/Urgent from the interest mask.
func (c *Channel) DisableReading() {
	c.interest &^= netpoll.Readable | netpoll.Urgent
	c.update()
}

// EnableWriting adds Writable to the interest mask.
func (c *Channel) EnableWriting() {
	c.interest |= netpoll.Writable
	c.update()
}

// DisableWriting removes Writable from the interest mask.
func (c *Channel) DisableWriting() {
	c.interest &^= netpoll.Writable
	c.update()
}

// DisableAll clears the interest mask entirely.
func (c *Channel) DisableAll() {
	c.interest = 0
	c.update()
}

// IsNoneEvent reports whether the interest mask is empty.
func (c *Channel) IsNoneEvent() bool { return c.interest == 0 }

func (c *Channel) update() {
	c.loop.UpdateChannel(c)
}

// Remove unregisters the Channel from its loop's Poller. It must be
// called once the Channel's owner is being torn down.
func (c *Channel) Remove() {
	c.loop.RemoveChannel(c)
}

// HandleEvent dispatches the previously-stamped received mask to the
// installed callbacks, in the fixed order the spec mandates: close,
// error, read, write. If tied, it first attempts to upgrade the weak
// owner reference and skips dispatch entirely if the owner is gone.
func (c *Channel) HandleEvent(receiveTime Timestamp) {
	if c.tied {
		if c.owner.Value() == nil {
			return
		}
	}
	c.handleEventWithGuard(receiveTime)
}

func (c *Channel) handleEventWithGuard(receiveTime Timestamp) {
	if c.received&netpoll.Hup != 0 && c.received&netpoll.Readable == 0 {
		if c.closeCallback != nil {
			c.closeCallback()
		}
	}
	if c.received&netpoll.ErrorEvent != 0 {
		if c.errorCallback != nil {
			c.errorCallback()
		}
	}
	if c.received&(netpoll.Readable|netpoll.Urgent) != 0 {
		if c.readCallback != nil {
			c.readCallback(receiveTime)
		}
	}
	if c.received&netpoll.Writable != 0 {
		if c.writeCallback != nil {
			c.writeCallback()
		}
	}
}
