// Package netpoll provides the level-triggered readiness multiplexer the
// reactor core polls on. It deliberately knows nothing about Channel,
// EventLoop or TcpConnection: the core registers anything satisfying the
// Descriptor interface, keeping this package a pure I/O-readiness
// collaborator the way the spec calls for.
package netpoll

import (
	"os"
	"time"
)

// EventMask is the set of readiness bits a poll cycle can report for a
// single descriptor, or that a caller can request interest in.
type EventMask uint32

const (
	// Readable indicates the descriptor has data available to read.
	Readable EventMask = 1 << iota
	// Writable indicates the descriptor can currently accept a write
	// without blocking.
	Writable
	// Urgent indicates out-of-band/priority data is available; treated
	// identically to Readable by Channel.HandleEvent.
	Urgent
	// ErrorEvent indicates the descriptor has an error condition pending.
	ErrorEvent
	// Hup indicates the peer has hung up (possibly along with EOF).
	Hup
)

// index mirrors the original EPollPoller's New/Added/Deleted tri-state,
// carried by contract on every registered Descriptor.
type Index int32

const (
	// IndexNew means the descriptor has never been registered with the
	// kernel.
	IndexNew Index = -1
	// IndexAdded means the descriptor is currently registered.
	IndexAdded Index = 1
	// IndexDeleted means the descriptor was registered and then
	// unregistered, but its bookkeeping entry is kept for reuse.
	IndexDeleted Index = 2
)

// Descriptor is the minimal view the Poller needs of a registered
// object. The core's Channel type implements this; the Poller never sees
// a concrete Channel.
type Descriptor interface {
	Fd() int
	Interest() EventMask
	SetReceived(mask EventMask)
	Index() Index
	SetIndex(idx Index)
}

// Poller is the readiness multiplexer contract. Every method must be
// called only from the owning EventLoop's goroutine.
type Poller interface {
	// Poll blocks up to timeout waiting for readiness, appending every
	// descriptor that became ready to active (after stamping its
	// received mask) and returning the time the kernel reported the
	// event batch.
	Poll(timeout time.Duration, active *[]Descriptor) (time.Time, error)

	// UpdateChannel registers, re-registers, or modifies the kernel
	// interest for desc, driven by its current Index()/Interest().
	UpdateChannel(desc Descriptor) error

	// RemoveChannel unregisters desc from the kernel if still added and
	// drops its bookkeeping entry.
	RemoveChannel(desc Descriptor) error

	// HasChannel reports whether desc is currently tracked.
	HasChannel(desc Descriptor) bool

	// Close releases the poller's own kernel resources (e.g. the epoll
	// instance fd).
	Close() error
}

// envPollBackend is the environment variable name from §6: when set
// (to any non-empty value), Open selects the portable poll(2)-based
// backend instead of the default epoll-family implementation.
const envPollBackend = "MUDUO_USE_POLL"

// Open constructs the default Poller for this platform, honoring
// MUDUO_USE_POLL.
func Open() (Poller, error) {
	if os.Getenv(envPollBackend) != "" {
		return newPollPoller()
	}
	return newDefaultPoller()
}
