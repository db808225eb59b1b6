//go:build linux

package netpoll

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const initEventListSize = 16

// epollPoller is the default Poller backend: one epoll instance per
// EventLoop, registered fds keyed by their Descriptor.
type epollPoller struct {
	epollFd  int
	events   []unix.EpollEvent
	channels map[int]Descriptor
}

func newDefaultPoller() (Poller, error) {
	return newEpollPoller()
}

func newEpollPoller() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, os.NewSyscallError("epoll_create1", err)
	}
	return &epollPoller{
		epollFd:  fd,
		events:   make([]unix.EpollEvent, initEventListSize),
		channels: make(map[int]Descriptor),
	}, nil
}

func (p *epollPoller) Poll(timeout time.Duration, active *[]Descriptor) (time.Time, error) {
	msec := int(timeout / time.Millisecond)
	n, err := unix.EpollWait(p.epollFd, p.events, msec)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			// EINTR is not an error: report "no events this cycle".
			return now, nil
		}
		return now, os.NewSyscallError("epoll_wait", err)
	}
	for i := 0; i < n; i++ {
		desc, ok := p.channels[int(p.events[i].Fd)]
		if !ok {
			continue
		}
		desc.SetReceived(fromEpollEvents(p.events[i].Events))
		*active = append(*active, desc)
	}
	if n == len(p.events) {
		// The event array was fully consumed; double it for next time.
		p.events = make([]unix.EpollEvent, len(p.events)*2)
	}
	return now, nil
}

func (p *epollPoller) UpdateChannel(desc Descriptor) error {
	switch desc.Index() {
	case IndexNew, IndexDeleted:
		if desc.Index() == IndexNew {
			p.channels[desc.Fd()] = desc
		}
		desc.SetIndex(IndexAdded)
		return p.ctl(unix.EPOLL_CTL_ADD, desc)
	default:
		if desc.Interest() == 0 {
			if err := p.ctl(unix.EPOLL_CTL_DEL, desc); err != nil {
				return err
			}
			desc.SetIndex(IndexDeleted)
			return nil
		}
		return p.ctl(unix.EPOLL_CTL_MOD, desc)
	}
}

func (p *epollPoller) RemoveChannel(desc Descriptor) error {
	delete(p.channels, desc.Fd())
	var err error
	if desc.Index() == IndexAdded {
		err = p.ctl(unix.EPOLL_CTL_DEL, desc)
	}
	desc.SetIndex(IndexNew)
	return err
}

func (p *epollPoller) HasChannel(desc Descriptor) bool {
	got, ok := p.channels[desc.Fd()]
	return ok && got == desc
}

func (p *epollPoller) Close() error {
	return os.NewSyscallError("close", unix.Close(p.epollFd))
}

func (p *epollPoller) ctl(op int, desc Descriptor) error {
	ev := unix.EpollEvent{
		Events: toEpollEvents(desc.Interest()),
		Fd:     int32(desc.Fd()),
	}
	if err := unix.EpollCtl(p.epollFd, op, desc.Fd(), &ev); err != nil {
		return errors.Wrapf(err, "epoll_ctl(op=%d, fd=%d)", op, desc.Fd())
	}
	return nil
}

func toEpollEvents(mask EventMask) uint32 {
	var e uint32
	if mask&Readable != 0 {
		e |= unix.EPOLLIN
	}
	if mask&Urgent != 0 {
		e |= unix.EPOLLPRI
	}
	if mask&Writable != 0 {
		e |= unix.EPOLLOUT
	}
	return e
}

func fromEpollEvents(e uint32) EventMask {
	var mask EventMask
	if e&unix.EPOLLIN != 0 {
		mask |= Readable
	}
	if e&unix.EPOLLPRI != 0 {
		mask |= Urgent
	}
	if e&unix.EPOLLOUT != 0 {
		mask |= Writable
	}
	if e&unix.EPOLLERR != 0 {
		mask |= ErrorEvent
	}
	if e&unix.EPOLLHUP != 0 {
		mask |= Hup
	}
	return mask
}
