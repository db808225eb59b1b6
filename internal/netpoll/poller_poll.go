//go:build !windows

package netpoll

import (
	"os"
	"time"

	"golang.org/x/sys/unix"
)

// pollPoller is the portable poll(2)-based backend selected when
// MUDUO_USE_POLL is set. It trades epoll's O(1) registration for a
// linear rebuild of the pollfd slice on every interest-mask change, which
// is acceptable for the modest connection counts this backend targets
// (testing and platforms without epoll).
type pollPoller struct {
	fds      []unix.PollFd
	channels map[int]Descriptor
}

func newPollPoller() (Poller, error) {
	return &pollPoller{channels: make(map[int]Descriptor)}, nil
}

func (p *pollPoller) Poll(timeout time.Duration, active *[]Descriptor) (time.Time, error) {
	msec := int(timeout / time.Millisecond)
	n, err := unix.Poll(p.fds, msec)
	now := time.Now()
	if err != nil {
		if err == unix.EINTR {
			return now, nil
		}
		return now, os.NewSyscallError("poll", err)
	}
	if n == 0 {
		return now, nil
	}
	for i := range p.fds {
		if p.fds[i].Revents == 0 {
			continue
		}
		desc, ok := p.channels[int(p.fds[i].Fd)]
		if !ok {
			continue
		}
		desc.SetReceived(fromPollEvents(p.fds[i].Revents))
		*active = append(*active, desc)
	}
	return now, nil
}

func (p *pollPoller) UpdateChannel(desc Descriptor) error {
	switch desc.Index() {
	case IndexNew, IndexDeleted:
		if desc.Index() == IndexNew {
			p.channels[desc.Fd()] = desc
		}
		desc.SetIndex(IndexAdded)
	default:
		if desc.Interest() == 0 {
			desc.SetIndex(IndexDeleted)
		}
	}
	p.rebuild()
	return nil
}

func (p *pollPoller) RemoveChannel(desc Descriptor) error {
	delete(p.channels, desc.Fd())
	desc.SetIndex(IndexNew)
	p.rebuild()
	return nil
}

func (p *pollPoller) HasChannel(desc Descriptor) bool {
	got, ok := p.channels[desc.Fd()]
	return ok && got == desc
}

func (p *pollPoller) Close() error {
	return nil
}

func (p *pollPoller) rebuild() {
	fds := make([]unix.PollFd, 0, len(p.channels))
	for fd, desc := range p.channels {
		if desc.Index() != IndexAdded {
			continue
		}
		fds = append(fds, unix.PollFd{Fd: int32(fd), Events: toPollEvents(desc.Interest())})
	}
	p.fds = fds
}

func toPollEvents(mask EventMask) int16 {
	var e int16
	if mask&Readable != 0 {
		e |= unix.POLLIN
	}
	if mask&Urgent != 0 {
		e |= unix.POLLPRI
	}
	if mask&Writable != 0 {
		e |= unix.POLLOUT
	}
	return e
}

func fromPollEvents(e int16) EventMask {
	var mask EventMask
	if e&unix.POLLIN != 0 {
		mask |= Readable
	}
	if e&unix.POLLPRI != 0 {
		mask |= Urgent
	}
	if e&unix.POLLOUT != 0 {
		mask |= Writable
	}
	if e&unix.POLLERR != 0 {
		mask |= ErrorEvent
	}
	if e&unix.POLLHUP != 0 {
		mask |= Hup
	}
	return mask
}
