package reactor

import (
	"github.com/valyala/bytebufferpool"
	"golang.org/x/sys/unix"
)

const (
	bufferCheapPrepend = 8
	bufferInitialSize  = 1024
	extraReadScratch   = 64 * 1024
)

// Buffer is a growable byte queue split into [prependable | readable |
// writable] regions via two cursors. It is not goroutine-safe; every
// Buffer belongs to exactly one TcpConnection and is touched only on
// that connection's loop.
type Buffer struct {
	data   []byte
	reader int
	writer int
}

// NewBuffer constructs an empty Buffer with the standard headroom and
// initial writable capacity.
func NewBuffer() *Buffer {
	b := &Buffer{
		data: make([]byte, bufferCheapPrepend+bufferInitialSize),
	}
	b.reader = bufferCheapPrepend
	b.writer = bufferCheapPrepend
	return b
}

// ReadableBytes returns the number of unread bytes.
func (b *Buffer) ReadableBytes() int { return b.writer - b.reader }

// WritableBytes returns the number of bytes that can be appended without
// growing the backing storage.
func (b *Buffer) WritableBytes() int { return len(b.data) - b.writer }

// PrependableBytes returns the current size of the headroom region.
func (b *Buffer) PrependableBytes() int { return b.reader }

// Peek returns the currently readable bytes without consuming them. The
// returned slice aliases the buffer's storage and is invalidated by any
// subsequent mutating call.
func (b *Buffer) Peek() []byte { return b.data[b.reader:b.writer] }

// Retrieve advances the reader cursor by n, collapsing both cursors back
// to the prependable base once fully drained.
func (b *Buffer) Retrieve(n int) {
	if n <= 0 {
		return
	}
	if n >= b.ReadableBytes() {
		b.RetrieveAll()
		return
	}
	b.reader += n
}

// RetrieveAll discards every readable byte.
func (b *Buffer) RetrieveAll() {
	b.reader = bufferCheapPrepend
	b.writer = bufferCheapPrepend
}

// RetrieveAllAsString retrieves every readable byte and returns it as a
// new string.
func (b *Buffer) RetrieveAllAsString() string {
	s := string(b.Peek())
	b.RetrieveAll()
	return s
}

// RetrieveAsString retrieves n bytes and returns them as a new string.
func (b *Buffer) RetrieveAsString(n int) string {
	s := string(b.data[b.reader : b.reader+n])
	b.Retrieve(n)
	return s
}

// Append appends bytes to the writable region, growing or compacting the
// backing storage as needed.
func (b *Buffer) Append(bytes []byte) {
	b.ensureWritable(len(bytes))
	copy(b.data[b.writer:], bytes)
	b.writer += len(bytes)
}

func (b *Buffer) ensureWritable(n int) {
	if b.WritableBytes() >= n {
		return
	}
	if b.PrependableBytes()+b.WritableBytes() >= bufferCheapPrepend+n {
		readable := b.ReadableBytes()
		copy(b.data[bufferCheapPrepend:], b.data[b.reader:b.writer])
		b.reader = bufferCheapPrepend
		b.writer = b.reader + readable
		return
	}
	grown := make([]byte, b.writer+n)
	copy(grown, b.data[:b.writer])
	b.data = grown
}

// ReadFd performs a single readv(2) into the buffer's writable region
// plus a pooled 64 KiB scratch extension, so one syscall can absorb more
// than the buffer's current capacity. It returns the number of bytes
// read and any error exactly as readv(2) reported it: (0, nil) means EOF,
// (0, unix.EAGAIN) or (0, unix.EWOULDBLOCK) means nothing was ready this
// call, and any other non-nil error is a hard fault. Callers must check
// for EAGAIN/EWOULDBLOCK before treating n==0 as a close, since a spurious
// wake (e.g. an urgent-data event with no normal-stream bytes yet) can
// otherwise look identical to EOF.
func (b *Buffer) ReadFd(fd int) (int, error) {
	writable := b.WritableBytes()
	scratch := bytebufferpool.Get()
	defer bytebufferpool.Put(scratch)
	if cap(scratch.B) < extraReadScratch {
		scratch.B = make([]byte, extraReadScratch)
	} else {
		scratch.B = scratch.B[:extraReadScratch]
	}

	iov := [][]byte{b.data[b.writer : b.writer+writable], scratch.B}
	n, err := unix.Readv(fd, iov)
	if err != nil {
		return 0, err
	}
	if n == 0 {
		return 0, nil
	}
	if n <= writable {
		b.writer += n
		return n, nil
	}
	b.writer += writable
	overflow := n - writable
	b.Append(scratch.B[:overflow])
	return n, nil
}

// WriteFd writes every currently readable byte to fd in a single
// write(2), returning the number of bytes actually written so the caller
// can advance the reader cursor by that amount (a partial write is not
// an error).
func (b *Buffer) WriteFd(fd int) (int, error) {
	if b.ReadableBytes() == 0 {
		return 0, nil
	}
	n, err := unix.Write(fd, b.Peek())
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return 0, nil
		}
		return 0, err
	}
	return n, nil
}
