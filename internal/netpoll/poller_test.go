package netpoll

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeDescriptor struct {
	fd       int
	interest EventMask
	received EventMask
	index    Index
}

func (d *fakeDescriptor) Fd() int                  { return d.fd }
func (d *fakeDescriptor) Interest() EventMask      { return d.interest }
func (d *fakeDescriptor) SetReceived(m EventMask)  { d.received = m }
func (d *fakeDescriptor) Index() Index             { return d.index }
func (d *fakeDescriptor) SetIndex(i Index)         { d.index = i }

func TestOpenSelectsBackend(t *testing.T) {
	p, err := Open()
	require.NoError(t, err)
	require.NotNil(t, p)
	require.NoError(t, p.Close())
}

func TestPollerReportsReadableAfterWrite(t *testing.T) {
	p, err := Open()
	require.NoError(t, err)
	defer p.Close()

	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()

	desc := &fakeDescriptor{fd: int(r.Fd()), interest: Readable, index: IndexNew}
	require.NoError(t, p.UpdateChannel(desc))
	require.True(t, p.HasChannel(desc))

	_, err = w.Write([]byte("x"))
	require.NoError(t, err)

	var active []Descriptor
	_, err = p.Poll(2*time.Second, &active)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, desc, active[0])
	require.NotZero(t, desc.received&Readable)

	require.NoError(t, p.RemoveChannel(desc))
	require.False(t, p.HasChannel(desc))
}

func TestPollerTimesOutWithNoEvents(t *testing.T) {
	p, err := Open()
	require.NoError(t, err)
	defer p.Close()

	r, _, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	desc := &fakeDescriptor{fd: int(r.Fd()), interest: Readable, index: IndexNew}
	require.NoError(t, p.UpdateChannel(desc))

	var active []Descriptor
	_, err = p.Poll(50*time.Millisecond, &active)
	require.NoError(t, err)
	require.Empty(t, active)
}
