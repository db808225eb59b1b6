package socket

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestListenAcceptRoundTrip(t *testing.T) {
	addr, err := net.ResolveTCPAddr("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	lfd, err := ListenTCP(addr, false)
	require.NoError(t, err)
	defer unix.Close(lfd)

	localAddr, err := LocalAddr(lfd)
	require.NoError(t, err)
	tcpAddr := localAddr.(*net.TCPAddr)
	require.NotZero(t, tcpAddr.Port)

	require.NoError(t, Listen(lfd, 16))

	client, err := net.Dial("tcp", tcpAddr.String())
	require.NoError(t, err)
	defer client.Close()

	connFd, peerAddr, err := acceptRetryingEAGAIN(t, lfd)
	require.NoError(t, err)
	defer unix.Close(connFd)
	require.NotNil(t, peerAddr)

	require.NoError(t, SetNoDelay(connFd, true))
	require.NoError(t, SetKeepAlive(connFd, true, 0))
	require.NoError(t, ShutdownWrite(connFd))
}

// acceptRetryingEAGAIN spins briefly since the listening socket is
// non-blocking and the incoming connection may not be queued yet.
func acceptRetryingEAGAIN(t *testing.T, lfd int) (int, net.Addr, error) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		fd, addr, err := Accept(lfd)
		if err == nil {
			return fd, addr, nil
		}
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			continue
		}
		return -1, nil, err
	}
	t.Fatal("accept never succeeded")
	return -1, nil, nil
}
