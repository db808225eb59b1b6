//go:build !linux

package netpoll

// newDefaultPoller falls back to the portable poll(2) backend on
// platforms without epoll. The core's primary target is Linux; this
// keeps the package buildable elsewhere for development and testing.
func newDefaultPoller() (Poller, error) {
	return newPollPoller()
}
