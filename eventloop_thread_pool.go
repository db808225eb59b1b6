package reactor

import (
	"fmt"
	"net"
	"sync"
)

// EventLoopThreadPool owns a fixed set of EventLoopThreads and hands out
// sub-loops to newly accepted connections via a pluggable load-balancing
// policy. A pool with zero configured threads degenerates to routing
// everything back to the base (main) loop.
type EventLoopThreadPool struct {
	baseLoop *EventLoop
	numLoops int
	policy   LoadBalancerPolicy
	lockOS   bool

	mu      sync.Mutex
	threads []*EventLoopThread
	loops   []*EventLoop
	counts  []int

	balancer loadBalancer
	started  bool
}

// NewEventLoopThreadPool constructs a pool anchored on baseLoop.
// SetThreadNum must be called (if at all) before Start.
func NewEventLoopThreadPool(baseLoop *EventLoop, policy LoadBalancerPolicy, lockOS bool) *EventLoopThreadPool {
	return &EventLoopThreadPool{baseLoop: baseLoop, policy: policy, lockOS: lockOS}
}

// SetThreadNum configures the pool size. Must be called before Start.
func (p *EventLoopThreadPool) SetThreadNum(n int) {
	p.numLoops = n
}

// Start creates numLoops EventLoopThreads, running initCb on each
// sub-loop's goroutine before it begins polling.
func (p *EventLoopThreadPool) Start(initCb ThreadInitCallback) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	p.started = true
	p.balancer = newLoadBalancer(p.policy)

	for i := 0; i < p.numLoops; i++ {
		name := fmt.Sprintf("sub-loop-%d", i)
		th := NewEventLoopThread(name, p.lockOS, initCb)
		loop := th.StartLoop()
		p.threads = append(p.threads, th)
		p.loops = append(p.loops, loop)
		p.counts = append(p.counts, 0)
	}
}

// GetNextLoop returns the base loop when the pool has zero sub-loops,
// otherwise delegates to the configured load-balancing policy. peerAddr
// is only consulted by the SourceAddrHash policy.
func (p *EventLoopThreadPool) GetNextLoop(peerAddr net.Addr) *EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loops) == 0 {
		return p.baseLoop
	}
	idx := p.balancer.next(peerAddr, p.counts)
	p.counts[idx]++
	return p.loops[idx]
}

// ReleaseLoop decrements the tracked connection count for loop, used by
// LeastConnections bookkeeping when a connection is destroyed.
func (p *EventLoopThreadPool) ReleaseLoop(loop *EventLoop) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, l := range p.loops {
		if l == loop {
			if p.counts[i] > 0 {
				p.counts[i]--
			}
			return
		}
	}
}

// AllLoops returns every sub-loop in the pool, or just the base loop if
// the pool has no sub-loops.
func (p *EventLoopThreadPool) AllLoops() []*EventLoop {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.loops) == 0 {
		return []*EventLoop{p.baseLoop}
	}
	out := make([]*EventLoop, len(p.loops))
	copy(out, p.loops)
	return out
}

// Stop tears down every sub-loop thread, waiting for each to exit.
func (p *EventLoopThreadPool) Stop() {
	p.mu.Lock()
	threads := p.threads
	p.mu.Unlock()
	for _, th := range threads {
		th.Stop()
	}
}
