// Package asyncpool provides a small bounded goroutine pool for the
// server's own internal async bookkeeping (periodic sweeps, diagnostic
// aggregation) that must not run on any EventLoop's goroutine. It never
// runs user MessageCallback/WriteCompleteCallback dispatch directly -
// those remain on the owning loop per the framework's callback contract.
package asyncpool

import (
	"github.com/panjf2000/ants/v2"

	"github.com/gotcp/reactor/internal/logging"
)

// Pool wraps an ants.Pool sized for a server's housekeeping work.
type Pool struct {
	p *ants.Pool
}

// New constructs a Pool with the given worker capacity.
func New(size int) (*Pool, error) {
	p, err := ants.NewPool(size, ants.WithNonblocking(true), ants.WithPanicHandler(func(r interface{}) {
		logging.Errorf("reactor: asyncpool task panicked: %v", r)
	}))
	if err != nil {
		return nil, err
	}
	return &Pool{p: p}, nil
}

// Submit schedules fn to run on a pooled goroutine. If the pool is
// saturated or released and rejects fn, Submit logs the rejection and runs
// fn inline on the caller instead of waiting for a free worker.
func (pool *Pool) Submit(fn func()) {
	if pool == nil || pool.p == nil {
		go fn()
		return
	}
	if err := pool.p.Submit(fn); err != nil {
		logging.Errorf("reactor: asyncpool submit failed, running inline: %v", err)
		fn()
	}
}

// Release shuts the pool down, waiting for in-flight tasks to finish.
func (pool *Pool) Release() {
	if pool == nil || pool.p == nil {
		return
	}
	pool.p.Release()
}
