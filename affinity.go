package dbus

import (
	"runtime"

	"github.com/creachadair/taskgroup"
)

// Affinity controls which goroutine runs the handler for an inbound
// method call registered with [Conn.Handle].
type Affinity int

const (
	// DispatcherThread runs the handler inline on the connection's
	// read loop. It is the cheapest option, but a slow or blocking
	// handler stalls all other inbound traffic - calls, returns, and
	// signals alike - until it returns.
	DispatcherThread Affinity = iota
	// OwnerThread queues the call onto a single dedicated goroutine.
	// Handlers registered with OwnerThread run one at a time, in the
	// order their calls were received, without blocking the read
	// loop.
	OwnerThread
	// Pool dispatches the call onto a bounded worker pool, so
	// independent calls can run concurrently. Calls dispatched to the
	// pool have no ordering guarantee relative to each other.
	Pool
)

// callDispatcher runs handler functions according to their
// registered [Affinity].
type callDispatcher struct {
	ownerCh chan func()
	sem     chan struct{}
	pool    *taskgroup.Group
}

func newCallDispatcher() *callDispatcher {
	size := runtime.GOMAXPROCS(0)
	if size < 2 {
		size = 2
	}
	if size > 8 {
		size = 8
	}
	d := &callDispatcher{
		ownerCh: make(chan func(), 16),
		sem:     make(chan struct{}, size),
		pool:    taskgroup.New(nil),
	}
	go d.runOwnerThread()
	return d
}

func (d *callDispatcher) runOwnerThread() {
	for fn := range d.ownerCh {
		fn()
	}
}

// dispatch runs fn according to affinity. DispatcherThread runs fn
// synchronously in the caller's goroutine.
func (d *callDispatcher) dispatch(affinity Affinity, fn func()) {
	switch affinity {
	case OwnerThread:
		d.ownerCh <- fn
	case Pool:
		d.sem <- struct{}{}
		d.pool.Go(func() error {
			defer func() { <-d.sem }()
			fn()
			return nil
		})
	default:
		fn()
	}
}

// close stops accepting new owner-thread work and waits for
// outstanding pool work to finish.
func (d *callDispatcher) close() {
	close(d.ownerCh)
	d.pool.Wait()
}
