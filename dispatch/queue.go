package dispatch

import (
	"context"

	"github.com/creachadair/taskgroup"

	"github.com/gopherbus/dbus"
)

// Queue is a worker-pool dispatch driver. One dedicated goroutine
// reads and routes inbound messages by calling [dbus.Conn.Dispatch];
// method-call handler execution, which Dispatch would otherwise hand
// off to an unbounded goroutine per call, is instead submitted to a
// bounded [taskgroup.Group].
//
// Queue is the right driver for servers that expect concurrent
// callers and want handler concurrency capped, rather than growing
// without bound under load.
type Queue struct {
	// Workers bounds the number of method-call handlers that may run
	// concurrently. Zero means a modest default.
	Workers int

	g       *taskgroup.Group
	start   taskgroup.StartFunc
	restore func()
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error
}

const defaultQueueWorkers = 8

// Start implements [dbus.Driver].
func (q *Queue) Start(ctx context.Context, c *dbus.Conn) error {
	workers := q.Workers
	if workers <= 0 {
		workers = defaultQueueWorkers
	}
	q.g, q.start = taskgroup.New(nil).Limit(workers)
	q.restore = c.SetExecutor(func(f func()) {
		q.start(func() error {
			f()
			return nil
		})
	})

	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.done = make(chan struct{})
	go q.run(ctx, c)
	return nil
}

func (q *Queue) run(ctx context.Context, c *dbus.Conn) {
	defer close(q.done)
	for {
		if ctx.Err() != nil {
			return
		}
		if _, err := c.Dispatch(ctx); err != nil {
			q.runErr = err
			return
		}
	}
}

// Stop implements [dbus.Driver].
func (q *Queue) Stop() error {
	if q.cancel != nil {
		q.cancel()
	}
	if q.done != nil {
		<-q.done
	}
	if q.restore != nil {
		q.restore()
	}
	if q.g != nil {
		q.g.Wait()
	}
	return q.runErr
}
