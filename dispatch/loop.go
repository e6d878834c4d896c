// Package dispatch provides drivers that pump message dispatch for a
// [dbus.Conn]: implementations of [Driver] that repeatedly call
// [dbus.Conn.Dispatch] on whatever schedule and concurrency policy
// they choose.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/gopherbus/dbus"
)

// Driver is an alias for [dbus.Driver]. Implementations in this
// package satisfy [dbus.Conn.AttachDriver] directly; the alias just
// lets callers spell the type dispatch.Driver.
type Driver = dbus.Driver

// Loop is a cooperative, single-goroutine dispatch driver. It polls
// the connection's underlying file descriptor with
// golang.org/x/sys/unix.Poll and calls [dbus.Conn.Dispatch] whenever
// data is ready, draining StatusDataRemains before polling again.
//
// Loop is the right driver for programs that want predictable,
// single-threaded DBus dispatch with no worker pool. It is not the
// default: a new connection runs the package's own standalone driver
// until another driver is attached. Programs that need concurrent
// handler execution bounded by a worker pool should use [Queue]
// instead.
type Loop struct {
	mu        sync.Mutex
	watches   []WatchDelegate
	timeouts  []TimeoutDelegate

	cancel  context.CancelFunc
	done    chan struct{}
	stopErr error
}

// Start implements [dbus.Driver].
func (l *Loop) Start(ctx context.Context, c *dbus.Conn) error {
	fd, ok := dbus.TransportFd(c)
	if !ok {
		return errors.New("dispatch: connection's transport does not support polling, Loop requires one that does")
	}
	ctx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	go l.run(ctx, c, fd)
	return nil
}

// Stop implements [dbus.Driver].
func (l *Loop) Stop() error {
	if l.cancel != nil {
		l.cancel()
	}
	if l.done != nil {
		<-l.done
	}
	return l.stopErr
}

// AddWatch registers w to be polled alongside the connection's own
// socket. The returned remove func detaches it.
func (l *Loop) AddWatch(w WatchDelegate) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.watches = append(l.watches, w)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, x := range l.watches {
			if x == w {
				l.watches = append(l.watches[:i], l.watches[i+1:]...)
				return
			}
		}
	}
}

// AddTimeout registers t to participate in the loop's poll timeout.
// The returned remove func detaches it.
func (l *Loop) AddTimeout(t TimeoutDelegate) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.timeouts = append(l.timeouts, t)
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, x := range l.timeouts {
			if x == t {
				l.timeouts = append(l.timeouts[:i], l.timeouts[i+1:]...)
				return
			}
		}
	}
}

func (l *Loop) pollTimeout() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	timeout := -1
	for _, t := range l.timeouts {
		if ms := t.NextTimeout(); ms >= 0 && (timeout < 0 || ms < timeout) {
			timeout = ms
		}
	}
	return timeout
}

func (l *Loop) run(ctx context.Context, c *dbus.Conn, connFd uintptr) {
	defer close(l.done)

	for {
		if ctx.Err() != nil {
			return
		}

		l.mu.Lock()
		pfds := make([]unix.PollFd, 1+len(l.watches))
		pfds[0] = unix.PollFd{Fd: int32(connFd), Events: unix.POLLIN}
		watches := make([]WatchDelegate, len(l.watches))
		copy(watches, l.watches)
		l.mu.Unlock()
		for i, w := range watches {
			fd, err := w.Fd()
			if err != nil {
				continue
			}
			pfds[i+1] = unix.PollFd{Fd: int32(fd), Events: unix.POLLIN}
		}

		n, err := unix.Poll(pfds, l.pollTimeout())
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			l.stopErr = fmt.Errorf("dispatch: poll failed: %w", err)
			return
		}
		if n == 0 {
			l.mu.Lock()
			timeouts := make([]TimeoutDelegate, len(l.timeouts))
			copy(timeouts, l.timeouts)
			l.mu.Unlock()
			for _, t := range timeouts {
				t.OnTimeout(ctx)
			}
			continue
		}

		if pfds[0].Revents&unix.POLLIN != 0 {
			for {
				status, err := c.Dispatch(ctx)
				if err != nil {
					l.stopErr = err
					return
				}
				if status != dbus.StatusDataRemains {
					break
				}
			}
		}
		for i, w := range watches {
			if pfds[i+1].Revents&unix.POLLIN != 0 {
				w.OnReadable(ctx)
			}
		}
	}
}
