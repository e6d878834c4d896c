package dispatch

import "context"

// WatchDelegate lets code outside this package register additional
// file descriptors for a [Loop] to poll alongside the connection's
// own socket. It mirrors the seam transport.Transport uses
// internally for the connection's own fd, generalized so a Loop can
// multiplex other event sources (a timerfd, an inotify watch, a
// second socket) on the same poll call.
type WatchDelegate interface {
	// Fd returns the file descriptor to poll for readability.
	Fd() (uintptr, error)
	// OnReadable is called when Fd becomes readable.
	OnReadable(ctx context.Context)
}

// TimeoutDelegate lets code register a recurring wakeup for a [Loop],
// independent of any file descriptor becoming readable.
type TimeoutDelegate interface {
	// NextTimeout returns the poll timeout, in milliseconds, to wait
	// before calling OnTimeout. A negative value means this delegate
	// has nothing pending.
	NextTimeout() int
	// OnTimeout is called when NextTimeout elapses without any
	// registered WatchDelegate's Fd becoming readable first.
	OnTimeout(ctx context.Context)
}
