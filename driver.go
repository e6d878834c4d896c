package dbus

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
)

func isClosedErr(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe)
}

// pollableTransport is implemented by transports that can report a
// pollable file descriptor and a count of already-buffered bytes.
// transport.Transport satisfies it; it's declared locally so this
// package doesn't need to import transport just to name the type.
type pollableTransport interface {
	Fd() (uintptr, error)
	Buffered() int
}

// TransportFd returns the pollable file descriptor underlying c's
// transport, for dispatch drivers that multiplex on it directly
// (such as dispatch.Loop's use of unix.Poll). It returns ok=false if
// the transport doesn't support this.
func TransportFd(c *Conn) (fd uintptr, ok bool) {
	p, ok := c.t.(pollableTransport)
	if !ok {
		return 0, false
	}
	fd, err := p.Fd()
	if err != nil {
		return 0, false
	}
	return fd, true
}

// TransportBuffered reports how many already-read bytes are sitting
// in c's transport buffer, ready to be consumed without blocking.
// Dispatch drivers use this to decide whether to report
// StatusDataRemains after a successful Dispatch call.
func TransportBuffered(c *Conn) int {
	p, ok := c.t.(pollableTransport)
	if !ok {
		return 0
	}
	return p.Buffered()
}

// SetExecutor overrides how Dispatch runs method-call handlers.
//
// By default, each inbound method call's handler chain runs on its
// own goroutine. A Driver wanting bounded concurrency (see
// dispatch.Queue) calls SetExecutor to route handler execution
// through a worker pool instead. The returned restore func
// reinstates the previous executor, and should be called from the
// driver's Stop.
func (c *Conn) SetExecutor(exec func(func())) (restore func()) {
	c.mu.Lock()
	prev := c.execute
	c.execute = exec
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		c.execute = prev
		c.mu.Unlock()
	}
}

func (c *Conn) executor() func(func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.execute
}

// Status reports the outcome of one [Conn.Dispatch] call.
type Status int

const (
	// StatusComplete means Dispatch fully processed one message, and
	// nothing more is immediately available to read.
	StatusComplete Status = iota
	// StatusDataRemains means Dispatch fully processed one message,
	// and another is already available without blocking. A driver
	// that sees this should call Dispatch again right away rather
	// than waiting for the transport to signal readability.
	StatusDataRemains
	// StatusNeedMemory means Dispatch declined to read the next
	// message because doing so would exceed [Conn.Limits]. The
	// message is discarded; the connection remains usable.
	StatusNeedMemory
)

func (s Status) String() string {
	switch s {
	case StatusComplete:
		return "Complete"
	case StatusDataRemains:
		return "DataRemains"
	case StatusNeedMemory:
		return "NeedMemory"
	default:
		return "Status(unknown)"
	}
}

// Driver drives message dispatch for a [Conn]: arranging for
// [Conn.Dispatch] to be called as inbound bytes become available, on
// whatever schedule and concurrency policy the driver implements.
//
// The dispatch package provides two implementations: dispatch.Loop,
// a single cooperative goroutine that polls the connection's file
// descriptor, and dispatch.Queue, which dedicates one goroutine to
// reading and dispatches handler work onto a worker pool.
// dispatch.Driver is a type alias for this interface, so driver
// implementations never need to import this package under a
// different name.
type Driver interface {
	// Start begins driving dispatch for c. It must not block waiting
	// for c to close.
	Start(ctx context.Context, c *Conn) error
	// Stop shuts the driver down, releasing any resources it holds.
	// Stop must be safe to call more than once, and after Start has
	// failed.
	Stop() error
}

// AttachDriver stops whatever [Driver] is currently attached to c
// (including the standalone driver installed by default) and starts
// d in its place.
func (c *Conn) AttachDriver(ctx context.Context, d Driver) error {
	c.mu.Lock()
	old := c.driver
	c.mu.Unlock()
	if old != nil {
		if err := old.Stop(); err != nil {
			return err
		}
	}
	if err := d.Start(ctx, c); err != nil {
		return err
	}
	c.mu.Lock()
	c.driver = d
	c.mu.Unlock()
	return nil
}

// RunStandalone attaches the default driver: a single background
// goroutine that calls Dispatch in a loop until ctx is done or the
// connection closes. It's installed automatically by [Dial],
// [SystemBus], and [SessionBus], so most callers never need to call
// it directly; it's exposed for callers who detached a custom driver
// with [Conn.AttachDriver] and want to fall back to it.
func (c *Conn) RunStandalone(ctx context.Context) error {
	return c.AttachDriver(ctx, &standaloneDriver{})
}

// standaloneDriver is the zero-configuration driver used until a
// caller installs something more deliberate.
type standaloneDriver struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func (d *standaloneDriver) Start(ctx context.Context, c *Conn) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.done = make(chan struct{})
	go func() {
		defer close(d.done)
		for {
			if ctx.Err() != nil {
				return
			}
			if _, err := c.Dispatch(ctx); err != nil {
				if errors.Is(err, context.Canceled) || ctx.Err() != nil {
					return
				}
				if isClosedErr(err) {
					return
				}
				log.Printf("dbus: dispatch error: %v", err)
			}
		}
	}()
	return nil
}

func (d *standaloneDriver) Stop() error {
	if d.cancel != nil {
		d.cancel()
	}
	if d.done != nil {
		<-d.done
	}
	return nil
}
