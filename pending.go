package dbus

import "context"

// PendingCall tracks an in-flight method call awaiting a reply.
//
// A PendingCall is created by [Conn.call] and completed exactly once,
// either by a matching method return or error arriving off the wire,
// or by the call being canceled. Completion is reported by closing
// the channel returned from [PendingCall.Done].
type PendingCall struct {
	notify chan struct{}
	resp   any
	err    error
}

func newPendingCall(resp any) *PendingCall {
	return &PendingCall{
		notify: make(chan struct{}, 1),
		resp:   resp,
	}
}

// Done returns a channel that's closed once the call completes,
// successfully or not.
func (p *PendingCall) Done() <-chan struct{} {
	return p.notify
}

// Block waits for the call to complete, or for ctx to be canceled,
// and returns the call's resulting error (nil on success).
func (p *PendingCall) Block(ctx context.Context) error {
	select {
	case <-p.notify:
		return p.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel abandons interest in the call's reply. A reply that arrives
// after Cancel is discarded. Cancel does not stop the remote peer
// from processing the call; it only stops this process from waiting
// on the result.
func (p *PendingCall) Cancel() {
	select {
	case <-p.notify:
	default:
		p.err = ErrNoReply
		close(p.notify)
	}
}

// StealReply returns the decoded response value and error recorded
// for this call, blanking them out so a second call to StealReply (or
// a racing [PendingCall.Block]) observes zero values instead of
// double-using the response pointer.
func (p *PendingCall) StealReply() (any, error) {
	resp, err := p.resp, p.err
	p.resp, p.err = nil, nil
	return resp, err
}

func (p *PendingCall) complete(err error) {
	select {
	case <-p.notify:
	default:
		p.err = err
		close(p.notify)
	}
}
