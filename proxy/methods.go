package proxy

import (
	"context"

	"github.com/gopherbus/dbus"
)

// Call invokes method on f with the given typed request, and returns
// the typed response.
//
// Call is the two-type-parameter counterpart to [dbus.Call]: the
// request is typed as Req instead of any. The request is not checked
// against the method's signature before it is sent.
func Call[Req, Resp any](ctx context.Context, f Interface, method string, req Req, opts ...dbus.CallOption) (Resp, error) {
	var resp Resp
	err := f.i.Call(ctx, method, req, &resp, opts...)
	return resp, err
}

// CallNoResult invokes method on f with the given typed request, and
// discards the response body.
func CallNoResult[Req any](ctx context.Context, f Interface, method string, req Req, opts ...dbus.CallOption) error {
	return f.i.Call(ctx, method, req, nil, opts...)
}

// OneWay invokes method on f with the given typed request, and tells
// the peer not to send a reply.
func OneWay[Req any](ctx context.Context, f Interface, method string, req Req, opts ...dbus.CallOption) error {
	return f.i.OneWay(ctx, method, req, opts...)
}
