package dbus

import (
	"cmp"
	"context"
)

type Peer struct {
	c    *Conn
	name string
}

func (p Peer) Ping(ctx context.Context, opts ...CallOption) error {
	return p.Conn().call(ctx, p.name, "/", "org.freedesktop.DBus.Peer", "Ping", nil, nil, opts...)
}

func (p Peer) Conn() *Conn  { return p.c }
func (p Peer) Name() string { return p.name }

func (p Peer) String() string {
	if p.c == nil {
		return "<no peer>"
	}
	return p.name
}

func (p Peer) Object(path ObjectPath) Object {
	return Object{
		p:    p,
		path: path,
	}
}

// Compare orders two Peers by bus name, for use with slices.SortFunc.
func (p Peer) Compare(other Peer) int {
	return cmp.Compare(p.name, other.name)
}

// IsUniqueName reports whether the peer was addressed by its
// connection-unique bus name (of the form ":1.42"), rather than a
// well-known name.
func (p Peer) IsUniqueName() bool {
	return len(p.name) > 0 && p.name[0] == ':'
}

// Exists reports whether the peer's bus name currently has an owner.
func (p Peer) Exists(ctx context.Context, opts ...CallOption) (bool, error) {
	return p.c.NameHasOwner(ctx, p.name)
}

// Owner returns the unique-named Peer that currently owns this
// peer's bus name.
//
// Owner only makes sense for well-known names. Calling Owner on a
// Peer that is already addressed by its unique name returns that
// same Peer.
func (p Peer) Owner(ctx context.Context, opts ...CallOption) (Peer, error) {
	name, err := p.c.GetNameOwner(ctx, p.name)
	if err != nil {
		return Peer{}, err
	}
	return p.c.Peer(name), nil
}

// QueuedOwners returns the unique-named Peers waiting in line for
// ownership of this peer's bus name, in queue order. The current
// owner, if any, is first.
func (p Peer) QueuedOwners(ctx context.Context, opts ...CallOption) ([]Peer, error) {
	names, err := p.c.ListQueuedOwners(ctx, p.name)
	if err != nil {
		return nil, err
	}
	ret := make([]Peer, len(names))
	for i, n := range names {
		ret[i] = p.c.Peer(n)
	}
	return ret, nil
}

// Identity returns the credentials the bus holds for the peer's
// connection.
func (p Peer) Identity(ctx context.Context, opts ...CallOption) (*PeerCredentials, error) {
	return p.c.GetPeerCredentials(ctx, p.name)
}

// UID returns the Unix user ID of the peer's connection.
//
// Deprecated: use [Peer.Identity], which returns all credentials the
// bus is willing to share in one call.
func (p Peer) UID(ctx context.Context, opts ...CallOption) (uint32, error) {
	return p.c.GetPeerUID(ctx, p.name)
}

// PID returns the Unix process ID of the peer's connection.
//
// Deprecated: use [Peer.Identity], which returns all credentials the
// bus is willing to share in one call.
func (p Peer) PID(ctx context.Context, opts ...CallOption) (uint32, error) {
	return p.c.GetPeerPID(ctx, p.name)
}
