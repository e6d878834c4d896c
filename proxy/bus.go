package proxy

import (
	"context"

	"github.com/gopherbus/dbus"
)

// Bus wraps the org.freedesktop.DBus methods that live directly on
// [dbus.Conn], giving them a home in this package alongside the rest
// of its typed helpers.
type Bus struct {
	c *dbus.Conn
}

// NewBus wraps c's bus-facing methods.
func NewBus(c *dbus.Conn) Bus { return Bus{c} }

func (b Bus) RequestName(ctx context.Context, name string, flags dbus.NameRequestFlags) (isPrimaryOwner bool, err error) {
	return b.c.RequestName(ctx, name, flags)
}

func (b Bus) ReleaseName(ctx context.Context, name string) error {
	return b.c.ReleaseName(ctx, name)
}

func (b Bus) ListQueuedOwners(ctx context.Context, name string) ([]string, error) {
	return b.c.ListQueuedOwners(ctx, name)
}

func (b Bus) ListNames(ctx context.Context) ([]string, error) {
	return b.c.ListNames(ctx)
}

func (b Bus) ListActivatableNames(ctx context.Context) ([]string, error) {
	return b.c.ListActivatableNames(ctx)
}

func (b Bus) Peers(ctx context.Context) ([]dbus.Peer, error) {
	return b.c.Peers(ctx)
}

func (b Bus) ActivatablePeers(ctx context.Context) ([]dbus.Peer, error) {
	return b.c.ActivatablePeers(ctx)
}

func (b Bus) NameHasOwner(ctx context.Context, name string) (bool, error) {
	return b.c.NameHasOwner(ctx, name)
}

func (b Bus) GetNameOwner(ctx context.Context, name string) (string, error) {
	return b.c.GetNameOwner(ctx, name)
}

func (b Bus) GetPeerUID(ctx context.Context, name string) (uint32, error) {
	return b.c.GetPeerUID(ctx, name)
}

func (b Bus) GetPeerPID(ctx context.Context, name string) (uint32, error) {
	return b.c.GetPeerPID(ctx, name)
}

func (b Bus) GetPeerCredentials(ctx context.Context, name string) (*dbus.PeerCredentials, error) {
	return b.c.GetPeerCredentials(ctx, name)
}

func (b Bus) BusID(ctx context.Context) (string, error) {
	return b.c.BusID(ctx)
}

func (b Bus) Features(ctx context.Context) ([]string, error) {
	return b.c.Features(ctx)
}
