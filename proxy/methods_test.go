package proxy_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gopherbus/dbus"
	"github.com/gopherbus/dbus/dbustest"
	"github.com/gopherbus/dbus/proxy"
	"github.com/gopherbus/dbus/skeleton"
)

const logBusTraffic = true

type addRequest struct {
	A, B int32
}

// TestCall exercises the typed Call wrapper against a method with a
// struct request and response.
func TestCall(t *testing.T) {
	bus := dbustest.New(t, logBusTraffic)
	conn := bus.MustConn(t)
	defer conn.Close()

	const path = dbus.ObjectPath("/test/Calc")
	obj := skeleton.New(conn, path)
	obj.Method("test.Calc", "Add", func(ctx context.Context, req addRequest) (int32, error) {
		return req.A + req.B, nil
	})
	if err := obj.Export(); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	defer obj.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f := proxy.New(conn.Peer(conn.LocalName()).Object(path)).Interface("test.Calc")
	got, err := proxy.Call[addRequest, int32](ctx, f, "Add", addRequest{A: 2, B: 3})
	if err != nil {
		t.Fatalf("Add(2, 3) failed: %v", err)
	}
	if got != 5 {
		t.Errorf("Add(2, 3) = %d, want 5", got)
	}
}

// TestOneWayAndCallNoResult exercises the fire-and-forget calling
// surface against a method with no meaningful response.
func TestOneWayAndCallNoResult(t *testing.T) {
	bus := dbustest.New(t, logBusTraffic)
	conn := bus.MustConn(t)
	defer conn.Close()

	const path = dbus.ObjectPath("/test/Sink")

	var (
		mu    sync.Mutex
		count int
	)
	obj := skeleton.New(conn, path)
	obj.Method("test.Sink", "Bump", func(ctx context.Context) error {
		mu.Lock()
		count++
		mu.Unlock()
		return nil
	})
	if err := obj.Export(); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	defer obj.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f := proxy.New(conn.Peer(conn.LocalName()).Object(path)).Interface("test.Sink")

	if err := proxy.CallNoResult(ctx, f, "Bump", struct{}{}); err != nil {
		t.Fatalf("CallNoResult(Bump) failed: %v", err)
	}
	if err := proxy.OneWay(ctx, f, "Bump", struct{}{}); err != nil {
		t.Fatalf("OneWay(Bump) failed: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		mu.Lock()
		got := count
		mu.Unlock()
		if got >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Bump count = %d after timeout, want 2", got)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// TestGetAll checks that GetAll reports every property registered on
// an interface.
func TestGetAll(t *testing.T) {
	bus := dbustest.New(t, logBusTraffic)
	conn := bus.MustConn(t)
	defer conn.Close()

	const (
		path  = dbus.ObjectPath("/test/Props")
		iface = "test.Props"
	)
	obj := skeleton.New(conn, path)
	skeleton.Property(obj, iface, "Foo", skeleton.ReadOnly,
		func(ctx context.Context) (string, error) { return "foo-value", nil }, nil)
	skeleton.Property(obj, iface, "Bar", skeleton.ReadOnly,
		func(ctx context.Context) (int32, error) { return 42, nil }, nil)
	if err := obj.Export(); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	defer obj.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	f := proxy.New(conn.Peer(conn.LocalName()).Object(path)).Interface(iface)
	got, err := proxy.GetAll(ctx, f)
	if err != nil {
		t.Fatalf("GetAll() failed: %v", err)
	}
	if got["Foo"] != "foo-value" {
		t.Errorf("GetAll()[Foo] = %v, want %q", got["Foo"], "foo-value")
	}
	if got["Bar"] != int32(42) {
		t.Errorf("GetAll()[Bar] = %v, want %d", got["Bar"], 42)
	}
}

type pinged struct {
	Count int32
}

// TestConnect subscribes to a custom signal and checks that emitted
// occurrences are delivered with the registered payload type.
func TestConnect(t *testing.T) {
	bus := dbustest.New(t, logBusTraffic)
	conn := bus.MustConn(t)
	defer conn.Close()

	const (
		path  = dbus.ObjectPath("/test/Pinger")
		iface = "test.Pinger"
	)
	obj := skeleton.New(conn, path)
	emit := skeleton.Signal[pinged](obj, iface, "Pinged")
	if err := obj.Export(); err != nil {
		t.Fatalf("Export() failed: %v", err)
	}
	defer obj.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	observerConn := bus.MustConn(t)
	defer observerConn.Close()
	f := proxy.New(observerConn.Peer(conn.LocalName()).Object(path)).Interface(iface)

	received := make(chan pinged, 1)
	remove, err := proxy.Connect[pinged](ctx, f, "Pinged", func(p pinged) {
		received <- p
	})
	if err != nil {
		t.Fatalf("Connect(Pinged) failed: %v", err)
	}
	defer remove()

	if err := emit(ctx, pinged{Count: 7}); err != nil {
		t.Fatalf("emitting Pinged failed: %v", err)
	}

	select {
	case got := <-received:
		if got.Count != 7 {
			t.Errorf("received Pinged{Count: %d}, want 7", got.Count)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for Pinged signal")
	}
}
