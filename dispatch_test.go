package dbus_test

import (
	"context"
	"errors"
	"testing"

	"github.com/riftbus/dbus"
	"github.com/riftbus/dbus/dbustest"
)

// TestDispatchObjectRegistry exercises the path-addressed Object
// dispatch described by the server-side of the library: a method call
// must be routed by (path, interface, member), an unregistered path
// reports UnknownObject, a registered path with an unknown member
// reports UnknownMethod, and a wire body that disagrees with the
// handler's declared signature reports InvalidArgs.
func TestDispatchObjectRegistry(t *testing.T) {
	bus := dbustest.New(t, logBusTraffic)

	server := bus.MustConn(t)
	defer server.Close()

	const (
		iface        = "com.example.Thing"
		servedPath   = dbus.ObjectPath("/com/example/Served")
		unservedPath = dbus.ObjectPath("/com/example/Unserved")
	)

	server.Handle(servedPath, iface, "Double", func(ctx context.Context, obj dbus.ObjectPath, n int32) (int32, error) {
		return n * 2, nil
	})

	client := bus.MustConn(t)
	defer client.Close()

	thing := client.Peer(server.LocalName()).Object(servedPath).Interface(iface)

	t.Run("known path and method", func(t *testing.T) {
		var got int32
		if err := thing.Call(context.Background(), "Double", int32(21), &got); err != nil {
			t.Fatalf("Double(21) failed: %v", err)
		}
		if got != 42 {
			t.Errorf("Double(21) = %d, want 42", got)
		}
	})

	t.Run("unregistered path reports UnknownObject", func(t *testing.T) {
		unserved := client.Peer(server.LocalName()).Object(unservedPath).Interface(iface)
		var got int32
		err := unserved.Call(context.Background(), "Double", int32(1), &got)
		var ce dbus.CallError
		if !errors.As(err, &ce) {
			t.Fatalf("Call on unregistered path returned %v, want a CallError", err)
		}
		if ce.Name != "org.freedesktop.DBus.Error.UnknownObject" {
			t.Errorf("error name = %q, want UnknownObject", ce.Name)
		}
	})

	t.Run("unknown method reports UnknownMethod", func(t *testing.T) {
		var got int32
		err := thing.Call(context.Background(), "Triple", int32(1), &got)
		var ce dbus.CallError
		if !errors.As(err, &ce) {
			t.Fatalf("Call of unknown method returned %v, want a CallError", err)
		}
		if ce.Name != "org.freedesktop.DBus.Error.UnknownMethod" {
			t.Errorf("error name = %q, want UnknownMethod", ce.Name)
		}
	})

	t.Run("wrong signature reports InvalidArgs", func(t *testing.T) {
		var got int32
		// Double wants a single int32; send a string instead.
		err := thing.Call(context.Background(), "Double", "not an int", &got)
		var ce dbus.CallError
		if !errors.As(err, &ce) {
			t.Fatalf("Call with wrong signature returned %v, want a CallError", err)
		}
		if ce.Name != "org.freedesktop.DBus.Error.InvalidArgs" {
			t.Errorf("error name = %q, want InvalidArgs", ce.Name)
		}
	})

	t.Run("ambient Peer only answers on a registered path", func(t *testing.T) {
		if err := client.Peer(server.LocalName()).Object(servedPath).Interface("org.freedesktop.DBus.Peer").Call(context.Background(), "Ping", nil, nil); err != nil {
			t.Errorf("Ping on registered path failed: %v", err)
		}

		err := client.Peer(server.LocalName()).Object(unservedPath).Interface("org.freedesktop.DBus.Peer").Call(context.Background(), "Ping", nil, nil)
		var ce dbus.CallError
		if !errors.As(err, &ce) {
			t.Fatalf("Ping on unregistered path returned %v, want a CallError", err)
		}
		if ce.Name != "org.freedesktop.DBus.Error.UnknownObject" {
			t.Errorf("error name = %q, want UnknownObject", ce.Name)
		}
	})

	t.Run("introspection reports the registered interface", func(t *testing.T) {
		desc, err := client.Peer(server.LocalName()).Object(servedPath).Introspect(context.Background())
		if err != nil {
			t.Fatalf("Introspect failed: %v", err)
		}
		if _, ok := desc.Interfaces[iface]; !ok {
			t.Errorf("Introspect result missing %s, got %v", iface, desc.Interfaces)
		}
	})
}

// TestDispatchProperties exercises the per-path Properties interface
// installed automatically the first time a path is registered.
func TestDispatchProperties(t *testing.T) {
	bus := dbustest.New(t, logBusTraffic)

	server := bus.MustConn(t)
	defer server.Close()

	const (
		iface = "com.example.Widget"
		path  = dbus.ObjectPath("/com/example/Widget")
	)

	count := int32(7)
	dbus.RegisterProperty[int32](server, path, iface, "Count",
		func(ctx context.Context, obj dbus.ObjectPath) (int32, error) {
			return count, nil
		},
		func(ctx context.Context, obj dbus.ObjectPath, v int32) error {
			count = v
			return nil
		},
	)

	client := bus.MustConn(t)
	defer client.Close()

	widget := client.Peer(server.LocalName()).Object(path)

	var got int32
	if err := widget.Interface(iface).GetProperty(context.Background(), "Count", &got); err != nil {
		t.Fatalf("GetProperty(Count) failed: %v", err)
	}
	if got != 7 {
		t.Errorf("Count = %d, want 7", got)
	}

	if err := widget.Interface(iface).SetProperty(context.Background(), "Count", int32(9)); err != nil {
		t.Fatalf("SetProperty(Count) failed: %v", err)
	}
	if count != 9 {
		t.Errorf("after Set, count = %d, want 9", count)
	}
}
