package dbus

import (
	"bytes"
	"cmp"
	"context"
	"errors"
	"os"
	"strings"
)

// Peer is a handle to a participant on the bus, identified by a
// unique connection name or a well-known bus name.
type Peer struct {
	c    *Conn
	name string
}

// Name returns the peer's bus name.
func (p Peer) Name() string { return p.name }

func (p Peer) String() string { return p.name }

// Compare compares two peers, with the same convention as [cmp.Compare].
func (p Peer) Compare(other Peer) int {
	return cmp.Compare(p.name, other.name)
}

// Ping asks p to reply, to check that it is alive and responding to
// method calls.
func (p Peer) Ping(ctx context.Context) error {
	return p.Object("/").Interface("org.freedesktop.DBus.Peer").Call(ctx, "Ping", nil, nil)
}

func (p Peer) Conn() *Conn { return p.c }

func (p Peer) Object(path ObjectPath) Object {
	return Object{
		p:    p,
		path: path,
	}
}

// IsUniqueName reports whether p identifies a connection directly
// (e.g. ":1.234") rather than a well-known, requestable bus name.
func (p Peer) IsUniqueName() bool {
	return strings.HasPrefix(p.name, ":")
}

// Exists reports whether p currently has an owner on the bus.
func (p Peer) Exists(ctx context.Context) (bool, error) {
	var exists bool
	if err := p.c.bus.Interface(ifaceBus).Call(ctx, "NameHasOwner", p.name, &exists); err != nil {
		return false, err
	}
	return exists, nil
}

// Owner returns the current primary owner of p.
//
// Owner only makes sense for well-known names; calling it on a
// unique connection name returns that same name.
func (p Peer) Owner(ctx context.Context) (Peer, error) {
	if p.IsUniqueName() {
		return p, nil
	}
	var owner string
	if err := p.c.bus.Interface(ifaceBus).Call(ctx, "GetNameOwner", p.name, &owner); err != nil {
		return Peer{}, err
	}
	return p.c.Peer(owner), nil
}

// QueuedOwners returns the connections in p's ownership queue, in
// priority order. The current primary owner is listed first.
func (p Peer) QueuedOwners(ctx context.Context) ([]Peer, error) {
	var names []string
	if err := p.c.bus.Interface(ifaceBus).Call(ctx, "ListQueuedOwners", p.name, &names); err != nil {
		return nil, err
	}
	ret := make([]Peer, len(names))
	for i, n := range names {
		ret[i] = p.c.Peer(n)
	}
	return ret, nil
}

// Credentials describes the operating system identity of a DBus
// connection, as reported by the bus.
type Credentials struct {
	// PID is the connection's process ID, if known.
	PID *uint32
	// UID is the connection's primary user ID, if known.
	UID *uint32
	// GIDs are the connection's supplementary group IDs, if known.
	GIDs []uint32
	// PIDFD is a handle to the connection's process, if the bus
	// supports and chose to provide one.
	PIDFD *os.File
	// SecurityLabel is the connection's LSM security label (e.g. an
	// AppArmor or SELinux context), if known. The trailing NUL
	// byte reported by the bus is stripped.
	SecurityLabel []byte
	// Unknown holds any additional credential fields reported by the
	// bus that this package does not otherwise interpret.
	Unknown map[string]any
}

// UID returns the peer's connection user ID.
//
// Deprecated: use [Peer.Identity], which also reports the process ID,
// supplementary groups, and security label in a single round trip.
func (p Peer) UID(ctx context.Context) (uint32, error) {
	creds, err := p.Identity(ctx)
	if err != nil {
		return 0, err
	}
	if creds.UID == nil {
		return 0, errors.New("bus did not report a UID for this connection")
	}
	return *creds.UID, nil
}

// PID returns the peer's connection process ID.
//
// Deprecated: use [Peer.Identity], which also reports the user ID,
// supplementary groups, and security label in a single round trip.
func (p Peer) PID(ctx context.Context) (uint32, error) {
	creds, err := p.Identity(ctx)
	if err != nil {
		return 0, err
	}
	if creds.PID == nil {
		return 0, errors.New("bus did not report a PID for this connection")
	}
	return *creds.PID, nil
}

// Identity returns the operating system credentials the bus recorded
// for p at connection time.
func (p Peer) Identity(ctx context.Context) (Credentials, error) {
	var raw map[string]any
	if err := p.c.bus.Interface(ifaceBus).Call(ctx, "GetConnectionCredentials", p.name, &raw); err != nil {
		return Credentials{}, err
	}

	var ret Credentials
	ret.Unknown = map[string]any{}
	for k, v := range raw {
		switch k {
		case "ProcessID":
			if u, ok := v.(uint32); ok {
				ret.PID = &u
			}
		case "UnixUserID":
			if u, ok := v.(uint32); ok {
				ret.UID = &u
			}
		case "UnixGroupIDs":
			if gs, ok := v.([]uint32); ok {
				ret.GIDs = gs
			}
		case "ProcessFD":
			if f, ok := v.(*os.File); ok {
				ret.PIDFD = f
			}
		case "LinuxSecurityLabel":
			if bs, ok := v.([]byte); ok {
				ret.SecurityLabel = bytes.TrimSuffix(bs, []byte{0})
			}
		default:
			ret.Unknown[k] = v
		}
	}
	return ret, nil
}
