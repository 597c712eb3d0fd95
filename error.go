package dbus

import (
	"fmt"
	"reflect"
)

// TypeError is the error returned when a type cannot be represented
// in the DBus wire format.
type TypeError struct {
	// Type is the name of the type that caused the error.
	Type string
	// Reason is an explanation of why the type isn't representable by
	// DBus.
	Reason error
}

func (e TypeError) Error() string {
	return fmt.Sprintf("dbus cannot represent %s: %s", e.Type, e.Reason)
}

func (e TypeError) Unwrap() error {
	return e.Reason
}

func typeErr(t reflect.Type, reason string, args ...any) error {
	ts := ""
	if t != nil {
		ts = t.String()
	}
	return TypeError{ts, fmt.Errorf(reason, args...)}
}

// CallError is the error returned from failed DBus method calls.
type CallError struct {
	// Name is the error name provided by the remote peer.
	Name string
	// Detail is the human-readable explanation of what went wrong.
	Detail string
}

func (e CallError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("call error %s", e.Name)
	}
	return fmt.Sprintf("call error %s: %s", e.Name, e.Detail)
}

// SignatureError is returned when a signature string cannot be
// parsed, or exceeds the protocol's depth or length limits.
type SignatureError struct {
	Sig    string
	Reason error
}

func (e SignatureError) Error() string {
	return fmt.Sprintf("invalid signature %q: %s", e.Sig, e.Reason)
}

func (e SignatureError) Unwrap() error {
	return e.Reason
}

// MarshalError is returned when a Go value cannot be written to, or
// extracted from, the wire format at the position given by Field:
// its type disagrees with the declared signature, or a string value
// fails the UTF-8 or object-path well-formedness checks.
type MarshalError struct {
	Field  string
	Reason error
}

func (e MarshalError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("marshal error: %s", e.Reason)
	}
	return fmt.Sprintf("marshal error at %s: %s", e.Field, e.Reason)
}

func (e MarshalError) Unwrap() error {
	return e.Reason
}

// DispatchError is the error constructed when an inbound MethodCall
// cannot be routed to a handler. Name is one of the
// org.freedesktop.DBus.Error.* dispatch error names and is sent
// verbatim as the Error message's ERROR_NAME.
type DispatchError struct {
	// Name is the DBus error name to report to the caller, e.g.
	// "org.freedesktop.DBus.Error.UnknownObject".
	Name string
	// Reason is a human-readable detail sent as the error body, and
	// the wrapped cause for errors.Is/errors.As.
	Reason error
}

func (e DispatchError) Error() string {
	return fmt.Sprintf("dispatch error %s: %s", e.Name, e.Reason)
}

func (e DispatchError) Unwrap() error {
	return e.Reason
}

func dispatchErrf(name, reason string, args ...any) DispatchError {
	return DispatchError{Name: name, Reason: fmt.Errorf(reason, args...)}
}

// ProtocolError is returned when a peer sends a message that violates
// a DBus header invariant: an unknown message type, a length that
// overflows the protocol's limits, or a header missing a field its
// message type requires. A ProtocolError is always fatal to the
// connection.
type ProtocolError struct {
	Reason error
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("dbus protocol error: %s", e.Reason)
}

func (e ProtocolError) Unwrap() error {
	return e.Reason
}

// TransportError wraps a failure reading or writing the underlying
// transport: a short read, a write that returns less than requested,
// or the socket closing out from under a pending call. A
// TransportError always fails every pending call on the connection
// and transitions it to CLOSED.
type TransportError struct {
	Op     string
	Reason error
}

func (e TransportError) Error() string {
	return fmt.Sprintf("transport error during %s: %s", e.Op, e.Reason)
}

func (e TransportError) Unwrap() error {
	return e.Reason
}
