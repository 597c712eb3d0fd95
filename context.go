package dbus

import (
	"context"
	"errors"
	"os"
)

// senderContextKey is the context key that carries the sender of a
// DBus message.
type senderContextKey struct{}

// withContextSender augments ctx with DBus sender information.
func withContextSender(ctx context.Context, iface Interface) context.Context {
	return context.WithValue(ctx, senderContextKey{}, iface)
}

// ContextSender extracts the current DBus sender information from
// ctx, and reports whether any sender information was present.
//
// Sender information is available in [Marshaler] and [Unmarshaler]
// calls.
func ContextSender(ctx context.Context) (Interface, bool) {
	v := ctx.Value(senderContextKey{})
	if v == nil {
		return Interface{}, false
	}
	if ret, ok := v.(Interface); ok {
		return ret, true
	}
	return Interface{}, false
}

// ContextEmitter extracts the Interface that emitted the signal
// currently being dispatched from ctx, and reports whether that
// information was present.
//
// It is equivalent to [ContextSender]; the two names distinguish the
// sender of a method call's body from the interface that raised a
// signal, in code that needs to talk about both concepts.
func ContextEmitter(ctx context.Context) (Interface, bool) {
	return ContextSender(ctx)
}

// withContextHeader augments ctx with the DBus Interface that a
// message's header identifies as responsible for it: the remote peer
// for an inbound message, or the call target for an outbound one.
func withContextHeader(ctx context.Context, c *Conn, hdr *header) context.Context {
	name := hdr.Sender
	if name == "" {
		name = hdr.Destination
	}
	iface := c.Peer(name).Object(hdr.Path).Interface(hdr.Interface)
	return withContextSender(ctx, iface)
}

// filesContextKey is the context key that carries file descriptors
// received with a DBus message.
type filesContextKey struct{}

// withContextFiles augments ctx with the files received with a
// message. files is a pointer because the message's file descriptor
// list may still be populated after the context is created.
func withContextFiles(ctx context.Context, files *[]*os.File) context.Context {
	return context.WithValue(ctx, filesContextKey{}, files)
}

// contextFile returns the idx-th message file in ctx.
//
// [File] is the only consumer of this API, being the only way to
// interact with DBus file descriptors.
func contextFile(ctx context.Context, idx uint32) *os.File {
	v := ctx.Value(filesContextKey{})
	if v == nil {
		return nil
	}
	fsp, ok := v.(*[]*os.File)
	if !ok || fsp == nil {
		return nil
	}
	fs := *fsp
	if int(idx) >= len(fs) {
		return nil
	}

	return fs[int(idx)]
}

// writeFilesContextKey is the context key that carries file
// descriptors to be sent with a DBus message.
type writeFilesContextKey struct{}

// withContextPutFiles augments ctx with an output slice for files to
// be sent with a message.
func withContextPutFiles(ctx context.Context, files *[]*os.File) context.Context {
	return context.WithValue(ctx, writeFilesContextKey{}, files)
}

// contextPutFile adds file to the context's outgoing files buffer.
//
// [File] is the only consumer of this API, being the only way to
// interact with DBus file descriptors.
func contextPutFile(ctx context.Context, file *os.File) (idx uint32, err error) {
	v := ctx.Value(writeFilesContextKey{})
	if v == nil {
		return 0, errors.New("cannot send file descriptor: invalid context")
	}
	fsp, ok := v.(*[]*os.File)
	if !ok || fsp == nil {
		return 0, errors.New("cannot send file descriptor: invalid context")
	}

	*fsp = append(*fsp, file)
	return uint32(len(*fsp) - 1), nil
}

// callFlags collects the wire-level message flags that [CallOption]
// values can set for a single method call.
type callFlags struct {
	noAutoStart      bool
	allowInteractive bool
}

// CallOption adjusts the DBus message flags used for a single method
// call, via [Interface.Call], [Interface.OneWay], or the [Conn]
// bus-management methods that accept one.
type CallOption func(*callFlags)

// NoAutoStart prevents the bus from autostarting a service to own the
// destination name, if nothing currently owns it.
func NoAutoStart() CallOption {
	return func(f *callFlags) { f.noAutoStart = true }
}

// AllowInteractiveAuthorization tells the destination that the caller
// is prepared to wait for an interactive authorization prompt (for
// example a polkit dialog), if one is required to authorize the call.
func AllowInteractiveAuthorization() CallOption {
	return func(f *callFlags) { f.allowInteractive = true }
}

// callFlagsContextKey is the context key carrying the resolved
// [callFlags] for the call currently being sent.
type callFlagsContextKey struct{}

func withContextCallOptions(ctx context.Context, opts []CallOption) context.Context {
	if len(opts) == 0 {
		return ctx
	}
	var f callFlags
	for _, o := range opts {
		o(&f)
	}
	return context.WithValue(ctx, callFlagsContextKey{}, f)
}

// contextCallFlags returns the wire-level header flag byte
// corresponding to the [CallOption]s attached to ctx, excluding the
// no-reply-expected bit, which [Conn.call] sets itself.
func contextCallFlags(ctx context.Context) byte {
	v := ctx.Value(callFlagsContextKey{})
	f, ok := v.(callFlags)
	if !ok {
		return 0
	}
	var flags byte
	if f.noAutoStart {
		flags |= 0x2
	}
	if f.allowInteractive {
		flags |= 0x4
	}
	return flags
}
