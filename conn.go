package dbus

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"iter"
	"maps"
	"net"
	"os"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/creachadair/mds/mapset"
	"github.com/riftbus/dbus/fragments"
	"github.com/riftbus/dbus/internal/dlog"
	"github.com/riftbus/dbus/transport"
)

// SystemBus connects to the system bus.
func SystemBus(ctx context.Context) (*Conn, error) {
	return newConn(ctx, "/run/dbus/system_bus_socket")
}

// SessionBus connects to the current user's session bus.
func SessionBus(ctx context.Context) (*Conn, error) {
	path := os.Getenv("DBUS_SESSION_BUS_ADDRESS")
	if path == "" {
		return nil, errors.New("session bus not available")
	}
	for _, uri := range strings.Split(path, ";") {
		addr, ok := strings.CutPrefix(uri, "unix:path=")
		if !ok {
			continue
		}
		return newConn(ctx, addr)
	}
	return nil, fmt.Errorf("could not find usable session bus address in DBUS_SESSION_BUS_ADDRESS value %q", path)
}

// Dial connects to the DBus server listening on a unix domain socket
// at path. It is mainly useful for connecting to a private or test
// bus instance; most programs should use [SystemBus] or [SessionBus]
// instead.
func Dial(ctx context.Context, path string) (*Conn, error) {
	return newConn(ctx, path)
}

func newConn(ctx context.Context, path string) (*Conn, error) {
	t, err := transport.DialUnix(ctx, path)
	if err != nil {
		return nil, err
	}
	ret := &Conn{
		t: t,
		enc: fragments.Encoder{
			Order:  fragments.NativeEndian,
			Mapper: encoderFor,
		},
		calls:   map[uint32]*pendingCall{},
		objects: map[ObjectPath]*registeredObject{},
		dispatch: newCallDispatcher(),
	}
	ret.machineID = sync.OnceValues(func() (string, error) {
		bs, err := os.ReadFile("/etc/machine-id")
		if errors.Is(err, fs.ErrNotExist) {
			bs, err = os.ReadFile("/var/lib/dbus/machine-id")
		}
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(bs)), nil
	})
	ret.bus = ret.
		Peer("org.freedesktop.DBus").
		Object("/org/freedesktop/DBus")

	go ret.readLoop()

	if err := ret.bus.Interface(ifaceBus).Call(ctx, "Hello", nil, &ret.clientID); err != nil {
		ret.Close()
		return nil, fmt.Errorf("getting DBus client ID: %w", err)
	}

	return ret, nil
}

// Conn is a DBus connection.
type Conn struct {
	t        transport.Transport
	clientID string

	bus Object

	writeMu sync.Mutex
	enc     fragments.Encoder
	encBody []byte
	encHdr  []byte

	mu         sync.Mutex
	closed     bool
	calls      map[uint32]*pendingCall
	lastSerial uint32
	watchers   mapset.Set[*Watcher]
	claims     mapset.Set[*Claim]
	// objects holds one entry per object path that has had a method or
	// property registered on it with [Conn.Handle] or
	// [RegisterProperty]. A path with no entry here has no Object
	// listening on it at all, per the "at most one Object per
	// (connection, path)" invariant: dispatchCall reports such a path
	// as org.freedesktop.DBus.Error.UnknownObject, including for the
	// ambient Peer and Introspectable interfaces.
	objects  map[ObjectPath]*registeredObject
	dispatch *callDispatcher
	// machineID lazily reads and caches the local machine ID served by
	// every registered object's org.freedesktop.DBus.Peer.GetMachineId.
	machineID func() (string, error)
}

// registeredObject is the set of interfaces, methods and properties
// registered on a single object path. Conn lazily creates one the
// first time a path is registered with [Conn.Handle] or
// [RegisterProperty], and installs the ambient Peer, Properties and
// Introspectable interfaces into it at that point.
type registeredObject struct {
	handlers   map[interfaceMember]registeredHandler
	properties map[interfaceMember]propertyHandler
}

type registeredHandler struct {
	fn       handlerFunc
	affinity Affinity
	// reqSig and respSig describe the method's argument and return
	// signatures, flattened to one DBus type per argument. They back
	// [Conn]'s generated org.freedesktop.DBus.Introspectable response
	// and are zero when the method takes or returns nothing. reqSig is
	// also what dispatchCall validates an inbound call's wire
	// signature against before invoking fn.
	reqSig, respSig Signature
}

type interfaceMember struct {
	Interface string
	Member    string
}

func (im interfaceMember) String() string {
	return im.Interface + "." + im.Member
}

type pendingCall struct {
	notify chan struct{}
	resp   any
	err    error
}

func (c *Conn) lockedWatchers() iter.Seq[*Watcher] {
	return func(yield func(*Watcher) bool) {
		c.mu.Lock()
		defer c.mu.Unlock()
		for w := range c.watchers {
			if !yield(w) {
				return
			}
		}
	}
}

// Close closes the DBus connection.
func (c *Conn) Close() error {
	var (
		pend map[uint32]*pendingCall
		ws   mapset.Set[*Watcher]
		cs   mapset.Set[*Claim]
	)
	{
		c.mu.Lock()
		c.closed = true
		pend, c.calls = c.calls, nil
		ws, c.watchers = c.watchers, nil
		cs, c.claims = c.claims, nil
		c.mu.Unlock()
	}
	for c := range maps.Values(pend) {
		c.err = net.ErrClosed
		close(c.notify)
	}
	for w := range ws {
		w.Close()
	}
	for c := range cs {
		c.Close()
	}
	c.dispatch.close()
	return c.t.Close()
}

// LocalName returns the connection's unique bus name.
func (c *Conn) LocalName() string {
	return c.clientID
}

// Peer returns a Peer for the given bus name.
//
// The returned value is a purely local handle. It does not indicate
// that the requested peer exists, or that it is currently reachable.
func (c *Conn) Peer(name string) Peer {
	return Peer{
		c:    c,
		name: name,
	}
}

func (c *Conn) writeMsg(ctx context.Context, hdr *header, body any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var files []*os.File
	c.encBody = c.encBody[:0]
	if body != nil {
		bodyCtx := withContextHeader(ctx, c, hdr)
		bodyCtx = withContextPutFiles(bodyCtx, &files)
		c.enc.Out = c.encBody
		if err := c.enc.Value(bodyCtx, body); err != nil {
			return err
		}
		sig, err := SignatureOf(body)
		if err != nil {
			return err
		}
		hdr.Length = uint32(len(c.enc.Out))
		hdr.Signature = sig.asMsgBody()
		hdr.NumFDs = uint32(len(files))
		c.encBody = c.enc.Out
	}

	c.enc.Out = c.encHdr[:0]
	if err := c.enc.Value(ctx, hdr); err != nil {
		return err
	}
	c.encHdr = c.enc.Out

	if _, err := c.t.WriteWithFiles(c.encHdr, files); err != nil {
		return TransportError{Op: "write header", Reason: err}
	}
	if _, err := c.t.Write(c.encBody); err != nil {
		return TransportError{Op: "write body", Reason: err}
	}

	return nil
}

func (c *Conn) readLoop() {
	log := dlog.Conn(c.clientID)
	for {
		if err := c.dispatchMsg(); errors.Is(err, net.ErrClosed) {
			// Conn was shut down.
			return
		} else if err != nil {
			// Errors that bubble out here represent a failure to
			// conform to the DBus protocol, or a dead transport, and
			// are fatal to the Conn: every pending call must be
			// unblocked rather than hang forever.
			log.Warnf("read error: %v", err)
			c.Close()
			return
		}
	}
}

type msg struct {
	header
	order fragments.ByteOrder
	body  []byte
	files []*os.File
}

func (m msg) Decoder() *fragments.Decoder {
	return &fragments.Decoder{
		Order:  m.order,
		Mapper: decoderFor,
		In:     bytes.NewBuffer(m.body),
	}
}

// readMsg reads one complete DBus message from c.t. Must not be
// called concurrently (Conn.dispatchMsg ensures this).
func (c *Conn) readMsg() (*msg, error) {
	dec := fragments.Decoder{
		Order:  fragments.NativeEndian,
		Mapper: decoderFor,
		In:     c.t,
	}
	var ret msg
	err := dec.Value(context.Background(), &ret.header)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
			return nil, err
		}
		return nil, TransportError{Op: "read header", Reason: err}
	}
	ret.body, err = io.ReadAll(io.LimitReader(c.t, int64(ret.header.Length)))
	if err != nil {
		return nil, TransportError{Op: "read body", Reason: err}
	}
	ret.order = dec.Order
	ret.files, err = c.t.GetFiles(int(ret.header.NumFDs))
	if err != nil {
		return nil, TransportError{Op: "read fds", Reason: err}
	}
	return &ret, nil
}

func (c *Conn) dispatchMsg() error {
	msg, err := c.readMsg()
	if err != nil {
		return err
	}
	if err := msg.Valid(); err != nil {
		return ProtocolError{Reason: err}
	}

	ctx := withContextHeader(context.Background(), c, &msg.header)
	if len(msg.files) > 0 {
		ctx = withContextFiles(ctx, &msg.files)
	}

	switch msg.Type {
	case msgTypeCall:
		c.dispatchCall(ctx, msg)
	case msgTypeReturn:
		return c.dispatchReturn(ctx, msg)
	case msgTypeError:
		return c.dispatchErr(msg)
	case msgTypeSignal:
		return c.dispatchSignal(ctx, msg)
	}
	return nil
}

// dispatchCall routes an inbound MethodCall to the Object registered
// at msg.Path, per the lookup order in the DBus dispatcher: unknown
// path, then unknown (interface, member) within that object, then a
// wire signature that disagrees with the method's declared input
// signature, each reported with its own named DispatchError.
func (c *Conn) dispatchCall(ctx context.Context, msg *msg) {
	reg, dispatchErr, serial := func() (registeredHandler, error, uint32) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return registeredHandler{}, nil, 0
		}
		c.lastSerial++
		serial := c.lastSerial

		obj, ok := c.objects[msg.Path]
		if !ok {
			return registeredHandler{}, dispatchErrf(
				"org.freedesktop.DBus.Error.UnknownObject",
				"no object registered at path %s", msg.Path,
			), serial
		}
		reg, ok := obj.handlers[interfaceMember{msg.Interface, msg.Member}]
		if !ok {
			return registeredHandler{}, dispatchErrf(
				"org.freedesktop.DBus.Error.UnknownMethod",
				"no method %s.%s on object %s", msg.Interface, msg.Member, msg.Path,
			), serial
		}
		if reg.reqSig.String() != msg.Signature.String() {
			return registeredHandler{}, dispatchErrf(
				"org.freedesktop.DBus.Error.InvalidArgs",
				"method %s.%s expects signature %q, got %q", msg.Interface, msg.Member, reg.reqSig, msg.Signature,
			), serial
		}
		return reg, nil, serial
	}()

	respHdr := &header{
		Type:        msgTypeReturn,
		Version:     1,
		Serial:      serial,
		Destination: msg.Sender,
		ReplySerial: msg.Serial,
	}

	if dispatchErr != nil {
		var de DispatchError
		errors.As(dispatchErr, &de)
		respHdr.Type = msgTypeError
		respHdr.ErrName = de.Name
		c.writeMsg(ctx, respHdr, de.Reason.Error())
		return
	}
	if reg.fn == nil {
		// c was closed between the read loop picking up msg and
		// dispatch taking the lock; nothing to reply to.
		return
	}

	c.dispatch.dispatch(reg.affinity, func() {
		resp, err := reg.fn(ctx, msg.Path, msg.Decoder())
		if err != nil {
			respHdr.Type = msgTypeError
			var de DispatchError
			if errors.As(err, &de) {
				respHdr.ErrName = de.Name
				c.writeMsg(ctx, respHdr, de.Reason.Error())
				return
			}
			respHdr.ErrName = "org.freedesktop.DBus.Error.Failed"
			c.writeMsg(ctx, respHdr, err.Error())
			return
		}
		c.writeMsg(ctx, respHdr, resp)
	})
}

func (c *Conn) dispatchReturn(ctx context.Context, msg *msg) error {
	pending := func() *pendingCall {
		c.mu.Lock()
		defer c.mu.Unlock()
		ret := c.calls[msg.ReplySerial]
		delete(c.calls, msg.ReplySerial)
		return ret
	}()

	if pending == nil {
		// Response to a canceled call
		return nil
	}

	if pending.resp != nil {
		if err := msg.Decoder().Value(ctx, pending.resp); err != nil {
			return err
		}
	}
	close(pending.notify)
	return nil
}

func (c *Conn) dispatchErr(msg *msg) error {
	pending := func() *pendingCall {
		c.mu.Lock()
		defer c.mu.Unlock()
		ret := c.calls[msg.ReplySerial]
		delete(c.calls, msg.ReplySerial)
		return ret
	}()

	if pending == nil {
		// Response to a canceled call
		return nil
	}

	errStr := func() string {
		if msg.Signature.IsZero() {
			return ""
		}
		if s := msg.Signature.String(); s != "s" && !strings.HasPrefix(s, "(s") {
			return ""
		}
		errStr, err := msg.Decoder().String()
		if err != nil {
			return fmt.Sprintf("got error while decoding error detail: %v", err)
		}
		return errStr
	}()

	pending.err = CallError{
		Name:   msg.ErrName,
		Detail: errStr,
	}
	close(pending.notify)
	return nil
}

func (c *Conn) dispatchSignal(ctx context.Context, msg *msg) error {
	var propErr error
	if msg.Interface == "org.freedesktop.DBus.Properties" && msg.Member == "PropertiesChanged" {
		propErr = c.dispatchPropChange(ctx, msg)
	}

	signalType := typeForSignal(msg.Interface, msg.Member, msg.Signature)
	if signalType == nil {
		signalType = msg.Signature.asStruct().Type()
	}
	if signalType == nil {
		signalType = reflect.TypeFor[struct{}]()
	}

	emitter, _ := ContextEmitter(ctx)

	signal := reflect.New(signalType)
	if err := msg.Decoder().Value(ctx, signal.Interface()); err != nil {
		return errors.Join(propErr, err)
	}

	for w := range c.lockedWatchers() {
		w.deliverSignal(emitter, &msg.header, signal)
	}

	return propErr
}

func (c *Conn) dispatchPropChange(ctx context.Context, msg *msg) error {
	// Make a copy of the body decoder, so that dispatchSignal can
	// still do the generic property change dispatch as well.
	body := msg.Decoder()

	iface, err := body.String()
	if err != nil {
		return err
	}

	emitter, _ := ContextEmitter(ctx)
	emitter = emitter.Object().Interface(iface)

	// Decode the change map[string]any by hand, so that we can
	// directly map each variant value to the correct property value
	// directly.
	_, err = body.Array(true, func(i int) error {
		err := body.Struct(func() error {
			propName, err := body.String()
			if err != nil {
				return err
			}
			var propSig Signature
			if err := body.Value(ctx, &propSig); err != nil {
				return err
			}
			t := propTypeFor(iface, propName)
			var v reflect.Value
			if t != nil {
				v = reflect.New(t)
			} else {
				v = reflect.New(propSig.Type())
			}
			if err := body.Value(ctx, v.Interface()); err != nil {
				return err
			}
			if t != nil {
				for w := range c.lockedWatchers() {
					w.deliverProp(emitter, &msg.header, interfaceMember{iface, propName}, v)
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return err
	}
	var invalidated []string
	if err := body.Value(ctx, &invalidated); err != nil {
		return err
	}
	for _, prop := range invalidated {
		t := propTypeFor(iface, prop)
		if t == nil {
			continue
		}
		for w := range c.lockedWatchers() {
			w.deliverProp(emitter, &msg.header, interfaceMember{iface, prop}, reflect.New(t))
		}
	}
	return nil
}

// call calls a remote method over the bus and records the response in
// the provided pointer.
//
// It is the caller's responsibility to supply the correct types of
// body and response for the method being called.
func (c *Conn) call(ctx context.Context, destination string, path ObjectPath, iface, method string, body any, response any, noReply bool) error {
	if response != nil && reflect.TypeOf(response).Kind() != reflect.Pointer {
		return errors.New("response parameter in Call must be a pointer, or nil")
	}

	serial, pending := func() (uint32, *pendingCall) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return 0, nil
		}

		c.lastSerial++
		pend := &pendingCall{
			notify: make(chan struct{}, 1),
			resp:   response,
		}
		c.calls[c.lastSerial] = pend
		return c.lastSerial, pend
	}()
	if pending == nil {
		return net.ErrClosed
	}
	defer func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.calls[serial] == pending {
			delete(c.calls, serial)
		}
	}()

	hdr := header{
		Type:        msgTypeCall,
		Flags:       contextCallFlags(ctx),
		Version:     1,
		Serial:      serial,
		Destination: destination,
		Path:        path,
		Interface:   iface,
		Member:      method,
	}
	if noReply {
		hdr.Flags |= 0x1
	}
	if err := hdr.Valid(); err != nil {
		return err
	}

	if err := c.writeMsg(context.Background(), &hdr, body); err != nil {
		return err // TODO: close transport?
	}

	if !hdr.WantReply() {
		return nil
	}

	select {
	case <-pending.notify:
		return pending.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// EmitSignal broadcasts signal from obj.
//
// The signal's type must be registered in advance with
// [RegisterSignalType].
func (c *Conn) EmitSignal(ctx context.Context, obj ObjectPath, signal any) error {
	t := reflect.TypeOf(signal)
	k, ok := signalNameFor(t)
	if !ok {
		return fmt.Errorf("unknown signal type %s", t)
	}
	serial := func() uint32 {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.closed {
			return 0
		}
		c.lastSerial++
		return c.lastSerial
	}()
	hdr := header{
		Type:      msgTypeSignal,
		Version:   1,
		Serial:    serial,
		Path:      obj,
		Interface: k.Interface,
		Member:    k.Member,
	}
	return c.writeMsg(ctx, &hdr, signal)
}

// Handle calls fn to handle incoming method calls to methodName on
// interfaceName, on the object at path.
//
// fn must have one of the following type signatures, where ReqType
// and RetType determine the method's [Signature].
//
//	func(context.Context, dbus.ObjectPath) error
//	func(context.Context, dbus.ObjectPath) (RetType, error)
//	func(context.Context, dbus.ObjectPath, ReqType) error
//	func(context.Context, dbus.ObjectPath, ReqType) (RetType, error)
//
// Handle panics if fn is not one of the above type signatures.
//
// The first call to Handle or [RegisterProperty] for a given path
// creates that path's Object and additionally installs the standard
// org.freedesktop.DBus.Peer, org.freedesktop.DBus.Properties and
// org.freedesktop.DBus.Introspectable interfaces on it. A path that
// has never been passed to Handle or RegisterProperty has no Object
// at all, and every call to it fails with UnknownObject.
//
// By default, fn runs on the shared worker pool, so that a slow
// handler doesn't stall the connection's read loop or other
// concurrent calls. Pass an explicit [Affinity] to change this, for
// example [OwnerThread] if fn must run serialized with other calls
// to the same object.
func (c *Conn) Handle(path ObjectPath, interfaceName, methodName string, fn any, affinity ...Affinity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj := c.ensureObjectLocked(path)
	c.registerHandlerLocked(obj, interfaceName, methodName, fn, affinity...)
}

// registerHandlerLocked installs fn as the handler for
// (interfaceName, methodName) on obj. c.mu must be held.
func (c *Conn) registerHandlerLocked(obj *registeredObject, interfaceName, methodName string, fn any, affinity ...Affinity) {
	handler := handlerForFunc(fn)
	a := Pool
	if len(affinity) > 0 {
		a = affinity[0]
	}

	t := reflect.TypeOf(fn)
	var reqSig, respSig Signature
	if t.NumIn() == 3 {
		reqSig = signatureOf(t.In(2)).asMsgBody()
	}
	if t.NumOut() == 2 {
		respSig = signatureOf(t.Out(0)).asMsgBody()
	}

	obj.handlers[interfaceMember{interfaceName, methodName}] = registeredHandler{
		fn:       handler,
		affinity: a,
		reqSig:   reqSig,
		respSig:  respSig,
	}
}

// ensureObjectLocked returns the registeredObject for path, creating
// it and wiring in the ambient Peer/Properties/Introspectable
// handlers if this is the first registration on path. c.mu must be
// held.
func (c *Conn) ensureObjectLocked(path ObjectPath) *registeredObject {
	if obj, ok := c.objects[path]; ok {
		return obj
	}
	obj := &registeredObject{
		handlers:   map[interfaceMember]registeredHandler{},
		properties: map[interfaceMember]propertyHandler{},
	}
	c.objects[path] = obj
	c.installAmbientLocked(obj)
	return obj
}

// installAmbientLocked registers the standard Peer, Properties and
// Introspectable interfaces on obj. c.mu must be held.
func (c *Conn) installAmbientLocked(obj *registeredObject) {
	c.registerHandlerLocked(obj, "org.freedesktop.DBus.Peer", "Ping", func(context.Context, ObjectPath) error {
		return nil
	})
	c.registerHandlerLocked(obj, "org.freedesktop.DBus.Peer", "GetMachineId", func(context.Context, ObjectPath) (string, error) {
		return c.machineID()
	})
	c.registerHandlerLocked(obj, ifaceProps, "Get", func(ctx context.Context, path ObjectPath, req struct {
		InterfaceName string
		PropertyName  string
	}) (any, error) {
		h, ok := c.lockedProperty(obj, req.InterfaceName, req.PropertyName)
		if !ok {
			return nil, fmt.Errorf("unknown property %s.%s", req.InterfaceName, req.PropertyName)
		}
		return h.get(ctx, path)
	})
	c.registerHandlerLocked(obj, ifaceProps, "Set", func(ctx context.Context, path ObjectPath, req struct {
		InterfaceName string
		PropertyName  string
		Value         any
	}) error {
		h, ok := c.lockedProperty(obj, req.InterfaceName, req.PropertyName)
		if !ok {
			return fmt.Errorf("unknown property %s.%s", req.InterfaceName, req.PropertyName)
		}
		if h.set == nil {
			return fmt.Errorf("property %s.%s is read-only", req.InterfaceName, req.PropertyName)
		}
		return h.set(ctx, path, req.Value)
	})
	c.registerHandlerLocked(obj, ifaceProps, "GetAll", func(ctx context.Context, path ObjectPath, interfaceName string) (map[string]any, error) {
		props := c.lockedPropertiesForInterface(obj, interfaceName)
		ret := make(map[string]any, len(props))
		for member, h := range props {
			v, err := h.get(ctx, path)
			if err != nil {
				return nil, err
			}
			ret[member] = v
		}
		return ret, nil
	})
	c.registerHandlerLocked(obj, "org.freedesktop.DBus.Introspectable", "Introspect", func(ctx context.Context, path ObjectPath) (string, error) {
		return c.introspectXML(path)
	})
}

// lockedProperty looks up a single registered property on obj,
// holding c.mu for the duration: obj.properties is mutated by
// [RegisterProperty] under this same lock, so handlers dispatched
// from [Conn.dispatchCall] must not read it unlocked.
func (c *Conn) lockedProperty(obj *registeredObject, interfaceName, propertyName string) (propertyHandler, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	h, ok := obj.properties[interfaceMember{interfaceName, propertyName}]
	return h, ok
}

// lockedPropertiesForInterface returns a snapshot of obj's properties
// for the given interface, keyed by property name.
func (c *Conn) lockedPropertiesForInterface(obj *registeredObject, interfaceName string) map[string]propertyHandler {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := make(map[string]propertyHandler, len(obj.properties))
	for k, h := range obj.properties {
		if k.Interface == interfaceName {
			ret[k.Member] = h
		}
	}
	return ret
}

// handlersForIntrospection returns a snapshot of the method handlers
// currently registered on path, grouped by interface name.
func (c *Conn) handlersForIntrospection(path ObjectPath) map[string][]struct {
	member          string
	reqSig, respSig Signature
} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := map[string][]struct {
		member          string
		reqSig, respSig Signature
	}{}
	obj, ok := c.objects[path]
	if !ok {
		return ret
	}
	for k, h := range obj.handlers {
		ret[k.Interface] = append(ret[k.Interface], struct {
			member          string
			reqSig, respSig Signature
		}{k.Member, h.reqSig, h.respSig})
	}
	return ret
}

// childPathsLocked returns the immediate child path segments of
// parent among c's registered object paths, for introspection's
// <node> children. c.mu must be held.
func (c *Conn) childPathsLocked(parent ObjectPath) []string {
	seen := map[string]bool{}
	var ret []string
	for p := range c.objects {
		if p == parent || !p.IsChildOf(parent) {
			continue
		}
		rest := strings.TrimPrefix(string(p), string(parent))
		rest = strings.TrimPrefix(rest, "/")
		child, _, _ := strings.Cut(rest, "/")
		if child != "" && !seen[child] {
			seen[child] = true
			ret = append(ret, child)
		}
	}
	slices.Sort(ret)
	return ret
}

type handlerFunc func(ctx context.Context, object ObjectPath, req *fragments.Decoder) (any, error)

func handlerForFunc(fn any) handlerFunc {
	v := reflect.ValueOf(fn)
	if !v.IsValid() {
		panic(errors.New("nil handler function given to Handle"))
	}
	t := v.Type()
	if t.Kind() != reflect.Func {
		panic(fmt.Errorf("Handle called with non-function handler type %s", t))
	}
	ni, no := t.NumIn(), t.NumOut()

	const msgInvalidHandlerSignature = "invalid signature %s for handler func, valid signatures are:\n  func(context.Context, dbus.ObjectPath, ReqT) (RespT, error)\n  func(context.Context, dbus.ObjectPath) (RespT, error)\n  func(context.Context, dbus.ObjectPath, ReqT) error\n  func(context.Context, dbus.ObjectPath) error"

	if ni < 2 || ni > 3 || no < 1 || no > 2 {
		panic(fmt.Errorf(msgInvalidHandlerSignature, t))
	}
	if !t.In(0).Implements(reflect.TypeFor[context.Context]()) {
		panic(fmt.Errorf(msgInvalidHandlerSignature, t))
	}
	if t.In(1) != reflect.TypeFor[ObjectPath]() {
		panic(fmt.Errorf(msgInvalidHandlerSignature, t))
	}
	if !t.Out(no - 1).Implements(reflect.TypeFor[error]()) {
		panic(fmt.Errorf(msgInvalidHandlerSignature, t))
	}
	var (
		reqDec fragments.DecoderFunc
		err    error
	)
	if ni == 3 {
		reqDec, err = decoderFor(t.In(2))
		if err != nil {
			panic(fmt.Errorf("request type %s is not a valid DBus type: %w", t.In(2), err))
		}
	}
	if no == 2 {
		if _, err = encoderFor(t.Out(0)); err != nil {
			if err != nil {
				panic(fmt.Errorf("response type %s is not a valid DBus type: %w", t.Out(0), err))
			}
		}
	}

	type s struct{ numIn, numOut int }
	switch (s{ni, no}) {
	case s{2, 1}:
		handler := fn.(func(context.Context, ObjectPath) error)
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			return nil, handler(ctx, obj)
		}
	case s{2, 2}:
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			rets := v.Call([]reflect.Value{reflect.ValueOf(ctx), reflect.ValueOf(obj)})
			if err, ok := rets[1].Interface().(error); ok && err != nil {
				return nil, err
			}
			return rets[0].Interface(), nil
		}
	case s{3, 1}:
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			body := reflect.New(t.In(2))
			if err := reqDec(ctx, req, body.Elem()); err != nil {
				return nil, err
			}
			rets := v.Call([]reflect.Value{
				reflect.ValueOf(ctx),
				reflect.ValueOf(obj),
				body.Elem(),
			})
			if err, ok := rets[0].Interface().(error); ok && err != nil {
				return nil, err
			}
			return nil, nil
		}
	case s{3, 2}:
		return func(ctx context.Context, obj ObjectPath, req *fragments.Decoder) (any, error) {
			body := reflect.New(t.In(2))
			if err := reqDec(ctx, req, body.Elem()); err != nil {
				return nil, err
			}
			rets := v.Call([]reflect.Value{
				reflect.ValueOf(ctx),
				reflect.ValueOf(obj),
				body.Elem(),
			})
			if err, ok := rets[1].Interface().(error); ok && err != nil {
				return nil, err
			}
			return rets[0].Interface(), nil
		}
	default:
		panic("unreachable")
	}
}
