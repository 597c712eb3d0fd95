package dbus

import (
	"context"
	"fmt"
	"reflect"
	"sync"
)

// Well-known DBus interface names used internally for bus-level and
// property-related plumbing.
const (
	ifaceBus   = "org.freedesktop.DBus"
	ifaceProps = "org.freedesktop.DBus.Properties"
)

var (
	propertiesMu     sync.Mutex
	propertyTypes    = map[interfaceMember]reflect.Type{}
	propertyTypeName = map[reflect.Type]interfaceMember{}
)

// RegisterPropertyChangeType associates interfaceName's propertyName
// with a concrete Go type, so that [Watcher] delivers a typed
// [Notification] for that property's changes instead of decoding it
// using the signature carried by the wire PropertiesChanged signal.
func RegisterPropertyChangeType[T any](interfaceName, propertyName string) {
	key := interfaceMember{interfaceName, propertyName}
	t := reflect.TypeFor[T]()
	if _, err := SignatureFor[T](); err != nil {
		panic(fmt.Errorf("cannot use %s as dbus type for property %s.%s: %w", t, interfaceName, propertyName, err))
	}
	propertiesMu.Lock()
	defer propertiesMu.Unlock()
	if prev, ok := propertyTypes[key]; ok {
		panic(fmt.Errorf("duplicate property type registration for %s.%s, existing registration %s", interfaceName, propertyName, prev))
	}
	propertyTypes[key] = t
	propertyTypeName[t] = key
}

func propTypeFor(interfaceName, propertyName string) reflect.Type {
	propertiesMu.Lock()
	defer propertiesMu.Unlock()
	return propertyTypes[interfaceMember{interfaceName, propertyName}]
}

// propChangeNameFor returns the interface and property name a type
// was registered under with [RegisterPropertyChangeType].
func propChangeNameFor(t reflect.Type) (interfaceMember, bool) {
	propertiesMu.Lock()
	defer propertiesMu.Unlock()
	k, ok := propertyTypeName[t]
	return k, ok
}

// propertyHandler implements one property of a locally served
// interface.
type propertyHandler struct {
	get func(ctx context.Context, path ObjectPath) (any, error)
	set func(ctx context.Context, path ObjectPath, v any) error
	sig Signature
}

// RegisterProperty exposes a property named propertyName on
// interfaceName, for the object at path. set may be nil to advertise
// a read-only property.
//
// RegisterProperty only wires up the org.freedesktop.DBus.Properties
// Get/Set/GetAll methods; it does not itself detect changes. Callers
// that change a registered property's value should follow up with
// [Conn.EmitPropertiesChanged] so that watching peers learn about the
// change.
//
// Like [Conn.Handle], the first call to RegisterProperty or Handle
// for path creates that path's Object and installs the ambient
// Peer/Properties/Introspectable interfaces on it.
//
// RegisterProperty is a free function rather than a method because Go
// does not allow generic methods: the type parameter T both validates
// get/set against a single DBus-representable type and supplies the
// type information reported by [Conn]'s generated
// org.freedesktop.DBus.Introspectable response.
func RegisterProperty[T any](c *Conn, path ObjectPath, interfaceName, propertyName string, get func(ctx context.Context, path ObjectPath) (T, error), set func(ctx context.Context, path ObjectPath, v T) error) {
	sig, err := SignatureFor[T]()
	if err != nil {
		panic(fmt.Errorf("cannot use %T as dbus type for property %s.%s: %w", *new(T), interfaceName, propertyName, err))
	}

	h := propertyHandler{
		get: func(ctx context.Context, path ObjectPath) (any, error) {
			return get(ctx, path)
		},
		sig: sig,
	}
	if set != nil {
		h.set = func(ctx context.Context, path ObjectPath, v any) error {
			tv, ok := v.(T)
			if !ok {
				return fmt.Errorf("cannot set property %s.%s: value of type %T is not assignable to %T", interfaceName, propertyName, v, tv)
			}
			return set(ctx, path, tv)
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	obj := c.ensureObjectLocked(path)
	obj.properties[interfaceMember{interfaceName, propertyName}] = h
}

// EmitPropertiesChanged broadcasts a PropertiesChanged signal for
// obj's interfaceName, reporting the new values in changed and the
// invalidation of the property names in invalidated.
func (c *Conn) EmitPropertiesChanged(ctx context.Context, obj ObjectPath, interfaceName string, changed map[string]any, invalidated []string) error {
	changedVariants := make(map[string]Variant, len(changed))
	for k, v := range changed {
		changedVariants[k] = Variant{v}
	}
	body := struct {
		Interface   string
		Changed     map[string]Variant
		Invalidated []string
	}{interfaceName, changedVariants, invalidated}
	return c.EmitSignal(ctx, obj, body)
}

// propertiesForIntrospection returns a snapshot of the properties
// currently registered on path, grouped by interface name. Get/Set/
// GetAll themselves are installed per-object by installAmbientLocked
// in conn.go, not here: they close over the object's live properties
// map directly rather than a snapshot.
func (c *Conn) propertiesForIntrospection(path ObjectPath) map[string][]struct {
	member   string
	sig      Signature
	writable bool
} {
	c.mu.Lock()
	defer c.mu.Unlock()
	ret := map[string][]struct {
		member   string
		sig      Signature
		writable bool
	}{}
	obj, ok := c.objects[path]
	if !ok {
		return ret
	}
	for k, h := range obj.properties {
		ret[k.Interface] = append(ret[k.Interface], struct {
			member   string
			sig      Signature
			writable bool
		}{k.Member, h.sig, h.set != nil})
	}
	return ret
}
