package dbus

import (
	"cmp"
	"context"
	"encoding/xml"
	"fmt"
	"strings"
)

// Object is a handle to an object exported by a [Peer] at a given
// [ObjectPath].
type Object struct {
	p    Peer
	path ObjectPath
}

func (o Object) Conn() *Conn      { return o.p.Conn() }
func (o Object) Peer() Peer       { return o.p }
func (o Object) Path() ObjectPath { return o.path }

func (o Object) String() string {
	return fmt.Sprintf("%s:%s", o.p, o.path)
}

// Compare compares two objects, with the same convention as [cmp.Compare].
func (o Object) Compare(other Object) int {
	if ret := o.p.Compare(other.p); ret != 0 {
		return ret
	}
	return cmp.Compare(o.path, other.path)
}

func (o Object) Interface(name string) Interface {
	return Interface{
		o:    o,
		name: name,
	}
}

// Introspect asks the object for a description of its exported
// interfaces and child objects.
func (o Object) Introspect(ctx context.Context) (*ObjectDescription, error) {
	var xmlDoc string
	if err := o.Interface("org.freedesktop.DBus.Introspectable").Call(ctx, "Introspect", nil, &xmlDoc); err != nil {
		return nil, err
	}
	var desc ObjectDescription
	if err := xml.Unmarshal([]byte(xmlDoc), &desc); err != nil {
		return nil, fmt.Errorf("parsing introspection XML: %w", err)
	}
	return &desc, nil
}

// Child returns the Object at relPath, interpreted relative to o.
func (o Object) Child(relPath string) Object {
	relPath = strings.Trim(relPath, "/")
	path := string(o.path)
	if path != "/" {
		path += "/"
	}
	path += relPath
	return Object{
		p:    o.p,
		path: ObjectPath(path).Clean(),
	}
}
