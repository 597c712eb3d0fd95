package dbus

import (
	"fmt"
	"reflect"
	"sync"
)

var (
	signalsMu     sync.Mutex
	signalTypes   = map[string]reflect.Type{}
	signalTypeKey = map[reflect.Type]interfaceMember{}
)

// RegisterSignalType associates a Go type with the DBus signal
// interfaceName.signalName, so that [Conn.Watch] can decode the
// signal's body and [Match.Signal] can filter for it by name instead
// of by raw wire signature.
func RegisterSignalType[T any](interfaceName, signalName string) {
	name := interfaceName + "." + signalName
	t := reflect.TypeFor[T]()
	if _, err := SignatureFor[T](); err != nil {
		panic(fmt.Errorf("cannot use %s as dbus type for signal %s: %w", t, name, err))
	}
	signalsMu.Lock()
	defer signalsMu.Unlock()
	if prev, ok := signalTypes[name]; ok {
		panic(fmt.Errorf("duplicate signal type registration for %s, existing registration %s", name, prev))
	}
	signalTypes[name] = t
	signalTypeKey[t] = interfaceMember{interfaceName, signalName}
}

// typeForSignal returns the Go type registered for a received signal,
// falling back to the type described by the signal's own wire
// signature if none was registered.
func typeForSignal(interfaceName, signalName string, sig Signature) reflect.Type {
	name := interfaceName + "." + signalName
	signalsMu.Lock()
	defer signalsMu.Unlock()
	if ret := signalTypes[name]; ret != nil {
		return ret
	}
	if !sig.IsZero() {
		return sig.Type()
	}
	return nil
}

// signalNameFor returns the interface and member name a signal type
// was registered under with [RegisterSignalType].
func signalNameFor(t reflect.Type) (interfaceMember, bool) {
	signalsMu.Lock()
	defer signalsMu.Unlock()
	k, ok := signalTypeKey[t]
	return k, ok
}
