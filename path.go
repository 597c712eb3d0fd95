package dbus

import (
	"fmt"
	"strings"
)

// ObjectPath is a slash-separated path naming an object exported by a
// DBus peer, such as "/com/example/MusicPlayer1".
//
// A valid object path is either "/", or one or more "/"-separated
// components, each matching [A-Za-z0-9_]+. ObjectPath values produced
// by this package are always valid; values received from a peer are
// validated before use.
type ObjectPath string

// Validate reports whether p is a syntactically valid DBus object
// path.
func (p ObjectPath) Validate() error {
	s := string(p)
	if s == "" {
		return fmt.Errorf("invalid object path: empty")
	}
	if s[0] != '/' {
		return fmt.Errorf("invalid object path %q: must start with /", s)
	}
	if s == "/" {
		return nil
	}
	if strings.HasSuffix(s, "/") {
		return fmt.Errorf("invalid object path %q: must not end with /", s)
	}
	for _, comp := range strings.Split(s[1:], "/") {
		if comp == "" {
			return fmt.Errorf("invalid object path %q: empty path component", s)
		}
		for _, r := range comp {
			if !isPathComponentRune(r) {
				return fmt.Errorf("invalid object path %q: illegal character %q in component %q", s, r, comp)
			}
		}
	}
	return nil
}

func isPathComponentRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z':
		return true
	case r >= 'A' && r <= 'Z':
		return true
	case r >= '0' && r <= '9':
		return true
	case r == '_':
		return true
	}
	return false
}

// Clean returns p with a trailing slash removed, except for the root
// path "/" which is returned unchanged.
//
// DBus object paths never have a trailing slash, but it's a common
// enough typo (and convenient enough when building paths by
// concatenation) that this package tolerates it by cleaning paths
// before they hit the wire.
func (p ObjectPath) Clean() ObjectPath {
	if len(p) > 1 && strings.HasSuffix(string(p), "/") {
		return p[:len(p)-1]
	}
	return p
}

// IsChildOf reports whether p names an object at or beneath the
// subtree rooted at prefix.
func (p ObjectPath) IsChildOf(prefix ObjectPath) bool {
	p, prefix = p.Clean(), prefix.Clean()
	if prefix == "/" {
		return true
	}
	if p == prefix {
		return true
	}
	return strings.HasPrefix(string(p), string(prefix)+"/")
}

// String returns p as a plain string.
func (p ObjectPath) String() string { return string(p) }
