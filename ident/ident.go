// Package ident defines the [Identity] type along with support code.
//
// An Identity names a package as seen by the loader: a human-readable
// name paired with the persistent UUID that actually identifies the
// package. Two identities denote the same package exactly when their
// UUIDs are equal; the name is a label, not an identifier. An identity
// with a nil UUID denotes an unregistered package that is known by name
// only, such as the top-level project of an environment that declares no
// UUID, or a script evaluated by inclusion.
package ident

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// An Identity is a (name, UUID) pair. It is comparable, but note that
// plain == compares both fields; use [Identity.Equal] for the package
// sameness relation, which is UUID-only for registered packages.
// The zero Identity is the anonymous top-level context.
type Identity struct {
	name string
	id   uuid.UUID
}

// New returns an identity for the given name and UUID.
// The name must satisfy [CheckName]. A nil UUID is permitted and
// denotes a name-only identity.
func New(name string, id uuid.UUID) (Identity, error) {
	if err := CheckName(name); err != nil {
		return Identity{}, err
	}
	return Identity{name: name, id: id}, nil
}

// MustNew is like [New] but panics on error.
// It is intended for tests and for identities built from constants.
func MustNew(name string, id uuid.UUID) Identity {
	v, err := New(name, id)
	if err != nil {
		panic(err)
	}
	return v
}

// NameOnly returns a nil-UUID identity for name.
func NameOnly(name string) (Identity, error) {
	return New(name, uuid.Nil)
}

// Parse parses the string form produced by [Identity.String]:
// either a bare name, or name@UUID.
func Parse(s string) (Identity, error) {
	name, u, ok := strings.Cut(s, "@")
	if !ok {
		return New(name, uuid.Nil)
	}
	id, err := uuid.Parse(u)
	if err != nil {
		return Identity{}, fmt.Errorf("invalid identity %q: %v", s, err)
	}
	return New(name, id)
}

// MustParse is like [Parse] but panics on error.
func MustParse(s string) Identity {
	v, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return v
}

// Name returns the package name.
func (p Identity) Name() string {
	return p.name
}

// UUID returns the package UUID, which is uuid.Nil for
// name-only identities.
func (p Identity) UUID() uuid.UUID {
	return p.id
}

// HasUUID reports whether p carries a non-nil UUID.
func (p Identity) HasUUID() bool {
	return p.id != uuid.Nil
}

// IsValid reports whether p is non-zero.
func (p Identity) IsValid() bool {
	return p.name != ""
}

// Equal reports whether p and q denote the same package:
// equal UUIDs, with names breaking the tie only when both
// UUIDs are nil.
func (p Identity) Equal(q Identity) bool {
	if p.id != q.id {
		return false
	}
	return p.id != uuid.Nil || p.name == q.name
}

// String returns name@UUID, or just the name when the UUID is nil.
func (p Identity) String() string {
	if p.id == uuid.Nil {
		return p.name
	}
	return p.name + "@" + p.id.String()
}

// A Key is the comparable form of an identity used to index the
// loaded-package table. Registered packages are keyed by UUID alone, so
// the same package imported under different names shares one key;
// name-only packages are keyed by name.
type Key struct {
	id   uuid.UUID
	name string
}

// Key returns the table key for p.
func (p Identity) Key() Key {
	if p.id != uuid.Nil {
		return Key{id: p.id}
	}
	return Key{name: p.name}
}

func (k Key) String() string {
	if k.id != uuid.Nil {
		return k.id.String()
	}
	return "name:" + k.name
}

// An InvalidNameError indicates that a package name does not satisfy
// the naming constraints checked by [CheckName].
type InvalidNameError struct {
	Name string
	Err  error
}

func (e *InvalidNameError) Error() string {
	return fmt.Sprintf("malformed package name %q: %v", e.Name, e.Err)
}

func (e *InvalidNameError) Unwrap() error { return e.Err }

// CheckName checks that a package name is usable both as an import name
// and as a path element of the depot layout. Names are ASCII
// identifiers: a letter or underscore followed by letters, digits and
// underscores. That keeps every derived filesystem path free of
// separators and shell metacharacters.
func CheckName(name string) error {
	bad := func(why string) error {
		return &InvalidNameError{Name: name, Err: fmt.Errorf("%s", why)}
	}
	if name == "" {
		return bad("empty name")
	}
	for i, r := range name {
		switch {
		case r == '_',
			'a' <= r && r <= 'z',
			'A' <= r && r <= 'Z':
		case '0' <= r && r <= '9':
			if i == 0 {
				return bad("name starts with a digit")
			}
		default:
			return bad(fmt.Sprintf("invalid character %q", r))
		}
	}
	return nil
}
