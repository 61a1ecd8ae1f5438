/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/suparena/kindstore/errors"
)

// Key identifies an entity. It is either a PartialKey, which names only a
// kind, or a CompleteKey, which also carries an integer id or a string name.
// The interface is sealed: no other implementations exist.
type Key interface {
	// Kind returns the entity kind, analogous to a table name.
	Kind() string
	// Partial reports whether the key still lacks an identifier.
	Partial() bool
	String() string

	sealed()
}

// PartialKey names a kind without an identifier. The backend allocates an id
// when an entity with a partial key is committed; the PartialKey value itself
// never changes.
type PartialKey struct {
	kind string
}

// CompleteKey identifies exactly one entity: a kind plus either an id or a name.
// Only complete keys can be used for Get and Delete.
type CompleteKey struct {
	kind string
	id   int64
	name string
}

func (k PartialKey) Kind() string  { return k.kind }
func (k PartialKey) Partial() bool { return true }
func (k PartialKey) String() string {
	return k.kind + ":?"
}
func (PartialKey) sealed() {}

func (k CompleteKey) Kind() string  { return k.kind }
func (k CompleteKey) Partial() bool { return false }
func (k CompleteKey) String() string {
	return k.Encode()
}
func (CompleteKey) sealed() {}

// ID returns the integer identifier, or 0 for a named key.
func (k CompleteKey) ID() int64 { return k.id }

// Name returns the string identifier, or "" for an id key.
func (k CompleteKey) Name() string { return k.name }

// HasID reports whether the key is identified by an integer id.
func (k CompleteKey) HasID() bool { return k.id != 0 }

// Identifier returns the id as int64 or the name as string.
func (k CompleteKey) Identifier() any {
	if k.HasID() {
		return k.id
	}
	return k.name
}

// IsZero reports whether k is the zero CompleteKey, which identifies nothing.
func (k CompleteKey) IsZero() bool {
	return k.kind == "" && k.id == 0 && k.name == ""
}

// Encode returns the stable string form of the key, "Kind:id:42" or "Kind:name:foo".
func (k CompleteKey) Encode() string {
	if k.HasID() {
		return k.kind + ":id:" + strconv.FormatInt(k.id, 10)
	}
	return k.kind + ":name:" + k.name
}

// Compare orders keys by kind, then id keys before named keys, ids ascending
// and names ascending.
func (k CompleteKey) Compare(o CompleteKey) int {
	if c := strings.Compare(k.kind, o.kind); c != 0 {
		return c
	}
	switch {
	case k.HasID() && !o.HasID():
		return -1
	case !k.HasID() && o.HasID():
		return 1
	case k.HasID():
		switch {
		case k.id < o.id:
			return -1
		case k.id > o.id:
			return 1
		}
		return 0
	}
	return strings.Compare(k.name, o.name)
}

func validateKind(kind string) error {
	if kind == "" {
		return errors.NewInvalidKeyError("", "kind is required")
	}
	if strings.Contains(kind, ":") {
		return errors.NewInvalidKeyError(kind, "kind must not contain ':'")
	}
	return nil
}

// IncompleteKey returns a partial key of the given kind.
func IncompleteKey(kind string) (PartialKey, error) {
	if err := validateKind(kind); err != nil {
		return PartialKey{}, err
	}
	return PartialKey{kind: kind}, nil
}

// IDKey returns a complete key identified by a positive integer id.
func IDKey(kind string, id int64) (CompleteKey, error) {
	if err := validateKind(kind); err != nil {
		return CompleteKey{}, err
	}
	if id <= 0 {
		return CompleteKey{}, errors.NewInvalidKeyError(kind, fmt.Sprintf("id must be positive, got %d", id))
	}
	return CompleteKey{kind: kind, id: id}, nil
}

// NameKey returns a complete key identified by a non-empty name.
func NameKey(kind, name string) (CompleteKey, error) {
	if err := validateKind(kind); err != nil {
		return CompleteKey{}, err
	}
	if name == "" {
		return CompleteKey{}, errors.NewInvalidKeyError(kind, "name must not be empty")
	}
	return CompleteKey{kind: kind, name: name}, nil
}

// NewKey builds a key from an optional identifier: nil yields a PartialKey,
// a string yields a named key and any integer type yields an id key.
func NewKey(kind string, identifier any) (Key, error) {
	switch id := identifier.(type) {
	case nil:
		return IncompleteKey(kind)
	case string:
		return NameKey(kind, id)
	case int:
		return IDKey(kind, int64(id))
	case int8:
		return IDKey(kind, int64(id))
	case int16:
		return IDKey(kind, int64(id))
	case int32:
		return IDKey(kind, int64(id))
	case int64:
		return IDKey(kind, id)
	case uint8:
		return IDKey(kind, int64(id))
	case uint16:
		return IDKey(kind, int64(id))
	case uint32:
		return IDKey(kind, int64(id))
	case uint:
		if uint64(id) > 1<<63-1 {
			return nil, errors.NewInvalidKeyError(kind, "id overflows int64")
		}
		return IDKey(kind, int64(id))
	case uint64:
		if id > 1<<63-1 {
			return nil, errors.NewInvalidKeyError(kind, "id overflows int64")
		}
		return IDKey(kind, int64(id))
	default:
		return nil, errors.NewInvalidKeyError(kind, fmt.Sprintf("unsupported identifier type %T", identifier))
	}
}

// DecodeKey parses the output of CompleteKey.Encode.
func DecodeKey(s string) (CompleteKey, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok {
		return CompleteKey{}, errors.NewInvalidKeyError("", fmt.Sprintf("malformed encoded key %q", s))
	}
	switch {
	case strings.HasPrefix(rest, "id:"):
		id, err := strconv.ParseInt(strings.TrimPrefix(rest, "id:"), 10, 64)
		if err != nil {
			return CompleteKey{}, errors.NewInvalidKeyError(kind, fmt.Sprintf("malformed id in %q", s))
		}
		return IDKey(kind, id)
	case strings.HasPrefix(rest, "name:"):
		return NameKey(kind, strings.TrimPrefix(rest, "name:"))
	}
	return CompleteKey{}, errors.NewInvalidKeyError(kind, fmt.Sprintf("malformed encoded key %q", s))
}

// MustIDKey is like IDKey but panics on error. It is meant for static keys in tests and examples.
func MustIDKey(kind string, id int64) CompleteKey {
	k, err := IDKey(kind, id)
	if err != nil {
		panic(err)
	}
	return k
}

// MustNameKey is like NameKey but panics on error.
func MustNameKey(kind, name string) CompleteKey {
	k, err := NameKey(kind, name)
	if err != nil {
		panic(err)
	}
	return k
}
