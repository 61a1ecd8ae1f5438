/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"fmt"
	"sort"
	"strings"

	"github.com/suparena/kindstore/errors"
)

// Entity is a property map associated with exactly one key.
// The entity owns its properties; the accessors copy in and out.
type Entity struct {
	key   Key
	props map[string]any
}

// NewEntity returns an empty entity for key.
func NewEntity(key Key) *Entity {
	return &Entity{key: key, props: make(map[string]any)}
}

// Key returns the entity's current key. For an entity created with a partial
// key, this is the PartialKey until a commit assigns the complete key.
func (e *Entity) Key() Key {
	return e.key
}

// CompleteKey returns the complete key, or ok=false while the key is partial.
func (e *Entity) CompleteKey() (CompleteKey, bool) {
	ck, ok := e.key.(CompleteKey)
	return ck, ok
}

// Complete replaces a partial key with the complete key assigned by the backend.
// It succeeds at most once per entity and only for a key of the same kind.
func (e *Entity) Complete(key CompleteKey) error {
	if e.key == nil || !e.key.Partial() {
		return errors.NewInvalidKeyError(key.Kind(), fmt.Sprintf("entity key %v is already complete", e.key))
	}
	if e.key.Kind() != key.Kind() {
		return errors.NewInvalidKeyError(key.Kind(), fmt.Sprintf("cannot complete a key of kind %q", e.key.Kind()))
	}
	if key.IsZero() {
		return errors.NewInvalidKeyError(key.Kind(), "assigned key is empty")
	}
	e.key = key
	return nil
}

// Set assigns a property. Values are validated when the entity is written.
func (e *Entity) Set(name string, value any) {
	if e.props == nil {
		e.props = make(map[string]any)
	}
	e.props[name] = value
}

// Get returns a property value.
func (e *Entity) Get(name string) (any, bool) {
	v, ok := e.props[name]
	return v, ok
}

// Update sets every property in props.
func (e *Entity) Update(props map[string]any) {
	if e.props == nil {
		e.props = make(map[string]any, len(props))
	}
	for k, v := range props {
		e.props[k] = v
	}
}

// Delete removes a property.
func (e *Entity) Delete(name string) {
	delete(e.props, name)
}

// Len returns the number of properties.
func (e *Entity) Len() int {
	return len(e.props)
}

// Properties returns a copy of the property map.
func (e *Entity) Properties() map[string]any {
	out := make(map[string]any, len(e.props))
	for k, v := range e.props {
		out[k] = v
	}
	return out
}

// Normalize validates the entity and returns a normalized copy of its properties.
func (e *Entity) Normalize() (map[string]any, error) {
	if e.key == nil {
		return nil, errors.NewInvalidEntityError("<nil>", "", "entity has no key")
	}
	out := make(map[string]any, len(e.props))
	for name, v := range e.props {
		if name == "" {
			return nil, errors.NewInvalidEntityError(e.key.String(), name, "property name must not be empty")
		}
		nv, err := NormalizeValue(v)
		if err != nil {
			return nil, errors.NewInvalidEntityError(e.key.String(), name, err.Error())
		}
		out[name] = nv
	}
	return out, nil
}

// Equal reports whether both entities have the same key and equal properties.
func (e *Entity) Equal(o *Entity) bool {
	if e == nil || o == nil {
		return e == o
	}
	if e.key != o.key || len(e.props) != len(o.props) {
		return false
	}
	for name, v := range e.props {
		ov, ok := o.props[name]
		if !ok {
			return false
		}
		a, errA := NormalizeValue(v)
		b, errB := NormalizeValue(ov)
		if errA != nil || errB != nil || !valuesEqual(a, b) {
			return false
		}
	}
	return true
}

func (e *Entity) String() string {
	names := make([]string, 0, len(e.props))
	for name := range e.props {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	fmt.Fprintf(&b, "<Entity %v {", e.key)
	for i, name := range names {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s: %v", name, e.props[name])
	}
	b.WriteString("}>")
	return b.String()
}
