/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/suparena/kindstore/errors"
)

// Macros available in index map templates.
const (
	MacroKind = "Kind" // entity kind
	MacroKey  = "Key"  // encoded complete key, e.g. Thing:id:42
	MacroID   = "ID"   // integer id, empty for named keys
	MacroName = "Name" // name, empty for id keys
)

// DefaultIndexMap partitions the table by kind and sorts by encoded key.
var DefaultIndexMap = map[string]string{
	"PK": "KIND#{Kind}",
	"SK": "{Key}",
}

var macroPattern = regexp.MustCompile(`{([^}]+)}`)

// IndexMaps associates kinds with DynamoDB key templates (PK, SK).
type IndexMaps struct {
	mu   sync.RWMutex
	maps map[string]map[string]string
}

// NewIndexMaps returns an empty registry; unregistered kinds use DefaultIndexMap.
func NewIndexMaps() *IndexMaps {
	return &IndexMaps{maps: make(map[string]map[string]string)}
}

// Default holds the package-level registrations. A backend that is not given
// its own registry takes a snapshot of Default when it is created.
var Default = NewIndexMaps()

// Register associates a kind with an index map. The map must define PK and SK,
// and PK may only use the {Kind} macro so that a kind can be queried from one partition.
func (r *IndexMaps) Register(kind string, idxMap map[string]string) error {
	pk, okPK := idxMap["PK"]
	sk, okSK := idxMap["SK"]
	if !okPK || !okSK || pk == "" || sk == "" {
		return errors.NewInvalidKeyError(kind, "index map must define PK and SK")
	}
	for _, m := range macroPattern.FindAllStringSubmatch(pk, -1) {
		if m[1] != MacroKind {
			return errors.NewInvalidKeyError(kind, fmt.Sprintf("PK template may only use {%s}, found {%s}", MacroKind, m[1]))
		}
	}
	if !strings.Contains(sk, "{"+MacroKey+"}") && !strings.Contains(sk, "{"+MacroID+"}{"+MacroName+"}") {
		return errors.NewInvalidKeyError(kind, fmt.Sprintf("SK template must contain {%s} to stay unique", MacroKey))
	}

	copied := make(map[string]string, len(idxMap))
	for k, v := range idxMap {
		copied[k] = v
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.maps[kind] = copied
	return nil
}

// Clone returns an independent copy of the registry. Later registrations on
// either side are not seen by the other.
func (r *IndexMaps) Clone() *IndexMaps {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := NewIndexMaps()
	for kind, m := range r.maps {
		c.maps[kind] = m
	}
	return c
}

// Get retrieves the index map for kind, falling back to DefaultIndexMap.
func (r *IndexMaps) Get(kind string) map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if m, ok := r.maps[kind]; ok {
		return m
	}
	return DefaultIndexMap
}

// Expand replaces every {Macro} in each template with its value from vars.
// Unknown macros expand to the empty string.
func Expand(idxMap map[string]string, vars map[string]string) map[string]string {
	res := make(map[string]string, len(idxMap))
	for field, template := range idxMap {
		res[field] = macroPattern.ReplaceAllStringFunc(template, func(macro string) string {
			return vars[strings.Trim(macro, "{}")]
		})
	}
	return res
}

// RegisterIndexMap registers an index map on the Default registry.
func RegisterIndexMap(kind string, idxMap map[string]string) error {
	return Default.Register(kind, idxMap)
}

// GetIndexMap retrieves the index map for kind from the Default registry.
func GetIndexMap(kind string) map[string]string {
	return Default.Get(kind)
}
