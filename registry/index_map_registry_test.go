/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suparena/kindstore/errors"
)

func TestIndexMaps(t *testing.T) {
	r := NewIndexMaps()

	assert.Equal(t, DefaultIndexMap, r.Get("Thing"))

	custom := map[string]string{"PK": "TENANT#{Kind}", "SK": "ENTITY#{Key}"}
	require.NoError(t, r.Register("Thing", custom))
	custom["PK"] = "mutated"
	assert.Equal(t, "TENANT#{Kind}", r.Get("Thing")["PK"], "Register must copy the map")
	assert.Equal(t, DefaultIndexMap, r.Get("Other"))
}

func TestRegisterRejectsBadLayouts(t *testing.T) {
	r := NewIndexMaps()
	for name, m := range map[string]map[string]string{
		"missing SK":        {"PK": "{Kind}"},
		"PK uses key":       {"PK": "{Kind}#{Key}", "SK": "{Key}"},
		"SK not unique":     {"PK": "{Kind}", "SK": "STATIC"},
		"empty PK template": {"PK": "", "SK": "{Key}"},
	} {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errors.IsInvalidKey(r.Register("Thing", m)))
		})
	}
}

func TestExpand(t *testing.T) {
	got := Expand(DefaultIndexMap, map[string]string{MacroKind: "Thing", MacroKey: "Thing:id:7"})
	assert.Equal(t, map[string]string{"PK": "KIND#Thing", "SK": "Thing:id:7"}, got)

	got = Expand(map[string]string{"SK": "{Unknown}x"}, nil)
	assert.Equal(t, "x", got["SK"])
}

func TestClone(t *testing.T) {
	r := NewIndexMaps()
	require.NoError(t, r.Register("Thing", map[string]string{"PK": "T#{Kind}", "SK": "{Key}"}))

	c := r.Clone()
	require.NoError(t, r.Register("Other", map[string]string{"PK": "O#{Kind}", "SK": "{Key}"}))
	require.NoError(t, c.Register("Thing", map[string]string{"PK": "C#{Kind}", "SK": "{Key}"}))

	assert.Equal(t, "T#{Kind}", r.Get("Thing")["PK"])
	assert.Equal(t, "C#{Kind}", c.Get("Thing")["PK"])
	assert.Equal(t, DefaultIndexMap, c.Get("Other"))
}
