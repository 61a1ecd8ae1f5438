/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package boltdb

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suparena/kindstore/datastore"
	"github.com/suparena/kindstore/datastore/backendtest"
)

func openTemp(t *testing.T) *Backend {
	b, err := Open(filepath.Join(t.TempDir(), "kindstore.db"), 0)
	require.NoError(t, err)
	return b
}

func TestConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) datastore.Backend {
		return openTemp(t)
	})
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	b, err := Open(path, 0)
	require.NoError(t, err)
	pk, err := datastore.IncompleteKey("Thing")
	require.NoError(t, err)
	resp, err := b.Commit(ctx, &datastore.CommitRequest{Mutations: []datastore.Mutation{
		{Op: datastore.OpUpsert, Key: pk, Properties: map[string]any{"age": int64(10)}},
	}})
	require.NoError(t, err)
	require.NoError(t, b.Close())

	b, err = Open(path, 0)
	require.NoError(t, err)
	defer b.Close()

	recs, err := b.Lookup(ctx, resp.Keys)
	require.NoError(t, err)
	require.NotNil(t, recs[0])
	assert.Equal(t, int64(10), recs[0].Properties["age"])

	seq, err := b.Sequence("Thing")
	require.NoError(t, err)
	assert.Equal(t, uint64(resp.Keys[0].ID()), seq)

	stats, err := b.Stats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats["Thing"])
}
