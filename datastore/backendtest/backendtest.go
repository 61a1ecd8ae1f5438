/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package backendtest is a conformance suite for datastore.Backend implementations.
package backendtest

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suparena/kindstore/datastore"
	"github.com/suparena/kindstore/errors"
)

// Factory returns a fresh, empty backend. The suite closes it.
type Factory func(t *testing.T) datastore.Backend

var kindSeq int64

// uniqueKind keeps suites that share a remote table from seeing each other's data.
func uniqueKind(base string) string {
	return fmt.Sprintf("%s%d%d", base, time.Now().UnixNano()%1_000_000, atomic.AddInt64(&kindSeq, 1))
}

// SampleData is the classic (id, name, age) fixture.
var SampleData = []struct {
	ID   int64
	Name string
	Age  int64
}{
	{1234, "Computer", 10},
	{2345, "Computer", 8},
	{3456, "Laptop", 10},
	{4567, "Printer", 11},
	{5678, "Printer", 12},
	{6789, "Computer", 13},
}

func upsert(key datastore.Key, props map[string]any) datastore.Mutation {
	return datastore.Mutation{Op: datastore.OpUpsert, Key: key, Properties: props}
}

func del(key datastore.CompleteKey) datastore.Mutation {
	return datastore.Mutation{Op: datastore.OpDelete, Key: key}
}

func commit(t *testing.T, b datastore.Backend, muts ...datastore.Mutation) *datastore.CommitResponse {
	t.Helper()
	resp, err := b.Commit(context.Background(), &datastore.CommitRequest{TransactionID: "test", Mutations: muts})
	require.NoError(t, err)
	require.Len(t, resp.Keys, len(muts))
	return resp
}

func lookupOne(t *testing.T, b datastore.Backend, key datastore.CompleteKey) *datastore.Record {
	t.Helper()
	recs, err := b.Lookup(context.Background(), []datastore.CompleteKey{key})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0]
}

func collect(t *testing.T, b datastore.Backend, q *datastore.Query) []int64 {
	t.Helper()
	var ids []int64
	err := b.RunQuery(context.Background(), q, func(r *datastore.Record) error {
		ids = append(ids, r.Key.ID())
		return nil
	})
	require.NoError(t, err)
	return ids
}

// Run executes the conformance suite against backends produced by newBackend.
func Run(t *testing.T, newBackend Factory) {
	ctx := context.Background()

	open := func(t *testing.T) datastore.Backend {
		b := newBackend(t)
		t.Cleanup(func() { _ = b.Close() })
		return b
	}

	t.Run("LookupMissing", func(t *testing.T) {
		b := open(t)
		kind := uniqueKind("Missing")
		recs, err := b.Lookup(ctx, []datastore.CompleteKey{
			datastore.MustIDKey(kind, 1),
			datastore.MustNameKey(kind, "nope"),
		})
		require.NoError(t, err)
		assert.Equal(t, []*datastore.Record{nil, nil}, recs)
	})

	t.Run("RoundTripAndVersions", func(t *testing.T) {
		b := open(t)
		key := datastore.MustNameKey(uniqueKind("Thing"), "toy")
		commit(t, b, upsert(key, map[string]any{"name": "Toy"}))

		r := lookupOne(t, b, key)
		require.NotNil(t, r)
		assert.Equal(t, key, r.Key)
		assert.Equal(t, map[string]any{"name": "Toy"}, r.Properties)
		assert.Equal(t, int64(1), r.Version)

		commit(t, b, upsert(key, map[string]any{"name": "Toy", "age": int64(2)}))
		r = lookupOne(t, b, key)
		require.NotNil(t, r)
		assert.Equal(t, int64(2), r.Version)
		assert.Equal(t, int64(2), r.Properties["age"])
	})

	t.Run("ValueTypes", func(t *testing.T) {
		b := open(t)
		key := datastore.MustIDKey(uniqueKind("Typed"), 1)
		at := time.Date(2024, 2, 29, 23, 59, 59, 123456789, time.UTC)
		props := map[string]any{
			"s": "text",
			"i": int64(-42),
			"f": 2.5,
			"b": true,
			"y": []byte{1, 2, 3},
			"t": at,
			"n": nil,
		}
		commit(t, b, upsert(key, props))
		r := lookupOne(t, b, key)
		require.NotNil(t, r)
		assert.Equal(t, props, r.Properties)
	})

	t.Run("PartialKeyAllocation", func(t *testing.T) {
		b := open(t)
		kind := uniqueKind("Auto")
		existing := datastore.MustIDKey(kind, 1)
		commit(t, b, upsert(existing, map[string]any{"v": int64(0)}))

		pk, err := datastore.IncompleteKey(kind)
		require.NoError(t, err)
		resp := commit(t, b,
			upsert(pk, map[string]any{"v": int64(1)}),
			upsert(pk, map[string]any{"v": int64(2)}),
		)
		first, second := resp.Keys[0], resp.Keys[1]
		assert.Equal(t, kind, first.Kind())
		assert.True(t, first.HasID())
		assert.True(t, second.HasID())
		assert.NotEqual(t, first, second)
		assert.NotEqual(t, existing, first)
		assert.NotEqual(t, existing, second)

		r := lookupOne(t, b, first)
		require.NotNil(t, r)
		assert.Equal(t, int64(1), r.Properties["v"])
		r = lookupOne(t, b, existing)
		require.NotNil(t, r)
		assert.Equal(t, int64(0), r.Properties["v"], "allocation must not overwrite an existing id")
	})

	t.Run("PartialKeySkipsExplicitIDs", func(t *testing.T) {
		b := open(t)
		kind := uniqueKind("Mixed")
		pk, err := datastore.IncompleteKey(kind)
		require.NoError(t, err)
		one := datastore.MustIDKey(kind, 1)
		two := datastore.MustIDKey(kind, 2)

		resp := commit(t, b,
			upsert(pk, map[string]any{"name": "auto"}),
			upsert(one, map[string]any{"name": "one"}),
			upsert(two, map[string]any{"name": "two"}),
		)
		auto := resp.Keys[0]
		assert.NotEqual(t, one, auto)
		assert.NotEqual(t, two, auto)
		assert.Equal(t, one, resp.Keys[1])
		assert.Equal(t, two, resp.Keys[2])

		for key, name := range map[datastore.CompleteKey]string{auto: "auto", one: "one", two: "two"} {
			r := lookupOne(t, b, key)
			require.NotNil(t, r, key.Encode())
			assert.Equal(t, name, r.Properties["name"])
		}
	})

	t.Run("RejectsKeyWithoutKind", func(t *testing.T) {
		b := open(t)
		_, err := b.Commit(ctx, &datastore.CommitRequest{
			Mutations: []datastore.Mutation{upsert(datastore.CompleteKey{}, map[string]any{"v": int64(1)})},
		})
		assert.True(t, errors.IsInvalidKey(err), "got %v", err)

		_, err = b.Commit(ctx, &datastore.CommitRequest{
			Preconditions: []datastore.Precondition{{Key: datastore.CompleteKey{}}},
		})
		assert.True(t, errors.IsInvalidKey(err), "got %v", err)
	})

	t.Run("DeleteIsIdempotent", func(t *testing.T) {
		b := open(t)
		key := datastore.MustNameKey(uniqueKind("Thing"), "gone")
		commit(t, b, upsert(key, map[string]any{"x": int64(1)}))
		commit(t, b, del(key))
		assert.Nil(t, lookupOne(t, b, key))
		commit(t, b, del(key))
		assert.Nil(t, lookupOne(t, b, key))
	})

	t.Run("MutationOrder", func(t *testing.T) {
		b := open(t)
		kind := uniqueKind("Ordered")
		a := datastore.MustNameKey(kind, "a")
		c := datastore.MustNameKey(kind, "c")
		commit(t, b,
			upsert(a, map[string]any{"v": int64(1)}),
			del(a),
			del(c),
			upsert(c, map[string]any{"v": int64(1)}),
			upsert(c, map[string]any{"v": int64(2)}),
		)
		assert.Nil(t, lookupOne(t, b, a))
		r := lookupOne(t, b, c)
		require.NotNil(t, r)
		assert.Equal(t, int64(2), r.Properties["v"])
	})

	t.Run("PreconditionConflictIsAtomic", func(t *testing.T) {
		b := open(t)
		kind := uniqueKind("Guarded")
		guarded := datastore.MustNameKey(kind, "guarded")
		other := datastore.MustNameKey(kind, "other")
		commit(t, b, upsert(guarded, map[string]any{"v": int64(1)}))

		_, err := b.Commit(ctx, &datastore.CommitRequest{
			TransactionID: "stale",
			Mutations: []datastore.Mutation{
				upsert(other, map[string]any{"v": int64(1)}),
				upsert(guarded, map[string]any{"v": int64(2)}),
			},
			Preconditions: []datastore.Precondition{{Key: guarded, Version: 7}},
		})
		require.Error(t, err)
		assert.True(t, errors.IsCommitConflict(err), "got %v", err)

		assert.Nil(t, lookupOne(t, b, other), "no mutation of a failed commit may be visible")
		r := lookupOne(t, b, guarded)
		require.NotNil(t, r)
		assert.Equal(t, int64(1), r.Properties["v"])

		_, err = b.Commit(ctx, &datastore.CommitRequest{
			Mutations:     []datastore.Mutation{upsert(guarded, map[string]any{"v": int64(3)})},
			Preconditions: []datastore.Precondition{{Key: guarded, Version: 1}},
		})
		require.NoError(t, err)
	})

	t.Run("PreconditionAbsent", func(t *testing.T) {
		b := open(t)
		key := datastore.MustNameKey(uniqueKind("Fresh"), "k")
		req := func() *datastore.CommitRequest {
			return &datastore.CommitRequest{
				Mutations:     []datastore.Mutation{upsert(key, map[string]any{"v": int64(1)})},
				Preconditions: []datastore.Precondition{{Key: key, Version: 0}},
			}
		}
		_, err := b.Commit(ctx, req())
		require.NoError(t, err)
		_, err = b.Commit(ctx, req())
		assert.True(t, errors.IsCommitConflict(err), "got %v", err)
	})

	t.Run("Query", func(t *testing.T) {
		b := open(t)
		kind := uniqueKind("Sample")
		var muts []datastore.Mutation
		for _, d := range SampleData {
			muts = append(muts, upsert(datastore.MustIDKey(kind, d.ID), map[string]any{"name": d.Name, "age": d.Age}))
		}
		commit(t, b, muts...)
		commit(t, b, upsert(datastore.MustIDKey(uniqueKind("Noise"), 1234), map[string]any{"name": "Computer", "age": int64(10)}))

		all := collect(t, b, datastore.NewQuery(kind))
		assert.ElementsMatch(t, []int64{1234, 2345, 3456, 4567, 5678, 6789}, all)

		limited := collect(t, b, datastore.NewQuery(kind).Limit(2))
		assert.Len(t, limited, 2)
		assert.Subset(t, all, limited)

		computers := datastore.NewQuery(kind).Filter("name", "=", "Computer")
		assert.ElementsMatch(t, []int64{1234, 2345, 6789}, collect(t, b, computers))
		assert.Equal(t, []int64{1234}, collect(t, b, computers.Filter("age", "=", 10)))

		assert.Equal(t, []int64{6789, 5678}, collect(t, b, datastore.NewQuery(kind).Order("-age").Limit(2)))
		assert.ElementsMatch(t, []int64{4567, 5678, 6789}, collect(t, b, datastore.NewQuery(kind).Filter("age", ">", 10)))
		assert.Empty(t, collect(t, b, datastore.NewQuery(kind).Filter("name", "=", "Toaster")))
	})

	t.Run("QueryStopsWhenCallbackFails", func(t *testing.T) {
		b := open(t)
		kind := uniqueKind("Stop")
		var muts []datastore.Mutation
		for i := int64(1); i <= 5; i++ {
			muts = append(muts, upsert(datastore.MustIDKey(kind, i), map[string]any{"i": i}))
		}
		commit(t, b, muts...)

		stop := fmt.Errorf("stop")
		seen := 0
		err := b.RunQuery(ctx, datastore.NewQuery(kind), func(*datastore.Record) error {
			seen++
			return stop
		})
		assert.ErrorIs(t, err, stop)
		assert.Equal(t, 1, seen)
	})
}
