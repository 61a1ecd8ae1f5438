/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"math"
	"os"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suparena/kindstore/datastore"
	"github.com/suparena/kindstore/datastore/backendtest"
	"github.com/suparena/kindstore/errors"
	"github.com/suparena/kindstore/registry"
)

func newTestBackend(client API) *Backend {
	return NewWithClient(client, Options{Table: "kindstore-test", PageSize: 2})
}

func TestBackendConformance(t *testing.T) {
	backendtest.Run(t, func(t *testing.T) datastore.Backend {
		return newTestBackend(newFakeDynamo())
	})
}

func TestLookupFollowsUnprocessedKeys(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	b := newTestBackend(fake)

	a, c := datastore.MustNameKey("Thing", "a"), datastore.MustNameKey("Thing", "c")
	_, err := b.Commit(ctx, &datastore.CommitRequest{Mutations: []datastore.Mutation{
		{Op: datastore.OpUpsert, Key: a, Properties: map[string]any{"v": int64(1)}},
		{Op: datastore.OpUpsert, Key: c, Properties: map[string]any{"v": int64(3)}},
	}})
	require.NoError(t, err)

	fake.unprocessed = true
	recs, err := b.Lookup(ctx, []datastore.CompleteKey{a, datastore.MustNameKey("Thing", "b"), c, a})
	require.NoError(t, err)
	require.Len(t, recs, 4)
	require.NotNil(t, recs[0])
	assert.Nil(t, recs[1])
	require.NotNil(t, recs[2])
	assert.Equal(t, int64(3), recs[2].Properties["v"])
	require.NotNil(t, recs[3])
	assert.NotSame(t, recs[0], recs[3], "duplicate keys get distinct records")
}

func TestCommitCollapsesMutationsPerKey(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	b := newTestBackend(fake)

	key := datastore.MustNameKey("Thing", "k")
	other := datastore.MustNameKey("Thing", "other")
	_, err := b.Commit(ctx, &datastore.CommitRequest{
		TransactionID: "3f1c2a9e-6a4b-4c1e-9d55-0f7a2b8c9d10",
		Mutations: []datastore.Mutation{
			{Op: datastore.OpUpsert, Key: key, Properties: map[string]any{"v": int64(1)}},
			{Op: datastore.OpDelete, Key: key},
			{Op: datastore.OpUpsert, Key: key, Properties: map[string]any{"v": int64(2)}},
		},
		Preconditions: []datastore.Precondition{{Key: key, Version: 0}, {Key: other, Version: 0}},
	})
	require.NoError(t, err)

	require.Len(t, fake.transactions, 1)
	input := fake.transactions[0]
	require.Len(t, input.TransactItems, 2)
	require.NotNil(t, input.TransactItems[0].Update)
	assert.Equal(t, "attribute_not_exists(#pk)", aws.ToString(input.TransactItems[0].Update.ConditionExpression))
	assert.NotNil(t, input.TransactItems[1].ConditionCheck)
	assert.Equal(t, "3f1c2a9e-6a4b-4c1e-9d55-0f7a2b8c9d10", aws.ToString(input.ClientRequestToken))

	recs, err := b.Lookup(ctx, []datastore.CompleteKey{key})
	require.NoError(t, err)
	require.NotNil(t, recs[0])
	assert.Equal(t, int64(2), recs[0].Properties["v"])
}

func TestCommitConflictNamesKeys(t *testing.T) {
	ctx := context.Background()
	b := newTestBackend(newFakeDynamo())

	key := datastore.MustNameKey("Thing", "k")
	_, err := b.Commit(ctx, &datastore.CommitRequest{Mutations: []datastore.Mutation{
		{Op: datastore.OpUpsert, Key: key, Properties: map[string]any{"v": int64(1)}},
	}})
	require.NoError(t, err)

	_, err = b.Commit(ctx, &datastore.CommitRequest{
		TransactionID: "tx-1",
		Mutations:     []datastore.Mutation{{Op: datastore.OpDelete, Key: key}},
		Preconditions: []datastore.Precondition{{Key: key, Version: 5}},
	})
	require.Error(t, err)
	var conflict *errors.CommitConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "tx-1", conflict.TransactionID)
	assert.Equal(t, []string{key.Encode()}, conflict.Keys)
}

func TestCommitMapsServiceErrors(t *testing.T) {
	ctx := context.Background()
	key := datastore.MustNameKey("Thing", "k")
	req := &datastore.CommitRequest{Mutations: []datastore.Mutation{
		{Op: datastore.OpUpsert, Key: key, Properties: map[string]any{"v": int64(1)}},
	}}

	fake := newFakeDynamo()
	fake.transactErr = &types.ProvisionedThroughputExceededException{Message: aws.String("slow down")}
	_, err := newTestBackend(fake).Commit(ctx, req)
	assert.True(t, errors.IsBackendUnavailable(err), "got %v", err)
	assert.True(t, errors.IsRetryable(err))

	fake = newFakeDynamo()
	fake.transactErr = &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{{Code: aws.String(reasonTransactionConflict)}},
	}
	_, err = newTestBackend(fake).Commit(ctx, req)
	assert.True(t, errors.IsCommitConflict(err), "got %v", err)

	fake = newFakeDynamo()
	fake.transactErr = &smithy.GenericAPIError{Code: "AccessDeniedException", Message: "no"}
	_, err = newTestBackend(fake).Commit(ctx, req)
	assert.True(t, errors.IsBackendUnavailable(err), "got %v", err)
	assert.Contains(t, err.Error(), "AccessDeniedException")
}

func TestCommitRejectsNonFiniteFloats(t *testing.T) {
	b := newTestBackend(newFakeDynamo())
	_, err := b.Commit(context.Background(), &datastore.CommitRequest{Mutations: []datastore.Mutation{{
		Op:         datastore.OpUpsert,
		Key:        datastore.MustIDKey("Thing", 1),
		Properties: map[string]any{"bad": math.Inf(1)},
	}}})
	assert.True(t, errors.IsInvalidEntity(err), "got %v", err)
}

func TestCustomIndexMap(t *testing.T) {
	ctx := context.Background()
	layouts := registry.NewIndexMaps()
	require.NoError(t, layouts.Register("Player", map[string]string{
		"PK": "GAME#{Kind}",
		"SK": "PLAYER#{Key}",
	}))

	fake := newFakeDynamo()
	b := NewWithClient(fake, Options{Table: "kindstore-test", Layouts: layouts})
	key := datastore.MustNameKey("Player", "ann")
	_, err := b.Commit(ctx, &datastore.CommitRequest{Mutations: []datastore.Mutation{
		{Op: datastore.OpUpsert, Key: key, Properties: map[string]any{"score": int64(10)}},
	}})
	require.NoError(t, err)

	item, ok := fake.items["GAME#Player\x00PLAYER#Player:name:ann"]
	require.True(t, ok, "item stored under the registered layout")
	assert.Equal(t, "Player", sAttr(item, attrKind))

	var found []string
	err = b.RunQuery(ctx, datastore.NewQuery("Player").Filter("score", "=", 10), func(r *datastore.Record) error {
		found = append(found, r.Key.Name())
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ann"}, found)
}

func TestDefaultLayoutsAreSnapshotted(t *testing.T) {
	ctx := context.Background()
	kind := "SnapshotKind"
	b := NewWithClient(newFakeDynamo(), Options{Table: "kindstore-test"})
	require.NoError(t, registry.RegisterIndexMap(kind, map[string]string{"PK": "LATE#{Kind}", "SK": "{Key}"}))

	key := datastore.MustNameKey(kind, "x")
	fake := b.client.(*fakeDynamo)
	_, err := b.Commit(ctx, &datastore.CommitRequest{Mutations: []datastore.Mutation{
		{Op: datastore.OpUpsert, Key: key, Properties: map[string]any{"v": int64(1)}},
	}})
	require.NoError(t, err)

	_, ok := fake.items["KIND#"+kind+"\x00"+key.Encode()]
	assert.True(t, ok, "a registration made after creation must not change the backend's layout")
}

func TestQueryLimitStopsPaging(t *testing.T) {
	ctx := context.Background()
	fake := newFakeDynamo()
	b := newTestBackend(fake)

	var muts []datastore.Mutation
	for i := int64(1); i <= 9; i++ {
		muts = append(muts, datastore.Mutation{Op: datastore.OpUpsert, Key: datastore.MustIDKey("Thing", i), Properties: map[string]any{"i": i}})
	}
	_, err := b.Commit(ctx, &datastore.CommitRequest{Mutations: muts})
	require.NoError(t, err)

	n := 0
	err = b.RunQuery(ctx, datastore.NewQuery("Thing").Limit(3), func(*datastore.Record) error {
		n++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, fake.queries, "pages of two: the third result is on the second page")
}

// TestDynamoDBIntegration runs the conformance suite against a real table.
// It needs DDB_TEST_TABLE_NAME and AWS credentials, from the environment or a .env file.
func TestDynamoDBIntegration(t *testing.T) {
	_ = godotenv.Load("../../.env")

	table := os.Getenv("DDB_TEST_TABLE_NAME")
	if table == "" {
		t.Skip("DDB_TEST_TABLE_NAME not set, skipping DynamoDB integration test")
	}
	opts := Options{
		Region:    os.Getenv("AWS_REGION"),
		Table:     table,
		Endpoint:  os.Getenv("DDB_ENDPOINT"),
		AccessKey: os.Getenv("AWS_ACCESS_KEY"),
		SecretKey: os.Getenv("AWS_SECRET_KEY"),
	}

	backendtest.Run(t, func(t *testing.T) datastore.Backend {
		b, err := New(context.Background(), opts)
		require.NoError(t, err)
		return b
	})
}
