/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package kindstore

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suparena/kindstore/datastore"
	"github.com/suparena/kindstore/errors"
)

func TestTransactionCommit(t *testing.T) {
	ctx := context.Background()
	c, backend := newTestClient(t)

	tx, err := c.NewTransaction(ctx)
	require.NoError(t, err)
	assert.Equal(t, TxActive, tx.State())
	assert.NotEmpty(t, tx.ID())

	foo := datastore.MustNameKey("Thing", "foo")
	bar := datastore.MustNameKey("Thing", "bar")
	_, err = tx.Put(thing(foo, map[string]any{"name": "foo"}))
	require.NoError(t, err)
	_, err = tx.Put(thing(bar, map[string]any{"name": "bar"}))
	require.NoError(t, err)
	assert.Zero(t, backend.Count(), "nothing is written before commit")

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, TxCommitted, tx.State())

	got, err := c.Get(ctx, foo, bar)
	require.NoError(t, err)
	assert.Equal(t, "foo", mustProp(t, got[0], "name"))
	assert.Equal(t, "bar", mustProp(t, got[1], "name"))
}

func TestTransactionRollback(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	tx, err := c.NewTransaction(ctx)
	require.NoError(t, err)
	key := datastore.MustNameKey("Thing", "another")
	_, err = tx.Put(thing(key, map[string]any{"name": "another"}))
	require.NoError(t, err)
	require.NoError(t, tx.Rollback())
	assert.Equal(t, TxRolledBack, tx.State())

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got[0])
}

func TestTransactionPartialKeyCompletesOnCommit(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)

	pk, err := datastore.IncompleteKey("Thing")
	require.NoError(t, err)
	e := thing(pk, map[string]any{"name": "auto"})

	tx, err := c.NewTransaction(ctx)
	require.NoError(t, err)
	pending, err := tx.Put(e)
	require.NoError(t, err)

	assert.True(t, e.Key().Partial(), "key stays partial inside the transaction")
	_, err = pending.Key()
	assert.True(t, errors.IsInvalidTransactionState(err))

	require.NoError(t, tx.Commit(ctx))
	ck, ok := e.CompleteKey()
	require.True(t, ok, "key is complete after commit")
	resolved, err := pending.Key()
	require.NoError(t, err)
	assert.Equal(t, ck, resolved)

	got, err := c.Get(ctx, ck)
	require.NoError(t, err)
	assert.Equal(t, "auto", mustProp(t, got[0], "name"))
}

func TestTransactionRejectsRepeatedPartialPut(t *testing.T) {
	ctx := context.Background()
	c, backend := newTestClient(t)

	pk, err := datastore.IncompleteKey("Thing")
	require.NoError(t, err)
	e := thing(pk, map[string]any{"name": "once"})

	tx, err := c.NewTransaction(ctx)
	require.NoError(t, err)
	_, err = tx.Put(e)
	require.NoError(t, err)
	_, err = tx.Put(e)
	assert.True(t, errors.IsInvalidEntity(err), "got %v", err)

	// A distinct entity with the same partial key is fine.
	_, err = tx.Put(thing(pk, map[string]any{"name": "twice"}))
	require.NoError(t, err)

	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, 2, backend.Count())
	_, ok := e.CompleteKey()
	assert.True(t, ok)
}

func TestTransactionEndStatesAreTerminal(t *testing.T) {
	ctx := context.Background()
	c, backend := newTestClient(t)
	key := datastore.MustNameKey("Thing", "k")

	committed, err := c.NewTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, committed.Commit(ctx))

	rolledBack, err := c.NewTransaction(ctx)
	require.NoError(t, err)
	require.NoError(t, rolledBack.Rollback())

	backend.WithCommitError(errors.NewBackendUnavailableError("memory", "commit", fmt.Errorf("unreachable")))
	failed, err := c.NewTransaction(ctx)
	require.NoError(t, err)
	_, err = failed.Put(thing(key, map[string]any{"v": 1}))
	require.NoError(t, err)
	require.Error(t, failed.Commit(ctx))
	assert.Equal(t, TxFailed, failed.State())
	backend.WithCommitError(nil)

	for _, tx := range []*Transaction{committed, rolledBack, failed} {
		t.Run(tx.State().String(), func(t *testing.T) {
			_, err := tx.Put(thing(key, nil))
			assert.True(t, errors.IsInvalidTransactionState(err), "put: %v", err)
			assert.True(t, errors.IsInvalidTransactionState(tx.Delete(key)))
			_, err = tx.Get(ctx, key)
			assert.True(t, errors.IsInvalidTransactionState(err), "get: %v", err)
			assert.True(t, errors.IsInvalidTransactionState(tx.Rollback()))
			assert.True(t, errors.IsInvalidTransactionState(tx.Commit(ctx)))
		})
	}

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got[0], "a failed commit writes nothing")
}

func TestTransactionPutCapturesProperties(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	key := datastore.MustNameKey("Thing", "snap")
	e := thing(key, map[string]any{"v": 1})

	require.NoError(t, c.RunInTransaction(ctx, func(tx *Transaction) error {
		if _, err := tx.Put(e); err != nil {
			return err
		}
		e.Set("v", 2)
		return nil
	}))

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(1), mustProp(t, got[0], "v"))
}

func TestTransactionOrderOfMutations(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	key := datastore.MustNameKey("Thing", "k")

	require.NoError(t, c.RunInTransaction(ctx, func(tx *Transaction) error {
		if _, err := tx.Put(thing(key, map[string]any{"v": 1})); err != nil {
			return err
		}
		return tx.Delete(key)
	}))
	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got[0], "delete enqueued after put wins")
}

func TestTransactionGetDetectsConflicts(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	key := datastore.MustNameKey("Account", "alice")
	require.NoError(t, c.Put(ctx, thing(key, map[string]any{"balance": 100})))

	first, err := c.NewTransaction(ctx)
	require.NoError(t, err)
	second, err := c.NewTransaction(ctx)
	require.NoError(t, err)

	for _, tx := range []*Transaction{first, second} {
		got, err := tx.Get(ctx, key)
		require.NoError(t, err)
		balance := mustProp(t, got[0], "balance").(int64)
		_, err = tx.Put(thing(key, map[string]any{"balance": balance - 10}))
		require.NoError(t, err)
	}

	require.NoError(t, first.Commit(ctx))
	err = second.Commit(ctx)
	assert.True(t, errors.IsCommitConflict(err), "got %v", err)
	assert.Equal(t, TxFailed, second.State())

	got, err := c.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(90), mustProp(t, got[0], "balance"))
}

func TestTransactionGetOfMissingKeyGuardsCreation(t *testing.T) {
	ctx := context.Background()
	c, _ := newTestClient(t)
	key := datastore.MustNameKey("Thing", "unique")

	tx, err := c.NewTransaction(ctx)
	require.NoError(t, err)
	got, err := tx.Get(ctx, key)
	require.NoError(t, err)
	assert.Nil(t, got[0])

	require.NoError(t, c.Put(ctx, thing(key, map[string]any{"by": "someone else"})))

	_, err = tx.Put(thing(key, map[string]any{"by": "tx"}))
	require.NoError(t, err)
	assert.True(t, errors.IsCommitConflict(tx.Commit(ctx)))
}

func TestRunInTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("commits on success", func(t *testing.T) {
		c, backend := newTestClient(t)
		err := c.RunInTransaction(ctx, func(tx *Transaction) error {
			_, err := tx.Put(thing(datastore.MustNameKey("Thing", "a"), map[string]any{"v": 1}))
			return err
		})
		require.NoError(t, err)
		assert.Equal(t, 1, backend.Count())
	})

	t.Run("rolls back on error", func(t *testing.T) {
		c, backend := newTestClient(t)
		boom := fmt.Errorf("boom")
		var seen *Transaction
		err := c.RunInTransaction(ctx, func(tx *Transaction) error {
			seen = tx
			_, _ = tx.Put(thing(datastore.MustNameKey("Thing", "a"), map[string]any{"v": 1}))
			return boom
		})
		assert.Equal(t, boom, err)
		assert.Equal(t, TxRolledBack, seen.State())
		assert.Zero(t, backend.Count())
	})

	t.Run("explicit rollback is respected", func(t *testing.T) {
		c, backend := newTestClient(t)
		err := c.RunInTransaction(ctx, func(tx *Transaction) error {
			_, _ = tx.Put(thing(datastore.MustNameKey("Thing", "a"), map[string]any{"v": 1}))
			return tx.Rollback()
		})
		require.NoError(t, err)
		assert.Zero(t, backend.Count())
	})

	t.Run("panics roll back and propagate", func(t *testing.T) {
		c, backend := newTestClient(t)
		var seen *Transaction
		assert.PanicsWithValue(t, "kaboom", func() {
			_ = c.RunInTransaction(ctx, func(tx *Transaction) error {
				seen = tx
				_, _ = tx.Put(thing(datastore.MustNameKey("Thing", "a"), map[string]any{"v": 1}))
				panic("kaboom")
			})
		})
		assert.Equal(t, TxRolledBack, seen.State())
		assert.Zero(t, backend.Count())
	})

	t.Run("commit failure is returned", func(t *testing.T) {
		c, backend := newTestClient(t)
		backend.WithCommitError(errors.NewCommitConflictError("x", nil, nil))
		err := c.RunInTransaction(ctx, func(tx *Transaction) error {
			_, err := tx.Put(thing(datastore.MustNameKey("Thing", "a"), map[string]any{"v": 1}))
			return err
		})
		assert.True(t, errors.IsCommitConflict(err))
	})
}

func TestTxStateString(t *testing.T) {
	assert.Equal(t, "ACTIVE", TxActive.String())
	assert.Equal(t, "COMMITTED", TxCommitted.String())
	assert.Equal(t, "ROLLED_BACK", TxRolledBack.String())
	assert.Equal(t, "FAILED", TxFailed.String())
}
