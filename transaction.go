/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package kindstore

import (
	"context"
	"fmt"

	"github.com/suparena/kindstore/datastore"
	"github.com/suparena/kindstore/errors"
	"go.uber.org/zap"
)

// TxState is the lifecycle state of a transaction.
type TxState int

const (
	TxActive TxState = iota
	TxCommitted
	TxRolledBack
	TxFailed
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "ACTIVE"
	case TxCommitted:
		return "COMMITTED"
	case TxRolledBack:
		return "ROLLED_BACK"
	case TxFailed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Transaction buffers writes and applies them atomically on Commit. Until
// then nothing is sent to the backend except reads made with Get. A
// Transaction must not be used from more than one goroutine.
type Transaction struct {
	id     string
	client *Client
	log    *zap.Logger
	state  TxState

	mutations []datastore.Mutation
	// entities holds the entity behind each upsert, nil for deletes.
	entities      []*datastore.Entity
	pending       []*PendingKey
	preconditions []datastore.Precondition
	read          map[string]bool
}

// PendingKey is the key of an entity put inside a transaction. It resolves
// to a complete key once the transaction commits.
type PendingKey struct {
	tx    *Transaction
	index int
	key   datastore.CompleteKey
}

// Key returns the committed key. Before a successful commit it fails with an
// invalid transaction state error.
func (p *PendingKey) Key() (datastore.CompleteKey, error) {
	if p.tx.state != TxCommitted {
		return datastore.CompleteKey{}, errors.NewTransactionStateError(p.tx.id, p.tx.state.String(), "resolve key")
	}
	return p.key, nil
}

// NewTransaction starts a transaction. It does not contact the backend.
func (c *Client) NewTransaction(ctx context.Context) (*Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	tx := &Transaction{
		id:     newTransactionID(),
		client: c,
		state:  TxActive,
		read:   make(map[string]bool),
	}
	tx.log = c.log.With(zap.String("transaction", tx.id))
	tx.log.Debug("transaction started")
	return tx, nil
}

// ID returns the transaction id.
func (tx *Transaction) ID() string { return tx.id }

// State returns the current state.
func (tx *Transaction) State() TxState { return tx.state }

func (tx *Transaction) ensureActive(op string) error {
	if tx.state != TxActive {
		return errors.NewTransactionStateError(tx.id, tx.state.String(), op)
	}
	return nil
}

// Put enqueues an upsert of e. The entity's properties are captured now; a
// partial key stays partial until Commit succeeds. An entity with a partial
// key can be put once per transaction, since a commit completes it only once.
func (tx *Transaction) Put(e *datastore.Entity) (*PendingKey, error) {
	if err := tx.ensureActive("put"); err != nil {
		return nil, err
	}
	m, err := mutationFor(e)
	if err != nil {
		return nil, err
	}
	if m.Key.Partial() {
		for _, queued := range tx.entities {
			if queued == e {
				return nil, errors.NewInvalidEntityError(m.Key.String(), "", "entity with a partial key is already queued in this transaction")
			}
		}
	}
	pk := &PendingKey{tx: tx, index: len(tx.mutations)}
	tx.mutations = append(tx.mutations, m)
	tx.entities = append(tx.entities, e)
	tx.pending = append(tx.pending, pk)
	return pk, nil
}

// Delete enqueues deletes of keys.
func (tx *Transaction) Delete(keys ...datastore.CompleteKey) error {
	if err := tx.ensureActive("delete"); err != nil {
		return err
	}
	for _, k := range keys {
		if k.IsZero() {
			return errors.NewInvalidKeyError(k.Kind(), "cannot delete the zero key")
		}
	}
	for _, k := range keys {
		tx.mutations = append(tx.mutations, datastore.Mutation{Op: datastore.OpDelete, Key: k})
		tx.entities = append(tx.entities, nil)
	}
	return nil
}

// Get reads keys from the backend. The version of each key read is recorded
// and checked on Commit, so the commit fails with a conflict if any of them
// changed in the meantime. Writes enqueued in this transaction are not visible.
func (tx *Transaction) Get(ctx context.Context, keys ...datastore.CompleteKey) ([]*datastore.Entity, error) {
	if err := tx.ensureActive("get"); err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	recs, err := tx.client.backend.Lookup(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make([]*datastore.Entity, len(recs))
	for i, r := range recs {
		var version int64
		if r != nil {
			out[i] = r.Entity()
			version = r.Version
		}
		enc := keys[i].Encode()
		if !tx.read[enc] {
			tx.read[enc] = true
			tx.preconditions = append(tx.preconditions, datastore.Precondition{Key: keys[i], Version: version})
		}
	}
	return out, nil
}

// Rollback discards every enqueued mutation.
func (tx *Transaction) Rollback() error {
	if err := tx.ensureActive("rollback"); err != nil {
		return err
	}
	tx.log.Debug("transaction rolled back", zap.Int("mutations", len(tx.mutations)))
	tx.reset()
	tx.state = TxRolledBack
	return nil
}

// Commit applies the enqueued mutations atomically, in the order they were
// enqueued. On success entities put with partial keys receive their complete
// keys. On failure the transaction is FAILED and no entity is modified.
func (tx *Transaction) Commit(ctx context.Context) error {
	if err := tx.ensureActive("commit"); err != nil {
		return err
	}
	req := &datastore.CommitRequest{
		TransactionID: tx.id,
		Mutations:     tx.mutations,
		Preconditions: tx.preconditions,
	}
	resp, err := tx.client.backend.Commit(ctx, req)
	if err != nil {
		tx.state = TxFailed
		tx.log.Warn("transaction commit failed", zap.Int("mutations", len(tx.mutations)), zap.Error(err))
		return err
	}
	if len(resp.Keys) != len(tx.mutations) {
		tx.state = TxFailed
		return errors.NewBackendUnavailableError(tx.client.backend.Name(), "commit",
			fmt.Errorf("backend returned %d keys for %d mutations", len(resp.Keys), len(tx.mutations)))
	}

	for _, pk := range tx.pending {
		pk.key = resp.Keys[pk.index]
		if e := tx.entities[pk.index]; e.Key().Partial() {
			if err := e.Complete(pk.key); err != nil {
				tx.log.Warn("entity key already assigned", zap.String("key", pk.key.Encode()), zap.Error(err))
			}
		}
	}
	tx.state = TxCommitted
	tx.log.Debug("transaction committed",
		zap.Int("mutations", len(tx.mutations)),
		zap.Int("preconditions", len(tx.preconditions)))
	tx.reset()
	return nil
}

func (tx *Transaction) reset() {
	tx.mutations = nil
	tx.entities = nil
	tx.preconditions = nil
	tx.read = nil
}

// RunInTransaction runs fn in a new transaction and commits it when fn
// returns nil. If fn returns an error or panics the transaction is rolled
// back and the error returned or the panic re-raised. If fn ends the
// transaction itself, for example by calling Rollback, nothing more is done.
func (c *Client) RunInTransaction(ctx context.Context, fn func(tx *Transaction) error) (err error) {
	tx, err := c.NewTransaction(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if r := recover(); r != nil {
			if tx.state == TxActive {
				_ = tx.Rollback()
			}
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if tx.state == TxActive {
			_ = tx.Rollback()
		}
		return err
	}
	if tx.state != TxActive {
		return nil
	}
	return tx.Commit(ctx)
}
