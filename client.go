/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package kindstore

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/suparena/kindstore/datastore"
	"github.com/suparena/kindstore/errors"
	"github.com/suparena/kindstore/storagemodels"
	"go.uber.org/zap"
)

// Client reads and writes entities through a backend. It is safe for
// concurrent use; transactions it creates are not.
type Client struct {
	backend    datastore.Backend
	log        *zap.Logger
	streamOpts []storagemodels.StreamOption
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithStreamOptions configures the iterators returned by Run.
func WithStreamOptions(opts ...storagemodels.StreamOption) Option {
	return func(c *Client) {
		c.streamOpts = append(c.streamOpts, opts...)
	}
}

// New returns a client over backend.
func New(backend datastore.Backend, opts ...Option) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("kindstore: backend is required")
	}
	return newClient(opts...).attach(backend), nil
}

func newClient(opts ...Option) *Client {
	c := &Client{log: zap.NewNop()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) attach(backend datastore.Backend) *Client {
	c.backend = backend
	c.log = c.log.With(zap.String("backend", backend.Name()))
	return c
}

// Backend returns the client's backend.
func (c *Client) Backend() datastore.Backend { return c.backend }

// Close releases the backend.
func (c *Client) Close() error {
	return c.backend.Close()
}

func newTransactionID() string {
	return uuid.NewString()
}

// mutationFor validates e and builds its upsert.
func mutationFor(e *datastore.Entity) (datastore.Mutation, error) {
	if e == nil {
		return datastore.Mutation{}, errors.NewInvalidEntityError("<nil>", "", "entity is nil")
	}
	if e.Key() == nil || e.Key().Kind() == "" {
		return datastore.Mutation{}, errors.NewInvalidKeyError("", "entity key has no kind")
	}
	props, err := e.Normalize()
	if err != nil {
		return datastore.Mutation{}, err
	}
	return datastore.Mutation{Op: datastore.OpUpsert, Key: e.Key(), Properties: props}, nil
}

// completeKeys hands the assigned keys to entities that were written with a
// partial key.
func completeKeys(entities []*datastore.Entity, keys []datastore.CompleteKey) error {
	if len(keys) != len(entities) {
		return fmt.Errorf("backend returned %d keys for %d entities", len(keys), len(entities))
	}
	for i, e := range entities {
		if e == nil || !e.Key().Partial() {
			continue
		}
		if err := e.Complete(keys[i]); err != nil {
			return err
		}
	}
	return nil
}

// Put writes entities in one atomic batch. Entities with partial keys receive
// their complete keys when Put succeeds and are left untouched when it fails.
func (c *Client) Put(ctx context.Context, entities ...*datastore.Entity) error {
	if len(entities) == 0 {
		return nil
	}
	muts := make([]datastore.Mutation, 0, len(entities))
	for _, e := range entities {
		m, err := mutationFor(e)
		if err != nil {
			return err
		}
		muts = append(muts, m)
	}

	req := &datastore.CommitRequest{TransactionID: newTransactionID(), Mutations: muts}
	resp, err := c.backend.Commit(ctx, req)
	if err != nil {
		c.log.Warn("put failed", zap.String("transaction", req.TransactionID), zap.Int("entities", len(entities)), zap.Error(err))
		return err
	}
	c.log.Debug("put", zap.Int("entities", len(entities)), zap.Int("allocated", req.PartialCount()))
	return completeKeys(entities, resp.Keys)
}

// Get returns one entity per key, nil where the key does not exist.
func (c *Client) Get(ctx context.Context, keys ...datastore.CompleteKey) ([]*datastore.Entity, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	recs, err := c.backend.Lookup(ctx, keys)
	if err != nil {
		return nil, err
	}
	out := make([]*datastore.Entity, len(recs))
	for i, r := range recs {
		if r != nil {
			out[i] = r.Entity()
		}
	}
	return out, nil
}

// Delete removes keys in one atomic batch. Deleting a missing key is a no-op.
func (c *Client) Delete(ctx context.Context, keys ...datastore.CompleteKey) error {
	if len(keys) == 0 {
		return nil
	}
	muts := make([]datastore.Mutation, 0, len(keys))
	for _, k := range keys {
		if k.IsZero() {
			return errors.NewInvalidKeyError(k.Kind(), "cannot delete the zero key")
		}
		muts = append(muts, datastore.Mutation{Op: datastore.OpDelete, Key: k})
	}
	req := &datastore.CommitRequest{TransactionID: newTransactionID(), Mutations: muts}
	if _, err := c.backend.Commit(ctx, req); err != nil {
		c.log.Warn("delete failed", zap.String("transaction", req.TransactionID), zap.Int("keys", len(keys)), zap.Error(err))
		return err
	}
	c.log.Debug("delete", zap.Int("keys", len(keys)))
	return nil
}

// Run executes q and returns an iterator over its results. Each call
// re-executes the query against the backend's current state.
func (c *Client) Run(ctx context.Context, q *datastore.Query, opts ...storagemodels.StreamOption) *Iterator {
	if q == nil {
		return failedIterator(errors.NewInvalidQueryError("query is nil"))
	}
	if err := q.Err(); err != nil {
		return failedIterator(err)
	}
	all := append(append([]storagemodels.StreamOption(nil), c.streamOpts...), opts...)
	return newIterator(ctx, c.backend, q, c.log, all...)
}

// Fetch runs q with its limit replaced by limit.
func (c *Client) Fetch(ctx context.Context, q *datastore.Query, limit int) *Iterator {
	if q == nil {
		return failedIterator(errors.NewInvalidQueryError("query is nil"))
	}
	return c.Run(ctx, q.Limit(limit))
}

// GetAll runs q and collects every result.
func (c *Client) GetAll(ctx context.Context, q *datastore.Query) ([]*datastore.Entity, error) {
	it := c.Run(ctx, q)
	defer it.Stop()

	var out []*datastore.Entity
	for {
		e, err := it.Next()
		if err == Done {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}
