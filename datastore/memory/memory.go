/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

// Package memory provides an in-process implementation of datastore.Backend.
// It is the default backend for tests and for the walkthrough command.
package memory

import (
	"bytes"
	"context"
	"sync"

	"github.com/suparena/kindstore/datastore"
	"github.com/suparena/kindstore/errors"
)

// Name is the registered backend name.
const Name = "memory"

// Backend keeps records in a map guarded by a RWMutex. Commits validate every
// precondition before touching the map, which makes them all-or-nothing.
type Backend struct {
	mu      sync.RWMutex
	records map[string]*datastore.Record
	nextID  map[string]int64
	closed  bool

	lookupError error
	commitError error
	queryError  error
}

// New creates an empty memory backend
func New() *Backend {
	return &Backend{
		records: make(map[string]*datastore.Record),
		nextID:  make(map[string]int64),
	}
}

// WithLookupError makes Lookup operations return an error
func (b *Backend) WithLookupError(err error) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lookupError = err
	return b
}

// WithCommitError makes Commit operations return an error without applying anything
func (b *Backend) WithCommitError(err error) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commitError = err
	return b
}

// WithQueryError makes RunQuery operations return an error
func (b *Backend) WithQueryError(err error) *Backend {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queryError = err
	return b
}

func (b *Backend) Name() string { return Name }

func (b *Backend) unavailable(op string) error {
	return errors.NewBackendUnavailableError(Name, op, errClosed)
}

// Lookup returns copies of the stored records, nil for missing keys.
func (b *Backend) Lookup(ctx context.Context, keys []datastore.CompleteKey) ([]*datastore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, b.unavailable("lookup")
	}
	if b.lookupError != nil {
		return nil, b.lookupError
	}

	out := make([]*datastore.Record, len(keys))
	for i, k := range keys {
		if r, ok := b.records[k.Encode()]; ok {
			out[i] = copyRecord(r)
		}
	}
	return out, nil
}

// Commit checks preconditions, allocates ids for partial keys and applies the
// mutations in order.
func (b *Backend) Commit(ctx context.Context, req *datastore.CommitRequest) (*datastore.CommitResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, b.unavailable("commit")
	}
	if b.commitError != nil {
		return nil, b.commitError
	}

	var conflicts []string
	for _, p := range req.Preconditions {
		var current int64
		if r, ok := b.records[p.Key.Encode()]; ok {
			current = r.Version
		}
		if current != p.Version {
			conflicts = append(conflicts, p.Key.Encode())
		}
	}
	if len(conflicts) > 0 {
		return nil, errors.NewCommitConflictError(req.TransactionID, conflicts, nil)
	}

	resp := &datastore.CommitResponse{Keys: make([]datastore.CompleteKey, len(req.Mutations))}
	explicit := req.ExplicitKeys()
	for i, m := range req.Mutations {
		key, err := b.resolve(m.Key, explicit)
		if err != nil {
			return nil, err
		}
		resp.Keys[i] = key
	}

	for i, m := range req.Mutations {
		enc := resp.Keys[i].Encode()
		switch m.Op {
		case datastore.OpUpsert:
			var version int64 = 1
			if old, ok := b.records[enc]; ok {
				version = old.Version + 1
			}
			b.records[enc] = copyRecord(&datastore.Record{Key: resp.Keys[i], Properties: m.Properties, Version: version})
		case datastore.OpDelete:
			delete(b.records, enc)
		}
	}
	return resp, nil
}

// resolve returns the complete key for k, allocating the next free id of the
// kind when k is partial. Ids in reserved are skipped. Callers hold b.mu.
func (b *Backend) resolve(k datastore.Key, reserved map[string]struct{}) (datastore.CompleteKey, error) {
	if ck, ok := k.(datastore.CompleteKey); ok {
		return ck, nil
	}
	for {
		b.nextID[k.Kind()]++
		ck, err := datastore.IDKey(k.Kind(), b.nextID[k.Kind()])
		if err != nil {
			return datastore.CompleteKey{}, err
		}
		enc := ck.Encode()
		_, taken := b.records[enc]
		_, claimed := reserved[enc]
		if !taken && !claimed {
			return ck, nil
		}
	}
}

// RunQuery snapshots the records and applies the query outside the lock.
func (b *Backend) RunQuery(ctx context.Context, q *datastore.Query, fn func(*datastore.Record) error) error {
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return b.unavailable("query")
	}
	if b.queryError != nil {
		err := b.queryError
		b.mu.RUnlock()
		return err
	}
	snapshot := make([]*datastore.Record, 0, len(b.records))
	for _, r := range b.records {
		if r.Key.Kind() == q.Kind() {
			snapshot = append(snapshot, copyRecord(r))
		}
	}
	b.mu.RUnlock()

	return datastore.Visit(ctx, q, snapshot, fn)
}

// Close marks the backend closed; later calls fail as unavailable.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Helper methods for testing

// Count returns the number of stored records
func (b *Backend) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.records)
}

// Clear removes all data
func (b *Backend) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records = make(map[string]*datastore.Record)
}

// Snapshot returns a copy of every stored record keyed by encoded key
func (b *Backend) Snapshot() map[string]*datastore.Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]*datastore.Record, len(b.records))
	for k, r := range b.records {
		out[k] = copyRecord(r)
	}
	return out
}

func copyRecord(r *datastore.Record) *datastore.Record {
	c := &datastore.Record{Key: r.Key, Version: r.Version, Properties: make(map[string]any, len(r.Properties))}
	for k, v := range r.Properties {
		if raw, ok := v.([]byte); ok {
			v = bytes.Clone(raw)
		}
		c.Properties[k] = v
	}
	return c
}

var errClosed = closedError{}

type closedError struct{}

func (closedError) Error() string { return "backend is closed" }
