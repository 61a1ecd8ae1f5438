/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"context"
	"fmt"

	"github.com/suparena/kindstore/errors"
)

// Record is the backend's view of a stored entity.
// Version starts at 1 and grows by one with every write of the key.
type Record struct {
	Key        CompleteKey
	Properties map[string]any
	Version    int64
}

// Entity converts the record into a caller-owned Entity.
func (r *Record) Entity() *Entity {
	e := NewEntity(r.Key)
	for k, v := range r.Properties {
		e.props[k] = v
	}
	return e
}

// MutationOp is the kind of change a Mutation applies.
type MutationOp int

const (
	OpUpsert MutationOp = iota
	OpDelete
)

func (op MutationOp) String() string {
	switch op {
	case OpUpsert:
		return "upsert"
	case OpDelete:
		return "delete"
	}
	return fmt.Sprintf("MutationOp(%d)", int(op))
}

// Mutation is one queued change. Upserts may carry a PartialKey, in which case
// the backend allocates an id at commit. Deletes always carry a CompleteKey.
type Mutation struct {
	Op         MutationOp
	Key        Key
	Properties map[string]any
}

// Precondition requires the stored version of Key to equal Version at commit
// time. Version 0 requires the key to be absent.
type Precondition struct {
	Key     CompleteKey
	Version int64
}

// CommitRequest is an ordered batch of mutations applied atomically.
type CommitRequest struct {
	TransactionID string
	Mutations     []Mutation
	Preconditions []Precondition
}

// CommitResponse reports the complete key of each mutation, in mutation order.
type CommitResponse struct {
	Keys []CompleteKey
}

// Validate checks the request shape before it is handed to a backend.
func (r *CommitRequest) Validate() error {
	for i, m := range r.Mutations {
		if m.Key == nil {
			return errors.NewInvalidEntityError("<nil>", "", fmt.Sprintf("mutation %d has no key", i))
		}
		if err := validateKind(m.Key.Kind()); err != nil {
			return err
		}
		if m.Op == OpDelete && m.Key.Partial() {
			return errors.NewInvalidKeyError(m.Key.Kind(), "cannot delete a partial key")
		}
	}
	for _, p := range r.Preconditions {
		if err := validateKind(p.Key.Kind()); err != nil {
			return err
		}
	}
	return nil
}

// ExplicitKeys returns the encoded complete keys named by the mutations.
// Id allocation skips these so a partial key never lands on a key the same
// request writes or deletes explicitly.
func (r *CommitRequest) ExplicitKeys() map[string]struct{} {
	out := make(map[string]struct{})
	for _, m := range r.Mutations {
		if ck, ok := m.Key.(CompleteKey); ok {
			out[ck.Encode()] = struct{}{}
		}
	}
	return out
}

// PartialCount returns the number of upserts that need an allocated id.
func (r *CommitRequest) PartialCount() int {
	n := 0
	for _, m := range r.Mutations {
		if m.Op == OpUpsert && m.Key.Partial() {
			n++
		}
	}
	return n
}

// Backend is the storage collaborator behind a client. Implementations must be
// safe for concurrent use.
type Backend interface {
	// Name identifies the backend in logs and errors.
	Name() string

	// Lookup returns one record per key, nil where the key does not exist.
	Lookup(ctx context.Context, keys []CompleteKey) ([]*Record, error)

	// Commit applies every mutation or none of them. It allocates ids for
	// partial keys and fails with a commit conflict when a precondition does
	// not hold.
	Commit(ctx context.Context, req *CommitRequest) (*CommitResponse, error)

	// RunQuery calls fn for each matching record in query order, up to the limit.
	RunQuery(ctx context.Context, q *Query, fn func(*Record) error) error

	Close() error
}
