/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package boltdb

import (
	"context"
	"time"

	"github.com/suparena/kindstore/datastore"
	"github.com/suparena/kindstore/errors"
	bolt "go.etcd.io/bbolt"
)

// Name is the registered backend name.
const Name = "bolt"

// Backend stores each kind in its own bucket. Values are records encoded with
// datastore.MarshalRecord, keyed by the encoded entity key.
type Backend struct {
	db *bolt.DB
}

// Open opens or creates the database file at path.
func Open(path string, timeout time.Duration) (*Backend, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: timeout})
	if err != nil {
		return nil, errors.NewBackendUnavailableError(Name, "open", err)
	}
	return &Backend{db: db}, nil
}

func (b *Backend) Name() string { return Name }

func bucketName(kind string) []byte {
	return []byte("kind/" + kind)
}

// Lookup reads every key in one read transaction.
func (b *Backend) Lookup(ctx context.Context, keys []datastore.CompleteKey) ([]*datastore.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]*datastore.Record, len(keys))
	err := b.db.View(func(tx *bolt.Tx) error {
		for i, k := range keys {
			bkt := tx.Bucket(bucketName(k.Kind()))
			if bkt == nil {
				continue
			}
			data := bkt.Get([]byte(k.Encode()))
			if data == nil {
				continue
			}
			r, err := datastore.UnmarshalRecord(data)
			if err != nil {
				return err
			}
			out[i] = r
		}
		return nil
	})
	if err != nil {
		return nil, wrap("lookup", err)
	}
	return out, nil
}

// Commit applies the request inside a single bolt write transaction; any
// error rolls the whole transaction back.
func (b *Backend) Commit(ctx context.Context, req *datastore.CommitRequest) (*datastore.CommitResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	resp := &datastore.CommitResponse{Keys: make([]datastore.CompleteKey, len(req.Mutations))}
	err := b.db.Update(func(tx *bolt.Tx) error {
		var conflicts []string
		for _, p := range req.Preconditions {
			current, err := storedVersion(tx, p.Key)
			if err != nil {
				return err
			}
			if current != p.Version {
				conflicts = append(conflicts, p.Key.Encode())
			}
		}
		if len(conflicts) > 0 {
			return errors.NewCommitConflictError(req.TransactionID, conflicts, nil)
		}

		explicit := req.ExplicitKeys()
		for i, m := range req.Mutations {
			bkt, err := tx.CreateBucketIfNotExists(bucketName(m.Key.Kind()))
			if err != nil {
				return err
			}
			key, err := allocate(bkt, m.Key, explicit)
			if err != nil {
				return err
			}
			resp.Keys[i] = key
			enc := []byte(key.Encode())

			switch m.Op {
			case datastore.OpUpsert:
				var version int64 = 1
				if old := bkt.Get(enc); old != nil {
					prev, err := datastore.UnmarshalRecord(old)
					if err != nil {
						return err
					}
					version = prev.Version + 1
				}
				data, err := datastore.MarshalRecord(&datastore.Record{Key: key, Properties: m.Properties, Version: version})
				if err != nil {
					return errors.NewInvalidEntityError(key.Encode(), "", err.Error())
				}
				if err := bkt.Put(enc, data); err != nil {
					return err
				}
			case datastore.OpDelete:
				if err := bkt.Delete(enc); err != nil {
					return err
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, wrap("commit", err)
	}
	return resp, nil
}

// allocate returns k's complete key, drawing ids for partial keys from the
// bucket sequence and skipping ids that are stored or reserved.
func allocate(bkt *bolt.Bucket, k datastore.Key, reserved map[string]struct{}) (datastore.CompleteKey, error) {
	if ck, ok := k.(datastore.CompleteKey); ok {
		return ck, nil
	}
	for {
		seq, err := bkt.NextSequence()
		if err != nil {
			return datastore.CompleteKey{}, err
		}
		ck, err := datastore.IDKey(k.Kind(), int64(seq))
		if err != nil {
			return datastore.CompleteKey{}, err
		}
		if _, claimed := reserved[ck.Encode()]; claimed {
			continue
		}
		if bkt.Get([]byte(ck.Encode())) == nil {
			return ck, nil
		}
	}
}

func storedVersion(tx *bolt.Tx, key datastore.CompleteKey) (int64, error) {
	bkt := tx.Bucket(bucketName(key.Kind()))
	if bkt == nil {
		return 0, nil
	}
	data := bkt.Get([]byte(key.Encode()))
	if data == nil {
		return 0, nil
	}
	r, err := datastore.UnmarshalRecord(data)
	if err != nil {
		return 0, err
	}
	return r.Version, nil
}

// RunQuery scans the kind's bucket in one read transaction and applies the
// query to the decoded records.
func (b *Backend) RunQuery(ctx context.Context, q *datastore.Query, fn func(*datastore.Record) error) error {
	var records []*datastore.Record
	err := b.db.View(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(bucketName(q.Kind()))
		if bkt == nil {
			return nil
		}
		return bkt.ForEach(func(_, v []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			r, err := datastore.UnmarshalRecord(v)
			if err != nil {
				return err
			}
			records = append(records, r)
			return nil
		})
	})
	if err != nil {
		return wrap("query", err)
	}
	return datastore.Visit(ctx, q, records, fn)
}

// Stats reports the number of records per kind.
func (b *Backend) Stats() (map[string]int, error) {
	out := make(map[string]int)
	err := b.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, bkt *bolt.Bucket) error {
			out[string(name[len("kind/"):])] = bkt.Stats().KeyN
			return nil
		})
	})
	return out, err
}

// Sequence returns the current id sequence of a kind, mainly for diagnostics.
func (b *Backend) Sequence(kind string) (uint64, error) {
	var seq uint64
	err := b.db.View(func(tx *bolt.Tx) error {
		if bkt := tx.Bucket(bucketName(kind)); bkt != nil {
			seq = bkt.Sequence()
		}
		return nil
	})
	return seq, err
}

func (b *Backend) Close() error {
	return b.db.Close()
}

// wrap passes through the library's own errors and context errors and marks
// everything else from bolt as an unavailable backend.
func wrap(op string, err error) error {
	switch {
	case errors.IsCommitConflict(err), errors.IsInvalidEntity(err), errors.IsInvalidKey(err):
		return err
	case err == context.Canceled, err == context.DeadlineExceeded:
		return err
	}
	return errors.NewBackendUnavailableError(Name, op, err)
}
