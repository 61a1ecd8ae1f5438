/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package redisstore

import (
	"context"
	"crypto/tls"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/suparena/kindstore/datastore"
	"github.com/suparena/kindstore/errors"
)

// Name is the registered backend name.
const Name = "redis"

// Options configure the Redis connection.
type Options struct {
	// Redis server address.
	Address string
	// Password required when connecting to the Redis server.
	Password string
	// DB to connect to.
	DB int
	// Prefix namespaces every key written by the backend.
	Prefix string
	// TLS config.
	TLSConfig *tls.Config
}

// DefaultOptions returns options for a local, unauthenticated server.
func DefaultOptions() Options {
	return Options{
		Address: "localhost:6379",
		Prefix:  "kindstore",
	}
}

// Backend stores each record as a JSON string and keeps one set of encoded
// keys per kind for queries.
type Backend struct {
	client *redis.Client
	prefix string
}

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, opts Options) (*Backend, error) {
	client := redis.NewClient(&redis.Options{
		Addr:      opts.Address,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.NewBackendUnavailableError(Name, "connect", err)
	}
	return NewFromClient(client, opts.Prefix), nil
}

// NewFromClient wraps an existing client. The backend takes ownership and
// closes it on Close.
func NewFromClient(client *redis.Client, prefix string) *Backend {
	if prefix == "" {
		prefix = DefaultOptions().Prefix
	}
	return &Backend{client: client, prefix: prefix}
}

func (b *Backend) Name() string { return Name }

func (b *Backend) entityKey(k datastore.CompleteKey) string {
	return b.prefix + ":e:" + k.Encode()
}

func (b *Backend) kindKey(kind string) string {
	return b.prefix + ":k:" + kind
}

func (b *Backend) seqKey(kind string) string {
	return b.prefix + ":seq:" + kind
}

// Lookup fetches all keys with a single MGET.
func (b *Backend) Lookup(ctx context.Context, keys []datastore.CompleteKey) ([]*datastore.Record, error) {
	out := make([]*datastore.Record, len(keys))
	if len(keys) == 0 {
		return out, nil
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		names[i] = b.entityKey(k)
	}
	vals, err := b.client.MGet(ctx, names...).Result()
	if err != nil {
		return nil, wrap("lookup", err)
	}
	for i, v := range vals {
		r, err := decode(v)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

func decode(v any) (*datastore.Record, error) {
	s, ok := v.(string)
	if !ok {
		return nil, nil
	}
	return datastore.UnmarshalRecord([]byte(s))
}

// allocate draws ids for partial keys from the kind's INCR counter. Ids are
// consumed even if the commit later fails; the caller's keys stay partial.
// Ids stored already or named explicitly by req are skipped.
func (b *Backend) allocate(ctx context.Context, req *datastore.CommitRequest) ([]datastore.CompleteKey, error) {
	keys := make([]datastore.CompleteKey, len(req.Mutations))
	explicit := req.ExplicitKeys()
	for i, m := range req.Mutations {
		if ck, ok := m.Key.(datastore.CompleteKey); ok {
			keys[i] = ck
			continue
		}
		for {
			id, err := b.client.Incr(ctx, b.seqKey(m.Key.Kind())).Result()
			if err != nil {
				return nil, wrap("allocate", err)
			}
			ck, err := datastore.IDKey(m.Key.Kind(), id)
			if err != nil {
				return nil, err
			}
			if _, claimed := explicit[ck.Encode()]; claimed {
				continue
			}
			n, err := b.client.Exists(ctx, b.entityKey(ck)).Result()
			if err != nil {
				return nil, wrap("allocate", err)
			}
			if n == 0 {
				keys[i] = ck
				break
			}
		}
	}
	return keys, nil
}

// Commit watches every key the request reads or writes, checks preconditions
// and applies the writes in one MULTI/EXEC. A concurrent change to a watched
// key aborts EXEC and surfaces as a commit conflict.
func (b *Backend) Commit(ctx context.Context, req *datastore.CommitRequest) (*datastore.CommitResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(req.Mutations) == 0 && len(req.Preconditions) == 0 {
		return &datastore.CommitResponse{}, nil
	}
	keys, err := b.allocate(ctx, req)
	if err != nil {
		return nil, err
	}

	watched := make([]string, 0, len(keys)+len(req.Preconditions))
	index := make(map[string]int)
	track := func(name string) {
		if _, ok := index[name]; !ok {
			index[name] = len(watched)
			watched = append(watched, name)
		}
	}
	for _, p := range req.Preconditions {
		track(b.entityKey(p.Key))
	}
	for _, k := range keys {
		track(b.entityKey(k))
	}

	txf := func(tx *redis.Tx) error {
		vals, err := tx.MGet(ctx, watched...).Result()
		if err != nil {
			return err
		}
		versions := make(map[string]int64, len(watched))
		for i, v := range vals {
			r, err := decode(v)
			if err != nil {
				return err
			}
			if r != nil {
				versions[watched[i]] = r.Version
			}
		}

		var conflicts []string
		for _, p := range req.Preconditions {
			if versions[b.entityKey(p.Key)] != p.Version {
				conflicts = append(conflicts, p.Key.Encode())
			}
		}
		if len(conflicts) > 0 {
			return errors.NewCommitConflictError(req.TransactionID, conflicts, nil)
		}

		type write struct {
			name string
			key  datastore.CompleteKey
			data []byte
		}
		writes := make([]write, 0, len(req.Mutations))
		for i, m := range req.Mutations {
			name := b.entityKey(keys[i])
			switch m.Op {
			case datastore.OpUpsert:
				versions[name]++
				data, err := datastore.MarshalRecord(&datastore.Record{Key: keys[i], Properties: m.Properties, Version: versions[name]})
				if err != nil {
					return errors.NewInvalidEntityError(keys[i].Encode(), "", err.Error())
				}
				writes = append(writes, write{name: name, key: keys[i], data: data})
			case datastore.OpDelete:
				versions[name] = 0
				writes = append(writes, write{name: name, key: keys[i]})
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, w := range writes {
				if w.data != nil {
					pipe.Set(ctx, w.name, w.data, 0)
					pipe.SAdd(ctx, b.kindKey(w.key.Kind()), w.key.Encode())
				} else {
					pipe.Del(ctx, w.name)
					pipe.SRem(ctx, b.kindKey(w.key.Kind()), w.key.Encode())
				}
			}
			return nil
		})
		return err
	}

	if err := b.client.Watch(ctx, txf, watched...); err != nil {
		if err == redis.TxFailedErr {
			return nil, errors.NewCommitConflictError(req.TransactionID, nil, err)
		}
		return nil, wrap("commit", err)
	}
	return &datastore.CommitResponse{Keys: keys}, nil
}

// RunQuery loads the kind's members in MGET batches and applies the query.
func (b *Backend) RunQuery(ctx context.Context, q *datastore.Query, fn func(*datastore.Record) error) error {
	members, err := b.client.SMembers(ctx, b.kindKey(q.Kind())).Result()
	if err != nil {
		return wrap("query", err)
	}

	const batch = 256
	records := make([]*datastore.Record, 0, len(members))
	for start := 0; start < len(members); start += batch {
		end := min(start+batch, len(members))
		names := make([]string, 0, end-start)
		for _, m := range members[start:end] {
			names = append(names, b.prefix+":e:"+m)
		}
		vals, err := b.client.MGet(ctx, names...).Result()
		if err != nil {
			return wrap("query", err)
		}
		for _, v := range vals {
			r, err := decode(v)
			if err != nil {
				return err
			}
			if r != nil {
				records = append(records, r)
			}
		}
	}
	return datastore.Visit(ctx, q, records, fn)
}

func (b *Backend) Close() error {
	return b.client.Close()
}

func wrap(op string, err error) error {
	switch {
	case errors.IsCommitConflict(err), errors.IsInvalidEntity(err), errors.IsInvalidKey(err):
		return err
	case err == context.Canceled, err == context.DeadlineExceeded:
		return err
	}
	return errors.NewBackendUnavailableError(Name, op, fmt.Errorf("redis %s: %w", op, err))
}
