/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package kindstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/suparena/kindstore/datastore"
	"github.com/suparena/kindstore/datastore/boltdb"
	"github.com/suparena/kindstore/datastore/ddb"
	"github.com/suparena/kindstore/datastore/memory"
	"github.com/suparena/kindstore/datastore/redisstore"
	"github.com/suparena/kindstore/errors"
	"go.uber.org/zap"
)

// Factory opens a backend from cfg.
type Factory func(ctx context.Context, cfg *Config, log *zap.Logger) (datastore.Backend, error)

// backendRegistry is a thread-safe map of backend names to factories.
type backendRegistry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

var backends = &backendRegistry{factories: make(map[string]Factory)}

func init() {
	_ = RegisterBackend(BackendMemory, openMemory)
	_ = RegisterBackend(BackendBolt, openBolt)
	_ = RegisterBackend(BackendDynamoDB, openDynamoDB)
	_ = RegisterBackend(BackendRedis, openRedis)
}

// RegisterBackend makes a backend available to OpenBackend under name.
func RegisterBackend(name string, f Factory) error {
	backends.mu.Lock()
	defer backends.mu.Unlock()

	if _, exists := backends.factories[name]; exists {
		return errors.NewAlreadyExistsError("backend", name)
	}
	backends.factories[name] = f
	return nil
}

// Backends lists the registered backend names.
func Backends() []string {
	backends.mu.RLock()
	defer backends.mu.RUnlock()

	names := make([]string, 0, len(backends.factories))
	for name := range backends.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func backendRegistered(name string) bool {
	backends.mu.RLock()
	defer backends.mu.RUnlock()
	_, ok := backends.factories[name]
	return ok
}

// OpenBackend validates cfg and opens the backend it selects.
func OpenBackend(ctx context.Context, cfg *Config, log *zap.Logger) (datastore.Backend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	backends.mu.RLock()
	f, ok := backends.factories[cfg.Backend]
	backends.mu.RUnlock()
	if !ok {
		return nil, errors.NewNotFoundError("backend", cfg.Backend)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return f(ctx, cfg, log)
}

// Open opens the configured backend and returns a client over it. The
// client's logger is handed to the backend as well.
func Open(ctx context.Context, cfg *Config, opts ...Option) (*Client, error) {
	c := newClient(opts...)
	backend, err := OpenBackend(ctx, cfg, c.log)
	if err != nil {
		return nil, err
	}
	return c.attach(backend), nil
}

func openMemory(context.Context, *Config, *zap.Logger) (datastore.Backend, error) {
	return memory.New(), nil
}

func openBolt(_ context.Context, cfg *Config, _ *zap.Logger) (datastore.Backend, error) {
	b, err := boltdb.Open(cfg.Bolt.Path, 5*time.Second)
	if err != nil {
		return nil, err
	}
	return b, nil
}

func openDynamoDB(ctx context.Context, cfg *Config, log *zap.Logger) (datastore.Backend, error) {
	b, err := ddb.New(ctx, ddb.Options{
		Region:    cfg.DynamoDB.Region,
		Table:     cfg.DynamoDB.Table,
		Endpoint:  cfg.DynamoDB.Endpoint,
		AccessKey: cfg.DynamoDB.AccessKey,
		SecretKey: cfg.DynamoDB.SecretKey,
		Logger:    log,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func openRedis(ctx context.Context, cfg *Config, _ *zap.Logger) (datastore.Backend, error) {
	b, err := redisstore.New(ctx, redisstore.Options{
		Address:  cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		Prefix:   cfg.Redis.Prefix,
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
