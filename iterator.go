/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package kindstore

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/suparena/kindstore/datastore"
	"github.com/suparena/kindstore/storagemodels"
	"go.uber.org/zap"
)

// Done is returned by Iterator.Next when there are no more results.
var Done = stderrors.New("kindstore: no more results")

// Iterator yields query results. A worker goroutine feeds results from the
// backend into a buffered channel; call Stop when abandoning an iterator
// before Next has returned Done.
type Iterator struct {
	results <-chan storagemodels.StreamResult[*datastore.Entity]
	cancel  context.CancelFunc
	stop    chan struct{}
	once    sync.Once
	err     error
}

func failedIterator(err error) *Iterator {
	ch := make(chan storagemodels.StreamResult[*datastore.Entity])
	close(ch)
	return &Iterator{results: ch, cancel: func() {}, stop: make(chan struct{}), err: err}
}

func newIterator(ctx context.Context, backend datastore.Backend, q *datastore.Query, log *zap.Logger, opts ...storagemodels.StreamOption) *Iterator {
	options := storagemodels.DefaultStreamOptions()
	for _, opt := range opts {
		opt(&options)
	}

	ctx, cancel := context.WithCancel(ctx)
	ch := make(chan storagemodels.StreamResult[*datastore.Entity], options.BufferSize)
	it := &Iterator{results: ch, cancel: cancel, stop: make(chan struct{})}

	go func() {
		defer close(ch)
		defer cancel()

		start := time.Now()
		var n int64
		err := backend.RunQuery(ctx, q, func(r *datastore.Record) error {
			res := storagemodels.StreamResult[*datastore.Entity]{
				Item: r.Entity(),
				Meta: storagemodels.StreamMeta{Index: n, Timestamp: time.Now()},
			}
			select {
			case ch <- res:
			case <-it.stop:
				return context.Canceled
			}
			n++
			if options.ProgressHandler != nil && n%options.ProgressEvery == 0 {
				options.ProgressHandler(storagemodels.Report(n, start, false))
			}
			return nil
		})

		if options.ProgressHandler != nil {
			options.ProgressHandler(storagemodels.Report(n, start, true))
		}
		if err == nil {
			log.Debug("query finished", zap.Stringer("query", q), zap.Int64("results", n))
			return
		}
		select {
		case <-it.stop:
		case ch <- storagemodels.StreamResult[*datastore.Entity]{Error: err, Meta: storagemodels.StreamMeta{Index: n, Timestamp: time.Now()}}:
			log.Debug("query failed", zap.Stringer("query", q), zap.Error(err))
		}
	}()
	return it
}

// Next returns the next result. It returns Done after the last result and
// keeps returning the same error once the iterator has failed.
func (it *Iterator) Next() (*datastore.Entity, error) {
	if it.err != nil {
		return nil, it.err
	}
	res, ok := <-it.results
	if !ok {
		it.err = Done
		return nil, Done
	}
	if res.Error != nil {
		it.err = res.Error
		it.Stop()
		return nil, res.Error
	}
	return res.Item, nil
}

// Stop ends the query and releases the worker. It is safe to call more than once.
func (it *Iterator) Stop() {
	it.once.Do(func() {
		close(it.stop)
		it.cancel()
		for range it.results {
		}
		if it.err == nil {
			it.err = Done
		}
	})
}
