/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/suparena/kindstore"
	"github.com/suparena/kindstore/datastore"
	"go.uber.org/zap"
)

var sampleData = []struct {
	id   int64
	name string
	age  int
}{
	{1234, "Computer", 10},
	{2345, "Computer", 8},
	{3456, "Laptop", 10},
	{4567, "Printer", 11},
	{5678, "Printer", 12},
	{6789, "Computer", 13},
}

type walkthrough struct {
	client *kindstore.Client
	out    io.Writer
	in     *bufio.Reader // nil unless pausing between steps
	log    *zap.Logger
	step   int
}

func (w *walkthrough) section(title string) {
	if w.in != nil && w.step > 0 {
		fmt.Fprint(w.out, "(hit enter) ")
		_, _ = w.in.ReadString('\n')
	}
	w.step++
	fmt.Fprintf(w.out, "\n== %d. %s\n", w.step, title)
	w.log.Debug("walkthrough step", zap.Int("step", w.step), zap.String("title", title))
}

func (w *walkthrough) printf(format string, args ...any) {
	fmt.Fprintf(w.out, format+"\n", args...)
}

func describe(entities []*datastore.Entity) string {
	parts := make([]string, 0, len(entities))
	for _, e := range entities {
		if e == nil {
			parts = append(parts, "<nil>")
			continue
		}
		parts = append(parts, e.String())
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func (w *walkthrough) run(ctx context.Context) error {
	steps := []func(context.Context) error{
		w.putGetDelete,
		w.queries,
		w.commit,
		w.rollback,
		w.partialKeyInTransaction,
	}
	for _, step := range steps {
		if err := step(ctx); err != nil {
			return err
		}
	}
	w.printf("\nDone.")
	return nil
}

func (w *walkthrough) putGetDelete(ctx context.Context) error {
	w.section(`Create a "Thing" named Toy, look it up, delete it`)
	key := datastore.MustNameKey("Thing", "Toy")
	toy := datastore.NewEntity(key)
	toy.Set("name", "Toy")
	if err := w.client.Put(ctx, toy); err != nil {
		return fmt.Errorf("put toy: %w", err)
	}

	found, err := w.client.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get toy: %w", err)
	}
	w.printf("get %v -> %s", key, describe(found))

	if err := w.client.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete toy: %w", err)
	}
	found, err = w.client.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("get toy: %w", err)
	}
	w.printf("after delete, get %v -> %s", key, describe(found))
	return nil
}

func (w *walkthrough) queries(ctx context.Context) error {
	w.section("Load sample data")
	keys := make([]datastore.CompleteKey, 0, len(sampleData))
	for _, d := range sampleData {
		key := datastore.MustIDKey("Thing", d.id)
		keys = append(keys, key)
		e := datastore.NewEntity(key)
		e.Set("name", d.name)
		e.Set("age", d.age)
		if err := w.client.Put(ctx, e); err != nil {
			return fmt.Errorf("put sample %d: %w", d.id, err)
		}
	}
	w.printf("stored %d things", len(keys))

	w.section("Fetch the first two things")
	q := datastore.NewQuery("Thing")
	first, err := collect(w.client.Fetch(ctx, q, 2))
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	w.printf("%s", describe(first))

	w.section("Filter by name, then by age as well")
	if err := q.AddFilter("name", "=", "Computer"); err != nil {
		return err
	}
	computers, err := w.client.GetAll(ctx, q)
	if err != nil {
		return fmt.Errorf("query computers: %w", err)
	}
	w.printf("%v -> %s", q, describe(computers))

	if err := q.AddFilter("age", "=", 10); err != nil {
		return err
	}
	tenYearOld, err := w.client.GetAll(ctx, q)
	if err != nil {
		return fmt.Errorf("query computers aged 10: %w", err)
	}
	w.printf("%v -> %s", q, describe(tenYearOld))

	w.section("Delete the sample data")
	if err := w.client.Delete(ctx, keys...); err != nil {
		return fmt.Errorf("delete samples: %w", err)
	}
	w.printf("deleted %d things", len(keys))
	return nil
}

func collect(it *kindstore.Iterator) ([]*datastore.Entity, error) {
	defer it.Stop()
	var out []*datastore.Entity
	for {
		e, err := it.Next()
		if err == kindstore.Done {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
}

func (w *walkthrough) commit(ctx context.Context) error {
	w.section("Save two things in one transaction")
	foo := datastore.MustNameKey("Thing", "foo")
	bar := datastore.MustNameKey("Thing", "bar")
	err := w.client.RunInTransaction(ctx, func(tx *kindstore.Transaction) error {
		w.printf("creating and saving an entity...")
		e := datastore.NewEntity(foo)
		e.Set("age", 10)
		if _, err := tx.Put(e); err != nil {
			return err
		}

		w.printf("creating and saving another entity...")
		e = datastore.NewEntity(bar)
		e.Set("age", 15)
		if _, err := tx.Put(e); err != nil {
			return err
		}
		w.printf("committing transaction %s...", tx.ID())
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}

	found, err := w.client.Get(ctx, foo, bar)
	if err != nil {
		return err
	}
	w.printf("committed: %s", describe(found))
	return w.client.Delete(ctx, foo, bar)
}

func (w *walkthrough) rollback(ctx context.Context) error {
	w.section("Roll a transaction back")
	another := datastore.MustNameKey("Thing", "another")
	err := w.client.RunInTransaction(ctx, func(tx *kindstore.Transaction) error {
		if _, err := tx.Put(datastore.NewEntity(another)); err != nil {
			return err
		}
		return tx.Rollback()
	})
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}

	found, err := w.client.Get(ctx, another)
	if err != nil {
		return err
	}
	created := "no"
	if found[0] != nil {
		created = "yes"
	}
	w.printf("was %v created? %s", another, created)
	return nil
}

func (w *walkthrough) partialKeyInTransaction(ctx context.Context) error {
	w.section("Keys complete when the transaction commits")
	partial, err := datastore.IncompleteKey("Thing")
	if err != nil {
		return err
	}
	thing := datastore.NewEntity(partial)
	err = w.client.RunInTransaction(ctx, func(tx *kindstore.Transaction) error {
		if _, err := tx.Put(thing); err != nil {
			return err
		}
		w.printf("inside the transaction: %v", thing.Key())
		return nil
	})
	if err != nil {
		return fmt.Errorf("transaction: %w", err)
	}
	w.printf("after commit: %v", thing.Key())

	key, ok := thing.CompleteKey()
	if !ok {
		return fmt.Errorf("key %v is still partial after commit", thing.Key())
	}
	return w.client.Delete(ctx, key)
}
