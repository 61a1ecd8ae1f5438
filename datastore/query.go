/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/suparena/kindstore/errors"
)

// Operator is a filter comparison operator.
type Operator string

const (
	Equal              Operator = "="
	LessThan           Operator = "<"
	LessThanOrEqual    Operator = "<="
	GreaterThan        Operator = ">"
	GreaterThanOrEqual Operator = ">="
)

func parseOperator(op string) (Operator, bool) {
	switch o := Operator(strings.TrimSpace(op)); o {
	case Equal, LessThan, LessThanOrEqual, GreaterThan, GreaterThanOrEqual:
		return o, true
	case "==":
		return Equal, true
	}
	return "", false
}

// Filter is a (property, operator, value) predicate. Filters on a query are ANDed.
type Filter struct {
	Property string
	Operator Operator
	Value    any
}

// Order sorts results by a property.
type Order struct {
	Property   string
	Descending bool
}

// Query describes which entities of one kind to fetch. A Query is a descriptor,
// not a cursor: running it twice re-executes it against current backend state.
// Filter, Order and Limit return modified copies so a query that has been run
// never changes underneath its caller.
type Query struct {
	kind    string
	filters []Filter
	orders  []Order
	limit   int
	err     error
}

// NewQuery returns a query over all entities of kind.
func NewQuery(kind string) *Query {
	q := &Query{kind: kind}
	if err := validateKind(kind); err != nil {
		q.err = errors.NewInvalidQueryError(err.Error())
	}
	return q
}

func (q *Query) clone() *Query {
	c := *q
	c.filters = append([]Filter(nil), q.filters...)
	c.orders = append([]Order(nil), q.orders...)
	return &c
}

// Filter returns a copy of q with an additional filter.
// Errors are deferred until the query is run.
func (q *Query) Filter(property, op string, value any) *Query {
	c := q.clone()
	_ = c.AddFilter(property, op, value)
	return c
}

// AddFilter adds a filter to q in place. The error is also recorded on the
// query and reported again when the query is run.
func (q *Query) AddFilter(property, op string, value any) error {
	if q.err != nil {
		return q.err
	}
	if property == "" {
		q.err = errors.NewInvalidQueryError("filter property must not be empty")
		return q.err
	}
	operator, ok := parseOperator(op)
	if !ok {
		q.err = errors.NewInvalidQueryError(fmt.Sprintf("unsupported operator %q", op))
		return q.err
	}
	nv, err := NormalizeValue(value)
	if err != nil {
		q.err = errors.NewInvalidQueryError(fmt.Sprintf("filter on %q: %v", property, err))
		return q.err
	}
	if nv == nil && operator != Equal {
		q.err = errors.NewInvalidQueryError(fmt.Sprintf("filter on %q: nil only supports %q", property, Equal))
		return q.err
	}
	q.filters = append(q.filters, Filter{Property: property, Operator: operator, Value: nv})
	return nil
}

// Order returns a copy of q sorted by property. A leading "-" sorts descending.
func (q *Query) Order(property string) *Query {
	c := q.clone()
	property = strings.TrimSpace(property)
	desc := strings.HasPrefix(property, "-")
	property = strings.TrimPrefix(property, "-")
	if property == "" && c.err == nil {
		c.err = errors.NewInvalidQueryError("order property must not be empty")
		return c
	}
	c.orders = append(c.orders, Order{Property: property, Descending: desc})
	return c
}

// Limit returns a copy of q that yields at most n results. Zero removes the limit.
func (q *Query) Limit(n int) *Query {
	c := q.clone()
	if n < 0 && c.err == nil {
		c.err = errors.NewInvalidQueryError(fmt.Sprintf("limit must not be negative, got %d", n))
		return c
	}
	c.limit = n
	return c
}

// Kind returns the queried kind.
func (q *Query) Kind() string { return q.kind }

// Filters returns a copy of the query filters.
func (q *Query) Filters() []Filter { return append([]Filter(nil), q.filters...) }

// Orders returns a copy of the order clauses.
func (q *Query) Orders() []Order { return append([]Order(nil), q.orders...) }

// MaxResults returns the limit, or 0 for no limit.
func (q *Query) MaxResults() int { return q.limit }

// Err returns the first error recorded while building the query.
func (q *Query) Err() error { return q.err }

func (q *Query) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Query(kind=%s", q.kind)
	for _, f := range q.filters {
		fmt.Fprintf(&b, ", %s %s %v", f.Property, f.Operator, f.Value)
	}
	for _, o := range q.orders {
		if o.Descending {
			fmt.Fprintf(&b, ", order -%s", o.Property)
		} else {
			fmt.Fprintf(&b, ", order %s", o.Property)
		}
	}
	if q.limit > 0 {
		fmt.Fprintf(&b, ", limit %d", q.limit)
	}
	b.WriteString(")")
	return b.String()
}

// Matches reports whether a record of the query kind satisfies every filter.
// A record without the filtered property never matches.
func (q *Query) Matches(r *Record) bool {
	if r.Key.Kind() != q.kind {
		return false
	}
	for _, f := range q.filters {
		v, ok := r.Properties[f.Property]
		if !ok {
			return false
		}
		c, comparable := compareValues(v, f.Value)
		if !comparable {
			return false
		}
		switch f.Operator {
		case Equal:
			ok = c == 0
		case LessThan:
			ok = c < 0
		case LessThanOrEqual:
			ok = c <= 0
		case GreaterThan:
			ok = c > 0
		case GreaterThanOrEqual:
			ok = c >= 0
		}
		if !ok {
			return false
		}
	}
	return true
}

// Apply filters, sorts and limits records. Without an order clause the
// records come back in key order.
func (q *Query) Apply(records []*Record) []*Record {
	out := make([]*Record, 0, len(records))
	for _, r := range records {
		if q.Matches(r) {
			out = append(out, r)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		for _, o := range q.orders {
			c := sortCompare(out[i].Properties[o.Property], out[j].Properties[o.Property])
			if o.Descending {
				c = -c
			}
			if c != 0 {
				return c < 0
			}
		}
		return out[i].Key.Compare(out[j].Key) < 0
	})
	if q.limit > 0 && len(out) > q.limit {
		out = out[:q.limit]
	}
	return out
}

// Visit applies q to records and calls fn for each result, stopping early when
// ctx is done or fn returns an error. Backends that scan a whole kind use it
// to implement RunQuery.
func Visit(ctx context.Context, q *Query, records []*Record, fn func(*Record) error) error {
	for _, r := range q.Apply(records) {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(r); err != nil {
			return err
		}
	}
	return nil
}
