/*
Package datastore defines the core types of KindStore's persistence layer.

Keys are a sealed two-variant type. A PartialKey names only a kind and is
completed by the backend when its entity is committed; a CompleteKey carries an
id or a name and is the only key accepted by lookups and deletes:

	partial, _ := datastore.IncompleteKey("Thing")
	named, _ := datastore.NameKey("Thing", "foo")
	numbered, _ := datastore.IDKey("Thing", 1234)

Entities are property maps owned by exactly one key. Queries are immutable
descriptors built from conjunctive filters, orders and a limit:

	q := datastore.NewQuery("Thing").
	    Filter("name", "=", "Computer").
	    Filter("age", "=", 10)

The Backend interface is what storage implementations provide:

	type Backend interface {
	    Name() string
	    Lookup(ctx context.Context, keys []CompleteKey) ([]*Record, error)
	    Commit(ctx context.Context, req *CommitRequest) (*CommitResponse, error)
	    RunQuery(ctx context.Context, q *Query, fn func(*Record) error) error
	    Close() error
	}

Implementations:
  - memory: in-process maps, also used as a test double
  - boltdb: embedded single-file store on bbolt
  - ddb: DynamoDB single-table design with TransactWriteItems
  - redisstore: Redis with WATCH/MULTI/EXEC commits

The backendtest package holds a conformance suite every implementation runs.
*/
package datastore
