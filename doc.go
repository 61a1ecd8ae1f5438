/*
Package kindstore is a client for schemaless entity storage with keys,
conjunctive queries and atomic transactions over pluggable backends.

Entities belong to a kind and are addressed by keys. A key is either partial
(kind only) or complete (kind plus a positive integer id or a non-empty
name). Writing an entity with a partial key makes the backend allocate an id;
the entity's key becomes complete when the write succeeds.

Basic Usage:

	client, _ := kindstore.New(memory.New(), kindstore.WithLogger(logger))
	defer client.Close()

	toy := datastore.NewEntity(datastore.MustNameKey("Thing", "toy"))
	toy.Set("name", "Toy")
	err := client.Put(ctx, toy)

	q := datastore.NewQuery("Thing").Filter("name", "=", "Computer").Limit(10)
	it := client.Run(ctx, q)
	defer it.Stop()
	for {
	    e, err := it.Next()
	    if err == kindstore.Done {
	        break
	    }
	    ...
	}

Transactions buffer writes until Commit and fail the commit with a conflict
when an entity read through the transaction changed in the meantime:

	err := client.RunInTransaction(ctx, func(tx *kindstore.Transaction) error {
	    pending, err := tx.Put(datastore.NewEntity(partialKey))
	    ...
	    return nil
	})

Backends are selected by Config (YAML plus environment overrides) through
OpenBackend, or constructed directly from the datastore subpackages. The
client never retries; wrap work in Retry to retry conflicts and outages.
*/
package kindstore
