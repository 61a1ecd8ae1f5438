/*
Package ddb provides a DynamoDB implementation of datastore.Backend.

All kinds share one table with a string partition key PK and sort key SK.
Where an entity lands is decided by its kind's index map (see the registry
package); by default PK is "KIND#{Kind}" and SK is the encoded key:

	layouts := registry.NewIndexMaps()
	_ = layouts.Register("Player", map[string]string{
	    "PK": "GAME#{Kind}",
	    "SK": "PLAYER#{Key}",
	})
	backend, err := ddb.New(ctx, ddb.Options{
	    Region:  "us-east-1",
	    Table:   "kindstore",
	    Layouts: layouts,
	})

Item layout:

	PK, SK       key attributes expanded from the index map
	EntityKind   the key's kind
	EntityKey    the encoded complete key, e.g. Thing:id:42
	Version      incremented by every write
	Props        map of property values
	PropTypes    map of property type tags

Commits use TransactWriteItems, so they are all-or-nothing and limited to 100
distinct items. Version preconditions become condition expressions, and a
cancelled transaction surfaces as a commit conflict. Ids for partial keys come
from per-kind counter items ("SEQ#{Kind}", "SEQ") incremented with UpdateItem.

Queries read the kind's partition page by page. Equality filters are pushed
down into a FilterExpression; all filters are re-checked client side.
*/
package ddb
