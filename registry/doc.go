/*
Package registry manages DynamoDB key layouts for KindStore kinds.

Every kind maps to an index map of templates. Unregistered kinds use
DefaultIndexMap, which keeps each kind in its own partition:

	indexMap := map[string]string{
	    "PK": "TENANT42#{Kind}",
	    "SK": "{Key}",
	}
	if err := registry.RegisterIndexMap("Thing", indexMap); err != nil {
	    return err
	}

Available macros are {Kind}, {Key}, {ID} and {Name}. The partition key may only
use {Kind}; the sort key must keep keys unique.

The registry is thread-safe and should be populated during initialization.
*/
package registry
