/*
Package boltdb provides an embedded, single-file implementation of
datastore.Backend on top of bbolt.

Every kind lives in its own bucket ("kind/<Kind>"). Commits run inside one
bolt write transaction, so a failed precondition or write discards the whole
batch. Ids for partial keys come from the kind bucket's sequence:

	backend, err := boltdb.Open("/var/lib/kindstore/data.db", 5*time.Second)
	if err != nil {
	    return err
	}
	client := kindstore.New(backend)
	defer client.Close()
*/
package boltdb
