/*
Package redisstore implements datastore.Backend on Redis.

Layout, with the configurable prefix shown as "kindstore":

	kindstore:e:<Kind>:id:<n>     record JSON (datastore.MarshalRecord)
	kindstore:k:<Kind>            set of encoded keys of that kind
	kindstore:seq:<Kind>          INCR counter for partial-key ids

Commits use optimistic locking: every key the commit reads or writes is
WATCHed, preconditions are checked against the watched values and the writes
go out in a single MULTI/EXEC.
*/
package redisstore
