/*
Package errors provides semantic error types for the KindStore library.

Every error falls in one of two groups. Local programming errors fail fast and
are never retried:

	var (
	    ErrInvalidKey              = errors.New("invalid key")
	    ErrInvalidEntity           = errors.New("invalid entity")
	    ErrInvalidQuery            = errors.New("invalid query")
	    ErrInvalidTransactionState = errors.New("invalid transaction state")
	)

Backend errors are surfaced to the caller, who owns the retry policy:

	var (
	    ErrBackendUnavailable = errors.New("backend unavailable")
	    ErrCommitConflict     = errors.New("commit conflict")
	)

Usage:

	if err := tx.Commit(ctx); err != nil {
	    if errors.IsCommitConflict(err) {
	        // rebuild the transaction with fresh entities and try again
	    }
	    return err
	}

The typed errors implement Is so they match their sentinel through any amount
of fmt.Errorf("...: %w") wrapping.
*/
package errors
