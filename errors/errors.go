/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Common sentinel errors
var (
	// ErrNotFound is returned when a named resource (for example a registered backend) is not found
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when attempting to register something that already exists
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidKey is returned for a key with a missing kind or a malformed identifier
	ErrInvalidKey = errors.New("invalid key")

	// ErrInvalidEntity is returned when an entity cannot be stored as given
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrInvalidQuery is returned when a query descriptor is malformed
	ErrInvalidQuery = errors.New("invalid query")

	// ErrInvalidTransactionState is returned for an operation on a transaction that is no longer active
	ErrInvalidTransactionState = errors.New("invalid transaction state")

	// ErrBackendUnavailable is returned for transient backend failures; callers may retry
	ErrBackendUnavailable = errors.New("backend unavailable")

	// ErrCommitConflict is returned when an atomic commit is rejected by the backend
	ErrCommitConflict = errors.New("commit conflict")
)

// NotFoundError represents an error when a named resource is not found
type NotFoundError struct {
	Type string
	Key  string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with key %q not found", e.Type, e.Key)
}

func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// AlreadyExistsError represents an error when a named resource already exists
type AlreadyExistsError struct {
	Type string
	Key  string
}

func (e *AlreadyExistsError) Error() string {
	return fmt.Sprintf("%s with key %q already exists", e.Type, e.Key)
}

func (e *AlreadyExistsError) Is(target error) bool {
	return target == ErrAlreadyExists
}

// InvalidKeyError describes why a key could not be built or decoded
type InvalidKeyError struct {
	Kind   string
	Reason string
}

func (e *InvalidKeyError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("invalid key of kind %q: %s", e.Kind, e.Reason)
	}
	return fmt.Sprintf("invalid key: %s", e.Reason)
}

func (e *InvalidKeyError) Is(target error) bool {
	return target == ErrInvalidKey
}

// InvalidEntityError describes an entity that failed validation before a write
type InvalidEntityError struct {
	Key      string
	Property string
	Reason   string
}

func (e *InvalidEntityError) Error() string {
	if e.Property != "" {
		return fmt.Sprintf("invalid entity %s: property %q: %s", e.Key, e.Property, e.Reason)
	}
	return fmt.Sprintf("invalid entity %s: %s", e.Key, e.Reason)
}

func (e *InvalidEntityError) Is(target error) bool {
	return target == ErrInvalidEntity
}

// InvalidQueryError describes a malformed query descriptor
type InvalidQueryError struct {
	Reason string
}

func (e *InvalidQueryError) Error() string {
	return fmt.Sprintf("invalid query: %s", e.Reason)
}

func (e *InvalidQueryError) Is(target error) bool {
	return target == ErrInvalidQuery
}

// TransactionStateError is returned when an operation is issued on a transaction
// that has already committed, rolled back or failed.
type TransactionStateError struct {
	ID        string
	State     string
	Operation string
}

func (e *TransactionStateError) Error() string {
	return fmt.Sprintf("transaction %s: cannot %s in state %s", e.ID, e.Operation, e.State)
}

func (e *TransactionStateError) Is(target error) bool {
	return target == ErrInvalidTransactionState
}

// BackendUnavailableError wraps a transient backend failure
type BackendUnavailableError struct {
	Backend   string
	Operation string
	Err       error
}

func (e *BackendUnavailableError) Error() string {
	return fmt.Sprintf("%s backend unavailable during %s: %v", e.Backend, e.Operation, e.Err)
}

func (e *BackendUnavailableError) Is(target error) bool {
	return target == ErrBackendUnavailable
}

func (e *BackendUnavailableError) Unwrap() error {
	return e.Err
}

// CommitConflictError is returned when the backend rejects an atomic commit.
// Keys lists the encoded keys involved in the conflict when the backend reports them.
type CommitConflictError struct {
	TransactionID string
	Keys          []string
	Err           error
}

func (e *CommitConflictError) Error() string {
	msg := "commit conflict"
	if e.TransactionID != "" {
		msg = fmt.Sprintf("transaction %s: commit conflict", e.TransactionID)
	}
	if len(e.Keys) > 0 {
		msg += " on " + strings.Join(e.Keys, ", ")
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *CommitConflictError) Is(target error) bool {
	return target == ErrCommitConflict
}

func (e *CommitConflictError) Unwrap() error {
	return e.Err
}

// Helper functions for creating errors

// NewNotFoundError creates a new NotFoundError
func NewNotFoundError(resourceType, key string) error {
	return &NotFoundError{Type: resourceType, Key: key}
}

// NewAlreadyExistsError creates a new AlreadyExistsError
func NewAlreadyExistsError(resourceType, key string) error {
	return &AlreadyExistsError{Type: resourceType, Key: key}
}

// NewInvalidKeyError creates a new InvalidKeyError
func NewInvalidKeyError(kind, reason string) error {
	return &InvalidKeyError{Kind: kind, Reason: reason}
}

// NewInvalidEntityError creates a new InvalidEntityError
func NewInvalidEntityError(key, property, reason string) error {
	return &InvalidEntityError{Key: key, Property: property, Reason: reason}
}

// NewInvalidQueryError creates a new InvalidQueryError
func NewInvalidQueryError(reason string) error {
	return &InvalidQueryError{Reason: reason}
}

// NewTransactionStateError creates a new TransactionStateError
func NewTransactionStateError(id, state, operation string) error {
	return &TransactionStateError{ID: id, State: state, Operation: operation}
}

// NewBackendUnavailableError wraps err as a transient backend failure
func NewBackendUnavailableError(backend, operation string, err error) error {
	return &BackendUnavailableError{Backend: backend, Operation: operation, Err: err}
}

// NewCommitConflictError creates a new CommitConflictError
func NewCommitConflictError(txID string, keys []string, err error) error {
	return &CommitConflictError{TransactionID: txID, Keys: keys, Err: err}
}

// IsNotFound checks if an error is a not found error
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsAlreadyExists checks if an error is an already exists error
func IsAlreadyExists(err error) bool {
	return errors.Is(err, ErrAlreadyExists)
}

// IsInvalidKey checks if an error is an invalid key error
func IsInvalidKey(err error) bool {
	return errors.Is(err, ErrInvalidKey)
}

// IsInvalidEntity checks if an error is an invalid entity error
func IsInvalidEntity(err error) bool {
	return errors.Is(err, ErrInvalidEntity)
}

// IsInvalidQuery checks if an error is an invalid query error
func IsInvalidQuery(err error) bool {
	return errors.Is(err, ErrInvalidQuery)
}

// IsInvalidTransactionState checks if an error reports a non-active transaction
func IsInvalidTransactionState(err error) bool {
	return errors.Is(err, ErrInvalidTransactionState)
}

// IsBackendUnavailable checks if an error is a transient backend failure
func IsBackendUnavailable(err error) bool {
	return errors.Is(err, ErrBackendUnavailable)
}

// IsCommitConflict checks if an error is a commit conflict
func IsCommitConflict(err error) bool {
	return errors.Is(err, ErrCommitConflict)
}

// IsRetryable reports whether the caller may rebuild and retry the failed operation.
// Programming errors (keys, entities, queries, transaction state) are never retryable.
func IsRetryable(err error) bool {
	return IsBackendUnavailable(err) || IsCommitConflict(err)
}
