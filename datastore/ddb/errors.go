/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
	"github.com/suparena/kindstore/errors"
)

// Cancellation reason codes that mean another writer got there first.
const (
	reasonConditionalCheckFailed = "ConditionalCheckFailed"
	reasonTransactionConflict    = "TransactionConflict"
)

// isRetryableError reports whether err is a throttling or transient service error.
func isRetryableError(err error) bool {
	var (
		throughput *types.ProvisionedThroughputExceededException
		limit      *types.RequestLimitExceeded
		internal   *types.InternalServerError
	)
	if stderrors.As(err, &throughput) || stderrors.As(err, &limit) || stderrors.As(err, &internal) {
		return true
	}

	var retryable interface{ IsRetryable() bool }
	if stderrors.As(err, &retryable) {
		return retryable.IsRetryable()
	}
	return false
}

// isConflict reports whether err means a condition or a concurrent
// transaction rejected the write.
func isConflict(err error) bool {
	var (
		cfe      *types.ConditionalCheckFailedException
		conflict *types.TransactionConflictException
		canceled *types.TransactionCanceledException
	)
	switch {
	case stderrors.As(err, &cfe), stderrors.As(err, &conflict):
		return true
	case stderrors.As(err, &canceled):
		for _, r := range canceled.CancellationReasons {
			if r.Code == nil {
				continue
			}
			if *r.Code == reasonConditionalCheckFailed || *r.Code == reasonTransactionConflict {
				return true
			}
		}
	}
	return false
}

// conflictingKeys lists the keys whose cancellation reason is a failed
// condition. Reasons are positional, one per transact item.
func conflictingKeys(err error, itemKeys []string) []string {
	var canceled *types.TransactionCanceledException
	if !stderrors.As(err, &canceled) {
		return nil
	}
	var keys []string
	for i, r := range canceled.CancellationReasons {
		if r.Code != nil && *r.Code == reasonConditionalCheckFailed && i < len(itemKeys) {
			keys = append(keys, itemKeys[i])
		}
	}
	return keys
}

// classify maps an SDK error onto the kindstore error taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return err
	case errors.IsCommitConflict(err), errors.IsInvalidEntity(err), errors.IsInvalidKey(err):
		return err
	}

	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		err = fmt.Errorf("dynamodb %s failed (%s, retryable=%t): %w", op, apiErr.ErrorCode(), isRetryableError(err), err)
	} else {
		err = fmt.Errorf("dynamodb %s failed: %w", op, err)
	}
	return errors.NewBackendUnavailableError(Name, op, err)
}
