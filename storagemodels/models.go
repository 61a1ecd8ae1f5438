/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package storagemodels

import (
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// QueryParams defines parameters for a DynamoDB Query operation.
// The ddb backend translates a datastore query into QueryParams page by page.
type QueryParams struct {
	// TableName is the DynamoDB table name.
	TableName string
	// KeyConditionExpression is the primary condition for the query.
	KeyConditionExpression string
	// FilterExpression is an optional filter expression.
	FilterExpression *string
	// ExpressionAttributeNames maps #placeholders to attribute names.
	ExpressionAttributeNames map[string]string
	// ExpressionAttributeValues contains the values for expression placeholders.
	ExpressionAttributeValues map[string]types.AttributeValue
	// IndexName is optional if you wish to query a secondary index.
	IndexName *string
	// PageSize bounds the items DynamoDB evaluates per request.
	PageSize *int32
	// ExclusiveStartKey for pagination
	ExclusiveStartKey map[string]types.AttributeValue
	// ConsistentRead requests strongly consistent reads.
	ConsistentRead *bool
}
