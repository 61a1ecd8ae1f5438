/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/suparena/kindstore/datastore"
	"github.com/suparena/kindstore/storagemodels"
	"go.uber.org/zap"
)

// queryParams builds the first page of a kind query. Equality filters are
// pushed into the FilterExpression; every filter is still re-checked on the
// client because DynamoDB's comparison rules are not ours.
func (b *Backend) queryParams(q *datastore.Query) (*storagemodels.QueryParams, error) {
	params := &storagemodels.QueryParams{
		TableName:              b.table,
		KeyConditionExpression: "#pk = :pk",
		ExpressionAttributeNames: map[string]string{
			"#pk":   attrPK,
			"#kind": attrKind,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk":   &types.AttributeValueMemberS{Value: b.partitionKey(q.Kind())},
			":kind": &types.AttributeValueMemberS{Value: q.Kind()},
		},
		PageSize:       aws.Int32(b.pageSize),
		ConsistentRead: aws.Bool(true),
	}

	conditions := []string{"#kind = :kind"}
	for i, f := range q.Filters() {
		if f.Operator != datastore.Equal || f.Value == nil {
			continue
		}
		v, err := datastore.NormalizeValue(f.Value)
		if err != nil {
			return nil, err
		}
		av, _, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		name, value := fmt.Sprintf("#f%d", i), fmt.Sprintf(":f%d", i)
		params.ExpressionAttributeNames["#props"] = attrProps
		params.ExpressionAttributeNames[name] = f.Property
		params.ExpressionAttributeValues[value] = av
		conditions = append(conditions, fmt.Sprintf("#props.%s = %s", name, value))
	}
	params.FilterExpression = aws.String(strings.Join(conditions, " AND "))
	return params, nil
}

func queryInput(params *storagemodels.QueryParams) *sdk.QueryInput {
	return &sdk.QueryInput{
		TableName:                 aws.String(params.TableName),
		KeyConditionExpression:    aws.String(params.KeyConditionExpression),
		FilterExpression:          params.FilterExpression,
		ExpressionAttributeNames:  params.ExpressionAttributeNames,
		ExpressionAttributeValues: params.ExpressionAttributeValues,
		IndexName:                 params.IndexName,
		Limit:                     params.PageSize,
		ExclusiveStartKey:         params.ExclusiveStartKey,
		ConsistentRead:            params.ConsistentRead,
	}
}

// pages calls fn with the decoded records of each page until the query is
// exhausted or fn asks to stop.
func (b *Backend) pages(ctx context.Context, params *storagemodels.QueryParams, fn func([]*datastore.Record) (more bool, err error)) error {
	pageNum := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		out, err := b.client.Query(ctx, queryInput(params))
		if err != nil {
			return classify("query", err)
		}
		pageNum++

		records := make([]*datastore.Record, 0, len(out.Items))
		for _, item := range out.Items {
			r, err := decodeItem(item)
			if err != nil {
				return fmt.Errorf("failed to decode item on page %d: %w", pageNum, err)
			}
			records = append(records, r)
		}
		b.log.Debug("query page",
			zap.String("table", params.TableName),
			zap.Int("page", pageNum),
			zap.Int("items", len(records)))

		more, err := fn(records)
		if err != nil || !more {
			return err
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		params.ExclusiveStartKey = out.LastEvaluatedKey
	}
}

// RunQuery reads the kind's partition. Without an order clause results are
// streamed page by page in sort key order and the limit stops paging early;
// with one, the partition is collected and sorted in memory.
func (b *Backend) RunQuery(ctx context.Context, q *datastore.Query, fn func(*datastore.Record) error) error {
	if err := q.Err(); err != nil {
		return err
	}
	params, err := b.queryParams(q)
	if err != nil {
		return err
	}

	if len(q.Orders()) > 0 {
		var all []*datastore.Record
		err := b.pages(ctx, params, func(page []*datastore.Record) (bool, error) {
			all = append(all, page...)
			return true, nil
		})
		if err != nil {
			return err
		}
		return datastore.Visit(ctx, q, all, fn)
	}

	sent := 0
	return b.pages(ctx, params, func(page []*datastore.Record) (bool, error) {
		for _, r := range page {
			if !q.Matches(r) {
				continue
			}
			if err := fn(r); err != nil {
				return false, err
			}
			sent++
			if q.MaxResults() > 0 && sent >= q.MaxResults() {
				return false, nil
			}
		}
		return true, nil
	})
}
