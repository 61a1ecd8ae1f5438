/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"fmt"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"
	"github.com/suparena/kindstore/datastore"
	"github.com/suparena/kindstore/errors"
	"go.uber.org/zap"
)

// Id counters live in their own items, outside every kind's partition.
const (
	counterPKPrefix = "SEQ#"
	counterSK       = "SEQ"
)

const upsertExpression = "SET #props = :props, #types = :types, #kind = :kind, #ekey = :ekey ADD #ver :one"

// expression accumulates the names and values of one update or condition.
type expression struct {
	names  map[string]string
	values map[string]types.AttributeValue
}

func newExpression() *expression {
	return &expression{names: map[string]string{}, values: map[string]types.AttributeValue{}}
}

func (e *expression) attrNames() map[string]string {
	if len(e.names) == 0 {
		return nil
	}
	return e.names
}

func (e *expression) attrValues() map[string]types.AttributeValue {
	if len(e.values) == 0 {
		return nil
	}
	return e.values
}

// versionCondition requires the stored version to equal version, or the item
// to be absent when version is zero.
func (e *expression) versionCondition(version int64) string {
	if version == 0 {
		e.names["#pk"] = attrPK
		return "attribute_not_exists(#pk)"
	}
	e.names["#ver"] = attrVersion
	e.values[":expected"] = &types.AttributeValueMemberN{Value: strconv.FormatInt(version, 10)}
	return "#ver = :expected"
}

// nextID increments the kind's counter item and returns the new value.
func (b *Backend) nextID(ctx context.Context, kind string) (int64, error) {
	out, err := b.client.UpdateItem(ctx, &sdk.UpdateItemInput{
		TableName: aws.String(b.table),
		Key: map[string]types.AttributeValue{
			attrPK: &types.AttributeValueMemberS{Value: counterPKPrefix + kind},
			attrSK: &types.AttributeValueMemberS{Value: counterSK},
		},
		UpdateExpression:          aws.String("ADD #seq :one"),
		ExpressionAttributeNames:  map[string]string{"#seq": attrSeq},
		ExpressionAttributeValues: map[string]types.AttributeValue{":one": &types.AttributeValueMemberN{Value: "1"}},
		ReturnValues:              types.ReturnValueUpdatedNew,
	})
	if err != nil {
		return 0, classify("allocate", err)
	}
	var id int64
	if err := attributevalue.Unmarshal(out.Attributes[attrSeq], &id); err != nil {
		return 0, fmt.Errorf("failed to read id counter for %s: %w", kind, err)
	}
	return id, nil
}

// allocate completes the partial keys of req. Ids already stored or named
// explicitly by req are skipped. Drawn ids are consumed even when the commit
// later fails.
func (b *Backend) allocate(ctx context.Context, req *datastore.CommitRequest) ([]datastore.CompleteKey, error) {
	keys := make([]datastore.CompleteKey, len(req.Mutations))
	explicit := req.ExplicitKeys()
	for i, m := range req.Mutations {
		if ck, ok := m.Key.(datastore.CompleteKey); ok {
			keys[i] = ck
			continue
		}
		for {
			id, err := b.nextID(ctx, m.Key.Kind())
			if err != nil {
				return nil, err
			}
			ck, err := datastore.IDKey(m.Key.Kind(), id)
			if err != nil {
				return nil, err
			}
			if _, claimed := explicit[ck.Encode()]; claimed {
				b.log.Debug("skipping id named in the request", zap.String("key", ck.Encode()))
				continue
			}
			existing, err := b.Lookup(ctx, []datastore.CompleteKey{ck})
			if err != nil {
				return nil, err
			}
			if existing[0] == nil {
				keys[i] = ck
				break
			}
			b.log.Debug("skipping id already in use", zap.String("key", ck.Encode()))
		}
	}
	return keys, nil
}

func (b *Backend) upsertItem(key datastore.CompleteKey, props map[string]any, pre *datastore.Precondition) (types.TransactWriteItem, error) {
	values, tags, err := encodeProps(key, props)
	if err != nil {
		return types.TransactWriteItem{}, err
	}
	expr := newExpression()
	expr.names["#props"] = attrProps
	expr.names["#types"] = attrTypes
	expr.names["#kind"] = attrKind
	expr.names["#ekey"] = attrKey
	expr.names["#ver"] = attrVersion
	expr.values[":props"] = values
	expr.values[":types"] = tags
	expr.values[":kind"] = &types.AttributeValueMemberS{Value: key.Kind()}
	expr.values[":ekey"] = &types.AttributeValueMemberS{Value: key.Encode()}
	expr.values[":one"] = &types.AttributeValueMemberN{Value: "1"}

	update := &types.Update{
		TableName:        aws.String(b.table),
		Key:              b.keyAttrs(key),
		UpdateExpression: aws.String(upsertExpression),
	}
	if pre != nil {
		update.ConditionExpression = aws.String(expr.versionCondition(pre.Version))
	}
	update.ExpressionAttributeNames = expr.attrNames()
	update.ExpressionAttributeValues = expr.attrValues()
	return types.TransactWriteItem{Update: update}, nil
}

func (b *Backend) deleteItem(key datastore.CompleteKey, pre *datastore.Precondition) types.TransactWriteItem {
	del := &types.Delete{
		TableName: aws.String(b.table),
		Key:       b.keyAttrs(key),
	}
	if pre != nil {
		expr := newExpression()
		del.ConditionExpression = aws.String(expr.versionCondition(pre.Version))
		del.ExpressionAttributeNames = expr.attrNames()
		del.ExpressionAttributeValues = expr.attrValues()
	}
	return types.TransactWriteItem{Delete: del}
}

func (b *Backend) conditionCheck(pre datastore.Precondition) types.TransactWriteItem {
	expr := newExpression()
	cond := expr.versionCondition(pre.Version)
	return types.TransactWriteItem{ConditionCheck: &types.ConditionCheck{
		TableName:                 aws.String(b.table),
		Key:                       b.keyAttrs(pre.Key),
		ConditionExpression:       aws.String(cond),
		ExpressionAttributeNames:  expr.attrNames(),
		ExpressionAttributeValues: expr.attrValues(),
	}}
}

// Commit writes the request with one TransactWriteItems call. DynamoDB allows
// a single action per item, so mutations are collapsed to the last one per
// key and preconditions ride on that action's condition expression.
// Preconditions on keys that are not written become ConditionChecks.
func (b *Backend) Commit(ctx context.Context, req *datastore.CommitRequest) (*datastore.CommitResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	if len(req.Mutations) == 0 && len(req.Preconditions) == 0 {
		return &datastore.CommitResponse{}, nil
	}
	keys, err := b.allocate(ctx, req)
	if err != nil {
		return nil, err
	}

	pre := make(map[string]*datastore.Precondition, len(req.Preconditions))
	for i := range req.Preconditions {
		pre[req.Preconditions[i].Key.Encode()] = &req.Preconditions[i]
	}

	last := make(map[string]int, len(keys))
	var order []string
	for i, k := range keys {
		enc := k.Encode()
		if _, ok := last[enc]; !ok {
			order = append(order, enc)
		}
		last[enc] = i
	}

	items := make([]types.TransactWriteItem, 0, len(order)+len(pre))
	itemKeys := make([]string, 0, len(order)+len(pre))
	for _, enc := range order {
		i := last[enc]
		m := req.Mutations[i]
		switch m.Op {
		case datastore.OpUpsert:
			item, err := b.upsertItem(keys[i], m.Properties, pre[enc])
			if err != nil {
				return nil, err
			}
			items = append(items, item)
		case datastore.OpDelete:
			items = append(items, b.deleteItem(keys[i], pre[enc]))
		}
		itemKeys = append(itemKeys, enc)
	}
	for _, p := range req.Preconditions {
		enc := p.Key.Encode()
		if _, written := last[enc]; written {
			continue
		}
		items = append(items, b.conditionCheck(p))
		itemKeys = append(itemKeys, enc)
	}

	if len(items) > maxTransactItems {
		return nil, errors.NewInvalidEntityError(req.TransactionID, "",
			fmt.Sprintf("commit touches %d items, DynamoDB allows %d", len(items), maxTransactItems))
	}

	input := &sdk.TransactWriteItemsInput{TransactItems: items}
	if _, err := uuid.Parse(req.TransactionID); err == nil {
		input.ClientRequestToken = aws.String(req.TransactionID)
	}
	if _, err := b.client.TransactWriteItems(ctx, input); err != nil {
		if isConflict(err) {
			return nil, errors.NewCommitConflictError(req.TransactionID, conflictingKeys(err, itemKeys), err)
		}
		return nil, classify("commit", err)
	}

	b.log.Debug("transaction committed",
		zap.String("transaction", req.TransactionID),
		zap.Int("items", len(items)))
	return &datastore.CommitResponse{Keys: keys}, nil
}
