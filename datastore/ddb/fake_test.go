/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"
)

// fakeDynamo is an in-process table that understands exactly the expressions
// the backend emits. It enforces the DynamoDB rules the backend depends on:
// one action per item in a transaction, no unused expression names, and
// positional cancellation reasons.
type fakeDynamo struct {
	mu    sync.Mutex
	items map[string]map[string]types.AttributeValue

	// unprocessed makes the next BatchGetItem defer all but the first key.
	unprocessed bool
	// transactErr is returned by TransactWriteItems when set.
	transactErr error

	transactions []*sdk.TransactWriteItemsInput
	queries      int
}

func newFakeDynamo() *fakeDynamo {
	return &fakeDynamo{items: make(map[string]map[string]types.AttributeValue)}
}

func validation(format string, args ...any) error {
	return &smithy.GenericAPIError{Code: "ValidationException", Message: fmt.Sprintf(format, args...)}
}

func sAttr(item map[string]types.AttributeValue, name string) string {
	if s, ok := item[name].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func nAttr(item map[string]types.AttributeValue, name string) int64 {
	if n, ok := item[name].(*types.AttributeValueMemberN); ok {
		v, _ := strconv.ParseInt(n.Value, 10, 64)
		return v
	}
	return 0
}

func itemID(key map[string]types.AttributeValue) string {
	return sAttr(key, attrPK) + "\x00" + sAttr(key, attrSK)
}

func copyItem(item map[string]types.AttributeValue) map[string]types.AttributeValue {
	out := make(map[string]types.AttributeValue, len(item))
	for k, v := range item {
		out[k] = v
	}
	return out
}

func checkNames(names map[string]string, exprs ...*string) error {
	var all strings.Builder
	for _, e := range exprs {
		if e != nil {
			all.WriteString(*e)
			all.WriteString(" ")
		}
	}
	for placeholder := range names {
		if !strings.Contains(all.String(), placeholder) {
			return validation("unused expression attribute name %s", placeholder)
		}
	}
	return nil
}

func avEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		x, err1 := strconv.ParseFloat(av.Value, 64)
		y, err2 := strconv.ParseFloat(bv.Value, 64)
		return err1 == nil && err2 == nil && x == y
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberB:
		bv, ok := b.(*types.AttributeValueMemberB)
		return ok && bytes.Equal(av.Value, bv.Value)
	}
	return false
}

// holds evaluates a version condition against the stored item.
func holds(cond *string, names map[string]string, values map[string]types.AttributeValue, item map[string]types.AttributeValue) (bool, error) {
	if cond == nil {
		return true, nil
	}
	switch *cond {
	case "attribute_not_exists(#pk)":
		return item == nil, nil
	case "#ver = :expected":
		if names["#ver"] != attrVersion {
			return false, validation("#ver must name %s", attrVersion)
		}
		return item != nil && avEqual(item[attrVersion], values[":expected"]), nil
	}
	return false, validation("unsupported condition %q", *cond)
}

func (f *fakeDynamo) BatchGetItem(_ context.Context, params *sdk.BatchGetItemInput, _ ...func(*sdk.Options)) (*sdk.BatchGetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := &sdk.BatchGetItemOutput{Responses: map[string][]map[string]types.AttributeValue{}}
	for table, req := range params.RequestItems {
		if len(req.Keys) > maxBatchGet {
			return nil, validation("too many keys: %d", len(req.Keys))
		}
		seen := map[string]bool{}
		for i, key := range req.Keys {
			id := itemID(key)
			if seen[id] {
				return nil, validation("provided list of item keys contains duplicates")
			}
			seen[id] = true
			if f.unprocessed && i > 0 {
				if out.UnprocessedKeys == nil {
					out.UnprocessedKeys = map[string]types.KeysAndAttributes{}
				}
				ka := out.UnprocessedKeys[table]
				ka.Keys = append(ka.Keys, key)
				out.UnprocessedKeys[table] = ka
				continue
			}
			if item, ok := f.items[id]; ok {
				out.Responses[table] = append(out.Responses[table], copyItem(item))
			}
		}
	}
	f.unprocessed = false
	return out, nil
}

func (f *fakeDynamo) UpdateItem(_ context.Context, params *sdk.UpdateItemInput, _ ...func(*sdk.Options)) (*sdk.UpdateItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if aws.ToString(params.UpdateExpression) != "ADD #seq :one" {
		return nil, validation("unsupported update %q", aws.ToString(params.UpdateExpression))
	}
	id := itemID(params.Key)
	item, ok := f.items[id]
	if !ok {
		item = copyItem(params.Key)
	}
	seq := nAttr(item, attrSeq) + 1
	item[attrSeq] = &types.AttributeValueMemberN{Value: strconv.FormatInt(seq, 10)}
	f.items[id] = item
	return &sdk.UpdateItemOutput{Attributes: map[string]types.AttributeValue{attrSeq: item[attrSeq]}}, nil
}

func (f *fakeDynamo) TransactWriteItems(_ context.Context, params *sdk.TransactWriteItemsInput, _ ...func(*sdk.Options)) (*sdk.TransactWriteItemsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.transactions = append(f.transactions, params)
	if f.transactErr != nil {
		return nil, f.transactErr
	}
	if len(params.TransactItems) > maxTransactItems {
		return nil, validation("too many transact items")
	}

	reasons := make([]types.CancellationReason, len(params.TransactItems))
	failed := false
	seen := map[string]bool{}
	for i, ti := range params.TransactItems {
		var (
			key    map[string]types.AttributeValue
			cond   *string
			names  map[string]string
			values map[string]types.AttributeValue
			err    error
		)
		switch {
		case ti.Update != nil:
			key, cond, names, values = ti.Update.Key, ti.Update.ConditionExpression, ti.Update.ExpressionAttributeNames, ti.Update.ExpressionAttributeValues
			if aws.ToString(ti.Update.UpdateExpression) != upsertExpression {
				return nil, validation("unsupported update %q", aws.ToString(ti.Update.UpdateExpression))
			}
			err = checkNames(names, ti.Update.UpdateExpression, cond)
		case ti.Delete != nil:
			key, cond, names, values = ti.Delete.Key, ti.Delete.ConditionExpression, ti.Delete.ExpressionAttributeNames, ti.Delete.ExpressionAttributeValues
			err = checkNames(names, cond)
		case ti.ConditionCheck != nil:
			key, cond, names, values = ti.ConditionCheck.Key, ti.ConditionCheck.ConditionExpression, ti.ConditionCheck.ExpressionAttributeNames, ti.ConditionCheck.ExpressionAttributeValues
			err = checkNames(names, cond)
		default:
			return nil, validation("empty transact item %d", i)
		}
		if err != nil {
			return nil, err
		}

		id := itemID(key)
		if seen[id] {
			return nil, validation("transaction request cannot include multiple operations on one item")
		}
		seen[id] = true

		item := f.items[id]
		ok, err := holds(cond, names, values, item)
		if err != nil {
			return nil, err
		}
		code := "None"
		if !ok {
			code = reasonConditionalCheckFailed
			failed = true
		}
		reasons[i] = types.CancellationReason{Code: aws.String(code)}
	}
	if failed {
		return nil, &types.TransactionCanceledException{
			Message:             aws.String("Transaction cancelled, please refer cancellation reasons for specific reasons"),
			CancellationReasons: reasons,
		}
	}

	for _, ti := range params.TransactItems {
		switch {
		case ti.Update != nil:
			id := itemID(ti.Update.Key)
			item, ok := f.items[id]
			if !ok {
				item = copyItem(ti.Update.Key)
			}
			v := ti.Update.ExpressionAttributeValues
			item[attrProps] = v[":props"]
			item[attrTypes] = v[":types"]
			item[attrKind] = v[":kind"]
			item[attrKey] = v[":ekey"]
			item[attrVersion] = &types.AttributeValueMemberN{Value: strconv.FormatInt(nAttr(item, attrVersion)+1, 10)}
			f.items[id] = item
		case ti.Delete != nil:
			delete(f.items, itemID(ti.Delete.Key))
		}
	}
	return &sdk.TransactWriteItemsOutput{}, nil
}

func (f *fakeDynamo) Query(_ context.Context, params *sdk.QueryInput, _ ...func(*sdk.Options)) (*sdk.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries++

	if aws.ToString(params.KeyConditionExpression) != "#pk = :pk" {
		return nil, validation("unsupported key condition %q", aws.ToString(params.KeyConditionExpression))
	}
	if err := checkNames(params.ExpressionAttributeNames, params.KeyConditionExpression, params.FilterExpression); err != nil {
		return nil, err
	}
	pk := params.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value

	var partition []map[string]types.AttributeValue
	for _, item := range f.items {
		if sAttr(item, attrPK) == pk {
			partition = append(partition, item)
		}
	}
	sort.Slice(partition, func(i, j int) bool { return sAttr(partition[i], attrSK) < sAttr(partition[j], attrSK) })

	start := 0
	if params.ExclusiveStartKey != nil {
		after := sAttr(params.ExclusiveStartKey, attrSK)
		for start < len(partition) && sAttr(partition[start], attrSK) <= after {
			start++
		}
	}
	end := len(partition)
	if params.Limit != nil && start+int(*params.Limit) < end {
		end = start + int(*params.Limit)
	}

	out := &sdk.QueryOutput{}
	for _, item := range partition[start:end] {
		ok, err := f.filter(params, item)
		if err != nil {
			return nil, err
		}
		if ok {
			out.Items = append(out.Items, copyItem(item))
		}
	}
	if end < len(partition) {
		last := partition[end-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{attrPK: last[attrPK], attrSK: last[attrSK]}
	}
	return out, nil
}

func (f *fakeDynamo) filter(params *sdk.QueryInput, item map[string]types.AttributeValue) (bool, error) {
	if params.FilterExpression == nil {
		return true, nil
	}
	for _, cond := range strings.Split(*params.FilterExpression, " AND ") {
		lhs, rhs, ok := strings.Cut(cond, " = ")
		if !ok {
			return false, validation("unsupported filter %q", cond)
		}
		want := params.ExpressionAttributeValues[rhs]
		var got types.AttributeValue
		if path, ok := strings.CutPrefix(lhs, "#props."); ok {
			if props, ok := item[attrProps].(*types.AttributeValueMemberM); ok {
				got = props.Value[params.ExpressionAttributeNames[path]]
			}
		} else {
			got = item[params.ExpressionAttributeNames[lhs]]
		}
		if got == nil || !avEqual(got, want) {
			return false, nil
		}
	}
	return true, nil
}
