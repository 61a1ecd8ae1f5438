/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package ddb

import (
	"context"
	"fmt"
	"math"
	"strconv"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	sdk "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/suparena/kindstore/datastore"
	"github.com/suparena/kindstore/errors"
	"github.com/suparena/kindstore/registry"
	"go.uber.org/zap"
)

// Name is the registered backend name.
const Name = "dynamodb"

// Item attribute names.
const (
	attrPK      = "PK"
	attrSK      = "SK"
	attrKind    = "EntityKind"
	attrKey     = "EntityKey"
	attrVersion = "Version"
	attrProps   = "Props"
	attrTypes   = "PropTypes"
	attrSeq     = "Seq"
)

// maxBatchGet and maxTransactItems are DynamoDB service limits.
const (
	maxBatchGet      = 100
	maxTransactItems = 100
)

// API is the subset of the DynamoDB client the backend uses.
type API interface {
	BatchGetItem(ctx context.Context, params *sdk.BatchGetItemInput, optFns ...func(*sdk.Options)) (*sdk.BatchGetItemOutput, error)
	TransactWriteItems(ctx context.Context, params *sdk.TransactWriteItemsInput, optFns ...func(*sdk.Options)) (*sdk.TransactWriteItemsOutput, error)
	UpdateItem(ctx context.Context, params *sdk.UpdateItemInput, optFns ...func(*sdk.Options)) (*sdk.UpdateItemOutput, error)
	Query(ctx context.Context, params *sdk.QueryInput, optFns ...func(*sdk.Options)) (*sdk.QueryOutput, error)
}

// Options configure the DynamoDB backend.
type Options struct {
	Region string
	Table  string
	// Endpoint overrides the service endpoint, e.g. http://localhost:8000 for DynamoDB Local.
	Endpoint string
	// AccessKey and SecretKey are optional; the default credential chain is used when empty.
	AccessKey string
	SecretKey string
	// PageSize is the number of items per Query page (default 100).
	PageSize int32
	// Layouts maps kinds to key templates (default: a snapshot of registry.Default).
	Layouts *registry.IndexMaps
	Logger  *zap.Logger
}

// Backend implements datastore.Backend on a single DynamoDB table whose
// primary key is (PK, SK), both strings.
type Backend struct {
	client   API
	table    string
	pageSize int32
	layouts  *registry.IndexMaps
	log      *zap.Logger
}

// NewDynamoDBClient initializes a DynamoDB client from opts.
func NewDynamoDBClient(ctx context.Context, opts Options) (*sdk.Client, error) {
	loadOpts := []func(*config.LoadOptions) error{config.WithRegion(opts.Region)}
	if opts.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, ""),
		))
	}
	cfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}

	return sdk.NewFromConfig(cfg, func(o *sdk.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
		}
	}), nil
}

// New constructs a Backend with a client built from opts.
func New(ctx context.Context, opts Options) (*Backend, error) {
	if opts.Table == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}
	client, err := NewDynamoDBClient(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create DynamoDB client: %w", err)
	}
	b := NewWithClient(client, opts)
	b.log.Info("dynamodb backend initialized",
		zap.String("table", opts.Table),
		zap.String("region", opts.Region),
		zap.String("endpoint", opts.Endpoint))
	return b, nil
}

// NewWithClient constructs a Backend around an existing client.
func NewWithClient(client API, opts Options) *Backend {
	b := &Backend{
		client:   client,
		table:    opts.Table,
		pageSize: opts.PageSize,
		layouts:  opts.Layouts,
		log:      opts.Logger,
	}
	if b.pageSize <= 0 {
		b.pageSize = 100
	}
	if b.layouts == nil {
		b.layouts = registry.Default.Clone()
	}
	if b.log == nil {
		b.log = zap.NewNop()
	}
	return b
}

func (b *Backend) Name() string { return Name }

func (b *Backend) Close() error { return nil }

func macroVars(k datastore.CompleteKey) map[string]string {
	vars := map[string]string{
		registry.MacroKind: k.Kind(),
		registry.MacroKey:  k.Encode(),
		registry.MacroName: k.Name(),
	}
	if k.HasID() {
		vars[registry.MacroID] = strconv.FormatInt(k.ID(), 10)
	}
	return vars
}

// keyAttrs expands the kind's index map into the item's primary key.
func (b *Backend) keyAttrs(k datastore.CompleteKey) map[string]types.AttributeValue {
	expanded := registry.Expand(b.layouts.Get(k.Kind()), macroVars(k))
	return map[string]types.AttributeValue{
		attrPK: &types.AttributeValueMemberS{Value: expanded["PK"]},
		attrSK: &types.AttributeValueMemberS{Value: expanded["SK"]},
	}
}

// partitionKey is the PK shared by every entity of kind.
func (b *Backend) partitionKey(kind string) string {
	return registry.Expand(b.layouts.Get(kind), map[string]string{registry.MacroKind: kind})["PK"]
}

func encodeValue(v any) (types.AttributeValue, string, error) {
	switch tv := v.(type) {
	case nil:
		return &types.AttributeValueMemberNULL{Value: true}, datastore.TypeNull, nil
	case bool:
		return &types.AttributeValueMemberBOOL{Value: tv}, datastore.TypeBool, nil
	case int64:
		return &types.AttributeValueMemberN{Value: strconv.FormatInt(tv, 10)}, datastore.TypeInt, nil
	case float64:
		if math.IsNaN(tv) || math.IsInf(tv, 0) {
			return nil, "", fmt.Errorf("dynamodb cannot store %v", tv)
		}
		return &types.AttributeValueMemberN{Value: strconv.FormatFloat(tv, 'f', -1, 64)}, datastore.TypeFloat, nil
	case []byte:
		return &types.AttributeValueMemberB{Value: tv}, datastore.TypeBytes, nil
	}
	typ, s, err := datastore.EncodeValue(v)
	if err != nil {
		return nil, "", err
	}
	return &types.AttributeValueMemberS{Value: s}, typ, nil
}

func decodeValue(av types.AttributeValue, typ string) (any, error) {
	switch tv := av.(type) {
	case *types.AttributeValueMemberNULL:
		return nil, nil
	case *types.AttributeValueMemberBOOL:
		return tv.Value, nil
	case *types.AttributeValueMemberB:
		return tv.Value, nil
	case *types.AttributeValueMemberN:
		return datastore.DecodeValue(typ, tv.Value)
	case *types.AttributeValueMemberS:
		return datastore.DecodeValue(typ, tv.Value)
	}
	return nil, fmt.Errorf("unsupported attribute value %T", av)
}

// encodeProps returns the Props and PropTypes map attributes.
func encodeProps(key datastore.CompleteKey, props map[string]any) (*types.AttributeValueMemberM, *types.AttributeValueMemberM, error) {
	values := &types.AttributeValueMemberM{Value: make(map[string]types.AttributeValue, len(props))}
	tags := &types.AttributeValueMemberM{Value: make(map[string]types.AttributeValue, len(props))}
	for name, v := range props {
		av, typ, err := encodeValue(v)
		if err != nil {
			return nil, nil, errors.NewInvalidEntityError(key.Encode(), name, err.Error())
		}
		values.Value[name] = av
		tags.Value[name] = &types.AttributeValueMemberS{Value: typ}
	}
	return values, tags, nil
}

func stringAttr(item map[string]types.AttributeValue, name string) (string, bool) {
	s, ok := item[name].(*types.AttributeValueMemberS)
	if !ok {
		return "", false
	}
	return s.Value, true
}

// decodeItem converts a stored item back into a record.
func decodeItem(item map[string]types.AttributeValue) (*datastore.Record, error) {
	enc, ok := stringAttr(item, attrKey)
	if !ok {
		return nil, fmt.Errorf("missing %s attribute in item", attrKey)
	}
	key, err := datastore.DecodeKey(enc)
	if err != nil {
		return nil, err
	}
	r := &datastore.Record{Key: key, Properties: map[string]any{}}

	if av, ok := item[attrVersion]; ok {
		if err := attributevalue.Unmarshal(av, &r.Version); err != nil {
			return nil, fmt.Errorf("malformed %s of %s: %w", attrVersion, enc, err)
		}
	}

	props, _ := item[attrProps].(*types.AttributeValueMemberM)
	tags, _ := item[attrTypes].(*types.AttributeValueMemberM)
	if props == nil {
		return r, nil
	}
	for name, av := range props.Value {
		typ := datastore.TypeString
		if tags != nil {
			if tag, ok := tags.Value[name].(*types.AttributeValueMemberS); ok {
				typ = tag.Value
			}
		}
		v, err := decodeValue(av, typ)
		if err != nil {
			return nil, fmt.Errorf("property %q of %s: %w", name, enc, err)
		}
		r.Properties[name] = v
	}
	return r, nil
}

// Lookup reads keys with BatchGetItem in chunks of 100, following
// UnprocessedKeys until every key is answered.
func (b *Backend) Lookup(ctx context.Context, keys []datastore.CompleteKey) ([]*datastore.Record, error) {
	out := make([]*datastore.Record, len(keys))
	found := make(map[string]*datastore.Record, len(keys))

	unique := make([]datastore.CompleteKey, 0, len(keys))
	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if enc := k.Encode(); !seen[enc] {
			seen[enc] = true
			unique = append(unique, k)
		}
	}

	for start := 0; start < len(unique); start += maxBatchGet {
		end := min(start+maxBatchGet, len(unique))
		request := make([]map[string]types.AttributeValue, 0, end-start)
		for _, k := range unique[start:end] {
			request = append(request, b.keyAttrs(k))
		}

		pending := map[string]types.KeysAndAttributes{
			b.table: {Keys: request, ConsistentRead: aws.Bool(true)},
		}
		for len(pending) > 0 {
			resp, err := b.client.BatchGetItem(ctx, &sdk.BatchGetItemInput{RequestItems: pending})
			if err != nil {
				return nil, classify("lookup", err)
			}
			for _, item := range resp.Responses[b.table] {
				r, err := decodeItem(item)
				if err != nil {
					return nil, fmt.Errorf("failed to decode item: %w", err)
				}
				found[r.Key.Encode()] = r
			}
			pending = resp.UnprocessedKeys
		}
	}

	handed := make(map[string]bool, len(found))
	for i, k := range keys {
		enc := k.Encode()
		r, ok := found[enc]
		if !ok {
			continue
		}
		if handed[enc] {
			r = copyRecord(r)
		}
		handed[enc] = true
		out[i] = r
	}
	return out, nil
}

func copyRecord(r *datastore.Record) *datastore.Record {
	c := &datastore.Record{Key: r.Key, Version: r.Version, Properties: make(map[string]any, len(r.Properties))}
	for k, v := range r.Properties {
		c.Properties[k] = v
	}
	return c
}
