/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Value type tags used by the record codec.
const (
	TypeNull   = "null"
	TypeBool   = "bool"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeString = "string"
	TypeBytes  = "bytes"
	TypeTime   = "time"
)

type wireValue struct {
	Type  string `json:"t"`
	Value string `json:"v,omitempty"`
}

type wireRecord struct {
	Key        string               `json:"key"`
	Version    int64                `json:"version"`
	Properties map[string]wireValue `json:"props"`
}

// EncodeValue returns the type tag and string form of a normalized value.
func EncodeValue(v any) (typ, s string, err error) {
	switch tv := v.(type) {
	case nil:
		return TypeNull, "", nil
	case bool:
		return TypeBool, strconv.FormatBool(tv), nil
	case int64:
		return TypeInt, strconv.FormatInt(tv, 10), nil
	case float64:
		return TypeFloat, strconv.FormatFloat(tv, 'g', -1, 64), nil
	case string:
		return TypeString, tv, nil
	case []byte:
		return TypeBytes, base64.StdEncoding.EncodeToString(tv), nil
	case time.Time:
		return TypeTime, tv.UTC().Format(TimeFormat), nil
	}
	return "", "", fmt.Errorf("unsupported value type %T", v)
}

// DecodeValue reverses EncodeValue.
func DecodeValue(typ, s string) (any, error) {
	switch typ {
	case TypeNull:
		return nil, nil
	case TypeBool:
		return strconv.ParseBool(s)
	case TypeInt:
		return strconv.ParseInt(s, 10, 64)
	case TypeFloat:
		return strconv.ParseFloat(s, 64)
	case TypeString:
		return s, nil
	case TypeBytes:
		return base64.StdEncoding.DecodeString(s)
	case TypeTime:
		return time.Parse(TimeFormat, s)
	}
	return nil, fmt.Errorf("unknown value type tag %q", typ)
}

// MarshalRecord encodes a record as JSON with typed property values, so that
// int64, float64, bytes and times survive the round trip.
func MarshalRecord(r *Record) ([]byte, error) {
	w := wireRecord{
		Key:        r.Key.Encode(),
		Version:    r.Version,
		Properties: make(map[string]wireValue, len(r.Properties)),
	}
	for name, v := range r.Properties {
		typ, s, err := EncodeValue(v)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		w.Properties[name] = wireValue{Type: typ, Value: s}
	}
	return json.Marshal(w)
}

// UnmarshalRecord decodes the output of MarshalRecord.
func UnmarshalRecord(data []byte) (*Record, error) {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	key, err := DecodeKey(w.Key)
	if err != nil {
		return nil, err
	}
	r := &Record{Key: key, Version: w.Version, Properties: make(map[string]any, len(w.Properties))}
	for name, wv := range w.Properties {
		v, err := DecodeValue(wv.Type, wv.Value)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", name, err)
		}
		r.Properties[name] = v
	}
	return r, nil
}
