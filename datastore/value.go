/*
 * Copyright © 2025 Suparena Software Inc., All rights reserved.
 */

package datastore

import (
	"bytes"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/go-openapi/strfmt"
)

// TimeFormat is the layout used wherever a time property is stored as a string.
// It is fixed-width in UTC so that string order matches time order.
const TimeFormat = "2006-01-02T15:04:05.000000000Z"

// NormalizeValue converts a property value into its canonical stored form:
// nil, bool, int64, float64, string, []byte or UTC time.Time.
func NormalizeValue(v any) (any, error) {
	switch tv := v.(type) {
	case nil:
		return nil, nil
	case bool, int64, float64, string:
		return tv, nil
	case int:
		return int64(tv), nil
	case int8:
		return int64(tv), nil
	case int16:
		return int64(tv), nil
	case int32:
		return int64(tv), nil
	case uint8:
		return int64(tv), nil
	case uint16:
		return int64(tv), nil
	case uint32:
		return int64(tv), nil
	case uint:
		if uint64(tv) > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", tv)
		}
		return int64(tv), nil
	case uint64:
		if tv > math.MaxInt64 {
			return nil, fmt.Errorf("value %d overflows int64", tv)
		}
		return int64(tv), nil
	case float32:
		return float64(tv), nil
	case []byte:
		return bytes.Clone(tv), nil
	case time.Time:
		return tv.UTC(), nil
	case strfmt.DateTime:
		return time.Time(tv).UTC(), nil
	case *strfmt.DateTime:
		if tv == nil {
			return nil, nil
		}
		return time.Time(*tv).UTC(), nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// compareValues compares two normalized values. ok is false when the values
// belong to different type families and cannot be ordered.
func compareValues(a, b any) (c int, ok bool) {
	switch av := a.(type) {
	case nil:
		if b == nil {
			return 0, true
		}
	case bool:
		if bv, isBool := b.(bool); isBool {
			switch {
			case av == bv:
				return 0, true
			case !av:
				return -1, true
			}
			return 1, true
		}
	case int64:
		switch bv := b.(type) {
		case int64:
			return cmpOrdered(av, bv), true
		case float64:
			return cmpOrdered(float64(av), bv), true
		}
	case float64:
		switch bv := b.(type) {
		case int64:
			return cmpOrdered(av, float64(bv)), true
		case float64:
			return cmpOrdered(av, bv), true
		}
	case string:
		if bv, isString := b.(string); isString {
			return strings.Compare(av, bv), true
		}
	case []byte:
		if bv, isBytes := b.([]byte); isBytes {
			return bytes.Compare(av, bv), true
		}
	case time.Time:
		if bv, isTime := b.(time.Time); isTime {
			return av.Compare(bv), true
		}
	}
	return 0, false
}

func cmpOrdered[T int64 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func valuesEqual(a, b any) bool {
	c, ok := compareValues(a, b)
	return ok && c == 0
}

// typeRank orders values of different families so that sorting never panics:
// nil < bool < number < time < string < bytes.
func typeRank(v any) int {
	switch v.(type) {
	case nil:
		return 0
	case bool:
		return 1
	case int64, float64:
		return 2
	case time.Time:
		return 3
	case string:
		return 4
	case []byte:
		return 5
	}
	return 6
}

func sortCompare(a, b any) int {
	if c, ok := compareValues(a, b); ok {
		return c
	}
	return cmpOrdered(int64(typeRank(a)), int64(typeRank(b)))
}
