// Package jsonutil decodes loosely-typed JSON values returned by remote APIs.
package jsonutil

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// FlexibleStringValue converts a json.RawMessage to a string, accepting numbers
// and booleans in place of strings. Returns empty string for null/empty.
func FlexibleStringValue(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		return strVal
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		if numVal == float64(int64(numVal)) {
			return fmt.Sprintf("%d", int64(numVal))
		}
		return fmt.Sprintf("%g", numVal)
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return fmt.Sprintf("%t", boolVal)
	}

	return string(raw)
}

// FlexibleInt64 decodes an identifier that may arrive as a JSON number or a
// numeric string. The second return is false when the value is absent or not numeric.
func FlexibleInt64(raw json.RawMessage) (int64, bool) {
	if isNull(raw) {
		return 0, false
	}

	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		if v, err := num.Int64(); err == nil {
			return v, true
		}
		if f, err := num.Float64(); err == nil && f == float64(int64(f)) {
			return int64(f), true
		}
		return 0, false
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		v, err := strconv.ParseInt(strings.TrimSpace(strVal), 10, 64)
		if err != nil {
			return 0, false
		}
		return v, true
	}

	return 0, false
}

// FlexibleBool decodes a flag that may arrive as a JSON boolean, a string
// ("true"/"false") or a number (0/1). Returns nil when absent or unrecognized.
func FlexibleBool(raw json.RawMessage) *bool {
	if isNull(raw) {
		return nil
	}

	var boolVal bool
	if err := json.Unmarshal(raw, &boolVal); err == nil {
		return &boolVal
	}

	var strVal string
	if err := json.Unmarshal(raw, &strVal); err == nil {
		if v, err := strconv.ParseBool(strings.TrimSpace(strVal)); err == nil {
			return &v
		}
		return nil
	}

	var numVal float64
	if err := json.Unmarshal(raw, &numVal); err == nil {
		v := numVal != 0
		return &v
	}

	return nil
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || string(raw) == "null"
}
