package superset

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ekaya-inc/catalog-sync/pkg/jsonutil"
)

// object is a decoded JSON object with lazily-typed fields.
type object map[string]json.RawMessage

// decodeResultObject returns the resource carried by a response. Responses
// wrap it as {"result": {...}}; a bare object root is accepted as well.
func decodeResultObject(body []byte) (object, error) {
	var root object
	if err := json.Unmarshal(body, &root); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	if raw, ok := root["result"]; ok && isJSONObject(raw) {
		var inner object
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("failed to parse result: %w", err)
		}
		return inner, nil
	}
	return root, nil
}

// listPage is one page of a list response. total is the envelope's "count",
// the size of the whole collection, when the server reports it.
type listPage struct {
	items    []object
	total    int64
	hasTotal bool
}

// decodeListPage decodes a list response together with its "count", read
// from the root or from the wrapped result. Accepted shapes:
// {"result": [...]}, {"result": {"result": [...]}} and a bare array.
func decodeListPage(body []byte) (listPage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		items, err := decodeObjects(trimmed)
		return listPage{items: items}, err
	}

	var root object
	if err := json.Unmarshal(trimmed, &root); err != nil {
		return listPage{}, fmt.Errorf("failed to parse response: %w", err)
	}

	var page listPage
	page.total, page.hasTotal = root.num("count")

	raw, ok := root["result"]
	if !ok || isNullJSON(raw) {
		return page, nil
	}
	if isJSONArray(raw) {
		items, err := decodeObjects(raw)
		page.items = items
		return page, err
	}
	if isJSONObject(raw) {
		var inner object
		if err := json.Unmarshal(raw, &inner); err != nil {
			return listPage{}, fmt.Errorf("failed to parse result: %w", err)
		}
		if nested, ok := inner["result"]; ok && isJSONArray(nested) {
			if !page.hasTotal {
				page.total, page.hasTotal = inner.num("count")
			}
			items, err := decodeObjects(nested)
			page.items = items
			return page, err
		}
	}
	return listPage{}, fmt.Errorf("unexpected list payload shape")
}

// decodeCreatedID reads the id of a newly created resource from either the
// root ("id") or the wrapped result ("result.id").
func decodeCreatedID(body []byte) (int64, error) {
	var root object
	if err := json.Unmarshal(body, &root); err != nil {
		return 0, fmt.Errorf("failed to parse response: %w", err)
	}
	if id, ok := root.num("id"); ok {
		return id, nil
	}
	if inner := root.child("result"); inner != nil {
		if id, ok := inner.num("id"); ok {
			return id, nil
		}
	}
	return 0, fmt.Errorf("response carries no resource id")
}

func decodeObjects(raw json.RawMessage) ([]object, error) {
	var items []object
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("failed to parse list items: %w", err)
	}
	return items, nil
}

func (o object) str(key string) string {
	return jsonutil.FlexibleStringValue(o[key])
}

func (o object) num(key string) (int64, bool) {
	return jsonutil.FlexibleInt64(o[key])
}

func (o object) numPtr(key string) *int64 {
	if v, ok := o.num(key); ok {
		return &v
	}
	return nil
}

func (o object) flag(key string) *bool {
	return jsonutil.FlexibleBool(o[key])
}

func (o object) child(key string) object {
	raw, ok := o[key]
	if !ok || !isJSONObject(raw) {
		return nil
	}
	var inner object
	if err := json.Unmarshal(raw, &inner); err != nil {
		return nil
	}
	return inner
}

func (o object) children(key string) []object {
	raw, ok := o[key]
	if !ok || !isJSONArray(raw) {
		return nil
	}
	items, err := decodeObjects(raw)
	if err != nil {
		return nil
	}
	return items
}

func isJSONObject(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '{'
}

func isJSONArray(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) > 0 && t[0] == '['
}

func isNullJSON(raw json.RawMessage) bool {
	t := bytes.TrimSpace(raw)
	return len(t) == 0 || string(t) == "null"
}
