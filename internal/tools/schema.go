package tools

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// Validate checks params against a JSON-Schema-like object schema and returns
// one human-readable message per violation. An empty result means the
// parameters are acceptable. Keys not declared in the schema are ignored.
//
// Supported keywords: type, enum, minimum, maximum, minLength, maxLength,
// required, properties and items. Nested keys are reported with dotted paths
// ("meta.tag") and array items with an index ("meta.flags[0]").
func Validate(params map[string]any, schema map[string]any) []string {
	if schema == nil {
		schema = map[string]any{}
	}
	if t, ok := schema["type"]; ok && t != "object" {
		return []string{fmt.Sprintf("schema must be object type, got %v", t)}
	}
	root := make(map[string]any, len(schema)+1)
	for k, v := range schema {
		root[k] = v
	}
	root["type"] = "object"
	if params == nil {
		params = map[string]any{}
	}
	return validateValue(params, root, "")
}

func validateValue(val any, schema map[string]any, path string) []string {
	typ, _ := schema["type"].(string)
	label := path
	if label == "" {
		label = "parameter"
	}

	if typ != "" && !matchesType(val, typ) {
		return []string{fmt.Sprintf("%s should be %s", label, typ)}
	}

	var errs []string
	if enum, ok := toList(schema["enum"]); ok && !inEnum(val, enum) {
		errs = append(errs, fmt.Sprintf("%s must be one of %s", label, formatList(enum)))
	}

	switch typ {
	case "integer", "number":
		n, _ := toFloat(val)
		if lo, ok := toFloat(schema["minimum"]); ok && n < lo {
			errs = append(errs, fmt.Sprintf("%s must be >= %s", label, formatNumber(schema["minimum"])))
		}
		if hi, ok := toFloat(schema["maximum"]); ok && n > hi {
			errs = append(errs, fmt.Sprintf("%s must be <= %s", label, formatNumber(schema["maximum"])))
		}
	case "string":
		s, _ := val.(string)
		length := utf8.RuneCountInString(s)
		if lo, ok := toFloat(schema["minLength"]); ok && float64(length) < lo {
			errs = append(errs, fmt.Sprintf("%s must be at least %s chars", label, formatNumber(schema["minLength"])))
		}
		if hi, ok := toFloat(schema["maxLength"]); ok && float64(length) > hi {
			errs = append(errs, fmt.Sprintf("%s must be at most %s chars", label, formatNumber(schema["maxLength"])))
		}
	case "object":
		obj, _ := val.(map[string]any)
		props, _ := schema["properties"].(map[string]any)
		if required, ok := toList(schema["required"]); ok {
			for _, r := range required {
				key, _ := r.(string)
				if _, present := obj[key]; !present {
					errs = append(errs, "missing required "+joinPath(path, key))
				}
			}
		}
		for _, key := range sortedKeys(obj) {
			sub, ok := props[key].(map[string]any)
			if !ok {
				continue
			}
			errs = append(errs, validateValue(obj[key], sub, joinPath(path, key))...)
		}
	case "array":
		items, ok := schema["items"].(map[string]any)
		if !ok {
			break
		}
		list, _ := toList(val)
		for i, item := range list {
			errs = append(errs, validateValue(item, items, fmt.Sprintf("%s[%d]", path, i))...)
		}
	}
	return errs
}

func matchesType(val any, typ string) bool {
	switch typ {
	case "string":
		_, ok := val.(string)
		return ok
	case "integer":
		switch n := val.(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
			return true
		case float64:
			return n == math.Trunc(n) && !math.IsInf(n, 0)
		case float32:
			return float64(n) == math.Trunc(float64(n))
		}
		return false
	case "number":
		_, ok := toFloat(val)
		return ok
	case "boolean":
		_, ok := val.(bool)
		return ok
	case "array":
		_, ok := toList(val)
		return ok
	case "object":
		_, ok := val.(map[string]any)
		return ok
	}
	// Unknown type keywords are not enforced.
	return true
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	}
	return 0, false
}

// toList accepts both decoded JSON arrays and the []string literals tool
// definitions use for "required" and "enum".
func toList(v any) ([]any, bool) {
	switch l := v.(type) {
	case []any:
		return l, true
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out, true
	case []int:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	case []float64:
		out := make([]any, len(l))
		for i, n := range l {
			out[i] = n
		}
		return out, true
	}
	return nil, false
}

func inEnum(val any, enum []any) bool {
	for _, e := range enum {
		if a, ok := toFloat(val); ok {
			if b, ok := toFloat(e); ok && a == b {
				return true
			}
			continue
		}
		if e == val {
			return true
		}
	}
	return false
}

func formatList(items []any) string {
	parts := make([]string, len(items))
	for i, it := range items {
		if s, ok := it.(string); ok {
			parts[i] = fmt.Sprintf("'%s'", s)
		} else {
			parts[i] = fmt.Sprint(it)
		}
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

func formatNumber(v any) string {
	if f, ok := v.(float64); ok && f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprint(v)
}

func joinPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}
