package selection

import (
	"encoding/json"
	"strconv"
	"strings"
)

// preprocessFunc expands one raw string value before separator splitting.
type preprocessFunc func(string) []string

func collect(fields map[string][]interface{}, aliases []string, pre preprocessFunc) []string {
	var values []interface{}
	for _, alias := range aliases {
		for _, v := range fields[alias] {
			if s, ok := v.(string); ok {
				s = strings.TrimSpace(s)
				if s == "" {
					continue
				}
				v = s
				if s[0] == '[' {
					var decoded []interface{}
					if err := json.Unmarshal([]byte(s), &decoded); err == nil {
						v = decoded
					}
				}
			}
			values = append(values, flattenOnce(v)...)
		}
	}

	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	add := func(tok string) {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			return
		}
		if _, ok := seen[tok]; ok {
			return
		}
		seen[tok] = struct{}{}
		out = append(out, tok)
	}

	for _, v := range values {
		s, ok := v.(string)
		if !ok {
			// Numbers and booleans from JSON bodies; objects and deeper arrays are dropped
			add(scalarString(v))
			continue
		}
		chunks := []string{s}
		if pre != nil {
			chunks = pre(s)
		}
		for _, chunk := range chunks {
			for _, tok := range splitTokens(chunk) {
				add(tok)
			}
		}
	}
	return out
}

// flattenOnce turns v into a list, expanding one level of nested arrays.
func flattenOnce(v interface{}) []interface{} {
	list, ok := v.([]interface{})
	if !ok {
		return []interface{}{v}
	}
	out := make([]interface{}, 0, len(list))
	for _, x := range list {
		if x == nil {
			continue
		}
		if inner, ok := x.([]interface{}); ok {
			out = append(out, inner...)
			continue
		}
		out = append(out, x)
	}
	return out
}

func splitTokens(s string) []string {
	return strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == '\r' || r == '\n'
	})
}

// scalarString renders JSON scalars the way form posts would carry them.
func scalarString(v interface{}) string {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case json.Number:
		return x.String()
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		if x {
			return "1"
		}
		return ""
	default:
		return ""
	}
}
