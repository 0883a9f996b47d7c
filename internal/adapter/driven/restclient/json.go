package restclient

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeArray parses a JSON array of objects. Elements that are not objects
// are skipped so one bad entry does not discard the rest.
func DecodeArray(body []byte) ([]map[string]any, error) {
	var raw []json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, &ParseError{Err: fmt.Errorf("expected a JSON array: %w", err)}
	}
	return objects(raw), nil
}

// DecodeObject parses a JSON object.
func DecodeObject(body []byte) (map[string]any, error) {
	var obj map[string]any
	if err := json.Unmarshal(body, &obj); err != nil {
		return nil, &ParseError{Err: fmt.Errorf("expected a JSON object: %w", err)}
	}
	if obj == nil {
		return nil, &ParseError{Err: fmt.Errorf("expected a JSON object, got null")}
	}
	return obj, nil
}

// Objects keeps the elements of arr that are JSON objects.
func Objects(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		if obj, ok := el.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

func objects(raw []json.RawMessage) []map[string]any {
	out := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		var obj map[string]any
		if err := json.Unmarshal(r, &obj); err != nil || obj == nil {
			continue
		}
		out = append(out, obj)
	}
	return out
}

// String returns obj[key] if it is a string, otherwise "".
func String(obj map[string]any, key string) string {
	s, _ := obj[key].(string)
	return s
}

// Object returns obj[key] if it is an object, otherwise nil.
func Object(obj map[string]any, key string) map[string]any {
	o, _ := obj[key].(map[string]any)
	return o
}

// Array returns obj[key] if it is an array, otherwise nil.
func Array(obj map[string]any, key string) []any {
	a, _ := obj[key].([]any)
	return a
}

// NextLink returns the rel="next" target of an RFC 8288 Link header, or "".
func NextLink(link string) string {
	for _, part := range strings.Split(link, ",") {
		segments := strings.Split(part, ";")
		if len(segments) < 2 {
			continue
		}
		target := strings.TrimSpace(segments[0])
		if !strings.HasPrefix(target, "<") || !strings.HasSuffix(target, ">") {
			continue
		}
		for _, param := range segments[1:] {
			param = strings.TrimSpace(param)
			if param == `rel="next"` || param == "rel=next" {
				return strings.Trim(target, "<>")
			}
		}
	}
	return ""
}
