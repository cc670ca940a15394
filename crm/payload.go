package crm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Payload is a loosely shaped CRM record: raw event deltas, custom-field
// maps and flattened order context. All reads go through the accessors
// below so that shape drift in the CRM stays contained here.
//
// Lookup semantics: an exact key match wins; otherwise the path is split on
// '.' and walked through nested maps. A missing segment is "absent".
type Payload map[string]any

// Lookup returns the value at path
func (p Payload) Lookup(path string) (any, bool) {
	if p == nil || path == "" {
		return nil, false
	}
	if v, ok := p[path]; ok {
		return v, true
	}
	if !strings.Contains(path, ".") {
		return nil, false
	}

	var cur any = map[string]any(p)
	for _, seg := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// String returns the value at path rendered as text, "" when absent
func (p Payload) String(path string) string {
	v, ok := p.Lookup(path)
	if !ok {
		return ""
	}
	return Text(v)
}

// Code returns the value at path, unwrapping objects of the form
// {"code": ...} that some CRM fields use for enumerations.
func (p Payload) Code(path string) string {
	v, ok := p.Lookup(path)
	if !ok {
		return ""
	}
	return CodeOf(v)
}

// Float returns the numeric value at path
func (p Payload) Float(path string) (float64, bool) {
	v, ok := p.Lookup(path)
	if !ok || v == nil {
		return 0, false
	}
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

// Time returns the timestamp at path. RFC 3339 strings and time.Time values
// are accepted.
func (p Payload) Time(path string) (time.Time, bool) {
	v, ok := p.Lookup(path)
	if !ok {
		return time.Time{}, false
	}
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case string:
		parsed, err := time.Parse(time.RFC3339, strings.TrimSpace(t))
		return parsed, err == nil
	}
	return time.Time{}, false
}

// Empty reports whether the value at path is absent or carries no content
func (p Payload) Empty(path string) bool {
	v, ok := p.Lookup(path)
	if !ok {
		return true
	}
	return IsEmpty(v)
}

// Merge returns a new payload with the keys of other layered over p
func (p Payload) Merge(other Payload) Payload {
	out := make(Payload, len(p)+len(other))
	for k, v := range p {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// IsEmpty reports whether v carries no content: nil, blank strings, and
// empty lists or maps. Zero numbers and false are values, not emptiness.
func IsEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		for _, item := range t {
			if !IsEmpty(item) {
				return false
			}
		}
		return true
	case []string:
		for _, item := range t {
			if strings.TrimSpace(item) != "" {
				return false
			}
		}
		return true
	case map[string]any:
		return len(t) == 0
	case Payload:
		return len(t) == 0
	}
	return false
}

// CodeOf unwraps {"code": x} objects and renders scalars as text
func CodeOf(v any) string {
	if m, ok := asMap(v); ok {
		if code, ok := m["code"]; ok {
			return Text(code)
		}
		return ""
	}
	return Text(v)
}

// Text renders a scalar value as a trimmed string
func Text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case time.Time:
		return t.UTC().Format(time.RFC3339)
	case []any, map[string]any, Payload:
		data, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(data)
	}
	return strings.TrimSpace(fmt.Sprint(v))
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case Payload:
		return m, true
	}
	return nil, false
}

// decodeJSONValue decodes a JSONB column value. Invalid JSON is kept as text.
func decodeJSONValue(data []byte) any {
	if len(data) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	return v
}
