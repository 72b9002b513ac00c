package grants

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Upstream keys for nested children.
const (
	TopicsKey    = "solicitation_topics"
	SubtopicsKey = "subtopics"
)

// RawRecord is one upstream JSON object, decoded with json.Number preserved.
// Nothing about its shape is trusted until it passes the validate gate.
type RawRecord map[string]any

// AsRecord returns v as a RawRecord when it is a JSON object.
func AsRecord(v any) (RawRecord, bool) {
	switch rec := v.(type) {
	case RawRecord:
		return rec, true
	case map[string]any:
		return RawRecord(rec), true
	default:
		return nil, false
	}
}

// TypeError reports a field whose upstream value cannot be stored as text.
type TypeError struct {
	Field string
	Value any
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("field %s: unsupported value of type %T", e.Field, e.Value)
}

// Text returns the field as text. Absent, null, and blank values are nil.
// Numbers and booleans are rendered as text; objects and arrays are a TypeError.
func (r RawRecord) Text(key string) (*string, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, nil
	}
	var s string
	switch val := v.(type) {
	case string:
		s = val
	case json.Number:
		s = val.String()
	case float64:
		s = strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		s = strconv.FormatBool(val)
	default:
		return nil, &TypeError{Field: key, Value: v}
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	return &s, nil
}

// TextList returns the field as a list of text values. A lone scalar becomes
// a one-element list; blank entries are dropped.
func (r RawRecord) TextList(key string) ([]string, error) {
	v, ok := r[key]
	if !ok || v == nil {
		return nil, nil
	}
	items, isList := v.([]any)
	if !isList {
		items = []any{v}
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, err := RawRecord{key: item}.Text(key)
		if err != nil {
			return nil, &TypeError{Field: fmt.Sprintf("%s[%d]", key, i), Value: item}
		}
		if s != nil {
			out = append(out, *s)
		}
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Children returns the nested sequence stored under key, or nil when the
// field is absent or not a sequence.
func (r RawRecord) Children(key string) []any {
	items, ok := r[key].([]any)
	if !ok {
		return nil
	}
	return items
}

// Topics returns the nested topic entries of a solicitation record.
func (r RawRecord) Topics() []any {
	return r.Children(TopicsKey)
}

// Subtopics returns the nested subtopic entries of a topic record. Upstream
// encodes "no subtopics" inconsistently, including as a single placeholder
// element with no populated fields, which yields nil here.
func (r RawRecord) Subtopics() []any {
	items := r.Children(SubtopicsKey)
	if len(items) == 0 {
		return nil
	}
	if len(items) == 1 && !Populated(items[0]) {
		return nil
	}
	return items
}

// Populated reports whether v carries any data: a non-blank scalar, or a
// container holding at least one populated value.
func Populated(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(val) != ""
	case []any:
		for _, item := range val {
			if Populated(item) {
				return true
			}
		}
		return false
	case RawRecord:
		return Populated(map[string]any(val))
	case map[string]any:
		for _, item := range val {
			if Populated(item) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// Ref is a short identification of a raw record for log lines.
func (r RawRecord) Ref() string {
	for _, key := range []string{
		"solicitation_id", "solicitation_number", "topic_number", "subtopic_number",
		"solicitation_title", "topic_title", "subtopic_title",
	} {
		if s, err := r.Text(key); err == nil && s != nil {
			return key + "=" + truncate(*s, 80)
		}
	}
	return "unidentified"
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// DecodePage parses an upstream page body. Elements that are not JSON objects
// are returned separately so the caller can report them.
func DecodePage(body []byte) ([]RawRecord, []any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var items []any
	if err := dec.Decode(&items); err != nil {
		return nil, nil, fmt.Errorf("decode page: %w", err)
	}
	records := make([]RawRecord, 0, len(items))
	var rejected []any
	for _, item := range items {
		rec, ok := AsRecord(item)
		if !ok {
			rejected = append(rejected, item)
			continue
		}
		records = append(records, rec)
	}
	return records, rejected, nil
}
