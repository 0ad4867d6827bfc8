package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-tables/pkg/jsonutil"
)

// DefaultValue is a column default tagged with the field type it was decoded for.
// Only the accessor matching Type() is meaningful.
type DefaultValue struct {
	kind      FieldType
	text      string
	number    float64
	boolean   bool
	timestamp time.Time
	document  json.RawMessage
}

func TextDefault(s string) *DefaultValue {
	return &DefaultValue{kind: FieldTypeText, text: s}
}

func NumberDefault(n float64) *DefaultValue {
	return &DefaultValue{kind: FieldTypeNumber, number: n}
}

func BoolDefault(b bool) *DefaultValue {
	return &DefaultValue{kind: FieldTypeBoolean, boolean: b}
}

func TimestampDefault(ts time.Time) *DefaultValue {
	return &DefaultValue{kind: FieldTypeTimestamp, timestamp: ts.UTC()}
}

// JSONDefault stores a compacted copy of doc. doc must be valid JSON.
func JSONDefault(doc json.RawMessage) (*DefaultValue, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, doc); err != nil {
		return nil, fmt.Errorf("invalid JSON default: %w", err)
	}
	return &DefaultValue{kind: FieldTypeJSON, document: buf.Bytes()}, nil
}

func (d *DefaultValue) Type() FieldType { return d.kind }
func (d *DefaultValue) Text() string { return d.text }
func (d *DefaultValue) Number() float64 { return d.number }
func (d *DefaultValue) Bool() bool { return d.boolean }
func (d *DefaultValue) Timestamp() time.Time { return d.timestamp }
func (d *DefaultValue) JSONDocument() json.RawMessage { return d.document }

// String renders the value the way it is shown to users (not SQL-escaped).
func (d *DefaultValue) String() string {
	switch d.kind {
	case FieldTypeText:
		return d.text
	case FieldTypeNumber:
		return strconv.FormatFloat(d.number, 'f', -1, 64)
	case FieldTypeBoolean:
		return strconv.FormatBool(d.boolean)
	case FieldTypeTimestamp:
		return d.timestamp.Format(time.RFC3339Nano)
	case FieldTypeJSON:
		return string(d.document)
	}
	return ""
}

// MarshalJSON emits the plain value, e.g. 42, true or "2024-01-02T03:04:05Z".
func (d *DefaultValue) MarshalJSON() ([]byte, error) {
	switch d.kind {
	case FieldTypeText:
		return json.Marshal(d.text)
	case FieldTypeNumber:
		return json.Marshal(d.number)
	case FieldTypeBoolean:
		return json.Marshal(d.boolean)
	case FieldTypeTimestamp:
		return json.Marshal(d.timestamp.Format(time.RFC3339Nano))
	case FieldTypeJSON:
		return d.document, nil
	}
	return []byte("null"), nil
}

var timestampLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02"}

// DecodeDefaultValue converts a raw JSON default into the union for fieldType.
// Empty input and JSON null decode to nil.
func DecodeDefaultValue(fieldType FieldType, raw json.RawMessage) (*DefaultValue, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || string(trimmed) == "null" {
		return nil, nil
	}

	switch fieldType {
	case FieldTypeText:
		if trimmed[0] == '{' || trimmed[0] == '[' {
			return nil, fmt.Errorf("text default must be a scalar")
		}
		return TextDefault(jsonutil.FlexibleStringValue(trimmed)), nil

	case FieldTypeNumber:
		if n, ok := jsonutil.FlexibleFloat(trimmed); ok {
			return NumberDefault(n), nil
		}
		return nil, fmt.Errorf("number default %s is not numeric", trimmed)

	case FieldTypeBoolean:
		if b, ok := jsonutil.FlexibleBool(trimmed); ok {
			return BoolDefault(b), nil
		}
		return nil, fmt.Errorf("boolean default %s is not true or false", trimmed)

	case FieldTypeTimestamp:
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return nil, fmt.Errorf("timestamp default must be a string")
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, strings.TrimSpace(s)); err == nil {
				return TimestampDefault(ts), nil
			}
		}
		return nil, fmt.Errorf("timestamp default %q is not RFC 3339", s)

	case FieldTypeJSON:
		return JSONDefault(trimmed)
	}

	return nil, fmt.Errorf("unsupported field type %q", fieldType)
}
