package protocol

import (
	"bytes"
	"encoding/json"

	"github.com/bytedance/sonic"
)

// ValueKind is the JSON type tag of a Value.
type ValueKind string

const (
	ValueNull   ValueKind = "null"
	ValueBool   ValueKind = "bool"
	ValueNumber ValueKind = "number"
	ValueString ValueKind = "string"
	ValueArray  ValueKind = "array"
	ValueObject ValueKind = "object"
)

// canonical sorts object keys and keeps numbers verbatim so equal values
// render to equal bytes.
var canonical = sonic.Config{
	SortMapKeys: true,
	UseNumber:   true,
	EscapeHTML:  false,
}.Froze()

// Value is a validated, tagged JSON value crossing the protocol boundary.
// The zero Value is null.
type Value struct {
	kind ValueKind
	raw  []byte
}

// Null is the null value.
var Null = Value{kind: ValueNull, raw: []byte("null")}

// ParseValue validates raw JSON and returns its canonical tagged form.
// Missing input is treated as null.
func ParseValue(raw []byte) (Value, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Null, nil
	}
	var decoded any
	if err := canonical.Unmarshal(trimmed, &decoded); err != nil {
		return Value{}, Protocolf("invalid value: %v", err)
	}
	return NewValue(decoded)
}

// NewValue builds a Value from a Go value.
func NewValue(v any) (Value, error) {
	out, err := canonical.Marshal(v)
	if err != nil {
		return Value{}, Protocolf("unencodable value: %v", err)
	}
	return Value{kind: kindOf(out), raw: out}, nil
}

// MustValue is NewValue for values known to encode.
func MustValue(v any) Value {
	val, err := NewValue(v)
	if err != nil {
		panic(err)
	}
	return val
}

func kindOf(raw []byte) ValueKind {
	if len(raw) == 0 {
		return ValueNull
	}
	switch raw[0] {
	case 'n':
		return ValueNull
	case 't', 'f':
		return ValueBool
	case '"':
		return ValueString
	case '[':
		return ValueArray
	case '{':
		return ValueObject
	default:
		return ValueNumber
	}
}

// Kind returns the JSON type tag.
func (v Value) Kind() ValueKind {
	if v.kind == "" {
		return ValueNull
	}
	return v.kind
}

// Raw returns the canonical encoding.
func (v Value) Raw() json.RawMessage {
	if len(v.raw) == 0 {
		return json.RawMessage("null")
	}
	return json.RawMessage(v.raw)
}

// Equal reports whether both values have the same canonical encoding.
func (v Value) Equal(other Value) bool {
	return bytes.Equal(v.Raw(), other.Raw())
}

// Decode unmarshals the value into dst.
func (v Value) Decode(dst any) error {
	return canonical.Unmarshal(v.Raw(), dst)
}

// String returns the canonical encoding as text.
func (v Value) String() string {
	return string(v.Raw())
}

// MarshalJSON implements json.Marshaler.
func (v Value) MarshalJSON() ([]byte, error) {
	return v.Raw(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(data []byte) error {
	parsed, err := ParseValue(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}
