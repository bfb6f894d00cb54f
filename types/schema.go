package types

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/zeebo/xxh3"
)

// FieldKind identifies the value type of a payload field.
type FieldKind int

const (
	// FieldFloat is a single float64 value.
	FieldFloat FieldKind = iota + 1

	// FieldInt is a single int64 value.
	FieldInt

	// FieldBool is a single boolean value.
	FieldBool

	// FieldString is a single string value.
	FieldString

	// FieldFloatVec is a fixed-width vector of float64 values.
	FieldFloatVec
)

// String returns the string representation of the field kind.
func (k FieldKind) String() string {
	switch k {
	case FieldFloat:
		return "float"
	case FieldInt:
		return "int"
	case FieldBool:
		return "bool"
	case FieldString:
		return "string"
	case FieldFloatVec:
		return "floatvec"
	default:
		return "unknown"
	}
}

// Field declares one payload column of the run's row schema.
//
// Fields are fixed-width: vector fields declare their element count up
// front, and every row carries exactly the declared width.
type Field struct {
	// Name is the column name (e.g., "x", "f", "sim_id").
	Name string `json:"name" yaml:"name"`

	// Kind is the value type stored in this column.
	Kind FieldKind `json:"kind" yaml:"kind"`

	// Elems is the vector width for FieldFloatVec columns (ignored otherwise).
	Elems int `json:"elems,omitempty" yaml:"elems,omitempty"`
}

// Schema describes the full set of payload columns for a run.
//
// The schema is resolved once per run from the declared routine I/O
// contracts. The core never interprets column values; it only validates
// shape on append and return.
type Schema struct {
	Fields []Field `json:"fields" yaml:"fields"`
}

// Field returns the declared field with the given name.
//
// Returns:
//   - Field: The field declaration
//   - bool: false if the schema does not declare the name
func (s Schema) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}

	return Field{}, false
}

// Fingerprint returns a stable 64-bit hash of the schema.
//
// Two schemas with the same field names, kinds, and widths produce the same
// fingerprint regardless of declaration order. Used to detect schema
// mismatches between checkpoints and restored runs.
func (s Schema) Fingerprint() uint64 {
	parts := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		parts = append(parts, fmt.Sprintf("%s:%d:%d", f.Name, f.Kind, f.Elems))
	}
	sort.Strings(parts)

	return xxh3.HashString(strings.Join(parts, ","))
}

// Validate checks a payload against the schema.
//
// Every payload field must be declared with a matching kind and, for vector
// fields, the declared width. Missing fields are allowed (rows are filled in
// incrementally as routines return), unknown fields are not.
//
// Returns:
//   - error: *SchemaMismatchError describing the first violation, nil if valid
func (s Schema) Validate(p Payload) error {
	for name, v := range p {
		f, ok := s.Field(name)
		if !ok {
			return &SchemaMismatchError{Field: name, Reason: "field not declared in schema"}
		}
		if v.Kind != f.Kind {
			return &SchemaMismatchError{
				Field:  name,
				Reason: fmt.Sprintf("kind %s does not match declared %s", v.Kind, f.Kind),
			}
		}
		if f.Kind == FieldFloatVec && len(v.Floats) != f.Elems {
			return &SchemaMismatchError{
				Field:  name,
				Reason: fmt.Sprintf("vector width %d does not match declared %d", len(v.Floats), f.Elems),
			}
		}
	}

	return nil
}

// Value is one payload cell: a tagged union over the supported field kinds.
//
// The tagged representation keeps checkpoint round-trips exact; plain JSON
// would collapse int64 and float64 into one numeric type.
type Value struct {
	Kind   FieldKind
	Float  float64
	Int    int64
	Bool   bool
	Str    string
	Floats []float64
}

// FloatValue constructs a FieldFloat value.
func FloatValue(v float64) Value { return Value{Kind: FieldFloat, Float: v} }

// IntValue constructs a FieldInt value.
func IntValue(v int64) Value { return Value{Kind: FieldInt, Int: v} }

// BoolValue constructs a FieldBool value.
func BoolValue(v bool) Value { return Value{Kind: FieldBool, Bool: v} }

// StringValue constructs a FieldString value.
func StringValue(v string) Value { return Value{Kind: FieldString, Str: v} }

// FloatVecValue constructs a FieldFloatVec value.
//
// The slice is copied so callers may reuse their buffer.
func FloatVecValue(v []float64) Value {
	cp := make([]float64, len(v))
	copy(cp, v)

	return Value{Kind: FieldFloatVec, Floats: cp}
}

// valueJSON is the wire form of Value: explicit kind tag plus one value slot.
type valueJSON struct {
	Kind   FieldKind `json:"k"`
	Float  *float64  `json:"f,omitempty"`
	Int    *int64    `json:"i,omitempty"`
	Bool   *bool     `json:"b,omitempty"`
	Str    *string   `json:"s,omitempty"`
	Floats []float64 `json:"v,omitempty"`
}

// MarshalJSON encodes the value in tagged form.
func (v Value) MarshalJSON() ([]byte, error) {
	w := valueJSON{Kind: v.Kind}
	switch v.Kind {
	case FieldFloat:
		w.Float = &v.Float
	case FieldInt:
		w.Int = &v.Int
	case FieldBool:
		w.Bool = &v.Bool
	case FieldString:
		w.Str = &v.Str
	case FieldFloatVec:
		w.Floats = v.Floats
		if w.Floats == nil {
			w.Floats = []float64{}
		}
	default:
		return nil, fmt.Errorf("cannot marshal value of unknown kind %d", v.Kind)
	}

	return json.Marshal(w)
}

// UnmarshalJSON decodes the tagged form.
func (v *Value) UnmarshalJSON(data []byte) error {
	var w valueJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	v.Kind = w.Kind
	switch w.Kind {
	case FieldFloat:
		if w.Float != nil {
			v.Float = *w.Float
		}
	case FieldInt:
		if w.Int != nil {
			v.Int = *w.Int
		}
	case FieldBool:
		if w.Bool != nil {
			v.Bool = *w.Bool
		}
	case FieldString:
		if w.Str != nil {
			v.Str = *w.Str
		}
	case FieldFloatVec:
		v.Floats = w.Floats
	default:
		return fmt.Errorf("cannot unmarshal value of unknown kind %d", w.Kind)
	}

	return nil
}

// Payload is the opaque, schema-described column set of one row.
//
// The core routes payloads between routines and the ledger without
// interpreting them; only the ledger's own status columns are visible to it.
type Payload map[string]Value

// Clone returns a deep copy of the payload.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	cp := make(Payload, len(p))
	for k, v := range p {
		if v.Kind == FieldFloatVec {
			v = FloatVecValue(v.Floats)
		}
		cp[k] = v
	}

	return cp
}

// Select returns a copy of the payload restricted to the given field names.
//
// Used to ship only a routine's declared input fields to workers.
func (p Payload) Select(fields []string) Payload {
	if len(fields) == 0 {
		return p.Clone()
	}
	out := make(Payload, len(fields))
	for _, name := range fields {
		if v, ok := p[name]; ok {
			if v.Kind == FieldFloatVec {
				v = FloatVecValue(v.Floats)
			}
			out[name] = v
		}
	}

	return out
}

// Merge copies every field of other into p, overwriting existing fields.
func (p Payload) Merge(other Payload) {
	for k, v := range other {
		if v.Kind == FieldFloatVec {
			v = FloatVecValue(v.Floats)
		}
		p[k] = v
	}
}
