package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSchema() Schema {
	return Schema{Fields: []Field{
		{Name: "x", Kind: FieldFloat},
		{Name: "sim_id", Kind: FieldInt},
		{Name: "label", Kind: FieldString},
		{Name: "vec", Kind: FieldFloatVec, Elems: 3},
	}}
}

func TestSchema_Validate(t *testing.T) {
	s := testSchema()

	t.Run("ValidPayload", func(t *testing.T) {
		p := Payload{
			"x":   FloatValue(1.5),
			"vec": FloatVecValue([]float64{1, 2, 3}),
		}
		require.NoError(t, s.Validate(p))
	})

	t.Run("MissingFieldsAllowed", func(t *testing.T) {
		// Rows fill in incrementally as routines return.
		require.NoError(t, s.Validate(Payload{"x": FloatValue(0)}))
		require.NoError(t, s.Validate(Payload{}))
	})

	t.Run("UndeclaredField", func(t *testing.T) {
		err := s.Validate(Payload{"y": FloatValue(1)})
		var mismatch *SchemaMismatchError
		require.ErrorAs(t, err, &mismatch)
		require.Equal(t, "y", mismatch.Field)
	})

	t.Run("KindMismatch", func(t *testing.T) {
		err := s.Validate(Payload{"x": IntValue(1)})
		var mismatch *SchemaMismatchError
		require.ErrorAs(t, err, &mismatch)
		require.Equal(t, "x", mismatch.Field)
	})

	t.Run("VectorWidthMismatch", func(t *testing.T) {
		err := s.Validate(Payload{"vec": FloatVecValue([]float64{1, 2})})
		var mismatch *SchemaMismatchError
		require.ErrorAs(t, err, &mismatch)
		require.Equal(t, "vec", mismatch.Field)
	})
}

func TestSchema_Fingerprint(t *testing.T) {
	a := testSchema()

	t.Run("OrderIndependent", func(t *testing.T) {
		b := Schema{Fields: []Field{
			{Name: "vec", Kind: FieldFloatVec, Elems: 3},
			{Name: "label", Kind: FieldString},
			{Name: "x", Kind: FieldFloat},
			{Name: "sim_id", Kind: FieldInt},
		}}
		require.Equal(t, a.Fingerprint(), b.Fingerprint())
	})

	t.Run("SensitiveToKind", func(t *testing.T) {
		b := testSchema()
		b.Fields[0].Kind = FieldInt
		require.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	})

	t.Run("SensitiveToWidth", func(t *testing.T) {
		b := testSchema()
		b.Fields[3].Elems = 4
		require.NotEqual(t, a.Fingerprint(), b.Fingerprint())
	})
}

func TestPayload_Select(t *testing.T) {
	p := Payload{
		"x":   FloatValue(1),
		"f":   FloatValue(2),
		"vec": FloatVecValue([]float64{1, 2}),
	}

	t.Run("RestrictsFields", func(t *testing.T) {
		out := p.Select([]string{"x"})
		require.Len(t, out, 1)
		require.Equal(t, 1.0, out["x"].Float)
	})

	t.Run("EmptySelectsAll", func(t *testing.T) {
		out := p.Select(nil)
		require.Len(t, out, 3)
	})

	t.Run("VectorsAreCopied", func(t *testing.T) {
		out := p.Select([]string{"vec"})
		out["vec"].Floats[0] = 99
		require.Equal(t, 1.0, p["vec"].Floats[0])
	})

	t.Run("UnknownNamesSkipped", func(t *testing.T) {
		out := p.Select([]string{"x", "absent"})
		require.Len(t, out, 1)
	})
}

func TestValue_JSONRoundTrip(t *testing.T) {
	// The tagged encoding must keep int64 and float64 distinct; plain JSON
	// numbers would collapse them.
	p := Payload{
		"f":   FloatValue(1.25),
		"i":   IntValue(1 << 60),
		"b":   BoolValue(true),
		"s":   StringValue("hello"),
		"vec": FloatVecValue([]float64{0.5, -0.5}),
	}

	data, err := json.Marshal(p)
	require.NoError(t, err)

	var got Payload
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, p, got)
	require.Equal(t, FieldInt, got["i"].Kind)
	require.Equal(t, int64(1<<60), got["i"].Int)
}
