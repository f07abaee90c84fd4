package value

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseKind(t *testing.T) {
	for _, name := range []string{"bool", "byte", "int", "dint", "real", "string"} {
		k, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, name, k.String())
	}

	k, err := ParseKind("REAL")
	require.NoError(t, err)
	assert.Equal(t, KindReal, k)

	_, err = ParseKind("float")
	assert.True(t, errors.Is(err, types.ErrInvalidConfig))
}

func TestStringClip(t *testing.T) {
	long := strings.Repeat("a", 100)
	assert.Len(t, String(long).Str(), MaxStringLen)

	// A multi-byte rune straddling the cap is dropped whole.
	s := strings.Repeat("a", MaxStringLen-1) + "é"
	clipped := String(s).Str()
	assert.Equal(t, strings.Repeat("a", MaxStringLen-1), clipped)

	assert.Equal(t, "short", String("short").Str())
}

func TestCoerceWidening(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		to   Kind
		want Value
		err  bool
	}{
		{"bool to int", Bool(true), KindInt, Int(1), false},
		{"byte to dint", Byte(200), KindDInt, DInt(200), false},
		{"int to real", Int(-7), KindReal, Real(-7), false},
		{"dint to real", DInt(70000), KindReal, Real(70000), false},
		{"int to dint", Int(5), KindDInt, Value{}, true},
		{"real to int", Real(1.5), KindInt, Value{}, true},
		{"string to bool", String("x"), KindBool, Value{}, true},
		{"int to string", Int(1), KindString, Value{}, true},
		{"same kind", String("x"), KindString, String("x"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.in, tt.to)
			if tt.err {
				assert.True(t, errors.Is(err, types.ErrTypeMismatch))
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %v (%s)", got, got.Kind())
		})
	}
}

func TestFromFloatSaturates(t *testing.T) {
	v, err := FromFloat(40000, KindInt)
	require.NoError(t, err)
	assert.Equal(t, int16(32767), v.Int())

	v, err = FromFloat(-3.9, KindInt)
	require.NoError(t, err)
	assert.Equal(t, int16(-3), v.Int())

	v, err = FromFloat(-1, KindDInt)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), v.DInt())

	v, err = FromFloat(2, KindBool)
	require.NoError(t, err)
	assert.True(t, v.Bool())

	_, err = FromFloat(1, KindString)
	assert.Error(t, err)
}

func TestParseLiteralTypesByShape(t *testing.T) {
	tests := []struct {
		literal string
		kind    Kind
	}{
		{"true", KindBool},
		{"12", KindByte},
		{"-12", KindInt},
		{"1000", KindInt},
		{"100000", KindDInt},
		{"1.5", KindReal},
		{"2e3", KindReal},
		{`"hello"`, KindString},
	}

	for _, tt := range tests {
		t.Run(tt.literal, func(t *testing.T) {
			v, err := ParseLiteral([]byte(tt.literal))
			require.NoError(t, err)
			assert.Equal(t, tt.kind, v.Kind())
		})
	}

	_, err := ParseLiteral([]byte(`[1]`))
	assert.Error(t, err)
}

func TestLiteralFitsDeclaredKind(t *testing.T) {
	v, err := Literal(json.Number("1000"), KindDInt)
	require.NoError(t, err)
	assert.Equal(t, uint32(1000), v.DInt())

	v, err = Literal(json.Number("2.0"), KindInt)
	require.NoError(t, err)
	assert.Equal(t, int16(2), v.Int())

	_, err = Literal(json.Number("2.5"), KindInt)
	assert.True(t, errors.Is(err, types.ErrTypeMismatch))

	_, err = Literal(json.Number("-5"), KindDInt)
	assert.True(t, errors.Is(err, types.ErrTypeMismatch))

	_, err = Literal("text", KindInt)
	assert.True(t, errors.Is(err, types.ErrTypeMismatch))

	v, err = Literal(true, KindReal)
	require.NoError(t, err)
	assert.Equal(t, float32(1), v.Real())
}

func TestMarshalJSON(t *testing.T) {
	data, err := json.Marshal(map[string]Value{
		"b": Bool(true),
		"i": Int(-3),
		"r": Real(1.5),
		"s": String("x"),
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"b":true,"i":-3,"r":1.5,"s":"x"}`, string(data))
}
