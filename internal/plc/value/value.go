package value

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/KevinKickass/OpenSoftPLC/internal/types"
)

// MaxStringLen is the capacity of a STRING value in bytes.
// Longer strings are clipped on construction at a rune boundary.
const MaxStringLen = 63

// Kind tags the primitive held by a Value.
type Kind uint8

const (
	KindBool Kind = iota
	KindByte
	KindInt
	KindDInt
	KindReal
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindBool:
		return "bool"
	case KindByte:
		return "byte"
	case KindInt:
		return "int"
	case KindDInt:
		return "dint"
	case KindReal:
		return "real"
	case KindString:
		return "string"
	default:
		return "unknown"
	}
}

// Valid reports whether k is one of the declared kinds.
func (k Kind) Valid() bool {
	return k <= KindString
}

// Numeric reports whether values of kind k convert to a number.
func (k Kind) Numeric() bool {
	return k != KindString && k.Valid()
}

// ParseKind maps the lowercase kind names used in program JSON and
// endpoint names to a Kind.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "bool":
		return KindBool, nil
	case "byte":
		return KindByte, nil
	case "int":
		return KindInt, nil
	case "dint":
		return KindDInt, nil
	case "real":
		return KindReal, nil
	case "string":
		return KindString, nil
	default:
		return 0, fmt.Errorf("unknown type %q: %w", s, types.ErrInvalidConfig)
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(b []byte) error {
	parsed, err := ParseKind(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Value is a tagged PLC primitive. The zero Value is BOOL false.
type Value struct {
	kind Kind
	b    bool
	n    int64
	f    float32
	s    string
}

func Bool(v bool) Value { return Value{kind: KindBool, b: v} }
func Byte(v uint8) Value { return Value{kind: KindByte, n: int64(v)} }
func Int(v int16) Value { return Value{kind: KindInt, n: int64(v)} }
func DInt(v uint32) Value { return Value{kind: KindDInt, n: int64(v)} }
func Real(v float32) Value { return Value{kind: KindReal, f: v} }
func String(v string) Value { return Value{kind: KindString, s: Clip(v)} }

// Zero returns the zero value of kind k.
func Zero(k Kind) Value {
	return Value{kind: k}
}

// Clip bounds s to MaxStringLen bytes without splitting a UTF-8 sequence.
func Clip(s string) string {
	if len(s) <= MaxStringLen {
		return s
	}
	cut := MaxStringLen
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

func (v Value) Kind() Kind { return v.kind }

func (v Value) Bool() bool { return v.kind == KindBool && v.b }
func (v Value) Byte() uint8 { return uint8(v.n) }
func (v Value) Int() int16 { return int16(v.n) }
func (v Value) DInt() uint32 { return uint32(v.n) }
func (v Value) Real() float32 { return v.f }
func (v Value) Str() string { return v.s }

// Float64 converts any numeric kind to float64. BOOL converts to 0 or 1.
func (v Value) Float64() (float64, bool) {
	switch v.kind {
	case KindBool:
		if v.b {
			return 1, true
		}
		return 0, true
	case KindByte, KindInt, KindDInt:
		return float64(v.n), true
	case KindReal:
		return float64(v.f), true
	default:
		return 0, false
	}
}

// Interface returns the value as a plain Go value for encoding.
func (v Value) Interface() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindByte:
		return v.Byte()
	case KindInt:
		return v.Int()
	case KindDInt:
		return v.DInt()
	case KindReal:
		return v.f
	default:
		return v.s
	}
}

func (v Value) String() string {
	switch v.kind {
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindReal:
		return strconv.FormatFloat(float64(v.f), 'g', -1, 32)
	case KindString:
		return v.s
	default:
		return strconv.FormatInt(v.n, 10)
	}
}

// Equal compares kind and payload.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindBool:
		return v.b == o.b
	case KindReal:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	default:
		return v.n == o.n
	}
}

// MarshalJSON encodes the payload only, as a JSON bool, number or string.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// widening lists, per destination kind, the source kinds it can represent.
var widening = map[Kind][]Kind{
	KindBool:   {KindBool},
	KindByte:   {KindBool, KindByte},
	KindInt:    {KindBool, KindByte, KindInt},
	KindDInt:   {KindBool, KindByte, KindDInt},
	KindReal:   {KindBool, KindByte, KindInt, KindDInt, KindReal},
	KindString: {KindString},
}

// CanWiden reports whether a value of kind from may be stored in kind to.
func CanWiden(from, to Kind) bool {
	for _, k := range widening[to] {
		if k == from {
			return true
		}
	}
	return false
}

// Coerce converts v into kind to when the conversion is widening.
func Coerce(v Value, to Kind) (Value, error) {
	if v.kind == to {
		return v, nil
	}
	if !CanWiden(v.kind, to) {
		return Value{}, fmt.Errorf("cannot store %s in %s: %w", v.kind, to, types.ErrTypeMismatch)
	}
	f, _ := v.Float64()
	switch to {
	case KindByte:
		return Byte(uint8(f)), nil
	case KindInt:
		return Int(int16(f)), nil
	case KindDInt:
		return DInt(uint32(f)), nil
	case KindReal:
		return Real(float32(f)), nil
	}
	return Value{}, fmt.Errorf("cannot store %s in %s: %w", v.kind, to, types.ErrTypeMismatch)
}

// FromFloat converts a computed number into kind to, truncating toward zero
// and saturating at the kind's range. Block outputs use it to land results in
// whatever numeric kind the program declared.
func FromFloat(f float64, to Kind) (Value, error) {
	if math.IsNaN(f) {
		f = 0
	}
	switch to {
	case KindBool:
		return Bool(f != 0), nil
	case KindByte:
		return Byte(uint8(clamp(f, 0, math.MaxUint8))), nil
	case KindInt:
		return Int(int16(clamp(f, math.MinInt16, math.MaxInt16))), nil
	case KindDInt:
		return DInt(uint32(clamp(f, 0, math.MaxUint32))), nil
	case KindReal:
		return Real(float32(f)), nil
	default:
		return Value{}, fmt.Errorf("cannot store number in %s: %w", to, types.ErrTypeMismatch)
	}
}

func clamp(f, lo, hi float64) float64 {
	f = math.Trunc(f)
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}

// FromJSON types a decoded JSON literal by its shape: booleans become BOOL,
// strings STRING, fractional or exponent numbers REAL, and integers the
// narrowest of BYTE, INT or DINT that holds them. Decode with UseNumber so
// integer literals keep their text.
func FromJSON(raw any) (Value, error) {
	switch v := raw.(type) {
	case bool:
		return Bool(v), nil
	case string:
		return String(v), nil
	case json.Number:
		return fromNumber(string(v))
	case float64:
		if v == math.Trunc(v) {
			return fromNumber(strconv.FormatFloat(v, 'f', -1, 64))
		}
		return Real(float32(v)), nil
	case int:
		return fromNumber(strconv.Itoa(v))
	default:
		return Value{}, fmt.Errorf("unsupported literal %v: %w", raw, types.ErrInvalidConfig)
	}
}

func fromNumber(text string) (Value, error) {
	if strings.ContainsAny(text, ".eE") {
		f, err := strconv.ParseFloat(text, 32)
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", text, types.ErrInvalidConfig)
		}
		return Real(float32(f)), nil
	}
	n, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		return Value{}, fmt.Errorf("invalid number %q: %w", text, types.ErrInvalidConfig)
	}
	switch {
	case n >= 0 && n <= math.MaxUint8:
		return Byte(uint8(n)), nil
	case n >= math.MinInt16 && n <= math.MaxInt16:
		return Int(int16(n)), nil
	case n >= 0 && n <= math.MaxUint32:
		return DInt(uint32(n)), nil
	default:
		return Real(float32(n)), nil
	}
}

// ParseLiteral decodes a JSON literal and types it with FromJSON.
func ParseLiteral(data []byte) (Value, error) {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return Value{}, fmt.Errorf("invalid literal: %w", types.ErrInvalidConfig)
	}
	return FromJSON(raw)
}

// Literal types raw by its JSON shape and places it into kind to. Numeric
// literals are accepted by any numeric kind that represents them exactly, so
// an init value of 1000 lands in a DINT and 2.0 in an INT.
func Literal(raw any, to Kind) (Value, error) {
	v, err := FromJSON(raw)
	if err != nil {
		return Value{}, err
	}
	if v.kind == to || !v.kind.Numeric() || v.kind == KindBool || !to.Numeric() || to == KindBool {
		return Coerce(v, to)
	}
	f, _ := v.Float64()
	exact, err := FromFloat(f, to)
	if err != nil {
		return Value{}, err
	}
	if back, _ := exact.Float64(); back != f && to != KindReal {
		return Value{}, fmt.Errorf("literal %s does not fit %s: %w", v, to, types.ErrTypeMismatch)
	}
	return exact, nil
}
