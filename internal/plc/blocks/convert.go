package blocks

import (
	"fmt"
	"time"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
)

// packBits packs up to eight booleans into a byte, first input in bit 0.
// The inputs come from a "bits" list or else every wired input pin in order.
type packBits struct {
	bits []string
	out  string
}

func (b *packBits) Configure(spec Spec, mem *memory.Memory) error {
	bits, ok := spec.Inputs.List("bits")
	if !ok {
		bits = spec.Inputs.Vars()
	}
	if len(bits) == 0 || len(bits) > 8 {
		return fmt.Errorf("%s: needs 1 to 8 inputs, got %d: %w", spec.Type, len(bits), types.ErrInvalidConfig)
	}
	for _, name := range bits {
		if err := requireNumeric(mem, name); err != nil {
			return err
		}
	}
	b.bits = bits

	var err error
	b.out, err = output(spec, "out", mem)
	return err
}

func (b *packBits) Evaluate(mem *memory.Memory) {
	var packed uint8
	for i, name := range b.bits {
		if getBool(mem, name) {
			packed |= 1 << i
		}
	}
	setNumber(mem, b.out, float64(packed))
}

// reinterpret reads an integer input, pushes it through a fixed-width
// conversion and stores the result.
type reinterpret struct {
	fn  func(int64) float64
	in  string
	out string
}

func (b *reinterpret) Configure(spec Spec, mem *memory.Memory) error {
	var err error
	if b.in, err = input(spec, "in", mem); err != nil {
		return err
	}
	b.out, err = output(spec, "out", mem)
	return err
}

func (b *reinterpret) Evaluate(mem *memory.Memory) {
	setNumber(mem, b.out, b.fn(int64(mem.Numeric(b.in, 0))))
}

func int8ToInt16(n int64) float64   { return float64(int16(int8(n))) }
func int8ToUint8(n int64) float64   { return float64(uint8(int8(n))) }
func int16ToUint16(n int64) float64 { return float64(uint16(int16(n))) }
func int16ToFloat(n int64) float64  { return float64(float32(int16(n))) }
func int32ToDouble(n int64) float64 { return float64(float32(int32(n))) }

// timeParts breaks a Unix timestamp in seconds into UTC calendar fields.
type timeParts struct {
	in      string
	hour    string
	minute  string
	second  string
	year    string
	month   string
	day     string
	weekday string
}

func (b *timeParts) Configure(spec Spec, mem *memory.Memory) error {
	var err error
	if b.in, err = input(spec, "in", mem); err != nil {
		return err
	}

	outputs := map[string]*string{
		"hour":    &b.hour,
		"minute":  &b.minute,
		"second":  &b.second,
		"year":    &b.year,
		"month":   &b.month,
		"day":     &b.day,
		"weekday": &b.weekday,
	}
	wired := 0
	for pin, target := range outputs {
		if *target, err = optionalOutput(spec, pin, mem); err != nil {
			return err
		}
		if *target != "" {
			wired++
		}
	}
	if wired == 0 {
		return fmt.Errorf("%s: needs at least one output: %w", spec.Type, types.ErrInvalidConfig)
	}
	return nil
}

func (b *timeParts) Evaluate(mem *memory.Memory) {
	t := time.Unix(int64(int32(int64(mem.Numeric(b.in, 0)))), 0).UTC()

	setNumber(mem, b.hour, float64(t.Hour()))
	setNumber(mem, b.minute, float64(t.Minute()))
	setNumber(mem, b.second, float64(t.Second()))
	setNumber(mem, b.year, float64(t.Year()))
	setNumber(mem, b.month, float64(t.Month()))
	setNumber(mem, b.day, float64(t.Day()))
	setNumber(mem, b.weekday, float64(t.Weekday()))
}
