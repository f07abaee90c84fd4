package blocks

import (
	"math"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
)

// binary covers the two-operand arithmetic and comparison blocks. Operands
// are read as REAL; the result lands in whatever numeric kind out declares.
type binary struct {
	fn  func(a, b float64) float64
	in1 Operand
	in2 Operand
	out string
}

func (b *binary) Configure(spec Spec, mem *memory.Memory) error {
	var err error
	if b.in1, err = operand(spec, "in1", mem); err != nil {
		return err
	}
	if b.in2, err = operand(spec, "in2", mem); err != nil {
		return err
	}
	b.out, err = output(spec, "out", mem)
	return err
}

func (b *binary) Evaluate(mem *memory.Memory) {
	setNumber(mem, b.out, b.fn(b.in1.Value(mem), b.in2.Value(mem)))
}

func add(a, b float64) float64 { return float64(float32(a) + float32(b)) }
func sub(a, b float64) float64 { return float64(float32(a) - float32(b)) }
func mul(a, b float64) float64 { return float64(float32(a) * float32(b)) }

// div returns 0 for a zero divisor.
func div(a, b float64) float64 {
	if b == 0 {
		return 0
	}
	return float64(float32(a) / float32(b))
}

// mod is integer modulo; a zero divisor yields 0.
func mod(a, b float64) float64 {
	x, y := int64(a), int64(b)
	if y == 0 {
		return 0
	}
	return float64(x % y)
}

func boolf(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func gt(a, b float64) float64 { return boolf(float32(a) > float32(b)) }
func ge(a, b float64) float64 { return boolf(float32(a) >= float32(b)) }
func lt(a, b float64) float64 { return boolf(float32(a) < float32(b)) }
func le(a, b float64) float64 { return boolf(float32(a) <= float32(b)) }
func eq(a, b float64) float64 { return boolf(float32(a) == float32(b)) }
func ne(a, b float64) float64 { return boolf(float32(a) != float32(b)) }

type unary struct {
	fn  func(float64) float64
	in  Operand
	out string
}

func (b *unary) Configure(spec Spec, mem *memory.Memory) error {
	var err error
	if b.in, err = operand(spec, "in", mem); err != nil {
		return err
	}
	b.out, err = output(spec, "out", mem)
	return err
}

func (b *unary) Evaluate(mem *memory.Memory) {
	setNumber(mem, b.out, b.fn(b.in.Value(mem)))
}

func abs(a float64) float64 { return float64(float32(math.Abs(a))) }

// sqrt returns 0 for negative input.
func sqrt(a float64) float64 {
	if a < 0 {
		return 0
	}
	return float64(float32(math.Sqrt(a)))
}

// step is INC or DEC on a single in-out variable.
type step struct {
	delta float64
	inOut string
}

func (b *step) Configure(spec Spec, mem *memory.Memory) error {
	var err error
	b.inOut, err = input(spec, "in_out", mem)
	return err
}

func (b *step) Evaluate(mem *memory.Memory) {
	setNumber(mem, b.inOut, mem.Numeric(b.inOut, 0)+b.delta)
}
