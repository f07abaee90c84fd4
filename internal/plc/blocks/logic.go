package blocks

import (
	"fmt"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
)

type gateOp int

const (
	gateAND gateOp = iota
	gateOR
	gateXOR
	gateNAND
	gateNOR
)

// gate is an N-input boolean block. Every string-valued input pin takes part,
// in document order.
type gate struct {
	op     gateOp
	inputs []string
	out    string
}

func (b *gate) Configure(spec Spec, mem *memory.Memory) error {
	b.inputs = spec.Inputs.Vars()
	if len(b.inputs) == 0 {
		return fmt.Errorf("%s: needs at least one input: %w", spec.Type, types.ErrInvalidConfig)
	}
	for _, name := range b.inputs {
		if err := requireNumeric(mem, name); err != nil {
			return fmt.Errorf("%s: %w", spec.Type, err)
		}
	}

	var err error
	b.out, err = output(spec, "out", mem)
	return err
}

func (b *gate) Evaluate(mem *memory.Memory) {
	var result bool
	switch b.op {
	case gateAND, gateNAND:
		result = true
		for _, name := range b.inputs {
			if !getBool(mem, name) {
				result = false
				break
			}
		}
	case gateOR, gateNOR:
		for _, name := range b.inputs {
			if getBool(mem, name) {
				result = true
				break
			}
		}
	case gateXOR:
		for _, name := range b.inputs {
			if getBool(mem, name) {
				result = !result
			}
		}
	}
	if b.op == gateNAND || b.op == gateNOR {
		result = !result
	}
	setBool(mem, b.out, result)
}

type not struct {
	in  string
	out string
}

func (b *not) Configure(spec Spec, mem *memory.Memory) error {
	var err error
	if b.in, err = input(spec, "in", mem); err != nil {
		return err
	}
	b.out, err = output(spec, "out", mem)
	return err
}

func (b *not) Evaluate(mem *memory.Memory) {
	setBool(mem, b.out, !getBool(mem, b.in))
}

// latch is SR (set-dominant) or RS (reset-dominant). The output variable
// holds the latched state between scans.
type latch struct {
	setDominant bool
	set         string
	reset       string
	out         string
}

func (b *latch) Configure(spec Spec, mem *memory.Memory) error {
	var err error
	if b.set, err = input(spec, "set", mem); err != nil {
		return err
	}
	if b.reset, err = input(spec, "reset", mem); err != nil {
		return err
	}
	if b.out = spec.Outputs.Var("out"); b.out == "" {
		b.out = spec.Outputs.Var("q")
	}
	if b.out == "" {
		return fmt.Errorf("%s: missing output out: %w", spec.Type, types.ErrInvalidConfig)
	}
	return requireNumeric(mem, b.out)
}

func (b *latch) Evaluate(mem *memory.Memory) {
	set := getBool(mem, b.set)
	reset := getBool(mem, b.reset)
	q := getBool(mem, b.out)

	switch {
	case set && reset:
		q = b.setDominant
	case set:
		q = true
	case reset:
		q = false
	}
	setBool(mem, b.out, q)
}
