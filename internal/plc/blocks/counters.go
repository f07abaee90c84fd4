package blocks

import (
	"math"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
)

// Counters keep cv in the memory variable itself so a retentive cv survives
// reloads and forcing cv from outside takes effect on the next scan.

// ctu counts up on every rising edge of cu. cv keeps counting past pv and
// saturates at the INT range.
type ctu struct {
	cu     string
	reset  string
	pv     Operand
	q      string
	cv     string
	prevCU bool
}

func (b *ctu) Configure(spec Spec, mem *memory.Memory) error {
	var err error
	if b.cu, err = input(spec, "cu", mem); err != nil {
		return err
	}
	if b.reset, err = optionalInput(spec, "reset", mem); err != nil {
		return err
	}
	if b.pv, err = operand(spec, "pv", mem); err != nil {
		return err
	}
	if b.q, err = optionalOutput(spec, "q", mem); err != nil {
		return err
	}
	b.cv, err = output(spec, "cv", mem)
	return err
}

func (b *ctu) Evaluate(mem *memory.Memory) {
	cu := getBool(mem, b.cu)
	pv := b.pv.Value(mem)
	cv := mem.Numeric(b.cv, 0)

	if getBool(mem, b.reset) {
		cv = 0
	} else if cu && !b.prevCU && cv < math.MaxInt16 {
		cv++
	}
	b.prevCU = cu

	setNumber(mem, b.cv, cv)
	setBool(mem, b.q, cv >= pv)
}

// ctd counts down to zero on rising edges of cd; load presets cv to pv.
type ctd struct {
	cd     string
	load   string
	pv     Operand
	q      string
	cv     string
	prevCD bool
}

func (b *ctd) Configure(spec Spec, mem *memory.Memory) error {
	var err error
	if b.cd, err = input(spec, "cd", mem); err != nil {
		return err
	}
	if b.load, err = optionalInput(spec, "load", mem); err != nil {
		return err
	}
	if b.pv, err = operand(spec, "pv", mem); err != nil {
		return err
	}
	if b.q, err = optionalOutput(spec, "q", mem); err != nil {
		return err
	}
	b.cv, err = output(spec, "cv", mem)
	return err
}

func (b *ctd) Evaluate(mem *memory.Memory) {
	cd := getBool(mem, b.cd)
	cv := mem.Numeric(b.cv, 0)

	if getBool(mem, b.load) {
		cv = b.pv.Value(mem)
	} else if cd && !b.prevCD && cv > 0 {
		cv--
	}
	b.prevCD = cd

	setNumber(mem, b.cv, cv)
	setBool(mem, b.q, cv == 0)
}

// ctud counts both ways. reset beats load, and load beats counting.
type ctud struct {
	cu     string
	cd     string
	reset  string
	load   string
	pv     Operand
	qu     string
	qd     string
	cv     string
	prevCU bool
	prevCD bool
}

func (b *ctud) Configure(spec Spec, mem *memory.Memory) error {
	var err error
	if b.cu, err = input(spec, "cu", mem); err != nil {
		return err
	}
	if b.cd, err = input(spec, "cd", mem); err != nil {
		return err
	}
	if b.reset, err = optionalInput(spec, "reset", mem); err != nil {
		return err
	}
	if b.load, err = optionalInput(spec, "load", mem); err != nil {
		return err
	}
	if b.pv, err = operand(spec, "pv", mem); err != nil {
		return err
	}
	if b.qu, err = optionalOutput(spec, "qu", mem); err != nil {
		return err
	}
	if b.qd, err = optionalOutput(spec, "qd", mem); err != nil {
		return err
	}
	b.cv, err = output(spec, "cv", mem)
	return err
}

func (b *ctud) Evaluate(mem *memory.Memory) {
	cu := getBool(mem, b.cu)
	cd := getBool(mem, b.cd)
	pv := b.pv.Value(mem)
	cv := mem.Numeric(b.cv, 0)

	switch {
	case getBool(mem, b.reset):
		cv = 0
	case getBool(mem, b.load):
		cv = pv
	default:
		if cu && !b.prevCU && cv < math.MaxInt16 {
			cv++
		}
		if cd && !b.prevCD && cv > 0 {
			cv--
		}
	}
	b.prevCU = cu
	b.prevCD = cd

	setNumber(mem, b.cv, cv)
	setBool(mem, b.qu, cv >= pv)
	setBool(mem, b.qd, cv <= 0)
}
