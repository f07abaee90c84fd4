package blocks

import (
	"github.com/KevinKickass/OpenSoftPLC/internal/clock"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
)

// timerPins is the pin set shared by TON, TOF and TP.
type timerPins struct {
	clock clock.Clock
	in    string
	pt    Operand
	q     string
	et    string
}

func (t *timerPins) configure(spec Spec, mem *memory.Memory) error {
	var err error
	if t.in, err = input(spec, "in", mem); err != nil {
		return err
	}
	if t.pt, err = operand(spec, "pt", mem); err != nil {
		return err
	}
	if t.q, err = output(spec, "q", mem); err != nil {
		return err
	}
	t.et, err = optionalOutput(spec, "et", mem)
	return err
}

func (t *timerPins) preset(mem *memory.Memory) int64 {
	pt := int64(t.pt.Value(mem))
	if pt < 0 {
		return 0
	}
	return pt
}

func (t *timerPins) write(mem *memory.Memory, q bool, et int64) {
	setBool(mem, t.q, q)
	setNumber(mem, t.et, float64(et))
}

// ton is the on-delay timer.
type ton struct {
	timerPins
	timing bool
	start  int64
}

func (b *ton) Configure(spec Spec, mem *memory.Memory) error {
	return b.configure(spec, mem)
}

func (b *ton) Evaluate(mem *memory.Memory) {
	in := getBool(mem, b.in)
	now := b.clock.NowMs()
	pt := b.preset(mem)

	if !in {
		b.timing = false
		b.write(mem, false, 0)
		return
	}

	if !b.timing {
		b.timing = true
		b.start = now
	}

	et := now - b.start
	q := et >= pt
	if q {
		et = pt
	}
	b.write(mem, q, et)
}

type tofState int

const (
	tofIdle tofState = iota
	tofOn
	tofTiming
	tofExpired
)

// tof is the off-delay timer.
type tof struct {
	timerPins
	state tofState
	start int64
}

func (b *tof) Configure(spec Spec, mem *memory.Memory) error {
	return b.configure(spec, mem)
}

func (b *tof) Evaluate(mem *memory.Memory) {
	in := getBool(mem, b.in)
	now := b.clock.NowMs()
	pt := b.preset(mem)

	if in {
		b.state = tofOn
		b.write(mem, true, 0)
		return
	}

	switch b.state {
	case tofOn:
		b.state = tofTiming
		b.start = now
		fallthrough
	case tofTiming:
		et := now - b.start
		if et >= pt {
			b.state = tofExpired
			b.write(mem, false, pt)
			return
		}
		b.write(mem, true, et)
	case tofExpired:
		b.write(mem, false, pt)
	default:
		b.write(mem, false, 0)
	}
}

type tpState int

const (
	tpIdle tpState = iota
	tpPulsing
	tpHeld
)

// tp is the pulse timer. It cannot be retriggered while the pulse runs.
type tp struct {
	timerPins
	state  tpState
	prevIn bool
	start  int64
}

func (b *tp) Configure(spec Spec, mem *memory.Memory) error {
	return b.configure(spec, mem)
}

func (b *tp) Evaluate(mem *memory.Memory) {
	in := getBool(mem, b.in)
	now := b.clock.NowMs()
	pt := b.preset(mem)

	if b.state == tpIdle && in && !b.prevIn {
		b.state = tpPulsing
		b.start = now
	}
	b.prevIn = in

	switch b.state {
	case tpPulsing:
		et := now - b.start
		if et < pt {
			b.write(mem, true, et)
			return
		}
		// et holds at pt while in stays high after the pulse.
		if in {
			b.state = tpHeld
		} else {
			b.state = tpIdle
		}
		b.write(mem, false, pt)
	case tpHeld:
		if in {
			b.write(mem, false, pt)
			return
		}
		b.state = tpIdle
		b.write(mem, false, 0)
	default:
		b.write(mem, false, 0)
	}
}
