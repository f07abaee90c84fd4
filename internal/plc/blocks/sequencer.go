package blocks

import (
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/OpenSoftPLC/internal/clock"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
)

type seqStep struct {
	actions    []Action
	transition string
	timeoutMs  int64
}

type stepSpec struct {
	Actions    json.RawMessage `json:"actions"`
	Transition string          `json:"transition_condition"`
	TimeoutMs  int64           `json:"timeout_ms"`
}

// sequencer walks an ordered list of steps. The current step's actions run
// every scan it is active; its transition variable or timeout advances it.
// Leaving the last step wraps to step 0 with a one-scan done pulse.
type sequencer struct {
	clock   clock.Clock
	start   string
	done    string
	active  string
	steps   []seqStep
	current int
	entered bool
	since   int64
}

func (b *sequencer) Configure(spec Spec, mem *memory.Memory) error {
	raw, ok := spec.Param("steps")
	if !ok {
		return fmt.Errorf("%s: missing steps: %w", spec.Type, types.ErrInvalidConfig)
	}
	var specs []stepSpec
	if err := json.Unmarshal(raw, &specs); err != nil {
		return fmt.Errorf("%s: invalid steps: %v: %w", spec.Type, err, types.ErrInvalidConfig)
	}

	for i, s := range specs {
		actions, err := DecodeActions(s.Actions)
		if err != nil {
			return fmt.Errorf("%s: step %d: %w", spec.Type, i, err)
		}
		for _, a := range actions {
			if err := a.Validate(mem); err != nil {
				return fmt.Errorf("%s: step %d: %w", spec.Type, i, err)
			}
		}
		if s.Transition != "" {
			if err := requireNumeric(mem, s.Transition); err != nil {
				return fmt.Errorf("%s: step %d: %w", spec.Type, i, err)
			}
		}
		if s.TimeoutMs < 0 {
			return fmt.Errorf("%s: step %d: negative timeout: %w", spec.Type, i, types.ErrInvalidConfig)
		}
		b.steps = append(b.steps, seqStep{actions: actions, transition: s.Transition, timeoutMs: s.TimeoutMs})
	}

	var err error
	if b.start, err = optionalInput(spec, "start", mem); err != nil {
		return err
	}
	if b.done, err = optionalOutput(spec, "done", mem); err != nil {
		return err
	}
	b.active, err = optionalOutput(spec, "active", mem)
	return err
}

func (b *sequencer) Evaluate(mem *memory.Memory) {
	if b.start != "" && !getBool(mem, b.start) {
		b.current = 0
		b.entered = false
		setBool(mem, b.active, false)
		setBool(mem, b.done, false)
		return
	}

	if len(b.steps) == 0 {
		setBool(mem, b.active, false)
		setBool(mem, b.done, true)
		return
	}

	now := b.clock.NowMs()
	cur := b.steps[b.current]
	if !b.entered {
		b.entered = true
		b.since = now
	}

	for _, a := range cur.actions {
		_ = a.Apply(mem)
	}

	advance := cur.transition != "" && getBool(mem, cur.transition)
	if cur.timeoutMs > 0 && now-b.since >= cur.timeoutMs {
		advance = true
	}

	if !advance {
		setBool(mem, b.active, true)
		setBool(mem, b.done, false)
		return
	}

	b.entered = false
	b.current++
	if b.current >= len(b.steps) {
		b.current = 0
		setBool(mem, b.active, false)
		setBool(mem, b.done, true)
		return
	}
	setBool(mem, b.active, true)
	setBool(mem, b.done, false)
}

// Step reports the index of the active step.
func (b *sequencer) Step() int {
	return b.current
}
