package blocks

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
)

const actionSetValue = "set_value"

// Action is a variable assignment used by program init lists and sequencer
// steps. Value is typed by its JSON shape.
type Action struct {
	Action   string `json:"action"`
	Variable string `json:"variable"`
	Value    any    `json:"value"`
}

// DecodeActions decodes an action list keeping integer literals exact.
func DecodeActions(raw json.RawMessage) ([]Action, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var actions []Action
	if err := dec.Decode(&actions); err != nil {
		return nil, fmt.Errorf("invalid action list: %v: %w", err, types.ErrInvalidConfig)
	}
	return actions, nil
}

// Validate checks that the action is known, its variable is declared and its
// literal fits the declared kind.
func (a Action) Validate(mem *memory.Memory) error {
	if a.Action != actionSetValue {
		return fmt.Errorf("unknown action %q: %w", a.Action, types.ErrInvalidConfig)
	}
	variable, err := requireVar(mem, a.Variable)
	if err != nil {
		return err
	}
	if _, err := value.Literal(a.Value, variable.Kind); err != nil {
		return fmt.Errorf("action on %s: %v: %w", a.Variable, err, types.ErrInvalidConfig)
	}
	return nil
}

// Apply performs the assignment.
func (a Action) Apply(mem *memory.Memory) error {
	return mem.Assign(a.Variable, a.Value)
}
