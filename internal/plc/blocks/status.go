package blocks

import (
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
)

// statusHandler turns the online flag of an endpoint into PLC signals. The
// endpoint is named by a STRING variable (endpoint_name) or a fixed name
// (endpoint). The first scan after the name changes only captures the
// current state.
type statusHandler struct {
	status    StatusSource
	nameVar   string
	fixedName string
	isOnline  string
	onOnline  string
	onOffline string

	monitored   string
	initialized bool
	last        bool
}

func (b *statusHandler) Configure(spec Spec, mem *memory.Memory) error {
	if b.status == nil {
		return fmt.Errorf("%s: no endpoint status source: %w", spec.Type, types.ErrInvalidConfig)
	}

	if name := spec.Inputs.Var("endpoint_name"); name != "" {
		if err := requireString(mem, name); err != nil {
			return err
		}
		b.nameVar = name
	} else if fixed := spec.Inputs.Var("endpoint"); fixed != "" {
		b.fixedName = fixed
	} else {
		return fmt.Errorf("%s: needs endpoint_name or endpoint: %w", spec.Type, types.ErrInvalidConfig)
	}

	var err error
	if b.isOnline, err = optionalOutput(spec, "is_online", mem); err != nil {
		return err
	}
	if b.onOnline, err = optionalOutput(spec, "on_online", mem); err != nil {
		return err
	}
	if b.onOffline, err = optionalOutput(spec, "on_offline", mem); err != nil {
		return err
	}
	if b.isOnline == "" && b.onOnline == "" && b.onOffline == "" {
		return fmt.Errorf("%s: needs at least one output: %w", spec.Type, types.ErrInvalidConfig)
	}
	return nil
}

func (b *statusHandler) Evaluate(mem *memory.Memory) {
	name := b.fixedName
	if b.nameVar != "" {
		name = mem.GetString(b.nameVar, "")
	}
	if name == "" {
		return
	}
	if name != b.monitored {
		b.monitored = name
		b.initialized = false
	}

	online, _ := b.status.EndpointOnline(name)

	rose, fell := false, false
	if b.initialized && online != b.last {
		rose = online
		fell = !online
	}
	b.initialized = true
	b.last = online

	setBool(mem, b.isOnline, online)
	setBool(mem, b.onOnline, rose)
	setBool(mem, b.onOffline, fell)
}

// callFunction raises a function call on every rising edge of trigger. The
// call carries the current value of the value pin, or BOOL true when unwired.
type callFunction struct {
	calls    *CallQueue
	function string
	trigger  string
	value    string
	prev     bool
}

func (b *callFunction) Configure(spec Spec, mem *memory.Memory) error {
	raw, ok := spec.Param("function")
	if !ok {
		return fmt.Errorf("%s: missing function: %w", spec.Type, types.ErrInvalidConfig)
	}
	if err := json.Unmarshal(raw, &b.function); err != nil || b.function == "" {
		return fmt.Errorf("%s: function must be a non-empty string: %w", spec.Type, types.ErrInvalidConfig)
	}

	var err error
	if b.trigger, err = input(spec, "trigger", mem); err != nil {
		return err
	}
	if name := spec.Inputs.Var("value"); name != "" {
		if _, err := requireVar(mem, name); err != nil {
			return err
		}
		b.value = name
	}
	return nil
}

func (b *callFunction) Evaluate(mem *memory.Memory) {
	trigger := getBool(mem, b.trigger)
	if trigger && !b.prev {
		v := value.Bool(true)
		if b.value != "" {
			if variable, ok := mem.Lookup(b.value); ok {
				v = variable.Value
			}
		}
		b.calls.Push(FunctionCall{Function: b.function, Value: v})
	}
	b.prev = trigger
}
