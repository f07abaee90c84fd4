// Package blocks implements the function block library evaluated by PLC
// programs. Every block resolves its pins against a program memory once at
// load time and then evaluates once per scan without blocking.
package blocks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/KevinKickass/OpenSoftPLC/internal/clock"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
)

// Block is the evaluation contract shared by every block kind.
type Block interface {
	// Configure resolves pin variables and literal parameters. It never
	// declares variables.
	Configure(spec Spec, mem *memory.Memory) error
	// Evaluate runs one scan. It must not block and cannot fail.
	Evaluate(mem *memory.Memory)
}

// StatusSource answers endpoint online queries for STATUS_HANDLER blocks.
type StatusSource interface {
	EndpointOnline(fullName string) (online bool, found bool)
}

// Env carries the collaborators a block may need beyond its memory.
type Env struct {
	Clock  clock.Clock
	Status StatusSource
	Calls  *CallQueue
}

// FunctionCall is a request raised by CALL_FUNCTION to drive the
// function-gated outputs registered under Function.
type FunctionCall struct {
	Function string      `json:"function"`
	Value    value.Value `json:"value"`
}

// CallQueue collects function calls raised during EXECUTE until the WRITE
// phase drains them.
type CallQueue struct {
	mu    sync.Mutex
	calls []FunctionCall
}

func NewCallQueue() *CallQueue {
	return &CallQueue{}
}

func (q *CallQueue) Push(call FunctionCall) {
	q.mu.Lock()
	q.calls = append(q.calls, call)
	q.mu.Unlock()
}

// Drain returns the queued calls in push order and empties the queue.
func (q *CallQueue) Drain() []FunctionCall {
	q.mu.Lock()
	defer q.mu.Unlock()

	calls := q.calls
	q.calls = nil
	return calls
}

// Spec is one entry of a program's logic array.
type Spec struct {
	Type    string `json:"block_type"`
	Inputs  Pins   `json:"inputs"`
	Outputs Pins   `json:"outputs"`

	raw map[string]json.RawMessage
}

func (s *Spec) UnmarshalJSON(data []byte) error {
	type plain Spec
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("invalid block: %v: %w", err, types.ErrInvalidConfig)
	}
	if err := json.Unmarshal(data, &p.raw); err != nil {
		return fmt.Errorf("invalid block: %v: %w", err, types.ErrInvalidConfig)
	}
	*s = Spec(p)
	return nil
}

// Field returns a top-level block field other than inputs and outputs.
func (s Spec) Field(name string) (json.RawMessage, bool) {
	raw, ok := s.raw[name]
	return raw, ok
}

// Param looks a literal parameter up under inputs first, then at the top
// level of the block.
func (s Spec) Param(name string) (json.RawMessage, bool) {
	if raw, ok := s.Inputs.Raw(name); ok {
		return raw, true
	}
	return s.Field(name)
}

// Pin is one named connection of a block. Raw is usually a JSON string
// naming a variable, but literal parameters live here too.
type Pin struct {
	Name string
	Raw  json.RawMessage
}

// Pins keeps the document order of an inputs or outputs object. An array is
// accepted as well; its pins are named by index.
type Pins []Pin

func (p *Pins) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*p = nil
		return nil
	}

	if trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		pins := make(Pins, 0, len(items))
		for i, item := range items {
			pins = append(pins, Pin{Name: strconv.Itoa(i), Raw: item})
		}
		*p = pins
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("pins must be an object or an array")
	}

	pins := make(Pins, 0)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var raw json.RawMessage
		if err := dec.Decode(&raw); err != nil {
			return err
		}
		pins = append(pins, Pin{Name: key, Raw: raw})
	}
	*p = pins
	return nil
}

func (p Pins) Raw(name string) (json.RawMessage, bool) {
	for _, pin := range p {
		if pin.Name == name {
			return pin.Raw, true
		}
	}
	return nil, false
}

// Var returns the variable name wired to pin, or "" when the pin is absent
// or not a string.
func (p Pins) Var(name string) string {
	raw, ok := p.Raw(name)
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// Vars returns every string-valued pin in document order.
func (p Pins) Vars() []string {
	result := make([]string, 0, len(p))
	for _, pin := range p {
		var s string
		if err := json.Unmarshal(pin.Raw, &s); err == nil && s != "" {
			result = append(result, s)
		}
	}
	return result
}

// List returns the variable names of an array-valued pin.
func (p Pins) List(name string) ([]string, bool) {
	raw, ok := p.Raw(name)
	if !ok {
		return nil, false
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, false
	}
	return list, true
}

// Operand is either a literal number or the name of a numeric variable.
type Operand struct {
	Var     string
	Literal float64
}

func (o Operand) Value(mem *memory.Memory) float64 {
	if o.Var != "" {
		return mem.Numeric(o.Var, 0)
	}
	return o.Literal
}

func parseOperand(raw json.RawMessage, mem *memory.Memory) (Operand, error) {
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		if err := requireNumeric(mem, name); err != nil {
			return Operand{}, err
		}
		return Operand{Var: name}, nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return Operand{}, fmt.Errorf("operand %s is neither a number nor a variable: %w", string(raw), types.ErrInvalidConfig)
	}
	return Operand{Literal: f}, nil
}

// operand resolves a required numeric parameter.
func operand(spec Spec, name string, mem *memory.Memory) (Operand, error) {
	raw, ok := spec.Param(name)
	if !ok {
		return Operand{}, fmt.Errorf("%s: missing %s: %w", spec.Type, name, types.ErrInvalidConfig)
	}
	return parseOperand(raw, mem)
}

// optionalOperand resolves a numeric parameter that defaults to def.
func optionalOperand(spec Spec, name string, def float64, mem *memory.Memory) (Operand, error) {
	raw, ok := spec.Param(name)
	if !ok {
		return Operand{Literal: def}, nil
	}
	return parseOperand(raw, mem)
}

func requireVar(mem *memory.Memory, name string) (memory.Variable, error) {
	if name == "" {
		return memory.Variable{}, fmt.Errorf("missing variable reference: %w", types.ErrInvalidConfig)
	}
	v, ok := mem.Lookup(name)
	if !ok {
		return memory.Variable{}, fmt.Errorf("variable %s is not declared: %w", name, types.ErrInvalidConfig)
	}
	return v, nil
}

func requireNumeric(mem *memory.Memory, name string) error {
	v, err := requireVar(mem, name)
	if err != nil {
		return err
	}
	if !v.Kind.Numeric() {
		return fmt.Errorf("variable %s is %s, want a number: %w", name, v.Kind, types.ErrInvalidConfig)
	}
	return nil
}

func requireString(mem *memory.Memory, name string) error {
	v, err := requireVar(mem, name)
	if err != nil {
		return err
	}
	if v.Kind != value.KindString {
		return fmt.Errorf("variable %s is %s, want string: %w", name, v.Kind, types.ErrInvalidConfig)
	}
	return nil
}

// input resolves a required numeric or boolean pin.
func input(spec Spec, pin string, mem *memory.Memory) (string, error) {
	name := spec.Inputs.Var(pin)
	if name == "" {
		return "", fmt.Errorf("%s: missing input %s: %w", spec.Type, pin, types.ErrInvalidConfig)
	}
	return name, requireNumeric(mem, name)
}

// output resolves a required numeric or boolean output pin.
func output(spec Spec, pin string, mem *memory.Memory) (string, error) {
	name := spec.Outputs.Var(pin)
	if name == "" {
		return "", fmt.Errorf("%s: missing output %s: %w", spec.Type, pin, types.ErrInvalidConfig)
	}
	return name, requireNumeric(mem, name)
}

// optionalInput resolves a pin that may be left unwired.
func optionalInput(spec Spec, pin string, mem *memory.Memory) (string, error) {
	name := spec.Inputs.Var(pin)
	if name == "" {
		return "", nil
	}
	return name, requireNumeric(mem, name)
}

func optionalOutput(spec Spec, pin string, mem *memory.Memory) (string, error) {
	name := spec.Outputs.Var(pin)
	if name == "" {
		return "", nil
	}
	return name, requireNumeric(mem, name)
}

// setBool writes b into name; unwired pins are skipped.
func setBool(mem *memory.Memory, name string, b bool) {
	if name == "" {
		return
	}
	_ = mem.Set(name, value.Bool(b))
}

func setNumber(mem *memory.Memory, name string, f float64) {
	if name == "" {
		return
	}
	_ = mem.SetNumeric(name, f)
}

func getBool(mem *memory.Memory, name string) bool {
	if name == "" {
		return false
	}
	return mem.Numeric(name, 0) != 0
}
