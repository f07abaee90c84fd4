package blocks

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
)

func stringOutput(spec Spec, pin string, mem *memory.Memory) (string, error) {
	name := spec.Outputs.Var(pin)
	if name == "" {
		return "", fmt.Errorf("%s: missing output %s: %w", spec.Type, pin, types.ErrInvalidConfig)
	}
	return name, requireString(mem, name)
}

func stringInput(spec Spec, pin string, mem *memory.Memory) (string, error) {
	name := spec.Inputs.Var(pin)
	if name == "" {
		return "", fmt.Errorf("%s: missing input %s: %w", spec.Type, pin, types.ErrInvalidConfig)
	}
	return name, requireString(mem, name)
}

// text renders any variable as text. Missing variables render empty.
func text(mem *memory.Memory, name string) string {
	v, ok := mem.Lookup(name)
	if !ok {
		return ""
	}
	return v.Value.String()
}

type concat struct {
	inputs []string
	out    string
}

func (b *concat) Configure(spec Spec, mem *memory.Memory) error {
	b.inputs = spec.Inputs.Vars()
	if len(b.inputs) == 0 {
		return fmt.Errorf("%s: needs at least one input: %w", spec.Type, types.ErrInvalidConfig)
	}
	for _, name := range b.inputs {
		if _, err := requireVar(mem, name); err != nil {
			return err
		}
	}

	var err error
	b.out, err = stringOutput(spec, "out", mem)
	return err
}

func (b *concat) Evaluate(mem *memory.Memory) {
	var sb strings.Builder
	for _, name := range b.inputs {
		sb.WriteString(text(mem, name))
	}
	_ = mem.Set(b.out, value.String(sb.String()))
}

// find writes the byte index of substring in string, or -1.
type find struct {
	str    string
	substr string
	out    string
}

func (b *find) Configure(spec Spec, mem *memory.Memory) error {
	var err error
	if b.str, err = stringInput(spec, "string", mem); err != nil {
		return err
	}
	if b.substr, err = stringInput(spec, "substring", mem); err != nil {
		return err
	}
	b.out, err = output(spec, "index", mem)
	return err
}

func (b *find) Evaluate(mem *memory.Memory) {
	idx := strings.Index(mem.GetString(b.str, ""), mem.GetString(b.substr, ""))
	setNumber(mem, b.out, float64(idx))
}

// substring copies length bytes of source starting at start_index. A
// length of -1 copies to the end. Out-of-range bounds are clamped.
type substring struct {
	source string
	start  Operand
	length Operand
	dest   string
}

func (b *substring) Configure(spec Spec, mem *memory.Memory) error {
	var err error
	if b.source, err = stringInput(spec, "source", mem); err != nil {
		return err
	}
	if b.start, err = optionalOperand(spec, "start_index", 0, mem); err != nil {
		return err
	}
	if b.length, err = optionalOperand(spec, "length", -1, mem); err != nil {
		return err
	}
	b.dest, err = stringOutput(spec, "destination", mem)
	return err
}

func (b *substring) Evaluate(mem *memory.Memory) {
	src := mem.GetString(b.source, "")
	start := int(b.start.Value(mem))
	length := int(b.length.Value(mem))

	if start < 0 {
		start = 0
	}
	if start > len(src) {
		start = len(src)
	}
	end := len(src)
	if length >= 0 && start+length < end {
		end = start + length
	}
	start = runeFloor(src, start)
	if end = runeFloor(src, end); end < start {
		end = start
	}
	_ = mem.Set(b.dest, value.String(src[start:end]))
}

// runeFloor moves byte offset i back to the start of the UTF-8 sequence it
// falls in.
func runeFloor(s string, i int) int {
	for i > 0 && i < len(s) && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}

// format substitutes the first entry of vars into format_string. The
// placeholder is the first "{}" or "%s"; without one the value is appended.
type format struct {
	formatVar string
	vars      []string
	out       string
}

func (b *format) Configure(spec Spec, mem *memory.Memory) error {
	var err error
	if b.formatVar, err = stringInput(spec, "format_string", mem); err != nil {
		return err
	}
	b.vars, _ = spec.Inputs.List("vars")
	for _, name := range b.vars {
		if _, err := requireVar(mem, name); err != nil {
			return err
		}
	}
	b.out, err = stringOutput(spec, "out", mem)
	return err
}

func (b *format) Evaluate(mem *memory.Memory) {
	result := mem.GetString(b.formatVar, "")
	if len(b.vars) > 0 {
		arg := text(mem, b.vars[0])
		placeholder := -1
		width := 0
		for _, p := range []string{"{}", "%s"} {
			if i := strings.Index(result, p); i >= 0 && (placeholder < 0 || i < placeholder) {
				placeholder, width = i, len(p)
			}
		}
		if placeholder >= 0 {
			result = result[:placeholder] + arg + result[placeholder+width:]
		} else {
			result += arg
		}
	}
	_ = mem.Set(b.out, value.String(result))
}
