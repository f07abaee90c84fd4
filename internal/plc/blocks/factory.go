package blocks

import (
	"fmt"
	"sort"

	"github.com/KevinKickass/OpenSoftPLC/internal/clock"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
)

// PinInfo describes one pin or parameter of a block kind.
type PinInfo struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional,omitempty"`
}

// Info is the catalog entry of a block kind.
type Info struct {
	Type        string    `json:"block_type"`
	Category    string    `json:"category"`
	Description string    `json:"description"`
	Inputs      []PinInfo `json:"inputs,omitempty"`
	Outputs     []PinInfo `json:"outputs,omitempty"`
	Params      []PinInfo `json:"params,omitempty"`
}

type kind struct {
	info Info
	make func(env Env) Block
}

func pin(name, typ string) PinInfo      { return PinInfo{Name: name, Type: typ} }
func optional(name, typ string) PinInfo { return PinInfo{Name: name, Type: typ, Optional: true} }

var (
	nIn     = []PinInfo{pin("in1..inN", "bool")}
	boolOut = []PinInfo{pin("out", "bool")}
	numIn2  = []PinInfo{pin("in1", "real|var"), pin("in2", "real|var")}
	numOut  = []PinInfo{pin("out", "real")}
	timerIn = []PinInfo{pin("in", "bool"), pin("pt", "ms|var")}
	timerQ  = []PinInfo{pin("q", "bool"), optional("et", "dint")}
	convIn  = []PinInfo{pin("in", "int")}
)

func gateKind(op gateOp, desc string) kind {
	return kind{
		info: Info{Category: "logic", Description: desc, Inputs: nIn, Outputs: boolOut},
		make: func(Env) Block { return &gate{op: op} },
	}
}

func binaryKind(category, desc string, fn func(a, b float64) float64, out []PinInfo) kind {
	return kind{
		info: Info{Category: category, Description: desc, Inputs: numIn2, Outputs: out},
		make: func(Env) Block { return &binary{fn: fn} },
	}
}

func unaryKind(desc string, fn func(float64) float64) kind {
	return kind{
		info: Info{Category: "math", Description: desc, Inputs: []PinInfo{pin("in", "real|var")}, Outputs: numOut},
		make: func(Env) Block { return &unary{fn: fn} },
	}
}

func convKind(desc, out string, fn func(int64) float64) kind {
	return kind{
		info: Info{Category: "conversion", Description: desc, Inputs: convIn, Outputs: []PinInfo{pin("out", out)}},
		make: func(Env) Block { return &reinterpret{fn: fn} },
	}
}

// kinds is the closed set of block types a program may use.
var kinds = map[string]kind{
	"AND":  gateKind(gateAND, "True when every input is true"),
	"OR":   gateKind(gateOR, "True when any input is true"),
	"XOR":  gateKind(gateXOR, "True when an odd number of inputs is true"),
	"NAND": gateKind(gateNAND, "Negated AND"),
	"NOR":  gateKind(gateNOR, "Negated OR"),
	"NOT": {
		info: Info{Category: "logic", Description: "Inverts its input", Inputs: []PinInfo{pin("in", "bool")}, Outputs: boolOut},
		make: func(Env) Block { return &not{} },
	},
	"SR": {
		info: Info{Category: "logic", Description: "Set-dominant latch",
			Inputs: []PinInfo{pin("set", "bool"), pin("reset", "bool")}, Outputs: boolOut},
		make: func(Env) Block { return &latch{setDominant: true} },
	},
	"RS": {
		info: Info{Category: "logic", Description: "Reset-dominant latch",
			Inputs: []PinInfo{pin("set", "bool"), pin("reset", "bool")}, Outputs: boolOut},
		make: func(Env) Block { return &latch{} },
	},

	"TON": {
		info: Info{Category: "timers", Description: "On-delay timer", Inputs: timerIn, Outputs: timerQ},
		make: func(env Env) Block { return &ton{timerPins: timerPins{clock: env.Clock}} },
	},
	"TOF": {
		info: Info{Category: "timers", Description: "Off-delay timer", Inputs: timerIn, Outputs: timerQ},
		make: func(env Env) Block { return &tof{timerPins: timerPins{clock: env.Clock}} },
	},
	"TP": {
		info: Info{Category: "timers", Description: "Non-retriggerable pulse timer", Inputs: timerIn, Outputs: timerQ},
		make: func(env Env) Block { return &tp{timerPins: timerPins{clock: env.Clock}} },
	},

	"CTU": {
		info: Info{Category: "counters", Description: "Up counter",
			Inputs:  []PinInfo{pin("cu", "bool"), optional("reset", "bool"), pin("pv", "int|var")},
			Outputs: []PinInfo{optional("q", "bool"), pin("cv", "int")}},
		make: func(Env) Block { return &ctu{} },
	},
	"CTD": {
		info: Info{Category: "counters", Description: "Down counter",
			Inputs:  []PinInfo{pin("cd", "bool"), optional("load", "bool"), pin("pv", "int|var")},
			Outputs: []PinInfo{optional("q", "bool"), pin("cv", "int")}},
		make: func(Env) Block { return &ctd{} },
	},
	"CTUD": {
		info: Info{Category: "counters", Description: "Up/down counter",
			Inputs: []PinInfo{pin("cu", "bool"), pin("cd", "bool"), optional("reset", "bool"),
				optional("load", "bool"), pin("pv", "int|var")},
			Outputs: []PinInfo{optional("qu", "bool"), optional("qd", "bool"), pin("cv", "int")}},
		make: func(Env) Block { return &ctud{} },
	},

	"ADD":  binaryKind("math", "in1 + in2", add, numOut),
	"SUB":  binaryKind("math", "in1 - in2", sub, numOut),
	"MUL":  binaryKind("math", "in1 * in2", mul, numOut),
	"DIV":  binaryKind("math", "in1 / in2, 0 when in2 is 0", div, numOut),
	"MOD":  binaryKind("math", "Integer remainder, 0 when in2 is 0", mod, []PinInfo{pin("out", "int")}),
	"ABS":  unaryKind("Absolute value", abs),
	"SQRT": unaryKind("Square root, 0 for negative input", sqrt),
	"INC": {
		info: Info{Category: "math", Description: "Adds 1 to in_out", Inputs: []PinInfo{pin("in_out", "int")}},
		make: func(Env) Block { return &step{delta: 1} },
	},
	"DEC": {
		info: Info{Category: "math", Description: "Subtracts 1 from in_out", Inputs: []PinInfo{pin("in_out", "int")}},
		make: func(Env) Block { return &step{delta: -1} },
	},

	"GT": binaryKind("comparison", "in1 > in2", gt, boolOut),
	"GE": binaryKind("comparison", "in1 >= in2", ge, boolOut),
	"LT": binaryKind("comparison", "in1 < in2", lt, boolOut),
	"LE": binaryKind("comparison", "in1 <= in2", le, boolOut),
	"EQ": binaryKind("comparison", "in1 == in2", eq, boolOut),
	"NE": binaryKind("comparison", "in1 != in2", ne, boolOut),

	"BOOL_ARRAY_TO_INT8": {
		info: Info{Category: "conversion", Description: "Packs up to 8 booleans into a byte, first input in bit 0",
			Inputs: []PinInfo{pin("bits", "[bool]")}, Outputs: []PinInfo{pin("out", "byte")}},
		make: func(Env) Block { return &packBits{} },
	},
	"INT8_TO_INT16":   convKind("Sign-extends an 8-bit value", "int", int8ToInt16),
	"INT8_TO_UINT8":   convKind("Reinterprets a signed 8-bit value as unsigned", "byte", int8ToUint8),
	"INT16_TO_UINT16": convKind("Reinterprets a signed 16-bit value as unsigned", "dint", int16ToUint16),
	"INT16_TO_FLOAT":  convKind("Converts a 16-bit integer to REAL", "real", int16ToFloat),
	"INT32_TO_DOUBLE": convKind("Converts a 32-bit integer to REAL", "real", int32ToDouble),
	"INT32_TO_TIME": {
		info: Info{Category: "conversion", Description: "Breaks Unix seconds into UTC calendar fields",
			Inputs: []PinInfo{pin("in", "dint")},
			Outputs: []PinInfo{optional("hour", "int"), optional("minute", "int"), optional("second", "int"),
				optional("year", "int"), optional("month", "int"), optional("day", "int"), optional("weekday", "int")}},
		make: func(Env) Block { return &timeParts{} },
	},

	"STRING_CONCAT": {
		info: Info{Category: "string", Description: "Concatenates its inputs in order",
			Inputs: []PinInfo{pin("in1..inN", "any")}, Outputs: []PinInfo{pin("out", "string")}},
		make: func(Env) Block { return &concat{} },
	},
	"STRING_FIND": {
		info: Info{Category: "string", Description: "Byte index of substring, -1 when absent",
			Inputs:  []PinInfo{pin("string", "string"), pin("substring", "string")},
			Outputs: []PinInfo{pin("index", "int")}},
		make: func(Env) Block { return &find{} },
	},
	"STRING_COPY": {
		info: Info{Category: "string", Description: "Substring of source; length -1 copies to the end",
			Inputs: []PinInfo{pin("source", "string"), optional("start_index", "int|var"),
				optional("length", "int|var")},
			Outputs: []PinInfo{pin("destination", "string")}},
		make: func(Env) Block { return &substring{} },
	},
	"STRING_FORMAT": {
		info: Info{Category: "string", Description: "Substitutes the first of vars into format_string",
			Inputs:  []PinInfo{pin("format_string", "string"), optional("vars", "[any]")},
			Outputs: []PinInfo{pin("out", "string")}},
		make: func(Env) Block { return &format{} },
	},

	"TIME_COMPARE": {
		info: Info{Category: "scheduler", Description: "True while the synchronized wall clock matches time",
			Outputs: boolOut, Params: []PinInfo{pin("time", "{hour,minute,second}")}},
		make: func(env Env) Block { return &timeCompare{clock: env.Clock} },
	},
	"SEQUENCER": {
		info: Info{Category: "sequence", Description: "Runs steps in order, wrapping with a one-scan done pulse",
			Inputs:  []PinInfo{optional("start", "bool")},
			Outputs: []PinInfo{optional("active", "bool"), optional("done", "bool")},
			Params:  []PinInfo{pin("steps", "[{actions,transition_condition,timeout_ms}]")}},
		make: func(env Env) Block { return &sequencer{clock: env.Clock} },
	},
	"STATUS_HANDLER": {
		info: Info{Category: "events", Description: "Endpoint online state with one-scan edge pulses",
			Inputs: []PinInfo{optional("endpoint_name", "string"), optional("endpoint", "name")},
			Outputs: []PinInfo{optional("is_online", "bool"), optional("on_online", "bool"),
				optional("on_offline", "bool")}},
		make: func(env Env) Block { return &statusHandler{status: env.Status} },
	},
	"CALL_FUNCTION": {
		info: Info{Category: "events", Description: "Drives function-gated outputs on a rising trigger",
			Inputs: []PinInfo{pin("trigger", "bool"), optional("value", "any")},
			Params: []PinInfo{pin("function", "string")}},
		make: func(env Env) Block { return &callFunction{calls: env.Calls} },
	},
}

// aliases maps alternate spellings found in existing programs.
var aliases = map[string]string{
	"StatusHandler": "STATUS_HANDLER",
}

// New returns an unconfigured block of the given type. Unknown types fail
// with ErrInvalidConfig. Missing Env collaborators are filled with defaults.
func New(blockType string, env Env) (Block, error) {
	if canonical, ok := aliases[blockType]; ok {
		blockType = canonical
	}
	k, ok := kinds[blockType]
	if !ok {
		return nil, fmt.Errorf("unknown block type %q: %w", blockType, types.ErrInvalidConfig)
	}
	if env.Clock == nil {
		env.Clock = clock.NewSystem()
	}
	if env.Calls == nil {
		env.Calls = NewCallQueue()
	}
	return k.make(env), nil
}

// Known reports whether blockType names a block kind.
func Known(blockType string) bool {
	if canonical, ok := aliases[blockType]; ok {
		blockType = canonical
	}
	_, ok := kinds[blockType]
	return ok
}

// Catalog lists every block kind sorted by type.
func Catalog() []Info {
	result := make([]Info, 0, len(kinds))
	for name, k := range kinds {
		info := k.info
		info.Type = name
		result = append(result, info)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Type < result[j].Type })
	return result
}
