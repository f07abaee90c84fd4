package program

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/blocks"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/registry"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"go.uber.org/zap"
)

const (
	DefaultWatchdogMs = 5000
	MinWatchdogMs     = 10
	MaxWatchdogMs     = 60000
	DefaultMaxSize    = 64 << 10
)

// Options carries the collaborators and limits used by Load.
type Options struct {
	// Env supplies the clock and endpoint status source. Each program gets
	// its own function call queue.
	Env       blocks.Env
	Store     memory.RetentiveStore
	Validator *Validator
	Logger    *zap.Logger

	MaxSize           int
	DefaultWatchdogMs int64
	MinWatchdogMs     int64
	MaxWatchdogMs     int64
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
	if o.DefaultWatchdogMs <= 0 {
		o.DefaultWatchdogMs = DefaultWatchdogMs
	}
	if o.MinWatchdogMs <= 0 {
		o.MinWatchdogMs = MinWatchdogMs
	}
	if o.MaxWatchdogMs <= 0 {
		o.MaxWatchdogMs = MaxWatchdogMs
	}
}

type document struct {
	WatchdogMs *int64              `json:"watchdog_timeout_ms"`
	Memory     map[string]variable `json:"memory"`
	Init       json.RawMessage     `json:"init"`
	Logic      []blocks.Spec       `json:"logic"`
	IOPoints   []binding           `json:"io_points"`
}

type variable struct {
	Type      string `json:"type"`
	Retentive bool   `json:"retentive"`
	MeshLink  string `json:"mesh_link"`
}

type binding struct {
	Variable         string `json:"variable"`
	Endpoint         string `json:"endpoint"`
	Direction        string `json:"direction"`
	RequiresFunction bool   `json:"requires_function"`
	FunctionName     string `json:"function_name"`
	AutoSync         *bool  `json:"auto_sync"`
}

// Program is one loaded block graph with its own memory.
type Program struct {
	name       string
	watchdogMs int64
	mem        *memory.Memory
	blocks     []blocks.Block
	blockTypes []string
	init       []blocks.Action
	ioPoints   []registry.IOPoint
	calls      *blocks.CallQueue
	config     json.RawMessage
	logger     *zap.Logger

	mu                  sync.Mutex
	state               State
	scans               uint64
	lastScan            time.Duration
	maxScan             time.Duration
	overruns            uint64
	consecutiveOverruns int
}

// Load compiles a program document. On any error nothing is returned and
// nothing outside the new program has been touched.
func Load(ctx context.Context, name string, data []byte, opts Options) (*Program, error) {
	opts.defaults()

	if name == "" {
		return nil, fmt.Errorf("program name is empty: %w", types.ErrInvalidConfig)
	}
	if len(data) > opts.MaxSize {
		return nil, fmt.Errorf("program %s is %d bytes, limit is %d: %w", name, len(data), opts.MaxSize, types.ErrInvalidConfig)
	}
	if opts.Validator != nil {
		if err := opts.Validator.Validate(data); err != nil {
			return nil, fmt.Errorf("program %s: %w", name, err)
		}
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("program %s: invalid JSON: %v: %w", name, err, types.ErrInvalidConfig)
	}

	p := &Program{
		name:       name,
		watchdogMs: opts.DefaultWatchdogMs,
		calls:      blocks.NewCallQueue(),
		config:     compact(data),
		logger:     opts.Logger.With(zap.String("program", name)),
		state:      StateStopped,
	}
	if doc.WatchdogMs != nil {
		p.watchdogMs = clampWatchdog(*doc.WatchdogMs, opts.DefaultWatchdogMs, opts.MinWatchdogMs, opts.MaxWatchdogMs)
	}

	p.mem = memory.New(name, opts.Store, opts.Logger)
	if err := p.declare(doc.Memory); err != nil {
		return nil, err
	}
	if err := p.mem.LoadRetentive(ctx); err != nil {
		p.logger.Warn("Retentive values partially restored", zap.Error(err))
	}

	env := opts.Env
	env.Calls = p.calls
	for i, spec := range doc.Logic {
		block, err := blocks.New(spec.Type, env)
		if err != nil {
			return nil, fmt.Errorf("program %s: logic[%d]: %w", name, i, err)
		}
		if err := block.Configure(spec, p.mem); err != nil {
			return nil, fmt.Errorf("program %s: logic[%d] %s: %w", name, i, spec.Type, err)
		}
		p.blocks = append(p.blocks, block)
		p.blockTypes = append(p.blockTypes, spec.Type)
	}

	actions, err := blocks.DecodeActions(doc.Init)
	if err != nil {
		return nil, fmt.Errorf("program %s: init: %w", name, err)
	}
	for i, a := range actions {
		if err := a.Validate(p.mem); err != nil {
			return nil, fmt.Errorf("program %s: init[%d]: %w", name, i, err)
		}
	}
	p.init = actions

	if err := p.bind(doc.IOPoints); err != nil {
		return nil, err
	}

	p.logger.Info("Program loaded",
		zap.Int("variables", p.mem.Len()),
		zap.Int("blocks", len(p.blocks)),
		zap.Int64("watchdog_ms", p.watchdogMs))
	return p, nil
}

func (p *Program) declare(vars map[string]variable) error {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		v := vars[name]
		kind, err := value.ParseKind(v.Type)
		if err != nil {
			return fmt.Errorf("program %s: variable %s: %w", p.name, name, err)
		}
		if err := p.mem.Declare(name, kind, v.Retentive, v.MeshLink); err != nil {
			return fmt.Errorf("program %s: %w", p.name, err)
		}
	}
	return nil
}

func (p *Program) bind(bindings []binding) error {
	seen := make(map[string]bool, len(bindings))
	for i, b := range bindings {
		if _, ok := p.mem.Lookup(b.Variable); !ok {
			return fmt.Errorf("program %s: io_points[%d]: variable %s is not declared: %w",
				p.name, i, b.Variable, types.ErrInvalidConfig)
		}
		if _, err := registry.ParseName(b.Endpoint); err != nil {
			return fmt.Errorf("program %s: io_points[%d]: %w", p.name, i, err)
		}
		if seen[b.Variable] {
			return fmt.Errorf("program %s: io_points[%d]: variable %s bound twice: %w",
				p.name, i, b.Variable, types.ErrInvalidConfig)
		}
		seen[b.Variable] = true

		direction, ok := registry.ParseDirection(b.Direction)
		if !ok {
			return fmt.Errorf("program %s: io_points[%d]: invalid direction %q: %w",
				p.name, i, b.Direction, types.ErrInvalidConfig)
		}
		if b.RequiresFunction && b.FunctionName == "" {
			return fmt.Errorf("program %s: io_points[%d]: requires_function without function_name: %w",
				p.name, i, types.ErrInvalidConfig)
		}

		autoSync := true
		if b.AutoSync != nil {
			autoSync = *b.AutoSync
		}
		p.ioPoints = append(p.ioPoints, registry.IOPoint{
			PLCVarName:       b.Variable,
			Endpoint:         b.Endpoint,
			Direction:        direction,
			RequiresFunction: b.RequiresFunction,
			FunctionName:     b.FunctionName,
			AutoSync:         autoSync,
			OwnerProgram:     p.name,
		})
	}
	return nil
}

func clampWatchdog(ms, def, lo, hi int64) int64 {
	if ms <= 0 {
		return def
	}
	if ms < lo {
		return lo
	}
	if ms > hi {
		return hi
	}
	return ms
}

func compact(data []byte) json.RawMessage {
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return append(json.RawMessage(nil), data...)
	}
	return buf.Bytes()
}

func (p *Program) Name() string { return p.name }
func (p *Program) WatchdogMs() int64 { return p.watchdogMs }
func (p *Program) Memory() *memory.Memory { return p.mem }
func (p *Program) Calls() *blocks.CallQueue { return p.calls }
func (p *Program) Config() json.RawMessage { return p.config }
func (p *Program) IOPoints() []registry.IOPoint { return append([]registry.IOPoint(nil), p.ioPoints...) }
func (p *Program) BlockTypes() []string { return append([]string(nil), p.blockTypes...) }
func (p *Program) InitActions() []blocks.Action { return append([]blocks.Action(nil), p.init...) }

func (p *Program) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run starts a stopped program, running its init actions first, or resumes a
// paused one without them. Running an already running program does nothing.
func (p *Program) Run() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case StateRunning:
		return nil
	case StateStopped:
		for _, a := range p.init {
			if err := a.Apply(p.mem); err != nil {
				p.logger.Warn("Init action failed", zap.String("variable", a.Variable), zap.Error(err))
			}
		}
	}

	if err := ValidateTransition(p.state, StateRunning); err != nil {
		return err
	}
	p.state = StateRunning
	p.consecutiveOverruns = 0
	return nil
}

func (p *Program) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StatePaused {
		return nil
	}
	if err := ValidateTransition(p.state, StatePaused); err != nil {
		return fmt.Errorf("program %s: %w", p.name, err)
	}
	p.state = StatePaused
	return nil
}

func (p *Program) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state == StateStopped {
		return nil
	}
	p.state = StateStopped
	return nil
}

// Execute evaluates every block once in declared order.
func (p *Program) Execute() {
	for _, b := range p.blocks {
		b.Evaluate(p.mem)
	}
}

// RecordScan stores the duration of one scan and reports whether it
// exceeded the watchdog, along with the count of consecutive overruns.
func (p *Program) RecordScan(d time.Duration) (exceeded bool, consecutive int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.scans++
	p.lastScan = d
	if d > p.maxScan {
		p.maxScan = d
	}

	if d > time.Duration(p.watchdogMs)*time.Millisecond {
		p.overruns++
		p.consecutiveOverruns++
		return true, p.consecutiveOverruns
	}
	p.consecutiveOverruns = 0
	return false, 0
}

// Info is a snapshot of a program for listings.
type Info struct {
	Name       string `json:"name"`
	State      State  `json:"state"`
	WatchdogMs int64  `json:"watchdog_ms"`
	Variables  int    `json:"variables"`
	Blocks     int    `json:"blocks"`
	IOPoints   int    `json:"io_points"`
	Scans      uint64 `json:"scans"`
	LastScanUs int64  `json:"last_scan_us"`
	MaxScanUs  int64  `json:"max_scan_us"`
	Overruns   uint64 `json:"watchdog_overruns"`
}

func (p *Program) Info() Info {
	p.mu.Lock()
	defer p.mu.Unlock()

	return Info{
		Name:       p.name,
		State:      p.state,
		WatchdogMs: p.watchdogMs,
		Variables:  p.mem.Len(),
		Blocks:     len(p.blocks),
		IOPoints:   len(p.ioPoints),
		Scans:      p.scans,
		LastScanUs: p.lastScan.Microseconds(),
		MaxScanUs:  p.maxScan.Microseconds(),
		Overruns:   p.overruns,
	}
}
