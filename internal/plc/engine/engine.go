package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSoftPLC/internal/clock"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/blocks"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/program"
	"github.com/KevinKickass/OpenSoftPLC/internal/registry"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"go.uber.org/zap"
)

const DefaultScanInterval = 10 * time.Millisecond

// IOSyncer runs the READ and WRITE phases for one program.
type IOSyncer interface {
	SyncInputs(owner string, mem *memory.Memory)
	SyncOutputs(owner string, mem *memory.Memory, calls []blocks.FunctionCall)
}

// IORegistry receives the I/O points declared by loaded programs.
type IORegistry interface {
	RegisterIOPoint(p registry.IOPoint) error
	UnregisterIOPoint(varName string) error
}

// ProgramStore keeps program documents across restarts.
type ProgramStore interface {
	SaveProgram(ctx context.Context, name string, doc []byte) error
	DeleteProgram(ctx context.Context, name string) error
}

// RetentivePurger is implemented by retentive stores that can drop a
// program's namespace.
type RetentivePurger interface {
	DeleteNamespace(ctx context.Context, namespace string) error
}

// Incident describes one scan that ran past its program's watchdog.
type Incident struct {
	Program     string        `json:"program"`
	Duration    time.Duration `json:"duration"`
	WatchdogMs  int64         `json:"watchdog_ms"`
	Consecutive int           `json:"consecutive"`
	TimestampMs int64         `json:"timestamp_ms"`
}

func (i Incident) Error() string {
	return fmt.Sprintf("program %s scan took %s, watchdog %dms: %v",
		i.Program, i.Duration, i.WatchdogMs, types.ErrWatchdogExceeded)
}

func (i Incident) Unwrap() error {
	return types.ErrWatchdogExceeded
}

// Hooks are invoked synchronously and must not block.
type Hooks struct {
	OnStateChange func(name string, state program.State)
	OnWatchdog    func(Incident)
	OnDelete      func(name string)
}

type Options struct {
	Clock    clock.Clock
	Status   blocks.StatusSource
	Registry IORegistry
	Syncer   IOSyncer
	Store    memory.RetentiveStore
	Programs ProgramStore
	Logger   *zap.Logger
	Hooks    Hooks

	ScanInterval      time.Duration
	MaxProgramSize    int
	DefaultWatchdogMs int64
	MinWatchdogMs     int64
	MaxWatchdogMs     int64
}

// Stats summarizes scan activity.
type Stats struct {
	Running    bool   `json:"running"`
	Scans      uint64 `json:"scans"`
	LastScanUs int64  `json:"last_scan_us"`
	MaxScanUs  int64  `json:"max_scan_us"`
	Programs   int    `json:"programs"`
	Stopped    int    `json:"stopped"`
	Active     int    `json:"running_programs"`
	Paused     int    `json:"paused"`
}

// Engine owns every loaded program and the scan loop that executes them.
type Engine struct {
	opts      Options
	validator *program.Validator
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.RWMutex
	programs map[string]*program.Program

	// scanMu serializes EvaluateAll between the loop and direct callers.
	scanMu   sync.Mutex
	scans    uint64
	lastScan time.Duration
	maxScan  time.Duration

	loopMu   sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func New(opts Options) (*Engine, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.ScanInterval <= 0 {
		opts.ScanInterval = DefaultScanInterval
	}

	validator, err := program.NewValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to create program validator: %w", err)
	}

	return &Engine{
		opts:      opts,
		validator: validator,
		logger:    opts.Logger,
		now:       time.Now,
		programs:  make(map[string]*program.Program),
	}, nil
}

func (e *Engine) programOptions() program.Options {
	return program.Options{
		Env:               blocks.Env{Clock: e.opts.Clock, Status: e.opts.Status},
		Store:             e.opts.Store,
		Validator:         e.validator,
		Logger:            e.logger,
		MaxSize:           e.opts.MaxProgramSize,
		DefaultWatchdogMs: e.opts.DefaultWatchdogMs,
		MinWatchdogMs:     e.opts.MinWatchdogMs,
		MaxWatchdogMs:     e.opts.MaxWatchdogMs,
	}
}

// Load compiles doc into a new STOPPED program. A name that is already
// loaded is rejected; use Reload to replace a program.
func (e *Engine) Load(ctx context.Context, name string, doc []byte) error {
	e.mu.RLock()
	_, exists := e.programs[name]
	e.mu.RUnlock()
	if exists {
		return fmt.Errorf("program %s: %w", name, types.ErrAlreadyExists)
	}

	p, err := program.Load(ctx, name, doc, e.programOptions())
	if err != nil {
		return err
	}

	e.mu.Lock()
	if _, exists := e.programs[name]; exists {
		e.mu.Unlock()
		return fmt.Errorf("program %s: %w", name, types.ErrAlreadyExists)
	}
	if err := e.bindIOPoints(p); err != nil {
		e.mu.Unlock()
		return err
	}
	e.programs[name] = p
	e.mu.Unlock()

	e.persist(ctx, name, doc)
	e.notifyState(name, program.StateStopped)
	return nil
}

// Reload replaces a STOPPED program. The old program's retentive values are
// saved first so the new one picks them up. On failure the old program stays.
func (e *Engine) Reload(ctx context.Context, name string, doc []byte) error {
	old, err := e.Get(name)
	if err != nil {
		return err
	}
	if state := old.State(); state != program.StateStopped {
		return fmt.Errorf("cannot reload program %s while %s: %w", name, state, types.ErrInvalidState)
	}

	if err := old.Memory().SaveRetentive(ctx); err != nil {
		e.logger.Warn("Failed to save retentive values before reload",
			zap.String("program", name), zap.Error(err))
	}

	p, err := program.Load(ctx, name, doc, e.programOptions())
	if err != nil {
		return err
	}

	e.mu.Lock()
	if e.programs[name] != old {
		e.mu.Unlock()
		return fmt.Errorf("program %s changed during reload: %w", name, types.ErrInvalidState)
	}
	e.unbindIOPoints(old)
	if err := e.bindIOPoints(p); err != nil {
		if rebindErr := e.bindIOPoints(old); rebindErr != nil {
			e.logger.Error("Failed to restore IO points after reload failure",
				zap.String("program", name), zap.Error(rebindErr))
		}
		e.mu.Unlock()
		return err
	}
	e.programs[name] = p
	e.mu.Unlock()

	e.logger.Info("Program reloaded", zap.String("program", name))
	e.persist(ctx, name, doc)
	e.notifyState(name, program.StateStopped)
	return nil
}

// bindIOPoints registers every point of p or none of them. Caller holds e.mu.
func (e *Engine) bindIOPoints(p *program.Program) error {
	if e.opts.Registry == nil {
		return nil
	}

	points := p.IOPoints()
	for i, point := range points {
		if err := e.opts.Registry.RegisterIOPoint(point); err != nil {
			for _, done := range points[:i] {
				_ = e.opts.Registry.UnregisterIOPoint(done.PLCVarName)
			}
			return fmt.Errorf("program %s: io point %s: %w", p.Name(), point.PLCVarName, err)
		}
	}
	return nil
}

func (e *Engine) unbindIOPoints(p *program.Program) {
	if e.opts.Registry == nil {
		return
	}
	for _, point := range p.IOPoints() {
		if err := e.opts.Registry.UnregisterIOPoint(point.PLCVarName); err != nil && !errors.Is(err, types.ErrNotFound) {
			e.logger.Warn("Failed to unregister IO point",
				zap.String("program", p.Name()),
				zap.String("variable", point.PLCVarName),
				zap.Error(err))
		}
	}
}

func (e *Engine) persist(ctx context.Context, name string, doc []byte) {
	if e.opts.Programs == nil {
		return
	}
	if err := e.opts.Programs.SaveProgram(ctx, name, doc); err != nil {
		e.logger.Warn("Failed to persist program", zap.String("program", name), zap.Error(err))
	}
}

// Run starts or resumes a program and makes sure the scan loop is running.
func (e *Engine) Run(name string) error {
	p, err := e.Get(name)
	if err != nil {
		return err
	}
	before := p.State()
	if err := p.Run(); err != nil {
		return err
	}
	if before != program.StateRunning {
		e.logger.Info("Program started", zap.String("program", name), zap.Stringer("from", before))
		e.notifyState(name, program.StateRunning)
	}
	e.startLoop()
	return nil
}

func (e *Engine) Pause(name string) error {
	p, err := e.Get(name)
	if err != nil {
		return err
	}
	before := p.State()
	if err := p.Pause(); err != nil {
		return err
	}
	if before != program.StatePaused {
		e.logger.Info("Program paused", zap.String("program", name))
		e.notifyState(name, program.StatePaused)
	}
	return nil
}

// Stop is cooperative: a scan already in flight completes. Retentive values
// are saved once the program is stopped.
func (e *Engine) Stop(ctx context.Context, name string) error {
	p, err := e.Get(name)
	if err != nil {
		return err
	}
	before := p.State()
	if err := p.Stop(); err != nil {
		return err
	}
	if before == program.StateStopped {
		return nil
	}

	if err := p.Memory().SaveRetentive(ctx); err != nil {
		e.logger.Warn("Failed to save retentive values on stop", zap.String("program", name), zap.Error(err))
	}
	e.logger.Info("Program stopped", zap.String("program", name))
	e.notifyState(name, program.StateStopped)
	return nil
}

// Delete removes a STOPPED program and its I/O points. Retentive values are
// saved and survive a later load under the same name.
func (e *Engine) Delete(ctx context.Context, name string) error {
	return e.remove(ctx, name, false)
}

// Purge removes a STOPPED program like Delete and drops its retentive values.
func (e *Engine) Purge(ctx context.Context, name string) error {
	return e.remove(ctx, name, true)
}

func (e *Engine) remove(ctx context.Context, name string, purge bool) error {
	e.mu.Lock()
	p, exists := e.programs[name]
	if !exists {
		e.mu.Unlock()
		return fmt.Errorf("program %s: %w", name, types.ErrNotFound)
	}
	if state := p.State(); state != program.StateStopped {
		e.mu.Unlock()
		return fmt.Errorf("cannot delete program %s while %s: %w", name, state, types.ErrInvalidState)
	}
	delete(e.programs, name)
	e.unbindIOPoints(p)
	e.mu.Unlock()

	if purge {
		if purger, ok := e.opts.Store.(RetentivePurger); ok {
			if err := purger.DeleteNamespace(ctx, name); err != nil {
				e.logger.Warn("Failed to drop retentive values", zap.String("program", name), zap.Error(err))
			}
		}
	} else if err := p.Memory().SaveRetentive(ctx); err != nil {
		e.logger.Warn("Failed to save retentive values on delete", zap.String("program", name), zap.Error(err))
	}
	if e.opts.Programs != nil {
		if err := e.opts.Programs.DeleteProgram(ctx, name); err != nil {
			e.logger.Warn("Failed to delete stored program", zap.String("program", name), zap.Error(err))
		}
	}

	e.logger.Info("Program deleted", zap.String("program", name), zap.Bool("purged", purge))
	if e.opts.Hooks.OnDelete != nil {
		e.opts.Hooks.OnDelete(name)
	}
	return nil
}

func (e *Engine) Get(name string) (*program.Program, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	p, exists := e.programs[name]
	if !exists {
		return nil, fmt.Errorf("program %s: %w", name, types.ErrNotFound)
	}
	return p, nil
}

// Names returns the loaded program names in sorted order.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.programs))
	for name := range e.programs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// List returns a snapshot of every program, sorted by name.
func (e *Engine) List() []program.Info {
	result := make([]program.Info, 0)
	for _, p := range e.snapshot(nil) {
		result = append(result, p.Info())
	}
	return result
}

// Variables returns the memory of a program.
func (e *Engine) Variables(name string) ([]memory.Variable, error) {
	p, err := e.Get(name)
	if err != nil {
		return nil, err
	}
	return p.Memory().Variables(), nil
}

// SetVariable forces a variable to a JSON-typed literal. Input sync or block
// logic may overwrite the forced value on the next scan.
func (e *Engine) SetVariable(name, variable string, literal any) error {
	p, err := e.Get(name)
	if err != nil {
		return err
	}
	if err := p.Memory().Assign(variable, literal); err != nil {
		return fmt.Errorf("program %s: %w", name, err)
	}
	e.logger.Info("Variable forced",
		zap.String("program", name),
		zap.String("variable", variable),
		zap.Any("value", literal))
	return nil
}

// snapshot returns the programs sorted by name, filtered by keep.
func (e *Engine) snapshot(keep func(*program.Program) bool) []*program.Program {
	e.mu.RLock()
	result := make([]*program.Program, 0, len(e.programs))
	for _, p := range e.programs {
		if keep == nil || keep(p) {
			result = append(result, p)
		}
	}
	e.mu.RUnlock()

	sort.Slice(result, func(i, j int) bool { return result[i].Name() < result[j].Name() })
	return result
}

func running(p *program.Program) bool {
	return p.State() == program.StateRunning
}

func stopped(p *program.Program) bool {
	return p.State() == program.StateStopped
}

// EvaluateAll runs one scan over every RUNNING program: READ for all, then
// EXECUTE for all, then WRITE for all. It returns the number of programs
// that are not stopped.
func (e *Engine) EvaluateAll() int {
	e.scanMu.Lock()
	defer e.scanMu.Unlock()

	scanStart := e.now()
	active := e.snapshot(running)
	elapsed := make([]time.Duration, len(active))

	for i, p := range active {
		start := e.now()
		if e.opts.Syncer != nil {
			e.opts.Syncer.SyncInputs(p.Name(), p.Memory())
		}
		elapsed[i] += e.now().Sub(start)
	}

	for i, p := range active {
		start := e.now()
		p.Execute()
		elapsed[i] += e.now().Sub(start)
	}

	for i, p := range active {
		start := e.now()
		calls := p.Calls().Drain()
		if e.opts.Syncer != nil {
			e.opts.Syncer.SyncOutputs(p.Name(), p.Memory(), calls)
		}
		elapsed[i] += e.now().Sub(start)
	}

	for i, p := range active {
		if exceeded, consecutive := p.RecordScan(elapsed[i]); exceeded {
			e.reportWatchdog(p, elapsed[i], consecutive)
		}
	}

	total := e.now().Sub(scanStart)
	e.scans++
	e.lastScan = total
	if total > e.maxScan {
		e.maxScan = total
	}

	return len(e.snapshot(func(p *program.Program) bool { return !stopped(p) }))
}

func (e *Engine) reportWatchdog(p *program.Program, d time.Duration, consecutive int) {
	incident := Incident{
		Program:     p.Name(),
		Duration:    d,
		WatchdogMs:  p.WatchdogMs(),
		Consecutive: consecutive,
		TimestampMs: e.opts.Clock.NowMs(),
	}
	e.logger.Warn("Watchdog exceeded",
		zap.String("program", incident.Program),
		zap.Duration("duration", d),
		zap.Int64("watchdog_ms", incident.WatchdogMs),
		zap.Int("consecutive", consecutive))

	if e.opts.Hooks.OnWatchdog != nil {
		e.opts.Hooks.OnWatchdog(incident)
	}
}

func (e *Engine) notifyState(name string, state program.State) {
	if e.opts.Hooks.OnStateChange != nil {
		e.opts.Hooks.OnStateChange(name, state)
	}
}

// SaveRetentive saves the retentive variables of every program.
func (e *Engine) SaveRetentive(ctx context.Context) error {
	var errs []error
	for _, p := range e.snapshot(nil) {
		if err := p.Memory().SaveRetentive(ctx); err != nil {
			errs = append(errs, fmt.Errorf("program %s: %w", p.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// RunRetentiveSaver saves retentive variables every interval until ctx ends.
func (e *Engine) RunRetentiveSaver(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.SaveRetentive(ctx); err != nil {
				e.logger.Warn("Periodic retentive save failed", zap.Error(err))
			}
		}
	}
}

func (e *Engine) Stats() Stats {
	e.scanMu.Lock()
	stats := Stats{
		Scans:      e.scans,
		LastScanUs: e.lastScan.Microseconds(),
		MaxScanUs:  e.maxScan.Microseconds(),
	}
	e.scanMu.Unlock()

	stats.Running = e.Running()
	for _, p := range e.snapshot(nil) {
		stats.Programs++
		switch p.State() {
		case program.StateRunning:
			stats.Active++
		case program.StatePaused:
			stats.Paused++
		default:
			stats.Stopped++
		}
	}
	return stats
}

// Close stops the scan loop and saves retentive values.
func (e *Engine) Close(ctx context.Context) error {
	e.stopLoop()
	return e.SaveRetentive(ctx)
}
