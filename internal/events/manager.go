package events

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSoftPLC/internal/clock"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/registry"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	DefaultCheckInterval = time.Second
	queueSize            = 256
	subscriberBuffer     = 64
)

// ProgramRunner starts the program named by a trigger.
type ProgramRunner interface {
	Run(name string) error
}

// EndpointSource resolves endpoints for trigger evaluation.
type EndpointSource interface {
	Endpoint(fullName string) (registry.Endpoint, bool)
}

// Recorder persists history records.
type Recorder interface {
	SaveEvent(ctx context.Context, rec Record) error
}

type Options struct {
	Runner        ProgramRunner
	Endpoints     EndpointSource
	Recorder      Recorder
	Clock         clock.Clock
	Logger        *zap.Logger
	CheckInterval time.Duration
}

type notificationKind int

const (
	notifyStatus notificationKind = iota
	notifyValue
	notifyRecord
)

type notification struct {
	kind     notificationKind
	endpoint string
	online   bool
	value    value.Value
	record   Record
}

// Manager turns endpoint changes and wall clock minutes into program starts
// and keeps a bounded history of what fired.
type Manager struct {
	opts   Options
	logger *zap.Logger

	queue   chan notification
	dropped uint64

	mu        sync.Mutex
	io        map[string]*ioState
	scheduled map[string]*scheduledState
	history   ring
	stats     Stats

	subMu       sync.RWMutex
	subscribers map[chan Record]struct{}

	runMu    sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewManager(opts Options) *Manager {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Clock == nil {
		opts.Clock = clock.NewSystem()
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = DefaultCheckInterval
	}
	return &Manager{
		opts:        opts,
		logger:      opts.Logger,
		queue:       make(chan notification, queueSize),
		io:          make(map[string]*ioState),
		scheduled:   make(map[string]*scheduledState),
		subscribers: make(map[chan Record]struct{}),
	}
}

// Attach subscribes the manager to registry callbacks.
func (m *Manager) Attach(reg *registry.Registry) {
	reg.OnStatusChange(m.OnStatusChange)
	reg.OnValueChange(m.OnValueChange)
}

// OnStatusChange is a registry status callback. It never blocks.
func (m *Manager) OnStatusChange(fullName string, online bool) {
	m.enqueue(notification{kind: notifyStatus, endpoint: fullName, online: online})
}

// OnValueChange is a registry value callback. It never blocks.
func (m *Manager) OnValueChange(fullName string, v value.Value) {
	m.enqueue(notification{kind: notifyValue, endpoint: fullName, value: v})
}

func (m *Manager) enqueue(n notification) {
	select {
	case m.queue <- n:
	default:
		m.mu.Lock()
		m.dropped++
		dropped := m.dropped
		m.mu.Unlock()
		if dropped == 1 || dropped%100 == 0 {
			m.logger.Warn("Event queue full, dropping notification", zap.Uint64("dropped", dropped))
		}
	}
}

// Start runs the notification and schedule loops.
func (m *Manager) Start() error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.running {
		return nil
	}
	m.running = true
	m.stopChan = make(chan struct{})
	m.wg.Add(1)

	go m.loop(m.stopChan)

	m.logger.Info("Event manager started", zap.Duration("check_interval", m.opts.CheckInterval))
	return nil
}

func (m *Manager) Stop() {
	m.runMu.Lock()
	if !m.running {
		m.runMu.Unlock()
		return
	}
	close(m.stopChan)
	m.running = false
	m.runMu.Unlock()

	m.wg.Wait()
	m.logger.Info("Event manager stopped")
}

func (m *Manager) loop(stop chan struct{}) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.opts.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case n := <-m.queue:
			m.handle(n)
		case <-ticker.C:
			m.CheckScheduled()
		}
	}
}

func (m *Manager) handle(n notification) {
	switch n.kind {
	case notifyStatus:
		m.handleStatus(n.endpoint, n.online)
	case notifyValue:
		m.handleValue(n.endpoint, n.value)
	case notifyRecord:
		m.store(n.record)
	}
}

type firing struct {
	trigger  string
	program  string
	priority Priority
	kind     string
	details  string
}

func (m *Manager) handleStatus(endpoint string, online bool) {
	writable := false
	if m.opts.Endpoints != nil {
		if ep, ok := m.opts.Endpoints.Endpoint(endpoint); ok {
			writable = ep.Writable
		}
	}
	now := m.opts.Clock.NowMs()

	var fired []firing
	m.mu.Lock()
	for _, t := range m.sortedIO() {
		if !t.Enabled || t.Endpoint != endpoint {
			continue
		}
		match := false
		switch t.Type {
		case InputOffline:
			match = !online
		case InputOnline:
			match = online
		case OutputError:
			match = !online && writable
		}
		if match && t.debounced(now) {
			fired = append(fired, firing{t.Name, t.Program, t.Priority, string(t.Type), "Endpoint: " + endpoint})
		}
	}
	m.mu.Unlock()

	m.fire(fired)
}

func (m *Manager) handleValue(endpoint string, v value.Value) {
	now := m.opts.Clock.NowMs()

	var fired []firing
	m.mu.Lock()
	for _, t := range m.sortedIO() {
		if !t.Enabled || t.Endpoint != endpoint {
			continue
		}
		match := false
		switch t.Type {
		case InputChanged:
			match = t.hasLast && changed(t.last, v)
			t.last, t.hasLast = v, true
		case ValueThreshold:
			above := crosses(v, t.threshold, t.ThresholdRising)
			match = above && !t.matched
			t.matched = above
		}
		if match && t.debounced(now) {
			fired = append(fired, firing{t.Name, t.Program, t.Priority, string(t.Type),
				fmt.Sprintf("Endpoint: %s value %s", endpoint, v)})
		}
	}
	m.mu.Unlock()

	m.fire(fired)
}

// debounced reports whether the trigger may fire at now and records it.
func (t *ioState) debounced(now int64) bool {
	if t.fired && t.DebounceMs > 0 && now-t.lastFiredMs < t.DebounceMs {
		return false
	}
	t.fired = true
	t.lastFiredMs = now
	return true
}

func changed(last, v value.Value) bool {
	if last.Kind() != v.Kind() {
		return true
	}
	if v.Kind() == value.KindReal {
		return math.Abs(float64(v.Real()-last.Real())) > 0.001
	}
	return !last.Equal(v)
}

// crosses compares v to the threshold: above it when rising, below otherwise.
func crosses(v, threshold value.Value, rising bool) bool {
	if v.Kind() == value.KindBool || threshold.Kind() == value.KindBool {
		if v.Kind() != threshold.Kind() {
			return false
		}
		if rising {
			return v.Bool() && !threshold.Bool()
		}
		return !v.Bool() && threshold.Bool()
	}

	a, ok1 := v.Float64()
	b, ok2 := threshold.Float64()
	if !ok1 || !ok2 {
		return false
	}
	if rising {
		return a > b
	}
	return a < b
}

// CheckScheduled fires every scheduled trigger matching the current wall
// clock minute. Nothing fires until the wall clock is synchronized.
func (m *Manager) CheckScheduled() {
	now, synced := m.opts.Clock.Wall()
	if !synced {
		return
	}
	minute := now.Unix() / 60

	var fired []firing
	m.mu.Lock()
	for _, t := range m.sortedScheduled() {
		if !t.Enabled || t.lastMinute == minute || !t.matches(now) {
			continue
		}
		t.lastMinute = minute
		fired = append(fired, firing{t.Name, t.Program, t.Priority, KindScheduled,
			fmt.Sprintf("Scheduled at %02d:%02d", now.Hour(), now.Minute())})
	}
	m.mu.Unlock()

	m.fire(fired)
}

func (t *scheduledState) matches(now time.Time) bool {
	if t.Hour >= 0 && now.Hour() != t.Hour {
		return false
	}
	if t.Minute >= 0 && now.Minute() != t.Minute {
		return false
	}
	if len(t.Days) > 0 {
		day := int(now.Weekday())
		if day == 0 {
			day = 7
		}
		if !containsInt(t.Days, day) {
			return false
		}
	}
	if len(t.Months) > 0 && !containsInt(t.Months, int(now.Month())) {
		return false
	}
	return true
}

func containsInt(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func (m *Manager) fire(fired []firing) {
	for _, f := range fired {
		m.logger.Info("Event triggered",
			zap.String("trigger", f.trigger),
			zap.String("program", f.program),
			zap.String("priority", string(f.priority)))

		details := f.details
		if f.program != "" && m.opts.Runner != nil {
			if err := m.opts.Runner.Run(f.program); err != nil {
				m.logger.Warn("Triggered program failed to start",
					zap.String("trigger", f.trigger),
					zap.String("program", f.program),
					zap.Error(err))
				details = fmt.Sprintf("%s (run failed: %v)", details, err)
			}
		}

		m.store(Record{
			Trigger:  f.trigger,
			Program:  f.program,
			Priority: f.priority,
			Kind:     f.kind,
			Details:  details,
		})
	}
}

// RecordIncident queues a CRITICAL record that starts no program. It is safe
// to call from the scan loop.
func (m *Manager) RecordIncident(program, kind, details string) {
	m.enqueue(notification{kind: notifyRecord, record: Record{
		Trigger:  kind,
		Program:  program,
		Priority: PriorityCritical,
		Kind:     kind,
		Details:  details,
	}})
}

func (m *Manager) store(rec Record) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.TimestampMs == 0 {
		rec.TimestampMs = m.opts.Clock.NowMs()
	}
	rec.Priority = normalizePriority(rec.Priority)

	m.mu.Lock()
	m.history.push(rec)
	m.stats.Total++
	if rec.Priority == PriorityCritical {
		m.stats.Critical++
	} else {
		m.stats.Normal++
	}
	m.stats.LastEventMs = rec.TimestampMs
	m.mu.Unlock()

	if m.opts.Recorder != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := m.opts.Recorder.SaveEvent(ctx, rec); err != nil {
			m.logger.Warn("Failed to persist event", zap.String("id", rec.ID), zap.Error(err))
		}
		cancel()
	}

	m.broadcast(rec)
}

// ==================== Triggers ====================

func (m *Manager) AddIOTrigger(t IOTrigger) error {
	state, err := newIOState(t)
	if err != nil {
		return err
	}
	if m.opts.Endpoints != nil && t.Type == InputChanged {
		if ep, ok := m.opts.Endpoints.Endpoint(t.Endpoint); ok {
			state.last, state.hasLast = ep.Value, true
		}
	}

	m.mu.Lock()
	m.io[t.Name] = state
	m.mu.Unlock()

	m.logger.Info("IO trigger added",
		zap.String("trigger", t.Name),
		zap.String("endpoint", t.Endpoint),
		zap.String("type", string(t.Type)))
	return nil
}

func (m *Manager) RemoveIOTrigger(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.io[name]; !ok {
		return fmt.Errorf("io trigger %s: %w", name, types.ErrNotFound)
	}
	delete(m.io, name)
	return nil
}

func (m *Manager) IOTrigger(name string) (IOTrigger, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.io[name]
	if !ok {
		return IOTrigger{}, false
	}
	return t.IOTrigger, true
}

func (m *Manager) SetIOTriggerEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.io[name]
	if !ok {
		return fmt.Errorf("io trigger %s: %w", name, types.ErrNotFound)
	}
	t.Enabled = enabled
	return nil
}

func (m *Manager) IOTriggers() []IOTrigger {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]IOTrigger, 0, len(m.io))
	for _, t := range m.sortedIO() {
		result = append(result, t.IOTrigger)
	}
	return result
}

func (m *Manager) AddScheduledTrigger(t ScheduledTrigger) error {
	state, err := newScheduledState(t)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.scheduled[t.Name] = state
	m.mu.Unlock()

	m.logger.Info("Scheduled trigger added",
		zap.String("trigger", t.Name),
		zap.String("program", t.Program))
	return nil
}

func (m *Manager) RemoveScheduledTrigger(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.scheduled[name]; !ok {
		return fmt.Errorf("scheduled trigger %s: %w", name, types.ErrNotFound)
	}
	delete(m.scheduled, name)
	return nil
}

func (m *Manager) ScheduledTrigger(name string) (ScheduledTrigger, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.scheduled[name]
	if !ok {
		return ScheduledTrigger{}, false
	}
	return t.ScheduledTrigger, true
}

func (m *Manager) SetScheduledTriggerEnabled(name string, enabled bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.scheduled[name]
	if !ok {
		return fmt.Errorf("scheduled trigger %s: %w", name, types.ErrNotFound)
	}
	t.Enabled = enabled
	return nil
}

func (m *Manager) ScheduledTriggers() []ScheduledTrigger {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]ScheduledTrigger, 0, len(m.scheduled))
	for _, t := range m.sortedScheduled() {
		result = append(result, t.ScheduledTrigger)
	}
	return result
}

// sortedIO and sortedScheduled require m.mu.
func (m *Manager) sortedIO() []*ioState {
	result := make([]*ioState, 0, len(m.io))
	for _, t := range m.io {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

func (m *Manager) sortedScheduled() []*scheduledState {
	result := make([]*scheduledState, 0, len(m.scheduled))
	for _, t := range m.scheduled {
		result = append(result, t)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// ==================== History ====================

// History returns the stored records oldest first.
func (m *Manager) History(unreadOnly bool) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.history.list(unreadOnly)
}

func (m *Manager) Unread() []Record {
	return m.History(true)
}

// MarkAsRead flags every stored record as published and returns how many
// changed.
func (m *Manager) MarkAsRead() int {
	m.mu.Lock()
	marked := m.history.markRead()
	m.mu.Unlock()

	m.logger.Debug("Events marked as read", zap.Int("count", marked))
	return marked
}

func (m *Manager) ClearHistory() {
	m.mu.Lock()
	m.history.clear()
	m.mu.Unlock()

	m.logger.Info("Event history cleared")
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := m.stats
	stats.Unread = m.history.unread()
	return stats
}

// ExportJSON renders {"events": [...], "stats": {...}} for publication.
func (m *Manager) ExportJSON(unreadOnly bool) ([]byte, error) {
	payload := struct {
		Events []Record `json:"events"`
		Stats  Stats    `json:"stats"`
	}{
		Events: m.History(unreadOnly),
		Stats:  m.Stats(),
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal events: %w", err)
	}
	return data, nil
}

// ==================== Subscribers ====================

// Subscribe returns a channel receiving every new record and a function
// that ends the subscription. Slow subscribers miss records.
func (m *Manager) Subscribe() (<-chan Record, func()) {
	ch := make(chan Record, subscriberBuffer)

	m.subMu.Lock()
	m.subscribers[ch] = struct{}{}
	m.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.subMu.Lock()
			delete(m.subscribers, ch)
			close(ch)
			m.subMu.Unlock()
		})
	}
}

func (m *Manager) broadcast(rec Record) {
	m.subMu.RLock()
	defer m.subMu.RUnlock()

	for ch := range m.subscribers {
		select {
		case ch <- rec:
		default:
		}
	}
}
