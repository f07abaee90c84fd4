package program

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/KevinKickass/OpenSoftPLC/internal/clock"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/blocks"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/registry"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const latchProgram = `{
  "memory": {
    "start":    {"type": "bool"},
    "stop":     {"type": "bool"},
    "motor":    {"type": "bool"},
    "or_out":   {"type": "bool"},
    "not_stop": {"type": "bool"}
  },
  "logic": [
    {"block_type": "OR",  "inputs": {"in1": "start", "in2": "motor"}, "outputs": {"out": "or_out"}},
    {"block_type": "NOT", "inputs": {"in": "stop"}, "outputs": {"out": "not_stop"}},
    {"block_type": "AND", "inputs": {"in1": "or_out", "in2": "not_stop"}, "outputs": {"out": "motor"}}
  ]
}`

type mapStore struct {
	mu     sync.Mutex
	values map[string]value.Value
}

func (s *mapStore) LoadValue(ctx context.Context, namespace, name string, kind value.Kind) (value.Value, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[namespace+"/"+name]
	return v, ok, nil
}

func (s *mapStore) SaveValue(ctx context.Context, namespace, name string, v value.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[namespace+"/"+name] = v
	return nil
}

func testOptions(t *testing.T) Options {
	t.Helper()
	validator, err := NewValidator()
	require.NoError(t, err)
	return Options{
		Env:       blocks.Env{Clock: clock.NewManual()},
		Validator: validator,
		Logger:    zap.NewNop(),
	}
}

func TestLoadAndExecuteLatch(t *testing.T) {
	p, err := Load(context.Background(), "latch", []byte(latchProgram), testOptions(t))
	require.NoError(t, err)

	assert.Equal(t, StateStopped, p.State())
	assert.Equal(t, int64(DefaultWatchdogMs), p.WatchdogMs())
	assert.Equal(t, []string{"OR", "NOT", "AND"}, p.BlockTypes())

	mem := p.Memory()
	steps := []struct {
		start, stop bool
		motor       bool
	}{
		{true, false, true},
		{false, false, true},
		{false, true, false},
		{false, false, false},
	}
	for i, s := range steps {
		require.NoError(t, mem.Set("start", value.Bool(s.start)))
		require.NoError(t, mem.Set("stop", value.Bool(s.stop)))
		p.Execute()
		assert.Equal(t, s.motor, mem.GetBool("motor", false), "step %d", i)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"invalid json", `{"memory": `},
		{"not an object", `[1, 2]`},
		{"unknown type", `{"memory": {"x": {"type": "word"}}}`},
		{"unknown block", `{"memory": {"x": {"type": "bool"}}, "logic": [{"block_type": "FLIPFLOP", "inputs": {"in": "x"}}]}`},
		{"undeclared variable", `{"memory": {"x": {"type": "bool"}}, "logic": [{"block_type": "NOT", "inputs": {"in": "x"}, "outputs": {"out": "y"}}]}`},
		{"bad init literal", `{"memory": {"n": {"type": "byte"}}, "init": [{"action": "set_value", "variable": "n", "value": 300}]}`},
		{"init on missing variable", `{"init": [{"action": "set_value", "variable": "n", "value": 1}]}`},
		{"io point without variable", `{"io_points": [{"variable": "x", "endpoint": "a.ble.b.c.bool", "direction": "input"}]}`},
		{"io point bad endpoint", `{"memory": {"x": {"type": "bool"}}, "io_points": [{"variable": "x", "endpoint": "a.b", "direction": "input"}]}`},
		{"io point bad direction", `{"memory": {"x": {"type": "bool"}}, "io_points": [{"variable": "x", "endpoint": "a.ble.b.c.bool", "direction": "both"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := Load(context.Background(), "bad", []byte(tt.doc), testOptions(t))
			require.Error(t, err)
			assert.Nil(t, p)
			assert.True(t, errors.Is(err, types.ErrInvalidConfig), "got %v", err)
		})
	}
}

func TestLoadRejectsOversize(t *testing.T) {
	opts := testOptions(t)
	opts.MaxSize = 32
	_, err := Load(context.Background(), "big", []byte(latchProgram), opts)
	assert.True(t, errors.Is(err, types.ErrInvalidConfig))

	_, err = Load(context.Background(), "", []byte(`{}`), testOptions(t))
	assert.True(t, errors.Is(err, types.ErrInvalidConfig))
}

func TestWatchdogClamp(t *testing.T) {
	tests := []struct {
		doc  string
		want int64
	}{
		{`{}`, DefaultWatchdogMs},
		{`{"watchdog_timeout_ms": 0}`, DefaultWatchdogMs},
		{`{"watchdog_timeout_ms": 3}`, MinWatchdogMs},
		{`{"watchdog_timeout_ms": 250}`, 250},
		{`{"watchdog_timeout_ms": 900000}`, MaxWatchdogMs},
	}
	for _, tt := range tests {
		p, err := Load(context.Background(), "wd", []byte(tt.doc), testOptions(t))
		require.NoError(t, err, tt.doc)
		assert.Equal(t, tt.want, p.WatchdogMs(), tt.doc)
	}
}

func TestLifecycleRunsInitOnlyFromStopped(t *testing.T) {
	doc := `{
	  "memory": {"speed": {"type": "int"}, "label": {"type": "string"}},
	  "init": [
	    {"action": "set_value", "variable": "speed", "value": 42},
	    {"action": "set_value", "variable": "label", "value": "ready"}
	  ]
	}`
	p, err := Load(context.Background(), "life", []byte(doc), testOptions(t))
	require.NoError(t, err)
	mem := p.Memory()

	assert.Error(t, p.Pause(), "pause from stopped")

	require.NoError(t, p.Run())
	assert.Equal(t, StateRunning, p.State())
	assert.Equal(t, int16(42), mem.GetInt("speed", 0))
	assert.Equal(t, "ready", mem.GetString("label", ""))

	require.NoError(t, mem.Set("speed", value.Int(7)))
	require.NoError(t, p.Run(), "run while running")
	require.NoError(t, p.Pause())
	require.NoError(t, p.Pause(), "pause while paused")
	require.NoError(t, p.Run())
	assert.Equal(t, int16(7), mem.GetInt("speed", 0), "resume must not rerun init")

	require.NoError(t, p.Stop())
	require.NoError(t, p.Stop(), "stop while stopped")
	require.NoError(t, p.Run())
	assert.Equal(t, int16(42), mem.GetInt("speed", 0))
}

func TestRetentiveRestoredOnLoad(t *testing.T) {
	store := &mapStore{values: map[string]value.Value{
		"counter/count": value.Int(17),
		"counter/other": value.Int(99),
	}}
	doc := `{"memory": {
	  "count": {"type": "int", "retentive": true},
	  "other": {"type": "int"}
	}}`

	opts := testOptions(t)
	opts.Store = store
	p, err := Load(context.Background(), "counter", []byte(doc), opts)
	require.NoError(t, err)

	assert.Equal(t, int16(17), p.Memory().GetInt("count", 0))
	assert.Equal(t, int16(0), p.Memory().GetInt("other", -1), "non-retentive variables start at zero")
}

func TestIOPointsBound(t *testing.T) {
	doc := `{
	  "memory": {"sensor": {"type": "bool"}, "door": {"type": "bool"}},
	  "io_points": [
	    {"variable": "sensor", "endpoint": "bedroom.ble.motion.state.bool", "direction": "Input"},
	    {"variable": "door", "endpoint": "garage.wifi.door.relay.bool", "direction": "OUTPUT",
	     "requires_function": true, "function_name": "open_door", "auto_sync": false}
	  ]
	}`
	p, err := Load(context.Background(), "garage", []byte(doc), testOptions(t))
	require.NoError(t, err)

	points := p.IOPoints()
	require.Len(t, points, 2)
	assert.Equal(t, registry.IOPoint{
		PLCVarName:   "sensor",
		Endpoint:     "bedroom.ble.motion.state.bool",
		Direction:    registry.DirectionInput,
		AutoSync:     true,
		OwnerProgram: "garage",
	}, points[0])
	assert.Equal(t, registry.DirectionOutput, points[1].Direction)
	assert.True(t, points[1].RequiresFunction)
	assert.False(t, points[1].AutoSync)
	assert.Equal(t, "open_door", points[1].FunctionName)
}

func TestRecordScan(t *testing.T) {
	p, err := Load(context.Background(), "wd", []byte(`{"watchdog_timeout_ms": 20}`), testOptions(t))
	require.NoError(t, err)

	exceeded, n := p.RecordScan(5 * time.Millisecond)
	assert.False(t, exceeded)
	assert.Zero(t, n)

	exceeded, n = p.RecordScan(25 * time.Millisecond)
	assert.True(t, exceeded)
	assert.Equal(t, 1, n)
	_, n = p.RecordScan(30 * time.Millisecond)
	assert.Equal(t, 2, n)

	info := p.Info()
	assert.Equal(t, uint64(3), info.Scans)
	assert.Equal(t, uint64(2), info.Overruns)
	assert.Equal(t, int64(30000), info.MaxScanUs)
}

func TestConfigIsCompacted(t *testing.T) {
	p, err := Load(context.Background(), "c", []byte("{\n  \"memory\": {}\n}"), testOptions(t))
	require.NoError(t, err)
	assert.False(t, strings.ContainsAny(string(p.Config()), "\n "))
}

func TestValidateTransition(t *testing.T) {
	assert.NoError(t, ValidateTransition(StateStopped, StateRunning))
	assert.NoError(t, ValidateTransition(StatePaused, StateStopped))
	err := ValidateTransition(StateStopped, StatePaused)
	assert.True(t, errors.Is(err, types.ErrInvalidState))
	assert.Equal(t, "RUNNING", StateRunning.String())
}
