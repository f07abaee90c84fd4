package iosync

import (
	"testing"

	"github.com/KevinKickass/OpenSoftPLC/internal/clock"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/blocks"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	motion = "bedroom.ble.motion.state.bool"
	door   = "garage.wifi.door.relay.bool"
	level  = "tank.modbus.plc1.level.int"
)

type fixture struct {
	reg    *registry.Registry
	syncer *Syncer
	mem    *memory.Memory
}

func newFixture(t *testing.T, vars map[string]value.Kind) *fixture {
	t.Helper()
	reg := registry.New(clock.NewManual(), zap.NewNop())
	mem := memory.New("main", nil, zap.NewNop())
	for name, kind := range vars {
		require.NoError(t, mem.Declare(name, kind, false, ""))
	}
	return &fixture{reg: reg, syncer: NewSyncer(reg, zap.NewNop()), mem: mem}
}

func (f *fixture) endpoint(t *testing.T, name string, v value.Value, online bool) {
	t.Helper()
	require.NoError(t, f.reg.RegisterEndpoint(registry.Endpoint{
		FullName: name,
		Value:    v,
		Online:   online,
		Writable: true,
	}))
}

func (f *fixture) bind(t *testing.T, p registry.IOPoint) {
	t.Helper()
	if p.OwnerProgram == "" {
		p.OwnerProgram = "main"
	}
	require.NoError(t, f.reg.RegisterIOPoint(p))
}

func TestInputSyncSkipsOffline(t *testing.T) {
	f := newFixture(t, map[string]value.Kind{"sensor": value.KindBool})
	f.endpoint(t, motion, value.Bool(true), true)
	f.bind(t, registry.IOPoint{PLCVarName: "sensor", Endpoint: motion, Direction: registry.DirectionInput, AutoSync: true})

	f.syncer.SyncInputs("main", f.mem)
	assert.True(t, f.mem.GetBool("sensor", false))

	require.NoError(t, f.reg.UpdateEndpointStatus(motion, false))
	require.NoError(t, f.reg.UpdateEndpointValue(motion, value.Bool(false)))

	f.syncer.SyncInputs("main", f.mem)
	assert.True(t, f.mem.GetBool("sensor", false), "offline endpoint must not be read")
	assert.Equal(t, uint64(1), f.syncer.Stats().Reads)
	assert.Equal(t, uint64(1), f.syncer.Stats().OfflineSkips)
}

func TestInputSyncRules(t *testing.T) {
	tests := []struct {
		name  string
		point registry.IOPoint
		want  int16
	}{
		{
			name:  "copies matching kind",
			point: registry.IOPoint{PLCVarName: "level", Endpoint: level, Direction: registry.DirectionInput, AutoSync: true},
			want:  250,
		},
		{
			name:  "auto sync off",
			point: registry.IOPoint{PLCVarName: "level", Endpoint: level, Direction: registry.DirectionInput},
			want:  0,
		},
		{
			name:  "other owner",
			point: registry.IOPoint{PLCVarName: "level", Endpoint: level, Direction: registry.DirectionInput, AutoSync: true, OwnerProgram: "other"},
			want:  0,
		},
		{
			name:  "missing endpoint",
			point: registry.IOPoint{PLCVarName: "level", Endpoint: "tank.modbus.plc1.gone.int", Direction: registry.DirectionInput, AutoSync: true},
			want:  0,
		},
		{
			name:  "output points are not read",
			point: registry.IOPoint{PLCVarName: "level", Endpoint: level, Direction: registry.DirectionOutput, AutoSync: true},
			want:  0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, map[string]value.Kind{"level": value.KindInt})
			f.endpoint(t, level, value.Int(250), true)
			f.bind(t, tt.point)

			f.syncer.SyncInputs("main", f.mem)
			assert.Equal(t, tt.want, f.mem.GetInt("level", -1))
		})
	}
}

func TestInputSyncTypeMismatch(t *testing.T) {
	f := newFixture(t, map[string]value.Kind{"flag": value.KindBool})
	f.endpoint(t, level, value.Int(1), true)
	f.bind(t, registry.IOPoint{PLCVarName: "flag", Endpoint: level, Direction: registry.DirectionInput, AutoSync: true})

	f.syncer.SyncInputs("main", f.mem)
	f.syncer.SyncInputs("main", f.mem)

	assert.False(t, f.mem.GetBool("flag", true))
	assert.Equal(t, uint64(2), f.syncer.Stats().TypeMismatches)
	assert.Zero(t, f.syncer.Stats().Reads)
}

func TestOutputSync(t *testing.T) {
	f := newFixture(t, map[string]value.Kind{"lamp": value.KindBool})
	f.endpoint(t, door, value.Bool(false), true)
	f.bind(t, registry.IOPoint{PLCVarName: "lamp", Endpoint: door, Direction: registry.DirectionOutput, AutoSync: true})

	var writes []value.Value
	f.reg.OnValueChange(func(name string, v value.Value) { writes = append(writes, v) })

	require.NoError(t, f.mem.Set("lamp", value.Bool(true)))
	f.syncer.SyncOutputs("main", f.mem, nil)
	f.syncer.SyncOutputs("main", f.mem, nil)

	ep, _ := f.reg.Endpoint(door)
	assert.True(t, ep.Value.Bool())
	assert.Len(t, writes, 1, "unchanged values are not rewritten")

	require.NoError(t, f.reg.UpdateEndpointStatus(door, false))
	require.NoError(t, f.mem.Set("lamp", value.Bool(false)))
	f.syncer.SyncOutputs("main", f.mem, nil)
	ep, _ = f.reg.Endpoint(door)
	assert.True(t, ep.Value.Bool(), "offline endpoint must not be written")
}

func TestFunctionGatedOutput(t *testing.T) {
	f := newFixture(t, map[string]value.Kind{"door": value.KindBool})
	require.NoError(t, f.mem.Set("door", value.Bool(true)))
	f.endpoint(t, door, value.Bool(false), true)
	f.bind(t, registry.IOPoint{
		PLCVarName:       "door",
		Endpoint:         door,
		Direction:        registry.DirectionOutput,
		AutoSync:         true,
		RequiresFunction: true,
		FunctionName:     "open_door",
	})

	for i := 0; i < 5; i++ {
		f.syncer.SyncOutputs("main", f.mem, nil)
	}
	ep, _ := f.reg.Endpoint(door)
	assert.False(t, ep.Value.Bool(), "passive sync must never drive a gated output")

	f.syncer.SyncOutputs("main", f.mem, []blocks.FunctionCall{{Function: "close_door", Value: value.Bool(true)}})
	ep, _ = f.reg.Endpoint(door)
	assert.False(t, ep.Value.Bool(), "call for another function")

	f.syncer.SyncOutputs("main", f.mem, []blocks.FunctionCall{{Function: "open_door", Value: value.Bool(true)}})
	ep, _ = f.reg.Endpoint(door)
	assert.True(t, ep.Value.Bool())
	assert.Equal(t, uint64(1), f.syncer.Stats().CallsDelivered)
}

func TestFunctionCallConvertsNumbers(t *testing.T) {
	f := newFixture(t, nil)
	f.endpoint(t, level, value.Int(0), true)
	f.bind(t, registry.IOPoint{
		PLCVarName:       "setpoint",
		Endpoint:         level,
		Direction:        registry.DirectionOutput,
		AutoSync:         true,
		RequiresFunction: true,
		FunctionName:     "set_level",
	})

	f.syncer.SyncOutputs("main", f.mem, []blocks.FunctionCall{{Function: "set_level", Value: value.Real(42.7)}})
	ep, _ := f.reg.Endpoint(level)
	assert.Equal(t, int16(42), ep.Value.Int())
}
