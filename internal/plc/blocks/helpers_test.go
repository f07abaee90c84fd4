package blocks

import (
	"encoding/json"
	"testing"

	"github.com/KevinKickass/OpenSoftPLC/internal/clock"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStatus map[string]bool

func (f fakeStatus) EndpointOnline(name string) (bool, bool) {
	online, ok := f[name]
	return online, ok
}

type harness struct {
	t     *testing.T
	mem   *memory.Memory
	clock *clock.Manual
	env   Env
}

func newHarness(t *testing.T, vars map[string]value.Kind) *harness {
	t.Helper()
	mem := memory.New("test", nil, zap.NewNop())
	for name, kind := range vars {
		require.NoError(t, mem.Declare(name, kind, false, ""))
	}
	clk := clock.NewManual()
	return &harness{
		t:     t,
		mem:   mem,
		clock: clk,
		env:   Env{Clock: clk, Calls: NewCallQueue()},
	}
}

func (h *harness) build(specJSON string) Block {
	h.t.Helper()
	b, err := h.try(specJSON)
	require.NoError(h.t, err)
	return b
}

func (h *harness) try(specJSON string) (Block, error) {
	var spec Spec
	if err := json.Unmarshal([]byte(specJSON), &spec); err != nil {
		return nil, err
	}
	b, err := New(spec.Type, h.env)
	if err != nil {
		return nil, err
	}
	if err := b.Configure(spec, h.mem); err != nil {
		return nil, err
	}
	return b, nil
}

func (h *harness) setBool(name string, v bool) {
	h.t.Helper()
	require.NoError(h.t, h.mem.Set(name, value.Bool(v)))
}

func (h *harness) set(name string, v value.Value) {
	h.t.Helper()
	require.NoError(h.t, h.mem.Set(name, v))
}
