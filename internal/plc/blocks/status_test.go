package blocks

import (
	"testing"
	"time"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusHandlerEdges(t *testing.T) {
	const endpoint = "garage.mesh.node1.gpio.bool"
	status := fakeStatus{endpoint: true}

	h := newHarness(t, map[string]value.Kind{
		"ep": value.KindString, "online": value.KindBool, "up": value.KindBool, "down": value.KindBool,
	})
	h.env.Status = status
	blk := h.build(`{"block_type":"STATUS_HANDLER","inputs":{"endpoint_name":"ep"},` +
		`"outputs":{"is_online":"online","on_online":"up","on_offline":"down"}}`)
	h.set("ep", value.String(endpoint))

	read := func() [3]bool {
		return [3]bool{h.mem.GetBool("online", false), h.mem.GetBool("up", false), h.mem.GetBool("down", false)}
	}

	blk.Evaluate(h.mem)
	assert.Equal(t, [3]bool{true, false, false}, read(), "first scan captures state without pulses")

	status[endpoint] = false
	blk.Evaluate(h.mem)
	assert.Equal(t, [3]bool{false, false, true}, read())

	blk.Evaluate(h.mem)
	assert.Equal(t, [3]bool{false, false, false}, read())

	status[endpoint] = true
	blk.Evaluate(h.mem)
	assert.Equal(t, [3]bool{true, true, false}, read())

	blk.Evaluate(h.mem)
	assert.Equal(t, [3]bool{true, false, false}, read())
}

func TestStatusHandlerUnknownEndpointReadsOffline(t *testing.T) {
	h := newHarness(t, map[string]value.Kind{"online": value.KindBool})
	h.env.Status = fakeStatus{}
	blk := h.build(`{"block_type":"StatusHandler","inputs":{"endpoint":"x.mesh.y.z.bool"},"outputs":{"is_online":"online"}}`)

	require.NoError(t, h.mem.Set("online", value.Bool(true)))
	blk.Evaluate(h.mem)
	assert.False(t, h.mem.GetBool("online", true))
}

func TestStatusHandlerNeedsSource(t *testing.T) {
	h := newHarness(t, map[string]value.Kind{"online": value.KindBool})
	_, err := h.try(`{"block_type":"STATUS_HANDLER","inputs":{"endpoint":"x.mesh.y.z.bool"},"outputs":{"is_online":"online"}}`)
	assert.Error(t, err)
}

func TestCallFunctionQueuesOnRisingEdge(t *testing.T) {
	h := newHarness(t, map[string]value.Kind{"open": value.KindBool, "target": value.KindBool})
	blk := h.build(`{"block_type":"CALL_FUNCTION","function":"open_door","inputs":{"trigger":"open","value":"target"}}`)

	blk.Evaluate(h.mem)
	assert.Empty(t, h.env.Calls.Drain())

	h.setBool("target", true)
	h.setBool("open", true)
	blk.Evaluate(h.mem)
	blk.Evaluate(h.mem)

	calls := h.env.Calls.Drain()
	require.Len(t, calls, 1)
	assert.Equal(t, "open_door", calls[0].Function)
	assert.Equal(t, value.Bool(true), calls[0].Value)
	assert.Empty(t, h.env.Calls.Drain())

	_, err := h.try(`{"block_type":"CALL_FUNCTION","inputs":{"trigger":"open"}}`)
	assert.Error(t, err)
}

func TestTimeCompare(t *testing.T) {
	h := newHarness(t, map[string]value.Kind{"out": value.KindBool})
	blk := h.build(`{"block_type":"TIME_COMPARE","time":{"hour":6,"minute":30,"second":0},"outputs":{"out":"out"}}`)

	at := time.Date(2025, 5, 1, 6, 30, 0, 0, time.UTC)
	blk.Evaluate(h.mem)
	assert.False(t, h.mem.GetBool("out", true), "unsynchronized clock is false")

	h.clock.SetWall(at)
	blk.Evaluate(h.mem)
	assert.True(t, h.mem.GetBool("out", false))

	h.clock.SetWall(at.Add(time.Second))
	blk.Evaluate(h.mem)
	assert.False(t, h.mem.GetBool("out", true))

	h.clock.SetWall(at)
	h.clock.Unsync()
	blk.Evaluate(h.mem)
	assert.False(t, h.mem.GetBool("out", true))

	_, err := h.try(`{"block_type":"TIME_COMPARE","time":{"hour":25},"outputs":{"out":"out"}}`)
	assert.Error(t, err)
}
