package blocks

import (
	"testing"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/stretchr/testify/assert"
)

var counterVars = map[string]value.Kind{
	"cu": value.KindBool, "cd": value.KindBool, "reset": value.KindBool, "load": value.KindBool,
	"q": value.KindBool, "qu": value.KindBool, "qd": value.KindBool,
	"cv": value.KindInt, "pv": value.KindInt,
}

func TestCTU(t *testing.T) {
	h := newHarness(t, counterVars)
	b := h.build(`{"block_type":"CTU","inputs":{"cu":"cu","reset":"reset","pv":3},"outputs":{"q":"q","cv":"cv"}}`)

	b.Evaluate(h.mem)
	assert.Equal(t, int16(0), h.mem.GetInt("cv", -1))
	assert.False(t, h.mem.GetBool("q", true))

	wantCV := []int16{1, 2, 3, 4}
	wantQ := []bool{false, false, true, true}
	for i := range wantCV {
		h.setBool("cu", true)
		b.Evaluate(h.mem)
		b.Evaluate(h.mem)
		assert.Equal(t, wantCV[i], h.mem.GetInt("cv", -1), "edge %d", i+1)
		assert.Equal(t, wantQ[i], h.mem.GetBool("q", !wantQ[i]), "edge %d", i+1)

		h.setBool("cu", false)
		b.Evaluate(h.mem)
	}

	h.setBool("reset", true)
	h.setBool("cu", true)
	b.Evaluate(h.mem)
	assert.Equal(t, int16(0), h.mem.GetInt("cv", -1))
	assert.False(t, h.mem.GetBool("q", true))
}

func TestCTD(t *testing.T) {
	h := newHarness(t, counterVars)
	b := h.build(`{"block_type":"CTD","inputs":{"cd":"cd","load":"load","pv":"pv"},"outputs":{"q":"q","cv":"cv"}}`)
	h.set("pv", value.Int(2))

	h.setBool("load", true)
	b.Evaluate(h.mem)
	assert.Equal(t, int16(2), h.mem.GetInt("cv", -1))
	assert.False(t, h.mem.GetBool("q", true))
	h.setBool("load", false)

	for _, want := range []int16{1, 0, 0} {
		h.setBool("cd", true)
		b.Evaluate(h.mem)
		assert.Equal(t, want, h.mem.GetInt("cv", -1))
		h.setBool("cd", false)
		b.Evaluate(h.mem)
	}
	assert.True(t, h.mem.GetBool("q", false))
}

func TestCTUD(t *testing.T) {
	h := newHarness(t, counterVars)
	b := h.build(`{"block_type":"CTUD","inputs":{"cu":"cu","cd":"cd","reset":"reset","load":"load","pv":2},` +
		`"outputs":{"qu":"qu","qd":"qd","cv":"cv"}}`)

	pulse := func(name string) {
		h.setBool(name, true)
		b.Evaluate(h.mem)
		h.setBool(name, false)
		b.Evaluate(h.mem)
	}

	pulse("cu")
	pulse("cu")
	assert.Equal(t, int16(2), h.mem.GetInt("cv", -1))
	assert.True(t, h.mem.GetBool("qu", false))
	assert.False(t, h.mem.GetBool("qd", true))

	pulse("cd")
	assert.Equal(t, int16(1), h.mem.GetInt("cv", -1))
	assert.False(t, h.mem.GetBool("qu", true))

	h.setBool("cu", true)
	h.setBool("cd", true)
	b.Evaluate(h.mem)
	assert.Equal(t, int16(1), h.mem.GetInt("cv", -1), "simultaneous edges cancel")
	h.setBool("cu", false)
	h.setBool("cd", false)

	h.setBool("load", true)
	h.setBool("cu", true)
	b.Evaluate(h.mem)
	assert.Equal(t, int16(2), h.mem.GetInt("cv", -1), "load beats counting")

	h.setBool("reset", true)
	b.Evaluate(h.mem)
	assert.Equal(t, int16(0), h.mem.GetInt("cv", -1), "reset beats load")
	assert.True(t, h.mem.GetBool("qd", false))
}

func TestCounterKeepsForcedValue(t *testing.T) {
	h := newHarness(t, counterVars)
	b := h.build(`{"block_type":"CTU","inputs":{"cu":"cu","pv":10},"outputs":{"cv":"cv"}}`)

	h.set("cv", value.Int(7))
	h.setBool("cu", true)
	b.Evaluate(h.mem)
	assert.Equal(t, int16(8), h.mem.GetInt("cv", -1))
}
