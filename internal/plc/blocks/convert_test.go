package blocks

import (
	"testing"
	"time"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/stretchr/testify/assert"
)

func TestPackBits(t *testing.T) {
	h := newHarness(t, map[string]value.Kind{
		"b0": value.KindBool, "b1": value.KindBool, "b2": value.KindBool, "out": value.KindByte,
	})
	blk := h.build(`{"block_type":"BOOL_ARRAY_TO_INT8","inputs":{"bits":["b0","b1","b2"]},"outputs":{"out":"out"}}`)

	h.setBool("b0", true)
	h.setBool("b2", true)
	blk.Evaluate(h.mem)
	assert.Equal(t, uint8(5), h.mem.GetByte("out", 0))

	_, err := h.try(`{"block_type":"BOOL_ARRAY_TO_INT8","inputs":{"bits":["b0","b0","b0","b0","b0","b0","b0","b0","b0"]},"outputs":{"out":"out"}}`)
	assert.Error(t, err)
}

func TestIntegerReinterpretation(t *testing.T) {
	tests := []struct {
		blockType string
		in        value.Value
		outKind   value.Kind
		want      value.Value
	}{
		{"INT8_TO_INT16", value.Byte(200), value.KindInt, value.Int(-56)},
		{"INT8_TO_UINT8", value.Int(-56), value.KindByte, value.Byte(200)},
		{"INT16_TO_UINT16", value.Int(-1), value.KindDInt, value.DInt(65535)},
		{"INT16_TO_FLOAT", value.Int(-300), value.KindReal, value.Real(-300)},
		{"INT32_TO_DOUBLE", value.DInt(4294967295), value.KindReal, value.Real(-1)},
	}

	for _, tt := range tests {
		t.Run(tt.blockType, func(t *testing.T) {
			h := newHarness(t, map[string]value.Kind{"in": tt.in.Kind(), "out": tt.outKind})
			blk := h.build(`{"block_type":"` + tt.blockType + `","inputs":{"in":"in"},"outputs":{"out":"out"}}`)
			h.set("in", tt.in)
			blk.Evaluate(h.mem)
			v, _ := h.mem.Lookup("out")
			assert.Equal(t, tt.want, v.Value)
		})
	}
}

func TestTimeParts(t *testing.T) {
	h := newHarness(t, map[string]value.Kind{
		"ts": value.KindDInt, "h": value.KindInt, "m": value.KindInt, "s": value.KindInt,
		"y": value.KindInt, "wd": value.KindByte,
	})
	blk := h.build(`{"block_type":"INT32_TO_TIME","inputs":{"in":"ts"},` +
		`"outputs":{"hour":"h","minute":"m","second":"s","year":"y","weekday":"wd"}}`)

	ts := time.Date(2024, time.March, 9, 17, 45, 30, 0, time.UTC).Unix()
	h.set("ts", value.DInt(uint32(ts)))
	blk.Evaluate(h.mem)

	assert.Equal(t, int16(17), h.mem.GetInt("h", 0))
	assert.Equal(t, int16(45), h.mem.GetInt("m", 0))
	assert.Equal(t, int16(30), h.mem.GetInt("s", 0))
	assert.Equal(t, int16(2024), h.mem.GetInt("y", 0))
	assert.Equal(t, uint8(time.Saturday), h.mem.GetByte("wd", 0))
}
