package blocks

import (
	"encoding/json"
	"fmt"

	"github.com/KevinKickass/OpenSoftPLC/internal/clock"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
)

type timeOfDay struct {
	Hour   int `json:"hour"`
	Minute int `json:"minute"`
	Second int `json:"second"`
}

// timeCompare is true during the wall-clock second matching its configured
// time. An unsynchronized wall clock always yields false.
type timeCompare struct {
	clock clock.Clock
	at    timeOfDay
	out   string
}

func (b *timeCompare) Configure(spec Spec, mem *memory.Memory) error {
	raw, ok := spec.Param("time")
	if !ok {
		return fmt.Errorf("%s: missing time: %w", spec.Type, types.ErrInvalidConfig)
	}
	if err := json.Unmarshal(raw, &b.at); err != nil {
		return fmt.Errorf("%s: invalid time: %v: %w", spec.Type, err, types.ErrInvalidConfig)
	}
	if b.at.Hour < 0 || b.at.Hour > 23 || b.at.Minute < 0 || b.at.Minute > 59 || b.at.Second < 0 || b.at.Second > 59 {
		return fmt.Errorf("%s: time %02d:%02d:%02d out of range: %w",
			spec.Type, b.at.Hour, b.at.Minute, b.at.Second, types.ErrInvalidConfig)
	}

	var err error
	b.out, err = output(spec, "out", mem)
	return err
}

func (b *timeCompare) Evaluate(mem *memory.Memory) {
	now, synced := b.clock.Wall()
	match := synced &&
		now.Hour() == b.at.Hour &&
		now.Minute() == b.at.Minute &&
		now.Second() == b.at.Second
	setBool(mem, b.out, match)
}
