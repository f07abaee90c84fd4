package iosync

import (
	"sync"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/blocks"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/registry"
	"go.uber.org/zap"
)

// Syncer copies values between program memory and registry endpoints
// according to the I/O points each program owns.
type Syncer struct {
	registry *registry.Registry
	logger   *zap.Logger

	mu         sync.Mutex
	mismatched map[string]bool
	stats      Stats
}

// Stats counts sync outcomes since start.
type Stats struct {
	Reads          uint64 `json:"reads"`
	Writes         uint64 `json:"writes"`
	CallsDelivered uint64 `json:"calls_delivered"`
	OfflineSkips   uint64 `json:"offline_skips"`
	TypeMismatches uint64 `json:"type_mismatches"`
}

func NewSyncer(reg *registry.Registry, logger *zap.Logger) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{
		registry:   reg,
		logger:     logger,
		mismatched: make(map[string]bool),
	}
}

// SyncInputs runs the READ phase for one program: every auto-synced INPUT
// point whose endpoint is online is copied into its variable.
func (s *Syncer) SyncInputs(owner string, mem *memory.Memory) {
	for _, p := range s.registry.IOPointsByOwner(owner) {
		if p.Direction != registry.DirectionInput || !p.AutoSync {
			continue
		}

		ep, ok := s.online(p)
		if !ok {
			continue
		}
		variable, declared := mem.Lookup(p.PLCVarName)
		if !declared {
			continue
		}
		if !s.kindsMatch(p, variable.Kind, ep.DataType) {
			continue
		}

		if err := mem.Set(p.PLCVarName, ep.Value); err != nil {
			s.logger.Warn("Failed to copy input",
				zap.String("program", owner),
				zap.String("variable", p.PLCVarName),
				zap.Error(err))
			continue
		}
		s.count(func(st *Stats) { st.Reads++ })
	}
}

// SyncOutputs runs the WRITE phase for one program. Auto-synced OUTPUT points
// without a function gate receive their variable's value; function-gated
// points are only driven by the calls raised during the scan.
func (s *Syncer) SyncOutputs(owner string, mem *memory.Memory, calls []blocks.FunctionCall) {
	points := s.registry.IOPointsByOwner(owner)

	for _, p := range points {
		if p.Direction != registry.DirectionOutput || !p.AutoSync || p.RequiresFunction {
			continue
		}

		ep, ok := s.online(p)
		if !ok {
			continue
		}
		variable, declared := mem.Lookup(p.PLCVarName)
		if !declared {
			continue
		}
		if !s.kindsMatch(p, variable.Kind, ep.DataType) {
			continue
		}
		if ep.Value.Equal(variable.Value) {
			continue
		}

		if err := s.registry.WriteEndpointValue(p.Endpoint, variable.Value); err != nil {
			s.logger.Warn("Failed to write output",
				zap.String("program", owner),
				zap.String("endpoint", p.Endpoint),
				zap.Error(err))
			continue
		}
		s.count(func(st *Stats) { st.Writes++ })
	}

	for _, call := range calls {
		s.deliver(owner, points, call)
	}
}

func (s *Syncer) deliver(owner string, points []registry.IOPoint, call blocks.FunctionCall) {
	delivered := false
	for _, p := range points {
		if p.Direction != registry.DirectionOutput || !p.RequiresFunction || p.FunctionName != call.Function {
			continue
		}

		ep, ok := s.online(p)
		if !ok {
			continue
		}
		v, err := value.Coerce(call.Value, ep.DataType)
		if err != nil {
			if f, numeric := call.Value.Float64(); numeric && ep.DataType.Numeric() {
				v, err = value.FromFloat(f, ep.DataType)
			}
		}
		if err != nil {
			s.logger.Warn("Function call value does not fit endpoint",
				zap.String("program", owner),
				zap.String("function", call.Function),
				zap.String("endpoint", p.Endpoint),
				zap.Error(err))
			continue
		}

		if err := s.registry.WriteEndpointValue(p.Endpoint, v); err != nil {
			s.logger.Warn("Failed to deliver function call",
				zap.String("function", call.Function),
				zap.String("endpoint", p.Endpoint),
				zap.Error(err))
			continue
		}
		delivered = true
		s.count(func(st *Stats) { st.CallsDelivered++ })
	}

	if !delivered {
		s.logger.Debug("Function call had no online target",
			zap.String("program", owner),
			zap.String("function", call.Function))
	}
}

// online resolves the endpoint of p, skipping missing and offline ones.
func (s *Syncer) online(p registry.IOPoint) (registry.Endpoint, bool) {
	ep, found := s.registry.Endpoint(p.Endpoint)
	if !found || !ep.Online {
		s.count(func(st *Stats) { st.OfflineSkips++ })
		s.logger.Debug("Endpoint offline, skipping",
			zap.String("variable", p.PLCVarName),
			zap.String("endpoint", p.Endpoint),
			zap.Bool("found", found))
		return registry.Endpoint{}, false
	}
	return ep, true
}

// kindsMatch logs a mismatch once per binding until it clears.
func (s *Syncer) kindsMatch(p registry.IOPoint, varKind, epKind value.Kind) bool {
	key := p.OwnerProgram + "/" + p.PLCVarName

	s.mu.Lock()
	defer s.mu.Unlock()

	if varKind == epKind {
		delete(s.mismatched, key)
		return true
	}

	s.stats.TypeMismatches++
	if !s.mismatched[key] {
		s.mismatched[key] = true
		s.logger.Warn("IO point type mismatch, skipping",
			zap.String("program", p.OwnerProgram),
			zap.String("variable", p.PLCVarName),
			zap.String("variable_type", varKind.String()),
			zap.String("endpoint", p.Endpoint),
			zap.String("endpoint_type", epKind.String()))
	}
	return false
}

func (s *Syncer) count(fn func(*Stats)) {
	s.mu.Lock()
	fn(&s.stats)
	s.mu.Unlock()
}

func (s *Syncer) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}
