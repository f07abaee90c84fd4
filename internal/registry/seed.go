package registry

import (
	"fmt"
	"os"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"gopkg.in/yaml.v3"
)

// Seed is the on-disk description of devices, endpoints and I/O points that
// exist before any driver reports in. YAML and JSON files are both accepted.
type Seed struct {
	Devices   []SeedDevice   `yaml:"devices"`
	Endpoints []SeedEndpoint `yaml:"endpoints"`
	IOPoints  []SeedIOPoint  `yaml:"io_points"`
}

type SeedDevice struct {
	ID                 string `yaml:"id"`
	Protocol           string `yaml:"protocol"`
	OfflineThresholdMs int64  `yaml:"offline_threshold_ms"`
}

type SeedEndpoint struct {
	Name         string `yaml:"name"`
	Writable     bool   `yaml:"writable"`
	Online       bool   `yaml:"online"`
	Value        any    `yaml:"value"`
	PublishTopic string `yaml:"publish_topic"`
}

// SeedIOPoint is an I/O point as written in a seed file. auto_sync defaults
// to true, and direction is matched without regard to case.
type SeedIOPoint struct {
	Variable         string `yaml:"variable"`
	Endpoint         string `yaml:"endpoint"`
	Direction        string `yaml:"direction"`
	RequiresFunction bool   `yaml:"requires_function"`
	FunctionName     string `yaml:"function_name"`
	AutoSync         *bool  `yaml:"auto_sync"`
	Owner            string `yaml:"owner"`
}

func (s SeedIOPoint) ioPoint() (IOPoint, error) {
	direction, ok := ParseDirection(s.Direction)
	if !ok {
		return IOPoint{}, fmt.Errorf("io point %s has invalid direction %q: %w",
			s.Variable, s.Direction, types.ErrInvalidConfig)
	}
	autoSync := true
	if s.AutoSync != nil {
		autoSync = *s.AutoSync
	}
	return IOPoint{
		PLCVarName:       s.Variable,
		Endpoint:         s.Endpoint,
		Direction:        direction,
		RequiresFunction: s.RequiresFunction,
		FunctionName:     s.FunctionName,
		AutoSync:         autoSync,
		OwnerProgram:     s.Owner,
	}, nil
}

// LoadSeedFile reads a seed file and applies it to the registry.
func (r *Registry) LoadSeedFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read registry seed: %w", err)
	}
	return r.LoadSeed(data)
}

// LoadSeed applies a YAML or JSON seed document. Devices go first so their
// endpoint lists pick up the endpoints that follow.
func (r *Registry) LoadSeed(data []byte) error {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return fmt.Errorf("failed to parse registry seed: %w", err)
	}

	for _, d := range seed.Devices {
		dev := Device{
			DeviceID:           d.ID,
			OfflineThresholdMs: d.OfflineThresholdMs,
		}
		if d.Protocol != "" {
			dev.Protocol = ParseProtocol(d.Protocol)
		}
		if err := r.RegisterDevice(dev); err != nil {
			return err
		}
	}

	for _, e := range seed.Endpoints {
		ep := Endpoint{
			FullName:     e.Name,
			Writable:     e.Writable,
			Online:       e.Online,
			PublishTopic: e.PublishTopic,
		}
		if e.Value != nil {
			name, err := ParseName(e.Name)
			if err != nil {
				return err
			}
			kind, err := value.ParseKind(name.DataType)
			if err != nil {
				return err
			}
			v, err := value.Literal(e.Value, kind)
			if err != nil {
				return fmt.Errorf("endpoint %s: %w", e.Name, err)
			}
			ep.Value = v
		}
		if err := r.RegisterEndpoint(ep); err != nil {
			return err
		}
	}

	for _, sp := range seed.IOPoints {
		p, err := sp.ioPoint()
		if err != nil {
			return err
		}
		if err := r.RegisterIOPoint(p); err != nil {
			return err
		}
	}

	r.logger.Info("Registry seed loaded")
	return nil
}
