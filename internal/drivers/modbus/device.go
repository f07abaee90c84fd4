package modbus

import (
	"context"
	"fmt"
	"math"

	"github.com/KevinKickass/OpenSoftPLC/internal/config"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/registry"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
)

// Register is one holding register (or register pair) exposed as an endpoint.
type Register struct {
	Name     string
	Address  uint16
	Kind     value.Kind
	Writable bool
	Scale    float64
	Endpoint string
}

// quantity is the number of 16-bit registers the kind occupies.
func (r *Register) quantity() uint16 {
	switch r.Kind {
	case value.KindDInt, value.KindReal:
		return 2
	default:
		return 1
	}
}

func (r *Register) scale() float64 {
	if r.Scale == 0 {
		return 1
	}
	return r.Scale
}

// Decode turns raw registers into a value. DINT and REAL are big-endian
// word order; INT is signed.
func (r *Register) Decode(regs []uint16) (value.Value, error) {
	if len(regs) < int(r.quantity()) {
		return value.Value{}, fmt.Errorf("register %s: need %d words, got %d", r.Name, r.quantity(), len(regs))
	}

	var raw float64
	switch r.Kind {
	case value.KindBool:
		return value.Bool(regs[0] != 0), nil
	case value.KindByte:
		raw = float64(regs[0] & 0xFF)
	case value.KindInt:
		raw = float64(int16(regs[0]))
	case value.KindDInt:
		raw = float64(uint32(regs[0])<<16 | uint32(regs[1]))
	case value.KindReal:
		raw = float64(math.Float32frombits(uint32(regs[0])<<16 | uint32(regs[1])))
	default:
		return value.Value{}, fmt.Errorf("register %s: %s not supported: %w", r.Name, r.Kind, types.ErrTypeMismatch)
	}

	if r.Scale != 0 && r.Scale != 1 {
		raw *= r.Scale
	}
	return value.FromFloat(raw, r.Kind)
}

// Encode is the inverse of Decode.
func (r *Register) Encode(v value.Value) ([]uint16, error) {
	f, ok := v.Float64()
	if !ok {
		return nil, fmt.Errorf("register %s: cannot write %s: %w", r.Name, v.Kind(), types.ErrTypeMismatch)
	}
	if r.Kind != value.KindBool {
		f /= r.scale()
	}

	switch r.Kind {
	case value.KindBool:
		if f != 0 {
			return []uint16{1}, nil
		}
		return []uint16{0}, nil
	case value.KindByte:
		return []uint16{uint16(clampRound(f, 0, math.MaxUint8))}, nil
	case value.KindInt:
		return []uint16{uint16(int16(clampRound(f, math.MinInt16, math.MaxInt16)))}, nil
	case value.KindDInt:
		n := uint32(clampRound(f, 0, math.MaxUint32))
		return []uint16{uint16(n >> 16), uint16(n)}, nil
	case value.KindReal:
		bits := math.Float32bits(float32(f))
		return []uint16{uint16(bits >> 16), uint16(bits)}, nil
	default:
		return nil, fmt.Errorf("register %s: %s not supported: %w", r.Name, r.Kind, types.ErrTypeMismatch)
	}
}

func clampRound(f, lo, hi float64) float64 {
	f = math.Round(f)
	if f < lo {
		return lo
	}
	if f > hi {
		return hi
	}
	return f
}

// Device is one Modbus TCP slave and the registers polled from it.
type Device struct {
	Name      string
	Location  string
	UnitID    uint8
	Client    *Client
	Registers []*Register

	byEndpoint map[string]*Register
}

// NewDevice builds the device and the endpoint names of its registers.
func NewDevice(cfg config.ModbusDeviceConfig, client *Client) (*Device, error) {
	if cfg.Name == "" || cfg.Location == "" {
		return nil, fmt.Errorf("modbus device needs name and location: %w", types.ErrInvalidConfig)
	}
	if cfg.Address == "" {
		return nil, fmt.Errorf("modbus device %s: address is empty: %w", cfg.Name, types.ErrInvalidConfig)
	}

	d := &Device{
		Name:       cfg.Name,
		Location:   cfg.Location,
		UnitID:     cfg.UnitID,
		Client:     client,
		byEndpoint: make(map[string]*Register),
	}

	for _, rc := range cfg.Registers {
		kind, err := value.ParseKind(rc.DataType)
		if err != nil {
			return nil, fmt.Errorf("modbus device %s register %s: %w", cfg.Name, rc.Name, err)
		}
		if kind == value.KindString {
			return nil, fmt.Errorf("modbus device %s register %s: string registers not supported: %w",
				cfg.Name, rc.Name, types.ErrInvalidConfig)
		}

		endpoint, err := registry.BuildName(cfg.Location, registry.ProtocolModbus, cfg.Name, rc.Name, kind.String())
		if err != nil {
			return nil, fmt.Errorf("modbus device %s register %s: %w", cfg.Name, rc.Name, err)
		}
		if _, dup := d.byEndpoint[endpoint]; dup {
			return nil, fmt.Errorf("modbus device %s register %s: %w", cfg.Name, rc.Name, types.ErrAlreadyExists)
		}

		reg := &Register{
			Name:     rc.Name,
			Address:  rc.Address,
			Kind:     kind,
			Writable: rc.Writable,
			Scale:    rc.Scale,
			Endpoint: endpoint,
		}
		d.Registers = append(d.Registers, reg)
		d.byEndpoint[endpoint] = reg
	}

	return d, nil
}

// ID is the registry device identifier, location.modbus.name.
func (d *Device) ID() string {
	return d.Location + "." + string(registry.ProtocolModbus) + "." + d.Name
}

func (d *Device) Register(endpoint string) (*Register, bool) {
	reg, ok := d.byEndpoint[endpoint]
	return reg, ok
}

func (d *Device) Read(ctx context.Context, reg *Register) (value.Value, error) {
	regs, err := d.Client.ReadHoldingRegisters(ctx, d.UnitID, reg.Address, reg.quantity())
	if err != nil {
		return value.Value{}, fmt.Errorf("failed to read register %s: %w", reg.Name, err)
	}
	return reg.Decode(regs)
}

func (d *Device) Write(ctx context.Context, reg *Register, v value.Value) error {
	if !reg.Writable {
		return fmt.Errorf("register %s is read-only: %w", reg.Name, types.ErrInvalidState)
	}
	words, err := reg.Encode(v)
	if err != nil {
		return err
	}
	if err := d.Client.WriteRegisters(ctx, d.UnitID, reg.Address, words); err != nil {
		return fmt.Errorf("failed to write register %s: %w", reg.Name, err)
	}
	return nil
}
