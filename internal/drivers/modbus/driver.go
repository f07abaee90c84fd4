// Package modbus publishes Modbus TCP holding registers as registry endpoints
// named location.modbus.device.register.datatype.
package modbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSoftPLC/internal/config"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/registry"
	"go.uber.org/zap"
)

const writeQueueSize = 64

type writeRequest struct {
	device *Device
	reg    *Register
	value  value.Value
}

type Driver struct {
	registry *registry.Registry
	logger   *zap.Logger
	timeout  time.Duration

	devices    []*Device
	pollers    []*Poller
	byEndpoint map[string]*Device

	mu         sync.Mutex
	lastPolled map[string]value.Value
	dropped    uint64

	writes   chan writeRequest
	runMu    sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewDriver registers every configured device and register with reg and
// subscribes to value changes of the writable ones.
func NewDriver(cfg config.ModbusConfig, reg *registry.Registry, logger *zap.Logger) (*Driver, error) {
	timeout := cfg.DefaultTimeout
	if timeout <= 0 {
		timeout = time.Second
	}
	defaultInterval := cfg.DefaultPollInterval
	if defaultInterval <= 0 {
		defaultInterval = 100 * time.Millisecond
	}

	d := &Driver{
		registry:   reg,
		logger:     logger,
		timeout:    timeout,
		byEndpoint: make(map[string]*Device),
		lastPolled: make(map[string]value.Value),
		writes:     make(chan writeRequest, writeQueueSize),
	}

	for _, dc := range cfg.Devices {
		dev, err := NewDevice(dc, NewClient(dc.Address, timeout))
		if err != nil {
			return nil, err
		}
		if err := d.register(dev); err != nil {
			return nil, err
		}

		interval := dc.PollInterval
		if interval <= 0 {
			interval = defaultInterval
		}
		d.devices = append(d.devices, dev)
		d.pollers = append(d.pollers, NewPoller(dev, d, interval, logger))
	}

	reg.OnValueChange(d.onValue)
	return d, nil
}

func (d *Driver) register(dev *Device) error {
	if err := d.registry.RegisterDevice(registry.Device{
		DeviceID: dev.ID(),
		Protocol: registry.ProtocolModbus,
	}); err != nil {
		return fmt.Errorf("failed to register modbus device %s: %w", dev.Name, err)
	}

	for _, r := range dev.Registers {
		if err := d.registry.RegisterEndpoint(registry.Endpoint{
			FullName: r.Endpoint,
			Writable: r.Writable,
		}); err != nil {
			return fmt.Errorf("failed to register modbus endpoint: %w", err)
		}
		d.byEndpoint[r.Endpoint] = dev
	}
	return nil
}

func (d *Driver) Devices() []*Device {
	return d.devices
}

func (d *Driver) Start() error {
	d.runMu.Lock()
	defer d.runMu.Unlock()

	if d.running {
		return nil
	}
	d.running = true
	d.stopChan = make(chan struct{})

	d.wg.Add(1)
	go d.writeLoop(d.stopChan)

	for _, p := range d.pollers {
		if err := p.Start(); err != nil {
			return err
		}
	}

	d.logger.Info("Modbus driver started", zap.Int("devices", len(d.devices)))
	return nil
}

func (d *Driver) Stop() {
	d.runMu.Lock()
	if !d.running {
		d.runMu.Unlock()
		return
	}
	d.running = false
	close(d.stopChan)
	d.runMu.Unlock()

	for _, p := range d.pollers {
		p.Stop()
	}
	d.wg.Wait()

	d.logger.Info("Modbus driver stopped")
}

// polled publishes a successful read. The value is remembered first so the
// resulting value callback is not written back to the device.
func (d *Driver) polled(reg *Register, v value.Value) {
	d.mu.Lock()
	d.lastPolled[reg.Endpoint] = v
	d.mu.Unlock()

	if err := d.registry.UpdateEndpointValue(reg.Endpoint, v); err != nil {
		d.logger.Warn("Failed to publish register value",
			zap.String("endpoint", reg.Endpoint),
			zap.Error(err))
		return
	}
	d.registry.UpdateEndpointStatus(reg.Endpoint, true)
}

func (d *Driver) failed(reg *Register) {
	d.registry.UpdateEndpointStatus(reg.Endpoint, false)
}

// onValue runs on whatever goroutine changed the endpoint and never blocks.
func (d *Driver) onValue(fullName string, v value.Value) {
	dev, ok := d.byEndpoint[fullName]
	if !ok {
		return
	}
	reg, ok := dev.Register(fullName)
	if !ok || !reg.Writable {
		return
	}

	d.mu.Lock()
	last, seen := d.lastPolled[fullName]
	d.mu.Unlock()
	if seen && last.Equal(v) {
		return
	}

	select {
	case d.writes <- writeRequest{device: dev, reg: reg, value: v}:
	default:
		d.mu.Lock()
		d.dropped++
		dropped := d.dropped
		d.mu.Unlock()
		d.logger.Warn("Modbus write queue full, dropping write",
			zap.String("endpoint", fullName),
			zap.Uint64("dropped", dropped))
	}
}

func (d *Driver) writeLoop(stop chan struct{}) {
	defer d.wg.Done()

	for {
		select {
		case <-stop:
			return
		case req := <-d.writes:
			d.write(req)
		}
	}
}

func (d *Driver) write(req writeRequest) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := req.device.Write(ctx, req.reg, req.value); err != nil {
		d.logger.Warn("Modbus write failed",
			zap.String("endpoint", req.reg.Endpoint),
			zap.String("value", req.value.String()),
			zap.Error(err))
		return
	}

	d.mu.Lock()
	d.lastPolled[req.reg.Endpoint] = req.value
	d.mu.Unlock()

	d.logger.Debug("Modbus register written",
		zap.String("endpoint", req.reg.Endpoint),
		zap.String("value", req.value.String()))
}
