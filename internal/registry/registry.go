package registry

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/KevinKickass/OpenSoftPLC/internal/clock"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"go.uber.org/zap"
)

// Registry is the shared table of endpoints, devices and I/O points that
// drivers and the scan engine meet at. Each table has its own lock and no
// lock is held while callbacks run.
type Registry struct {
	clock  clock.Clock
	logger *zap.Logger

	mu        sync.RWMutex
	endpoints map[string]*Endpoint
	devices   map[string]*Device

	ioMu     sync.RWMutex
	ioPoints map[string]*IOPoint

	cbMu            sync.RWMutex
	statusCallbacks []StatusCallback
	valueCallbacks  []ValueCallback
}

func New(clk clock.Clock, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		clock:     clk,
		logger:    logger,
		endpoints: make(map[string]*Endpoint),
		devices:   make(map[string]*Device),
		ioPoints:  make(map[string]*IOPoint),
	}
}

// ==================== Endpoints ====================

// RegisterEndpoint adds an endpoint. The location, protocol, device, endpoint
// and datatype fields are derived from FullName; when FullName is empty it is
// built from them instead.
func (r *Registry) RegisterEndpoint(ep Endpoint) error {
	if ep.FullName == "" {
		name, err := BuildName(ep.Location, ep.Protocol, ep.DeviceID, ep.EndpointID, ep.DataType.String())
		if err != nil {
			return err
		}
		ep.FullName = name
	}

	name, err := ParseName(ep.FullName)
	if err != nil {
		return err
	}
	kind, err := value.ParseKind(name.DataType)
	if err != nil {
		return fmt.Errorf("endpoint %s: %w", ep.FullName, err)
	}

	ep.Location = name.Location
	ep.Protocol = ParseProtocol(name.Protocol)
	ep.DeviceID = name.Device
	ep.EndpointID = name.Endpoint
	ep.DataType = kind
	if ep.Value.Kind() != kind {
		coerced, err := value.Coerce(ep.Value, kind)
		if err != nil {
			coerced = value.Zero(kind)
		}
		ep.Value = coerced
	}
	if ep.PublishTopic == "" {
		ep.PublishTopic = name.Topic()
	}
	ep.LastSeenMs = r.clock.NowMs()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.endpoints[ep.FullName]; exists {
		return fmt.Errorf("endpoint %s: %w", ep.FullName, types.ErrAlreadyExists)
	}
	r.endpoints[ep.FullName] = &ep

	if dev, ok := r.devices[name.DevicePath()]; ok && !containsString(dev.Endpoints, ep.FullName) {
		dev.Endpoints = append(dev.Endpoints, ep.FullName)
	}

	r.logger.Info("Endpoint registered",
		zap.String("endpoint", ep.FullName),
		zap.Bool("writable", ep.Writable))
	return nil
}

func (r *Registry) RemoveEndpoint(fullName string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ep, exists := r.endpoints[fullName]
	if !exists {
		return fmt.Errorf("endpoint %s: %w", fullName, types.ErrNotFound)
	}
	delete(r.endpoints, fullName)

	if name, err := ParseName(ep.FullName); err == nil {
		if dev, ok := r.devices[name.DevicePath()]; ok {
			dev.Endpoints = removeString(dev.Endpoints, fullName)
		}
	}
	return nil
}

// Endpoint returns a copy of the named endpoint.
func (r *Registry) Endpoint(fullName string) (Endpoint, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, exists := r.endpoints[fullName]
	if !exists {
		return Endpoint{}, false
	}
	return *ep, true
}

// EndpointOnline reports the online flag of an endpoint and whether it exists.
func (r *Registry) EndpointOnline(fullName string) (online bool, found bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ep, exists := r.endpoints[fullName]
	if !exists {
		return false, false
	}
	return ep.Online, true
}

func (r *Registry) Endpoints() []Endpoint {
	return r.filterEndpoints(func(*Endpoint) bool { return true })
}

func (r *Registry) EndpointsByProtocol(p Protocol) []Endpoint {
	return r.filterEndpoints(func(ep *Endpoint) bool { return ep.Protocol == p })
}

func (r *Registry) EndpointsByLocation(location string) []Endpoint {
	return r.filterEndpoints(func(ep *Endpoint) bool { return ep.Location == location })
}

// EndpointsByDevice matches either the bare device id or the device path
// location.protocol.device.
func (r *Registry) EndpointsByDevice(device string) []Endpoint {
	return r.filterEndpoints(func(ep *Endpoint) bool {
		if ep.DeviceID == device {
			return true
		}
		return ep.Location+"."+string(ep.Protocol)+"."+ep.DeviceID == device
	})
}

func (r *Registry) filterEndpoints(match func(*Endpoint) bool) []Endpoint {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Endpoint, 0)
	for _, ep := range r.endpoints {
		if match(ep) {
			result = append(result, *ep)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].FullName < result[j].FullName })
	return result
}

// UpdateEndpointStatus records a heartbeat or timeout from a driver. Status
// callbacks fire only when the online flag actually changes.
func (r *Registry) UpdateEndpointStatus(fullName string, online bool) error {
	r.mu.Lock()
	ep, exists := r.endpoints[fullName]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("endpoint %s: %w", fullName, types.ErrNotFound)
	}
	changed := ep.Online != online
	ep.Online = online
	ep.LastSeenMs = r.clock.NowMs()
	r.mu.Unlock()

	if changed {
		r.logger.Info("Endpoint status changed",
			zap.String("endpoint", fullName),
			zap.Bool("online", online))
		r.fireStatus(fullName, online)
	}
	return nil
}

// UpdateEndpointValue records a value received from a driver and always
// fires the value callbacks.
func (r *Registry) UpdateEndpointValue(fullName string, v value.Value) error {
	return r.setValue(fullName, v, true)
}

// WriteEndpointValue pushes a PLC-side value into an endpoint. It behaves like
// UpdateEndpointValue but leaves last_seen alone: only drivers prove liveness.
func (r *Registry) WriteEndpointValue(fullName string, v value.Value) error {
	return r.setValue(fullName, v, false)
}

func (r *Registry) setValue(fullName string, v value.Value, fromDriver bool) error {
	r.mu.Lock()
	ep, exists := r.endpoints[fullName]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("endpoint %s: %w", fullName, types.ErrNotFound)
	}
	coerced, err := value.Coerce(v, ep.DataType)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("endpoint %s: %w", fullName, err)
	}
	ep.Value = coerced
	if fromDriver {
		ep.LastSeenMs = r.clock.NowMs()
	}
	r.mu.Unlock()

	r.fireValue(fullName, coerced)
	return nil
}

// CheckOffline flips every online endpoint whose last update is older than
// its device's offline threshold, or timeoutMs when the device sets none, to
// offline. Devices go offline once none of their endpoints is online. It
// returns the endpoints that flipped.
func (r *Registry) CheckOffline(timeoutMs int64) []string {
	if timeoutMs <= 0 {
		timeoutMs = DefaultOfflineThresholdMs
	}
	now := r.clock.NowMs()

	r.mu.Lock()
	flipped := make([]string, 0)
	for name, ep := range r.endpoints {
		if !ep.Online {
			continue
		}
		threshold := timeoutMs
		if dev, ok := r.devices[ep.Location+"."+string(ep.Protocol)+"."+ep.DeviceID]; ok && dev.OfflineThresholdMs > 0 {
			threshold = dev.OfflineThresholdMs
		}
		if now-ep.LastSeenMs > threshold {
			ep.Online = false
			flipped = append(flipped, name)
		}
	}
	for _, dev := range r.devices {
		if !dev.Online || len(dev.Endpoints) == 0 {
			continue
		}
		anyOnline := false
		for _, name := range dev.Endpoints {
			if ep, ok := r.endpoints[name]; ok && ep.Online {
				anyOnline = true
				break
			}
		}
		if !anyOnline {
			dev.Online = false
		}
	}
	r.mu.Unlock()

	sort.Strings(flipped)
	for _, name := range flipped {
		r.logger.Info("Endpoint timed out", zap.String("endpoint", name))
		r.fireStatus(name, false)
	}
	return flipped
}

// ==================== Devices ====================

func (r *Registry) RegisterDevice(dev Device) error {
	if dev.DeviceID == "" {
		return fmt.Errorf("device id is empty: %w", types.ErrInvalidConfig)
	}
	if dev.OfflineThresholdMs < 0 {
		dev.OfflineThresholdMs = 0
	}
	if dev.Protocol == "" {
		if parts := strings.Split(dev.DeviceID, "."); len(parts) == 3 {
			dev.Protocol = ParseProtocol(parts[1])
		} else {
			dev.Protocol = ProtocolUnknown
		}
	}
	dev.LastSeenMs = r.clock.NowMs()

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.devices[dev.DeviceID]; exists {
		return fmt.Errorf("device %s: %w", dev.DeviceID, types.ErrAlreadyExists)
	}

	// Pick up endpoints registered before their device.
	for name := range r.endpoints {
		if parsed, err := ParseName(name); err == nil && parsed.DevicePath() == dev.DeviceID &&
			!containsString(dev.Endpoints, name) {
			dev.Endpoints = append(dev.Endpoints, name)
		}
	}
	sort.Strings(dev.Endpoints)

	r.devices[dev.DeviceID] = &dev
	r.logger.Info("Device registered", zap.String("device", dev.DeviceID))
	return nil
}

func (r *Registry) Device(id string) (Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dev, exists := r.devices[id]
	if !exists {
		return Device{}, false
	}
	out := *dev
	out.Endpoints = append([]string(nil), dev.Endpoints...)
	return out, true
}

func (r *Registry) Devices() []Device {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Device, 0, len(r.devices))
	for _, dev := range r.devices {
		out := *dev
		out.Endpoints = append([]string(nil), dev.Endpoints...)
		result = append(result, out)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].DeviceID < result[j].DeviceID })
	return result
}

func (r *Registry) UpdateDeviceStatus(id string, online bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	dev, exists := r.devices[id]
	if !exists {
		return fmt.Errorf("device %s: %w", id, types.ErrNotFound)
	}
	dev.Online = online
	dev.LastSeenMs = r.clock.NowMs()
	return nil
}

// ==================== I/O points ====================

// RegisterIOPoint binds a PLC variable to an endpoint. A binding to an
// endpoint that is not registered yet is accepted and skipped at sync time.
func (r *Registry) RegisterIOPoint(p IOPoint) error {
	if p.PLCVarName == "" || p.Endpoint == "" {
		return fmt.Errorf("io point needs a variable and an endpoint: %w", types.ErrInvalidConfig)
	}
	if p.Direction != DirectionInput && p.Direction != DirectionOutput {
		return fmt.Errorf("io point %s has invalid direction %q: %w", p.PLCVarName, p.Direction, types.ErrInvalidConfig)
	}

	if _, found := r.Endpoint(p.Endpoint); !found {
		r.logger.Warn("IO point references unknown endpoint",
			zap.String("variable", p.PLCVarName),
			zap.String("endpoint", p.Endpoint))
	}

	r.ioMu.Lock()
	defer r.ioMu.Unlock()

	if _, exists := r.ioPoints[p.PLCVarName]; exists {
		return fmt.Errorf("io point %s: %w", p.PLCVarName, types.ErrAlreadyExists)
	}
	r.ioPoints[p.PLCVarName] = &p

	r.logger.Info("IO point registered",
		zap.String("variable", p.PLCVarName),
		zap.String("endpoint", p.Endpoint),
		zap.String("direction", string(p.Direction)),
		zap.String("owner", p.OwnerProgram))
	return nil
}

func (r *Registry) UnregisterIOPoint(varName string) error {
	r.ioMu.Lock()
	defer r.ioMu.Unlock()

	if _, exists := r.ioPoints[varName]; !exists {
		return fmt.Errorf("io point %s: %w", varName, types.ErrNotFound)
	}
	delete(r.ioPoints, varName)
	return nil
}

func (r *Registry) IOPoint(varName string) (IOPoint, bool) {
	r.ioMu.RLock()
	defer r.ioMu.RUnlock()

	p, exists := r.ioPoints[varName]
	if !exists {
		return IOPoint{}, false
	}
	return *p, true
}

func (r *Registry) IOPoints() []IOPoint {
	return r.filterIOPoints(func(*IOPoint) bool { return true })
}

// IOPointsByOwner returns the bindings owned by one program.
func (r *Registry) IOPointsByOwner(program string) []IOPoint {
	return r.filterIOPoints(func(p *IOPoint) bool { return p.OwnerProgram == program })
}

func (r *Registry) filterIOPoints(match func(*IOPoint) bool) []IOPoint {
	r.ioMu.RLock()
	defer r.ioMu.RUnlock()

	result := make([]IOPoint, 0)
	for _, p := range r.ioPoints {
		if match(p) {
			result = append(result, *p)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].PLCVarName < result[j].PLCVarName })
	return result
}

// ==================== Callbacks ====================

// OnStatusChange subscribes cb to endpoint online/offline transitions.
// Callbacks run on the updating goroutine and must not block.
func (r *Registry) OnStatusChange(cb StatusCallback) {
	r.cbMu.Lock()
	r.statusCallbacks = append(r.statusCallbacks, cb)
	r.cbMu.Unlock()
}

// OnValueChange subscribes cb to every endpoint value update.
// Callbacks run on the updating goroutine and must not block.
func (r *Registry) OnValueChange(cb ValueCallback) {
	r.cbMu.Lock()
	r.valueCallbacks = append(r.valueCallbacks, cb)
	r.cbMu.Unlock()
}

func (r *Registry) fireStatus(fullName string, online bool) {
	r.cbMu.RLock()
	callbacks := append([]StatusCallback(nil), r.statusCallbacks...)
	r.cbMu.RUnlock()

	for _, cb := range callbacks {
		cb(fullName, online)
	}
}

func (r *Registry) fireValue(fullName string, v value.Value) {
	r.cbMu.RLock()
	callbacks := append([]ValueCallback(nil), r.valueCallbacks...)
	r.cbMu.RUnlock()

	for _, cb := range callbacks {
		cb(fullName, v)
	}
}

// Clear drops every endpoint, device and I/O point. Callbacks stay subscribed.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.endpoints = make(map[string]*Endpoint)
	r.devices = make(map[string]*Device)
	r.mu.Unlock()

	r.ioMu.Lock()
	r.ioPoints = make(map[string]*IOPoint)
	r.ioMu.Unlock()
}

// Stats counts endpoints by online flag.
func (r *Registry) Stats() (endpoints, online, devices, ioPoints int) {
	r.mu.RLock()
	endpoints = len(r.endpoints)
	for _, ep := range r.endpoints {
		if ep.Online {
			online++
		}
	}
	devices = len(r.devices)
	r.mu.RUnlock()

	r.ioMu.RLock()
	ioPoints = len(r.ioPoints)
	r.ioMu.RUnlock()
	return endpoints, online, devices, ioPoints
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func removeString(list []string, s string) []string {
	for i, item := range list {
		if item == s {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
