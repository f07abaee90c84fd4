package registry

import (
	"strings"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
)

// DefaultOfflineThresholdMs applies when neither the device nor the caller
// of CheckOffline sets a threshold.
const DefaultOfflineThresholdMs = 60000

// Endpoint is a device-addressable I/O point.
type Endpoint struct {
	FullName     string      `json:"full_name"`
	Location     string      `json:"location"`
	Protocol     Protocol    `json:"protocol"`
	DeviceID     string      `json:"device_id"`
	EndpointID   string      `json:"endpoint_id"`
	DataType     value.Kind  `json:"datatype"`
	Online       bool        `json:"is_online"`
	LastSeenMs   int64       `json:"last_seen_ms"`
	Writable     bool        `json:"is_writable"`
	Value        value.Value `json:"current_value"`
	PublishTopic string      `json:"publish_topic,omitempty"`
}

// Device aggregates the endpoints of one physical device.
type Device struct {
	DeviceID           string   `json:"device_id"`
	Protocol           Protocol `json:"protocol"`
	Online             bool     `json:"is_online"`
	LastSeenMs         int64    `json:"last_seen_ms"`
	OfflineThresholdMs int64    `json:"offline_threshold_ms"`
	Endpoints          []string `json:"endpoints"`
}

type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// ParseDirection matches s against the known directions, ignoring case.
func ParseDirection(s string) (Direction, bool) {
	switch {
	case strings.EqualFold(s, string(DirectionInput)):
		return DirectionInput, true
	case strings.EqualFold(s, string(DirectionOutput)):
		return DirectionOutput, true
	}
	return "", false
}

// IOPoint binds one PLC variable to one endpoint.
type IOPoint struct {
	PLCVarName       string    `json:"plc_var_name"`
	Endpoint         string    `json:"mapped_endpoint_name"`
	Direction        Direction `json:"direction"`
	RequiresFunction bool      `json:"requires_function"`
	FunctionName     string    `json:"function_name,omitempty"`
	AutoSync         bool      `json:"auto_sync"`
	OwnerProgram     string    `json:"owner_program"`
}

type StatusCallback func(fullName string, online bool)

type ValueCallback func(fullName string, v value.Value)
