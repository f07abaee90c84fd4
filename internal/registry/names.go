package registry

import (
	"fmt"
	"strings"

	"github.com/KevinKickass/OpenSoftPLC/internal/types"
)

type Protocol string

const (
	ProtocolMesh    Protocol = "mesh"
	ProtocolZigbee  Protocol = "zigbee"
	ProtocolBLE     Protocol = "ble"
	ProtocolWiFi    Protocol = "wifi"
	ProtocolRF433   Protocol = "rf433"
	ProtocolModbus  Protocol = "modbus"
	ProtocolUnknown Protocol = "unknown"
)

// ParseProtocol is case-insensitive; unrecognized strings map to ProtocolUnknown.
func ParseProtocol(s string) Protocol {
	switch p := Protocol(strings.ToLower(s)); p {
	case ProtocolMesh, ProtocolZigbee, ProtocolBLE, ProtocolWiFi, ProtocolRF433, ProtocolModbus:
		return p
	default:
		return ProtocolUnknown
	}
}

// Name is a parsed endpoint full name:
// location.protocol.device.endpoint.datatype
type Name struct {
	Location string `json:"location"`
	Protocol string `json:"protocol"`
	Device   string `json:"device"`
	Endpoint string `json:"endpoint"`
	DataType string `json:"datatype"`
}

const nameSegments = 5

// ParseName splits a full name into exactly five non-empty segments.
func ParseName(fullName string) (Name, error) {
	parts := strings.Split(fullName, ".")
	if len(parts) != nameSegments {
		return Name{}, fmt.Errorf("endpoint name %q has %d segments, want %d: %w",
			fullName, len(parts), nameSegments, types.ErrInvalidConfig)
	}
	for _, part := range parts {
		if part == "" {
			return Name{}, fmt.Errorf("endpoint name %q has an empty segment: %w", fullName, types.ErrInvalidConfig)
		}
	}
	return Name{
		Location: parts[0],
		Protocol: parts[1],
		Device:   parts[2],
		Endpoint: parts[3],
		DataType: parts[4],
	}, nil
}

// Build joins the segments back into a full name.
func (n Name) Build() (string, error) {
	parts := []string{n.Location, n.Protocol, n.Device, n.Endpoint, n.DataType}
	for _, part := range parts {
		if part == "" || strings.Contains(part, ".") {
			return "", fmt.Errorf("invalid endpoint name segment %q: %w", part, types.ErrInvalidConfig)
		}
	}
	return strings.Join(parts, "."), nil
}

// BuildName is the driver-side helper for registering endpoints consistently.
func BuildName(location string, protocol Protocol, device, endpoint, datatype string) (string, error) {
	return Name{
		Location: location,
		Protocol: string(protocol),
		Device:   device,
		Endpoint: endpoint,
		DataType: datatype,
	}.Build()
}

// DevicePath is the device identifier implied by the name: location.protocol.device
func (n Name) DevicePath() string {
	return n.Location + "." + strings.ToLower(n.Protocol) + "." + n.Device
}

// Topic is the default upstream publication topic for the name.
func (n Name) Topic() string {
	return strings.Join([]string{n.Location, n.Protocol, n.Device, n.Endpoint, n.DataType}, "/")
}
