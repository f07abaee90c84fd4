package interfaces

import (
	"context"

	"github.com/KevinKickass/OpenSoftPLC/internal/config"
	"github.com/KevinKickass/OpenSoftPLC/internal/events"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/engine"
	"github.com/KevinKickass/OpenSoftPLC/internal/registry"
)

// SystemStatus is the snapshot served by /health and /api/v1/system/status.
type SystemStatus struct {
	State            string       `json:"state"`
	UptimeSeconds    int64        `json:"uptime_seconds"`
	Engine           engine.Stats `json:"engine"`
	Endpoints        int          `json:"endpoints"`
	EndpointsOnline  int          `json:"endpoints_online"`
	Devices          int          `json:"devices"`
	IOPoints         int          `json:"io_points"`
	Events           events.Stats `json:"events"`
	WebSocketClients int          `json:"websocket_clients"`
}

type LifecycleManager interface {
	Config() *config.Config
	Engine() *engine.Engine
	Registry() *registry.Registry
	Events() *events.Manager
	GetCurrentStatus() SystemStatus
	Shutdown(ctx context.Context) error
}
