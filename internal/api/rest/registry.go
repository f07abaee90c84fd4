package rest

import (
	"fmt"
	"net/http"

	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/registry"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/registry/endpoints?protocol=&location=&device=
func (s *Server) listEndpoints(c *gin.Context) {
	reg := s.lm.Registry()

	var endpoints []registry.Endpoint
	switch {
	case c.Query("device") != "":
		endpoints = reg.EndpointsByDevice(c.Query("device"))
	case c.Query("location") != "":
		endpoints = reg.EndpointsByLocation(c.Query("location"))
	case c.Query("protocol") != "":
		endpoints = reg.EndpointsByProtocol(registry.ParseProtocol(c.Query("protocol")))
	default:
		endpoints = reg.Endpoints()
	}

	c.JSON(http.StatusOK, gin.H{
		"endpoints": endpoints,
		"count":     len(endpoints),
	})
}

// GET /api/v1/registry/endpoints/:name
func (s *Server) getEndpoint(c *gin.Context) {
	ep, ok := s.lm.Registry().Endpoint(c.Param("name"))
	if !ok {
		respondError(c, "ENDPOINT", "Endpoint not found",
			fmt.Errorf("endpoint %s: %w", c.Param("name"), types.ErrNotFound))
		return
	}
	c.JSON(http.StatusOK, ep)
}

// POST /api/v1/registry/endpoints
func (s *Server) registerEndpoint(c *gin.Context) {
	var req struct {
		FullName string `json:"full_name" binding:"required"`
		Writable bool   `json:"is_writable"`
		Online   bool   `json:"is_online"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "ENDPOINT", "Invalid request body", err)
		return
	}

	err := s.lm.Registry().RegisterEndpoint(registry.Endpoint{
		FullName: req.FullName,
		Writable: req.Writable,
		Online:   req.Online,
	})
	if err != nil {
		respondError(c, "ENDPOINT", "Failed to register endpoint", err)
		return
	}

	ep, _ := s.lm.Registry().Endpoint(req.FullName)
	c.JSON(http.StatusCreated, ep)
}

// PUT /api/v1/registry/endpoints/:name/value
func (s *Server) writeEndpoint(c *gin.Context) {
	var req struct {
		Value any `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "ENDPOINT", "Invalid request body", err)
		return
	}
	if req.Value == nil {
		badRequest(c, "ENDPOINT", "Invalid request body", errMissingValue)
		return
	}

	name := c.Param("name")
	reg := s.lm.Registry()
	ep, ok := reg.Endpoint(name)
	if !ok {
		respondError(c, "ENDPOINT", "Endpoint not found",
			fmt.Errorf("endpoint %s: %w", name, types.ErrNotFound))
		return
	}
	if !ep.Writable {
		respondError(c, "ENDPOINT", "Endpoint is read-only",
			fmt.Errorf("endpoint %s is not writable: %w", name, types.ErrInvalidState))
		return
	}
	if !ep.Online {
		respondError(c, "ENDPOINT", "Endpoint is offline",
			fmt.Errorf("endpoint %s: %w", name, types.ErrEndpointOffline))
		return
	}

	v, err := value.Literal(req.Value, ep.DataType)
	if err != nil {
		respondError(c, "ENDPOINT", "Value does not fit endpoint", err)
		return
	}
	if err := reg.WriteEndpointValue(name, v); err != nil {
		respondError(c, "ENDPOINT", "Failed to write endpoint", err)
		return
	}

	s.logger.Info("Endpoint written via API",
		zap.String("endpoint", name),
		zap.String("value", v.String()))

	ep, _ = reg.Endpoint(name)
	c.JSON(http.StatusOK, ep)
}

// DELETE /api/v1/registry/endpoints/:name
func (s *Server) removeEndpoint(c *gin.Context) {
	if err := s.lm.Registry().RemoveEndpoint(c.Param("name")); err != nil {
		respondError(c, "ENDPOINT", "Failed to remove endpoint", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "endpoint removed"})
}

// GET /api/v1/registry/devices
func (s *Server) listDevices(c *gin.Context) {
	devices := s.lm.Registry().Devices()
	c.JSON(http.StatusOK, gin.H{
		"devices": devices,
		"count":   len(devices),
	})
}

// GET /api/v1/registry/io-points?owner=
func (s *Server) listIOPoints(c *gin.Context) {
	var points []registry.IOPoint
	if owner := c.Query("owner"); owner != "" {
		points = s.lm.Registry().IOPointsByOwner(owner)
	} else {
		points = s.lm.Registry().IOPoints()
	}
	c.JSON(http.StatusOK, gin.H{
		"io_points": points,
		"count":     len(points),
	})
}

// GET /api/v1/registry/stats
func (s *Server) getRegistryStats(c *gin.Context) {
	endpoints, online, devices, ioPoints := s.lm.Registry().Stats()
	c.JSON(http.StatusOK, gin.H{
		"endpoints":        endpoints,
		"endpoints_online": online,
		"devices":          devices,
		"io_points":        ioPoints,
	})
}
