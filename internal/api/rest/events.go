package rest

import (
	"fmt"
	"net/http"

	"github.com/KevinKickass/OpenSoftPLC/internal/events"
	"github.com/KevinKickass/OpenSoftPLC/internal/types"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/events?unread=true
func (s *Server) listEvents(c *gin.Context) {
	records := s.lm.Events().History(c.Query("unread") == "true")
	c.JSON(http.StatusOK, gin.H{
		"events": records,
		"count":  len(records),
	})
}

// GET /api/v1/events/stats
func (s *Server) getEventStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Events().Stats())
}

// GET /api/v1/events/export?unread=true
func (s *Server) exportEvents(c *gin.Context) {
	data, err := s.lm.Events().ExportJSON(c.Query("unread") == "true")
	if err != nil {
		respondError(c, "EVENTS", "Failed to export events", err)
		return
	}
	c.Data(http.StatusOK, "application/json", data)
}

// POST /api/v1/events/read
func (s *Server) markEventsRead(c *gin.Context) {
	marked := s.lm.Events().MarkAsRead()
	c.JSON(http.StatusOK, gin.H{"marked": marked})
}

// DELETE /api/v1/events
func (s *Server) clearEvents(c *gin.Context) {
	s.lm.Events().ClearHistory()
	c.JSON(http.StatusOK, gin.H{"message": "event history cleared"})
}

// ==================== Triggers ====================

type enableRequest struct {
	Enabled *bool `json:"enabled"`
}

func bindEnabled(c *gin.Context) (bool, bool) {
	var req enableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "TRIGGER", "Invalid request body", err)
		return false, false
	}
	if req.Enabled == nil {
		badRequest(c, "TRIGGER", "Invalid request body", fmt.Errorf("enabled is required"))
		return false, false
	}
	return *req.Enabled, true
}

// GET /api/v1/events/triggers/io
func (s *Server) listIOTriggers(c *gin.Context) {
	triggers := s.lm.Events().IOTriggers()
	c.JSON(http.StatusOK, gin.H{
		"triggers": triggers,
		"count":    len(triggers),
	})
}

// POST /api/v1/events/triggers/io
// Omitted enabled and threshold_rising default to true.
func (s *Server) addIOTrigger(c *gin.Context) {
	trigger := events.IOTrigger{Enabled: true, ThresholdRising: true}
	if err := c.ShouldBindJSON(&trigger); err != nil {
		badRequest(c, "TRIGGER", "Invalid request body", err)
		return
	}

	mgr := s.lm.Events()
	if _, exists := mgr.IOTrigger(trigger.Name); exists {
		respondError(c, "TRIGGER", "Trigger already exists",
			fmt.Errorf("io trigger %s: %w", trigger.Name, types.ErrAlreadyExists))
		return
	}
	if err := mgr.AddIOTrigger(trigger); err != nil {
		respondError(c, "TRIGGER", "Failed to add trigger", err)
		return
	}
	s.persistTriggers()

	added, _ := mgr.IOTrigger(trigger.Name)
	c.JSON(http.StatusCreated, added)
}

// PATCH /api/v1/events/triggers/io/:name
func (s *Server) setIOTriggerEnabled(c *gin.Context) {
	enabled, ok := bindEnabled(c)
	if !ok {
		return
	}
	if err := s.lm.Events().SetIOTriggerEnabled(c.Param("name"), enabled); err != nil {
		respondError(c, "TRIGGER", "Failed to update trigger", err)
		return
	}
	s.persistTriggers()

	t, _ := s.lm.Events().IOTrigger(c.Param("name"))
	c.JSON(http.StatusOK, t)
}

// DELETE /api/v1/events/triggers/io/:name
func (s *Server) removeIOTrigger(c *gin.Context) {
	if err := s.lm.Events().RemoveIOTrigger(c.Param("name")); err != nil {
		respondError(c, "TRIGGER", "Failed to remove trigger", err)
		return
	}
	s.persistTriggers()
	c.JSON(http.StatusOK, gin.H{"message": "trigger removed"})
}

// GET /api/v1/events/triggers/scheduled
func (s *Server) listScheduledTriggers(c *gin.Context) {
	triggers := s.lm.Events().ScheduledTriggers()
	c.JSON(http.StatusOK, gin.H{
		"triggers": triggers,
		"count":    len(triggers),
	})
}

// POST /api/v1/events/triggers/scheduled
// Omitted hour or minute match every value.
func (s *Server) addScheduledTrigger(c *gin.Context) {
	trigger := events.ScheduledTrigger{Enabled: true, Hour: -1, Minute: -1}
	if err := c.ShouldBindJSON(&trigger); err != nil {
		badRequest(c, "TRIGGER", "Invalid request body", err)
		return
	}

	mgr := s.lm.Events()
	if _, exists := mgr.ScheduledTrigger(trigger.Name); exists {
		respondError(c, "TRIGGER", "Trigger already exists",
			fmt.Errorf("scheduled trigger %s: %w", trigger.Name, types.ErrAlreadyExists))
		return
	}
	if err := mgr.AddScheduledTrigger(trigger); err != nil {
		respondError(c, "TRIGGER", "Failed to add trigger", err)
		return
	}
	s.persistTriggers()

	added, _ := mgr.ScheduledTrigger(trigger.Name)
	c.JSON(http.StatusCreated, added)
}

// PATCH /api/v1/events/triggers/scheduled/:name
func (s *Server) setScheduledTriggerEnabled(c *gin.Context) {
	enabled, ok := bindEnabled(c)
	if !ok {
		return
	}
	if err := s.lm.Events().SetScheduledTriggerEnabled(c.Param("name"), enabled); err != nil {
		respondError(c, "TRIGGER", "Failed to update trigger", err)
		return
	}
	s.persistTriggers()

	t, _ := s.lm.Events().ScheduledTrigger(c.Param("name"))
	c.JSON(http.StatusOK, t)
}

// DELETE /api/v1/events/triggers/scheduled/:name
func (s *Server) removeScheduledTrigger(c *gin.Context) {
	if err := s.lm.Events().RemoveScheduledTrigger(c.Param("name")); err != nil {
		respondError(c, "TRIGGER", "Failed to remove trigger", err)
		return
	}
	s.persistTriggers()
	c.JSON(http.StatusOK, gin.H{"message": "trigger removed"})
}

// persistTriggers writes the trigger set back to the configured file.
// Failures are logged; the in-memory change stands.
func (s *Server) persistTriggers() {
	path := s.lm.Config().Events.ConfigFile
	if path == "" {
		return
	}
	if err := s.lm.Events().SaveConfigFile(path); err != nil {
		s.logger.Warn("Failed to persist event triggers", zap.String("path", path), zap.Error(err))
	}
}
