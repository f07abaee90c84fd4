package rest

import (
	"io"
	"net/http"

	"github.com/KevinKickass/OpenSoftPLC/internal/auth"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/blocks"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// GET /api/v1/programs
func (s *Server) listPrograms(c *gin.Context) {
	programs := s.lm.Engine().List()
	c.JSON(http.StatusOK, gin.H{
		"programs": programs,
		"count":    len(programs),
	})
}

// GET /api/v1/programs/:name
func (s *Server) getProgram(c *gin.Context) {
	p, err := s.lm.Engine().Get(c.Param("name"))
	if err != nil {
		respondError(c, "PROGRAM", "Program not found", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"info":        p.Info(),
		"block_types": p.BlockTypes(),
		"io_points":   p.IOPoints(),
		"config":      p.Config(),
	})
}

// POST /api/v1/programs/:name
// The body is the program document itself.
func (s *Server) loadProgram(c *gin.Context) {
	name := c.Param("name")
	doc, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "PROGRAM", "Failed to read request body", err)
		return
	}

	if err := s.lm.Engine().Load(c.Request.Context(), name, doc); err != nil {
		respondError(c, "PROGRAM", "Failed to load program", err)
		return
	}

	s.logger.Info("Program loaded via API",
		zap.String("program", name),
		zap.String("subject", auth.Subject(c)))

	p, _ := s.lm.Engine().Get(name)
	c.JSON(http.StatusCreated, p.Info())
}

// PUT /api/v1/programs/:name
func (s *Server) reloadProgram(c *gin.Context) {
	name := c.Param("name")
	doc, err := io.ReadAll(c.Request.Body)
	if err != nil {
		badRequest(c, "PROGRAM", "Failed to read request body", err)
		return
	}

	if err := s.lm.Engine().Reload(c.Request.Context(), name, doc); err != nil {
		respondError(c, "PROGRAM", "Failed to reload program", err)
		return
	}

	p, _ := s.lm.Engine().Get(name)
	c.JSON(http.StatusOK, p.Info())
}

// DELETE /api/v1/programs/:name
func (s *Server) deleteProgram(c *gin.Context) {
	name := c.Param("name")
	remove := s.lm.Engine().Delete
	if c.Query("retentive") == "drop" {
		remove = s.lm.Engine().Purge
	}
	if err := remove(c.Request.Context(), name); err != nil {
		respondError(c, "PROGRAM", "Failed to delete program", err)
		return
	}

	s.logger.Info("Program deleted via API",
		zap.String("program", name),
		zap.String("retentive", c.DefaultQuery("retentive", "keep")),
		zap.String("subject", auth.Subject(c)))

	c.JSON(http.StatusOK, gin.H{"message": "program deleted"})
}

// POST /api/v1/programs/:name/run
func (s *Server) runProgram(c *gin.Context) {
	s.transition(c, func(name string) error { return s.lm.Engine().Run(name) })
}

// POST /api/v1/programs/:name/pause
func (s *Server) pauseProgram(c *gin.Context) {
	s.transition(c, func(name string) error { return s.lm.Engine().Pause(name) })
}

// POST /api/v1/programs/:name/stop
func (s *Server) stopProgram(c *gin.Context) {
	s.transition(c, func(name string) error { return s.lm.Engine().Stop(c.Request.Context(), name) })
}

func (s *Server) transition(c *gin.Context, fn func(name string) error) {
	name := c.Param("name")
	if err := fn(name); err != nil {
		respondError(c, "PROGRAM", "State change rejected", err)
		return
	}

	p, err := s.lm.Engine().Get(name)
	if err != nil {
		respondError(c, "PROGRAM", "Program not found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"program": name,
		"state":   p.State(),
	})
}

// GET /api/v1/programs/:name/variables
func (s *Server) getVariables(c *gin.Context) {
	vars, err := s.lm.Engine().Variables(c.Param("name"))
	if err != nil {
		respondError(c, "PROGRAM", "Program not found", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"variables": vars,
		"count":     len(vars),
	})
}

// PUT /api/v1/programs/:name/variables/:var
func (s *Server) setVariable(c *gin.Context) {
	var req struct {
		Value any `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "VARIABLE", "Invalid request body", err)
		return
	}
	if req.Value == nil {
		badRequest(c, "VARIABLE", "Invalid request body", errMissingValue)
		return
	}

	name, variable := c.Param("name"), c.Param("var")
	if err := s.lm.Engine().SetVariable(name, variable, req.Value); err != nil {
		respondError(c, "VARIABLE", "Failed to force variable", err)
		return
	}

	p, _ := s.lm.Engine().Get(name)
	v, _ := p.Memory().Lookup(variable)
	c.JSON(http.StatusOK, v)
}

// GET /api/v1/engine/stats
func (s *Server) getEngineStats(c *gin.Context) {
	c.JSON(http.StatusOK, s.lm.Engine().Stats())
}

// GET /api/v1/blocks
func (s *Server) listBlocks(c *gin.Context) {
	catalog := blocks.Catalog()
	c.JSON(http.StatusOK, gin.H{
		"blocks": catalog,
		"count":  len(catalog),
	})
}
