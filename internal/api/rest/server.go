package rest

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/KevinKickass/OpenSoftPLC/internal/api/websocket"
	"github.com/KevinKickass/OpenSoftPLC/internal/auth"
	"github.com/KevinKickass/OpenSoftPLC/internal/config"
	"github.com/KevinKickass/OpenSoftPLC/internal/interfaces"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Server struct {
	router *gin.Engine
	lm     interfaces.LifecycleManager
	logger *zap.Logger
	server *http.Server
	wsHub  *websocket.Hub
	auth   *auth.Authenticator
}

func NewServer(cfg *config.Config, lm interfaces.LifecycleManager, logger *zap.Logger, wsHub *websocket.Hub, authenticator *auth.Authenticator) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		router: gin.New(),
		lm:     lm,
		logger: logger,
		wsHub:  wsHub,
		auth:   authenticator,
	}

	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler exposes the router for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	s.logger.Info("Starting REST API server", zap.String("address", s.server.Addr))
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("REST server failed", zap.Error(err))
		}
	}()
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down REST API server")
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(gin.Recovery())
	s.router.Use(LoggerMiddleware(s.logger))
	s.router.Use(CORSMiddleware())

	// Public routes (no auth required)
	s.router.GET("/health", s.healthCheck)

	v1 := s.router.Group("/api/v1")
	{
		// ==================== WEBSOCKET (auth via first message) ====================
		if s.wsHub != nil {
			v1.GET("/ws", s.wsLiveConnection)
		}

		protected := v1.Group("")
		protected.Use(s.auth.Middleware())

		operator := auth.RequirePermission(auth.PermOperator)
		technician := auth.RequirePermission(auth.PermTechnician)
		admin := auth.RequirePermission(auth.PermAdmin)

		// ==================== SYSTEM ====================
		system := protected.Group("/system")
		{
			system.GET("/status", operator, s.getSystemStatus)
			system.POST("/shutdown", admin, s.shutdown)
		}

		// ==================== ENGINE ====================
		protected.GET("/engine/stats", operator, s.getEngineStats)
		protected.GET("/blocks", operator, s.listBlocks)

		// ==================== PROGRAMS ====================
		programs := protected.Group("/programs")
		{
			// Read & control: Operator+
			programs.GET("", operator, s.listPrograms)
			programs.GET("/:name", operator, s.getProgram)
			programs.GET("/:name/variables", operator, s.getVariables)
			programs.POST("/:name/run", operator, s.runProgram)
			programs.POST("/:name/pause", operator, s.pauseProgram)
			programs.POST("/:name/stop", operator, s.stopProgram)

			// Modify: Technician+
			programs.POST("/:name", technician, s.loadProgram)
			programs.PUT("/:name", technician, s.reloadProgram)
			programs.DELETE("/:name", technician, s.deleteProgram)
			programs.PUT("/:name/variables/:var", technician, s.setVariable)
		}

		// ==================== REGISTRY ====================
		reg := protected.Group("/registry")
		{
			reg.GET("/endpoints", operator, s.listEndpoints)
			reg.GET("/endpoints/:name", operator, s.getEndpoint)
			reg.GET("/devices", operator, s.listDevices)
			reg.GET("/io-points", operator, s.listIOPoints)
			reg.GET("/stats", operator, s.getRegistryStats)

			reg.POST("/endpoints", technician, s.registerEndpoint)
			reg.PUT("/endpoints/:name/value", technician, s.writeEndpoint)
			reg.DELETE("/endpoints/:name", technician, s.removeEndpoint)
		}

		// ==================== EVENTS ====================
		ev := protected.Group("/events")
		{
			ev.GET("", operator, s.listEvents)
			ev.GET("/stats", operator, s.getEventStats)
			ev.GET("/export", operator, s.exportEvents)
			ev.POST("/read", operator, s.markEventsRead)
			ev.DELETE("", admin, s.clearEvents)

			ev.GET("/triggers/io", operator, s.listIOTriggers)
			ev.POST("/triggers/io", technician, s.addIOTrigger)
			ev.PATCH("/triggers/io/:name", technician, s.setIOTriggerEnabled)
			ev.DELETE("/triggers/io/:name", technician, s.removeIOTrigger)

			ev.GET("/triggers/scheduled", operator, s.listScheduledTriggers)
			ev.POST("/triggers/scheduled", technician, s.addScheduledTrigger)
			ev.PATCH("/triggers/scheduled/:name", technician, s.setScheduledTriggerEnabled)
			ev.DELETE("/triggers/scheduled/:name", technician, s.removeScheduledTrigger)
		}
	}
}

func (s *Server) wsLiveConnection(c *gin.Context) {
	websocket.ServeWs(s.wsHub, c.Writer, c.Request)
}

// Health check (public)
func (s *Server) healthCheck(c *gin.Context) {
	status := s.lm.GetCurrentStatus()
	code := http.StatusOK
	if status.State != "RUNNING" {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{
		"status":    status.State,
		"timestamp": time.Now().Unix(),
	})
}
