package system

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/KevinKickass/OpenSoftPLC/internal/api/rest"
	"github.com/KevinKickass/OpenSoftPLC/internal/api/websocket"
	"github.com/KevinKickass/OpenSoftPLC/internal/auth"
	"github.com/KevinKickass/OpenSoftPLC/internal/clock"
	"github.com/KevinKickass/OpenSoftPLC/internal/config"
	"github.com/KevinKickass/OpenSoftPLC/internal/drivers/modbus"
	"github.com/KevinKickass/OpenSoftPLC/internal/events"
	"github.com/KevinKickass/OpenSoftPLC/internal/interfaces"
	"github.com/KevinKickass/OpenSoftPLC/internal/iosync"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/engine"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/memory"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/program"
	"github.com/KevinKickass/OpenSoftPLC/internal/plc/value"
	"github.com/KevinKickass/OpenSoftPLC/internal/registry"
	"github.com/KevinKickass/OpenSoftPLC/internal/storage"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// HealthService is the gRPC health service name that mirrors the system state.
const HealthService = "opensoftplc.Runtime"

type LifecycleManager struct {
	config *config.Config
	logger *zap.Logger

	clock     *clock.System
	registry  *registry.Registry
	monitor   *registry.OfflineMonitor
	storage   *storage.PostgresClient
	syncer    *iosync.Syncer
	engine    *engine.Engine
	events    *events.Manager
	modbus    *modbus.Driver
	wsHub     *websocket.Hub
	authn     *auth.Authenticator
	startedAt time.Time

	restServer *rest.Server
	grpcServer *grpc.Server
	health     *health.Server

	saverCancel context.CancelFunc
	saverDone   chan struct{}
	eventsDone  chan struct{}
	unsubscribe func()

	stateMu      sync.RWMutex
	currentState SystemState
	lastError    string

	shutdownChan chan struct{}
	shutdownOnce sync.Once
}

// NewLifecycleManager builds every component from cfg. Nothing runs until
// Start.
func NewLifecycleManager(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*LifecycleManager, error) {
	lm := &LifecycleManager{
		config:       cfg,
		logger:       logger,
		clock:        clock.NewSystem(),
		currentState: StateInitializing,
		shutdownChan: make(chan struct{}),
	}

	lm.registry = registry.New(lm.clock, logger.Named("registry"))
	if cfg.Registry.EndpointsFile != "" {
		if err := lm.registry.LoadSeedFile(cfg.Registry.EndpointsFile); err != nil {
			return nil, err
		}
	}
	lm.monitor = registry.NewOfflineMonitor(lm.registry, cfg.Registry.OfflineTimeout,
		cfg.Registry.OfflineCheckInterval, logger.Named("registry"))

	if cfg.Database.Enabled {
		pg, err := storage.NewPostgresClient(ctx, cfg.Database, logger)
		if err != nil {
			return nil, err
		}
		lm.storage = pg
	}

	retentive, err := lm.retentiveStore()
	if err != nil {
		lm.closeStorage()
		return nil, err
	}

	var jwtHandler *auth.JWTHandler
	if cfg.Auth.Enabled {
		if !cfg.Auth.IsProductionReady() {
			logger.Warn("JWT secret is the development default or shorter than 32 characters")
		}
		jwtHandler = auth.NewJWTHandler(cfg.Auth.GetJWTSecret(), cfg.Auth.AccessTokenTTL)
	}
	lm.authn = auth.NewAuthenticator(jwtHandler, cfg.Auth.Enabled, logger.Named("auth"))
	lm.wsHub = websocket.NewHub(logger.Named("websocket"), jwtHandler)

	lm.syncer = iosync.NewSyncer(lm.registry, logger.Named("iosync"))

	opts := engine.Options{
		Clock:             lm.clock,
		Status:            lm.registry,
		Registry:          lm.registry,
		Syncer:            lm.syncer,
		Store:             retentive,
		Logger:            logger.Named("engine"),
		Hooks:             lm.engineHooks(),
		ScanInterval:      cfg.Engine.ScanInterval,
		MaxProgramSize:    cfg.Engine.MaxProgramSize,
		DefaultWatchdogMs: cfg.Engine.DefaultWatchdog.Milliseconds(),
		MinWatchdogMs:     cfg.Engine.MinWatchdog.Milliseconds(),
		MaxWatchdogMs:     cfg.Engine.MaxWatchdog.Milliseconds(),
	}
	if lm.storage != nil {
		opts.Programs = lm.storage
	}
	lm.engine, err = engine.New(opts)
	if err != nil {
		lm.closeStorage()
		return nil, err
	}

	evOpts := events.Options{
		Runner:        lm.engine,
		Endpoints:     lm.registry,
		Clock:         lm.clock,
		Logger:        logger.Named("events"),
		CheckInterval: cfg.Events.CheckInterval,
	}
	if cfg.Events.Persist {
		evOpts.Recorder = lm.storage
	}
	lm.events = events.NewManager(evOpts)
	lm.events.Attach(lm.registry)
	if path := cfg.Events.ConfigFile; path != "" {
		if err := lm.events.LoadConfigFile(path); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				lm.closeStorage()
				return nil, err
			}
			logger.Info("Event config file not found, starting without triggers", zap.String("path", path))
		}
	}

	if len(cfg.Modbus.Devices) > 0 {
		lm.modbus, err = modbus.NewDriver(cfg.Modbus, lm.registry, logger.Named("modbus"))
		if err != nil {
			lm.closeStorage()
			return nil, err
		}
	}

	lm.registry.OnStatusChange(func(fullName string, online bool) {
		lm.wsHub.Broadcast(websocket.NewEndpointStatusMessage(fullName, online))
	})
	lm.registry.OnValueChange(func(fullName string, v value.Value) {
		lm.wsHub.Broadcast(websocket.NewEndpointValueMessage(fullName, v))
	})

	return lm, nil
}

func (lm *LifecycleManager) retentiveStore() (memory.RetentiveStore, error) {
	switch lm.config.Retentive.Backend {
	case config.RetentivePostgres:
		return lm.storage, nil
	case config.RetentiveFile:
		fs, err := storage.NewFileStore(lm.config.Retentive.Dir, lm.logger.Named("retentive"))
		if err != nil {
			return nil, err
		}
		return fs, nil
	default:
		lm.logger.Warn("Retentive storage disabled, retentive variables reset on restart")
		return nil, nil
	}
}

func (lm *LifecycleManager) engineHooks() engine.Hooks {
	stopAfter := lm.config.Engine.WatchdogStopAfter

	return engine.Hooks{
		OnStateChange: func(name string, state program.State) {
			lm.wsHub.Broadcast(websocket.NewProgramStateMessage(name, state.String()))
		},
		OnWatchdog: func(inc engine.Incident) {
			lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeWatchdog, websocket.WatchdogData{
				Program:     inc.Program,
				DurationUs:  inc.Duration.Microseconds(),
				WatchdogMs:  inc.WatchdogMs,
				Consecutive: inc.Consecutive,
			}))
			lm.events.RecordIncident(inc.Program, events.KindWatchdogExceeded, inc.Error())

			if stopAfter > 0 && inc.Consecutive >= stopAfter {
				// Hooks run inside the scan.
				go func() {
					lm.logger.Error("Stopping program after repeated watchdog overruns",
						zap.String("program", inc.Program),
						zap.Int("consecutive", inc.Consecutive))
					if err := lm.engine.Stop(context.Background(), inc.Program); err != nil {
						lm.logger.Warn("Failed to stop program", zap.String("program", inc.Program), zap.Error(err))
					}
				}()
			}
		},
		OnDelete: func(name string) {
			lm.wsHub.Broadcast(websocket.NewProgramStateMessage(name, "DELETED"))
		},
	}
}

// Start loads stored programs and starts every service.
func (lm *LifecycleManager) Start() error {
	lm.logger.Info("Starting OpenSoftPLC")
	lm.startedAt = time.Now()

	go lm.wsHub.Run()
	lm.forwardEvents()

	ctx := context.Background()
	lm.loadPrograms(ctx)
	lm.autorun()

	lm.monitor.Start()
	if lm.modbus != nil {
		if err := lm.modbus.Start(); err != nil {
			lm.setError(fmt.Errorf("failed to start modbus driver: %w", err))
			return err
		}
	}
	if err := lm.events.Start(); err != nil {
		lm.setError(fmt.Errorf("failed to start event manager: %w", err))
		return err
	}

	if interval := lm.config.Retentive.SaveInterval; interval > 0 {
		saverCtx, cancel := context.WithCancel(ctx)
		lm.saverCancel = cancel
		lm.saverDone = make(chan struct{})
		go func() {
			defer close(lm.saverDone)
			lm.engine.RunRetentiveSaver(saverCtx, interval)
		}()
	}

	if err := lm.startGRPCServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start gRPC: %w", err))
		return err
	}

	if err := lm.startRESTServer(); err != nil {
		lm.setError(fmt.Errorf("failed to start REST API: %w", err))
		return err
	}

	lm.setState(StateRunning)

	lm.logger.Info("System started successfully",
		zap.Int("grpc_port", lm.config.Server.GRPCPort),
		zap.Int("http_port", lm.config.Server.HTTPPort),
		zap.Int("programs", len(lm.engine.Names())),
		zap.Bool("auth", lm.authn.Enabled()))

	return nil
}

// forwardEvents relays event history records to websocket clients.
func (lm *LifecycleManager) forwardEvents() {
	records, unsubscribe := lm.events.Subscribe()
	lm.unsubscribe = unsubscribe
	lm.eventsDone = make(chan struct{})

	go func() {
		defer close(lm.eventsDone)
		for rec := range records {
			lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeEvent, rec))
		}
	}()
}

// loadPrograms loads the programs saved in the database, then any program
// file in the program directory that is not loaded yet. A broken program is
// logged and skipped.
func (lm *LifecycleManager) loadPrograms(ctx context.Context) {
	if lm.storage != nil {
		stored, err := lm.storage.LoadPrograms(ctx)
		if err != nil {
			lm.logger.Warn("Failed to load programs from database", zap.Error(err))
		}
		for _, sp := range stored {
			lm.loadProgram(ctx, sp.Name, sp.Definition, "database")
		}
	}

	dir := lm.config.Engine.ProgramDir
	if dir == "" {
		return
	}
	files, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		lm.logger.Warn("Failed to list program directory", zap.String("dir", dir), zap.Error(err))
		return
	}
	sort.Strings(files)

	for _, path := range files {
		name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if _, err := lm.engine.Get(name); err == nil {
			lm.logger.Debug("Program already loaded, skipping file",
				zap.String("program", name),
				zap.String("path", path))
			continue
		}
		doc, err := os.ReadFile(path)
		if err != nil {
			lm.logger.Warn("Failed to read program file", zap.String("path", path), zap.Error(err))
			continue
		}
		lm.loadProgram(ctx, name, doc, path)
	}
}

func (lm *LifecycleManager) loadProgram(ctx context.Context, name string, doc []byte, source string) {
	if err := lm.engine.Load(ctx, name, doc); err != nil {
		lm.logger.Error("Failed to load program",
			zap.String("program", name),
			zap.String("source", source),
			zap.Error(err))
		return
	}
	lm.logger.Info("Program loaded",
		zap.String("program", name),
		zap.String("source", source))
}

func (lm *LifecycleManager) autorun() {
	for _, name := range lm.config.Engine.Autorun {
		if err := lm.engine.Run(name); err != nil {
			lm.logger.Error("Failed to autorun program", zap.String("program", name), zap.Error(err))
		}
	}
}

// Shutdown gracefully shuts down the system
func (lm *LifecycleManager) Shutdown(ctx context.Context) error {
	var shutdownErr error

	lm.shutdownOnce.Do(func() {
		lm.logger.Info("Shutting down system")

		lm.setState(StateStopping)

		shutdownErr = lm.gracefulShutdown(ctx)

		lm.setState(StateStopped)
		lm.wsHub.Stop()

		close(lm.shutdownChan)
	})

	return shutdownErr
}

// Done is closed once Shutdown has completed.
func (lm *LifecycleManager) Done() <-chan struct{} {
	return lm.shutdownChan
}

func (lm *LifecycleManager) gracefulShutdown(ctx context.Context) error {
	var errs []error

	// 1. Outer surfaces stop taking requests
	if lm.restServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := lm.restServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("rest api shutdown failed: %w", err))
		}
		cancel()
	}
	if lm.grpcServer != nil {
		lm.health.Shutdown()
		lm.grpcServer.GracefulStop()
	}

	// 2. Nothing may start programs anymore
	lm.events.Stop()
	if lm.unsubscribe != nil {
		lm.unsubscribe()
		<-lm.eventsDone
	}

	// 3. Field I/O
	if lm.modbus != nil {
		lm.modbus.Stop()
	}
	lm.monitor.Stop()

	// 4. Scan loop and final retentive save
	if lm.saverCancel != nil {
		lm.saverCancel()
		<-lm.saverDone
	}
	if err := lm.engine.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("engine close failed: %w", err))
	}

	lm.closeStorage()

	if err := errors.Join(errs...); err != nil {
		return err
	}
	lm.logger.Info("Graceful shutdown completed")
	return nil
}

func (lm *LifecycleManager) closeStorage() {
	if lm.storage != nil {
		lm.storage.Close()
	}
}

func (lm *LifecycleManager) startGRPCServer() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", lm.config.Server.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	lm.grpcServer = grpc.NewServer()
	lm.health = health.NewServer()
	lm.health.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(lm.grpcServer, lm.health)

	go func() {
		lm.logger.Info("gRPC server listening",
			zap.String("address", lis.Addr().String()),
			zap.String("services", "grpc.health.v1.Health"))
		if err := lm.grpcServer.Serve(lis); err != nil {
			lm.logger.Error("gRPC server failed", zap.Error(err))
		}
	}()

	return nil
}

func (lm *LifecycleManager) startRESTServer() error {
	lm.restServer = rest.NewServer(lm.config, lm, lm.logger.Named("rest"), lm.wsHub, lm.authn)
	return lm.restServer.Start()
}

func (lm *LifecycleManager) setState(state SystemState) {
	lm.stateMu.Lock()
	if err := ValidateTransition(lm.currentState, state); err != nil {
		lm.logger.Warn("Unexpected system state transition", zap.Error(err))
	}
	lm.currentState = state
	update := StatusUpdate{State: state, Timestamp: time.Now().Unix(), Error: lm.lastError}
	lm.stateMu.Unlock()

	if lm.health != nil {
		status := healthpb.HealthCheckResponse_NOT_SERVING
		if state == StateRunning {
			status = healthpb.HealthCheckResponse_SERVING
		}
		lm.health.SetServingStatus(HealthService, status)
	}
	lm.wsHub.Broadcast(websocket.NewMessage(websocket.MessageTypeSystemStatus, update))
}

func (lm *LifecycleManager) setError(err error) {
	lm.logger.Error("System error", zap.Error(err))
	lm.stateMu.Lock()
	lm.lastError = err.Error()
	lm.stateMu.Unlock()
	lm.setState(StateError)
}

// GetCurrentStatus returns current system status (Interface implementation)
func (lm *LifecycleManager) GetCurrentStatus() interfaces.SystemStatus {
	lm.stateMu.RLock()
	state := lm.currentState
	lm.stateMu.RUnlock()

	endpoints, online, devices, ioPoints := lm.registry.Stats()

	status := interfaces.SystemStatus{
		State:            state.String(),
		Engine:           lm.engine.Stats(),
		Endpoints:        endpoints,
		EndpointsOnline:  online,
		Devices:          devices,
		IOPoints:         ioPoints,
		Events:           lm.events.Stats(),
		WebSocketClients: lm.wsHub.GetClientCount(),
	}
	if !lm.startedAt.IsZero() {
		status.UptimeSeconds = int64(time.Since(lm.startedAt).Seconds())
	}
	return status
}

func (lm *LifecycleManager) Config() *config.Config {
	return lm.config
}

func (lm *LifecycleManager) Engine() *engine.Engine {
	return lm.engine
}

func (lm *LifecycleManager) Registry() *registry.Registry {
	return lm.registry
}

func (lm *LifecycleManager) Events() *events.Manager {
	return lm.events
}
