package registry

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// OfflineMonitor periodically runs CheckOffline so endpoints whose driver
// went silent are flipped offline without driver cooperation.
type OfflineMonitor struct {
	registry *Registry
	timeout  time.Duration
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewOfflineMonitor(r *Registry, timeout, interval time.Duration, logger *zap.Logger) *OfflineMonitor {
	return &OfflineMonitor{
		registry: r,
		timeout:  timeout,
		interval: interval,
		logger:   logger,
		stopChan: make(chan struct{}),
	}
}

func (m *OfflineMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running || m.interval <= 0 {
		return
	}

	m.running = true
	m.wg.Add(1)
	go m.loop()

	m.logger.Info("Offline monitor started",
		zap.Duration("timeout", m.timeout),
		zap.Duration("interval", m.interval))
}

func (m *OfflineMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.mu.Unlock()

	close(m.stopChan)
	m.wg.Wait()

	m.logger.Info("Offline monitor stopped")
}

func (m *OfflineMonitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopChan:
			return
		case <-ticker.C:
			if flipped := m.registry.CheckOffline(m.timeout.Milliseconds()); len(flipped) > 0 {
				m.logger.Debug("Offline sweep", zap.Int("flipped", len(flipped)))
			}
		}
	}
}
