package modbus

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller reads every register of one device on a fixed interval.
type Poller struct {
	device   *Device
	driver   *Driver
	interval time.Duration
	logger   *zap.Logger
	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewPoller(device *Device, driver *Driver, interval time.Duration, logger *zap.Logger) *Poller {
	return &Poller{
		device:   device,
		driver:   driver,
		interval: interval,
		logger:   logger,
	}
}

func (p *Poller) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}

	p.running = true
	p.stopChan = make(chan struct{})
	p.wg.Add(1)

	go p.pollLoop(p.stopChan)

	p.logger.Info("Poller started",
		zap.String("device", p.device.ID()),
		zap.Duration("interval", p.interval))

	return nil
}

func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stopChan)
	p.running = false
	p.mu.Unlock()

	p.wg.Wait()
	p.device.Client.Close()

	p.logger.Info("Poller stopped", zap.String("device", p.device.ID()))
}

func (p *Poller) pollLoop(stop chan struct{}) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.Poll()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			p.Poll()
		}
	}
}

// Poll reads all registers once. A transport error marks the remaining
// registers offline without trying them; the client redials next cycle.
func (p *Poller) Poll() {
	timeout := p.interval
	if timeout < time.Second {
		timeout = time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	for i, reg := range p.device.Registers {
		v, err := p.device.Read(ctx, reg)
		if err != nil {
			p.logger.Debug("Poll failed",
				zap.String("device", p.device.ID()),
				zap.String("register", reg.Name),
				zap.Error(err))
			p.driver.failed(reg)

			if !p.device.Client.Connected() {
				for _, rest := range p.device.Registers[i+1:] {
					p.driver.failed(rest)
				}
				return
			}
			continue
		}
		p.driver.polled(reg, v)
	}
}

func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}
