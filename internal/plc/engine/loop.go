package engine

import (
	"time"

	"go.uber.org/zap"
)

// Running reports whether the scan loop is active.
func (e *Engine) Running() bool {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()
	return e.running
}

func (e *Engine) startLoop() {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	if e.running {
		return
	}

	e.running = true
	e.stopChan = make(chan struct{})
	e.wg.Add(1)

	go e.scanLoop(e.stopChan)

	e.logger.Info("Scan loop started", zap.Duration("interval", e.opts.ScanInterval))
}

func (e *Engine) stopLoop() {
	e.loopMu.Lock()
	if e.running {
		close(e.stopChan)
		e.running = false
	}
	e.loopMu.Unlock()

	e.wg.Wait()
}

func (e *Engine) scanLoop(stop chan struct{}) {
	defer e.wg.Done()

	ticker := time.NewTicker(e.opts.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			e.logger.Info("Scan loop stopped")
			return
		case <-ticker.C:
			if e.EvaluateAll() > 0 {
				continue
			}
			if e.idle(stop) {
				e.logger.Info("Scan loop idle, all programs stopped")
				return
			}
		}
	}
}

// idle ends this loop when no program is active. Run changes the program
// state before calling startLoop, so a program started concurrently is seen
// here or gets a fresh loop.
func (e *Engine) idle(stop chan struct{}) bool {
	e.loopMu.Lock()
	defer e.loopMu.Unlock()

	select {
	case <-stop:
		return true
	default:
	}

	for _, p := range e.snapshot(nil) {
		if !stopped(p) {
			return false
		}
	}
	e.running = false
	return true
}
