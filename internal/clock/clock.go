// Package clock provides the time sources used by the scan engine.
//
// Timers, watchdogs and endpoint last-seen stamps use a monotonic millisecond
// counter anchored at process start. Wall-clock time is only consulted by
// scheduler and calendar blocks, and only once it is considered synchronized.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source handed to blocks, the registry and the engine.
type Clock interface {
	// NowMs returns monotonic milliseconds since the clock was created.
	NowMs() int64
	// Wall returns the current UTC wall-clock time and whether it is synchronized.
	Wall() (time.Time, bool)
}

// minSyncedYear is the earliest year accepted as a synchronized wall clock.
// Edge nodes without RTC boot at the epoch until NTP catches up.
const minSyncedYear = 2020

type System struct {
	start time.Time
}

// NewSystem anchors a monotonic clock at the current instant.
func NewSystem() *System {
	return &System{start: time.Now()}
}

func (s *System) NowMs() int64 {
	return time.Since(s.start).Milliseconds()
}

func (s *System) Wall() (time.Time, bool) {
	now := time.Now().UTC()
	return now, now.Year() >= minSyncedYear
}

// Manual is a clock driven explicitly by tests.
type Manual struct {
	mu     sync.Mutex
	now    int64
	wall   time.Time
	synced bool
}

func NewManual() *Manual {
	return &Manual{}
}

func (m *Manual) NowMs() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *Manual) Wall() (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wall, m.synced
}

// Set moves the monotonic counter to ms.
func (m *Manual) Set(ms int64) {
	m.mu.Lock()
	m.now = ms
	m.mu.Unlock()
}

// Advance moves the monotonic counter forward by ms.
func (m *Manual) Advance(ms int64) {
	m.mu.Lock()
	m.now += ms
	m.mu.Unlock()
}

// SetWall sets the wall-clock time and marks it synchronized.
func (m *Manual) SetWall(t time.Time) {
	m.mu.Lock()
	m.wall = t.UTC()
	m.synced = true
	m.mu.Unlock()
}

// Unsync marks the wall clock as not synchronized.
func (m *Manual) Unsync() {
	m.mu.Lock()
	m.synced = false
	m.mu.Unlock()
}
