// Package inmemory aggregates engine counters for the KPI endpoint.
// Everything lives behind one mutex; Snapshot returns a copy so readers
// never hold the recorder open.
package inmemory

import (
	"sync"
	"time"
)

type Snapshot struct {
	TicksProcessed  uint64  `json:"ticks_processed"`
	LastTickMs      float64 `json:"last_tick_ms"`
	AvgTickMs       float64 `json:"avg_tick_ms"`
	AgentsLast      int     `json:"agents_last"`
	ActionsExecuted uint64  `json:"actions_executed"`
	Deaths          uint64  `json:"deaths"`
	Births          uint64  `json:"births"`
	Fallbacks       uint64  `json:"fallbacks"`
	BackendErrors   uint64  `json:"backend_errors"`
	AppendFailures  uint64  `json:"append_failures"`
}

type Recorder struct {
	mu             sync.Mutex
	ticks          uint64
	lastTick       time.Duration
	totalTick      time.Duration
	agentsLast     int
	actions        uint64
	deaths         uint64
	births         uint64
	fallbacks      uint64
	backendErrors  uint64
	appendFailures uint64
}

func NewRecorder() *Recorder {
	return &Recorder{}
}

func (r *Recorder) RecordTick(d time.Duration, agents, actions, deaths, births int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ticks++
	r.lastTick = d
	r.totalTick += d
	r.agentsLast = agents
	r.actions += uint64(actions)
	r.deaths += uint64(deaths)
	r.births += uint64(births)
}

func (r *Recorder) RecordFallbacks(n int) {
	if n <= 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallbacks += uint64(n)
}

func (r *Recorder) RecordBackendError() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.backendErrors++
}

func (r *Recorder) RecordAppendFailure() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appendFailures++
}

func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := Snapshot{
		TicksProcessed:  r.ticks,
		LastTickMs:      float64(r.lastTick.Microseconds()) / 1000,
		AgentsLast:      r.agentsLast,
		ActionsExecuted: r.actions,
		Deaths:          r.deaths,
		Births:          r.births,
		Fallbacks:       r.fallbacks,
		BackendErrors:   r.backendErrors,
		AppendFailures:  r.appendFailures,
	}
	if r.ticks > 0 {
		avg := r.totalTick / time.Duration(r.ticks)
		out.AvgTickMs = float64(avg.Microseconds()) / 1000
	}
	return out
}

func (r *Recorder) SnapshotAny() any {
	return r.Snapshot()
}
