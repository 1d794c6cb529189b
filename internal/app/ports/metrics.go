package ports

import "time"

type EngineMetrics interface {
	RecordTick(d time.Duration, agents, actions, deaths, births int)
	RecordFallbacks(n int)
	RecordBackendError()
	RecordAppendFailure()
}

// NoopMetrics satisfies EngineMetrics for wiring that does not care.
type NoopMetrics struct{}

func (NoopMetrics) RecordTick(time.Duration, int, int, int, int) {}
func (NoopMetrics) RecordFallbacks(int)                          {}
func (NoopMetrics) RecordBackendError()                          {}
func (NoopMetrics) RecordAppendFailure()                         {}
