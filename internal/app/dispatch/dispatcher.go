package dispatch

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"vivarium/internal/app/ports"
	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/decision"
)

const (
	DefaultWorkers       = 6
	DefaultPerJobTimeout = 10 * time.Second
	DefaultMaxAttempts   = 2
	DefaultBackoff       = 250 * time.Millisecond
)

// Dispatcher fans decision jobs out to backends over a fixed-size
// worker pool. Population size never changes backend load: at most
// Workers calls are in flight at once. Every failure path converges on
// the pure fallback heuristic, so DispatchAll always returns exactly
// one result per job.
type Dispatcher struct {
	Backends map[agent.Brain]ports.DecisionBackend
	Default  ports.DecisionBackend

	Workers       int
	PerJobTimeout time.Duration
	MaxAttempts   int
	Backoff       time.Duration

	// Offline skips backends entirely and answers every job with the
	// fallback heuristic. Deterministic runs set this.
	Offline bool

	Metrics ports.EngineMetrics
	Log     *zap.Logger
}

func New(def ports.DecisionBackend, log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		Default:       def,
		Workers:       DefaultWorkers,
		PerJobTimeout: DefaultPerJobTimeout,
		MaxAttempts:   DefaultMaxAttempts,
		Backoff:       DefaultBackoff,
		Metrics:       ports.NoopMetrics{},
		Log:           log,
	}
}

// DispatchAll resolves every job within budget. The batch budget is the
// outer bound; each job runs under min(PerJobTimeout, remaining
// budget). Jobs the pool cannot start before the budget expires resolve
// to fallback immediately. Results are ordered by (priority, agent ID).
func (d *Dispatcher) DispatchAll(ctx context.Context, jobs []Job, budget time.Duration) []Result {
	if len(jobs) == 0 {
		return []Result{}
	}

	ordered := make([]Job, len(jobs))
	copy(ordered, jobs)
	sort.SliceStable(ordered, func(i, j int) bool {
		pi := PriorityFor(ordered[i].Observation.Self.Vitals)
		pj := PriorityFor(ordered[j].Observation.Self.Vitals)
		if pi != pj {
			return pi < pj
		}
		return ordered[i].AgentID < ordered[j].AgentID
	})

	bctx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	results := make([]Result, len(ordered))
	idxCh := make(chan int)
	var g errgroup.Group
	for w := 0; w < d.workers(); w++ {
		g.Go(func() error {
			for idx := range idxCh {
				results[idx] = d.runJob(bctx, ordered[idx])
			}
			return nil
		})
	}

feed:
	for i := range ordered {
		select {
		case idxCh <- i:
		case <-bctx.Done():
			now := time.Now()
			for j := i; j < len(ordered); j++ {
				results[j] = d.fallbackResult(ordered[j], 0, "batch budget exhausted", now)
			}
			break feed
		}
	}
	close(idxCh)
	g.Wait()

	return results
}

func (d *Dispatcher) runJob(ctx context.Context, j Job) Result {
	start := time.Now()

	if d.Offline {
		return d.fallbackResult(j, 0, "", start)
	}
	be := d.backendFor(j.Brain)
	if be == nil {
		return d.fallbackResult(j, 0, "no backend for brain "+string(j.Brain), start)
	}

	jctx, cancel := context.WithTimeout(ctx, d.perJobTimeout())
	defer cancel()

	if !be.IsAvailable(jctx) {
		return d.fallbackResult(j, 0, "backend unavailable", start)
	}

	var lastErr error
	attempts := 0
	for attempt := 1; attempt <= d.maxAttempts(); attempt++ {
		if jctx.Err() != nil {
			break
		}
		attempts = attempt

		it, err := callBackend(jctx, be, j.Observation)
		if err == nil {
			err = decision.Validate(it)
			if err == nil {
				return Result{
					AgentID:        j.AgentID,
					Tick:           j.Tick,
					Intent:         it,
					Attempts:       attempt,
					ProcessingTime: time.Since(start),
				}
			}
		}
		lastErr = err
		d.metrics().RecordBackendError()
		d.Log.Debug("backend call failed",
			zap.String("agent_id", j.AgentID),
			zap.String("backend", be.Name()),
			zap.Int("attempt", attempt),
			zap.Error(err))

		// No retry once the per-job deadline has passed.
		if attempt < d.maxAttempts() && jctx.Err() == nil {
			select {
			case <-time.After(d.backoff() << (attempt - 1)):
			case <-jctx.Done():
			}
		}
	}

	reason := "per-job timeout"
	if lastErr != nil {
		reason = lastErr.Error()
	}
	return d.fallbackResult(j, attempts, reason, start)
}

type decideOutcome struct {
	intent decision.Intent
	err    error
}

// callBackend races Decide against the job context so even a backend
// that ignores cancellation cannot stall the worker.
func callBackend(ctx context.Context, be ports.DecisionBackend, obs decision.Observation) (decision.Intent, error) {
	done := make(chan decideOutcome, 1)
	go func() {
		it, err := be.Decide(ctx, obs)
		done <- decideOutcome{intent: it, err: err}
	}()
	select {
	case out := <-done:
		return out.intent, out.err
	case <-ctx.Done():
		return decision.Intent{}, ctx.Err()
	}
}

func (d *Dispatcher) fallbackResult(j Job, attempts int, reason string, start time.Time) Result {
	d.metrics().RecordFallbacks(1)
	return Result{
		AgentID:        j.AgentID,
		Tick:           j.Tick,
		Intent:         decision.Fallback(j.Observation),
		UsedFallback:   true,
		Attempts:       attempts,
		ProcessingTime: time.Since(start),
		Err:            reason,
	}
}

func (d *Dispatcher) backendFor(b agent.Brain) ports.DecisionBackend {
	if be, ok := d.Backends[b]; ok {
		return be
	}
	return d.Default
}

func (d *Dispatcher) workers() int {
	if d.Workers > 0 {
		return d.Workers
	}
	return DefaultWorkers
}

func (d *Dispatcher) perJobTimeout() time.Duration {
	if d.PerJobTimeout > 0 {
		return d.PerJobTimeout
	}
	return DefaultPerJobTimeout
}

func (d *Dispatcher) maxAttempts() int {
	if d.MaxAttempts > 0 {
		return d.MaxAttempts
	}
	return DefaultMaxAttempts
}

func (d *Dispatcher) backoff() time.Duration {
	if d.Backoff > 0 {
		return d.Backoff
	}
	return DefaultBackoff
}

func (d *Dispatcher) metrics() ports.EngineMetrics {
	if d.Metrics != nil {
		return d.Metrics
	}
	return ports.NoopMetrics{}
}
