package scripted

import (
	"context"
	"sync"

	"vivarium/internal/domain/decision"
)

// Backend is the deterministic decision backend: no network, no
// entropy. With no Script set it answers with the same pure heuristic
// the dispatcher falls back to, which makes offline runs and tests
// fully reproducible. Tests also use it as a programmable stub.
type Backend struct {
	BackendName string
	Unavailable bool
	Script      func(ctx context.Context, obs decision.Observation) (decision.Intent, error)

	mu    sync.Mutex
	calls []string
}

func New() *Backend {
	return &Backend{BackendName: "scripted"}
}

func (b *Backend) Name() string {
	if b.BackendName == "" {
		return "scripted"
	}
	return b.BackendName
}

func (b *Backend) IsAvailable(context.Context) bool {
	return !b.Unavailable
}

func (b *Backend) Decide(ctx context.Context, obs decision.Observation) (decision.Intent, error) {
	b.mu.Lock()
	b.calls = append(b.calls, obs.AgentID)
	b.mu.Unlock()

	if b.Script != nil {
		return b.Script(ctx, obs)
	}
	return decision.Fallback(obs), nil
}

// Calls returns agent IDs in the order Decide saw them.
func (b *Backend) Calls() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.calls))
	copy(out, b.calls)
	return out
}
