package ports

import (
	"context"

	"vivarium/internal/domain/decision"
)

// DecisionBackend turns an observation into an intent. Implementations
// may be slow, unavailable, or wrong; the dispatcher owns timeouts,
// retries and fallback, so backends just try.
type DecisionBackend interface {
	Name() string
	IsAvailable(ctx context.Context) bool
	Decide(ctx context.Context, obs decision.Observation) (decision.Intent, error)
}
