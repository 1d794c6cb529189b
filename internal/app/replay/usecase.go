// Package replay serves the event-sourced reads: ordered history
// slices, per-agent state reconstruction, and the stream digest used to
// compare seeded runs.
package replay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"vivarium/internal/app/ports"
	"vivarium/internal/domain/event"
)

var ErrInvalidRequest = errors.New("invalid replay request")

type UseCase struct {
	Events ports.EventLog
}

// Execute replays one agent's history and folds it into its latest
// state. FromTick/ToTick optionally narrow the window; zero means
// unbounded on that side.
func (u UseCase) Execute(ctx context.Context, req Request) (Response, error) {
	if strings.TrimSpace(req.AgentID) == "" {
		return Response{}, fmt.Errorf("%w: agent id is required", ErrInvalidRequest)
	}
	if req.FromTick > 0 && req.ToTick > 0 && req.FromTick > req.ToTick {
		return Response{}, fmt.Errorf("%w: from_tick after to_tick", ErrInvalidRequest)
	}
	events, err := u.Events.ListByAgent(ctx, req.AgentID, req.Limit)
	if err != nil {
		return Response{}, err
	}
	events = filterByTickWindow(events, req.FromTick, req.ToTick)
	latest := reconstruct(events)
	latest.AgentID = req.AgentID
	return Response{Events: events, LatestState: latest, Digest: Digest(events)}, nil
}

// DigestRange digests the whole world's event stream over a tick range.
// This is the determinism check: two seeded runs of the same variant
// must produce equal digests. A zero toTick means up to the latest
// recorded tick.
func (u UseCase) DigestRange(ctx context.Context, fromTick, toTick int64) (RangeResponse, error) {
	if fromTick < 0 || (toTick > 0 && toTick < fromTick) {
		return RangeResponse{}, fmt.Errorf("%w: bad tick range [%d, %d]", ErrInvalidRequest, fromTick, toTick)
	}
	if toTick <= 0 {
		latest, err := u.Events.LatestTick(ctx)
		if err != nil && !errors.Is(err, ports.ErrNotFound) {
			return RangeResponse{}, err
		}
		toTick = latest
	}
	events, err := u.Events.ListByTickRange(ctx, fromTick, toTick, 0)
	if err != nil {
		return RangeResponse{}, err
	}
	return RangeResponse{
		FromTick:   fromTick,
		ToTick:     toTick,
		EventCount: len(events),
		Digest:     Digest(events),
	}, nil
}

func filterByTickWindow(events []event.Event, from, to int64) []event.Event {
	if from <= 0 && to <= 0 {
		return events
	}
	out := make([]event.Event, 0, len(events))
	for _, evt := range events {
		if from > 0 && evt.Tick < from {
			continue
		}
		if to > 0 && evt.Tick > to {
			continue
		}
		out = append(out, evt)
	}
	return out
}

// reconstruct folds state_after payloads in order. Events without one
// (tick bookkeeping, gestation notices) do not carry state and are
// skipped, though they still count toward EventCount.
func reconstruct(events []event.Event) ReconstructedState {
	state := ReconstructedState{EventCount: len(events)}
	for _, evt := range events {
		state.LastTick = evt.Tick
		after, ok := evt.Payload["state_after"].(map[string]any)
		if !ok {
			continue
		}
		if pos, ok := after["position"].(map[string]any); ok {
			state.Position.X = int(num(pos["x"]))
			state.Position.Y = int(num(pos["y"]))
		}
		state.Vitals.Hunger = num(after["hunger"])
		state.Vitals.Energy = num(after["energy"])
		state.Vitals.Health = num(after["health"])
		state.Balance = int64(num(after["balance"]))
		if s, ok := after["status"].(string); ok {
			state.Status = s
		}
		state.Generation = int(num(after["generation"]))
		state.Inventory = inventory(after["inventory"])
		if action, ok := evt.Payload["action"].(string); ok {
			state.LastAction = action
		}
	}
	return state
}

func inventory(v any) map[string]int {
	items, ok := v.(map[string]any)
	if !ok || len(items) == 0 {
		return nil
	}
	out := make(map[string]int, len(items))
	for k, n := range items {
		out[k] = int(num(n))
	}
	return out
}

func num(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	case int64:
		return float64(n)
	default:
		return 0
	}
}
