package memory

import (
	"context"

	"vivarium/internal/app/ports"
	"vivarium/internal/domain/event"
)

type EventLog struct {
	store *Store
}

func NewEventLog(store *Store) EventLog {
	return EventLog{store: store}
}

// Append assigns the next version under the write lock, so concurrent
// appends get distinct contiguous versions. Re-appending an ID returns
// the stored event with ErrAlreadyRecorded.
func (l EventLog) Append(_ context.Context, evt event.Event) (event.Event, error) {
	if err := evt.Validate(); err != nil {
		return event.Event{}, err
	}
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	if idx, exists := l.store.eventIndex[evt.ID]; exists {
		return l.store.events[idx], ports.ErrAlreadyRecorded
	}
	evt.Version = int64(len(l.store.events)) + 1
	l.store.events = append(l.store.events, evt)
	l.store.eventIndex[evt.ID] = len(l.store.events) - 1
	return evt, nil
}

func (l EventLog) ListByAgent(_ context.Context, agentID string, limit int) ([]event.Event, error) {
	return l.filter(limit, func(e event.Event) bool { return e.AgentID == agentID })
}

func (l EventLog) ListByTick(_ context.Context, tick int64) ([]event.Event, error) {
	return l.filter(0, func(e event.Event) bool { return e.Tick == tick })
}

func (l EventLog) ListByTickRange(_ context.Context, fromTick, toTick int64, limit int) ([]event.Event, error) {
	return l.filter(limit, func(e event.Event) bool { return e.Tick >= fromTick && e.Tick <= toTick })
}

func (l EventLog) ListByType(_ context.Context, eventType string, limit int) ([]event.Event, error) {
	return l.filter(limit, func(e event.Event) bool { return e.Type == eventType })
}

// ListRecent is the one version-descending read.
func (l EventLog) ListRecent(_ context.Context, limit int) ([]event.Event, error) {
	l.store.mu.RLock()
	defer l.store.mu.RUnlock()
	n := len(l.store.events)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]event.Event, 0, n)
	for i := len(l.store.events) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, l.store.events[i])
	}
	return out, nil
}

func (l EventLog) LatestTick(_ context.Context) (int64, error) {
	l.store.mu.RLock()
	defer l.store.mu.RUnlock()
	var latest int64
	for _, e := range l.store.events {
		if e.Tick > latest {
			latest = e.Tick
		}
	}
	return latest, nil
}

func (l EventLog) DeleteAll(_ context.Context) error {
	l.store.mu.Lock()
	defer l.store.mu.Unlock()
	l.store.events = nil
	l.store.eventIndex = make(map[string]int)
	return nil
}

func (l EventLog) filter(limit int, keep func(event.Event) bool) ([]event.Event, error) {
	l.store.mu.RLock()
	defer l.store.mu.RUnlock()
	var out []event.Event
	for _, e := range l.store.events {
		if !keep(e) {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}
