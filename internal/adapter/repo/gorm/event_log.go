package gormrepo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"vivarium/internal/adapter/repo/gorm/model"
	"vivarium/internal/app/ports"
	"vivarium/internal/domain/event"
)

type EventLog struct {
	db *gorm.DB
}

func NewEventLog(db *gorm.DB) EventLog {
	return EventLog{db: db}
}

// appendSQL assigns MAX(version)+1 inside the insert itself, so version
// assignment and the write are one atomic statement; no read-then-write
// window. The NOT EXISTS guard turns a duplicate event ID into zero
// affected rows instead of an error.
const appendSQL = `
INSERT INTO sim_events (id, tick, type, agent_id, payload, version, created_at)
SELECT ?, ?, ?, ?, ?, COALESCE((SELECT MAX(version) FROM sim_events), 0) + 1, ?
WHERE NOT EXISTS (SELECT 1 FROM sim_events WHERE id = ?)`

// appendAttempts bounds retries when two writers computed the same
// version and one lost to the unique index.
const appendAttempts = 3

func (r EventLog) Append(ctx context.Context, evt event.Event) (event.Event, error) {
	if err := evt.Validate(); err != nil {
		return event.Event{}, err
	}
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return event.Event{}, fmt.Errorf("encode payload: %w", err)
	}

	db := getDBFromCtx(ctx, r.db)
	var lastErr error
	for attempt := 0; attempt < appendAttempts; attempt++ {
		res := db.Exec(appendSQL, evt.ID, evt.Tick, evt.Type, evt.AgentID, payload, evt.CreatedAt, evt.ID)
		if res.Error != nil {
			if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
				lastErr = res.Error
				continue
			}
			return event.Event{}, res.Error
		}
		if res.RowsAffected == 0 {
			stored, gerr := r.getByID(ctx, evt.ID)
			if gerr != nil {
				return event.Event{}, gerr
			}
			return stored, ports.ErrAlreadyRecorded
		}
		return r.getByID(ctx, evt.ID)
	}
	return event.Event{}, fmt.Errorf("append gave up after %d attempts: %w", appendAttempts, lastErr)
}

func (r EventLog) getByID(ctx context.Context, id string) (event.Event, error) {
	var m model.SimEvent
	if err := getDBFromCtx(ctx, r.db).Where(&model.SimEvent{ID: id}).First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return event.Event{}, ports.ErrNotFound
		}
		return event.Event{}, err
	}
	return eventFromModel(m), nil
}

func (r EventLog) ListByAgent(ctx context.Context, agentID string, limit int) ([]event.Event, error) {
	q := getDBFromCtx(ctx, r.db).
		Where(&model.SimEvent{AgentID: agentID}).
		Order("version ASC")
	return r.list(q, limit)
}

func (r EventLog) ListByTick(ctx context.Context, tick int64) ([]event.Event, error) {
	q := getDBFromCtx(ctx, r.db).
		Where("tick = ?", tick).
		Order("version ASC")
	return r.list(q, 0)
}

func (r EventLog) ListByTickRange(ctx context.Context, fromTick, toTick int64, limit int) ([]event.Event, error) {
	q := getDBFromCtx(ctx, r.db).
		Where("tick >= ? AND tick <= ?", fromTick, toTick).
		Order("version ASC")
	return r.list(q, limit)
}

func (r EventLog) ListByType(ctx context.Context, eventType string, limit int) ([]event.Event, error) {
	q := getDBFromCtx(ctx, r.db).
		Where(&model.SimEvent{Type: eventType}).
		Order("version ASC")
	return r.list(q, limit)
}

func (r EventLog) ListRecent(ctx context.Context, limit int) ([]event.Event, error) {
	q := getDBFromCtx(ctx, r.db).Order("version DESC")
	return r.list(q, limit)
}

func (r EventLog) list(q *gorm.DB, limit int) ([]event.Event, error) {
	if limit > 0 {
		q = q.Limit(limit)
	}
	var rows []model.SimEvent
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]event.Event, 0, len(rows))
	for _, m := range rows {
		out = append(out, eventFromModel(m))
	}
	return out, nil
}

func (r EventLog) LatestTick(ctx context.Context) (int64, error) {
	var tick int64
	err := getDBFromCtx(ctx, r.db).
		Raw("SELECT COALESCE(MAX(tick), 0) FROM sim_events").
		Scan(&tick).Error
	if err != nil {
		return 0, err
	}
	return tick, nil
}

func (r EventLog) DeleteAll(ctx context.Context) error {
	return getDBFromCtx(ctx, r.db).Exec("DELETE FROM sim_events").Error
}

func eventFromModel(m model.SimEvent) event.Event {
	var payload map[string]any
	if len(m.Payload) > 0 {
		_ = json.Unmarshal(m.Payload, &payload)
	}
	return event.Event{
		ID:        m.ID,
		Tick:      m.Tick,
		Type:      m.Type,
		AgentID:   m.AgentID,
		Payload:   payload,
		Version:   m.Version,
		CreatedAt: m.CreatedAt,
	}
}
