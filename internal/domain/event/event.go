package event

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Event types, one per domain occurrence.
const (
	TypeTickStart           = "tick_start"
	TypeTickEnd             = "tick_end"
	TypeAgentAction         = "agent_action"
	TypeAgentDied           = "agent_died"
	TypeAgentSpawned        = "agent_spawned"
	TypeGestationStarted    = "gestation_started"
	TypeGestationFailed     = "gestation_failed"
	TypeVariantStarted      = "variant_started"
	TypeVariantCompleted    = "variant_completed"
	TypeExperimentCompleted = "experiment_completed"
	TypeWorldReset          = "world_reset"
)

// Event is one immutable entry of the append-only log. Version is the
// global strictly increasing sequence number; it is zero until the log
// assigns it at append time. Events are never mutated or deleted except
// by a world reset.
type Event struct {
	ID        string         `json:"id"`
	Tick      int64          `json:"tick"`
	Type      string         `json:"type"`
	AgentID   string         `json:"agent_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
	Version   int64          `json:"version"`
	CreatedAt time.Time      `json:"created_at"`
}

func New(eventType string, tick int64, agentID string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Tick:      tick,
		Type:      eventType,
		AgentID:   agentID,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	}
}

var ErrMissingType = errors.New("event type is required")
var ErrNegativeTick = errors.New("event tick must not be negative")

func (e Event) Validate() error {
	if e.Type == "" {
		return ErrMissingType
	}
	if e.Tick < 0 {
		return ErrNegativeTick
	}
	return nil
}
