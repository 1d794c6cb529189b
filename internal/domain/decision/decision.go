package decision

import (
	"errors"
	"fmt"
)

type Action string

const (
	ActionMove      Action = "move"
	ActionForage    Action = "forage"
	ActionEat       Action = "eat"
	ActionRest      Action = "rest"
	ActionWork      Action = "work"
	ActionReproduce Action = "reproduce"
	ActionIdle      Action = "idle"
)

// Intent is the tagged action union: one Action plus the params that
// action reads. Unknown tags are rejected at validation, never applied.
type Intent struct {
	Action    Action `json:"action"`
	DX        int    `json:"dx,omitempty"`
	DY        int    `json:"dy,omitempty"`
	Item      string `json:"item,omitempty"`
	PartnerID string `json:"partner_id,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

var ErrUnknownAction = errors.New("unknown action")
var ErrInvalidParams = errors.New("invalid action params")

// MaxStep bounds a single move so one decision cannot teleport an
// agent across the world.
const MaxStep = 3

type paramValidator func(Intent) error

var paramValidators = map[Action]paramValidator{
	ActionMove: func(it Intent) error {
		if it.DX == 0 && it.DY == 0 {
			return fmt.Errorf("%w: move requires dx or dy", ErrInvalidParams)
		}
		if it.DX < -MaxStep || it.DX > MaxStep || it.DY < -MaxStep || it.DY > MaxStep {
			return fmt.Errorf("%w: step exceeds %d", ErrInvalidParams, MaxStep)
		}
		return nil
	},
	ActionForage: func(Intent) error { return nil },
	ActionEat: func(it Intent) error {
		if it.Item == "" {
			return fmt.Errorf("%w: eat requires item", ErrInvalidParams)
		}
		return nil
	},
	ActionRest: func(Intent) error { return nil },
	ActionWork: func(Intent) error { return nil },
	ActionReproduce: func(it Intent) error {
		if it.PartnerID == "" {
			return fmt.Errorf("%w: reproduce requires partner_id", ErrInvalidParams)
		}
		return nil
	},
	ActionIdle: func(Intent) error { return nil },
}

func Validate(it Intent) error {
	v, ok := paramValidators[it.Action]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownAction, it.Action)
	}
	return v(it)
}

// Params returns the intent's populated params as a payload map, for
// event recording.
func (it Intent) Params() map[string]any {
	out := map[string]any{}
	if it.DX != 0 {
		out["dx"] = it.DX
	}
	if it.DY != 0 {
		out["dy"] = it.DY
	}
	if it.Item != "" {
		out["item"] = it.Item
	}
	if it.PartnerID != "" {
		out["partner_id"] = it.PartnerID
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
