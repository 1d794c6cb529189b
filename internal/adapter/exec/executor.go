// Package exec applies decided intents to agent state. Execution is
// deterministic: the same intent against the same agent yields the same
// outcome, so a seeded run replays exactly. Failed actions report a
// failure code and leave the agent untouched; transport or store errors
// are the only error returns.
package exec

import (
	"context"
	"errors"
	"fmt"

	"vivarium/internal/app/ports"
	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/decision"
	"vivarium/internal/domain/lineage"
	"vivarium/internal/domain/world"
)

// Action economy. Gains and costs are flat so outcomes stay replayable.
const (
	MoveEnergyCostPerStep = 1.0

	ForageYield      = 1
	ForageEnergyCost = 3.0

	EatHungerRestore = 25.0

	RestEnergyRestore = 20.0

	WorkWage       int64 = 2
	WorkEnergyCost       = 5.0

	ReproduceMinHunger  = 40.0
	ReproduceMinEnergy  = 30.0
	ReproduceEnergyCost = 10.0
	PartnerRange        = 2
	GestationTicks      int64 = 12
)

// Failure codes surfaced in tick results and action events.
const (
	FailNoItem         = "no_item"
	FailPartnerMissing = "partner_not_found"
	FailPartnerDead    = "partner_dead"
	FailPartnerFar     = "partner_too_far"
	FailTooWeak        = "too_weak"
	FailSelfPartner    = "self_partner"
)

type Executor struct {
	agents ports.AgentRepository
}

func New(agents ports.AgentRepository) *Executor {
	return &Executor{agents: agents}
}

func (e *Executor) Execute(ctx context.Context, it decision.Intent, ag agent.Agent, geo world.Geography, tick int64) (ports.ActionOutcome, error) {
	if err := decision.Validate(it); err != nil {
		return failure(ag, err.Error()), nil
	}

	switch it.Action {
	case decision.ActionMove:
		return e.move(it, ag, geo), nil
	case decision.ActionForage:
		return e.forage(ag), nil
	case decision.ActionEat:
		return e.eat(it, ag), nil
	case decision.ActionRest:
		return e.rest(ag), nil
	case decision.ActionWork:
		return e.work(ag), nil
	case decision.ActionReproduce:
		return e.reproduce(ctx, it, ag, tick)
	case decision.ActionIdle:
		return success(ag), nil
	default:
		return failure(ag, "unknown_action"), nil
	}
}

func (e *Executor) move(it decision.Intent, ag agent.Agent, geo world.Geography) ports.ActionOutcome {
	next := ag.Clone()
	next.Position = geo.Step(next.Position, it.DX, it.DY)
	steps := chebyshev(it.DX, it.DY)
	next.Vitals.Energy -= MoveEnergyCostPerStep * float64(steps)
	next.Vitals = next.Vitals.ClampBounded()
	return success(next)
}

func (e *Executor) forage(ag agent.Agent) ports.ActionOutcome {
	next := ag.Clone()
	next.AddItem("food", ForageYield)
	next.Vitals.Energy -= ForageEnergyCost
	next.Vitals = next.Vitals.ClampBounded()
	return success(next)
}

func (e *Executor) eat(it decision.Intent, ag agent.Agent) ports.ActionOutcome {
	next := ag.Clone()
	if !next.ConsumeItem(it.Item, 1) {
		return failure(ag, FailNoItem)
	}
	next.Vitals.Hunger += EatHungerRestore
	next.Vitals = next.Vitals.ClampBounded()
	return success(next)
}

func (e *Executor) rest(ag agent.Agent) ports.ActionOutcome {
	next := ag.Clone()
	next.Vitals.Energy += RestEnergyRestore
	next.Vitals = next.Vitals.ClampBounded()
	return success(next)
}

func (e *Executor) work(ag agent.Agent) ports.ActionOutcome {
	next := ag.Clone()
	next.Balance += WorkWage
	next.Vitals.Energy -= WorkEnergyCost
	next.Vitals = next.Vitals.ClampBounded()
	return success(next)
}

// reproduce checks the partner at execution time, not decision time:
// the partner may have died or moved since the observation was built.
func (e *Executor) reproduce(ctx context.Context, it decision.Intent, ag agent.Agent, tick int64) (ports.ActionOutcome, error) {
	if it.PartnerID == ag.ID {
		return failure(ag, FailSelfPartner), nil
	}
	if ag.Vitals.Hunger < ReproduceMinHunger || ag.Vitals.Energy < ReproduceMinEnergy {
		return failure(ag, FailTooWeak), nil
	}

	partner, err := e.agents.Get(ctx, it.PartnerID)
	if err != nil {
		if errors.Is(err, ports.ErrNotFound) {
			return failure(ag, FailPartnerMissing), nil
		}
		return ports.ActionOutcome{}, fmt.Errorf("load partner %s: %w", it.PartnerID, err)
	}
	if !partner.Alive() {
		return failure(ag, FailPartnerDead), nil
	}
	if world.Distance(ag.Position, partner.Position) > PartnerRange {
		return failure(ag, FailPartnerFar), nil
	}

	next := ag.Clone()
	next.Vitals.Energy -= ReproduceEnergyCost
	next.Vitals = next.Vitals.ClampBounded()

	g := lineage.NewGestation(ag.ID, partner.ID, tick, GestationTicks)
	out := success(next)
	out.Gestation = &g
	return out, nil
}

func success(next agent.Agent) ports.ActionOutcome {
	next.Version++
	return ports.ActionOutcome{Success: true, Updated: next}
}

func failure(ag agent.Agent, code string) ports.ActionOutcome {
	return ports.ActionOutcome{Success: false, FailureCode: code, Updated: ag}
}

func chebyshev(dx, dy int) int {
	if dx < 0 {
		dx = -dx
	}
	if dy < 0 {
		dy = -dy
	}
	if dx > dy {
		return dx
	}
	return dy
}
