package agent

import (
	"vivarium/internal/domain/event"
)

// DecayResult is the outcome of one per-tick survival update for one
// agent.
type DecayResult struct {
	Next       Agent
	Died       bool
	Cause      DeathCause
	HealthLoss float64
	Events     []event.Event
}

// Decay applies one tick of survival pressure. It is a pure function of
// its inputs: no randomness, no I/O, no clock reads, so replays with
// identical state produce identical results. Dead agents pass through
// untouched.
func Decay(a Agent, tick int64, t DecayTuning) DecayResult {
	if !a.Alive() {
		return DecayResult{Next: a}
	}

	next := a.Clone()
	before := next.StatePayload()

	next.Vitals.Hunger = clampVital(next.Vitals.Hunger - t.HungerDrainPerTick)
	next.Vitals.Energy = clampVital(next.Vitals.Energy - t.EnergyDrainPerTick)

	hungerDeficit := deficit(next.Vitals.Hunger, t.HungerCritical)
	energyDeficit := deficit(next.Vitals.Energy, t.EnergyCritical)

	loss := HealthLossFromHungerCoeff*hungerDeficit + HealthLossFromEnergyCoeff*energyDeficit
	if loss > t.HealthLossCap {
		loss = t.HealthLossCap
	}
	if loss > 0 {
		next.Vitals.Health -= loss
		if next.Vitals.Health < VitalsFloor {
			next.Vitals.Health = VitalsFloor
		}
	}

	out := DecayResult{HealthLoss: loss}

	if next.Vitals.Health <= t.DeathThreshold {
		cause := DeathCauseExhaustion
		if hungerDeficit >= energyDeficit {
			cause = DeathCauseStarvation
		}
		next.MarkDead(cause, tick)
		out.Died = true
		out.Cause = cause
		out.Events = append(out.Events, event.New(event.TypeAgentDied, tick, next.ID, map[string]any{
			"cause":        string(cause),
			"state_before": before,
			"state_after":  next.StatePayload(),
		}))
	}

	next.Version++
	out.Next = next
	return out
}

func deficit(value, critical float64) float64 {
	if value >= critical {
		return 0
	}
	return critical - value
}

// ProjectedSurvivalTicks estimates how many further ticks the agent
// survives with no action taken, and which pressure kills it first.
// Used by observation building and fallback urgency; the estimate walks
// the same decay rules forward, so it agrees with Decay exactly.
func ProjectedSurvivalTicks(a Agent, t DecayTuning) (int64, DeathCause) {
	if !a.Alive() {
		return 0, a.DeathCause
	}
	const horizon = 10000
	probe := a.Clone()
	for i := int64(1); i <= horizon; i++ {
		res := Decay(probe, 0, t)
		if res.Died {
			return i, res.Cause
		}
		probe = res.Next
	}
	return horizon, ""
}
