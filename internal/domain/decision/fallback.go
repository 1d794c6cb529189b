package decision

import "hash/fnv"

// Fallback urgency thresholds, shared with dispatch priority.
const (
	FallbackHungerSeekFood = 30.0
	FallbackEnergyRest     = 20.0
	FallbackHealthRest     = 30.0
)

// Fallback synthesizes a decision from the agent's own needs, inventory
// and position — no backend, no I/O, no randomness. It must stay pure:
// identical observations yield identical intents, which is what keeps
// backend-outage runs replayable. The wander direction is derived from
// a hash of (agent, tick) so stuck agents still spread out.
func Fallback(obs Observation) Intent {
	self := obs.Self

	if self.Vitals.Hunger < FallbackHungerSeekFood && self.Inventory["food"] > 0 {
		return Intent{Action: ActionEat, Item: "food", Reason: "fallback: hungry with food held"}
	}
	if self.Vitals.Hunger < FallbackHungerSeekFood {
		return Intent{Action: ActionForage, Reason: "fallback: hungry"}
	}
	if self.Vitals.Energy < FallbackEnergyRest {
		return Intent{Action: ActionRest, Reason: "fallback: exhausted"}
	}
	if self.Vitals.Health < FallbackHealthRest {
		return Intent{Action: ActionRest, Reason: "fallback: wounded"}
	}

	dx, dy := wanderStep(obs.AgentID, obs.Tick)
	return Intent{Action: ActionMove, DX: dx, DY: dy, Reason: "fallback: wander"}
}

var wanderDirections = [4][2]int{{1, 0}, {-1, 0}, {0, 1}, {0, -1}}

func wanderStep(agentID string, tick int64) (int, int) {
	h := fnv.New64a()
	h.Write([]byte(agentID))
	var buf [8]byte
	v := uint64(tick)
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
	h.Write(buf[:])
	d := wanderDirections[h.Sum64()%4]
	return d[0], d[1]
}
