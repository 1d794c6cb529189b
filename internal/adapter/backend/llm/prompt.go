package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"vivarium/internal/domain/decision"
)

func systemPrompt(obs decision.Observation) string {
	return fmt.Sprintf(
		`You are a survival agent on a %dx%d grid world. Each tick your hunger and energy drain; at zero they eat into health, and at zero health you die.

Respond ONLY with one JSON object choosing your next action:
- "action": one of "move", "forage", "eat", "rest", "work", "reproduce", "idle"
- move also needs "dx" and "dy", each between -%d and %d, not both zero
- eat also needs "item", the inventory item to consume
- reproduce also needs "partner_id", a nearby agent's id
- "reason": one short sentence

Valid actions:
- move: step towards food, partners, or safety
- forage: gather food at your position into inventory
- eat: consume an inventory item to restore hunger
- rest: recover energy
- work: earn balance at an energy cost
- reproduce: start a gestation with a nearby partner
- idle: do nothing`,
		obs.Geography.Width, obs.Geography.Height, decision.MaxStep, decision.MaxStep)
}

func userPrompt(obs decision.Observation) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Tick %d. You are %s at (%d,%d), archetype %s.\n",
		obs.Tick, obs.AgentID, obs.Self.Position.X, obs.Self.Position.Y, obs.Self.Archetype)
	fmt.Fprintf(&b, "Hunger %.0f, energy %.0f, health %.0f, balance %d.\n",
		obs.Self.Vitals.Hunger, obs.Self.Vitals.Energy, obs.Self.Vitals.Health, obs.Self.Balance)
	fmt.Fprintf(&b, "At current drain you survive roughly %d more ticks without acting.\n", obs.SurvivalTicks)

	if len(obs.Self.Inventory) > 0 {
		b.WriteString("Inventory:\n")
		for item, count := range obs.Self.Inventory {
			fmt.Fprintf(&b, "- %s x%d\n", item, count)
		}
	} else {
		b.WriteString("Your inventory is empty.\n")
	}

	if len(obs.Nearby) > 0 {
		b.WriteString("Nearby agents:\n")
		for _, other := range obs.Nearby {
			fmt.Fprintf(&b, "- %s at (%d,%d), archetype %s, distance %d\n",
				other.ID, other.Position.X, other.Position.Y, other.Archetype, other.Distance)
		}
	}

	if len(obs.RecentEvents) > 0 {
		b.WriteString("Recent events:\n")
		for _, evt := range obs.RecentEvents {
			if evt.AgentID != "" {
				fmt.Fprintf(&b, "- tick %d: %s (%s)\n", evt.Tick, evt.Type, evt.AgentID)
			} else {
				fmt.Fprintf(&b, "- tick %d: %s\n", evt.Tick, evt.Type)
			}
		}
	}

	b.WriteString("What do you do this tick? Respond with one JSON object.")
	return b.String()
}

// parseIntent pulls the JSON object out of the reply, tolerating prose
// around it, and validates the result so a malformed reply can never
// reach the executor.
func parseIntent(text string) (decision.Intent, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end == -1 || end <= start {
		return decision.Intent{}, fmt.Errorf("no JSON object in llm reply")
	}

	var intent decision.Intent
	if err := json.Unmarshal([]byte(text[start:end+1]), &intent); err != nil {
		return decision.Intent{}, fmt.Errorf("parse intent: %w", err)
	}
	if err := decision.Validate(intent); err != nil {
		return decision.Intent{}, err
	}
	return intent, nil
}
