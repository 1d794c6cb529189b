package agent

// Default decay tuning. Hunger and energy drain by fixed per-tick
// amounts; below the critical floors health damage accrues
// proportionally to the deficit, capped per tick.
const (
	DefaultHungerDrainPerTick = 2.0
	DefaultEnergyDrainPerTick = 1.5

	DefaultHungerCritical = 20.0
	DefaultEnergyCritical = 15.0

	HealthLossFromHungerCoeff = 0.08
	HealthLossFromEnergyCoeff = 0.05
	HealthLossCapPerTick      = 12.0

	DefaultDeathThreshold = 0.0

	NewbornHunger = 70.0
	NewbornEnergy = 70.0
	NewbornHealth = 100.0

	FounderHunger = 80.0
	FounderEnergy = 90.0
	FounderHealth = 100.0
)

type DecayTuning struct {
	HungerDrainPerTick float64 `yaml:"hunger_drain_per_tick"`
	EnergyDrainPerTick float64 `yaml:"energy_drain_per_tick"`
	HungerCritical     float64 `yaml:"hunger_critical"`
	EnergyCritical     float64 `yaml:"energy_critical"`
	HealthLossCap      float64 `yaml:"health_loss_cap"`
	DeathThreshold     float64 `yaml:"death_threshold"`
}

func DefaultDecayTuning() DecayTuning {
	return DecayTuning{
		HungerDrainPerTick: DefaultHungerDrainPerTick,
		EnergyDrainPerTick: DefaultEnergyDrainPerTick,
		HungerCritical:     DefaultHungerCritical,
		EnergyCritical:     DefaultEnergyCritical,
		HealthLossCap:      HealthLossCapPerTick,
		DeathThreshold:     DefaultDeathThreshold,
	}
}
