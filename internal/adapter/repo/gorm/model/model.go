// Package model holds the gorm row types. They stay flat and
// database-shaped; conversion to domain types lives in the repos.
package model

import "time"

type Agent struct {
	ID         string `gorm:"primaryKey"`
	Name       string
	Archetype  string
	Brain      string
	X          int
	Y          int
	Hunger     float64
	Energy     float64
	Health     float64
	Balance    int64
	Inventory  []byte
	Generation int
	Status     string `gorm:"index"`
	DeathCause string
	BornTick   int64
	DiedTick   *int64
	Version    int64
	UpdatedAt  time.Time
}

// SimEvent rows are append-only. Version carries the global total order
// and is assigned inside the insert; the unique index is what makes a
// racing duplicate assignment fail instead of fork the history.
type SimEvent struct {
	ID        string `gorm:"primaryKey"`
	Tick      int64  `gorm:"index;index:idx_sim_events_agent_tick,priority:2"`
	Type      string `gorm:"index"`
	AgentID   string `gorm:"index:idx_sim_events_agent_tick,priority:1"`
	Payload   []byte
	Version   int64 `gorm:"uniqueIndex"`
	CreatedAt time.Time
}

type Gestation struct {
	ID               string `gorm:"primaryKey"`
	ParentAgentID    string `gorm:"index"`
	PartnerAgentID   string
	StartTick        int64
	DurationTicks    int64
	Status           string `gorm:"index"`
	OffspringAgentID string
}

type LineageRecord struct {
	ID         string `gorm:"primaryKey"`
	AgentID    string `gorm:"uniqueIndex"`
	ParentID   string `gorm:"index"`
	PartnerID  string
	Generation int
	SpawnTick  int64
	Archetype  string
	Mutated    bool
}

type Experiment struct {
	ID        string `gorm:"primaryKey"`
	Name      string
	Status    string `gorm:"index"`
	CreatedAt time.Time
}

type ExperimentVariant struct {
	ID            string `gorm:"primaryKey"`
	ExperimentID  string `gorm:"index"`
	Sequence      int
	Name          string
	Status        string `gorm:"index"`
	DurationTicks int64
	StartTick     *int64
	EndTick       *int64
	WorldSeed     int64
	Config        []byte
}

// ClockState is a single-row table keyed by ClockStateID.
type ClockState struct {
	ID        int64 `gorm:"primaryKey;autoIncrement:false"`
	Tick      int64
	UpdatedAt time.Time
}

const ClockStateID int64 = 1
