// Package memory is the in-process implementation of the persistence
// ports. It backs tests and the zero-dependency dev mode; the gorm
// adapter is the durable one. Every repo method takes the store lock on
// its own, so the repos are safe to use with or without the TxManager.
package memory

import (
	"sync"

	"vivarium/internal/domain/agent"
	"vivarium/internal/domain/event"
	"vivarium/internal/domain/experiment"
	"vivarium/internal/domain/lineage"
)

// Store holds every aggregate behind one RWMutex. Events live in a
// slice whose index fixes the version: events[i].Version == i+1, which
// keeps the append-assigns-next-version contract trivial.
type Store struct {
	mu sync.RWMutex
	// txMu serializes RunInTx bodies. It is separate from mu so repo
	// calls inside a transaction do not deadlock on the re-entry.
	txMu sync.Mutex

	agents      map[string]agent.Agent
	events      []event.Event
	eventIndex  map[string]int
	gestations  map[string]lineage.Gestation
	lineage     map[string]lineage.Record
	experiments map[string]experiment.Experiment
	variants    map[string]experiment.Variant
	clockTick   int64
	clockSet    bool
}

func NewStore() *Store {
	return &Store{
		agents:      make(map[string]agent.Agent),
		eventIndex:  make(map[string]int),
		gestations:  make(map[string]lineage.Gestation),
		lineage:     make(map[string]lineage.Record),
		experiments: make(map[string]experiment.Experiment),
		variants:    make(map[string]experiment.Variant),
	}
}
