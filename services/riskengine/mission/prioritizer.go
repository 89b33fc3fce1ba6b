// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package mission flags vulnerabilities sitting on mission-critical
// paths.
//
// # Description
//
// The mission statement declares essential dependencies by naming
// controlled processes. Every entity participating in a control loop
// over one of those processes is on the mission-critical path, and its
// vulnerabilities get the elevated mission multiplier in the contextual
// score plus priority elevation in the ranking view.
package mission

import (
	"log/slog"

	"github.com/KodiakSec/KodiakCore/services/riskengine/model"
)

// Prioritizer computes and applies mission-critical-path flags.
type Prioritizer struct {
	log   *slog.Logger
	store *model.Store
}

// Option configures a Prioritizer.
type Option func(*Prioritizer)

// WithLogger sets the prioritizer's logger.
func WithLogger(log *slog.Logger) Option {
	return func(p *Prioritizer) { p.log = log }
}

// NewPrioritizer creates a prioritizer over the given store.
func NewPrioritizer(store *model.Store, opts ...Option) *Prioritizer {
	p := &Prioritizer{log: slog.Default(), store: store}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// CriticalEntities computes the set of entities participating in any
// control loop whose controlled process appears in the mission
// dependency list. The computation is read-only; Apply installs the
// result.
func (p *Prioritizer) CriticalEntities(snap *model.Snapshot, processes []string) map[string]bool {
	wanted := make(map[string]bool, len(processes))
	for _, proc := range processes {
		wanted[proc] = true
	}

	loops := make(map[string]bool)
	for id, loop := range snap.ControlLoops {
		if wanted[loop.ControlledProcess] {
			loops[id] = true
		}
	}

	entities := make(map[string]bool)
	for _, rel := range snap.Relationships {
		if rel.ControlLoopID == "" || !loops[rel.ControlLoopID] {
			continue
		}
		entities[rel.SourceID] = true
		entities[rel.TargetID] = true
	}
	return entities
}

// Apply recomputes the mission-critical entity set from the current
// model and installs the flags through the store's write path, so
// every changed row's contextual score is re-derived before Apply
// returns. Returns the critical entity set and the number of rows
// whose flag changed.
func (p *Prioritizer) Apply(processes []string) (map[string]bool, int) {
	snap := p.store.Snapshot()
	entities := p.CriticalEntities(snap, processes)
	changed := p.store.ApplyMissionFlags(entities)
	p.log.Info("mission flags applied",
		"declared_processes", len(processes),
		"critical_entities", len(entities),
		"rows_changed", changed,
	)
	return entities, changed
}
