// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package model owns the in-memory domain model and the engine's
// derived values.
//
// # Description
//
// The store is the single write surface for the engine. Every write
// validates field ranges, enforces referential integrity against the
// current model, and - for entity vulnerabilities - recomputes the
// derived base and contextual risk scores inside the same critical
// section. Collaborator data (entities, findings, scenarios) is stored
// as-is; only derived values are engine-owned.
//
// # Consistency Model
//
// A single global RWMutex guards the maps; each entity vulnerability
// additionally has a per-row mutex so an update-then-recompute sequence
// can never interleave with another writer on the same row. Lock order
// is always row lock first, then the store mutex. Full-model readers
// take a snapshot under the read lock and may observe a slightly stale
// model; a single row's score is never observable in a partially
// updated state.
package model

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/KodiakSec/KodiakCore/services/riskengine/contextual"
	"github.com/KodiakSec/KodiakCore/services/riskengine/domain"
	"github.com/KodiakSec/KodiakCore/services/riskengine/observability"
)

// DefaultRecomputeWorkers bounds parallelism for batch recomputes.
const DefaultRecomputeWorkers = 8

// Store holds the domain model and engine-owned derived values.
type Store struct {
	log     *slog.Logger
	metrics *observability.Metrics

	mu         sync.RWMutex
	generation uint64

	entities      map[string]*domain.Entity
	loops         map[string]*domain.ControlLoop
	relationships map[string]*domain.Relationship
	hazards       map[string]*domain.Hazard
	losses        map[string]*domain.Loss
	lossDeps      map[string]*domain.LossDependency
	depPairs      map[string]string // ordered pair key -> dependency ID
	cves          map[string]*domain.CVERecord
	vulns         map[string]*domain.EntityVulnerability
	vulnPairs     map[string]string // entity|cve key -> vulnerability ID
	findings      map[string]*domain.Finding
	scenarios     map[string]*domain.Scenario

	rowGuard sync.Mutex
	rowLocks map[string]*sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the store's logger. Defaults to slog.Default().
func WithLogger(log *slog.Logger) Option {
	return func(s *Store) { s.log = log }
}

// WithMetrics attaches engine metrics. May be nil.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// NewStore creates an empty model store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		log:           slog.Default(),
		entities:      make(map[string]*domain.Entity),
		loops:         make(map[string]*domain.ControlLoop),
		relationships: make(map[string]*domain.Relationship),
		hazards:       make(map[string]*domain.Hazard),
		losses:        make(map[string]*domain.Loss),
		lossDeps:      make(map[string]*domain.LossDependency),
		depPairs:      make(map[string]string),
		cves:          make(map[string]*domain.CVERecord),
		vulns:         make(map[string]*domain.EntityVulnerability),
		vulnPairs:     make(map[string]string),
		findings:      make(map[string]*domain.Finding),
		scenarios:     make(map[string]*domain.Scenario),
		rowLocks:      make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// rowLock returns the per-row mutex for a vulnerability ID, creating it
// on first use.
func (s *Store) rowLock(id string) *sync.Mutex {
	s.rowGuard.Lock()
	defer s.rowGuard.Unlock()
	mu, ok := s.rowLocks[id]
	if !ok {
		mu = &sync.Mutex{}
		s.rowLocks[id] = mu
	}
	return mu
}

// bump increments the generation counter. Caller must hold s.mu.
func (s *Store) bump() {
	s.generation++
	s.metrics.SetGeneration(s.generation)
}

// Generation returns the current model generation. The counter
// increments on every successful write, so scan results can be keyed by
// the generation they were computed from.
func (s *Store) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

func pairKey(a, b string) string { return a + "\x00" + b }

// =============================================================================
// Entity / relationship writes
// =============================================================================

// UpsertEntity inserts or replaces an entity.
func (s *Store) UpsertEntity(e domain.Entity) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if err := e.Validate(); err != nil {
		s.metrics.ObserveWrite("entity", false)
		return err
	}
	s.mu.Lock()
	_, existed := s.entities[e.ID]
	s.entities[e.ID] = &e
	s.bump()
	s.mu.Unlock()

	s.metrics.ObserveWrite("entity", true)
	// A criticality or exposure change invalidates every score on the
	// entity; recompute outside the store lock.
	if existed {
		s.recomputeForEntity(e.ID)
	}
	return nil
}

// DeleteEntity removes an entity and cascades to its relationships,
// vulnerabilities, findings, and the scenarios anchored on removed
// relationships. Deleting a nonexistent entity is ErrNotFound.
func (s *Store) DeleteEntity(id string) error {
	s.mu.Lock()
	if _, ok := s.entities[id]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: entity %q", domain.ErrNotFound, id)
	}
	delete(s.entities, id)

	removedRels := make(map[string]bool)
	invalidated := make(map[string]bool)
	for rid, r := range s.relationships {
		if r.SourceID == id || r.TargetID == id {
			removedRels[rid] = true
			if r.ControlLoopID != "" {
				// The surviving endpoint may have just lost its
				// control-loop membership.
				other := r.SourceID
				if other == id {
					other = r.TargetID
				}
				if other != id {
					invalidated[other] = true
				}
			}
			delete(s.relationships, rid)
		}
	}
	var removedVulns []string
	for vid, v := range s.vulns {
		if v.EntityID == id {
			delete(s.vulnPairs, pairKey(v.EntityID, v.CVEID))
			delete(s.vulns, vid)
			removedVulns = append(removedVulns, vid)
		}
	}
	for fid, f := range s.findings {
		if f.EntityID == id || removedRels[f.RelationshipID] {
			delete(s.findings, fid)
		}
	}
	for sid, sc := range s.scenarios {
		if removedRels[sc.RelationshipID] {
			delete(s.scenarios, sid)
		}
	}
	s.bump()
	s.mu.Unlock()

	// Row locks for cascaded-away rows would otherwise accumulate for
	// the life of the store.
	s.rowGuard.Lock()
	for _, vid := range removedVulns {
		delete(s.rowLocks, vid)
	}
	s.rowGuard.Unlock()

	for eid := range invalidated {
		s.recomputeForEntity(eid)
	}
	s.log.Info("entity deleted with cascade",
		"entity_id", id,
		"relationships_removed", len(removedRels),
	)
	return nil
}

// UpsertControlLoop inserts or replaces a control loop.
func (s *Store) UpsertControlLoop(c domain.ControlLoop) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if err := c.Validate(); err != nil {
		s.metrics.ObserveWrite("control_loop", false)
		return err
	}
	s.mu.Lock()
	s.loops[c.ID] = &c
	s.bump()
	s.mu.Unlock()
	s.metrics.ObserveWrite("control_loop", true)
	return nil
}

// UpsertRelationship inserts or replaces a relationship. Both endpoints
// and any referenced control loop must exist.
func (s *Store) UpsertRelationship(r domain.Relationship) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if err := r.Validate(); err != nil {
		s.metrics.ObserveWrite("relationship", false)
		return err
	}
	s.mu.Lock()
	if _, ok := s.entities[r.SourceID]; !ok {
		s.mu.Unlock()
		s.metrics.ObserveWrite("relationship", false)
		return domain.NewReferenceError("entity", r.SourceID, r.ID)
	}
	if _, ok := s.entities[r.TargetID]; !ok {
		s.mu.Unlock()
		s.metrics.ObserveWrite("relationship", false)
		return domain.NewReferenceError("entity", r.TargetID, r.ID)
	}
	if r.ControlLoopID != "" {
		if _, ok := s.loops[r.ControlLoopID]; !ok {
			s.mu.Unlock()
			s.metrics.ObserveWrite("relationship", false)
			return domain.NewReferenceError("control_loop", r.ControlLoopID, r.ID)
		}
	}
	prev, replaced := s.relationships[r.ID]
	s.relationships[r.ID] = &r
	s.bump()
	affected := map[string]bool{r.SourceID: true, r.TargetID: true}
	if replaced {
		affected[prev.SourceID] = true
		affected[prev.TargetID] = true
	}
	s.mu.Unlock()

	s.metrics.ObserveWrite("relationship", true)
	// Control-loop membership feeds the mission multiplier. Replacing a
	// relationship can strip that membership from its old endpoints, so
	// those rescore as well.
	for eid := range affected {
		s.recomputeForEntity(eid)
	}
	return nil
}

// =============================================================================
// Hazard / loss writes
// =============================================================================

// UpsertLoss inserts or replaces a loss.
func (s *Store) UpsertLoss(l domain.Loss) error {
	if l.ID == "" {
		l.ID = uuid.NewString()
	}
	if err := l.Validate(); err != nil {
		s.metrics.ObserveWrite("loss", false)
		return err
	}
	s.mu.Lock()
	s.losses[l.ID] = &l
	s.bump()
	s.mu.Unlock()
	s.metrics.ObserveWrite("loss", true)
	return nil
}

// UpsertHazard inserts or replaces a hazard. Every loss mapping must
// resolve to an existing loss; an unresolved reference rejects the
// whole write.
func (s *Store) UpsertHazard(h domain.Hazard) error {
	if h.ID == "" {
		h.ID = uuid.NewString()
	}
	if err := h.Validate(); err != nil {
		s.metrics.ObserveWrite("hazard", false)
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range h.LossMappings {
		if _, ok := s.losses[m.LossID]; !ok {
			s.metrics.ObserveWrite("hazard", false)
			return domain.NewReferenceError("loss", m.LossID, h.ID)
		}
	}
	s.hazards[h.ID] = &h
	s.bump()
	s.metrics.ObserveWrite("hazard", true)
	return nil
}

// UpsertLossDependency inserts a directed loss dependency. Self-loops
// and duplicate ordered pairs are rejected; cycles through longer paths
// are allowed.
func (s *Store) UpsertLossDependency(d domain.LossDependency) error {
	if d.ID == "" {
		d.ID = uuid.NewString()
	}
	if err := d.Validate(); err != nil {
		s.metrics.ObserveWrite("loss_dependency", false)
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.losses[d.PrimaryID]; !ok {
		s.metrics.ObserveWrite("loss_dependency", false)
		return domain.NewReferenceError("loss", d.PrimaryID, d.ID)
	}
	if _, ok := s.losses[d.DependentID]; !ok {
		s.metrics.ObserveWrite("loss_dependency", false)
		return domain.NewReferenceError("loss", d.DependentID, d.ID)
	}
	key := pairKey(d.PrimaryID, d.DependentID)
	if existing, ok := s.depPairs[key]; ok && existing != d.ID {
		s.metrics.ObserveWrite("loss_dependency", false)
		return fmt.Errorf("%w: loss dependency %s -> %s", domain.ErrDuplicate, d.PrimaryID, d.DependentID)
	}
	if old, ok := s.lossDeps[d.ID]; ok {
		delete(s.depPairs, pairKey(old.PrimaryID, old.DependentID))
	}
	s.lossDeps[d.ID] = &d
	s.depPairs[key] = d.ID
	s.bump()
	s.metrics.ObserveWrite("loss_dependency", true)
	return nil
}

// =============================================================================
// CVE / vulnerability writes
// =============================================================================

// UpsertCVE inserts or replaces a CVE record. All entity
// vulnerabilities linked to the CVE get their base and contextual
// scores re-derived before this call returns: a changed CVE linkage
// must never leave a stale derived value behind.
func (s *Store) UpsertCVE(c domain.CVERecord) error {
	if c.ID == "" {
		s.metrics.ObserveWrite("cve", false)
		return fmt.Errorf("%w: CVE id is required", domain.ErrInvalidInput)
	}
	if err := c.Validate(); err != nil {
		s.metrics.ObserveWrite("cve", false)
		return err
	}
	s.mu.Lock()
	s.cves[c.ID] = &c
	s.bump()
	var linked []string
	for id, v := range s.vulns {
		if v.CVEID == c.ID {
			linked = append(linked, id)
		}
	}
	s.mu.Unlock()

	s.metrics.ObserveWrite("cve", true)
	for _, id := range linked {
		if err := s.Recompute(id); err != nil {
			s.log.Warn("recompute after CVE update failed closed",
				"vulnerability_id", id, "cve_id", c.ID, "error", err)
		}
	}
	return nil
}

// UpsertEntityVulnerability inserts or replaces an entity vulnerability
// and recomputes its derived scores inside the same write transaction.
//
// The (entity, CVE) pair is unique. Both links must resolve; range
// violations (data-sensitivity multiplier, control effectiveness) are
// rejected at write time, never clamped. On success the row's base and
// contextual scores are fresh when the call returns.
func (s *Store) UpsertEntityVulnerability(v domain.EntityVulnerability) error {
	if v.ID == "" {
		v.ID = uuid.NewString()
	}
	if v.Status == "" {
		v.Status = domain.StatusOpen
	}
	// ControlReduction is stored and independently computed; writers
	// supply layer scores only.
	v.ControlReduction = v.Controls.Reduction()
	if err := v.Validate(); err != nil {
		s.metrics.ObserveWrite("entity_vulnerability", false)
		return err
	}

	row := s.rowLock(v.ID)
	row.Lock()
	defer row.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[v.EntityID]; !ok {
		s.metrics.ObserveWrite("entity_vulnerability", false)
		return domain.NewReferenceError("entity", v.EntityID, v.ID)
	}
	if _, ok := s.cves[v.CVEID]; !ok {
		s.metrics.ObserveWrite("entity_vulnerability", false)
		return domain.NewReferenceError("cve", v.CVEID, v.ID)
	}
	key := pairKey(v.EntityID, v.CVEID)
	if existing, ok := s.vulnPairs[key]; ok && existing != v.ID {
		s.metrics.ObserveWrite("entity_vulnerability", false)
		return fmt.Errorf("%w: entity %s already has vulnerability for %s", domain.ErrDuplicate, v.EntityID, v.CVEID)
	}
	if old, ok := s.vulns[v.ID]; ok {
		delete(s.vulnPairs, pairKey(old.EntityID, old.CVEID))
	}

	s.vulns[v.ID] = &v
	s.vulnPairs[key] = v.ID
	s.recomputeLocked(&v)
	s.bump()
	s.metrics.ObserveWrite("entity_vulnerability", true)
	return nil
}

// Recompute re-derives the base and contextual scores for one
// vulnerability row. A missing CVE or entity link fails closed: the
// prior scores are left untouched and the row is flagged stale.
func (s *Store) Recompute(id string) error {
	row := s.rowLock(id)
	row.Lock()
	defer row.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.vulns[id]
	if !ok {
		return fmt.Errorf("%w: entity vulnerability %q", domain.ErrNotFound, id)
	}
	return s.recomputeLocked(v)
}

// recomputeLocked re-derives scores for a row. Caller must hold both
// the row lock and s.mu.
func (s *Store) recomputeLocked(v *domain.EntityVulnerability) error {
	cve, cveOK := s.cves[v.CVEID]
	ent, entOK := s.entities[v.EntityID]
	if !cveOK || !entOK {
		v.Stale = true
		s.metrics.ObserveRecompute(false)
		missing := "cve"
		missingID := v.CVEID
		if !entOK {
			missing = "entity"
			missingID = v.EntityID
		}
		return fmt.Errorf("%w: %s %q for vulnerability %q", domain.ErrMissingDependency, missing, missingID, v.ID)
	}

	base := cve.Severity
	score := contextual.Score(contextual.Input{
		BaseScore:              base,
		Criticality:            ent.Criticality,
		Exposure:               ent.Exposure,
		ExposedToInternet:      v.ExposedToInternet,
		RequiresAuthentication: v.RequiresAuthentication,
		KnownExploited:         cve.KnownExploited,
		InTheWild:              cve.InTheWild,
		ExploitMaturity:        cve.ExploitMaturity,
		EPSS:                   cve.EPSS,
		MissionCriticalPath:    v.MissionCriticalPath,
		OnControlLoop:          s.entityOnControlLoopLocked(v.EntityID),
		ControlReduction:       v.ControlReduction,
	})
	v.BaseRiskScore = &base
	v.ContextualRiskScore = &score
	v.Stale = false
	s.metrics.ObserveRecompute(true)
	return nil
}

// entityOnControlLoopLocked reports whether the entity touches any
// control-loop relationship. Caller must hold s.mu (read or write).
func (s *Store) entityOnControlLoopLocked(entityID string) bool {
	for _, r := range s.relationships {
		if r.ControlLoopID != "" && (r.SourceID == entityID || r.TargetID == entityID) {
			return true
		}
	}
	return false
}

// recomputeForEntity re-derives every row on one entity. Runs after
// writes that change entity-level score inputs.
func (s *Store) recomputeForEntity(entityID string) {
	s.mu.RLock()
	var ids []string
	for id, v := range s.vulns {
		if v.EntityID == entityID {
			ids = append(ids, id)
		}
	}
	s.mu.RUnlock()
	for _, id := range ids {
		if err := s.Recompute(id); err != nil {
			s.log.Warn("entity-triggered recompute failed closed",
				"vulnerability_id", id, "entity_id", entityID, "error", err)
		}
	}
}

// RecomputeAll re-derives every vulnerability row, fanning out across a
// bounded worker pool. Rows are independent, so order between them does
// not matter; each row is still serialized by its own lock.
//
// Per-row failures are collected and returned together rather than
// aborting the batch.
func (s *Store) RecomputeAll(ctx context.Context, workers int) map[string]error {
	if workers <= 0 {
		workers = DefaultRecomputeWorkers
	}
	s.mu.RLock()
	ids := make([]string, 0, len(s.vulns))
	for id := range s.vulns {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	failures := make(map[string]error)
	sem := make(chan struct{}, workers)

	for _, id := range ids {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			defer func() { <-sem }()
			if err := s.Recompute(id); err != nil {
				errMu.Lock()
				failures[id] = err
				errMu.Unlock()
			}
		}(id)
	}
	wg.Wait()
	return failures
}

// =============================================================================
// Finding / scenario writes
// =============================================================================

// UpsertFinding inserts or replaces a methodology finding. The target
// entity or relationship must exist.
func (s *Store) UpsertFinding(f domain.Finding) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if err := f.Validate(); err != nil {
		s.metrics.ObserveWrite("finding", false)
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if f.EntityID != "" {
		if _, ok := s.entities[f.EntityID]; !ok {
			s.metrics.ObserveWrite("finding", false)
			return domain.NewReferenceError("entity", f.EntityID, f.ID)
		}
	}
	if f.RelationshipID != "" {
		if _, ok := s.relationships[f.RelationshipID]; !ok {
			s.metrics.ObserveWrite("finding", false)
			return domain.NewReferenceError("relationship", f.RelationshipID, f.ID)
		}
	}
	s.findings[f.ID] = &f
	s.bump()
	s.metrics.ObserveWrite("finding", true)
	return nil
}

// UpsertScenario inserts or replaces a scenario. The write is atomic:
// every reference (relationship, hazards, findings, vulnerabilities) is
// checked before anything is stored, so a rejected scenario leaves no
// partial record behind.
func (s *Store) UpsertScenario(sc domain.Scenario) error {
	if sc.ID == "" {
		sc.ID = uuid.NewString()
	}
	if err := sc.Validate(); err != nil {
		s.metrics.ObserveWrite("scenario", false)
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.relationships[sc.RelationshipID]; !ok {
		s.metrics.ObserveWrite("scenario", false)
		return domain.NewReferenceError("relationship", sc.RelationshipID, sc.ID)
	}
	for _, hid := range sc.HazardIDs {
		if _, ok := s.hazards[hid]; !ok {
			s.metrics.ObserveWrite("scenario", false)
			return domain.NewReferenceError("hazard", hid, sc.ID)
		}
	}
	for _, fid := range sc.FindingIDs {
		if _, ok := s.findings[fid]; !ok {
			s.metrics.ObserveWrite("scenario", false)
			return domain.NewReferenceError("finding", fid, sc.ID)
		}
	}
	for _, vid := range sc.VulnerabilityIDs {
		if _, ok := s.vulns[vid]; !ok {
			s.metrics.ObserveWrite("scenario", false)
			return domain.NewReferenceError("entity_vulnerability", vid, sc.ID)
		}
	}
	s.scenarios[sc.ID] = &sc
	s.bump()
	s.metrics.ObserveWrite("scenario", true)
	return nil
}

// =============================================================================
// Mission flags
// =============================================================================

// ApplyMissionFlags sets the mission-critical-path flag on every
// vulnerability owned by an entity in the given set and clears it
// elsewhere, recomputing each changed row. Returns the number of rows
// whose flag changed.
func (s *Store) ApplyMissionFlags(entityIDs map[string]bool) int {
	s.mu.RLock()
	var changed []string
	for id, v := range s.vulns {
		want := entityIDs[v.EntityID]
		if v.MissionCriticalPath != want {
			changed = append(changed, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range changed {
		row := s.rowLock(id)
		row.Lock()
		s.mu.Lock()
		if v, ok := s.vulns[id]; ok {
			v.MissionCriticalPath = entityIDs[v.EntityID]
			if err := s.recomputeLocked(v); err != nil {
				s.log.Warn("mission-flag recompute failed closed",
					"vulnerability_id", id, "error", err)
			}
			s.bump()
		}
		s.mu.Unlock()
		row.Unlock()
	}
	return len(changed)
}
