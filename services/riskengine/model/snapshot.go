// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package model

import (
	"fmt"

	"github.com/KodiakSec/KodiakCore/services/riskengine/domain"
)

// Snapshot is a point-in-time copy of the model for read-only scans.
//
// Scans (consistency validation, loss cascades, rankings) operate on a
// snapshot so they can run concurrently with write traffic. The
// generation records which model version the snapshot reflects; a scan
// result keyed by generation is reproducible and cacheable.
type Snapshot struct {
	Generation uint64

	Entities         map[string]domain.Entity
	ControlLoops     map[string]domain.ControlLoop
	Relationships    map[string]domain.Relationship
	Hazards          map[string]domain.Hazard
	Losses           map[string]domain.Loss
	LossDependencies map[string]domain.LossDependency
	CVEs             map[string]domain.CVERecord
	Vulnerabilities  map[string]domain.EntityVulnerability
	Findings         map[string]domain.Finding
	Scenarios        map[string]domain.Scenario
}

// Snapshot copies the current model under the read lock.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &Snapshot{
		Generation:       s.generation,
		Entities:         make(map[string]domain.Entity, len(s.entities)),
		ControlLoops:     make(map[string]domain.ControlLoop, len(s.loops)),
		Relationships:    make(map[string]domain.Relationship, len(s.relationships)),
		Hazards:          make(map[string]domain.Hazard, len(s.hazards)),
		Losses:           make(map[string]domain.Loss, len(s.losses)),
		LossDependencies: make(map[string]domain.LossDependency, len(s.lossDeps)),
		CVEs:             make(map[string]domain.CVERecord, len(s.cves)),
		Vulnerabilities:  make(map[string]domain.EntityVulnerability, len(s.vulns)),
		Findings:         make(map[string]domain.Finding, len(s.findings)),
		Scenarios:        make(map[string]domain.Scenario, len(s.scenarios)),
	}
	for id, e := range s.entities {
		snap.Entities[id] = *e
	}
	for id, c := range s.loops {
		snap.ControlLoops[id] = *c
	}
	for id, r := range s.relationships {
		snap.Relationships[id] = *r
	}
	for id, h := range s.hazards {
		hc := *h
		hc.LossMappings = append([]domain.LossMapping(nil), h.LossMappings...)
		snap.Hazards[id] = hc
	}
	for id, l := range s.losses {
		lc := *l
		lc.Stakeholders = append([]string(nil), l.Stakeholders...)
		snap.Losses[id] = lc
	}
	for id, d := range s.lossDeps {
		snap.LossDependencies[id] = *d
	}
	for id, c := range s.cves {
		snap.CVEs[id] = *c
	}
	for id, v := range s.vulns {
		snap.Vulnerabilities[id] = copyVuln(v)
	}
	for id, f := range s.findings {
		snap.Findings[id] = *f
	}
	for id, sc := range s.scenarios {
		scc := *sc
		scc.HazardIDs = append([]string(nil), sc.HazardIDs...)
		scc.FindingIDs = append([]string(nil), sc.FindingIDs...)
		scc.ThreatActors = append([]string(nil), sc.ThreatActors...)
		scc.VulnerabilityIDs = append([]string(nil), sc.VulnerabilityIDs...)
		if sc.FactorAssessment != nil {
			fa := *sc.FactorAssessment
			scc.FactorAssessment = &fa
		}
		snap.Scenarios[id] = scc
	}
	return snap
}

// copyVuln deep-copies a vulnerability row, including its derived
// score pointers, so snapshot consumers cannot see later writes.
func copyVuln(v *domain.EntityVulnerability) domain.EntityVulnerability {
	vc := *v
	if v.BaseRiskScore != nil {
		b := *v.BaseRiskScore
		vc.BaseRiskScore = &b
	}
	if v.ContextualRiskScore != nil {
		c := *v.ContextualRiskScore
		vc.ContextualRiskScore = &c
	}
	return vc
}

// ContextualScore returns the current contextual score for a
// vulnerability row. The stale flag reports a row whose last recompute
// failed closed; the returned score is then the prior value, which is
// surfaced as stale rather than published as current.
func (s *Store) ContextualScore(id string) (score float64, stale bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vulns[id]
	if !ok {
		return 0, false, fmt.Errorf("%w: entity vulnerability %q", domain.ErrNotFound, id)
	}
	if v.ContextualRiskScore == nil {
		return 0, v.Stale, fmt.Errorf("%w: %q", domain.ErrScoreUndefined, id)
	}
	return *v.ContextualRiskScore, v.Stale, nil
}

// Entity returns a copy of one entity.
func (s *Store) Entity(id string) (domain.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entities[id]
	if !ok {
		return domain.Entity{}, fmt.Errorf("%w: entity %q", domain.ErrNotFound, id)
	}
	return *e, nil
}

// CVE returns a copy of one CVE record.
func (s *Store) CVE(id string) (domain.CVERecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.cves[id]
	if !ok {
		return domain.CVERecord{}, fmt.Errorf("%w: cve %q", domain.ErrNotFound, id)
	}
	return *c, nil
}

// Vulnerability returns a copy of one vulnerability row.
func (s *Store) Vulnerability(id string) (domain.EntityVulnerability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vulns[id]
	if !ok {
		return domain.EntityVulnerability{}, fmt.Errorf("%w: entity vulnerability %q", domain.ErrNotFound, id)
	}
	return copyVuln(v), nil
}

// Scenario returns a copy of one scenario.
func (s *Store) Scenario(id string) (domain.Scenario, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scenarios[id]
	if !ok {
		return domain.Scenario{}, fmt.Errorf("%w: scenario %q", domain.ErrNotFound, id)
	}
	scc := *sc
	scc.HazardIDs = append([]string(nil), sc.HazardIDs...)
	scc.VulnerabilityIDs = append([]string(nil), sc.VulnerabilityIDs...)
	if sc.FactorAssessment != nil {
		fa := *sc.FactorAssessment
		scc.FactorAssessment = &fa
	}
	return scc, nil
}

// =============================================================================
// Snapshot queries shared by scan packages
// =============================================================================

// VulnerabilitiesForEntity returns the vulnerability rows owned by one
// entity, in map order.
func (sn *Snapshot) VulnerabilitiesForEntity(entityID string) []domain.EntityVulnerability {
	var out []domain.EntityVulnerability
	for _, v := range sn.Vulnerabilities {
		if v.EntityID == entityID {
			out = append(out, v)
		}
	}
	return out
}

// HasFinding reports whether any finding of the given methodology
// targets the relationship.
func (sn *Snapshot) HasFinding(m domain.Methodology, relationshipID string) bool {
	for _, f := range sn.Findings {
		if f.Methodology == m && f.RelationshipID == relationshipID {
			return true
		}
	}
	return false
}

// HasEntityFinding reports whether any finding of the given methodology
// targets the entity.
func (sn *Snapshot) HasEntityFinding(m domain.Methodology, entityID string) bool {
	for _, f := range sn.Findings {
		if f.Methodology == m && f.EntityID == entityID {
			return true
		}
	}
	return false
}

// OutgoingDependencies returns the loss dependencies whose primary is
// the given loss.
func (sn *Snapshot) OutgoingDependencies(lossID string) []domain.LossDependency {
	var out []domain.LossDependency
	for _, d := range sn.LossDependencies {
		if d.PrimaryID == lossID {
			out = append(out, d)
		}
	}
	return out
}

// HazardCount returns the number of hazards mapping to the given loss.
func (sn *Snapshot) HazardCount(lossID string) int {
	n := 0
	for _, h := range sn.Hazards {
		for _, m := range h.LossMappings {
			if m.LossID == lossID {
				n++
				break
			}
		}
	}
	return n
}
