// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package unified

import (
	"fmt"
	"sort"

	"github.com/KodiakSec/KodiakCore/services/riskengine/domain"
	"github.com/KodiakSec/KodiakCore/services/riskengine/model"
)

// RankingSize is how many open vulnerabilities the per-entity ranking
// returns by default; WithRankingSize overrides it.
const RankingSize = 10

// ActionPriority is the triage bucket attached to a ranked
// vulnerability.
type ActionPriority string

const (
	// PriorityImmediate marks a critical-path vulnerability scoring
	// above 70: fix before anything else.
	PriorityImmediate ActionPriority = "IMMEDIATE"

	// PriorityEmergency marks any vulnerability scoring above 80.
	PriorityEmergency ActionPriority = "EMERGENCY"

	PriorityCritical ActionPriority = "CRITICAL"
	PriorityHigh     ActionPriority = "HIGH"
	PriorityMedium   ActionPriority = "MEDIUM"
	PriorityLow      ActionPriority = "LOW"
)

// RankedVulnerability is one row of the mission-critical ranking view.
type RankedVulnerability struct {
	VulnerabilityID string         `json:"vulnerability_id"`
	CVEID           string         `json:"cve_id"`
	ContextualScore float64        `json:"contextual_score"`
	CriticalPath    bool           `json:"critical_path"`
	Priority        ActionPriority `json:"priority"`
}

// RankVulnerabilities returns the entity's top open vulnerabilities by
// contextual score descending, at most the configured ranking size.
//
// Rows without a computed score and rows in any non-open lifecycle
// status are excluded: the ranking is an action list, not an inventory.
func (a *Aggregator) RankVulnerabilities(snap *model.Snapshot, entityID string) ([]RankedVulnerability, error) {
	if _, ok := snap.Entities[entityID]; !ok {
		return nil, fmt.Errorf("%w: entity %q", domain.ErrNotFound, entityID)
	}

	var ranked []RankedVulnerability
	for _, v := range snap.VulnerabilitiesForEntity(entityID) {
		if v.Status != domain.StatusOpen || v.ContextualRiskScore == nil {
			continue
		}
		score := *v.ContextualRiskScore
		ranked = append(ranked, RankedVulnerability{
			VulnerabilityID: v.ID,
			CVEID:           v.CVEID,
			ContextualScore: score,
			CriticalPath:    v.MissionCriticalPath,
			Priority:        ActionBucket(score, v.MissionCriticalPath),
		})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].ContextualScore != ranked[j].ContextualScore {
			return ranked[i].ContextualScore > ranked[j].ContextualScore
		}
		return ranked[i].VulnerabilityID < ranked[j].VulnerabilityID
	})
	if len(ranked) > a.rankingSize {
		ranked = ranked[:a.rankingSize]
	}
	return ranked, nil
}

// ActionBucket derives the triage bucket from a contextual score and
// the critical-path flag. Matches are checked highest priority first;
// a critical-path row above 70 outranks even the emergency band.
func ActionBucket(score float64, criticalPath bool) ActionPriority {
	switch {
	case criticalPath && score > 70:
		return PriorityImmediate
	case score > 80:
		return PriorityEmergency
	case score > 60:
		return PriorityCritical
	case score > 40:
		return PriorityHigh
	case score > 20:
		return PriorityMedium
	default:
		return PriorityLow
	}
}
