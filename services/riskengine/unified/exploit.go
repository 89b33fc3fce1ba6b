// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package unified

import (
	"fmt"

	"github.com/KodiakSec/KodiakCore/services/riskengine/domain"
	"github.com/KodiakSec/KodiakCore/services/riskengine/model"
)

// Timeline is the predicted exploitation window for a CVE.
type Timeline string

const (
	TimelineImminent   Timeline = "imminent"    // < 7 days
	TimelineVeryLikely Timeline = "very_likely" // < 30 days
	TimelineLikely     Timeline = "likely"      // < 90 days
	TimelinePossible   Timeline = "possible"    // < 180 days
	TimelineUnlikely   Timeline = "unlikely"
)

// ExploitationPrediction is the triage view for one CVE.
type ExploitationPrediction struct {
	CVEID string `json:"cve_id"`

	// Probability is the exploitation likelihood on the 0-1 scale.
	Probability float64 `json:"probability"`

	Timeline Timeline `json:"timeline"`

	// RecommendedAction is the human-facing guidance string for the
	// predicted window.
	RecommendedAction string `json:"recommended_action"`

	// BusinessImpact estimates blast value: the maximum affected-entity
	// criticality rank times the highest data-sensitivity multiplier
	// among linked rows. Zero when no entity links the CVE.
	BusinessImpact float64 `json:"business_impact"`

	// AffectedEntities counts entities linked to the CVE.
	AffectedEntities int `json:"affected_entities"`
}

// PredictExploitation produces the exploitation-likelihood prediction
// for one CVE in the snapshot.
func (a *Aggregator) PredictExploitation(snap *model.Snapshot, cveID string) (*ExploitationPrediction, error) {
	cve, ok := snap.CVEs[cveID]
	if !ok {
		return nil, fmt.Errorf("%w: cve %q", domain.ErrNotFound, cveID)
	}

	p := ExploitProbability(cve)
	pred := &ExploitationPrediction{
		CVEID:       cveID,
		Probability: p,
		Timeline:    timelineFor(p),
	}
	pred.RecommendedAction = recommendedAction(pred.Timeline, cve)

	maxRank := 0
	maxSensitivity := 0.0
	for _, v := range snap.Vulnerabilities {
		if v.CVEID != cveID {
			continue
		}
		pred.AffectedEntities++
		if ent, ok := snap.Entities[v.EntityID]; ok {
			if r := ent.Criticality.Rank(); r > maxRank {
				maxRank = r
			}
		}
		if v.DataSensitivity > maxSensitivity {
			maxSensitivity = v.DataSensitivity
		}
	}
	pred.BusinessImpact = float64(maxRank) * maxSensitivity
	return pred, nil
}

// ExploitProbability derives the exploitation likelihood from a CVE's
// intelligence fields. Confirmed exploitation dominates; otherwise the
// maturity tier, then tiered EPSS scaling.
func ExploitProbability(cve domain.CVERecord) float64 {
	switch {
	case cve.KnownExploited:
		return 1.0
	case cve.InTheWild:
		return 0.9
	case cve.ExploitMaturity == domain.MaturityHigh:
		return 0.8
	case cve.ExploitMaturity == domain.MaturityFunctional:
		return 0.6
	}
	// EPSS-only estimate: trust high scores, discount the middle band,
	// and halve the long tail.
	switch {
	case cve.EPSS > 0.7:
		return cve.EPSS
	case cve.EPSS > 0.3:
		return cve.EPSS * 0.8
	default:
		return cve.EPSS * 0.5
	}
}

// timelineFor maps a probability to its predicted window.
func timelineFor(p float64) Timeline {
	switch {
	case p >= 0.9:
		return TimelineImminent
	case p >= 0.7:
		return TimelineVeryLikely
	case p >= 0.5:
		return TimelineLikely
	case p >= 0.3:
		return TimelinePossible
	default:
		return TimelineUnlikely
	}
}

// recommendedAction builds the guidance string for a predicted window.
func recommendedAction(t Timeline, cve domain.CVERecord) string {
	switch t {
	case TimelineImminent:
		if cve.Ransomware {
			return "Patch immediately: exploitation expected within 7 days and the vulnerability is associated with ransomware campaigns"
		}
		return "Patch immediately: exploitation expected within 7 days"
	case TimelineVeryLikely:
		return "Schedule emergency patching: exploitation very likely within 30 days"
	case TimelineLikely:
		return "Prioritize in the next patch cycle: exploitation likely within 90 days"
	case TimelinePossible:
		return "Patch in normal cadence and monitor exploit intelligence"
	default:
		return "Track in routine vulnerability management"
	}
}
