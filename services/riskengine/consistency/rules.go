// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package consistency scans the model for cross-framework coverage
// gaps.
//
// # Description
//
// Each rule pairs two methodologies: the presence of a finding under
// one implies a required finding under another, and its absence is a
// gap. Rules are independent predicates registered on a validator, so
// new methodology pairings can be added without touching existing
// rules. The scan is read-only and idempotent: the same snapshot always
// yields the same gap list in the same order.
package consistency

import (
	"fmt"
	"sort"

	"github.com/KodiakSec/KodiakCore/services/riskengine/domain"
	"github.com/KodiakSec/KodiakCore/services/riskengine/model"
)

// Severity grades how urgent a coverage gap is.
type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

// Gap is one detected absence of an expected finding.
type Gap struct {
	// RuleID identifies the rule that produced the gap.
	RuleID string `json:"rule_id"`

	// IssueType is a stable machine-readable gap category.
	IssueType string `json:"issue_type"`

	// TargetID is the offending entity, relationship, or loss.
	TargetID string `json:"target_id"`

	// Description is the human-readable explanation for the UI.
	Description string `json:"description"`

	Severity Severity `json:"severity"`
}

// Rule is one consistency predicate over a model snapshot.
//
// Implementations must be read-only and deterministic: Evaluate may be
// called concurrently with write traffic against an older snapshot, and
// the validator sorts nothing a rule cannot reproduce.
type Rule interface {
	// ID is a stable identifier used for report ordering and per-rule
	// error attribution.
	ID() string

	// Describe returns a short human-readable summary of the pairing
	// the rule checks.
	Describe() string

	// Evaluate returns the gaps found in the snapshot.
	Evaluate(snap *model.Snapshot) ([]Gap, error)
}

// =============================================================================
// Built-in rules
// =============================================================================

// ThreatWithoutDeviationRule flags relationships carrying a
// six-category threat finding but no structural-deviation finding: the
// categorization framework saw something the control-flow analysis
// never examined.
type ThreatWithoutDeviationRule struct{}

func (ThreatWithoutDeviationRule) ID() string { return "threat-without-deviation" }

func (ThreatWithoutDeviationRule) Describe() string {
	return "six-category threat finding on a relationship with no structural-deviation finding"
}

func (r ThreatWithoutDeviationRule) Evaluate(snap *model.Snapshot) ([]Gap, error) {
	var gaps []Gap
	for _, relID := range sortedRelationshipIDs(snap) {
		if snap.HasFinding(domain.MethodologySixCategory, relID) &&
			!snap.HasFinding(domain.MethodologyStructural, relID) {
			gaps = append(gaps, Gap{
				RuleID:      r.ID(),
				IssueType:   "missing_structural_finding",
				TargetID:    relID,
				Description: fmt.Sprintf("relationship %s has a six-category threat finding but no structural-deviation finding", relID),
				Severity:    SeverityMedium,
			})
		}
	}
	return gaps, nil
}

// AIComponentCoverageRule flags AI/ML entities with no per-layer
// vulnerability finding.
type AIComponentCoverageRule struct{}

func (AIComponentCoverageRule) ID() string { return "ai-component-coverage" }

func (AIComponentCoverageRule) Describe() string {
	return "AI/ML component with no AI-layer vulnerability finding"
}

func (r AIComponentCoverageRule) Evaluate(snap *model.Snapshot) ([]Gap, error) {
	var gaps []Gap
	for _, entID := range sortedEntityIDs(snap) {
		ent := snap.Entities[entID]
		if !ent.AIComponent {
			continue
		}
		if !snap.HasEntityFinding(domain.MethodologyAILayer, entID) {
			gaps = append(gaps, Gap{
				RuleID:      r.ID(),
				IssueType:   "missing_ai_layer_finding",
				TargetID:    entID,
				Description: fmt.Sprintf("entity %s is flagged as an AI component but has no per-layer vulnerability finding", entID),
				Severity:    SeverityHigh,
			})
		}
	}
	return gaps, nil
}

// SensitiveFlowPrivacyRule flags high-sensitivity data flows with no
// privacy-threat finding.
type SensitiveFlowPrivacyRule struct{}

func (SensitiveFlowPrivacyRule) ID() string { return "sensitive-flow-privacy" }

func (SensitiveFlowPrivacyRule) Describe() string {
	return "high-sensitivity data flow with no privacy-threat finding"
}

func (r SensitiveFlowPrivacyRule) Evaluate(snap *model.Snapshot) ([]Gap, error) {
	var gaps []Gap
	for _, relID := range sortedRelationshipIDs(snap) {
		rel := snap.Relationships[relID]
		if rel.DataSensitivity != domain.SensitivityHigh {
			continue
		}
		if !snap.HasFinding(domain.MethodologyPrivacy, relID) {
			gaps = append(gaps, Gap{
				RuleID:      r.ID(),
				IssueType:   "missing_privacy_finding",
				TargetID:    relID,
				Description: fmt.Sprintf("relationship %s carries high-sensitivity data but has no privacy-threat finding", relID),
				Severity:    SeverityHigh,
			})
		}
	}
	return gaps, nil
}

// UnmappedLossRule surfaces losses with zero hazard mappings through
// the completeness view.
type UnmappedLossRule struct{}

func (UnmappedLossRule) ID() string { return "unmapped-loss" }

func (UnmappedLossRule) Describe() string {
	return "loss with no hazard mapping"
}

func (r UnmappedLossRule) Evaluate(snap *model.Snapshot) ([]Gap, error) {
	var gaps []Gap
	ids := make([]string, 0, len(snap.Losses))
	for id := range snap.Losses {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, lossID := range ids {
		if snap.HazardCount(lossID) == 0 {
			gaps = append(gaps, Gap{
				RuleID:      r.ID(),
				IssueType:   "loss_without_hazard",
				TargetID:    lossID,
				Description: fmt.Sprintf("loss %s is not covered by any hazard", lossID),
				Severity:    SeverityMedium,
			})
		}
	}
	return gaps, nil
}

// =============================================================================
// Shared ordering helpers
// =============================================================================

func sortedRelationshipIDs(snap *model.Snapshot) []string {
	ids := make([]string, 0, len(snap.Relationships))
	for id := range snap.Relationships {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func sortedEntityIDs(snap *model.Snapshot) []string {
	ids := make([]string, 0, len(snap.Entities))
	for id := range snap.Entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
