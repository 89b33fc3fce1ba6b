// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package domain defines the shared representation consumed by every
// risk engine component.
//
// # Description
//
// These types model the system under analysis: entities and their
// relationships, hazards and the losses they lead to, cataloged
// vulnerabilities, and the findings each threat-modeling methodology
// produces over the model. The engine owns only the derived values
// (base and contextual risk scores, unified scores, scan reports);
// everything else is populated by upstream collaborators and treated
// as read-only input.
//
// # Thread Safety
//
// Types here are plain data and carry no synchronization. The model
// store (services/riskengine/model) is responsible for serializing
// access.
package domain

import "time"

// EntityCategory classifies a modeled system component.
type EntityCategory string

const (
	CategoryHuman          EntityCategory = "human"
	CategorySoftware       EntityCategory = "software"
	CategoryHardware       EntityCategory = "hardware"
	CategoryPhysical       EntityCategory = "physical"
	CategoryOrganizational EntityCategory = "organizational"
)

// Criticality is the ordinal criticality scale shared by entities and
// loss severities.
type Criticality string

const (
	CriticalityLow      Criticality = "low"
	CriticalityMedium   Criticality = "medium"
	CriticalityHigh     Criticality = "high"
	CriticalityCritical Criticality = "critical"
)

// Rank returns the ordinal position of the criticality, starting at 1
// for low. Unknown values rank as medium.
func (c Criticality) Rank() int {
	switch c {
	case CriticalityLow:
		return 1
	case CriticalityMedium:
		return 2
	case CriticalityHigh:
		return 3
	case CriticalityCritical:
		return 4
	default:
		return 2
	}
}

// TrustLevel describes how much the platform trusts an entity.
type TrustLevel string

const (
	TrustUntrusted TrustLevel = "untrusted"
	TrustPartial   TrustLevel = "partially_trusted"
	TrustTrusted   TrustLevel = "trusted"
)

// Exposure describes where an entity sits relative to the network edge.
type Exposure string

const (
	ExposureInternal Exposure = "internal"
	ExposureDMZ      Exposure = "dmz"
	ExposureExternal Exposure = "external"
	ExposurePublic   Exposure = "public"
)

// RelationshipType distinguishes control actions from feedback signals.
type RelationshipType string

const (
	RelationshipControl  RelationshipType = "control"
	RelationshipFeedback RelationshipType = "feedback"
)

// SensitivityLevel tags the data carried over a relationship.
type SensitivityLevel string

const (
	SensitivityLow    SensitivityLevel = "low"
	SensitivityMedium SensitivityLevel = "medium"
	SensitivityHigh   SensitivityLevel = "high"
)

// MappingStrength tags how directly a hazard leads to a loss.
type MappingStrength string

const (
	MappingDirect      MappingStrength = "direct"
	MappingIndirect    MappingStrength = "indirect"
	MappingConditional MappingStrength = "conditional"
)

// DependencyType describes how one loss feeds another.
type DependencyType string

const (
	DependencyEnables   DependencyType = "enables"
	DependencyAmplifies DependencyType = "amplifies"
	DependencyTriggers  DependencyType = "triggers"
)

// DependencyStrength grades the confidence in a loss dependency.
type DependencyStrength string

const (
	StrengthCertain  DependencyStrength = "certain"
	StrengthLikely   DependencyStrength = "likely"
	StrengthPossible DependencyStrength = "possible"
)

// ExploitMaturity is the exploit-intelligence tier attached to a CVE.
type ExploitMaturity string

const (
	MaturityUnproven   ExploitMaturity = "unproven"
	MaturityPoC        ExploitMaturity = "poc"
	MaturityFunctional ExploitMaturity = "functional"
	MaturityHigh       ExploitMaturity = "high"
)

// NetworkTier describes how reachable a vulnerable service is.
type NetworkTier string

const (
	TierIsolated NetworkTier = "isolated"
	TierLocal    NetworkTier = "local"
	TierAdjacent NetworkTier = "adjacent"
	TierNetwork  NetworkTier = "network"
)

// VulnStatus is the lifecycle status of an entity vulnerability.
type VulnStatus string

const (
	StatusOpen          VulnStatus = "open"
	StatusMitigating    VulnStatus = "mitigating"
	StatusMitigated     VulnStatus = "mitigated"
	StatusAccepted      VulnStatus = "accepted"
	StatusFalsePositive VulnStatus = "false_positive"
	StatusException     VulnStatus = "exception"
)

// Methodology identifies which analysis framework produced a finding.
//
// The consistency validator pairs methodologies against each other, so
// every framework the platform runs must have a stable identifier here.
type Methodology string

const (
	// MethodologyStructural covers structural control-flow deviation
	// analysis over relationships.
	MethodologyStructural Methodology = "structural"

	// MethodologySixCategory covers the six-category threat
	// categorization of relationships.
	MethodologySixCategory Methodology = "six_category"

	// MethodologyPrivacy covers privacy-threat categorization of data
	// flows.
	MethodologyPrivacy Methodology = "privacy"

	// MethodologyAssetRisk covers asset-centric risk assessment of
	// entities.
	MethodologyAssetRisk Methodology = "asset_risk"

	// MethodologyAILayer covers per-layer analysis of AI/ML components.
	MethodologyAILayer Methodology = "ai_layer"

	// MethodologyHazard covers hazard identification.
	MethodologyHazard Methodology = "hazard"

	// MethodologyScenario covers causal scenario construction.
	MethodologyScenario Methodology = "scenario"
)

// Entity is a modeled system component.
//
// Entities are owned by the system-description collaborator. The engine
// never deletes them silently: removal cascades to dependent
// relationships, vulnerabilities, and findings.
type Entity struct {
	ID          string         `json:"id" validate:"required"`
	Name        string         `json:"name"`
	Category    EntityCategory `json:"category" validate:"required,oneof=human software hardware physical organizational"`
	Criticality Criticality    `json:"criticality" validate:"required,oneof=low medium high critical"`
	TrustLevel  TrustLevel     `json:"trust_level" validate:"omitempty,oneof=untrusted partially_trusted trusted"`
	Exposure    Exposure       `json:"exposure" validate:"required,oneof=internal dmz external public"`

	// AIComponent marks entities the AI-layer methodology must cover.
	AIComponent bool `json:"ai_component"`
}

// ControlLoop names a control structure a relationship can belong to.
//
// The controlled process name is what the mission statement references
// when declaring essential dependencies.
type ControlLoop struct {
	ID                string `json:"id" validate:"required"`
	Name              string `json:"name"`
	ControlledProcess string `json:"controlled_process" validate:"required"`
}

// Relationship is a directed control or feedback edge between two
// distinct entities, optionally bound to a control loop.
type Relationship struct {
	ID            string           `json:"id" validate:"required"`
	SourceID      string           `json:"source_id" validate:"required"`
	TargetID      string           `json:"target_id" validate:"required,nefield=SourceID"`
	Type          RelationshipType `json:"type" validate:"required,oneof=control feedback"`
	ControlLoopID string           `json:"control_loop_id,omitempty"`

	// DataSensitivity tags the data flow this edge carries. High
	// sensitivity without a privacy finding is a consistency gap.
	DataSensitivity SensitivityLevel `json:"data_sensitivity,omitempty" validate:"omitempty,oneof=low medium high"`
}

// LossMapping ties a hazard to one loss with a relationship-strength tag.
type LossMapping struct {
	LossID   string          `json:"loss_id" validate:"required"`
	Strength MappingStrength `json:"strength" validate:"required,oneof=direct indirect conditional"`
}

// Hazard is a system-level unsafe or insecure state.
//
// Every loss reference must resolve to an existing loss at write time;
// the model store enforces this rather than leaving it to convention.
type Hazard struct {
	ID           string        `json:"id" validate:"required"`
	Description  string        `json:"description"`
	LossMappings []LossMapping `json:"loss_mappings" validate:"dive"`
}

// Loss is a stakeholder-impacting outcome.
type Loss struct {
	ID           string      `json:"id" validate:"required"`
	Description  string      `json:"description"`
	Stakeholders []string    `json:"stakeholders"`
	Severity     Criticality `json:"severity" validate:"required,oneof=low medium high critical"`
}

// LossDependency is a directed edge between two losses.
//
// Self-loops and duplicate ordered pairs are rejected at write time.
// Cycles through longer paths are valid domain data; traversal is
// depth-bounded instead (see services/riskengine/cascade).
type LossDependency struct {
	ID          string             `json:"id" validate:"required"`
	PrimaryID   string             `json:"primary_id" validate:"required"`
	DependentID string             `json:"dependent_id" validate:"required,nefield=PrimaryID"`
	Type        DependencyType     `json:"type" validate:"required,oneof=enables amplifies triggers"`
	Strength    DependencyStrength `json:"strength" validate:"required,oneof=certain likely possible"`
}

// CVERecord is a cataloged vulnerability with exploit intelligence.
type CVERecord struct {
	ID        string    `json:"id" validate:"required"`
	Published time.Time `json:"published"`
	Modified  time.Time `json:"modified"`

	// Severity is the base severity score on the 0-10 scale.
	Severity float64 `json:"severity" validate:"gte=0,lte=10"`

	ExploitMaturity ExploitMaturity `json:"exploit_maturity" validate:"omitempty,oneof=unproven poc functional high"`
	KnownExploited  bool            `json:"known_exploited"`
	InTheWild       bool            `json:"in_the_wild"`
	Ransomware      bool            `json:"ransomware"`

	// EPSS is the exploitation-probability estimate on the 0-1 scale.
	EPSS float64 `json:"epss" validate:"gte=0,lte=1"`
}

// CompensatingControls holds per-layer control effectiveness scores.
//
// Each layer score is an independent 0-1 effectiveness estimate. The
// reduction applied to risk is the maximum layer score capped at 0.5:
// controls can never erase more than half the risk.
type CompensatingControls struct {
	Network     float64 `json:"network" validate:"gte=0,lte=1"`
	Host        float64 `json:"host" validate:"gte=0,lte=1"`
	Application float64 `json:"application" validate:"gte=0,lte=1"`
}

// ControlReductionCap bounds how much compensating controls can lower a
// contextual score.
const ControlReductionCap = 0.5

// Reduction returns the effective risk reduction for these controls:
// the maximum layer effectiveness, capped at ControlReductionCap.
func (c CompensatingControls) Reduction() float64 {
	m := c.Network
	if c.Host > m {
		m = c.Host
	}
	if c.Application > m {
		m = c.Application
	}
	if m > ControlReductionCap {
		return ControlReductionCap
	}
	if m < 0 {
		return 0
	}
	return m
}

// EntityVulnerability binds one entity to one CVE with the context
// needed to score it. The pair (EntityID, CVEID) is unique.
//
// BaseRiskScore and ContextualRiskScore are engine-owned derived values.
// They are nil until the first successful recompute and are refreshed
// inside the same write transaction whenever any input changes. Stale is
// set when a recompute failed closed; the prior score, if any, is left
// untouched.
type EntityVulnerability struct {
	ID       string `json:"id" validate:"required"`
	EntityID string `json:"entity_id" validate:"required"`
	CVEID    string `json:"cve_id" validate:"required"`

	ExposedToInternet      bool `json:"exposed_to_internet"`
	RequiresAuthentication bool `json:"requires_authentication"`
	PrivilegedAccess       bool `json:"privileged_access"`

	// DataSensitivity is a bounded multiplier describing the value of
	// the data behind this vulnerability. Out-of-range values are
	// rejected at write time, never clamped.
	DataSensitivity float64 `json:"data_sensitivity" validate:"gte=0.5,lte=3"`

	NetworkAccessibility NetworkTier          `json:"network_accessibility" validate:"omitempty,oneof=isolated local adjacent network"`
	Controls             CompensatingControls `json:"controls"`

	// ControlReduction is the stored, independently computed reduction
	// derived from Controls. The contextual calculator reads this field
	// rather than recomputing it inline.
	ControlReduction float64 `json:"control_reduction"`

	MissionCriticalPath bool       `json:"mission_critical_path"`
	Status              VulnStatus `json:"status" validate:"required,oneof=open mitigating mitigated accepted false_positive exception"`

	BaseRiskScore       *float64 `json:"base_risk_score,omitempty"`
	ContextualRiskScore *float64 `json:"contextual_risk_score,omitempty"`
	Stale               bool     `json:"stale"`
}

// Finding is the generic shape every methodology produces.
//
// Exactly one of EntityID or RelationshipID identifies the analysis
// target. The consistency validator only needs existence plus the
// target identifier; Detail is free-form for the UI collaborator.
type Finding struct {
	ID             string      `json:"id" validate:"required"`
	Methodology    Methodology `json:"methodology" validate:"required,oneof=structural six_category privacy asset_risk ai_layer hazard scenario"`
	EntityID       string      `json:"entity_id,omitempty"`
	RelationshipID string      `json:"relationship_id,omitempty"`
	Severity       Criticality `json:"severity" validate:"omitempty,oneof=low medium high critical"`

	// Layer names the analyzed layer for AI-layer findings.
	Layer  string `json:"layer,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// FactorAssessment is the optional second scenario assessment: four
// independent 1-5 sub-scores summed into an overall score.
type FactorAssessment struct {
	Detectability int `json:"detectability" validate:"gte=1,lte=5"`
	Difficulty    int `json:"difficulty" validate:"gte=1,lte=5"`
	Damage        int `json:"damage" validate:"gte=1,lte=5"`
	Deniability   int `json:"deniability" validate:"gte=1,lte=5"`
}

// Sum returns the overall factor score on the 4-20 scale.
func (f FactorAssessment) Sum() int {
	return f.Detectability + f.Difficulty + f.Damage + f.Deniability
}

// Scenario is an attack or causal scenario over one relationship.
//
// At least one hazard reference is mandatory, and every reference must
// resolve at write time. Likelihood and Impact are 1-5 ordinals; their
// product is the scenario's baseline risk score.
type Scenario struct {
	ID             string   `json:"id" validate:"required"`
	RelationshipID string   `json:"relationship_id" validate:"required"`
	HazardIDs      []string `json:"hazard_ids" validate:"required,min=1"`
	FindingIDs     []string `json:"finding_ids,omitempty"`
	ThreatActors   []string `json:"threat_actors,omitempty"`

	Likelihood int `json:"likelihood" validate:"gte=1,lte=5"`
	Impact     int `json:"impact" validate:"gte=1,lte=5"`

	FactorAssessment *FactorAssessment `json:"factor_assessment,omitempty"`

	// VulnerabilityIDs lists the entity vulnerabilities implicated in
	// this scenario; their contextual scores feed the unified score.
	VulnerabilityIDs []string `json:"vulnerability_ids,omitempty"`
}

// BaselineScore returns the likelihood x impact product (1-25).
func (s *Scenario) BaselineScore() int {
	return s.Likelihood * s.Impact
}

// ConfidenceTier grades how many independent signals back a unified
// score.
type ConfidenceTier string

const (
	ConfidenceHigh   ConfidenceTier = "high"
	ConfidenceMedium ConfidenceTier = "medium"
	ConfidenceLow    ConfidenceTier = "low"
)

// UnifiedRiskScore is the engine-owned, cross-methodology comparable
// score for one scenario.
type UnifiedRiskScore struct {
	ScenarioID string `json:"scenario_id"`

	// Baseline is the normalized likelihood x impact signal (0-100).
	Baseline float64 `json:"baseline"`

	// FactorScore is the normalized factor-sum signal, nil when the
	// scenario carries no factor assessment.
	FactorScore *float64 `json:"factor_score,omitempty"`

	// VulnerabilityScore is the mean contextual score of implicated
	// vulnerabilities, nil when none are implicated or scored.
	VulnerabilityScore *float64 `json:"vulnerability_score,omitempty"`

	// Score is the combined 0-100 figure.
	Score float64 `json:"score"`

	Confidence ConfidenceTier `json:"confidence"`

	// Generation is the model generation the score was computed from.
	Generation uint64 `json:"generation"`
}
