// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package contextual computes the contextual risk score for a single
// entity vulnerability.
//
// # Description
//
// The score combines a CVE's base severity with situational multipliers
// (entity criticality, environmental exposure, exploit intelligence,
// mission relevance) and a compensating-control offset:
//
//	score = base x crit x exposure x exploit x mission x (1 - reduction)
//	final = min(score x 10, 100)
//
// The calculator is a pure function over an input snapshot. It holds no
// state and performs no I/O; the model store assembles the snapshot
// under the row's write lock and installs the result in the same
// critical section, which is what keeps derived values fresh.
//
// # Thread Safety
//
// All functions are pure and safe for concurrent use.
package contextual

import (
	"math"

	"github.com/KodiakSec/KodiakCore/services/riskengine/domain"
)

// MaxScore is the upper clamp of the contextual score scale.
const MaxScore = 100.0

// Input is the snapshot of everything the score depends on.
//
// Exactly one row's fields appear here; scores for different rows are
// independent and may be computed in parallel.
type Input struct {
	// BaseScore is the linked CVE's severity (0-10), copied into the
	// row whenever the CVE linkage changes.
	BaseScore float64

	// Criticality is the owning entity's criticality.
	Criticality domain.Criticality

	// Exposure is the owning entity's network exposure.
	Exposure domain.Exposure

	// ExposedToInternet and RequiresAuthentication come from the
	// vulnerability's own context and take priority over the entity's
	// exposure class.
	ExposedToInternet      bool
	RequiresAuthentication bool

	// Exploit intelligence from the linked CVE.
	KnownExploited  bool
	InTheWild       bool
	ExploitMaturity domain.ExploitMaturity
	EPSS            float64

	// MissionCriticalPath is set by the mission prioritizer.
	// OnControlLoop is true when the owning entity touches any
	// control-loop relationship; it is the weaker mission signal.
	MissionCriticalPath bool
	OnControlLoop       bool

	// ControlReduction is the stored reduction derived from the row's
	// compensating controls (already capped at 0.5).
	ControlReduction float64
}

// Score computes the contextual risk score in [0, 100].
func Score(in Input) float64 {
	raw := in.BaseScore *
		CriticalityMultiplier(in.Criticality) *
		ExposureMultiplier(in) *
		ExploitMultiplier(in) *
		MissionMultiplier(in) *
		(1 - in.ControlReduction)
	return math.Min(raw*10, MaxScore)
}

// CriticalityMultiplier maps entity criticality to its weight.
func CriticalityMultiplier(c domain.Criticality) float64 {
	switch c {
	case domain.CriticalityCritical:
		return 2.0
	case domain.CriticalityHigh:
		return 1.5
	case domain.CriticalityMedium:
		return 1.0
	case domain.CriticalityLow:
		return 0.7
	default:
		return 1.0
	}
}

// ExposureMultiplier returns the highest-priority environmental match.
//
// Internet exposure on the vulnerability itself outranks the entity's
// exposure class; unauthenticated internet exposure is the worst case.
func ExposureMultiplier(in Input) float64 {
	switch {
	case in.ExposedToInternet && !in.RequiresAuthentication:
		return 3.0
	case in.ExposedToInternet:
		return 2.0
	case in.Exposure == domain.ExposureExternal:
		return 1.8
	case in.Exposure == domain.ExposureDMZ:
		return 1.5
	case in.Exposure == domain.ExposureInternal:
		return 1.0
	default:
		return 0.8
	}
}

// ExploitMultiplier weights the CVE's exploit intelligence. Confirmed
// exploitation outranks maturity tiers, which outrank EPSS estimates.
func ExploitMultiplier(in Input) float64 {
	switch {
	case in.KnownExploited:
		return 3.0
	case in.InTheWild:
		return 2.5
	case in.ExploitMaturity == domain.MaturityHigh:
		return 2.0
	case in.ExploitMaturity == domain.MaturityFunctional:
		return 1.5
	case in.EPSS > 0.7:
		return 1.8
	case in.EPSS > 0.3:
		return 1.3
	default:
		return 1.0
	}
}

// MissionMultiplier weights mission relevance. A declared
// mission-critical path dominates; merely touching a control loop is
// the weaker signal.
func MissionMultiplier(in Input) float64 {
	switch {
	case in.MissionCriticalPath:
		return 2.0
	case in.OnControlLoop:
		return 1.5
	default:
		return 1.0
	}
}
