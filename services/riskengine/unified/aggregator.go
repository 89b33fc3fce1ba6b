// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package unified normalizes and combines scores from the platform's
// scoring methodologies into one comparable figure.
//
// # Description
//
// Three signals can back a scenario: the ordinal likelihood x impact
// baseline (always present), the optional four-factor assessment, and
// the contextual scores of implicated entity vulnerabilities. Each is
// normalized to 0-100 and the combined score is the mean of the present
// signals. The confidence tier counts independent signals beyond the
// baseline: two or more is high, one is medium, none is low.
//
// The package also exposes the mission-critical vulnerability ranking
// and the per-CVE exploitation-likelihood prediction described in the
// platform's triage views.
//
// # Thread Safety
//
// Aggregator reads model snapshots and holds no mutable state; it is
// safe for concurrent use.
package unified

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/KodiakSec/KodiakCore/services/riskengine/domain"
	"github.com/KodiakSec/KodiakCore/services/riskengine/model"
)

// Aggregator combines methodology scores per scenario and ranks
// vulnerabilities.
type Aggregator struct {
	log         *slog.Logger
	rankingSize int
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the aggregator's logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *Aggregator) { a.log = log }
}

// WithRankingSize overrides how many rows RankVulnerabilities returns.
// Values below 1 are ignored.
func WithRankingSize(n int) Option {
	return func(a *Aggregator) {
		if n >= 1 {
			a.rankingSize = n
		}
	}
}

// NewAggregator creates an aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{log: slog.Default(), rankingSize: RankingSize}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ScoreScenario produces the unified 0-100 score and confidence tier
// for one scenario in the snapshot.
//
// A scenario with no hazard reference is a structural defect and is
// rejected before any aggregation; the model store should have refused
// it, but aggregation re-checks rather than trusting the path here.
func (a *Aggregator) ScoreScenario(snap *model.Snapshot, scenarioID string) (*domain.UnifiedRiskScore, error) {
	sc, ok := snap.Scenarios[scenarioID]
	if !ok {
		return nil, fmt.Errorf("%w: scenario %q", domain.ErrNotFound, scenarioID)
	}
	if len(sc.HazardIDs) == 0 {
		return nil, fmt.Errorf("%w: %q", domain.ErrScenarioUnanchored, scenarioID)
	}

	result := &domain.UnifiedRiskScore{
		ScenarioID: scenarioID,
		Generation: snap.Generation,
		Baseline:   normalizeBaseline(sc.BaselineScore()),
	}

	signals := []float64{result.Baseline}
	independent := 0

	if sc.FactorAssessment != nil {
		f := normalizeFactorSum(sc.FactorAssessment.Sum())
		result.FactorScore = &f
		signals = append(signals, f)
		independent++
	}

	if v, ok := meanVulnerabilityScore(snap, sc.VulnerabilityIDs); ok {
		result.VulnerabilityScore = &v
		signals = append(signals, v)
		independent++
	}

	var sum float64
	for _, s := range signals {
		sum += s
	}
	result.Score = sum / float64(len(signals))

	switch {
	case independent >= 2:
		result.Confidence = domain.ConfidenceHigh
	case independent == 1:
		result.Confidence = domain.ConfidenceMedium
	default:
		result.Confidence = domain.ConfidenceLow
	}
	return result, nil
}

// ScoreAll aggregates every scenario in the snapshot, ordered by score
// descending and scenario ID as tiebreak. Scenarios that fail
// aggregation are collected per-item rather than aborting the batch.
func (a *Aggregator) ScoreAll(snap *model.Snapshot) ([]domain.UnifiedRiskScore, map[string]error) {
	ids := make([]string, 0, len(snap.Scenarios))
	for id := range snap.Scenarios {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var scores []domain.UnifiedRiskScore
	failures := make(map[string]error)
	for _, id := range ids {
		s, err := a.ScoreScenario(snap, id)
		if err != nil {
			failures[id] = err
			continue
		}
		scores = append(scores, *s)
	}
	sort.Slice(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].ScenarioID < scores[j].ScenarioID
	})
	return scores, failures
}

// normalizeBaseline maps the 1-25 likelihood x impact product onto
// 0-100.
func normalizeBaseline(product int) float64 {
	return float64(product) * 4
}

// normalizeFactorSum maps the 4-20 factor sum onto 0-100.
func normalizeFactorSum(sum int) float64 {
	return float64(sum) * 5
}

// meanVulnerabilityScore averages the contextual scores of the given
// rows. Rows without a computed score are skipped; ok is false when no
// scored row was found.
func meanVulnerabilityScore(snap *model.Snapshot, ids []string) (mean float64, ok bool) {
	var sum float64
	var n int
	for _, id := range ids {
		v, exists := snap.Vulnerabilities[id]
		if !exists || v.ContextualRiskScore == nil {
			continue
		}
		sum += *v.ContextualRiskScore
		n++
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}
