// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package consistency

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/KodiakSec/KodiakCore/services/riskengine/domain"
	"github.com/KodiakSec/KodiakCore/services/riskengine/model"
)

// Report is the output of one consistency scan.
type Report struct {
	// Generation is the model generation the scan ran against.
	Generation uint64 `json:"generation"`

	// Gaps is the full gap list, sorted by rule ID then target ID.
	Gaps []Gap `json:"gaps"`

	// RuleErrors records rules that failed, by rule ID. A failed rule
	// contributes no gaps but never blanks the rest of the report.
	RuleErrors map[string]string `json:"rule_errors,omitempty"`
}

// Validator runs a registered set of consistency rules over model
// snapshots.
//
// # Thread Safety
//
// Register is not safe to call concurrently with Run; register all
// rules during setup. Run itself is read-only and safe for concurrent
// use.
type Validator struct {
	log   *slog.Logger
	rules []Rule
}

// Option configures a Validator.
type Option func(*Validator)

// WithLogger sets the validator's logger.
func WithLogger(log *slog.Logger) Option {
	return func(v *Validator) { v.log = log }
}

// NewValidator creates a validator preloaded with the built-in rules.
func NewValidator(opts ...Option) *Validator {
	v := &Validator{log: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	v.Register(
		ThreatWithoutDeviationRule{},
		AIComponentCoverageRule{},
		SensitiveFlowPrivacyRule{},
		UnmappedLossRule{},
	)
	return v
}

// NewEmptyValidator creates a validator with no rules registered.
func NewEmptyValidator(opts ...Option) *Validator {
	v := &Validator{log: slog.Default()}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Register appends rules to the validator. Duplicate rule IDs are
// rejected by panic during setup; a scan must never attribute gaps to
// an ambiguous rule.
func (v *Validator) Register(rules ...Rule) {
	for _, r := range rules {
		for _, existing := range v.rules {
			if existing.ID() == r.ID() {
				panic(fmt.Sprintf("consistency: duplicate rule id %q", r.ID()))
			}
		}
		v.rules = append(v.rules, r)
	}
}

// Rules returns the registered rule IDs in registration order.
func (v *Validator) Rules() []string {
	ids := make([]string, 0, len(v.rules))
	for _, r := range v.rules {
		ids = append(ids, r.ID())
	}
	return ids
}

// Run evaluates every rule against the snapshot.
//
// Rules are isolated: a rule that returns an error or panics is
// recorded in RuleErrors and the remaining rules still run. The gap
// list is sorted by (rule ID, target ID, issue type), so an unchanged
// model yields a byte-identical report.
func (v *Validator) Run(ctx context.Context, snap *model.Snapshot) (*Report, error) {
	if snap == nil {
		return nil, domain.ErrInvalidInput
	}

	report := &Report{Generation: snap.Generation}
	for _, rule := range v.rules {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		gaps, err := v.evaluate(rule, snap)
		if err != nil {
			if report.RuleErrors == nil {
				report.RuleErrors = make(map[string]string)
			}
			report.RuleErrors[rule.ID()] = err.Error()
			v.log.Error("consistency rule failed",
				"rule", rule.ID(), "error", err)
			continue
		}
		report.Gaps = append(report.Gaps, gaps...)
	}

	sort.Slice(report.Gaps, func(i, j int) bool {
		a, b := report.Gaps[i], report.Gaps[j]
		if a.RuleID != b.RuleID {
			return a.RuleID < b.RuleID
		}
		if a.TargetID != b.TargetID {
			return a.TargetID < b.TargetID
		}
		return a.IssueType < b.IssueType
	})

	v.log.Debug("consistency scan complete",
		"generation", snap.Generation,
		"rules", len(v.rules),
		"gaps", len(report.Gaps),
		"failed_rules", len(report.RuleErrors),
	)
	return report, nil
}

// evaluate runs one rule, converting panics into errors so a single
// bad rule cannot take down the scan.
func (v *Validator) evaluate(rule Rule, snap *model.Snapshot) (gaps []Gap, err error) {
	defer func() {
		if r := recover(); r != nil {
			gaps = nil
			err = fmt.Errorf("rule %q panicked: %v", rule.ID(), r)
		}
	}()
	return rule.Evaluate(snap)
}
