// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package domain

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// domainValidate is the shared validator instance for domain types.
var domainValidate *validator.Validate

func init() {
	domainValidate = validator.New()
}

// validate runs struct validation and wraps failures in ErrInvalidInput
// so writers can test with errors.Is.
func validate(v any) error {
	if err := domainValidate.Struct(v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return nil
}

// Validate checks field ranges and enum membership.
func (e *Entity) Validate() error { return validate(e) }

// Validate checks field ranges and enum membership.
func (c *ControlLoop) Validate() error { return validate(c) }

// Validate checks field ranges, enum membership, and the source/target
// distinctness invariant.
func (r *Relationship) Validate() error { return validate(r) }

// Validate checks field ranges and per-mapping enum membership.
// Referential integrity of loss references is the model store's job.
func (h *Hazard) Validate() error { return validate(h) }

// Validate checks field ranges and enum membership.
func (l *Loss) Validate() error { return validate(l) }

// Validate checks field ranges, enum membership, and the no-self-loop
// invariant.
func (d *LossDependency) Validate() error {
	if d.PrimaryID != "" && d.PrimaryID == d.DependentID {
		return fmt.Errorf("%w: loss dependency %q", ErrSelfLoop, d.ID)
	}
	return validate(d)
}

// Validate checks the 0-10 severity bound and the 0-1 EPSS bound.
func (c *CVERecord) Validate() error { return validate(c) }

// Validate checks every bounded field, including the 0.5-3.0
// data-sensitivity multiplier and 0-1 per-layer control scores.
// Out-of-range values are rejected, not clamped.
func (v *EntityVulnerability) Validate() error { return validate(v) }

// Validate checks enum membership and that exactly one target is set.
func (f *Finding) Validate() error {
	if (f.EntityID == "") == (f.RelationshipID == "") {
		return fmt.Errorf("%w: finding must target exactly one of entity or relationship", ErrInvalidInput)
	}
	return validate(f)
}

// Validate checks the 1-5 ordinal bounds, the mandatory hazard
// reference, and the optional factor assessment's sub-score bounds.
func (s *Scenario) Validate() error {
	if len(s.HazardIDs) == 0 {
		return ErrScenarioUnanchored
	}
	if err := validate(s); err != nil {
		return err
	}
	if s.FactorAssessment != nil {
		if err := validate(s.FactorAssessment); err != nil {
			return err
		}
	}
	return nil
}
