// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the risk engine. Write paths surface these
// synchronously to the writer; nothing is coerced or clamped silently.
var (
	// ErrNotFound indicates a lookup for a nonexistent record.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates a write with out-of-range or malformed
	// fields. The write is rejected as a whole.
	ErrInvalidInput = errors.New("invalid input")

	// ErrReferentialIntegrity indicates a reference to a nonexistent
	// entity, hazard, loss, CVE, or relationship.
	ErrReferentialIntegrity = errors.New("referential integrity violation")

	// ErrDuplicate indicates a write that would create a second record
	// for a pair required to be unique.
	ErrDuplicate = errors.New("duplicate record")

	// ErrSelfLoop indicates an edge whose source and target are the
	// same record.
	ErrSelfLoop = errors.New("self-loop rejected")

	// ErrMissingDependency indicates a derived-value recompute whose
	// inputs are absent. The recompute fails closed: the prior value is
	// kept and the row is flagged stale.
	ErrMissingDependency = errors.New("missing dependency for recompute")

	// ErrScoreUndefined indicates a read of a contextual score that has
	// never been successfully computed.
	ErrScoreUndefined = errors.New("contextual score undefined")

	// ErrScenarioUnanchored indicates a scenario missing its mandatory
	// hazard reference, rejected before aggregation.
	ErrScenarioUnanchored = errors.New("scenario has no hazard reference")
)

// ReferenceError wraps ErrReferentialIntegrity with the offending
// reference for writer-facing messages.
//
// Thread Safety: Immutable after creation.
type ReferenceError struct {
	// Kind names the referenced record type (e.g. "loss", "hazard").
	Kind string

	// ID is the unresolved identifier.
	ID string

	// From identifies the record that carried the reference.
	From string
}

// Error implements the error interface.
func (e *ReferenceError) Error() string {
	if e.From != "" {
		return fmt.Sprintf("%s %q referenced by %q does not exist", e.Kind, e.ID, e.From)
	}
	return fmt.Sprintf("%s %q does not exist", e.Kind, e.ID)
}

// Unwrap returns ErrReferentialIntegrity for errors.Is support.
func (e *ReferenceError) Unwrap() error {
	return ErrReferentialIntegrity
}

// NewReferenceError creates a ReferenceError for an unresolved
// reference discovered during a write.
func NewReferenceError(kind, id, from string) *ReferenceError {
	return &ReferenceError{Kind: kind, ID: id, From: from}
}
