// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodiakSec/KodiakCore/services/riskengine/domain"
)

func seedEntity(t *testing.T, s *Store, id string, crit domain.Criticality) {
	t.Helper()
	require.NoError(t, s.UpsertEntity(domain.Entity{
		ID:          id,
		Name:        id,
		Category:    domain.CategorySoftware,
		Criticality: crit,
		Exposure:    domain.ExposureInternal,
	}))
}

func seedCVE(t *testing.T, s *Store, id string, severity float64) {
	t.Helper()
	require.NoError(t, s.UpsertCVE(domain.CVERecord{ID: id, Severity: severity}))
}

func seedVuln(t *testing.T, s *Store, id, entityID, cveID string) {
	t.Helper()
	require.NoError(t, s.UpsertEntityVulnerability(domain.EntityVulnerability{
		ID:              id,
		EntityID:        entityID,
		CVEID:           cveID,
		DataSensitivity: 1.0,
	}))
}

func TestUpsertEntityVulnerability(t *testing.T) {
	t.Run("score is fresh when the write returns", func(t *testing.T) {
		s := NewStore()
		seedEntity(t, s, "e1", domain.CriticalityMedium)
		seedCVE(t, s, "CVE-1", 5.0)
		seedVuln(t, s, "v1", "e1", "CVE-1")

		// 5.0 x 1.0(medium) x 1.0(internal) x 1.0 x 1.0 -> 50.
		score, stale, err := s.ContextualScore("v1")
		require.NoError(t, err)
		assert.False(t, stale)
		assert.Equal(t, 50.0, score)

		v, err := s.Vulnerability("v1")
		require.NoError(t, err)
		require.NotNil(t, v.BaseRiskScore)
		assert.Equal(t, 5.0, *v.BaseRiskScore)
	})

	t.Run("missing entity link rejected", func(t *testing.T) {
		s := NewStore()
		seedCVE(t, s, "CVE-1", 5.0)
		err := s.UpsertEntityVulnerability(domain.EntityVulnerability{
			ID: "v1", EntityID: "ghost", CVEID: "CVE-1", DataSensitivity: 1.0,
		})
		assert.ErrorIs(t, err, domain.ErrReferentialIntegrity)
	})

	t.Run("missing cve link rejected", func(t *testing.T) {
		s := NewStore()
		seedEntity(t, s, "e1", domain.CriticalityMedium)
		err := s.UpsertEntityVulnerability(domain.EntityVulnerability{
			ID: "v1", EntityID: "e1", CVEID: "CVE-ghost", DataSensitivity: 1.0,
		})
		assert.ErrorIs(t, err, domain.ErrReferentialIntegrity)
	})

	t.Run("duplicate entity cve pair rejected", func(t *testing.T) {
		s := NewStore()
		seedEntity(t, s, "e1", domain.CriticalityMedium)
		seedCVE(t, s, "CVE-1", 5.0)
		seedVuln(t, s, "v1", "e1", "CVE-1")

		err := s.UpsertEntityVulnerability(domain.EntityVulnerability{
			ID: "v2", EntityID: "e1", CVEID: "CVE-1", DataSensitivity: 1.0,
		})
		assert.ErrorIs(t, err, domain.ErrDuplicate)
	})

	t.Run("same row may be rewritten", func(t *testing.T) {
		s := NewStore()
		seedEntity(t, s, "e1", domain.CriticalityMedium)
		seedCVE(t, s, "CVE-1", 5.0)
		seedVuln(t, s, "v1", "e1", "CVE-1")
		seedVuln(t, s, "v1", "e1", "CVE-1")
	})

	t.Run("out of range sensitivity rejected not clamped", func(t *testing.T) {
		s := NewStore()
		seedEntity(t, s, "e1", domain.CriticalityMedium)
		seedCVE(t, s, "CVE-1", 5.0)
		err := s.UpsertEntityVulnerability(domain.EntityVulnerability{
			ID: "v1", EntityID: "e1", CVEID: "CVE-1", DataSensitivity: 4.0,
		})
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("control reduction is derived from layer scores", func(t *testing.T) {
		s := NewStore()
		seedEntity(t, s, "e1", domain.CriticalityMedium)
		seedCVE(t, s, "CVE-1", 5.0)
		require.NoError(t, s.UpsertEntityVulnerability(domain.EntityVulnerability{
			ID: "v1", EntityID: "e1", CVEID: "CVE-1", DataSensitivity: 1.0,
			Controls: domain.CompensatingControls{Host: 0.9},
		}))
		v, err := s.Vulnerability("v1")
		require.NoError(t, err)
		assert.Equal(t, domain.ControlReductionCap, v.ControlReduction)
		// 50 x (1 - 0.5) = 25.
		score, _, err := s.ContextualScore("v1")
		require.NoError(t, err)
		assert.Equal(t, 25.0, score)
	})
}

func TestDerivedValueInvalidation(t *testing.T) {
	t.Run("entity criticality change rescales existing scores", func(t *testing.T) {
		s := NewStore()
		seedEntity(t, s, "e1", domain.CriticalityLow)
		seedCVE(t, s, "CVE-1", 5.0)
		seedVuln(t, s, "v1", "e1", "CVE-1")

		before, _, err := s.ContextualScore("v1")
		require.NoError(t, err)
		assert.Equal(t, 35.0, before) // 5.0 x 0.7 x 10

		seedEntity(t, s, "e1", domain.CriticalityCritical)
		after, _, err := s.ContextualScore("v1")
		require.NoError(t, err)
		assert.Equal(t, 100.0, after) // 5.0 x 2.0 x 10 = 100 exactly

		// Ratio of the multipliers, modulo the clamp.
		assert.InDelta(t, 2.0/0.7, after/before, 0.0001)
	})

	t.Run("cve update rederives base and contextual scores", func(t *testing.T) {
		s := NewStore()
		seedEntity(t, s, "e1", domain.CriticalityMedium)
		seedCVE(t, s, "CVE-1", 2.0)
		seedVuln(t, s, "v1", "e1", "CVE-1")

		score, _, err := s.ContextualScore("v1")
		require.NoError(t, err)
		assert.Equal(t, 20.0, score)

		require.NoError(t, s.UpsertCVE(domain.CVERecord{ID: "CVE-1", Severity: 2.0, KnownExploited: true}))
		score, _, err = s.ContextualScore("v1")
		require.NoError(t, err)
		assert.Equal(t, 60.0, score) // exploit multiplier 3.0 applied

		v, err := s.Vulnerability("v1")
		require.NoError(t, err)
		assert.Equal(t, 2.0, *v.BaseRiskScore)
	})

	t.Run("control loop membership applies the mission multiplier", func(t *testing.T) {
		s := NewStore()
		seedEntity(t, s, "e1", domain.CriticalityMedium)
		seedEntity(t, s, "e2", domain.CriticalityMedium)
		seedCVE(t, s, "CVE-1", 4.0)
		seedVuln(t, s, "v1", "e1", "CVE-1")

		score, _, err := s.ContextualScore("v1")
		require.NoError(t, err)
		assert.Equal(t, 40.0, score)

		require.NoError(t, s.UpsertControlLoop(domain.ControlLoop{ID: "cl1", ControlledProcess: "cooling"}))
		require.NoError(t, s.UpsertRelationship(domain.Relationship{
			ID: "r1", SourceID: "e1", TargetID: "e2",
			Type: domain.RelationshipControl, ControlLoopID: "cl1",
		}))

		score, _, err = s.ContextualScore("v1")
		require.NoError(t, err)
		assert.Equal(t, 60.0, score) // x1.5 on-control-loop
	})

	t.Run("deleting an endpoint clears the survivor's loop multiplier", func(t *testing.T) {
		s := NewStore()
		seedEntity(t, s, "e1", domain.CriticalityMedium)
		seedEntity(t, s, "e2", domain.CriticalityMedium)
		seedCVE(t, s, "CVE-1", 4.0)
		seedVuln(t, s, "v2", "e2", "CVE-1")
		require.NoError(t, s.UpsertControlLoop(domain.ControlLoop{ID: "cl1", ControlledProcess: "cooling"}))
		require.NoError(t, s.UpsertRelationship(domain.Relationship{
			ID: "r1", SourceID: "e1", TargetID: "e2",
			Type: domain.RelationshipControl, ControlLoopID: "cl1",
		}))

		score, _, err := s.ContextualScore("v2")
		require.NoError(t, err)
		assert.Equal(t, 60.0, score)

		// Removing e1 cascades r1 away, and e2 is no longer on the loop.
		require.NoError(t, s.DeleteEntity("e1"))
		score, stale, err := s.ContextualScore("v2")
		require.NoError(t, err)
		assert.False(t, stale)
		assert.Equal(t, 40.0, score)
	})

	t.Run("re-pointing a relationship rescores the old endpoints", func(t *testing.T) {
		s := NewStore()
		for _, id := range []string{"e1", "e2", "e3", "e4"} {
			seedEntity(t, s, id, domain.CriticalityMedium)
		}
		seedCVE(t, s, "CVE-1", 4.0)
		seedVuln(t, s, "v2", "e2", "CVE-1")
		seedVuln(t, s, "v4", "e4", "CVE-1")
		require.NoError(t, s.UpsertControlLoop(domain.ControlLoop{ID: "cl1", ControlledProcess: "cooling"}))
		require.NoError(t, s.UpsertRelationship(domain.Relationship{
			ID: "r1", SourceID: "e1", TargetID: "e2",
			Type: domain.RelationshipControl, ControlLoopID: "cl1",
		}))

		score, _, err := s.ContextualScore("v2")
		require.NoError(t, err)
		assert.Equal(t, 60.0, score)

		require.NoError(t, s.UpsertRelationship(domain.Relationship{
			ID: "r1", SourceID: "e3", TargetID: "e4",
			Type: domain.RelationshipControl, ControlLoopID: "cl1",
		}))

		score, stale, err := s.ContextualScore("v2")
		require.NoError(t, err)
		assert.False(t, stale)
		assert.Equal(t, 40.0, score)

		// The new endpoints pick the multiplier up.
		score, _, err = s.ContextualScore("v4")
		require.NoError(t, err)
		assert.Equal(t, 60.0, score)
	})
}

func TestReferentialIntegrity(t *testing.T) {
	t.Run("relationship endpoints must exist", func(t *testing.T) {
		s := NewStore()
		seedEntity(t, s, "e1", domain.CriticalityMedium)
		err := s.UpsertRelationship(domain.Relationship{
			ID: "r1", SourceID: "e1", TargetID: "ghost", Type: domain.RelationshipControl,
		})
		assert.ErrorIs(t, err, domain.ErrReferentialIntegrity)
	})

	t.Run("hazard loss mappings must resolve", func(t *testing.T) {
		s := NewStore()
		err := s.UpsertHazard(domain.Hazard{
			ID:           "h1",
			LossMappings: []domain.LossMapping{{LossID: "ghost", Strength: domain.MappingDirect}},
		})
		assert.ErrorIs(t, err, domain.ErrReferentialIntegrity)
		var refErr *domain.ReferenceError
		require.ErrorAs(t, err, &refErr)
		assert.Equal(t, "loss", refErr.Kind)
		assert.Equal(t, "ghost", refErr.ID)
	})

	t.Run("loss dependency self-loop rejected", func(t *testing.T) {
		s := NewStore()
		require.NoError(t, s.UpsertLoss(domain.Loss{ID: "l1", Severity: domain.CriticalityHigh}))
		err := s.UpsertLossDependency(domain.LossDependency{
			ID: "d1", PrimaryID: "l1", DependentID: "l1",
			Type: domain.DependencyEnables, Strength: domain.StrengthCertain,
		})
		assert.ErrorIs(t, err, domain.ErrSelfLoop)
	})

	t.Run("duplicate ordered pair rejected but reverse edge allowed", func(t *testing.T) {
		s := NewStore()
		require.NoError(t, s.UpsertLoss(domain.Loss{ID: "l1", Severity: domain.CriticalityHigh}))
		require.NoError(t, s.UpsertLoss(domain.Loss{ID: "l2", Severity: domain.CriticalityHigh}))
		require.NoError(t, s.UpsertLossDependency(domain.LossDependency{
			ID: "d1", PrimaryID: "l1", DependentID: "l2",
			Type: domain.DependencyEnables, Strength: domain.StrengthCertain,
		}))

		err := s.UpsertLossDependency(domain.LossDependency{
			ID: "d2", PrimaryID: "l1", DependentID: "l2",
			Type: domain.DependencyAmplifies, Strength: domain.StrengthLikely,
		})
		assert.ErrorIs(t, err, domain.ErrDuplicate)

		// A cycle through the reverse direction is valid domain data.
		require.NoError(t, s.UpsertLossDependency(domain.LossDependency{
			ID: "d3", PrimaryID: "l2", DependentID: "l1",
			Type: domain.DependencyEnables, Strength: domain.StrengthPossible,
		}))
	})
}

func TestUpsertScenario(t *testing.T) {
	setup := func(t *testing.T) *Store {
		s := NewStore()
		seedEntity(t, s, "e1", domain.CriticalityMedium)
		seedEntity(t, s, "e2", domain.CriticalityMedium)
		require.NoError(t, s.UpsertRelationship(domain.Relationship{
			ID: "r1", SourceID: "e1", TargetID: "e2", Type: domain.RelationshipControl,
		}))
		require.NoError(t, s.UpsertLoss(domain.Loss{ID: "l1", Severity: domain.CriticalityHigh}))
		require.NoError(t, s.UpsertHazard(domain.Hazard{
			ID:           "h1",
			LossMappings: []domain.LossMapping{{LossID: "l1", Strength: domain.MappingDirect}},
		}))
		return s
	}

	t.Run("valid scenario accepted", func(t *testing.T) {
		s := setup(t)
		require.NoError(t, s.UpsertScenario(domain.Scenario{
			ID: "s1", RelationshipID: "r1", HazardIDs: []string{"h1"},
			Likelihood: 3, Impact: 4,
		}))
	})

	t.Run("hazardless scenario rejected before any state change", func(t *testing.T) {
		s := setup(t)
		gen := s.Generation()
		err := s.UpsertScenario(domain.Scenario{
			ID: "s1", RelationshipID: "r1", Likelihood: 3, Impact: 4,
		})
		assert.ErrorIs(t, err, domain.ErrScenarioUnanchored)
		assert.Equal(t, gen, s.Generation())
	})

	t.Run("unresolved hazard reference leaves no partial record", func(t *testing.T) {
		s := setup(t)
		err := s.UpsertScenario(domain.Scenario{
			ID: "s1", RelationshipID: "r1", HazardIDs: []string{"h1", "ghost"},
			Likelihood: 3, Impact: 4,
		})
		assert.ErrorIs(t, err, domain.ErrReferentialIntegrity)
		_, err = s.Scenario("s1")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})
}

func TestDeleteEntity(t *testing.T) {
	t.Run("cascade removes dependents", func(t *testing.T) {
		s := NewStore()
		seedEntity(t, s, "e1", domain.CriticalityMedium)
		seedEntity(t, s, "e2", domain.CriticalityMedium)
		seedCVE(t, s, "CVE-1", 5.0)
		seedVuln(t, s, "v1", "e1", "CVE-1")
		require.NoError(t, s.UpsertRelationship(domain.Relationship{
			ID: "r1", SourceID: "e1", TargetID: "e2", Type: domain.RelationshipControl,
		}))
		require.NoError(t, s.UpsertFinding(domain.Finding{
			ID: "f1", Methodology: domain.MethodologySixCategory, RelationshipID: "r1",
		}))

		require.NoError(t, s.DeleteEntity("e1"))

		snap := s.Snapshot()
		assert.NotContains(t, snap.Entities, "e1")
		assert.Empty(t, snap.Relationships)
		assert.Empty(t, snap.Vulnerabilities)
		assert.Empty(t, snap.Findings)

		// The freed pair is reusable after the cascade.
		seedEntity(t, s, "e1", domain.CriticalityMedium)
		seedVuln(t, s, "v1b", "e1", "CVE-1")
	})

	t.Run("unknown entity is not found", func(t *testing.T) {
		s := NewStore()
		assert.ErrorIs(t, s.DeleteEntity("ghost"), domain.ErrNotFound)
	})

	t.Run("row locks for cascaded rows are released", func(t *testing.T) {
		s := NewStore()
		seedEntity(t, s, "e1", domain.CriticalityMedium)
		seedCVE(t, s, "CVE-1", 5.0)
		seedVuln(t, s, "v1", "e1", "CVE-1")

		s.rowGuard.Lock()
		_, held := s.rowLocks["v1"]
		s.rowGuard.Unlock()
		require.True(t, held)

		require.NoError(t, s.DeleteEntity("e1"))

		s.rowGuard.Lock()
		_, held = s.rowLocks["v1"]
		s.rowGuard.Unlock()
		assert.False(t, held)
	})
}

func TestRecompute(t *testing.T) {
	t.Run("unknown row is not found", func(t *testing.T) {
		s := NewStore()
		assert.ErrorIs(t, s.Recompute("ghost"), domain.ErrNotFound)
	})

	t.Run("recompute all reports no failures on a healthy model", func(t *testing.T) {
		s := NewStore()
		seedCVE(t, s, "CVE-1", 5.0)
		for _, id := range []string{"e1", "e2", "e3"} {
			seedEntity(t, s, id, domain.CriticalityMedium)
			seedVuln(t, s, "v-"+id, id, "CVE-1")
		}
		failures := s.RecomputeAll(context.Background(), 2)
		assert.Empty(t, failures)
	})
}

func TestApplyMissionFlags(t *testing.T) {
	s := NewStore()
	seedEntity(t, s, "e1", domain.CriticalityMedium)
	seedEntity(t, s, "e2", domain.CriticalityMedium)
	seedCVE(t, s, "CVE-1", 4.0)
	seedVuln(t, s, "v1", "e1", "CVE-1")
	seedVuln(t, s, "v2", "e2", "CVE-1")

	changed := s.ApplyMissionFlags(map[string]bool{"e1": true})
	assert.Equal(t, 1, changed)

	score1, _, err := s.ContextualScore("v1")
	require.NoError(t, err)
	assert.Equal(t, 80.0, score1) // mission multiplier 2.0

	score2, _, err := s.ContextualScore("v2")
	require.NoError(t, err)
	assert.Equal(t, 40.0, score2)

	// Re-applying the same set is a no-op.
	assert.Equal(t, 0, s.ApplyMissionFlags(map[string]bool{"e1": true}))

	// Clearing the set flips the row back.
	assert.Equal(t, 1, s.ApplyMissionFlags(map[string]bool{}))
	score1, _, err = s.ContextualScore("v1")
	require.NoError(t, err)
	assert.Equal(t, 40.0, score1)
}

func TestSnapshotIsolation(t *testing.T) {
	s := NewStore()
	seedEntity(t, s, "e1", domain.CriticalityMedium)
	seedCVE(t, s, "CVE-1", 5.0)
	seedVuln(t, s, "v1", "e1", "CVE-1")

	snap := s.Snapshot()
	gen := snap.Generation

	seedEntity(t, s, "e2", domain.CriticalityHigh)
	seedEntity(t, s, "e1", domain.CriticalityCritical)

	assert.Len(t, snap.Entities, 1)
	assert.Equal(t, domain.CriticalityMedium, snap.Entities["e1"].Criticality)
	assert.Equal(t, gen, snap.Generation)
	assert.Less(t, gen, s.Generation())

	// Score pointers are deep copied, not aliased into the store.
	v := snap.Vulnerabilities["v1"]
	require.NotNil(t, v.ContextualRiskScore)
	assert.Equal(t, 50.0, *v.ContextualRiskScore)
}

func TestGeneration(t *testing.T) {
	s := NewStore()
	assert.Equal(t, uint64(0), s.Generation())
	seedEntity(t, s, "e1", domain.CriticalityMedium)
	assert.Equal(t, uint64(1), s.Generation())

	// Rejected writes do not advance the generation.
	_ = s.UpsertEntity(domain.Entity{ID: "bad", Category: "nope", Criticality: domain.CriticalityLow, Exposure: domain.ExposureInternal})
	assert.Equal(t, uint64(1), s.Generation())
}
