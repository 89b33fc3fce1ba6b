// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cascade

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/KodiakSec/KodiakCore/services/riskengine/domain"
	"github.com/KodiakSec/KodiakCore/services/riskengine/model"
)

func buildGraph(t *testing.T, edges [][2]string) *model.Store {
	t.Helper()
	s := model.NewStore()
	seen := make(map[string]bool)
	addLoss := func(id string) {
		if !seen[id] {
			require.NoError(t, s.UpsertLoss(domain.Loss{ID: id, Severity: domain.CriticalityHigh}))
			seen[id] = true
		}
	}
	for i, e := range edges {
		addLoss(e[0])
		addLoss(e[1])
		require.NoError(t, s.UpsertLossDependency(domain.LossDependency{
			ID:          "d" + string(rune('a'+i)),
			PrimaryID:   e[0],
			DependentID: e[1],
			Type:        domain.DependencyEnables,
			Strength:    domain.StrengthCertain,
		}))
	}
	return s
}

func TestAnalyze(t *testing.T) {
	t.Run("linear chain emits every prefix", func(t *testing.T) {
		s := buildGraph(t, [][2]string{{"l1", "l2"}, {"l2", "l3"}})
		report, err := NewAnalyzer().Analyze(context.Background(), s.Snapshot())
		require.NoError(t, err)

		var fromL1 []Chain
		for _, c := range report.Chains {
			if c.RootID == "l1" {
				fromL1 = append(fromL1, c)
			}
		}
		require.Len(t, fromL1, 2)
		assert.Equal(t, []string{"l1", "l2"}, fromL1[0].Path)
		assert.Equal(t, 1, fromL1[0].Depth)
		assert.Equal(t, []string{"l1", "l2", "l3"}, fromL1[1].Path)
		assert.Equal(t, 2, fromL1[1].Depth)
		assert.False(t, fromL1[1].Truncated)
	})

	t.Run("cycle terminates at the depth bound", func(t *testing.T) {
		s := buildGraph(t, [][2]string{{"l1", "l2"}, {"l2", "l1"}})
		report, err := NewAnalyzer().Analyze(context.Background(), s.Snapshot())
		require.NoError(t, err)

		for _, c := range report.Chains {
			assert.LessOrEqual(t, c.Depth, MaxDepth)
			assert.Len(t, c.Path, c.Depth+1)
		}

		// Each root walks the two-cycle to exactly MaxDepth, so the
		// deepest chain from each root is truncated.
		truncatedRoots := make(map[string]bool)
		for _, c := range report.Chains {
			if c.Truncated {
				truncatedRoots[c.RootID] = true
				assert.Equal(t, MaxDepth, c.Depth)
			}
		}
		assert.Equal(t, map[string]bool{"l1": true, "l2": true}, truncatedRoots)
	})

	t.Run("deterministic ordering across runs", func(t *testing.T) {
		s := buildGraph(t, [][2]string{{"l1", "l3"}, {"l1", "l2"}, {"l2", "l4"}})
		snap := s.Snapshot()
		a := NewAnalyzer()

		first, err := a.Analyze(context.Background(), snap)
		require.NoError(t, err)
		second, err := a.Analyze(context.Background(), snap)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		// Roots in identifier order, depths ascending within a root.
		prevRoot := ""
		prevDepth := 0
		for _, c := range first.Chains {
			if c.RootID != prevRoot {
				assert.Greater(t, c.RootID, prevRoot)
				prevRoot = c.RootID
				prevDepth = 0
			}
			assert.GreaterOrEqual(t, c.Depth, prevDepth)
			prevDepth = c.Depth
		}
	})

	t.Run("isolated losses yield no chains", func(t *testing.T) {
		s := model.NewStore()
		require.NoError(t, s.UpsertLoss(domain.Loss{ID: "l1", Severity: domain.CriticalityLow}))
		report, err := NewAnalyzer().Analyze(context.Background(), s.Snapshot())
		require.NoError(t, err)
		assert.Empty(t, report.Chains)
		assert.Equal(t, s.Generation(), report.Generation)
	})

	t.Run("lowered depth bound honored", func(t *testing.T) {
		s := buildGraph(t, [][2]string{{"l1", "l2"}, {"l2", "l3"}, {"l3", "l4"}})
		report, err := NewAnalyzer(WithMaxDepth(2)).Analyze(context.Background(), s.Snapshot())
		require.NoError(t, err)
		for _, c := range report.Chains {
			assert.LessOrEqual(t, c.Depth, 2)
		}
	})

	t.Run("depth bound cannot be raised", func(t *testing.T) {
		s := buildGraph(t, [][2]string{{"l1", "l2"}, {"l2", "l1"}})
		report, err := NewAnalyzer(WithMaxDepth(50)).Analyze(context.Background(), s.Snapshot())
		require.NoError(t, err)
		for _, c := range report.Chains {
			assert.LessOrEqual(t, c.Depth, MaxDepth)
		}
	})

	t.Run("nil snapshot rejected", func(t *testing.T) {
		_, err := NewAnalyzer().Analyze(context.Background(), nil)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("cancelled context stops the scan", func(t *testing.T) {
		s := buildGraph(t, [][2]string{{"l1", "l2"}})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewAnalyzer().Analyze(ctx, s.Snapshot())
		assert.ErrorIs(t, err, context.Canceled)
	})
}
