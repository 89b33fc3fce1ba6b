// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cascade traverses the loss-dependency graph to produce
// bounded cascade chains.
//
// # Description
//
// For every loss, the analyzer expands dependency edges forward and
// emits one chain per discovered path, up to a fixed depth. The domain
// model forbids self-loops and duplicate edges but not cycles, so the
// depth bound is the only cycle guard: a cycle yields finite, truncated
// chains rather than an infinite walk. Chains are grouped by root loss,
// then ordered by depth ascending, then by path.
//
// # Thread Safety
//
// The analyzer is stateless between calls and reads only a model
// snapshot; it is safe for concurrent use.
package cascade

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/KodiakSec/KodiakCore/services/riskengine/domain"
	"github.com/KodiakSec/KodiakCore/services/riskengine/model"
)

// MaxDepth is the traversal bound. It is a correctness invariant, not a
// tuning knob: it is what guarantees termination on cyclic graphs.
const MaxDepth = 5

// Chain is one dependent-loss path from a root loss.
type Chain struct {
	// RootID is the loss the chain starts from.
	RootID string `json:"root_id"`

	// Path is the ordered sequence of loss identifiers, starting with
	// the root. A cyclic graph may repeat identifiers within a path.
	Path []string `json:"path"`

	// Depth is the number of edges in the path (1..MaxDepth).
	Depth int `json:"depth"`

	// Truncated marks a chain cut at MaxDepth while outgoing edges
	// remained. Repeated truncation from one root is the visible
	// symptom of a dependency cycle.
	Truncated bool `json:"truncated"`
}

// Report is the output of one full-graph cascade analysis.
type Report struct {
	// Generation is the model generation the report was computed from.
	Generation uint64 `json:"generation"`

	// Chains holds every discovered chain, grouped by root loss and
	// ordered by depth ascending within each root.
	Chains []Chain `json:"chains"`
}

// Analyzer produces cascade reports from model snapshots.
type Analyzer struct {
	log      *slog.Logger
	maxDepth int
}

// Option configures an Analyzer.
type Option func(*Analyzer)

// WithLogger sets the analyzer's logger.
func WithLogger(log *slog.Logger) Option {
	return func(a *Analyzer) { a.log = log }
}

// WithMaxDepth lowers the traversal bound. Values outside 1..MaxDepth
// are ignored; the bound can never be raised past MaxDepth.
func WithMaxDepth(depth int) Option {
	return func(a *Analyzer) {
		if depth >= 1 && depth <= MaxDepth {
			a.maxDepth = depth
		}
	}
}

// NewAnalyzer creates a cascade analyzer with the standard depth bound.
func NewAnalyzer(opts ...Option) *Analyzer {
	a := &Analyzer{log: slog.Default(), maxDepth: MaxDepth}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Analyze expands every loss in the snapshot into its cascade chains.
//
// The scan is read-only and deterministic for a given snapshot: roots
// are visited in identifier order and edges in dependent-identifier
// order, so two runs over the same generation produce identical
// reports. Cancellation stops between roots; no external resource is
// held.
func (a *Analyzer) Analyze(ctx context.Context, snap *model.Snapshot) (*Report, error) {
	if snap == nil {
		return nil, domain.ErrInvalidInput
	}

	roots := make([]string, 0, len(snap.Losses))
	for id := range snap.Losses {
		roots = append(roots, id)
	}
	sort.Strings(roots)

	adjacency := buildAdjacency(snap)

	report := &Report{Generation: snap.Generation}
	for _, root := range roots {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		chains := a.expand(root, adjacency)
		sort.Slice(chains, func(i, j int) bool {
			if chains[i].Depth != chains[j].Depth {
				return chains[i].Depth < chains[j].Depth
			}
			return strings.Join(chains[i].Path, "/") < strings.Join(chains[j].Path, "/")
		})
		report.Chains = append(report.Chains, chains...)
	}

	a.log.Debug("cascade analysis complete",
		"generation", snap.Generation,
		"losses", len(roots),
		"chains", len(report.Chains),
	)
	return report, nil
}

// buildAdjacency maps each loss to its sorted forward edges.
func buildAdjacency(snap *model.Snapshot) map[string][]string {
	adj := make(map[string][]string)
	for _, d := range snap.LossDependencies {
		adj[d.PrimaryID] = append(adj[d.PrimaryID], d.DependentID)
	}
	for id := range adj {
		sort.Strings(adj[id])
	}
	return adj
}

// expand walks every path from root up to the depth bound, emitting a
// chain per path. The bound alone guards against cycles; visited nodes
// are deliberately not tracked because revisits are valid graph data.
func (a *Analyzer) expand(root string, adj map[string][]string) []Chain {
	var chains []Chain
	path := []string{root}

	var walk func(node string, depth int)
	walk = func(node string, depth int) {
		if depth > 0 {
			chain := Chain{
				RootID: root,
				Path:   append([]string(nil), path...),
				Depth:  depth,
			}
			if depth == a.maxDepth && len(adj[node]) > 0 {
				chain.Truncated = true
			}
			chains = append(chains, chain)
		}
		if depth == a.maxDepth {
			return
		}
		for _, next := range adj[node] {
			path = append(path, next)
			walk(next, depth+1)
			path = path[:len(path)-1]
		}
	}
	walk(root, 0)
	return chains
}
