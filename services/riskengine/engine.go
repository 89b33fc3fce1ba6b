// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package riskengine exposes the contextual risk-scoring and
// cross-framework consistency engine behind one façade.
//
// # Description
//
// The engine owns the in-memory analysis model and the derived values
// computed from it: contextual risk scores, unified scenario scores,
// ranked vulnerability lists, exploitation predictions, consistency
// gap reports, and loss cascade reports. Writes go through the model
// store, which recomputes affected scores inside the write; full-model
// scans are cached per generation and archived for later retrieval.
//
// # Thread Safety
//
// Safe for concurrent use. The store serializes writes; scans operate
// on immutable snapshots and are deduplicated by the scan cache.
package riskengine

import (
	"context"
	"fmt"
	"time"

	"github.com/KodiakSec/KodiakCore/pkg/logging"
	"github.com/KodiakSec/KodiakCore/services/riskengine/archive"
	"github.com/KodiakSec/KodiakCore/services/riskengine/cache"
	"github.com/KodiakSec/KodiakCore/services/riskengine/cascade"
	"github.com/KodiakSec/KodiakCore/services/riskengine/config"
	"github.com/KodiakSec/KodiakCore/services/riskengine/consistency"
	"github.com/KodiakSec/KodiakCore/services/riskengine/domain"
	"github.com/KodiakSec/KodiakCore/services/riskengine/mission"
	"github.com/KodiakSec/KodiakCore/services/riskengine/model"
	"github.com/KodiakSec/KodiakCore/services/riskengine/observability"
	"github.com/KodiakSec/KodiakCore/services/riskengine/unified"
)

// Report kinds used for cache keys, archive keys, and scan metrics.
const (
	ScanKindConsistency = "consistency"
	ScanKindCascade     = "cascade"
)

// Engine is the façade over the risk analysis model and its scans.
type Engine struct {
	cfg     config.Config
	log     *logging.Logger
	store   *model.Store
	cascade *cascade.Analyzer
	checker *consistency.Validator
	agg     *unified.Aggregator
	mission *mission.Prioritizer
	scans   *cache.ScanCache
	reports *archive.Archive
	metrics *observability.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine's logger. Component loggers derive from
// it with a "component" attribute.
func WithLogger(log *logging.Logger) Option {
	return func(e *Engine) { e.log = log }
}

// WithMetrics sets the engine's metrics. Nil disables metric
// observation without nil checks at call sites.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New creates an engine from the given configuration. The caller must
// Close it to release the report archive.
func New(cfg config.Config, opts ...Option) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	e := &Engine{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.log == nil {
		e.log = logging.New(logging.Config{
			Level:   logging.ParseLevel(cfg.LogLevel),
			Service: "riskengine",
		})
	}
	slogger := e.log.Slog()

	archCfg := archive.InMemoryConfig()
	if cfg.ArchivePath != "" {
		archCfg = archive.DefaultConfig(cfg.ArchivePath)
		archCfg.SyncWrites = cfg.ArchiveSyncWrites
	}
	archCfg.Logger = slogger
	reports, err := archive.Open(archCfg)
	if err != nil {
		return nil, fmt.Errorf("open report archive: %w", err)
	}

	e.store = model.NewStore(
		model.WithLogger(slogger.With("component", "model")),
		model.WithMetrics(e.metrics),
	)
	e.cascade = cascade.NewAnalyzer(
		cascade.WithLogger(slogger.With("component", "cascade")),
		cascade.WithMaxDepth(cfg.CascadeMaxDepth),
	)
	e.checker = consistency.NewValidator(
		consistency.WithLogger(slogger.With("component", "consistency")),
	)
	e.agg = unified.NewAggregator(
		unified.WithLogger(slogger.With("component", "unified")),
		unified.WithRankingSize(cfg.RankingSize),
	)
	e.mission = mission.NewPrioritizer(e.store,
		mission.WithLogger(slogger.With("component", "mission")),
	)
	e.scans = cache.NewScanCache(cfg.ScanCacheSize)
	e.reports = reports

	e.log.Info("risk engine initialized",
		"cascade_max_depth", cfg.CascadeMaxDepth,
		"scan_cache_size", cfg.ScanCacheSize,
		"archive_persistent", cfg.ArchivePath != "",
	)
	return e, nil
}

// Close releases the report archive.
func (e *Engine) Close() error {
	return e.reports.Close()
}

// Store exposes the underlying model store for direct reads.
func (e *Engine) Store() *model.Store { return e.store }

// Generation returns the current model generation.
func (e *Engine) Generation() uint64 { return e.store.Generation() }

// RegisterRule adds a consistency rule beyond the built-ins. Must be
// called before the first scan; panics on a duplicate rule identifier.
func (e *Engine) RegisterRule(rules ...consistency.Rule) {
	e.checker.Register(rules...)
}

// --- Model writes ------------------------------------------------------

// UpsertEntity inserts or replaces an entity. Replacing an entity
// recomputes the scores of its vulnerability instances.
func (e *Engine) UpsertEntity(entity domain.Entity) error {
	return e.store.UpsertEntity(entity)
}

// DeleteEntity removes an entity and everything anchored to it.
func (e *Engine) DeleteEntity(id string) error {
	return e.store.DeleteEntity(id)
}

// UpsertControlLoop inserts or replaces a control loop.
func (e *Engine) UpsertControlLoop(loop domain.ControlLoop) error {
	return e.store.UpsertControlLoop(loop)
}

// UpsertRelationship inserts or replaces a relationship between two
// known entities.
func (e *Engine) UpsertRelationship(rel domain.Relationship) error {
	return e.store.UpsertRelationship(rel)
}

// UpsertLoss inserts or replaces a loss.
func (e *Engine) UpsertLoss(loss domain.Loss) error {
	return e.store.UpsertLoss(loss)
}

// UpsertHazard inserts or replaces a hazard and its loss mappings.
func (e *Engine) UpsertHazard(hazard domain.Hazard) error {
	return e.store.UpsertHazard(hazard)
}

// UpsertLossDependency inserts a directed loss dependency edge.
func (e *Engine) UpsertLossDependency(dep domain.LossDependency) error {
	return e.store.UpsertLossDependency(dep)
}

// UpsertCVE inserts or replaces a CVE record and rederives the scores
// of every vulnerability instance linked to it.
func (e *Engine) UpsertCVE(cve domain.CVERecord) error {
	return e.store.UpsertCVE(cve)
}

// UpsertEntityVulnerability inserts or replaces a vulnerability
// instance; its scores are computed within the same write.
func (e *Engine) UpsertEntityVulnerability(v domain.EntityVulnerability) error {
	return e.store.UpsertEntityVulnerability(v)
}

// UpsertFinding inserts or replaces a methodology finding.
func (e *Engine) UpsertFinding(f domain.Finding) error {
	return e.store.UpsertFinding(f)
}

// UpsertScenario inserts or replaces a risk scenario. All referenced
// records are checked before any state changes.
func (e *Engine) UpsertScenario(sc domain.Scenario) error {
	return e.store.UpsertScenario(sc)
}

// RecomputeAll rescores every vulnerability instance with bounded
// parallelism, returning per-row failures.
func (e *Engine) RecomputeAll(ctx context.Context) map[string]error {
	return e.store.RecomputeAll(ctx, e.cfg.RecomputeWorkers)
}

// ApplyMissionProcesses marks every entity on a control loop
// controlling one of the named processes as mission-critical, clears
// the mark elsewhere, and returns the critical set plus the number of
// entities whose flag changed.
func (e *Engine) ApplyMissionProcesses(processes []string) (map[string]bool, int) {
	return e.mission.Apply(processes)
}

// --- Reads -------------------------------------------------------------

// ContextualScore returns a vulnerability instance's contextual risk
// score. stale reports that the score predates a failed recompute.
func (e *Engine) ContextualScore(vulnerabilityID string) (score float64, stale bool, err error) {
	return e.store.ContextualScore(vulnerabilityID)
}

// RankedVulnerabilities returns an entity's top open vulnerabilities
// by contextual score, at most the configured ranking size.
func (e *Engine) RankedVulnerabilities(entityID string) ([]unified.RankedVulnerability, error) {
	return e.agg.RankVulnerabilities(e.store.Snapshot(), entityID)
}

// PredictExploitation projects exploitation likelihood and timeline
// for a CVE across all entities it touches.
func (e *Engine) PredictExploitation(cveID string) (*unified.ExploitationPrediction, error) {
	return e.agg.PredictExploitation(e.store.Snapshot(), cveID)
}

// ScoreScenario computes the unified risk score for one scenario.
func (e *Engine) ScoreScenario(scenarioID string) (*domain.UnifiedRiskScore, error) {
	return e.agg.ScoreScenario(e.store.Snapshot(), scenarioID)
}

// ScoreAllScenarios scores every scenario, ordered by score
// descending, with per-scenario failures reported separately.
func (e *Engine) ScoreAllScenarios() ([]domain.UnifiedRiskScore, map[string]error) {
	return e.agg.ScoreAll(e.store.Snapshot())
}

// --- Scans -------------------------------------------------------------

// ConsistencyGaps runs the cross-framework consistency scan, cached
// per model generation and archived on computation.
func (e *Engine) ConsistencyGaps(ctx context.Context) (*consistency.Report, error) {
	snap := e.store.Snapshot()
	key := cache.Key(ScanKindConsistency, snap.Generation)
	v, hit, err := e.scans.GetOrCompute(key, func() (any, error) {
		start := time.Now()
		report, err := e.checker.Run(ctx, snap)
		if err != nil {
			return nil, err
		}
		e.metrics.ObserveScan(ScanKindConsistency, time.Since(start).Seconds())
		e.archivePut(ScanKindConsistency, snap.Generation, report)
		return report, nil
	})
	e.metrics.ObserveCacheLookup(ScanKindConsistency, hit)
	if err != nil {
		return nil, err
	}
	return v.(*consistency.Report), nil
}

// LossCascades runs the loss cascade scan, cached per model generation
// and archived on computation.
func (e *Engine) LossCascades(ctx context.Context) (*cascade.Report, error) {
	snap := e.store.Snapshot()
	key := cache.Key(ScanKindCascade, snap.Generation)
	v, hit, err := e.scans.GetOrCompute(key, func() (any, error) {
		start := time.Now()
		report, err := e.cascade.Analyze(ctx, snap)
		if err != nil {
			return nil, err
		}
		e.metrics.ObserveScan(ScanKindCascade, time.Since(start).Seconds())
		e.archivePut(ScanKindCascade, snap.Generation, report)
		return report, nil
	})
	e.metrics.ObserveCacheLookup(ScanKindCascade, hit)
	if err != nil {
		return nil, err
	}
	return v.(*cascade.Report), nil
}

// ArchivedReports lists archived reports of a scan kind, newest
// generation first.
func (e *Engine) ArchivedReports(kind string, limit int) ([]archive.Entry, error) {
	return e.reports.List(kind, limit)
}

// LatestArchivedReport returns the newest archived report of a kind.
func (e *Engine) LatestArchivedReport(kind string) (*archive.Entry, error) {
	return e.reports.Latest(kind)
}

// ScanCacheStats returns cumulative scan cache hit and miss counts.
func (e *Engine) ScanCacheStats() (hits, misses int64) {
	return e.scans.Stats()
}

// archivePut persists a report, logging failures without failing the
// scan. The scan result is already correct; losing one archive entry
// only affects report history.
func (e *Engine) archivePut(kind string, generation uint64, report any) {
	err := e.reports.Put(kind, generation, report)
	e.metrics.ObserveArchiveWrite(kind, err == nil)
	if err != nil {
		e.log.Warn("report archive write failed",
			"kind", kind,
			"generation", generation,
			"error", err,
		)
	}
}
