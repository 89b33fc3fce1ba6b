// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/KodiakSec/KodiakCore/services/riskengine"
	"github.com/KodiakSec/KodiakCore/services/riskengine/domain"
)

// ModelFile is the on-disk form of an analysis model. Sections are
// applied in dependency order, so a single file can describe a complete
// model without forward-reference errors.
type ModelFile struct {
	Entities        []domain.Entity              `json:"entities,omitempty"`
	ControlLoops    []domain.ControlLoop         `json:"control_loops,omitempty"`
	Relationships   []domain.Relationship        `json:"relationships,omitempty"`
	Losses          []domain.Loss                `json:"losses,omitempty"`
	Hazards         []domain.Hazard              `json:"hazards,omitempty"`
	LossDeps        []domain.LossDependency      `json:"loss_dependencies,omitempty"`
	CVEs            []domain.CVERecord           `json:"cves,omitempty"`
	Vulnerabilities []domain.EntityVulnerability `json:"vulnerabilities,omitempty"`
	Findings        []domain.Finding             `json:"findings,omitempty"`
	Scenarios       []domain.Scenario            `json:"scenarios,omitempty"`

	// MissionProcesses lists the business processes whose control loops
	// should be flagged as mission critical after loading.
	MissionProcesses []string `json:"mission_processes,omitempty"`
}

// LoadModelFile reads and decodes a model file from disk.
func LoadModelFile(path string) (*ModelFile, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading model file: %w", err)
	}
	var mf ModelFile
	if err := json.Unmarshal(raw, &mf); err != nil {
		return nil, fmt.Errorf("parsing model file %q: %w", path, err)
	}
	return &mf, nil
}

// Apply loads every section of the model file into the engine. It stops
// at the first rejected record so a partial load is easy to diagnose.
func (mf *ModelFile) Apply(eng *riskengine.Engine) error {
	for _, e := range mf.Entities {
		if err := eng.UpsertEntity(e); err != nil {
			return fmt.Errorf("entity %q: %w", e.ID, err)
		}
	}
	for _, cl := range mf.ControlLoops {
		if err := eng.UpsertControlLoop(cl); err != nil {
			return fmt.Errorf("control loop %q: %w", cl.ID, err)
		}
	}
	for _, r := range mf.Relationships {
		if err := eng.UpsertRelationship(r); err != nil {
			return fmt.Errorf("relationship %q: %w", r.ID, err)
		}
	}
	for _, l := range mf.Losses {
		if err := eng.UpsertLoss(l); err != nil {
			return fmt.Errorf("loss %q: %w", l.ID, err)
		}
	}
	for _, h := range mf.Hazards {
		if err := eng.UpsertHazard(h); err != nil {
			return fmt.Errorf("hazard %q: %w", h.ID, err)
		}
	}
	for _, d := range mf.LossDeps {
		if err := eng.UpsertLossDependency(d); err != nil {
			return fmt.Errorf("loss dependency %q: %w", d.ID, err)
		}
	}
	for _, c := range mf.CVEs {
		if err := eng.UpsertCVE(c); err != nil {
			return fmt.Errorf("cve %q: %w", c.ID, err)
		}
	}
	for _, v := range mf.Vulnerabilities {
		if err := eng.UpsertEntityVulnerability(v); err != nil {
			return fmt.Errorf("vulnerability %q: %w", v.ID, err)
		}
	}
	for _, f := range mf.Findings {
		if err := eng.UpsertFinding(f); err != nil {
			return fmt.Errorf("finding %q: %w", f.ID, err)
		}
	}
	for _, sc := range mf.Scenarios {
		if err := eng.UpsertScenario(sc); err != nil {
			return fmt.Errorf("scenario %q: %w", sc.ID, err)
		}
	}
	if len(mf.MissionProcesses) > 0 {
		eng.ApplyMissionProcesses(mf.MissionProcesses)
	}
	return nil
}
