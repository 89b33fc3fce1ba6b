// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/KodiakSec/KodiakCore/pkg/logging"
	"github.com/KodiakSec/KodiakCore/services/riskengine"
	"github.com/KodiakSec/KodiakCore/services/riskengine/config"
	"github.com/KodiakSec/KodiakCore/services/riskengine/domain"
)

var (
	configPath string
	modelPath  string

	rootCmd = &cobra.Command{
		Use:   "kodiak",
		Short: "Contextual risk scoring for multi-methodology security models",
		Long: `Kodiak loads an analysis model from a JSON file, computes
context-aware vulnerability scores, and runs cross-framework
consistency and loss-cascade scans over it.`,
	}

	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Run model-wide analysis scans",
	}
	scanConsistencyCmd = &cobra.Command{
		Use:   "consistency",
		Short: "Report modeling gaps between the loaded frameworks",
		RunE:  runScanConsistency,
	}
	scanCascadeCmd = &cobra.Command{
		Use:   "cascade",
		Short: "Enumerate loss propagation chains",
		RunE:  runScanCascade,
	}

	rankCmd = &cobra.Command{
		Use:   "rank [entity-id]",
		Short: "Rank an entity's open vulnerabilities by contextual score",
		Args:  cobra.ExactArgs(1),
		RunE:  runRank,
	}
	predictCmd = &cobra.Command{
		Use:   "predict [cve-id]",
		Short: "Predict exploitation likelihood and timeline for a CVE",
		Args:  cobra.ExactArgs(1),
		RunE:  runPredict,
	}
	scenariosCmd = &cobra.Command{
		Use:   "scenarios",
		Short: "Score every scenario with the unified risk model",
		RunE:  runScenarios,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults apply when omitted)")
	rootCmd.PersistentFlags().StringVar(&modelPath, "model", "model.json", "path to the analysis model file")

	scanCmd.AddCommand(scanConsistencyCmd, scanCascadeCmd)
	rootCmd.AddCommand(scanCmd, rankCmd, predictCmd, scenariosCmd)
}

// loadEngine builds an engine from the --config and --model flags. The
// caller owns the returned engine and must Close it.
func loadEngine() (*riskengine.Engine, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	eng, err := riskengine.New(cfg, riskengine.WithLogger(logging.New(logging.Config{
		Level:   logging.ParseLevel(cfg.LogLevel),
		Service: "kodiak",
	})))
	if err != nil {
		return nil, err
	}
	mf, err := LoadModelFile(modelPath)
	if err != nil {
		eng.Close()
		return nil, err
	}
	if err := mf.Apply(eng); err != nil {
		eng.Close()
		return nil, err
	}
	return eng, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runScanConsistency(cmd *cobra.Command, args []string) error {
	eng, err := loadEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	report, err := eng.ConsistencyGaps(context.Background())
	if err != nil {
		return fmt.Errorf("consistency scan: %w", err)
	}
	return printJSON(report)
}

func runScanCascade(cmd *cobra.Command, args []string) error {
	eng, err := loadEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	report, err := eng.LossCascades(context.Background())
	if err != nil {
		return fmt.Errorf("cascade scan: %w", err)
	}
	return printJSON(report)
}

func runRank(cmd *cobra.Command, args []string) error {
	eng, err := loadEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	ranked, err := eng.RankedVulnerabilities(args[0])
	if err != nil {
		return fmt.Errorf("ranking %q: %w", args[0], err)
	}
	return printJSON(ranked)
}

func runPredict(cmd *cobra.Command, args []string) error {
	eng, err := loadEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	pred, err := eng.PredictExploitation(args[0])
	if err != nil {
		return fmt.Errorf("predicting %q: %w", args[0], err)
	}
	return printJSON(pred)
}

func runScenarios(cmd *cobra.Command, args []string) error {
	eng, err := loadEngine()
	if err != nil {
		return err
	}
	defer eng.Close()

	scores, failures := eng.ScoreAllScenarios()
	out := struct {
		Scores   []domain.UnifiedRiskScore `json:"scores"`
		Failures map[string]string         `json:"failures,omitempty"`
	}{Scores: scores}
	for id, ferr := range failures {
		if out.Failures == nil {
			out.Failures = map[string]string{}
		}
		out.Failures[id] = ferr.Error()
	}
	return printJSON(out)
}
