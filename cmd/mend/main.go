// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// mend watches an issue tracker and repairs the bugs it finds.
//
// The daemon polls Jira for new issues in a project, asks a model to
// propose search/replace edits against a sandboxed working copy, applies
// and reviews them, and reports the result back on the issue.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianMend/pkg/logging"
	"github.com/AleutianAI/AleutianMend/services/mend/agent"
	"github.com/AleutianAI/AleutianMend/services/mend/config"
	"github.com/AleutianAI/AleutianMend/services/mend/engine"
	"github.com/AleutianAI/AleutianMend/services/mend/loop"
	"github.com/AleutianAI/AleutianMend/services/mend/metrics"
	"github.com/AleutianAI/AleutianMend/services/mend/server"
	"github.com/AleutianAI/AleutianMend/services/mend/state"
	"github.com/AleutianAI/AleutianMend/services/mend/telemetry"
	"github.com/AleutianAI/AleutianMend/services/mend/tracker"
	"github.com/AleutianAI/AleutianMend/services/mend/validate"
	"github.com/AleutianAI/AleutianMend/services/mend/workspace"
)

var version = "dev"

var (
	rootCmd = &cobra.Command{
		Use:   "mend",
		Short: "An agent that fixes tracker issues in a sandboxed repository",
		Long: `mend polls an issue tracker for new bug reports, proposes code
edits with a language model, applies them inside a sandboxed working
copy, and posts the resulting diff back on the issue.`,
		SilenceUsage: true,
		RunE:         runDaemon,
	}
	onceCmd = &cobra.Command{
		Use:   "once",
		Short: "Poll the tracker a single time, fix what is new, and exit",
		RunE:  runOnce,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("mend", version)
		},
	}

	configPath string
	workRoot   string
	project    string
	dryRun     bool
	verbose    bool
	traceOut   bool
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "mend.yaml", "path to the config file")
	rootCmd.PersistentFlags().StringVar(&workRoot, "workspace", "", "override the sandbox root directory")
	rootCmd.PersistentFlags().StringVar(&project, "project", "", "override the tracker project key")
	rootCmd.PersistentFlags().BoolVar(&dryRun, "dry-run", false, "apply edits in memory only, never write files")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	rootCmd.PersistentFlags().BoolVar(&traceOut, "trace", false, "export traces to stdout")
	rootCmd.AddCommand(onceCmd, versionCmd)
}

func main() {
	defer memguard.Purge()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	return run(cmd.Context(), false)
}

func runOnce(cmd *cobra.Command, args []string) error {
	return run(cmd.Context(), true)
}

// run assembles the stack and drives it until done or interrupted.
func run(parent context.Context, once bool) error {
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Flags feed the config loader through its env layer so they are
	// validated together with everything else.
	if workRoot != "" {
		os.Setenv("MEND_WORKSPACE", workRoot)
	}
	if project != "" {
		os.Setenv("MEND_PROJECT", project)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	applyFlags(cfg)

	logger, err := logging.New(logging.Config{
		Level:  logging.ParseLevel(cfg.Logging.Level),
		Format: logging.ParseFormat(cfg.Logging.Format),
	})
	if err != nil {
		return err
	}
	defer logger.Close()
	slog.SetDefault(logger.Logger)

	runID := uuid.NewString()
	log := logger.With(slog.String("run_id", runID))
	log.Info("starting mend",
		slog.String("version", version),
		slog.String("project", cfg.Agent.Project),
		slog.String("workspace", cfg.Workspace.Root),
		slog.Bool("dry_run", cfg.Loop.DryRun),
	)

	telCfg := telemetry.DefaultConfig()
	telCfg.ServiceVersion = version
	if cfg.Telemetry.Enabled && telCfg.Exporter == "none" {
		telCfg.Exporter = "otlp"
	}
	if traceOut {
		telCfg.Exporter = "stdout"
	}
	shutdownTelemetry, err := telemetry.Init(ctx, telCfg)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	// === tracker ===
	trk, err := tracker.NewJiraClient(cfg.Tracker.URL, cfg.Tracker.Email, cfg.JiraToken, log)
	if err != nil {
		return err
	}
	// Unreachable tracker or bad credentials are fatal at startup.
	// Transient failures are tolerated once the poll loop is running.
	if err := trk.Ping(ctx); err != nil {
		return err
	}

	// === workspace ===
	sandbox, err := workspace.NewSandbox(cfg.Workspace.Root, log)
	if err != nil {
		return err
	}
	if err := sandbox.WatchChanges(ctx); err != nil {
		log.Warn("file watching unavailable", slog.Any("error", err))
	}

	// === engine ===
	eng, err := engine.NewOpenAIEngine(cfg.OpenAIKey, engine.OpenAIOptions{
		Model:             cfg.Engine.Model,
		BaseURL:           cfg.Engine.BaseURL,
		RequestsPerMinute: cfg.Engine.RequestsPerMinute,
		Timeout:           time.Duration(cfg.Engine.TimeoutSeconds) * time.Second,
	}, log)
	if err != nil {
		return err
	}

	// === state ===
	store, err := state.Open(state.Config{Path: cfg.State.Path, Logger: log})
	if err != nil {
		return err
	}
	defer store.Close()

	// === loop and agent ===
	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	fixLoop, err := loop.New(eng, sandbox, validate.NewValidator(log), m, loop.Options{
		MaxAttempts:    cfg.Loop.MaxAttempts,
		ReviewEnabled:  cfg.Loop.ReviewEnabled,
		ReviewFailOpen: cfg.Loop.ReviewFailOpen,
		DryRun:         cfg.Loop.DryRun,
		PlanFirst:      cfg.Loop.PlanFirst,
	}, log)
	if err != nil {
		return err
	}

	worker, err := agent.New(trk, fixLoop, store, m, agent.Options{
		Project:           cfg.Agent.Project,
		PollInterval:      cfg.Agent.PollInterval(),
		MaxIssuesPerCycle: cfg.Agent.MaxIssuesPerCycle,
		StartStates:       cfg.Agent.StartStates,
		DoneStates:        cfg.Agent.DoneStates,
		DryRun:            cfg.Loop.DryRun,
	}, log)
	if err != nil {
		return err
	}

	if once {
		return worker.RunOnce(ctx)
	}

	startedAt := time.Now()
	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		err := worker.Run(groupCtx)
		if err == context.Canceled {
			return nil
		}
		return err
	})

	if cfg.Server.Enabled {
		srv, err := server.New(cfg.Server.Addr, registry, func() server.Status {
			return server.Status{
				Project:   cfg.Agent.Project,
				Model:     eng.Model(),
				Workspace: sandbox.Root(),
				DryRun:    cfg.Loop.DryRun,
				StartedAt: startedAt,
			}
		}, log)
		if err != nil {
			return err
		}
		group.Go(func() error {
			return srv.Run(groupCtx)
		})
	}

	if err := group.Wait(); err != nil && err != context.Canceled {
		return err
	}
	log.Info("mend stopped")
	return nil
}

// applyFlags lets command line flags override the loaded configuration.
func applyFlags(cfg *config.Config) {
	if dryRun {
		cfg.Loop.DryRun = true
	}
	if verbose {
		cfg.Logging.Level = "debug"
	}
}
