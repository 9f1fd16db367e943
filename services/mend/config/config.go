// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the agent configuration with priority
// env > file > defaults.
//
// Secrets (the tracker API token and the OpenAI key) never live in the
// Config struct as plain strings. They are sealed into memguard enclaves
// during Load and the source strings are cleared.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/awnumar/memguard"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the full agent configuration.
type Config struct {
	Tracker   TrackerConfig   `yaml:"tracker" validate:"required"`
	Engine    EngineConfig    `yaml:"engine" validate:"required"`
	Workspace WorkspaceConfig `yaml:"workspace" validate:"required"`
	Loop      LoopConfig      `yaml:"loop"`
	Agent     AgentConfig     `yaml:"agent" validate:"required"`
	State     StateConfig     `yaml:"state"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// JiraToken is the sealed tracker API token.
	JiraToken *memguard.Enclave `yaml:"-" validate:"required"`

	// OpenAIKey is the sealed model API key.
	OpenAIKey *memguard.Enclave `yaml:"-" validate:"required"`
}

// TrackerConfig points at the Jira instance.
type TrackerConfig struct {
	URL   string `yaml:"url" validate:"required,url"`
	Email string `yaml:"email" validate:"required,email"`

	// Token is only populated while parsing the file. Load moves it
	// into the JiraToken enclave and blanks it.
	Token string `yaml:"token"`
}

// EngineConfig selects and throttles the model backend.
type EngineConfig struct {
	Model             string `yaml:"model" validate:"required"`
	BaseURL           string `yaml:"base_url" validate:"omitempty,url"`
	RequestsPerMinute int    `yaml:"requests_per_minute" validate:"gte=0"`
	TimeoutSeconds    int    `yaml:"timeout_seconds" validate:"gte=0"`

	// APIKey is only populated while parsing the file, like Token.
	APIKey string `yaml:"api_key"`
}

// WorkspaceConfig locates the sandbox.
type WorkspaceConfig struct {
	Root string `yaml:"root" validate:"required"`
}

// LoopConfig tunes the fix cycle.
type LoopConfig struct {
	MaxAttempts    int  `yaml:"max_attempts" validate:"gte=1"`
	ReviewEnabled  bool `yaml:"review_enabled"`
	ReviewFailOpen bool `yaml:"review_fail_open"`
	DryRun         bool `yaml:"dry_run"`
	PlanFirst      bool `yaml:"plan_first"`
}

// AgentConfig tunes the poll worker.
type AgentConfig struct {
	Project             string   `yaml:"project" validate:"required"`
	PollIntervalSeconds int      `yaml:"poll_interval_seconds" validate:"gte=0"`
	MaxIssuesPerCycle   int      `yaml:"max_issues_per_cycle" validate:"gte=0"`
	StartStates         []string `yaml:"start_states"`
	DoneStates          []string `yaml:"done_states"`
}

// PollInterval returns the poll pause as a duration.
func (c AgentConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalSeconds) * time.Second
}

// StateConfig locates the poll-state database.
type StateConfig struct {
	Path string `yaml:"path"`
}

// ServerConfig controls the HTTP status endpoint.
type ServerConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=auto text json"`
}

// TelemetryConfig controls trace export.
type TelemetryConfig struct {
	Enabled bool `yaml:"enabled"`
}

// Default returns the configuration defaults. Required fields (tracker
// coordinates, project, secrets) have no defaults and must come from the
// file or environment.
func Default() Config {
	return Config{
		Engine: EngineConfig{
			Model:             "gpt-4o-mini",
			RequestsPerMinute: 20,
			TimeoutSeconds:    120,
		},
		Loop: LoopConfig{
			MaxAttempts:    3,
			ReviewEnabled:  true,
			ReviewFailOpen: true,
			PlanFirst:      true,
		},
		Agent: AgentConfig{
			PollIntervalSeconds: 60,
		},
		State: StateConfig{
			Path: ".mend/state",
		},
		Server: ServerConfig{
			Enabled: true,
			Addr:    ":8735",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
	}
}

// Load builds the configuration.
//
// Inputs:
//
//	path - YAML config file. Empty or missing file means defaults plus
//	environment only.
//
// Outputs:
//
//	*Config - Validated configuration with secrets sealed.
//	error - Non-nil on parse or validation failure.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
	}
	loadEnv(&cfg)
	sealSecrets(&cfg)

	if err := validator.New().Struct(&cfg); err != nil {
		return nil, fmt.Errorf("config: invalid configuration: %w", err)
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

func loadEnv(cfg *Config) {
	if v := os.Getenv("MEND_TRACKER_URL"); v != "" {
		cfg.Tracker.URL = v
	}
	if v := os.Getenv("MEND_TRACKER_EMAIL"); v != "" {
		cfg.Tracker.Email = v
	}
	if v := os.Getenv("MEND_TRACKER_TOKEN"); v != "" {
		cfg.Tracker.Token = v
	}
	if v := os.Getenv("MEND_OPENAI_API_KEY"); v != "" {
		cfg.Engine.APIKey = v
	}
	if v := os.Getenv("MEND_MODEL"); v != "" {
		cfg.Engine.Model = v
	}
	if v := os.Getenv("MEND_WORKSPACE"); v != "" {
		cfg.Workspace.Root = v
	}
	if v := os.Getenv("MEND_PROJECT"); v != "" {
		cfg.Agent.Project = v
	}
	if v := os.Getenv("MEND_POLL_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Agent.PollIntervalSeconds = int(d / time.Second)
		}
	}
	if v := os.Getenv("MEND_MAX_ATTEMPTS"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			cfg.Loop.MaxAttempts = i
		}
	}
	if v := os.Getenv("MEND_STATE_PATH"); v != "" {
		cfg.State.Path = v
	}
	if v := os.Getenv("MEND_SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("MEND_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// sealSecrets moves plaintext secrets into enclaves and blanks the
// struct fields so later marshalling cannot leak them.
func sealSecrets(cfg *Config) {
	if cfg.Tracker.Token != "" {
		cfg.JiraToken = memguard.NewEnclave([]byte(cfg.Tracker.Token))
		cfg.Tracker.Token = ""
	}
	if cfg.Engine.APIKey != "" {
		cfg.OpenAIKey = memguard.NewEnclave([]byte(cfg.Engine.APIKey))
		cfg.Engine.APIKey = ""
	}
}
