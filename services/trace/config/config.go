// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the tracegraph engine configuration.
//
// Priority is env > file > defaults. Files are YAML, with JSON accepted as
// a fallback. The loaded Config converts into the option types of the
// entity, confidence, and cascade packages.
//
// Thread Safety:
//
//	Config is a plain value; loading has no shared state.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/tracegraph/pkg/logging"
	"github.com/AleutianAI/tracegraph/services/trace/cascade"
	"github.com/AleutianAI/tracegraph/services/trace/confidence"
	"github.com/AleutianAI/tracegraph/services/trace/entity"
	"github.com/AleutianAI/tracegraph/services/trace/history"
	"github.com/AleutianAI/tracegraph/services/trace/relation"
	"github.com/AleutianAI/tracegraph/services/trace/telemetry"
)

// ErrInvalidConfig is returned when a loaded configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Config is the complete engine configuration.
type Config struct {
	// MaxDepth bounds cascade traversal; reported depths stay below it.
	MaxDepth int `json:"max_depth" yaml:"max_depth" validate:"gte=1"`

	// TraversalStepBudget caps frontier pops per analysis.
	TraversalStepBudget int `json:"traversal_step_budget" yaml:"traversal_step_budget" validate:"gte=1"`

	// TraversalTimeoutMS is a per-analysis deadline. 0 disables it.
	TraversalTimeoutMS int64 `json:"traversal_timeout_ms" yaml:"traversal_timeout_ms" validate:"gte=0"`

	// Concurrency bounds parallel analyses in a batch.
	Concurrency int `json:"concurrency" yaml:"concurrency" validate:"gte=1"`

	// EdgeKinds are the edge kinds a cascade follows. Empty means uses only.
	EdgeKinds []string `json:"edge_kinds" yaml:"edge_kinds" validate:"dive,required"`

	// ConfidenceBands are the age decay steps, youngest first.
	ConfidenceBands []BandConfig `json:"confidence_bands" yaml:"confidence_bands" validate:"required,min=1,dive"`

	// VelocityWindowMS is the trailing window for counting updates.
	VelocityWindowMS int64 `json:"velocity_window_ms" yaml:"velocity_window_ms" validate:"gt=0"`

	// VelocityWeight scales the update-rate penalty.
	VelocityWeight float64 `json:"velocity_weight" yaml:"velocity_weight" validate:"gte=0"`

	// UpdateHistoryCapacity is the number of update instants kept per
	// identity for velocity.
	UpdateHistoryCapacity int `json:"update_history_capacity" yaml:"update_history_capacity" validate:"gte=1"`

	Risk      cascade.RiskConfig `json:"risk" yaml:"risk"`
	Logging   LoggingConfig      `json:"logging" yaml:"logging"`
	Telemetry telemetry.Config   `json:"telemetry" yaml:"telemetry"`
}

// BandConfig is one confidence band. MaxAgeMS 0 means unbounded.
type BandConfig struct {
	Name       string  `json:"name" yaml:"name" validate:"required"`
	MaxAgeMS   int64   `json:"max_age_ms" yaml:"max_age_ms" validate:"gte=0"`
	Multiplier float64 `json:"multiplier" yaml:"multiplier" validate:"gte=0,lte=1"`
}

// LoggingConfig configures the host logger.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level" validate:"omitempty,oneof=debug info warn warning error"`
	JSON  bool   `json:"json" yaml:"json"`
	Dir   string `json:"dir" yaml:"dir"`
}

// Default returns the default configuration.
func Default() Config {
	policy := confidence.DefaultPolicy()
	bands := make([]BandConfig, len(policy.Bands))
	for i, b := range policy.Bands {
		bands[i] = BandConfig{Name: b.Name, MaxAgeMS: b.MaxAge.Milliseconds(), Multiplier: b.Multiplier}
	}
	return Config{
		MaxDepth:              cascade.DefaultMaxDepth,
		TraversalStepBudget:   cascade.DefaultStepBudget,
		Concurrency:           cascade.DefaultConcurrency,
		EdgeKinds:             kindNames(cascade.DefaultEdgeKinds()),
		ConfidenceBands:       bands,
		VelocityWindowMS:      policy.VelocityWindow.Milliseconds(),
		VelocityWeight:        policy.VelocityWeight,
		UpdateHistoryCapacity: history.DefaultCapacity,
		Risk:                  cascade.DefaultRiskConfig(),
		Logging:               LoggingConfig{Level: "info"},
		Telemetry:             telemetry.DefaultConfig(),
	}
}

// Load loads configuration with priority: env > file > defaults.
//
// Inputs:
//   - path: Path to a YAML/JSON file (optional, can be empty). A missing
//     file is not an error.
//
// Outputs:
//   - Config: Merged configuration.
//   - error: Non-nil if the file is unreadable or the result is invalid.
func Load(path string) (Config, error) {
	config := Default()

	if path != "" {
		if err := loadConfigFile(path, &config); err != nil {
			return config, fmt.Errorf("load config file: %w", err)
		}
	}

	loadConfigFromEnv(&config)

	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

func loadConfigFile(path string, config *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	// YAML first, then JSON. Each attempt decodes into its own copy so a
	// partial decode never leaks into config.
	fromYAML := config.clone()
	yamlErr := yaml.Unmarshal(data, &fromYAML)
	if yamlErr == nil {
		*config = fromYAML
		return nil
	}
	fromJSON := config.clone()
	if jsonErr := json.Unmarshal(data, &fromJSON); jsonErr != nil {
		return fmt.Errorf("parse config (tried YAML and JSON): YAML error: %v, JSON error: %w", yamlErr, jsonErr)
	}
	*config = fromJSON
	return nil
}

// clone copies c with its own slices.
func (c Config) clone() Config {
	c.EdgeKinds = append([]string(nil), c.EdgeKinds...)
	c.ConfidenceBands = append([]BandConfig(nil), c.ConfidenceBands...)
	return c
}

func loadConfigFromEnv(config *Config) {
	if v := os.Getenv("TRACEGRAPH_MAX_DEPTH"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.MaxDepth = i
		}
	}
	if v := os.Getenv("TRACEGRAPH_STEP_BUDGET"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.TraversalStepBudget = i
		}
	}
	if v := os.Getenv("TRACEGRAPH_TRAVERSAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.TraversalTimeoutMS = d.Milliseconds()
		}
	}
	if v := os.Getenv("TRACEGRAPH_CONCURRENCY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.Concurrency = i
		}
	}
	if v := os.Getenv("TRACEGRAPH_EDGE_KINDS"); v != "" {
		config.EdgeKinds = strings.Split(v, ",")
	}
	if v := os.Getenv("TRACEGRAPH_VELOCITY_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.VelocityWindowMS = d.Milliseconds()
		}
	}
	if v := os.Getenv("TRACEGRAPH_VELOCITY_WEIGHT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			config.VelocityWeight = f
		}
	}
	if v := os.Getenv("TRACEGRAPH_HISTORY_CAPACITY"); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			config.UpdateHistoryCapacity = i
		}
	}
	if v := os.Getenv("TRACEGRAPH_LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("TRACEGRAPH_LOG_JSON"); v != "" {
		config.Logging.JSON = v == "true" || v == "1"
	}
	if v := os.Getenv("TRACEGRAPH_LOG_DIR"); v != "" {
		config.Logging.Dir = v
	}
}

// Validate checks field constraints, band ordering, edge kinds, and risk
// thresholds.
//
// Outputs:
//   - error: Wraps ErrInvalidConfig, or nil.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Policy().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	if _, err := c.Kinds(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	r := c.Risk
	if r.MediumThreshold < 1 || r.HighThreshold < r.MediumThreshold || r.CriticalThreshold < r.HighThreshold {
		return fmt.Errorf("%w: risk thresholds must satisfy 1 <= medium <= high <= critical", ErrInvalidConfig)
	}
	return nil
}

// Policy converts the band and velocity settings to a confidence.Policy.
func (c Config) Policy() confidence.Policy {
	bands := make([]confidence.Band, len(c.ConfidenceBands))
	for i, b := range c.ConfidenceBands {
		bands[i] = confidence.Band{
			Name:       b.Name,
			MaxAge:     time.Duration(b.MaxAgeMS) * time.Millisecond,
			Multiplier: b.Multiplier,
		}
	}
	return confidence.Policy{
		Bands:          bands,
		VelocityWindow: time.Duration(c.VelocityWindowMS) * time.Millisecond,
		VelocityWeight: c.VelocityWeight,
	}
}

func kindNames(kinds []relation.Kind) []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// Kinds parses EdgeKinds.
func (c Config) Kinds() ([]relation.Kind, error) {
	return relation.ParseKinds(c.EdgeKinds)
}

// CascadeConfig converts traversal settings to a cascade.Config.
func (c Config) CascadeConfig(logger *slog.Logger) (cascade.Config, error) {
	kinds, err := c.Kinds()
	if err != nil {
		return cascade.Config{}, err
	}
	return cascade.Config{
		MaxDepth:    c.MaxDepth,
		StepBudget:  c.TraversalStepBudget,
		Timeout:     time.Duration(c.TraversalTimeoutMS) * time.Millisecond,
		EdgeKinds:   kinds,
		Concurrency: c.Concurrency,
		Risk:        c.Risk,
		Clock:       time.Now,
		Logger:      logger,
	}, nil
}

// StoreOptions returns entity store options for this configuration.
func (c Config) StoreOptions(logger *slog.Logger) []entity.Option {
	opts := []entity.Option{entity.WithHistoryCapacity(c.UpdateHistoryCapacity)}
	if logger != nil {
		opts = append(opts, entity.WithLogger(logger))
	}
	return opts
}

// LoggerConfig converts the logging section to a logging.Config.
func (c Config) LoggerConfig() (logging.Config, error) {
	level, err := logging.ParseLevel(c.Logging.Level)
	if err != nil {
		return logging.Config{}, err
	}
	return logging.Config{
		Level:   level,
		JSON:    c.Logging.JSON,
		LogDir:  c.Logging.Dir,
		Service: "tracegraph",
	}, nil
}
