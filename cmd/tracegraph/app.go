// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tracegraph/pkg/logging"
	"github.com/AleutianAI/tracegraph/services/trace/cascade"
	"github.com/AleutianAI/tracegraph/services/trace/confidence"
	"github.com/AleutianAI/tracegraph/services/trace/config"
	"github.com/AleutianAI/tracegraph/services/trace/entity"
	badgerstore "github.com/AleutianAI/tracegraph/services/trace/storage/badger"
	"github.com/AleutianAI/tracegraph/services/trace/telemetry"
)

// Output formats.
const (
	formatAuto = "auto"
	formatJSON = "json"
	formatText = "text"
)

// metricPrefixes selects the families dumped by --metrics.
var metricPrefixes = []string{"trace_", "cascade_"}

type globalFlags struct {
	configPath    string
	observations  string
	journalDir    string
	json          bool
	format        string
	logLevel      string
	traceExporter string
	metrics       bool
	at            string
}

// app holds the engine wired up for one CLI invocation.
type app struct {
	flags  globalFlags
	out    io.Writer
	errOut io.Writer

	cfg      config.Config
	logger   *logging.Logger
	clock    *replayClock
	store    *entity.Store
	prop     *confidence.Propagator
	analyzer *cascade.Analyzer
	db       *badgerstore.DB
	journal  *badgerstore.Journal
	shutdown func(context.Context) error
}

func newApp(out, errOut io.Writer) *app {
	return &app{out: out, errOut: errOut}
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "tracegraph",
		Short: "Query a temporal entity graph built from observations",
		Long: `tracegraph loads var, namespace, usage, and event observations into a
versioned entity store and answers questions about them:

  cascade      what is transitively affected if an entity changes
  confidence   how much to trust the current view of an entity
  history      every stored version of an entity
  events       the change log, or the causal chain of one event
  watch        re-run a cascade whenever the observations file changes

Observations come from a YAML or JSON file (--observations), either a list
or a mapping with an "observations" key. With --journal-dir every change is
also persisted, and history and events read from the journal.

Exit codes: 0 ok, 1 error, 2 unknown entity (cascade target), 3 traversal
budget exceeded, 4 not found (no such entity, version, or event).`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.setup(cmd.Context())
		},
	}

	f := root.PersistentFlags()
	f.StringVar(&a.flags.configPath, "config", "", "Config file (YAML or JSON)")
	f.StringVarP(&a.flags.observations, "observations", "f", "", "Observations file to load (YAML or JSON)")
	f.StringVar(&a.flags.journalDir, "journal-dir", "", "Persist changes to a BadgerDB journal in this directory")
	f.BoolVar(&a.flags.json, "json", false, "Output as JSON (same as --format json)")
	f.StringVar(&a.flags.format, "format", formatAuto, "Output format: auto, json, text (auto is text on a terminal)")
	f.StringVar(&a.flags.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config)")
	f.StringVar(&a.flags.traceExporter, "trace-exporter", "", "Trace exporter: none, stdout, otlp (overrides config)")
	f.BoolVar(&a.flags.metrics, "metrics", false, "Dump engine metrics to stderr on exit")
	f.StringVar(&a.flags.at, "at", "", "Score confidence at this RFC3339 instant instead of now")

	root.AddCommand(
		newCascadeCmd(a),
		newConfidenceCmd(a),
		newHistoryCmd(a),
		newEventsCmd(a),
		newStatsCmd(a),
		newWatchCmd(a),
	)
	return root
}

// setup loads configuration and builds the engine. Runs before every
// subcommand.
func (a *app) setup(ctx context.Context) error {
	if a.flags.json {
		a.flags.format = formatJSON
	}
	switch a.flags.format {
	case formatAuto, formatJSON, formatText:
	default:
		return fmt.Errorf("unknown format %q", a.flags.format)
	}

	cfg, err := config.Load(a.flags.configPath)
	if err != nil {
		return err
	}
	if a.flags.logLevel != "" {
		cfg.Logging.Level = a.flags.logLevel
	}
	if a.flags.traceExporter != "" {
		cfg.Telemetry.TraceExporter = a.flags.traceExporter
	}
	if a.flags.metrics {
		cfg.Telemetry.MetricExporter = telemetry.ExporterPrometheus
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	lc, err := cfg.LoggerConfig()
	if err != nil {
		return err
	}
	lc.Output = a.errOut
	a.logger = logging.New(lc)
	logger := a.logger.Slog()

	cfg.Telemetry.Output = a.errOut
	if a.shutdown, err = telemetry.Init(ctx, cfg.Telemetry); err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}

	a.clock = newReplayClock(time.Now)
	a.store = entity.NewStore(append(cfg.StoreOptions(logger), entity.WithClock(a.clock.Now))...)

	if a.flags.journalDir != "" {
		dbCfg := badgerstore.DefaultConfig(a.flags.journalDir)
		dbCfg.Logger = logger.With(slog.String("component", "badger"))
		if a.db, err = badgerstore.Open(dbCfg); err != nil {
			return fmt.Errorf("open journal: %w", err)
		}
		if a.journal, err = badgerstore.NewJournal(ctx, a.db, logger); err != nil {
			return err
		}
		a.journal.Attach(a.store)
	}

	if a.prop, err = confidence.NewPropagator(a.store, cfg.Policy(), logger); err != nil {
		return err
	}
	cc, err := cfg.CascadeConfig(logger)
	if err != nil {
		return err
	}
	cc.Clock = a.clock.Now
	a.analyzer = cascade.NewAnalyzer(a.store, a.prop, cc)

	if a.flags.observations != "" {
		if err := a.load(a.flags.observations); err != nil {
			return err
		}
	}

	if a.flags.at != "" {
		at, err := time.Parse(time.RFC3339Nano, a.flags.at)
		if err != nil {
			return fmt.Errorf("parse --at: %w", err)
		}
		a.clock.Set(at)
	}
	return nil
}

// load reads an observations file and applies it to the store.
func (a *app) load(path string) error {
	obs, err := loadObservations(path)
	if err != nil {
		return err
	}
	if err := applyObservations(a.store, a.clock, obs); err != nil {
		return err
	}
	a.logger.Debug("observations loaded", "path", path, "count", len(obs))
	if a.journal != nil {
		if err := a.journal.Err(); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
	}
	return nil
}

// now is the instant commands score at.
func (a *app) now() time.Time {
	return a.clock.Now()
}

func (a *app) printer() *printer {
	return newPrinter(a.out, a.flags.format)
}

// close releases everything setup acquired. Safe when setup never ran.
func (a *app) close() error {
	var errs []error
	if a.journal != nil {
		a.journal.Detach()
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close journal: %w", err))
		}
	}
	if a.flags.metrics && a.shutdown != nil {
		if err := telemetry.WriteMetrics(a.errOut, metricPrefixes...); err != nil {
			errs = append(errs, err)
		}
	}
	if a.shutdown != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("shutdown telemetry: %w", err))
		}
	}
	if a.logger != nil {
		if err := a.logger.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// replayClock is the store clock. While observations are applied it is
// pinned to each observation's timestamp so stored versions carry the
// time they were observed; afterwards it returns to its previous pin, or
// follows base when there was none.
type replayClock struct {
	mu   sync.Mutex
	base func() time.Time
	at   time.Time
}

func newReplayClock(base func() time.Time) *replayClock {
	return &replayClock{base: base}
}

func (c *replayClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.at.IsZero() {
		return c.at
	}
	return c.base()
}

// pinned returns the pinned instant, or the zero time when unpinned.
func (c *replayClock) pinned() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.at
}

// Set pins the clock. The zero time unpins it.
func (c *replayClock) Set(t time.Time) {
	c.mu.Lock()
	c.at = t
	c.mu.Unlock()
}
