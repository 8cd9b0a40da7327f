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
	"log/slog"
	"path/filepath"
	"reflect"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"
	"golang.org/x/time/rate"

	"github.com/AleutianAI/tracegraph/services/trace/cascade"
	"github.com/AleutianAI/tracegraph/services/trace/entity"
)

const (
	defaultDebounce    = 200 * time.Millisecond
	defaultMinInterval = time.Second
)

func newWatchCmd(a *app) *cobra.Command {
	var (
		flags       cascadeFlags
		debounce    time.Duration
		minInterval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch <id> [id...]",
		Short: "Re-run a cascade whenever the observations file changes",
		Long: `Print a cascade for the given ids, then watch the observations file. On
each change the file is re-read, observations whose content differs from
the stored entity are applied as new versions, and the cascade is printed
again. Entities missing from the file are left alone; use "remove: true"
entries to remove them.

Runs until interrupted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.flags.observations
			if path == "" {
				return errors.New("watch requires --observations")
			}
			opts, err := flags.options()
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			if err := a.report(ctx, args, opts); err != nil {
				return err
			}
			limiter := rate.NewLimiter(rate.Every(minInterval), 1)
			return watchFile(ctx, path, debounce, limiter, a.logger.Slog(), func() {
				if err := a.reload(path); err != nil {
					a.logger.Warn("reload failed", "path", path, "error", err.Error())
					return
				}
				if err := a.report(ctx, args, opts); err != nil {
					a.logger.Warn("cascade failed", "error", err.Error())
				}
			})
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&debounce, "debounce", defaultDebounce, "Quiet period after a file change before reloading")
	cmd.Flags().DurationVar(&minInterval, "min-interval", defaultMinInterval, "Minimum time between reloads")
	return cmd
}

// report runs one cascade (or a merged batch) and prints it.
func (a *app) report(ctx context.Context, ids []string, opts []cascade.Option) error {
	if len(ids) == 1 {
		r, err := a.analyzer.Analyze(ctx, ids[0], opts...)
		if err != nil {
			return err
		}
		return a.printer().Result(r)
	}
	agg, err := a.analyzer.AnalyzeMany(ctx, ids, opts...)
	if err != nil {
		return err
	}
	return a.printer().Aggregate(agg)
}

// reload re-reads the observations file and applies only what changed.
func (a *app) reload(path string) error {
	obs, err := loadObservations(path)
	if err != nil {
		return err
	}
	applied, err := applyChanged(a.store, a.clock, obs)
	a.logger.Debug("observations reloaded", "path", path, "applied", applied, "total", len(obs))
	return err
}

// applyChanged applies observations that would change the store: removals
// of live entities and puts whose attributes differ from the live version.
func applyChanged(store *entity.Store, clock *replayClock, obs []entity.Observation) (int, error) {
	defer clock.Set(clock.pinned())
	applied := 0
	for i, o := range obs {
		typ, err := entity.ParseType(string(o.Type))
		if err != nil {
			return applied, fmt.Errorf("observation %d (%q): %w", i+1, o.ID, err)
		}
		current, live := store.Get(o.ID, typ)
		if o.Remove {
			if !live {
				continue
			}
		} else if live {
			e, err := o.Entity()
			if err != nil {
				return applied, fmt.Errorf("observation %d (%s %q): %w", i+1, o.Type, o.ID, err)
			}
			if reflect.DeepEqual(e.Attributes, current.Attributes) {
				continue
			}
		}
		clock.Set(o.ObservedAt)
		if _, err := store.Apply(o); err != nil {
			return applied, fmt.Errorf("observation %d (%s %q): %w", i+1, o.Type, o.ID, err)
		}
		applied++
	}
	return applied, nil
}

// watchFile calls onChange after path is written or recreated, once per
// burst of events and no more often than limiter allows. Returns nil when
// ctx ends.
func watchFile(ctx context.Context, path string, debounce time.Duration, limiter *rate.Limiter, logger *slog.Logger, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	target := filepath.Clean(path)
	// editors often replace the file, so watch its directory
	if err := watcher.Add(filepath.Dir(target)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(target), err)
	}

	var (
		timer *time.Timer
		fire  <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
			} else {
				timer.Reset(debounce)
			}
			fire = timer.C

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("watch error", slog.String("error", err.Error()))

		case <-fire:
			fire = nil
			if err := limiter.Wait(ctx); err != nil {
				return nil
			}
			onChange()
		}
	}
}
