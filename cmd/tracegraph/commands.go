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
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/tracegraph/services/trace/cascade"
	"github.com/AleutianAI/tracegraph/services/trace/entity"
	"github.com/AleutianAI/tracegraph/services/trace/relation"
)

// =============================================================================
// cascade
// =============================================================================

type cascadeFlags struct {
	maxDepth   int
	stepBudget int
	timeout    time.Duration
	kinds      []string
}

func (f cascadeFlags) options() ([]cascade.Option, error) {
	var opts []cascade.Option
	if f.maxDepth > 0 {
		opts = append(opts, cascade.WithMaxDepth(f.maxDepth))
	}
	if f.stepBudget > 0 {
		opts = append(opts, cascade.WithStepBudget(f.stepBudget))
	}
	if f.timeout > 0 {
		opts = append(opts, cascade.WithTimeout(f.timeout))
	}
	if len(f.kinds) > 0 {
		kinds, err := relation.ParseKinds(f.kinds)
		if err != nil {
			return nil, err
		}
		opts = append(opts, cascade.WithEdgeKinds(kinds...))
	}
	return opts, nil
}

func (f *cascadeFlags) register(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.maxDepth, "max-depth", 0, "Maximum traversal depth (0 = config)")
	cmd.Flags().IntVar(&f.stepBudget, "step-budget", 0, "Maximum traversal steps (0 = config)")
	cmd.Flags().DurationVar(&f.timeout, "timeout", 0, "Traversal deadline (0 = config)")
	cmd.Flags().StringSliceVar(&f.kinds, "kinds", nil, "Edge kinds to follow: uses, defines, requires (default: config, uses only)")
}

func newCascadeCmd(a *app) *cobra.Command {
	var flags cascadeFlags
	cmd := &cobra.Command{
		Use:   "cascade <id> [id...]",
		Short: "Show everything transitively affected by a change",
		Long: `Walk "who depends on this" edges breadth first from each id and report the
affected entities with their depth, path, and confidence.

With several ids the results are merged: each affected entity is reported
at its shallowest depth and the changed ids themselves are left out.

Examples:
  tracegraph cascade ns/helper -f observations.yaml
  tracegraph cascade ns/a ns/b --max-depth 3 --kinds uses --json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := flags.options()
			if err != nil {
				return err
			}
			return a.report(cmd.Context(), args, opts)
		},
	}
	flags.register(cmd)
	return cmd
}

// =============================================================================
// confidence
// =============================================================================

func newConfidenceCmd(a *app) *cobra.Command {
	var typeName string
	cmd := &cobra.Command{
		Use:   "confidence <id>",
		Short: "Score how current the stored view of an entity is",
		Long: `Score an entity from the age of its latest version and how often it has
been updated recently. Without --type the first live type is used in the
order var, namespace, usage, event.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, err := a.resolveType(cmd, args[0], typeName, false)
			if err != nil {
				return err
			}
			now := a.now()
			assessment, err := a.prop.AssessID(a.store, args[0], typ, now)
			if err != nil {
				return err
			}
			return a.printer().Confidence(confidenceReport{
				ID:         args[0],
				Type:       typ,
				At:         now,
				Assessment: assessment,
			})
		},
	}
	cmd.Flags().StringVar(&typeName, "type", "", "Entity type: var, namespace, usage, event")
	return cmd
}

// =============================================================================
// history
// =============================================================================

func newHistoryCmd(a *app) *cobra.Command {
	var (
		typeName string
		asOf     string
	)
	cmd := &cobra.Command{
		Use:   "history <id>",
		Short: "List the stored versions of an entity",
		Long: `List every version of an entity, oldest first, including removals. With
--journal-dir versions come from the journal and include earlier runs.
With --as-of only the version current at that instant is shown.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := args[0]
			typ, err := a.resolveType(cmd, id, typeName, true)
			if err != nil {
				return err
			}
			report := historyReport{ID: id, Type: typ, Source: "store"}

			switch {
			case asOf != "":
				t, err := time.Parse(time.RFC3339Nano, asOf)
				if err != nil {
					return fmt.Errorf("parse --as-of: %w", err)
				}
				e, err := a.store.GetAt(id, typ, t)
				if err != nil {
					return err
				}
				report.Versions = []entity.Entity{*e}
			case a.journal != nil:
				report.Source = "journal"
				if report.Versions, err = a.journal.Versions(cmd.Context(), id, typ); err != nil {
					return err
				}
			default:
				report.Versions = a.store.History(id, typ)
			}
			if len(report.Versions) == 0 {
				return fmt.Errorf("history %s:%s: %w", typ, id, entity.ErrNotFound)
			}
			return a.printer().History(report)
		},
	}
	cmd.Flags().StringVar(&typeName, "type", "", "Entity type: var, namespace, usage, event")
	cmd.Flags().StringVar(&asOf, "as-of", "", "Show the version current at this RFC3339 instant")
	return cmd
}

// =============================================================================
// events
// =============================================================================

func newEventsCmd(a *app) *cobra.Command {
	var (
		id       string
		typeName string
		kinds    []string
		chain    string
	)
	cmd := &cobra.Command{
		Use:   "events",
		Short: "List change events, or the causal chain of one event",
		Long: `List change events in order. Filters combine. With --chain the events
linked through triggered_by are listed, root cause first.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if chain != "" {
				events, err := a.store.EventChain(chain)
				if err != nil {
					return err
				}
				return a.printer().Events(events)
			}

			filter := entity.EventFilter{TargetID: id}
			if typeName != "" {
				typ, err := entity.ParseType(typeName)
				if err != nil {
					return err
				}
				filter.TargetType = typ
			}
			for _, k := range kinds {
				filter.Types = append(filter.Types, entity.EventType(k))
			}

			if a.journal != nil {
				events, err := a.journal.Events(cmd.Context(), filter)
				if err != nil {
					return err
				}
				return a.printer().Events(events)
			}
			return a.printer().Events(a.store.Events(filter))
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Only events for this entity id")
	cmd.Flags().StringVar(&typeName, "type", "", "Only events for this entity type")
	cmd.Flags().StringSliceVar(&kinds, "event", nil, "Only these event types: created, updated, removed")
	cmd.Flags().StringVar(&chain, "chain", "", "Show the causal chain ending at this event id")
	return cmd
}

// =============================================================================
// stats
// =============================================================================

func newStatsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show store counts",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			report := statsReport{Stats: a.store.Stats()}
			if a.journal != nil {
				n := a.journal.Len()
				report.Journaled = &n
			}
			return a.printer().Stats(report)
		},
	}
}

// resolveType picks the entity type for id: the --type flag, else the first
// live type, else (when includeRemoved) the first type with any history.
func (a *app) resolveType(cmd *cobra.Command, id, flag string, includeRemoved bool) (entity.Type, error) {
	if flag != "" {
		return entity.ParseType(flag)
	}
	if types := a.store.TypesOf(id); len(types) > 0 {
		return types[0], nil
	}
	if includeRemoved {
		for _, t := range entity.Types {
			if len(a.store.History(id, t)) > 0 {
				return t, nil
			}
		}
		if a.journal != nil {
			for _, t := range entity.Types {
				versions, err := a.journal.Versions(cmd.Context(), id, t)
				if err != nil {
					return "", err
				}
				if len(versions) > 0 {
					return t, nil
				}
			}
		}
	}
	return "", fmt.Errorf("%q: %w", id, entity.ErrNotFound)
}
