// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cascade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/tracegraph/services/trace/confidence"
	"github.com/AleutianAI/tracegraph/services/trace/entity"
	"github.com/AleutianAI/tracegraph/services/trace/relation"
)

// Viewer runs read-only functions against a consistent store snapshot.
// *entity.Store satisfies it.
type Viewer interface {
	View(fn func(entity.Snapshot) error) error
}

// Config holds analyzer-wide defaults. Per-call options override them.
// An empty EdgeKinds falls back to DefaultEdgeKinds; list every kind to
// follow defines and requires edges too.
type Config struct {
	MaxDepth    int
	StepBudget  int
	Timeout     time.Duration
	EdgeKinds   []relation.Kind
	Concurrency int
	Risk        RiskConfig
	Clock       func() time.Time
	Logger      *slog.Logger
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		MaxDepth:    DefaultMaxDepth,
		StepBudget:  DefaultStepBudget,
		EdgeKinds:   DefaultEdgeKinds(),
		Concurrency: DefaultConcurrency,
		Risk:        DefaultRiskConfig(),
		Clock:       time.Now,
	}
}

// Analyzer computes cascade impact over an entity store.
//
// # Description
//
// Holds no per-call state; every Analyze call allocates its own frontier
// and visited set and reads the store under one snapshot.
//
// # Thread Safety
//
// Safe for concurrent use.
type Analyzer struct {
	store  Viewer
	prop   *confidence.Propagator
	config Config
	logger *slog.Logger
}

// NewAnalyzer creates an analyzer.
//
// # Inputs
//
//   - store: Snapshot provider, usually *entity.Store.
//   - prop: Confidence propagator for scoring affected entities.
//   - config: Defaults; zero fields fall back to DefaultConfig values.
//
// # Outputs
//
//   - *Analyzer: Ready to use.
func NewAnalyzer(store Viewer, prop *confidence.Propagator, config Config) *Analyzer {
	def := DefaultConfig()
	if config.MaxDepth <= 0 {
		config.MaxDepth = def.MaxDepth
	}
	if config.StepBudget <= 0 {
		config.StepBudget = def.StepBudget
	}
	if len(config.EdgeKinds) == 0 {
		config.EdgeKinds = def.EdgeKinds
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.Risk == (RiskConfig{}) {
		config.Risk = def.Risk
	}
	if config.Clock == nil {
		config.Clock = def.Clock
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Analyzer{
		store:  store,
		prop:   prop,
		config: config,
		logger: logger.With(slog.String("component", "cascade")),
	}
}

func (a *Analyzer) options(opts []Option) options {
	o := options{
		maxDepth:    a.config.MaxDepth,
		stepBudget:  a.config.StepBudget,
		timeout:     a.config.Timeout,
		kinds:       a.config.EdgeKinds,
		concurrency: a.config.Concurrency,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.now.IsZero() {
		o.now = a.config.Clock()
	}
	return o
}

// frontierItem is one pending visit.
type frontierItem struct {
	id    string
	depth int
	path  []string
	via   relation.Kind
}

// Analyze computes everything transitively affected by a change to target.
//
// # Description
//
// Walks in-edges breadth first from target. Each pop counts one step; an
// entry is discarded if its id was already visited or its depth reached
// the maximum. Sources of a visited id's in-edges are pushed in sorted
// order, so depths are shortest-path and the output order is
// deterministic.
//
// # Inputs
//
//   - ctx: Cancellation and deadline. Checked every 100 steps.
//   - target: The changed id. Must be live under at least one type.
//   - opts: Per-call overrides.
//
// # Outputs
//
//   - *Result: Affected ids in visit order with depths, paths, and scores.
//   - error: ErrUnknownEntity if target is not live;
//     ErrTraversalBudgetExceeded if the step budget or deadline is hit.
//
// # Thread Safety
//
// Holds the store read lock for the duration of the walk.
func (a *Analyzer) Analyze(ctx context.Context, target string, opts ...Option) (*Result, error) {
	o := a.options(opts)

	ctx, span := startAnalysisSpan(ctx, target, o)
	defer span.End()

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	var result *Result
	err := a.store.View(func(snap entity.Snapshot) error {
		types := snap.TypesOf(target)
		if len(types) == 0 {
			return fmt.Errorf("analyze %q: %w", target, ErrUnknownEntity)
		}
		r, err := a.traverse(ctx, snap, target, o)
		if err != nil {
			return err
		}
		r.TargetTypes = types
		result = r
		return nil
	})
	duration := time.Since(start)

	if err != nil {
		outcome := outcomeError
		switch {
		case errors.Is(err, ErrUnknownEntity):
			outcome = outcomeUnknown
		case errors.Is(err, ErrTraversalBudgetExceeded):
			outcome = outcomeBudget
			a.logger.Warn("cascade traversal aborted",
				slog.String("target", target),
				slog.String("error", err.Error()),
			)
		}
		setAnalysisSpanError(span, err)
		recordAnalysisMetrics(ctx, duration, outcome, "", 0)
		return nil, err
	}

	result.Duration = duration
	setAnalysisSpanResult(span, result)
	recordAnalysisMetrics(ctx, duration, outcomeOK, result.RiskLevel, result.TotalImpact)
	a.logger.Debug("cascade analyzed",
		slog.String("target", target),
		slog.Int("affected", result.TotalImpact),
		slog.Int("steps", result.Steps),
		slog.String("risk", string(result.RiskLevel)),
	)
	return result, nil
}

// traverse runs the BFS. Must be called inside View.
func (a *Analyzer) traverse(ctx context.Context, snap entity.Snapshot, target string, o options) (*Result, error) {
	queue := []frontierItem{{id: target, depth: 0, path: []string{target}}}
	head := 0
	visited := make(map[string]struct{})
	steps := 0

	var (
		affected    []Impact
		assessments []confidence.Assessment
		maxDepth    int
		direct      int
	)

	for head < len(queue) {
		item := queue[head]
		queue[head] = frontierItem{}
		head++

		steps++
		if steps > o.stepBudget {
			return nil, fmt.Errorf("analyze %q: %w: more than %d steps",
				target, ErrTraversalBudgetExceeded, o.stepBudget)
		}
		if (steps-1)%contextCheckInterval == 0 {
			if err := ctx.Err(); err != nil {
				return nil, fmt.Errorf("analyze %q: %w: %w", target, ErrTraversalBudgetExceeded, err)
			}
		}

		if _, seen := visited[item.id]; seen || item.depth >= o.maxDepth {
			continue
		}
		visited[item.id] = struct{}{}

		if item.depth > 0 {
			imp, assessment := a.impactOf(snap, item, o.now)
			affected = append(affected, imp)
			assessments = append(assessments, assessment)
			if item.depth > maxDepth {
				maxDepth = item.depth
			}
			if item.depth == 1 {
				direct++
			}
		}

		for _, e := range snap.InEdges(item.id, o.kinds...) {
			if _, seen := visited[e.ID]; seen {
				continue
			}
			path := make([]string, len(item.path), len(item.path)+1)
			copy(path, item.path)
			queue = append(queue, frontierItem{
				id:    e.ID,
				depth: item.depth + 1,
				path:  append(path, e.ID),
				via:   e.Kind,
			})
		}
	}

	if affected == nil {
		affected = []Impact{}
	}
	return &Result{
		TargetID:        target,
		Affected:        affected,
		TotalImpact:     len(affected),
		DirectCount:     direct,
		MaxDepthReached: maxDepth,
		Confidence:      confidence.Summarize(assessments),
		RiskLevel:       a.config.Risk.Level(direct),
		Steps:           steps,
	}, nil
}

// impactOf resolves an affected id to its entity and scores it. Ids that
// are only edge endpoints are reported unobserved with confidence 0.
func (a *Analyzer) impactOf(snap entity.Snapshot, item frontierItem, now time.Time) (Impact, confidence.Assessment) {
	imp := Impact{
		ID:    item.id,
		Depth: item.depth,
		Path:  item.path,
		Via:   item.via,
	}

	types := snap.TypesOf(item.id)
	if len(types) == 0 {
		assessment := confidence.Unobserved()
		imp.Band = assessment.Band
		return imp, assessment
	}

	e, _ := snap.Get(item.id, types[0])
	assessment := a.prop.Assess(snap, e, now)
	imp.Type = types[0]
	imp.Observed = true
	imp.Confidence = assessment.Confidence
	imp.Band = assessment.Band
	return imp, assessment
}
