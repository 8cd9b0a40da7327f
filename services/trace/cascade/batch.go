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
	"sort"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/tracegraph/services/trace/confidence"
)

// AnalyzeMany analyzes several changed ids and merges the results.
//
// # Description
//
// Runs one Analyze per distinct target, at most WithConcurrency at a time.
// The first failure cancels the rest and is returned. Each analysis takes
// its own snapshot, so writes landing between them may be visible to later
// ones.
//
// # Outputs
//
//   - *Aggregate: Per-target results in input order plus the merged view.
//   - error: The first ErrUnknownEntity or ErrTraversalBudgetExceeded.
func (a *Analyzer) AnalyzeMany(ctx context.Context, targets []string, opts ...Option) (*Aggregate, error) {
	targets = dedupe(targets)
	o := a.options(opts)
	// pin the scoring instant so every target is scored at the same time
	opts = append(opts[:len(opts):len(opts)], WithNow(o.now))

	ctx, span := tracer.Start(ctx, "cascade.Analyzer.AnalyzeMany",
		trace.WithAttributes(attribute.Int("cascade.targets", len(targets))),
	)
	defer span.End()

	results := make([]*Result, len(targets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.concurrency)
	for i, target := range targets {
		g.Go(func() error {
			r, err := a.Analyze(gctx, target, opts...)
			if err != nil {
				return err
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		setAnalysisSpanError(span, err)
		return nil, err
	}

	agg := merge(targets, results)
	span.SetAttributes(
		attribute.Int("cascade.total_impact", agg.TotalImpact),
		attribute.String("cascade.risk_level", string(agg.RiskLevel)),
	)
	return agg, nil
}

func merge(targets []string, results []*Result) *Aggregate {
	isTarget := make(map[string]struct{}, len(targets))
	for _, t := range targets {
		isTarget[t] = struct{}{}
	}

	agg := &Aggregate{
		Targets:   targets,
		Results:   results,
		RiskLevel: RiskLow,
	}
	best := make(map[string]Impact)
	for _, r := range results {
		agg.Steps += r.Steps
		agg.RiskLevel = agg.RiskLevel.Max(r.RiskLevel)
		for _, imp := range r.Affected {
			if _, skip := isTarget[imp.ID]; skip {
				continue
			}
			if prev, ok := best[imp.ID]; !ok || imp.Depth < prev.Depth {
				best[imp.ID] = imp
			}
		}
	}

	agg.Affected = make([]Impact, 0, len(best))
	assessments := make([]confidence.Assessment, 0, len(best))
	for _, imp := range best {
		agg.Affected = append(agg.Affected, imp)
		assessments = append(assessments, confidence.Assessment{Confidence: imp.Confidence, Band: imp.Band})
		if imp.Depth > agg.MaxDepthReached {
			agg.MaxDepthReached = imp.Depth
		}
	}
	sort.Slice(agg.Affected, func(i, j int) bool {
		if agg.Affected[i].Depth != agg.Affected[j].Depth {
			return agg.Affected[i].Depth < agg.Affected[j].Depth
		}
		return agg.Affected[i].ID < agg.Affected[j].ID
	})
	agg.TotalImpact = len(agg.Affected)
	agg.Confidence = confidence.Summarize(assessments)
	return agg
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
