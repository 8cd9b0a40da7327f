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
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Package-level tracer and meter for cascade analysis.
var (
	tracer = otel.Tracer("tracegraph.cascade")
	meter  = otel.Meter("tracegraph.cascade")
)

// Analysis outcomes used as metric attributes.
const (
	outcomeOK      = "ok"
	outcomeUnknown = "unknown_entity"
	outcomeBudget  = "budget_exceeded"
	outcomeError   = "error"
)

// Metrics for cascade analysis.
var (
	analysisLatency  metric.Float64Histogram
	analysisTotal    metric.Int64Counter
	affectedEntities metric.Int64Histogram
	budgetFailures   metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// initMetrics initializes the metrics. Safe to call multiple times.
func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		analysisLatency, err = meter.Float64Histogram(
			"cascade_analysis_duration_seconds",
			metric.WithDescription("Duration of cascade analyses"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		analysisTotal, err = meter.Int64Counter(
			"cascade_analysis_total",
			metric.WithDescription("Total number of cascade analyses by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		affectedEntities, err = meter.Int64Histogram(
			"cascade_affected_entities",
			metric.WithDescription("Number of entities affected per analysis"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		budgetFailures, err = meter.Int64Counter(
			"cascade_budget_exceeded_total",
			metric.WithDescription("Analyses aborted by step budget or deadline"),
		)
		if err != nil {
			metricsErr = err
			return
		}
	})
	return metricsErr
}

// startAnalysisSpan creates a span for a cascade analysis.
func startAnalysisSpan(ctx context.Context, target string, o options) (context.Context, trace.Span) {
	return tracer.Start(ctx, "cascade.Analyzer.Analyze",
		trace.WithAttributes(
			attribute.String("cascade.target_id", target),
			attribute.Int("cascade.max_depth", o.maxDepth),
			attribute.Int("cascade.step_budget", o.stepBudget),
		),
	)
}

// setAnalysisSpanResult sets the result attributes on an analysis span.
func setAnalysisSpanResult(span trace.Span, r *Result) {
	span.SetAttributes(
		attribute.Int("cascade.total_impact", r.TotalImpact),
		attribute.Int("cascade.direct_count", r.DirectCount),
		attribute.Int("cascade.max_depth_reached", r.MaxDepthReached),
		attribute.Int("cascade.steps", r.Steps),
		attribute.String("cascade.risk_level", string(r.RiskLevel)),
		attribute.Float64("cascade.confidence_min", r.Confidence.Min),
	)
	span.SetStatus(codes.Ok, "")
}

func setAnalysisSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// recordAnalysisMetrics records metrics for one analysis.
func recordAnalysisMetrics(ctx context.Context, duration time.Duration, outcome string, risk RiskLevel, affected int) {
	if err := initMetrics(); err != nil {
		return
	}
	// the traversal context may already be done; metrics must still record
	ctx = context.WithoutCancel(ctx)

	attrs := metric.WithAttributes(
		attribute.String("outcome", outcome),
		attribute.String("risk_level", string(risk)),
	)
	analysisLatency.Record(ctx, duration.Seconds(), attrs)
	analysisTotal.Add(ctx, 1, attrs)
	if outcome == outcomeOK {
		affectedEntities.Record(ctx, int64(affected))
	}
	if outcome == outcomeBudget {
		budgetFailures.Add(ctx, 1)
	}
}
