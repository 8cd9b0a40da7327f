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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/AleutianAI/tracegraph/services/trace/confidence"
	"github.com/AleutianAI/tracegraph/services/trace/entity"
	"github.com/AleutianAI/tracegraph/services/trace/relation"
)

// =============================================================================
// Fixture
// =============================================================================

type fixture struct {
	t        *testing.T
	now      time.Time
	store    *entity.Store
	analyzer *Analyzer
	usages   int
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{t: t, now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
	clock := func() time.Time { return f.now }
	f.store = entity.NewStore(entity.WithClock(clock))
	prop, err := confidence.NewPropagator(f.store, confidence.DefaultPolicy(), nil)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.Clock = clock
	f.analyzer = NewAnalyzer(f.store, prop, cfg)
	return f
}

func (f *fixture) vars(ids ...string) {
	f.t.Helper()
	for _, id := range ids {
		_, err := f.store.Put(entity.Entity{ID: id, Type: entity.TypeVar})
		require.NoError(f.t, err)
	}
}

// uses records a usage "caller uses callee": caller depends on callee.
func (f *fixture) uses(caller, callee string) {
	f.t.Helper()
	f.usages++
	_, err := f.store.Put(entity.Entity{
		ID:         fmt.Sprintf("usage-%d", f.usages),
		Type:       entity.TypeUsage,
		Attributes: entity.UsageAttributes{CallerID: caller, CalleeID: callee},
	})
	require.NoError(f.t, err)
}

func depths(r *Result) map[string]int {
	out := make(map[string]int, len(r.Affected))
	for _, imp := range r.Affected {
		out[imp.ID] = imp.Depth
	}
	return out
}

// =============================================================================
// Traversal
// =============================================================================

func TestAnalyze_HelperWithDuplicateUsages(t *testing.T) {
	f := newFixture(t)
	f.vars("helper-fn", "caller-1", "caller-2")
	f.uses("caller-1", "helper-fn")
	f.uses("caller-2", "helper-fn")
	f.uses("caller-2", "helper-fn")

	r, err := f.analyzer.Analyze(context.Background(), "helper-fn")
	require.NoError(t, err)

	assert.Equal(t, 2, r.TotalImpact)
	assert.Equal(t, map[string]int{"caller-1": 1, "caller-2": 1}, depths(r))
	assert.Equal(t, []string{"helper-fn", "caller-1"}, r.Affected[0].Path)
	assert.Equal(t, relation.KindUses, r.Affected[0].Via)
	assert.Equal(t, 1, r.MaxDepthReached)
	assert.Equal(t, 2, r.DirectCount)
	assert.Equal(t, RiskLow, r.RiskLevel)
	assert.Equal(t, []entity.Type{entity.TypeVar}, r.TargetTypes)
}

func TestAnalyze_CycleTerminatesWithShortestDepths(t *testing.T) {
	f := newFixture(t)
	f.vars("A", "B", "C")
	// B depends on A, C depends on B, A depends on C
	f.uses("B", "A")
	f.uses("C", "B")
	f.uses("A", "C")

	r, err := f.analyzer.Analyze(context.Background(), "A")
	require.NoError(t, err)

	assert.Equal(t, map[string]int{"B": 1, "C": 2}, depths(r))
	assert.Equal(t, []string{"A", "B", "C"}, r.Affected[1].Path)
	assert.Equal(t, 2, r.MaxDepthReached)
	assert.Equal(t, 3, r.Steps)
}

func TestAnalyze_CycleFollowsReverseEdges(t *testing.T) {
	f := newFixture(t)
	f.vars("A", "B", "C")
	f.uses("A", "B")
	f.uses("B", "C")
	f.uses("C", "A")

	r, err := f.analyzer.Analyze(context.Background(), "A")
	require.NoError(t, err)

	// only C uses A directly; B reaches A through C
	assert.Equal(t, map[string]int{"C": 1, "B": 2}, depths(r))
	assert.Len(t, r.Affected, 2)
}

func TestAnalyze_NoInEdgesIsZeroImpact(t *testing.T) {
	f := newFixture(t)
	f.vars("leaf")
	f.uses("leaf", "other")

	r, err := f.analyzer.Analyze(context.Background(), "leaf")
	require.NoError(t, err)
	assert.NotNil(t, r.Affected)
	assert.Empty(t, r.Affected)
	assert.Zero(t, r.TotalImpact)
	assert.Equal(t, confidence.Summary{}, r.Confidence)
}

func TestAnalyze_UnknownEntity(t *testing.T) {
	f := newFixture(t)
	f.vars("A", "B")
	f.uses("A", "B")

	_, err := f.analyzer.Analyze(context.Background(), "typo")
	assert.ErrorIs(t, err, ErrUnknownEntity)

	require.NoError(t, f.store.Remove("B", entity.TypeVar))
	_, err = f.analyzer.Analyze(context.Background(), "B")
	assert.ErrorIs(t, err, ErrUnknownEntity)
	assert.False(t, errors.Is(err, ErrTraversalBudgetExceeded))
}

func TestAnalyze_RemovePolicyKeepsHistory(t *testing.T) {
	f := newFixture(t)
	f.vars("A", "B")
	f.uses("A", "B")
	before := f.now

	f.now = f.now.Add(time.Second)
	require.NoError(t, f.store.Remove("B", entity.TypeVar))

	_, err := f.analyzer.Analyze(context.Background(), "B")
	require.ErrorIs(t, err, ErrUnknownEntity)

	old, err := f.store.GetAt("B", entity.TypeVar, before)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), old.Version)

	// the usage edge is owned by the usage entity, not by B
	r, err := f.analyzer.Analyze(context.Background(), "A")
	require.NoError(t, err)
	assert.Empty(t, r.Affected)
	assert.Equal(t, []relation.Edge{{ID: "B", Kind: relation.KindUses}}, f.store.OutEdges("A"))
}

func TestAnalyze_MaxDepthDiscardsAtBound(t *testing.T) {
	f := newFixture(t)
	f.vars("n0", "n1", "n2", "n3")
	f.uses("n1", "n0")
	f.uses("n2", "n1")
	f.uses("n3", "n2")

	r, err := f.analyzer.Analyze(context.Background(), "n0", WithMaxDepth(3))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"n1": 1, "n2": 2}, depths(r))

	r, err = f.analyzer.Analyze(context.Background(), "n0")
	require.NoError(t, err)
	assert.Equal(t, 3, r.MaxDepthReached)
}

func TestAnalyze_StepBudgetExceeded(t *testing.T) {
	f := newFixture(t)
	f.vars("x0")
	for i := 1; i < 10; i++ {
		f.vars(fmt.Sprintf("x%d", i))
		f.uses(fmt.Sprintf("x%d", i), fmt.Sprintf("x%d", i-1))
	}

	_, err := f.analyzer.Analyze(context.Background(), "x0", WithStepBudget(3))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTraversalBudgetExceeded)

	r, err := f.analyzer.Analyze(context.Background(), "x0", WithStepBudget(10))
	require.NoError(t, err)
	assert.Equal(t, 9, r.TotalImpact)
}

func TestAnalyze_ContextDoneIsBudgetExceeded(t *testing.T) {
	f := newFixture(t)
	f.vars("A", "B")
	f.uses("B", "A")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.analyzer.Analyze(ctx, "A")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTraversalBudgetExceeded)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestAnalyze_EdgeKindFilter(t *testing.T) {
	f := newFixture(t)
	_, err := f.store.Put(entity.Entity{ID: "f", Type: entity.TypeVar, Attributes: entity.VarAttributes{Namespace: "app.core"}})
	require.NoError(t, err)
	_, err = f.store.Put(entity.Entity{ID: "app.core", Type: entity.TypeNamespace})
	require.NoError(t, err)
	f.vars("g")
	f.uses("g", "f")

	r, err := f.analyzer.Analyze(context.Background(), "f")
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"g": 1}, depths(r))

	r, err = f.analyzer.Analyze(context.Background(), "f", WithEdgeKinds(relation.KindUses, relation.KindDefines))
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"app.core": 1, "g": 1}, depths(r))
	assert.Equal(t, entity.TypeNamespace, r.Affected[0].Type)
	assert.Equal(t, relation.KindDefines, r.Affected[0].Via)
}

func TestAnalyze_NamespacesAndRequiresAreNotDependencies(t *testing.T) {
	f := newFixture(t)
	put := func(id string, typ entity.Type, attrs entity.Attributes) {
		t.Helper()
		_, err := f.store.Put(entity.Entity{ID: id, Type: typ, Attributes: attrs})
		require.NoError(t, err)
	}
	put("app.core", entity.TypeNamespace, entity.NamespaceAttributes{})
	put("app.web", entity.TypeNamespace, entity.NamespaceAttributes{Requires: []string{"app.core"}})
	put("app.cli", entity.TypeNamespace, entity.NamespaceAttributes{Requires: []string{"app.web"}})
	for _, id := range []string{"helper-fn", "caller-1", "caller-2"} {
		put(id, entity.TypeVar, entity.VarAttributes{Namespace: "app.core"})
	}
	f.uses("caller-1", "helper-fn")
	f.uses("caller-2", "helper-fn")
	f.uses("caller-2", "helper-fn")

	r, err := f.analyzer.Analyze(context.Background(), "helper-fn")
	require.NoError(t, err)
	assert.Equal(t, 2, r.TotalImpact)
	assert.Equal(t, map[string]int{"caller-1": 1, "caller-2": 1}, depths(r))

	all := WithEdgeKinds(relation.KindUses, relation.KindDefines, relation.KindRequires)
	r, err = f.analyzer.Analyze(context.Background(), "helper-fn", all)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"app.core": 1, "caller-1": 1, "caller-2": 1, "app.web": 2, "app.cli": 3}, depths(r))
}

func TestAnalyze_ForwardReferenceIsUnobserved(t *testing.T) {
	f := newFixture(t)
	f.vars("helper")
	f.uses("not-yet-loaded", "helper")

	r, err := f.analyzer.Analyze(context.Background(), "helper")
	require.NoError(t, err)
	require.Len(t, r.Affected, 1)

	imp := r.Affected[0]
	assert.False(t, imp.Observed)
	assert.Equal(t, entity.Type(""), imp.Type)
	assert.Zero(t, imp.Confidence)
	assert.Equal(t, confidence.BandUnobserved, imp.Band)
	assert.Zero(t, r.Confidence.Min)
}

func TestAnalyze_ConfidenceScoredAtNow(t *testing.T) {
	f := newFixture(t)
	f.vars("helper", "a", "b")
	f.uses("a", "helper")
	f.uses("b", "helper")

	r, err := f.analyzer.Analyze(context.Background(), "helper")
	require.NoError(t, err)
	assert.Equal(t, 1.0, r.Confidence.Min)

	r, err = f.analyzer.Analyze(context.Background(), "helper", WithNow(f.now.Add(time.Hour)))
	require.NoError(t, err)
	assert.InDelta(t, 0.1, r.Confidence.Min, 1e-9)
	assert.Equal(t, map[string]int{confidence.BandAncient: 2}, r.Confidence.ByBand)
}

func TestAnalyze_RiskLevel(t *testing.T) {
	tests := []struct {
		callers int
		want    RiskLevel
	}{
		{0, RiskLow},
		{3, RiskLow},
		{4, RiskMedium},
		{10, RiskHigh},
		{20, RiskCritical},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%d callers", tc.callers), func(t *testing.T) {
			f := newFixture(t)
			f.vars("target")
			for i := 0; i < tc.callers; i++ {
				f.uses(fmt.Sprintf("c%02d", i), "target")
			}
			r, err := f.analyzer.Analyze(context.Background(), "target")
			require.NoError(t, err)
			assert.Equal(t, tc.want, r.RiskLevel)
		})
	}
}

func TestAnalyze_DeterministicOrder(t *testing.T) {
	f := newFixture(t)
	f.vars("t", "z", "m", "a")
	f.uses("z", "t")
	f.uses("m", "t")
	f.uses("a", "t")

	r, err := f.analyzer.Analyze(context.Background(), "t")
	require.NoError(t, err)
	ids := make([]string, 0, len(r.Affected))
	for _, imp := range r.Affected {
		ids = append(ids, imp.ID)
	}
	assert.Equal(t, []string{"a", "m", "z"}, ids)
}

// =============================================================================
// Batch
// =============================================================================

func TestAnalyzeMany_MergesAtMinimumDepth(t *testing.T) {
	f := newFixture(t)
	f.vars("p", "q", "x", "y")
	f.uses("x", "p") // x: depth 1 from p
	f.uses("y", "x") // y: depth 2 from p
	f.uses("y", "q") // y: depth 1 from q
	f.uses("q", "p") // q is itself a target

	agg, err := f.analyzer.AnalyzeMany(context.Background(), []string{"p", "q", "p"}, WithConcurrency(2))
	require.NoError(t, err)

	assert.Equal(t, []string{"p", "q"}, agg.Targets)
	require.Len(t, agg.Results, 2)
	assert.Equal(t, "p", agg.Results[0].TargetID)

	got := make(map[string]int)
	for _, imp := range agg.Affected {
		got[imp.ID] = imp.Depth
	}
	assert.Equal(t, map[string]int{"x": 1, "y": 1}, got)
	assert.Equal(t, 2, agg.TotalImpact)
	assert.Equal(t, 1, agg.MaxDepthReached)
}

func TestAnalyzeMany_UnknownTargetFails(t *testing.T) {
	f := newFixture(t)
	f.vars("p")
	_, err := f.analyzer.AnalyzeMany(context.Background(), []string{"p", "ghost"})
	assert.ErrorIs(t, err, ErrUnknownEntity)
}

func TestAnalyze_ConcurrentWithWriters(t *testing.T) {
	f := newFixture(t)
	f.vars("hub")
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			_, err := f.store.Put(entity.Entity{
				ID:         fmt.Sprintf("w-%d", i),
				Type:       entity.TypeUsage,
				Attributes: entity.UsageAttributes{CallerID: fmt.Sprintf("c%d", i), CalleeID: "hub"},
			})
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			r, err := f.analyzer.Analyze(context.Background(), "hub")
			if assert.NoError(t, err) {
				assert.Equal(t, len(r.Affected), r.TotalImpact)
			}
		}
	}()
	wg.Wait()
}

// =============================================================================
// Tracing
// =============================================================================

var (
	spanRecorder     = tracetest.NewSpanRecorder()
	spanRecorderOnce sync.Once
)

func installRecorder() {
	spanRecorderOnce.Do(func() {
		otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder)))
	})
}

func TestAnalyze_RecordsSpan(t *testing.T) {
	installRecorder()
	f := newFixture(t)
	f.vars("span-target", "span-caller")
	f.uses("span-caller", "span-target")

	_, err := f.analyzer.Analyze(context.Background(), "span-target")
	require.NoError(t, err)

	var found bool
	for _, s := range spanRecorder.Ended() {
		if s.Name() != "cascade.Analyzer.Analyze" {
			continue
		}
		attrs := make(map[attribute.Key]attribute.Value)
		for _, kv := range s.Attributes() {
			attrs[kv.Key] = kv.Value
		}
		if attrs["cascade.target_id"].AsString() != "span-target" {
			continue
		}
		found = true
		assert.Equal(t, int64(1), attrs["cascade.total_impact"].AsInt64())
		assert.Equal(t, "LOW", attrs["cascade.risk_level"].AsString())
	}
	assert.True(t, found, "expected an analysis span for span-target")
}
