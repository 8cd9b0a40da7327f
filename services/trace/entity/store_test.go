// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entity

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/tracegraph/services/trace/relation"
)

// =============================================================================
// Helpers
// =============================================================================

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clock := newFakeClock()
	seq := 0
	s := NewStore(
		WithClock(clock.Now),
		WithEventIDs(func() string {
			seq++
			return fmt.Sprintf("ev-%d", seq)
		}),
	)
	return s, clock
}

func varEntity(id, ns string) Entity {
	return Entity{ID: id, Type: TypeVar, Attributes: VarAttributes{Namespace: ns}}
}

func usageEntity(id, caller, callee string) Entity {
	return Entity{ID: id, Type: TypeUsage, Attributes: UsageAttributes{CallerID: caller, CalleeID: callee}}
}

// assertIndexConsistent checks that every out-edge is mirrored by an
// in-edge for the given ids.
func assertIndexConsistent(t *testing.T, s *Store, ids ...string) {
	t.Helper()
	for _, a := range ids {
		for _, e := range s.OutEdges(a) {
			assert.Contains(t, s.InEdges(e.ID), relation.Edge{ID: a, Kind: e.Kind},
				"out(%s) has %s but in(%s) lacks %s", a, e.ID, e.ID, a)
		}
		for _, e := range s.InEdges(a) {
			assert.Contains(t, s.OutEdges(e.ID), relation.Edge{ID: a, Kind: e.Kind},
				"in(%s) has %s but out(%s) lacks %s", a, e.ID, e.ID, a)
		}
	}
}

// =============================================================================
// Put / Get
// =============================================================================

func TestStore_PutAssignsIncreasingVersions(t *testing.T) {
	s, clock := newTestStore(t)

	v1, err := s.Put(varEntity("app.core/run", "app.core"))
	require.NoError(t, err)
	clock.Advance(time.Second)
	v2, err := s.Put(varEntity("app.core/run", "app.core"))
	require.NoError(t, err)

	assert.Equal(t, uint64(1), v1)
	assert.Equal(t, uint64(2), v2)

	got, ok := s.Get("app.core/run", TypeVar)
	require.True(t, ok)
	assert.Equal(t, uint64(2), got.Version)
	assert.Equal(t, clock.Now(), got.CapturedAt)

	evs := s.Events(EventFilter{TargetID: "app.core/run"})
	require.Len(t, evs, 2)
	assert.Equal(t, EventCreated, evs[0].Type)
	assert.Equal(t, EventUpdated, evs[1].Type)
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Put(Entity{ID: "ns", Type: TypeNamespace, Attributes: NamespaceAttributes{Requires: []string{"a"}}})
	require.NoError(t, err)

	got, ok := s.Get("ns", TypeNamespace)
	require.True(t, ok)
	got.Attributes.(NamespaceAttributes).Requires[0] = "mutated"

	again, _ := s.Get("ns", TypeNamespace)
	assert.Equal(t, []string{"a"}, again.Attributes.(NamespaceAttributes).Requires)
}

func TestStore_CapturedAtNeverMovesBackwards(t *testing.T) {
	s, clock := newTestStore(t)
	_, err := s.Put(varEntity("f", ""))
	require.NoError(t, err)
	first, _ := s.Get("f", TypeVar)

	clock.Advance(-time.Minute)
	_, err = s.Put(varEntity("f", ""))
	require.NoError(t, err)
	second, _ := s.Get("f", TypeVar)

	assert.False(t, second.CapturedAt.Before(first.CapturedAt))
}

func TestStore_RejectsInvalidEntities(t *testing.T) {
	tests := []struct {
		name string
		in   Entity
	}{
		{"empty id", Entity{Type: TypeVar}},
		{"unknown type", Entity{ID: "x", Type: "macro"}},
		{"usage without callee", Entity{ID: "u", Type: TypeUsage, Attributes: UsageAttributes{CallerID: "a"}}},
		{"usage without attributes", Entity{ID: "u", Type: TypeUsage}},
		{"event without target", Entity{ID: "e", Type: TypeEvent, Attributes: EventAttributes{EventType: "reload"}}},
		{"mismatched attributes", Entity{ID: "v", Type: TypeVar, Attributes: NamespaceAttributes{}}},
		{"blank require", Entity{ID: "n", Type: TypeNamespace, Attributes: NamespaceAttributes{Requires: []string{""}}}},
		{"negative line", Entity{ID: "v", Type: TypeVar, Attributes: VarAttributes{Location: &Location{Line: -1}}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			_, err := s.Put(tc.in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidEntity), "got %v", err)
			assert.Equal(t, Stats{}, s.Stats())
		})
	}
}

func TestStore_InvalidUsageLeavesEdgesUnchanged(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Put(usageEntity("u1", "a", "b"))
	require.NoError(t, err)

	_, err = s.Put(Entity{ID: "u1", Type: TypeUsage, Attributes: UsageAttributes{CallerID: "a"}})
	require.ErrorIs(t, err, ErrInvalidEntity)

	assert.Equal(t, []relation.Edge{{ID: "b", Kind: relation.KindUses}}, s.OutEdges("a"))
	got, ok := s.Get("u1", TypeUsage)
	require.True(t, ok)
	assert.Equal(t, uint64(1), got.Version)
}

// =============================================================================
// GetAt / History
// =============================================================================

func TestStore_GetAtSelectsLatestVersionAtOrBefore(t *testing.T) {
	s, clock := newTestStore(t)
	t0 := clock.Now()

	_, err := s.Put(varEntity("f", "ns1"))
	require.NoError(t, err)
	clock.Advance(10 * time.Second)
	_, err = s.Put(varEntity("f", "ns2"))
	require.NoError(t, err)
	// same instant: the higher version wins
	_, err = s.Put(varEntity("f", "ns3"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		at      time.Time
		version uint64
		ns      string
		wantErr bool
	}{
		{"before first", t0.Add(-time.Nanosecond), 0, "", true},
		{"at first", t0, 1, "ns1", false},
		{"between", t0.Add(5 * time.Second), 1, "ns1", false},
		{"tie resolves to highest", t0.Add(10 * time.Second), 3, "ns3", false},
		{"after all", t0.Add(time.Hour), 3, "ns3", false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := s.GetAt("f", TypeVar, tc.at)
			if tc.wantErr {
				assert.ErrorIs(t, err, ErrNotFound)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.version, got.Version)
			assert.Equal(t, tc.ns, got.Attributes.(VarAttributes).Namespace)
		})
	}
}

func TestStore_VersionsAreMonotone(t *testing.T) {
	s, clock := newTestStore(t)
	for i := 0; i < 20; i++ {
		_, err := s.Put(varEntity("f", ""))
		require.NoError(t, err)
		if i%3 == 0 {
			clock.Advance(time.Millisecond)
		}
	}

	h := s.History("f", TypeVar)
	require.Len(t, h, 20)
	for i := 1; i < len(h); i++ {
		assert.Greater(t, h[i].Version, h[i-1].Version)
		assert.False(t, h[i].CapturedAt.Before(h[i-1].CapturedAt))
	}
	assert.Nil(t, s.History("missing", TypeVar))
}

func TestStore_GetAtUnknownIdentity(t *testing.T) {
	s, clock := newTestStore(t)
	_, err := s.GetAt("nope", TypeVar, clock.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Index maintenance
// =============================================================================

func TestStore_HelperFunctionWithDuplicateUsages(t *testing.T) {
	s, _ := newTestStore(t)
	for _, e := range []Entity{
		varEntity("helper", ""),
		varEntity("a", ""),
		varEntity("b", ""),
		usageEntity("u1", "a", "helper"),
		usageEntity("u2", "a", "helper"),
		usageEntity("u3", "b", "helper"),
	} {
		_, err := s.Put(e)
		require.NoError(t, err)
	}

	assert.Equal(t, []relation.Edge{
		{ID: "a", Kind: relation.KindUses},
		{ID: "b", Kind: relation.KindUses},
	}, s.InEdges("helper"))

	// a still uses helper through u1
	require.NoError(t, s.Remove("u2", TypeUsage))
	assert.Len(t, s.InEdges("helper"), 2)

	require.NoError(t, s.Remove("u1", TypeUsage))
	assert.Equal(t, []relation.Edge{{ID: "b", Kind: relation.KindUses}}, s.InEdges("helper"))
	assertIndexConsistent(t, s, "a", "b", "helper")
}

func TestStore_UpdateMovesEdges(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Put(varEntity("f", "ns.old"))
	require.NoError(t, err)
	_, err = s.Put(varEntity("f", "ns.new"))
	require.NoError(t, err)

	assert.Empty(t, s.OutEdges("ns.old"))
	assert.Equal(t, []relation.Edge{{ID: "f", Kind: relation.KindDefines}}, s.OutEdges("ns.new"))
	assert.Equal(t, []relation.Edge{{ID: "ns.new", Kind: relation.KindDefines}}, s.InEdges("f"))
}

func TestStore_IndexConsistentAfterMixedSequence(t *testing.T) {
	s, clock := newTestStore(t)
	ids := []string{"a", "b", "c", "ns"}

	steps := []func() error{
		func() error { _, err := s.Put(usageEntity("u1", "a", "b")); return err },
		func() error { _, err := s.Put(usageEntity("u2", "b", "c")); return err },
		func() error {
			_, err := s.Put(Entity{ID: "ns", Type: TypeNamespace, Attributes: NamespaceAttributes{Requires: []string{"a", "b"}}})
			return err
		},
		func() error { _, err := s.Put(usageEntity("u1", "a", "c")); return err },
		func() error { return s.Remove("u2", TypeUsage) },
		func() error {
			_, err := s.Put(Entity{ID: "ns", Type: TypeNamespace, Attributes: NamespaceAttributes{Requires: []string{"c"}}})
			return err
		},
		func() error { _, err := s.Put(usageEntity("u2", "c", "a")); return err },
	}
	for i, step := range steps {
		require.NoError(t, step(), "step %d", i)
		clock.Advance(time.Millisecond)
		assertIndexConsistent(t, s, ids...)
	}

	assert.Equal(t, []relation.Edge{{ID: "c", Kind: relation.KindUses}}, s.OutEdges("a"))
	assert.Empty(t, s.OutEdges("b"))
	assert.Equal(t, []relation.Edge{{ID: "c", Kind: relation.KindRequires}}, s.OutEdges("ns"))
	assert.Equal(t, 3, s.Stats().Edges)
}

// =============================================================================
// Remove policy
// =============================================================================

func TestStore_RemovePolicy(t *testing.T) {
	s, clock := newTestStore(t)
	_, err := s.Put(varEntity("f", "ns"))
	require.NoError(t, err)
	before := clock.Now()

	clock.Advance(time.Second)
	require.NoError(t, s.Remove("f", TypeVar))
	removedAt := clock.Now()

	_, ok := s.Get("f", TypeVar)
	assert.False(t, ok)
	assert.False(t, s.Exists("f"))
	assert.Empty(t, s.InEdges("f"))

	got, err := s.GetAt("f", TypeVar, before)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)

	_, err = s.GetAt("f", TypeVar, removedAt)
	assert.ErrorIs(t, err, ErrNotFound)

	h := s.History("f", TypeVar)
	require.Len(t, h, 2)
	assert.True(t, h[1].Tombstoned)

	err = s.Remove("f", TypeVar)
	assert.ErrorIs(t, err, ErrNotFound)
	err = s.Remove("never", TypeVar)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_PutRevivesRemovedIdentity(t *testing.T) {
	s, clock := newTestStore(t)
	_, err := s.Put(varEntity("f", "ns"))
	require.NoError(t, err)
	require.NoError(t, s.Remove("f", TypeVar))
	clock.Advance(time.Second)

	v, err := s.Put(varEntity("f", "ns"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	evs := s.Events(EventFilter{TargetID: "f"})
	require.Len(t, evs, 3)
	assert.Equal(t, []EventType{EventCreated, EventRemoved, EventCreated},
		[]EventType{evs[0].Type, evs[1].Type, evs[2].Type})
	assert.True(t, s.Exists("f"))
	assert.Len(t, s.InEdges("f"), 1)
}

func TestStore_TypesOfUsesPrecedence(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Put(Entity{ID: "x", Type: TypeNamespace})
	require.NoError(t, err)
	_, err = s.Put(varEntity("x", ""))
	require.NoError(t, err)

	assert.Equal(t, []Type{TypeVar, TypeNamespace}, s.TypesOf("x"))
	require.NoError(t, s.Remove("x", TypeVar))
	assert.Equal(t, []Type{TypeNamespace}, s.TypesOf("x"))
	assert.True(t, s.Exists("x"))
}

// =============================================================================
// Velocity, events, snapshots
// =============================================================================

func TestStore_UpdatesWithin(t *testing.T) {
	s, clock := newTestStore(t)
	start := clock.Now()
	_, err := s.Put(varEntity("f", "")) // created, not counted
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		clock.Advance(time.Second)
		_, err = s.Put(varEntity("f", ""))
		require.NoError(t, err)
	}

	assert.Equal(t, 3, s.UpdatesWithin("f", TypeVar, start, clock.Now()))
	assert.Equal(t, 1, s.UpdatesWithin("f", TypeVar, clock.Now().Add(-time.Second), clock.Now()))
	assert.Zero(t, s.UpdatesWithin("g", TypeVar, start, clock.Now()))
}

func TestStore_EventChain(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Put(varEntity("config", ""))
	require.NoError(t, err)
	_, err = s.PutWithCause(varEntity("handler", ""), "ev-1")
	require.NoError(t, err)
	_, err = s.PutWithCause(varEntity("route", ""), "ev-2")
	require.NoError(t, err)

	chain, err := s.EventChain("ev-3")
	require.NoError(t, err)
	require.Len(t, chain, 3)
	assert.Equal(t, "config", chain[0].TargetID)
	assert.Equal(t, "route", chain[2].TargetID)

	_, err = s.EventChain("ev-99")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ViewSeesConsistentState(t *testing.T) {
	s, _ := newTestStore(t)
	_, err := s.Put(usageEntity("u1", "a", "b"))
	require.NoError(t, err)

	err = s.View(func(snap Snapshot) error {
		assert.Equal(t, []relation.Edge{{ID: "a", Kind: relation.KindUses}}, snap.InEdges("b"))
		_, ok := snap.Get("u1", TypeUsage)
		assert.True(t, ok)
		assert.Equal(t, []Type{TypeUsage}, snap.TypesOf("u1"))
		return errors.New("stop")
	})
	assert.EqualError(t, err, "stop")
}

func TestStore_ConcurrentWriters(t *testing.T) {
	s := NewStore()
	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				id := fmt.Sprintf("u-%d-%d", w, i)
				_, err := s.Put(usageEntity(id, fmt.Sprintf("caller-%d", w), "shared"))
				assert.NoError(t, err)
				_ = s.InEdges("shared")
			}
		}(w)
	}
	wg.Wait()

	assert.Len(t, s.InEdges("shared"), 8)
	st := s.Stats()
	assert.Equal(t, 400, st.Identities)
	assert.Equal(t, 400, st.Events)
	assert.Equal(t, 8, st.Edges)
}
