// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package relation

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func usage(id string) Owner { return Owner{ID: id, Type: "usage"} }

func uses(from, to string) Triple { return Triple{From: from, To: to, Kind: KindUses} }

// assertMirrored checks that every out-edge has a matching in-edge and
// the reverse.
func assertMirrored(t *testing.T, x *Index) {
	t.Helper()
	for from, set := range x.out {
		for e := range set {
			_, ok := x.in[e.ID][Edge{ID: from, Kind: e.Kind}]
			assert.True(t, ok, "missing reverse edge for %s -%s-> %s", from, e.Kind, e.ID)
		}
	}
	for to, set := range x.in {
		for e := range set {
			_, ok := x.out[e.ID][Edge{ID: to, Kind: e.Kind}]
			assert.True(t, ok, "missing forward edge for %s -%s-> %s", e.ID, e.Kind, to)
		}
	}
}

func TestIndex_RefreshAddsBothDirections(t *testing.T) {
	x := NewIndex()
	delta, err := x.Refresh(usage("u1"), []Triple{uses("a", "b")})
	require.NoError(t, err)

	assert.Equal(t, []Triple{uses("a", "b")}, delta.Added)
	assert.Equal(t, []Edge{{ID: "b", Kind: KindUses}}, x.OutEdges("a"))
	assert.Equal(t, []Edge{{ID: "a", Kind: KindUses}}, x.InEdges("b"))
	assert.Equal(t, 1, x.Len())
	assertMirrored(t, x)
}

func TestIndex_DuplicateOwnersShareOneEdge(t *testing.T) {
	x := NewIndex()
	_, err := x.Refresh(usage("u1"), []Triple{uses("a", "helper")})
	require.NoError(t, err)
	delta, err := x.Refresh(usage("u2"), []Triple{uses("a", "helper")})
	require.NoError(t, err)

	assert.True(t, delta.Empty())
	assert.Equal(t, 1, x.Len())
	assert.Equal(t, 2, x.Refs(uses("a", "helper")))

	delta = x.Drop(usage("u1"))
	assert.True(t, delta.Empty(), "edge still owned by u2")
	assert.True(t, x.HasEdge("a", "helper", KindUses))

	delta = x.Drop(usage("u2"))
	assert.Equal(t, []Triple{uses("a", "helper")}, delta.Removed)
	assert.False(t, x.HasEdge("a", "helper", KindUses))
	assert.Empty(t, x.InEdges("helper"))
	assert.Zero(t, x.Len())
	assertMirrored(t, x)
}

func TestIndex_RefreshAppliesDelta(t *testing.T) {
	x := NewIndex()
	ns := Owner{ID: "app.core", Type: "namespace"}
	_, err := x.Refresh(ns, []Triple{
		{From: "app.core", To: "app.util", Kind: KindRequires},
		{From: "app.core", To: "app.db", Kind: KindRequires},
	})
	require.NoError(t, err)

	delta, err := x.Refresh(ns, []Triple{
		{From: "app.core", To: "app.db", Kind: KindRequires},
		{From: "app.core", To: "app.http", Kind: KindRequires},
	})
	require.NoError(t, err)

	assert.Equal(t, []Triple{{From: "app.core", To: "app.http", Kind: KindRequires}}, delta.Added)
	assert.Equal(t, []Triple{{From: "app.core", To: "app.util", Kind: KindRequires}}, delta.Removed)
	assert.Equal(t, []Edge{
		{ID: "app.db", Kind: KindRequires},
		{ID: "app.http", Kind: KindRequires},
	}, x.OutEdges("app.core"))
	assert.Empty(t, x.InEdges("app.util"))
	assertMirrored(t, x)
}

func TestIndex_RefreshWithEmptyDrops(t *testing.T) {
	x := NewIndex()
	_, err := x.Refresh(usage("u1"), []Triple{uses("a", "b")})
	require.NoError(t, err)

	delta, err := x.Refresh(usage("u1"), nil)
	require.NoError(t, err)
	assert.Len(t, delta.Removed, 1)
	assert.Zero(t, x.Owners())
	assert.Nil(t, x.Derived(usage("u1")))
}

func TestIndex_InvalidTripleLeavesIndexUnchanged(t *testing.T) {
	x := NewIndex()
	_, err := x.Refresh(usage("u1"), []Triple{uses("a", "b")})
	require.NoError(t, err)

	tests := []struct {
		name string
		in   Triple
	}{
		{"empty target", Triple{From: "a", Kind: KindUses}},
		{"empty source", Triple{To: "b", Kind: KindUses}},
		{"unknown kind", Triple{From: "a", To: "c", Kind: "calls"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := x.Refresh(usage("u1"), []Triple{uses("a", "c"), tc.in})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidEdge))
			assert.Equal(t, []Triple{uses("a", "b")}, x.Derived(usage("u1")))
			assert.Equal(t, 1, x.Len())
		})
	}
}

func TestIndex_EdgesSortedAndFiltered(t *testing.T) {
	x := NewIndex()
	_, err := x.Refresh(usage("u1"), []Triple{uses("z", "target")})
	require.NoError(t, err)
	_, err = x.Refresh(usage("u2"), []Triple{uses("a", "target")})
	require.NoError(t, err)
	_, err = x.Refresh(Owner{ID: "target", Type: "var"}, []Triple{{From: "m", To: "target", Kind: KindDefines}})
	require.NoError(t, err)

	assert.Equal(t, []Edge{
		{ID: "a", Kind: KindUses},
		{ID: "m", Kind: KindDefines},
		{ID: "z", Kind: KindUses},
	}, x.InEdges("target"))
	assert.Equal(t, []Edge{{ID: "m", Kind: KindDefines}}, x.InEdges("target", KindDefines))
	assert.Empty(t, x.InEdges("target", KindRequires))
	assert.Nil(t, x.OutEdges("nobody"))
}

func TestIndex_ForwardReferenceIsLegal(t *testing.T) {
	x := NewIndex()
	_, err := x.Refresh(usage("u1"), []Triple{uses("a", "not-yet-defined")})
	require.NoError(t, err)
	assert.True(t, x.HasEdge("a", "not-yet-defined", KindUses))
}

func TestParseKinds(t *testing.T) {
	kinds, err := ParseKinds([]string{"USES", " defines "})
	require.NoError(t, err)
	assert.Equal(t, []Kind{KindUses, KindDefines}, kinds)

	_, err = ParseKinds([]string{"uses", "calls"})
	assert.ErrorIs(t, err, ErrUnknownKind)
}
