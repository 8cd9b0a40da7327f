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
	"fmt"
	"sort"
)

// Owner identifies the entity identity that derived a set of triples.
type Owner struct {
	ID   string
	Type string
}

// String returns "type:id".
func (o Owner) String() string {
	return o.Type + ":" + o.ID
}

// Triple is a directed, typed relationship between two entity ids.
//
// Endpoints are plain ids and need not name an entity that exists in the
// store; forward references are legal.
type Triple struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind Kind   `json:"kind"`
}

// String returns "from -kind-> to".
func (t Triple) String() string {
	return fmt.Sprintf("%s -%s-> %s", t.From, t.Kind, t.To)
}

// Validate checks that both endpoints are set and the kind is known.
func (t Triple) Validate() error {
	if t.From == "" || t.To == "" {
		return fmt.Errorf("%w: empty endpoint in %s", ErrInvalidEdge, t)
	}
	if !t.Kind.Valid() {
		return fmt.Errorf("%w: kind %q", ErrInvalidEdge, t.Kind)
	}
	return nil
}

// Edge is one side of a triple as seen from an endpoint: for out-edges ID
// is the target, for in-edges ID is the source.
type Edge struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
}

// Delta describes what a Refresh or Drop changed in the distinct edge set.
// Triples whose reference count moved without crossing zero are not listed.
type Delta struct {
	Added   []Triple
	Removed []Triple
}

// Empty reports whether the delta changed no edges.
func (d Delta) Empty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// Index is the derived bidirectional relationship index.
//
// # Description
//
// Maintains forward (source -> targets) and reverse (target -> sources)
// adjacency sets. Both directions are updated in the same call so the
// invariant "b in out(a) iff a in in(b)" holds after every Refresh and Drop.
//
// # Thread Safety
//
// NOT safe for concurrent use.
type Index struct {
	owned map[Owner]map[Triple]struct{}
	refs  map[Triple]int
	out   map[string]map[Edge]struct{}
	in    map[string]map[Edge]struct{}
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{
		owned: make(map[Owner]map[Triple]struct{}),
		refs:  make(map[Triple]int),
		out:   make(map[string]map[Edge]struct{}),
		in:    make(map[string]map[Edge]struct{}),
	}
}

// Refresh replaces the owner's derivation with triples.
//
// # Description
//
// Diffs triples against what the owner derived previously, releases the
// owner's reference on triples it no longer derives, and takes a reference
// on the new ones. Duplicates inside triples collapse. An empty triples
// slice is equivalent to Drop.
//
// # Inputs
//
//   - owner: The deriving identity.
//   - triples: The owner's complete current derivation.
//
// # Outputs
//
//   - Delta: Distinct edges that appeared or disappeared.
//   - error: ErrInvalidEdge if any triple is malformed. Nothing is changed.
func (x *Index) Refresh(owner Owner, triples []Triple) (Delta, error) {
	for _, t := range triples {
		if err := t.Validate(); err != nil {
			return Delta{}, fmt.Errorf("refresh %s: %w", owner, err)
		}
	}

	next := make(map[Triple]struct{}, len(triples))
	for _, t := range triples {
		next[t] = struct{}{}
	}
	prev := x.owned[owner]

	var delta Delta
	for t := range prev {
		if _, keep := next[t]; keep {
			continue
		}
		if x.release(t) {
			delta.Removed = append(delta.Removed, t)
		}
	}
	for t := range next {
		if _, had := prev[t]; had {
			continue
		}
		if x.acquire(t) {
			delta.Added = append(delta.Added, t)
		}
	}

	if len(next) == 0 {
		delete(x.owned, owner)
	} else {
		x.owned[owner] = next
	}

	sortTriples(delta.Added)
	sortTriples(delta.Removed)
	return delta, nil
}

// Drop removes every edge the owner derived.
func (x *Index) Drop(owner Owner) Delta {
	var delta Delta
	for t := range x.owned[owner] {
		if x.release(t) {
			delta.Removed = append(delta.Removed, t)
		}
	}
	delete(x.owned, owner)
	sortTriples(delta.Removed)
	return delta
}

// OutEdges returns the edges leaving id, sorted by target id then kind.
// When kinds is non-empty only edges of those kinds are returned.
func (x *Index) OutEdges(id string, kinds ...Kind) []Edge {
	return collect(x.out[id], kinds)
}

// InEdges returns the edges arriving at id, sorted by source id then kind.
// When kinds is non-empty only edges of those kinds are returned.
func (x *Index) InEdges(id string, kinds ...Kind) []Edge {
	return collect(x.in[id], kinds)
}

// HasEdge reports whether the distinct edge from -kind-> to exists.
func (x *Index) HasEdge(from, to string, kind Kind) bool {
	return x.refs[Triple{From: from, To: to, Kind: kind}] > 0
}

// Refs returns how many owners currently derive the triple.
func (x *Index) Refs(t Triple) int {
	return x.refs[t]
}

// Derived returns the triples the owner currently derives, sorted.
func (x *Index) Derived(owner Owner) []Triple {
	set := x.owned[owner]
	if len(set) == 0 {
		return nil
	}
	out := make([]Triple, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sortTriples(out)
	return out
}

// Len returns the number of distinct edges.
func (x *Index) Len() int {
	return len(x.refs)
}

// Owners returns the number of identities with a non-empty derivation.
func (x *Index) Owners() int {
	return len(x.owned)
}

// acquire takes a reference on t and reports whether the edge is new.
func (x *Index) acquire(t Triple) bool {
	x.refs[t]++
	if x.refs[t] > 1 {
		return false
	}
	link(x.out, t.From, Edge{ID: t.To, Kind: t.Kind})
	link(x.in, t.To, Edge{ID: t.From, Kind: t.Kind})
	return true
}

// release drops a reference on t and reports whether the edge is gone.
func (x *Index) release(t Triple) bool {
	n, ok := x.refs[t]
	if !ok {
		return false
	}
	if n > 1 {
		x.refs[t] = n - 1
		return false
	}
	delete(x.refs, t)
	unlink(x.out, t.From, Edge{ID: t.To, Kind: t.Kind})
	unlink(x.in, t.To, Edge{ID: t.From, Kind: t.Kind})
	return true
}

func link(m map[string]map[Edge]struct{}, key string, e Edge) {
	set, ok := m[key]
	if !ok {
		set = make(map[Edge]struct{})
		m[key] = set
	}
	set[e] = struct{}{}
}

func unlink(m map[string]map[Edge]struct{}, key string, e Edge) {
	set, ok := m[key]
	if !ok {
		return
	}
	delete(set, e)
	if len(set) == 0 {
		delete(m, key)
	}
}

func collect(set map[Edge]struct{}, kinds []Kind) []Edge {
	if len(set) == 0 {
		return nil
	}
	out := make([]Edge, 0, len(set))
	for e := range set {
		if len(kinds) > 0 && !containsKind(kinds, e.Kind) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ID != out[j].ID {
			return out[i].ID < out[j].ID
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

func containsKind(kinds []Kind, k Kind) bool {
	for _, c := range kinds {
		if c == k {
			return true
		}
	}
	return false
}

func sortTriples(ts []Triple) {
	sort.Slice(ts, func(i, j int) bool {
		if ts[i].From != ts[j].From {
			return ts[i].From < ts[j].From
		}
		if ts[i].To != ts[j].To {
			return ts[i].To < ts[j].To
		}
		return ts[i].Kind < ts[j].Kind
	})
}
