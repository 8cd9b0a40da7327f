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
	"time"

	"github.com/AleutianAI/tracegraph/services/trace/relation"
)

// Snapshot is a read-only, consistent view of the store.
//
// A Snapshot is only valid inside the View callback that received it.
type Snapshot interface {
	// Get returns the latest live version of an identity.
	Get(id string, typ Type) (*Entity, bool)

	// TypesOf returns the live types of id in Types precedence order.
	TypesOf(id string) []Type

	// InEdges returns edges arriving at id, sorted.
	InEdges(id string, kinds ...relation.Kind) []relation.Edge

	// OutEdges returns edges leaving id, sorted.
	OutEdges(id string, kinds ...relation.Kind) []relation.Edge

	// UpdatesWithin counts updated events for an identity in (from, to].
	UpdatesWithin(id string, typ Type, from, to time.Time) int
}

// View runs fn against a consistent snapshot.
//
// # Description
//
// Holds the read lock for the duration of fn. Writers wait until fn
// returns. fn must not call write methods on the same store.
//
// # Outputs
//
//   - error: Whatever fn returns.
func (s *Store) View(fn func(Snapshot) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(snapshot{s: s})
}

type snapshot struct {
	s *Store
}

func (v snapshot) Get(id string, typ Type) (*Entity, bool) {
	return v.s.get(Identity{ID: id, Type: typ})
}

func (v snapshot) TypesOf(id string) []Type {
	return v.s.typesOf(id)
}

func (v snapshot) InEdges(id string, kinds ...relation.Kind) []relation.Edge {
	return v.s.index.InEdges(id, kinds...)
}

func (v snapshot) OutEdges(id string, kinds ...relation.Kind) []relation.Edge {
	return v.s.index.OutEdges(id, kinds...)
}

func (v snapshot) UpdatesWithin(id string, typ Type, from, to time.Time) int {
	return v.s.updatesWithin(Identity{ID: id, Type: typ}, from, to)
}
