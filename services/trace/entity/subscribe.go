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
	"sort"
	"sync"

	"github.com/AleutianAI/tracegraph/services/trace/relation"
)

// Change is delivered to subscribers after each accepted write.
type Change struct {
	Event  Event
	Entity Entity
	Delta  relation.Delta
}

// Handler receives changes. It runs on the writer's goroutine after the
// write lock is released and must not write to the same store
// synchronously.
type Handler func(Change)

type subscription struct {
	filter  EventFilter
	handler Handler
}

// subscribers dispatches changes in write order. notifyMu is taken before
// the store lock is released, so two writers cannot swap their
// notifications.
type subscribers struct {
	notifyMu sync.Mutex

	mu   sync.Mutex
	next uint64
	set  map[uint64]subscription
}

func newSubscribers() *subscribers {
	return &subscribers{set: make(map[uint64]subscription)}
}

// Subscribe registers handler for changes whose event matches filter.
//
// # Outputs
//
//   - func(): Unsubscribes. Safe to call more than once.
func (s *Store) Subscribe(filter EventFilter, handler Handler) func() {
	s.subs.mu.Lock()
	id := s.subs.next
	s.subs.next++
	s.subs.set[id] = subscription{filter: filter, handler: handler}
	s.subs.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subs.mu.Lock()
			delete(s.subs.set, id)
			s.subs.mu.Unlock()
		})
	}
}

// unlockAndNotify releases the write lock and delivers change. Must be
// called with s.mu held for writing.
func (s *Store) unlockAndNotify(change Change) {
	s.subs.notifyMu.Lock()
	s.mu.Unlock()
	defer s.subs.notifyMu.Unlock()

	for _, sub := range s.subs.snapshot() {
		if sub.filter.Match(change.Event) {
			sub.handler(change)
		}
	}
}

func (s *subscribers) snapshot() []subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.set) == 0 {
		return nil
	}
	ids := make([]uint64, 0, len(s.set))
	for id := range s.set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]subscription, len(ids))
	for i, id := range ids {
		out[i] = s.set[id]
	}
	return out
}
