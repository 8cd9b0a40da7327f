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
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/AleutianAI/tracegraph/services/trace/history"
	"github.com/AleutianAI/tracegraph/services/trace/relation"
)

// slot holds every version of one identity, oldest first.
type slot struct {
	versions []Entity
	updates  *history.Timeline
}

func (s *slot) latest() *Entity {
	return &s.versions[len(s.versions)-1]
}

func (s *slot) live() bool {
	return len(s.versions) > 0 && !s.latest().Tombstoned
}

// Store is the versioned entity store.
//
// # Description
//
// Holds every version of every identity, the derived relationship index,
// and the append-only change-event log. Put and Remove update all three as
// one unit of work under the write lock; a rejected write changes nothing.
//
// # Thread Safety
//
// Safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	slots    map[Identity]*slot
	liveByID map[string]map[Type]struct{}
	index    *relation.Index
	events   []Event
	eventPos map[string]int
	versions int

	opts   Options
	logger *slog.Logger

	subs *subscribers
}

// NewStore creates an empty store.
func NewStore(opts ...Option) *Store {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &Store{
		slots:    make(map[Identity]*slot),
		liveByID: make(map[string]map[Type]struct{}),
		index:    relation.NewIndex(),
		eventPos: make(map[string]int),
		opts:     o,
		logger:   o.Logger.With(slog.String("component", "entity_store")),
		subs:     newSubscribers(),
	}
}

// Put inserts or updates an entity.
//
// # Description
//
// Validates the entity, appends a new version to its identity slot with
// CapturedAt set from the store clock, refreshes the identity's derived
// edges, and appends a created or updated event. The caller's Version and
// CapturedAt are ignored. A Put on a removed identity revives it.
//
// # Inputs
//
//   - e: The entity. ID and Type are required; Attributes must match Type.
//
// # Outputs
//
//   - uint64: The version assigned.
//   - error: Wraps ErrInvalidEntity when validation fails. The store is
//     unchanged.
//
// # Thread Safety
//
// Takes the write lock. Subscribers run after it is released.
func (s *Store) Put(e Entity) (uint64, error) {
	return s.put(e, "")
}

// PutWithCause is Put whose change event records triggeredBy as the id of
// the event that caused this write.
func (s *Store) PutWithCause(e Entity, triggeredBy string) (uint64, error) {
	return s.put(e, triggeredBy)
}

// PutObservation decodes a collector observation and stores it.
func (s *Store) PutObservation(obs Observation) (uint64, error) {
	e, err := obs.Entity()
	if err != nil {
		storeRejectedTotal.WithLabelValues(rejectInvalid).Inc()
		s.logger.Warn("observation rejected",
			slog.String("id", obs.ID),
			slog.String("type", string(obs.Type)),
			slog.String("error", err.Error()),
		)
		return 0, err
	}
	return s.put(e, obs.TriggeredBy)
}

func (s *Store) put(e Entity, triggeredBy string) (uint64, error) {
	attrs, err := s.validate(e)
	if err != nil {
		storeRejectedTotal.WithLabelValues(rejectInvalid).Inc()
		s.logger.Warn("entity rejected",
			slog.String("id", e.ID),
			slog.String("type", string(e.Type)),
			slog.String("error", err.Error()),
		)
		return 0, err
	}

	id := e.Identity()
	stored := Entity{
		ID:         e.ID,
		Type:       e.Type,
		Attributes: attrs.clone(),
		ObservedAt: e.ObservedAt,
	}

	s.mu.Lock()

	delta, err := s.index.Refresh(id.owner(), attrs.Relations(e.ID))
	if err != nil {
		s.mu.Unlock()
		storeRejectedTotal.WithLabelValues(rejectInvalid).Inc()
		return 0, fmt.Errorf("%w: %v", ErrInvalidEntity, err)
	}

	sl, ok := s.slots[id]
	if !ok {
		sl = &slot{updates: history.NewTimeline(s.opts.HistoryCapacity)}
		s.slots[id] = sl
	}
	evType := EventCreated
	if sl.live() {
		evType = EventUpdated
	}

	now := s.opts.Clock()
	if n := len(sl.versions); n > 0 && now.Before(sl.versions[n-1].CapturedAt) {
		now = sl.versions[n-1].CapturedAt
	}
	stored.CapturedAt = now
	stored.Version = uint64(len(sl.versions)) + 1
	if stored.ObservedAt.IsZero() {
		stored.ObservedAt = now
	}
	sl.versions = append(sl.versions, stored)
	s.versions++
	if evType == EventUpdated {
		sl.updates.Record(now)
	}
	s.markLive(id)

	ev := s.appendEvent(evType, id, stored.Version, now, triggeredBy)
	change := Change{Event: ev, Entity: *stored.Clone(), Delta: delta}

	s.unlockAndNotify(change)

	storeWritesTotal.WithLabelValues(string(evType), string(e.Type)).Inc()
	recordDelta(delta)
	s.logger.Debug("entity stored",
		slog.String("identity", id.String()),
		slog.Uint64("version", stored.Version),
		slog.String("event", string(evType)),
		slog.Int("edges_added", len(delta.Added)),
		slog.Int("edges_removed", len(delta.Removed)),
	)
	return stored.Version, nil
}

// Remove tombstones an identity.
//
// # Description
//
// Appends a tombstone version (retaining the last attributes), drops every
// edge the identity derived, and appends a removed event. Earlier versions
// stay visible to GetAt and History.
//
// # Outputs
//
//   - error: Wraps ErrNotFound if the identity was never stored or is
//     already removed.
func (s *Store) Remove(id string, typ Type) error {
	_, err := s.remove(Identity{ID: id, Type: typ}, "")
	return err
}

// RemoveWithCause is Remove whose change event records triggeredBy.
func (s *Store) RemoveWithCause(id string, typ Type, triggeredBy string) error {
	_, err := s.remove(Identity{ID: id, Type: typ}, triggeredBy)
	return err
}

func (s *Store) remove(id Identity, triggeredBy string) (uint64, error) {
	s.mu.Lock()

	sl, ok := s.slots[id]
	if !ok || !sl.live() {
		s.mu.Unlock()
		storeRejectedTotal.WithLabelValues(rejectNotFound).Inc()
		return 0, fmt.Errorf("remove %s: %w", id, ErrNotFound)
	}

	last := sl.latest()
	now := s.opts.Clock()
	if now.Before(last.CapturedAt) {
		now = last.CapturedAt
	}
	tomb := *last.Clone()
	tomb.Version = last.Version + 1
	tomb.CapturedAt = now
	tomb.ObservedAt = now
	tomb.Tombstoned = true
	sl.versions = append(sl.versions, tomb)
	s.versions++

	delta := s.index.Drop(id.owner())
	s.markRemoved(id)

	ev := s.appendEvent(EventRemoved, id, tomb.Version, now, triggeredBy)
	change := Change{Event: ev, Entity: *tomb.Clone(), Delta: delta}

	s.unlockAndNotify(change)

	storeWritesTotal.WithLabelValues(string(EventRemoved), string(id.Type)).Inc()
	recordDelta(delta)
	s.logger.Debug("entity removed",
		slog.String("identity", id.String()),
		slog.Uint64("version", tomb.Version),
		slog.Int("edges_removed", len(delta.Removed)),
	)
	return tomb.Version, nil
}

// Get returns the latest live version of an identity.
//
// # Outputs
//
//   - *Entity: A copy of the latest version.
//   - bool: False if the identity was never stored or is removed.
func (s *Store) Get(id string, typ Type) (*Entity, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.get(Identity{ID: id, Type: typ})
}

// GetAt returns the version that was current at time t.
//
// # Description
//
// Selects the version with the latest CapturedAt <= t; when several share
// that instant the highest version wins. A tombstone selected this way
// means the identity was removed at t.
//
// # Outputs
//
//   - *Entity: A copy of the selected version.
//   - error: Wraps ErrNotFound if no version qualifies or the selected
//     version is a tombstone.
func (s *Store) GetAt(id string, typ Type, t time.Time) (*Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ident := Identity{ID: id, Type: typ}
	sl, ok := s.slots[ident]
	if !ok {
		return nil, fmt.Errorf("get %s at %s: %w", ident, t.Format(time.RFC3339Nano), ErrNotFound)
	}
	// first version captured strictly after t
	i := sort.Search(len(sl.versions), func(i int) bool {
		return sl.versions[i].CapturedAt.After(t)
	})
	if i == 0 {
		return nil, fmt.Errorf("get %s at %s: %w", ident, t.Format(time.RFC3339Nano), ErrNotFound)
	}
	v := &sl.versions[i-1]
	if v.Tombstoned {
		return nil, fmt.Errorf("get %s at %s: removed: %w", ident, t.Format(time.RFC3339Nano), ErrNotFound)
	}
	return v.Clone(), nil
}

// History returns every version of an identity, oldest first, including
// tombstones. Nil if the identity was never stored.
func (s *Store) History(id string, typ Type) []Entity {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sl, ok := s.slots[Identity{ID: id, Type: typ}]
	if !ok {
		return nil
	}
	out := make([]Entity, len(sl.versions))
	for i := range sl.versions {
		out[i] = *sl.versions[i].Clone()
	}
	return out
}

// UpdatesWithin counts updated events for an identity in (from, to].
func (s *Store) UpdatesWithin(id string, typ Type, from, to time.Time) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.updatesWithin(Identity{ID: id, Type: typ}, from, to)
}

// Exists reports whether id is live under any type.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.liveByID[id]) > 0
}

// TypesOf returns the live types of id in Types precedence order.
func (s *Store) TypesOf(id string) []Type {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.typesOf(id)
}

// OutEdges returns the edges leaving id, sorted by target then kind.
func (s *Store) OutEdges(id string, kinds ...relation.Kind) []relation.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.OutEdges(id, kinds...)
}

// InEdges returns the edges arriving at id, sorted by source then kind.
func (s *Store) InEdges(id string, kinds ...relation.Kind) []relation.Edge {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.index.InEdges(id, kinds...)
}

// Stats returns counts of identities, versions, events, and edges.
func (s *Store) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := 0
	for _, sl := range s.slots {
		if sl.live() {
			live++
		}
	}
	return Stats{
		Identities: len(s.slots),
		Live:       live,
		Versions:   s.versions,
		Events:     len(s.events),
		Edges:      s.index.Len(),
	}
}

// =============================================================================
// Lock-held helpers
// =============================================================================

func (s *Store) validate(e Entity) (Attributes, error) {
	if e.ID == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidEntity)
	}
	if !e.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown type %q for %q", ErrInvalidEntity, e.Type, e.ID)
	}
	attrs, err := ValidateAttributes(e.Type, e.Attributes)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", e.Identity(), err)
	}
	return attrs, nil
}

func (s *Store) get(id Identity) (*Entity, bool) {
	sl, ok := s.slots[id]
	if !ok || !sl.live() {
		return nil, false
	}
	return sl.latest().Clone(), true
}

func (s *Store) updatesWithin(id Identity, from, to time.Time) int {
	sl, ok := s.slots[id]
	if !ok {
		return 0
	}
	return sl.updates.CountBetween(from, to)
}

func (s *Store) typesOf(id string) []Type {
	set := s.liveByID[id]
	if len(set) == 0 {
		return nil
	}
	out := make([]Type, 0, len(set))
	for _, t := range Types {
		if _, ok := set[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

func (s *Store) markLive(id Identity) {
	set, ok := s.liveByID[id.ID]
	if !ok {
		set = make(map[Type]struct{}, 1)
		s.liveByID[id.ID] = set
	}
	set[id.Type] = struct{}{}
}

func (s *Store) markRemoved(id Identity) {
	set := s.liveByID[id.ID]
	delete(set, id.Type)
	if len(set) == 0 {
		delete(s.liveByID, id.ID)
	}
}

func (s *Store) appendEvent(t EventType, id Identity, version uint64, at time.Time, triggeredBy string) Event {
	ev := Event{
		ID:          s.opts.NewEventID(),
		Type:        t,
		TargetID:    id.ID,
		TargetType:  id.Type,
		Version:     version,
		Timestamp:   at,
		TriggeredBy: triggeredBy,
	}
	s.eventPos[ev.ID] = len(s.events)
	s.events = append(s.events, ev)
	return ev
}

func recordDelta(d relation.Delta) {
	if n := len(d.Added); n > 0 {
		indexEdgeChanges.WithLabelValues("added").Add(float64(n))
	}
	if n := len(d.Removed); n > 0 {
		indexEdgeChanges.WithLabelValues("removed").Add(float64(n))
	}
}
