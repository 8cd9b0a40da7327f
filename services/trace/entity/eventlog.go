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

import "fmt"

// Events returns the events matching filter in write order.
func (s *Store) Events(filter EventFilter) []Event {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Event
	for _, ev := range s.events {
		if filter.Match(ev) {
			out = append(out, ev)
		}
	}
	return out
}

// Event returns the event with the given id.
func (s *Store) Event(eventID string) (Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.eventPos[eventID]
	if !ok {
		return Event{}, false
	}
	return s.events[pos], true
}

// EventChain walks TriggeredBy links back from eventID.
//
// # Description
//
// Returns the causal chain ending at eventID, root cause first. The walk
// stops at an event with no TriggeredBy, or one whose TriggeredBy names an
// event this store never recorded.
//
// # Outputs
//
//   - []Event: The chain, root first, eventID last.
//   - error: Wraps ErrNotFound if eventID is unknown.
func (s *Store) EventChain(eventID string) ([]Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	pos, ok := s.eventPos[eventID]
	if !ok {
		return nil, fmt.Errorf("event %s: %w", eventID, ErrNotFound)
	}

	seen := make(map[string]struct{})
	var chain []Event
	for {
		ev := s.events[pos]
		if _, loop := seen[ev.ID]; loop {
			break
		}
		seen[ev.ID] = struct{}{}
		chain = append(chain, ev)

		next, ok := s.eventPos[ev.TriggeredBy]
		if ev.TriggeredBy == "" || !ok {
			break
		}
		pos = next
	}

	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, nil
}
