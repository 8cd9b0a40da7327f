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

import "time"

// EventType classifies a change event.
type EventType string

const (
	// EventCreated is emitted when an identity gets its first live version,
	// including a revival after Remove.
	EventCreated EventType = "created"

	// EventUpdated is emitted when a live identity gets a new version.
	EventUpdated EventType = "updated"

	// EventRemoved is emitted when an identity is tombstoned.
	EventRemoved EventType = "removed"
)

// Event is an immutable change-log record.
type Event struct {
	ID          string    `json:"id"`
	Type        EventType `json:"type"`
	TargetID    string    `json:"target_id"`
	TargetType  Type      `json:"target_type"`
	Version     uint64    `json:"version"`
	Timestamp   time.Time `json:"timestamp"`
	TriggeredBy string    `json:"triggered_by,omitempty"`
}

// Target returns the identity the event is about.
func (e Event) Target() Identity {
	return Identity{ID: e.TargetID, Type: e.TargetType}
}

// EventFilter selects events. Zero fields match everything.
type EventFilter struct {
	TargetID   string
	TargetType Type
	Types      []EventType

	// Since and Until bound Timestamp inclusively when non-zero.
	Since time.Time
	Until time.Time
}

// Match reports whether ev passes the filter.
func (f EventFilter) Match(ev Event) bool {
	if f.TargetID != "" && ev.TargetID != f.TargetID {
		return false
	}
	if f.TargetType != "" && ev.TargetType != f.TargetType {
		return false
	}
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == ev.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && ev.Timestamp.After(f.Until) {
		return false
	}
	return true
}
