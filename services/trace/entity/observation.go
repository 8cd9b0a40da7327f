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
	"time"
)

// Observation is the shape collectors push into the store.
//
// # Fields
//
//   - ID, Type: The identity observed.
//   - Attributes: Loosely typed attributes; decoded into the typed struct
//     for Type. Keys use snake_case ("caller_id", "callee_id").
//   - ObservedAt: Collector time. Optional.
//   - TriggeredBy: Optional id of the event that caused this observation.
//   - Remove: When true the observation removes the identity instead.
type Observation struct {
	ID          string         `json:"id" yaml:"id"`
	Type        Type           `json:"type" yaml:"type"`
	Attributes  map[string]any `json:"attributes,omitempty" yaml:"attributes,omitempty"`
	ObservedAt  time.Time      `json:"observed_at,omitempty" yaml:"observed_at,omitempty"`
	TriggeredBy string         `json:"triggered_by,omitempty" yaml:"triggered_by,omitempty"`
	Remove      bool           `json:"remove,omitempty" yaml:"remove,omitempty"`
}

// Entity converts the observation into a validated Entity.
func (o Observation) Entity() (Entity, error) {
	if o.ID == "" {
		return Entity{}, fmt.Errorf("%w: empty id", ErrInvalidEntity)
	}
	t, err := ParseType(string(o.Type))
	if err != nil {
		return Entity{}, err
	}
	attrs, err := DecodeAttributes(t, o.Attributes)
	if err != nil {
		return Entity{}, fmt.Errorf("%s:%s: %w", t, o.ID, err)
	}
	attrs, err = ValidateAttributes(t, attrs)
	if err != nil {
		return Entity{}, fmt.Errorf("%s:%s: %w", t, o.ID, err)
	}
	return Entity{
		ID:         o.ID,
		Type:       t,
		Attributes: attrs,
		ObservedAt: o.ObservedAt,
	}, nil
}

// Apply stores or removes the observation depending on its Remove flag.
//
// # Outputs
//
//   - uint64: The version written (the tombstone version for removals).
//   - error: ErrInvalidEntity or ErrNotFound, wrapped.
func (s *Store) Apply(obs Observation) (uint64, error) {
	if !obs.Remove {
		return s.PutObservation(obs)
	}
	t, err := ParseType(string(obs.Type))
	if err != nil {
		return 0, err
	}
	return s.remove(Identity{ID: obs.ID, Type: t}, obs.TriggeredBy)
}
