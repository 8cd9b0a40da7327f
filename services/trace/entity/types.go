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
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/AleutianAI/tracegraph/services/trace/relation"
)

// Type is the closed set of entity variants.
type Type string

const (
	// TypeVar is a top-level definition (function, constant, macro).
	TypeVar Type = "var"

	// TypeNamespace is a module that defines vars and requires others.
	TypeNamespace Type = "namespace"

	// TypeUsage records one call site: a caller var using a callee var.
	TypeUsage Type = "usage"

	// TypeEvent is an observed runtime or tooling event. Events derive no
	// relationships.
	TypeEvent Type = "event"
)

// Types lists every entity type in lookup precedence order. When one id
// exists under several types, callers that need a single answer take the
// first live type in this order.
var Types = []Type{TypeVar, TypeNamespace, TypeUsage, TypeEvent}

// Valid reports whether t is a known entity type.
func (t Type) Valid() bool {
	switch t {
	case TypeVar, TypeNamespace, TypeUsage, TypeEvent:
		return true
	default:
		return false
	}
}

// String returns the type name.
func (t Type) String() string {
	return string(t)
}

// ParseType converts a case-insensitive name into a Type.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidEntity, s)
	}
	return t, nil
}

// Identity is the (ID, Type) slot key.
type Identity struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`
}

// String returns "type:id".
func (i Identity) String() string {
	return string(i.Type) + ":" + i.ID
}

func (i Identity) owner() relation.Owner {
	return relation.Owner{ID: i.ID, Type: string(i.Type)}
}

// Entity is one version of an identity.
//
// # Fields
//
//   - ID, Type: The identity slot.
//   - Attributes: Typed per variant; must match Type.
//   - CapturedAt: Store clock time the version was written. Set by the
//     store; any caller value is ignored.
//   - ObservedAt: Collector-supplied observation time. Informational.
//   - Version: Per-identity sequence starting at 1. Set by the store.
//   - Tombstoned: True on the version written by Remove.
type Entity struct {
	ID         string
	Type       Type
	Attributes Attributes
	CapturedAt time.Time
	ObservedAt time.Time
	Version    uint64
	Tombstoned bool
}

// Identity returns the entity's slot key.
func (e *Entity) Identity() Identity {
	return Identity{ID: e.ID, Type: e.Type}
}

// Clone returns a deep copy.
func (e *Entity) Clone() *Entity {
	c := *e
	if e.Attributes != nil {
		c.Attributes = e.Attributes.clone()
	}
	return &c
}

type entityJSON struct {
	ID         string          `json:"id"`
	Type       Type            `json:"type"`
	Attributes json.RawMessage `json:"attributes,omitempty"`
	CapturedAt time.Time       `json:"captured_at"`
	ObservedAt time.Time       `json:"observed_at"`
	Version    uint64          `json:"version"`
	Tombstoned bool            `json:"tombstoned,omitempty"`
}

// MarshalJSON encodes the entity with its attributes inline.
func (e Entity) MarshalJSON() ([]byte, error) {
	out := entityJSON{
		ID:         e.ID,
		Type:       e.Type,
		CapturedAt: e.CapturedAt,
		ObservedAt: e.ObservedAt,
		Version:    e.Version,
		Tombstoned: e.Tombstoned,
	}
	if e.Attributes != nil {
		raw, err := json.Marshal(e.Attributes)
		if err != nil {
			return nil, fmt.Errorf("marshal attributes of %s:%s: %w", e.Type, e.ID, err)
		}
		out.Attributes = raw
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes an entity, choosing the attribute struct from the
// type field.
func (e *Entity) UnmarshalJSON(data []byte) error {
	var in entityJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	attrs, err := decodeRawAttributes(in.Type, in.Attributes)
	if err != nil {
		return err
	}
	*e = Entity{
		ID:         in.ID,
		Type:       in.Type,
		Attributes: attrs,
		CapturedAt: in.CapturedAt,
		ObservedAt: in.ObservedAt,
		Version:    in.Version,
		Tombstoned: in.Tombstoned,
	}
	return nil
}

// Stats is a point-in-time summary of store contents.
type Stats struct {
	Identities int `json:"identities"`
	Live       int `json:"live"`
	Versions   int `json:"versions"`
	Events     int `json:"events"`
	Edges      int `json:"edges"`
}
