// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package entity provides the versioned, in-memory entity store.
//
// Entities are code facts (vars, namespaces, usages, events) keyed by an
// identity slot (ID, Type). Every mutation appends a new version to the
// slot; versions are never rewritten or discarded. The store owns the
// relationship index and refreshes it inside the same write-locked unit of
// work that appends the version and the change event.
//
// # Ownership Model
//
// Entities returned by the store are deep copies. Mutating them has no
// effect on stored state.
//
// # Thread Safety
//
// Store is safe for concurrent use. Writers serialize on a single
// sync.RWMutex; readers share it. Use View for a consistent multi-step
// read.
//
// # Lifecycle
//
//  1. Create with NewStore(opts...)
//  2. Feed observations with Put / PutObservation / Remove
//  3. Query with Get, GetAt, History, edges, or View
package entity

import "errors"

// Sentinel errors for entity store operations.
var (
	// ErrInvalidEntity is returned when an entity is missing its identity,
	// has an unknown type, or carries attributes that fail validation.
	// A rejected write leaves the store unchanged.
	ErrInvalidEntity = errors.New("invalid entity")

	// ErrNotFound is returned when an identity has no version matching the
	// request: never observed, removed, or no version at the given time.
	ErrNotFound = errors.New("entity not found")
)
