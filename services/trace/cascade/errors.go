// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cascade answers "if this entity changes, what else is affected".
//
// Analysis is a breadth-first walk over reverse edges (who uses, defines,
// or requires the changed id) starting at the target. Each call owns its
// frontier and visited set; the store is read under a single consistent
// snapshot. Depth is the shortest number of hops from the target, and
// cycles terminate because an id is visited at most once.
//
// # Bounds
//
// Every traversal is bounded by a maximum depth, a step budget counted in
// frontier pops, and an optional context deadline. Hitting the budget or
// the deadline fails the whole call with ErrTraversalBudgetExceeded; no
// partial result is returned.
package cascade

import "errors"

// Sentinel errors for cascade analysis.
var (
	// ErrUnknownEntity is returned when the target id is not live under any
	// entity type. Hosts must report it distinctly from an empty result,
	// which means the target exists and nothing depends on it.
	ErrUnknownEntity = errors.New("unknown entity")

	// ErrTraversalBudgetExceeded is returned when a traversal exceeds its
	// step budget or its context is done before it finishes.
	ErrTraversalBudgetExceeded = errors.New("traversal budget exceeded")
)
