// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package relation maintains the derived, bidirectional relationship index
// between entity identities.
//
// Edges are never written directly. Each entity identity (the Owner)
// derives a set of triples from its attributes, and the index is told the
// owner's complete current derivation through Refresh. The index diffs it
// against the owner's previous derivation and applies only the delta.
//
// # Ownership Model
//
// Several owners may derive the same triple (two usages of the same
// function from the same caller). The index keeps one edge per distinct
// triple and a reference count of owners deriving it. The edge is removed
// when its last owner stops deriving it.
//
// # Thread Safety
//
// Index is NOT safe for concurrent use. The entity store serializes all
// access under its own lock.
package relation

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for relation operations.
var (
	// ErrInvalidEdge is returned when a triple has an empty endpoint or an
	// unknown kind. The index is left unchanged.
	ErrInvalidEdge = errors.New("invalid edge")

	// ErrUnknownKind is returned by ParseKind for unrecognized names.
	ErrUnknownKind = errors.New("unknown edge kind")
)

// Kind is the relationship type of an edge.
type Kind string

const (
	// KindUses points from a calling var to the var it calls.
	KindUses Kind = "uses"

	// KindDefines points from a namespace to a var it defines.
	KindDefines Kind = "defines"

	// KindRequires points from a namespace to a namespace it requires.
	KindRequires Kind = "requires"
)

// AllKinds lists every edge kind in a stable order.
var AllKinds = []Kind{KindUses, KindDefines, KindRequires}

// Valid reports whether k is one of the known kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindUses, KindDefines, KindRequires:
		return true
	default:
		return false
	}
}

// String returns the kind name.
func (k Kind) String() string {
	return string(k)
}

// ParseKind converts a case-insensitive name into a Kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// ParseKinds converts a list of names, failing on the first unknown one.
func ParseKinds(names []string) ([]Kind, error) {
	kinds := make([]Kind, 0, len(names))
	for _, n := range names {
		k, err := ParseKind(n)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	return kinds, nil
}
