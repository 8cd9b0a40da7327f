// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cascade

import (
	"time"

	"github.com/AleutianAI/tracegraph/services/trace/relation"
)

// Default traversal limits.
const (
	DefaultMaxDepth    = 10
	DefaultStepBudget  = 100_000
	DefaultConcurrency = 4

	// contextCheckInterval is how often to check context during traversal.
	contextCheckInterval = 100
)

// options holds per-call analysis settings.
type options struct {
	maxDepth    int
	stepBudget  int
	timeout     time.Duration
	kinds       []relation.Kind
	now         time.Time
	concurrency int
}

// Option is a functional option for Analyze and AnalyzeMany.
type Option func(*options)

// WithMaxDepth bounds the traversal depth. The target sits at depth 0 and
// entries at depth >= n are discarded, so affected ids have depths
// 1..n-1. Non-positive values are ignored.
func WithMaxDepth(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxDepth = n
		}
	}
}

// WithStepBudget bounds the number of frontier pops. Non-positive values
// are ignored.
func WithStepBudget(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.stepBudget = n
		}
	}
}

// WithTimeout sets a deadline for the traversal. Zero disables it.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// DefaultEdgeKinds returns the kinds followed when none are configured.
// Only call-site references count; a namespace defining or requiring an
// entity does not depend on it.
func DefaultEdgeKinds() []relation.Kind {
	return []relation.Kind{relation.KindUses}
}

// WithEdgeKinds restricts the traversal to the given edge kinds. With no
// kinds every edge is followed.
func WithEdgeKinds(kinds ...relation.Kind) Option {
	return func(o *options) {
		o.kinds = append([]relation.Kind(nil), kinds...)
	}
}

// WithNow sets the instant confidence is computed at. Default: the
// analyzer clock.
func WithNow(t time.Time) Option {
	return func(o *options) {
		o.now = t
	}
}

// WithConcurrency bounds how many analyses AnalyzeMany runs at once.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}
