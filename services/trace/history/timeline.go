// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package history

import (
	"sort"
	"time"
)

// Timeline records the instants at which something happened, keeping the
// most recent Cap() of them.
//
// # Description
//
// Instants must be recorded in non-decreasing order. Under that contract
// the buffer stays sorted and window counts are answered with two binary
// searches instead of a scan.
//
// When more than Cap() instants fall inside a window, CountBetween
// saturates at Cap(). Pick a capacity comfortably above the number of
// changes expected inside one window.
//
// # Thread Safety
//
// NOT safe for concurrent use; the entity store guards it with its lock.
type Timeline struct {
	buf *RingBuffer[time.Time]
}

// NewTimeline creates a timeline retaining at most capacity instants.
func NewTimeline(capacity int) *Timeline {
	return &Timeline{buf: NewRingBuffer[time.Time](capacity)}
}

// Record appends an instant. An instant earlier than the newest recorded
// one is clamped to it so the buffer stays sorted.
func (t *Timeline) Record(at time.Time) {
	if n := t.buf.Len(); n > 0 {
		if newest := t.buf.At(n - 1); at.Before(newest) {
			at = newest
		}
	}
	t.buf.Push(at)
}

// CountBetween returns the number of recorded instants in the half-open
// window (from, to].
func (t *Timeline) CountBetween(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	n := t.buf.Len()
	// first index with instant > from
	lo := sort.Search(n, func(i int) bool { return t.buf.At(i).After(from) })
	// first index with instant > to
	hi := sort.Search(n, func(i int) bool { return t.buf.At(i).After(to) })
	if hi < lo {
		return 0
	}
	return hi - lo
}

// Len returns the number of retained instants.
func (t *Timeline) Len() int {
	return t.buf.Len()
}

// Cap returns the retention capacity.
func (t *Timeline) Cap() int {
	return t.buf.Cap()
}

// Instants returns the retained instants, oldest first.
func (t *Timeline) Instants() []time.Time {
	return t.buf.Slice()
}
