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
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AleutianAI/tracegraph/services/trace/history"
)

// Options configures a Store.
type Options struct {
	// Clock supplies CapturedAt and event timestamps. Default: time.Now.
	Clock func() time.Time

	// Logger receives write diagnostics. Default: discard.
	Logger *slog.Logger

	// HistoryCapacity bounds the per-identity update timeline used for
	// change-velocity queries. Default: history.DefaultCapacity.
	HistoryCapacity int

	// NewEventID generates event ids. Default: uuid.NewString.
	NewEventID func() string
}

// Option is a functional option for NewStore.
type Option func(*Options)

// WithClock sets the store clock.
func WithClock(clock func() time.Time) Option {
	return func(o *Options) {
		if clock != nil {
			o.Clock = clock
		}
	}
}

// WithLogger sets the store logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) {
		if logger != nil {
			o.Logger = logger
		}
	}
}

// WithHistoryCapacity sets the per-identity update timeline capacity.
func WithHistoryCapacity(n int) Option {
	return func(o *Options) {
		if n > 0 {
			o.HistoryCapacity = n
		}
	}
}

// WithEventIDs sets the event id generator.
func WithEventIDs(gen func() string) Option {
	return func(o *Options) {
		if gen != nil {
			o.NewEventID = gen
		}
	}
}

func defaultOptions() Options {
	return Options{
		Clock:           time.Now,
		Logger:          slog.New(slog.DiscardHandler),
		HistoryCapacity: history.DefaultCapacity,
		NewEventID:      uuid.NewString,
	}
}
