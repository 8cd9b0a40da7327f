// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package confidence scores how much an entity's stored state can be
// trusted at a given instant.
//
// Scores are computed on demand and never stored:
//
//	confidence = clamp01(base_decay(now - CapturedAt) * velocity_penalty(velocity))
//
// base_decay is a banded step function of age. velocity is the number of
// updated events in the trailing window ending at CapturedAt, per second.
// Because the window is anchored at the last observation rather than at
// now, an entity that receives no new writes only ever loses confidence as
// time passes.
package confidence

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// Sentinel errors for confidence operations.
var (
	// ErrInvalidPolicy is returned when bands are unordered, multipliers
	// fall outside [0, 1] or increase with age, or the velocity window is
	// not positive.
	ErrInvalidPolicy = errors.New("invalid confidence policy")
)

// Default policy values.
const (
	DefaultVelocityWindow = 60 * time.Second
	DefaultVelocityWeight = 1.0
)

// Band names used by the default policy.
const (
	BandFresh      = "fresh"
	BandRecent     = "recent"
	BandStale      = "stale"
	BandAncient    = "ancient"
	BandUnobserved = "unobserved"
)

// Band is one step of the age decay function.
type Band struct {
	// Name labels the band in summaries.
	Name string `json:"name"`

	// MaxAge is the exclusive upper bound of the band. Zero means
	// unbounded and is only allowed on the last band.
	MaxAge time.Duration `json:"max_age"`

	// Multiplier is applied to entities whose age falls in the band.
	Multiplier float64 `json:"multiplier"`
}

// Policy holds the scoring parameters.
type Policy struct {
	Bands          []Band
	VelocityWindow time.Duration
	VelocityWeight float64
}

// DefaultPolicy returns the default bands: under 1s 1.0, under 5s 0.8,
// under 30s 0.5, and 0.1 beyond.
func DefaultPolicy() Policy {
	return Policy{
		Bands: []Band{
			{Name: BandFresh, MaxAge: time.Second, Multiplier: 1.0},
			{Name: BandRecent, MaxAge: 5 * time.Second, Multiplier: 0.8},
			{Name: BandStale, MaxAge: 30 * time.Second, Multiplier: 0.5},
			{Name: BandAncient, MaxAge: 0, Multiplier: 0.1},
		},
		VelocityWindow: DefaultVelocityWindow,
		VelocityWeight: DefaultVelocityWeight,
	}
}

// Validate checks that the policy produces non-increasing scores in age.
func (p Policy) Validate() error {
	if len(p.Bands) == 0 {
		return fmt.Errorf("%w: no bands", ErrInvalidPolicy)
	}
	var prevAge time.Duration
	prevMult := 1.0
	for i, b := range p.Bands {
		last := i == len(p.Bands)-1
		switch {
		case b.MaxAge < 0:
			return fmt.Errorf("%w: band %d has negative max age", ErrInvalidPolicy, i)
		case b.MaxAge == 0 && !last:
			return fmt.Errorf("%w: only the last band may be unbounded", ErrInvalidPolicy)
		case b.MaxAge != 0 && b.MaxAge <= prevAge:
			return fmt.Errorf("%w: band %d max age %s not above %s", ErrInvalidPolicy, i, b.MaxAge, prevAge)
		}
		if b.Multiplier < 0 || b.Multiplier > 1 || math.IsNaN(b.Multiplier) {
			return fmt.Errorf("%w: band %d multiplier %v outside [0,1]", ErrInvalidPolicy, i, b.Multiplier)
		}
		if b.Multiplier > prevMult {
			return fmt.Errorf("%w: band %d multiplier %v increases with age", ErrInvalidPolicy, i, b.Multiplier)
		}
		prevAge, prevMult = b.MaxAge, b.Multiplier
	}
	if p.VelocityWindow <= 0 {
		return fmt.Errorf("%w: velocity window must be positive", ErrInvalidPolicy)
	}
	if p.VelocityWeight < 0 || math.IsNaN(p.VelocityWeight) {
		return fmt.Errorf("%w: velocity weight must be non-negative", ErrInvalidPolicy)
	}
	return nil
}

// BandFor returns the band an age falls into. Negative ages count as zero.
// Ages beyond every bounded band fall into the last band.
func (p Policy) BandFor(age time.Duration) Band {
	if age < 0 {
		age = 0
	}
	for i, b := range p.Bands {
		if b.MaxAge == 0 || age < b.MaxAge {
			return p.named(i)
		}
	}
	return p.named(len(p.Bands) - 1)
}

// BaseDecay returns the age multiplier.
func (p Policy) BaseDecay(age time.Duration) float64 {
	if len(p.Bands) == 0 {
		return 0
	}
	return p.BandFor(age).Multiplier
}

// VelocityPenalty returns 1 / (1 + weight*velocity).
func (p Policy) VelocityPenalty(velocity float64) float64 {
	if velocity <= 0 {
		return 1
	}
	return 1 / (1 + p.VelocityWeight*velocity)
}

// Velocity converts an update count inside the window to updates per second.
func (p Policy) Velocity(updates int) float64 {
	if updates <= 0 || p.VelocityWindow <= 0 {
		return 0
	}
	return float64(updates) / p.VelocityWindow.Seconds()
}

func (p Policy) named(i int) Band {
	b := p.Bands[i]
	if b.Name == "" {
		b.Name = fmt.Sprintf("band-%d", i)
	}
	return b
}

// Clamp01 limits v to [0, 1]. NaN maps to 0.
func Clamp01(v float64) float64 {
	switch {
	case math.IsNaN(v) || v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
