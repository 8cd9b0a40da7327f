// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package confidence

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/AleutianAI/tracegraph/services/trace/entity"
)

// Source is the read surface the propagator needs. Both *entity.Store and
// entity.Snapshot satisfy it.
type Source interface {
	Get(id string, typ entity.Type) (*entity.Entity, bool)
	UpdatesWithin(id string, typ entity.Type, from, to time.Time) int
}

// Assessment is the score of one entity at one instant.
type Assessment struct {
	Confidence float64       `json:"confidence"`
	Band       string        `json:"band"`
	Age        time.Duration `json:"age"`
	Velocity   float64       `json:"velocity"`
}

// Propagator computes confidence scores for entities in a Source.
//
// # Description
//
// Stateless apart from its policy. Scores are recomputed on every call so
// they always reflect the current store contents and the supplied instant.
//
// # Thread Safety
//
// Safe for concurrent use. Locking is the Source's concern.
type Propagator struct {
	src    Source
	policy Policy
	logger *slog.Logger
}

// NewPropagator creates a propagator over src.
//
// # Inputs
//
//   - src: Entity source, usually the store.
//   - policy: Scoring parameters; validated.
//   - logger: Optional; nil discards.
//
// # Outputs
//
//   - *Propagator: Ready to use.
//   - error: ErrInvalidPolicy if the policy fails validation.
func NewPropagator(src Source, policy Policy, logger *slog.Logger) (*Propagator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Propagator{
		src:    src,
		policy: policy,
		logger: logger.With(slog.String("component", "confidence")),
	}, nil
}

// Policy returns the scoring policy.
func (p *Propagator) Policy() Policy {
	return p.policy
}

// ConfidenceOf scores the current version of an identity at now.
//
// # Outputs
//
//   - float64: Confidence in [0, 1].
//   - error: Wraps entity.ErrNotFound when the identity has no live version.
func (p *Propagator) ConfidenceOf(id string, typ entity.Type, now time.Time) (float64, error) {
	a, err := p.AssessID(p.src, id, typ, now)
	if err != nil {
		return 0, err
	}
	return a.Confidence, nil
}

// AssessID scores an identity read from src, which may be a snapshot held
// by the caller.
func (p *Propagator) AssessID(src Source, id string, typ entity.Type, now time.Time) (Assessment, error) {
	e, ok := src.Get(id, typ)
	if !ok {
		return Assessment{}, fmt.Errorf("confidence of %s:%s: %w", typ, id, entity.ErrNotFound)
	}
	return p.Assess(src, e, now), nil
}

// Assess scores e, reading its update history from src.
func (p *Propagator) Assess(src Source, e *entity.Entity, now time.Time) Assessment {
	from := e.CapturedAt.Add(-p.policy.VelocityWindow)
	updates := src.UpdatesWithin(e.ID, e.Type, from, e.CapturedAt)
	return p.assess(e, updates, now)
}

// Score computes confidence from an entity and an already known update
// count inside the velocity window. It touches no shared state.
func (p *Propagator) Score(e *entity.Entity, updates int, now time.Time) float64 {
	return p.assess(e, updates, now).Confidence
}

func (p *Propagator) assess(e *entity.Entity, updates int, now time.Time) Assessment {
	age := now.Sub(e.CapturedAt)
	if age < 0 {
		age = 0
	}
	band := p.policy.BandFor(age)
	velocity := p.policy.Velocity(updates)
	score := Clamp01(band.Multiplier * p.policy.VelocityPenalty(velocity))

	computationsTotal.WithLabelValues(band.Name).Inc()
	scoreHistogram.Observe(score)

	return Assessment{
		Confidence: score,
		Band:       band.Name,
		Age:        age,
		Velocity:   velocity,
	}
}

// Band classifies an age under the propagator's policy.
func (p *Propagator) Band(age time.Duration) string {
	return p.policy.BandFor(age).Name
}

// Summarize scores entities and aggregates the result. Entities with no
// live version in the source are scored as unobserved with confidence 0.
func (p *Propagator) Summarize(ids []entity.Identity, now time.Time) Summary {
	items := make([]Assessment, 0, len(ids))
	for _, id := range ids {
		a, err := p.AssessID(p.src, id.ID, id.Type, now)
		if err != nil {
			p.logger.Debug("summarize: identity not live",
				slog.String("identity", id.String()))
			a = Unobserved()
		}
		items = append(items, a)
	}
	return Summarize(items)
}

// Unobserved is the assessment of an id that is referenced but has never
// been observed.
func Unobserved() Assessment {
	return Assessment{Confidence: 0, Band: BandUnobserved}
}
