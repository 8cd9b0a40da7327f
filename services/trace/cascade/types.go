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

	"github.com/AleutianAI/tracegraph/services/trace/confidence"
	"github.com/AleutianAI/tracegraph/services/trace/entity"
	"github.com/AleutianAI/tracegraph/services/trace/relation"
)

// RiskLevel indicates the risk associated with a change.
type RiskLevel string

const (
	// RiskCritical means the change has many direct dependents.
	RiskCritical RiskLevel = "CRITICAL"

	// RiskHigh means the change has a significant number of direct
	// dependents.
	RiskHigh RiskLevel = "HIGH"

	// RiskMedium means the change has a moderate number of direct
	// dependents.
	RiskMedium RiskLevel = "MEDIUM"

	// RiskLow means minimal impact.
	RiskLow RiskLevel = "LOW"
)

var riskOrder = map[RiskLevel]int{RiskLow: 0, RiskMedium: 1, RiskHigh: 2, RiskCritical: 3}

// Max returns the more severe of two levels.
func (r RiskLevel) Max(other RiskLevel) RiskLevel {
	if riskOrder[other] > riskOrder[r] {
		return other
	}
	return r
}

// RiskConfig holds the direct-dependent thresholds for each risk level.
type RiskConfig struct {
	CriticalThreshold int `json:"critical_threshold" yaml:"critical_threshold"`
	HighThreshold     int `json:"high_threshold" yaml:"high_threshold"`
	MediumThreshold   int `json:"medium_threshold" yaml:"medium_threshold"`
}

// DefaultRiskConfig returns risk thresholds with sensible defaults.
func DefaultRiskConfig() RiskConfig {
	return RiskConfig{
		CriticalThreshold: 20,
		HighThreshold:     10,
		MediumThreshold:   4,
	}
}

// Level classifies a direct-dependent count.
func (c RiskConfig) Level(direct int) RiskLevel {
	switch {
	case direct >= c.CriticalThreshold:
		return RiskCritical
	case direct >= c.HighThreshold:
		return RiskHigh
	case direct >= c.MediumThreshold:
		return RiskMedium
	default:
		return RiskLow
	}
}

// Impact is one affected id.
//
// # Fields
//
//   - ID: The affected id.
//   - Type: The entity type the id resolved to; empty when unobserved.
//   - Depth: Shortest hop count from the target (1 = direct dependent).
//   - Path: Ids from the target to this id, inclusive.
//   - Via: Kind of the edge that reached this id.
//   - Confidence, Band: Score of the affected entity at analysis time.
//   - Observed: False when the id is only known as an edge endpoint.
type Impact struct {
	ID         string        `json:"id"`
	Type       entity.Type   `json:"type,omitempty"`
	Depth      int           `json:"depth"`
	Path       []string      `json:"path"`
	Via        relation.Kind `json:"via"`
	Confidence float64       `json:"confidence"`
	Band       string        `json:"band"`
	Observed   bool          `json:"observed"`
}

// Result is the outcome of one cascade analysis.
//
// An empty Affected slice means the target exists and nothing depends on
// it.
type Result struct {
	TargetID        string             `json:"target_id"`
	TargetTypes     []entity.Type      `json:"target_types"`
	Affected        []Impact           `json:"affected"`
	TotalImpact     int                `json:"total_impact"`
	DirectCount     int                `json:"direct_count"`
	MaxDepthReached int                `json:"max_depth_reached"`
	Confidence      confidence.Summary `json:"confidence"`
	RiskLevel       RiskLevel          `json:"risk_level"`
	Steps           int                `json:"steps"`
	Duration        time.Duration      `json:"duration"`
}

// Aggregate merges the results of several analyses.
//
// Affected ids are deduplicated at their minimum depth across targets.
// Ids that are themselves targets are not listed as affected.
type Aggregate struct {
	Targets         []string           `json:"targets"`
	Results         []*Result          `json:"results"`
	Affected        []Impact           `json:"affected"`
	TotalImpact     int                `json:"total_impact"`
	MaxDepthReached int                `json:"max_depth_reached"`
	Confidence      confidence.Summary `json:"confidence"`
	RiskLevel       RiskLevel          `json:"risk_level"`
	Steps           int                `json:"steps"`
}
