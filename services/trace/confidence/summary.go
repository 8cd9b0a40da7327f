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

// Summary aggregates the confidence of a set of entities.
//
// Min is the gating number: a result is only as trustworthy as its least
// trustworthy input. An empty set yields Min = Mean = 0.
type Summary struct {
	Min    float64        `json:"min"`
	Mean   float64        `json:"mean"`
	Count  int            `json:"count"`
	ByBand map[string]int `json:"by_band,omitempty"`
}

// Summarize aggregates assessments.
func Summarize(items []Assessment) Summary {
	if len(items) == 0 {
		return Summary{}
	}
	s := Summary{
		Min:    items[0].Confidence,
		Count:  len(items),
		ByBand: make(map[string]int),
	}
	var total float64
	for _, a := range items {
		if a.Confidence < s.Min {
			s.Min = a.Confidence
		}
		total += a.Confidence
		s.ByBand[a.Band]++
	}
	s.Mean = total / float64(len(items))
	return s
}

// Trustworthy reports whether a non-empty summary's minimum reaches
// threshold. An empty summary is trivially trustworthy: nothing is affected.
func Trustworthy(s Summary, threshold float64) bool {
	if s.Count == 0 {
		return true
	}
	return s.Min >= threshold
}
