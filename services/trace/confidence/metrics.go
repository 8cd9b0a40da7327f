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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	computationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_confidence_computations_total",
		Help: "Confidence scores computed, by age band",
	}, []string{"band"})

	scoreHistogram = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "trace_confidence_score",
		Help:    "Distribution of computed confidence scores",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 0.75, 0.9, 1.0},
	})
)
