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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeWritesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_entity_writes_total",
		Help: "Accepted entity store writes by event type and entity type",
	}, []string{"event", "type"})

	storeRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_entity_rejected_writes_total",
		Help: "Rejected entity store writes by reason",
	}, []string{"reason"})

	indexEdgeChanges = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "trace_relation_edge_changes_total",
		Help: "Distinct relationship edges added or removed by index refreshes",
	}, []string{"change"})
)

const (
	rejectInvalid  = "invalid"
	rejectNotFound = "not_found"
)
