// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package telemetry wires OpenTelemetry providers for tracegraph hosts.
//
// The engine packages call otel.Tracer and otel.Meter directly; until Init
// runs those resolve to no-op providers. A host (the CLI, a long-running
// collector) calls Init once at startup to route spans and OTel metrics to
// an exporter, and calls the returned shutdown on exit.
//
// # Exporters
//
// Traces: "otlp" (gRPC), "stdout", or "none".
// Metrics: "prometheus" (registers with the default Prometheus registry,
// next to the promauto collectors of the store), "stdout", or "none".
//
// # Usage
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// WriteMetrics dumps the default registry in the Prometheus text format,
// which is how a short-lived host reports metrics without an HTTP endpoint.
//
// # Thread Safety
//
// Init is meant to be called once. WriteMetrics is safe for concurrent use.
package telemetry
