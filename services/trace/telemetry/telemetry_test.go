// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package telemetry

import (
	"bytes"
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestDefaultConfig(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "")
	t.Setenv("TRACEGRAPH_ENV", "")

	cfg := DefaultConfig()
	assert.Equal(t, "tracegraph", cfg.ServiceName)
	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, ExporterNone, cfg.TraceExporter)
	assert.True(t, cfg.OTLPInsecure)
}

func TestDefaultConfig_EnvOverride(t *testing.T) {
	t.Setenv("OTEL_TRACES_EXPORTER", "stdout")
	t.Setenv("TRACEGRAPH_ENV", "ci")

	cfg := DefaultConfig()
	assert.Equal(t, ExporterStdout, cfg.TraceExporter)
	assert.Equal(t, "ci", cfg.Environment)
}

func TestInit_NilContext(t *testing.T) {
	//nolint:staticcheck // testing nil context handling
	_, err := Init(nil, DefaultConfig())
	assert.ErrorIs(t, err, ErrNilContext)
}

func TestInit_NoopExporter(t *testing.T) {
	cfg := Config{TraceExporter: ExporterNone, MetricExporter: ExporterNone}
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)
	assert.NoError(t, shutdown(context.Background()))
}

func TestInit_UnknownExporter(t *testing.T) {
	_, err := Init(context.Background(), Config{TraceExporter: "zipkin", MetricExporter: ExporterNone})
	assert.ErrorIs(t, err, ErrUnknownExporter)

	_, err = Init(context.Background(), Config{TraceExporter: ExporterNone, MetricExporter: "statsd"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}

func TestInit_StdoutTraces(t *testing.T) {
	var buf bytes.Buffer
	cfg := Config{
		ServiceName:    "tracegraph-test",
		TraceExporter:  ExporterStdout,
		MetricExporter: ExporterNone,
		Output:         &buf,
	}
	shutdown, err := Init(context.Background(), cfg)
	require.NoError(t, err)

	_, span := otel.Tracer("telemetry-test").Start(context.Background(), "probe-span")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), "probe-span")
}

func TestWriteFamilies(t *testing.T) {
	reg := prometheus.NewRegistry()
	kept := prometheus.NewCounter(prometheus.CounterOpts{Name: "trace_probe_total", Help: "probe"})
	other := prometheus.NewCounter(prometheus.CounterOpts{Name: "other_probe_total", Help: "probe"})
	reg.MustRegister(kept, other)
	kept.Add(3)

	var buf bytes.Buffer
	require.NoError(t, writeFamilies(&buf, reg, "trace_"))
	out := buf.String()
	assert.Contains(t, out, "trace_probe_total 3")
	assert.NotContains(t, out, "other_probe_total")

	buf.Reset()
	require.NoError(t, writeFamilies(&buf, reg))
	assert.Contains(t, buf.String(), "other_probe_total 0")

	buf.Reset()
	require.NoError(t, writeFamilies(&buf, reg, "nope_", "other_"))
	assert.Contains(t, buf.String(), "other_probe_total")
	assert.NotContains(t, buf.String(), "trace_probe_total")
}
