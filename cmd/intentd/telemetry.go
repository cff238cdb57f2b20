// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// setupTracing installs the global tracer provider. Spans export over
// OTLP/gRPC when OTEL_EXPORTER_OTLP_ENDPOINT is set; in debug mode
// without an endpoint they pretty-print to stdout. Otherwise tracing
// stays a no-op and the returned shutdown does nothing.
func setupTracing(ctx context.Context, debug bool) (func(context.Context) error, error) {
	noop := func(context.Context) error { return nil }

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch {
	case os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != "":
		exporter, err = otlptracegrpc.New(ctx)
	case debug:
		exporter, err = stdouttrace.New(stdouttrace.WithPrettyPrint())
	default:
		return noop, nil
	}
	if err != nil {
		return noop, err
	}

	res := resource.NewSchemaless(
		attribute.String("service.name", "chatnshop-intent"),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}
