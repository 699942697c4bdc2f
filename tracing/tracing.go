// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0

// Package tracing decouples the loader from any particular distributed
// tracing backend. The default tracer discards spans; a backend is
// installed by assigning GlobalTracer.
package tracing

import (
	"context"
)

// GlobalTracer receives every span the loader starts.
var GlobalTracer Tracer = NopTracer()

// Tracer starts spans tied to a context.
type Tracer interface {
	// StartSpanFromContext returns a new child span and a context
	// carrying it.
	StartSpanFromContext(ctx context.Context, operationName string) (Span, context.Context)
}

// Span is one operation in a distributed trace.
type Span interface {
	// Finish sets the end timestamp and finalizes the span.
	Finish()

	// LogKV adds alternating key/value pairs to the span.
	LogKV(alternatingKeyValues ...interface{})
}

// StartSpanFromContext starts a child span on the global tracer.
func StartSpanFromContext(ctx context.Context, operationName string) (Span, context.Context) {
	return GlobalTracer.StartSpanFromContext(ctx, operationName)
}

// NopTracer returns a tracer whose spans go nowhere.
func NopTracer() Tracer {
	return nopTracer{}
}

type nopTracer struct{}

func (nopTracer) StartSpanFromContext(ctx context.Context, operationName string) (Span, context.Context) {
	return nopSpan{}, ctx
}

type nopSpan struct{}

func (nopSpan) Finish()                 {}
func (nopSpan) LogKV(kv ...interface{}) {}
