// Copyright 2023 The Gravel Authors.
// SPDX-License-Identifier: Apache-2.0

// Package opentracing bridges gravel's tracing interface to an
// OpenTracing backend.
package opentracing

import (
	"context"

	"github.com/opentracing/opentracing-go"

	"github.com/graveldb/gravel/tracing"
)

var _ tracing.Tracer = (*Tracer)(nil)

// Tracer adapts an opentracing.Tracer to tracing.Tracer.
type Tracer struct {
	tracer opentracing.Tracer
}

// NewTracer wraps tracer, commonly opentracing.GlobalTracer().
func NewTracer(tracer opentracing.Tracer) *Tracer {
	return &Tracer{tracer: tracer}
}

// StartSpanFromContext starts a span as a child of whatever span the
// context already carries.
func (t *Tracer) StartSpanFromContext(ctx context.Context, operationName string) (tracing.Span, context.Context) {
	var opts []opentracing.StartSpanOption
	if parent := opentracing.SpanFromContext(ctx); parent != nil {
		opts = append(opts, opentracing.ChildOf(parent.Context()))
	}
	span := t.tracer.StartSpan(operationName, opts...)
	return span, opentracing.ContextWithSpan(ctx, span)
}
