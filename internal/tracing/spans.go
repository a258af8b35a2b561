package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys.
const (
	AttrCommandID    = "command.id"
	AttrCommandName  = "command.name"
	AttrEventName    = "event.name"
	AttrSessionPhase = "session.phase"
	AttrOutcome      = "command.outcome"
	AttrErrorMessage = "error.message"
	AttrErrorKind    = "error.kind"
)

// Span name prefixes.
const (
	SpanPrefixCommand = "command."
	SpanPrefixHandler = "handler."
)

// Span event names.
const (
	EventRequestSent      = "request.sent"
	EventResponseReceived = "response.received"
	EventEmitted          = "event.emitted"
)

// StartCommand opens a client span for an outgoing command.
func StartCommand(ctx context.Context, tracer trace.Tracer, name, id string) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanPrefixCommand+name,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String(AttrCommandName, name),
			attribute.String(AttrCommandID, id),
		),
	)
}

// StartHandler opens a server span for a command being handled.
func StartHandler(ctx context.Context, tracer trace.Tracer, name, id string) (context.Context, trace.Span) {
	return tracer.Start(ctx, SpanPrefixHandler+name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrCommandName, name),
			attribute.String(AttrCommandID, id),
		),
	)
}

// RecordError marks span as failed. kind classifies the failure.
func RecordError(span trace.Span, err error, kind string) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	span.SetAttributes(
		attribute.String(AttrErrorMessage, err.Error()),
		attribute.String(AttrErrorKind, kind),
	)
}
