package agent

import (
	"context"

	"github.com/vinayprograms/agentkit/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// startTurnSpan starts a span for one orchestrator turn.
func startTurnSpan(ctx context.Context, sessionID, invocationID string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "turn")
	span.SetAttributes(
		attribute.String("session.id", sessionID),
		attribute.String("invocation.id", invocationID),
	)
	return ctx, span
}

// endTurnSpan ends the turn span with routing info.
func endTurnSpan(span trace.Span, routes []string, handoff bool, err error) {
	span.SetAttributes(
		attribute.StringSlice("turn.routes", routes),
		attribute.Bool("turn.handoff", handoff),
	)
	if err != nil {
		span.SetAttributes(attribute.String("turn.error_kind", string(Classify(err))))
		span.RecordError(err)
	}
	span.End()
}

// startSubAgentSpan starts a span for a sub-agent execution.
func startSubAgentSpan(ctx context.Context, name, route string) (context.Context, trace.Span) {
	tracer := telemetry.GetTracer()
	ctx, span := tracer.StartSpan(ctx, "subagent."+name)
	span.SetAttributes(
		attribute.String("subagent.name", name),
		attribute.String("subagent.route", route),
	)
	return ctx, span
}

// endSubAgentSpan ends the sub-agent span with output info.
func endSubAgentSpan(span trace.Span, output string, err error) {
	tracer := telemetry.GetTracer()
	if tracer.Debug() && output != "" {
		span.SetAttributes(attribute.String("subagent.output", truncate(output, 2000)))
	}
	if err != nil {
		span.RecordError(err)
	}
	span.End()
}

// truncate shortens s to at most maxLen bytes for logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
