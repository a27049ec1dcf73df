// Package telemetry provides structured logging and opt-in metrics for tool
// calls (no separate metrics for ADO HTTP calls or bulk operations). Logging
// uses goa.design/clue;
// metrics use the OpenTelemetry metric API. No work-item content, titles,
// or user identifiers are ever attached as a log field or metric attribute
// (spec §4.7 step 6).
package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"goa.design/clue/log"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/dispatcher"
)

// Logger wraps goa.design/clue/log with the key-value call shape the rest
// of this codebase uses, mirroring the teacher's ClueLogger adapter.
type Logger struct{}

// NewLogger constructs a Logger. Formatting and debug level are controlled
// by the context installed via log.Context/log.WithFormat/log.WithDebug at
// process start (cmd/adomcpd).
func NewLogger() Logger { return Logger{} }

func (Logger) Debug(ctx context.Context, msg string, keyvals ...any) {
	log.Debug(ctx, fielders(msg, keyvals)...)
}

func (Logger) Info(ctx context.Context, msg string, keyvals ...any) {
	log.Info(ctx, fielders(msg, keyvals)...)
}

func (Logger) Warn(ctx context.Context, msg string, keyvals ...any) {
	log.Warn(ctx, fielders(msg, keyvals)...)
}

func (Logger) Error(ctx context.Context, msg string, err error, keyvals ...any) {
	log.Error(ctx, err, fielders(msg, keyvals)...)
}

func fielders(msg string, keyvals []any) []log.Fielder {
	out := []log.Fielder{log.KV{K: "msg", V: msg}}
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			continue
		}
		out = append(out, log.KV{K: key, V: keyvals[i+1]})
	}
	return out
}

// ToolMetrics records the Tool Dispatcher's opt-in call metrics and
// implements dispatcher.Telemetry.
type ToolMetrics struct {
	calls    metric.Float64Counter
	duration metric.Float64Histogram
}

// NewToolMetrics constructs a ToolMetrics recorder against the global
// MeterProvider (configure via clue.ConfigureOpenTelemetry at process
// start). Instrument-creation failures degrade to silent no-ops rather
// than blocking tool calls.
func NewToolMetrics() *ToolMetrics {
	meter := otel.Meter("ado-mcp/dispatcher")
	calls, _ := meter.Float64Counter("ado_mcp_tool_calls_total")
	duration, _ := meter.Float64Histogram("ado_mcp_tool_call_duration_seconds")
	return &ToolMetrics{calls: calls, duration: duration}
}

// RecordCall implements dispatcher.Telemetry.
func (m *ToolMetrics) RecordCall(ctx context.Context, tool string, d time.Duration, success bool, apiCalls int) {
	attrs := metric.WithAttributes(
		attribute.String("tool", tool),
		attribute.Bool("success", success),
	)
	if m.calls != nil {
		m.calls.Add(ctx, 1, attrs)
	}
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	_ = apiCalls
}

var _ dispatcher.Telemetry = (*ToolMetrics)(nil)
