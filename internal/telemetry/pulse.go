package telemetry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/pulse/streaming"

	"github.com/AmeliaRose802/enhanced-ado-mcp-sub009/internal/dispatcher"
)

// callEvent is the JSON payload published to the Pulse stream per tool call.
type callEvent struct {
	Tool       string  `json:"tool"`
	DurationMs float64 `json:"durationMs"`
	Success    bool    `json:"success"`
	APICalls   int     `json:"apiCalls"`
}

// PulseEvents publishes opt-in tool-call events to a Pulse stream backed by
// Redis, letting an operator tail invocations (name, duration, success)
// without coupling the Dispatcher to a specific sink.
type PulseEvents struct {
	stream *streaming.Stream
}

var _ dispatcher.Telemetry = (*PulseEvents)(nil)

// NewPulseEvents opens (creating if absent) the named Pulse stream on redis.
func NewPulseEvents(redis *redis.Client, streamName string) (*PulseEvents, error) {
	s, err := streaming.NewStream(streamName, redis)
	if err != nil {
		return nil, err
	}
	return &PulseEvents{stream: s}, nil
}

// RecordCall implements dispatcher.Telemetry. Marshal and publish failures
// are discarded rather than returned or logged, since telemetry must never
// fail a tool call.
func (p *PulseEvents) RecordCall(ctx context.Context, tool string, d time.Duration, success bool, apiCalls int) {
	payload, err := json.Marshal(callEvent{
		Tool:       tool,
		DurationMs: float64(d.Milliseconds()),
		Success:    success,
		APICalls:   apiCalls,
	})
	if err != nil {
		return
	}
	_, _ = p.stream.Add(ctx, "tool-call", payload)
}

// MultiTelemetry fans a single RecordCall out to every configured sink, so a
// deployment can run OTEL metrics and the Pulse event stream side by side.
type MultiTelemetry []dispatcher.Telemetry

func (m MultiTelemetry) RecordCall(ctx context.Context, tool string, d time.Duration, success bool, apiCalls int) {
	for _, t := range m {
		t.RecordCall(ctx, tool, d, success, apiCalls)
	}
}

var _ dispatcher.Telemetry = MultiTelemetry(nil)
