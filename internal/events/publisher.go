// Package events binds the generic bus to the gateway's tagged JSON events.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/corralhq/corral/internal/core/domain"
	"github.com/corralhq/corral/pkg/eventbus"
)

// Publisher stamps, encodes and fans out gateway events. Encoding happens
// exactly once per publish; every subscriber sees the same bytes.
type Publisher struct {
	bus    *eventbus.Bus[domain.Event]
	logger *slog.Logger
}

func NewPublisher(logger *slog.Logger) *Publisher {
	return &Publisher{
		bus:    eventbus.New[domain.Event](),
		logger: logger,
	}
}

// Publish tags the payload, injects the emit timestamp into it and offers the
// encoded event to every subscriber. Never blocks the caller; a slow
// subscriber loses the event, nobody else does.
func (p *Publisher) Publish(eventType string, payload any) {
	now := time.Now().UTC()

	encoded, err := encodePayload(payload, now)
	if err != nil {
		p.logger.Warn("dropping unencodable event", "type", eventType, "error", err)
		return
	}

	p.bus.Publish(domain.Event{
		Type:      eventType,
		Payload:   encoded,
		Timestamp: now,
	})
}

// Subscribe attaches a new subscriber for the lifetime of ctx.
func (p *Publisher) Subscribe(ctx context.Context) (<-chan domain.Event, func()) {
	return p.bus.Subscribe(ctx)
}

// Stats exposes the bus counters for the debug surface.
func (p *Publisher) Stats() eventbus.Stats {
	return p.bus.Stats()
}

// Shutdown closes all subscriber channels.
func (p *Publisher) Shutdown() {
	p.bus.Shutdown()
}

// encodePayload flattens the payload to a JSON object and stamps it with the
// emit time, so the SSE data line carries the timestamp without a second
// marshalling pass downstream.
func encodePayload(payload any, now time.Time) (json.RawMessage, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		// Non-object payloads are wrapped rather than rejected.
		fields = map[string]any{"value": json.RawMessage(raw)}
	}
	if fields == nil {
		fields = map[string]any{}
	}
	if _, exists := fields["timestamp"]; !exists {
		fields["timestamp"] = now.Format(time.RFC3339Nano)
	}
	return json.Marshal(fields)
}
