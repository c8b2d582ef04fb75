// Package events publishes committed round transitions to subscribers: the
// Redis signal bus feeding WebSocket clients, an optional Kafka topic for
// downstream consumers, and operator alerts.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/alanyoungcy/updown/internal/domain"
)

// RoundsChannel is the bus channel and stream carrying round events.
const RoundsChannel = "rounds"

// BusPublisher writes each event to the live channel and to the replay
// stream of the same name.
type BusPublisher struct {
	bus domain.SignalBus
}

var _ domain.EventPublisher = (*BusPublisher)(nil)

func NewBusPublisher(bus domain.SignalBus) *BusPublisher {
	return &BusPublisher{bus: bus}
}

func (p *BusPublisher) Publish(ctx context.Context, ev domain.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("events: marshal %s: %w", ev.Type, err)
	}
	// The stream is appended even when the live publish fails so that a
	// reconnecting client can still catch up.
	pubErr := p.bus.Publish(ctx, RoundsChannel, payload)
	streamErr := p.bus.StreamAppend(ctx, RoundsChannel, payload)
	if err := errors.Join(pubErr, streamErr); err != nil {
		return fmt.Errorf("events: bus %s: %w", ev.Type, err)
	}
	return nil
}
