package events

import (
	"context"
	"errors"

	"github.com/alanyoungcy/updown/internal/domain"
)

// Fanout delivers every event to each publisher in order. A failing
// publisher does not stop the rest.
type Fanout []domain.EventPublisher

var _ domain.EventPublisher = Fanout(nil)

// NewFanout drops nil publishers so callers can pass optional ones directly.
func NewFanout(pubs ...domain.EventPublisher) Fanout {
	out := make(Fanout, 0, len(pubs))
	for _, p := range pubs {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (f Fanout) Publish(ctx context.Context, ev domain.Event) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
