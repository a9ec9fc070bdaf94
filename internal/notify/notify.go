// Package notify delivers call events to displays, announcers and other listeners.
package notify

import (
	"context"
	"errors"

	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/rs/zerolog/log"
)

type Publisher interface {
	Publish(ctx context.Context, event models.CallEvent) error
}

type PublisherFunc func(ctx context.Context, event models.CallEvent) error

func (f PublisherFunc) Publish(ctx context.Context, event models.CallEvent) error {
	return f(ctx, event)
}

type nop struct{}

func (nop) Publish(context.Context, models.CallEvent) error { return nil }

// Nop discards every event.
var Nop Publisher = nop{}

type multi []Publisher

// Multi delivers each event to every publisher in order. A failing publisher
// does not stop delivery to the others.
func Multi(publishers ...Publisher) Publisher {
	out := make(multi, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

func (m multi) Publish(ctx context.Context, event models.CallEvent) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, event); err != nil {
			log.Warn().Err(err).Int64("ticket_id", event.TicketID).Int("room", event.Room).Msg("publish call event")
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
