package dispatch

import (
	"context"

	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/boobacar/clinic-queue/internal/queue"
	"github.com/boobacar/clinic-queue/internal/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// RoomState reports what a room display shows: the ticket called before the
// current one, the current one, and the ticket the next call would take.
func (e *Engine) RoomState(ctx context.Context, room int) (state models.RoomState, err error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.RoomState", trace.WithAttributes(attribute.Int("room", room)))
	defer func() { endSpan(span, err) }()

	if err := validateRoom(room); err != nil {
		return models.RoomState{}, err
	}
	err = e.store.View(ctx, func(tx store.Tx) error {
		state, err = roomState(ctx, tx, room)
		return err
	})
	return state, err
}

func roomState(ctx context.Context, tx store.Tx, room int) (models.RoomState, error) {
	state := models.RoomState{Room: room}

	previous, ok, err := tx.PreviousForRoom(ctx, room)
	if err != nil {
		return models.RoomState{}, err
	}
	if ok {
		state.Previous = &previous
	}

	current, ok, err := tx.CurrentForRoom(ctx, room)
	if err != nil {
		return models.RoomState{}, err
	}
	if ok {
		state.Current = &current
	}

	waiting, err := tx.ListWaiting(ctx)
	if err != nil {
		return models.RoomState{}, err
	}
	if head, ok := queue.Head(waiting); ok {
		state.Next = &head
	}
	return state, nil
}
