// Package dispatch owns the ticket lifecycle: check-in, room calls, skips,
// requeues and completion. Every state change runs inside one store
// transaction, and call events are published only after the commit.
package dispatch

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/boobacar/clinic-queue/internal/notify"
	"github.com/boobacar/clinic-queue/internal/queue"
	"github.com/boobacar/clinic-queue/internal/store"
	"github.com/boobacar/clinic-queue/internal/telemetry"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultHistoryLimit = 3
	MaxHistoryLimit     = 100
	maxNameLength       = 255
)

var (
	callsTotal   = expvar.NewInt("dispatch_calls_total")
	recallsTotal = expvar.NewInt("dispatch_recalls_total")
)

type CheckInInput struct {
	LastName  string
	FirstName string
	Reason    string
}

// ActionInput addresses a room action. RequestID is an optional idempotency
// token; a repeated token returns the first outcome without acting again.
type ActionInput struct {
	RequestID string
	TicketID  int64
	Room      int
}

type Options struct {
	Publisher    notify.Publisher
	Now          func() time.Time
	HistoryLimit int
}

type Engine struct {
	store        store.TicketStore
	publisher    notify.Publisher
	now          func() time.Time
	historyLimit int
	tracer       trace.Tracer

	// callMu keeps per-room event order equal to commit order.
	callMu sync.Mutex
}

func New(ticketStore store.TicketStore, options Options) *Engine {
	publisher := options.Publisher
	if publisher == nil {
		publisher = notify.Nop
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	limit := options.HistoryLimit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Engine{
		store:        ticketStore,
		publisher:    publisher,
		now:          now,
		historyLimit: limit,
		tracer:       otel.Tracer("github.com/boobacar/clinic-queue/internal/dispatch"),
	}
}

func (e *Engine) clock() time.Time {
	return e.now().UTC().Truncate(queue.ArrivalStep)
}

func (e *Engine) CheckIn(ctx context.Context, input CheckInInput) (ticket models.Ticket, err error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.CheckIn")
	defer func() { endSpan(span, err) }()

	lastName := strings.TrimSpace(input.LastName)
	firstName := strings.TrimSpace(input.FirstName)
	if lastName == "" || firstName == "" {
		return models.Ticket{}, fmt.Errorf("%w: last_name and first_name are required", store.ErrInvalidInput)
	}
	if utf8.RuneCountInString(lastName) > maxNameLength || utf8.RuneCountInString(firstName) > maxNameLength {
		return models.Ticket{}, fmt.Errorf("%w: names are limited to %d characters", store.ErrInvalidInput, maxNameLength)
	}
	var reason *string
	if trimmed := strings.TrimSpace(input.Reason); trimmed != "" {
		reason = &trimmed
	}

	now := e.clock()
	err = e.store.Update(ctx, func(tx store.Tx) error {
		waiting, err := tx.ListWaiting(ctx)
		if err != nil {
			return err
		}
		ticket, err = tx.InsertTicket(ctx, models.Ticket{
			LastName:    lastName,
			FirstName:   firstName,
			Reason:      reason,
			ArrivalTime: queue.NextArrival(waiting, now),
			Status:      models.StatusWaiting,
		})
		return err
	})
	if err != nil {
		return models.Ticket{}, err
	}

	span.SetAttributes(attribute.Int64("ticket_id", ticket.TicketID))
	telemetry.LoggerFromContext(ctx).Info().Int64("ticket_id", ticket.TicketID).Msg("patient checked in")
	return ticket, nil
}

// Next calls the head of the queue into the room. The room's previous
// current ticket stays called but is no longer current.
func (e *Engine) Next(ctx context.Context, input ActionInput) (ticket models.Ticket, err error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.Next", trace.WithAttributes(attribute.Int("room", input.Room)))
	defer func() { endSpan(span, err) }()

	if err := validateRoom(input.Room); err != nil {
		return models.Ticket{}, err
	}
	if err := validateRequestID(input.RequestID); err != nil {
		return models.Ticket{}, err
	}

	e.callMu.Lock()
	defer e.callMu.Unlock()

	ticket, fresh, err := e.mutate(ctx, store.ActionNext, input, func(tx store.Tx, now time.Time) (models.Ticket, error) {
		waiting, err := tx.ListWaiting(ctx)
		if err != nil {
			return models.Ticket{}, err
		}
		head, ok := queue.Head(waiting)
		if !ok {
			return models.Ticket{}, store.ErrQueueEmpty
		}
		if err := tx.ClearLastCalled(ctx, input.Room); err != nil {
			return models.Ticket{}, err
		}
		room := input.Room
		head.Status = models.StatusCalled
		head.CalledRoom = &room
		head.CalledTime = &now
		head.LastCalled = true
		return head, tx.UpdateTicket(ctx, head)
	})
	if err != nil {
		return models.Ticket{}, err
	}

	span.SetAttributes(attribute.Int64("ticket_id", ticket.TicketID))
	if fresh {
		callsTotal.Add(1)
		telemetry.LoggerFromContext(ctx).Info().Int64("ticket_id", ticket.TicketID).Int("room", input.Room).Msg("ticket called")
		e.publish(ctx, ticket)
	}
	return ticket, nil
}

// Recall refreshes the called time of the room's current ticket and
// announces it again.
func (e *Engine) Recall(ctx context.Context, input ActionInput) (ticket models.Ticket, err error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.Recall", trace.WithAttributes(attribute.Int("room", input.Room)))
	defer func() { endSpan(span, err) }()

	if err := validateRoom(input.Room); err != nil {
		return models.Ticket{}, err
	}
	if err := validateRequestID(input.RequestID); err != nil {
		return models.Ticket{}, err
	}

	e.callMu.Lock()
	defer e.callMu.Unlock()

	ticket, fresh, err := e.mutate(ctx, store.ActionRecall, input, func(tx store.Tx, now time.Time) (models.Ticket, error) {
		current, ok, err := tx.CurrentForRoom(ctx, input.Room)
		if err != nil {
			return models.Ticket{}, err
		}
		if !ok {
			return models.Ticket{}, store.ErrNothingToRecall
		}
		current.CalledTime = &now
		return current, tx.UpdateTicket(ctx, current)
	})
	if err != nil {
		return models.Ticket{}, err
	}

	span.SetAttributes(attribute.Int64("ticket_id", ticket.TicketID))
	if fresh {
		recallsTotal.Add(1)
		telemetry.LoggerFromContext(ctx).Info().Int64("ticket_id", ticket.TicketID).Int("room", input.Room).Msg("ticket recalled")
		e.publish(ctx, ticket)
	}
	return ticket, nil
}

// Skip marks a called patient as absent. The ticket id wins when it exists;
// otherwise the room's current ticket is skipped.
func (e *Engine) Skip(ctx context.Context, input ActionInput) (ticket models.Ticket, err error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.Skip", trace.WithAttributes(
		attribute.Int("room", input.Room),
		attribute.Int64("ticket_id", input.TicketID),
	))
	defer func() { endSpan(span, err) }()

	if err := validateRequestID(input.RequestID); err != nil {
		return models.Ticket{}, err
	}

	ticket, fresh, err := e.mutate(ctx, store.ActionSkip, input, func(tx store.Tx, _ time.Time) (models.Ticket, error) {
		target, err := skipTarget(ctx, tx, input)
		if err != nil {
			return models.Ticket{}, err
		}
		if !store.ValidTransition(store.ActionSkip, target.Status) {
			return models.Ticket{}, invalidState(target, store.ActionSkip)
		}
		target.Status = models.StatusSkipped
		target.LastCalled = false
		return target, tx.UpdateTicket(ctx, target)
	})
	if err != nil {
		return models.Ticket{}, err
	}
	if fresh {
		telemetry.LoggerFromContext(ctx).Info().Int64("ticket_id", ticket.TicketID).Msg("ticket skipped")
	}
	return ticket, nil
}

func skipTarget(ctx context.Context, tx store.Tx, input ActionInput) (models.Ticket, error) {
	if input.TicketID > 0 {
		ticket, err := tx.GetTicket(ctx, input.TicketID)
		if err == nil {
			return ticket, nil
		}
		if !errors.Is(err, store.ErrTicketNotFound) {
			return models.Ticket{}, err
		}
	}
	if input.Room > 0 {
		current, ok, err := tx.CurrentForRoom(ctx, input.Room)
		if err != nil {
			return models.Ticket{}, err
		}
		if ok {
			return current, nil
		}
	}
	return models.Ticket{}, store.ErrTicketNotFound
}

// Requeue sends a called or skipped ticket to the back of the queue.
func (e *Engine) Requeue(ctx context.Context, input ActionInput) (ticket models.Ticket, err error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.Requeue", trace.WithAttributes(attribute.Int64("ticket_id", input.TicketID)))
	defer func() { endSpan(span, err) }()

	if err := validateTicketID(input.TicketID); err != nil {
		return models.Ticket{}, err
	}
	if err := validateRequestID(input.RequestID); err != nil {
		return models.Ticket{}, err
	}

	ticket, fresh, err := e.mutate(ctx, store.ActionRequeue, input, func(tx store.Tx, now time.Time) (models.Ticket, error) {
		target, err := tx.GetTicket(ctx, input.TicketID)
		if err != nil {
			return models.Ticket{}, err
		}
		if !store.ValidTransition(store.ActionRequeue, target.Status) {
			return models.Ticket{}, invalidState(target, store.ActionRequeue)
		}
		waiting, err := tx.ListWaiting(ctx)
		if err != nil {
			return models.Ticket{}, err
		}
		target.Status = models.StatusWaiting
		target.ArrivalTime = queue.NextArrival(waiting, now)
		target.CalledRoom = nil
		target.CalledTime = nil
		target.LastCalled = false
		return target, tx.UpdateTicket(ctx, target)
	})
	if err != nil {
		return models.Ticket{}, err
	}
	if fresh {
		telemetry.LoggerFromContext(ctx).Info().Int64("ticket_id", ticket.TicketID).Msg("ticket requeued")
	}
	return ticket, nil
}

// MarkDone closes a consultation. Done tickets never change again until reset.
func (e *Engine) MarkDone(ctx context.Context, input ActionInput) (ticket models.Ticket, err error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.MarkDone", trace.WithAttributes(attribute.Int64("ticket_id", input.TicketID)))
	defer func() { endSpan(span, err) }()

	if err := validateTicketID(input.TicketID); err != nil {
		return models.Ticket{}, err
	}
	if err := validateRequestID(input.RequestID); err != nil {
		return models.Ticket{}, err
	}

	ticket, fresh, err := e.mutate(ctx, store.ActionDone, input, func(tx store.Tx, _ time.Time) (models.Ticket, error) {
		target, err := tx.GetTicket(ctx, input.TicketID)
		if err != nil {
			return models.Ticket{}, err
		}
		if !store.ValidTransition(store.ActionDone, target.Status) {
			return models.Ticket{}, invalidState(target, store.ActionDone)
		}
		target.Status = models.StatusDone
		target.LastCalled = false
		return target, tx.UpdateTicket(ctx, target)
	})
	if err != nil {
		return models.Ticket{}, err
	}
	if fresh {
		telemetry.LoggerFromContext(ctx).Info().Int64("ticket_id", ticket.TicketID).Msg("ticket done")
	}
	return ticket, nil
}

// Reset empties the store and restarts ticket ids at 1.
func (e *Engine) Reset(ctx context.Context) (err error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.Reset")
	defer func() { endSpan(span, err) }()

	e.callMu.Lock()
	defer e.callMu.Unlock()
	if err := e.store.Reset(ctx); err != nil {
		return err
	}
	telemetry.LoggerFromContext(ctx).Warn().Msg("queue reset")
	return nil
}

func (e *Engine) Queue(ctx context.Context) (tickets []models.Ticket, err error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.Queue")
	defer func() { endSpan(span, err) }()

	err = e.store.View(ctx, func(tx store.Tx) error {
		waiting, err := tx.ListWaiting(ctx)
		if err != nil {
			return err
		}
		tickets = queue.Sort(waiting)
		return nil
	})
	return tickets, err
}

// History lists recently called tickets, newest first. Room 0 covers every room.
func (e *Engine) History(ctx context.Context, room, limit int) (tickets []models.Ticket, err error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.History", trace.WithAttributes(attribute.Int("room", room)))
	defer func() { endSpan(span, err) }()

	if limit <= 0 {
		limit = e.historyLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	if room < 0 {
		room = 0
	}
	err = e.store.View(ctx, func(tx store.Tx) error {
		tickets, err = tx.ListCalled(ctx, room, limit)
		return err
	})
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	return tickets, err
}

func (e *Engine) Ticket(ctx context.Context, ticketID int64) (ticket models.Ticket, err error) {
	ctx, span := e.tracer.Start(ctx, "dispatch.Ticket", trace.WithAttributes(attribute.Int64("ticket_id", ticketID)))
	defer func() { endSpan(span, err) }()

	if err := validateTicketID(ticketID); err != nil {
		return models.Ticket{}, err
	}
	err = e.store.View(ctx, func(tx store.Tx) error {
		ticket, err = tx.GetTicket(ctx, ticketID)
		return err
	})
	return ticket, err
}

type mutation func(tx store.Tx, now time.Time) (models.Ticket, error)

// mutate runs fn in one update transaction and records the outcome under the
// request id when one is given. fresh is false when the outcome was replayed.
func (e *Engine) mutate(ctx context.Context, action string, input ActionInput, fn mutation) (ticket models.Ticket, fresh bool, err error) {
	now := e.clock()
	var outcome error
	err = e.store.Update(ctx, func(tx store.Tx) error {
		if input.RequestID != "" {
			prior, found, err := tx.FindActionRequest(ctx, input.RequestID)
			if err != nil {
				return err
			}
			if found {
				if prior.Action != action {
					return fmt.Errorf("%w: %s was used for %s", store.ErrRequestConflict, input.RequestID, prior.Action)
				}
				if prior.TicketID == nil {
					outcome = emptyOutcome(action)
					return nil
				}
				ticket, err = tx.GetTicket(ctx, *prior.TicketID)
				return err
			}
		}

		result, err := fn(tx, now)
		switch {
		case err == nil:
			ticket = result
			fresh = true
		case errors.Is(err, store.ErrQueueEmpty), errors.Is(err, store.ErrNothingToRecall):
			outcome = err
		default:
			return err
		}

		if input.RequestID == "" {
			return nil
		}
		req := store.ActionRequest{RequestID: input.RequestID, Action: action, CreatedAt: now}
		if input.Room > 0 {
			room := input.Room
			req.Room = &room
		}
		if outcome == nil {
			id := ticket.TicketID
			req.TicketID = &id
		}
		return tx.InsertActionRequest(ctx, req)
	})
	if err != nil {
		return models.Ticket{}, false, err
	}
	if outcome != nil {
		return models.Ticket{}, false, outcome
	}
	return ticket, fresh, nil
}

func emptyOutcome(action string) error {
	switch action {
	case store.ActionNext:
		return store.ErrQueueEmpty
	case store.ActionRecall:
		return store.ErrNothingToRecall
	default:
		return store.ErrTicketNotFound
	}
}

func (e *Engine) publish(ctx context.Context, ticket models.Ticket) {
	event := models.NewCallEvent(ticket)
	if err := e.publisher.Publish(ctx, event); err != nil {
		telemetry.LoggerFromContext(ctx).Warn().Err(err).Int64("ticket_id", event.TicketID).Int("room", event.Room).Msg("publish call event")
	}
}

func validateRoom(room int) error {
	if room <= 0 {
		return fmt.Errorf("%w: room must be a positive integer", store.ErrInvalidInput)
	}
	return nil
}

func validateTicketID(ticketID int64) error {
	if ticketID <= 0 {
		return fmt.Errorf("%w: ticket_id is required", store.ErrInvalidInput)
	}
	return nil
}

func validateRequestID(requestID string) error {
	if requestID == "" {
		return nil
	}
	if _, err := uuid.Parse(requestID); err != nil {
		return fmt.Errorf("%w: request_id must be a UUID", store.ErrInvalidInput)
	}
	return nil
}

func invalidState(ticket models.Ticket, action string) error {
	return fmt.Errorf("%w: cannot %s ticket %d in status %s", store.ErrInvalidState, action, ticket.TicketID, ticket.Status)
}

// endSpan records unexpected failures. Empty queues and the like are normal answers.
func endSpan(span trace.Span, err error) {
	if err != nil && !expected(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func expected(err error) bool {
	return errors.Is(err, store.ErrQueueEmpty) ||
		errors.Is(err, store.ErrNothingToRecall) ||
		errors.Is(err, store.ErrTicketNotFound) ||
		errors.Is(err, store.ErrInvalidInput) ||
		errors.Is(err, store.ErrInvalidState)
}
