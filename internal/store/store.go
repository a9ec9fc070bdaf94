package store

import (
	"context"
	"time"

	"github.com/boobacar/clinic-queue/internal/models"
)

// ActionRequest records the outcome of an idempotent room action. TicketID is
// nil when the action found nothing to act on.
type ActionRequest struct {
	RequestID string
	Action    string
	Room      *int
	TicketID  *int64
	CreatedAt time.Time
}

// Tx is the set of primitives available inside one store transaction.
type Tx interface {
	InsertTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error)
	GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error)
	UpdateTicket(ctx context.Context, ticket models.Ticket) error
	// ListWaiting returns waiting tickets ordered by arrival time then id.
	ListWaiting(ctx context.Context) ([]models.Ticket, error)
	// ListCalled returns called tickets, most recently called first. Room 0 means every room.
	ListCalled(ctx context.Context, room, limit int) ([]models.Ticket, error)
	CurrentForRoom(ctx context.Context, room int) (models.Ticket, bool, error)
	PreviousForRoom(ctx context.Context, room int) (models.Ticket, bool, error)
	ClearLastCalled(ctx context.Context, room int) error
	FindActionRequest(ctx context.Context, requestID string) (ActionRequest, bool, error)
	InsertActionRequest(ctx context.Context, req ActionRequest) error
}

// TicketStore is the durable ticket table. Update transactions are serialized
// with each other; View transactions see a consistent snapshot.
type TicketStore interface {
	Update(ctx context.Context, fn func(tx Tx) error) error
	View(ctx context.Context, fn func(tx Tx) error) error
	Reset(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
