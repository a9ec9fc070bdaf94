package gormstore

import (
	"time"

	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/boobacar/clinic-queue/internal/store"
)

type ticketRow struct {
	TicketID    int64      `gorm:"column:ticket_id;primaryKey;autoIncrement"`
	LastName    string     `gorm:"column:last_name"`
	FirstName   string     `gorm:"column:first_name"`
	Reason      *string    `gorm:"column:reason"`
	ArrivalTime time.Time  `gorm:"column:arrival_time"`
	Status      string     `gorm:"column:status"`
	CalledRoom  *int       `gorm:"column:called_room"`
	CalledTime  *time.Time `gorm:"column:called_time"`
	LastCalled  bool       `gorm:"column:last_called"`
}

func (ticketRow) TableName() string { return "tickets" }

type actionRow struct {
	RequestID string    `gorm:"column:request_id;primaryKey"`
	Action    string    `gorm:"column:action"`
	Room      *int      `gorm:"column:room"`
	TicketID  *int64    `gorm:"column:ticket_id"`
	CreatedAt time.Time `gorm:"column:created_at"`
}

func (actionRow) TableName() string { return "ticket_action_requests" }

func fromTicket(ticket models.Ticket) ticketRow {
	return ticketRow{
		TicketID:    ticket.TicketID,
		LastName:    ticket.LastName,
		FirstName:   ticket.FirstName,
		Reason:      ticket.Reason,
		ArrivalTime: ticket.ArrivalTime.UTC(),
		Status:      ticket.Status,
		CalledRoom:  ticket.CalledRoom,
		CalledTime:  utcPtr(ticket.CalledTime),
		LastCalled:  ticket.LastCalled,
	}
}

func (r ticketRow) toTicket() models.Ticket {
	return models.Ticket{
		TicketID:    r.TicketID,
		LastName:    r.LastName,
		FirstName:   r.FirstName,
		Reason:      r.Reason,
		ArrivalTime: r.ArrivalTime.UTC(),
		Status:      r.Status,
		CalledRoom:  r.CalledRoom,
		CalledTime:  utcPtr(r.CalledTime),
		LastCalled:  r.LastCalled,
	}
}

func (r actionRow) toActionRequest() store.ActionRequest {
	return store.ActionRequest{
		RequestID: r.RequestID,
		Action:    r.Action,
		Room:      r.Room,
		TicketID:  r.TicketID,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

func utcPtr(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	utc := value.UTC()
	return &utc
}
