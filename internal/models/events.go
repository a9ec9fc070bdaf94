package models

import "time"

const EventCall = "call"

type CallEvent struct {
	TicketID   int64     `json:"ticket_id"`
	FirstName  string    `json:"first_name"`
	LastName   string    `json:"last_name"`
	Room       int       `json:"room"`
	CalledTime time.Time `json:"called_time"`
}

// NewCallEvent builds the push payload for a ticket that was just called into a room.
func NewCallEvent(ticket Ticket) CallEvent {
	event := CallEvent{
		TicketID:  ticket.TicketID,
		FirstName: ticket.FirstName,
		LastName:  ticket.LastName,
	}
	if ticket.CalledRoom != nil {
		event.Room = *ticket.CalledRoom
	}
	if ticket.CalledTime != nil {
		event.CalledTime = *ticket.CalledTime
	}
	return event
}

type EventEnvelope struct {
	Type    string    `json:"type"`
	Payload CallEvent `json:"payload"`
}
