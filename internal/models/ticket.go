package models

import "time"

type Ticket struct {
	TicketID    int64      `json:"ticket_id"`
	LastName    string     `json:"last_name"`
	FirstName   string     `json:"first_name"`
	Reason      *string    `json:"reason"`
	ArrivalTime time.Time  `json:"arrival_time"`
	Status      string     `json:"status"`
	CalledRoom  *int       `json:"called_room"`
	CalledTime  *time.Time `json:"called_time"`
	LastCalled  bool       `json:"last_called"`
}

const (
	StatusWaiting = "waiting"
	StatusCalled  = "called"
	StatusSkipped = "skipped"
	StatusDone    = "done"
)

// RoomState is the display triple of one room. Any of the tickets may be nil.
type RoomState struct {
	Room     int     `json:"room"`
	Previous *Ticket `json:"previous"`
	Current  *Ticket `json:"current"`
	Next     *Ticket `json:"next"`
}
