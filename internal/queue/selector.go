// Package queue decides the order in which waiting tickets are served.
package queue

import (
	"sort"
	"time"

	"github.com/boobacar/clinic-queue/internal/models"
)

// ArrivalStep is the smallest gap kept between two arrival times.
const ArrivalStep = time.Microsecond

// Less orders tickets by arrival time, then by ticket id.
func Less(a, b models.Ticket) bool {
	if !a.ArrivalTime.Equal(b.ArrivalTime) {
		return a.ArrivalTime.Before(b.ArrivalTime)
	}
	return a.TicketID < b.TicketID
}

// Head returns the waiting ticket that must be served next. Tickets in any
// other status are ignored and the input order is not trusted.
func Head(tickets []models.Ticket) (models.Ticket, bool) {
	var head models.Ticket
	found := false
	for _, ticket := range tickets {
		if ticket.Status != models.StatusWaiting {
			continue
		}
		if !found || Less(ticket, head) {
			head = ticket
			found = true
		}
	}
	return head, found
}

// Sort returns the waiting tickets in serving order without touching the input.
func Sort(tickets []models.Ticket) []models.Ticket {
	out := make([]models.Ticket, 0, len(tickets))
	for _, ticket := range tickets {
		if ticket.Status == models.StatusWaiting {
			out = append(out, ticket)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return Less(out[i], out[j])
	})
	return out
}

// NextArrival returns the arrival time for a ticket entering the back of the
// queue at now. The result is strictly after every waiting arrival so the
// ticket lands behind all of them even when the clock has not moved.
func NextArrival(waiting []models.Ticket, now time.Time) time.Time {
	now = now.UTC().Truncate(ArrivalStep)
	for _, ticket := range waiting {
		if ticket.Status != models.StatusWaiting {
			continue
		}
		if !now.After(ticket.ArrivalTime) {
			now = ticket.ArrivalTime.UTC().Truncate(ArrivalStep).Add(ArrivalStep)
		}
	}
	return now
}
