package notify

import (
	"context"
	"expvar"
	"sync"
	"time"

	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/rs/zerolog/log"
)

var droppedTotal = expvar.NewInt("notify_dropped_total")

const defaultBuffer = 64

// Async hands events to a single worker goroutine so callers never wait on
// delivery. Events reach the wrapped publisher in the order they were enqueued.
type Async struct {
	next    Publisher
	timeout time.Duration
	events  chan models.CallEvent
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsync(next Publisher, buffer int, timeout time.Duration) *Async {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	a := &Async{
		next:    next,
		timeout: timeout,
		events:  make(chan models.CallEvent, buffer),
		done:    make(chan struct{}),
	}
	go a.run()
	return a
}

// Publish enqueues the event. It drops the event when the buffer is full or
// the dispatcher is closed; it never blocks.
func (a *Async) Publish(_ context.Context, event models.CallEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		droppedTotal.Add(1)
		return nil
	}
	select {
	case a.events <- event:
	default:
		droppedTotal.Add(1)
		log.Warn().Int64("ticket_id", event.TicketID).Int("room", event.Room).Msg("notification buffer full, event dropped")
	}
	return nil
}

func (a *Async) run() {
	defer close(a.done)
	for event := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.next.Publish(ctx, event); err != nil {
			log.Error().Err(err).Int64("ticket_id", event.TicketID).Int("room", event.Room).Msg("deliver call event")
		}
		cancel()
	}
}

// Close stops accepting events and waits until queued ones are delivered or ctx ends.
func (a *Async) Close(ctx context.Context) error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.events)
	}
	a.mu.Unlock()

	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
