// Package announce speaks call events out loud in the waiting room.
package announce

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/rs/zerolog/log"
)

const DefaultTemplate = "Le patient %d est attendu en salle %s."

// DefaultWords holds the spoken form of rooms whose number reads badly in
// French as a bare digit.
var DefaultWords = map[int]string{
	1: "une",
	2: "deux",
}

type Player interface {
	PlayFile(ctx context.Context, path string) error
	Speak(ctx context.Context, text string) error
}

type Options struct {
	// Template receives the ticket id and the spoken room word.
	Template string
	Words    map[int]string
	Chime    string
	Pause    time.Duration
	Buffer   int
	Timeout  time.Duration
}

type Announcer struct {
	player   Player
	template string
	words    map[int]string
	chime    string
	pause    time.Duration
	timeout  time.Duration

	events chan models.CallEvent
	done   chan struct{}
	mu     sync.RWMutex
	closed bool
}

func New(player Player, opts Options) *Announcer {
	words := make(map[int]string, len(DefaultWords)+len(opts.Words))
	for room, word := range DefaultWords {
		words[room] = word
	}
	for room, word := range opts.Words {
		words[room] = word
	}
	if opts.Template == "" {
		opts.Template = DefaultTemplate
	}
	if opts.Pause <= 0 {
		opts.Pause = 400 * time.Millisecond
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	a := &Announcer{
		player:   player,
		template: opts.Template,
		words:    words,
		chime:    opts.Chime,
		pause:    opts.Pause,
		timeout:  opts.Timeout,
		events:   make(chan models.CallEvent, opts.Buffer),
		done:     make(chan struct{}),
	}
	go a.run()
	return a
}

// RoomWord returns how room is spoken.
func (a *Announcer) RoomWord(room int) string {
	if word, ok := a.words[room]; ok && word != "" {
		return word
	}
	return strconv.Itoa(room)
}

func (a *Announcer) Message(event models.CallEvent) string {
	return fmt.Sprintf(a.template, event.TicketID, a.RoomWord(event.Room))
}

// Publish queues the announcement. Announcements play one after another;
// when the queue is full the event is dropped.
func (a *Announcer) Publish(_ context.Context, event models.CallEvent) error {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return errors.New("announcer closed")
	}
	select {
	case a.events <- event:
		return nil
	default:
		return fmt.Errorf("announcement queue full, ticket %d not announced", event.TicketID)
	}
}

func (a *Announcer) run() {
	defer close(a.done)
	for event := range a.events {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		a.announce(ctx, event)
		cancel()
	}
}

func (a *Announcer) announce(ctx context.Context, event models.CallEvent) {
	if a.chime != "" {
		if err := a.player.PlayFile(ctx, a.chime); err != nil {
			log.Warn().Err(err).Str("chime", a.chime).Msg("play chime")
		}
		select {
		case <-time.After(a.pause):
		case <-ctx.Done():
			return
		}
	}
	message := a.Message(event)
	if err := a.player.Speak(ctx, message); err != nil {
		log.Warn().Err(err).Int64("ticket_id", event.TicketID).Msg("speak announcement")
		return
	}
	log.Debug().Int64("ticket_id", event.TicketID).Int("room", event.Room).Msg("announced")
}

// Close stops accepting announcements and waits for queued ones to finish.
func (a *Announcer) Close(ctx context.Context) error {
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
