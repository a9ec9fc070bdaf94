package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu     sync.Mutex
	events []models.CallEvent
}

func (r *recorder) Publish(_ context.Context, event models.CallEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) ids() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]int64, 0, len(r.events))
	for _, event := range r.events {
		ids = append(ids, event.TicketID)
	}
	return ids
}

func TestMultiDeliversToAllDespiteFailure(t *testing.T) {
	first := &recorder{}
	last := &recorder{}
	failing := PublisherFunc(func(context.Context, models.CallEvent) error {
		return errors.New("display offline")
	})

	err := Multi(first, failing, nil, last).Publish(context.Background(), models.CallEvent{TicketID: 1, Room: 2})
	require.Error(t, err)
	assert.Equal(t, []int64{1}, first.ids())
	assert.Equal(t, []int64{1}, last.ids())
}

func TestAsyncPreservesOrder(t *testing.T) {
	rec := &recorder{}
	async := NewAsync(rec, 16, time.Second)

	for i := int64(1); i <= 10; i++ {
		require.NoError(t, async.Publish(context.Background(), models.CallEvent{TicketID: i, Room: 1}))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, async.Close(ctx))

	assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, rec.ids())
}

func TestAsyncDoesNotBlockWhenFull(t *testing.T) {
	release := make(chan struct{})
	blocked := PublisherFunc(func(ctx context.Context, _ models.CallEvent) error {
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil
	})
	async := NewAsync(blocked, 1, time.Second)

	before := droppedTotal.Value()
	finished := make(chan struct{})
	go func() {
		for i := int64(0); i < 20; i++ {
			_ = async.Publish(context.Background(), models.CallEvent{TicketID: i})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow listener")
	}
	assert.Greater(t, droppedTotal.Value(), before)

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, async.Close(ctx))
}

func TestAsyncPublishAfterCloseIsDropped(t *testing.T) {
	rec := &recorder{}
	async := NewAsync(rec, 4, time.Second)
	require.NoError(t, async.Close(context.Background()))

	assert.NoError(t, async.Publish(context.Background(), models.CallEvent{TicketID: 1}))
	assert.Empty(t, rec.ids())
}
