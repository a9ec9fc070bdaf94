package redisbus

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/boobacar/clinic-queue/internal/notify"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRelayDeliversPublishedEvents(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR is required for integration tests")
	}

	channel := "clinic-queue-test:" + uuid.NewString()
	bus := New(Options{Addr: addr, Channel: channel})
	t.Cleanup(func() { _ = bus.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, bus.Ping(ctx))

	received := make(chan models.CallEvent, 1)
	target := notify.PublisherFunc(func(_ context.Context, event models.CallEvent) error {
		received <- event
		return nil
	})

	ready := make(chan struct{})
	go func() { _ = bus.Relay(ctx, target, ready) }()
	<-ready

	calledAt := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)
	require.NoError(t, bus.Publish(ctx, models.CallEvent{TicketID: 12, FirstName: "Awa", LastName: "Sow", Room: 2, CalledTime: calledAt}))

	select {
	case event := <-received:
		require.Equal(t, int64(12), event.TicketID)
		require.Equal(t, 2, event.Room)
		require.True(t, calledAt.Equal(event.CalledTime))
	case <-ctx.Done():
		t.Fatal("event not relayed")
	}
}
