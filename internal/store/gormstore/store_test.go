package gormstore

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/boobacar/clinic-queue/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Options{Driver: DriverSQLite, DSN: filepath.Join(t.TempDir(), "queue.db")})
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func insert(t *testing.T, s *Store, last string, arrival time.Time) models.Ticket {
	t.Helper()
	var created models.Ticket
	err := s.Update(context.Background(), func(tx store.Tx) error {
		var err error
		created, err = tx.InsertTicket(context.Background(), models.Ticket{
			LastName:    last,
			FirstName:   "Test",
			ArrivalTime: arrival,
			Status:      models.StatusWaiting,
		})
		return err
	})
	require.NoError(t, err)
	return created
}

func TestInsertAssignsIncreasingIDs(t *testing.T) {
	s := setupTestStore(t)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)

	first := insert(t, s, "Diallo", now)
	second := insert(t, s, "Ndiaye", now.Add(time.Second))

	assert.Equal(t, int64(1), first.TicketID)
	assert.Equal(t, int64(2), second.TicketID)
}

func TestGetTicketRoundTripsNullableColumns(t *testing.T) {
	s := setupTestStore(t)
	now := time.Date(2024, 5, 1, 9, 0, 0, 123000, time.UTC)
	created := insert(t, s, "Diallo", now)

	room := 2
	calledAt := now.Add(time.Minute)
	err := s.Update(context.Background(), func(tx store.Tx) error {
		ticket, err := tx.GetTicket(context.Background(), created.TicketID)
		if err != nil {
			return err
		}
		ticket.Status = models.StatusCalled
		ticket.CalledRoom = &room
		ticket.CalledTime = &calledAt
		ticket.LastCalled = true
		return tx.UpdateTicket(context.Background(), ticket)
	})
	require.NoError(t, err)

	var got models.Ticket
	err = s.View(context.Background(), func(tx store.Tx) error {
		var err error
		got, err = tx.GetTicket(context.Background(), created.TicketID)
		return err
	})
	require.NoError(t, err)
	assert.Nil(t, got.Reason)
	require.NotNil(t, got.CalledRoom)
	assert.Equal(t, 2, *got.CalledRoom)
	require.NotNil(t, got.CalledTime)
	assert.True(t, calledAt.Equal(*got.CalledTime))
	assert.True(t, now.Equal(got.ArrivalTime))
	assert.True(t, got.LastCalled)
}

func TestGetTicketNotFound(t *testing.T) {
	s := setupTestStore(t)
	err := s.View(context.Background(), func(tx store.Tx) error {
		_, err := tx.GetTicket(context.Background(), 42)
		return err
	})
	assert.True(t, errors.Is(err, store.ErrTicketNotFound))
}

func TestFailedUpdateRollsBack(t *testing.T) {
	s := setupTestStore(t)
	boom := errors.New("boom")
	err := s.Update(context.Background(), func(tx store.Tx) error {
		if _, err := tx.InsertTicket(context.Background(), models.Ticket{
			LastName: "Sow", FirstName: "Awa", ArrivalTime: time.Now().UTC(), Status: models.StatusWaiting,
		}); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = s.View(context.Background(), func(tx store.Tx) error {
		waiting, err := tx.ListWaiting(context.Background())
		assert.Empty(t, waiting)
		return err
	})
	require.NoError(t, err)
}

func TestCurrentRoomIsUnique(t *testing.T) {
	s := setupTestStore(t)
	now := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	a := insert(t, s, "A", now)
	b := insert(t, s, "B", now.Add(time.Second))

	room := 1
	call := func(ticket models.Ticket) error {
		return s.Update(context.Background(), func(tx store.Tx) error {
			ticket.Status = models.StatusCalled
			ticket.CalledRoom = &room
			ticket.CalledTime = &now
			ticket.LastCalled = true
			return tx.UpdateTicket(context.Background(), ticket)
		})
	}
	require.NoError(t, call(a))
	assert.Error(t, call(b), "two current tickets in one room must be rejected")
}

func TestResetRestartsIDs(t *testing.T) {
	s := setupTestStore(t)
	now := time.Now().UTC()
	insert(t, s, "A", now)
	insert(t, s, "B", now)

	require.NoError(t, s.Reset(context.Background()))

	created := insert(t, s, "C", now)
	assert.Equal(t, int64(1), created.TicketID)
}

func TestActionRequests(t *testing.T) {
	s := setupTestStore(t)
	room := 3
	ticketID := int64(7)
	err := s.Update(context.Background(), func(tx store.Tx) error {
		return tx.InsertActionRequest(context.Background(), store.ActionRequest{
			RequestID: "req-1",
			Action:    store.ActionNext,
			Room:      &room,
			TicketID:  &ticketID,
			CreatedAt: time.Now(),
		})
	})
	require.NoError(t, err)

	err = s.View(context.Background(), func(tx store.Tx) error {
		req, ok, err := tx.FindActionRequest(context.Background(), "req-1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, store.ActionNext, req.Action)
		require.NotNil(t, req.TicketID)
		assert.Equal(t, int64(7), *req.TicketID)

		_, ok, err = tx.FindActionRequest(context.Background(), "req-2")
		assert.False(t, ok)
		return err
	})
	require.NoError(t, err)
}
