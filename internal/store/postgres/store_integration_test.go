package postgres

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/boobacar/clinic-queue/internal/queue"
	"github.com/boobacar/clinic-queue/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestClaimHeadConcurrency(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	now := time.Now().UTC()
	createTicket(t, ctx, st, "Diallo", now)
	createTicket(t, ctx, st, "Ndiaye", now.Add(time.Second))

	var wg sync.WaitGroup
	results := make(chan claimResult, 2)
	for _, room := range []int{1, 2} {
		wg.Add(1)
		go func(room int) {
			defer wg.Done()
			var claimed models.Ticket
			err := st.Update(ctx, func(tx store.Tx) error {
				waiting, err := tx.ListWaiting(ctx)
				if err != nil {
					return err
				}
				head, ok := queue.Head(waiting)
				if !ok {
					return store.ErrQueueEmpty
				}
				if err := tx.ClearLastCalled(ctx, room); err != nil {
					return err
				}
				calledAt := time.Now().UTC()
				head.Status = models.StatusCalled
				head.CalledRoom = &room
				head.CalledTime = &calledAt
				head.LastCalled = true
				claimed = head
				return tx.UpdateTicket(ctx, head)
			})
			results <- claimResult{ticketID: claimed.TicketID, err: err}
		}(room)
	}
	wg.Wait()
	close(results)

	var ids []int64
	for result := range results {
		if result.err != nil {
			t.Fatalf("claim error: %v", result.err)
		}
		ids = append(ids, result.ticketID)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 tickets, got %d", len(ids))
	}
	if ids[0] == ids[1] {
		t.Fatalf("expected distinct tickets, got %d twice", ids[0])
	}
}

func TestResetRestartsIdentity(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	now := time.Now().UTC()
	createTicket(t, ctx, st, "A", now)
	createTicket(t, ctx, st, "B", now)

	if err := st.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	ticket := createTicket(t, ctx, st, "C", now)
	if ticket.TicketID != 1 {
		t.Fatalf("expected id 1 after reset, got %d", ticket.TicketID)
	}
}

func TestPreviousAndCurrentForRoom(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	now := time.Now().UTC()
	first := createTicket(t, ctx, st, "A", now)
	second := createTicket(t, ctx, st, "B", now.Add(time.Second))
	room := 4

	for i, ticket := range []models.Ticket{first, second} {
		calledAt := now.Add(time.Duration(i+1) * time.Minute)
		ticket := ticket
		err := st.Update(ctx, func(tx store.Tx) error {
			if err := tx.ClearLastCalled(ctx, room); err != nil {
				return err
			}
			ticket.Status = models.StatusCalled
			ticket.CalledRoom = &room
			ticket.CalledTime = &calledAt
			ticket.LastCalled = true
			return tx.UpdateTicket(ctx, ticket)
		})
		if err != nil {
			t.Fatalf("call ticket %d: %v", ticket.TicketID, err)
		}
	}

	err := st.View(ctx, func(tx store.Tx) error {
		current, ok, err := tx.CurrentForRoom(ctx, room)
		if err != nil || !ok || current.TicketID != second.TicketID {
			t.Fatalf("current = %d ok=%v err=%v, want %d", current.TicketID, ok, err, second.TicketID)
		}
		previous, ok, err := tx.PreviousForRoom(ctx, room)
		if err != nil || !ok || previous.TicketID != first.TicketID {
			t.Fatalf("previous = %d ok=%v err=%v, want %d", previous.TicketID, ok, err, first.TicketID)
		}
		history, err := tx.ListCalled(ctx, 0, 3)
		if err != nil {
			return err
		}
		if len(history) != 2 || history[0].TicketID != second.TicketID {
			t.Fatalf("unexpected history order: %+v", history)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

type claimResult struct {
	ticketID int64
	err      error
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		t.Skip("TEST_DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execOnce(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse dsn: %v", err)
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	st := NewStore(pool)
	if err := st.Migrate(ctx); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	}
	return st, cleanup
}

func execOnce(ctx context.Context, dsn, statement string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, statement)
	return err
}

func createTicket(t *testing.T, ctx context.Context, st *Store, lastName string, arrival time.Time) models.Ticket {
	t.Helper()
	var created models.Ticket
	err := st.Update(ctx, func(tx store.Tx) error {
		var err error
		created, err = tx.InsertTicket(ctx, models.Ticket{
			LastName:    lastName,
			FirstName:   "Test",
			ArrivalTime: arrival,
			Status:      models.StatusWaiting,
		})
		return err
	})
	if err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return created
}
