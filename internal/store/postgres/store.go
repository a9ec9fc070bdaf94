package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"
	"time"

	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/boobacar/clinic-queue/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed migrations/*.sql
var migrations embed.FS

// dispatchLock serializes every mutating transaction across processes.
const dispatchLock = "clinic-queue.dispatch"

const ticketColumns = `ticket_id, last_name, first_name, reason, arrival_time, status, called_room, called_time, last_called`

type Store struct {
	pool *pgxpool.Pool
}

var _ store.TicketStore = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Migrate applies the embedded schema files in name order.
func (s *Store) Migrate(ctx context.Context) error {
	files, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, string(content)); err != nil {
			return fmt.Errorf("migrate %s: %w", name, wrapErr(err))
		}
	}
	return nil
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapErr(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, dispatchLock); err != nil {
		return wrapErr(err)
	}
	if err = fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly})
	if err != nil {
		return wrapErr(err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	return fn(&pgTx{tx: tx})
}

func (s *Store) Reset(ctx context.Context) error {
	return s.Update(ctx, func(tx store.Tx) error {
		pg := tx.(*pgTx)
		_, err := pg.tx.Exec(ctx, `TRUNCATE tickets, ticket_action_requests RESTART IDENTITY`)
		return wrapErr(err)
	})
}

func (s *Store) Ping(ctx context.Context) error {
	return wrapErr(s.pool.Ping(ctx))
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
	row := t.tx.QueryRow(ctx, `
		INSERT INTO tickets (last_name, first_name, reason, arrival_time, status, called_room, called_time, last_called)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+ticketColumns,
		ticket.LastName,
		ticket.FirstName,
		ticket.Reason,
		ticket.ArrivalTime.UTC(),
		ticket.Status,
		ticket.CalledRoom,
		ticket.CalledTime,
		ticket.LastCalled,
	)
	created, err := scanTicket(row)
	if err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	return created, nil
}

func (t *pgTx) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	row := t.tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	return ticket, nil
}

func (t *pgTx) UpdateTicket(ctx context.Context, ticket models.Ticket) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE tickets
		SET arrival_time = $2, status = $3, called_room = $4, called_time = $5, last_called = $6
		WHERE ticket_id = $1
	`, ticket.TicketID, ticket.ArrivalTime.UTC(), ticket.Status, ticket.CalledRoom, ticket.CalledTime, ticket.LastCalled)
	return wrapErr(err)
}

func (t *pgTx) ListWaiting(ctx context.Context) ([]models.Ticket, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE status = $1
		ORDER BY arrival_time ASC, ticket_id ASC
	`, models.StatusWaiting)
	if err != nil {
		return nil, wrapErr(err)
	}
	return collectTickets(rows)
}

func (t *pgTx) ListCalled(ctx context.Context, room, limit int) ([]models.Ticket, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE status = $1 AND ($2 = 0 OR called_room = $2)
		ORDER BY called_time DESC, ticket_id DESC
		LIMIT $3
	`, models.StatusCalled, room, limit)
	if err != nil {
		return nil, wrapErr(err)
	}
	return collectTickets(rows)
}

func (t *pgTx) CurrentForRoom(ctx context.Context, room int) (models.Ticket, bool, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE called_room = $1 AND status = $2 AND last_called
		LIMIT 1
	`, room, models.StatusCalled)
	return optionalTicket(scanTicket(row))
}

func (t *pgTx) PreviousForRoom(ctx context.Context, room int) (models.Ticket, bool, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE called_room = $1 AND status = $2 AND NOT last_called
		ORDER BY called_time DESC, ticket_id DESC
		LIMIT 1
	`, room, models.StatusCalled)
	return optionalTicket(scanTicket(row))
}

func (t *pgTx) ClearLastCalled(ctx context.Context, room int) error {
	_, err := t.tx.Exec(ctx, `UPDATE tickets SET last_called = FALSE WHERE called_room = $1 AND last_called`, room)
	return wrapErr(err)
}

func (t *pgTx) FindActionRequest(ctx context.Context, requestID string) (store.ActionRequest, bool, error) {
	var (
		req      store.ActionRequest
		room     sql.NullInt32
		ticketID sql.NullInt64
	)
	err := t.tx.QueryRow(ctx, `
		SELECT request_id, action, room, ticket_id, created_at
		FROM ticket_action_requests
		WHERE request_id = $1
	`, requestID).Scan(&req.RequestID, &req.Action, &room, &ticketID, &req.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.ActionRequest{}, false, nil
	}
	if err != nil {
		return store.ActionRequest{}, false, wrapErr(err)
	}
	if room.Valid {
		value := int(room.Int32)
		req.Room = &value
	}
	if ticketID.Valid {
		req.TicketID = &ticketID.Int64
	}
	req.CreatedAt = req.CreatedAt.UTC()
	return req, true, nil
}

func (t *pgTx) InsertActionRequest(ctx context.Context, req store.ActionRequest) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO ticket_action_requests (request_id, action, room, ticket_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (request_id) DO NOTHING
	`, req.RequestID, req.Action, req.Room, req.TicketID, req.CreatedAt.UTC())
	return wrapErr(err)
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var (
		ticket     models.Ticket
		reason     sql.NullString
		calledRoom sql.NullInt32
		calledTime sql.NullTime
	)
	err := row.Scan(
		&ticket.TicketID,
		&ticket.LastName,
		&ticket.FirstName,
		&reason,
		&ticket.ArrivalTime,
		&ticket.Status,
		&calledRoom,
		&calledTime,
		&ticket.LastCalled,
	)
	if err != nil {
		return models.Ticket{}, err
	}
	ticket.ArrivalTime = ticket.ArrivalTime.UTC()
	ticket.Reason = nullStringPtr(reason)
	ticket.CalledTime = nullTimePtr(calledTime)
	if calledRoom.Valid {
		room := int(calledRoom.Int32)
		ticket.CalledRoom = &room
	}
	return ticket, nil
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	defer rows.Close()
	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr(err)
	}
	return tickets, nil
}

func optionalTicket(ticket models.Ticket, err error) (models.Ticket, bool, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, false, nil
	}
	if err != nil {
		return models.Ticket{}, false, wrapErr(err)
	}
	return ticket, true, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	utc := value.Time.UTC()
	return &utc
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	return &value.String
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 08xxx connection exceptions, 57P0x shutdown, 53xxx insufficient resources
		if strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P") || strings.HasPrefix(pgErr.Code, "53") {
			return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
		}
		return err
	}
	if pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	var connectErr *pgconn.ConnectError
	if errors.As(err, &connectErr) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return err
}
