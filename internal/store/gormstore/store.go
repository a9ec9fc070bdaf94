// Package gormstore keeps tickets in SQLite (single process) or MySQL through gorm.
package gormstore

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/boobacar/clinic-queue/internal/store"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

type Options struct {
	Driver string
	// DSN is a file path for sqlite and a go-sql-driver DSN for mysql
	// (parseTime=true is required).
	DSN string
}

type Store struct {
	db      *gorm.DB
	dialect string
	mu      sync.RWMutex
}

var _ store.TicketStore = (*Store)(nil)

func Open(opts Options) (*Store, error) {
	var dialector gorm.Dialector
	switch opts.Driver {
	case "", DriverSQLite:
		dialector = sqlite.Open(sqliteDSN(opts.DSN))
	case DriverMySQL:
		dialector = mysql.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialector.Name(), err)
	}
	return New(db)
}

// New wraps an already opened gorm handle.
func New(db *gorm.DB) (*Store, error) {
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	dialect := db.Dialector.Name()
	if dialect == DriverSQLite {
		sqlDB.SetMaxOpenConns(1)
	}
	return &Store{db: db, dialect: dialect}, nil
}

func sqliteDSN(path string) string {
	if path == "" {
		path = "queue.db"
	}
	if strings.HasPrefix(path, "file:") || path == ":memory:" {
		return path
	}
	return "file:" + path + "?_busy_timeout=5000&_journal_mode=WAL"
}

func (s *Store) Migrate(ctx context.Context) error {
	statements := sqliteSchema
	if s.dialect == DriverMySQL {
		statements = mysqlSchema
	}
	for _, stmt := range statements {
		if err := s.db.WithContext(ctx).Exec(stmt).Error; err != nil {
			return fmt.Errorf("migrate: %w", wrapErr(err))
		}
	}
	return nil
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db, forUpdate: s.dialect == DriverMySQL})
	})
}

func (s *Store) View(ctx context.Context, fn func(tx store.Tx) error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(&gormTx{db: db})
	})
}

func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dialect == DriverMySQL {
		for _, table := range []string{"tickets", "ticket_action_requests"} {
			if err := s.db.WithContext(ctx).Exec("TRUNCATE TABLE " + table).Error; err != nil {
				return wrapErr(err)
			}
		}
		return nil
	}

	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		statements := []string{
			"DELETE FROM tickets",
			"DELETE FROM ticket_action_requests",
			"DELETE FROM sqlite_sequence WHERE name = 'tickets'",
		}
		for _, stmt := range statements {
			if err := db.Exec(stmt).Error; err != nil {
				return wrapErr(err)
			}
		}
		return nil
	})
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return wrapErr(err)
	}
	return nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type gormTx struct {
	db        *gorm.DB
	forUpdate bool
}

func (t *gormTx) query(ctx context.Context) *gorm.DB {
	db := t.db.WithContext(ctx)
	if t.forUpdate {
		db = db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return db
}

func (t *gormTx) InsertTicket(ctx context.Context, ticket models.Ticket) (models.Ticket, error) {
	row := fromTicket(ticket)
	row.TicketID = 0
	if err := t.db.WithContext(ctx).Create(&row).Error; err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	return row.toTicket(), nil
}

func (t *gormTx) GetTicket(ctx context.Context, ticketID int64) (models.Ticket, error) {
	var row ticketRow
	err := t.query(ctx).Where("ticket_id = ?", ticketID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	if err != nil {
		return models.Ticket{}, wrapErr(err)
	}
	return row.toTicket(), nil
}

func (t *gormTx) UpdateTicket(ctx context.Context, ticket models.Ticket) error {
	row := fromTicket(ticket)
	err := t.db.WithContext(ctx).Model(&ticketRow{}).
		Where("ticket_id = ?", row.TicketID).
		Updates(map[string]interface{}{
			"arrival_time": row.ArrivalTime,
			"status":       row.Status,
			"called_room":  row.CalledRoom,
			"called_time":  row.CalledTime,
			"last_called":  row.LastCalled,
		}).Error
	return wrapErr(err)
}

func (t *gormTx) ListWaiting(ctx context.Context) ([]models.Ticket, error) {
	var rows []ticketRow
	err := t.query(ctx).
		Where("status = ?", models.StatusWaiting).
		Order("arrival_time ASC").Order("ticket_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return toTickets(rows), nil
}

func (t *gormTx) ListCalled(ctx context.Context, room, limit int) ([]models.Ticket, error) {
	db := t.db.WithContext(ctx).Where("status = ?", models.StatusCalled)
	if room > 0 {
		db = db.Where("called_room = ?", room)
	}
	var rows []ticketRow
	err := db.Order("called_time DESC").Order("ticket_id DESC").Limit(limit).Find(&rows).Error
	if err != nil {
		return nil, wrapErr(err)
	}
	return toTickets(rows), nil
}

func (t *gormTx) CurrentForRoom(ctx context.Context, room int) (models.Ticket, bool, error) {
	var rows []ticketRow
	err := t.query(ctx).
		Where("called_room = ? AND status = ? AND last_called = ?", room, models.StatusCalled, true).
		Limit(1).Find(&rows).Error
	if err != nil {
		return models.Ticket{}, false, wrapErr(err)
	}
	if len(rows) == 0 {
		return models.Ticket{}, false, nil
	}
	return rows[0].toTicket(), true, nil
}

func (t *gormTx) PreviousForRoom(ctx context.Context, room int) (models.Ticket, bool, error) {
	var rows []ticketRow
	err := t.db.WithContext(ctx).
		Where("called_room = ? AND status = ? AND last_called = ?", room, models.StatusCalled, false).
		Order("called_time DESC").Order("ticket_id DESC").
		Limit(1).Find(&rows).Error
	if err != nil {
		return models.Ticket{}, false, wrapErr(err)
	}
	if len(rows) == 0 {
		return models.Ticket{}, false, nil
	}
	return rows[0].toTicket(), true, nil
}

func (t *gormTx) ClearLastCalled(ctx context.Context, room int) error {
	err := t.db.WithContext(ctx).Model(&ticketRow{}).
		Where("called_room = ? AND last_called = ?", room, true).
		Update("last_called", false).Error
	return wrapErr(err)
}

func (t *gormTx) FindActionRequest(ctx context.Context, requestID string) (store.ActionRequest, bool, error) {
	var rows []actionRow
	err := t.db.WithContext(ctx).Where("request_id = ?", requestID).Limit(1).Find(&rows).Error
	if err != nil {
		return store.ActionRequest{}, false, wrapErr(err)
	}
	if len(rows) == 0 {
		return store.ActionRequest{}, false, nil
	}
	return rows[0].toActionRequest(), true, nil
}

func (t *gormTx) InsertActionRequest(ctx context.Context, req store.ActionRequest) error {
	row := actionRow{
		RequestID: req.RequestID,
		Action:    req.Action,
		Room:      req.Room,
		TicketID:  req.TicketID,
		CreatedAt: req.CreatedAt.UTC(),
	}
	return wrapErr(t.db.WithContext(ctx).Create(&row).Error)
}

func toTickets(rows []ticketRow) []models.Ticket {
	tickets := make([]models.Ticket, 0, len(rows))
	for _, row := range rows {
		tickets = append(tickets, row.toTicket())
	}
	return tickets
}

func wrapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	msg := err.Error()
	if strings.Contains(msg, "database is locked") || strings.Contains(msg, "connection refused") {
		return fmt.Errorf("%w: %w", store.ErrUnavailable, err)
	}
	return err
}
