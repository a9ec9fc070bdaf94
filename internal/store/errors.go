package store

import "errors"

var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrTicketNotFound  = errors.New("ticket not found")
	ErrQueueEmpty      = errors.New("no waiting ticket")
	ErrNothingToRecall = errors.New("no current ticket for room")
	ErrInvalidState    = errors.New("invalid ticket state")
	ErrRequestConflict = errors.New("request id already used for another action")
	ErrUnavailable     = errors.New("store unavailable")
)
