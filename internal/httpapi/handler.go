package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/boobacar/clinic-queue/internal/dispatch"
	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/boobacar/clinic-queue/internal/store"
	"github.com/boobacar/clinic-queue/internal/telemetry"
)

type Dispatcher interface {
	CheckIn(ctx context.Context, input dispatch.CheckInInput) (models.Ticket, error)
	Next(ctx context.Context, input dispatch.ActionInput) (models.Ticket, error)
	Recall(ctx context.Context, input dispatch.ActionInput) (models.Ticket, error)
	Skip(ctx context.Context, input dispatch.ActionInput) (models.Ticket, error)
	Requeue(ctx context.Context, input dispatch.ActionInput) (models.Ticket, error)
	MarkDone(ctx context.Context, input dispatch.ActionInput) (models.Ticket, error)
	Reset(ctx context.Context) error
	Queue(ctx context.Context) ([]models.Ticket, error)
	History(ctx context.Context, room, limit int) ([]models.Ticket, error)
	RoomState(ctx context.Context, room int) (models.RoomState, error)
	Ticket(ctx context.Context, ticketID int64) (models.Ticket, error)
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	dispatcher Dispatcher
	health     Pinger
	hostname   func() (string, error)
	lanAddress func() string
}

type Options struct {
	Health Pinger
}

type checkInRequest struct {
	LastName  string `json:"last_name"`
	FirstName string `json:"first_name"`
	Reason    string `json:"reason"`
}

type checkInResponse struct {
	TicketID int64         `json:"ticket_id"`
	Ticket   models.Ticket `json:"ticket"`
}

type infoResponse struct {
	Hostname string `json:"hostname"`
	IP       string `json:"ip"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

type actionFunc func(ctx context.Context, input dispatch.ActionInput) (models.Ticket, error)

func NewHandler(dispatcher Dispatcher, options Options) *Handler {
	return &Handler{
		dispatcher: dispatcher,
		health:     options.Health,
		hostname:   os.Hostname,
		lanAddress: lanIPv4,
	}
}

func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.handleHealth)
	mux.HandleFunc("/api/checkin", h.handleCheckIn)
	mux.HandleFunc("/api/queue", h.handleQueue)
	mux.HandleFunc("/api/next", h.roomAction(h.dispatcher.Next, true, false))
	mux.HandleFunc("/api/recall", h.roomAction(h.dispatcher.Recall, true, false))
	mux.HandleFunc("/api/skip", h.roomAction(h.dispatcher.Skip, false, false))
	mux.HandleFunc("/api/done", h.roomAction(h.dispatcher.MarkDone, false, true))
	mux.HandleFunc("/api/requeue", h.roomAction(h.dispatcher.Requeue, false, true))
	mux.HandleFunc("/api/history", h.handleHistory)
	mux.HandleFunc("/api/room-state", h.handleRoomState)
	mux.HandleFunc("/api/tickets/", h.handleTicket)
	mux.HandleFunc("/api/reset", h.handleReset)
	mux.HandleFunc("/api/info", h.handleInfo)
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			writeError(w, "", http.StatusServiceUnavailable, "unavailable", "store unavailable")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) handleCheckIn(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req checkInRequest
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&req); err != nil {
		writeError(w, "", http.StatusBadRequest, "invalid_json", "invalid JSON payload")
		return
	}

	ticket, err := h.dispatcher.CheckIn(r.Context(), dispatch.CheckInInput{
		LastName:  req.LastName,
		FirstName: req.FirstName,
		Reason:    req.Reason,
	})
	if err != nil {
		h.fail(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusCreated, checkInResponse{TicketID: ticket.TicketID, Ticket: ticket})
}

func (h *Handler) handleQueue(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	tickets, err := h.dispatcher.Queue(r.Context())
	if err != nil {
		h.fail(w, r, "", err)
		return
	}
	if tickets == nil {
		tickets = []models.Ticket{}
	}
	writeJSON(w, http.StatusOK, tickets)
}

// roomAction serves the POST actions that take room, ticket_id and request_id
// query parameters.
func (h *Handler) roomAction(action actionFunc, needsRoom, needsTicket bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		requestID := idempotencyKey(r)
		query := r.URL.Query()
		room, ok := parsePositive(query.Get("room"))
		if !ok || (needsRoom && room == 0) {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "room must be a positive integer")
			return
		}
		ticketID, ok := parsePositive(query.Get("ticket_id"))
		if !ok || (needsTicket && ticketID == 0) {
			writeError(w, requestID, http.StatusBadRequest, "invalid_request", "ticket_id must be a positive integer")
			return
		}

		ticket, err := action(r.Context(), dispatch.ActionInput{
			RequestID: requestID,
			TicketID:  int64(ticketID),
			Room:      room,
		})
		if err != nil {
			h.fail(w, r, requestID, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	}
}

func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	query := r.URL.Query()
	room, ok := parsePositive(query.Get("room"))
	if !ok {
		room = 0
	}
	limit, ok := parsePositive(query.Get("limit"))
	if !ok {
		limit = 0
	}
	tickets, err := h.dispatcher.History(r.Context(), room, limit)
	if err != nil {
		h.fail(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

func (h *Handler) handleRoomState(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	room, ok := parsePositive(r.URL.Query().Get("room"))
	if !ok || room == 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "room must be a positive integer")
		return
	}
	state, err := h.dispatcher.RoomState(r.Context(), room)
	if err != nil {
		h.fail(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (h *Handler) handleTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/tickets/"), "/")
	ticketID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || ticketID <= 0 {
		writeError(w, "", http.StatusBadRequest, "invalid_request", "ticket id must be a positive integer")
		return
	}
	ticket, err := h.dispatcher.Ticket(r.Context(), ticketID)
	if err != nil {
		h.fail(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if err := h.dispatcher.Reset(r.Context()); err != nil {
		h.fail(w, r, "", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) handleInfo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	hostname, err := h.hostname()
	if err != nil {
		hostname = ""
	}
	writeJSON(w, http.StatusOK, infoResponse{Hostname: hostname, IP: h.lanAddress()})
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, requestID string, err error) {
	status, code, msg := mapError(err)
	if status >= http.StatusInternalServerError {
		telemetry.LoggerFromContext(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	writeError(w, requestID, status, code, msg)
}

func mapError(err error) (int, string, string) {
	switch {
	case errors.Is(err, store.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_request", strings.TrimPrefix(err.Error(), store.ErrInvalidInput.Error()+": ")
	case errors.Is(err, store.ErrQueueEmpty):
		return http.StatusNotFound, "queue_empty", "no patient waiting"
	case errors.Is(err, store.ErrNothingToRecall):
		return http.StatusNotFound, "nothing_to_recall", "no patient currently called in this room"
	case errors.Is(err, store.ErrTicketNotFound):
		return http.StatusNotFound, "ticket_not_found", "ticket not found"
	case errors.Is(err, store.ErrInvalidState):
		return http.StatusConflict, "invalid_state", "ticket state does not allow this action"
	case errors.Is(err, store.ErrRequestConflict):
		return http.StatusConflict, "request_conflict", "request_id already used for another action"
	case errors.Is(err, store.ErrUnavailable):
		return http.StatusServiceUnavailable, "unavailable", "store temporarily unavailable"
	default:
		return http.StatusInternalServerError, "internal_error", "internal server error"
	}
}

// parsePositive reads an optional positive integer. An empty value is 0 and valid.
func parsePositive(raw string) (int, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return 0, false
	}
	return value, true
}

func idempotencyKey(r *http.Request) string {
	if key := strings.TrimSpace(r.URL.Query().Get("request_id")); key != "" {
		return key
	}
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}

func lanIPv4() string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return ""
	}
	for _, addr := range addrs {
		ipNet, ok := addr.(*net.IPNet)
		if !ok || ipNet.IP.IsLoopback() {
			continue
		}
		if ip := ipNet.IP.To4(); ip != nil {
			return ip.String()
		}
	}
	return ""
}

func writeError(w http.ResponseWriter, requestID string, status int, code, message string) {
	writeJSON(w, status, errorResponse{
		Error:     code,
		Message:   message,
		RequestID: requestID,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(payload)
}
