package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRequest struct {
	method string
	path   string
	query  string
	key    string
	body   map[string]string
}

type fakeServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	respond  func(w http.ResponseWriter, r *http.Request, attempt int)
}

func (s *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := recordedRequest{
		method: r.Method,
		path:   r.URL.Path,
		query:  r.URL.RawQuery,
		key:    r.Header.Get("Idempotency-Key"),
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&rec.body)
	}
	s.mu.Lock()
	s.requests = append(s.requests, rec)
	attempt := len(s.requests)
	s.mu.Unlock()

	if s.respond != nil {
		s.respond(w, r, attempt)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"ticket_id":1}`))
}

func runAgainst(t *testing.T, fake *fakeServer, args ...string) (string, error) {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)

	var out bytes.Buffer
	full := append([]string{"--server", server.URL}, args...)
	err := run(context.Background(), full, &out)
	return out.String(), err
}

func TestCheckInSendsJSON(t *testing.T) {
	fake := &fakeServer{}
	out, err := runAgainst(t, fake, "checkin", "--last", "Diallo", "--first", "Aminata", "--reason", "fièvre")
	require.NoError(t, err)
	require.Len(t, fake.requests, 1)

	req := fake.requests[0]
	assert.Equal(t, http.MethodPost, req.method)
	assert.Equal(t, "/api/checkin", req.path)
	assert.Equal(t, map[string]string{"last_name": "Diallo", "first_name": "Aminata", "reason": "fièvre"}, req.body)
	assert.Contains(t, out, `"ticket_id": 1`)
}

func TestCheckInRequiresNames(t *testing.T) {
	fake := &fakeServer{}
	_, err := runAgainst(t, fake, "checkin", "--last", "Diallo")
	require.Error(t, err)
	assert.Empty(t, fake.requests)
}

func TestNextSendsRoomAndKey(t *testing.T) {
	fake := &fakeServer{}
	_, err := runAgainst(t, fake, "next", "--room", "2")
	require.NoError(t, err)
	require.Len(t, fake.requests, 1)

	req := fake.requests[0]
	assert.Equal(t, "/api/next", req.path)
	assert.Equal(t, "room=2", req.query)
	_, parseErr := uuid.Parse(req.key)
	assert.NoError(t, parseErr)
}

func TestRoomActionRetriesWithSameKey(t *testing.T) {
	fake := &fakeServer{
		respond: func(w http.ResponseWriter, r *http.Request, attempt int) {
			if attempt == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte(`{"error":"unavailable","message":"store temporarily unavailable"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ticket_id":3,"status":"done"}`))
		},
	}
	_, err := runAgainst(t, fake, "done", "--ticket", "3")
	require.NoError(t, err)
	require.Len(t, fake.requests, 2)
	assert.Equal(t, fake.requests[0].key, fake.requests[1].key)
	assert.Equal(t, "ticket_id=3", fake.requests[1].query)
}

func TestAPIErrorIsReported(t *testing.T) {
	fake := &fakeServer{
		respond: func(w http.ResponseWriter, r *http.Request, attempt int) {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"queue_empty","message":"no patient waiting"}`))
		},
	}
	_, err := runAgainst(t, fake, "next", "--room", "1")
	require.Error(t, err)
	assert.Equal(t, "queue_empty: no patient waiting", err.Error())
	assert.Len(t, fake.requests, 1)
}

func TestResetNeedsConfirmation(t *testing.T) {
	fake := &fakeServer{}
	_, err := runAgainst(t, fake, "reset")
	require.Error(t, err)
	assert.Empty(t, fake.requests)

	_, err = runAgainst(t, fake, "reset", "--yes")
	require.NoError(t, err)
	require.Len(t, fake.requests, 1)
	assert.Equal(t, "/api/reset", fake.requests[0].path)
}

func TestHistoryAndRoomQueries(t *testing.T) {
	fake := &fakeServer{}
	_, err := runAgainst(t, fake, "history", "--room", "1", "--limit", "5")
	require.NoError(t, err)
	_, err = runAgainst(t, fake, "room", "-r", "4")
	require.NoError(t, err)

	require.Len(t, fake.requests, 2)
	assert.Equal(t, "/api/history", fake.requests[0].path)
	assert.Equal(t, "limit=5&room=1", fake.requests[0].query)
	assert.Equal(t, http.MethodGet, fake.requests[0].method)
	assert.Equal(t, "room=4", fake.requests[1].query)
}

func TestUnknownCommand(t *testing.T) {
	_, err := runAgainst(t, &fakeServer{}, "call")
	require.Error(t, err)
}
