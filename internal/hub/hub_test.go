package hub

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/boobacar/clinic-queue/internal/models"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSubscribe(t *testing.T) {
	cases := []struct {
		name  string
		input string
		ok    bool
		room  int
	}{
		{name: "subscribe", input: `{"action":"subscribe","room":2}`, ok: true, room: 2},
		{name: "unsubscribe", input: `{"action":"unsubscribe"}`, ok: true},
		{name: "unknown action", input: `{"action":"noop"}`, ok: false},
		{name: "invalid json", input: `{`, ok: false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			msg, ok := ParseSubscribe([]byte(tt.input))
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.room, msg.Room)
		})
	}
}

func TestPublishRespectsRoomFilter(t *testing.T) {
	h := New()
	display := NewClient("display")
	roomOne := NewClient("room-1")
	roomTwo := NewClient("room-2")
	for _, c := range []*Client{display, roomOne, roomTwo} {
		h.Register(c)
	}
	require.True(t, h.Handle(roomOne, []byte(`{"action":"subscribe","room":1}`)))
	require.True(t, h.Handle(roomTwo, []byte(`{"action":"subscribe","room":2}`)))

	calledAt := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	require.NoError(t, h.Publish(context.Background(), models.CallEvent{TicketID: 7, FirstName: "Awa", LastName: "Sow", Room: 1, CalledTime: calledAt}))

	require.Len(t, display.Send, 1)
	require.Len(t, roomOne.Send, 1)
	assert.Len(t, roomTwo.Send, 0)

	var envelope models.EventEnvelope
	require.NoError(t, json.Unmarshal(<-display.Send, &envelope))
	assert.Equal(t, "call", envelope.Type)
	assert.Equal(t, int64(7), envelope.Payload.TicketID)
	assert.Equal(t, 1, envelope.Payload.Room)
	assert.True(t, calledAt.Equal(envelope.Payload.CalledTime))
}

func TestBroadcastDropsWhenClientIsFull(t *testing.T) {
	h := New()
	slow := NewClient("slow")
	h.Register(slow)

	for i := 0; i < sendBuffer+5; i++ {
		h.Broadcast([]byte("x"), 1)
	}
	assert.Len(t, slow.Send, sendBuffer)
}

func TestUnregisterClosesSendOnce(t *testing.T) {
	h := New()
	c := NewClient("c")
	h.Register(c)
	h.Unregister(c)
	h.Unregister(c)

	_, open := <-c.Send
	assert.False(t, open)
	assert.Equal(t, 0, h.Len())
}

func TestWebSocketReceivesCall(t *testing.T) {
	h := New()
	server := httptest.NewServer(h.WebSocketHandler())
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "?room=3"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return h.Len() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, h.Publish(context.Background(), models.CallEvent{TicketID: 1, Room: 4}))
	require.NoError(t, h.Publish(context.Background(), models.CallEvent{TicketID: 2, Room: 3}))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var envelope models.EventEnvelope
	require.NoError(t, json.Unmarshal(data, &envelope))
	assert.Equal(t, int64(2), envelope.Payload.TicketID)
}
