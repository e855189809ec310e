package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"resortwala/internal/events"
)

func startHub(t *testing.T) (*Hub, *events.EventBus, *httptest.Server) {
	t.Helper()
	logger := zerolog.Nop()
	hub := NewHub(&logger)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	bus := events.NewEventBus()
	hub.Attach(bus)

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)
	return hub, bus, srv
}

func dial(t *testing.T, srv *httptest.Server, query string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/calendar" + query
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var msg Message
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_ForwardsEvents(t *testing.T) {
	hub, bus, srv := startHub(t)
	all := dial(t, srv, "")
	only8 := dial(t, srv, "?property_id=8")
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 10*time.Millisecond)

	require.NoError(t, bus.PublishJSON(events.EventBookingCreated, events.BookingEventPayload{BookingID: 1, PropertyID: 7, Status: "pending"}))
	require.NoError(t, bus.PublishJSON(events.EventCalendarFrozen, events.CalendarEventPayload{PropertyID: 8, StartDate: "2024-06-01", EndDate: "2024-06-03"}))

	first := readMessage(t, all)
	assert.Equal(t, events.EventBookingCreated, first.Type)
	assert.Equal(t, int64(7), first.PropertyID)
	var payload events.BookingEventPayload
	require.NoError(t, json.Unmarshal(first.Payload, &payload))
	assert.Equal(t, int64(1), payload.BookingID)

	second := readMessage(t, all)
	assert.Equal(t, events.EventCalendarFrozen, second.Type)

	// the filtered client only sees property 8
	msg := readMessage(t, only8)
	assert.Equal(t, events.EventCalendarFrozen, msg.Type)
	assert.Equal(t, int64(8), msg.PropertyID)
}

func TestHub_BadPropertyFilter(t *testing.T) {
	_, _, srv := startHub(t)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/calendar?property_id=abc"
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 400, resp.StatusCode)
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	hub, _, srv := startHub(t)
	conn := dial(t, srv, "")
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, 2*time.Second, 10*time.Millisecond)
}
