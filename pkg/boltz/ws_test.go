package boltz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

func TestBackoffDelay(t *testing.T) {
	want := []time.Duration{
		5 * time.Second,
		10 * time.Second,
		15 * time.Second,
		20 * time.Second,
		25 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for i, d := range want {
		require.Equal(t, d, backoffDelay(i+1), "failures=%d", i+1)
	}
}

func TestParseEvent(t *testing.T) {
	require.Equal(t, TransactionServerConfirmed, ParseEvent("transaction.server.confirmed"))
	require.Equal(t, InvoiceSettled, ParseEvent("invoice.settled"))
	require.Equal(t, StatusUnknown, ParseEvent("something.new"))
	require.Equal(t, StatusUnknown, ParseEvent(""))
}

func TestHandleMessageQueuesInOrder(t *testing.T) {
	ws := &Websocket{subscriptions: make(map[string]struct{})}
	out := make(chan SwapUpdate, 8)

	ws.handleMessage([]byte(`{
		"event": "update",
		"channel": "swap.update",
		"args": [
			{"id": "a", "status": "transaction.mempool"},
			{"id": "b", "status": "invoice.settled"},
			{"id": "a", "status": "transaction.confirmed"}
		]
	}`), out)

	require.Len(t, out, 3)
	require.Equal(t, SwapUpdate{ID: "a", Status: "transaction.mempool"}, <-out)
	require.Equal(t, SwapUpdate{ID: "b", Status: "invoice.settled"}, <-out)
	require.Equal(t, SwapUpdate{ID: "a", Status: "transaction.confirmed"}, <-out)
}

func TestHandleMessageIgnoresNoise(t *testing.T) {
	ws := &Websocket{}
	out := make(chan SwapUpdate, 8)

	ws.handleMessage([]byte(`not json`), out)
	ws.handleMessage([]byte(`{"event": "subscribe", "args": ["x"]}`), out)
	ws.handleMessage([]byte(`{"event": "pong"}`), out)
	ws.handleMessage([]byte(`{"event": "update", "args": {"bad": "shape"}}`), out)

	require.Empty(t, out)
}

// A handler stuck in a long claim exchange must not starve the read loop:
// pongs have to keep flowing or the health check tears down a perfectly
// healthy connection mid-claim.
func TestSlowHandlerKeepsHealthCheckAlive(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		conns.Add(1)

		payload, err := json.Marshal(map[string]any{
			"event": "update", "channel": "swap.update",
			"args": []SwapUpdate{
				{ID: "swap1", Status: "transaction.server.confirmed"},
				{ID: "swap1", Status: "invoice.settled"},
			},
		})
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(websocket.TextMessage, payload))

		// Keep reading so client pings are answered by the default ping
		// handler with pongs.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	handled := make(chan string, 4)
	api := &Api{URL: srv.URL}
	ws := api.NewWebsocket(func(u SwapUpdate) {
		if u.Status == "transaction.server.confirmed" {
			time.Sleep(1200 * time.Millisecond) // a claim doing its round trips
		}
		handled <- u.Status
	})
	ws.healthInterval = 200 * time.Millisecond
	ws.pongWait = 150 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ws.Start(ctx)
	defer ws.Stop()

	for _, want := range []string{"transaction.server.confirmed", "invoice.settled"} {
		select {
		case got := <-handled:
			require.Equal(t, want, got)
		case <-time.After(5 * time.Second):
			t.Fatalf("update %s never reached the handler", want)
		}
	}

	// Several health check rounds ran while the handler slept; the original
	// connection must have survived all of them.
	require.Equal(t, int32(1), conns.Load())
}

// Spins up a real websocket endpoint and checks the whole loop: connect,
// subscribe, receive updates, resubscribe tracked ids after a dropped
// connection.
func TestWebsocketSubscribeAndReconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}

	type subscribeReq struct {
		Op      string   `json:"op"`
		Channel string   `json:"channel"`
		Args    []string `json:"args"`
	}

	var mu sync.Mutex
	var sessions [][]string // subscribed ids per connection
	connected := make(chan *websocket.Conn, 4)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v2/ws", r.URL.Path)
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)

		for {
			var msg subscribeReq
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			if msg.Op != "subscribe" || msg.Channel != "swap.update" {
				continue
			}
			mu.Lock()
			sessions = append(sessions, msg.Args)
			mu.Unlock()
			connected <- conn
		}
	}))
	t.Cleanup(srv.Close)

	api := &Api{URL: srv.URL}
	require.Equal(t, strings.Replace(srv.URL, "http", "ws", 1)+"/v2/ws", api.NewWebsocket(nil).url)

	updates := make(chan SwapUpdate, 4)
	ws := api.NewWebsocket(func(u SwapUpdate) { updates <- u })
	require.NoError(t, ws.Subscribe([]string{"swap1"}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ws.Start(ctx)
	defer ws.Stop()

	var conn *websocket.Conn
	select {
	case conn = <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("client never subscribed")
	}

	push := func(c *websocket.Conn, args []SwapUpdate) {
		payload, err := json.Marshal(map[string]any{
			"event": "update", "channel": "swap.update", "args": args,
		})
		require.NoError(t, err)
		require.NoError(t, c.WriteMessage(websocket.TextMessage, payload))
	}

	push(conn, []SwapUpdate{{ID: "swap1", Status: "transaction.mempool"}})
	select {
	case u := <-updates:
		require.Equal(t, "swap1", u.ID)
		require.Equal(t, "transaction.mempool", u.Status)
	case <-time.After(5 * time.Second):
		t.Fatal("update never reached the handler")
	}

	// Another id tracked mid-connection.
	require.NoError(t, ws.Subscribe([]string{"swap2"}))
	select {
	case <-connected:
	case <-time.After(5 * time.Second):
		t.Fatal("mid-connection subscribe never arrived")
	}

	// Drop the connection; the client must reconnect and restore both ids
	// in a single subscribe.
	require.NoError(t, conn.Close())
	select {
	case <-connected:
	case <-time.After(10 * time.Second):
		t.Fatal("client never resubscribed after reconnect")
	}

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(sessions), 3)
	restored := sessions[len(sessions)-1]
	require.ElementsMatch(t, []string{"swap1", "swap2"}, restored)
}
