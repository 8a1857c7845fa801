package boltz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	healthCheckInterval = 10 * time.Second
	pongTimeout         = 5 * time.Second

	baseReconnectDelay = 5 * time.Second
	maxReconnectDelay  = 30 * time.Second
	// After this many consecutive failures a warning is logged. The loop
	// itself never gives up.
	reconnectWarnThreshold = 5

	// updateQueueSize buffers status updates between the read loop and the
	// dispatch goroutine. A claim handler can spend several round trips on a
	// single update; meanwhile the read loop must keep consuming frames or
	// the pong carrying the health check answer never gets read.
	updateQueueSize = 64
)

// SwapUpdate is one entry of an inbound "update" event.
type SwapUpdate struct {
	ID          string               `json:"id"`
	Status      string               `json:"status"`
	Transaction *TransactionResponse `json:"transaction,omitempty"`
}

// UpdateHandler receives swap updates one at a time, in the order the
// provider sent them.
type UpdateHandler func(update SwapUpdate)

type wsState int

const (
	wsDisconnected wsState = iota
	wsConnecting
	wsConnected
	wsReconnecting
)

type subscribeMessage struct {
	Op      string   `json:"op"`
	Channel string   `json:"channel"`
	Args    []string `json:"args"`
}

type wsMessage struct {
	Event string          `json:"event"`
	Args  json.RawMessage `json:"args"`
}

// Websocket owns the single long-lived connection to the provider. It
// health-checks the socket, reconnects with capped linear backoff and
// restores every tracked subscription after each reconnect.
type Websocket struct {
	url     string
	handler UpdateHandler

	// health check cadence, overridable in tests
	healthInterval time.Duration
	pongWait       time.Duration

	mu            sync.Mutex
	conn          *websocket.Conn
	subscriptions map[string]struct{}
	state         wsState

	cancel context.CancelFunc
	done   chan struct{}
}

// NewWebsocket creates a subscription manager pushing updates into handler.
// It does not connect until Start is called.
func (boltz *Api) NewWebsocket(handler UpdateHandler) *Websocket {
	wsURL := boltz.WSURL
	if wsURL == "" {
		wsURL = strings.Replace(boltz.URL, "http", "ws", 1)
	}
	return &Websocket{
		url:            wsURL + "/v2/ws",
		handler:        handler,
		healthInterval: healthCheckInterval,
		pongWait:       pongTimeout,
		subscriptions:  make(map[string]struct{}),
		state:          wsDisconnected,
	}
}

func (ws *Websocket) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	ws.cancel = cancel
	ws.done = make(chan struct{})
	go ws.run(ctx)
}

func (ws *Websocket) Stop() {
	if ws.cancel == nil {
		return
	}
	ws.cancel()
	ws.mu.Lock()
	if ws.conn != nil {
		// nolint:all
		ws.conn.Close()
	}
	ws.mu.Unlock()
	<-ws.done
}

// Subscribe tracks the given swap ids and, if connected, subscribes them
// right away. Tracked ids survive reconnects.
func (ws *Websocket) Subscribe(ids []string) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	for _, id := range ids {
		ws.subscriptions[id] = struct{}{}
	}
	if ws.conn == nil {
		return nil
	}
	return ws.writeSubscribe(ids)
}

// writeSubscribe must be called with ws.mu held.
func (ws *Websocket) writeSubscribe(ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	msg := subscribeMessage{Op: "subscribe", Channel: "swap.update", Args: ids}
	if err := ws.conn.WriteJSON(msg); err != nil {
		return fmt.Errorf("subscribe %v: %w", ids, err)
	}
	return nil
}

func (ws *Websocket) run(ctx context.Context) {
	defer close(ws.done)

	failures := 0
	for {
		if ctx.Err() != nil {
			ws.setState(wsDisconnected)
			return
		}

		ws.setState(wsConnecting)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, ws.url, nil)
		if err != nil {
			failures++
			ws.logReconnect(failures, err)
			if !ws.sleep(ctx, backoffDelay(failures)) {
				return
			}
			ws.setState(wsReconnecting)
			continue
		}

		failures = 0
		ws.mu.Lock()
		ws.conn = conn
		ws.state = wsConnected
		ids := make([]string, 0, len(ws.subscriptions))
		for id := range ws.subscriptions {
			ids = append(ids, id)
		}
		err = ws.writeSubscribe(ids)
		ws.mu.Unlock()
		if err != nil {
			log.WithError(err).Warn("failed to restore swap subscriptions")
		} else {
			log.Infof("connected to swap provider websocket, watching %d swaps", len(ids))
		}

		serveErr := ws.serve(ctx, conn)

		ws.mu.Lock()
		ws.conn = nil
		ws.mu.Unlock()
		// nolint:all
		conn.Close()

		if ctx.Err() != nil {
			ws.setState(wsDisconnected)
			return
		}

		failures++
		ws.logReconnect(failures, serveErr)
		if !ws.sleep(ctx, backoffDelay(failures)) {
			return
		}
		ws.setState(wsReconnecting)
	}
}

// serve pumps messages and health checks until the connection dies. Updates
// are handed to a dedicated dispatch goroutine: handlers run serially and in
// array order, but never on the read loop, which has to stay responsive so
// pong frames are processed while a handler is busy claiming.
func (ws *Websocket) serve(ctx context.Context, conn *websocket.Conn) error {
	pongCh := make(chan struct{}, 1)
	conn.SetPongHandler(func(string) error {
		select {
		case pongCh <- struct{}{}:
		default:
		}
		return nil
	})

	updateCh := make(chan SwapUpdate, updateQueueSize)
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		for update := range updateCh {
			ws.handler(update)
		}
	}()

	readErr := make(chan error, 1)
	go func() {
		defer close(updateCh)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				readErr <- err
				return
			}
			ws.handleMessage(raw, updateCh)
		}
	}()

	defer func() {
		// Unblock the read goroutine, then let the dispatcher drain what was
		// already queued before the next connection starts its own.
		// nolint:all
		conn.Close()
		<-dispatchDone
	}()

	ticker := time.NewTicker(ws.healthInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-ticker.C:
			deadline := time.Now().Add(ws.pongWait)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
			select {
			case <-pongCh:
			case err := <-readErr:
				return err
			case <-time.After(ws.pongWait):
				return fmt.Errorf("health check failed: no pong within %s", ws.pongWait)
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// handleMessage parses one inbound frame and queues the updates of an update
// event, in array order.
func (ws *Websocket) handleMessage(raw []byte, out chan<- SwapUpdate) {
	var msg wsMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		log.WithError(err).Warn("discarding malformed websocket message")
		return
	}

	switch msg.Event {
	case "update":
		var updates []SwapUpdate
		if err := json.Unmarshal(msg.Args, &updates); err != nil {
			log.WithError(err).Warn("discarding malformed update args")
			return
		}
		for _, update := range updates {
			out <- update
		}
	case "subscribe":
		log.Debug("swap subscription confirmed")
	default:
		log.Debugf("ignoring websocket event %q", msg.Event)
	}
}

func (ws *Websocket) setState(state wsState) {
	ws.mu.Lock()
	ws.state = state
	ws.mu.Unlock()
}

func (ws *Websocket) logReconnect(failures int, err error) {
	entry := log.WithError(err).WithField("attempt", failures)
	if failures >= reconnectWarnThreshold {
		entry.Warnf("websocket down, reconnecting in %s", backoffDelay(failures))
		return
	}
	entry.Infof("websocket down, reconnecting in %s", backoffDelay(failures))
}

func (ws *Websocket) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

// backoffDelay grows linearly with the consecutive failure count and caps at
// maxReconnectDelay.
func backoffDelay(failures int) time.Duration {
	d := time.Duration(failures) * baseReconnectDelay
	if d > maxReconnectDelay {
		return maxReconnectDelay
	}
	return d
}
