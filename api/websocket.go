package api

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amelia-run/amelia/eventbus"
	"github.com/amelia-run/amelia/telemetry"
	"github.com/amelia-run/amelia/workflow"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsClientQueueSize bounds each subscriber's backlog; once full, further
// events for that client are dropped rather than blocking the fanout loop
// or every other subscriber (spec.md §5's deterministic-drop policy). A
// dropped client can still catch up by reconnecting with after_sequence.
const wsClientQueueSize = 256

// wsClient is one live WebSocket subscriber with its own event filter and
// backpressure queue.
type wsClient struct {
	conn       *websocket.Conn
	send       chan workflow.Event
	workflowID string          // "" matches every workflow
	eventTypes map[string]bool // empty matches every event type
}

func (c *wsClient) matches(ev workflow.Event) bool {
	if c.workflowID != "" && c.workflowID != ev.WorkflowID {
		return false
	}
	if len(c.eventTypes) > 0 && !c.eventTypes[string(ev.EventType)] {
		return false
	}
	return true
}

// wsHub fans out published workflow events to every live WebSocket
// connection whose filter matches, registering itself as a single
// eventbus.Subscriber rather than one subscription per client.
type wsHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	log     telemetry.Logger
}

func newWSHub(bus eventbus.Bus, log telemetry.Logger) *wsHub {
	h := &wsHub{clients: make(map[*wsClient]struct{}), log: log}
	_, _ = bus.Register(eventbus.SubscriberFunc(func(ctx context.Context, ev workflow.Event) error {
		h.broadcast(ev)
		return nil
	}))
	return h
}

func (h *wsHub) broadcast(ev workflow.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.matches(ev) {
			continue
		}
		select {
		case c.send <- ev:
		default:
			h.log.Warn(context.Background(), "dropping event for slow websocket subscriber",
				"workflow_id", ev.WorkflowID, "sequence", ev.Sequence)
		}
	}
}

func (h *wsHub) add(c *wsClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
}

func (h *wsHub) remove(c *wsClient) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	close(c.send)
}

func (h *wsHub) connectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket upgrades the connection and streams matching events
// until the client disconnects or goes idle past
// websocket_idle_timeout_seconds. Filters: ?workflow_id=... and
// ?event_types=a,b,c. ?after_sequence=N (requires workflow_id) replays
// persisted events before switching to live fanout.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn(r.Context(), "websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		conn:       conn,
		send:       make(chan workflow.Event, wsClientQueueSize),
		workflowID: r.URL.Query().Get("workflow_id"),
	}
	if types := r.URL.Query().Get("event_types"); types != "" {
		c.eventTypes = make(map[string]bool)
		for _, t := range strings.Split(types, ",") {
			c.eventTypes[strings.TrimSpace(t)] = true
		}
	}

	if after := r.URL.Query().Get("after_sequence"); after != "" && c.workflowID != "" {
		s.replay(r, c, after)
	}

	s.hub.add(c)
	go s.wsWritePump(c)
	s.wsReadPump(c)
}

func (s *Server) replay(r *http.Request, c *wsClient, afterRaw string) {
	var after int64
	for _, ch := range afterRaw {
		if ch < '0' || ch > '9' {
			return
		}
		after = after*10 + int64(ch-'0')
	}
	events, err := s.store.Events.List(r.Context(), c.workflowID, after)
	if err != nil {
		s.log.Warn(r.Context(), "websocket replay failed", "workflow_id", c.workflowID, "error", err)
		return
	}
	for _, ev := range events {
		if !c.matches(ev) {
			continue
		}
		select {
		case c.send <- ev:
		default:
			s.log.Warn(r.Context(), "dropping replayed event for slow websocket subscriber",
				"workflow_id", ev.WorkflowID, "sequence", ev.Sequence)
		}
	}
}

// wsWritePump drains c.send to the socket until the channel is closed.
func (s *Server) wsWritePump(c *wsClient) {
	defer c.conn.Close()
	for ev := range c.send {
		if err := c.conn.WriteJSON(ev); err != nil {
			return
		}
	}
}

// wsReadPump discards client frames (this is a one-way event stream) but
// uses the read deadline to enforce websocket_idle_timeout_seconds: any
// frame, including a pong, resets it.
func (s *Server) wsReadPump(c *wsClient) {
	defer s.hub.remove(c)

	idle := time.Duration(s.currentSettings().WebsocketIdleTimeoutSec) * time.Second
	if idle <= 0 {
		idle = 5 * time.Minute
	}
	c.conn.SetReadDeadline(time.Now().Add(idle))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(idle))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(idle))
	}
}
