// Package hub broadcasts alert and metric events to WebSocket subscribers,
// using a buffered per-connection send channel, split read/write loops, and
// a non-blocking enqueue that drops a slow subscriber rather than stalling
// the broadcaster.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haasonsaas/telemetry-pipeline/internal/observability"
	"github.com/haasonsaas/telemetry-pipeline/pkg/models"
)

const (
	maxBufferedFrames = 64
	writeWait         = 10 * time.Second
	pongWait          = 45 * time.Second
	pingInterval      = 30 * time.Second

	// historySize is the number of most recent alerts replayed to a
	// newly connected subscriber.
	historySize = 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// Frame is a push message sent to subscribers.
type Frame struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// AlertStore is the slice of storage.AlertStore the hub needs to replay
// history to a newly connected subscriber. A narrow interface keeps this
// package from importing the storage package wholesale.
type AlertStore interface {
	List(ctx context.Context, service string) ([]*models.Alert, error)
}

// Option configures optional Hub dependencies.
type Option func(*Hub)

// WithMetrics records subscriber counts and broadcast outcomes against m.
func WithMetrics(m *observability.Metrics) Option {
	return func(h *Hub) { h.metrics = m }
}

// Hub fans out new_anomaly and metric_update frames to connected
// subscribers, replaying recent alert history to each new connection.
type Hub struct {
	mu          sync.Mutex
	subscribers map[*subscriber]struct{}
	alerts      AlertStore
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// New creates an empty Hub backed by alerts for history replay.
func New(logger *slog.Logger, alerts AlertStore, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		subscribers: make(map[*subscriber]struct{}),
		alerts:      alerts,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

type subscriber struct {
	conn *websocket.Conn
	send chan []byte
}

// ServeHTTP upgrades the connection and registers it as a subscriber.
// Inbound client messages are read and discarded; this channel is
// push-only.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("hub: upgrade failed", "error", err)
		return
	}

	sub := &subscriber{conn: conn, send: make(chan []byte, maxBufferedFrames)}
	h.register(sub)
	defer h.unregister(sub)

	h.replayHistory(r.Context(), sub)

	go h.writeLoop(sub)
	h.readLoop(sub)
}

func (h *Hub) register(sub *subscriber) {
	h.mu.Lock()
	h.subscribers[sub] = struct{}{}
	h.mu.Unlock()
	if h.metrics != nil {
		h.metrics.SubscriberConnected()
	}
}

func (h *Hub) unregister(sub *subscriber) {
	h.mu.Lock()
	_, ok := h.subscribers[sub]
	delete(h.subscribers, sub)
	h.mu.Unlock()
	if ok {
		close(sub.send)
		if h.metrics != nil {
			h.metrics.SubscriberDisconnected()
		}
	}
	_ = sub.conn.Close()
}

// replayHistory sends the most recent alerts known to the backing store so
// a newly connected subscriber catches up without waiting for the next
// broadcast. Sourcing from the store, rather than an in-process cache,
// keeps the replay consistent across backend restarts and when multiple
// backend processes share one database.
func (h *Hub) replayHistory(ctx context.Context, sub *subscriber) {
	var history []*models.Alert
	if h.alerts != nil {
		alerts, err := h.alerts.List(ctx, "")
		if err != nil {
			h.logger.Warn("hub: history lookup failed", "error", err)
		} else {
			history = alerts
		}
	}
	if len(history) > historySize {
		history = history[:historySize]
	}

	data, err := json.Marshal(Frame{Type: "history", Payload: history})
	if err != nil {
		return
	}
	select {
	case sub.send <- data:
	default:
	}
}

func (h *Hub) readLoop(sub *subscriber) {
	sub.conn.SetReadLimit(1 << 16)
	_ = sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	sub.conn.SetPongHandler(func(string) error {
		return sub.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := sub.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-sub.send:
			if !ok {
				return
			}
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// BroadcastAlert fans out a new_anomaly frame. The alert itself is already
// durable in the alert store by the time this is called; the hub only
// pushes it to live subscribers.
func (h *Hub) BroadcastAlert(alert models.Alert) {
	h.broadcast("new_anomaly", Frame{Type: "new_anomaly", Payload: alert})
}

// BroadcastMetric fans out a metric_update frame.
func (h *Hub) BroadcastMetric(sample models.MetricSample) {
	h.broadcast("metric_update", Frame{Type: "metric_update", Payload: sample})
}

func (h *Hub) broadcast(kind string, frame Frame) {
	data, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("hub: marshal frame failed", "error", err)
		return
	}

	h.mu.Lock()
	targets := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		select {
		case sub.send <- data:
			if h.metrics != nil {
				h.metrics.RecordBroadcast(kind)
			}
		default:
			if h.metrics != nil {
				h.metrics.RecordBroadcastDropped()
			}
			h.unregister(sub)
		}
	}
}
