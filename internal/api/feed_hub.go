package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/hitflop/prediction-engine/internal/metrics"
	"github.com/hitflop/prediction-engine/internal/model"
)

const (
	feedWriteWait  = 10 * time.Second
	feedPongWait   = 60 * time.Second
	feedPingPeriod = 30 * time.Second
	feedSendBuffer = 16
)

// FeedMessage is a JSON message sent to live feed clients.
type FeedMessage struct {
	Type       string                `json:"type"`
	Prediction *model.PredictionView `json:"prediction,omitempty"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
}

// FeedHub manages live feed WebSocket connections and pushes newly created
// predictions to every connected client. Only the hub goroutine touches the
// client set; each connection has a single writer goroutine.
type FeedHub struct {
	clients    map[*feedClient]struct{}
	broadcast  chan []byte
	register   chan *feedClient
	unregister chan *feedClient
	done       chan struct{}
	log        *zap.Logger
	upgrader   websocket.Upgrader
}

// NewFeedHub creates a hub. allowedOrigins follows the CORS setting; "*"
// accepts any origin.
func NewFeedHub(log *zap.Logger, allowedOrigins []string) *FeedHub {
	h := &FeedHub{
		clients:    make(map[*feedClient]struct{}),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *feedClient),
		unregister: make(chan *feedClient),
		done:       make(chan struct{}),
		log:        log.Named("feed"),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(allowedOrigins, origin)
		},
	}
	return h
}

// Run is the hub's event loop. It returns when ctx is cancelled, after
// disconnecting every client.
func (h *FeedHub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			metrics.FeedClients.Set(float64(len(h.clients)))
			h.log.Debug("feed client connected", zap.Int("total", len(h.clients)))

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Slow consumer.
					h.drop(c)
				}
			}
		}
	}
}

func (h *FeedHub) drop(c *feedClient) {
	delete(h.clients, c)
	close(c.send)
	metrics.FeedClients.Set(float64(len(h.clients)))
}

// PredictionCreated queues a prediction_created message. It never blocks;
// messages are dropped when the buffer is full.
func (h *FeedHub) PredictionCreated(view model.PredictionView) {
	h.Broadcast(FeedMessage{Type: "prediction_created", Prediction: &view})
}

// Broadcast sends a message to all connected clients.
func (h *FeedHub) Broadcast(msg FeedMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- data:
	default:
		h.log.Warn("feed broadcast buffer full, dropping message", zap.String("type", msg.Type))
	}
}

// HandleWS handles WebSocket upgrade requests at GET /api/v1/feed/ws.
func (h *FeedHub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := &feedClient{conn: conn, send: make(chan []byte, feedSendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump discards client messages and detects disconnects.
func (h *FeedHub) readPump(c *feedClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(feedPongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump is the connection's only writer: queued messages plus pings to
// keep the connection alive through proxies.
func (h *FeedHub) writePump(c *feedClient) {
	ticker := time.NewTicker(feedPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(feedWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
