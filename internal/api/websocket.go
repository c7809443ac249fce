package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-access/internal/orchestrator"
)

// Frame types on the live feed. Clients may only send ping.
const (
	FrameAttempt = "access.attempt"
	FramePing    = "ping"
	FramePong    = "pong"
	FrameError   = "error"
)

// feedBuffer is how many frames a client may fall behind before frames
// are dropped for it.
const feedBuffer = 64

// Frame is one message on the feed.
type Frame struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
	Time string `json:"time,omitempty"`
	Data any    `json:"data,omitempty"`
}

// AttemptEvent is the data of an access.attempt frame. The digest is not sent.
type AttemptEvent struct {
	Outcome    string `json:"outcome"`
	Credential string `json:"credential,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Time       string `json:"time"`
}

// Hub fans finished access attempts out to WebSocket clients.
type Hub struct {
	cfg    config.WebSocketConfig
	logger *logging.Logger

	mu    sync.Mutex
	conns map[*feedConn]struct{}
}

type feedConn struct {
	ws      *websocket.Conn
	send    chan []byte
	subject string
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The bearer token is the access control; there is no browser origin to pin.
	CheckOrigin: func(*http.Request) bool { return true },
}

// NewHub creates a hub. Zero config values take the package defaults.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = 8192
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 30 * time.Second
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = 10 * time.Second
	}
	return &Hub{cfg: cfg, logger: logger, conns: make(map[*feedConn]struct{})}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		delete(h.conns, c)
		close(c.send)
		c.ws.Close()
	}
}

// RecordAttempt satisfies orchestrator.Recorder. It never blocks: a client
// whose buffer is full misses the frame.
func (h *Hub) RecordAttempt(_ context.Context, a orchestrator.Attempt) error {
	h.publish(Frame{
		Type: FrameAttempt,
		Time: time.Now().UTC().Format(time.RFC3339),
		Data: AttemptEvent{
			Outcome:    a.Outcome.String(),
			Credential: a.Credential,
			DurationMS: a.Duration.Milliseconds(),
			Time:       a.Time.UTC().Format(time.RFC3339Nano),
		},
	})
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

func (h *Hub) publish(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		h.logger.Error("encoding feed frame", "error", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.conns {
		select {
		case c.send <- data:
		default:
			h.logger.Debug("feed client behind, frame dropped", "subject", c.subject)
		}
	}
}

func (h *Hub) add(c *feedConn) {
	h.mu.Lock()
	h.conns[c] = struct{}{}
	n := len(h.conns)
	h.mu.Unlock()
	h.logger.Debug("feed client connected", "subject", c.subject, "clients", n)
}

// remove drops c once; the send channel is closed by whoever removes it.
func (h *Hub) remove(c *feedConn) {
	h.mu.Lock()
	_, ok := h.conns[c]
	delete(h.conns, c)
	n := len(h.conns)
	h.mu.Unlock()

	if ok {
		close(c.send)
		h.logger.Debug("feed client disconnected", "subject", c.subject, "clients", n)
	}
}

// handleWebSocket upgrades an authenticated request onto the feed.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &feedConn{ws: ws, send: make(chan []byte, feedBuffer)}
	if claims := claimsFrom(r.Context()); claims != nil {
		c.subject = claims.Subject
	}

	s.hub.add(c)
	go s.hub.writeLoop(c)
	go s.hub.readLoop(c)
}

// readLoop answers pings until the client goes away.
func (h *Hub) readLoop(c *feedConn) {
	defer func() {
		h.remove(c)
		c.ws.Close()
	}()

	deadline := h.cfg.PingInterval + h.cfg.PongTimeout
	c.ws.SetReadLimit(h.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(deadline)) //nolint:errcheck // reset on every frame
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(deadline))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(deadline)) //nolint:errcheck // reset on every frame

		var in Frame
		reply := Frame{Type: FrameError, Data: map[string]string{"message": "invalid JSON frame"}}
		if json.Unmarshal(data, &in) == nil {
			reply.ID = in.ID
			if in.Type == FramePing {
				reply = Frame{Type: FramePong, ID: in.ID}
			} else {
				reply.Data = map[string]string{"message": "unsupported frame type: " + in.Type}
			}
		}
		reply.Time = time.Now().UTC().Format(time.RFC3339)
		h.reply(c, reply)
	}
}

// reply queues a frame for one client. The hub lock guards against a send
// on a channel that Run or remove has closed.
func (h *Hub) reply(c *feedConn, f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.conns[c]; !ok {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// writeLoop sends queued frames and keepalive pings.
func (h *Hub) writeLoop(c *feedConn) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		var (
			kind int
			data []byte
		)
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // connection is closing
				return
			}
			kind, data = websocket.TextMessage, msg
		case <-ticker.C:
			kind = websocket.PingMessage
		}

		c.ws.SetWriteDeadline(time.Now().Add(h.cfg.PongTimeout)) //nolint:errcheck // write error caught below
		if err := c.ws.WriteMessage(kind, data); err != nil {
			return
		}
	}
}
