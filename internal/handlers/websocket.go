package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"drowsiness-monitor/backend/internal/config"
	"drowsiness-monitor/backend/internal/log"
	"drowsiness-monitor/backend/internal/models"
	"drowsiness-monitor/backend/internal/services"
	"drowsiness-monitor/backend/pkg/rpc"

	"github.com/gorilla/websocket"
)

// WebSocket message types.
const (
	MsgWelcome   = "WELCOME"
	MsgLandmarks = "LANDMARKS"
	MsgFrame     = "FRAME"
	MsgResult    = "RESULT"
	MsgError     = "ERROR"
	MsgPing      = "PING"
	MsgPong      = "PONG"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsWriteTimeout = 10 * time.Second
	wsPingPeriod   = 50 * time.Second
	wsSendBuffer   = 64
)

type WebSocketMessage struct {
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload,omitempty"`
	SessionID string      `json:"session_id,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// framePayload is a captured image for the server-side detector.
type framePayload struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Data   []byte `json:"data"` // base64 in JSON
}

// WSHub runs one session per WebSocket connection.
type WSHub struct {
	pipeline config.Pipeline
	registry *services.Registry
	metrics  *services.Metrics
	profiles ProfileStore
	detector services.DetectorFactory
	strict   bool
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*wsClient
}

// wsClient keeps control replies and pipeline results apart: send is a FIFO
// for WELCOME, PONG and request errors, results holds only the newest
// RESULT or ERROR so a slow reader always catches up to the current state.
type wsClient struct {
	conn      *websocket.Conn
	session   *services.Session
	send      chan WebSocketMessage
	results   *services.Slot[WebSocketMessage]
	done      chan struct{}
	closeOnce sync.Once
}

func NewWSHub(pipeline config.Pipeline, registry *services.Registry, metrics *services.Metrics, profiles ProfileStore, detector services.DetectorFactory, corsOrigins string, strict bool) *WSHub {
	h := &WSHub{
		pipeline: pipeline,
		registry: registry,
		metrics:  metrics,
		profiles: profiles,
		detector: detector,
		strict:   strict,
		clients:  make(map[string]*wsClient),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || originAllowed(corsOrigins, origin)
		},
	}
	return h
}

func (h *WSHub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeHTTP upgrades the connection and runs the session until the client
// disconnects. ?driver= selects a stored calibration profile.
func (h *WSHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "error", err)
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := resolvePipeline(r.Context(), h.pipeline, h.profiles, r.URL.Query().Get("driver"))
	sess, err := services.NewSession(cfg, services.SessionOptions{
		Source:   "websocket",
		Strict:   h.strict,
		Metrics:  h.metrics,
		Detector: h.detector,
	})
	if err == nil {
		err = sess.Start(ctx)
	}
	if err != nil {
		log.Error("websocket session failed to start", "error", err)
		conn.WriteJSON(WebSocketMessage{Type: MsgError, Payload: errorPayload(err.Error()), Timestamp: time.Now().Unix()})
		conn.Close()
		return
	}

	client := &wsClient{
		conn:    conn,
		session: sess,
		send:    make(chan WebSocketMessage, wsSendBuffer),
		results: services.NewSlot[WebSocketMessage](),
		done:    make(chan struct{}),
	}

	h.mu.Lock()
	h.clients[sess.ID()] = client
	h.mu.Unlock()
	h.registry.Add(sess)
	h.metrics.IncrementWebSocketConnections()
	log.Info("websocket client connected", "session", sess.ID())

	defer func() {
		h.mu.Lock()
		delete(h.clients, sess.ID())
		h.mu.Unlock()
		h.registry.Remove(sess.ID())
		sess.Stop()
		client.close()
		h.metrics.DecrementWebSocketConnections()
		log.Info("websocket client disconnected", "session", sess.ID())
	}()

	go h.writePump(client)
	go h.resultPump(ctx, client)

	client.enqueue(WebSocketMessage{
		Type:      MsgWelcome,
		SessionID: sess.ID(),
		Timestamp: time.Now().Unix(),
		Payload: map[string]interface{}{
			"message":  "Connected to drowsiness monitor",
			"version":  Version,
			"config":   newConfigResponse(cfg),
			"detector": h.detector != nil,
		},
	})

	h.readPump(client)
}

// CloseAll disconnects every client.
func (h *WSHub) CloseAll() {
	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		c.close()
	}
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// enqueue queues a control reply. It never blocks; a full buffer drops it.
func (c *wsClient) enqueue(msg WebSocketMessage) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func errorPayload(msg string) map[string]string {
	return map[string]string{"message": msg}
}

func (h *WSHub) readPump(c *wsClient) {
	c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn("websocket read failed", "session", c.session.ID(), "error", err)
				h.metrics.IncrementWebSocketErrors()
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		h.metrics.IncrementWebSocketMessages()

		switch msg.Type {
		case MsgPing:
			c.enqueue(WebSocketMessage{Type: MsgPong, SessionID: c.session.ID(), Timestamp: time.Now().Unix()})

		case MsgLandmarks:
			var frame rpc.LandmarkFrame
			if err := json.Unmarshal(msg.Payload, &frame); err != nil {
				c.enqueue(WebSocketMessage{Type: MsgError, Payload: errorPayload("invalid landmarks payload"), Timestamp: time.Now().Unix()})
				continue
			}
			c.session.Deliver(rpc.ToDetectorOutput(&frame))

		case MsgFrame:
			var fp framePayload
			if err := json.Unmarshal(msg.Payload, &fp); err != nil {
				c.enqueue(WebSocketMessage{Type: MsgError, Payload: errorPayload("invalid frame payload"), Timestamp: time.Now().Unix()})
				continue
			}
			frame := models.Frame{Data: fp.Data, Width: fp.Width, Height: fp.Height, Timestamp: time.Now()}
			if err := c.session.SubmitFrame(frame); err != nil {
				c.enqueue(WebSocketMessage{Type: MsgError, Payload: errorPayload(err.Error()), Timestamp: time.Now().Unix()})
			}

		default:
			log.Debug("unknown websocket message type", "type", msg.Type)
			c.enqueue(WebSocketMessage{Type: MsgError, Payload: errorPayload("unknown message type " + msg.Type), Timestamp: time.Now().Unix()})
		}
	}
}

func (h *WSHub) writePump(c *wsClient) {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.send:
			if err := h.write(c, msg); err != nil {
				return
			}

		case msg := <-c.results.C():
			if err := h.write(c, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WSHub) write(c *wsClient, msg WebSocketMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteJSON(msg); err != nil {
		h.metrics.IncrementWebSocketErrors()
		return err
	}
	return nil
}

// resultPump forwards published results into the client's result slot.
// A result the writer has not picked up yet is replaced by the newer one.
func (h *WSHub) resultPump(ctx context.Context, c *wsClient) {
	var version uint64
	for {
		res, v, err := c.session.Publisher().Next(ctx, version)
		if err != nil {
			return
		}
		version = v

		select {
		case <-c.done:
			return
		default:
		}

		msg := WebSocketMessage{Type: MsgResult, SessionID: res.SessionID, Payload: res, Timestamp: time.Now().Unix()}
		if res.Kind == models.KindError {
			msg.Type = MsgError
		}
		if c.results.Offer(msg) {
			h.metrics.IncrementDroppedResults()
		}
	}
}
