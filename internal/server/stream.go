package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/aman-zulfiqar/pair-sniper/internal/models"
	"github.com/aman-zulfiqar/pair-sniper/internal/swapengine"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPongWait   = 60 * time.Second
	streamPingPeriod = streamPongWait * 9 / 10
	streamBuffer     = 64
)

// Hub fans phase transitions and trades out to websocket clients. It is a
// swapengine.TransitionFunc source through OnTransition and a trade sink.
// A client that falls a full buffer behind is dropped.
type Hub struct {
	upgrader websocket.Upgrader
	logger   *logrus.Logger

	mu      sync.Mutex
	clients map[*streamClient]struct{}
	closed  bool
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

func NewHub(logger *logrus.Logger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// read-only feed behind the API key
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger:  logger,
		clients: map[*streamClient]struct{}{},
	}
}

// OnTransition matches swapengine.TransitionFunc.
func (h *Hub) OnTransition(ev models.PhaseEvent, _ swapengine.CycleState) {
	h.broadcast(StreamMessage{Type: "phase", Phase: &ev})
}

func (h *Hub) Name() string { return "websocket" }

func (h *Hub) RecordTrade(ctx context.Context, t *models.TradeEvent) error {
	h.broadcast(StreamMessage{Type: "trade", Trade: t})
	return nil
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Serve upgrades the request and streams until the client goes away.
// hello, when set, is the first message the client sees.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, hello *StreamMessage) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.WithError(err).Debug("websocket upgrade failed")
		return nil
	}

	cl := &streamClient{conn: conn, send: make(chan []byte, streamBuffer)}
	if hello != nil {
		if b, err := json.Marshal(hello); err == nil {
			cl.send <- b
		}
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return nil
	}
	h.clients[cl] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.WithFields(logrus.Fields{"remote": r.RemoteAddr, "clients": n}).Info("stream client connected")

	go h.writePump(cl)
	h.readPump(cl)
	return nil
}

// readPump discards client frames and notices disconnects.
func (h *Hub) readPump(cl *streamClient) {
	defer h.remove(cl)

	cl.conn.SetReadLimit(512)
	_ = cl.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	cl.conn.SetPongHandler(func(string) error {
		return cl.conn.SetReadDeadline(time.Now().Add(streamPongWait))
	})
	for {
		if _, _, err := cl.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(cl *streamClient) {
	ticker := time.NewTicker(streamPingPeriod)
	defer func() {
		ticker.Stop()
		_ = cl.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-cl.send:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = cl.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := cl.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = cl.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := cl.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) broadcast(msg StreamMessage) {
	b, err := json.Marshal(msg)
	if err != nil {
		h.logger.WithError(err).Warn("failed to encode stream message")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for cl := range h.clients {
		select {
		case cl.send <- b:
		default:
			h.logger.Warn("stream client too slow, dropping")
			delete(h.clients, cl)
			close(cl.send)
		}
	}
}

func (h *Hub) remove(cl *streamClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[cl]; ok {
		delete(h.clients, cl)
		close(cl.send)
	}
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for cl := range h.clients {
		delete(h.clients, cl)
		close(cl.send)
	}
}
