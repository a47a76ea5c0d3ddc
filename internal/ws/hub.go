// Package ws owns the WebSocket surface: connection lifecycle, the inbound
// message loop, and result delivery back to the owning connection.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/zagan-the-gun/MenZ-FuguMT/internal/admission"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/engine"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/protocol"
	"github.com/zagan-the-gun/MenZ-FuguMT/internal/stats"
	"github.com/zagan-the-gun/MenZ-FuguMT/pkg/models"
)

const (
	readLimit         = 1 << 20
	readDeadline      = 300 * time.Second
	writeDeadline     = 10 * time.Second
	pingInterval      = 30 * time.Second
	sendBufferSize    = 256
	healthCheckBudget = 30 * time.Second
)

// Hub upgrades connections and runs their pumps. Ping, stats, and health
// queries are answered inline on the reader; translations go through
// admission into the queue.
type Hub struct {
	registry   *Registry
	admitter   *admission.Admitter
	translator engine.Translator
	engineCfg  engine.Config
	stats      *stats.Aggregator
	logger     *zap.Logger

	upgrader websocket.Upgrader
}

// NewHub wires the WebSocket surface.
func NewHub(reg *Registry, adm *admission.Admitter, tr engine.Translator, engineCfg engine.Config, agg *stats.Aggregator, logger *zap.Logger) *Hub {
	return &Hub{
		registry:   reg,
		admitter:   adm,
		translator: tr,
		engineCfg:  engineCfg,
		stats:      agg,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Deliver routes a finished result to its owning connection. A gone or
// stalled connection fails the delivery; the caller counts the drop.
func (h *Hub) Deliver(res *models.Result) error {
	return h.registry.Send(res.Request.ConnID, protocol.ResponseFromResult(res))
}

// ServeWS upgrades the request and runs the connection until it closes.
// Over-capacity requests are refused with 503 before the upgrade.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	if !h.registry.CanAccept() {
		http.Error(w, ErrServerFull.Error(), http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &Conn{
		id:   uuid.NewString(),
		ws:   conn,
		send: make(chan []byte, sendBufferSize),
		hub:  h,
	}
	if err := h.registry.Register(c); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()),
			time.Now().Add(writeDeadline))
		conn.Close()
		return
	}
	h.logger.Info("connection opened",
		zap.String("conn_id", c.id),
		zap.String("remote", r.RemoteAddr))

	go c.writePump()
	c.readPump()
}

// Conn is one client connection. The reader goroutine owns all reads, the
// write pump owns all writes; enqueue is the only cross-goroutine path in.
type Conn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte
	hub  *Hub

	mu     sync.Mutex
	closed bool
}

// enqueue hands a frame to the write pump. The mutex orders enqueue against
// close so a worker never sends on a closed channel.
func (c *Conn) enqueue(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnectionClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Conn) close() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	c.ws.Close()
}

func (c *Conn) readPump() {
	defer func() {
		c.hub.registry.Unregister(c)
		c.close()
	}()

	c.ws.SetReadLimit(readLimit)
	c.ws.SetReadDeadline(time.Now().Add(readDeadline))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(readDeadline))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.logger.Warn("read failed",
					zap.String("conn_id", c.id),
					zap.Error(err))
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(readDeadline))
		c.handle(raw)
	}
}

// handle processes one inbound message. Malformed input answers with an
// error frame and keeps the connection open.
func (c *Conn) handle(raw []byte) {
	msg, err := protocol.Decode(raw)
	if err != nil {
		c.enqueue(protocol.NewErrorFrame(err.Error()))
		return
	}

	switch msg.Type {
	case protocol.TypeTranslation:
		if _, err := c.hub.admitter.Admit(c.id, msg.Translation); err != nil {
			c.enqueue(protocol.NewErrorFrame(err.Error()))
		}
	case protocol.TypePing:
		now := time.Now()
		c.enqueue(protocol.PongResponse{
			Type:       "pong",
			Timestamp:  float64(now.UnixNano()) / 1e9,
			ServerTime: now.Format(time.RFC3339),
			Status:     "ok",
		})
	case protocol.TypeStats:
		c.enqueue(c.hub.statsResponse())
	case protocol.TypeHealth:
		c.enqueue(c.hub.healthResponse())
	}
}

func (h *Hub) statsResponse() protocol.StatsResponse {
	snap := h.stats.Snapshot()
	return protocol.StatsResponse{
		Type:        "stats",
		ServerStats: snap.ServerStatsMap(),
		TranslatorStats: map[string]any{
			"device": h.engineCfg.Device,
			"models": h.engineCfg.Models,
		},
		SupportedLanguages: h.translator.Languages(),
		Timestamp:          float64(time.Now().UnixNano()) / 1e9,
		Status:             "ok",
	}
}

func (h *Hub) healthResponse() protocol.HealthResponse {
	ctx, cancel := context.WithTimeout(context.Background(), healthCheckBudget)
	defer cancel()

	eh := h.translator.Health(ctx)
	status := "healthy"
	if !eh.Healthy {
		status = "unhealthy"
	}
	return protocol.HealthResponse{
		Type:              "health",
		Status:            status,
		ServerStatus:      "running",
		ActiveConnections: h.stats.ActiveConnections(),
		ModelsLoaded:      eh.ModelsLoaded,
		SupportedPairs:    eh.SupportedPairs,
		Device:            eh.Device,
		TestTranslation:   eh.TestTranslation,
		Error:             eh.Error,
	}
}

func (c *Conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if !ok {
				c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeDeadline))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
