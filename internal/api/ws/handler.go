// Package ws streams pool events to connected clients and accepts
// submissions over a WebSocket connection.
package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/sorryhyun/yaar/internal/domain/pool"
	"github.com/sorryhyun/yaar/internal/infrastructure/monitoring"
	"github.com/sorryhyun/yaar/internal/shared/id"
	"github.com/sorryhyun/yaar/internal/shared/types"
	"github.com/sorryhyun/yaar/internal/shared/utils"
)

// sendBuffer is the per-client outbound queue; events past it are
// dropped rather than blocking the pool
const sendBuffer = 64

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in dev
	},
}

// Handler manages WebSocket connections and fans pool events out to
// them. It is the pool's EventSink.
type Handler struct {
	pool    *pool.Pool
	logger  *zap.Logger
	metrics *monitoring.Metrics

	mu      sync.Mutex
	clients map[*client]bool
}

type client struct {
	id   string
	conn *websocket.Conn
	send chan any
}

// NewHandler creates a WebSocket handler bound to the pool
func NewHandler(p *pool.Pool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		pool:    p,
		logger:  logger,
		clients: make(map[*client]bool),
	}
}

// WithMetrics attaches a metrics collector
func (h *Handler) WithMetrics(m *monitoring.Metrics) *Handler {
	h.metrics = m
	return h
}

// Publish fans a pool event out to every connected client. Slow
// clients lose events instead of stalling the pool.
func (h *Handler) Publish(event pool.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for cl := range h.clients {
		select {
		case cl.send <- event:
		default:
			h.logger.Debug("Dropping event for slow WebSocket client",
				zap.String("event", string(event.Type)))
		}
	}
}

// HandleConnection handles WebSocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	cl := &client{id: uuid.New().String(), conn: conn, send: make(chan any, sendBuffer)}
	h.register(cl)
	h.logger.Info("WebSocket client connected", zap.String("client_id", cl.id))

	// Writer goroutine: everything outbound goes through the send
	// channel so WriteJSON is never called concurrently
	done := make(chan struct{})
	go func() {
		defer close(done)
		for msg := range cl.send {
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		}
	}()

	cl.enqueue(map[string]any{
		"type":      "system",
		"client_id": cl.id,
		"message":   "Connected to yaar orchestrator",
	})

	reqCtx := c.Request.Context()
	for {
		var msg inboundMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case "message":
			h.handleSubmit(cl, reqCtx, types.MainTask(h.messageID(msg.MessageID), msg.Content))
		case "window_message":
			if msg.WindowID == "" {
				cl.sendError("window_message requires window_id")
				continue
			}
			h.handleSubmit(cl, reqCtx, types.WindowTask(msg.WindowID, h.messageID(msg.MessageID), msg.Content))
		case "steer":
			delivered := false
			if msg.WindowID != "" {
				delivered = h.pool.SteerWindow(msg.WindowID, msg.Content)
			} else {
				delivered = h.pool.SteerMain(msg.Content)
			}
			cl.enqueue(map[string]any{"type": "steer_result", "delivered": delivered})
		case "ping":
			cl.enqueue(map[string]any{"type": "pong"})
		default:
			cl.sendError("unknown message type")
		}
	}

	// Unregister before closing the channel so Publish can never write
	// to a closed send queue
	h.unregister(cl)
	close(cl.send)
	<-done
	conn.Close()
	h.logger.Info("WebSocket client disconnected", zap.String("client_id", cl.id))
}

type inboundMessage struct {
	Type      string `json:"type"`
	Content   string `json:"content"`
	WindowID  string `json:"window_id"`
	MessageID string `json:"message_id"`
}

func (h *Handler) handleSubmit(cl *client, ctx context.Context, task types.Task) {
	if err := utils.ValidateMessage(task.Content); err != nil {
		cl.sendError(err.Error())
		return
	}
	if err := h.pool.Submit(ctx, task); err != nil {
		cl.sendError(err.Error())
		return
	}
	cl.enqueue(map[string]any{
		"type":       "accepted",
		"message_id": task.MessageID,
		"kind":       task.Kind,
	})
}

func (h *Handler) messageID(requested string) string {
	if requested != "" {
		return requested
	}
	return id.NewTaskID().String()
}

func (h *Handler) register(cl *client) {
	h.mu.Lock()
	h.clients[cl] = true
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSConnections.Set(float64(count))
	}
}

func (h *Handler) unregister(cl *client) {
	h.mu.Lock()
	delete(h.clients, cl)
	count := len(h.clients)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSConnections.Set(float64(count))
	}
}

func (cl *client) enqueue(msg any) {
	select {
	case cl.send <- msg:
	default:
	}
}

func (cl *client) sendError(msg string) {
	cl.enqueue(map[string]any{
		"type":      "error",
		"message":   msg,
		"timestamp": time.Now().Unix(),
	})
}
