package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/sorryhyun/yaar/internal/domain/pool"
	"github.com/sorryhyun/yaar/internal/domain/queue"
	"github.com/sorryhyun/yaar/internal/domain/reload"
	"github.com/sorryhyun/yaar/internal/domain/tape"
	"github.com/sorryhyun/yaar/internal/shared/id"
	"github.com/sorryhyun/yaar/internal/shared/types"
	"github.com/sorryhyun/yaar/internal/shared/utils"
)

// resetTimeout bounds how long a reset request waits for in-flight
// turns to drain
const resetTimeout = 30 * time.Second

// Handlers contains HTTP request handlers
type Handlers struct {
	pool      *pool.Pool
	cache     *reload.CachePolicy
	logger    *zap.Logger
	startTime time.Time
}

// NewHandlers creates handlers bound to the pool
func NewHandlers(p *pool.Pool, cache *reload.CachePolicy, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		pool:      p,
		cache:     cache,
		logger:    logger,
		startTime: time.Now(),
	}
}

// Root handles GET /
func (h *Handlers) Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "yaar-orchestrator",
		"status":  "running",
		"uptime":  time.Since(h.startTime).String(),
	})
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

type messageRequest struct {
	Content   string   `json:"content" binding:"required"`
	MessageID string   `json:"message_id"`
	Images    []string `json:"images"`
}

// SubmitMessage handles POST /messages: a main-channel task
func (h *Handlers) SubmitMessage(c *gin.Context) {
	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateMessage(req.Content); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateImages(req.Images); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task := types.MainTask(h.messageID(req.MessageID), req.Content)
	task.Images = req.Images
	h.submit(c, task)
}

// SubmitWindowMessage handles POST /windows/:id/messages
func (h *Handlers) SubmitWindowMessage(c *gin.Context) {
	windowID := c.Param("id")
	if err := utils.ValidateID(windowID, "window id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req messageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateMessage(req.Content); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateImages(req.Images); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	task := types.WindowTask(windowID, h.messageID(req.MessageID), req.Content)
	task.Images = req.Images
	h.submit(c, task)
}

func (h *Handlers) submit(c *gin.Context, task types.Task) {
	if err := h.pool.Submit(c.Request.Context(), task); err != nil {
		switch {
		case errors.Is(err, queue.ErrQueueFull):
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "main queue is full, retry later",
				"message_id": task.MessageID,
			})
		case errors.Is(err, pool.ErrPoolResetting):
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"error":      "workspace is resetting",
				"message_id": task.MessageID,
			})
		default:
			h.logger.Error("Task submission failed",
				zap.String("message_id", task.MessageID),
				zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		}
		return
	}

	if h.cache != nil {
		entry := reload.Entry{
			Fingerprint: h.cache.Fingerprint(task),
			Label:       h.cache.GenerateCacheLabel(task),
			ResultRef:   task.MessageID,
		}
		if err := h.cache.Record(entry); err != nil {
			h.logger.Warn("Failed to record reload entry", zap.Error(err))
		}
	}

	c.JSON(http.StatusAccepted, gin.H{
		"message_id": task.MessageID,
		"kind":       task.Kind,
	})
}

type connectRequest struct {
	ParentID string `json:"parent_id" binding:"required"`
	ChildID  string `json:"child_id" binding:"required"`
}

// ConnectWindow handles POST /windows/connect
func (h *Handlers) ConnectWindow(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateID(req.ParentID, "parent_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := utils.ValidateID(req.ChildID, "child_id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.pool.ConnectWindow(req.ParentID, req.ChildID); err != nil {
		h.respondPoolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"parent_id": req.ParentID,
		"child_id":  req.ChildID,
	})
}

// CloseWindow handles DELETE /windows/:id
func (h *Handlers) CloseWindow(c *gin.Context) {
	windowID := c.Param("id")
	if err := utils.ValidateID(windowID, "window id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.pool.CloseWindow(windowID); err != nil {
		h.respondPoolError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"window_id": windowID, "closed": true})
}

type steerRequest struct {
	Text string `json:"text" binding:"required"`
}

// SteerMain handles POST /steer
func (h *Handlers) SteerMain(c *gin.Context) {
	var req steerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	delivered := h.pool.SteerMain(req.Text)
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

// SteerWindow handles POST /windows/:id/steer
func (h *Handlers) SteerWindow(c *gin.Context) {
	windowID := c.Param("id")
	if err := utils.ValidateID(windowID, "window id", true); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var req steerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	delivered := h.pool.SteerWindow(windowID, req.Text)
	c.JSON(http.StatusOK, gin.H{"delivered": delivered})
}

// Reset handles POST /reset
func (h *Handlers) Reset(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), resetTimeout)
	defer cancel()

	if err := h.pool.Reset(ctx); err != nil {
		if errors.Is(err, pool.ErrPoolResetting) {
			c.JSON(http.StatusConflict, gin.H{"error": "reset already in progress"})
			return
		}
		h.logger.Error("Reset failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"reset": true})
}

// Stats handles GET /stats
func (h *Handlers) Stats(c *gin.Context) {
	c.JSON(http.StatusOK, h.pool.Stats())
}

// Tape handles GET /tape. Optional query params: window_id filters to
// one window's view; include_windows=true includes all window turns.
func (h *Handlers) Tape(c *gin.Context) {
	opts := tape.FormatOptions{
		IncludeWindows: c.Query("include_windows") == "true",
		WindowID:       c.Query("window_id"),
	}

	c.JSON(http.StatusOK, gin.H{
		"formatted": h.pool.Tape().FormatForPrompt(opts),
		"stats":     h.pool.Tape().Stats(),
	})
}

// Windows handles GET /windows
func (h *Handlers) Windows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"open":   h.pool.OpenWindows(),
		"groups": h.pool.Connections().Stats(),
	})
}

// ReloadMatches handles GET /reload/matches?fingerprint=...
func (h *Handlers) ReloadMatches(c *gin.Context) {
	fingerprint := c.Query("fingerprint")
	if fingerprint == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "fingerprint query parameter is required"})
		return
	}
	if h.cache == nil {
		c.JSON(http.StatusOK, gin.H{"matches": []reload.Entry{}})
		return
	}

	matches := h.cache.FindMatches(fingerprint)
	if matches == nil {
		matches = []reload.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"matches": matches})
}

func (h *Handlers) respondPoolError(c *gin.Context, err error) {
	if errors.Is(err, pool.ErrPoolResetting) {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "workspace is resetting"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func (h *Handlers) messageID(requested string) string {
	if requested != "" {
		return requested
	}
	return id.NewTaskID().String()
}
