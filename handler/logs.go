package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"nfcunha/fcvmd/core/models"
	"nfcunha/fcvmd/core/service"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	defaultStreamInterval = 2 * time.Second
	minStreamInterval     = time.Second
	writeWait             = 10 * time.Second
)

// LogHandler handles log-related HTTP requests.
type LogHandler struct {
	logService *service.LogService
	upgrader   websocket.Upgrader
	interval   time.Duration
	logger     *slog.Logger
}

// NewLogHandler creates a new log handler. interval is the default push
// period of the stream endpoint.
func NewLogHandler(logService *service.LogService, interval time.Duration, logger *slog.Logger) *LogHandler {
	if interval <= 0 {
		interval = defaultStreamInterval
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &LogHandler{
		logService: logService,
		interval:   interval,
		logger:     logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // the dashboard is served from another origin
			},
		},
	}
}

// GetLogs handles GET /vms/:id/logs
// Unknown VMs yield an empty bundle, never an error.
func (h *LogHandler) GetLogs(c *gin.Context) {
	vmID := c.Param("id")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"vm_id":   vmID,
		"logs":    h.logService.GetLogs(c.Request.Context(), vmID),
	})
}

// StreamLogs handles GET /vms/:id/logs/stream (WebSocket)
// The bundle is pushed once on connect and again whenever it changes.
// Query parameters:
//   - interval: integer (seconds between collections, minimum 1)
func (h *LogHandler) StreamLogs(c *gin.Context) {
	vmID := c.Param("id")

	interval := h.interval
	if s := c.Query("interval"); s != "" {
		if n, err := strconv.Atoi(s); err == nil {
			interval = max(time.Duration(n)*time.Second, minStreamInterval)
		}
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("Failed to upgrade to WebSocket", "vm_id", vmID, "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Handle WebSocket close messages
	go func() {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				cancel()
				return
			}
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var last *models.LogBundle
	for {
		bundle := h.logService.GetLogs(ctx, vmID)
		if last == nil || !sameContent(*last, bundle) {
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(gin.H{"vm_id": vmID, "logs": bundle}); err != nil {
				h.logger.Debug("Log stream closed", "vm_id", vmID, "error", err)
				return
			}
			last = &bundle
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// sameContent compares two bundles ignoring collected_at.
func sameContent(a, b models.LogBundle) bool {
	a.CollectedAt = time.Time{}
	b.CollectedAt = time.Time{}
	return a == b
}
