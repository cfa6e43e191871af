package handler

import (
	"net/http"

	"nfcunha/fcvmd/core/service"

	"github.com/gin-gonic/gin"
)

// MetricsHandler handles metrics HTTP requests.
type MetricsHandler struct {
	metricsService *service.MetricsService
	statsCache     *service.StatsCache
}

// NewMetricsHandler creates a new metrics handler. statsCache may be nil.
func NewMetricsHandler(metricsService *service.MetricsService, statsCache *service.StatsCache) *MetricsHandler {
	return &MetricsHandler{
		metricsService: metricsService,
		statsCache:     statsCache,
	}
}

// GetMetrics handles GET /metrics
func (h *MetricsHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metricsService.FullSnapshot(c.Request.Context()))
}

// GetVMMetrics handles GET /vms/:id/metrics
func (h *MetricsHandler) GetVMMetrics(c *gin.Context) {
	vmID := c.Param("id")

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"vm_id":   vmID,
		"metrics": h.metricsService.VMMetrics(c.Request.Context(), vmID),
	})
}

// GetCachedVMMetrics handles GET /metrics/vms. It serves the last background
// collection of non-deleted VMs without scanning the process table.
func (h *MetricsHandler) GetCachedVMMetrics(c *gin.Context) {
	if h.statsCache == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Stats cache not running",
		})
		return
	}

	usage, updatedAt := h.statsCache.All()
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"vm_metrics": usage,
		"count":      len(usage),
		"updated_at": updatedAt,
	})
}
