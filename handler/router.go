package handler

import (
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"nfcunha/fcvmd/core/service"
	"nfcunha/fcvmd/core/telemetry"
	"nfcunha/fcvmd/utils/sanitize"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// RouterConfig wires the services into the HTTP API.
type RouterConfig struct {
	Mode           string // "debug" or "release"
	CORSOrigins    []string
	StreamInterval time.Duration

	VMs       *service.VMService
	Logs      *service.LogService
	Metrics   *service.MetricsService
	Stats     *service.StatsCache // optional
	Telemetry *telemetry.Metrics  // optional
	Logger    *slog.Logger
}

// NewRouter builds the gin engine serving the daemon API.
func NewRouter(cfg RouterConfig) *gin.Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := gin.New()
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	engine.Use(requestID())
	engine.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		detail := sanitize.Sanitize(fmt.Sprint(recovered))
		logger.Error("Panic while handling request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"request_id", c.GetString(requestIDHeader),
			"error", detail)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":  "Internal server error",
			"detail": detail,
		})
	}))
	if cfg.Mode != "release" {
		engine.Use(gin.Logger())
	}
	if cfg.Telemetry != nil {
		engine.Use(cfg.Telemetry.Middleware())
	}
	engine.Use(cors.New(corsConfig(cfg.CORSOrigins)))

	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":  "Not found",
			"detail": c.Request.Method + " " + c.Request.URL.Path,
		})
	})

	engine.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "healthy",
			"daemon": "firecracker-vm",
		})
	})

	vmHandler := NewVMHandler(cfg.VMs)
	logHandler := NewLogHandler(cfg.Logs, cfg.StreamInterval, logger)
	metricsHandler := NewMetricsHandler(cfg.Metrics, cfg.Stats)

	engine.GET("/metrics", metricsHandler.GetMetrics)
	engine.GET("/metrics/vms", metricsHandler.GetCachedVMMetrics)
	engine.GET("/actions", vmHandler.RecentActions)
	if cfg.Telemetry != nil {
		engine.GET("/metrics/prometheus", gin.WrapH(cfg.Telemetry.Handler()))
	}

	vms := engine.Group("/vms")
	{
		vms.GET("", vmHandler.ListVMs)
		vms.POST("", vmHandler.CreateVM)
		vms.GET("/:id", vmHandler.GetVM)
		vms.DELETE("/:id", vmHandler.DeleteVM)
		vms.GET("/:id/actions", vmHandler.GetActions)
		vms.GET("/:id/metrics", metricsHandler.GetVMMetrics)
		vms.GET("/:id/logs", logHandler.GetLogs)
		vms.GET("/:id/logs/stream", logHandler.StreamLogs)
	}

	return engine
}

// requestID propagates the caller's X-Request-ID or assigns a new one.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(requestIDHeader, id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", requestIDHeader},
		ExposeHeaders: []string{"Content-Length", requestIDHeader},
		MaxAge:        12 * time.Hour,
	}

	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
	}
	return cfg
}
