package service

import (
	"context"
	"log/slog"
	"maps"
	"sync"
	"time"

	"nfcunha/fcvmd/core/models"
	"nfcunha/fcvmd/core/telemetry"
)

// StatsCache keeps the last per-VM process stats and mirrors them into the
// Prometheus gauges on a fixed interval.
type StatsCache struct {
	metrics  *MetricsService
	prom     *telemetry.Metrics
	interval time.Duration
	logger   *slog.Logger

	mu        sync.RWMutex
	usage     map[string]models.VMMetrics // vmID -> metrics
	updatedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewStatsCache creates a stats cache and starts background refresh.
func NewStatsCache(metrics *MetricsService, prom *telemetry.Metrics, interval time.Duration, logger *slog.Logger) *StatsCache {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	cache := &StatsCache{
		metrics:  metrics,
		prom:     prom,
		interval: interval,
		logger:   logger,
		usage:    make(map[string]models.VMMetrics),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go cache.refreshLoop()

	return cache
}

// All returns a copy of the cached stats and the time they were collected.
func (c *StatsCache) All() (map[string]models.VMMetrics, time.Time) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return maps.Clone(c.usage), c.updatedAt
}

func (c *StatsCache) refreshLoop() {
	defer close(c.done)

	c.refresh()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			c.refresh()
		}
	}
}

// refresh collects stats for VMs that are not deleted.
func (c *StatsCache) refresh() {
	ctx, cancel := context.WithTimeout(c.ctx, c.interval)
	defer cancel()

	all := c.metrics.AllVMMetrics(ctx)
	usage := make(map[string]models.VMMetrics, len(all))
	for vmID, m := range all {
		if m.Status == models.VMStatusDeleted {
			continue
		}
		usage[vmID] = m
	}

	c.prom.ReplaceVMUsage(usage)

	c.mu.Lock()
	c.usage = usage
	c.updatedAt = time.Now()
	c.mu.Unlock()

	c.logger.Debug("Refreshed VM stats", "vms", len(usage))
}

// Stop stops the background refresh loop and waits for it to exit.
func (c *StatsCache) Stop() {
	c.cancel()
	<-c.done
}
