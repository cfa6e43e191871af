// Package telemetry exposes daemon metrics in the Prometheus exposition format.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"nfcunha/fcvmd/core/models"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "fcvmd"

// Metrics owns a private Prometheus registry and the collectors fed by the
// daemon. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	actionsTotal   *prometheus.CounterVec
	actionDuration *prometheus.HistogramVec
	httpReqsTotal  *prometheus.CounterVec
	httpReqDur     *prometheus.HistogramVec
	vmCPU          *prometheus.GaugeVec
	vmMemory       *prometheus.GaugeVec
	vmProcesses    *prometheus.GaugeVec
}

// New creates the collectors and registers them, together with the Go
// runtime and process collectors, on a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	actions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vm_actions_total",
			Help:      "VM-control executable invocations by verb and outcome",
		},
		[]string{"action", "result"},
	)
	actionDur := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "vm_action_duration_seconds",
			Help:      "Wall-clock duration of VM-control executable invocations",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"action"},
	)
	httpReqs := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status",
		},
		[]string{"method", "path", "status"},
	)
	httpDur := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	vmCPU := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vm_cpu_percent",
			Help:      "Summed %CPU of host processes belonging to a VM",
		},
		[]string{"vm_id"},
	)
	vmMemory := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vm_memory_percent",
			Help:      "Summed %MEM of host processes belonging to a VM",
		},
		[]string{"vm_id"},
	)
	vmProcesses := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vm_processes",
			Help:      "Host processes matched to a VM",
		},
		[]string{"vm_id"},
	)

	registry.MustRegister(actions, actionDur, httpReqs, httpDur, vmCPU, vmMemory, vmProcesses)
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:       registry,
		actionsTotal:   actions,
		actionDuration: actionDur,
		httpReqsTotal:  httpReqs,
		httpReqDur:     httpDur,
		vmCPU:          vmCPU,
		vmMemory:       vmMemory,
		vmProcesses:    vmProcesses,
	}
}

// RegisterLifecycle exposes the registry counters. source is called on
// every scrape and must be safe for concurrent use. Call it at most once.
func (m *Metrics) RegisterLifecycle(source func() models.Counters) {
	if m == nil {
		return
	}

	m.registry.MustRegister(
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vms_created_total",
			Help:      "VMs created successfully",
		}, func() float64 { return float64(source().TotalCreated) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vms_deleted_total",
			Help:      "VM deletions applied to known VMs",
		}, func() float64 { return float64(source().TotalDeleted) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "vm_creation_failures_total",
			Help:      "VM creations reported as failed by the executable",
		}, func() float64 { return float64(source().FailedCreations) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "vms_current",
			Help:      "Known VMs that are not deleted",
		}, func() float64 { return float64(source().Current) }),
	)
}

// ObserveAction records one executable invocation.
func (m *Metrics) ObserveAction(action string, success bool, d time.Duration) {
	if m == nil {
		return
	}

	result := "success"
	if !success {
		result = "failure"
	}
	m.actionsTotal.WithLabelValues(action, result).Inc()
	m.actionDuration.WithLabelValues(action).Observe(d.Seconds())
}

// ReplaceVMUsage swaps the per-VM gauges for usage. VMs absent from usage
// are dropped from the exposition.
func (m *Metrics) ReplaceVMUsage(usage map[string]models.VMMetrics) {
	if m == nil {
		return
	}

	m.vmCPU.Reset()
	m.vmMemory.Reset()
	m.vmProcesses.Reset()
	for vmID, u := range usage {
		m.vmCPU.WithLabelValues(vmID).Set(u.CPUUsage)
		m.vmMemory.WithLabelValues(vmID).Set(u.MemoryUsage)
		m.vmProcesses.WithLabelValues(vmID).Set(float64(u.ProcessCount))
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Middleware records request count and latency per matched route.
func (m *Metrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		// Unmatched paths share a label to keep cardinality bounded.
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())

		m.httpReqsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		m.httpReqDur.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}
