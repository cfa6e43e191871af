package service

import (
	"context"
	"log/slog"
	"time"

	"nfcunha/fcvmd/core/models"
	"nfcunha/fcvmd/utils/procscan"
)

// MetricsService derives daemon-wide and per-VM metrics. Nothing is cached:
// uptime and the current VM count are computed at read time, and resource
// usage comes from a live process table scan.
type MetricsService struct {
	registry  *Registry
	scanner   procscan.Scanner
	marker    string
	startedAt time.Time
	now       func() time.Time
	logger    *slog.Logger
}

// NewMetricsService creates a metrics service whose uptime is measured from
// startedAt.
func NewMetricsService(registry *Registry, scanner procscan.Scanner, marker string, startedAt time.Time, logger *slog.Logger) *MetricsService {
	if logger == nil {
		logger = slog.Default()
	}
	if marker == "" {
		marker = procscan.DefaultMarker
	}

	return &MetricsService{
		registry:  registry,
		scanner:   scanner,
		marker:    marker,
		startedAt: startedAt,
		now:       time.Now,
		logger:    logger,
	}
}

// Snapshot returns the counters together with the daemon uptime.
func (s *MetricsService) Snapshot() models.MetricsSnapshot {
	return s.snapshotFrom(s.registry.Counters())
}

func (s *MetricsService) snapshotFrom(counters models.Counters) models.MetricsSnapshot {
	now := s.now()
	return models.MetricsSnapshot{
		Counters:      counters,
		StartedAt:     s.startedAt,
		UptimeSeconds: now.Sub(s.startedAt).Seconds(),
		Timestamp:     now,
	}
}

// FullSnapshot returns Snapshot with per-VM metrics for every known VM
// embedded. Records and counters come from one registry view.
func (s *MetricsService) FullSnapshot(ctx context.Context) models.MetricsSnapshot {
	records, counters := s.registry.View()
	snapshot := s.snapshotFrom(counters)
	snapshot.VMMetrics = s.metricsFor(records, s.scan(ctx))
	return snapshot
}

// VMMetrics returns the metrics of one VM. An unknown vmID reports status
// unknown and zero usage.
func (s *MetricsService) VMMetrics(ctx context.Context, vmID string) models.VMMetrics {
	record, ok := s.registry.Get(vmID)
	if !ok {
		record = models.VMRecord{Status: models.VMStatusUnknown}
	}
	return s.vmMetrics(vmID, record, s.scan(ctx))
}

// AllVMMetrics returns the metrics of every known VM from a single scan.
func (s *MetricsService) AllVMMetrics(ctx context.Context) map[string]models.VMMetrics {
	return s.metricsFor(s.registry.Snapshot(), s.scan(ctx))
}

func (s *MetricsService) metricsFor(records models.VMRecordSet, processes []procscan.Process) map[string]models.VMMetrics {
	out := make(map[string]models.VMMetrics, len(records))
	for vmID, record := range records {
		out[vmID] = s.vmMetrics(vmID, record, processes)
	}
	return out
}

func (s *MetricsService) vmMetrics(vmID string, record models.VMRecord, processes []procscan.Process) models.VMMetrics {
	matched := procscan.Filter(processes, vmID, s.marker)
	cpu, mem := procscan.Usage(matched)

	var uptime float64
	if record.CreatedAt != nil {
		uptime = s.now().Sub(*record.CreatedAt).Seconds()
	}

	return models.VMMetrics{
		Status:       record.Status,
		CPUUsage:     cpu,
		MemoryUsage:  mem,
		Uptime:       uptime,
		ProcessCount: len(matched),
	}
}

// scan returns the process table, or nil when it cannot be read. Usage then
// reports zero.
func (s *MetricsService) scan(ctx context.Context) []procscan.Process {
	if s.scanner == nil {
		return nil
	}

	processes, err := s.scanner.Scan(ctx)
	if err != nil {
		s.logger.Warn("Process scan failed", "error", err)
		return nil
	}
	return processes
}
