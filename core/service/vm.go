package service

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"nfcunha/fcvmd/core/models"
	"nfcunha/fcvmd/core/telemetry"
	"nfcunha/fcvmd/utils/executor"
	"nfcunha/fcvmd/utils/sanitize"

	"github.com/google/uuid"
)

// Verbs understood by the VM-control executable.
const (
	verbLaunch = "launch"
	verbStop   = "stop"
	verbStatus = "status"
	verbList   = "list"
)

const (
	messageCreated       = "VM created successfully"
	messageCreateFailed  = "VM creation failed"
	messageDeleted       = "VM deleted successfully"
	messageDeleteFailed  = "VM deletion failed"
	resourceTypeVM       = "vm"
	defaultActionHistory = 50
)

// commandRunner invokes the VM-control executable.
type commandRunner interface {
	Execute(ctx context.Context, timeout time.Duration, args ...string) executor.Result
}

// ActionRecorder persists the action audit trail. It is satisfied by
// repository.ActionLogRepository.
type ActionRecorder interface {
	Create(log *models.ActionLog) error
	GetByResource(resourceType, resourceID string, limit int) ([]*models.ActionLog, error)
	GetRecent(limit int) ([]*models.ActionLog, error)
}

// VMServiceOptions carries the executable timeouts and launch settings.
type VMServiceOptions struct {
	ArcControllerURL string
	CreateTimeout    time.Duration
	CommandTimeout   time.Duration
	QueryTimeout     time.Duration
}

// CreateResult is the outcome of CreateVM.
type CreateResult struct {
	VMID    string          `json:"vm_id"`
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Details executor.Result `json:"details"`
}

// DeleteResult is the outcome of DeleteVM.
type DeleteResult struct {
	VMID    string `json:"vm_id"`
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatusResult is the outcome of GetVMStatus. Status is the registry's view;
// Details is the executable's live answer, which may disagree.
type StatusResult struct {
	VMID    string          `json:"vm_id"`
	Success bool            `json:"success"`
	Status  models.VMStatus `json:"status"`
	Details string          `json:"details"`
	VMInfo  any             `json:"vm_info"`
}

// ListResult is the outcome of ListVMs.
type ListResult struct {
	Success    bool                   `json:"success"`
	VMs        models.VMRecordSet     `json:"vms"`
	HostStatus string                 `json:"host_status"`
	Metrics    models.MetricsSnapshot `json:"metrics"`
	Details    executor.Result        `json:"details"`
}

// VMService drives the VM lifecycle through the VM-control executable and
// keeps the registry in step with it.
//
// Thread Safety: Safe for concurrent use. No lock is held while the
// executable runs.
type VMService struct {
	runner    commandRunner
	registry  *Registry
	logs      *LogService
	metrics   *MetricsService
	actions   ActionRecorder
	telemetry *telemetry.Metrics
	opts      VMServiceOptions
	now       func() time.Time
	logger    *slog.Logger
}

// NewVMService creates a VM service. actions and prom may be nil.
func NewVMService(
	runner commandRunner,
	registry *Registry,
	logs *LogService,
	metrics *MetricsService,
	actions ActionRecorder,
	prom *telemetry.Metrics,
	opts VMServiceOptions,
	logger *slog.Logger,
) *VMService {
	if logger == nil {
		logger = slog.Default()
	}

	return &VMService{
		runner:    runner,
		registry:  registry,
		logs:      logs,
		metrics:   metrics,
		actions:   actions,
		telemetry: prom,
		opts:      opts,
		now:       time.Now,
		logger:    logger,
	}
}

// NewVMID generates an identifier of the form vm-<8 hex chars>.
func NewVMID() string {
	return "vm-" + uuid.NewString()[:8]
}

// CreateVM asks the executable to launch a VM. A record is written either
// way: running on success, failed otherwise. The raw token is only passed on
// the executable's command line; the stored spec is redacted.
func (s *VMService) CreateVM(ctx context.Context, spec models.VMSpec) CreateResult {
	spec = spec.WithDefaults()
	if spec.VMID == "" {
		spec.VMID = NewVMID()
	}
	vmID := spec.VMID

	s.logger.Info("Creating VM", "vm_id", vmID, "memory_mb", spec.MemoryMB, "vcpus", spec.VCPUs, "labels", sanitize.Sanitize(spec.Labels))

	result := s.runner.Execute(ctx, s.opts.CreateTimeout, s.launchArgs(spec)...)
	s.observe(verbLaunch, vmID, result)

	now := s.now()
	stored := spec.Redacted()
	s.logs.RecordCreation(vmID, result, now)

	if !result.Success {
		s.registry.RecordFailed(vmID, stored, now)
		s.logger.Warn("VM creation failed", "vm_id", vmID, "exit_code", result.ExitCode, "stderr", result.Stderr)

		message := strings.TrimSpace(result.Stderr)
		if message == "" {
			message = messageCreateFailed
		}
		return CreateResult{VMID: vmID, Success: false, Message: message, Details: result}
	}

	s.registry.RecordCreated(vmID, stored, now)
	s.logger.Info("VM created", "vm_id", vmID, "duration", result.Duration)
	return CreateResult{VMID: vmID, Success: true, Message: messageCreated, Details: result}
}

// launchArgs builds the launch command line. It is the only place the raw
// token is used.
func (s *VMService) launchArgs(spec models.VMSpec) []string {
	args := []string{
		verbLaunch,
		"--name", spec.VMID,
		"--github-url", spec.GitHubURL,
		"--github-token", spec.GitHubToken,
		"--labels", spec.Labels,
		"--memory", strconv.Itoa(spec.MemoryMB),
		"--cpus", strconv.Itoa(spec.VCPUs),
		"--use-host-bridge",
		"--arc-mode",
		"--arc-controller-url", s.opts.ArcControllerURL,
	}
	if spec.IsEphemeral() {
		args = append(args, "--ephemeral-mode")
	}
	return args
}

// DeleteVM asks the executable to stop a VM. A known VM is marked deleted
// whatever the executable reports; an unknown one is left untouched.
func (s *VMService) DeleteVM(ctx context.Context, vmID string) DeleteResult {
	s.logger.Info("Deleting VM", "vm_id", vmID)

	result := s.runner.Execute(ctx, s.opts.CommandTimeout, verbStop, vmID)
	s.observe(verbStop, vmID, result)

	if _, known := s.registry.MarkDeleted(vmID, s.now()); known {
		s.logs.RecordDeletion(vmID, result)
	} else {
		s.logger.Info("Stop requested for unknown VM", "vm_id", vmID, "success", result.Success)
	}

	if !result.Success {
		message := strings.TrimSpace(result.Stderr)
		if message == "" {
			message = messageDeleteFailed
		}
		return DeleteResult{VMID: vmID, Success: false, Message: message}
	}
	return DeleteResult{VMID: vmID, Success: true, Message: messageDeleted}
}

// GetVMStatus returns the registry state of vmID alongside the executable's
// live status output. It never mutates the registry.
func (s *VMService) GetVMStatus(ctx context.Context, vmID string) StatusResult {
	result := s.runner.Execute(ctx, s.opts.QueryTimeout, verbStatus, vmID)

	status := StatusResult{
		VMID:    vmID,
		Success: result.Success,
		Status:  models.VMStatusUnknown,
		Details: result.Stdout,
		VMInfo:  struct{}{},
	}
	if record, ok := s.registry.Get(vmID); ok {
		status.Status = record.Status
		status.VMInfo = record
	}
	return status
}

// ListVMs returns every record, the executable's host listing and the
// metrics snapshot.
func (s *VMService) ListVMs(ctx context.Context) ListResult {
	result := s.runner.Execute(ctx, s.opts.QueryTimeout, verbList)

	records, counters := s.registry.View()
	return ListResult{
		Success:    result.Success,
		VMs:        records,
		HostStatus: result.Stdout,
		Metrics:    s.metrics.snapshotFrom(counters),
		Details:    result,
	}
}

// AuditEnabled reports whether actions are persisted.
func (s *VMService) AuditEnabled() bool {
	return s.actions != nil
}

// GetActions returns the most recent audit entries for vmID, newest first.
// It returns an empty list when the audit trail is disabled.
func (s *VMService) GetActions(vmID string, limit int) ([]*models.ActionLog, error) {
	if s.actions == nil {
		return []*models.ActionLog{}, nil
	}
	if limit <= 0 {
		limit = defaultActionHistory
	}
	return s.actions.GetByResource(resourceTypeVM, vmID, limit)
}

// RecentActions returns the most recent audit entries across all VMs.
func (s *VMService) RecentActions(limit int) ([]*models.ActionLog, error) {
	if s.actions == nil {
		return []*models.ActionLog{}, nil
	}
	if limit <= 0 {
		limit = defaultActionHistory
	}
	return s.actions.GetRecent(limit)
}

// observe records an invocation in the metrics and the audit trail. Audit
// failures are logged, never returned.
func (s *VMService) observe(action, vmID string, result executor.Result) {
	s.telemetry.ObserveAction(action, result.Success, result.Duration)

	if s.actions == nil {
		return
	}

	entry := &models.ActionLog{
		ActionType:   action,
		ResourceType: resourceTypeVM,
		ResourceID:   vmID,
		Success:      result.Success,
		ExitCode:     result.ExitCode,
		DurationMS:   result.Duration.Milliseconds(),
		ExecutedAt:   s.now(),
	}
	if !result.Success {
		entry.ErrorMessage = sanitize.Sanitize(strings.TrimSpace(result.Stderr))
	}

	if err := s.actions.Create(entry); err != nil {
		s.logger.Error("Failed to record action", "action", action, "vm_id", vmID, "error", err)
	}
}
