package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"nfcunha/fcvmd/core/models"
	"nfcunha/fcvmd/utils/executor"
	"nfcunha/fcvmd/utils/logging"
	"nfcunha/fcvmd/utils/procscan"
)

// fakeRunner answers executable calls by verb and records every argv.
type fakeRunner struct {
	mu      sync.Mutex
	results map[string]executor.Result
	calls   [][]string
	hook    func(args []string)
}

func newFakeRunner() *fakeRunner {
	return &fakeRunner{results: make(map[string]executor.Result)}
}

func (r *fakeRunner) on(verb string, result executor.Result) *fakeRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[verb] = result
	return r
}

func (r *fakeRunner) Execute(_ context.Context, _ time.Duration, args ...string) executor.Result {
	r.mu.Lock()
	r.calls = append(r.calls, append([]string(nil), args...))
	result, ok := r.results[args[0]]
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		hook(args)
	}
	if !ok {
		return executor.Result{Success: true}
	}
	return result
}

func (r *fakeRunner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]string(nil), r.calls...)
}

type fakeScanner struct {
	processes []procscan.Process
	err       error
}

func (s *fakeScanner) Scan(context.Context) ([]procscan.Process, error) {
	return s.processes, s.err
}

type fakeRecorder struct {
	mu   sync.Mutex
	logs []*models.ActionLog
	err  error
}

func (r *fakeRecorder) Create(log *models.ActionLog) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	log.ID = int64(len(r.logs) + 1)
	r.logs = append(r.logs, log)
	return nil
}

func (r *fakeRecorder) GetByResource(resourceType, resourceID string, limit int) ([]*models.ActionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []*models.ActionLog{}
	for i := len(r.logs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.logs[i].ResourceType == resourceType && r.logs[i].ResourceID == resourceID {
			out = append(out, r.logs[i])
		}
	}
	return out, nil
}

func (r *fakeRecorder) GetRecent(limit int) ([]*models.ActionLog, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := []*models.ActionLog{}
	for i := len(r.logs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, r.logs[i])
	}
	return out, nil
}

var errScan = errors.New("ps unavailable")

var okResult = executor.Result{Success: true, Stdout: "done"}

var failedResult = executor.Result{Success: false, ExitCode: 1, Stderr: "launch failed: no capacity"}

type testEnv struct {
	runner   *fakeRunner
	scanner  *fakeScanner
	recorder *fakeRecorder
	registry *Registry
	logs     *LogService
	metrics  *MetricsService
	vms      *VMService
}

func newTestEnv(logDirs ...string) *testEnv {
	logger := logging.Discard()
	env := &testEnv{
		runner:   newFakeRunner(),
		scanner:  &fakeScanner{},
		recorder: &fakeRecorder{},
		registry: NewRegistry(),
	}
	env.logs = NewLogService(LogServiceOptions{Dirs: logDirs, MaxBytes: 1024}, env.scanner, logger)
	env.metrics = NewMetricsService(env.registry, env.scanner, "", time.Now().Add(-time.Minute), logger)
	env.vms = NewVMService(env.runner, env.registry, env.logs, env.metrics, env.recorder, nil, VMServiceOptions{
		ArcControllerURL: "http://arc:30080",
		CreateTimeout:    time.Second,
		CommandTimeout:   time.Second,
		QueryTimeout:     time.Second,
	}, logger)
	return env
}
