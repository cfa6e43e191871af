package procscan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/procfs"

	"nfcunha/fcvmd/utils/sanitize"
)

// DefaultMountPoint is where the host proc filesystem is mounted.
const DefaultMountPoint = procfs.DefaultMountPoint

// clockTicks is USER_HZ, the unit of the times in /proc/<pid>/stat. procfs
// assumes the same value.
const clockTicks = 100

// ProcfsScanner is a Scanner that reads /proc directly. Percentages follow
// ps: CPU is lifetime CPU time over wall time since start, memory is
// resident size over total RAM.
type ProcfsScanner struct {
	fs  procfs.FS
	now func() time.Time
}

// NewProcfsScanner creates a scanner over the proc filesystem mounted at
// mountPoint.
func NewProcfsScanner(mountPoint string) (*ProcfsScanner, error) {
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("failed to open proc filesystem %s: %w", mountPoint, err)
	}
	return &ProcfsScanner{fs: fs, now: time.Now}, nil
}

// Scan snapshots every process. Processes that exit while being read are
// skipped.
func (s *ProcfsScanner) Scan(ctx context.Context) ([]Process, error) {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}

	kernel, err := s.fs.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to read kernel stats: %w", err)
	}

	var memTotal float64
	if meminfo, err := s.fs.Meminfo(); err == nil && meminfo.MemTotalBytes != nil {
		memTotal = float64(*meminfo.MemTotalBytes)
	}

	now := float64(s.now().UnixNano()) / float64(time.Second)

	processes := make([]Process, 0, len(procs))
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		stat, err := p.Stat()
		if err != nil {
			continue
		}
		cmdline, err := p.CmdLine()
		if err != nil {
			continue
		}

		command := strings.Join(cmdline, " ")
		if command == "" {
			command = "[" + stat.Comm + "]"
		}
		command = sanitize.Sanitize(command)

		var cpu, mem float64
		started := float64(kernel.BootTime) + float64(stat.Starttime)/clockTicks
		if elapsed := now - started; elapsed > 0 {
			cpu = stat.CPUTime() / elapsed * 100
		}
		if memTotal > 0 {
			mem = float64(stat.ResidentMemory()) / memTotal * 100
		}

		processes = append(processes, Process{
			PID:        p.PID,
			CPUPercent: cpu,
			MemPercent: mem,
			Command:    command,
			Line:       fmt.Sprintf("%d %.1f %.1f %s", p.PID, cpu, mem, command),
		})
	}

	return processes, nil
}
