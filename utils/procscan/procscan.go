// Package procscan takes snapshots of the host process table and filters them
// down to the processes backing a given VM.
package procscan

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"nfcunha/fcvmd/utils/sanitize"
)

// DefaultMarker identifies virtualization processes in the process table.
const DefaultMarker = "firecracker"

// Process is one row of a process table snapshot. Line is the sanitized row
// that Filter matches against: the ps row for PSScanner, "PID %CPU %MEM
// COMMAND" for ProcfsScanner.
type Process struct {
	PID        int
	CPUPercent float64
	MemPercent float64
	Command    string
	Line       string
}

// Scanner lists the processes currently running on the host.
type Scanner interface {
	Scan(ctx context.Context) ([]Process, error)
}

// PSScanner is a Scanner backed by `ps aux`, for hosts without a readable
// proc filesystem.
type PSScanner struct {
	Path    string
	Timeout time.Duration
}

// NewPSScanner creates a scanner that runs ps with a 10 second timeout.
func NewPSScanner() *PSScanner {
	return &PSScanner{
		Path:    "ps",
		Timeout: 10 * time.Second,
	}
}

// Scan runs ps and parses its output.
func (s *PSScanner) Scan(ctx context.Context) ([]Process, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	out, err := exec.CommandContext(ctx, s.Path, "aux").Output()
	if err != nil {
		return nil, fmt.Errorf("failed to list processes: %w", err)
	}
	return Parse(string(out)), nil
}

// Parse parses `ps aux` output. The header row and malformed rows are
// skipped. Every returned line is sanitized since process arguments may carry
// credentials.
func Parse(output string) []Process {
	var processes []Process

	scanner := bufio.NewScanner(strings.NewReader(output))
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		fields := strings.Fields(line)
		// USER PID %CPU %MEM VSZ RSS TTY STAT START TIME COMMAND...
		if len(fields) < 11 {
			continue
		}

		pid, err := strconv.Atoi(fields[1])
		if err != nil {
			continue
		}
		cpu, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			continue
		}
		mem, err := strconv.ParseFloat(fields[3], 64)
		if err != nil {
			continue
		}

		processes = append(processes, Process{
			PID:        pid,
			CPUPercent: cpu,
			MemPercent: mem,
			Command:    sanitize.Sanitize(strings.Join(fields[10:], " ")),
			Line:       sanitize.Sanitize(line),
		})
	}

	return processes
}

// Filter returns the processes whose row mentions both vmID and marker.
func Filter(processes []Process, vmID, marker string) []Process {
	if vmID == "" {
		return nil
	}

	var matched []Process
	for _, p := range processes {
		if strings.Contains(p.Line, vmID) && strings.Contains(p.Line, marker) {
			matched = append(matched, p)
		}
	}
	return matched
}

// Usage sums CPU and memory percentages over processes.
func Usage(processes []Process) (cpu, mem float64) {
	for _, p := range processes {
		cpu += p.CPUPercent
		mem += p.MemPercent
	}
	return cpu, mem
}
