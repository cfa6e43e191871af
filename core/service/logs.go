package service

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"nfcunha/fcvmd/core/models"
	"nfcunha/fcvmd/utils/executor"
	"nfcunha/fcvmd/utils/procscan"
	"nfcunha/fcvmd/utils/sanitize"
)

// LogServiceOptions configures a LogService.
type LogServiceOptions struct {
	// Dirs are the candidate directories searched for VM log files.
	Dirs []string
	// MaxBytes caps every collected category; older content is dropped.
	MaxBytes int
	// Marker identifies virtualization processes in the process table.
	Marker string
}

// fileEntry is the cached contribution of one log file. It is reused as
// long as the file's modification time and size are unchanged.
type fileEntry struct {
	modTime  time.Time
	size     int64
	category models.LogCategory
	content  string
}

// LogService merges stored executor output with log files and process table
// rows collected on demand.
//
// Thread Safety: Safe for concurrent use.
type LogService struct {
	opts    LogServiceOptions
	scanner procscan.Scanner
	logger  *slog.Logger
	now     func() time.Time

	mu     sync.Mutex
	stored map[string]*models.StoredLogs
	files  map[string]map[string]fileEntry // vmID -> path -> entry
}

// NewLogService creates a new log service.
func NewLogService(opts LogServiceOptions, scanner procscan.Scanner, logger *slog.Logger) *LogService {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Marker == "" {
		opts.Marker = procscan.DefaultMarker
	}
	if opts.MaxBytes <= 0 {
		opts.MaxBytes = 256 * 1024
	}

	return &LogService{
		opts:    opts,
		scanner: scanner,
		logger:  logger,
		now:     time.Now,
		stored:  make(map[string]*models.StoredLogs),
		files:   make(map[string]map[string]fileEntry),
	}
}

// RecordCreation stores the output of a launch call, replacing whatever was
// stored for vmID before.
func (s *LogService) RecordCreation(vmID string, result executor.Result, at time.Time) {
	createdAt := at
	logs := &models.StoredLogs{
		CreationLog:    sanitize.Sanitize(result.Stdout),
		CreationErrors: sanitize.Sanitize(result.Stderr),
		CreatedAt:      &createdAt,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stored[vmID] = logs
	delete(s.files, vmID)
}

// RecordDeletion stores the output of a stop call next to the creation logs.
func (s *LogService) RecordDeletion(vmID string, result executor.Result) {
	s.mu.Lock()
	defer s.mu.Unlock()

	logs, ok := s.stored[vmID]
	if !ok {
		logs = &models.StoredLogs{}
		s.stored[vmID] = logs
	}
	logs.DeletionLog = sanitize.Sanitize(result.Stdout)
	logs.DeletionErrors = sanitize.Sanitize(result.Stderr)
}

// GetLogs returns the merged log bundle for vmID. Sources are applied in
// increasing precedence: stored creation/deletion output, log files, then
// matching process table rows appended to the generic VM log. Missing files
// and processes are not errors; an unknown vmID yields a bundle holding only
// collected_at.
func (s *LogService) GetLogs(ctx context.Context, vmID string) models.LogBundle {
	bundle := models.LogBundle{CollectedAt: s.now()}

	s.mu.Lock()
	if stored, ok := s.stored[vmID]; ok {
		bundle.CreationLog = stored.CreationLog
		bundle.CreationErrors = stored.CreationErrors
		bundle.DeletionLog = stored.DeletionLog
		bundle.DeletionErrors = stored.DeletionErrors
		bundle.CreatedAt = stored.CreatedAt
	}
	s.mu.Unlock()

	var (
		fileLogs    map[models.LogCategory]string
		processRows string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		fileLogs = s.collectFiles(vmID)
		return nil
	})
	g.Go(func() error {
		rows, err := s.collectProcesses(gctx, vmID)
		processRows = rows
		return err
	})
	// Only the process scan can fail; file logs are kept either way.
	if err := g.Wait(); err != nil {
		s.logger.Debug("Process scan failed", "vm_id", vmID, "error", err)
	}

	for _, category := range collectedCategories {
		if text, ok := fileLogs[category]; ok && text != "" {
			bundle.Set(category, text)
		}
	}

	if processRows != "" {
		if bundle.VMLog != "" {
			bundle.VMLog += "\n"
		}
		bundle.VMLog += processRows
	}

	for _, category := range collectedCategories {
		bundle.Set(category, tail(bundle.Get(category), s.opts.MaxBytes))
	}

	return bundle
}

var collectedCategories = []models.LogCategory{
	models.LogCategoryStartup,
	models.LogCategoryFirecracker,
	models.LogCategoryConsole,
	models.LogCategoryVM,
}

// categorize maps a log file name to its bundle category.
func categorize(path string) models.LogCategory {
	name := strings.ToLower(filepath.Base(path))
	switch {
	case strings.Contains(name, "startup"):
		return models.LogCategoryStartup
	case strings.Contains(name, "firecracker"):
		return models.LogCategoryFirecracker
	case strings.Contains(name, "console"):
		return models.LogCategoryConsole
	default:
		return models.LogCategoryVM
	}
}

// collectFiles reads the log files belonging to vmID. Files whose
// modification time and size match the previous pass are not re-read, and
// files that disappeared drop out of the result.
func (s *LogService) collectFiles(vmID string) map[models.LogCategory]string {
	if !safeIdentifier(vmID) {
		return nil
	}

	paths := s.matchLogFiles(vmID)

	s.mu.Lock()
	previous := s.files[vmID]
	s.mu.Unlock()

	current := make(map[string]fileEntry, len(paths))
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			continue
		}

		if entry, ok := previous[path]; ok && entry.modTime.Equal(info.ModTime()) && entry.size == info.Size() {
			current[path] = entry
			continue
		}

		raw, truncated, err := readTail(path, int64(s.opts.MaxBytes+tailOverlap))
		if err != nil {
			s.logger.Debug("Skipping unreadable log file", "vm_id", vmID, "path", path, "error", err)
			continue
		}

		current[path] = fileEntry{
			modTime:  info.ModTime(),
			size:     info.Size(),
			category: categorize(path),
			content:  sanitizeTail(raw, truncated, s.opts.MaxBytes),
		}
	}

	s.mu.Lock()
	if len(current) == 0 {
		delete(s.files, vmID)
	} else {
		s.files[vmID] = current
	}
	s.mu.Unlock()

	byCategory := make(map[models.LogCategory][]string)
	for _, path := range paths {
		entry, ok := current[path]
		if !ok || entry.content == "" {
			continue
		}
		byCategory[entry.category] = append(byCategory[entry.category], entry.content)
	}

	out := make(map[models.LogCategory]string, len(byCategory))
	for category, parts := range byCategory {
		out[category] = strings.Join(parts, "\n")
	}
	return out
}

// matchLogFiles globs every candidate directory for files named after vmID,
// returning a sorted, de-duplicated list.
func (s *LogService) matchLogFiles(vmID string) []string {
	escaped := escapeGlob(vmID)
	seen := make(map[string]struct{})

	for _, dir := range s.opts.Dirs {
		patterns := []string{
			filepath.Join(dir, escaped+"*.log"),
			filepath.Join(dir, escaped, "*.log"),
		}
		for _, pattern := range patterns {
			matches, err := filepath.Glob(pattern)
			if err != nil {
				continue
			}
			for _, m := range matches {
				seen[filepath.Clean(m)] = struct{}{}
			}
		}
	}

	paths := make([]string, 0, len(seen))
	for p := range seen {
		paths = append(paths, p)
	}
	slices.Sort(paths)
	return paths
}

// collectProcesses returns the process table rows mentioning vmID and the
// virtualization marker, one per line.
func (s *LogService) collectProcesses(ctx context.Context, vmID string) (string, error) {
	if s.scanner == nil || vmID == "" {
		return "", nil
	}

	processes, err := s.scanner.Scan(ctx)
	if err != nil {
		return "", err
	}

	matched := procscan.Filter(processes, vmID, s.opts.Marker)
	lines := make([]string, 0, len(matched))
	for _, p := range matched {
		lines = append(lines, p.Line)
	}
	return strings.Join(lines, "\n"), nil
}

// safeIdentifier reports whether vmID can be used inside a file path.
func safeIdentifier(vmID string) bool {
	if vmID == "" || vmID == "." || vmID == ".." {
		return false
	}
	return !strings.ContainsAny(vmID, `/\`) && !strings.Contains(vmID, "\x00")
}

// escapeGlob escapes glob metacharacters so vmID matches literally.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

// tailOverlap is read beyond the cap of a long file. It must exceed the
// longest credential the sanitizer recognizes, so that a credential cut by
// the read offset is removed rather than returned without its prefix.
const tailOverlap = 512

// readTail reads at most limit bytes from the end of the file at path and
// reports whether earlier content was skipped.
func readTail(path string, limit int64) (string, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", false, err
	}
	truncated := info.Size() > limit
	if truncated {
		if _, err := f.Seek(info.Size()-limit, io.SeekStart); err != nil {
			return "", false, err
		}
	}

	data, err := io.ReadAll(io.LimitReader(f, limit))
	if err != nil {
		return "", false, err
	}
	return string(data), truncated, nil
}

// sanitizeTail sanitizes raw and keeps at most limit bytes of the result.
// When raw was cut from a longer file, its leading tailOverlap bytes may hold
// the remainder of a credential the sanitizer cannot recognize on its own.
// That region is dropped after sanitizing, so credentials that straddle its
// end are still redacted as a whole.
func sanitizeTail(raw string, truncated bool, limit int) string {
	clean := sanitize.Sanitize(raw)
	if truncated {
		// Bytes before the first redaction are unchanged, so raw offsets
		// hold in clean up to that point.
		skip := min(tailOverlap, commonPrefixLen(raw, clean))
		for skip < len(clean) && !utf8.RuneStart(clean[skip]) {
			skip++
		}
		clean = clean[skip:]
	}
	return tail(clean, limit)
}

func commonPrefixLen(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

// tail keeps the last limit bytes of s without splitting a UTF-8 sequence.
func tail(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	start := len(s) - limit
	for start < len(s) && !utf8.RuneStart(s[start]) {
		start++
	}
	return s[start:]
}
