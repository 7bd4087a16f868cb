package statistics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Statistics accumulates counters for one optimization run. Counters are
// updated atomically so a live summary can be read while the run progresses.
type Statistics struct {
	RunID string

	TotalFilesFound     int64
	TotalFilesProcessed int64
	FilesOptimized      int64
	FilesWithinTarget   int64
	FilesOverTarget     int64
	FilesWithErrors     int64
	FilesDeleted        int64

	EncodeAttempts int64
	BytesIn        int64
	BytesOut       int64

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	Errors []StatError

	mutex sync.RWMutex

	FormatStats map[string]int64
}

// StatError represents an error that occurred during processing.
type StatError struct {
	FilePath  string
	Operation string
	Error     string
	Timestamp time.Time
}

// Summary is a point-in-time copy of the run totals.
type Summary struct {
	RunID        string        `json:"run_id"`
	TotalFiles   int64         `json:"total_files"`
	Processed    int64         `json:"processed"`
	Optimized    int64         `json:"optimized"`
	WithinTarget int64         `json:"within_target"`
	OverTarget   int64         `json:"over_target"`
	Failed       int64         `json:"failed"`
	Deleted      int64         `json:"deleted"`
	Attempts     int64         `json:"attempts"`
	BytesIn      int64         `json:"bytes_in"`
	BytesOut     int64         `json:"bytes_out"`
	Duration     time.Duration `json:"duration"`

	// Formats counts written outputs per output format.
	Formats map[string]int64 `json:"formats,omitempty"`
}

// NewStatistics returns a new Statistics instance.
func NewStatistics(runID string) *Statistics {
	return &Statistics{
		RunID:       runID,
		StartTime:   time.Now(),
		FormatStats: make(map[string]int64),
		Errors:      make([]StatError, 0),
	}
}

// SetFilesFound records the number of discovered files.
func (s *Statistics) SetFilesFound(n int) {
	atomic.StoreInt64(&s.TotalFilesFound, int64(n))
}

// IncrementFilesProcessed increases the count of processed files by 1.
func (s *Statistics) IncrementFilesProcessed() {
	atomic.AddInt64(&s.TotalFilesProcessed, 1)
}

// RecordOptimized records a written output. withinTarget reports whether the
// output fits the byte budget.
func (s *Statistics) RecordOptimized(withinTarget bool, attempts int, bytesIn, bytesOut int64) {
	atomic.AddInt64(&s.FilesOptimized, 1)
	if withinTarget {
		atomic.AddInt64(&s.FilesWithinTarget, 1)
	} else {
		atomic.AddInt64(&s.FilesOverTarget, 1)
	}
	atomic.AddInt64(&s.EncodeAttempts, int64(attempts))
	atomic.AddInt64(&s.BytesIn, bytesIn)
	atomic.AddInt64(&s.BytesOut, bytesOut)
}

// IncrementFilesDeleted increases the count of deleted output files by 1.
func (s *Statistics) IncrementFilesDeleted() {
	atomic.AddInt64(&s.FilesDeleted, 1)
}

// IncrementFormat increases the count for an output format by 1.
func (s *Statistics) IncrementFormat(format string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.FormatStats[format]++
}

// AddError records a per-file failure.
func (s *Statistics) AddError(filePath, operation, errorMsg string) {
	atomic.AddInt64(&s.FilesWithErrors, 1)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Errors = append(s.Errors, StatError{
		FilePath:  filePath,
		Operation: operation,
		Error:     errorMsg,
		Timestamp: time.Now(),
	})
}

// Finalize stamps the end time and duration of the run.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)
}

// Snapshot returns the current totals.
func (s *Statistics) Snapshot() Summary {
	s.mutex.RLock()
	duration := s.Duration
	if s.EndTime.IsZero() {
		duration = time.Since(s.StartTime)
	}
	var formats map[string]int64
	if len(s.FormatStats) > 0 {
		formats = make(map[string]int64, len(s.FormatStats))
		for f, n := range s.FormatStats {
			formats[f] = n
		}
	}
	s.mutex.RUnlock()

	return Summary{
		RunID:        s.RunID,
		TotalFiles:   atomic.LoadInt64(&s.TotalFilesFound),
		Processed:    atomic.LoadInt64(&s.TotalFilesProcessed),
		Optimized:    atomic.LoadInt64(&s.FilesOptimized),
		WithinTarget: atomic.LoadInt64(&s.FilesWithinTarget),
		OverTarget:   atomic.LoadInt64(&s.FilesOverTarget),
		Failed:       atomic.LoadInt64(&s.FilesWithErrors),
		Deleted:      atomic.LoadInt64(&s.FilesDeleted),
		Attempts:     atomic.LoadInt64(&s.EncodeAttempts),
		BytesIn:      atomic.LoadInt64(&s.BytesIn),
		BytesOut:     atomic.LoadInt64(&s.BytesOut),
		Duration:     duration,
		Formats:      formats,
	}
}

// Line returns the one-line completion message.
func (sum Summary) Line() string {
	return fmt.Sprintf("Optimization complete. Total files: %d, Optimized: %d", sum.TotalFiles, sum.Optimized)
}

// SpaceSaved returns the byte difference between inputs and outputs of the
// written files. Negative means outputs grew.
func (sum Summary) SpaceSaved() int64 {
	return sum.BytesIn - sum.BytesOut
}

// GetSummary returns a formatted multi-line summary of the run.
func (s *Statistics) GetSummary() string {
	sum := s.Snapshot()
	return fmt.Sprintf(`Image Optimizer Statistics Summary:

Files:
		Total Found: %d
		Processed: %d
		Optimized: %d
		Within Target: %d
		Over Target: %d
		Errors: %d
		Deleted: %d

Encoding:
		Attempts: %d
		Bytes In: %s
		Bytes Out: %s
		Space Saved: %s

Performance:
		Duration: %v`,
		sum.TotalFiles,
		sum.Processed,
		sum.Optimized,
		sum.WithinTarget,
		sum.OverTarget,
		sum.Failed,
		sum.Deleted,
		sum.Attempts,
		formatBytes(sum.BytesIn),
		formatBytes(sum.BytesOut),
		formatBytes(sum.SpaceSaved()),
		sum.Duration.Round(time.Millisecond))
}

// GetFormatBreakdown returns a formatted breakdown of output formats.
func (s *Statistics) GetFormatBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.FormatStats) == 0 {
		return "No format statistics available"
	}

	formats := make([]string, 0, len(s.FormatStats))
	for f := range s.FormatStats {
		formats = append(formats, f)
	}
	sort.Strings(formats)

	var b strings.Builder
	b.WriteString("Format Breakdown:\n")
	for _, f := range formats {
		fmt.Fprintf(&b, "  %s: %d\n", f, s.FormatStats[f])
	}
	return b.String()
}

// GetErrorSummary returns a summary of errors that occurred during processing.
func (s *Statistics) GetErrorSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.Errors) == 0 {
		return "No errors occurred during processing"
	}

	result := fmt.Sprintf("Errors (%d total):\n", len(s.Errors))
	for i, err := range s.Errors {
		if i >= 10 {
			result += fmt.Sprintf("  ... and %d more errors\n", len(s.Errors)-10)
			break
		}
		result += fmt.Sprintf("  [%s] %s: %s - %s\n",
			err.Timestamp.Format("15:04:05"),
			err.Operation,
			err.FilePath,
			err.Error)
	}
	return result
}

// formatBytes returns a human-readable string for a byte count.
func formatBytes(bytes int64) string {
	const unit = 1024
	sign := ""
	if bytes < 0 {
		sign = "-"
		bytes = -bytes
	}
	if bytes < unit {
		return fmt.Sprintf("%s%d B", sign, bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%s%.1f %cB", sign, float64(bytes)/float64(div), "KMGTPE"[exp])
}
