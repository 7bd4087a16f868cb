// Package optimizer re-encodes a single image at decreasing quality until it
// fits under a byte budget.
package optimizer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"image-optimizer-go/internal/codec"
)

const (
	// DefaultTargetSize is the byte budget used when a task sets none.
	DefaultTargetSize int64 = 100000

	StartQuality = 100
	QualityStep  = 5

	// MaxAttempts bounds the number of encodes per image.
	MaxAttempts = StartQuality / QualityStep

	outputSuffix = "-optimized"
)

// Task describes one image to optimize.
type Task struct {
	SourcePath string
	Format     codec.Target
	TargetSize int64
}

// budget returns the effective target size of the task.
func (t Task) budget() int64 {
	if t.TargetSize <= 0 {
		return DefaultTargetSize
	}
	return t.TargetSize
}

// Result describes the outcome of optimizing a single image. A Result is only
// returned once its output file has been written.
type Result struct {
	SourcePath   string
	OutputPath   string
	Format       codec.Format
	OriginalSize int64
	Size         int64
	Quality      int
	Attempts     int
	TargetSize   int64
	Success      bool // Size <= TargetSize
	StartedAt    time.Time
	FinishedAt   time.Time
}

// Optimizer defines the interface for size-targeted image optimization.
type Optimizer interface {
	Optimize(ctx context.Context, task Task) (Result, error)
}

// Error reports a failure while optimizing a single file.
type Error struct {
	Path string
	Op   string // decode, encode, write or cancel
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// OutputPath returns the path the optimized version of source is written to:
// the final extension is replaced by "-optimized.<format>".
func OutputPath(source string, format codec.Format) string {
	stem := strings.TrimSuffix(source, filepath.Ext(source))
	return stem + outputSuffix + "." + format.Extension()
}

// IsOutputPath reports whether path looks like a file written by the optimizer.
func IsOutputPath(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(strings.TrimSuffix(base, filepath.Ext(base)), outputSuffix)
}
