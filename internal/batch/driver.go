package batch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"image-optimizer-go/internal/codec"
	"image-optimizer-go/internal/logger"
	"image-optimizer-go/internal/optimizer"
	"image-optimizer-go/internal/statistics"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Options tune a Driver.
type Options struct {
	TargetSize  int64
	DeleteAfter bool // remove written outputs once the run completes

	Stdout io.Writer
	Stderr io.Writer

	// OnResult and OnError observe each file as it finishes.
	OnResult func(optimizer.Result)
	OnError  func(path string, err error)
}

// Driver optimizes every image a Finder reports, one file at a time.
type Driver struct {
	finder    Finder
	optimizer optimizer.Optimizer
	logger    logrus.FieldLogger
	opts      Options
}

// NewDriver returns a Driver.
func NewDriver(finder Finder, opt optimizer.Optimizer, log logrus.FieldLogger, opts Options) *Driver {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.TargetSize <= 0 {
		opts.TargetSize = optimizer.DefaultTargetSize
	}
	return &Driver{
		finder:    finder,
		optimizer: opt,
		logger:    log,
		opts:      opts,
	}
}

// Run optimizes every image below root under a fresh run ID.
func (d *Driver) Run(ctx context.Context, root string, format codec.Target) (statistics.Summary, error) {
	return d.RunWith(ctx, root, format, statistics.NewStatistics(uuid.NewString()))
}

// RunWith is Run accumulating into stats, which callers may read while the
// run is in progress. Only discovery failures are returned as errors; per-file
// failures are reported, counted and skipped.
func (d *Driver) RunWith(ctx context.Context, root string, format codec.Target, stats *statistics.Statistics) (statistics.Summary, error) {
	log := logger.WithRun(d.logger, stats.RunID)
	log.WithFields(logrus.Fields{
		"directory": root,
		"format":    format.String(),
		"target":    d.opts.TargetSize,
	}).Info("Starting optimization run")

	files, err := d.finder.Find(root)
	if err != nil {
		log.WithError(err).Error("File discovery failed")
		stats.Finalize()
		return stats.Snapshot(), err
	}
	stats.SetFilesFound(len(files))
	log.Infof("Found %d image files", len(files))

	var written []string
	for _, path := range files {
		if ctx.Err() != nil {
			log.Warn("Run interrupted")
			break
		}
		stats.IncrementFilesProcessed()

		res, err := d.optimizer.Optimize(ctx, optimizer.Task{
			SourcePath: path,
			Format:     format,
			TargetSize: d.opts.TargetSize,
		})
		if err != nil {
			d.reportError(log, stats, path, err)
			continue
		}

		written = append(written, res.OutputPath)
		stats.RecordOptimized(res.Success, res.Attempts, res.OriginalSize, res.Size)
		stats.IncrementFormat(res.Format.String())
		d.reportResult(log, res)
	}

	stats.Finalize()
	summary := stats.Snapshot()
	fmt.Fprintln(d.opts.Stdout, summary.Line())
	log.WithFields(logrus.Fields{
		"total":     summary.TotalFiles,
		"optimized": summary.Optimized,
		"failed":    summary.Failed,
	}).Info("Optimization run completed")

	if d.opts.DeleteAfter {
		d.deleteOutputs(log, stats, written)
		summary = stats.Snapshot()
	}
	return summary, nil
}

func (d *Driver) reportResult(log *logrus.Entry, res optimizer.Result) {
	entry := logger.WithFile(log, res.SourcePath).WithFields(logrus.Fields{
		"output":   res.OutputPath,
		"size":     res.Size,
		"quality":  res.Quality,
		"attempts": res.Attempts,
	})
	if res.Success {
		fmt.Fprintf(d.opts.Stdout, "Optimized %s to %s KB at quality %d\n", res.SourcePath, kilobytes(res.Size), res.Quality)
		entry.Info("Image optimized")
	} else {
		fmt.Fprintf(d.opts.Stdout, "Could not optimize %s to be under %s KB.\n", res.SourcePath, kilobytes(res.TargetSize))
		entry.Warn("Image over target, wrote lowest quality")
	}
	if d.opts.OnResult != nil {
		d.opts.OnResult(res)
	}
}

func (d *Driver) reportError(log *logrus.Entry, stats *statistics.Statistics, path string, err error) {
	op := "optimize"
	var optErr *optimizer.Error
	if errors.As(err, &optErr) {
		op = optErr.Op
	}
	fmt.Fprintf(d.opts.Stderr, "Error optimizing %s: %v\n", path, err)
	logger.WithFileOperation(log, path, op).WithError(err).Error("Image optimization failed")
	stats.AddError(path, op, err.Error())
	if d.opts.OnError != nil {
		d.opts.OnError(path, err)
	}
}

func (d *Driver) deleteOutputs(log *logrus.Entry, stats *statistics.Statistics, paths []string) {
	for _, path := range paths {
		if err := os.Remove(path); err != nil {
			fmt.Fprintf(d.opts.Stderr, "Error deleting %s: %v\n", path, err)
			logger.WithFileOperation(log, path, "delete").WithError(err).Error("Could not delete optimized file")
			continue
		}
		stats.IncrementFilesDeleted()
		fmt.Fprintf(d.opts.Stdout, "Deleted optimized file: %s\n", path)
	}
}

// kilobytes formats n bytes as KiB with two decimals.
func kilobytes(n int64) string {
	return fmt.Sprintf("%.2f", float64(n)/1024)
}
