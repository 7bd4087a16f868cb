package optimizer

import (
	"context"
	"fmt"
	"os"
	"time"

	"image-optimizer-go/internal/codec"
	"image-optimizer-go/internal/logger"

	"github.com/sirupsen/logrus"
)

// DefaultOptimizer is the default implementation of the Optimizer interface.
// It steps quality down linearly from StartQuality by QualityStep.
type DefaultOptimizer struct {
	codec  codec.Codec
	logger logrus.FieldLogger
}

// NewDefaultOptimizer returns a DefaultOptimizer encoding through c.
func NewDefaultOptimizer(c codec.Codec, log logrus.FieldLogger) *DefaultOptimizer {
	return &DefaultOptimizer{codec: c, logger: log}
}

// Optimize encodes the task's image at qualities 100, 95, ..., 5 and writes the
// first buffer that fits the budget. When none fits, the last attempted buffer
// is written anyway and the result reports Success == false.
func (o *DefaultOptimizer) Optimize(ctx context.Context, task Task) (Result, error) {
	res := Result{
		SourcePath: task.SourcePath,
		TargetSize: task.budget(),
		StartedAt:  time.Now(),
	}
	log := logger.WithFileOperation(o.logger, task.SourcePath, "optimize")

	src, err := o.codec.Decode(task.SourcePath)
	if err != nil {
		return res, &Error{Path: task.SourcePath, Op: "decode", Err: err}
	}
	res.OriginalSize = src.Metadata.Size
	res.Format = task.Format.Resolve(src.Metadata.Format)
	res.OutputPath = OutputPath(task.SourcePath, res.Format)

	var last []byte
	lastQuality := 0
	for quality := StartQuality; quality > 0; quality -= QualityStep {
		if err := ctx.Err(); err != nil {
			return res, &Error{Path: task.SourcePath, Op: "cancel", Err: err}
		}

		buf, err := o.codec.Encode(src.Image, res.Format, quality)
		if err != nil {
			return res, &Error{Path: task.SourcePath, Op: "encode", Err: err}
		}
		res.Attempts++
		log.WithFields(logrus.Fields{
			"quality": quality,
			"size":    len(buf),
		}).Debug("Encoded attempt")

		if int64(len(buf)) <= res.TargetSize {
			return o.finish(res, buf, quality, true)
		}
		last, lastQuality = buf, quality
	}

	log.Warnf("No quality fits %d bytes, keeping quality %d", res.TargetSize, lastQuality)
	return o.finish(res, last, lastQuality, false)
}

// finish persists buf to the result's output path and completes res.
func (o *DefaultOptimizer) finish(res Result, buf []byte, quality int, success bool) (Result, error) {
	if err := writeFile(res.OutputPath, buf); err != nil {
		return res, &Error{Path: res.SourcePath, Op: "write", Err: err}
	}
	res.Size = int64(len(buf))
	res.Quality = quality
	res.Success = success
	res.FinishedAt = time.Now()
	return res, nil
}

// writeFile writes data to a temporary sibling of path and renames it into place.
func writeFile(path string, data []byte) error {
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("write tmp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename: %w", err)
	}
	return nil
}
