package batch_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"image-optimizer-go/internal/batch"
	"image-optimizer-go/internal/codec"
	"image-optimizer-go/internal/optimizer"
	"image-optimizer-go/internal/statistics"

	"github.com/sirupsen/logrus"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func writeNoiseJPEG(t *testing.T, path string, w, h int) {
	t.Helper()
	rng := rand.New(rand.NewSource(42))
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	rng.Read(img.Pix)
	for i := 3; i < len(img.Pix); i += 4 {
		img.Pix[i] = 255
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := jpeg.Encode(f, img, &jpeg.Options{Quality: 100}); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
}

func writeSolidPNG(t *testing.T, path string) {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for i := range img.Pix {
		img.Pix[i] = 200
		if i%4 == 3 {
			img.Pix[i] = 255
		}
	}
	img.Set(0, 0, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
}

type runOutput struct {
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	results map[string]optimizer.Result
}

func newDriver(opts batch.Options, out *runOutput) *batch.Driver {
	out.results = make(map[string]optimizer.Result)
	opts.Stdout = &out.stdout
	opts.Stderr = &out.stderr
	opts.OnResult = func(res optimizer.Result) {
		out.results[filepath.Base(res.SourcePath)] = res
	}
	finder := batch.NewWalkFinder(imageExtensions, []string{"node_modules"}, false)
	opt := optimizer.NewDefaultOptimizer(codec.NewImagingCodec(), quietLogger())
	return batch.NewDriver(finder, opt, quietLogger(), opts)
}

func TestRunEndToEnd(t *testing.T) {
	root := t.TempDir()
	writeNoiseJPEG(t, filepath.Join(root, "a.jpg"), 400, 400)
	writeSolidPNG(t, filepath.Join(root, "b.png"))

	if info, err := os.Stat(filepath.Join(root, "a.jpg")); err != nil || info.Size() <= optimizer.DefaultTargetSize {
		t.Fatalf("fixture a.jpg must exceed the target size (err %v)", err)
	}

	var out runOutput
	driver := newDriver(batch.Options{}, &out)
	summary, err := driver.Run(context.Background(), root, codec.SourceFormat())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.TotalFiles != 2 || summary.Optimized != 2 || summary.Failed != 0 {
		t.Errorf("summary = %+v, want 2 total, 2 optimized, 0 failed", summary)
	}
	if summary.RunID == "" {
		t.Error("summary has no run ID")
	}
	if !strings.Contains(out.stdout.String(), "Optimization complete. Total files: 2, Optimized: 2") {
		t.Errorf("stdout missing summary line:\n%s", out.stdout.String())
	}

	a := out.results["a.jpg"]
	if a.OutputPath != filepath.Join(root, "a-optimized.jpg") {
		t.Errorf("a.jpg output = %q", a.OutputPath)
	}
	if !a.Success || a.Quality >= 100 || a.Size > optimizer.DefaultTargetSize {
		t.Errorf("a.jpg result = %+v, want success below quality 100 within target", a)
	}
	info, err := os.Stat(a.OutputPath)
	if err != nil {
		t.Fatalf("stat a-optimized.jpg: %v", err)
	}
	if info.Size() != a.Size || info.Size() > optimizer.DefaultTargetSize {
		t.Errorf("a-optimized.jpg is %d bytes, result says %d", info.Size(), a.Size)
	}

	b := out.results["b.png"]
	if b.OutputPath != filepath.Join(root, "b-optimized.png") {
		t.Errorf("b.png output = %q", b.OutputPath)
	}
	if !b.Success || b.Quality != 100 || b.Attempts != 1 {
		t.Errorf("b.png result = %+v, want quality 100 on the first attempt", b)
	}
	if _, err := os.Stat(b.OutputPath); err != nil {
		t.Errorf("b-optimized.png not written: %v", err)
	}
	if !strings.Contains(out.stdout.String(), "Optimized "+filepath.Join(root, "b.png")+" to ") {
		t.Errorf("stdout missing per-file line for b.png:\n%s", out.stdout.String())
	}
}

func TestRunIsolatesFailures(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "a-broken.jpg"), []byte("definitely not a jpeg"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	writeSolidPNG(t, filepath.Join(root, "b-good.png"))

	var out runOutput
	summary, err := newDriver(batch.Options{}, &out).Run(context.Background(), root, codec.SourceFormat())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.TotalFiles != 2 || summary.Optimized != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 2 total, 1 optimized, 1 failed", summary)
	}
	if !strings.Contains(out.stderr.String(), "Error optimizing "+filepath.Join(root, "a-broken.jpg")) {
		t.Errorf("stderr missing error line:\n%s", out.stderr.String())
	}
	if _, err := os.Stat(filepath.Join(root, "b-good-optimized.png")); err != nil {
		t.Errorf("file after the failure was not processed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "a-broken-optimized.jpg")); !os.IsNotExist(err) {
		t.Errorf("failed file produced an output: %v", err)
	}
}

func TestRunDeleteAfter(t *testing.T) {
	tests := []struct {
		name        string
		deleteAfter bool
	}{
		{"keeps outputs by default", false},
		{"deletes outputs when enabled", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root := t.TempDir()
			writeSolidPNG(t, filepath.Join(root, "icon.png"))

			var out runOutput
			summary, err := newDriver(batch.Options{DeleteAfter: tt.deleteAfter}, &out).
				Run(context.Background(), root, codec.SourceFormat())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}

			_, statErr := os.Stat(filepath.Join(root, "icon-optimized.png"))
			exists := statErr == nil
			if exists == tt.deleteAfter {
				t.Errorf("output exists = %v with deleteAfter = %v", exists, tt.deleteAfter)
			}
			wantDeleted := int64(0)
			if tt.deleteAfter {
				wantDeleted = 1
			}
			if summary.Deleted != wantDeleted || summary.Optimized != 1 {
				t.Errorf("summary = %+v, want %d deleted, 1 optimized", summary, wantDeleted)
			}
			if got := strings.Contains(out.stdout.String(), "Deleted optimized file:"); got != tt.deleteAfter {
				t.Errorf("deletion line printed = %v, want %v", got, tt.deleteAfter)
			}
		})
	}
}

func TestRunDiscoveryError(t *testing.T) {
	var out runOutput
	_, err := newDriver(batch.Options{}, &out).
		Run(context.Background(), filepath.Join(t.TempDir(), "missing"), codec.SourceFormat())
	var discoveryErr *batch.DiscoveryError
	if !errors.As(err, &discoveryErr) {
		t.Fatalf("Run error = %v, want *batch.DiscoveryError", err)
	}
	if strings.Contains(out.stdout.String(), "Optimization complete") {
		t.Error("summary printed after discovery failure")
	}
}

type staticFinder []string

func (f staticFinder) Find(string) ([]string, error) {
	return f, nil
}

type scriptedOptimizer struct {
	results map[string]optimizer.Result
	errs    map[string]error
	tasks   []optimizer.Task
}

func (o *scriptedOptimizer) Optimize(ctx context.Context, task optimizer.Task) (optimizer.Result, error) {
	o.tasks = append(o.tasks, task)
	if err, ok := o.errs[task.SourcePath]; ok {
		return optimizer.Result{}, err
	}
	return o.results[task.SourcePath], nil
}

func TestRunCountsOverTargetOutputsAsOptimized(t *testing.T) {
	opt := &scriptedOptimizer{
		results: map[string]optimizer.Result{
			"fits.jpg":  {SourcePath: "fits.jpg", OutputPath: "fits-optimized.jpg", Format: codec.FormatJPG, Success: true, Quality: 80, Size: 10, OriginalSize: 100, Attempts: 5},
			"large.jpg": {SourcePath: "large.jpg", OutputPath: "large-optimized.jpg", Format: codec.FormatJPG, Success: false, Quality: 5, Size: 500, OriginalSize: 900, TargetSize: 100, Attempts: 20},
		},
		errs: map[string]error{
			"bad.jpg": &optimizer.Error{Path: "bad.jpg", Op: "decode", Err: errors.New("corrupt")},
		},
	}
	var stdout, stderr bytes.Buffer
	driver := batch.NewDriver(staticFinder{"bad.jpg", "fits.jpg", "large.jpg"}, opt, quietLogger(), batch.Options{
		TargetSize: 100,
		Stdout:     &stdout,
		Stderr:     &stderr,
	})

	target := codec.Override(codec.FormatJPG)
	summary, err := driver.Run(context.Background(), "/ignored", target)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if summary.TotalFiles != 3 || summary.Optimized != 2 || summary.WithinTarget != 1 || summary.OverTarget != 1 || summary.Failed != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if summary.Attempts != 25 || summary.BytesIn != 1000 || summary.BytesOut != 510 {
		t.Errorf("byte totals = %+v", summary)
	}
	if len(opt.tasks) != 3 {
		t.Fatalf("optimizer called %d times, want 3", len(opt.tasks))
	}
	for _, task := range opt.tasks {
		if task.Format != target || task.TargetSize != 100 {
			t.Errorf("task = %+v, want run format and target size", task)
		}
	}
	if !strings.Contains(stdout.String(), "Could not optimize large.jpg to be under 0.10 KB.") {
		t.Errorf("stdout missing over-target line:\n%s", stdout.String())
	}
	if !strings.Contains(stdout.String(), "Optimized fits.jpg to 0.01 KB at quality 80") {
		t.Errorf("stdout missing success line:\n%s", stdout.String())
	}
	if !strings.Contains(stderr.String(), "Error optimizing bad.jpg: decode bad.jpg: corrupt") {
		t.Errorf("stderr = %q", stderr.String())
	}
}

func TestRunWithStopsWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opt := &scriptedOptimizer{}
	var stdout bytes.Buffer
	driver := batch.NewDriver(staticFinder{"a.jpg", "b.jpg"}, opt, quietLogger(), batch.Options{
		Stdout: &stdout,
		Stderr: io.Discard,
	})
	stats := statistics.NewStatistics("run-1")
	summary, err := driver.RunWith(ctx, "/ignored", codec.SourceFormat(), stats)
	if err != nil {
		t.Fatalf("RunWith: %v", err)
	}
	if len(opt.tasks) != 0 {
		t.Errorf("optimizer called %d times after cancellation", len(opt.tasks))
	}
	if summary.RunID != "run-1" || summary.TotalFiles != 2 || summary.Processed != 0 {
		t.Errorf("summary = %+v", summary)
	}
}
