package main

import (
	"io"
	"os"
	"strings"
	"testing"

	"image-optimizer-go/internal/config"
	"image-optimizer-go/internal/statistics"
)

func TestBatchOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.TargetSize = 4096
	cfg.DeleteAfter = true

	tests := []struct {
		name       string
		quiet      bool
		wantStdout io.Writer
	}{
		{"normal", false, os.Stdout},
		{"quiet", true, io.Discard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := batchOptions(cfg, tt.quiet)
			if opts.Stdout != tt.wantStdout {
				t.Errorf("Stdout = %v, want %v", opts.Stdout, tt.wantStdout)
			}
			if opts.Stderr != os.Stderr {
				t.Errorf("Stderr = %v, want os.Stderr", opts.Stderr)
			}
			if opts.TargetSize != 4096 || !opts.DeleteAfter {
				t.Errorf("opts = %+v, want target 4096 with delete-after", opts)
			}
		})
	}
}

func TestRenderSummaryListsFormats(t *testing.T) {
	out := renderSummary(statistics.Summary{
		RunID:      "run-7",
		TotalFiles: 3,
		Optimized:  3,
		Formats:    map[string]int64{"png": 1, "jpg": 2},
	})
	for _, want := range []string{"run-7", "Format jpg", "Format png"} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "Format jpg") > strings.Index(out, "Format png") {
		t.Errorf("formats not sorted:\n%s", out)
	}
}
