package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"
	"time"

	"image-optimizer-go/internal/batch"
	"image-optimizer-go/internal/codec"
	"image-optimizer-go/internal/config"
	"image-optimizer-go/internal/logger"
	"image-optimizer-go/internal/optimizer"
	"image-optimizer-go/internal/statistics"
	"image-optimizer-go/internal/web"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	cfgFile       string
	format        string
	targetSize    int64
	deleteAfter   bool
	skipOptimized bool
	noPrompt      bool
	verbose       bool
	quiet         bool
	port          int
)

// rootCmd is the base command for the CLI.
var rootCmd = &cobra.Command{
	Use:   "image-optimizer [directory]",
	Short: "Re-encode images until they fit under a target size",
	Long: `image-optimizer scans a directory tree for jpg, jpeg, png and gif images and
re-encodes each one at decreasing quality (100, 95, ..., 5) until it fits
under the target size. The result is written next to the original as
<name>-optimized.<format>.

When an image does not fit even at the lowest quality, the lowest quality
encoding is written anyway. node_modules directories are skipped.

Missing directory and format values are prompted for on stdin.`,
	Args:          cobra.MaximumNArgs(1),
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runOptimize(cmd, args)
	},
}

// formatsCmd lists the supported output formats.
var formatsCmd = &cobra.Command{
	Use:   "formats",
	Short: "List supported output formats",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runFormats(cmd.OutOrStdout())
	},
}

// probeCmd shows the metadata the optimizer sees for a single file.
var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Show detected format, dimensions and output path for an image",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(cmd, args[0])
	},
}

// serveCmd starts the web API server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts an HTTP API that runs optimizations on request and streams
per-file results over a WebSocket at /ws.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable verbose logging")
	rootCmd.PersistentFlags().BoolVar(&quiet, "quiet", false, "suppress stdout progress and console logs")

	rootCmd.Flags().StringVar(&format, "format", "", "output format: jpg, jpeg, png, gif (empty keeps each file's format)")
	rootCmd.Flags().Int64Var(&targetSize, "target-size", optimizer.DefaultTargetSize, "maximum output size in bytes")
	rootCmd.Flags().BoolVar(&deleteAfter, "delete-after", false, "delete the optimized files after the run")
	rootCmd.Flags().BoolVar(&skipOptimized, "skip-optimized", false, "ignore files named *-optimized.*")
	rootCmd.Flags().BoolVar(&noPrompt, "no-prompt", false, "never prompt for missing values")

	probeCmd.Flags().StringVar(&format, "format", "", "output format used for the derived output path")

	serveCmd.Flags().IntVar(&port, "port", 0, "port to run web server on (default from config, 8080)")

	rootCmd.AddCommand(formatsCmd)
	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(serveCmd)
}

// runOptimize executes a batch optimization run.
func runOptimize(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, args)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if noPrompt {
		err = cfg.ResolveDirectory()
	} else {
		err = cfg.Complete(config.NewPrompter(os.Stdin, os.Stdout))
	}
	if err != nil {
		return err
	}
	target, err := cfg.Target()
	if err != nil {
		return err
	}

	log := setupLogger(cfg)
	opt := optimizer.NewDefaultOptimizer(codec.NewImagingCodec(), log)
	finder := batch.NewWalkFinder(cfg.Discovery.Extensions, cfg.Discovery.ExcludeDirs, cfg.Discovery.SkipOptimized)
	driver := batch.NewDriver(finder, opt, log, batchOptions(cfg, quiet))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := driver.Run(ctx, cfg.Directory, target)
	if err != nil {
		var discoveryErr *batch.DiscoveryError
		if errors.As(err, &discoveryErr) {
			return fmt.Errorf("error processing images: %w", err)
		}
		return err
	}

	if verbose && !quiet {
		fmt.Println()
		fmt.Println(renderSummary(summary))
	}
	return nil
}

// batchOptions maps the run configuration to driver options. Quiet runs
// discard stdout progress but keep per-file errors on stderr.
func batchOptions(cfg *config.Config, quiet bool) batch.Options {
	opts := batch.Options{
		TargetSize:  cfg.TargetSize,
		DeleteAfter: cfg.DeleteAfter,
		Stdout:      os.Stdout,
		Stderr:      os.Stderr,
	}
	if quiet {
		opts.Stdout = io.Discard
	}
	return opts
}

// runFormats prints the supported output formats.
func runFormats(out io.Writer) error {
	formats := codec.SupportedFormats()
	rows := make([][]string, 0, len(formats))
	for _, f := range formats {
		rows = append(rows, []string{f.Format.String(), f.Encoding, strconv.FormatBool(f.Lossy), f.Description})
	}
	fmt.Fprintln(out, renderTable([]string{"Format", "Encoding", "Lossy", "Notes"}, rows, nil))
	return nil
}

// runProbe prints the metadata of a single image.
func runProbe(cmd *cobra.Command, path string) error {
	if !fileExists(path) {
		return fmt.Errorf("file does not exist: %s", path)
	}
	target, err := codec.ParseTarget(format)
	if err != nil {
		return err
	}

	meta, err := codec.ReadMetadata(path)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}

	effective := target.Resolve(meta.Format)
	rows := [][]string{
		{"Format", meta.Format.String()},
		{"Dimensions", fmt.Sprintf("%dx%d", meta.Width, meta.Height)},
		{"Size", fmt.Sprintf("%d bytes", meta.Size)},
		{"Orientation", strconv.Itoa(meta.Orientation)},
	}
	if meta.CameraModel != "" {
		rows = append(rows, []string{"Camera", meta.CameraModel})
	}
	if meta.TakenAt != nil {
		rows = append(rows, []string{"Taken", meta.TakenAt.Format("2006-01-02 15:04:05")})
	}
	rows = append(rows,
		[]string{"Output format", effective.String()},
		[]string{"Output path", optimizer.OutputPath(path, effective)},
	)
	fmt.Fprintln(cmd.OutOrStdout(), renderTable([]string{"Field", "Value"}, rows, nil))
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd, nil)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if port > 0 {
		cfg.Web.Port = port
	}

	log := setupLogger(cfg)
	opt := optimizer.NewDefaultOptimizer(codec.NewImagingCodec(), log)
	server := web.NewServer(cfg, log, opt)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	errChan := make(chan error, 1)
	go func() {
		if err := server.Start(cfg.Web.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	fmt.Printf("image-optimizer API listening on http://localhost:%d\n", cfg.Web.Port)
	fmt.Printf("Press Ctrl+C to stop the server\n\n")

	select {
	case <-sigChan:
	case err := <-errChan:
		return fmt.Errorf("server failed to start: %w", err)
	}
	fmt.Println("\nShutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Stop(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	server.Wait()

	fmt.Println("Server stopped")
	return nil
}

// loadConfig loads configuration and applies CLI overrides.
func loadConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return nil, err
	}

	if len(args) > 0 {
		cfg.Directory = args[0]
	}

	flags := cmd.Flags()
	if flags.Changed("format") {
		cfg.SetFormat(format)
	}
	if flags.Changed("target-size") {
		cfg.TargetSize = targetSize
	}
	if flags.Changed("delete-after") {
		cfg.DeleteAfter = deleteAfter
	}
	if flags.Changed("skip-optimized") {
		cfg.Discovery.SkipOptimized = skipOptimized
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	loggerCfg := logger.LoggerConfig{
		Level:      cfg.Logging.Level,
		FilePath:   cfg.Logging.FilePath,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAge:     cfg.Logging.MaxAge,
		Compress:   cfg.Logging.Compress,
		Console:    cfg.Logging.Console || verbose,
	}

	if verbose {
		loggerCfg.Level = "debug"
	}
	if quiet {
		loggerCfg.Level = "error"
		loggerCfg.Console = false
	}

	log, err := logger.NewLogger(loggerCfg)
	if err != nil {
		log = logrus.New()
		log.SetOutput(os.Stderr)
		log.SetLevel(logrus.InfoLevel)
	}

	return log
}

// renderSummary renders the run totals as a table.
func renderSummary(sum statistics.Summary) string {
	rows := [][]string{
		{"Run", sum.RunID},
		{"Total files", strconv.FormatInt(sum.TotalFiles, 10)},
		{"Optimized", strconv.FormatInt(sum.Optimized, 10)},
		{"Within target", strconv.FormatInt(sum.WithinTarget, 10)},
		{"Over target", strconv.FormatInt(sum.OverTarget, 10)},
		{"Errors", strconv.FormatInt(sum.Failed, 10)},
		{"Deleted", strconv.FormatInt(sum.Deleted, 10)},
		{"Encode attempts", strconv.FormatInt(sum.Attempts, 10)},
		{"Bytes saved", strconv.FormatInt(sum.SpaceSaved(), 10)},
		{"Duration", sum.Duration.Round(time.Millisecond).String()},
	}
	formats := make([]string, 0, len(sum.Formats))
	for f := range sum.Formats {
		formats = append(formats, f)
	}
	sort.Strings(formats)
	for _, f := range formats {
		rows = append(rows, []string{"Format " + f, strconv.FormatInt(sum.Formats[f], 10)})
	}
	return renderTable([]string{"Metric", "Value"}, rows, []columnAlignment{alignLeft, alignRight})
}

// fileExists returns true if the given path exists and is a file.
func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
