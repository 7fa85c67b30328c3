package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"video-scanner-go/internal/config"
	"video-scanner-go/internal/display"
	"video-scanner-go/internal/extractor"
	"video-scanner-go/internal/logger"
	"video-scanner-go/internal/report"
	"video-scanner-go/internal/scanner"
	"video-scanner-go/internal/store"
	"video-scanner-go/internal/web"
)

var (
	cfgFile      string
	verbose      bool
	quiet        bool
	port         int
	historyLimit int
	historyDel   string
	historyFile  string
	version      = "dev"
)

// rootCmd scans the source directory with the configured criterion.
var rootCmd = &cobra.Command{
	Use:   "video-scanner",
	Short: "Find videos matching a resolution criterion",
	Long: `video-scanner walks a directory tree, probes every video file for its
pixel dimensions and reports the files matching a resolution criterion.

Criteria are written as a height label (720p, 1080) or a width and height
pair (1920x1080), combined with a comparison: eq, lte or gte.

Each run writes a text and JSON report to the log directory. With
--history enabled runs are also recorded in a SQLite database.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runScan(cmd)
	},
}

// probeCmd probes a single file and evaluates the criterion against it.
var probeCmd = &cobra.Command{
	Use:   "probe <file>",
	Short: "Probe one file and show its dimensions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runProbe(cmd, args[0])
	},
}

// checkCmd verifies the probe backend can be invoked.
var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Check that the probe backend is installed",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runCheck(cmd)
	},
}

// historyCmd lists recorded runs or prints one of them.
var historyCmd = &cobra.Command{
	Use:   "history [run-id]",
	Short: "Show recorded scan runs",
	Long: `Lists recorded runs newest first, or prints one run as JSON.

  --file <path>   list the runs in which a file matched
  --delete <id>   remove a run from the history`,
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return runHistory(cmd, args)
	},
}

// serveCmd starts the HTTP API.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API server",
	Long: `Starts an HTTP server exposing scans over a JSON API:

  GET    /api/status        current scan progress and last run
  POST   /api/scan          start a scan
  GET    /api/reports       recorded runs (requires --history)
  GET    /api/reports/{id}  one recorded run
  DELETE /api/cache         clear the probe cache
  GET    /ws                live scan events`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd)
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	pf.BoolVar(&verbose, "verbose", false, "enable verbose logging")
	pf.BoolVar(&quiet, "quiet", false, "suppress non-error output")

	pf.StringP("resolution", "r", "360p", "resolution criterion (e.g. 720p, 1080, 1920x1080)")
	pf.StringP("comparison", "c", "eq", "comparison: eq, lte or gte")
	pf.StringP("src-dir", "s", "/src", "directory to scan")
	pf.StringP("log-dir", "l", "/log", "directory for reports")
	pf.IntP("max-workers", "w", 0, "worker threads (0 = number of CPUs, capped at 8)")
	pf.String("backend", extractor.BackendFFprobe, "probe backend: ffprobe or exiftool")
	pf.StringSlice("format", []string{"text", "json"}, "report formats: text, json, yaml")
	pf.Bool("history", false, "record runs in the history database")

	serveCmd.Flags().IntVar(&port, "port", 8080, "port to run web server on")
	historyCmd.Flags().IntVar(&historyLimit, "limit", 20, "number of runs to list (0 = all)")
	historyCmd.Flags().StringVar(&historyDel, "delete", "", "delete the run with this ID")
	historyCmd.Flags().StringVar(&historyFile, "file", "", "list runs in which this file (relative to the source directory) matched")

	rootCmd.AddCommand(probeCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveCmd)
}

// setup loads the configuration and builds the logger and extractor shared
// by every command.
func setup(cmd *cobra.Command) (*config.Config, *logrus.Logger, extractor.DimensionExtractor, error) {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	log := setupLogger(cfg)
	ext, err := extractor.New(cfg.Probe, log)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, log, ext, nil
}

func openHistory(cfg *config.Config, log *logrus.Logger) *store.SQLiteStore {
	if !cfg.History.Enabled {
		return nil
	}
	db, err := store.NewSQLiteStore(cfg.History.DatabasePath)
	if err != nil {
		log.Warnf("Run history disabled: %v", err)
		return nil
	}
	log.Debugf("Recording run history in %s", db.Path())
	return db
}

// runScan executes one scan and prints its summary.
func runScan(cmd *cobra.Command) error {
	cfg, log, ext, err := setup(cmd)
	if err != nil {
		return err
	}
	defer extractor.Close(ext)

	var runStore scanner.RunStore
	if db := openHistory(cfg, log); db != nil {
		defer db.Close()
		runStore = db
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	result, err := scanner.New(cfg, ext, log, runStore, nil).Scan(ctx)
	if result != nil && !quiet {
		fmt.Println("\n" + display.Summary(result.Report, result.Paths))
		if verbose && result.Stats != nil {
			fmt.Println(display.StyleMuted.Render(result.Stats.GetExtensionBreakdown()))
		}
	}
	if err != nil {
		return fmt.Errorf("scan failed: %w", err)
	}
	if result.DiscoveryErr != nil {
		fmt.Fprintf(os.Stderr, "Warning: directory traversal incomplete: %v\n", result.DiscoveryErr)
	}
	return nil
}

// runProbe probes a single file with the configured backend.
func runProbe(cmd *cobra.Command, path string) error {
	if !fileExists(path) {
		return fmt.Errorf("file does not exist: %s", path)
	}

	cfg, _, ext, err := setup(cmd)
	if err != nil {
		return err
	}
	defer extractor.Close(ext)

	spec, err := cfg.Spec()
	if err != nil {
		return err
	}

	ctx := context.Background()
	if err := ext.Available(ctx); err != nil {
		return err
	}
	info, err := ext.Probe(ctx, path)
	if err != nil {
		return err
	}

	fmt.Print(display.Probe(path, info, report.CriteriaFromSpec(spec), spec.Matches(info.Width, info.Height)))
	return nil
}

// runCheck reports whether the probe backend is usable.
func runCheck(cmd *cobra.Command) error {
	_, _, ext, err := setup(cmd)
	if err != nil {
		return err
	}
	defer extractor.Close(ext)

	if err := ext.Available(context.Background()); err != nil {
		fmt.Printf("%s %s: %v\n", display.MatchIcon(false), ext.Name(), err)
		return err
	}
	fmt.Printf("%s %s is available\n", display.MatchIcon(true), ext.Name())
	return nil
}

// runHistory lists recorded runs, or prints one run as JSON.
func runHistory(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if !fileExists(cfg.History.DatabasePath) {
		fmt.Print(display.History(nil))
		return nil
	}

	db, err := store.NewSQLiteStore(cfg.History.DatabasePath)
	if err != nil {
		return err
	}
	defer db.Close()

	switch {
	case historyDel != "":
		if err := db.DeleteRun(historyDel); err != nil {
			return err
		}
		fmt.Printf("Deleted run %s\n", historyDel)
		return nil
	case historyFile != "":
		ids, err := db.RunsMatchingFile(historyFile)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			fmt.Printf("No recorded run matched %s\n", historyFile)
			return nil
		}
		fmt.Printf("Runs in which %s matched:\n", historyFile)
		for _, id := range ids {
			fmt.Println("  " + id)
		}
		return nil
	}

	if len(args) == 1 {
		run, err := db.GetRun(args[0])
		if err != nil {
			return err
		}
		if run == nil {
			return fmt.Errorf("run not found: %s", args[0])
		}
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(run)
	}

	runs, err := db.ListRuns(historyLimit)
	if err != nil {
		return err
	}
	fmt.Print(display.History(runs))
	return nil
}

// runServe starts the web server and handles graceful shutdown.
func runServe(cmd *cobra.Command) error {
	cfg, log, ext, err := setup(cmd)
	if err != nil {
		return err
	}
	defer extractor.Close(ext)

	var history web.History
	if db := openHistory(cfg, log); db != nil {
		defer db.Close()
		history = db
	}

	server := web.NewServer(cfg, ext, history, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Start(port)
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	})

	fmt.Printf("Video scanner API listening on http://localhost:%d\n", port)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	fmt.Println("Server stopped")
	return nil
}

// setupLogger configures and returns a logger.
func setupLogger(cfg *config.Config) *logrus.Logger {
	log, err := logger.NewLogger(logger.FromConfig(cfg.Logging, verbose, quiet))
	if err != nil {
		fallback, ferr := logger.NewLogger(logger.DefaultConfig())
		if ferr != nil {
			fallback = logrus.New()
		}
		fallback.Warnf("Falling back to default logger: %v", err)
		return fallback
	}
	return log
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
