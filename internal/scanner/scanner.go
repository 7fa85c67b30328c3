package scanner

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"video-scanner-go/internal/config"
	"video-scanner-go/internal/extractor"
	"video-scanner-go/internal/logger"
	"video-scanner-go/internal/report"
	"video-scanner-go/internal/statistics"
)

// RunStore persists sealed reports.
type RunStore interface {
	SaveRun(r *report.RunReport) error
}

// Result is the outcome of a completed scan.
type Result struct {
	Report *report.RunReport
	// Paths are the report files written, in configured format order.
	Paths []string
	// Stats holds the run's throughput counters.
	Stats *statistics.Statistics
	// DiscoveryErr is set when traversal of the source root failed part-way.
	// The report still covers every file found before the failure.
	DiscoveryErr error
}

// Scanner runs one scan end to end: availability check, discovery,
// dispatch, report writing and optional history persistence.
type Scanner struct {
	config    *config.Config
	extractor extractor.DimensionExtractor
	writer    *report.Writer
	logger    *logrus.Logger
	store     RunStore
	progress  ProgressFunc
}

// New returns a Scanner for cfg. store and progress may be nil.
func New(
	cfg *config.Config,
	ext extractor.DimensionExtractor,
	logger *logrus.Logger,
	store RunStore,
	progress ProgressFunc,
) *Scanner {
	logger = orDiscard(logger)
	return &Scanner{
		config:    cfg,
		extractor: ext,
		writer:    report.NewWriter(cfg.OutputDirectory, cfg.Report.Formats, logger),
		logger:    logger,
		store:     store,
		progress:  progress,
	}
}

// Scan performs the run described by the configuration.
//
// A configuration error is returned before any file is touched. When the
// probe backend is unavailable an empty report is written and the returned
// error wraps extractor.ErrCapabilityUnavailable. Per-file failures never
// fail the scan.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	spec, err := s.config.Spec()
	if err != nil {
		return nil, fmt.Errorf("invalid criterion: %w", err)
	}

	root := s.config.SourceDirectory
	stats := statistics.NewStatistics()

	logger.WithFields(s.logger, logrus.Fields{
		"source_directory": root,
		"criteria":         spec.Description(),
		"backend":          s.extractor.Name(),
	}).Info("Starting video resolution scan")

	if err := s.extractor.Available(ctx); err != nil {
		s.logger.Errorf("Probe backend %s is not available: %v", s.extractor.Name(), err)
		empty := report.NewAggregator(report.CriteriaFromSpec(spec), root)
		stats.Finalize()
		res := &Result{Report: empty.Seal(stats), Stats: stats}
		paths, werr := s.writer.Write(res.Report)
		if werr != nil {
			s.logger.Errorf("Could not write empty report: %v", werr)
		}
		res.Paths = paths
		if !errors.Is(err, extractor.ErrCapabilityUnavailable) {
			err = fmt.Errorf("%w: %v", extractor.ErrCapabilityUnavailable, err)
		}
		return res, err
	}

	discoverer := NewDiscoverer(s.config.Extensions, s.config.Scan.CaseInsensitive, stats, s.logger)
	files, discoveryErr := discoverer.Discover(root)
	if discoveryErr != nil {
		logger.WithOperation(s.logger, "discover").Errorf("Error scanning directory %s: %v", root, discoveryErr)
	}
	if len(files) == 0 {
		s.logger.Warnf("No video files found in %s", root)
	}

	dispatcher := NewDispatcherWithProgress(s.extractor, s.config.Performance.WorkerThreads, stats, s.logger, s.progress)
	rep := dispatcher.Run(ctx, root, files, spec)

	paths, err := s.writer.Write(rep)
	if err != nil {
		return &Result{Report: rep, Stats: stats, DiscoveryErr: discoveryErr}, fmt.Errorf("write report: %w", err)
	}

	if s.store != nil {
		if err := s.store.SaveRun(rep); err != nil {
			s.logger.Warnf("Could not save run %s to history: %v", rep.ID, err)
		}
	}

	logger.WithRun(s.logger, rep.ID).WithFields(logrus.Fields{
		"total_files":     rep.TotalFiles,
		"processed_files": rep.ProcessedFiles,
		"error_files":     rep.ErrorFiles,
		"matching_files":  rep.MatchCount(),
	}).Info("Scan complete")

	return &Result{Report: rep, Paths: paths, Stats: stats, DiscoveryErr: discoveryErr}, nil
}
