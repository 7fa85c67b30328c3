package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"video-scanner-go/internal/extractor"
	"video-scanner-go/internal/logger"
	"video-scanner-go/internal/report"
	"video-scanner-go/internal/resolution"
	"video-scanner-go/internal/statistics"
)

// Worker pool bounds.
const (
	MinWorkers = 1
	MaxWorkers = 8
)

// ResolveWorkers returns requested if positive, otherwise the CPU count,
// clamped to [MinWorkers, MaxWorkers].
func ResolveWorkers(requested int) int {
	n := requested
	if n <= 0 {
		n = runtime.NumCPU()
	}
	return ClampWorkerCount(n)
}

// ClampWorkerCount clamps n to [MinWorkers, MaxWorkers].
func ClampWorkerCount(n int) int {
	if n < MinWorkers {
		return MinWorkers
	}
	if n > MaxWorkers {
		return MaxWorkers
	}
	return n
}

// ProgressFunc is called after each file's result has been merged. It is
// invoked from worker goroutines and must be safe for concurrent use.
type ProgressFunc func(done, total int, res report.FileResult)

// Dispatcher probes files on a bounded worker pool and folds every outcome
// into a single report.
type Dispatcher struct {
	extractor extractor.DimensionExtractor
	logger    *logrus.Logger
	stats     *statistics.Statistics
	workers   int
	progress  ProgressFunc
}

// NewDispatcher returns a Dispatcher. workers <= 0 selects the CPU count.
func NewDispatcher(
	ext extractor.DimensionExtractor,
	workers int,
	stats *statistics.Statistics,
	logger *logrus.Logger,
) *Dispatcher {
	return NewDispatcherWithProgress(ext, workers, stats, logger, nil)
}

// NewDispatcherWithProgress is NewDispatcher with a progress hook.
func NewDispatcherWithProgress(
	ext extractor.DimensionExtractor,
	workers int,
	stats *statistics.Statistics,
	logger *logrus.Logger,
	progress ProgressFunc,
) *Dispatcher {
	if stats == nil {
		stats = statistics.NewStatistics()
	}
	return &Dispatcher{
		extractor: ext,
		logger:    orDiscard(logger),
		stats:     stats,
		workers:   ResolveWorkers(workers),
		progress:  progress,
	}
}

// Workers returns the resolved pool size.
func (d *Dispatcher) Workers() int { return d.workers }

// Run classifies every file against spec and returns the sealed report. Each
// file yields exactly one result; cancelling ctx makes the remaining probes
// fail fast rather than dropping them.
func (d *Dispatcher) Run(ctx context.Context, root string, files []string, spec resolution.Spec) *report.RunReport {
	agg := report.NewAggregator(report.CriteriaFromSpec(spec), root)
	agg.SetTotal(len(files))
	d.stats.SetWorkers(d.workers)

	if len(files) == 0 {
		return d.seal(agg)
	}

	d.logger.Infof("Found %d video files to process", len(files))
	d.logger.Infof("Using %d workers", d.workers)

	var wg sync.WaitGroup
	var done atomic.Int64
	fileChan := make(chan string, d.workers)

	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range fileChan {
				res := d.processFile(ctx, root, path, spec)
				if !agg.Merge(res) {
					d.logger.Warnf("Result for %s arrived after the report was sealed", res.Path)
					continue
				}
				n := int(done.Add(1))
				d.logger.Infof("Processing %d/%d: %s", n, len(files), res.Path)
				d.notify(n, len(files), res)
			}
		}()
	}

	go func() {
		defer close(fileChan)
		for _, path := range files {
			fileChan <- path
		}
	}()

	wg.Wait()
	return d.seal(agg)
}

// notify runs the progress hook. A panicking hook is logged and does not
// take the worker down.
func (d *Dispatcher) notify(done, total int, res report.FileResult) {
	if d.progress == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("Progress hook failed for %s: %v", res.Path, r)
		}
	}()
	d.progress(done, total, res)
}

func (d *Dispatcher) seal(agg *report.Aggregator) *report.RunReport {
	if cached, ok := d.extractor.(extractor.CachedDimensionExtractor); ok {
		cs := cached.GetCacheStats()
		d.stats.SetCacheStats(cs.Hits, cs.Misses)
	}
	d.stats.Finalize()
	d.logger.Debug(d.stats.GetSummary())
	return agg.Seal(d.stats)
}

// processFile returns the single terminal result for path. Panics raised by
// the extractor are converted into an error result.
func (d *Dispatcher) processFile(ctx context.Context, root, path string, spec resolution.Spec) (res report.FileResult) {
	rel := relativePath(root, path)

	defer func() {
		if r := recover(); r != nil {
			d.logger.Errorf("Worker error processing %s: %v", rel, r)
			d.stats.IncrementProbeFailures()
			res = report.Failed(rel, fmt.Sprintf("Worker error: %v", r))
		}
	}()

	info, err := os.Stat(path)
	if err != nil {
		d.logger.Errorf("Error processing %s: %v", rel, err)
		d.stats.IncrementProbeFailures()
		return report.Failed(rel, fmt.Sprintf("Error processing file: %v", err))
	}

	video, err := d.extractor.Probe(ctx, path)
	d.stats.IncrementFilesProbed()
	if err != nil {
		d.stats.IncrementProbeFailures()
		entry := logger.WithFileOperation(d.logger, rel, "probe").WithField("backend", d.extractor.Name())
		if extractor.IsProbeError(err) {
			entry.Warnf("Failed to extract video metadata: %v", err)
		} else {
			entry.Errorf("Unexpected probe error: %v", err)
		}
		return report.Failed(rel, probeFailureMessage(err))
	}
	d.stats.AddBytesProbed(info.Size())

	if !spec.Matches(video.Width, video.Height) {
		d.logger.Debugf("Skipping %s (%dx%d)", rel, video.Width, video.Height)
		return report.Processed(rel)
	}

	d.stats.IncrementFilesMatched()
	d.logger.Infof("Found matching video: %s (%dx%d %s)", rel, video.Width, video.Height, spec.Description())
	return report.Matched(report.MatchRecord{
		File:      rel,
		Width:     video.Width,
		Height:    video.Height,
		SizeBytes: info.Size(),
		Codec:     video.Codec,
		Duration:  video.Duration.Seconds(),
		FrameRate: video.FrameRate,
	})
}

func probeFailureMessage(err error) string {
	var pe *extractor.ProbeError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	return "Failed to extract video metadata: " + err.Error()
}

// relativePath returns path relative to root, or path unchanged when it is
// not under root.
func relativePath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return path
	}
	return filepath.ToSlash(rel)
}
