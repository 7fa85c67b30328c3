package report

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"video-scanner-go/internal/statistics"
)

// Aggregator accumulates FileResults into a RunReport.
// All methods are safe for concurrent use; Merge is the single serialization point.
type Aggregator struct {
	mu     sync.Mutex
	report RunReport
	sealed bool
}

// NewAggregator returns an empty aggregator for a run against sourceDir.
func NewAggregator(criteria Criteria, sourceDir string) *Aggregator {
	return &Aggregator{
		report: RunReport{
			ID:              uuid.NewString(),
			ScanTimestamp:   time.Now(),
			SourceDirectory: sourceDir,
			Criteria:        criteria,
			MatchingFiles:   make([]MatchRecord, 0),
			Errors:          make([]ErrorRecord, 0),
		},
	}
}

// SetTotal records the number of discovered files.
func (a *Aggregator) SetTotal(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return
	}
	a.report.TotalFiles = n
}

// Merge folds one result into the report. Merges after Seal are ignored and
// reported as false.
func (a *Aggregator) Merge(res FileResult) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.sealed {
		return false
	}

	switch res.Kind {
	case KindMatch:
		if res.Match != nil {
			a.report.MatchingFiles = append(a.report.MatchingFiles, *res.Match)
		}
	case KindError:
		msg := ""
		if res.Err != nil {
			msg = res.Err.Error
		}
		a.report.Errors = append(a.report.Errors, ErrorRecord{File: res.Path, Error: msg})
		a.report.ErrorFiles++
	}
	// Errors count as processed-with-failure.
	a.report.ProcessedFiles++
	return true
}

// Seal freezes the report, attaches stats (may be nil) and returns a copy.
// Calling Seal again returns another copy of the same sealed report.
func (a *Aggregator) Seal(stats *statistics.Statistics) *RunReport {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.sealed {
		a.sealed = true
		if stats != nil {
			snap := stats.Snapshot()
			a.report.Statistics = &snap
		}
	}
	return a.report.clone()
}
