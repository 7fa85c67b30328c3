package statistics

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"
)

// Statistics contains throughput counters for a single scan.
// Counters are updated atomically from worker goroutines.
type Statistics struct {
	DirectoriesScanned int64
	FilesFound         int64
	FilesProbed        int64
	ProbeFailures      int64
	FilesMatched       int64
	BytesProbed        int64

	CacheHits   int64
	CacheMisses int64

	Workers int

	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration

	FilesPerSecond  float64
	AverageFileSize int64
	CacheHitRate    float64

	mutex         sync.RWMutex
	extensionStat map[string]int64
}

// Snapshot is an immutable, serializable view of Statistics.
type Snapshot struct {
	StartTime          time.Time        `json:"start_time" yaml:"start_time"`
	EndTime            time.Time        `json:"end_time" yaml:"end_time"`
	DurationSeconds    float64          `json:"duration_seconds" yaml:"duration_seconds"`
	Workers            int              `json:"workers" yaml:"workers"`
	DirectoriesScanned int64            `json:"directories_scanned" yaml:"directories_scanned"`
	FilesFound         int64            `json:"files_found" yaml:"files_found"`
	FilesProbed        int64            `json:"files_probed" yaml:"files_probed"`
	ProbeFailures      int64            `json:"probe_failures" yaml:"probe_failures"`
	FilesMatched       int64            `json:"files_matched" yaml:"files_matched"`
	BytesProbed        int64            `json:"bytes_probed" yaml:"bytes_probed"`
	FilesPerSecond     float64          `json:"files_per_second" yaml:"files_per_second"`
	AverageFileSize    int64            `json:"average_file_size" yaml:"average_file_size"`
	CacheHits          int64            `json:"cache_hits,omitempty" yaml:"cache_hits,omitempty"`
	CacheMisses        int64            `json:"cache_misses,omitempty" yaml:"cache_misses,omitempty"`
	Extensions         map[string]int64 `json:"extensions,omitempty" yaml:"extensions,omitempty"`
}

// NewStatistics returns a new Statistics instance with the clock started.
func NewStatistics() *Statistics {
	return &Statistics{
		StartTime:     time.Now(),
		extensionStat: make(map[string]int64),
	}
}

// IncrementDirectoriesScanned increases the count of scanned directories by 1.
func (s *Statistics) IncrementDirectoriesScanned() {
	atomic.AddInt64(&s.DirectoriesScanned, 1)
}

// IncrementFilesFound increases the count of discovered files by 1.
func (s *Statistics) IncrementFilesFound() {
	atomic.AddInt64(&s.FilesFound, 1)
}

// IncrementFilesProbed increases the count of probed files by 1.
func (s *Statistics) IncrementFilesProbed() {
	atomic.AddInt64(&s.FilesProbed, 1)
}

// IncrementProbeFailures increases the count of failed probes by 1.
func (s *Statistics) IncrementProbeFailures() {
	atomic.AddInt64(&s.ProbeFailures, 1)
}

// IncrementFilesMatched increases the count of matching files by 1.
func (s *Statistics) IncrementFilesMatched() {
	atomic.AddInt64(&s.FilesMatched, 1)
}

// AddBytesProbed adds the given number of bytes to the total bytes probed.
func (s *Statistics) AddBytesProbed(bytes int64) {
	atomic.AddInt64(&s.BytesProbed, bytes)
}

// SetCacheStats records probe cache counters.
func (s *Statistics) SetCacheStats(hits, misses int64) {
	atomic.StoreInt64(&s.CacheHits, hits)
	atomic.StoreInt64(&s.CacheMisses, misses)
}

// SetWorkers records the worker pool size used for the run.
func (s *Statistics) SetWorkers(n int) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.Workers = n
}

// IncrementExtension increases the count for a file extension by 1.
func (s *Statistics) IncrementExtension(ext string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.extensionStat[strings.ToUpper(strings.TrimPrefix(ext, "."))]++
}

// Finalize calculates duration, files per second, average file size and cache hit rate.
func (s *Statistics) Finalize() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.EndTime = time.Now()
	s.Duration = s.EndTime.Sub(s.StartTime)

	probed := atomic.LoadInt64(&s.FilesProbed)
	bytes := atomic.LoadInt64(&s.BytesProbed)

	if s.Duration.Seconds() > 0 {
		s.FilesPerSecond = float64(probed) / s.Duration.Seconds()
	}
	if probed > 0 {
		s.AverageFileSize = bytes / probed
	}

	hits := atomic.LoadInt64(&s.CacheHits)
	misses := atomic.LoadInt64(&s.CacheMisses)
	if total := hits + misses; total > 0 {
		s.CacheHitRate = float64(hits) / float64(total)
	}
}

// Snapshot returns a copy of the current counters.
func (s *Statistics) Snapshot() Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	var exts map[string]int64
	if len(s.extensionStat) > 0 {
		exts = make(map[string]int64, len(s.extensionStat))
		for k, v := range s.extensionStat {
			exts[k] = v
		}
	}

	return Snapshot{
		StartTime:          s.StartTime,
		EndTime:            s.EndTime,
		DurationSeconds:    s.Duration.Seconds(),
		Workers:            s.Workers,
		DirectoriesScanned: atomic.LoadInt64(&s.DirectoriesScanned),
		FilesFound:         atomic.LoadInt64(&s.FilesFound),
		FilesProbed:        atomic.LoadInt64(&s.FilesProbed),
		ProbeFailures:      atomic.LoadInt64(&s.ProbeFailures),
		FilesMatched:       atomic.LoadInt64(&s.FilesMatched),
		BytesProbed:        atomic.LoadInt64(&s.BytesProbed),
		FilesPerSecond:     s.FilesPerSecond,
		AverageFileSize:    s.AverageFileSize,
		CacheHits:          atomic.LoadInt64(&s.CacheHits),
		CacheMisses:        atomic.LoadInt64(&s.CacheMisses),
		Extensions:         exts,
	}
}

// GetSummary returns a formatted summary of all statistics.
func (s *Statistics) GetSummary() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	return fmt.Sprintf(`Video Scanner Statistics Summary:

Files:
		Directories Scanned: %d
		Files Found: %d
		Files Probed: %d
		Probe Failures: %d
		Matches: %d

Performance:
		Workers: %d
		Duration: %v
		Files/Second: %.2f
		Bytes Probed: %s
		Average File Size: %s

Cache:
		Hits: %d
		Misses: %d
		Hit Rate: %.2f%%`,
		atomic.LoadInt64(&s.DirectoriesScanned),
		atomic.LoadInt64(&s.FilesFound),
		atomic.LoadInt64(&s.FilesProbed),
		atomic.LoadInt64(&s.ProbeFailures),
		atomic.LoadInt64(&s.FilesMatched),
		s.Workers,
		s.Duration.Round(time.Millisecond),
		s.FilesPerSecond,
		humanize.Bytes(uint64(atomic.LoadInt64(&s.BytesProbed))),
		humanize.Bytes(uint64(s.AverageFileSize)),
		atomic.LoadInt64(&s.CacheHits),
		atomic.LoadInt64(&s.CacheMisses),
		s.CacheHitRate*100)
}

// GetExtensionBreakdown returns a formatted breakdown of discovered file extensions.
func (s *Statistics) GetExtensionBreakdown() string {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.extensionStat) == 0 {
		return "No file type statistics available"
	}

	keys := make([]string, 0, len(s.extensionStat))
	for k := range s.extensionStat {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString("File Type Breakdown:\n")
	for _, k := range keys {
		fmt.Fprintf(&b, "  %s: %d\n", k, s.extensionStat[k])
	}
	return b.String()
}
