package extractor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/sirupsen/logrus"
)

// Sentinel errors for probing.
var (
	ErrCapabilityUnavailable = errors.New("probe capability unavailable")
	ErrNoVideoStream         = errors.New("no video stream found")
	ErrProbeFailed           = errors.New("probe failed")
)

// ProbeError is returned for every per-file probe failure.
type ProbeError struct {
	Path string
	Err  error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("probe %s: %v", e.Path, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// IsProbeError reports whether err is a per-file probe failure.
func IsProbeError(err error) bool {
	var pe *ProbeError
	return errors.As(err, &pe)
}

func probeError(path string, err error) error {
	return &ProbeError{Path: path, Err: err}
}

// VideoInfo holds the dimensions of the first video stream.
// Codec, Duration and FrameRate are zero when the backend does not supply them.
type VideoInfo struct {
	Width     int
	Height    int
	Codec     string
	Duration  time.Duration
	FrameRate float64
}

// DimensionExtractor extracts video dimensions from files.
// Implementations must be safe for concurrent use.
type DimensionExtractor interface {
	// Probe returns the first video stream's dimensions. Failures are *ProbeError.
	Probe(ctx context.Context, path string) (*VideoInfo, error)
	// Available checks once whether the underlying tool can be invoked.
	Available(ctx context.Context) error
	// Name identifies the backend in logs.
	Name() string
}

// CachedDimensionExtractor extends DimensionExtractor with caching capabilities.
type CachedDimensionExtractor interface {
	DimensionExtractor
	ClearCache()
	GetCacheStats() CacheStats
}

// CacheStats contains statistics about cache performance.
type CacheStats struct {
	Hits         int64
	Misses       int64
	Size         int
	HitRate      float64
	TotalQueries int64
}

// Backend names accepted by New.
const (
	BackendFFprobe  = "ffprobe"
	BackendExifTool = "exiftool"
)

// ValidBackends lists the accepted backend names.
var ValidBackends = []string{BackendFFprobe, BackendExifTool}

// IsValidBackend returns true if name is a known backend.
func IsValidBackend(name string) bool {
	return name == BackendFFprobe || name == BackendExifTool
}

// orDiscard returns logger, or a logger that drops everything when nil.
func orDiscard(logger *logrus.Logger) *logrus.Logger {
	if logger != nil {
		return logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
