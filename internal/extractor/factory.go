package extractor

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"video-scanner-go/internal/config"
)

// New returns the backend named by cfg.Backend, wrapped in a CachedExtractor
// when cfg.Cache is set.
func New(cfg config.ProbeConfig, logger *logrus.Logger) (DimensionExtractor, error) {
	if cfg.Backend != "" && !IsValidBackend(cfg.Backend) {
		return nil, fmt.Errorf("unknown probe backend %q (valid: %v)", cfg.Backend, ValidBackends)
	}

	var ext DimensionExtractor
	switch cfg.Backend {
	case BackendExifTool:
		ext = NewExifToolExtractor(cfg.ExifToolPath, logger)
	default:
		ext = NewFFprobeExtractor(cfg.FFprobePath, logger)
	}

	if cfg.Cache {
		return NewCachedExtractor(ext), nil
	}
	return ext, nil
}

// Close releases resources held by ext, such as a running exiftool process.
func Close(ext DimensionExtractor) error {
	if closer, ok := ext.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}
