package scanner

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"video-scanner-go/internal/logger"
	"video-scanner-go/internal/statistics"
)

// ErrDirectoryScan is returned when the source root cannot be traversed.
var ErrDirectoryScan = errors.New("directory scan failed")

// Discoverer enumerates candidate video files under a root directory.
type Discoverer struct {
	extensions      []string
	caseInsensitive bool
	stats           *statistics.Statistics
	logger          *logrus.Logger
}

// NewDiscoverer returns a Discoverer matching the given extensions. Matching
// is exact unless caseInsensitive is set.
func NewDiscoverer(extensions []string, caseInsensitive bool, stats *statistics.Statistics, logger *logrus.Logger) *Discoverer {
	exts := make([]string, len(extensions))
	for i, ext := range extensions {
		if caseInsensitive {
			ext = strings.ToLower(ext)
		}
		exts[i] = ext
	}
	if stats == nil {
		stats = statistics.NewStatistics()
	}
	return &Discoverer{
		extensions:      exts,
		caseInsensitive: caseInsensitive,
		stats:           stats,
		logger:          orDiscard(logger),
	}
}

// Discover walks root recursively and returns the matching files in lexical
// order. Unreadable sub-paths are logged and skipped. If the root itself
// fails, the error wraps ErrDirectoryScan and the files found so far are
// still returned.
func (d *Discoverer) Discover(root string) ([]string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrDirectoryScan, root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrDirectoryScan, root)
	}

	var files []string
	walkErr := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return fmt.Errorf("%w: %s: %v", ErrDirectoryScan, root, err)
			}
			logger.WithFile(d.logger, path).Warnf("Error accessing path: %v", err)
			if entry != nil && entry.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if entry.IsDir() {
			d.stats.IncrementDirectoriesScanned()
			return nil
		}
		ext := filepath.Ext(path)
		if !d.matches(ext) {
			return nil
		}

		switch {
		case entry.Type().IsRegular():
		case entry.Type()&fs.ModeSymlink != 0:
			// Symlinks count only when they resolve to a regular file.
			target, err := os.Stat(path)
			if err != nil {
				logger.WithFile(d.logger, path).Warnf("Skipping broken symlink: %v", err)
				return nil
			}
			if !target.Mode().IsRegular() {
				return nil
			}
		default:
			return nil
		}

		files = append(files, path)
		d.stats.IncrementFilesFound()
		d.stats.IncrementExtension(ext)
		return nil
	})

	return files, walkErr
}

func (d *Discoverer) matches(ext string) bool {
	if d.caseInsensitive {
		ext = strings.ToLower(ext)
	}
	for _, want := range d.extensions {
		if ext == want {
			return true
		}
	}
	return false
}

func orDiscard(logger *logrus.Logger) *logrus.Logger {
	if logger != nil {
		return logger
	}
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
