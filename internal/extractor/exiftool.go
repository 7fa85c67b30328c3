package extractor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/barasher/go-exiftool"
	"github.com/sirupsen/logrus"
)

// ExifToolExtractor reads video dimensions through a long-lived exiftool process.
// The process is started lazily and shared; calls are serialized.
type ExifToolExtractor struct {
	binaryPath string
	logger     *logrus.Logger

	mutex sync.Mutex
	et    *exiftool.Exiftool
}

// NewExifToolExtractor returns an extractor backed by exiftool. An empty
// binaryPath uses the exiftool found on PATH.
func NewExifToolExtractor(binaryPath string, logger *logrus.Logger) *ExifToolExtractor {
	return &ExifToolExtractor{binaryPath: binaryPath, logger: orDiscard(logger)}
}

// Name returns the backend name.
func (e *ExifToolExtractor) Name() string { return BackendExifTool }

// Available starts the exiftool process if it is not running yet.
func (e *ExifToolExtractor) Available(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if _, err := e.start(); err != nil {
		return fmt.Errorf("%w: %v", ErrCapabilityUnavailable, err)
	}
	return nil
}

// Probe returns the first video track's dimensions for path.
func (e *ExifToolExtractor) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, probeError(path, fmt.Errorf("%w: %v", ErrProbeFailed, err))
	}

	e.mutex.Lock()
	et, err := e.start()
	if err != nil {
		e.mutex.Unlock()
		return nil, probeError(path, fmt.Errorf("%w: %v", ErrProbeFailed, err))
	}
	files := et.ExtractMetadata(path)
	e.mutex.Unlock()

	if len(files) == 0 {
		return nil, probeError(path, fmt.Errorf("%w: exiftool returned no metadata", ErrProbeFailed))
	}
	if files[0].Err != nil {
		return nil, probeError(path, fmt.Errorf("%w: exiftool: %v", ErrProbeFailed, files[0].Err))
	}

	info, err := videoInfoFromFields(files[0].Fields)
	if err != nil {
		return nil, probeError(path, err)
	}
	return info, nil
}

// Close stops the exiftool process.
func (e *ExifToolExtractor) Close() error {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	if e.et == nil {
		return nil
	}
	err := e.et.Close()
	e.et = nil
	return err
}

// start launches exiftool on first use. Caller must hold e.mutex.
func (e *ExifToolExtractor) start() (*exiftool.Exiftool, error) {
	if e.et != nil {
		return e.et, nil
	}

	var opts []func(*exiftool.Exiftool) error
	if e.binaryPath != "" {
		opts = append(opts, exiftool.SetExiftoolBinaryPath(e.binaryPath))
	}
	et, err := exiftool.NewExiftool(opts...)
	if err != nil {
		return nil, fmt.Errorf("start exiftool: %w", err)
	}
	e.logger.Debug("Started exiftool process")
	e.et = et
	return et, nil
}

// videoInfoFromFields maps exiftool tag values onto a VideoInfo.
func videoInfoFromFields(fields map[string]interface{}) (*VideoInfo, error) {
	if mime, ok := fields["MIMEType"].(string); ok && mime != "" && !strings.HasPrefix(mime, "video/") {
		return nil, fmt.Errorf("%w (mime type %s)", ErrNoVideoStream, mime)
	}

	width := intField(fields, "ImageWidth", "SourceImageWidth")
	height := intField(fields, "ImageHeight", "SourceImageHeight")
	if width == 0 && height == 0 {
		return nil, ErrNoVideoStream
	}

	info := &VideoInfo{
		Width:     max(width, 0),
		Height:    max(height, 0),
		FrameRate: floatField(fields, "VideoFrameRate"),
	}
	if codec, ok := fields["CompressorID"].(string); ok {
		info.Codec = strings.TrimSpace(codec)
	}
	if d, ok := fields["Duration"]; ok {
		info.Duration = parseExifDuration(d)
	}
	return info, nil
}

func intField(fields map[string]interface{}, keys ...string) int {
	for _, k := range keys {
		switch v := fields[k].(type) {
		case float64:
			return int(v)
		case int:
			return v
		case int64:
			return int(v)
		case string:
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
				return n
			}
		}
	}
	return 0
}

func floatField(fields map[string]interface{}, key string) float64 {
	switch v := fields[key].(type) {
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f
	}
	return 0
}

var (
	exifSecondsPattern = regexp.MustCompile(`^([\d.]+)\s*s`)
	exifClockPattern   = regexp.MustCompile(`^(\d+):(\d{1,2}):(\d{1,2}(?:\.\d+)?)`)
)

// parseExifDuration handles the two shapes exiftool prints durations in:
// "12.34 s" for short clips and "H:MM:SS" for longer ones.
func parseExifDuration(v interface{}) time.Duration {
	switch d := v.(type) {
	case float64:
		return time.Duration(d * float64(time.Second))
	case string:
		s := strings.TrimSpace(d)
		if m := exifSecondsPattern.FindStringSubmatch(s); m != nil {
			secs, _ := strconv.ParseFloat(m[1], 64)
			return time.Duration(secs * float64(time.Second))
		}
		if m := exifClockPattern.FindStringSubmatch(s); m != nil {
			h, _ := strconv.Atoi(m[1])
			mins, _ := strconv.Atoi(m[2])
			sec, _ := strconv.ParseFloat(m[3], 64)
			return time.Duration(h)*time.Hour + time.Duration(mins)*time.Minute + time.Duration(sec*float64(time.Second))
		}
	}
	return 0
}
