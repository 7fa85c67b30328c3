package extractor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// FFprobeExtractor reads stream dimensions by running ffprobe once per file.
type FFprobeExtractor struct {
	ffprobePath string
	logger      *logrus.Logger
}

// NewFFprobeExtractor returns an extractor that invokes the ffprobe binary at
// ffprobePath ("ffprobe" resolves through PATH).
func NewFFprobeExtractor(ffprobePath string, logger *logrus.Logger) *FFprobeExtractor {
	if ffprobePath == "" {
		ffprobePath = "ffprobe"
	}
	return &FFprobeExtractor{ffprobePath: ffprobePath, logger: orDiscard(logger)}
}

// Name returns the backend name.
func (f *FFprobeExtractor) Name() string { return BackendFFprobe }

// Available checks that ffprobe is on PATH and answers -version.
func (f *FFprobeExtractor) Available(ctx context.Context) error {
	path, err := exec.LookPath(f.ffprobePath)
	if err != nil {
		return fmt.Errorf("%w: ffprobe not found (%s): %v", ErrCapabilityUnavailable, f.ffprobePath, err)
	}
	out, err := exec.CommandContext(ctx, path, "-version").Output()
	if err != nil {
		return fmt.Errorf("%w: ffprobe -version failed: %v", ErrCapabilityUnavailable, err)
	}

	firstLine := strings.TrimSpace(string(out))
	if idx := strings.Index(firstLine, "\n"); idx > 0 {
		firstLine = firstLine[:idx]
	}
	f.logger.Debugf("Using %s", firstLine)
	return nil
}

// Probe returns the first video stream's dimensions for path.
func (f *FFprobeExtractor) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	cmd := exec.CommandContext(ctx, f.ffprobePath,
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=codec_type,codec_name,width,height,avg_frame_rate,r_frame_rate:format=duration",
		"-print_format", "json",
		path,
	)

	out, err := cmd.Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			stderr := strings.TrimSpace(string(exitErr.Stderr))
			if stderr != "" {
				return nil, probeError(path, fmt.Errorf("%w: ffprobe: %s", ErrProbeFailed, stderr))
			}
		}
		return nil, probeError(path, fmt.Errorf("%w: ffprobe: %v", ErrProbeFailed, err))
	}

	info, err := ParseFFprobeJSON(out)
	if err != nil {
		return nil, probeError(path, err)
	}
	return info, nil
}

// ParseFFprobeJSON converts ffprobe JSON output into a VideoInfo.
// Exported for testing without a real ffprobe binary.
func ParseFFprobeJSON(data []byte) (*VideoInfo, error) {
	var raw ffprobeOutput
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse ffprobe JSON: %v", ErrProbeFailed, err)
	}

	var stream *ffprobeStream
	for i := range raw.Streams {
		s := &raw.Streams[i]
		// -select_streams v:0 omits codec_type on some builds
		if s.CodecType == "" || s.CodecType == "video" {
			stream = s
			break
		}
	}
	if stream == nil {
		return nil, ErrNoVideoStream
	}
	// A stream without usable dimensions is still a video; zero width or
	// height never matches a criterion.
	info := &VideoInfo{
		Width:     max(stream.Width, 0),
		Height:    max(stream.Height, 0),
		Codec:     stream.CodecName,
		FrameRate: parseFrameRate(stream.AvgFrameRate),
	}
	if info.FrameRate == 0 {
		info.FrameRate = parseFrameRate(stream.RFrameRate)
	}
	if secs, err := strconv.ParseFloat(strings.TrimSpace(raw.Format.Duration), 64); err == nil && secs > 0 {
		info.Duration = time.Duration(secs * float64(time.Second))
	}
	return info, nil
}

type ffprobeOutput struct {
	Format  ffprobeFormat   `json:"format"`
	Streams []ffprobeStream `json:"streams"`
}

type ffprobeFormat struct {
	Duration string `json:"duration"`
}

type ffprobeStream struct {
	CodecType    string `json:"codec_type"`
	CodecName    string `json:"codec_name"`
	Width        int    `json:"width"`
	Height       int    `json:"height"`
	AvgFrameRate string `json:"avg_frame_rate"`
	RFrameRate   string `json:"r_frame_rate"`
}

// parseFrameRate parses "30000/1001" style rates. Returns 0 when unknown.
func parseFrameRate(s string) float64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}
	num, den, found := strings.Cut(s, "/")
	n, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0
	}
	if !found {
		return n
	}
	d, err := strconv.ParseFloat(den, 64)
	if err != nil || d == 0 {
		return 0
	}
	return n / d
}
