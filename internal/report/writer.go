package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Supported report formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// ValidFormats lists the accepted report format names.
var ValidFormats = []string{FormatText, FormatJSON, FormatYAML}

var formatExtensions = map[string]string{
	FormatText: ".txt",
	FormatJSON: ".json",
	FormatYAML: ".yaml",
}

// IsValidFormat returns true if name is a supported report format.
func IsValidFormat(name string) bool {
	_, ok := formatExtensions[name]
	return ok
}

// Writer persists sealed reports into an output directory.
type Writer struct {
	dir     string
	formats []string
	logger  *logrus.Logger
	now     func() time.Time
}

// NewWriter returns a Writer for dir producing the given formats.
func NewWriter(dir string, formats []string, logger *logrus.Logger) *Writer {
	if len(formats) == 0 {
		formats = []string{FormatText, FormatJSON}
	}
	return &Writer{
		dir:     dir,
		formats: formats,
		logger:  logger,
		now:     time.Now,
	}
}

// Write renders r in every configured format and returns the written paths.
// The output directory is created if it does not exist.
func (w *Writer) Write(r *RunReport) ([]string, error) {
	if err := os.MkdirAll(w.dir, 0755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	base := fmt.Sprintf("video_scan_%s_%s", filenameSuffix(r.Criteria), w.now().Format("20060102_150405"))

	var written []string
	for _, format := range w.formats {
		ext, ok := formatExtensions[format]
		if !ok {
			return written, fmt.Errorf("unknown report format: %s", format)
		}

		var buf bytes.Buffer
		if err := Render(&buf, r, format); err != nil {
			return written, fmt.Errorf("render %s report: %w", format, err)
		}

		path := filepath.Join(w.dir, base+ext)
		if err := writeFileAtomic(path, buf.Bytes()); err != nil {
			return written, fmt.Errorf("write %s report: %w", format, err)
		}
		written = append(written, path)
	}

	if w.logger != nil {
		w.logger.WithField("files", written).Info("Results written")
	}
	return written, nil
}

// Render writes r to out in the named format.
func Render(out io.Writer, r *RunReport, format string) error {
	switch format {
	case FormatText:
		return WriteText(out, r)
	case FormatJSON:
		return WriteJSON(out, r)
	case FormatYAML:
		return WriteYAML(out, r)
	default:
		return fmt.Errorf("unknown report format: %s", format)
	}
}

// WriteText renders the human-readable report.
func WriteText(out io.Writer, r *RunReport) error {
	var b strings.Builder
	desc := r.Criteria.Description()

	b.WriteString("Video Resolution Scan Results\n")
	fmt.Fprintf(&b, "Scan Time: %s\n", r.ScanTimestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "Resolution Criteria: %s\n", desc)
	fmt.Fprintf(&b, "Total Files Found: %d\n", r.TotalFiles)
	fmt.Fprintf(&b, "Successfully Processed: %d\n", r.ProcessedFiles)
	fmt.Fprintf(&b, "Errors: %d\n", r.ErrorFiles)
	fmt.Fprintf(&b, "Matching Videos Found: %d\n", len(r.MatchingFiles))
	b.WriteString(strings.Repeat("-", 50) + "\n\n")

	if len(r.MatchingFiles) > 0 {
		fmt.Fprintf(&b, "Videos matching %s:\n", desc)
		for _, m := range r.MatchingFiles {
			fmt.Fprintf(&b, "  %s (%dx%d)\n", m.File, m.Width, m.Height)
		}
		b.WriteString("\n")
	}

	if len(r.Errors) > 0 {
		b.WriteString("Errors:\n")
		for _, e := range r.Errors {
			fmt.Fprintf(&b, "  %s: %s\n", e.File, e.Error)
		}
	}

	_, err := io.WriteString(out, b.String())
	return err
}

// WriteJSON renders the machine-readable report as indented JSON.
func WriteJSON(out io.Writer, r *RunReport) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// WriteYAML renders the machine-readable report as YAML.
func WriteYAML(out io.Writer, r *RunReport) error {
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

// filenameSuffix returns "<cmp>_<resolution>" with characters unsafe for file
// names replaced.
func filenameSuffix(c Criteria) string {
	res := strings.ToLower(strings.TrimSpace(c.Resolution))
	res = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ':
			return -1
		default:
			return '_'
		}
	}, res)
	if res == "" {
		res = "unknown"
	}
	return c.Comparison.String() + "_" + res
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it into place.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, 0644); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
