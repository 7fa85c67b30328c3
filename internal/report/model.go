package report

import (
	"time"

	"video-scanner-go/internal/resolution"
	"video-scanner-go/internal/statistics"
)

// ResultKind tags the outcome of processing a single file.
type ResultKind int

const (
	KindProcessed ResultKind = iota
	KindMatch
	KindError
)

// String returns a human-readable name for the result kind.
func (k ResultKind) String() string {
	switch k {
	case KindMatch:
		return "match"
	case KindError:
		return "error"
	default:
		return "processed"
	}
}

// MatchRecord describes a file that satisfied the criterion.
// Codec, Duration and FrameRate are only set when the probe backend reports them.
type MatchRecord struct {
	File      string  `json:"file" yaml:"file"`
	Width     int     `json:"width" yaml:"width"`
	Height    int     `json:"height" yaml:"height"`
	SizeBytes int64   `json:"size_bytes" yaml:"size_bytes"`
	Codec     string  `json:"codec,omitempty" yaml:"codec,omitempty"`
	Duration  float64 `json:"duration_seconds,omitempty" yaml:"duration_seconds,omitempty"`
	FrameRate float64 `json:"frame_rate,omitempty" yaml:"frame_rate,omitempty"`
}

// ErrorRecord describes a file that could not be classified.
type ErrorRecord struct {
	File  string `json:"file" yaml:"file"`
	Error string `json:"error" yaml:"error"`
}

// FileResult is the single terminal outcome for one discovered file.
// Match is set for KindMatch, Err for KindError.
type FileResult struct {
	Kind  ResultKind
	Path  string
	Match *MatchRecord
	Err   *ErrorRecord
}

// Processed returns a result for a file that was probed but did not match.
func Processed(path string) FileResult {
	return FileResult{Kind: KindProcessed, Path: path}
}

// Matched returns a result for a matching file.
func Matched(rec MatchRecord) FileResult {
	return FileResult{Kind: KindMatch, Path: rec.File, Match: &rec}
}

// Failed returns a result for a file whose processing failed.
func Failed(path, message string) FileResult {
	return FileResult{Kind: KindError, Path: path, Err: &ErrorRecord{File: path, Error: message}}
}

// Criteria is the serialized form of a resolution.Spec.
type Criteria struct {
	Resolution   string                `json:"resolution_criteria" yaml:"resolution_criteria"`
	Comparison   resolution.Comparison `json:"comparison_type" yaml:"comparison_type"`
	TargetWidth  *int                  `json:"target_width" yaml:"target_width"`
	TargetHeight *int                  `json:"target_height" yaml:"target_height"`
}

// CriteriaFromSpec builds the report criteria block for spec.
func CriteriaFromSpec(spec resolution.Spec) Criteria {
	c := Criteria{
		Resolution: spec.Raw(),
		Comparison: spec.Comparison(),
	}
	if w, ok := spec.Width(); ok {
		c.TargetWidth = &w
	}
	h := spec.Height()
	c.TargetHeight = &h
	return c
}

// Description renders the criteria as "<symbol> <resolution>".
func (c Criteria) Description() string {
	return c.Comparison.Symbol() + " " + c.Resolution
}

// RunReport is the aggregate result of one scan.
type RunReport struct {
	ID              string               `json:"id" yaml:"id"`
	ScanTimestamp   time.Time            `json:"scan_timestamp" yaml:"scan_timestamp"`
	SourceDirectory string               `json:"source_directory" yaml:"source_directory"`
	Criteria        Criteria             `json:"criteria" yaml:"criteria"`
	TotalFiles      int                  `json:"total_files" yaml:"total_files"`
	ProcessedFiles  int                  `json:"processed_files" yaml:"processed_files"`
	ErrorFiles      int                  `json:"error_files" yaml:"error_files"`
	MatchingFiles   []MatchRecord        `json:"matching_files" yaml:"matching_files"`
	Errors          []ErrorRecord        `json:"errors" yaml:"errors"`
	Statistics      *statistics.Snapshot `json:"statistics,omitempty" yaml:"statistics,omitempty"`
}

// MatchCount returns the number of matching files.
func (r *RunReport) MatchCount() int {
	return len(r.MatchingFiles)
}

// clone returns a deep copy of r.
func (r *RunReport) clone() *RunReport {
	out := *r
	out.MatchingFiles = append(make([]MatchRecord, 0, len(r.MatchingFiles)), r.MatchingFiles...)
	out.Errors = append(make([]ErrorRecord, 0, len(r.Errors)), r.Errors...)
	if r.Criteria.TargetWidth != nil {
		w := *r.Criteria.TargetWidth
		out.Criteria.TargetWidth = &w
	}
	if r.Criteria.TargetHeight != nil {
		h := *r.Criteria.TargetHeight
		out.Criteria.TargetHeight = &h
	}
	if r.Statistics != nil {
		s := *r.Statistics
		out.Statistics = &s
	}
	return &out
}
