package display

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"video-scanner-go/internal/extractor"
	"video-scanner-go/internal/report"
	"video-scanner-go/internal/resolution"
	"video-scanner-go/internal/store"
)

func TestSummary(t *testing.T) {
	agg := report.NewAggregator(report.CriteriaFromSpec(resolution.MustParse("360p", resolution.EQ)), "/src")
	agg.SetTotal(2)
	agg.Merge(report.Matched(report.MatchRecord{File: "clips/a.mp4", Width: 640, Height: 360, SizeBytes: 2048}))
	agg.Merge(report.Failed("clips/bad.mp4", "Failed to extract video metadata"))
	r := agg.Seal(nil)

	out := Summary(r, []string{"/log/video_scan_eq_360p.txt"})
	for _, want := range []string{
		"Video Resolution Scan Results",
		"== 360p",
		"clips/a.mp4 (640x360, 2.0 kB)",
		"clips/bad.mp4: Failed to extract video metadata",
		"/log/video_scan_eq_360p.txt",
		r.ID,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("summary missing %q:\n%s", want, out)
		}
	}
}

func TestSummary_TruncatesLongLists(t *testing.T) {
	agg := report.NewAggregator(report.CriteriaFromSpec(resolution.MustParse("720", resolution.GTE)), "/src")
	for i := 0; i < MaxListed+5; i++ {
		agg.Merge(report.Matched(report.MatchRecord{File: fmt.Sprintf("f%02d.mp4", i), Width: 1280, Height: 720}))
	}
	out := Summary(agg.Seal(nil), nil)

	if !strings.Contains(out, "... and 5 more") {
		t.Errorf("expected truncation marker:\n%s", out)
	}
	if strings.Contains(out, fmt.Sprintf("f%02d.mp4", MaxListed)) {
		t.Error("entries past the cap should not be listed")
	}
	if strings.Contains(out, "Reports:") {
		t.Error("reports section should be omitted without paths")
	}
}

func TestProbe(t *testing.T) {
	info := &extractor.VideoInfo{Width: 1920, Height: 1080, Codec: "hevc", Duration: 90 * time.Second, FrameRate: 23.976}
	criteria := report.CriteriaFromSpec(resolution.MustParse("1080p", resolution.GTE))

	out := Probe("movie.mp4", info, criteria, true)
	for _, want := range []string{"movie.mp4", "1920x1080", "hevc", "1m30s", "23.976 fps", ">= 1080p", "match"} {
		if !strings.Contains(out, want) {
			t.Errorf("probe output missing %q:\n%s", want, out)
		}
	}

	out = Probe("movie.mp4", &extractor.VideoInfo{Width: 640, Height: 360}, criteria, false)
	if !strings.Contains(out, "no match") || strings.Contains(out, "Codec:") {
		t.Errorf("non-matching probe output:\n%s", out)
	}
}

func TestHistory(t *testing.T) {
	if out := History(nil); !strings.Contains(out, "No runs recorded.") {
		t.Errorf("empty history: %q", out)
	}

	out := History([]store.RunSummary{{
		ID:              "run-1",
		ScanTimestamp:   time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC),
		SourceDirectory: "/videos",
		Resolution:      "360p",
		Comparison:      "eq",
		TotalFiles:      12,
		ErrorFiles:      2,
		MatchingFiles:   3,
	}})
	for _, want := range []string{"Scan History", "run-1", "eq 360p", "12 files", "3 matches", "2 errors", "/videos"} {
		if !strings.Contains(out, want) {
			t.Errorf("history missing %q:\n%s", want, out)
		}
	}
}
