package extractor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"video-scanner-go/internal/config"
)

type countingExtractor struct {
	calls atomic.Int32
	fail  bool
}

func (c *countingExtractor) Probe(ctx context.Context, path string) (*VideoInfo, error) {
	c.calls.Add(1)
	if c.fail {
		return nil, probeError(path, ErrNoVideoStream)
	}
	return &VideoInfo{Width: 640, Height: 360}, nil
}

func (c *countingExtractor) Available(ctx context.Context) error { return nil }

func (c *countingExtractor) Name() string { return "counting" }

func writeClip(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestCachedExtractor_HitsAndMisses(t *testing.T) {
	inner := &countingExtractor{}
	c := NewCachedExtractor(inner)
	path := writeClip(t, t.TempDir(), "a.mp4", "data")

	for i := 0; i < 3; i++ {
		info, err := c.Probe(context.Background(), path)
		if err != nil {
			t.Fatalf("Probe: %v", err)
		}
		if info.Height != 360 {
			t.Errorf("height: got %d", info.Height)
		}
	}

	if inner.calls.Load() != 1 {
		t.Errorf("inner calls: got %d, want 1", inner.calls.Load())
	}
	stats := c.GetCacheStats()
	if stats.Hits != 2 || stats.Misses != 1 || stats.TotalQueries != 3 || stats.Size != 1 {
		t.Errorf("stats: %+v", stats)
	}
	if stats.HitRate < 66 || stats.HitRate > 67 {
		t.Errorf("hit rate: got %v", stats.HitRate)
	}
}

func TestCachedExtractor_ChangedFileIsReprobed(t *testing.T) {
	inner := &countingExtractor{}
	c := NewCachedExtractor(inner)
	dir := t.TempDir()
	path := writeClip(t, dir, "a.mp4", "data")

	if _, err := c.Probe(context.Background(), path); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	writeClip(t, dir, "a.mp4", "longer data")
	if _, err := c.Probe(context.Background(), path); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if inner.calls.Load() != 2 {
		t.Errorf("inner calls: got %d, want 2", inner.calls.Load())
	}
}

func TestCachedExtractor_FailuresNotCached(t *testing.T) {
	inner := &countingExtractor{fail: true}
	c := NewCachedExtractor(inner)
	path := writeClip(t, t.TempDir(), "a.mp4", "data")

	for i := 0; i < 2; i++ {
		if _, err := c.Probe(context.Background(), path); !errors.Is(err, ErrNoVideoStream) {
			t.Fatalf("got %v, want ErrNoVideoStream", err)
		}
	}
	if inner.calls.Load() != 2 {
		t.Errorf("inner calls: got %d, want 2", inner.calls.Load())
	}
	if c.GetCacheStats().Size != 0 {
		t.Error("failure should not be cached")
	}
}

func TestCachedExtractor_MissingFile(t *testing.T) {
	c := NewCachedExtractor(&countingExtractor{})
	_, err := c.Probe(context.Background(), filepath.Join(t.TempDir(), "gone.mp4"))
	if !IsProbeError(err) || !errors.Is(err, ErrProbeFailed) {
		t.Errorf("got %v, want ProbeError wrapping ErrProbeFailed", err)
	}
}

func TestCachedExtractor_ClearCache(t *testing.T) {
	inner := &countingExtractor{}
	c := NewCachedExtractor(inner)
	path := writeClip(t, t.TempDir(), "a.mp4", "data")

	c.Probe(context.Background(), path)
	c.ClearCache()
	if stats := c.GetCacheStats(); stats.Size != 0 || stats.TotalQueries != 0 {
		t.Errorf("stats after clear: %+v", stats)
	}
	c.Probe(context.Background(), path)
	if inner.calls.Load() != 2 {
		t.Errorf("inner calls: got %d, want 2", inner.calls.Load())
	}
}

func TestNew(t *testing.T) {
	tests := []struct {
		cfg      config.ProbeConfig
		wantName string
		cached   bool
		wantErr  bool
	}{
		{cfg: config.ProbeConfig{Backend: "ffprobe"}, wantName: BackendFFprobe},
		{cfg: config.ProbeConfig{}, wantName: BackendFFprobe},
		{cfg: config.ProbeConfig{Backend: "exiftool", Cache: true}, wantName: BackendExifTool, cached: true},
		{cfg: config.ProbeConfig{Backend: "mediainfo"}, wantErr: true},
	}

	for _, tt := range tests {
		ext, err := New(tt.cfg, nil)
		if tt.wantErr {
			if err == nil {
				t.Errorf("New(%+v): expected error", tt.cfg)
			}
			continue
		}
		if err != nil {
			t.Fatalf("New(%+v): %v", tt.cfg, err)
		}
		if ext.Name() != tt.wantName {
			t.Errorf("name: got %s, want %s", ext.Name(), tt.wantName)
		}
		if _, ok := ext.(CachedDimensionExtractor); ok != tt.cached {
			t.Errorf("cached: got %v, want %v", ok, tt.cached)
		}
		Close(ext)
	}
}
