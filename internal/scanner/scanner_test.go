package scanner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"video-scanner-go/internal/config"
	"video-scanner-go/internal/extractor"
	"video-scanner-go/internal/report"
	"video-scanner-go/internal/resolution"
	"video-scanner-go/internal/statistics"
)

// fakeExtractor answers probes by file base name.
type fakeExtractor struct {
	dims        map[string][2]int
	fail        map[string]bool
	panics      map[string]bool
	unavailable bool
	calls       atomic.Int32
}

func (f *fakeExtractor) Probe(ctx context.Context, path string) (*extractor.VideoInfo, error) {
	f.calls.Add(1)
	name := filepath.Base(path)
	if f.panics[name] {
		panic("decoder exploded")
	}
	if f.fail[name] {
		return nil, &extractor.ProbeError{Path: path, Err: extractor.ErrNoVideoStream}
	}
	d, ok := f.dims[name]
	if !ok {
		return nil, &extractor.ProbeError{Path: path, Err: extractor.ErrProbeFailed}
	}
	return &extractor.VideoInfo{Width: d[0], Height: d[1], Codec: "h264"}, nil
}

func (f *fakeExtractor) Available(ctx context.Context) error {
	if f.unavailable {
		return extractor.ErrCapabilityUnavailable
	}
	return nil
}

func (f *fakeExtractor) Name() string { return "fake" }

func touch(t *testing.T, root string, rel ...string) []string {
	t.Helper()
	var paths []string
	for _, r := range rel {
		p := filepath.Join(root, filepath.FromSlash(r))
		if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(p, []byte("video-bytes"), 0644); err != nil {
			t.Fatalf("write: %v", err)
		}
		paths = append(paths, p)
	}
	return paths
}

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.mp4", "sub/b.mp4", "sub/deeper/c.mp4", "notes.txt", "upper.MP4", "clip.mkv")

	stats := statistics.NewStatistics()
	files, err := NewDiscoverer([]string{".mp4"}, false, stats, nil).Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}

	var rel []string
	for _, f := range files {
		rel = append(rel, relativePath(root, f))
	}
	want := []string{"a.mp4", "sub/b.mp4", "sub/deeper/c.mp4"}
	if strings.Join(rel, ",") != strings.Join(want, ",") {
		t.Errorf("files: got %v, want %v", rel, want)
	}
	if stats.FilesFound != 3 {
		t.Errorf("files found: got %d", stats.FilesFound)
	}
	if stats.DirectoriesScanned != 3 {
		t.Errorf("directories scanned: got %d, want 3", stats.DirectoriesScanned)
	}
}

func TestDiscover_CaseInsensitive(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.mp4", "B.MP4", "c.Mp4", "d.mov")

	files, err := NewDiscoverer([]string{".MP4"}, true, nil, nil).Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	if len(files) != 3 {
		t.Errorf("files: got %v, want 3 entries", files)
	}
}

func TestDiscover_RootErrors(t *testing.T) {
	root := t.TempDir()
	file := touch(t, root, "a.mp4")[0]

	for _, path := range []string{filepath.Join(root, "missing"), file} {
		files, err := NewDiscoverer([]string{".mp4"}, false, nil, nil).Discover(path)
		if !errors.Is(err, ErrDirectoryScan) {
			t.Errorf("Discover(%s): got %v, want ErrDirectoryScan", path, err)
		}
		if len(files) != 0 {
			t.Errorf("Discover(%s): got files %v", path, files)
		}
	}
}

func TestDiscover_Symlinks(t *testing.T) {
	root := t.TempDir()
	target := touch(t, root, "real/clip.mp4")[0]
	if err := os.Symlink(target, filepath.Join(root, "link.mp4")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "real"), filepath.Join(root, "dir.mp4")); err != nil {
		t.Fatalf("symlink: %v", err)
	}
	if err := os.Symlink(filepath.Join(root, "nowhere"), filepath.Join(root, "broken.mp4")); err != nil {
		t.Fatalf("symlink: %v", err)
	}

	files, err := NewDiscoverer([]string{".mp4"}, false, nil, nil).Discover(root)
	if err != nil {
		t.Fatalf("Discover: %v", err)
	}
	var rel []string
	for _, f := range files {
		rel = append(rel, relativePath(root, f))
	}
	want := []string{"link.mp4", "real/clip.mp4"}
	if strings.Join(rel, ",") != strings.Join(want, ",") {
		t.Errorf("files: got %v, want %v", rel, want)
	}
}

func TestResolveWorkers(t *testing.T) {
	tests := []struct {
		in, want int
	}{
		{1, 1},
		{4, 4},
		{8, 8},
		{32, 8},
	}
	for _, tt := range tests {
		if got := ResolveWorkers(tt.in); got != tt.want {
			t.Errorf("ResolveWorkers(%d): got %d, want %d", tt.in, got, tt.want)
		}
	}

	auto := ResolveWorkers(0)
	if auto < MinWorkers || auto > MaxWorkers {
		t.Errorf("auto workers out of range: %d", auto)
	}
	if ClampWorkerCount(-3) != MinWorkers {
		t.Errorf("negative count should clamp to %d", MinWorkers)
	}
}

func TestDispatcher_EmptyInput(t *testing.T) {
	ext := &fakeExtractor{}
	r := NewDispatcher(ext, 4, nil, nil).Run(context.Background(), "/src", nil, resolution.MustParse("360p", resolution.EQ))

	if r.TotalFiles != 0 || r.ProcessedFiles != 0 || r.ErrorFiles != 0 || r.MatchCount() != 0 {
		t.Errorf("empty run: %+v", r)
	}
	if ext.calls.Load() != 0 {
		t.Errorf("probe should not be called, got %d calls", ext.calls.Load())
	}
	if r.Statistics == nil {
		t.Error("statistics snapshot missing")
	}
}

func TestDispatcher_FaultInjection(t *testing.T) {
	root := t.TempDir()
	files := touch(t, root, "ok360.mp4", "ok720.mp4", "bad.mp4", "sub/ok364.mp4")
	ext := &fakeExtractor{
		dims: map[string][2]int{
			"ok360.mp4": {640, 360},
			"ok720.mp4": {1280, 720},
			"ok364.mp4": {640, 364},
		},
		fail: map[string]bool{"bad.mp4": true},
	}

	r := NewDispatcher(ext, 3, nil, nil).Run(context.Background(), root, files, resolution.MustParse("360p", resolution.EQ))

	if r.TotalFiles != 4 || r.ProcessedFiles != 4 {
		t.Errorf("counts: total=%d processed=%d", r.TotalFiles, r.ProcessedFiles)
	}
	if r.ErrorFiles != 1 || len(r.Errors) != 1 || r.Errors[0].File != "bad.mp4" {
		t.Errorf("errors: %+v", r.Errors)
	}
	if !strings.HasPrefix(r.Errors[0].Error, "Failed to extract video metadata") {
		t.Errorf("error message: %q", r.Errors[0].Error)
	}

	got := matchFiles(r)
	want := []string{"ok360.mp4", "sub/ok364.mp4"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("matches: got %v, want %v", got, want)
	}
	for _, m := range r.MatchingFiles {
		if m.SizeBytes != int64(len("video-bytes")) || m.Codec != "h264" {
			t.Errorf("match record: %+v", m)
		}
	}
}

func TestDispatcher_PanicBecomesError(t *testing.T) {
	root := t.TempDir()
	files := touch(t, root, "a.mp4", "boom.mp4", "c.mp4")
	ext := &fakeExtractor{
		dims:   map[string][2]int{"a.mp4": {640, 360}, "c.mp4": {640, 360}},
		panics: map[string]bool{"boom.mp4": true},
	}

	r := NewDispatcher(ext, 2, nil, nil).Run(context.Background(), root, files, resolution.MustParse("360p", resolution.EQ))

	if r.ProcessedFiles != 3 || r.ErrorFiles != 1 || r.MatchCount() != 2 {
		t.Fatalf("counts: processed=%d errors=%d matches=%d", r.ProcessedFiles, r.ErrorFiles, r.MatchCount())
	}
	if r.Errors[0].File != "boom.mp4" || !strings.Contains(r.Errors[0].Error, "Worker error: decoder exploded") {
		t.Errorf("error record: %+v", r.Errors[0])
	}
}

func TestDispatcher_MissingFile(t *testing.T) {
	root := t.TempDir()
	missing := filepath.Join(root, "gone.mp4")
	ext := &fakeExtractor{dims: map[string][2]int{"gone.mp4": {640, 360}}}

	r := NewDispatcher(ext, 1, nil, nil).Run(context.Background(), root, []string{missing}, resolution.MustParse("360p", resolution.EQ))
	if r.ErrorFiles != 1 || !strings.HasPrefix(r.Errors[0].Error, "Error processing file") {
		t.Errorf("errors: %+v", r.Errors)
	}
	if ext.calls.Load() != 0 {
		t.Error("probe should not run for a file that cannot be stat'ed")
	}
}

func TestDispatcher_StreamWithoutDimensionsIsProcessed(t *testing.T) {
	root := t.TempDir()
	files := touch(t, root, "blank.mp4", "half.mp4")
	ext := &fakeExtractor{dims: map[string][2]int{"blank.mp4": {0, 0}, "half.mp4": {640, 0}}}

	for _, cmp := range []resolution.Comparison{resolution.EQ, resolution.LTE, resolution.GTE} {
		r := NewDispatcher(ext, 2, nil, nil).Run(context.Background(), root, files, resolution.MustParse("360p", cmp))
		if r.ProcessedFiles != 2 || r.ErrorFiles != 0 || r.MatchCount() != 0 {
			t.Errorf("%s: processed=%d errors=%d matches=%d", cmp, r.ProcessedFiles, r.ErrorFiles, r.MatchCount())
		}
	}
}

func TestDispatcher_PanickingProgressHook(t *testing.T) {
	root := t.TempDir()
	files := touch(t, root, "a.mp4", "b.mp4")
	ext := &fakeExtractor{dims: map[string][2]int{"a.mp4": {640, 360}, "b.mp4": {640, 360}}}

	var calls atomic.Int32
	progress := func(done, total int, res report.FileResult) {
		calls.Add(1)
		panic("listener gone")
	}

	r := NewDispatcherWithProgress(ext, 2, nil, nil, progress).Run(context.Background(), root, files, resolution.MustParse("360p", resolution.EQ))
	if r.ProcessedFiles != 2 || r.MatchCount() != 2 || r.ErrorFiles != 0 {
		t.Errorf("counts: processed=%d matches=%d errors=%d", r.ProcessedFiles, r.MatchCount(), r.ErrorFiles)
	}
	if calls.Load() != 2 {
		t.Errorf("hook calls: got %d, want 2", calls.Load())
	}
}

func TestDispatcher_WorkerCountDoesNotChangeCounts(t *testing.T) {
	root := t.TempDir()
	var names []string
	dims := make(map[string][2]int)
	fail := make(map[string]bool)
	for i := 0; i < 40; i++ {
		name := filepathName(i)
		names = append(names, name)
		switch i % 4 {
		case 0:
			dims[name] = [2]int{640, 360}
		case 1:
			dims[name] = [2]int{1920, 1080}
		case 2:
			fail[name] = true
		default:
			dims[name] = [2]int{854, 480}
		}
	}
	files := touch(t, root, names...)
	spec := resolution.MustParse("480", resolution.LTE)

	var reports []*report.RunReport
	for _, workers := range []int{1, 4, 8} {
		ext := &fakeExtractor{dims: dims, fail: fail}
		reports = append(reports, NewDispatcher(ext, workers, nil, nil).Run(context.Background(), root, files, spec))
	}
	// Same worker count twice: runs are idempotent.
	reports = append(reports, NewDispatcher(&fakeExtractor{dims: dims, fail: fail}, 4, nil, nil).Run(context.Background(), root, files, spec))

	base := reports[0]
	if base.MatchCount() != 20 || base.ErrorFiles != 10 || base.ProcessedFiles != 40 {
		t.Fatalf("sequential counts: matches=%d errors=%d processed=%d", base.MatchCount(), base.ErrorFiles, base.ProcessedFiles)
	}
	for i, r := range reports[1:] {
		if r.TotalFiles != base.TotalFiles || r.ProcessedFiles != base.ProcessedFiles ||
			r.ErrorFiles != base.ErrorFiles || r.MatchCount() != base.MatchCount() {
			t.Errorf("report %d counts differ from sequential run", i+1)
		}
		if strings.Join(matchFiles(r), ",") != strings.Join(matchFiles(base), ",") {
			t.Errorf("report %d match set differs", i+1)
		}
	}
}

func TestDispatcher_ProgressHook(t *testing.T) {
	root := t.TempDir()
	files := touch(t, root, "a.mp4", "b.mp4", "c.mp4")
	ext := &fakeExtractor{dims: map[string][2]int{"a.mp4": {640, 360}, "b.mp4": {640, 360}, "c.mp4": {640, 360}}}

	var mu sync.Mutex
	var seen []int
	progress := func(done, total int, res report.FileResult) {
		mu.Lock()
		defer mu.Unlock()
		if total != 3 {
			t.Errorf("total: got %d", total)
		}
		seen = append(seen, done)
	}

	NewDispatcherWithProgress(ext, 2, nil, nil, progress).Run(context.Background(), root, files, resolution.MustParse("360p", resolution.EQ))

	sort.Ints(seen)
	if len(seen) != 3 || seen[0] != 1 || seen[2] != 3 {
		t.Errorf("progress calls: %v", seen)
	}
}

func TestRelativePath(t *testing.T) {
	root := filepath.FromSlash("/videos")
	tests := []struct {
		path, want string
	}{
		{filepath.FromSlash("/videos/a.mp4"), "a.mp4"},
		{filepath.FromSlash("/videos/sub/b.mp4"), "sub/b.mp4"},
		{filepath.FromSlash("/elsewhere/c.mp4"), filepath.FromSlash("/elsewhere/c.mp4")},
	}
	for _, tt := range tests {
		if got := relativePath(root, tt.path); got != tt.want {
			t.Errorf("relativePath(%s): got %s, want %s", tt.path, got, tt.want)
		}
	}
}

type recordingStore struct {
	saved []*report.RunReport
	err   error
}

func (s *recordingStore) SaveRun(r *report.RunReport) error {
	s.saved = append(s.saved, r)
	return s.err
}

func testConfig(t *testing.T, src string) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.SourceDirectory = src
	cfg.OutputDirectory = filepath.Join(t.TempDir(), "log")
	cfg.Performance.WorkerThreads = 2
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	return cfg
}

func TestScanner_Scan(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.mp4", "sub/b.mp4", "c.mp4", "skip.txt")
	ext := &fakeExtractor{dims: map[string][2]int{"a.mp4": {640, 360}, "b.mp4": {1280, 720}}}
	cfg := testConfig(t, root)
	store := &recordingStore{}

	res, err := New(cfg, ext, nil, store, nil).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	r := res.Report
	if r.TotalFiles != 3 || r.ProcessedFiles != 3 || r.ErrorFiles != 1 || r.MatchCount() != 1 {
		t.Errorf("counts: %+v", r)
	}
	if r.SourceDirectory != root {
		t.Errorf("source directory: got %s", r.SourceDirectory)
	}
	if len(res.Paths) != 2 {
		t.Fatalf("report paths: %v", res.Paths)
	}
	for _, p := range res.Paths {
		if _, err := os.Stat(p); err != nil {
			t.Errorf("report file %s: %v", p, err)
		}
	}
	if len(store.saved) != 1 || store.saved[0].ID != r.ID {
		t.Errorf("history store: %v", store.saved)
	}
	if res.Stats == nil || !strings.Contains(res.Stats.GetExtensionBreakdown(), ".mp4: 3") {
		t.Errorf("extension breakdown missing from result stats")
	}
}

func TestScanner_StoreFailureIsNotFatal(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.mp4")
	ext := &fakeExtractor{dims: map[string][2]int{"a.mp4": {640, 360}}}
	store := &recordingStore{err: errors.New("disk full")}

	res, err := New(testConfig(t, root), ext, nil, store, nil).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if res.Report.MatchCount() != 1 {
		t.Errorf("matches: got %d", res.Report.MatchCount())
	}
}

func TestScanner_CapabilityUnavailable(t *testing.T) {
	root := t.TempDir()
	touch(t, root, "a.mp4", "b.mp4")
	ext := &fakeExtractor{unavailable: true}
	store := &recordingStore{}

	res, err := New(testConfig(t, root), ext, nil, store, nil).Scan(context.Background())
	if !errors.Is(err, extractor.ErrCapabilityUnavailable) {
		t.Fatalf("got %v, want ErrCapabilityUnavailable", err)
	}
	if res == nil || res.Report.TotalFiles != 0 || res.Report.ProcessedFiles != 0 {
		t.Fatalf("expected empty report, got %+v", res)
	}
	if len(res.Paths) != 2 {
		t.Errorf("empty report should still be written, got %v", res.Paths)
	}
	if ext.calls.Load() != 0 {
		t.Error("no file may be probed when the backend is unavailable")
	}
	if len(store.saved) != 0 {
		t.Error("aborted run should not be saved to history")
	}
}

func TestScanner_MissingSourceDirectory(t *testing.T) {
	cfg := testConfig(t, filepath.Join(t.TempDir(), "nope"))
	res, err := New(cfg, &fakeExtractor{}, nil, nil, nil).Scan(context.Background())
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if !errors.Is(res.DiscoveryErr, ErrDirectoryScan) {
		t.Errorf("discovery error: got %v", res.DiscoveryErr)
	}
	if res.Report.TotalFiles != 0 {
		t.Errorf("total: got %d", res.Report.TotalFiles)
	}
}

func TestScanner_InvalidCriterion(t *testing.T) {
	cfg := testConfig(t, t.TempDir())
	cfg.Resolution = "wide"
	ext := &fakeExtractor{}

	if _, err := New(cfg, ext, nil, nil, nil).Scan(context.Background()); !errors.Is(err, resolution.ErrInvalidResolutionFormat) {
		t.Errorf("got %v, want ErrInvalidResolutionFormat", err)
	}
}

func matchFiles(r *report.RunReport) []string {
	var out []string
	for _, m := range r.MatchingFiles {
		out = append(out, m.File)
	}
	sort.Strings(out)
	return out
}

func filepathName(i int) string {
	return "clip" + string(rune('a'+i/26)) + string(rune('a'+i%26)) + ".mp4"
}
