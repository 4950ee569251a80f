package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aluiziolira/go-scrape-amazon/config"
)

type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	h.records = append(h.records, r)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count(level slog.Level, prefix string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level == level && strings.HasPrefix(r.Message, prefix) {
			n++
		}
	}
	return n
}

func newTestGenerator(t *testing.T, path, marketplace string) (*Generator, *recordingHandler) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.AsinsPath = path
	cfg.Marketplace = marketplace
	h := &recordingHandler{}
	return NewGenerator(cfg, slog.New(h)), h
}

func writeFile(t *testing.T, path string, lines ...string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestNewRequest(t *testing.T) {
	req := NewRequest("B000123456", "www.amazon.com")
	if req.URL != "https://www.amazon.com/dp/B000123456" {
		t.Fatalf("url = %q", req.URL)
	}
	wantReferer := "https://www.amazon.com/s/ref=nb_sb_noss_2?url=search-alias=aps&field-keywords=B000123456"
	if req.Referer != wantReferer {
		t.Fatalf("referer = %q, want %q", req.Referer, wantReferer)
	}
	if got := req.Headers().Get("Referer"); got != wantReferer {
		t.Fatalf("Referer header = %q", got)
	}
}

func TestGenerateSingleFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asins.txt")
	writeFile(t, path, "B000123456", "bad", "123456789X")

	g, h := newTestGenerator(t, path, "us")
	reqs, stats, err := g.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if reqs[0].URL != "https://www.amazon.com/dp/B000123456" || reqs[1].URL != "https://www.amazon.com/dp/123456789X" {
		t.Fatalf("unexpected urls: %q, %q", reqs[0].URL, reqs[1].URL)
	}
	if stats.Valid != 2 || stats.Invalid != 1 || stats.Files != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if got := h.count(slog.LevelInfo, "[InvalidASIN]"); got != 1 {
		t.Fatalf("invalid asin logs = %d, want 1", got)
	}
}

func TestGenerateTrimsAndSkipsBlankLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asins.txt")
	writeFile(t, path, "  B000123456  ", "", "   ", "\t0123456789")

	g, _ := newTestGenerator(t, path, "us")
	reqs, stats, err := g.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(reqs) != 2 {
		t.Fatalf("requests = %d, want 2", len(reqs))
	}
	if reqs[0].ASIN != "B000123456" {
		t.Fatalf("asin not trimmed: %q", reqs[0].ASIN)
	}
	// Trailing newline does not produce an extra line.
	if stats.Lines != 4 || stats.Invalid != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestGeneratePrefixMatchAccepted(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asins.txt")
	writeFile(t, path, "B000123456EXTRA")

	g, _ := newTestGenerator(t, path, "us")
	reqs, _, err := g.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(reqs) != 1 || reqs[0].URL != "https://www.amazon.com/dp/B000123456EXTRA" {
		t.Fatalf("requests = %+v", reqs)
	}
}

func TestGenerateDirectoryCountsValidLines(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "B000000001", "nope", "B000000002")
	writeFile(t, filepath.Join(root, "nested", "b.txt"), "123456789x", "")
	writeFile(t, filepath.Join(root, "nested", "deeper", "c.csv"), "B00000000Z", "short", "B000000003")

	g, h := newTestGenerator(t, root, "us")
	reqs, stats, err := g.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	if len(reqs) != 5 {
		t.Fatalf("requests = %d, want 5", len(reqs))
	}
	if stats.Files != 3 || stats.Valid != 5 || stats.Invalid != 3 {
		t.Fatalf("stats = %+v", stats)
	}
	if got := h.count(slog.LevelDebug, "[FoundAsinFile]"); got != 3 {
		t.Fatalf("found file logs = %d, want 3", got)
	}
}

func TestGenerateMarketplaceHost(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asins.txt")
	writeFile(t, path, "B000123456")

	g, _ := newTestGenerator(t, path, "UK")
	reqs, _, err := g.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(reqs) != 1 || reqs[0].URL != "https://www.amazon.co.uk/dp/B000123456" {
		t.Fatalf("requests = %+v", reqs)
	}
}

func TestGenerateArgumentErrors(t *testing.T) {
	existing := filepath.Join(t.TempDir(), "asins.txt")
	writeFile(t, existing, "B000123456")

	tests := []struct {
		name        string
		path        string
		marketplace string
		want        error
	}{
		{name: "missing path", path: "", marketplace: "us", want: ErrMissingPath},
		{name: "blank path", path: " \t ", marketplace: "us", want: ErrMissingPath},
		{name: "unsupported marketplace", path: existing, marketplace: "zz", want: ErrUnsupportedMarketplace},
		{name: "nonexistent path", path: filepath.Join(t.TempDir(), "missing"), marketplace: "us", want: ErrPathNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, h := newTestGenerator(t, tt.path, tt.marketplace)

			yielded := 0
			_, err := g.Generate(context.Background(), func(Request) error {
				yielded++
				return nil
			})
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if !errors.Is(err, ErrInvalidArguments) {
				t.Fatalf("error %v should wrap ErrInvalidArguments", err)
			}
			if yielded != 0 {
				t.Fatalf("yielded %d requests, want 0", yielded)
			}
			if got := h.count(LevelCritical, "[InvalidArguments]"); got != 1 {
				t.Fatalf("critical logs = %d, want 1", got)
			}
		})
	}
}

func TestGenerateUnmappedDefaultMarketplace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asins.txt")
	writeFile(t, path, "B000123456")

	cfg := config.DefaultConfig()
	cfg.AsinsPath = path
	delete(cfg.MarketplaceHosts, "us")
	h := &recordingHandler{}
	g := NewGenerator(cfg, slog.New(h))

	reqs, _, err := g.Collect(context.Background())
	if !errors.Is(err, ErrUnsupportedMarketplace) {
		t.Fatalf("error = %v, want ErrUnsupportedMarketplace", err)
	}
	if len(reqs) != 0 {
		t.Fatalf("requests = %d, want 0", len(reqs))
	}
	if h.count(LevelCritical, "[InvalidArguments]") != 1 {
		t.Fatalf("expected a critical log")
	}
}

func TestGenerateStopsOnYieldError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asins.txt")
	writeFile(t, path, "B000000001", "B000000002", "B000000003")

	g, _ := newTestGenerator(t, path, "us")
	stop := errors.New("stop")
	seen := 0
	_, err := g.Generate(context.Background(), func(Request) error {
		seen++
		if seen == 2 {
			return stop
		}
		return nil
	})
	if !errors.Is(err, stop) {
		t.Fatalf("error = %v, want stop", err)
	}
	if seen != 2 {
		t.Fatalf("yielded %d, want 2", seen)
	}
}

func TestGenerateHonoursCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "asins.txt")
	lines := make([]string, 0, 10)
	for i := 0; i < 10; i++ {
		lines = append(lines, fmt.Sprintf("B%09d", i))
	}
	writeFile(t, path, lines...)

	ctx, cancel := context.WithCancel(context.Background())
	g, _ := newTestGenerator(t, path, "us")
	seen := 0
	_, err := g.Generate(ctx, func(Request) error {
		seen++
		if seen == 3 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if seen != 3 {
		t.Fatalf("yielded %d, want 3", seen)
	}
}

func TestAbsPathExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	got, err := absPath("~/asins")
	if err != nil {
		t.Fatalf("absPath: %v", err)
	}
	if got != filepath.Join(home, "asins") {
		t.Fatalf("absPath = %q, want %q", got, filepath.Join(home, "asins"))
	}
}

func TestCheckDoesNotListFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "B000123456")

	g, h := newTestGenerator(t, root, "us")
	if err := g.Check(); err != nil {
		t.Fatalf("check: %v", err)
	}
	if got := h.count(slog.LevelDebug, "[FoundAsinFile]"); got != 0 {
		t.Fatalf("check walked %d files", got)
	}

	g, h = newTestGenerator(t, root, "nowhere")
	if err := g.Check(); !errors.Is(err, ErrUnsupportedMarketplace) {
		t.Fatalf("check error = %v", err)
	}
	if h.count(LevelCritical, "[InvalidArguments]") != 1 {
		t.Fatalf("expected a critical log")
	}
}

func TestGenerateSkipsSymlinkedDirectories(t *testing.T) {
	root := t.TempDir()
	other := t.TempDir()
	writeFile(t, filepath.Join(root, "a.txt"), "B000000001")
	writeFile(t, filepath.Join(other, "b.txt"), "B000000002")
	writeFile(t, filepath.Join(other, "linked.txt"), "B000000003")
	if err := os.Symlink(other, filepath.Join(root, "zlink")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}
	if err := os.Symlink(filepath.Join(other, "linked.txt"), filepath.Join(root, "file-link.txt")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	g, _ := newTestGenerator(t, root, "us")
	reqs, stats, err := g.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}

	got := make([]string, 0, len(reqs))
	for _, r := range reqs {
		got = append(got, r.ASIN)
	}
	// a.txt and the file link are sources; the directory link is not followed.
	if strings.Join(got, ",") != "B000000001,B000000003" {
		t.Fatalf("asins = %v", got)
	}
	if stats.Files != 2 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestGenerateLongLines(t *testing.T) {
	long := "B000000002" + strings.Repeat("A", 2<<20)
	path := filepath.Join(t.TempDir(), "asins.txt")
	// No trailing newline on the last line.
	content := strings.Join([]string{"B000000001", long, strings.Repeat("z", 2<<20), "B000000003"}, "\n")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	g, _ := newTestGenerator(t, path, "us")
	reqs, stats, err := g.Collect(context.Background())
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(reqs) != 3 {
		t.Fatalf("requests = %d, want 3", len(reqs))
	}
	if reqs[1].ASIN != long || reqs[2].ASIN != "B000000003" {
		t.Fatalf("unexpected asins: %.20q, %q", reqs[1].ASIN, reqs[2].ASIN)
	}
	if stats.Lines != 4 || stats.Valid != 3 || stats.Invalid != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}
