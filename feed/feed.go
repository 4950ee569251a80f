// Package feed turns ASIN files into product detail requests.
package feed

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/aluiziolira/go-scrape-amazon/config"
	"github.com/aluiziolira/go-scrape-amazon/parser"
)

// LevelCritical sits above slog.LevelError and marks run-aborting problems.
const LevelCritical = slog.Level(12)

var (
	// ErrInvalidArguments wraps every configuration error that aborts a run.
	ErrInvalidArguments = errors.New("invalid arguments")
	// ErrMissingPath is returned when no ASIN path was supplied.
	ErrMissingPath = fmt.Errorf("%w: asins path is required", ErrInvalidArguments)
	// ErrUnsupportedMarketplace is returned for selectors missing from the host map.
	ErrUnsupportedMarketplace = fmt.Errorf("%w: marketplace is not supported", ErrInvalidArguments)
	// ErrPathNotFound is returned when the ASIN path does not exist.
	ErrPathNotFound = fmt.Errorf("%w: asins path does not exist", ErrInvalidArguments)
)

// Request is a single product detail fetch.
type Request struct {
	ASIN    string
	URL     string
	Referer string
}

// Headers returns the HTTP headers to send with the request.
func (r Request) Headers() http.Header {
	h := http.Header{}
	h.Set("Referer", r.Referer)
	return h
}

// NewRequest builds the detail request for asin on host.
func NewRequest(asin, host string) Request {
	base := "https://" + host
	return Request{
		ASIN:    asin,
		URL:     base + "/dp/" + asin,
		Referer: base + "/s/ref=nb_sb_noss_2?url=search-alias=aps&field-keywords=" + asin,
	}
}

// Stats summarises one generation pass.
type Stats struct {
	Files   int
	Lines   int
	Valid   int
	Invalid int
}

// Generator reads ASINs from a file or directory tree.
type Generator struct {
	Path        string
	Marketplace string
	Hosts       map[string]string

	logger *slog.Logger
}

// NewGenerator builds a generator from cfg. A nil logger uses slog.Default.
func NewGenerator(cfg *config.Config, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{
		Path:        cfg.AsinsPath,
		Marketplace: cfg.MarketplaceKey(),
		Hosts:       cfg.MarketplaceHosts,
		logger:      logger,
	}
}

// Check validates the arguments without reading any file. Failures are
// logged at LevelCritical and wrap ErrInvalidArguments.
func (g *Generator) Check() error {
	_, _, err := g.check()
	return err
}

// Resolve checks the arguments and lists the ASIN source files. Nothing is
// read until Resolve succeeds.
func (g *Generator) Resolve() ([]string, string, error) {
	path, host, err := g.check()
	if err != nil {
		return nil, "", err
	}

	files, err := g.findFiles(path)
	if err != nil {
		return nil, "", fmt.Errorf("list asin files: %w", err)
	}
	return files, host, nil
}

func (g *Generator) check() (string, string, error) {
	if strings.TrimSpace(g.Path) == "" {
		g.logger.Log(context.Background(), LevelCritical,
			`[InvalidArguments] You must supply "asins_path" argument to run detail_loader spider.`)
		return "", "", ErrMissingPath
	}

	marketplace := strings.ToLower(strings.TrimSpace(g.Marketplace))
	if marketplace == "" {
		marketplace = config.DefaultMarketplace
	}
	host, ok := g.Hosts[marketplace]
	if !ok || host == "" {
		g.logger.Log(context.Background(), LevelCritical,
			"[InvalidArguments] Marketplace is not supported",
			slog.String("marketplace", marketplace))
		return "", "", fmt.Errorf("%w: %q", ErrUnsupportedMarketplace, marketplace)
	}

	path, err := absPath(g.Path)
	if err != nil {
		g.logger.Log(context.Background(), LevelCritical,
			"[InvalidArguments] Given asins path cannot be resolved",
			slog.String("path", g.Path), slog.Any("error", err))
		return "", "", fmt.Errorf("%w: %v", ErrInvalidArguments, err)
	}
	if _, err := os.Stat(path); err != nil {
		g.logger.Log(context.Background(), LevelCritical,
			`[InvalidArguments] Given "asins_path" does not exist!`,
			slog.String("path", path))
		return "", "", fmt.Errorf("%w: %s", ErrPathNotFound, path)
	}
	return path, host, nil
}

// Generate yields one request per valid ASIN line. Argument errors are
// returned before anything is yielded. A non-nil error from yield stops
// generation and is returned as is.
func (g *Generator) Generate(ctx context.Context, yield func(Request) error) (Stats, error) {
	var stats Stats
	if ctx == nil {
		ctx = context.Background()
	}

	files, host, err := g.Resolve()
	if err != nil {
		return stats, err
	}
	stats.Files = len(files)

	for _, file := range files {
		if err := g.readFile(ctx, file, host, &stats, yield); err != nil {
			return stats, err
		}
	}
	return stats, nil
}

// Collect gathers every generated request.
func (g *Generator) Collect(ctx context.Context) ([]Request, Stats, error) {
	var reqs []Request
	stats, err := g.Generate(ctx, func(r Request) error {
		reqs = append(reqs, r)
		return nil
	})
	if err != nil {
		return nil, stats, err
	}
	return reqs, stats, nil
}

func (g *Generator) readFile(ctx context.Context, file, host string, stats *Stats, yield func(Request) error) error {
	f, err := os.Open(file) //nolint:gosec // path comes from the walk of the user's asins path
	if err != nil {
		return fmt.Errorf("open asin file: %w", err)
	}
	defer f.Close()

	// ReadString has no line length cap; a prefix-valid ASIN may be any length.
	r := bufio.NewReader(f)
	for {
		line, readErr := r.ReadString('\n')
		if readErr != nil && readErr != io.EOF {
			return fmt.Errorf("read asin file %s: %w", file, readErr)
		}
		if readErr == io.EOF && line == "" {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		stats.Lines++

		asin := strings.TrimSpace(line)
		if !parser.IsValidASIN(asin) {
			stats.Invalid++
			g.logger.Info("[InvalidASIN]", slog.String("asin", asin), slog.String("file", file))
		} else {
			stats.Valid++
			if err := yield(NewRequest(asin, host)); err != nil {
				return err
			}
		}
		if readErr == io.EOF {
			return nil
		}
	}
}

func (g *Generator) findFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		g.logger.Debug("[FoundAsinFile]", slog.String("path", path))
		return []string{path}, nil
	}

	var files []string
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() || !isRegularFile(p, d) {
			return nil
		}
		g.logger.Debug("[FoundAsinFile]", slog.String("path", p))
		files = append(files, p)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

// isRegularFile follows symlinks; links to directories are not walked and
// are not sources. Devices, sockets and pipes are skipped too.
func isRegularFile(path string, d fs.DirEntry) bool {
	if d.Type()&fs.ModeSymlink == 0 {
		return d.Type().IsRegular()
	}
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func absPath(path string) (string, error) {
	path = strings.TrimSpace(path)
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return filepath.Abs(path)
}
