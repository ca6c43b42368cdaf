package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/pevans/papercrawl/article"
	"github.com/pevans/papercrawl/fetch"
)

const fileSuffix = "_data.json"

// Fetcher retrieves a URL, as fetch.Chain does.
type Fetcher interface {
	Fetch(ctx context.Context, url string) fetch.Outcome
}

// DirReader reads index files named <date>_data.json from a directory.
type DirReader struct {
	dir    string
	logger *slog.Logger
}

// NewDirReader creates a reader over dir.
func NewDirReader(dir string, logger *slog.Logger) *DirReader {
	if logger == nil {
		logger = slog.Default()
	}
	return &DirReader{dir: dir, logger: logger.With("component", "index")}
}

// Path returns the index file of date.
func (r *DirReader) Path(date string) string {
	return filepath.Join(r.dir, date+fileSuffix)
}

// ListPendingWork returns every article of date's index in index order.
func (r *DirReader) ListPendingWork(ctx context.Context, date string) ([]article.WorkItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(r.Path(date))
	if err != nil {
		return nil, fmt.Errorf("failed to read index for %s: %w", date, err)
	}

	result, err := Parse(date, data)
	if err != nil {
		return nil, fmt.Errorf("index for %s: %w", date, err)
	}
	if result.Skipped > 0 {
		r.logger.Warn("skipped index entries",
			slog.String("date", date),
			slog.Int("skipped", result.Skipped),
		)
	}
	return result.Items, nil
}

// Dates returns the dates that have an index file, oldest first. A missing
// directory has no dates.
func (r *DirReader) Dates() ([]string, error) {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read index directory: %w", err)
	}

	var dates []string
	for _, entry := range entries {
		date, ok := strings.CutSuffix(entry.Name(), fileSuffix)
		if entry.IsDir() || !ok || article.ValidateDate(date) != nil {
			continue
		}
		dates = append(dates, date)
	}
	slices.Sort(dates)
	return dates, nil
}

// Download fetches date's index from origin and writes it to the directory.
// The document is parsed before it is written so an HTML page served in its
// place never replaces a good index.
func (r *DirReader) Download(ctx context.Context, fetcher Fetcher, origin, date string) (int, error) {
	if err := article.ValidateDate(date); err != nil {
		return 0, err
	}

	url := URL(origin, date)
	out := fetcher.Fetch(ctx, url)
	if !out.OK() {
		return 0, fmt.Errorf("failed to fetch index %s: %s (%s)", url, out.Reason, out.Kind)
	}

	// A browser fetch returns the document wrapped in a page
	doc, err := Document(out.Body)
	if err != nil {
		return 0, fmt.Errorf("index %s: %w", url, err)
	}
	result, err := Parse(date, doc)
	if err != nil {
		return 0, fmt.Errorf("index %s: %w", url, err)
	}

	// 0700: owner-only access
	if err := os.MkdirAll(r.dir, 0o700); err != nil {
		return 0, fmt.Errorf("failed to create index directory: %w", err)
	}
	tmp := r.Path(date) + ".tmp"
	if err := os.WriteFile(tmp, doc, 0o600); err != nil {
		return 0, fmt.Errorf("failed to write index: %w", err)
	}
	if err := os.Rename(tmp, r.Path(date)); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("failed to write index: %w", err)
	}

	r.logger.Info("downloaded index",
		slog.String("date", date),
		slog.Int("articles", len(result.Items)),
	)
	return len(result.Items), nil
}
