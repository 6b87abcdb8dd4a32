// Package fetch lists and downloads product files from remote archives.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
	"github.com/couchcryptid/nasa-access-etl/internal/observability"
)

// Lister returns the file names in a remote directory, in listing order.
type Lister interface {
	List(ctx context.Context, dirURL string) ([]string, error)
}

// Downloader copies one remote file into dir and returns the local path.
type Downloader interface {
	Download(ctx context.Context, fileURL, dir string) (string, error)
}

// Source is one transport, selected by URL scheme.
type Source interface {
	Lister
	Downloader
}

var fileDate = regexp.MustCompile(`\d{8}`)

// Fetcher routes archive requests to a Source by URL scheme.
type Fetcher struct {
	sources map[string]Source
	listers map[string]Lister
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewFetcher creates a Fetcher. sources is keyed by URL scheme ("https", "ftp").
// Directory listings are cached across sessions, up to cacheSize entries for
// cacheTTL each; a zero TTL never expires them.
func NewFetcher(sources map[string]Source, cacheSize int, cacheTTL time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Fetcher {
	listers := make(map[string]Lister, len(sources))
	for scheme, src := range sources {
		listers[scheme] = newCachedLister(src, cacheSize, cacheTTL, metrics)
	}
	return &Fetcher{
		sources: sources,
		listers: listers,
		logger:  logger,
		metrics: metrics,
	}
}

// Session returns a run-scoped fetcher whose downloads land under scratchDir.
func (f *Fetcher) Session(scratchDir string) *Session {
	return &Session{
		fetcher: f,
		scratch: scratchDir,
	}
}

// Session fetches product files for one run.
type Session struct {
	fetcher *Fetcher
	scratch string
}

// Batch is the set of files downloaded for one product and day.
type Batch struct {
	Dir   string
	Paths []string
}

// Close removes the batch's scratch directory.
func (b *Batch) Close() error {
	if b == nil || b.Dir == "" {
		return nil
	}
	return os.RemoveAll(b.Dir)
}

// ListFiles lists the product's directory for day. Only listings that miss
// the cache count as remote requests.
func (s *Session) ListFiles(ctx context.Context, p domain.Product, day time.Time) ([]string, error) {
	dirURL := p.DirectoryURL(day)
	lister, ok := s.fetcher.listers[scheme(dirURL)]
	if !ok {
		return nil, fmt.Errorf("no transport for %s", dirURL)
	}
	return lister.List(ctx, dirURL)
}

// Download fetches one file into dir.
func (s *Session) Download(ctx context.Context, p domain.Product, fileURL, dir string) (string, error) {
	src, ok := s.fetcher.sources[scheme(fileURL)]
	if !ok {
		return "", fmt.Errorf("no transport for %s", fileURL)
	}
	start := time.Now()
	path, err := src.Download(ctx, fileURL, dir)
	if err != nil {
		s.fetcher.metrics.RemoteRequests.WithLabelValues("download", "error").Inc()
		return "", err
	}
	s.fetcher.metrics.RemoteRequests.WithLabelValues("download", "success").Inc()
	s.fetcher.metrics.DownloadDuration.WithLabelValues(string(p.ID)).Observe(time.Since(start).Seconds())
	if info, statErr := os.Stat(path); statErr == nil {
		s.fetcher.metrics.DownloadBytes.Add(float64(info.Size()))
	}
	return path, nil
}

// Fetch lists, selects and downloads the product's files for day into a
// fresh scratch directory. On error nothing is left behind.
func (s *Session) Fetch(ctx context.Context, p domain.Product, day time.Time) (*Batch, error) {
	names, err := s.ListFiles(ctx, p, day)
	if err != nil {
		return nil, err
	}
	selected, err := SelectFile(names, day, p.Pattern, p.SubDaily)
	if err != nil {
		var noData *domain.NoDataForDate
		if errors.As(err, &noData) {
			noData.Product = p.ID
		}
		return nil, err
	}

	if err := os.MkdirAll(s.scratch, 0o750); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	dir, err := os.MkdirTemp(s.scratch, fmt.Sprintf("%s-%s-*", strings.ToLower(string(p.ID)), day.Format("20060102")))
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	batch := &Batch{Dir: dir}

	dirURL := p.DirectoryURL(day)
	for _, name := range selected {
		path, err := s.Download(ctx, p, dirURL+name, dir)
		if err != nil {
			_ = batch.Close()
			return nil, err
		}
		batch.Paths = append(batch.Paths, path)
	}

	s.fetcher.logger.Debug("fetched product files",
		"product", p.ID, "day", day.Format(time.DateOnly), "files", len(batch.Paths))
	return batch, nil
}

// SelectFile keeps candidates matching pattern whose first embedded 8-digit
// date equals day. Daily products yield the first match only; sub-daily
// products yield every match in listing order. No match is NoDataForDate.
func SelectFile(candidates []string, day time.Time, pattern *regexp.Regexp, subDaily bool) ([]string, error) {
	want := day.Format("20060102")
	var out []string
	for _, name := range candidates {
		if pattern != nil && !pattern.MatchString(name) {
			continue
		}
		if fileDate.FindString(name) != want {
			continue
		}
		out = append(out, name)
		if !subDaily {
			break
		}
	}
	if len(out) == 0 {
		return nil, &domain.NoDataForDate{Day: day}
	}
	return out, nil
}

func scheme(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	if u.Scheme == "http" {
		return "https"
	}
	return u.Scheme
}
