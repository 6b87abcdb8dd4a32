// Package earthdata lists and downloads product files from NASA GES DISC over
// HTTPS, authenticating through Earthdata Login.
package earthdata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/net/html"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
)

// DefaultAuthHost is the Earthdata Login host GES DISC redirects to.
const DefaultAuthHost = "urs.earthdata.nasa.gov"

// Client implements fetch.Source against Earthdata-protected HTTPS archives.
type Client struct {
	httpClient      *http.Client
	username        string
	password        string
	authHost        string
	retryMaxElapsed time.Duration
	logger          *slog.Logger
}

// NewClient creates an Earthdata client. Every request is bounded by timeout.
// Listings throttled with 429/503 are retried until retryMaxElapsed; zero
// disables retries.
func NewClient(username, password string, timeout, retryMaxElapsed time.Duration, logger *slog.Logger) *Client {
	c := &Client{
		username:        username,
		password:        password,
		authHost:        DefaultAuthHost,
		retryMaxElapsed: retryMaxElapsed,
		logger:          logger,
	}
	jar, _ := cookiejar.New(nil)
	c.httpClient = &http.Client{
		Timeout:       timeout,
		Jar:           jar,
		CheckRedirect: c.checkRedirect,
	}
	return c
}

// checkRedirect re-attaches credentials when the archive bounces us to the
// login host; net/http strips them on cross-host redirects.
func (c *Client) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	if c.username != "" && req.URL.Host == c.authHost {
		req.SetBasicAuth(c.username, c.password)
	}
	return nil
}

// List returns the file names linked from a directory index page, in page
// order and without duplicates.
func (c *Client) List(ctx context.Context, dirURL string) ([]string, error) {
	var names []string
	op := func() error {
		var err error
		names, err = c.list(ctx, dirURL)
		var remote *domain.RemoteUnavailable
		if errors.As(err, &remote) && retryable(remote.Status) {
			c.logger.Warn("listing throttled, retrying", "url", dirURL, "status", remote.Status)
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.listingBackOff(), ctx)); err != nil {
		return nil, err
	}
	return names, nil
}

func (c *Client) listingBackOff() backoff.BackOff {
	if c.retryMaxElapsed <= 0 {
		return &backoff.StopBackOff{}
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = c.retryMaxElapsed
	return b
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}

func (c *Client) list(ctx context.Context, dirURL string) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, dirURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &domain.RemoteUnavailable{URL: dirURL, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &domain.RemoteUnavailable{URL: dirURL, Status: resp.StatusCode}
	}

	doc, err := html.Parse(resp.Body)
	if err != nil {
		return nil, &domain.RemoteUnavailable{URL: dirURL, Timeout: isTimeout(err), Err: fmt.Errorf("parse listing: %w", err)}
	}
	return linkNames(doc), nil
}

// linkNames collects the base names of file links in document order.
func linkNames(doc *html.Node) []string {
	var names []string
	seen := make(map[string]bool)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			for _, attr := range n.Attr {
				if attr.Key != "href" {
					continue
				}
				if name := fileName(attr.Val); name != "" && !seen[name] {
					seen[name] = true
					names = append(names, name)
				}
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	walk(doc)
	return names
}

func fileName(href string) string {
	u, err := url.Parse(href)
	if err != nil || u.Path == "" || strings.HasSuffix(u.Path, "/") {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == ".." || name == "/" {
		return ""
	}
	return name
}

// Download streams fileURL into dir. The file is removed again if the
// transfer fails or comes up short.
func (c *Client) Download(ctx context.Context, fileURL, dir string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return "", &domain.RemoteUnavailable{URL: fileURL, Timeout: true, Err: err}
		}
		return "", &domain.DownloadError{URL: fileURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return "", &domain.DownloadError{URL: fileURL, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}
	// An HTML page in place of a granule is the login form: the credentials
	// were rejected or never sent.
	if strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html") {
		return "", &domain.DownloadError{URL: fileURL, Err: errors.New("received an HTML page, check Earthdata credentials")}
	}

	dst := filepath.Join(dir, path.Base(req.URL.Path))
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}

	n, copyErr := io.Copy(f, resp.Body)
	closeErr := f.Close()
	switch {
	case copyErr != nil && isTimeout(copyErr):
		copyErr = &domain.RemoteUnavailable{URL: fileURL, Timeout: true, Err: copyErr}
	case copyErr != nil:
		copyErr = &domain.DownloadError{URL: fileURL, Err: copyErr}
	case resp.ContentLength >= 0 && n != resp.ContentLength:
		copyErr = &domain.DownloadError{URL: fileURL, Err: fmt.Errorf("short body: got %d of %d bytes", n, resp.ContentLength)}
	case closeErr != nil:
		copyErr = fmt.Errorf("write %s: %w", dst, closeErr)
	}
	if copyErr != nil {
		_ = os.Remove(dst)
		return "", copyErr
	}

	c.logger.Debug("downloaded", "url", fileURL, "bytes", n)
	return dst, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
