// Package ftp lists and downloads product files from FTP mirrors of the
// GES DISC archives.
package ftp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/jlaffaye/ftp"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
)

// Client implements fetch.Source for ftp:// URLs. Each call opens its own
// control connection.
type Client struct {
	timeout time.Duration
	logger  *slog.Logger
}

// NewClient creates an FTP client bounded by timeout per dial and transfer.
func NewClient(timeout time.Duration, logger *slog.Logger) *Client {
	return &Client{timeout: timeout, logger: logger}
}

// target is the pieces of an ftp:// URL needed to dial and log in.
type target struct {
	addr     string
	user     string
	password string
	path     string
}

func parseTarget(rawURL string) (target, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return target{}, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	if u.Scheme != "ftp" {
		return target{}, fmt.Errorf("not an ftp url: %s", rawURL)
	}
	t := target{
		addr:     u.Host,
		user:     "anonymous",
		password: "anonymous",
		path:     u.Path,
	}
	if u.Port() == "" {
		t.addr = net.JoinHostPort(u.Hostname(), "21")
	}
	if u.User != nil {
		t.user = u.User.Username()
		if p, ok := u.User.Password(); ok {
			t.password = p
		}
	}
	if t.path == "" {
		t.path = "/"
	}
	return t, nil
}

func (c *Client) connect(ctx context.Context, t target) (*ftp.ServerConn, error) {
	conn, err := ftp.Dial(t.addr, ftp.DialWithTimeout(c.timeout), ftp.DialWithContext(ctx))
	if err != nil {
		return nil, err
	}
	if err := conn.Login(t.user, t.password); err != nil {
		_ = conn.Quit()
		return nil, fmt.Errorf("ftp login: %w", err)
	}
	return conn, nil
}

// List returns the base names in the directory at dirURL.
func (c *Client) List(ctx context.Context, dirURL string) ([]string, error) {
	t, err := parseTarget(dirURL)
	if err != nil {
		return nil, err
	}
	conn, err := c.connect(ctx, t)
	if err != nil {
		return nil, &domain.RemoteUnavailable{URL: dirURL, Timeout: isTimeout(err), Err: err}
	}
	defer conn.Quit()

	entries, err := conn.NameList(t.path)
	if err != nil {
		return nil, &domain.RemoteUnavailable{URL: dirURL, Timeout: isTimeout(err), Err: err}
	}
	return baseNames(entries), nil
}

// Download retrieves fileURL into dir.
func (c *Client) Download(ctx context.Context, fileURL, dir string) (string, error) {
	t, err := parseTarget(fileURL)
	if err != nil {
		return "", err
	}
	conn, err := c.connect(ctx, t)
	if err != nil {
		if isTimeout(err) {
			return "", &domain.RemoteUnavailable{URL: fileURL, Timeout: true, Err: err}
		}
		return "", &domain.DownloadError{URL: fileURL, Err: err}
	}
	defer conn.Quit()

	resp, err := conn.Retr(t.path)
	if err != nil {
		return "", &domain.DownloadError{URL: fileURL, Err: err}
	}
	defer resp.Close()

	dst := filepath.Join(dir, path.Base(t.path))
	f, err := os.Create(dst)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", dst, err)
	}
	n, copyErr := io.Copy(f, resp)
	if closeErr := f.Close(); copyErr == nil {
		copyErr = closeErr
	}
	if copyErr != nil {
		_ = os.Remove(dst)
		if isTimeout(copyErr) {
			return "", &domain.RemoteUnavailable{URL: fileURL, Timeout: true, Err: copyErr}
		}
		return "", &domain.DownloadError{URL: fileURL, Err: copyErr}
	}

	c.logger.Debug("downloaded", "url", fileURL, "bytes", n)
	return dst, nil
}

// baseNames strips any directory prefix servers include in NLST replies.
func baseNames(entries []string) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		name := path.Base(e)
		if name == "." || name == ".." || name == "/" {
			continue
		}
		out = append(out, name)
	}
	return out
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
