package domain

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidRequest marks a run request that cannot start.
var ErrInvalidRequest = errors.New("invalid run request")

// GeometryError reports an invalid or degenerate polygon or raster geometry.
type GeometryError struct {
	Reason string
}

func (e *GeometryError) Error() string {
	return "geometry: " + e.Reason
}

// RemoteUnavailable reports a listing or file request that did not succeed,
// including requests that hit the configured timeout.
type RemoteUnavailable struct {
	URL     string
	Status  int
	Timeout bool
	Err     error
}

func (e *RemoteUnavailable) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("remote unavailable: %s: timed out", e.URL)
	case e.Status != 0:
		return fmt.Sprintf("remote unavailable: %s: status %d", e.URL, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("remote unavailable: %s: %v", e.URL, e.Err)
	}
	return "remote unavailable: " + e.URL
}

func (e *RemoteUnavailable) Unwrap() error { return e.Err }

// NoDataForDate reports a reachable directory with no file for the requested day.
type NoDataForDate struct {
	Product ProductID
	Day     time.Time
}

func (e *NoDataForDate) Error() string {
	return fmt.Sprintf("no %s file for %s", e.Product, e.Day.Format(time.DateOnly))
}

// DownloadError reports a failed or partial file transfer, or a file that
// could not be decoded after transfer.
type DownloadError struct {
	URL string
	Err error
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

// DateRangeError reports a start date before the product's supported epoch.
type DateRangeError struct {
	Mode  Mode
	Start time.Time
	Epoch time.Time
}

func (e *DateRangeError) Error() string {
	return fmt.Sprintf("%s: start %s is out of coverage, pick a start on or after %s",
		e.Mode, e.Start.Format(time.DateOnly), e.Epoch.Format(time.DateOnly))
}

// OutOfRangeSample reports a location whose coordinates cannot be resolved to
// a grid index or an elevation.
type OutOfRangeSample struct {
	Lon, Lat float64
	Reason   string
}

func (e *OutOfRangeSample) Error() string {
	return fmt.Sprintf("sample (%.4f, %.4f) out of range: %s", e.Lon, e.Lat, e.Reason)
}

// IsDaySkippable reports whether err only invalidates the current day, so the
// accumulator should omit that day and keep going.
func IsDaySkippable(err error) bool {
	var remote *RemoteUnavailable
	var noData *NoDataForDate
	var download *DownloadError
	return errors.As(err, &remote) || errors.As(err, &noData) || errors.As(err, &download)
}
