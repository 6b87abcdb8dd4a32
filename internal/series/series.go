// Package series writes per-location daily files in the SWAT weather format:
// a YYYYMMDD start date on line 1, then one line per day.
package series

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
)

// HeaderLayout is the date format of a series file's first line.
const HeaderLayout = "20060102"

// FormatValue renders v with at most three decimals and no trailing zeros.
func FormatValue(v float64) string {
	r := math.Round(v*1000) / 1000
	if r == 0 {
		r = 0 // drop negative zero
	}
	return strconv.FormatFloat(r, 'f', -1, 64)
}

// FormatSample renders one day's line: "value" or "max,min".
func FormatSample(s domain.DailySample) string {
	parts := make([]string, len(s.Values))
	for i, v := range s.Values {
		parts[i] = FormatValue(v)
	}
	return strings.Join(parts, ",")
}

// Set is the group of series files for one function's locations, in
// location order.
type Set struct {
	dir   string
	names []string
}

// Create writes the start-date header of every series file in dir,
// truncating anything already there.
func Create(dir string, names []string, start time.Time) (*Set, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create series dir: %w", err)
	}
	header := []byte(start.Format(HeaderLayout) + "\n")
	for _, name := range names {
		if err := os.WriteFile(Path(dir, name), header, 0o644); err != nil {
			return nil, fmt.Errorf("write series header: %w", err)
		}
	}
	return &Set{dir: dir, names: names}, nil
}

// Path is the series file of a location name.
func Path(dir, name string) string {
	return filepath.Join(dir, name+".txt")
}

// Dir is the directory the set writes to.
func (s *Set) Dir() string { return s.dir }

// Len is the number of series in the set.
func (s *Set) Len() int { return len(s.names) }

// AppendDay appends one line to every series; samples[i] belongs to the
// i-th location.
func (s *Set) AppendDay(samples []domain.DailySample) error {
	if len(samples) != len(s.names) {
		return fmt.Errorf("got %d samples for %d series", len(samples), len(s.names))
	}
	for i, name := range s.names {
		if err := appendLine(Path(s.dir, name), FormatSample(samples[i])); err != nil {
			return err
		}
	}
	return nil
}

func appendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open series: %w", err)
	}
	if _, err := f.WriteString(line + "\n"); err != nil {
		_ = f.Close()
		return fmt.Errorf("append series: %w", err)
	}
	return f.Close()
}
