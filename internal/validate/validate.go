// Package validate checks a finished run directory: every function folder
// must hold a readable station table, one series per station, matching start
// dates, equal line counts, and values shaped for the function's quantity.
package validate

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
	"github.com/couchcryptid/nasa-access-etl/internal/pipeline"
	"github.com/couchcryptid/nasa-access-etl/internal/series"
)

// Phase tracks pass/fail for one validation phase.
type Phase struct {
	Name   string
	Errors []string
}

func (p *Phase) errorf(format string, args ...any) {
	p.Errors = append(p.Errors, fmt.Sprintf(format, args...))
}

// Passed reports whether the phase found no errors.
func (p *Phase) Passed() bool { return len(p.Errors) == 0 }

// Report is the result for one function folder.
type Report struct {
	Mode      domain.Mode
	Dir       string
	Locations int
	Days      int
	Phases    []*Phase
}

// Passed reports whether every phase passed.
func (r Report) Passed() bool {
	for _, p := range r.Phases {
		if !p.Passed() {
			return false
		}
	}
	return true
}

// Run validates every function folder under root. root may be a run
// directory or its nasaaccess_data folder.
func Run(root string) ([]Report, error) {
	if info, err := os.Stat(filepath.Join(root, pipeline.DataDir)); err == nil && info.IsDir() {
		root = filepath.Join(root, pipeline.DataDir)
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("read run directory: %w", err)
	}

	var reports []Report
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		mode, err := domain.ParseMode(e.Name())
		if err != nil {
			continue
		}
		reports = append(reports, Function(filepath.Join(root, e.Name()), mode))
	}
	if len(reports) == 0 {
		return nil, errors.New("no function folders found")
	}
	return reports, nil
}

// Function validates one function folder.
func Function(dir string, mode domain.Mode) Report {
	r := Report{Mode: mode, Dir: dir}
	metadata := &Phase{Name: "Station table"}
	headers := &Phase{Name: "Start dates"}
	counts := &Phase{Name: "Line counts"}
	values := &Phase{Name: "Value shapes"}
	r.Phases = []*Phase{metadata, headers, counts, values}

	locs, err := series.ReadMetadata(filepath.Join(dir, mode.MasterFile()))
	if err != nil {
		metadata.errorf("%v", err)
		return r
	}
	r.Locations = len(locs)
	if len(locs) == 0 {
		metadata.errorf("station table has no rows")
		return r
	}
	for i, l := range locs {
		if l.ID != i {
			metadata.errorf("row %d has ID %d", i, l.ID)
		}
		if want := mode.LocationPrefix() + strconv.Itoa(l.ID); l.Name != want {
			metadata.errorf("row %d is named %q, want %q", i, l.Name, want)
		}
		if mode.HasGridLinks() != (l.Link != nil) {
			metadata.errorf("row %d: grid link columns do not match the function", i)
		}
	}
	checkStrayFiles(dir, mode, locs, metadata)

	var start string
	lineCounts := make(map[int][]string)
	for _, l := range locs {
		lines, err := readLines(series.Path(dir, l.Name))
		if err != nil {
			metadata.errorf("%s: %v", l.Name, err)
			continue
		}
		if len(lines) == 0 {
			headers.errorf("%s is empty", l.Name)
			continue
		}
		if _, err := time.Parse(series.HeaderLayout, lines[0]); err != nil {
			headers.errorf("%s: header %q is not YYYYMMDD", l.Name, lines[0])
		}
		if start == "" {
			start = lines[0]
		} else if lines[0] != start {
			headers.errorf("%s starts %s, others start %s", l.Name, lines[0], start)
		}
		lineCounts[len(lines)-1] = append(lineCounts[len(lines)-1], l.Name)

		for n, line := range lines[1:] {
			if err := checkValue(line, mode.Quantity()); err != nil {
				values.errorf("%s line %d: %v", l.Name, n+2, err)
			}
		}
	}

	if len(lineCounts) > 1 {
		days := make([]int, 0, len(lineCounts))
		for d := range lineCounts {
			days = append(days, d)
		}
		sort.Ints(days)
		for _, d := range days {
			counts.errorf("%d days: %s", d, strings.Join(lineCounts[d], ", "))
		}
	}
	for d := range lineCounts {
		r.Days = max(r.Days, d)
	}
	return r
}

func checkStrayFiles(dir string, mode domain.Mode, locs []domain.Location, p *Phase) {
	known := map[string]bool{mode.MasterFile(): true}
	for _, l := range locs {
		known[filepath.Base(series.Path(dir, l.Name))] = true
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		p.errorf("%v", err)
		return
	}
	for _, e := range entries {
		if !e.IsDir() && !known[e.Name()] {
			p.errorf("%s is not listed in the station table", e.Name())
		}
	}
}

// checkValue accepts "v" for precipitation and "max,min" with max >= min for
// temperature.
func checkValue(line string, q domain.Quantity) error {
	parts := strings.Split(line, ",")
	want := 1
	if q == domain.Temperature {
		want = 2
	}
	if len(parts) != want {
		return fmt.Errorf("%q has %d values, want %d", line, len(parts), want)
	}
	nums := make([]float64, len(parts))
	for i, p := range parts {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return fmt.Errorf("%q is not numeric", p)
		}
		nums[i] = v
	}
	if want == 2 && nums[0] < nums[1] {
		return fmt.Errorf("max %s is below min %s", parts[0], parts[1])
	}
	return nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	return lines, sc.Err()
}
