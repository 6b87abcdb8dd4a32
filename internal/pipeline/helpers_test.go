package pipeline_test

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
	"github.com/couchcryptid/nasa-access-etl/internal/fetch"
	"github.com/couchcryptid/nasa-access-etl/internal/raster"
)

func testCatalog() domain.Catalog {
	return domain.Catalog{
		Historical:  domain.TRMMProduct("https://archive.test/trmm/"),
		Current:     domain.IMERGProduct("https://archive.test/imerg/"),
		Temperature: domain.GLDASProduct("https://archive.test/gldas/"),
		Cutover:     day("2014-03-12"),
		PrecipEpoch: day("2000-03-01"),
		TempEpoch:   day("2000-01-01"),
	}
}

func day(s string) time.Time {
	d, err := domain.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func box(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func watershed(basins ...orb.Geometry) *domain.Watershed {
	w := &domain.Watershed{}
	for i, b := range basins {
		w.Basins = append(w.Basins, domain.Basin{ID: i, Geometry: b})
	}
	return w
}

// grid builds a north-up grid whose north-west corner is (0, top).
func grid(t *testing.T, rows, cols int, res float64, values ...float64) *raster.Grid {
	t.Helper()
	g, err := raster.NewGrid(raster.Shape{Rows: rows, Cols: cols},
		raster.BuildAffine(0, float64(rows)*res, res, -res), values)
	require.NoError(t, err)
	return g
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeArchive serves the same grids for every day of a product, one grid per
// file, and doubles as the GridReader.
type fakeArchive struct {
	mu     sync.Mutex
	grids  map[domain.ProductID][]*raster.Grid
	fail   map[string]error // by YYYY-MM-DD
	byPath map[string]*raster.Grid
	calls  []string
}

func newFakeArchive() *fakeArchive {
	return &fakeArchive{
		grids:  make(map[domain.ProductID][]*raster.Grid),
		fail:   make(map[string]error),
		byPath: make(map[string]*raster.Grid),
	}
}

func (a *fakeArchive) Fetch(_ context.Context, p domain.Product, d time.Time) (*fetch.Batch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	date := d.Format(time.DateOnly)
	a.calls = append(a.calls, string(p.ID)+" "+date)
	if err := a.fail[date]; err != nil {
		return nil, err
	}
	grids := a.grids[p.ID]
	if len(grids) == 0 {
		return nil, &domain.NoDataForDate{Product: p.ID, Day: d}
	}
	batch := &fetch.Batch{}
	for i, g := range grids {
		path := fmt.Sprintf("%s/%s/%d.nc4", p.ID, date, i)
		a.byPath[path] = g
		batch.Paths = append(batch.Paths, path)
	}
	return batch, nil
}

func (a *fakeArchive) Read(path string, _ domain.Product) (*raster.Grid, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.byPath[path]
	if !ok {
		return nil, fmt.Errorf("no grid at %s", path)
	}
	return g, nil
}

func (a *fakeArchive) callsFor(product domain.ProductID) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []string
	for _, c := range a.calls {
		if strings.HasPrefix(c, string(product)+" ") {
			out = append(out, strings.TrimPrefix(c, string(product)+" "))
		}
	}
	return out
}

func (a *fakeArchive) totalCalls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.calls)
}

// flatSurface is a DEM with one elevation everywhere except the listed
// points, which are out of range.
type flatSurface struct {
	z       float64
	missing []orb.Point
}

func (s flatSurface) ElevationAt(lon, lat float64) (float64, error) {
	for _, p := range s.missing {
		if p[0] == lon && p[1] == lat {
			return 0, &domain.OutOfRangeSample{Lon: lon, Lat: lat, Reason: "nodata"}
		}
	}
	return s.z, nil
}

func readLines(t *testing.T, path string) []string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
}
