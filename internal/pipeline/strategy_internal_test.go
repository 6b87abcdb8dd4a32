package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
	"github.com/couchcryptid/nasa-access-etl/internal/fetch"
	"github.com/couchcryptid/nasa-access-etl/internal/observability"
	"github.com/couchcryptid/nasa-access-etl/internal/raster"
)

// gridArchive serves one fixed grid per product for every day.
type gridArchive struct {
	mu      sync.Mutex
	grids   map[domain.ProductID]*raster.Grid
	fetches int
}

func (a *gridArchive) Fetch(_ context.Context, p domain.Product, d time.Time) (*fetch.Batch, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.fetches++
	if _, ok := a.grids[p.ID]; !ok {
		return nil, &domain.NoDataForDate{Product: p.ID, Day: d}
	}
	return &fetch.Batch{Paths: []string{string(p.ID)}}, nil
}

func (a *gridArchive) Read(path string, _ domain.Product) (*raster.Grid, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	g, ok := a.grids[domain.ProductID(path)]
	if !ok {
		return nil, fmt.Errorf("no grid at %s", path)
	}
	return g, nil
}

func (a *gridArchive) fetchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.fetches
}

type levelSurface float64

func (s levelSurface) ElevationAt(float64, float64) (float64, error) { return float64(s), nil }

func ramp(t *testing.T, rows, cols int, res float64) *raster.Grid {
	t.Helper()
	values := make([]float64, rows*cols)
	for i := range values {
		values[i] = float64(i + 1)
	}
	g, err := raster.NewGrid(raster.Shape{Rows: rows, Cols: cols},
		raster.BuildAffine(0, float64(rows)*res, res, -res), values)
	require.NoError(t, err)
	return g
}

func rect(x0, y0, x1, y1 float64) orb.Polygon {
	return orb.Polygon{{{x0, y0}, {x1, y0}, {x1, y1}, {x0, y1}, {x0, y0}}}
}

func mustDay(t *testing.T, s string) time.Time {
	t.Helper()
	d, err := domain.ParseDay(s)
	require.NoError(t, err)
	return d
}

func idempotencyDeps(t *testing.T, archive *gridArchive) StrategyDeps {
	return StrategyDeps{
		Catalog: domain.Catalog{
			Historical:  domain.TRMMProduct("https://archive.test/trmm/"),
			Current:     domain.IMERGProduct("https://archive.test/imerg/"),
			Temperature: domain.GLDASProduct("https://archive.test/gldas/"),
			Cutover:     mustDay(t, "2014-03-12"),
			PrecipEpoch: mustDay(t, "2000-03-01"),
			TempEpoch:   mustDay(t, "2000-01-01"),
		},
		Fetcher:   archive,
		Reader:    archive,
		Watershed: &domain.Watershed{Basins: []domain.Basin{
			{ID: 0, Geometry: rect(0.1, 0.1, 1.9, 1.9)},
			{ID: 1, Geometry: rect(0, 0, 1, 1)},
		}},
		Elevation: levelSurface(250),
		Sentinel:  -99,
		Start:     mustDay(t, "2014-03-10"),
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:   observability.NewMetricsForTesting(),
	}
}

// linkage is the per-product cell or weight state a strategy keeps after
// discovery and sampling.
func linkage(t *testing.T, s *strategy) any {
	t.Helper()
	switch sm := s.sampling.(type) {
	case *pointSampling:
		return sm.cells
	case *centroidSampling:
		out := make(map[domain.ProductID][][]raster.WeightedCell, len(sm.weights))
		for id, wc := range sm.weights {
			for _, w := range wc.weights {
				out[id] = append(out[id], w.Cells())
			}
		}
		return out
	default:
		t.Fatalf("unexpected sampling %T", s.sampling)
		return nil
	}
}

func TestStrategy_InitIsIdempotent(t *testing.T) {
	fixtures := map[domain.ProductID]*raster.Grid{
		domain.ProductIMERG: ramp(t, 4, 4, 0.5),
		domain.ProductTRMM:  ramp(t, 2, 2, 1),
		domain.ProductGLDAS: ramp(t, 2, 2, 1),
	}
	ctx := context.Background()

	for _, mode := range domain.AllModes() {
		t.Run(mode.String(), func(t *testing.T) {
			days := []string{"2015-06-01"}
			if mode.Quantity() == domain.Precipitation {
				days = append(days, "2014-03-10") // historical product
			}

			build := func() (*strategy, *gridArchive, []domain.Location, [][]domain.DailySample) {
				archive := &gridArchive{grids: fixtures}
				s, ok := NewStrategy(mode, idempotencyDeps(t, archive)).(*strategy)
				require.True(t, ok)
				locs, err := s.Locations(ctx)
				require.NoError(t, err)
				require.NotEmpty(t, locs)
				var samples [][]domain.DailySample
				for _, d := range days {
					got, err := s.SampleDay(ctx, mustDay(t, d))
					require.NoError(t, err)
					samples = append(samples, got)
				}
				return s, archive, locs, samples
			}

			first, archive, locs1, samples1 := build()
			second, _, locs2, samples2 := build()

			if diff := cmp.Diff(locs1, locs2); diff != "" {
				t.Errorf("locations mismatch (-first +second):\n%s", diff)
			}
			if diff := cmp.Diff(samples1, samples2); diff != "" {
				t.Errorf("samples mismatch (-first +second):\n%s", diff)
			}
			opts := cmp.AllowUnexported(cellCache{})
			if diff := cmp.Diff(linkage(t, first), linkage(t, second), opts); diff != "" {
				t.Errorf("linkage mismatch (-first +second):\n%s", diff)
			}

			// A repeated call returns the discovered set without touching the archive.
			before := archive.fetchCount()
			again, err := first.Locations(ctx)
			require.NoError(t, err)
			assert.Equal(t, before, archive.fetchCount())
			if diff := cmp.Diff(locs1, again); diff != "" {
				t.Errorf("repeated Locations mismatch (-first +again):\n%s", diff)
			}
		})
	}
}

func TestSampling_RediscoveryDoesNotAccumulate(t *testing.T) {
	archive := &gridArchive{grids: map[domain.ProductID]*raster.Grid{
		domain.ProductIMERG: ramp(t, 4, 4, 0.5),
		domain.ProductTRMM:  ramp(t, 2, 2, 1),
		domain.ProductGLDAS: ramp(t, 2, 2, 1),
	}}
	ctx := context.Background()

	for _, mode := range domain.AllModes() {
		deps := idempotencyDeps(t, archive)
		s, ok := NewStrategy(mode, deps).(*strategy)
		require.True(t, ok)

		first, err := s.sampling.discover(ctx)
		require.NoError(t, err)
		second, err := s.sampling.discover(ctx)
		require.NoError(t, err)
		if diff := cmp.Diff(first, second); diff != "" {
			t.Errorf("%s: rediscovery mismatch (-first +second):\n%s", mode, diff)
		}
		if c, ok := s.sampling.(*centroidSampling); ok {
			assert.Len(t, c.basins, len(second), mode.String())
		}
	}
}
