package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"time"

	"github.com/paulmach/orb"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
	"github.com/couchcryptid/nasa-access-etl/internal/fetch"
	"github.com/couchcryptid/nasa-access-etl/internal/observability"
	"github.com/couchcryptid/nasa-access-etl/internal/raster"
	"github.com/couchcryptid/nasa-access-etl/internal/sampler"
)

// PrecipitationGridDay is the day whose grids define point-precipitation
// locations. Both precipitation products cover it.
var PrecipitationGridDay = time.Date(2014, 5, 1, 0, 0, 0, 0, time.UTC)

// Fetcher downloads the files of one product and day.
type Fetcher interface {
	Fetch(ctx context.Context, p domain.Product, day time.Time) (*fetch.Batch, error)
}

// GridReader decodes one downloaded file.
type GridReader interface {
	Read(path string, p domain.Product) (*raster.Grid, error)
}

// ExtractionStrategy produces one function's locations and daily samples.
type ExtractionStrategy interface {
	Mode() domain.Mode
	// Locations discovers the sample locations. It is called once per run.
	Locations(ctx context.Context) ([]domain.Location, error)
	// SampleDay returns one sample per location, in location order.
	SampleDay(ctx context.Context, day time.Time) ([]domain.DailySample, error)
}

// StrategyDeps is what a strategy reads from.
type StrategyDeps struct {
	Catalog   domain.Catalog
	Fetcher   Fetcher
	Reader    GridReader
	Watershed *domain.Watershed
	Elevation domain.ElevationSurface
	Sentinel  float64
	Start     time.Time
	Logger    *slog.Logger
	Metrics   *observability.Metrics
}

// sampling is the spatial half of a strategy: where the locations are and how
// one grid reduces to one value per location. Undefined values are NaN.
type sampling interface {
	discover(ctx context.Context) ([]domain.Location, error)
	sample(g *raster.Grid, p domain.Product) ([]float64, error)
}

// NewStrategy builds the strategy for mode: point or centroid sampling
// crossed with precipitation or temperature reduction.
func NewStrategy(mode domain.Mode, deps StrategyDeps) ExtractionStrategy {
	s := &strategy{mode: mode, deps: deps}
	if mode.Zonal() {
		s.sampling = &centroidSampling{deps: deps, mode: mode}
	} else {
		s.sampling = &pointSampling{deps: deps, mode: mode, links: mode.HasGridLinks()}
	}
	return s
}

type strategy struct {
	mode     domain.Mode
	deps     StrategyDeps
	sampling sampling

	locs    []domain.Location
	located bool
}

func (s *strategy) Mode() domain.Mode { return s.mode }

func (s *strategy) Locations(ctx context.Context) ([]domain.Location, error) {
	if s.located {
		return s.locs, nil
	}
	locs, err := s.sampling.discover(ctx)
	if err != nil {
		return nil, err
	}
	s.locs, s.located = locs, true
	return locs, nil
}

func (s *strategy) SampleDay(ctx context.Context, day time.Time) ([]domain.DailySample, error) {
	if !s.located {
		return nil, errors.New("locations not discovered")
	}
	p := s.deps.Catalog.ProductFor(s.mode.Quantity(), day)

	var perFile [][]float64
	err := s.eachGrid(ctx, p, day, func(g *raster.Grid) error {
		values, err := s.sampling.sample(g, p)
		if err != nil {
			return err
		}
		perFile = append(perFile, values)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.mode.Quantity() == domain.Temperature {
		return s.reduceTemperature(perFile), nil
	}
	return s.reducePrecipitation(perFile[0]), nil
}

// eachGrid fetches the day's files and decodes them one at a time. The
// scratch directory is gone by the time it returns.
func (s *strategy) eachGrid(ctx context.Context, p domain.Product, day time.Time, fn func(*raster.Grid) error) error {
	batch, err := s.deps.Fetcher.Fetch(ctx, p, day)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := batch.Close(); cerr != nil {
			s.deps.Logger.Warn("remove scratch dir failed", "dir", batch.Dir, "error", cerr)
		}
	}()
	if len(batch.Paths) == 0 {
		return &domain.NoDataForDate{Product: p.ID, Day: day}
	}
	for _, path := range batch.Paths {
		g, err := s.deps.Reader.Read(path, p)
		if err != nil {
			return &domain.DownloadError{URL: path, Err: err}
		}
		if err := fn(g); err != nil {
			return err
		}
	}
	return nil
}

func (s *strategy) reducePrecipitation(values []float64) []domain.DailySample {
	out := make([]domain.DailySample, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			v = s.deps.Sentinel
		}
		out[i] = domain.Single(v)
	}
	return out
}

// reduceTemperature takes the max and min of each location's sub-daily
// values in Celsius. A location with no defined value gets the sentinel pair.
func (s *strategy) reduceTemperature(perFile [][]float64) []domain.DailySample {
	n := len(s.locs)
	out := make([]domain.DailySample, n)
	values := make([]float64, len(perFile))
	for i := range n {
		for f := range perFile {
			values[f] = perFile[f][i]
		}
		hi, lo, ok := sampler.MinMax(values)
		if !ok {
			out[i] = domain.MaxMin(s.deps.Sentinel, s.deps.Sentinel)
			continue
		}
		out[i] = domain.MaxMin(sampler.KelvinToCelsius(hi), sampler.KelvinToCelsius(lo))
	}
	return out
}

// firstGrid decodes the first file of a product's day to learn its grid.
func firstGrid(ctx context.Context, deps StrategyDeps, p domain.Product, day time.Time) (*raster.Grid, error) {
	var grid *raster.Grid
	err := (&strategy{deps: deps}).eachGrid(ctx, p, day, func(g *raster.Grid) error {
		if grid == nil {
			grid = g
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read %s grid for %s: %w", p.ID, day.Format(time.DateOnly), err)
	}
	return grid, nil
}

// elevation looks up a location's elevation; failures drop the location.
func elevation(deps StrategyDeps, mode domain.Mode, pt orb.Point) (float64, bool) {
	z, err := deps.Elevation.ElevationAt(pt[0], pt[1])
	if err != nil {
		deps.Logger.Warn("dropping location without elevation",
			"mode", mode, "lon", pt[0], "lat", pt[1], "error", err)
		deps.Metrics.LocationsDropped.WithLabelValues(mode.String()).Inc()
		return 0, false
	}
	return z, true
}

// --- point sampling ---

// cellCache is the linkage of locations to one product's grid.
type cellCache struct {
	def   raster.Definition
	cells []raster.Cell
}

type pointSampling struct {
	deps  StrategyDeps
	mode  domain.Mode
	links bool

	locs  []domain.Location
	cells map[domain.ProductID]cellCache
}

func (s *pointSampling) primary() (domain.Product, time.Time) {
	if s.mode.Quantity() == domain.Temperature {
		return s.deps.Catalog.Temperature, s.deps.Start
	}
	return s.deps.Catalog.Current, PrecipitationGridDay
}

func (s *pointSampling) discover(ctx context.Context) ([]domain.Location, error) {
	outline, err := s.deps.Watershed.Outline()
	if err != nil {
		return nil, err
	}
	product, gridDay := s.primary()
	grid, err := firstGrid(ctx, s.deps, product, gridDay)
	if err != nil {
		return nil, err
	}
	inside, err := raster.CellsInside(outline, grid.Transform, grid.Shape)
	if err != nil {
		return nil, err
	}
	if len(inside) == 0 {
		return nil, &domain.GeometryError{Reason: fmt.Sprintf("no %s cells inside the watershed", product.ID)}
	}

	var hist *linkTarget
	if s.links {
		hist, err = s.linkTarget(ctx, outline, gridDay)
		if err != nil {
			return nil, err
		}
	}

	s.locs = nil
	s.cells = make(map[domain.ProductID]cellCache)
	primaryCells := cellCache{def: grid.Definition()}
	var histCells cellCache
	if hist != nil {
		histCells.def = hist.def
	}

	for _, cell := range inside {
		center := grid.Transform.CellCenter(cell.Row, cell.Col)
		z, ok := elevation(s.deps, s.mode, center)
		if !ok {
			continue
		}
		id := len(s.locs)
		loc := domain.Location{
			ID:        id,
			Name:      s.mode.LocationPrefix() + strconv.Itoa(id),
			Lon:       center[0],
			Lat:       center[1],
			Elevation: z,
		}
		if hist != nil {
			link, err := hist.link(center)
			if err != nil {
				return nil, err
			}
			loc.Link = link
			histCells.cells = append(histCells.cells, raster.Cell{Row: link.Row, Col: link.Col})
		}
		s.locs = append(s.locs, loc)
		primaryCells.cells = append(primaryCells.cells, cell)
	}
	if len(s.locs) == 0 {
		return nil, &domain.GeometryError{Reason: "no locations with elevation inside the watershed"}
	}

	s.cells[product.ID] = primaryCells
	if hist != nil {
		s.cells[s.deps.Catalog.Historical.ID] = histCells
	}
	return s.locs, nil
}

// linkTarget is the historical grid point locations fall back to.
type linkTarget struct {
	def     raster.Definition
	cells   []raster.Cell
	centers []orb.Point
}

func (s *pointSampling) linkTarget(ctx context.Context, outline orb.Geometry, day time.Time) (*linkTarget, error) {
	grid, err := firstGrid(ctx, s.deps, s.deps.Catalog.Historical, day)
	if err != nil {
		return nil, err
	}
	cells, err := raster.CellsInside(outline, grid.Transform, grid.Shape)
	if err != nil {
		return nil, err
	}
	t := &linkTarget{def: grid.Definition(), cells: cells}
	for _, c := range cells {
		t.centers = append(t.centers, grid.Transform.CellCenter(c.Row, c.Col))
	}
	return t, nil
}

// link returns the nearest historical cell inside the watershed, or the cell
// containing pt when the watershed is smaller than one historical cell.
func (t *linkTarget) link(pt orb.Point) (*domain.GridLink, error) {
	var cell raster.Cell
	if i := raster.Nearest(t.centers, pt); i >= 0 {
		cell = t.cells[i]
	} else {
		c, err := t.def.Transform.Index(pt[0], pt[1])
		if err != nil {
			return nil, err
		}
		if !t.def.Shape.Contains(c) {
			return nil, &domain.OutOfRangeSample{Lon: pt[0], Lat: pt[1], Reason: "outside the historical grid"}
		}
		cell = c
	}
	center := t.def.Transform.CellCenter(cell.Row, cell.Col)
	return &domain.GridLink{
		Index: cell.Row*t.def.Shape.Cols + cell.Col,
		Lon:   center[0],
		Lat:   center[1],
		Row:   cell.Row,
		Col:   cell.Col,
	}, nil
}

func (s *pointSampling) sample(g *raster.Grid, p domain.Product) ([]float64, error) {
	cache, ok := s.cells[p.ID]
	if !ok || cache.def != g.Definition() {
		cache = s.relink(g, p)
		s.cells[p.ID] = cache
	}
	return sampler.SamplePoint(g, cache.cells), nil
}

// relink maps locations onto a grid whose geometry differs from the one
// they were discovered on.
func (s *pointSampling) relink(g *raster.Grid, p domain.Product) cellCache {
	useLinks := s.links && p.ID == s.deps.Catalog.Historical.ID
	cache := cellCache{def: g.Definition(), cells: make([]raster.Cell, len(s.locs))}
	for i, l := range s.locs {
		pt := l.Point()
		if useLinks {
			pt = orb.Point{l.Link.Lon, l.Link.Lat}
		}
		c, err := g.Transform.Index(pt[0], pt[1])
		if err != nil {
			c = raster.Cell{Row: -1, Col: -1}
		}
		cache.cells[i] = c
	}
	s.deps.Logger.Debug("relinked point locations", "mode", s.mode, "product", p.ID, "shape", g.Shape.String())
	return cache
}

// --- centroid sampling ---

type weightCache struct {
	def     raster.Definition
	weights []raster.Weights
}

type centroidSampling struct {
	deps StrategyDeps
	mode domain.Mode

	basins  []orb.Geometry
	weights map[domain.ProductID]weightCache
}

func (s *centroidSampling) discover(_ context.Context) ([]domain.Location, error) {
	if s.deps.Watershed == nil || len(s.deps.Watershed.Basins) == 0 {
		return nil, &domain.GeometryError{Reason: "watershed has no polygons"}
	}
	var locs []domain.Location
	s.basins = nil
	for _, b := range s.deps.Watershed.Basins {
		c, err := raster.Centroid(b.Geometry)
		if err != nil {
			s.deps.Logger.Warn("dropping degenerate basin", "mode", s.mode, "basin", b.ID, "error", err)
			s.deps.Metrics.LocationsDropped.WithLabelValues(s.mode.String()).Inc()
			continue
		}
		z, ok := elevation(s.deps, s.mode, c)
		if !ok {
			continue
		}
		id := len(locs)
		locs = append(locs, domain.Location{
			ID:        id,
			Name:      s.mode.LocationPrefix() + strconv.Itoa(id),
			Lon:       c[0],
			Lat:       c[1],
			Elevation: z,
		})
		s.basins = append(s.basins, b.Geometry)
	}
	if len(locs) == 0 {
		return nil, &domain.GeometryError{Reason: "no usable basins in the watershed"}
	}
	s.weights = make(map[domain.ProductID]weightCache)
	return locs, nil
}

func (s *centroidSampling) sample(g *raster.Grid, p domain.Product) ([]float64, error) {
	cache, ok := s.weights[p.ID]
	if !ok || cache.def != g.Definition() {
		cache = weightCache{def: g.Definition()}
		for _, geom := range s.basins {
			w, err := raster.ZonalWeight(geom, g.Transform, g.Shape)
			if err != nil {
				return nil, fmt.Errorf("%s weights: %w", p.ID, err)
			}
			cache.weights = append(cache.weights, w)
		}
		s.weights[p.ID] = cache
	}

	out := make([]float64, len(cache.weights))
	for i, w := range cache.weights {
		out[i] = sampler.SampleZonal(g, w, math.NaN())
	}
	return out, nil
}
