package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
	"github.com/couchcryptid/nasa-access-etl/internal/observability"
	"github.com/couchcryptid/nasa-access-etl/internal/series"
)

// FunctionResult counts what one function wrote.
type FunctionResult struct {
	OutputDir   string
	Locations   int
	DaysWritten int
	DaysSkipped int
}

// Accumulator drives one strategy over a date range and writes its series.
type Accumulator struct {
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewAccumulator creates an Accumulator.
func NewAccumulator(logger *slog.Logger, metrics *observability.Metrics) *Accumulator {
	return &Accumulator{logger: logger, metrics: metrics}
}

// Run discovers locations, writes the series headers and metadata table into
// dir, then appends one line per day. A day that fails with a skippable error
// is omitted from every series of the function; any other error stops it.
func (a *Accumulator) Run(ctx context.Context, s ExtractionStrategy, dir string, days domain.DateRange) (FunctionResult, error) {
	mode := s.Mode()
	res := FunctionResult{OutputDir: dir}

	locs, err := s.Locations(ctx)
	if err != nil {
		return res, fmt.Errorf("discover locations: %w", err)
	}
	if len(locs) == 0 {
		return res, &domain.GeometryError{Reason: "no locations to sample"}
	}
	res.Locations = len(locs)

	names := make([]string, len(locs))
	for i, l := range locs {
		names[i] = l.Name
	}
	set, err := series.Create(dir, names, days.Start)
	if err != nil {
		return res, err
	}
	if err := series.WriteMetadata(filepath.Join(dir, mode.MasterFile()), locs, mode.HasGridLinks()); err != nil {
		return res, err
	}
	a.logger.Info("series initialised", "mode", mode, "locations", len(locs), "dir", dir)

	for _, day := range days.Days() {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		samples, err := s.SampleDay(ctx, day)
		if err != nil {
			if domain.IsDaySkippable(err) {
				a.logger.Warn("skipping day", "mode", mode, "day", day.Format("2006-01-02"), "error", err)
				a.metrics.DaysProcessed.WithLabelValues(mode.String(), "skipped").Inc()
				res.DaysSkipped++
				continue
			}
			return res, fmt.Errorf("sample %s: %w", day.Format("2006-01-02"), err)
		}

		if err := set.AppendDay(samples); err != nil {
			return res, err
		}
		a.metrics.DaysProcessed.WithLabelValues(mode.String(), "written").Inc()
		res.DaysWritten++
	}
	return res, nil
}
