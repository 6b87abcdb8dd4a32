package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/couchcryptid/nasa-access-etl/internal/config"
	"github.com/couchcryptid/nasa-access-etl/internal/domain"
	"github.com/couchcryptid/nasa-access-etl/internal/observability"
)

// DataDir is the directory under a run's output root holding one folder per
// function.
const DataDir = "nasaaccess_data"

// runIDPattern keeps run ids usable as a single path element.
var runIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// Inputs loads the study-area files named by a run request.
type Inputs interface {
	LoadWatershed(path string) (*domain.Watershed, error)
	LoadElevation(path string) (domain.ElevationSurface, error)
}

// Ledger records finished runs. The orchestrator works without one.
type Ledger interface {
	RecordRun(ctx context.Context, c domain.Completion) error
}

// Report is the outcome of one run.
type Report struct {
	Completion domain.Completion
	OutputDir  string
	errs       []error
}

// Err joins the errors of every failed or skipped function.
func (r *Report) Err() error {
	return errors.Join(r.errs...)
}

// Orchestrator runs the requested functions of a run one after another and
// sends a single completion notice at the end.
type Orchestrator struct {
	cfg         *config.Config
	catalog     domain.Catalog
	newFetcher  func(scratchDir string) Fetcher
	reader      GridReader
	inputs      Inputs
	notifier    Notifier
	ledger      Ledger
	accumulator *Accumulator
	logger      *slog.Logger
	metrics     *observability.Metrics
}

// NewOrchestrator wires an orchestrator. newFetcher is called once per run
// with the run's scratch directory; ledger may be nil.
func NewOrchestrator(
	cfg *config.Config,
	catalog domain.Catalog,
	newFetcher func(scratchDir string) Fetcher,
	reader GridReader,
	inputs Inputs,
	notifier Notifier,
	ledger Ledger,
	logger *slog.Logger,
	metrics *observability.Metrics,
) *Orchestrator {
	return &Orchestrator{
		cfg:         cfg,
		catalog:     catalog,
		newFetcher:  newFetcher,
		reader:      reader,
		inputs:      inputs,
		notifier:    notifier,
		ledger:      ledger,
		accumulator: NewAccumulator(logger, metrics),
		logger:      logger,
		metrics:     metrics,
	}
}

// studyArea loads the watershed and DEM on first use and remembers the result,
// including a failure, for the rest of the run.
type studyArea struct {
	inputs    Inputs
	req       domain.RunRequest
	loaded    bool
	watershed *domain.Watershed
	elevation domain.ElevationSurface
	err       error
}

func (a *studyArea) load() error {
	if a.loaded {
		return a.err
	}
	a.loaded = true
	a.watershed, a.err = a.inputs.LoadWatershed(a.req.Watershed)
	if a.err != nil {
		a.err = fmt.Errorf("load watershed: %w", a.err)
		return a.err
	}
	a.elevation, a.err = a.inputs.LoadElevation(a.req.DEM)
	if a.err != nil {
		a.err = fmt.Errorf("load dem: %w", a.err)
	}
	return a.err
}

// Run executes req. It returns an error only for a request that cannot start;
// function failures are reported in the Report and the notifier is still
// called.
func (o *Orchestrator) Run(ctx context.Context, req domain.RunRequest) (*Report, error) {
	days, err := validateRequest(req)
	if err != nil {
		return nil, err
	}

	outputRoot := firstNonEmpty(req.OutputRoot, o.cfg.OutputRoot)
	scratchRoot := firstNonEmpty(req.ScratchRoot, o.cfg.ScratchRoot)
	runDir := filepath.Join(outputRoot, req.RunID, DataDir)

	if err := os.MkdirAll(scratchRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create scratch root: %w", err)
	}
	scratchDir, err := os.MkdirTemp(scratchRoot, req.RunID+"-*")
	if err != nil {
		return nil, fmt.Errorf("create scratch dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(scratchDir); err != nil {
			o.logger.Warn("remove scratch dir failed", "dir", scratchDir, "error", err)
		}
	}()

	o.metrics.RunActive.Set(1)
	defer o.metrics.RunActive.Set(0)

	logger := o.logger.With("run_id", req.RunID)
	logger.Info("run started", "functions", len(req.Functions),
		"start", req.Start, "end", req.End, "days", days.Len())

	report := &Report{
		OutputDir: runDir,
		Completion: domain.Completion{
			RunID:     req.RunID,
			Email:     req.Email,
			StartedAt: domain.Now(),
		},
	}
	area := &studyArea{inputs: o.inputs, req: req}
	fetcher := o.newFetcher(scratchDir)

	for _, mode := range req.Functions {
		outcome, err := o.runFunction(ctx, logger, mode, days, runDir, fetcher, area)
		report.Completion.Functions = append(report.Completion.Functions, outcome)
		if err != nil {
			report.errs = append(report.errs, fmt.Errorf("%s: %w", mode, err))
		}
	}
	report.Completion.CompletedAt = domain.Now()

	if len(report.errs) > 0 {
		o.metrics.RunErrors.Inc()
	}
	o.finish(ctx, logger, report)
	return report, nil
}

func validateRequest(req domain.RunRequest) (domain.DateRange, error) {
	if !runIDPattern.MatchString(req.RunID) {
		return domain.DateRange{}, fmt.Errorf("%w: run id %q must be 1-64 letters, digits, '-' or '_'",
			domain.ErrInvalidRequest, req.RunID)
	}
	if len(req.Functions) == 0 {
		return domain.DateRange{}, fmt.Errorf("%w: no functions requested", domain.ErrInvalidRequest)
	}
	days, err := domain.ParseDateRange(req.Start, req.End)
	if err != nil {
		return domain.DateRange{}, fmt.Errorf("%w: %w", domain.ErrInvalidRequest, err)
	}
	return days, nil
}

func (o *Orchestrator) runFunction(
	ctx context.Context,
	logger *slog.Logger,
	mode domain.Mode,
	days domain.DateRange,
	runDir string,
	fetcher Fetcher,
	area *studyArea,
) (domain.FunctionOutcome, error) {
	outcome := domain.FunctionOutcome{Mode: mode}
	start := time.Now()
	defer func() {
		o.metrics.FunctionDuration.WithLabelValues(mode.String()).Observe(time.Since(start).Seconds())
	}()

	if epoch := o.catalog.Epoch(mode.Quantity()); days.Start.Before(epoch) {
		err := &domain.DateRangeError{Mode: mode, Start: days.Start, Epoch: epoch}
		logger.Warn("function skipped", "mode", mode, "error", err)
		outcome.Status = domain.StatusSkipped
		outcome.Error = err.Error()
		return outcome, err
	}

	fail := func(err error) (domain.FunctionOutcome, error) {
		logger.Error("function failed", "mode", mode, "error", err)
		outcome.Status = domain.StatusFailed
		outcome.Error = err.Error()
		return outcome, err
	}

	if err := area.load(); err != nil {
		return fail(err)
	}

	strategy := NewStrategy(mode, StrategyDeps{
		Catalog:   o.catalog,
		Fetcher:   fetcher,
		Reader:    o.reader,
		Watershed: area.watershed,
		Elevation: area.elevation,
		Sentinel:  o.cfg.Sentinel,
		Start:     days.Start,
		Logger:    logger,
		Metrics:   o.metrics,
	})
	dir := filepath.Join(runDir, mode.String())
	res, err := o.accumulator.Run(ctx, strategy, dir, days)
	outcome.OutputDir = res.OutputDir
	outcome.Locations = res.Locations
	outcome.DaysWritten = res.DaysWritten
	outcome.DaysSkipped = res.DaysSkipped
	if err != nil {
		return fail(err)
	}

	outcome.Status = domain.StatusCompleted
	logger.Info("function completed", "mode", mode, "locations", res.Locations,
		"days_written", res.DaysWritten, "days_skipped", res.DaysSkipped,
		"duration", time.Since(start))
	return outcome, nil
}

// finish records and announces the run. Neither step can fail the run.
func (o *Orchestrator) finish(ctx context.Context, logger *slog.Logger, report *Report) {
	// A cancelled run still gets its notice, but a dead relay must not hold
	// up shutdown.
	ctx = context.WithoutCancel(ctx)
	timeout := o.cfg.NotifyTimeout
	if timeout <= 0 {
		timeout = config.DefaultNotifyTimeout
	}

	if o.ledger != nil {
		recordCtx, cancel := context.WithTimeout(ctx, timeout)
		if err := o.ledger.RecordRun(recordCtx, report.Completion); err != nil {
			logger.Error("record run failed", "error", err)
		}
		cancel()
	}
	notifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := o.notifier.Notify(notifyCtx, report.Completion); err != nil {
		logger.Error("notify failed", "error", err)
	}
	logger.Info("run finished", "duration", report.Completion.CompletedAt.Sub(report.Completion.StartedAt))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
