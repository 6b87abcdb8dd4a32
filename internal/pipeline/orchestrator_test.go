package pipeline_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/nasa-access-etl/internal/config"
	"github.com/couchcryptid/nasa-access-etl/internal/domain"
	"github.com/couchcryptid/nasa-access-etl/internal/observability"
	"github.com/couchcryptid/nasa-access-etl/internal/pipeline"
	"github.com/couchcryptid/nasa-access-etl/internal/raster"
	"github.com/couchcryptid/nasa-access-etl/internal/series"
)

type fakeInputs struct {
	watershed *domain.Watershed
	err       error
	loads     int
}

func (f *fakeInputs) LoadWatershed(string) (*domain.Watershed, error) {
	f.loads++
	return f.watershed, f.err
}

func (f *fakeInputs) LoadElevation(string) (domain.ElevationSurface, error) {
	return flatSurface{z: 12}, nil
}

type recordingNotifier struct {
	mu          sync.Mutex
	completions []domain.Completion
	err         error
	hang        bool // wait for the context like an unreachable relay
	ctxErrs     []error
}

func (n *recordingNotifier) Notify(ctx context.Context, c domain.Completion) error {
	if n.hang {
		<-ctx.Done()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.completions = append(n.completions, c)
	n.ctxErrs = append(n.ctxErrs, ctx.Err())
	if n.hang {
		return ctx.Err()
	}
	return n.err
}

type recordingLedger struct {
	runs []domain.Completion
}

func (l *recordingLedger) RecordRun(_ context.Context, c domain.Completion) error {
	l.runs = append(l.runs, c)
	return nil
}

type harness struct {
	cfg      *config.Config
	archive  *fakeArchive
	inputs   *fakeInputs
	notifier *recordingNotifier
	ledger   *recordingLedger
	scratch  []string
	orch     *pipeline.Orchestrator
}

func newHarness(t *testing.T, ws *domain.Watershed) *harness {
	t.Helper()
	h := &harness{
		cfg: &config.Config{
			OutputRoot:  t.TempDir(),
			ScratchRoot: t.TempDir(),
			Sentinel:    -99,
		},
		archive:  newFakeArchive(),
		inputs:   &fakeInputs{watershed: ws},
		notifier: &recordingNotifier{},
		ledger:   &recordingLedger{},
	}
	newFetcher := func(dir string) pipeline.Fetcher {
		h.scratch = append(h.scratch, dir)
		return h.archive
	}
	h.orch = pipeline.NewOrchestrator(h.cfg, testCatalog(), newFetcher, h.archive, h.inputs,
		h.notifier, h.ledger, discardLogger(), observability.NewMetricsForTesting())
	return h
}

func (h *harness) functionDir(runID string, mode domain.Mode) string {
	return filepath.Join(h.cfg.OutputRoot, runID, pipeline.DataDir, mode.String())
}

func TestOrchestrator_StartBeforeEpochSkipsWithoutNetwork(t *testing.T) {
	h := newHarness(t, watershed(box(0, 0, 1, 1)))

	report, err := h.orch.Run(context.Background(), domain.RunRequest{
		RunID:     "run-epoch",
		Email:     "user@example.test",
		Functions: []domain.Mode{domain.ModePointTemperature},
		Start:     "1999-12-31",
		End:       "2000-01-05",
	})
	require.NoError(t, err)

	var rangeErr *domain.DateRangeError
	require.ErrorAs(t, report.Err(), &rangeErr)
	assert.Equal(t, day("2000-01-01"), rangeErr.Epoch)
	assert.Zero(t, h.archive.totalCalls())
	assert.Zero(t, h.inputs.loads)

	require.Len(t, h.notifier.completions, 1)
	outcome := h.notifier.completions[0].Functions[0]
	assert.Equal(t, domain.StatusSkipped, outcome.Status)
	assert.Contains(t, outcome.Error, "2000-01-01")
}

func TestOrchestrator_ListingFailureOmitsDay(t *testing.T) {
	h := newHarness(t, watershed(box(0, 0, 1, 1)))
	h.archive.grids[domain.ProductIMERG] = []*raster.Grid{grid(t, 2, 2, 1, 1, 2, 3, 4)}
	h.archive.fail["2015-06-03"] = &domain.RemoteUnavailable{URL: "https://archive.test/imerg/2015/06/", Status: 503}

	report, err := h.orch.Run(context.Background(), domain.RunRequest{
		RunID:     "run-gap",
		Email:     "user@example.test",
		Functions: []domain.Mode{domain.ModeZonalPrecipitation},
		Start:     "2015-06-01",
		End:       "2015-06-05",
	})
	require.NoError(t, err)
	require.NoError(t, report.Err())

	dir := h.functionDir("run-gap", domain.ModeZonalPrecipitation)
	assert.Equal(t, []string{"20150601", "3", "3", "3", "3"}, readLines(t, series.Path(dir, "precip0")))

	require.Len(t, h.notifier.completions, 1)
	outcome := h.notifier.completions[0].Functions[0]
	assert.Equal(t, domain.StatusCompleted, outcome.Status)
	assert.Equal(t, 4, outcome.DaysWritten)
	assert.Equal(t, 1, outcome.DaysSkipped)
	assert.Equal(t, dir, outcome.OutputDir)
}

func TestOrchestrator_OneFilePerSubBasin(t *testing.T) {
	h := newHarness(t, watershed(box(0, 0, 1, 1), box(1, 0, 2, 1), box(0, 1, 2, 2)))
	h.archive.grids[domain.ProductGLDAS] = []*raster.Grid{
		grid(t, 2, 2, 1, 280, 280, 290, 300),
		grid(t, 2, 2, 1, 270, 270, 285, 295),
	}

	report, err := h.orch.Run(context.Background(), domain.RunRequest{
		RunID:     "run-basins",
		Functions: []domain.Mode{domain.ModeZonalTemperature},
		Start:     "2010-07-01",
		End:       "2010-07-03",
	})
	require.NoError(t, err)
	require.NoError(t, report.Err())

	dir := h.functionDir("run-basins", domain.ModeZonalTemperature)
	locs, err := series.ReadMetadata(filepath.Join(dir, "temp_Master.txt"))
	require.NoError(t, err)
	require.Len(t, locs, 3)

	for _, name := range []string{"temp0", "temp1", "temp2"} {
		lines := readLines(t, series.Path(dir, name))
		assert.Len(t, lines, 4, name)
		assert.Equal(t, "20100701", lines[0])
	}
	assert.Equal(t, "16.84,11.84", readLines(t, series.Path(dir, "temp0"))[1])
	assert.Equal(t, "26.84,21.84", readLines(t, series.Path(dir, "temp1"))[1])
	assert.Equal(t, "6.84,-3.16", readLines(t, series.Path(dir, "temp2"))[1])
}

func TestOrchestrator_SetupFailureAbortsOnlyThatFunction(t *testing.T) {
	h := newHarness(t, watershed(box(0, 0, 1, 1)))
	h.archive.grids[domain.ProductIMERG] = []*raster.Grid{grid(t, 2, 2, 1, 1, 2, 3, 4)}

	// No GLDAS data at all: point temperature cannot discover its grid.
	report, err := h.orch.Run(context.Background(), domain.RunRequest{
		RunID:     "run-partial",
		Functions: []domain.Mode{domain.ModePointTemperature, domain.ModeZonalPrecipitation},
		Start:     "2015-06-01",
		End:       "2015-06-02",
	})
	require.NoError(t, err)
	require.Error(t, report.Err())

	require.Len(t, h.notifier.completions, 1)
	outcomes := h.notifier.completions[0].Functions
	require.Len(t, outcomes, 2)
	assert.Equal(t, domain.StatusFailed, outcomes[0].Status)
	assert.Equal(t, domain.StatusCompleted, outcomes[1].Status)
	assert.Equal(t, 2, outcomes[1].DaysWritten)
	assert.Equal(t, 1, h.inputs.loads)
}

func TestOrchestrator_InputFailureFailsEveryFunction(t *testing.T) {
	h := newHarness(t, nil)
	h.inputs.err = errors.New("no such file")

	report, err := h.orch.Run(context.Background(), domain.RunRequest{
		RunID:     "run-noinput",
		Functions: []domain.Mode{domain.ModeZonalPrecipitation, domain.ModeZonalTemperature},
		Start:     "2015-06-01",
		End:       "2015-06-01",
	})
	require.NoError(t, err)
	require.Error(t, report.Err())
	assert.Equal(t, 1, h.inputs.loads)
	for _, o := range h.notifier.completions[0].Functions {
		assert.Equal(t, domain.StatusFailed, o.Status)
		assert.Contains(t, o.Error, "load watershed")
	}
}

func TestOrchestrator_RecordsAndNotifiesWithClock(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC))
	domain.SetClock(clock)
	t.Cleanup(func() { domain.SetClock(nil) })

	h := newHarness(t, watershed(box(0, 0, 1, 1)))
	h.archive.grids[domain.ProductIMERG] = []*raster.Grid{grid(t, 2, 2, 1, 1, 2, 3, 4)}
	h.notifier.err = errors.New("smtp down")

	report, err := h.orch.Run(context.Background(), domain.RunRequest{
		RunID:     "run-ledger",
		Email:     "user@example.test",
		Functions: []domain.Mode{domain.ModeZonalPrecipitation},
		Start:     "2015-06-01",
		End:       "2015-06-01",
	})
	require.NoError(t, err)
	require.NoError(t, report.Err())

	require.Len(t, h.ledger.runs, 1)
	run := h.ledger.runs[0]
	assert.Equal(t, "run-ledger", run.RunID)
	assert.Equal(t, "user@example.test", run.Email)
	assert.Equal(t, clock.Now().UTC(), run.StartedAt)
	assert.Equal(t, clock.Now().UTC(), run.CompletedAt)
	assert.Equal(t, report.Completion, run)

	require.Len(t, h.scratch, 1)
	assert.NoDirExists(t, h.scratch[0])
}

func TestOrchestrator_RejectsInvalidRequests(t *testing.T) {
	h := newHarness(t, watershed(box(0, 0, 1, 1)))
	valid := domain.RunRequest{
		RunID:     "run",
		Functions: []domain.Mode{domain.ModeZonalPrecipitation},
		Start:     "2015-06-01",
		End:       "2015-06-02",
	}

	tests := []struct {
		name   string
		mutate func(*domain.RunRequest)
	}{
		{"no run id", func(r *domain.RunRequest) { r.RunID = "" }},
		{"run id with parent dir", func(r *domain.RunRequest) { r.RunID = "../003" }},
		{"run id with separator", func(r *domain.RunRequest) { r.RunID = "a/b" }},
		{"absolute run id", func(r *domain.RunRequest) { r.RunID = "/tmp" }},
		{"run id too long", func(r *domain.RunRequest) { r.RunID = strings.Repeat("x", 65) }},
		{"no functions", func(r *domain.RunRequest) { r.Functions = nil }},
		{"bad start", func(r *domain.RunRequest) { r.Start = "June 1" }},
		{"end before start", func(r *domain.RunRequest) { r.End = "2015-05-31" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := valid
			tt.mutate(&req)
			_, err := h.orch.Run(context.Background(), req)
			require.ErrorIs(t, err, domain.ErrInvalidRequest)
		})
	}
	assert.Empty(t, h.notifier.completions)
}

func TestOrchestrator_RunIDCannotLeaveScratchRoot(t *testing.T) {
	h := newHarness(t, watershed(box(0, 0, 1, 1)))
	h.archive.grids[domain.ProductIMERG] = []*raster.Grid{grid(t, 2, 2, 1, 1, 2, 3, 4)}

	// A sibling of the scratch root that a traversing run id would name.
	parent := t.TempDir()
	h.cfg.ScratchRoot = filepath.Join(parent, "scratch")
	victim := filepath.Join(parent, "003")
	require.NoError(t, os.MkdirAll(victim, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(victim, "precious.txt"), []byte("keep"), 0o644))

	_, err := h.orch.Run(context.Background(), domain.RunRequest{
		RunID:     "../003",
		Functions: []domain.Mode{domain.ModeZonalPrecipitation},
		Start:     "2015-06-01",
		End:       "2015-06-01",
	})
	require.ErrorIs(t, err, domain.ErrInvalidRequest)
	assert.FileExists(t, filepath.Join(victim, "precious.txt"))
	assert.Zero(t, h.archive.totalCalls())
}

func TestOrchestrator_ScratchCleanupKeepsExistingDirs(t *testing.T) {
	h := newHarness(t, watershed(box(0, 0, 1, 1)))
	h.archive.grids[domain.ProductIMERG] = []*raster.Grid{grid(t, 2, 2, 1, 1, 2, 3, 4)}

	// A directory that happens to carry the run id is not the run's to delete.
	existing := filepath.Join(h.cfg.ScratchRoot, "run-scratch")
	require.NoError(t, os.MkdirAll(existing, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(existing, "other.nc4"), []byte("x"), 0o644))

	report, err := h.orch.Run(context.Background(), domain.RunRequest{
		RunID:     "run-scratch",
		Functions: []domain.Mode{domain.ModeZonalPrecipitation},
		Start:     "2015-06-01",
		End:       "2015-06-01",
	})
	require.NoError(t, err)
	require.NoError(t, report.Err())

	assert.FileExists(t, filepath.Join(existing, "other.nc4"))
	require.Len(t, h.scratch, 1)
	assert.Equal(t, h.cfg.ScratchRoot, filepath.Dir(h.scratch[0]))
	assert.True(t, strings.HasPrefix(filepath.Base(h.scratch[0]), "run-scratch-"))
	assert.NoDirExists(t, h.scratch[0])
}

func TestOrchestrator_NotifyIsBoundedByTimeout(t *testing.T) {
	h := newHarness(t, watershed(box(0, 0, 1, 1)))
	h.archive.grids[domain.ProductIMERG] = []*raster.Grid{grid(t, 2, 2, 1, 1, 2, 3, 4)}
	h.cfg.NotifyTimeout = 50 * time.Millisecond
	h.notifier.hang = true

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // shutdown already under way

	start := time.Now()
	report, err := h.orch.Run(ctx, domain.RunRequest{
		RunID:     "run-hung-relay",
		Functions: []domain.Mode{domain.ModeZonalPrecipitation},
		Start:     "2015-06-01",
		End:       "2015-06-01",
	})
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Less(t, time.Since(start), 5*time.Second)

	require.Len(t, h.notifier.ctxErrs, 1)
	assert.ErrorIs(t, h.notifier.ctxErrs[0], context.DeadlineExceeded)
	require.Len(t, h.ledger.runs, 1)
}
