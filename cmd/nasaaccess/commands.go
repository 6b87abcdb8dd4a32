package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/couchcryptid/nasa-access-etl/internal/adapter/httpadapter"
	kafkaadapter "github.com/couchcryptid/nasa-access-etl/internal/adapter/kafka"
	"github.com/couchcryptid/nasa-access-etl/internal/domain"
	"github.com/couchcryptid/nasa-access-etl/internal/pipeline"
	"github.com/couchcryptid/nasa-access-etl/internal/validate"
)

type runCmd struct {
	Watershed string   `short:"w" required:"" type:"existingfile" help:"Watershed shapefile or GeoJSON."`
	DEM       string   `short:"d" required:"" type:"existingfile" help:"Elevation raster (GeoTIFF or ESRI ASCII grid)."`
	Start     string   `short:"s" required:"" help:"First day, YYYY-MM-DD."`
	End       string   `short:"e" required:"" help:"Last day, YYYY-MM-DD."`
	Email     string   `help:"Address to notify when the run finishes."`
	RunID     string   `name:"run-id" help:"Run identifier; generated when empty."`
	Output    string   `short:"o" help:"Output root; overrides OUTPUT_ROOT."`
	Functions []string `arg:"" help:"Functions to run: GPMswat, GPMpolyCentroid, GLDASwat, GLDASpolyCentroid."`
}

func (c *runCmd) Run(a *app) error {
	modes, err := domain.ParseModes(c.Functions)
	if err != nil {
		return err
	}
	runID := c.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := wire(ctx, a)
	if err != nil {
		return err
	}
	defer svc.Close(a)

	report, err := svc.orchestrator.Run(ctx, domain.RunRequest{
		RunID:      runID,
		Email:      c.Email,
		Functions:  modes,
		Watershed:  c.Watershed,
		DEM:        c.DEM,
		Start:      c.Start,
		End:        c.End,
		OutputRoot: c.Output,
	})
	if err != nil {
		return err
	}

	for _, o := range report.Completion.Functions {
		fmt.Printf("%-20s %-10s %4d locations %6d days", o.Mode, o.Status, o.Locations, o.DaysWritten)
		if o.DaysSkipped > 0 {
			fmt.Printf(" (%d skipped)", o.DaysSkipped)
		}
		fmt.Println()
	}
	fmt.Println("output:", report.OutputDir)

	if rerr := report.Err(); rerr != nil {
		return fmt.Errorf("run %s finished with errors: %w", runID, rerr)
	}
	return nil
}

type workerCmd struct{}

func (workerCmd) Run(a *app) error {
	if !a.cfg.KafkaEnabled {
		return errors.New("worker needs KAFKA_ENABLED=true")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	svc, err := wire(ctx, a)
	if err != nil {
		return err
	}
	defer svc.Close(a)

	reader := kafkaadapter.NewReader(a.cfg, a.logger)
	w := pipeline.NewWorker(reader, svc.orchestrator, a.logger, a.metrics)

	var ledger httpadapter.RunLedger
	if svc.ledger != nil {
		ledger = svc.ledger
	}
	srv := httpadapter.NewServer(a.cfg.HTTPAddr, w, ledger, a.logger)

	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("http server error", "error", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := w.Run(ctx); err != nil {
			a.logger.Error("worker error", "error", err)
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("http server shutdown error", "error", err)
	}
	// The ledger and notice writer close on return; an in-flight run records
	// and notifies through them first.
	if !waitFor(shutdownCtx, done) {
		a.logger.Warn("in-flight run still active at shutdown timeout")
	}
	if err := reader.Close(); err != nil {
		a.logger.Error("kafka reader close error", "error", err)
	}
	a.logger.Info("shutdown complete")
	return nil
}

// waitFor blocks until done is closed or ctx ends, and reports which.
func waitFor(ctx context.Context, done <-chan struct{}) bool {
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

const (
	colorReset = "\033[0m"
	colorGreen = "\033[32m"
	colorRed   = "\033[31m"
)

type validateCmd struct {
	Dir string `arg:"" type:"existingdir" help:"Run directory or its nasaaccess_data folder."`
}

func (c *validateCmd) Run(_ *app) error {
	reports, err := validate.Run(c.Dir)
	if err != nil {
		return err
	}

	failed := 0
	for _, r := range reports {
		fmt.Printf("\n%s (%d locations, %d days)\n", r.Mode, r.Locations, r.Days)
		for _, p := range r.Phases {
			if p.Passed() {
				fmt.Printf("  %-42s %sPASS%s\n", p.Name, colorGreen, colorReset)
				continue
			}
			failed++
			fmt.Printf("  %-42s %sFAIL%s (%d errors)\n", p.Name, colorRed, colorReset, len(p.Errors))
			for _, e := range p.Errors {
				fmt.Printf("      - %s\n", e)
			}
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d phases failed", failed)
	}
	fmt.Printf("\n%sall checks passed%s\n", colorGreen, colorReset)
	return nil
}
