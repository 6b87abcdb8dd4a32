// Command nasaaccess extracts NASA precipitation and temperature series over
// a watershed and writes them in SWAT weather-input format.
//
// Usage:
//
//	nasaaccess run -w basin.shp -d dem.tif -s 2010-01-01 -e 2010-12-31 GPMswat GLDASwat
//	nasaaccess worker
//	nasaaccess validate ./output/<run-id>
package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/couchcryptid/nasa-access-etl/internal/config"
	"github.com/couchcryptid/nasa-access-etl/internal/observability"
)

type cli struct {
	Run      runCmd      `cmd:"" help:"Run one extraction request and exit."`
	Worker   workerCmd   `cmd:"" help:"Consume run requests from Kafka until stopped."`
	Validate validateCmd `cmd:"" help:"Check the output of a finished run."`
}

// app carries the process-wide dependencies bound into every command.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Warn("failed to read .env", "error", err)
	}

	var c cli
	ctx := kong.Parse(&c,
		kong.Name("nasaaccess"),
		kong.Description("Extract TRMM/IMERG precipitation and GLDAS temperature for SWAT."),
		kong.UsageOnError(),
	)

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	a := &app{
		cfg:     cfg,
		logger:  observability.NewLogger(cfg),
		metrics: observability.NewMetrics(),
	}
	ctx.FatalIfErrorf(ctx.Run(a))
}
