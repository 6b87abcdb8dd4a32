package main

import (
	"context"
	"fmt"

	"github.com/couchcryptid/nasa-access-etl/internal/adapter/dem"
	"github.com/couchcryptid/nasa-access-etl/internal/adapter/earthdata"
	"github.com/couchcryptid/nasa-access-etl/internal/adapter/ftp"
	kafkaadapter "github.com/couchcryptid/nasa-access-etl/internal/adapter/kafka"
	"github.com/couchcryptid/nasa-access-etl/internal/adapter/netcdf"
	"github.com/couchcryptid/nasa-access-etl/internal/adapter/smtp"
	"github.com/couchcryptid/nasa-access-etl/internal/adapter/watershed"
	"github.com/couchcryptid/nasa-access-etl/internal/domain"
	"github.com/couchcryptid/nasa-access-etl/internal/fetch"
	"github.com/couchcryptid/nasa-access-etl/internal/pipeline"
	"github.com/couchcryptid/nasa-access-etl/internal/store"
)

// fileInputs loads the watershed and DEM from local files.
type fileInputs struct{}

func (fileInputs) LoadWatershed(path string) (*domain.Watershed, error) {
	return watershed.Load(path)
}

func (fileInputs) LoadElevation(path string) (domain.ElevationSurface, error) {
	s, err := dem.Load(path)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// services holds everything a command may need to close on exit.
type services struct {
	orchestrator *pipeline.Orchestrator
	ledger       *store.Store
	writer       *kafkaadapter.Writer
}

func (s *services) Close(a *app) {
	if s.ledger != nil {
		if err := s.ledger.Close(); err != nil {
			a.logger.Error("ledger close error", "error", err)
		}
	}
	if s.writer != nil {
		if err := s.writer.Close(); err != nil {
			a.logger.Error("kafka writer close error", "error", err)
		}
	}
}

// wire builds the orchestrator and its adapters from configuration.
func wire(ctx context.Context, a *app) (*services, error) {
	cfg := a.cfg
	https := earthdata.NewClient(cfg.EarthdataUsername, cfg.EarthdataPassword,
		cfg.HTTPTimeout, cfg.ListingRetryMaxElapsed, a.logger)
	fetcher := fetch.NewFetcher(map[string]fetch.Source{
		"https": https,
		"ftp":   ftp.NewClient(cfg.FTPTimeout, a.logger),
	}, cfg.ListingCacheSize, cfg.ListingCacheTTL, a.logger, a.metrics)
	newFetcher := func(dir string) pipeline.Fetcher { return fetcher.Session(dir) }

	svc := &services{}
	notifier := pipeline.MultiNotifier{pipeline.LogNotifier{Logger: a.logger}}
	if cfg.NotifyByEmail() {
		notifier = append(notifier, smtp.NewNotifier(cfg, nil, a.logger))
		a.logger.Info("email notification enabled", "host", cfg.SMTPHost)
	}
	if cfg.KafkaEnabled {
		svc.writer = kafkaadapter.NewWriter(cfg, a.logger, a.metrics)
		notifier = append(notifier, svc.writer)
	}

	var ledger pipeline.Ledger
	if cfg.LedgerPath != "" {
		st, err := store.Open(ctx, cfg.LedgerPath, a.logger)
		if err != nil {
			svc.Close(a)
			return nil, fmt.Errorf("open ledger: %w", err)
		}
		svc.ledger = st
		ledger = st
	}

	svc.orchestrator = pipeline.NewOrchestrator(cfg, cfg.Catalog(), newFetcher, netcdf.NewReader(),
		fileInputs{}, notifier, ledger, a.logger, a.metrics)
	return svc, nil
}
