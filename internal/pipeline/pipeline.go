package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
	"github.com/couchcryptid/nasa-access-etl/internal/observability"
)

// RequestSource reads run requests one at a time, blocking until one arrives.
type RequestSource interface {
	Next(ctx context.Context) (domain.RawRequest, error)
}

// Runner executes one decoded run request.
type Runner interface {
	Run(ctx context.Context, req domain.RunRequest) (*Report, error)
}

// Worker consumes run requests and executes them strictly one after another.
type Worker struct {
	source  RequestSource
	runner  Runner
	logger  *slog.Logger
	metrics *observability.Metrics
	ready   atomic.Bool
}

// NewWorker creates a Worker.
func NewWorker(source RequestSource, runner Runner, logger *slog.Logger, metrics *observability.Metrics) *Worker {
	return &Worker{
		source:  source,
		runner:  runner,
		logger:  logger,
		metrics: metrics,
	}
}

// CheckReadiness returns nil once the worker has handled a request, or an
// error describing why the service is not yet ready.
func (w *Worker) CheckReadiness(_ context.Context) error {
	if !w.ready.Load() {
		return errors.New("worker has not handled any requests yet")
	}
	return nil
}

// Run consumes requests until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started")

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := 200 * time.Millisecond
	maxBackoff := 5 * time.Second

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping", "reason", ctx.Err())
			return nil
		default:
		}

		raw, err := w.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			w.logger.Error("read request failed", "error", err)
			if !sleepWithContext(ctx, backoff) {
				return nil
			}
			backoff = nextBackoff(backoff, maxBackoff)
			continue
		}
		backoff = 200 * time.Millisecond
		w.metrics.RequestsConsumed.Inc()

		w.handle(ctx, raw)
		if ctx.Err() != nil {
			// Leave the offset uncommitted so the run is redelivered.
			return nil
		}
		w.ready.Store(true)
		w.commitOffset(ctx, raw)
	}
}

// handle decodes and runs one request. Malformed requests are logged and
// dropped.
func (w *Worker) handle(ctx context.Context, raw domain.RawRequest) {
	req, err := DecodeRequest(raw.Value)
	if err != nil {
		w.logger.Warn("decode failed, skipping request",
			"error", err,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		return
	}

	report, err := w.runner.Run(ctx, req)
	if err != nil {
		w.logger.Warn("run rejected", "run_id", req.RunID, "error", err)
		return
	}
	if rerr := report.Err(); rerr != nil {
		w.logger.Warn("run finished with errors", "run_id", req.RunID, "error", rerr)
	}
}

// DecodeRequest parses a JSON run request. A missing run id is generated.
func DecodeRequest(data []byte) (domain.RunRequest, error) {
	var req domain.RunRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return domain.RunRequest{}, fmt.Errorf("decode run request: %w", err)
	}
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	return req, nil
}

// commitOffset commits the message offset if a commit function is available.
func (w *Worker) commitOffset(ctx context.Context, raw domain.RawRequest) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		w.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
