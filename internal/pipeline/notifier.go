package pipeline

import (
	"context"
	"errors"
	"log/slog"

	"github.com/couchcryptid/nasa-access-etl/internal/domain"
)

// Notifier tells the requester that a run finished.
type Notifier interface {
	Notify(ctx context.Context, c domain.Completion) error
}

// MultiNotifier fans one completion out to several notifiers. Every notifier
// is tried; their errors are joined.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, c domain.Completion) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier records completions in the log. It is the notifier of last
// resort when no transport is configured.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, c domain.Completion) error {
	attrs := []any{"run_id", c.RunID, "email", c.Email, "duration", c.CompletedAt.Sub(c.StartedAt)}
	for _, f := range c.Functions {
		attrs = append(attrs, f.Mode.String(), f.Status)
	}
	n.Logger.Info("run complete", attrs...)
	return nil
}
