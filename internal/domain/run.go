package domain

import "time"

// RunRequest is everything a caller supplies to start a run.
type RunRequest struct {
	RunID     string `json:"run_id"`
	Email     string `json:"email"`
	Functions []Mode `json:"functions"`
	Watershed string `json:"watershed"`
	DEM       string `json:"dem"`
	Start     string `json:"start"`
	End       string `json:"end"`

	// Optional overrides of the configured roots, set by the CLI only. They
	// are never decoded from a queued request.
	OutputRoot  string `json:"-"`
	ScratchRoot string `json:"-"`
}

// Function outcome statuses.
const (
	StatusCompleted = "completed"
	StatusSkipped   = "skipped"
	StatusFailed    = "failed"
)

// FunctionOutcome summarises one requested function of a run.
type FunctionOutcome struct {
	Mode        Mode   `json:"function"`
	Status      string `json:"status"`
	OutputDir   string `json:"output_dir,omitempty"`
	Locations   int    `json:"locations"`
	DaysWritten int    `json:"days_written"`
	DaysSkipped int    `json:"days_skipped"`
	Error       string `json:"error,omitempty"`
}

// Completion is what the notifier is told once a run has finished.
type Completion struct {
	RunID       string            `json:"run_id"`
	Email       string            `json:"email"`
	Functions   []FunctionOutcome `json:"functions"`
	StartedAt   time.Time         `json:"started_at"`
	CompletedAt time.Time         `json:"completed_at"`
}
