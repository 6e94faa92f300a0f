// Package state records pipeline run history in SQLite: one row per run and
// one row per asset materialization attempt.
package state

import (
	"context"
	"time"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// MaterializationStatus is the outcome of one asset in a run.
type MaterializationStatus string

// Materialization statuses.
const (
	MaterializationSuccess MaterializationStatus = "success"
	MaterializationFailed  MaterializationStatus = "failed"
	MaterializationSkipped MaterializationStatus = "skipped"
)

// Run is one execution of a job.
type Run struct {
	ID          string
	Job         string
	Environment string
	Status      RunStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
}

// Duration returns how long the run took, or zero while it is running.
func (r *Run) Duration() time.Duration {
	if r.CompletedAt == nil {
		return 0
	}
	return r.CompletedAt.Sub(r.StartedAt)
}

// Materialization is the recorded outcome of one asset within a run.
type Materialization struct {
	ID          string
	RunID       string
	Step        string
	AssetKey    string
	Status      MaterializationStatus
	StartedAt   time.Time
	CompletedAt *time.Time
	Error       string
	Metadata    map[string]any
}

// Store persists run history.
type Store interface {
	CreateRun(ctx context.Context, job, env string) (*Run, error)
	CompleteRun(ctx context.Context, id string, status RunStatus, errMsg string) error
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, limit int) ([]*Run, error)

	RecordMaterialization(ctx context.Context, m *Materialization) error
	ListMaterializations(ctx context.Context, runID string) ([]*Materialization, error)
	LatestMaterialization(ctx context.Context, assetKey string) (*Materialization, error)

	Close() error
}
