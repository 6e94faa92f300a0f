// Package pipeline assembles steps into one asset graph and executes jobs
// against it.
//
// A Step is a multi-asset operation: it declares the assets it produces and
// materializes any subset of them in one invocation. Definitions validates
// that the declared assets form a DAG, resolves selections, plans which steps
// must run in which order and records every outcome in the run state store.
package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/leapstack-labs/eltpipe/internal/asset"
	"github.com/leapstack-labs/eltpipe/internal/resource"
	"github.com/leapstack-labs/eltpipe/internal/state"
)

// Step produces a fixed set of assets.
type Step interface {
	// Name uniquely identifies the step.
	Name() string
	// Specs lists every asset the step can produce.
	Specs() []asset.Spec
	// Materialize produces the selected assets. Assets missing from the
	// returned slice are treated as failed when err is non-nil and as
	// succeeded otherwise.
	Materialize(ctx context.Context, rc *RunContext, selected []asset.Key) ([]Materialization, error)
}

// Resources are the shared collaborators handed to steps at run time.
type Resources struct {
	Runner    resource.Runner
	Warehouse resource.TableLister
	Dbt       *resource.DbtCLI
}

// RunContext carries per-run values into a step.
type RunContext struct {
	Logger    *slog.Logger
	RunID     string
	Resources Resources
}

// Materialization is the outcome of one asset.
type Materialization struct {
	Key         asset.Key
	Step        string
	Status      state.MaterializationStatus
	Error       string
	Metadata    map[string]any
	StartedAt   time.Time
	CompletedAt time.Time
}

// Duration returns how long the asset took.
func (m Materialization) Duration() time.Duration {
	if m.CompletedAt.IsZero() {
		return 0
	}
	return m.CompletedAt.Sub(m.StartedAt)
}

// Succeeded reports whether the asset was materialized.
func (m Materialization) Succeeded() bool {
	return m.Status == state.MaterializationSuccess
}
