package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/leapstack-labs/eltpipe/internal/asset"
	"github.com/leapstack-labs/eltpipe/internal/state"
	"golang.org/x/sync/errgroup"
)

// Executor runs plans and records their outcome in the state store.
type Executor struct {
	defs   *Definitions
	store  state.Store
	env    string
	logger *slog.Logger
}

// NewExecutor creates an executor recording runs under env.
func NewExecutor(defs *Definitions, store state.Store, env string, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Executor{defs: defs, store: store, env: env, logger: logger}
}

// Result is the outcome of one run.
type Result struct {
	Run              *state.Run
	Plan             *Plan
	Materializations []Materialization
}

// Count returns how many assets ended with status.
func (r *Result) Count(status state.MaterializationStatus) int {
	n := 0
	for _, m := range r.Materializations {
		if m.Status == status {
			n++
		}
	}
	return n
}

// RunJob executes the named job. A non-empty selection overrides the job's
// own selection.
func (e *Executor) RunJob(ctx context.Context, name, selection string) (*Result, error) {
	job, err := e.defs.Job(name)
	if err != nil {
		return nil, err
	}
	if selection == "" {
		selection = job.Selection
	}
	sel, err := ParseSelection(selection)
	if err != nil {
		return nil, err
	}
	return e.Execute(ctx, job.Name, sel)
}

// Execute plans sel and runs it level by level. Steps within a level run
// concurrently. When a step fails its downstream steps are skipped, the
// remaining independent steps still run, and the returned error joins every
// step failure.
func (e *Executor) Execute(ctx context.Context, jobName string, sel Selection) (*Result, error) {
	plan, err := e.defs.Plan(sel)
	if err != nil {
		return nil, err
	}

	// Bookkeeping must survive cancellation of the run itself.
	storeCtx := context.WithoutCancel(ctx)

	run, err := e.store.CreateRun(storeCtx, jobName, e.env)
	if err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}
	logger := e.logger.With(slog.String("run_id", run.ID))
	logger.Info("starting run",
		slog.String("job", jobName),
		slog.String("environment", e.env),
		slog.String("selection", sel.String()),
		slog.Int("assets", len(plan.Keys)),
		slog.Int("steps", len(plan.Steps)))

	result := &Result{Plan: plan}
	rc := &RunContext{Logger: logger, RunID: run.ID, Resources: e.defs.Resources}
	blocked := make(map[string]string)
	var errs []error

	for i, level := range plan.Levels {
		if ctxErr := ctx.Err(); ctxErr != nil {
			errs = append(errs, fmt.Errorf("run cancelled: %w", ctxErr))
			for _, rest := range plan.Levels[i:] {
				for _, name := range rest {
					skipped := e.skip(run.ID, plan.Steps[name], "run cancelled")
					for _, m := range skipped {
						e.record(storeCtx, logger, run.ID, m)
					}
					result.Materializations = append(result.Materializations, skipped...)
				}
			}
			break
		}

		outcomes := make([][]Materialization, len(level))
		stepErrs := make([]error, len(level))

		var g errgroup.Group
		for j, name := range level {
			sp := plan.Steps[name]
			if reason, ok := blocked[name]; ok {
				outcomes[j] = e.skip(run.ID, sp, reason)
				continue
			}
			g.Go(func() error {
				outcomes[j], stepErrs[j] = e.runStep(ctx, rc, sp)
				return nil
			})
		}
		_ = g.Wait()

		for j, name := range level {
			if stepErrs[j] != nil {
				errs = append(errs, &StepError{Step: name, Err: stepErrs[j]})
				for _, down := range plan.Downstream(name) {
					if _, ok := blocked[down]; !ok {
						blocked[down] = fmt.Sprintf("upstream step %s failed", name)
					}
				}
			}
			for _, m := range outcomes[j] {
				e.record(storeCtx, logger, run.ID, m)
			}
			result.Materializations = append(result.Materializations, outcomes[j]...)
		}
	}

	runErr := errors.Join(errs...)
	if runErr != nil {
		logger.Error("run failed", slog.String("error", runErr.Error()))
		_ = e.store.CompleteRun(storeCtx, run.ID, state.RunStatusFailed, runErr.Error())
	} else {
		logger.Info("run completed", slog.Int("assets", len(result.Materializations)))
		_ = e.store.CompleteRun(storeCtx, run.ID, state.RunStatusCompleted, "")
	}

	if r, err := e.store.GetRun(storeCtx, run.ID); err == nil {
		run = r
	}
	result.Run = run
	return result, runErr
}

// runStep materializes one step and fills in an outcome for every selected
// key the step did not report.
func (e *Executor) runStep(ctx context.Context, rc *RunContext, sp *StepPlan) ([]Materialization, error) {
	name := sp.Step.Name()
	logger := rc.Logger.With(slog.String("step", name))
	logger.Info("step started", slog.Int("assets", len(sp.Keys)))

	started := time.Now().UTC()
	reported, err := sp.Step.Materialize(ctx, &RunContext{
		Logger:    logger,
		RunID:     rc.RunID,
		Resources: rc.Resources,
	}, sp.Keys)
	completed := time.Now().UTC()

	byKey := make(map[string]Materialization, len(reported))
	for _, m := range reported {
		byKey[m.Key.String()] = m
	}

	out := make([]Materialization, 0, len(sp.Keys))
	failed := 0
	for _, k := range sp.Keys {
		m, ok := byKey[k.String()]
		if !ok {
			m = Materialization{Status: state.MaterializationSuccess}
			if err != nil {
				m.Status = state.MaterializationFailed
				m.Error = err.Error()
			}
		}
		m.Key = k
		m.Step = name
		if m.Status == "" {
			m.Status = state.MaterializationSuccess
		}
		if m.StartedAt.IsZero() {
			m.StartedAt = started
		}
		if m.CompletedAt.IsZero() {
			m.CompletedAt = completed
		}
		if m.Status == state.MaterializationFailed {
			failed++
		}
		out = append(out, m)
	}

	if err == nil && failed > 0 {
		err = fmt.Errorf("%d asset(s) failed", failed)
	}
	if err != nil {
		logger.Error("step failed", slog.String("error", err.Error()), slog.Duration("duration", completed.Sub(started)))
		return out, err
	}
	logger.Info("step completed", slog.Duration("duration", completed.Sub(started)))
	return out, nil
}

func (e *Executor) skip(runID string, sp *StepPlan, reason string) []Materialization {
	now := time.Now().UTC()
	out := make([]Materialization, 0, len(sp.Keys))
	for _, k := range sp.Keys {
		out = append(out, Materialization{
			Key:         k,
			Step:        sp.Step.Name(),
			Status:      state.MaterializationSkipped,
			Error:       reason,
			StartedAt:   now,
			CompletedAt: now,
		})
	}
	e.logger.Warn("step skipped",
		slog.String("run_id", runID),
		slog.String("step", sp.Step.Name()),
		slog.String("reason", reason))
	return out
}

func (e *Executor) record(ctx context.Context, logger *slog.Logger, runID string, m Materialization) {
	completed := m.CompletedAt
	err := e.store.RecordMaterialization(ctx, &state.Materialization{
		RunID:       runID,
		Step:        m.Step,
		AssetKey:    m.Key.String(),
		Status:      m.Status,
		StartedAt:   m.StartedAt,
		CompletedAt: &completed,
		Error:       m.Error,
		Metadata:    m.Metadata,
	})
	if err != nil {
		logger.Warn("failed to record materialization", slog.String("asset", m.Key.String()), slog.String("error", err.Error()))
	}
}

// Keys returns the asset keys of ms.
func Keys(ms []Materialization) []asset.Key {
	out := make([]asset.Key, len(ms))
	for i, m := range ms {
		out[i] = m.Key
	}
	return out
}
