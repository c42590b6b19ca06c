package cron

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/flemzord/roundtable/internal/ctxengine"
	"github.com/flemzord/roundtable/internal/store"
)

// OptimizeObserver receives the outcome of every project optimization.
// telemetry.Metrics implements it.
type OptimizeObserver interface {
	ObserveOptimize(project string, res ctxengine.Result)
	SetProjectTokens(project string, total int)
}

// OptimizeJob brings every project whose context is over the ideal
// threshold back toward it and persists the optimized set. Items without
// a relevance score are scored against the project's conversation first.
type OptimizeJob struct {
	Store        store.Store
	Engine       *ctxengine.Engine
	Observer     OptimizeObserver // optional
	Logger       *slog.Logger
	ScheduleExpr string // empty = default "*/10 * * * *"
}

// Compile-time interface check.
var _ Job = (*OptimizeJob)(nil)

// Name implements Job.
func (j *OptimizeJob) Name() string { return "context_optimize" }

// Schedule implements Job.
func (j *OptimizeJob) Schedule() string {
	if j.ScheduleExpr != "" {
		return j.ScheduleExpr
	}
	return "*/10 * * * *"
}

// Run optimizes each project in turn. A failing project is logged and
// skipped; the joined errors are returned at the end.
func (j *OptimizeJob) Run(ctx context.Context) error {
	projects, err := j.Store.Projects(ctx)
	if err != nil {
		return fmt.Errorf("cron: listing projects: %w", err)
	}

	var errs []error
	for _, project := range projects {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("cron: optimize cancelled: %w", err)
		}
		if err := j.optimize(ctx, project); err != nil {
			j.logger().Warn("cron: project optimization failed", "project", project, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", project, err))
		}
	}
	return errors.Join(errs...)
}

// Optimize runs one project through the engine outside the schedule.
func (j *OptimizeJob) Optimize(ctx context.Context, project string) error {
	return j.optimize(ctx, project)
}

func (j *OptimizeJob) optimize(ctx context.Context, project string) error {
	snap, err := j.Store.Snapshot(ctx, project)
	if err != nil {
		return err
	}
	if j.Observer != nil {
		j.Observer.SetProjectTokens(project, snap.Total)
	}

	budget := j.Engine.Budget(snap.Items)
	if !budget.OverIdeal() {
		return nil
	}

	res, err := j.Engine.OptimizeScored(ctx, snap.Items, budget.Ideal)
	if err != nil {
		return err
	}
	if j.Observer != nil {
		j.Observer.ObserveOptimize(project, res)
	}
	if len(res.Applied) == 0 {
		return nil
	}

	// An edit made while the engine ran wins; the project is retried on
	// the next run.
	err = j.Store.ReplaceIf(ctx, project, res.Items, snap.Revision)
	if errors.Is(err, store.ErrConflict) {
		j.logger().Info("cron: project changed during optimization, skipping", "project", project)
		return nil
	}
	if err != nil {
		return err
	}
	if j.Observer != nil {
		j.Observer.SetProjectTokens(project, res.AfterTokens)
	}
	j.logger().Info("cron: project optimized",
		"project", project,
		"before", res.BeforeTokens,
		"after", res.AfterTokens,
		"target_reached", res.TargetReached,
	)
	return nil
}

func (j *OptimizeJob) logger() *slog.Logger {
	if j.Logger == nil {
		return slog.Default()
	}
	return j.Logger
}
