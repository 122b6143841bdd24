package commit

import (
	"context"
	"errors"
	"fmt"

	"github.com/cuemby/canopy/pkg/log"
	"github.com/cuemby/canopy/pkg/metrics"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Coordinator drives canCommit, preCommit and commit across the cohorts
// of a transaction. Each phase is a barrier: no cohort starts phase N+1
// before every cohort finished phase N. There is no cross-shard rollback;
// a failure after some cohorts committed leaves them committed.
type Coordinator struct {
	executor Executor
	logger   zerolog.Logger
}

// NewCoordinator creates a coordinator that runs submit tasks on executor
func NewCoordinator(executor Executor) *Coordinator {
	return &Coordinator{
		executor: executor,
		logger:   log.WithComponent("coordinator"),
	}
}

// Submit schedules the commit of cohorts and returns immediately. Hooks
// observe the outcome before the future completes.
func (c *Coordinator) Submit(txID string, cohorts []Cohort, hooks ...func(error)) *Future {
	f := newFuture()
	finish := func(err error) {
		for _, hook := range hooks {
			hook(err)
		}
		f.complete(err)
	}
	err := c.executor.Execute(func() {
		finish(c.Run(context.Background(), txID, cohorts))
	})
	if err != nil {
		_ = AbortAll(context.Background(), txID, cohorts)
		finish(&CommitFailedError{TxID: txID, Phase: PhaseCanCommit, Cause: err})
	}
	return f
}

// Run is the submit task: the three phases in strict sequence, aborting
// every cohort when any phase fails.
func (c *Coordinator) Run(ctx context.Context, txID string, cohorts []Cohort) error {
	logger := log.WithTransaction(c.logger, txID)
	timer := metrics.NewTimer()
	metrics.CommitCohorts.Observe(float64(len(cohorts)))

	steps := []func(context.Context, string, []Cohort) error{CanCommitAll, PreCommitAll, CommitAll}
	for _, step := range steps {
		if err := step(ctx, txID, cohorts); err != nil {
			phase, _ := FailedPhase(err)
			logger.Warn().Err(err).Str("phase", string(phase)).Int("cohorts", len(cohorts)).Msg("commit failed, aborting cohorts")
			if abortErr := AbortAll(context.Background(), txID, cohorts); abortErr != nil {
				logger.Error().Err(abortErr).Msg("abort failed")
			}
			if IsRetryable(err) {
				metrics.CommitsTotal.WithLabelValues("conflict").Inc()
			} else {
				metrics.CommitsTotal.WithLabelValues("failed").Inc()
			}
			return err
		}
	}

	timer.ObserveDuration(metrics.CommitDuration)
	metrics.CommitsTotal.WithLabelValues("success").Inc()
	logger.Debug().Int("cohorts", len(cohorts)).Dur("duration", timer.Duration()).Msg("transaction committed")
	return nil
}

// CanCommitAll asks every cohort to vote
func CanCommitAll(ctx context.Context, txID string, cohorts []Cohort) error {
	return runPhase(ctx, txID, PhaseCanCommit, cohorts, func(ctx context.Context, cohort Cohort) error {
		ok, err := cohort.CanCommit(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return ErrCanCommitRejected
		}
		return nil
	})
}

// PreCommitAll prepares every cohort
func PreCommitAll(ctx context.Context, txID string, cohorts []Cohort) error {
	return runPhase(ctx, txID, PhasePreCommit, cohorts, func(ctx context.Context, cohort Cohort) error {
		return cohort.PreCommit(ctx)
	})
}

// CommitAll commits every cohort
func CommitAll(ctx context.Context, txID string, cohorts []Cohort) error {
	return runPhase(ctx, txID, PhaseCommit, cohorts, func(ctx context.Context, cohort Cohort) error {
		return cohort.Commit(ctx)
	})
}

// AbortAll aborts every cohort and joins all failures. Unlike the other
// phases it never stops early.
func AbortAll(ctx context.Context, txID string, cohorts []Cohort) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CommitPhaseDuration, string(PhaseAbort))

	errs := make([]error, len(cohorts))
	var g errgroup.Group
	for i, cohort := range cohorts {
		i, cohort := i, cohort
		g.Go(func() error {
			errs[i] = invoke(ctx, cohort, func(ctx context.Context, cohort Cohort) error {
				return cohort.Abort(ctx)
			})
			return nil
		})
	}
	_ = g.Wait()

	if err := errors.Join(errs...); err != nil {
		return &CommitFailedError{TxID: txID, Phase: PhaseAbort, Cause: err}
	}
	return nil
}

func runPhase(ctx context.Context, txID string, phase Phase, cohorts []Cohort, fn func(context.Context, Cohort) error) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDurationVec(metrics.CommitPhaseDuration, string(phase))

	if err := ctx.Err(); err != nil {
		return &CommitFailedError{TxID: txID, Phase: phase, Cause: err}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, cohort := range cohorts {
		cohort := cohort
		g.Go(func() error {
			return invoke(gctx, cohort, fn)
		})
	}
	if err := g.Wait(); err != nil {
		return &CommitFailedError{TxID: txID, Phase: phase, Cause: err}
	}
	return nil
}

// invoke turns a panicking cohort into a failed result
func invoke(ctx context.Context, cohort Cohort, fn func(context.Context, Cohort) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cohort panicked: %v", r)
		}
	}()
	return fn(ctx, cohort)
}
