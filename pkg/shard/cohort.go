package shard

import (
	"context"
	"sync"

	"github.com/cuemby/canopy/pkg/commit"
	"github.com/cuemby/canopy/pkg/tree"
	"github.com/rs/zerolog"
)

type cohortState int

const (
	cohortOpen cohortState = iota
	cohortValidated
	cohortPrepared
	cohortCommitted
	cohortAborted
)

func (s cohortState) String() string {
	switch s {
	case cohortOpen:
		return "open"
	case cohortValidated:
		return "validated"
	case cohortPrepared:
		return "prepared"
	case cohortCommitted:
		return "committed"
	case cohortAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// localCohort commits the local modification of a transaction into the
// shard's tree
type localCohort struct {
	shard    *Shard
	txID     string
	mod      *tree.Modification
	readyErr error
	logger   zerolog.Logger

	mu        sync.Mutex
	state     cohortState
	candidate *tree.Candidate
}

func newLocalCohort(s *Shard, txID string, mod *tree.Modification, readyErr error) *localCohort {
	return &localCohort{
		shard:    s,
		txID:     txID,
		mod:      mod,
		readyErr: readyErr,
		logger:   s.logger.With().Str("tx_id", txID).Logger(),
	}
}

func (c *localCohort) expect(state cohortState, phase commit.Phase) error {
	if c.state != state {
		return commit.IllegalStatef("cohort of %s is %s, cannot run %s", c.txID, c.state, phase)
	}
	return nil
}

// CanCommit validates the modification against the current tree
func (c *localCohort) CanCommit(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(cohortOpen, commit.PhaseCanCommit); err != nil {
		return false, err
	}
	if c.readyErr != nil {
		return false, c.readyErr
	}

	if err := c.shard.tree.Validate(c.mod); err != nil {
		if tree.IsConflict(err) {
			c.logger.Debug().Err(err).Msg("optimistic lock failed")
			return false, &commit.OptimisticLockError{Cause: err}
		}
		return false, err
	}
	c.state = cohortValidated
	return true, nil
}

// PreCommit computes the candidate
func (c *localCohort) PreCommit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(cohortValidated, commit.PhasePreCommit); err != nil {
		return err
	}
	candidate, err := c.shard.tree.Prepare(c.mod)
	if err != nil {
		return err
	}
	c.candidate = candidate
	c.state = cohortPrepared
	return nil
}

// Commit persists the candidate when the shard has a store, installs it
// and hands it to the publisher
func (c *localCohort) Commit(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.expect(cohortPrepared, commit.PhaseCommit); err != nil {
		return err
	}

	candidate := c.candidate
	var persist func(*tree.Candidate) error
	if c.shard.store != nil && candidate.Root().Kind() != tree.Unmodified {
		persist = func(cand *tree.Candidate) error {
			return c.shard.store.ApplyCandidate(c.shard.id, cand)
		}
	}
	if err := c.shard.tree.CommitWith(candidate, persist); err != nil {
		return err
	}
	c.candidate = nil
	c.state = cohortCommitted
	c.shard.publisher.Publish(candidate)
	c.logger.Debug().Str("root", candidate.Root().Kind().String()).Msg("candidate committed")
	return nil
}

// Abort discards the candidate. Aborting a committed cohort is a no-op.
func (c *localCohort) Abort(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == cohortCommitted || c.state == cohortAborted {
		return nil
	}
	c.candidate = nil
	c.state = cohortAborted
	return nil
}

// foreignCohort drives a child shard transaction through the phases
type foreignCohort struct {
	tx ForeignTransaction
}

// CohortFor adapts a ready transaction to the cohort interface so another
// coordinator can commit it
func CohortFor(tx ForeignTransaction) commit.Cohort {
	return &foreignCohort{tx: tx}
}

func (c *foreignCohort) CanCommit(ctx context.Context) (bool, error) {
	if err := c.tx.Validate(ctx); err != nil {
		return false, err
	}
	return true, nil
}

func (c *foreignCohort) PreCommit(ctx context.Context) error {
	return c.tx.Prepare(ctx)
}

func (c *foreignCohort) Commit(ctx context.Context) error {
	return c.tx.Commit(ctx)
}

func (c *foreignCohort) Abort(ctx context.Context) error {
	return c.tx.Close()
}
