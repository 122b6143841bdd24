package commit

import "context"

// Cohort is one participant of a three-phase commit, one per shard touched
// by a transaction. Methods block until the participant has finished the
// phase; the coordinator runs them concurrently and treats the returned
// error as the participant's result.
type Cohort interface {
	// CanCommit validates the participant's changes. A false vote without
	// an error fails the transaction with ErrCanCommitRejected.
	CanCommit(ctx context.Context) (bool, error)
	// PreCommit prepares the changes so that Commit cannot fail on
	// validation grounds.
	PreCommit(ctx context.Context) error
	// Commit makes the prepared changes visible.
	Commit(ctx context.Context) error
	// Abort discards prepared state. It must be idempotent and is a no-op
	// after a successful Commit.
	Abort(ctx context.Context) error
}
