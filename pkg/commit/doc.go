/*
Package commit implements the cross-shard three-phase commit used by canopy
transactions.

A transaction that touched N shards yields N cohorts. The Coordinator runs
them through three barriers:

	canCommit   every cohort validates; any error or "no" vote fails the
	            transaction and no cohort is asked to preCommit
	preCommit   every cohort prepares its candidate; any failure stops
	            the transaction before commit
	commit      every cohort installs its candidate

Cohorts within a phase run concurrently on an errgroup; the first error is
wrapped in a CommitFailedError naming the phase. After any failure every
cohort is aborted (Abort is idempotent and ignored by cohorts that already
committed). Shards that committed before a later cohort failed stay
committed: callers must treat such a failure as indeterminate.

Submit hands the whole sequence to an Executor and returns a Future:

	coord := commit.NewCoordinator(executor)
	future := coord.Submit(txID, cohorts)
	if err := future.Wait(ctx); err != nil {
		if commit.IsRetryable(err) {
			// re-read and retry
		}
	}

A SerialExecutor gives a shard a strictly ordered commit stream.
*/
package commit
