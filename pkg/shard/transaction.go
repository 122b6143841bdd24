package shard

import (
	"context"
	"sync"

	"github.com/cuemby/canopy/pkg/commit"
	"github.com/cuemby/canopy/pkg/tree"
	"github.com/cuemby/canopy/pkg/types"
)

type txState int

const (
	txOpen txState = iota
	txReady
	// txSubmitted transactions are committed by their own shard
	txSubmitted
	// txDriven transactions are committed by a parent's coordinator
	txDriven
	txDone
)

// WriteTransaction is a transaction on one shard. Writes under a child
// shard boundary are forwarded to transactions on that child; commit
// coordinates all of them.
type WriteTransaction struct {
	id       string
	shard    *Shard
	chain    *Chain
	readable bool
	prefixes []types.Path
	mod      *DataModification

	// base is the chain predecessor this transaction was built on while
	// that one was still uncommitted. Guarded by chain.mu.
	base *WriteTransaction

	mu         sync.Mutex
	state      txState
	cohorts    []commit.Cohort
	finishOnce sync.Once
}

// ID returns the transaction identifier
func (tx *WriteTransaction) ID() string {
	return tx.id
}

// Shard returns the shard the transaction was allocated on
func (tx *WriteTransaction) Shard() *Shard {
	return tx.shard
}

func (tx *WriteTransaction) checkOpen() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != txOpen {
		return commit.IllegalStatef("transaction %s is no longer open", tx.id)
	}
	return nil
}

// CreateCursor opens the transaction cursor at an absolute prefix. Only
// one cursor may be open at a time.
func (tx *WriteTransaction) CreateCursor(prefix types.Path) (WriteCursor, error) {
	if err := tx.checkOpen(); err != nil {
		return nil, err
	}
	if len(tx.prefixes) > 0 && !coveredBy(tx.prefixes, prefix) {
		return nil, &tree.ValidationError{Path: prefix, Reason: "outside of the producer prefixes"}
	}
	return tx.mod.CreateCursor(prefix)
}

func coveredBy(prefixes []types.Path, path types.Path) bool {
	for _, p := range prefixes {
		if p.Contains(path) {
			return true
		}
	}
	return false
}

// Write replaces the node at path
func (tx *WriteTransaction) Write(path types.Path, node *types.Node) error {
	return tx.withCursor(path, func(c WriteCursor, arg types.PathArg) error {
		return c.Write(arg, node)
	})
}

// Merge overlays node onto the node at path
func (tx *WriteTransaction) Merge(path types.Path, node *types.Node) error {
	return tx.withCursor(path, func(c WriteCursor, arg types.PathArg) error {
		return c.Merge(arg, node)
	})
}

// Delete removes the node at path
func (tx *WriteTransaction) Delete(path types.Path) error {
	return tx.withCursor(path, func(c WriteCursor, arg types.PathArg) error {
		return c.Delete(arg)
	})
}

func (tx *WriteTransaction) withCursor(path types.Path, fn func(WriteCursor, types.PathArg) error) error {
	if !tx.shard.id.Path.Contains(path) || len(path) == len(tx.shard.id.Path) {
		return &tree.ValidationError{Path: path, Reason: "path must lie strictly below shard " + tx.shard.id.String()}
	}
	c, err := tx.CreateCursor(path.Parent())
	if err != nil {
		return err
	}
	err = fn(c, path.Last())
	if closeErr := c.Close(); err == nil {
		err = closeErr
	}
	return err
}

// Read returns the node at path as this transaction sees it: committed
// state, earlier transactions of the chain and its own writes. Content of
// child shards below path is included.
func (tx *WriteTransaction) Read(path types.Path) (*types.Node, bool, error) {
	if !tx.readable {
		return nil, false, commit.IllegalStatef("transaction %s is write-only", tx.id)
	}
	if err := tx.checkOpen(); err != nil {
		return nil, false, err
	}
	if err := tx.chain.failure(); err != nil {
		return nil, false, err
	}
	rel, ok := path.RelativeTo(tx.shard.id.Path)
	if !ok {
		return nil, false, &tree.ValidationError{Path: path, Reason: "outside of shard " + tx.shard.id.String()}
	}

	read := func(child ChildShard, p types.Path) (*types.Node, bool, error) {
		ctx, err := tx.mod.foreignContext(child)
		if err != nil {
			return nil, false, err
		}
		return ctx.tx.Read(p)
	}
	if child, ok := tx.mod.topology.Lookup(path); ok {
		return read(child, path)
	}
	node, found := tx.mod.local.ReadNode(rel)
	return overlay(node, found, path, tx.mod.topology.Under(path), read)
}

// overlay adds the content of the child shards below path to node
func overlay(node *types.Node, found bool, path types.Path, children []ChildShard,
	read func(ChildShard, types.Path) (*types.Node, bool, error)) (*types.Node, bool, error) {
	if found && node.IsLeaf() {
		return node, true, nil
	}
	for _, child := range children {
		cp := child.ID().Path
		cn, ok, err := read(child, cp)
		if err != nil {
			return nil, false, err
		}
		if !ok {
			continue
		}
		if !found {
			node = types.NewContainer(path.Last())
			found = true
		}
		rel, _ := cp.RelativeTo(path)
		node, err = types.PutAt(node, rel, cn)
		if err != nil {
			return nil, false, err
		}
	}
	return node, found, nil
}

// Ready seals the transaction. In a chain, the next transaction is based
// on the state this one produces.
func (tx *WriteTransaction) Ready() error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != txOpen {
		return commit.IllegalStatef("transaction %s is already ready", tx.id)
	}
	cohorts, err := tx.mod.Ready(tx.shard)
	if err != nil {
		return err
	}
	if err := tx.chain.transactionReady(tx); err != nil {
		return err
	}
	if tx.chain.builtOnPredecessor(tx) {
		cohorts = append([]commit.Cohort{chainGuard{chain: tx.chain}}, cohorts...)
	}
	tx.cohorts = cohorts
	tx.state = txReady
	return nil
}

// Submit commits the transaction on the shard's executor, readying it
// first if needed
func (tx *WriteTransaction) Submit() *commit.Future {
	tx.mu.Lock()
	state := tx.state
	tx.mu.Unlock()
	if state == txOpen {
		if err := tx.Ready(); err != nil {
			_ = tx.Close()
			return commit.CompletedFuture(&commit.CommitFailedError{TxID: tx.id, Phase: commit.PhaseCanCommit, Cause: err})
		}
	}

	cohorts, err := tx.take(txReady, txSubmitted)
	if err != nil {
		return commit.CompletedFuture(err)
	}
	tx.shard.logger.Debug().Str("tx_id", tx.id).Int("cohorts", len(cohorts)).Msg("submitting transaction")
	return tx.shard.coordinator.Submit(tx.id, cohorts, func(err error) {
		tx.finish(err == nil)
	})
}

// take moves the transaction from one state to the next and returns its
// cohorts
func (tx *WriteTransaction) take(from, to txState) ([]commit.Cohort, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != from {
		return nil, commit.IllegalStatef("transaction %s is not ready", tx.id)
	}
	tx.state = to
	return tx.cohorts, nil
}

func (tx *WriteTransaction) driven() ([]commit.Cohort, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.state != txDriven {
		return nil, commit.IllegalStatef("transaction %s was not validated", tx.id)
	}
	return tx.cohorts, nil
}

// Validate runs canCommit on the transaction's cohorts. Validate, Prepare
// and Commit let a parent shard drive this transaction as one of its own
// cohorts.
func (tx *WriteTransaction) Validate(ctx context.Context) error {
	cohorts, err := tx.take(txReady, txDriven)
	if err != nil {
		return err
	}
	return commit.CanCommitAll(ctx, tx.id, cohorts)
}

// Prepare runs preCommit on the transaction's cohorts
func (tx *WriteTransaction) Prepare(ctx context.Context) error {
	cohorts, err := tx.driven()
	if err != nil {
		return err
	}
	return commit.PreCommitAll(ctx, tx.id, cohorts)
}

// Commit runs commit on the transaction's cohorts
func (tx *WriteTransaction) Commit(ctx context.Context) error {
	cohorts, err := tx.driven()
	if err != nil {
		return err
	}
	if err := commit.CommitAll(ctx, tx.id, cohorts); err != nil {
		return err
	}
	tx.finish(true)
	return nil
}

// Close abandons the transaction. Child transactions are closed and
// prepared cohorts aborted. Closing a finished transaction is a no-op.
func (tx *WriteTransaction) Close() error {
	tx.mu.Lock()
	state := tx.state
	cohorts := tx.cohorts
	tx.mu.Unlock()

	var err error
	switch state {
	case txDone, txSubmitted:
		return nil
	case txOpen:
		tx.mod.CloseTransactions()
	default:
		err = commit.AbortAll(context.Background(), tx.id, cohorts)
	}
	tx.finish(false)
	return err
}

func (tx *WriteTransaction) finish(committed bool) {
	tx.finishOnce.Do(func() {
		tx.mu.Lock()
		tx.state = txDone
		tx.mu.Unlock()
		tx.chain.transactionFinished(tx, committed)
	})
}
