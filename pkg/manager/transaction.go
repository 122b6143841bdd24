package manager

import (
	"fmt"
	"sync"

	"github.com/cuemby/canopy/pkg/commit"
	"github.com/cuemby/canopy/pkg/shard"
	"github.com/cuemby/canopy/pkg/types"
	"github.com/google/uuid"
)

// Transaction spans every datastore kind. Each kind it writes gets a
// transaction on that kind's root shard, which in turn reaches the child
// shards below it; Commit runs all of them as one three-phase commit.
type Transaction struct {
	id       string
	m        *Manager
	readable bool
	alloc    func(types.DatastoreType) (*shard.WriteTransaction, error)
	finished func(*Transaction)

	mu    sync.Mutex
	txs   map[types.DatastoreType]*shard.WriteTransaction
	order []types.DatastoreType
	done  bool
}

// NewReadWriteTransaction allocates a read-write transaction
func (m *Manager) NewReadWriteTransaction() *Transaction {
	return m.newTransaction(true, func(kind types.DatastoreType) (*shard.WriteTransaction, error) {
		return m.roots[kind].NewReadWriteTransaction(), nil
	}, nil)
}

// NewWriteOnlyTransaction allocates a transaction that cannot read
func (m *Manager) NewWriteOnlyTransaction() *Transaction {
	return m.newTransaction(false, func(kind types.DatastoreType) (*shard.WriteTransaction, error) {
		return m.roots[kind].NewWriteOnlyTransaction(), nil
	}, nil)
}

func (m *Manager) newTransaction(readable bool, alloc func(types.DatastoreType) (*shard.WriteTransaction, error), finished func(*Transaction)) *Transaction {
	return &Transaction{
		id:       uuid.New().String(),
		m:        m,
		readable: readable,
		alloc:    alloc,
		finished: finished,
		txs:      make(map[types.DatastoreType]*shard.WriteTransaction),
	}
}

// ID returns the transaction identifier
func (t *Transaction) ID() string {
	return t.id
}

// shardTx returns the transaction on the root shard of kind, allocating
// it on first use
func (t *Transaction) shardTx(kind types.DatastoreType) (*shard.WriteTransaction, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, commit.IllegalStatef("transaction %s is already finished", t.id)
	}
	if _, ok := t.m.roots[kind]; !ok {
		return nil, fmt.Errorf("unknown datastore %q", kind)
	}
	if tx, ok := t.txs[kind]; ok {
		return tx, nil
	}
	tx, err := t.alloc(kind)
	if err != nil {
		return nil, err
	}
	t.txs[kind] = tx
	t.order = append(t.order, kind)
	return tx, nil
}

// Put replaces the node at path
func (t *Transaction) Put(kind types.DatastoreType, path types.Path, node *types.Node) error {
	tx, err := t.shardTx(kind)
	if err != nil {
		return err
	}
	return tx.Write(path, node)
}

// Merge overlays node onto the node at path
func (t *Transaction) Merge(kind types.DatastoreType, path types.Path, node *types.Node) error {
	tx, err := t.shardTx(kind)
	if err != nil {
		return err
	}
	return tx.Merge(path, node)
}

// Delete removes the node at path
func (t *Transaction) Delete(kind types.DatastoreType, path types.Path) error {
	tx, err := t.shardTx(kind)
	if err != nil {
		return err
	}
	return tx.Delete(path)
}

// Read returns the node at path including this transaction's own writes
func (t *Transaction) Read(kind types.DatastoreType, path types.Path) (*types.Node, bool, error) {
	if !t.readable {
		return nil, false, commit.IllegalStatef("transaction %s is write-only", t.id)
	}
	tx, err := t.shardTx(kind)
	if err != nil {
		return nil, false, err
	}
	return tx.Read(path)
}

func (t *Transaction) finish() ([]*shard.WriteTransaction, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.done {
		return nil, false
	}
	t.done = true
	txs := make([]*shard.WriteTransaction, 0, len(t.order))
	for _, kind := range t.order {
		txs = append(txs, t.txs[kind])
	}
	return txs, true
}

// Commit submits the transaction to the manager's commit executor, so
// transactions of one chain commit in order even when they touch
// different datastores.
func (t *Transaction) Commit() *commit.Future {
	txs, ok := t.finish()
	if !ok {
		return commit.CompletedFuture(commit.IllegalStatef("transaction %s is already finished", t.id))
	}
	defer t.release()

	if len(txs) == 0 {
		return commit.CompletedFuture(nil)
	}

	cohorts := make([]commit.Cohort, 0, len(txs))
	for _, tx := range txs {
		if err := tx.Ready(); err != nil {
			for _, other := range txs {
				_ = other.Close()
			}
			return commit.CompletedFuture(&commit.CommitFailedError{TxID: t.id, Phase: commit.PhaseCanCommit, Cause: err})
		}
		cohorts = append(cohorts, shard.CohortFor(tx))
	}
	t.m.logger.Debug().Str("tx_id", t.id).Int("datastores", len(txs)).Msg("submitting transaction")
	return t.m.coordinator.Submit(t.id, cohorts)
}

// Cancel abandons the transaction. Cancelling a finished transaction is a
// no-op.
func (t *Transaction) Cancel() {
	txs, ok := t.finish()
	if !ok {
		return
	}
	for _, tx := range txs {
		_ = tx.Close()
	}
	t.release()
}

func (t *Transaction) release() {
	if t.finished != nil {
		t.finished(t)
	}
}

// TransactionChain orders transactions across datastores. Each datastore
// kind gets its own shard chain, so a transaction sees the writes of its
// predecessor before that one has committed. Only one transaction may be
// open at a time.
type TransactionChain struct {
	m *Manager

	mu     sync.Mutex
	chains map[types.DatastoreType]*shard.Chain
	open   *Transaction
	closed bool
}

// NewTransactionChain creates a chain
func (m *Manager) NewTransactionChain() *TransactionChain {
	return &TransactionChain{m: m, chains: make(map[types.DatastoreType]*shard.Chain)}
}

// NewReadWriteTransaction allocates the next read-write transaction of the chain
func (c *TransactionChain) NewReadWriteTransaction() (*Transaction, error) {
	return c.next(true)
}

// NewWriteOnlyTransaction allocates the next write-only transaction
func (c *TransactionChain) NewWriteOnlyTransaction() (*Transaction, error) {
	return c.next(false)
}

func (c *TransactionChain) next(readable bool) (*Transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, shard.ErrChainClosed
	}
	if c.open != nil {
		return nil, commit.IllegalStatef("previous transaction %s is not ready yet", c.open.id)
	}
	tx := c.m.newTransaction(readable, func(kind types.DatastoreType) (*shard.WriteTransaction, error) {
		chain, err := c.chainFor(kind)
		if err != nil {
			return nil, err
		}
		if readable {
			return chain.NewReadWriteTransaction()
		}
		return chain.NewWriteOnlyTransaction()
	}, c.released)
	c.open = tx
	return tx, nil
}

func (c *TransactionChain) chainFor(kind types.DatastoreType) (*shard.Chain, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, shard.ErrChainClosed
	}
	chain, ok := c.chains[kind]
	if !ok {
		chain = c.m.roots[kind].NewTransactionChain()
		c.chains[kind] = chain
	}
	return chain, nil
}

// released is called once a transaction of the chain is submitted or
// cancelled; its shard transactions are ready or closed by then, so the
// next one may start
func (c *TransactionChain) released(tx *Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.open == tx {
		c.open = nil
	}
}

// Close shuts the chain down. Transactions already submitted still
// commit.
func (c *TransactionChain) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	chains := c.chains
	c.mu.Unlock()

	for _, chain := range chains {
		if err := chain.Close(); err != nil {
			return err
		}
	}
	return nil
}
