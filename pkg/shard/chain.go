package shard

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cuemby/canopy/pkg/commit"
	"github.com/cuemby/canopy/pkg/metrics"
	"github.com/cuemby/canopy/pkg/tree"
	"github.com/cuemby/canopy/pkg/types"
	"github.com/google/uuid"
)

// ErrChainClosed is returned when allocating from a closed chain
var ErrChainClosed = errors.New("transaction chain is closed")

// ErrChainFailed is returned once a ready transaction of a chain was
// abandoned after a later transaction had been built on its writes
var ErrChainFailed = errors.New("transaction chain failed")

type chainState int

const (
	chainIdle chainState = iota
	chainAllocated
	chainFailed
	chainShutdown
)

// Chain allocates transactions that each build on the previous one. At
// most one transaction of a chain may be open; once it is ready, the next
// one reads its writes even before they are committed.
type Chain struct {
	id       string
	shard    *Shard
	prefixes []types.Path
	// ephemeral chains carry a single transaction and close with it
	ephemeral bool

	mu          sync.Mutex
	state       chainState
	latest      *WriteTransaction
	latestReady bool
	snapshot    *tree.Snapshot
	producers   map[string]Producer
	err         error
}

func newChain(s *Shard, prefixes []types.Path, ephemeral bool) *Chain {
	return &Chain{
		id:        uuid.New().String(),
		shard:     s,
		prefixes:  prefixes,
		ephemeral: ephemeral,
		producers: make(map[string]Producer),
	}
}

// ID returns the chain identifier
func (c *Chain) ID() string {
	return c.id
}

// NewWriteOnlyTransaction allocates a transaction that cannot read
func (c *Chain) NewWriteOnlyTransaction() (*WriteTransaction, error) {
	return c.newTransaction(false)
}

// NewReadWriteTransaction allocates a transaction that can read
func (c *Chain) NewReadWriteTransaction() (*WriteTransaction, error) {
	return c.newTransaction(true)
}

func (c *Chain) newTransaction(readable bool) (*WriteTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var snapshot *tree.Snapshot
	switch c.state {
	case chainShutdown:
		return nil, ErrChainClosed
	case chainFailed:
		return nil, c.err
	case chainAllocated:
		if !c.latestReady {
			return nil, commit.IllegalStatef("previous transaction %s is not ready yet", c.latest.id)
		}
		snapshot = c.snapshot
	default:
		snapshot = c.shard.tree.TakeSnapshot()
	}

	id := uuid.New().String()
	tx := &WriteTransaction{
		id:       id,
		shard:    c.shard,
		chain:    c,
		readable: readable,
		prefixes: c.prefixes,
		mod:      newDataModification(c.shard.id, id, c.shard.topology.Load(), snapshot, c),
	}
	if c.state == chainAllocated {
		tx.base = c.latest
	}
	c.state = chainAllocated
	c.latest = tx
	c.latestReady = false
	c.snapshot = nil

	metrics.TransactionsAllocated.WithLabelValues(c.shard.id.String()).Inc()
	return tx, nil
}

func (c *Chain) transactionReady(tx *WriteTransaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest != tx {
		return commit.IllegalStatef("transaction %s is not the latest of chain %s", tx.id, c.id)
	}
	c.latestReady = true
	c.snapshot = tx.mod.Snapshot()
	return nil
}

// transactionFinished returns the chain to idle when its latest
// transaction committed or was abandoned. Later transactions then start
// from the committed tree again.
func (c *Chain) transactionFinished(tx *WriteTransaction, committed bool) {
	c.mu.Lock()
	if !committed && c.latest != nil && c.latest != tx && c.dependsOn(c.latest, tx) {
		c.state = chainFailed
		c.err = fmt.Errorf("%w: transaction %s was abandoned after %s was built on it", ErrChainFailed, tx.id, c.latest.id)
	}
	tx.base = nil
	if c.latest == tx {
		c.latest = nil
		c.latestReady = false
		c.snapshot = nil
		if c.state == chainAllocated {
			c.state = chainIdle
		}
	}
	if c.ephemeral {
		c.state = chainShutdown
	}
	release := c.state == chainShutdown && c.latest == nil
	c.mu.Unlock()

	if !committed {
		c.shard.logger.Debug().Str("tx_id", tx.id).Str("chain", c.id).Msg("transaction abandoned")
	}
	if release {
		c.closeProducers()
	}
}

// dependsOn reports whether tx was built, directly or through other open
// transactions, on the writes of prev. The caller holds c.mu.
func (c *Chain) dependsOn(tx, prev *WriteTransaction) bool {
	for p := tx.base; p != nil; p = p.base {
		if p == prev {
			return true
		}
	}
	return false
}

// failure returns the error the chain failed with, if any
func (c *Chain) failure() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// builtOnPredecessor reports whether tx started from an uncommitted
// transaction of the chain
func (c *Chain) builtOnPredecessor(tx *WriteTransaction) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return tx.base != nil
}

// chainGuard votes no once the chain failed, so a transaction built on
// abandoned writes never commits
type chainGuard struct {
	chain *Chain
}

func (g chainGuard) CanCommit(ctx context.Context) (bool, error) {
	if err := g.chain.failure(); err != nil {
		return false, err
	}
	return true, nil
}

func (g chainGuard) PreCommit(ctx context.Context) error { return nil }

func (g chainGuard) Commit(ctx context.Context) error { return nil }

func (g chainGuard) Abort(ctx context.Context) error { return nil }

func (c *Chain) producerFor(child ChildShard) (Producer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := child.ID().String()
	if p, ok := c.producers[key]; ok {
		return p, nil
	}
	p, err := child.CreateProducer([]types.Path{child.ID().Path})
	if err != nil {
		return nil, err
	}
	c.producers[key] = p
	return p, nil
}

func (c *Chain) closeProducers() {
	c.mu.Lock()
	producers := c.producers
	c.producers = make(map[string]Producer)
	c.mu.Unlock()

	for key, p := range producers {
		if err := p.Close(); err != nil {
			c.shard.logger.Warn().Err(err).Str("child", key).Msg("failed to close producer")
		}
	}
}

// Close shuts the chain down. Producers on child shards are released once
// the outstanding transaction, if any, finishes.
func (c *Chain) Close() error {
	c.mu.Lock()
	if c.state == chainShutdown {
		c.mu.Unlock()
		return nil
	}
	c.state = chainShutdown
	release := c.latest == nil
	c.mu.Unlock()

	if release {
		c.closeProducers()
	}
	return nil
}

// shardProducer hands out transactions of one chain
type shardProducer struct {
	chain *Chain
}

func (p *shardProducer) CreateTransaction() (ForeignTransaction, error) {
	tx, err := p.chain.NewReadWriteTransaction()
	if err != nil {
		return nil, err
	}
	return tx, nil
}

func (p *shardProducer) Close() error {
	return p.chain.Close()
}
