package shard

import (
	"github.com/cuemby/canopy/pkg/commit"
	"github.com/cuemby/canopy/pkg/tree"
	"github.com/cuemby/canopy/pkg/types"
)

// foreignContext is the per-transaction state of one child shard: the
// child's transaction and the cursor positioned at its root. It is
// created on first use and lives until the transaction is ready or closed.
type foreignContext struct {
	child   ChildShard
	tx      ForeignTransaction
	cursor  WriteCursor
	touched bool
}

// producerSource hands out the producer a transaction uses for a child
// shard. Chains cache one producer per child.
type producerSource interface {
	producerFor(child ChildShard) (Producer, error)
}

// DataModification aggregates the local tree modification of a
// transaction and the transactions it opened on child shards.
type DataModification struct {
	shardID   types.ShardID
	txID      string
	topology  *Topology
	local     *tree.Modification
	producers producerSource

	foreign map[string]*foreignContext
	order   []*foreignContext

	cursor *strategyCursor
	err    error
	ready  bool
}

func newDataModification(shardID types.ShardID, txID string, topology *Topology, snapshot *tree.Snapshot, producers producerSource) *DataModification {
	return &DataModification{
		shardID:   shardID,
		txID:      txID,
		topology:  topology,
		local:     snapshot.NewModification(),
		producers: producers,
		foreign:   make(map[string]*foreignContext),
	}
}

// record keeps the first operation error; canCommit reports it without
// consulting the tree
func (m *DataModification) record(err error) error {
	if err != nil && m.err == nil {
		m.err = err
	}
	return err
}

// Err returns the first recorded operation error
func (m *DataModification) Err() error {
	if m.err != nil {
		return m.err
	}
	return m.local.Err()
}

// CreateCursor opens the cursor of the transaction at an absolute prefix
func (m *DataModification) CreateCursor(prefix types.Path) (WriteCursor, error) {
	if m.ready {
		return nil, commit.IllegalStatef("transaction %s is ready", m.txID)
	}
	if m.cursor != nil {
		return nil, commit.IllegalStatef("transaction %s already has an open cursor", m.txID)
	}
	rel, ok := prefix.RelativeTo(m.shardID.Path)
	if !ok {
		return nil, &tree.ValidationError{Path: prefix, Reason: "outside of shard " + m.shardID.String()}
	}
	c, err := newStrategyCursor(m, rel)
	if err != nil {
		return nil, err
	}
	m.cursor = c
	return c, nil
}

func (m *DataModification) foreignContext(child ChildShard) (*foreignContext, error) {
	key := child.ID().String()
	if ctx, ok := m.foreign[key]; ok {
		return ctx, nil
	}

	producer, err := m.producers.producerFor(child)
	if err != nil {
		return nil, err
	}
	tx, err := producer.CreateTransaction()
	if err != nil {
		return nil, err
	}
	cursor, err := tx.CreateCursor(child.ID().Path)
	if err != nil {
		_ = tx.Close()
		return nil, err
	}

	ctx := &foreignContext{child: child, tx: tx, cursor: cursor}
	m.foreign[key] = ctx
	m.order = append(m.order, ctx)
	return ctx, nil
}

// Ready seals the aggregate and returns one cohort per touched shard: the
// local shard first, then child shards in the order they were first
// written to. Child transactions that were only read are closed.
func (m *DataModification) Ready(s *Shard) ([]commit.Cohort, error) {
	if m.ready {
		return nil, commit.IllegalStatef("transaction %s is already ready", m.txID)
	}
	if m.cursor != nil {
		if depth := m.cursor.Depth(); depth != 0 {
			return nil, commit.IllegalStatef("transaction %s has a cursor left at depth %d", m.txID, depth)
		}
		_ = m.cursor.Close()
	}
	if err := m.local.Ready(); err != nil {
		return nil, commit.IllegalStatef("transaction %s: %v", m.txID, err)
	}
	m.ready = true

	var foreign []commit.Cohort
	for _, ctx := range m.order {
		_ = ctx.cursor.Close()
		if !ctx.touched {
			_ = ctx.tx.Close()
			continue
		}
		if err := ctx.tx.Ready(); err != nil {
			m.record(err)
		}
		foreign = append(foreign, &foreignCohort{tx: ctx.tx})
	}

	var cohorts []commit.Cohort
	if !m.local.IsEmpty() || m.Err() != nil || len(foreign) == 0 {
		cohorts = append(cohorts, newLocalCohort(s, m.txID, m.local, m.Err()))
	}
	return append(cohorts, foreign...), nil
}

// Snapshot returns the state the local modification produces
func (m *DataModification) Snapshot() *tree.Snapshot {
	return m.local.Snapshot()
}

// CloseTransactions closes every child transaction without committing
func (m *DataModification) CloseTransactions() {
	if m.cursor != nil {
		_ = m.cursor.Close()
	}
	for _, ctx := range m.order {
		_ = ctx.cursor.Close()
		_ = ctx.tx.Close()
	}
}
