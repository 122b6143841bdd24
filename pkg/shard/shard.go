package shard

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/cuemby/canopy/pkg/commit"
	"github.com/cuemby/canopy/pkg/events"
	"github.com/cuemby/canopy/pkg/log"
	"github.com/cuemby/canopy/pkg/storage"
	"github.com/cuemby/canopy/pkg/tree"
	"github.com/cuemby/canopy/pkg/types"
	"github.com/rs/zerolog"
)

// Config configures a shard
type Config struct {
	ID types.ShardID
	// Store makes the shard persistent when set
	Store storage.Store
	// CommitQueueSize bounds the transactions waiting for the commit
	// executor
	CommitQueueSize int
	// NotificationQueueSize bounds the candidates waiting for listener
	// delivery
	NotificationQueueSize int
}

// Shard owns one subtree of a datastore. Commits run one at a time on the
// shard's executor; listener delivery runs on the publisher's own loop so
// slow listeners never hold up commits.
type Shard struct {
	id          types.ShardID
	tree        *tree.DataTree
	publisher   *events.Publisher
	executor    *commit.SerialExecutor
	coordinator *commit.Coordinator
	store       storage.Store
	logger      zerolog.Logger

	topologyMu sync.Mutex
	topology   atomic.Pointer[Topology]
	started    atomic.Bool
}

// New creates a shard, restoring its content from the store if it has one
func New(cfg Config) (*Shard, error) {
	if cfg.CommitQueueSize <= 0 {
		cfg.CommitQueueSize = 64
	}

	executor := commit.NewSerialExecutor(cfg.CommitQueueSize)
	s := &Shard{
		id:          cfg.ID,
		tree:        tree.NewDataTree(cfg.ID.Path),
		executor:    executor,
		coordinator: commit.NewCoordinator(executor),
		store:       cfg.Store,
		logger:      log.WithShard("shard", cfg.ID.String()),
	}
	s.publisher = events.NewPublisher(cfg.ID.Path, s, cfg.NotificationQueueSize)

	topology, err := NewTopology(cfg.ID)
	if err != nil {
		return nil, err
	}
	s.topology.Store(topology)

	if s.store != nil {
		root, err := s.store.LoadShard(cfg.ID)
		switch {
		case errors.Is(err, storage.ErrShardNotFound):
		case err != nil:
			return nil, fmt.Errorf("failed to load shard %s: %w", cfg.ID, err)
		default:
			if err := s.tree.Reset(root); err != nil {
				return nil, err
			}
			s.logger.Info().Int("children", root.Len()).Msg("shard restored from storage")
		}
	}
	return s, nil
}

// Start starts the commit executor and the notification loop
func (s *Shard) Start() {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.executor.Start()
	s.publisher.Start()
}

// Stop finishes queued commits and stops notification delivery
func (s *Shard) Stop() {
	s.executor.Stop()
	s.publisher.Stop()
	if s.started.Load() {
		<-s.publisher.Done()
	}
}

// ID returns the shard identifier
func (s *Shard) ID() types.ShardID {
	return s.id
}

// Persistent reports whether commits are written to a store
func (s *Shard) Persistent() bool {
	return s.store != nil
}

// Topology returns the current child shard topology
func (s *Shard) Topology() *Topology {
	return s.topology.Load()
}

// Attach routes the subtree of child to it. Children previously attached
// below the new child's prefix are detached and returned; the caller
// attaches them to the new child.
func (s *Shard) Attach(child ChildShard) ([]ChildShard, error) {
	s.topologyMu.Lock()
	defer s.topologyMu.Unlock()
	next, displaced, err := s.topology.Load().Attach(child)
	if err != nil {
		return nil, err
	}
	s.topology.Store(next)
	s.logger.Info().Str("child", child.ID().String()).Int("displaced", len(displaced)).Msg("child shard attached")
	return displaced, nil
}

// Detach stops routing to the child id, routing to adopt instead
func (s *Shard) Detach(id types.ShardID, adopt ...ChildShard) error {
	s.topologyMu.Lock()
	defer s.topologyMu.Unlock()
	next, err := s.topology.Load().Detach(id, adopt...)
	if err != nil {
		return err
	}
	s.topology.Store(next)
	s.logger.Info().Str("child", id.String()).Int("adopted", len(adopt)).Msg("child shard detached")
	return nil
}

// NewTransactionChain creates a chain over the whole shard
func (s *Shard) NewTransactionChain() *Chain {
	return newChain(s, nil, false)
}

// NewWriteOnlyTransaction allocates a standalone transaction
func (s *Shard) NewWriteOnlyTransaction() *WriteTransaction {
	tx, _ := newChain(s, nil, true).NewWriteOnlyTransaction()
	return tx
}

// NewReadWriteTransaction allocates a standalone transaction that can read
func (s *Shard) NewReadWriteTransaction() *WriteTransaction {
	tx, _ := newChain(s, nil, true).NewReadWriteTransaction()
	return tx
}

// CreateProducer returns a producer for transactions limited to prefixes
func (s *Shard) CreateProducer(prefixes []types.Path) (Producer, error) {
	for _, p := range prefixes {
		if !s.id.ContainsPath(p) {
			return nil, &tree.ValidationError{Path: p, Reason: "outside of shard " + s.id.String()}
		}
	}
	return &shardProducer{chain: newChain(s, prefixes, false)}, nil
}

// RegisterListener subscribes listener to committed changes at or below
// path. Registrations inside a child shard are held by that child.
func (s *Shard) RegisterListener(path types.Path, listener events.Listener) (*events.Registration, error) {
	return s.publisher.RegisterListener(path, listener)
}

// ChildFor returns the child shard owning path
func (s *Shard) ChildFor(path types.Path) (events.Registrar, bool) {
	child, ok := s.topology.Load().Lookup(path)
	if !ok {
		return nil, false
	}
	return child, true
}

// ChildrenUnder returns the child shards rooted strictly below path
func (s *Shard) ChildrenUnder(path types.Path) []events.Subshard {
	var out []events.Subshard
	for _, child := range s.topology.Load().Under(path) {
		out = append(out, events.Subshard{Path: child.ID().Path, Registrar: child})
	}
	return out
}

// ListenerCount returns the number of registrations held by this shard
func (s *Shard) ListenerCount() int {
	return s.publisher.ListenerCount()
}

// TakeSnapshot returns the committed local state
func (s *Shard) TakeSnapshot() *tree.Snapshot {
	return s.tree.TakeSnapshot()
}

// Read returns the committed node at path, including the content of child
// shards at or below it
func (s *Shard) Read(path types.Path) (*types.Node, bool, error) {
	rel, ok := path.RelativeTo(s.id.Path)
	if !ok {
		return nil, false, &tree.ValidationError{Path: path, Reason: "outside of shard " + s.id.String()}
	}
	topology := s.topology.Load()
	if child, ok := topology.Lookup(path); ok {
		return child.Read(path)
	}
	node, found := s.tree.TakeSnapshot().ReadNode(rel)
	return overlay(node, found, path, topology.Under(path), func(child ChildShard, p types.Path) (*types.Node, bool, error) {
		return child.Read(p)
	})
}
