package manager

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cuemby/canopy/pkg/commit"
	"github.com/cuemby/canopy/pkg/events"
	"github.com/cuemby/canopy/pkg/log"
	"github.com/cuemby/canopy/pkg/metrics"
	"github.com/cuemby/canopy/pkg/shard"
	"github.com/cuemby/canopy/pkg/storage"
	"github.com/cuemby/canopy/pkg/types"
	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/rs/zerolog"
)

var (
	// ErrShardConflict is returned when a shard is already registered at
	// the requested prefix
	ErrShardConflict = errors.New("shard already registered")

	// ErrShardNotFound is returned for unknown shard identifiers
	ErrShardNotFound = errors.New("shard not found")
)

// Health components reported by the manager
const (
	HealthComponent          = "datastore"
	PublisherHealthComponent = "publisher"
)

// Config holds configuration for creating a Manager
type Config struct {
	// DataDir holds the store of persistent shards. Without it only
	// in-memory shards can be registered.
	DataDir               string
	CommitQueueSize       int
	NotificationQueueSize int
}

// ShardOptions configures a registered shard
type ShardOptions struct {
	Persistent bool
}

// Manager owns the shards of every datastore. Each datastore kind has a
// root shard at the empty path; further shards are attached below it and
// receive the writes, reads and listeners for their subtree.
type Manager struct {
	cfg    Config
	store  storage.Store
	logger zerolog.Logger

	executor    *commit.SerialExecutor
	coordinator *commit.Coordinator

	mu      sync.Mutex
	shards  atomic.Pointer[iradix.Tree]
	roots   map[types.DatastoreType]*shard.Shard
	stopped atomic.Bool
}

// NewManager creates a manager with one root shard per datastore kind
func NewManager(cfg *Config) (*Manager, error) {
	m := &Manager{
		cfg:    *cfg,
		logger: log.WithComponent("manager"),
		roots:  make(map[types.DatastoreType]*shard.Shard),
	}
	m.shards.Store(iradix.New())

	if cfg.DataDir != "" {
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		store, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to create store: %w", err)
		}
		m.store = store
	}

	m.executor = commit.NewSerialExecutor(cfg.CommitQueueSize)
	m.coordinator = commit.NewCoordinator(m.executor)
	m.executor.Start()

	for _, kind := range types.DatastoreTypes {
		root, err := m.newShard(types.NewShardID(kind, types.Path{}), false)
		if err != nil {
			m.Shutdown()
			return nil, err
		}
		m.roots[kind] = root
		m.insert(root)
	}
	metrics.RegisterComponent(HealthComponent, true, fmt.Sprintf("%d datastores", len(m.roots)))
	metrics.RegisterComponent(PublisherHealthComponent, true, "delivering notifications")
	return m, nil
}

func (m *Manager) newShard(id types.ShardID, persistent bool) (*shard.Shard, error) {
	cfg := shard.Config{
		ID:                    id,
		CommitQueueSize:       m.cfg.CommitQueueSize,
		NotificationQueueSize: m.cfg.NotificationQueueSize,
	}
	if persistent {
		if m.store == nil {
			return nil, fmt.Errorf("shard %s is persistent but no data directory is configured", id)
		}
		cfg.Store = m.store
	}
	s, err := shard.New(cfg)
	if err != nil {
		return nil, err
	}
	s.Start()
	return s, nil
}

// key orders shards so that a longest-prefix match finds the owner of a
// path; the trailing separator keeps "/a/b" from matching "/a/bc"
func key(kind types.DatastoreType, path types.Path) []byte {
	if path.IsEmpty() {
		return []byte(string(kind) + ":/")
	}
	return []byte(string(kind) + ":" + path.String() + "/")
}

func (m *Manager) insert(s *shard.Shard) {
	id := s.ID()
	updated, _, _ := m.shards.Load().Insert(key(id.Datastore, id.Path), s)
	m.shards.Store(updated)
}

// owner returns the deepest shard whose prefix contains path
func (m *Manager) owner(kind types.DatastoreType, path types.Path) (*shard.Shard, error) {
	_, v, ok := m.shards.Load().Root().LongestPrefix(key(kind, path))
	if !ok {
		return nil, fmt.Errorf("unknown datastore %q", kind)
	}
	return v.(*shard.Shard), nil
}

// Shard returns the shard registered under id
func (m *Manager) Shard(id types.ShardID) (*shard.Shard, error) {
	v, ok := m.shards.Load().Get(key(id.Datastore, id.Path))
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrShardNotFound, id)
	}
	return v.(*shard.Shard), nil
}

// Shards lists every registered shard, parents before their children
func (m *Manager) Shards() []*shard.Shard {
	var out []*shard.Shard
	m.shards.Load().Root().Walk(func(_ []byte, v interface{}) bool {
		out = append(out, v.(*shard.Shard))
		return false
	})
	return out
}

// RegisterShard creates a shard at id and attaches it below the nearest
// registered ancestor. Shards of that ancestor lying below id move under
// the new shard.
func (m *Manager) RegisterShard(id types.ShardID, opts ShardOptions) (*shard.Shard, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.shards.Load().Get(key(id.Datastore, id.Path)); ok {
		return nil, fmt.Errorf("%w: %s", ErrShardConflict, id)
	}
	parent, err := m.owner(id.Datastore, id.Path)
	if err != nil {
		return nil, err
	}

	s, err := m.newShard(id, opts.Persistent)
	if err != nil {
		return nil, err
	}

	var moved []shard.ChildShard
	for _, child := range parent.Topology().Children() {
		if id.Contains(child.ID()) {
			moved = append(moved, child)
		}
	}
	for _, child := range moved {
		if _, err := s.Attach(child); err != nil {
			s.Stop()
			return nil, err
		}
	}
	if _, err := parent.Attach(s); err != nil {
		s.Stop()
		return nil, err
	}
	m.insert(s)

	m.logger.Info().
		Str("shard", id.String()).
		Str("parent", parent.ID().String()).
		Int("moved", len(moved)).
		Bool("persistent", opts.Persistent).
		Msg("shard registered")
	return s, nil
}

// RemoveShard detaches the shard at id. Its children are handed back to
// its parent. Root shards cannot be removed.
func (m *Manager) RemoveShard(id types.ShardID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if id.Path.IsEmpty() {
		return fmt.Errorf("cannot remove the root shard of %s", id.Datastore)
	}
	s, err := m.Shard(id)
	if err != nil {
		return err
	}
	parent, err := m.owner(id.Datastore, id.Path.Parent())
	if err != nil {
		return err
	}

	children := s.Topology().Children()
	if err := parent.Detach(id, children...); err != nil {
		return err
	}
	updated, _, _ := m.shards.Load().Delete(key(id.Datastore, id.Path))
	m.shards.Store(updated)
	s.Stop()

	m.logger.Info().
		Str("shard", id.String()).
		Str("parent", parent.ID().String()).
		Int("adopted", len(children)).
		Msg("shard removed")
	return nil
}

// Read returns the committed node at path
func (m *Manager) Read(kind types.DatastoreType, path types.Path) (*types.Node, bool, error) {
	owner, err := m.owner(kind, path)
	if err != nil {
		return nil, false, err
	}
	return owner.Read(path)
}

// RegisterListener subscribes listener to committed changes at or below
// path. The registration is held by the shard owning path.
func (m *Manager) RegisterListener(kind types.DatastoreType, path types.Path, listener events.Listener) (*events.Registration, error) {
	root, ok := m.roots[kind]
	if !ok {
		return nil, fmt.Errorf("unknown datastore %q", kind)
	}
	return root.RegisterListener(path, listener)
}

// Stats implements metrics.StatsSource
func (m *Manager) Stats() metrics.Stats {
	stats := metrics.Stats{ShardsByDatastore: make(map[string]int)}
	for _, s := range m.Shards() {
		stats.ShardsByDatastore[string(s.ID().Datastore)]++
		stats.Listeners += s.ListenerCount()
	}
	return stats
}

// Shutdown stops every shard, children first, and closes the store
func (m *Manager) Shutdown() error {
	if !m.stopped.CompareAndSwap(false, true) {
		return nil
	}
	metrics.UpdateComponent(HealthComponent, false, "shutting down")
	metrics.UpdateComponent(PublisherHealthComponent, false, "shutting down")
	if m.executor != nil {
		m.executor.Stop()
	}
	shards := m.Shards()
	for i := len(shards) - 1; i >= 0; i-- {
		shards[i].Stop()
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("failed to close store: %w", err)
		}
	}
	m.logger.Info().Int("shards", len(shards)).Msg("manager stopped")
	return nil
}
