package storage

import (
	"errors"

	"github.com/cuemby/canopy/pkg/tree"
	"github.com/cuemby/canopy/pkg/types"
)

// ErrShardNotFound is returned when a shard has no persisted state
var ErrShardNotFound = errors.New("shard not found in store")

// Store persists the committed state of shards. A persistent shard loads
// its tree on start and applies every commit candidate before installing
// it in memory.
type Store interface {
	// LoadShard returns the persisted root of a shard, or ErrShardNotFound
	LoadShard(id types.ShardID) (*types.Node, error)
	// ApplyCandidate writes the changes described by a commit candidate
	ApplyCandidate(id types.ShardID, candidate *tree.Candidate) error
	// DeleteShard drops all persisted state of a shard
	DeleteShard(id types.ShardID) error
	// ListShards returns every shard with persisted state
	ListShards() ([]types.ShardID, error)

	Close() error
}
