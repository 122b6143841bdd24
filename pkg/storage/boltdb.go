package storage

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/cuemby/canopy/pkg/tree"
	"github.com/cuemby/canopy/pkg/types"
	bolt "go.etcd.io/bbolt"
)

// BoltStore implements Store using BoltDB. Each shard gets a bucket named
// after its identifier; every non-root node is one key, the shard-relative
// path, holding a JSON record.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) dataDir/canopy.db. It fails
// after a second if another process holds the file.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "canopy.db")

	db, err := bolt.Open(dbPath, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close closes the database
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func bucketName(id types.ShardID) []byte {
	return []byte(id.String())
}

// LoadShard rebuilds the tree of a shard. Keys sort parents before their
// descendants, so a single ordered pass suffices.
func (s *BoltStore) LoadShard(id types.ShardID) (*types.Node, error) {
	root := types.NewContainer(id.Path.Last())
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName(id))
		if b == nil {
			return ErrShardNotFound
		}
		return b.ForEach(func(k, v []byte) error {
			rel, err := types.ParsePath(string(k))
			if err != nil {
				return fmt.Errorf("corrupt key %q in shard %s: %w", k, id, err)
			}
			rec, err := decodeRecord(v)
			if err != nil {
				return fmt.Errorf("corrupt value at %s in shard %s: %w", rel, id, err)
			}

			var n *types.Node
			if rec.Leaf {
				n = types.NewLeaf(rel.Last(), rec.Value)
			} else if _, exists := types.NodeAt(root, rel); exists {
				return nil
			} else {
				n = types.NewContainer(rel.Last())
			}
			root, err = types.PutAt(root, rel, n)
			return err
		})
	})
	if err != nil {
		return nil, err
	}
	return root, nil
}

// ApplyCandidate persists a commit candidate in one bolt transaction
func (s *BoltStore) ApplyCandidate(id types.ShardID, candidate *tree.Candidate) error {
	if candidate.Root().Kind() == tree.Unmodified {
		return nil
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketName(id))
		if err != nil {
			return fmt.Errorf("failed to create bucket for shard %s: %w", id, err)
		}
		return applyNode(b, types.Path{}, candidate.Root())
	})
}

func applyNode(b *bolt.Bucket, rel types.Path, n *tree.CandidateNode) error {
	switch n.Kind() {
	case tree.Delete:
		return deleteSubtree(b, rel)
	case tree.Write:
		if err := deleteSubtree(b, rel); err != nil {
			return err
		}
		return putSubtree(b, rel, n.After())
	case tree.SubtreeModified:
		for _, child := range n.Children() {
			if err := applyNode(b, rel.Append(child.Identifier()), child); err != nil {
				return err
			}
		}
	}
	return nil
}

func putSubtree(b *bolt.Bucket, rel types.Path, n *types.Node) error {
	if len(rel) > 0 {
		data, err := encodeRecord(n)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(rel.String()), data); err != nil {
			return err
		}
	}
	for _, child := range n.Children() {
		if err := putSubtree(b, rel.Append(child.ID()), child); err != nil {
			return err
		}
	}
	return nil
}

// deleteSubtree removes the key for rel and every key below it
func deleteSubtree(b *bolt.Bucket, rel types.Path) error {
	prefix := []byte("/")
	if len(rel) > 0 {
		prefix = []byte(rel.String() + "/")
		if err := b.Delete([]byte(rel.String())); err != nil {
			return err
		}
	}

	var doomed [][]byte
	c := b.Cursor()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		doomed = append(doomed, append([]byte(nil), k...))
	}
	for _, k := range doomed {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// DeleteShard drops the bucket of a shard
func (s *BoltStore) DeleteShard(id types.ShardID) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		err := tx.DeleteBucket(bucketName(id))
		if errors.Is(err, bolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// ListShards returns the identifiers of all persisted shards
func (s *BoltStore) ListShards() ([]types.ShardID, error) {
	var ids []types.ShardID
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.ForEach(func(name []byte, _ *bolt.Bucket) error {
			id, err := types.ParseShardID(string(name))
			if err != nil {
				return fmt.Errorf("unexpected bucket %q: %w", name, err)
			}
			ids = append(ids, id)
			return nil
		})
	})
	return ids, err
}
