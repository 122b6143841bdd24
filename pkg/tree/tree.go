package tree

import (
	"fmt"
	"sync"

	"github.com/cuemby/canopy/pkg/types"
)

// DataTree holds the committed state of one shard. The root is always a
// container identified by the last argument of the shard prefix.
type DataTree struct {
	mu       sync.RWMutex
	rootPath types.Path
	root     *types.Node
}

// NewDataTree creates an empty tree rooted at rootPath
func NewDataTree(rootPath types.Path) *DataTree {
	return &DataTree{
		rootPath: rootPath,
		root:     types.NewContainer(rootPath.Last()),
	}
}

// RootPath returns the absolute path of the tree root
func (t *DataTree) RootPath() types.Path {
	return t.rootPath
}

// Reset replaces the committed state, used when loading from storage
func (t *DataTree) Reset(root *types.Node) error {
	if root == nil {
		root = types.NewContainer(t.rootPath.Last())
	}
	if root.IsLeaf() {
		return &ValidationError{Path: t.rootPath, Reason: "tree root must be a container"}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.root = root.WithID(t.rootPath.Last())
	return nil
}

// TakeSnapshot captures the current committed state
func (t *DataTree) TakeSnapshot() *Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return &Snapshot{rootPath: t.rootPath, root: t.root}
}

// Validate checks a ready modification against the current state. It
// returns a *ConflictError when a concurrent commit touched the same data
// and a *ValidationError when the modification no longer applies.
func (t *DataTree) Validate(mod *Modification) error {
	if !mod.sealed {
		return ErrNotReady
	}
	t.mu.RLock()
	current := t.root
	t.mu.RUnlock()

	if current == mod.base {
		return nil
	}
	for _, op := range mod.ops {
		if err := t.checkConflict(current, mod.base, op.path); err != nil {
			return err
		}
	}
	_, err := mod.replay(current)
	return err
}

func (t *DataTree) checkConflict(current, base *types.Node, rel types.Path) error {
	// every ancestor the modification saw must still exist
	for i := 1; i < len(rel); i++ {
		prefix := rel[:i]
		if _, inBase := types.NodeAt(base, prefix); !inBase {
			break
		}
		if _, inCurrent := types.NodeAt(current, prefix); !inCurrent {
			return &ConflictError{Path: t.rootPath.Concat(prefix), Reason: "node was deleted by another transaction"}
		}
	}

	before, _ := types.NodeAt(base, rel)
	now, _ := types.NodeAt(current, rel)
	if before != now {
		return &ConflictError{Path: t.rootPath.Concat(rel), Reason: "node was modified by another transaction"}
	}
	return nil
}

// Prepare computes the candidate that committing mod would produce
func (t *DataTree) Prepare(mod *Modification) (*Candidate, error) {
	if !mod.sealed {
		return nil, ErrNotReady
	}
	t.mu.RLock()
	current := t.root
	t.mu.RUnlock()

	after := mod.working
	if current != mod.base {
		replayed, err := mod.replay(current)
		if err != nil {
			return nil, err
		}
		after = replayed
	}
	return newCandidate(t.rootPath, current, after, mod.written), nil
}

// Commit installs a prepared candidate. It fails when the tree moved
// since the candidate was prepared.
func (t *DataTree) Commit(c *Candidate) error {
	return t.CommitWith(c, nil)
}

// CommitWith installs a prepared candidate after persist accepted it.
// persist runs under the tree lock, only once the candidate is known to
// apply, so a rejected candidate is never persisted and a failed persist
// leaves the tree as it was.
func (t *DataTree) CommitWith(c *Candidate, persist func(*Candidate) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root != c.before {
		return &ConflictError{Path: t.rootPath, Reason: "tree changed after the candidate was prepared"}
	}
	if persist != nil {
		if err := persist(c); err != nil {
			return err
		}
	}
	t.root = c.after
	return nil
}

// Snapshot is an immutable view of a tree
type Snapshot struct {
	rootPath types.Path
	root     *types.Node
}

// RootPath returns the absolute path of the snapshot root
func (s *Snapshot) RootPath() types.Path {
	return s.rootPath
}

// Root returns the root node
func (s *Snapshot) Root() *types.Node {
	return s.root
}

// ReadNode resolves a path relative to the snapshot root
func (s *Snapshot) ReadNode(rel types.Path) (*types.Node, bool) {
	return types.NodeAt(s.root, rel)
}

// NewModification starts a modification based on this snapshot
func (s *Snapshot) NewModification() *Modification {
	return &Modification{
		rootPath: s.rootPath,
		base:     s.root,
		working:  s.root,
		written:  make(map[string]struct{}),
	}
}

func (s *Snapshot) String() string {
	return fmt.Sprintf("snapshot(%s)", s.rootPath)
}
