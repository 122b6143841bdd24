package tree

import (
	"errors"

	"github.com/cuemby/canopy/pkg/types"
)

type opKind int

const (
	opWrite opKind = iota
	opMerge
	opDelete
)

type operation struct {
	kind opKind
	path types.Path
	node *types.Node
}

// Modification accumulates writes against a snapshot. It is owned by a
// single goroutine until Ready is called; afterwards it is read-only.
type Modification struct {
	rootPath types.Path
	base     *types.Node
	working  *types.Node
	ops      []operation
	written  map[string]struct{}

	err        error
	sealed     bool
	cursorOpen bool
}

// RootPath returns the absolute path the modification is rooted at
func (m *Modification) RootPath() types.Path {
	return m.rootPath
}

// Err returns the first operation error recorded against the modification
func (m *Modification) Err() error {
	return m.err
}

// IsReady reports whether Ready has been called
func (m *Modification) IsReady() bool {
	return m.sealed
}

// IsEmpty reports whether no operation has been applied
func (m *Modification) IsEmpty() bool {
	return len(m.ops) == 0
}

// Write replaces the node at rel
func (m *Modification) Write(rel types.Path, n *types.Node) error {
	return m.apply(operation{kind: opWrite, path: rel, node: n})
}

// Merge overlays n onto the node at rel
func (m *Modification) Merge(rel types.Path, n *types.Node) error {
	return m.apply(operation{kind: opMerge, path: rel, node: n})
}

// Delete removes the node at rel
func (m *Modification) Delete(rel types.Path) error {
	return m.apply(operation{kind: opDelete, path: rel})
}

// ReadNode reads through the modification, observing its own writes
func (m *Modification) ReadNode(rel types.Path) (*types.Node, bool) {
	return types.NodeAt(m.working, rel)
}

// Ready seals the modification
func (m *Modification) Ready() error {
	if m.sealed {
		return ErrSealed
	}
	if m.cursorOpen {
		return ErrCursorOpen
	}
	m.sealed = true
	return nil
}

// Snapshot returns a snapshot of the modified state. Transaction chains
// base the next modification on it before anything is committed.
func (m *Modification) Snapshot() *Snapshot {
	return &Snapshot{rootPath: m.rootPath, root: m.working}
}

// CreateCursor opens a cursor positioned at rel
func (m *Modification) CreateCursor(rel types.Path) (*Cursor, error) {
	if m.sealed {
		return nil, ErrSealed
	}
	if m.cursorOpen {
		return nil, ErrCursorOpen
	}
	m.cursorOpen = true
	return &Cursor{mod: m, path: rel.Append()}, nil
}

func (m *Modification) apply(op operation) error {
	if m.sealed {
		return ErrSealed
	}
	op.path = op.path.Append()
	updated, err := applyOperation(m.rootPath, m.working, op)
	if err != nil {
		m.record(err)
		return err
	}
	m.working = updated
	m.ops = append(m.ops, op)
	if op.kind == opWrite {
		m.written[op.path.String()] = struct{}{}
	}
	return nil
}

func (m *Modification) record(err error) {
	if m.err == nil {
		m.err = err
	}
}

// replay applies the recorded operations onto another root
func (m *Modification) replay(root *types.Node) (*types.Node, error) {
	var err error
	for _, op := range m.ops {
		root, err = applyOperation(m.rootPath, root, op)
		if err != nil {
			return nil, err
		}
	}
	return root, nil
}

func applyOperation(rootPath types.Path, root *types.Node, op operation) (*types.Node, error) {
	abs := rootPath.Concat(op.path)

	if op.kind == opDelete {
		return types.DeleteAt(root, op.path), nil
	}
	if op.node == nil {
		return nil, &ValidationError{Path: abs, Reason: "nil node"}
	}

	n := op.node
	if len(op.path) == 0 {
		if n.IsLeaf() {
			return nil, &ValidationError{Path: abs, Reason: "tree root must be a container"}
		}
		n = n.WithID(root.ID())
	} else if n.ID() != op.path.Last() {
		return nil, &ValidationError{
			Path:   abs,
			Reason: "node identifier " + n.ID().String() + " does not match path argument " + op.path.Last().String(),
		}
	}

	if op.kind == opMerge {
		existing, _ := types.NodeAt(root, op.path)
		n = types.Merge(existing, n)
	}

	updated, err := types.PutAt(root, op.path, n)
	if err != nil {
		reason := "cannot store node"
		if errors.Is(err, types.ErrLeafParent) {
			reason = "parent is a leaf"
		}
		return nil, &ValidationError{Path: abs, Reason: reason, Err: err}
	}
	return updated, nil
}
