package tree

import (
	"sort"

	"github.com/cuemby/canopy/pkg/types"
)

// ModificationType classifies how a node changed in a candidate
type ModificationType int

const (
	Unmodified ModificationType = iota
	// Write means the node was written, created or replaced as a whole
	Write
	// Delete means the node disappeared
	Delete
	// SubtreeModified means only some descendants changed
	SubtreeModified
)

func (t ModificationType) String() string {
	switch t {
	case Unmodified:
		return "unmodified"
	case Write:
		return "write"
	case Delete:
		return "delete"
	case SubtreeModified:
		return "subtree-modified"
	default:
		return "unknown"
	}
}

// Candidate is the immutable diff between the committed tree and the
// state a modification produces.
type Candidate struct {
	rootPath types.Path
	before   *types.Node
	after    *types.Node
	root     *CandidateNode
}

func newCandidate(rootPath types.Path, before, after *types.Node, written map[string]struct{}) *Candidate {
	return &Candidate{
		rootPath: rootPath,
		before:   before,
		after:    after,
		root:     newCandidateNode(types.Path{}, before, after, written),
	}
}

// RootPath returns the absolute path of the candidate root
func (c *Candidate) RootPath() types.Path {
	return c.rootPath
}

// Root returns the candidate node for the tree root
func (c *Candidate) Root() *CandidateNode {
	return c.root
}

// CandidateNode describes the change of one node. Children are computed
// on demand by comparing the before and after subtrees.
type CandidateNode struct {
	path    types.Path
	kind    ModificationType
	before  *types.Node
	after   *types.Node
	written map[string]struct{}
}

func newCandidateNode(path types.Path, before, after *types.Node, written map[string]struct{}) *CandidateNode {
	cn := &CandidateNode{path: path, before: before, after: after, written: written}
	switch {
	case before == after:
		cn.kind = Unmodified
	case before == nil:
		cn.kind = Write
	case after == nil:
		cn.kind = Delete
	case before.IsLeaf() || after.IsLeaf():
		cn.kind = Write
	default:
		if _, ok := written[path.String()]; ok {
			cn.kind = Write
		} else {
			cn.kind = SubtreeModified
		}
	}
	return cn
}

// Path returns the node path relative to the candidate root
func (n *CandidateNode) Path() types.Path {
	return n.path
}

// Identifier returns the last argument of the node path
func (n *CandidateNode) Identifier() types.PathArg {
	if n.after != nil {
		return n.after.ID()
	}
	if n.before != nil {
		return n.before.ID()
	}
	return n.path.Last()
}

// Kind returns the modification type
func (n *CandidateNode) Kind() ModificationType {
	return n.kind
}

// Before returns the node as committed, nil if it did not exist
func (n *CandidateNode) Before() *types.Node {
	return n.before
}

// After returns the node as it will be committed, nil if deleted
func (n *CandidateNode) After() *types.Node {
	return n.after
}

// ModifiedChild returns the change of a direct child, if any
func (n *CandidateNode) ModifiedChild(arg types.PathArg) (*CandidateNode, bool) {
	if n.kind == Unmodified {
		return nil, false
	}
	b, _ := n.before.Child(arg)
	a, _ := n.after.Child(arg)
	if b == a {
		return nil, false
	}
	return newCandidateNode(n.path.Append(arg), b, a, n.written), true
}

// Children returns the changed direct children in identifier order
func (n *CandidateNode) Children() []*CandidateNode {
	if n.kind == Unmodified {
		return nil
	}
	seen := make(map[types.PathArg]struct{})
	var args []types.PathArg
	for _, side := range []*types.Node{n.before, n.after} {
		if side == nil {
			continue
		}
		for _, c := range side.Children() {
			if _, ok := seen[c.ID()]; !ok {
				seen[c.ID()] = struct{}{}
				args = append(args, c.ID())
			}
		}
	}
	sort.Slice(args, func(i, j int) bool { return args[i].Less(args[j]) })

	var out []*CandidateNode
	for _, arg := range args {
		if child, ok := n.ModifiedChild(arg); ok {
			out = append(out, child)
		}
	}
	return out
}
