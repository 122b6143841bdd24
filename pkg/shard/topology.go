package shard

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/cuemby/canopy/pkg/events"
	"github.com/cuemby/canopy/pkg/types"
)

// ErrOverlappingShard is returned when a child shard would overlap another
var ErrOverlappingShard = errors.New("overlapping shard")

// ChildShard is what a parent shard needs from a shard attached below it
type ChildShard interface {
	ID() types.ShardID
	CreateProducer(prefixes []types.Path) (Producer, error)
	RegisterListener(path types.Path, listener events.Listener) (*events.Registration, error)
	Read(path types.Path) (*types.Node, bool, error)
}

// Producer creates transactions on a shard. Transactions created by one
// producer form a chain.
type Producer interface {
	CreateTransaction() (ForeignTransaction, error)
	Close() error
}

// ForeignTransaction is a shard transaction driven by a parent shard's
// commit instead of its own
type ForeignTransaction interface {
	ID() string
	CreateCursor(prefix types.Path) (WriteCursor, error)
	Read(path types.Path) (*types.Node, bool, error)
	Ready() error
	Validate(ctx context.Context) error
	Prepare(ctx context.Context) error
	Commit(ctx context.Context) error
	Close() error
}

// WriteCursor issues operations relative to a movable position. Enter and
// Exit calls must balance before the owning transaction becomes ready.
type WriteCursor interface {
	Enter(args ...types.PathArg) error
	Exit(n int) error
	Write(arg types.PathArg, node *types.Node) error
	Merge(arg types.PathArg, node *types.Node) error
	Delete(arg types.PathArg) error
	Depth() int
	Close() error
}

type routeKind int

const (
	// routeInterior nodes only lead towards boundaries deeper down
	routeInterior routeKind = iota
	// routeBoundary nodes are the root of a child shard
	routeBoundary
)

// routingNode is one step of the modification routing tree. Paths with no
// routing node are owned by the local shard.
type routingNode struct {
	kind     routeKind
	shard    ChildShard
	children map[types.PathArg]*routingNode
}

func (n *routingNode) child(arg types.PathArg) *routingNode {
	if n == nil {
		return nil
	}
	return n.children[arg]
}

// sortedChildren returns the routing arguments below n in path order
func (n *routingNode) sortedChildren() []types.PathArg {
	args := make([]types.PathArg, 0, len(n.children))
	for arg := range n.children {
		args = append(args, arg)
	}
	sort.Slice(args, func(i, j int) bool { return args[i].Less(args[j]) })
	return args
}

// Topology is the immutable set of child shards attached to a shard and
// the routing tree derived from it. Shards swap whole topologies; an
// in-flight transaction keeps the one it was allocated with.
type Topology struct {
	id       types.ShardID
	children []ChildShard
	root     *routingNode
}

// NewTopology builds the routing tree for the given children. Every child
// must be a strict descendant of id and no two children may nest.
func NewTopology(id types.ShardID, children ...ChildShard) (*Topology, error) {
	t := &Topology{
		id:   id,
		root: &routingNode{kind: routeInterior, children: map[types.PathArg]*routingNode{}},
	}
	for _, child := range children {
		if err := t.insert(child); err != nil {
			return nil, err
		}
		t.children = append(t.children, child)
	}
	return t, nil
}

func (t *Topology) insert(child ChildShard) error {
	cid := child.ID()
	if cid.Datastore != t.id.Datastore {
		return fmt.Errorf("child shard %s belongs to another datastore than %s", cid, t.id)
	}
	rel, ok := cid.Path.RelativeTo(t.id.Path)
	if !ok || rel.IsEmpty() {
		return fmt.Errorf("child shard %s is not below %s", cid, t.id)
	}

	node := t.root
	for i, arg := range rel {
		next, exists := node.children[arg]
		if exists && next.kind == routeBoundary {
			return fmt.Errorf("%w: %s is inside %s", ErrOverlappingShard, cid, next.shard.ID())
		}
		if i == len(rel)-1 {
			if exists {
				return fmt.Errorf("%w: %s contains an attached shard", ErrOverlappingShard, cid)
			}
			node.children[arg] = &routingNode{kind: routeBoundary, shard: child}
			return nil
		}
		if !exists {
			next = &routingNode{kind: routeInterior, children: map[types.PathArg]*routingNode{}}
			node.children[arg] = next
		}
		node = next
	}
	return nil
}

// ID returns the identifier of the shard owning this topology
func (t *Topology) ID() types.ShardID {
	return t.id
}

// Children returns the attached child shards in attach order
func (t *Topology) Children() []ChildShard {
	return append([]ChildShard(nil), t.children...)
}

// Lookup returns the child shard owning path, if the path lies at or
// below one of the boundaries
func (t *Topology) Lookup(path types.Path) (ChildShard, bool) {
	rel, ok := path.RelativeTo(t.id.Path)
	if !ok {
		return nil, false
	}
	node := t.root
	for _, arg := range rel {
		node = node.child(arg)
		if node == nil {
			return nil, false
		}
		if node.kind == routeBoundary {
			return node.shard, true
		}
	}
	return nil, false
}

// Under returns the child shards whose prefix lies strictly below path
func (t *Topology) Under(path types.Path) []ChildShard {
	var out []ChildShard
	for _, child := range t.children {
		cp := child.ID().Path
		if path.Contains(cp) && !path.Equal(cp) {
			out = append(out, child)
		}
	}
	return out
}

// Attach returns a topology with child added. Children already attached
// below the new child's prefix are removed from the result and returned so
// the caller can move them under the new shard.
func (t *Topology) Attach(child ChildShard) (*Topology, []ChildShard, error) {
	var kept, displaced []ChildShard
	for _, existing := range t.children {
		if existing.ID().Equal(child.ID()) {
			return nil, nil, fmt.Errorf("%w: %s is already attached", ErrOverlappingShard, child.ID())
		}
		if child.ID().Contains(existing.ID()) {
			displaced = append(displaced, existing)
			continue
		}
		kept = append(kept, existing)
	}
	next, err := NewTopology(t.id, append(kept, child)...)
	if err != nil {
		return nil, nil, err
	}
	return next, displaced, nil
}

// Detach returns a topology without the child id, adopting the given
// shards in its place
func (t *Topology) Detach(id types.ShardID, adopt ...ChildShard) (*Topology, error) {
	var kept []ChildShard
	found := false
	for _, existing := range t.children {
		if existing.ID().Equal(id) {
			found = true
			continue
		}
		kept = append(kept, existing)
	}
	if !found {
		return nil, fmt.Errorf("shard %s is not attached to %s", id, t.id)
	}
	return NewTopology(t.id, append(kept, adopt...)...)
}
