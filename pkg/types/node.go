package types

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/google/btree"
)

// ErrLeafParent is returned when a path descends through a leaf
var ErrLeafParent = errors.New("cannot descend into a leaf node")

const childDegree = 8

// cloneMu serializes btree.Clone, which swaps the copy-on-write context of
// the source tree and therefore must not run concurrently on one tree.
var cloneMu sync.Mutex

// Node is an immutable data tree node. A node is either a leaf carrying a
// scalar value or a container of uniquely identified children. Updates
// return new nodes that share every untouched child with the original, so
// pointer identity tells whether a subtree changed.
type Node struct {
	id       PathArg
	leaf     bool
	value    any
	children *btree.BTreeG[*Node]
}

func lessNode(a, b *Node) bool {
	return a.id.Less(b.id)
}

func newChildTree() *btree.BTreeG[*Node] {
	return btree.NewG[*Node](childDegree, lessNode)
}

func (n *Node) cloneChildren() *btree.BTreeG[*Node] {
	if n.children == nil {
		return newChildTree()
	}
	cloneMu.Lock()
	defer cloneMu.Unlock()
	return n.children.Clone()
}

// NewLeaf creates a leaf node
func NewLeaf(id PathArg, value any) *Node {
	return &Node{id: id, leaf: true, value: value}
}

// NewContainer creates a container node. Later children replace earlier
// ones with the same identifier.
func NewContainer(id PathArg, children ...*Node) *Node {
	t := newChildTree()
	for _, c := range children {
		if c != nil {
			t.ReplaceOrInsert(c)
		}
	}
	return &Node{id: id, children: t}
}

// ID returns the node identifier
func (n *Node) ID() PathArg {
	return n.id
}

// IsLeaf reports whether the node carries a scalar value
func (n *Node) IsLeaf() bool {
	return n.leaf
}

// Value returns the scalar value of a leaf, nil for containers
func (n *Node) Value() any {
	return n.value
}

// Len returns the number of children
func (n *Node) Len() int {
	if n.leaf || n.children == nil {
		return 0
	}
	return n.children.Len()
}

// Child looks up a direct child
func (n *Node) Child(arg PathArg) (*Node, bool) {
	if n == nil || n.leaf || n.children == nil {
		return nil, false
	}
	return n.children.Get(&Node{id: arg})
}

// Children returns the direct children in identifier order
func (n *Node) Children() []*Node {
	if n.leaf || n.children == nil {
		return nil
	}
	out := make([]*Node, 0, n.children.Len())
	n.children.Ascend(func(c *Node) bool {
		out = append(out, c)
		return true
	})
	return out
}

// WithChild returns a copy of the container with child inserted or replaced
func (n *Node) WithChild(child *Node) *Node {
	t := n.cloneChildren()
	t.ReplaceOrInsert(child)
	return &Node{id: n.id, children: t}
}

// WithoutChild returns a copy of the container without the given child.
// The receiver is returned unchanged when no such child exists.
func (n *Node) WithoutChild(arg PathArg) *Node {
	if _, ok := n.Child(arg); !ok {
		return n
	}
	t := n.cloneChildren()
	t.Delete(&Node{id: arg})
	return &Node{id: n.id, children: t}
}

// WithID returns a copy of the node under a different identifier
func (n *Node) WithID(id PathArg) *Node {
	if n.id == id {
		return n
	}
	if n.leaf {
		return NewLeaf(id, n.value)
	}
	return &Node{id: id, children: n.cloneChildren()}
}

// Equal compares two subtrees structurally
func (n *Node) Equal(other *Node) bool {
	if n == other {
		return true
	}
	if n == nil || other == nil {
		return false
	}
	if n.id != other.id || n.leaf != other.leaf {
		return false
	}
	if n.leaf {
		return reflect.DeepEqual(n.value, other.value)
	}
	if n.Len() != other.Len() {
		return false
	}
	for _, c := range n.Children() {
		oc, ok := other.Child(c.id)
		if !ok || !c.Equal(oc) {
			return false
		}
	}
	return true
}

func (n *Node) String() string {
	if n == nil {
		return "<nil>"
	}
	if n.leaf {
		return fmt.Sprintf("%s=%v", n.id, n.value)
	}
	return fmt.Sprintf("%s{%d children}", n.id, n.Len())
}

// NodeAt resolves rel beneath root
func NodeAt(root *Node, rel Path) (*Node, bool) {
	cur := root
	for _, arg := range rel {
		next, ok := cur.Child(arg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, cur != nil
}

// PutAt returns a copy of root with n stored at rel. Missing ancestors are
// created as empty containers. Writing the root itself returns n.
func PutAt(root *Node, rel Path, n *Node) (*Node, error) {
	if len(rel) == 0 {
		return n, nil
	}
	if root.IsLeaf() {
		return nil, fmt.Errorf("%w: %s", ErrLeafParent, root.id)
	}
	if len(rel) == 1 {
		return root.WithChild(n), nil
	}
	child, ok := root.Child(rel[0])
	if !ok {
		child = NewContainer(rel[0])
	}
	updated, err := PutAt(child, rel[1:], n)
	if err != nil {
		return nil, err
	}
	return root.WithChild(updated), nil
}

// DeleteAt returns a copy of root without the node at rel. Deleting a
// missing node is a no-op. Deleting the root yields an empty container.
func DeleteAt(root *Node, rel Path) *Node {
	if len(rel) == 0 {
		return NewContainer(root.id)
	}
	if len(rel) == 1 {
		return root.WithoutChild(rel[0])
	}
	child, ok := root.Child(rel[0])
	if !ok || child.IsLeaf() {
		return root
	}
	updated := DeleteAt(child, rel[1:])
	if updated == child {
		return root
	}
	return root.WithChild(updated)
}

// Merge overlays n onto existing. Containers merge child by child; any
// other combination replaces existing with n.
func Merge(existing, n *Node) *Node {
	if existing == nil || existing.IsLeaf() || n.IsLeaf() {
		return n
	}
	result := existing
	for _, c := range n.Children() {
		prev, _ := existing.Child(c.id)
		result = result.WithChild(Merge(prev, c))
	}
	return result
}

// FromValue converts decoded YAML/JSON into a node. Maps become
// containers whose keys are parsed as path arguments; everything else
// becomes a leaf.
func FromValue(id PathArg, v any) (*Node, error) {
	switch val := v.(type) {
	case map[string]any:
		return containerFromMap(id, len(val), func(yield func(string, any) error) error {
			for k, child := range val {
				if err := yield(k, child); err != nil {
					return err
				}
			}
			return nil
		})
	case map[any]any:
		return containerFromMap(id, len(val), func(yield func(string, any) error) error {
			for k, child := range val {
				if err := yield(fmt.Sprint(k), child); err != nil {
					return err
				}
			}
			return nil
		})
	case *Node:
		return val.WithID(id), nil
	default:
		return NewLeaf(id, val), nil
	}
}

func containerFromMap(id PathArg, size int, each func(func(string, any) error) error) (*Node, error) {
	children := make([]*Node, 0, size)
	err := each(func(k string, v any) error {
		arg, err := ParsePathArg(k)
		if err != nil {
			return err
		}
		child, err := FromValue(arg, v)
		if err != nil {
			return err
		}
		children = append(children, child)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return NewContainer(id, children...), nil
}

// ToValue converts a node into plain maps and scalars
func ToValue(n *Node) any {
	if n == nil {
		return nil
	}
	if n.leaf {
		return n.value
	}
	out := make(map[string]any, n.Len())
	for _, c := range n.Children() {
		out[c.id.String()] = ToValue(c)
	}
	return out
}

type nodeJSON struct {
	ID       string      `json:"id"`
	Value    any         `json:"value,omitempty"`
	Children []*nodeJSON `json:"children,omitempty"`
	Leaf     bool        `json:"leaf,omitempty"`
}

func toJSON(n *Node) *nodeJSON {
	out := &nodeJSON{ID: n.id.String(), Leaf: n.leaf, Value: n.value}
	for _, c := range n.Children() {
		out.Children = append(out.Children, toJSON(c))
	}
	return out
}

func fromJSON(j *nodeJSON) (*Node, error) {
	var id PathArg
	if j.ID != "" {
		arg, err := ParsePathArg(j.ID)
		if err != nil {
			return nil, err
		}
		id = arg
	}
	if j.Leaf {
		return NewLeaf(id, j.Value), nil
	}
	children := make([]*Node, 0, len(j.Children))
	for _, c := range j.Children {
		child, err := fromJSON(c)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
	}
	return NewContainer(id, children...), nil
}

// MarshalJSON encodes the subtree rooted at n
func (n *Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(toJSON(n))
}

// UnmarshalJSON decodes a subtree produced by MarshalJSON
func (n *Node) UnmarshalJSON(data []byte) error {
	var j nodeJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}
	decoded, err := fromJSON(&j)
	if err != nil {
		return err
	}
	*n = *decoded
	return nil
}
