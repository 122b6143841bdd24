package shard

import (
	"errors"
	"fmt"

	"github.com/cuemby/canopy/pkg/commit"
	"github.com/cuemby/canopy/pkg/tree"
	"github.com/cuemby/canopy/pkg/types"
)

// ErrBoundaryDelete is recorded when a delete would remove a child shard
var ErrBoundaryDelete = errors.New("cannot delete a subtree containing a shard boundary")

// frame is one level of the cursor stack. A frame either routes through
// the local routing tree or forwards into a child shard's cursor.
type frame struct {
	route   *routingNode
	foreign *foreignContext
	// depth counts the levels entered on the foreign cursor below its
	// boundary
	depth int
}

// strategyCursor dispatches cursor operations to the local modification
// or, past a shard boundary, to the cursor of the owning child shard. The
// local tree cursor always follows the full path, boundaries included.
type strategyCursor struct {
	mod    *DataModification
	local  *tree.Cursor
	frames []frame
	base   int
	closed bool
}

func newStrategyCursor(mod *DataModification, rel types.Path) (*strategyCursor, error) {
	local, err := mod.local.CreateCursor(types.Path{})
	if err != nil {
		return nil, err
	}
	c := &strategyCursor{
		mod:    mod,
		local:  local,
		frames: []frame{{route: mod.topology.root}},
	}
	for _, arg := range rel {
		if err := c.enter(arg); err != nil {
			c.unwind()
			local.Close()
			return nil, err
		}
	}
	c.base = len(rel)
	return c, nil
}

func (c *strategyCursor) top() *frame {
	return &c.frames[len(c.frames)-1]
}

// Depth returns the levels entered since the cursor was opened
func (c *strategyCursor) Depth() int {
	return len(c.frames) - 1 - c.base
}

func (c *strategyCursor) path(arg types.PathArg) types.Path {
	return c.mod.shardID.Path.Concat(c.local.Path()).Append(arg)
}

// Enter moves the cursor down, crossing into child shards as needed
func (c *strategyCursor) Enter(args ...types.PathArg) error {
	if c.closed {
		return tree.ErrCursorClosed
	}
	for i, arg := range args {
		if err := c.enter(arg); err != nil {
			for j := 0; j < i; j++ {
				_ = c.pop()
			}
			return c.mod.record(err)
		}
	}
	return nil
}

func (c *strategyCursor) enter(arg types.PathArg) error {
	top := c.top()
	if err := c.local.Enter(arg); err != nil {
		return err
	}

	if top.foreign != nil {
		if err := top.foreign.cursor.Enter(arg); err != nil {
			_ = c.local.Exit(1)
			return err
		}
		c.frames = append(c.frames, frame{foreign: top.foreign, depth: top.depth + 1})
		return nil
	}

	next := top.route.child(arg)
	if next != nil && next.kind == routeBoundary {
		ctx, err := c.mod.foreignContext(next.shard)
		if err != nil {
			_ = c.local.Exit(1)
			return err
		}
		c.frames = append(c.frames, frame{foreign: ctx})
		return nil
	}
	c.frames = append(c.frames, frame{route: next})
	return nil
}

// Exit moves the cursor up n levels, leaving child shards it crossed into
func (c *strategyCursor) Exit(n int) error {
	if c.closed {
		return tree.ErrCursorClosed
	}
	if n < 0 || n > c.Depth() {
		return c.mod.record(commit.IllegalStatef("cannot exit %d levels from depth %d", n, c.Depth()))
	}
	for i := 0; i < n; i++ {
		if err := c.pop(); err != nil {
			return c.mod.record(err)
		}
	}
	return nil
}

func (c *strategyCursor) pop() error {
	top := c.top()
	if top.foreign != nil && top.depth > 0 {
		if err := top.foreign.cursor.Exit(1); err != nil {
			return err
		}
	}
	if err := c.local.Exit(1); err != nil {
		return err
	}
	c.frames = c.frames[:len(c.frames)-1]
	return nil
}

// Write replaces the child arg of the current position
func (c *strategyCursor) Write(arg types.PathArg, node *types.Node) error {
	if c.closed {
		return tree.ErrCursorClosed
	}
	return c.mod.record(c.write(arg, node, false))
}

// Merge overlays node onto the child arg of the current position
func (c *strategyCursor) Merge(arg types.PathArg, node *types.Node) error {
	if c.closed {
		return tree.ErrCursorClosed
	}
	return c.mod.record(c.write(arg, node, true))
}

// write splits node at every boundary below arg. Content owned by this
// shard goes to the local cursor, everything past a boundary goes to the
// child shard that owns it.
func (c *strategyCursor) write(arg types.PathArg, node *types.Node, merge bool) error {
	top := c.top()
	if top.foreign != nil {
		top.foreign.touched = true
		if merge {
			return top.foreign.cursor.Merge(arg, node)
		}
		return top.foreign.cursor.Write(arg, node)
	}

	route := top.route.child(arg)
	if route == nil {
		if merge {
			return c.local.Merge(arg, node)
		}
		return c.local.Write(arg, node)
	}
	if node == nil || node.IsLeaf() {
		return &tree.ValidationError{Path: c.path(arg), Reason: "a shard boundary lies below this node, it must be a container"}
	}
	if node.ID() != arg {
		return &tree.ValidationError{
			Path:   c.path(arg),
			Reason: fmt.Sprintf("node identifier %s does not match path argument %s", node.ID(), arg),
		}
	}

	if route.kind == routeInterior {
		owned := node
		for _, child := range node.Children() {
			if route.child(child.ID()) != nil {
				owned = owned.WithoutChild(child.ID())
			}
		}
		var err error
		if merge {
			err = c.local.Merge(arg, owned)
		} else {
			err = c.local.Write(arg, owned)
		}
		if err != nil {
			return err
		}
	}

	if err := c.enter(arg); err != nil {
		return err
	}
	err := c.writeChildren(route, node, merge)
	if popErr := c.pop(); err == nil {
		err = popErr
	}
	return err
}

func (c *strategyCursor) writeChildren(route *routingNode, node *types.Node, merge bool) error {
	if !merge {
		if route.kind == routeBoundary {
			// the boundary itself is the child shard's root, so a write
			// replaces its content child by child
			if err := c.replaceForeign(node); err != nil {
				return err
			}
		} else {
			for _, arg := range route.sortedChildren() {
				if _, named := node.Child(arg); named {
					continue
				}
				if err := c.clearRoute(arg, route.child(arg)); err != nil {
					return err
				}
			}
		}
	}

	for _, child := range node.Children() {
		if route.kind == routeInterior && route.child(child.ID()) == nil {
			continue
		}
		if err := c.write(child.ID(), child, merge); err != nil {
			return err
		}
	}
	return nil
}

// replaceForeign deletes the children of the current child shard root that
// node does not name. A nil node empties the root.
func (c *strategyCursor) replaceForeign(node *types.Node) error {
	ctx := c.top().foreign
	existing, ok, err := ctx.tx.Read(c.mod.shardID.Path.Concat(c.local.Path()))
	if err != nil || !ok {
		return err
	}
	for _, prev := range existing.Children() {
		if node != nil {
			if _, keep := node.Child(prev.ID()); keep {
				continue
			}
		}
		ctx.touched = true
		if err := ctx.cursor.Delete(prev.ID()); err != nil {
			return err
		}
	}
	return nil
}

// clearRoute empties every child shard reachable through the routing node
// at arg. It is how a replacing write removes content it leaves out.
func (c *strategyCursor) clearRoute(arg types.PathArg, route *routingNode) error {
	if err := c.enter(arg); err != nil {
		return err
	}
	var err error
	if route.kind == routeBoundary {
		err = c.replaceForeign(nil)
	} else {
		for _, next := range route.sortedChildren() {
			if err = c.clearRoute(next, route.child(next)); err != nil {
				break
			}
		}
	}
	if popErr := c.pop(); err == nil {
		err = popErr
	}
	return err
}

// Delete removes the child arg of the current position
func (c *strategyCursor) Delete(arg types.PathArg) error {
	if c.closed {
		return tree.ErrCursorClosed
	}
	top := c.top()
	if top.foreign != nil {
		top.foreign.touched = true
		return c.mod.record(top.foreign.cursor.Delete(arg))
	}
	if top.route.child(arg) != nil {
		return c.mod.record(fmt.Errorf("%w: %s", ErrBoundaryDelete, c.path(arg)))
	}
	return c.mod.record(c.local.Delete(arg))
}

func (c *strategyCursor) unwind() {
	for len(c.frames) > 1 {
		if err := c.pop(); err != nil {
			return
		}
	}
}

// Close returns every foreign cursor to its boundary and releases the
// local cursor
func (c *strategyCursor) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	c.unwind()
	c.local.Close()
	c.mod.cursor = nil
	return nil
}
