package tree

import (
	"fmt"

	"github.com/cuemby/canopy/pkg/types"
)

// Cursor issues operations relative to a movable position inside a
// modification. Operation errors are returned and also recorded on the
// modification.
type Cursor struct {
	mod    *Modification
	path   types.Path
	depth  int
	closed bool
}

// Path returns the current position relative to the modification root
func (c *Cursor) Path() types.Path {
	return c.path
}

// Depth returns the number of arguments entered since the cursor opened
func (c *Cursor) Depth() int {
	return c.depth
}

// Enter moves the cursor down. The target does not need to exist.
func (c *Cursor) Enter(args ...types.PathArg) error {
	if c.closed {
		return ErrCursorClosed
	}
	c.path = c.path.Append(args...)
	c.depth += len(args)
	return nil
}

// Exit moves the cursor up n levels
func (c *Cursor) Exit(n int) error {
	if c.closed {
		return ErrCursorClosed
	}
	if n < 0 || n > c.depth {
		return fmt.Errorf("cannot exit %d levels from depth %d", n, c.depth)
	}
	c.path = c.path[:len(c.path)-n]
	c.depth -= n
	return nil
}

// Write replaces the child arg of the current position
func (c *Cursor) Write(arg types.PathArg, n *types.Node) error {
	if c.closed {
		return ErrCursorClosed
	}
	return c.mod.Write(c.path.Append(arg), n)
}

// Merge overlays n onto the child arg of the current position
func (c *Cursor) Merge(arg types.PathArg, n *types.Node) error {
	if c.closed {
		return ErrCursorClosed
	}
	return c.mod.Merge(c.path.Append(arg), n)
}

// Delete removes the child arg of the current position
func (c *Cursor) Delete(arg types.PathArg) error {
	if c.closed {
		return ErrCursorClosed
	}
	return c.mod.Delete(c.path.Append(arg))
}

// ReadNode reads the child arg of the current position
func (c *Cursor) ReadNode(arg types.PathArg) (*types.Node, bool) {
	return c.mod.ReadNode(c.path.Append(arg))
}

// Close releases the cursor so the modification can be sealed
func (c *Cursor) Close() {
	if c.closed {
		return
	}
	c.closed = true
	c.mod.cursorOpen = false
}
