/*
Package shard implements a shard: the owner of one subtree of a datastore,
with transactions that may reach into child shards attached below it.

# Topology

A shard routes writes with an immutable Topology built from its attached
children. The routing tree has an interior node for every path segment
that leads towards a child and a boundary node where a child's prefix
ends; any path without a routing node belongs to the shard itself:

	root shard "/"            child shard "/a/b"
	  /a        interior
	  /a/x      local
	  /a/b      boundary  ->  root of the child
	  /a/b/y              ->  /y in the child

Attach and Detach swap the whole topology atomically. A transaction keeps
the topology it was allocated with.

# Transactions

Every transaction owns a DataModification: the local tree modification
plus, for each child it touches, a transaction on that child created
through a producer. A single cursor walks the namespace; crossing a
boundary forwards the following operations into the child's cursor:

	c, _ := tx.CreateCursor(types.MustParsePath("/"))
	c.Enter(types.Arg("a"))
	c.Write(types.Arg("x"), node)    // local
	c.Enter(types.Arg("b"))
	c.Write(types.Arg("y"), node)    // child shard
	c.Exit(2)
	c.Close()

Writing a whole subtree that crosses a boundary splits it: the local part
is written here and each boundary's content is written child by child in
the child shard. Deleting anything that contains a boundary is an error.

Ready requires the cursor to be back at the depth it was opened at. It
returns one cohort per touched shard, the local one first and children in
the order they were first written. Submit runs the cohorts through the
three commit phases on the shard's serial executor. A parent drives a
child transaction through Validate, Prepare and Commit instead.

# Chains

A Chain allows one open transaction at a time. Allocating the next one
before the previous is ready fails with commit.ErrIllegalState; once it
is ready, the next transaction starts from its result, including what it
wrote in child shards, since a chain keeps one producer per child. If a
ready transaction is abandoned or fails after its successor was built on
it, the chain fails with ErrChainFailed. Standalone transactions are
chains of one.

# Errors

Operation errors are returned and recorded; the first one makes the local
cohort vote no without consulting the tree. Concurrent modifications
surface as commit.OptimisticLockError, which callers may retry.
*/
package shard
