/*
Package events delivers data change notifications for a shard.

A Publisher keeps listener registrations keyed by the absolute path of the
subtree they watch. After a local commit the shard hands the commit
candidate to Publish; the delivery loop walks the candidate from its root,
following only changed children that still have registrations at or below
them, and calls each matching listener once with every change under its
path:

	reg, err := shard.RegisterListener(types.MustParsePath("/network"),
		events.ListenerFunc(func(changes []events.Change) {
			for _, c := range changes {
				fmt.Println(c.Kind, c.Path)
			}
		}))
	defer reg.Close()

Changes are listed in pre-order. A node that was written or deleted as a
whole is reported once with its full Before and After subtrees; a node
whose descendants changed is reported as subtree-modified followed by the
changed descendants.

Registrations under a child shard boundary are handed to the child shard at
registration time, so the parent's delivery loop never sees them. A
registration above a boundary also subscribes the listener at the root of
each child shard below it; the child's commits then reach the listener
from the child's own delivery loop, in their own batches.

The registry is an immutable radix tree swapped atomically on every
registration change; delivery reads whichever version was current when it
started and skips registrations closed in the meantime.
*/
package events
