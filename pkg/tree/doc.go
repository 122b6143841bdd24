// Package tree is the in-memory copy-on-write data tree engine used by each
// shard: snapshots, modifications with cursors, optimistic conflict
// detection, and commit candidates describing exactly what changed.
//
// A Modification records operations against the snapshot it was created
// from. Validate compares every written path in the base snapshot with the
// current tree by node identity; Prepare replays the operations onto the
// current tree when it moved and returns a Candidate; Commit installs the
// candidate only if nothing else was committed in between.
package tree
