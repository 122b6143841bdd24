/*
Package types defines the identifier and data model shared by every canopy
package.

# Identifiers

A Path is a sequence of PathArg values. Each argument has a name and an
optional key, written "name" or "name=key":

	path := types.MustParsePath("/interfaces/interface=eth0/mtu")
	parent := path.Parent()            // /interfaces/interface=eth0
	rel, _ := path.RelativeTo(parent)  // /mtu

A ShardID pairs a datastore kind (config or operational) with the path at
which a shard is rooted. Shard identifiers are ordered by prefix
containment: a shard at config:/a contains config:/a/b but not
operational:/a/b.

# Data Model

Node is an immutable tree node. Leaves carry a scalar value, containers
hold children ordered by identifier in a copy-on-write B-tree. Every
update (WithChild, WithoutChild, PutAt, DeleteAt, Merge) returns new
nodes along the modified path and shares everything else, so two
versions of a subtree can be compared by pointer to tell whether it was
touched. The data tree engine relies on this for conflict detection and
for computing commit candidates.

FromValue and ToValue convert between nodes and the plain maps produced by
YAML or JSON decoding:

	n, _ := types.FromValue(types.Arg("interface"), map[string]any{
		"interface=eth0": map[string]any{"mtu": 1500},
	})
*/
package types
