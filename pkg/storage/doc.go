/*
Package storage provides the optional on-disk backend of persistent shards.

BoltStore keeps one bbolt bucket per shard, named after the shard
identifier ("config:/network"). Every node below the shard root is stored
under its shard-relative path with a small JSON record; containers are
stored too so that empty containers survive a restart:

	/if=eth0        {}
	/if=eth0/mtu    {"leaf":true,"value":1500}

A persistent shard applies each commit candidate to the store during the
commit phase of its local cohort, before the candidate becomes visible in
memory. Written subtrees replace everything stored beneath them, deleted
subtrees are removed, and subtree-modified nodes are walked child by child,
all inside one bolt transaction.

JSON decoding turns numbers into float64, so a reloaded tree compares equal
to the in-memory one only for string and boolean leaves.
*/
package storage
