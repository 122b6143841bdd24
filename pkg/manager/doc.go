/*
Package manager owns the shards of every datastore and exposes
transactions that span all of them.

# Architecture

Each datastore kind (config, operational) has a root shard at the empty
path. Further shards are registered at a prefix and attached below the
nearest registered ancestor:

	┌──────────────────────── MANAGER ────────────────────────┐
	│                                                          │
	│  shard table (radix tree, longest prefix match)          │
	│    config:/            ──► root shard                    │
	│    config:/network/    ──► child of config:/             │
	│    operational:/       ──► root shard                    │
	│                                                          │
	│  commit executor ──► Transaction cohorts, one per kind   │
	│                                                          │
	│  bbolt store (optional) ──► persistent shards            │
	└──────────────────────────────────────────────────────────┘

Registering a shard at a prefix that already has registered shards below
it moves those shards under the new one. Removing a shard hands its
children back to its parent. Data committed to a shard before a child was
attached below it stays where it was.

# Transactions

A Transaction allocates one transaction per datastore kind it touches,
always on that kind's root shard; the root shard routes writes into child
shards. Commit readies every shard transaction and runs them as cohorts of
one three-phase commit on the manager's executor:

	tx := m.NewReadWriteTransaction()
	tx.Put(types.Config, types.MustParsePath("/network/eth0"), node)
	tx.Put(types.Operational, types.MustParsePath("/stats/eth0"), stats)
	if err := tx.Commit().Wait(ctx); err != nil {
		if commit.IsRetryable(err) {
			// another transaction changed the same data
		}
	}

A TransactionChain keeps one shard chain per datastore kind, so each
transaction sees the writes of the previous one before it commits.

# Commands

ParseCommands reads a YAML batch of write, merge and delete commands;
Apply runs a batch as one transaction:

	commands:
	  - op: write
	    path: /network/eth0
	    value: {mtu: 1500}
	  - op: delete
	    datastore: operational
	    path: /stats/eth1
*/
package manager
