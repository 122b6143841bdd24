/*
Package log provides structured logging for canopy using zerolog.

Init configures the global Logger once at startup; packages derive child
loggers that carry a component name and, for shard-level code, the shard
identifier and transaction id:

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})

	logger := log.WithShard("shard", "config:/network")
	txLogger := log.WithTransaction(logger, tx.ID())
	txLogger.Debug().Str("phase", "canCommit").Msg("phase started")

Levels follow the usual split: debug for per-phase commit progress, info
for shard attach/detach and server lifecycle, warn for failed commits and
aborts, error for listener panics and failed aborts.

Console output (JSONOutput false) uses zerolog.ConsoleWriter with RFC3339
timestamps and is meant for interactive use of the CLI.
*/
package log
