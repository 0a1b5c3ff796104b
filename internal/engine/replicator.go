package engine

import "github.com/flashkv/flashkv/internal/record"

// Replicator is the capability the engine depends on to ship a durable
// local write onward to a backup; it is satisfied by the replication
// package's primary client without the engine importing that package (the
// engine is replication-agnostic — a standalone or backup-role process
// simply runs with a nil Replicator).
type Replicator interface {
	// Replicate ships rec to the backup. In sync-sync mode it blocks until
	// the backup ACKs or the configured timeout elapses.
	Replicate(rec record.Record) error
}
