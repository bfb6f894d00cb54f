// Package persist provides checkpoint storage for run ledgers.
//
// The manager snapshots the full work ledger at configurable intervals so an
// interrupted run can resume from its last checkpoint instead of starting
// over. Two stores are provided:
//
//   - FileStore writes checkpoints atomically to the local filesystem
//   - NATSStore keeps checkpoints in a NATS JetStream key-value bucket,
//     shared across machines
//
// Both implement the Store interface; custom backends only need Save, Load
// and Delete.
package persist
