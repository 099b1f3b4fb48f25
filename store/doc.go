// Package store provides single-table DynamoDB access: conditional writes,
// all-or-nothing transactions, atomic counters and item collection queries.
//
// Entities of different types share one table. Each item is addressed by a
// tag-prefixed partition key and sort key (see package key), and related
// items share a partition so that one range query returns a parent with its
// children.
//
// # Key Features
//
//   - Conditional puts that refuse to overwrite an existing key
//   - Multi-item uniqueness through a single transaction ([Store.CreateAll])
//   - Atomic counters that mint strictly increasing ordinals ([Store.Increment])
//   - Collection and secondary-index queries with sort key ranges
//   - TTL-aware reads that hide expired items the sweeper has not purged yet
//   - Prometheus metrics and structured logging
//
// # Ordinals
//
// Minting a child ordinal takes two requests: the increment, then the child
// write. The increment alone is atomic. A failure between the two leaves an
// ordinal with no child, so callers must tolerate gaps.
//
// # Errors
//
// Failures fall into two kinds that callers must treat differently:
//
//   - [ErrConditionFailed] - a precondition did not hold; never retry blindly
//   - [ErrTransient] - throttling, capacity or transport; safe to retry with [Store.Retry]
//
// Precondition failures carry a [*ConditionError]; for transactions its Index
// names the first operation whose condition failed. [ErrNotFound] is
// returned by Get for missing or expired items.
package store
