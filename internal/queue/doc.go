// Package queue serializes operations through a single-consumer FIFO.
//
// Enqueue never blocks and returns a monotonically increasing correlation id.
// ProcessNext, driven by an external tick source, executes the oldest item and
// stores its outcome until it is read once through Poll or Wait. At most one
// operation runs at a time per queue, including operations executed inline
// through Do while queuing is disabled.
//
// # What this package must NOT do
//
//   - Know about credentials, providers or owners. Payloads are opaque tasks.
//   - Reorder items. There are no priority tiers.
//   - Let a panicking task stop the queue.
package queue
