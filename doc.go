// Package goSession keeps provider game-account sessions alive on behalf of
// many owners. Each owner links up to Config.Session.MaxAccountsPerOwner
// provider accounts; each account holds either a live session with its reauth
// material, a paused second-factor login, bare reauth material, or nothing.
//
// The package is designed for concurrent server workloads: [Manager] methods
// are safe to call from multiple goroutines after [Builder.Build].
//
// # Serialization
//
// Every credential exchange (login, second-factor submission, refresh) goes
// through one process-wide FIFO queue. Blocking calls such as [Manager.Login]
// wait for their turn; Enqueue* calls return a correlation id to poll with
// [Manager.PollAuth]. [Manager.RunQueue] drains the queue at
// Config.Queue.Interval. With Config.Queue.Enabled false, exchanges still run
// one at a time but on the caller's goroutine.
//
// # Architecture boundaries
//
// goSession is the public surface. It exposes [Manager], [Builder], [Config],
// [Result] and the account types from package account. The provider protocol,
// rate-limit table, queue, audit dispatch and metrics live under internal/.
//
// # What this package must NOT do
//
//   - Log or audit tokens, cookies, passwords or raw owner ids.
//   - Delete stored credentials on anything but an authentication failure.
//   - Call a provider endpoint that is backing off.
//   - Coordinate with other processes; each instance owns its queue and backoff table.
package goSession
