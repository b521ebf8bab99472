// Package exchange runs the provider's credential protocol: username and
// password login, second-factor submission, and cookie reauth, followed by the
// identity, entitlements and region lookups that complete a session.
//
// Every network call checks the endpoint's backoff deadline first and records
// the response's rate-limit or block signal afterwards.
//
// # What this package must NOT do
//
//   - Serialize callers. The queue in front of it does that.
//   - Delete credentials. It reports failures; the caller decides on purges.
//   - Mutate stored state on failure. Only completed exchanges and MFA
//     challenges are persisted.
package exchange
