// Package account persists the provider accounts each owner has linked and the
// "current account" selector.
//
// # Data model
//
// An [Owner] holds a bounded, ordered list of [Record] values and a 1-based
// current index. Each record carries an [AuthState], a sealed union with one
// constructor per variant: [Unauthenticated], [Authenticated], [AwaitingMFA],
// [UsingCookies] and [UsingPassword]. An Authenticated session additionally
// embeds the reauth material (cookies or a sealed password) it was issued with.
//
// # Storage
//
// [Repository] implements the owner-level operations (add-or-merge, switch,
// delete, credential purge) on top of a [Backend] port. Two backends ship:
// [RedisBackend] and [FileBackend]. Both are last-writer-wins; the repository
// serializes its own read-modify-write cycles within one process only.
//
// # What this package must NOT do
//
//   - Perform provider network calls or interpret provider responses.
//   - Import goSession or internal packages (no upward imports).
//   - Store plaintext passwords: [UsingPassword] only ever holds sealed values.
package account
