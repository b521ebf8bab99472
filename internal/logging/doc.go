// Package logging holds slog attribute helpers shared by the session manager
// and its internal components.
//
// Owner ids are hashed before they reach a log line. Tokens, cookies and
// passwords must never be passed to any helper here.
package logging
