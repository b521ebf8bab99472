// Package jwt reads the claims embedded in provider-issued access tokens.
//
// The provider signs its tokens with keys this module never sees, so parsing is
// unverified: the only trusted use of the result is scheduling (when does the
// token stop being usable). Signature trust stays with the provider.
//
// # What this package must NOT do
//
//   - Issue or sign tokens.
//   - Treat a parsed token as proof of identity.
package jwt
