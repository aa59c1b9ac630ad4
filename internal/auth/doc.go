// Package auth issues and validates the HS256 JWT bearer tokens that guard
// the shims HTTP API.
//
// Tokens carry only a subject and standard registered claims. There is no
// user store: anyone holding the configured secret can mint a token with
// GenerateToken, which the shims binary exposes through its -token flag.
package auth
