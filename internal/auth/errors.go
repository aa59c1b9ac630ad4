package auth

import "errors"

// Domain errors for the auth package.
var (
	// ErrTokenInvalid is returned when a token fails signature, expiry or
	// claim validation.
	ErrTokenInvalid = errors.New("auth: invalid token")

	// ErrNoSecret is returned when signing is attempted without a secret.
	ErrNoSecret = errors.New("auth: no signing secret configured")
)
