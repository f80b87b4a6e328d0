package auth

import "errors"

var (
	// ErrMissingToken is returned when the request carries no bearer token.
	ErrMissingToken = errors.New("missing bearer token")

	// ErrInvalidToken is returned when the token fails signature, expiry or claim checks.
	ErrInvalidToken = errors.New("invalid bearer token")
)
