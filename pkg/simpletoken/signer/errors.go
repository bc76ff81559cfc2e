package signer

import "errors"

// Signing errors
var (
	// ErrNoSecretKey is returned when constructing a Signer without a secret key
	ErrNoSecretKey = errors.New("signer: no secret key configured")

	// ErrUnsupportedHash is returned for an unknown hash algorithm name
	ErrUnsupportedHash = errors.New("signer: unsupported hash algorithm")

	// ErrInvalidInput is returned when the input URL cannot be signed
	ErrInvalidInput = errors.New("signer: invalid input")
)
