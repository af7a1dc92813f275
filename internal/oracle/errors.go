package oracle

import "errors"

var (
	// ErrInsufficientFee is returned when the registration fee is below RegistrationFee.
	ErrInsufficientFee = errors.New("insufficient registration fee")

	// ErrAlreadyRegistered is returned when an identity registers twice.
	ErrAlreadyRegistered = errors.New("oracle already registered")

	// ErrNotRegistered is returned when looking up an unknown identity.
	ErrNotRegistered = errors.New("oracle not registered")

	// ErrInvalidPublicKey is returned when a registration carries a malformed BLS key.
	ErrInvalidPublicKey = errors.New("invalid oracle public key")
)
