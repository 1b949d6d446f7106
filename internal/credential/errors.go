package credential

import "errors"

// Domain-specific errors for credential issuance.
var (
	// ErrSigning is returned when the key cannot sign a token or the signed
	// token does not fit the token buffer.
	ErrSigning = errors.New("credential: signing failed")

	// ErrInvalidTTL is returned when the requested lifetime is not positive.
	ErrInvalidTTL = errors.New("credential: ttl must be at least one second")
)
