package credential

import "errors"

var (
	// ErrNoCredentialAvailable is returned when neither a host capability nor
	// key material yields a usable identity.
	ErrNoCredentialAvailable = errors.New("no credential available")

	// ErrSigningFailed is returned when both the host and the local path
	// failed to produce a valid signed event.
	ErrSigningFailed = errors.New("signing failed")

	// ErrCryptoUnavailable is returned when the host exhausted both argument
	// orders and there is no local secret to fall back to.
	ErrCryptoUnavailable = errors.New("encryption unavailable")
)
