package signature

import "errors"

// Verification failures. Every one of them rejects the event.
var (
	ErrMissingHeaders     = errors.New("missing signature headers")
	ErrMalformedSignature = errors.New("malformed signature")
	ErrKeyFetchFailed     = errors.New("verification key fetch failed")
	ErrVerificationFailed = errors.New("signature verification failed")

	// ErrKeyServiceUnavailable accompanies ErrKeyFetchFailed when the key endpoint could not be reached,
	// timed out, or answered with a server error. Such a rejection is worth a provider retry.
	ErrKeyServiceUnavailable = errors.New("verification key service unavailable")

	ErrInvalidConfig = errors.New("invalid signature config")
)

// IsTransient reports whether a verification failure was caused by the key service being unavailable.
func IsTransient(err error) bool {
	return errors.Is(err, ErrKeyServiceUnavailable)
}
