package normalize

import "errors"

var (
	// ErrMalformedResource marks an envelope or resource that cannot be turned into a purchase.
	ErrMalformedResource = errors.New("malformed resource")
	// ErrUnsupportedEventKind marks an event type with no purchase mapping.
	ErrUnsupportedEventKind = errors.New("unsupported event kind")
)
