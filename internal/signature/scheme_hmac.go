package signature

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// HMACScheme verifies base64 HMAC-SHA256 signatures made with a shared secret.
type HMACScheme struct {
	secret []byte
}

// NewHMACScheme returns a scheme keyed by secret.
func NewHMACScheme(secret []byte) (*HMACScheme, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("%w: hmac secret is required", ErrInvalidConfig)
	}
	return &HMACScheme{secret: append([]byte(nil), secret...)}, nil
}

// Verify compares the header signature with the expected MAC in constant time.
func (scheme *HMACScheme) Verify(_ context.Context, headers Headers, message []byte) error {
	provided, err := base64.StdEncoding.DecodeString(headers.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedSignature, err)
	}
	if !hmac.Equal(provided, scheme.mac(message)) {
		return ErrVerificationFailed
	}
	return nil
}

// Sign produces the signature header value for message.
func (scheme *HMACScheme) Sign(message []byte) string {
	return base64.StdEncoding.EncodeToString(scheme.mac(message))
}

func (scheme *HMACScheme) mac(message []byte) []byte {
	mac := hmac.New(sha256.New, scheme.secret)
	mac.Write(message)
	return mac.Sum(nil)
}
