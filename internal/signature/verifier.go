package signature

import (
	"context"
	"fmt"
	"strings"
)

const signingStringDelimiter = "|"

// Scheme checks a signature over the canonical signing string.
type Scheme interface {
	Verify(ctx context.Context, headers Headers, message []byte) error
}

// Config carries the provisioned webhook identity and the verification scheme.
type Config struct {
	WebhookID string
	Digest    ContentDigest
	Scheme    Scheme
}

// Verifier authenticates webhook deliveries.
type Verifier struct {
	webhookID string
	digest    ContentDigest
	scheme    Scheme
}

// NewVerifier validates configuration and returns a Verifier.
func NewVerifier(cfg Config) (*Verifier, error) {
	webhookID := strings.TrimSpace(cfg.WebhookID)
	if webhookID == "" {
		return nil, fmt.Errorf("%w: webhook id is required", ErrInvalidConfig)
	}
	if cfg.Scheme == nil {
		return nil, fmt.Errorf("%w: scheme is required", ErrInvalidConfig)
	}
	digest, err := ParseContentDigest(string(cfg.Digest))
	if err != nil {
		return nil, err
	}
	return &Verifier{webhookID: webhookID, digest: digest, scheme: cfg.Scheme}, nil
}

// Verify returns nil only when body and headers carry a valid provider signature.
func (verifier *Verifier) Verify(ctx context.Context, headers Headers, body []byte) error {
	if err := headers.validate(); err != nil {
		return err
	}
	return verifier.scheme.Verify(ctx, headers, []byte(verifier.SigningString(headers, body)))
}

// SigningString builds transmissionId|transmissionTime|webhookId|contentHash over the raw body.
func (verifier *Verifier) SigningString(headers Headers, body []byte) string {
	return strings.Join([]string{
		headers.TransmissionID,
		headers.TransmissionTime,
		verifier.webhookID,
		verifier.digest.Sum(body),
	}, signingStringDelimiter)
}
