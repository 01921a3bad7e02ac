package signature

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
)

// Algorithms accepted in the auth-algo header.
const (
	AlgorithmSHA256WithRSA   = "SHA256withRSA"
	AlgorithmSHA256WithECDSA = "SHA256withECDSA"
)

// CertificateScheme verifies asymmetric signatures against the key published at the delivery's cert URL.
type CertificateScheme struct {
	resolver KeyResolver
}

// NewCertificateScheme wires a scheme over a key resolver.
func NewCertificateScheme(resolver KeyResolver) (*CertificateScheme, error) {
	if resolver == nil {
		return nil, fmt.Errorf("%w: key resolver is required", ErrInvalidConfig)
	}
	return &CertificateScheme{resolver: resolver}, nil
}

// Verify decodes the signature, resolves the key, and checks the SHA-256 signature.
func (scheme *CertificateScheme) Verify(ctx context.Context, headers Headers, message []byte) error {
	algorithm, err := parseAlgorithm(headers.AuthAlgo)
	if err != nil {
		return err
	}
	signatureBytes, err := base64.StdEncoding.DecodeString(headers.Signature)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedSignature, err)
	}
	publicKey, err := scheme.resolver.Resolve(ctx, headers.CertURL)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(message)
	switch key := publicKey.(type) {
	case *rsa.PublicKey:
		if algorithm != AlgorithmSHA256WithRSA {
			return fmt.Errorf("%w: %s signature with rsa key", ErrVerificationFailed, algorithm)
		}
		if err := rsa.VerifyPKCS1v15(key, crypto.SHA256, digest[:], signatureBytes); err != nil {
			return fmt.Errorf("%w: %w", ErrVerificationFailed, err)
		}
		return nil
	case *ecdsa.PublicKey:
		if algorithm != AlgorithmSHA256WithECDSA {
			return fmt.Errorf("%w: %s signature with ecdsa key", ErrVerificationFailed, algorithm)
		}
		if !ecdsa.VerifyASN1(key, digest[:], signatureBytes) {
			return ErrVerificationFailed
		}
		return nil
	default:
		return fmt.Errorf("%w: unsupported key type %T", ErrVerificationFailed, publicKey)
	}
}

func parseAlgorithm(raw string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", strings.ToLower(AlgorithmSHA256WithRSA):
		return AlgorithmSHA256WithRSA, nil
	case strings.ToLower(AlgorithmSHA256WithECDSA):
		return AlgorithmSHA256WithECDSA, nil
	default:
		return "", fmt.Errorf("%w: unsupported auth algorithm %q", ErrMalformedSignature, raw)
	}
}
