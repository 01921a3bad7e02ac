// Package signaturetest provides throwaway signing material for webhook verification tests.
package signaturetest

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/pem"
	"math/big"
	"testing"
	"time"

	"github.com/MarkoPoloResearchLab/paywebhook/internal/signature"
)

const (
	rsaKeyBits          = 2048
	certificateLifetime = 24 * time.Hour
	leafCommonName      = "messageverificationcerts.paypal.com"
	authorityCommonName = "paywebhook test root"

	TransmissionTime    = "2024-05-01T10:00:00Z"
	DefaultCertURL      = "https://api.paypal.com/v1/notifications/certs/CERT-test"
	DefaultTransmission = "transmission-1"
)

// Authority is a self-signed root plus a leaf certificate whose key signs webhook payloads.
type Authority struct {
	Root     *x509.Certificate
	Roots    *x509.CertPool
	Leaf     *x509.Certificate
	LeafKey  *rsa.PrivateKey
	ChainPEM []byte
}

// NewAuthority generates a root and a leaf valid around the current time.
func NewAuthority(tb testing.TB) *Authority {
	tb.Helper()
	now := time.Now()
	rootKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		tb.Fatalf("root key: %v", err)
	}
	rootTemplate := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: authorityCommonName},
		NotBefore:             now.Add(-time.Hour),
		NotAfter:              now.Add(certificateLifetime),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageDigitalSignature,
	}
	rootDER, err := x509.CreateCertificate(rand.Reader, rootTemplate, rootTemplate, &rootKey.PublicKey, rootKey)
	if err != nil {
		tb.Fatalf("root certificate: %v", err)
	}
	root, err := x509.ParseCertificate(rootDER)
	if err != nil {
		tb.Fatalf("parse root: %v", err)
	}

	leafKey, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
	if err != nil {
		tb.Fatalf("leaf key: %v", err)
	}
	leafTemplate := &x509.Certificate{
		SerialNumber: big.NewInt(2),
		Subject:      pkix.Name{CommonName: leafCommonName},
		DNSNames:     []string{leafCommonName},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(certificateLifetime),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	leafDER, err := x509.CreateCertificate(rand.Reader, leafTemplate, root, &leafKey.PublicKey, rootKey)
	if err != nil {
		tb.Fatalf("leaf certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(leafDER)
	if err != nil {
		tb.Fatalf("parse leaf: %v", err)
	}

	roots := x509.NewCertPool()
	roots.AddCert(root)
	chain := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leafDER})
	chain = append(chain, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER})...)
	return &Authority{Root: root, Roots: roots, Leaf: leaf, LeafKey: leafKey, ChainPEM: chain}
}

// Resolver returns a resolver that serves the leaf key without network access.
func (authority *Authority) Resolver() signature.StaticResolver {
	return signature.StaticResolver{Key: &authority.LeafKey.PublicKey}
}

// Sign returns the base64 SHA256withRSA signature of message.
func (authority *Authority) Sign(tb testing.TB, message []byte) string {
	tb.Helper()
	digest := sha256.Sum256(message)
	signed, err := rsa.SignPKCS1v15(rand.Reader, authority.LeafKey, crypto.SHA256, digest[:])
	if err != nil {
		tb.Fatalf("sign: %v", err)
	}
	return base64.StdEncoding.EncodeToString(signed)
}

// SignedHeaders builds a complete header set whose signature covers body under verifier's webhook id.
func (authority *Authority) SignedHeaders(tb testing.TB, verifier *signature.Verifier, transmissionID string, body []byte) signature.Headers {
	tb.Helper()
	headers := signature.Headers{
		TransmissionID:   transmissionID,
		TransmissionTime: TransmissionTime,
		CertURL:          DefaultCertURL,
		AuthAlgo:         signature.AlgorithmSHA256WithRSA,
	}
	headers.Signature = authority.Sign(tb, []byte(verifier.SigningString(headers, body)))
	return headers
}
