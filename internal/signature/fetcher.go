package signature

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultMaxCertificateBytes = 64 << 10
	pemBlockCertificate        = "CERTIFICATE"
)

// DefaultAllowedCertHosts lists the hosts the provider publishes signing certificates from.
var DefaultAllowedCertHosts = []string{
	"api.paypal.com",
	"api-m.paypal.com",
	"api.sandbox.paypal.com",
	"api-m.sandbox.paypal.com",
}

// FetcherConfig configures certificate retrieval.
type FetcherConfig struct {
	Client       *http.Client
	AllowedHosts []string
	// Roots anchors chain verification; nil uses the system pool.
	Roots    *x509.CertPool
	MaxBytes int64
	Now      func() time.Time
}

// CertificateFetcher downloads PEM certificate chains from allow-listed https hosts.
type CertificateFetcher struct {
	client       *http.Client
	allowedHosts map[string]struct{}
	roots        *x509.CertPool
	maxBytes     int64
	now          func() time.Time
}

// NewCertificateFetcher validates cfg and returns a fetcher.
func NewCertificateFetcher(cfg FetcherConfig) (*CertificateFetcher, error) {
	hosts := cfg.AllowedHosts
	if len(hosts) == 0 {
		hosts = DefaultAllowedCertHosts
	}
	allowed := make(map[string]struct{}, len(hosts))
	for _, host := range hosts {
		normalized := strings.ToLower(strings.TrimSpace(host))
		if normalized != "" {
			allowed[normalized] = struct{}{}
		}
	}
	if len(allowed) == 0 {
		return nil, fmt.Errorf("%w: at least one certificate host is required", ErrInvalidConfig)
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxCertificateBytes
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &CertificateFetcher{client: client, allowedHosts: allowed, roots: cfg.Roots, maxBytes: maxBytes, now: now}, nil
}

// Fetch downloads, parses, and chain-verifies the leaf certificate at certURL.
func (fetcher *CertificateFetcher) Fetch(ctx context.Context, certURL string) (*x509.Certificate, error) {
	if err := fetcher.checkURL(certURL); err != nil {
		return nil, err
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyFetchFailed, err)
	}
	response, err := fetcher.client.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrKeyFetchFailed, ErrKeyServiceUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode >= http.StatusInternalServerError || response.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: %w: status %d", ErrKeyFetchFailed, ErrKeyServiceUnavailable, response.StatusCode)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrKeyFetchFailed, response.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(response.Body, fetcher.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %w: %w", ErrKeyFetchFailed, ErrKeyServiceUnavailable, err)
	}
	if int64(len(body)) > fetcher.maxBytes {
		return nil, fmt.Errorf("%w: certificate exceeds %d bytes", ErrKeyFetchFailed, fetcher.maxBytes)
	}
	return fetcher.verifyChain(body)
}

func (fetcher *CertificateFetcher) checkURL(certURL string) error {
	parsed, err := url.Parse(certURL)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrKeyFetchFailed, err)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("%w: certificate url must use https", ErrKeyFetchFailed)
	}
	if _, ok := fetcher.allowedHosts[strings.ToLower(parsed.Hostname())]; !ok {
		return fmt.Errorf("%w: certificate host %q is not allowed", ErrKeyFetchFailed, parsed.Hostname())
	}
	return nil
}

func (fetcher *CertificateFetcher) verifyChain(pemBytes []byte) (*x509.Certificate, error) {
	certificates := make([]*x509.Certificate, 0, 3)
	for rest := pemBytes; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != pemBlockCertificate {
			continue
		}
		certificate, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrKeyFetchFailed, err)
		}
		certificates = append(certificates, certificate)
	}
	if len(certificates) == 0 {
		return nil, fmt.Errorf("%w: no certificate in response", ErrKeyFetchFailed)
	}
	leaf := certificates[0]
	intermediates := x509.NewCertPool()
	for _, certificate := range certificates[1:] {
		intermediates.AddCert(certificate)
	}
	_, err := leaf.Verify(x509.VerifyOptions{
		Roots:         fetcher.roots,
		Intermediates: intermediates,
		CurrentTime:   fetcher.now(),
		KeyUsages:     []x509.ExtKeyUsage{x509.ExtKeyUsageAny},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrKeyFetchFailed, err)
	}
	return leaf, nil
}
