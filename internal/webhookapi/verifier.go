package webhookapi

import (
	"net/http"

	"github.com/MarkoPoloResearchLab/paywebhook/internal/signature"
)

// NewVerifier assembles the signature verifier selected by cfg. cfg must already be validated.
func NewVerifier(cfg Config, cacheObserver signature.CacheObserver) (*signature.Verifier, error) {
	digest, err := signature.ParseContentDigest(cfg.ContentDigest)
	if err != nil {
		return nil, err
	}
	var scheme signature.Scheme
	switch cfg.SignatureScheme {
	case SchemeHMAC:
		scheme, err = signature.NewHMACScheme([]byte(cfg.HMACSecret))
	default:
		scheme, err = newCertificateScheme(cfg, cacheObserver)
	}
	if err != nil {
		return nil, err
	}
	return signature.NewVerifier(signature.Config{WebhookID: cfg.WebhookID, Digest: digest, Scheme: scheme})
}

func newCertificateScheme(cfg Config, cacheObserver signature.CacheObserver) (*signature.CertificateScheme, error) {
	fetcher, err := signature.NewCertificateFetcher(signature.FetcherConfig{
		Client:       &http.Client{Timeout: cfg.KeyFetchTimeout},
		AllowedHosts: cfg.AllowedCertHosts,
	})
	if err != nil {
		return nil, err
	}
	resolver, err := signature.NewCachingResolver(fetcher, signature.CachingResolverConfig{
		TTL:          cfg.CertCacheTTL,
		FetchTimeout: cfg.KeyFetchTimeout,
		Observer:     cacheObserver,
	})
	if err != nil {
		return nil, err
	}
	return signature.NewCertificateScheme(resolver)
}
