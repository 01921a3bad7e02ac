package signature

import (
	"context"
	"crypto"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

const (
	defaultCacheSize    = 64
	defaultCacheTTL     = time.Hour
	defaultFetchTimeout = 5 * time.Second
)

// KeyResolver returns the verification key published at a certificate URL.
type KeyResolver interface {
	Resolve(ctx context.Context, certURL string) (crypto.PublicKey, error)
}

// CertificateSource fetches and validates the certificate at a URL.
type CertificateSource interface {
	Fetch(ctx context.Context, certURL string) (*x509.Certificate, error)
}

// CacheObserver receives certificate cache hits and misses.
type CacheObserver interface {
	ObserveKeyCache(hit bool)
}

// StaticResolver always returns the same key.
type StaticResolver struct {
	Key crypto.PublicKey
}

// Resolve returns the configured key regardless of URL.
func (resolver StaticResolver) Resolve(context.Context, string) (crypto.PublicKey, error) {
	if resolver.Key == nil {
		return nil, fmt.Errorf("%w: no static key configured", ErrKeyFetchFailed)
	}
	return resolver.Key, nil
}

// CachingResolverConfig tunes certificate memoization.
type CachingResolverConfig struct {
	Size         int
	TTL          time.Duration
	FetchTimeout time.Duration
	Now          func() time.Time
	Observer     CacheObserver
}

// CachingResolver memoizes certificates per URL for a bounded lifetime.
// Concurrent misses for one URL share a single fetch; no lock is held while fetching.
type CachingResolver struct {
	source       CertificateSource
	cache        *expirable.LRU[string, *x509.Certificate]
	group        singleflight.Group
	fetchTimeout time.Duration
	now          func() time.Time
	observer     CacheObserver
}

// NewCachingResolver wraps source with an expiring LRU cache.
func NewCachingResolver(source CertificateSource, cfg CachingResolverConfig) (*CachingResolver, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: certificate source is required", ErrInvalidConfig)
	}
	if cfg.Size <= 0 {
		cfg.Size = defaultCacheSize
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = defaultFetchTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CachingResolver{
		source:       source,
		cache:        expirable.NewLRU[string, *x509.Certificate](cfg.Size, nil, cfg.TTL),
		fetchTimeout: cfg.FetchTimeout,
		now:          cfg.Now,
		observer:     cfg.Observer,
	}, nil
}

// Resolve returns the cached certificate key or fetches it.
func (resolver *CachingResolver) Resolve(ctx context.Context, certURL string) (crypto.PublicKey, error) {
	if certificate, ok := resolver.cache.Get(certURL); ok {
		if resolver.withinValidity(certificate) {
			resolver.observe(true)
			return certificate.PublicKey, nil
		}
		resolver.cache.Remove(certURL)
	}
	resolver.observe(false)

	// Shared by every waiter on certURL, so it is not bound to the first caller's cancellation.
	result, err, _ := resolver.group.Do(certURL, func() (interface{}, error) {
		fetchContext, cancel := context.WithTimeout(context.WithoutCancel(ctx), resolver.fetchTimeout)
		defer cancel()
		certificate, fetchErr := resolver.source.Fetch(fetchContext, certURL)
		if fetchErr != nil {
			return nil, fetchErr
		}
		if !resolver.withinValidity(certificate) {
			return nil, fmt.Errorf("%w: certificate outside validity window", ErrKeyFetchFailed)
		}
		resolver.cache.Add(certURL, certificate)
		return certificate, nil
	})
	if err != nil {
		return nil, err
	}
	return result.(*x509.Certificate).PublicKey, nil
}

func (resolver *CachingResolver) withinValidity(certificate *x509.Certificate) bool {
	now := resolver.now()
	return !now.Before(certificate.NotBefore) && !now.After(certificate.NotAfter)
}

func (resolver *CachingResolver) observe(hit bool) {
	if resolver.observer != nil {
		resolver.observer.ObserveKeyCache(hit)
	}
}
