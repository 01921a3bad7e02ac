package webhookapi

import (
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/paywebhook/internal/signature"
)

const (
	SchemeCertificate = "certificate"
	SchemeHMAC        = "hmac"

	defaultListenAddr      = ":8080"
	defaultWebhookPath     = "/webhooks/paypal"
	defaultAllowedOrigin   = "http://localhost:8000"
	defaultSessionIssuer   = "tauth"
	defaultSessionCookie   = "app_session"
	defaultMaxBodyBytes    = 1 << 20
	defaultCertCacheTTL    = time.Hour
	defaultKeyFetchTimeout = 5 * time.Second
	defaultStoreTimeout    = 5 * time.Second
	defaultReadTimeout     = 3 * time.Second
	shutdownTimeout        = 5 * time.Second
	defaultHistoryLimit    = 20
)

// Config aggregates runtime settings for the webhook HTTP server.
type Config struct {
	ListenAddr   string
	WebhookPath  string
	MaxBodyBytes int64

	WebhookID        string
	SignatureScheme  string
	HMACSecret       string
	ContentDigest    string
	AllowedCertHosts []string
	CertCacheTTL     time.Duration
	KeyFetchTimeout  time.Duration
	StoreTimeout     time.Duration
	ReadTimeout      time.Duration

	AllowedOrigins    []string
	SessionSigningKey string
	SessionIssuer     string
	SessionCookieName string
}

// Validate fills defaults and ensures the configuration contains sane values.
func (cfg *Config) Validate() error {
	cfg.ListenAddr = defaultIfEmpty(cfg.ListenAddr, defaultListenAddr)
	cfg.WebhookPath = defaultIfEmpty(cfg.WebhookPath, defaultWebhookPath)
	cfg.SignatureScheme = strings.ToLower(defaultIfEmpty(cfg.SignatureScheme, SchemeCertificate))
	if cfg.MaxBodyBytes == 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if cfg.CertCacheTTL == 0 {
		cfg.CertCacheTTL = defaultCertCacheTTL
	}
	if cfg.KeyFetchTimeout == 0 {
		cfg.KeyFetchTimeout = defaultKeyFetchTimeout
	}
	if cfg.StoreTimeout == 0 {
		cfg.StoreTimeout = defaultStoreTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaultReadTimeout
	}
	if len(cfg.AllowedCertHosts) == 0 {
		cfg.AllowedCertHosts = append([]string(nil), signature.DefaultAllowedCertHosts...)
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	cfg.SessionIssuer = defaultIfEmpty(cfg.SessionIssuer, defaultSessionIssuer)
	cfg.SessionCookieName = defaultIfEmpty(cfg.SessionCookieName, defaultSessionCookie)

	if !strings.HasPrefix(cfg.WebhookPath, "/") {
		return fmt.Errorf("webhook path must start with /")
	}
	if strings.TrimSpace(cfg.WebhookID) == "" {
		return fmt.Errorf("webhook id is required")
	}
	switch cfg.SignatureScheme {
	case SchemeCertificate:
	case SchemeHMAC:
		if cfg.HMACSecret == "" {
			return fmt.Errorf("hmac secret is required for the hmac signature scheme")
		}
	default:
		return fmt.Errorf("unsupported signature scheme %q", cfg.SignatureScheme)
	}
	if _, err := signature.ParseContentDigest(cfg.ContentDigest); err != nil {
		return err
	}
	if cfg.MaxBodyBytes < 0 {
		return fmt.Errorf("max body bytes must be positive")
	}
	for name, value := range map[string]time.Duration{
		"cert cache ttl":    cfg.CertCacheTTL,
		"key fetch timeout": cfg.KeyFetchTimeout,
		"store timeout":     cfg.StoreTimeout,
		"read timeout":      cfg.ReadTimeout,
	} {
		if value < 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}
	if len(cfg.SessionSigningKey) == 0 {
		return fmt.Errorf("jwt signing key is required")
	}
	return nil
}

func defaultIfEmpty(value string, fallback string) string {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return strings.TrimSpace(value)
}

// ParseList splits comma-delimited values such as origins or hosts into a slice.
func ParseList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return []string{}
	}
	parts := strings.Split(raw, ",")
	normalized := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			normalized = append(normalized, trimmed)
		}
	}
	return normalized
}
