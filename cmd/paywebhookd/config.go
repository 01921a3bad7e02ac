package main

import (
	"fmt"
	"strings"

	"github.com/MarkoPoloResearchLab/paywebhook/internal/webhookapi"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	flagDatabaseURL      = "database-url"
	flagStorageDriver    = "storage-driver"
	flagListenAddr       = "listen-addr"
	flagGRPCListenAddr   = "grpc-listen-addr"
	flagWebhookPath      = "webhook-path"
	flagWebhookID        = "webhook-id"
	flagSignatureScheme  = "signature-scheme"
	flagHMACSecret       = "hmac-secret"
	flagContentDigest    = "content-digest"
	flagAllowedCertHosts = "allowed-cert-hosts"
	flagCertCacheTTL     = "cert-cache-ttl"
	flagKeyFetchTimeout  = "key-fetch-timeout"
	flagStoreTimeout     = "store-timeout"
	flagMaxBodyBytes     = "max-body-bytes"
	flagAllowedOrigins   = "allowed-origins"
	flagJWTSigningKey    = "jwt-signing-key"
	flagJWTIssuer        = "jwt-issuer"
	flagJWTCookieName    = "jwt-cookie-name"
	flagBuyerID          = "buyer-id"
	envPrefix            = "PAYWEBHOOK"

	storageDriverGorm     = "gorm"
	storageDriverPgx      = "pgx"
	defaultDatabaseURL    = "sqlite:///tmp/paywebhook.db"
	defaultGRPCListenAddr = ":7000"
)

var storageFlags = []string{flagDatabaseURL, flagStorageDriver}

var serveFlags = []string{
	flagListenAddr, flagGRPCListenAddr, flagWebhookPath, flagWebhookID, flagSignatureScheme, flagHMACSecret,
	flagContentDigest, flagAllowedCertHosts, flagCertCacheTTL, flagKeyFetchTimeout, flagStoreTimeout,
	flagMaxBodyBytes, flagAllowedOrigins, flagJWTSigningKey, flagJWTIssuer, flagJWTCookieName,
}

type runtimeConfig struct {
	DatabaseURL    string
	StorageDriver  string
	GRPCListenAddr string
	BuyerID        string
	API            webhookapi.Config
}

func registerStorageFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagDatabaseURL, defaultDatabaseURL, "database connection string (postgres:// or sqlite path)")
	cmd.Flags().String(flagStorageDriver, storageDriverGorm, "storage implementation: gorm or pgx (pgx requires postgres)")
}

func registerServeFlags(cmd *cobra.Command) {
	cmd.Flags().String(flagListenAddr, "", "HTTP listen address (default :8080)")
	cmd.Flags().String(flagGRPCListenAddr, defaultGRPCListenAddr, "gRPC listen address")
	cmd.Flags().String(flagWebhookPath, "", "webhook route (default /webhooks/paypal)")
	cmd.Flags().String(flagWebhookID, "", "webhook id assigned by the provider (required)")
	cmd.Flags().String(flagSignatureScheme, "", "signature scheme: certificate or hmac")
	cmd.Flags().String(flagHMACSecret, "", "shared secret for the hmac scheme")
	cmd.Flags().String(flagContentDigest, "", "body digest in the signing string: crc32 or sha256")
	cmd.Flags().String(flagAllowedCertHosts, "", "comma-separated hosts allowed to serve signing certificates")
	cmd.Flags().Duration(flagCertCacheTTL, 0, "signing certificate cache ttl (default 1h)")
	cmd.Flags().Duration(flagKeyFetchTimeout, 0, "signing certificate fetch timeout (default 5s)")
	cmd.Flags().Duration(flagStoreTimeout, 0, "ledger transaction timeout (default 5s)")
	cmd.Flags().Int64(flagMaxBodyBytes, 0, "maximum webhook body size in bytes (default 1 MiB)")
	cmd.Flags().String(flagAllowedOrigins, "", "comma-separated list of allowed CORS origins")
	cmd.Flags().String(flagJWTSigningKey, "", "TAuth JWT signing key (required)")
	cmd.Flags().String(flagJWTIssuer, "", "expected JWT issuer")
	cmd.Flags().String(flagJWTCookieName, "", "JWT cookie name")
}

func newViper(cmd *cobra.Command, flagNames []string) (*viper.Viper, error) {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	for _, flagName := range flagNames {
		if err := v.BindPFlag(flagName, cmd.Flags().Lookup(flagName)); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func loadStorageConfig(v *viper.Viper, cfg *runtimeConfig) error {
	cfg.DatabaseURL = strings.TrimSpace(v.GetString(flagDatabaseURL))
	if cfg.DatabaseURL == "" {
		cfg.DatabaseURL = defaultDatabaseURL
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(v.GetString(flagStorageDriver)))
	switch cfg.StorageDriver {
	case "", storageDriverGorm:
		cfg.StorageDriver = storageDriverGorm
	case storageDriverPgx:
		if !isPostgresURL(cfg.DatabaseURL) {
			return fmt.Errorf("%s %q requires a postgres %s", flagStorageDriver, storageDriverPgx, flagDatabaseURL)
		}
	default:
		return fmt.Errorf("unsupported %s %q", flagStorageDriver, cfg.StorageDriver)
	}
	return nil
}

func loadServeConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v, err := newViper(cmd, append(append([]string(nil), storageFlags...), serveFlags...))
	if err != nil {
		return err
	}
	if err := loadStorageConfig(v, cfg); err != nil {
		return err
	}
	cfg.GRPCListenAddr = strings.TrimSpace(v.GetString(flagGRPCListenAddr))
	if cfg.GRPCListenAddr == "" {
		cfg.GRPCListenAddr = defaultGRPCListenAddr
	}
	cfg.API = webhookapi.Config{
		ListenAddr:        strings.TrimSpace(v.GetString(flagListenAddr)),
		WebhookPath:       strings.TrimSpace(v.GetString(flagWebhookPath)),
		MaxBodyBytes:      v.GetInt64(flagMaxBodyBytes),
		WebhookID:         strings.TrimSpace(v.GetString(flagWebhookID)),
		SignatureScheme:   strings.TrimSpace(v.GetString(flagSignatureScheme)),
		HMACSecret:        v.GetString(flagHMACSecret),
		ContentDigest:     strings.TrimSpace(v.GetString(flagContentDigest)),
		AllowedCertHosts:  webhookapi.ParseList(v.GetString(flagAllowedCertHosts)),
		CertCacheTTL:      v.GetDuration(flagCertCacheTTL),
		KeyFetchTimeout:   v.GetDuration(flagKeyFetchTimeout),
		StoreTimeout:      v.GetDuration(flagStoreTimeout),
		AllowedOrigins:    webhookapi.ParseList(v.GetString(flagAllowedOrigins)),
		SessionSigningKey: v.GetString(flagJWTSigningKey),
		SessionIssuer:     strings.TrimSpace(v.GetString(flagJWTIssuer)),
		SessionCookieName: strings.TrimSpace(v.GetString(flagJWTCookieName)),
	}
	return cfg.API.Validate()
}

func loadAuditConfig(cmd *cobra.Command, cfg *runtimeConfig) error {
	v, err := newViper(cmd, append(append([]string(nil), storageFlags...), flagBuyerID))
	if err != nil {
		return err
	}
	if err := loadStorageConfig(v, cfg); err != nil {
		return err
	}
	cfg.BuyerID = strings.TrimSpace(v.GetString(flagBuyerID))
	if cfg.BuyerID == "" {
		return fmt.Errorf("%s is required", flagBuyerID)
	}
	return nil
}
