// Package config loads echopad sync server configuration from flags,
// environment variables and an optional config file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Config holds all configuration for the echopad sync server.
type Config struct {
	Listen   string `mapstructure:"listen"`
	DataDir  string `mapstructure:"data_dir"`
	LogLevel string `mapstructure:"log_level"`

	EnableTLS bool   `mapstructure:"enable_tls"`
	CertFile  string `mapstructure:"cert_file"`
	KeyFile   string `mapstructure:"key_file"`

	Storage StorageConfig `mapstructure:"storage"`
	Auth    AuthConfig    `mapstructure:"auth"`
	Quota   QuotaConfig   `mapstructure:"quota"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// StorageConfig configures the blob store backend.
type StorageConfig struct {
	Backend string `mapstructure:"backend"` // filesystem, s3

	// Filesystem backend
	Root string `mapstructure:"root"`

	// S3 backend
	S3Bucket   string `mapstructure:"s3_bucket"`
	S3Region   string `mapstructure:"s3_region"`
	S3Endpoint string `mapstructure:"s3_endpoint"`

	// Blob existence index (badger), used by Sync Engine pull to probe
	// content presence without round-tripping to the backend.
	IndexDir string `mapstructure:"index_dir"`
}

// AuthConfig configures the Token Service and Auth Service.
type AuthConfig struct {
	JWTSecret      string `mapstructure:"jwt_secret"`
	AccessTokenTTL int64  `mapstructure:"access_token_ttl_seconds"`
	RefreshTokenTTL int64 `mapstructure:"refresh_token_ttl_seconds"`

	LDAPHost       string `mapstructure:"ldap_host"`
	LDAPPort       int    `mapstructure:"ldap_port"`
	LDAPBindDN     string `mapstructure:"ldap_bind_dn"`
	LDAPBindPass   string `mapstructure:"ldap_bind_password"`
	LDAPBaseDN     string `mapstructure:"ldap_base_dn"`
	LDAPUserFilter string `mapstructure:"ldap_user_filter"`

	OAuthGoogleClientID     string `mapstructure:"oauth_google_client_id"`
	OAuthGoogleClientSecret string `mapstructure:"oauth_google_client_secret"`
	OAuthGoogleRedirectURL  string `mapstructure:"oauth_google_redirect_url"`

	RateLimitStore string `mapstructure:"rate_limit_store"` // memory, pebble
	RateLimitDir   string `mapstructure:"rate_limit_dir"`
}

// QuotaConfig holds the default per-tier storage quota in bytes.
type QuotaConfig struct {
	FreeBytes int64 `mapstructure:"free_bytes"`
	ProBytes  int64 `mapstructure:"pro_bytes"`
	TeamBytes int64 `mapstructure:"team_bytes"`
}

// MetricsConfig holds the metrics.enable and metrics.path settings.
// The HTTP handler serves GET /metrics unconditionally and does not
// read them.
type MetricsConfig struct {
	Enable bool   `mapstructure:"enable"`
	Path   string `mapstructure:"path"`
}

const devJWTSecretWarning = "dev-only-insecure-jwt-secret-change-me"

// Load builds a Config from flags bound to cmd, a config file and
// environment variables prefixed ECHOPAD_.
func Load(cmd *cobra.Command) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if err := bindFlags(cmd, v); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile, _ := cmd.Flags().GetString("config"); configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.SetEnvPrefix("ECHOPAD")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("listen", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("enable_tls", false)

	v.SetDefault("storage.backend", "filesystem")
	v.SetDefault("storage.root", "")
	v.SetDefault("storage.index_dir", "")

	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.access_token_ttl_seconds", 24*3600)
	v.SetDefault("auth.refresh_token_ttl_seconds", 30*24*3600)
	v.SetDefault("auth.rate_limit_store", "memory")
	v.SetDefault("auth.rate_limit_dir", "")
	v.SetDefault("auth.ldap_user_filter", "(mail=%s)")
	v.SetDefault("auth.ldap_port", 389)

	v.SetDefault("quota.free_bytes", int64(100*1024*1024))
	v.SetDefault("quota.pro_bytes", int64(10*1024*1024*1024))
	v.SetDefault("quota.team_bytes", int64(100*1024*1024*1024))

	v.SetDefault("metrics.enable", true)
	v.SetDefault("metrics.path", "/metrics")
}

func bindFlags(cmd *cobra.Command, v *viper.Viper) error {
	flags := map[string]string{
		"listen":    "listen",
		"data-dir":  "data_dir",
		"log-level": "log_level",
		"tls-cert":  "cert_file",
		"tls-key":   "key_file",
	}

	for flag, key := range flags {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return err
		}
	}

	return nil
}

func validate(cfg *Config) error {
	if cfg.DataDir == "" {
		return fmt.Errorf("data_dir is required: specify via --data-dir flag, config file, or ECHOPAD_DATA_DIR environment variable")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("failed to create data directory: %w", err)
	}

	if cfg.Storage.Root == "" {
		cfg.Storage.Root = filepath.Join(cfg.DataDir, "blobs")
	}
	if !filepath.IsAbs(cfg.Storage.Root) {
		if abs, err := filepath.Abs(cfg.Storage.Root); err == nil {
			cfg.Storage.Root = abs
		}
	}
	if cfg.Storage.Backend == "filesystem" {
		if _, err := os.Stat(cfg.Storage.Root); os.IsNotExist(err) {
			if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
				return fmt.Errorf("failed to create storage root: %w", err)
			}
		}
	}
	if cfg.Storage.Backend == "s3" && cfg.Storage.S3Bucket == "" {
		return fmt.Errorf("storage.s3_bucket is required when storage.backend=s3")
	}
	if cfg.Storage.IndexDir == "" {
		cfg.Storage.IndexDir = filepath.Join(cfg.DataDir, "blobindex")
	}

	if cfg.Auth.RateLimitStore == "pebble" && cfg.Auth.RateLimitDir == "" {
		cfg.Auth.RateLimitDir = filepath.Join(cfg.DataDir, "ratelimit")
	}

	if (cfg.CertFile == "") != (cfg.KeyFile == "") {
		return fmt.Errorf("cert-file and key-file must be provided together")
	}
	if cfg.EnableTLS {
		if cfg.CertFile == "" || cfg.KeyFile == "" {
			return fmt.Errorf("TLS enabled but cert-file or key-file not specified")
		}
	}

	if cfg.Auth.JWTSecret == "" {
		logrus.Warn("auth.jwt_secret not configured; falling back to an insecure development secret")
		cfg.Auth.JWTSecret = devJWTSecretWarning
	}

	return nil
}
