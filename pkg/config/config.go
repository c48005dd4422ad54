package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/spf13/viper"
)

const (
	// EnvPrefix is the prefix for environment variable overrides, e.g.
	// GYMDESK_AUTH_TOKEN_SECRET overrides auth.token_secret.
	EnvPrefix = "GYMDESK"

	// EnvironmentProduction enables secure cookies and generic errors.
	EnvironmentProduction = "production"

	// DefaultListen is the default HTTP listen address.
	DefaultListen = ":5050"

	// DefaultSessionTTL is the lifetime of a session token and its cookie.
	DefaultSessionTTL = "4h"

	// DefaultCSRFTTL is the lifetime of a CSRF token, independent of the
	// session token.
	DefaultCSRFTTL = "1h"

	// DefaultCookieName is the session cookie name.
	DefaultCookieName = "admin_token"

	// DefaultRecoveryDelay is the delay on the unknown-user recovery path.
	DefaultRecoveryDelay = "1s"

	// DefaultMaxUploadSize is the default upload size limit.
	DefaultMaxUploadSize = "5MB"

	// maxSecretBytes is the longest password or recovery key bcrypt hashes.
	maxSecretBytes = 72
)

// Config is the root configuration for gymdesk.
type Config struct {
	Server   ServerConfig   `yaml:"server" mapstructure:"server"`
	Auth     AuthConfig     `yaml:"auth" mapstructure:"auth"`
	Database DatabaseConfig `yaml:"database" mapstructure:"database"`
	Storage  StorageConfig  `yaml:"storage,omitempty" mapstructure:"storage"`
}

// Load reads one or more configuration files and applies environment
// variable overrides. Later files are merged on top of earlier ones.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about, so every
	// overridable key is registered with a default first.
	setDefaults(v)

	for i, path := range paths {
		v.SetConfigFile(path)

		var err error
		if i == 0 {
			err = v.ReadInConfig()
		} else {
			err = v.MergeInConfig()
		}

		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen", DefaultListen)
	v.SetDefault("server.environment", "development")
	v.SetDefault("server.cors_origins", []string{})
	v.SetDefault("server.trust_proxy", false)
	v.SetDefault("server.rate_limit.enabled", false)
	v.SetDefault("server.rate_limit.public.requests_per_minute", 120)
	v.SetDefault("server.rate_limit.authenticated.requests_per_minute", 300)

	v.SetDefault("auth.token_secret", "")
	v.SetDefault("auth.session_ttl", DefaultSessionTTL)
	v.SetDefault("auth.csrf_ttl", DefaultCSRFTTL)
	v.SetDefault("auth.cookie_name", DefaultCookieName)
	v.SetDefault("auth.recovery_delay", DefaultRecoveryDelay)
	v.SetDefault("auth.login_limit.limit", 5)
	v.SetDefault("auth.login_limit.window", "15m")
	v.SetDefault("auth.recovery_limit.limit", 3)
	v.SetDefault("auth.recovery_limit.window", "30m")
	v.SetDefault("auth.bootstrap.username", "")
	v.SetDefault("auth.bootstrap.password", "")
	v.SetDefault("auth.bootstrap.recovery_key", "")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.sqlite.path", "gymdesk.db")
	v.SetDefault("database.postgres.host", "localhost")
	v.SetDefault("database.postgres.port", 5432)
	v.SetDefault("database.postgres.user", "")
	v.SetDefault("database.postgres.password", "")
	v.SetDefault("database.postgres.database", "gymdesk")
	v.SetDefault("database.postgres.ssl_mode", "disable")

	v.SetDefault("storage.max_upload_size", DefaultMaxUploadSize)
}

// applyDefaults fills values that an explicit empty string in a config file
// would otherwise leave unset.
func (c *Config) applyDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = DefaultListen
	}

	if c.Auth.SessionTTL == "" {
		c.Auth.SessionTTL = DefaultSessionTTL
	}

	if c.Auth.CSRFTTL == "" {
		c.Auth.CSRFTTL = DefaultCSRFTTL
	}

	if c.Auth.CookieName == "" {
		c.Auth.CookieName = DefaultCookieName
	}

	if c.Auth.RecoveryDelay == "" {
		c.Auth.RecoveryDelay = DefaultRecoveryDelay
	}

	if c.Storage.MaxUploadSize == "" {
		c.Storage.MaxUploadSize = DefaultMaxUploadSize
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Auth.TokenSecret == "" {
		return fmt.Errorf("auth.token_secret is required")
	}

	durations := map[string]string{
		"auth.session_ttl":           c.Auth.SessionTTL,
		"auth.csrf_ttl":              c.Auth.CSRFTTL,
		"auth.recovery_delay":        c.Auth.RecoveryDelay,
		"auth.login_limit.window":    c.Auth.LoginLimit.Window,
		"auth.recovery_limit.window": c.Auth.RecoveryLimit.Window,
	}

	for name, value := range durations {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("%s: invalid duration %q: %w", name, value, err)
		}
	}

	if len(c.Auth.Bootstrap.Password) > maxSecretBytes {
		return fmt.Errorf("auth.bootstrap.password must be at most %d bytes", maxSecretBytes)
	}

	if len(c.Auth.Bootstrap.RecoveryKey) > maxSecretBytes {
		return fmt.Errorf("auth.bootstrap.recovery_key must be at most %d bytes", maxSecretBytes)
	}

	if c.Auth.LoginLimit.Limit <= 0 {
		return fmt.Errorf("auth.login_limit.limit must be positive")
	}

	if c.Auth.RecoveryLimit.Limit <= 0 {
		return fmt.Errorf("auth.recovery_limit.limit must be positive")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.SQLite.Path == "" {
			return fmt.Errorf("database.sqlite.path is required")
		}
	case "postgres":
		if c.Database.Postgres.Host == "" {
			return fmt.Errorf("database.postgres.host is required")
		}
	default:
		return fmt.Errorf("unsupported database driver: %q", c.Database.Driver)
	}

	if _, err := c.Storage.MaxUploadBytes(); err != nil {
		return err
	}

	s3Enabled := c.Storage.S3 != nil && c.Storage.S3.Enabled
	localEnabled := c.Storage.Local != nil && c.Storage.Local.Enabled

	if s3Enabled && localEnabled {
		return fmt.Errorf("storage: only one of s3 or local may be enabled")
	}

	if s3Enabled && c.Storage.S3.Bucket == "" {
		return fmt.Errorf("storage.s3.bucket is required")
	}

	if localEnabled && c.Storage.Local.Dir == "" {
		return fmt.Errorf("storage.local.dir is required")
	}

	return nil
}

// SessionDuration returns the parsed session token lifetime.
func (c *AuthConfig) SessionDuration() time.Duration {
	d, _ := time.ParseDuration(c.SessionTTL)

	return d
}

// CSRFDuration returns the parsed CSRF token lifetime.
func (c *AuthConfig) CSRFDuration() time.Duration {
	d, _ := time.ParseDuration(c.CSRFTTL)

	return d
}

// RecoveryDelayDuration returns the parsed unknown-user recovery delay.
func (c *AuthConfig) RecoveryDelayDuration() time.Duration {
	d, _ := time.ParseDuration(c.RecoveryDelay)

	return d
}

// WindowDuration returns the parsed window length.
func (l WindowLimit) WindowDuration() time.Duration {
	d, _ := time.ParseDuration(l.Window)

	return d
}

// MaxUploadBytes parses the human-readable upload limit ("5MB", "512KiB").
func (c *StorageConfig) MaxUploadBytes() (int64, error) {
	n, err := units.FromHumanSize(c.MaxUploadSize)
	if err != nil {
		return 0, fmt.Errorf("storage.max_upload_size: %w", err)
	}

	if n <= 0 {
		return 0, fmt.Errorf("storage.max_upload_size must be positive")
	}

	return n, nil
}
