package config

// ServerConfig contains HTTP server settings.
type ServerConfig struct {
	Listen      string          `yaml:"listen" mapstructure:"listen"`
	Environment string          `yaml:"environment" mapstructure:"environment"`
	CORSOrigins []string        `yaml:"cors_origins,omitempty" mapstructure:"cors_origins"`
	// TrustProxy takes the client IP from X-Forwarded-For. Only enable it
	// behind a reverse proxy that overwrites the header.
	TrustProxy  bool            `yaml:"trust_proxy" mapstructure:"trust_proxy"`
	RateLimit   RateLimitConfig `yaml:"rate_limit,omitempty" mapstructure:"rate_limit"`
}

// IsProduction reports whether the server runs in the production environment.
// Cookies are only marked Secure and error details are only hidden there.
func (c *ServerConfig) IsProduction() bool {
	return c.Environment == EnvironmentProduction
}

// RateLimitConfig configures per-IP token bucket throttling for the
// general API surface. Login and recovery use the fixed-window limits in
// AuthConfig instead.
type RateLimitConfig struct {
	Enabled       bool          `yaml:"enabled" mapstructure:"enabled"`
	Public        RateLimitTier `yaml:"public,omitempty" mapstructure:"public"`
	Authenticated RateLimitTier `yaml:"authenticated,omitempty" mapstructure:"authenticated"`
}

// RateLimitTier defines request limits for a specific tier.
type RateLimitTier struct {
	RequestsPerMinute int `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// AuthConfig contains authentication settings.
type AuthConfig struct {
	// TokenSecret signs session tokens (HS256). Required.
	TokenSecret string `yaml:"token_secret" mapstructure:"token_secret"`
	SessionTTL  string `yaml:"session_ttl" mapstructure:"session_ttl"`
	CSRFTTL     string `yaml:"csrf_ttl" mapstructure:"csrf_ttl"`
	CookieName  string `yaml:"cookie_name" mapstructure:"cookie_name"`
	// RecoveryDelay is the artificial delay applied when a recovery
	// request names an unknown user.
	RecoveryDelay string          `yaml:"recovery_delay" mapstructure:"recovery_delay"`
	LoginLimit    WindowLimit     `yaml:"login_limit" mapstructure:"login_limit"`
	RecoveryLimit WindowLimit     `yaml:"recovery_limit" mapstructure:"recovery_limit"`
	Bootstrap     BootstrapConfig `yaml:"bootstrap,omitempty" mapstructure:"bootstrap"`
}

// WindowLimit is a fixed-window attempt limit.
type WindowLimit struct {
	Limit  int    `yaml:"limit" mapstructure:"limit"`
	Window string `yaml:"window" mapstructure:"window"`
}

// BootstrapConfig holds the credentials used to create the single admin
// principal on first start. Ignored once an admin exists.
type BootstrapConfig struct {
	Username    string `yaml:"username" mapstructure:"username"`
	Password    string `yaml:"password" mapstructure:"password"`
	RecoveryKey string `yaml:"recovery_key,omitempty" mapstructure:"recovery_key"`
}

// DatabaseConfig contains database connection settings.
type DatabaseConfig struct {
	Driver   string               `yaml:"driver" mapstructure:"driver"`
	SQLite   SQLiteDatabaseConfig `yaml:"sqlite,omitempty" mapstructure:"sqlite"`
	Postgres PostgresConfig       `yaml:"postgres,omitempty" mapstructure:"postgres"`
}

// SQLiteDatabaseConfig contains SQLite-specific settings.
type SQLiteDatabaseConfig struct {
	Path string `yaml:"path" mapstructure:"path"`
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string `yaml:"host" mapstructure:"host"`
	Port     int    `yaml:"port" mapstructure:"port"`
	User     string `yaml:"user" mapstructure:"user"`
	Password string `yaml:"password" mapstructure:"password"`
	Database string `yaml:"database" mapstructure:"database"`
	SSLMode  string `yaml:"ssl_mode,omitempty" mapstructure:"ssl_mode"`
}

// StorageConfig contains image upload storage settings.
// Only one backend (S3 or local) may be enabled at a time.
type StorageConfig struct {
	MaxUploadSize string              `yaml:"max_upload_size" mapstructure:"max_upload_size"`
	S3            *S3StorageConfig    `yaml:"s3,omitempty" mapstructure:"s3"`
	Local         *LocalStorageConfig `yaml:"local,omitempty" mapstructure:"local"`
}

// S3StorageConfig contains settings for S3-compatible upload storage.
type S3StorageConfig struct {
	Enabled         bool   `yaml:"enabled" mapstructure:"enabled"`
	EndpointURL     string `yaml:"endpoint_url,omitempty" mapstructure:"endpoint_url"`
	Region          string `yaml:"region,omitempty" mapstructure:"region"`
	Bucket          string `yaml:"bucket" mapstructure:"bucket"`
	Prefix          string `yaml:"prefix,omitempty" mapstructure:"prefix"`
	AccessKeyID     string `yaml:"access_key_id,omitempty" mapstructure:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key,omitempty" mapstructure:"secret_access_key"`
	ForcePathStyle  bool   `yaml:"force_path_style" mapstructure:"force_path_style"`
	// PublicBaseURL is prepended to object keys to build the returned URL.
	PublicBaseURL string `yaml:"public_base_url,omitempty" mapstructure:"public_base_url"`
}

// LocalStorageConfig stores uploads on the local filesystem and serves them
// under /uploads/.
type LocalStorageConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Dir     string `yaml:"dir" mapstructure:"dir"`
}
