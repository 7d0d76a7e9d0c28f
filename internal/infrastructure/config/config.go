package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for identityd.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	API      APIConfig      `yaml:"api"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
	Seed     SeedConfig     `yaml:"seed"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// MQTTConfig contains MQTT broker connection settings. Session events are
// only published when Enabled is set.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
	TopicPrefix string              `yaml:"topic_prefix"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains token, password and rate limit settings.
type SecurityConfig struct {
	Tokens    TokenConfig     `yaml:"tokens"`
	Password  PasswordConfig  `yaml:"password"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// PurgeInterval is how often expired refresh tokens are deleted, in minutes.
	PurgeInterval int `yaml:"purge_interval"`
}

// TokenConfig contains signing and lifetime settings for access and refresh
// tokens. TTLs are in minutes.
type TokenConfig struct {
	AccessSecret        string `yaml:"access_secret"`
	RefreshSecret       string `yaml:"refresh_secret"`
	Issuer              string `yaml:"issuer"`
	Audience            string `yaml:"audience"`
	AccessTokenTTL      int    `yaml:"access_token_ttl"`
	RefreshTokenTTL     int    `yaml:"refresh_token_ttl"`
	RotateRefreshTokens bool   `yaml:"rotate_refresh_tokens"`
}

// PasswordConfig contains argon2id cost parameters.
type PasswordConfig struct {
	WorkFactor  int `yaml:"work_factor"`
	MemoryKiB   int `yaml:"memory_kib"`
	Parallelism int `yaml:"parallelism"`
}

// RateLimitConfig contains per-client rate limiting for the auth endpoints.
type RateLimitConfig struct {
	Enabled           bool `yaml:"enabled"`
	RequestsPerMinute int  `yaml:"requests_per_minute"`
	Burst             int  `yaml:"burst"`
}

// SeedConfig controls the bootstrap admin account.
type SeedConfig struct {
	Enabled       bool   `yaml:"enabled"`
	AdminUsername string `yaml:"admin_username"`
	AdminEmail    string `yaml:"admin_email"`
	AdminPassword string `yaml:"admin_password"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: IDENTITY_SECTION_KEY
// For example: IDENTITY_DATABASE_PATH, IDENTITY_API_PORT
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:        "./data/identity.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8080,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "identityd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
			TopicPrefix: "identity",
		},
		InfluxDB: InfluxDBConfig{
			Bucket:        "identity",
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			Tokens: TokenConfig{
				Issuer:          "identityd",
				Audience:        "identityd-clients",
				AccessTokenTTL:  15,
				RefreshTokenTTL: 10080,
			},
			Password: PasswordConfig{
				WorkFactor:  3,
				MemoryKiB:   64 * 1024,
				Parallelism: 1,
			},
			RateLimit: RateLimitConfig{
				Enabled:           true,
				RequestsPerMinute: 60,
				Burst:             10,
			},
			PurgeInterval: 60,
		},
		Seed: SeedConfig{
			Enabled:       true,
			AdminUsername: "admin",
			AdminEmail:    "admin@localhost.localdomain",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: IDENTITY_SECTION_KEY
func applyEnvOverrides(cfg *Config) error {
	// Database
	if v := os.Getenv("IDENTITY_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// API
	if v := os.Getenv("IDENTITY_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("IDENTITY_API_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parsing IDENTITY_API_PORT: %w", err)
		}
		cfg.API.Port = port
	}

	// MQTT
	if v := os.Getenv("IDENTITY_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("IDENTITY_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("IDENTITY_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("IDENTITY_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Logging
	if v := os.Getenv("IDENTITY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	// Security - signing secrets (always override in production)
	if v := os.Getenv("IDENTITY_ACCESS_SECRET"); v != "" {
		cfg.Security.Tokens.AccessSecret = v
	}
	if v := os.Getenv("IDENTITY_REFRESH_SECRET"); v != "" {
		cfg.Security.Tokens.RefreshSecret = v
	}
	if v := os.Getenv("IDENTITY_TOKEN_ISSUER"); v != "" {
		cfg.Security.Tokens.Issuer = v
	}
	if v := os.Getenv("IDENTITY_TOKEN_AUDIENCE"); v != "" {
		cfg.Security.Tokens.Audience = v
	}

	// Seed
	if v := os.Getenv("IDENTITY_SEED_ADMIN_PASSWORD"); v != "" {
		cfg.Seed.AdminPassword = v
	}

	return nil
}

// minSecretLength is the minimum length of each token signing secret.
const minSecretLength = 32

// Validate checks the configuration for errors and security issues. Every
// problem is reported, not just the first.
func (c *Config) Validate() error {
	var errs []string

	// Database
	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// API
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == "") {
		errs = append(errs, "api.tls.cert_file and api.tls.key_file are required when TLS is enabled")
	}

	// MQTT
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}

	// InfluxDB
	if c.InfluxDB.Enabled && (c.InfluxDB.URL == "" || c.InfluxDB.Bucket == "") {
		errs = append(errs, "influxdb.url and influxdb.bucket are required when influxdb is enabled")
	}

	// Logging
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}

	errs = append(errs, c.Security.validate()...)

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (s *SecurityConfig) validate() []string {
	var errs []string
	t := s.Tokens

	// Forged tokens grant every permission the forger chooses, so both
	// signing secrets are mandatory and must differ.
	switch {
	case t.AccessSecret == "":
		errs = append(errs, "security.tokens.access_secret is required (set IDENTITY_ACCESS_SECRET environment variable)")
	case len(t.AccessSecret) < minSecretLength:
		errs = append(errs, "security.tokens.access_secret must be at least 32 characters")
	}
	switch {
	case t.RefreshSecret == "":
		errs = append(errs, "security.tokens.refresh_secret is required (set IDENTITY_REFRESH_SECRET environment variable)")
	case len(t.RefreshSecret) < minSecretLength:
		errs = append(errs, "security.tokens.refresh_secret must be at least 32 characters")
	}
	if t.AccessSecret != "" && t.AccessSecret == t.RefreshSecret {
		errs = append(errs, "security.tokens.access_secret and refresh_secret must differ")
	}

	if t.Issuer == "" {
		errs = append(errs, "security.tokens.issuer is required")
	}
	if t.Audience == "" {
		errs = append(errs, "security.tokens.audience is required")
	}
	if t.AccessTokenTTL <= 0 {
		errs = append(errs, "security.tokens.access_token_ttl must be positive")
	}
	if t.RefreshTokenTTL <= t.AccessTokenTTL {
		errs = append(errs, "security.tokens.refresh_token_ttl must be greater than access_token_ttl")
	}

	if s.Password.WorkFactor < 1 {
		errs = append(errs, "security.password.work_factor must be at least 1")
	}
	if s.Password.MemoryKiB < 0 || s.Password.Parallelism < 0 || s.Password.Parallelism > 255 {
		errs = append(errs, "security.password.memory_kib and parallelism must be non-negative (parallelism at most 255)")
	}

	if s.RateLimit.Enabled && s.RateLimit.RequestsPerMinute <= 0 {
		errs = append(errs, "security.rate_limit.requests_per_minute must be positive when rate limiting is enabled")
	}
	if s.RateLimit.Enabled && s.RateLimit.Burst < 1 {
		errs = append(errs, "security.rate_limit.burst must be at least 1 when rate limiting is enabled")
	}
	if s.PurgeInterval <= 0 {
		errs = append(errs, "security.purge_interval must be positive")
	}

	return errs
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}

// AccessTTL returns the access token lifetime.
func (t TokenConfig) AccessTTL() time.Duration {
	return time.Duration(t.AccessTokenTTL) * time.Minute
}

// RefreshTTL returns the refresh token lifetime.
func (t TokenConfig) RefreshTTL() time.Duration {
	return time.Duration(t.RefreshTokenTTL) * time.Minute
}

// GetPurgeInterval returns how often expired refresh tokens are purged.
func (s SecurityConfig) GetPurgeInterval() time.Duration {
	return time.Duration(s.PurgeInterval) * time.Minute
}
