package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/drdecide/clinic-gateway/cognito"
	"github.com/drdecide/clinic-gateway/utils"
	"github.com/joho/godotenv"
	"go.uber.org/multierr"
)

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig
	Database      *DatabaseConfig // Optional: audit trail store. When nil, audit events are only logged.
	Cognito       CognitoConfig
	Audit         AuditConfig
	Observability ObservabilityConfig
	Environment   string `validate:"required"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string
	Port            int           `validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `validate:"gt=0"`
	WriteTimeout    time.Duration `validate:"gt=0"`
	ShutdownTimeout time.Duration `validate:"gt=0"`
	AllowedOrigins  []string
	TLS             struct {
		Enabled  bool
		CertFile string
		KeyFile  string
	}
}

// DatabaseConfig holds PostgreSQL database configuration
type DatabaseConfig struct {
	ConnectionString string `validate:"required"` // From DATABASE_URL
	MaxOpenConns     int    `validate:"gt=0"`
	MaxIdleConns     int    `validate:"gte=0"`
	ConnMaxLifetime  time.Duration
}

// CognitoConfig holds the user pool settings tokens are verified against
type CognitoConfig struct {
	Region                    string        `validate:"required_without=JWKSURL"`
	UserPoolID                string        `validate:"required_without=JWKSURL"`
	JWKSURL                   string        `validate:"omitempty,url"` // Overrides the URL derived from region and pool
	ClientID                  string        `validate:"required"`
	RoleClaim                 string        `validate:"required"`
	ClockSkew                 time.Duration `validate:"gte=0"`
	UnknownKeyRefreshInterval time.Duration `validate:"gt=0"`
	MaxUnknownKeyRefreshes    int           `validate:"gt=0"`
	BackgroundRefresh         time.Duration `validate:"gte=0"`
	HTTPTimeout               time.Duration `validate:"gt=0"`
}

// AuditConfig holds the async audit worker settings
type AuditConfig struct {
	Enabled    bool
	Workers    int `validate:"gt=0"`
	BufferSize int `validate:"gt=0"`
}

// ObservabilityConfig holds monitoring and logging configuration
type ObservabilityConfig struct {
	LogLevel       string `validate:"required,oneof=debug info warn error"`
	LogFormat      string `validate:"oneof=json text console"` // json or text
	MetricsEnabled bool
}

// New creates a new Config instance by loading environment variables
func New(ctx context.Context) (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load(".env")

	var parseErrs envParseErrors

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:            getEnv("SERVER_HOST", "0.0.0.0"),
			Port:            getPort(),
			ReadTimeout:     parseErrs.duration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    parseErrs.duration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: parseErrs.duration("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			AllowedOrigins:  getEnvAsSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
			TLS: struct {
				Enabled  bool
				CertFile string
				KeyFile  string
			}{
				Enabled:  getEnvAsBool("TLS_ENABLED", false),
				CertFile: getEnv("TLS_CERT_FILE", "certs/cert.pem"),
				KeyFile:  getEnv("TLS_KEY_FILE", "certs/key.pem"),
			},
		},
		Database: loadDatabaseConfig(&parseErrs),
		Cognito: CognitoConfig{
			Region:                    getEnv("COGNITO_REGION", ""),
			UserPoolID:                getEnv("COGNITO_USER_POOL_ID", ""),
			JWKSURL:                   getEnv("COGNITO_JWKS_URL", ""),
			ClientID:                  getEnv("COGNITO_CLIENT_ID", ""),
			RoleClaim:                 getEnv("COGNITO_ROLE_CLAIM", cognito.DefaultRoleClaim),
			ClockSkew:                 parseErrs.duration("AUTH_CLOCK_SKEW", 0),
			UnknownKeyRefreshInterval: parseErrs.duration("AUTH_UNKNOWN_KID_REFRESH_INTERVAL", cognito.DefaultUnknownKeyRefreshInterval),
			MaxUnknownKeyRefreshes:    getEnvAsInt("AUTH_UNKNOWN_KID_MAX_REFRESHES", cognito.DefaultMaxUnknownKeyRefreshes),
			BackgroundRefresh:         parseErrs.duration("COGNITO_JWKS_BACKGROUND_REFRESH", 0),
			HTTPTimeout:               parseErrs.duration("COGNITO_HTTP_TIMEOUT", cognito.DefaultFetchTimeout),
		},
		Audit: AuditConfig{
			Enabled:    getEnvAsBool("AUDIT_ENABLED", true),
			Workers:    getEnvAsInt("AUDIT_WORKERS", 2),
			BufferSize: getEnvAsInt("AUDIT_BUFFER_SIZE", 1000),
		},
		Observability: ObservabilityConfig{
			LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
			LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "json")),
			MetricsEnabled: getEnvAsBool("METRICS_ENABLED", true),
		},
	}

	// Malformed durations are fatal, never replaced by their defaults
	if parseErrs.err != nil {
		return nil, fmt.Errorf("config parse failed: %w", parseErrs.err)
	}

	// Validate the configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if all required configuration fields are set
func (c *Config) Validate() error {
	if err := utils.ValidateStruct(c); err != nil {
		return err
	}

	if c.Server.TLS.Enabled && (c.Server.TLS.CertFile == "" || c.Server.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert and key files are required when TLS is enabled")
	}

	return c.Cognito.Verifier().Validate()
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Environment == "production" || c.Environment == "prod"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development" || c.Environment == "dev"
}

// Verifier converts the settings into a cognito.Config
func (c *CognitoConfig) Verifier() cognito.Config {
	return cognito.Config{
		Region:                    c.Region,
		UserPoolID:                c.UserPoolID,
		JWKSURL:                   c.JWKSURL,
		ClientID:                  c.ClientID,
		RoleClaim:                 c.RoleClaim,
		ClockSkew:                 c.ClockSkew,
		UnknownKeyRefreshInterval: c.UnknownKeyRefreshInterval,
		MaxUnknownKeyRefreshes:    c.MaxUnknownKeyRefreshes,
		BackgroundRefresh:         c.BackgroundRefresh,
		HTTPTimeout:               c.HTTPTimeout,
	}
}

// DSN returns the PostgreSQL connection string
func (c *DatabaseConfig) DSN() string {
	return c.ConnectionString
}

// LogString returns a safe string for logging (no password)
func (c *DatabaseConfig) LogString() string {
	u, err := url.Parse(c.ConnectionString)
	if err != nil || u.Host == "" {
		return "host=<from DATABASE_URL>"
	}
	port := u.Port()
	if port == "" {
		port = "5432"
	}
	db := strings.TrimPrefix(u.Path, "/")
	return fmt.Sprintf("host=%s port=%s database=%s", u.Hostname(), port, db)
}

// loadDatabaseConfig loads the audit store config from DATABASE_URL.
// Returns nil when not set.
func loadDatabaseConfig(parseErrs *envParseErrors) *DatabaseConfig {
	dbURL := getEnv("DATABASE_URL", "")
	if dbURL == "" {
		return nil
	}
	return &DatabaseConfig{
		ConnectionString: dbURL,
		MaxOpenConns:     getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:     getEnvAsInt("DB_MAX_IDLE_CONNS", 2),
		ConnMaxLifetime:  parseErrs.duration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
	}
}

// Address returns the HTTP server address
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Helper functions

// getPort returns the server port from PORT or SERVER_PORT env vars (default: 8080)
func getPort() int {
	if value := os.Getenv("PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	if value := os.Getenv("SERVER_PORT"); value != "" {
		if p, err := strconv.Atoi(value); err == nil {
			return p
		}
	}
	return 8080
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue, nil
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue, fmt.Errorf("%s: invalid duration %q: %w", key, valueStr, err)
	}
	return value, nil
}

// envParseErrors collects malformed values so they are reported together
type envParseErrors struct {
	err error
}

func (e *envParseErrors) duration(key string, defaultValue time.Duration) time.Duration {
	value, err := getEnvAsDuration(key, defaultValue)
	e.err = multierr.Append(e.err, err)
	return value
}

func getEnvAsSlice(key string, defaultValue []string) []string {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	var values []string
	for _, v := range strings.Split(valueStr, ",") {
		if v = strings.TrimSpace(v); v != "" {
			values = append(values, v)
		}
	}
	return values
}
