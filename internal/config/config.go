// Package config handles loading application configuration from environment
// variables. All config is centralized here so no other package reads env
// vars directly. Sensible defaults are provided for development.
package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/joho/godotenv"
)

// Supported values for DB_DRIVER.
const (
	DriverMySQL    = "mysql"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds all application configuration. Populated from environment
// variables at startup. Passed to other packages via dependency injection.
type Config struct {
	// Env is the runtime environment: "development" or "production".
	Env string

	// Port is the HTTP listen port (default: 8080).
	Port int

	// BaseURL is the public-facing URL used for links and CORS.
	BaseURL string

	// LogLevel controls log verbosity: "debug", "info", "warn", "error".
	LogLevel string

	// TrustedProxies lists CIDRs whose X-Forwarded-For headers are believed.
	TrustedProxies []string

	// Database holds relational store connection settings.
	Database DatabaseConfig

	// Redis holds Redis connection settings. Optional.
	Redis RedisConfig

	// Auth holds authentication and session settings.
	Auth AuthConfig

	// Upload holds file upload settings.
	Upload UploadConfig

	// Model holds settings for the external classifier.
	Model ModelConfig

	// Evaluation holds settings for the evaluation reporting feed.
	Evaluation EvaluationConfig
}

// DatabaseConfig holds relational store connection parameters. Individual
// fields (Host, Port, User, Password, Name) are read from separate env vars.
// If DATABASE_URL is set, it takes precedence over the individual fields.
type DatabaseConfig struct {
	// Driver selects the SQL dialect: mysql (default), postgres or sqlite.
	Driver string

	// Host is the database host. May include a port ("db:3307").
	Host string

	// Port is the database port. Empty means the driver default.
	Port string

	// User is the database username.
	User string

	// Password is the database password.
	Password string

	// Name is the database name. For sqlite it is the database file path.
	Name string

	// dsnOverride is set when DATABASE_URL is provided, bypassing individual fields.
	dsnOverride string

	// MaxOpenConns is the maximum number of open connections in the pool.
	MaxOpenConns int

	// MaxIdleConns is the maximum number of idle connections in the pool.
	MaxIdleConns int

	// ConnMaxLifetime is how long a connection can be reused.
	ConnMaxLifetime time.Duration
}

// DSN returns the driver-specific connection string. If DATABASE_URL was
// set, it is returned as-is (a Heroku/Render style "postgres://" URL works
// unchanged with pgx). Otherwise the DSN is built from the individual fields.
func (d DatabaseConfig) DSN() string {
	if d.dsnOverride != "" {
		return d.dsnOverride
	}

	switch d.Driver {
	case DriverPostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(d.User, d.Password),
			Host:     hostPort(d.Host, d.Port, "5432"),
			Path:     "/" + d.Name,
			RawQuery: "sslmode=disable",
		}
		return u.String()
	case DriverSQLite:
		return "file:" + d.Name + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"
	default:
		// Config.FormatDSN safely handles special characters in passwords.
		cfg := mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = hostPort(d.Host, d.Port, "3306")
		cfg.DBName = d.Name
		cfg.ParseTime = true
		return cfg.FormatDSN()
	}
}

// hostPort joins host and port. An explicit port wins; otherwise a port
// embedded in host is kept, falling back to the driver default.
func hostPort(host, port, defaultPort string) string {
	if port != "" {
		h, _, err := net.SplitHostPort(host)
		if err == nil {
			host = h
		}
		return net.JoinHostPort(host, port)
	}
	return ensurePort(host, defaultPort)
}

// ensurePort appends the default port if the host string doesn't include one.
// Allows users to set DB_HOST=mydb (gets the default) or DB_HOST=mydb:3307 (as-is).
func ensurePort(host, defaultPort string) string {
	_, _, err := net.SplitHostPort(host)
	if err != nil {
		return net.JoinHostPort(host, defaultPort)
	}
	return host
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	// URL is the Redis connection URL (e.g., "redis://localhost:6379").
	// Empty disables Redis; sessions are then kept in the relational store.
	URL string
}

// Enabled reports whether a Redis URL was configured.
func (r RedisConfig) Enabled() bool {
	return r.URL != ""
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	// SecretKey signs session cookies (HMAC-SHA256).
	SecretKey string

	// IdleTimeout is how long a session survives without activity. Each
	// authenticated request renews it.
	IdleTimeout time.Duration

	// AbsoluteTimeout caps a session's total lifetime from login. Zero
	// disables the cap.
	AbsoluteTimeout time.Duration

	// CleanupSchedule is the cron spec for sweeping expired sessions.
	CleanupSchedule string

	// SecureCookies sets the Secure flag on the session cookie.
	SecureCookies bool

	// HashAlgorithm is "argon2id" or "pbkdf2-sha256".
	HashAlgorithm string
}

// UploadConfig holds file upload settings.
type UploadConfig struct {
	// MaxSize is the maximum upload file size in bytes.
	MaxSize int64

	// AllowedExtensions lists accepted file extensions, lowercase, without dot.
	AllowedExtensions []string
}

// ModelConfig holds settings for the model server.
type ModelConfig struct {
	// ServerURL is the base URL of a TensorFlow-Serving compatible REST API.
	ServerURL string

	// Name is the served model name.
	Name string

	// Timeout bounds a single classify call.
	Timeout time.Duration

	// ImageSize is the edge length of the square model input.
	ImageSize int
}

// EvaluationConfig holds settings for the evaluation dashboard.
type EvaluationConfig struct {
	// ReportPath is the JSON file produced by the training pipeline.
	ReportPath string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first if present; real
// environment variables always win over it.
// Returns an error if required variables are missing.
func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")
	production := isProductionEnv(env)

	defaultLevel := "debug"
	if production {
		defaultLevel = "info"
	}

	cfg := &Config{
		Env:      env,
		Port:     getEnvInt("PORT", 8080),
		BaseURL:  getEnv("BASE_URL", "http://localhost:8080"),
		LogLevel: getEnv("LOG_LEVEL", defaultLevel),

		TrustedProxies: getEnvList("TRUSTED_PROXIES", []string{
			"127.0.0.0/8", "10.0.0.0/8", "172.16.0.0/12", "192.168.0.0/16", "::1/128", "fd00::/8",
		}),

		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("DB_DRIVER", DriverMySQL)),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", ""),
			User:            getEnv("DB_USER", "cellscan"),
			Password:        getEnv("DB_PASSWORD", "cellscan"),
			Name:            getEnv("DB_NAME", "cellscan"),
			dsnOverride:     getEnv("DATABASE_URL", ""),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},

		Redis: RedisConfig{
			URL: getEnv("REDIS_URL", ""),
		},

		Auth: AuthConfig{
			SecretKey:       getEnv("SECRET_KEY", ""),
			IdleTimeout:     getEnvDuration("SESSION_IDLE_TIMEOUT", 2*time.Hour),
			AbsoluteTimeout: getEnvDuration("SESSION_ABSOLUTE_TIMEOUT", 24*time.Hour),
			CleanupSchedule: getEnv("SESSION_CLEANUP_SCHEDULE", "@every 15m"),
			SecureCookies:   getEnvBool("SECURE_COOKIES", production),
			HashAlgorithm:   strings.ToLower(getEnv("PASSWORD_HASH_ALGORITHM", "argon2id")),
		},

		Upload: UploadConfig{
			MaxSize:           getEnvInt64("MAX_UPLOAD_SIZE", 16*1024*1024), // 16MB
			AllowedExtensions: getEnvList("ALLOWED_EXTENSIONS", []string{"png", "jpg", "jpeg"}),
		},

		Model: ModelConfig{
			ServerURL: strings.TrimRight(getEnv("MODEL_SERVER_URL", "http://localhost:8501"), "/"),
			Name:      getEnv("MODEL_NAME", "malaria"),
			Timeout:   getEnvDuration("MODEL_TIMEOUT", 30*time.Second),
			ImageSize: getEnvInt("IMG_SIZE", 128),
		},

		Evaluation: EvaluationConfig{
			ReportPath: getEnv("EVALUATION_REPORT_PATH", "./reports/evaluation.json"),
		},
	}

	switch cfg.Database.Driver {
	case DriverMySQL, DriverPostgres, DriverSQLite:
	case "postgresql", "pgx":
		cfg.Database.Driver = DriverPostgres
	case "mariadb":
		cfg.Database.Driver = DriverMySQL
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", cfg.Database.Driver)
	}

	if cfg.Database.Driver == DriverSQLite && cfg.Database.Name == "cellscan" {
		cfg.Database.Name = "cellscan.db"
	}

	switch cfg.Auth.HashAlgorithm {
	case "argon2id", "pbkdf2-sha256":
	default:
		return nil, fmt.Errorf("unsupported PASSWORD_HASH_ALGORITHM %q", cfg.Auth.HashAlgorithm)
	}

	if cfg.Auth.IdleTimeout <= 0 {
		return nil, fmt.Errorf("SESSION_IDLE_TIMEOUT must be positive")
	}

	if cfg.Model.ImageSize <= 0 {
		return nil, fmt.Errorf("IMG_SIZE must be positive")
	}

	// Validate required fields in production.
	if production {
		if cfg.Auth.SecretKey == "" {
			return nil, fmt.Errorf("SECRET_KEY is required in production")
		}
		if len(cfg.Auth.SecretKey) < 32 {
			return nil, fmt.Errorf("SECRET_KEY must be at least 32 characters in production")
		}
	}

	// Provide a dev-only default secret so local dev works without .env.
	if cfg.Auth.SecretKey == "" {
		cfg.Auth.SecretKey = "dev-secret-key-do-not-use-in-production!!"
	}

	return cfg, nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(c.Env)
	return env == "development" || env == "dev"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return isProductionEnv(c.Env)
}

// isProductionEnv is case-insensitive so "Production" and "prod" match too.
func isProductionEnv(env string) bool {
	env = strings.ToLower(env)
	return env == "production" || env == "prod"
}

// --- Helper functions for reading environment variables ---

// getEnv reads a string env var or returns the default.
func getEnv(key, defaultVal string) string {
	if val, ok := os.LookupEnv(key); ok {
		return val
	}
	return defaultVal
}

// getEnvInt reads an integer env var or returns the default.
func getEnvInt(key string, defaultVal int) int {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvInt64 reads an int64 env var or returns the default.
func getEnvInt64(key string, defaultVal int64) int64 {
	if val, ok := os.LookupEnv(key); ok {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

// getEnvBool reads a boolean env var ("true", "1", "false", ...) or returns the default.
func getEnvBool(key string, defaultVal bool) bool {
	if val, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration reads a duration env var (e.g., "2h") or returns the default.
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}

// getEnvList reads a comma-separated env var, lowercased and trimmed, with
// leading dots stripped (".png" and "png" are equivalent).
func getEnvList(key string, defaultVal []string) []string {
	val, ok := os.LookupEnv(key)
	if !ok {
		return defaultVal
	}
	var out []string
	for _, part := range strings.Split(val, ",") {
		part = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(part)), ".")
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
