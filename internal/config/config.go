// Package config loads client and server settings from defaults, a .env
// file, WOODTIME_* environment variables and command-line flags, in that
// order of priority.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// EnvPrefix is the prefix of every environment variable read by the package
const EnvPrefix = "WOODTIME_"

// Значения по умолчанию
const (
	DefaultServerURL     = "http://localhost:8080"
	DefaultClientDBPath  = "woodtime.db"
	DefaultServerAddress = ":8080"
	DefaultServerDBPath  = "woodtime-server.db"
	DefaultTokenTTL      = 24 * time.Hour
	DefaultAuthRateLimit = 10 // запросов в минуту на IP
	DefaultPullBatchSize = 100
	DefaultPushBatchSize = 50
	DefaultRetryInterval = 5 * time.Second
)

// ErrInvalidConfig is returned for values that fail validation
var ErrInvalidConfig = errors.New("invalid configuration")

// LogConfig describes the logger
type LogConfig struct {
	Level  string // debug|info|warn|error
	Format string // text|json
}

// ClientConfig holds the settings of the CLI client
type ClientConfig struct {
	Log           LogConfig
	ServerURL     string
	DBPath        string
	RetryInterval time.Duration
	PullBatchSize int
	PushBatchSize int
	ShowVersion   bool
}

// ServerConfig holds the settings of the server
type ServerConfig struct {
	Log           LogConfig
	Address       string
	DBPath        string
	JWTSecret     string
	TokenTTL      time.Duration
	AuthRateLimit int
	ShowVersion   bool
}

// LoadEnvFile loads the first .env found in the working directory or up to
// two parents. Variables already set in the environment are not overridden.
func LoadEnvFile() error {
	for _, path := range []string{".env", filepath.Join("..", ".env"), filepath.Join("..", "..", ".env")} {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			return fmt.Errorf("failed to load %s: %w", path, err)
		}
		return nil
	}
	return nil
}

// LoadClient parses client flags on top of the environment and returns the
// config and the remaining arguments (command and its args).
func LoadClient(args []string, output io.Writer) (*ClientConfig, []string, error) {
	cfg := &ClientConfig{
		ServerURL:     getEnv("SERVER_URL", DefaultServerURL),
		DBPath:        getEnv("DB", DefaultClientDBPath),
		RetryInterval: DefaultRetryInterval,
		PullBatchSize: DefaultPullBatchSize,
		PushBatchSize: DefaultPushBatchSize,
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "warn"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	var err error
	if cfg.RetryInterval, err = getEnvDuration("RETRY_INTERVAL", cfg.RetryInterval); err != nil {
		return nil, nil, err
	}
	if cfg.PullBatchSize, err = getEnvInt("PULL_BATCH_SIZE", cfg.PullBatchSize); err != nil {
		return nil, nil, err
	}
	if cfg.PushBatchSize, err = getEnvInt("PUSH_BATCH_SIZE", cfg.PushBatchSize); err != nil {
		return nil, nil, err
	}

	fs := flag.NewFlagSet("woodtime", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.ServerURL, "server", cfg.ServerURL, "Server URL")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to local database")
	fs.DurationVar(&cfg.RetryInterval, "retry", cfg.RetryInterval, "Replication retry interval")
	fs.IntVar(&cfg.PullBatchSize, "pull-batch", cfg.PullBatchSize, "Documents per pull request")
	fs.IntVar(&cfg.PushBatchSize, "push-batch", cfg.PushBatchSize, "Documents per push request")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "Log format: text, json")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, nil, err
	}
	return cfg, fs.Args(), nil
}

// Validate checks the client settings
func (c *ClientConfig) Validate() error {
	if !strings.HasPrefix(c.ServerURL, "http://") && !strings.HasPrefix(c.ServerURL, "https://") {
		return fmt.Errorf("%w: server URL must start with http:// or https://", ErrInvalidConfig)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}
	if c.RetryInterval <= 0 {
		return fmt.Errorf("%w: retry interval must be positive", ErrInvalidConfig)
	}
	if c.PullBatchSize <= 0 || c.PushBatchSize <= 0 {
		return fmt.Errorf("%w: batch sizes must be positive", ErrInvalidConfig)
	}
	return c.Log.Validate()
}

// LoadServer parses server flags on top of the environment.
// An empty JWT secret is replaced with a random one, so tokens do not
// survive a restart.
func LoadServer(args []string, output io.Writer) (*ServerConfig, error) {
	cfg := &ServerConfig{
		Address:       getEnv("ADDRESS", DefaultServerAddress),
		DBPath:        getEnv("DB", DefaultServerDBPath),
		JWTSecret:     getEnv("JWT_SECRET", ""),
		TokenTTL:      DefaultTokenTTL,
		AuthRateLimit: DefaultAuthRateLimit,
		Log: LogConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
	}

	var err error
	if cfg.TokenTTL, err = getEnvDuration("TOKEN_TTL", cfg.TokenTTL); err != nil {
		return nil, err
	}
	if cfg.AuthRateLimit, err = getEnvInt("AUTH_RATE_LIMIT", cfg.AuthRateLimit); err != nil {
		return nil, err
	}

	fs := flag.NewFlagSet("woodtime-server", flag.ContinueOnError)
	fs.SetOutput(output)
	fs.StringVar(&cfg.Address, "addr", cfg.Address, "Listen address")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to SQLite database")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "Secret for signing access tokens")
	fs.DurationVar(&cfg.TokenTTL, "token-ttl", cfg.TokenTTL, "Access token lifetime")
	fs.IntVar(&cfg.AuthRateLimit, "auth-rate-limit", cfg.AuthRateLimit, "Auth requests per minute per IP")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "Show version information")
	fs.StringVar(&cfg.Log.Level, "log-level", cfg.Log.Level, "Log level: debug, info, warn, error")
	fs.StringVar(&cfg.Log.Format, "log-format", cfg.Log.Format, "Log format: text, json")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if cfg.JWTSecret == "" {
		secret, err := randomSecret(32)
		if err != nil {
			return nil, err
		}
		cfg.JWTSecret = secret
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the server settings
func (c *ServerConfig) Validate() error {
	if c.Address == "" {
		return fmt.Errorf("%w: listen address is required", ErrInvalidConfig)
	}
	if c.DBPath == "" {
		return fmt.Errorf("%w: database path is required", ErrInvalidConfig)
	}
	if len(c.JWTSecret) < 16 {
		return fmt.Errorf("%w: JWT secret must be at least 16 characters", ErrInvalidConfig)
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("%w: token TTL must be positive", ErrInvalidConfig)
	}
	if c.AuthRateLimit <= 0 {
		return fmt.Errorf("%w: auth rate limit must be positive", ErrInvalidConfig)
	}
	return c.Log.Validate()
}

// Validate checks level and format
func (l LogConfig) Validate() error {
	if _, err := l.level(); err != nil {
		return err
	}
	switch l.Format {
	case "text", "json":
		return nil
	default:
		return fmt.Errorf("%w: unknown log format %q", ErrInvalidConfig, l.Format)
	}
}

func (l LogConfig) level() (slog.Level, error) {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, l.Level)
	}
}

// NewLogger builds a slog logger writing to w
func (l LogConfig) NewLogger(w io.Writer) (*slog.Logger, error) {
	level, err := l.level()
	if err != nil {
		return nil, err
	}

	opts := &slog.HandlerOptions{Level: level}
	if l.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	}
	return slog.New(slog.NewTextHandler(w, opts)), nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(EnvPrefix + key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, key, err)
	}
	return n, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := getEnv(key, "")
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, key, err)
	}
	return d, nil
}

// randomSecret генерирует случайный секрет длиной 2*n символов
func randomSecret(n int) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
