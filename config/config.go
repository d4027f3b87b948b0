// Package config loads runtime settings from an optional .env file and the
// process environment.
//
// Precedence, highest first: command-line flags (applied by cmd/server),
// real environment variables, .env, built-in defaults.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	defaultAppEnv    = "local"
	defaultPort      = 8080
	defaultDBPath    = "stockroom.db"
	defaultJWTSecret = "change-me-in-production"
	defaultLogLevel  = "info"
	defaultThreshold = 5

	defaultMonitorInterval = 15 * time.Minute
)

var defaultCORSOrigins = []string{"http://localhost:5173", "http://localhost:8080"}

// Config holds every setting the server reads at startup.
type Config struct {
	AppEnv            string
	Port              int
	DBPath            string
	JWTSecret         string
	CORSOrigins       []string
	LogLevel          string
	LowStockThreshold int

	// StockMonitorInterval is how often the low-stock monitor runs. Zero
	// disables it.
	StockMonitorInterval time.Duration

	// DemoScenarios exposes the admin endpoints that wipe and reseed data.
	// Defaults to on outside production.
	DemoScenarios bool
}

// Production reports whether APP_ENV names a production deployment.
func (c Config) Production() bool {
	switch strings.ToLower(c.AppEnv) {
	case "production", "prod":
		return true
	}
	return false
}

// Load reads the files in envFiles (".env" when none are given) and then the
// environment. Missing files are not an error.
func Load(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		// godotenv.Load never overrides variables already set in the process.
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return FromEnv()
}

// FromEnv builds a Config from the process environment only.
func FromEnv() (Config, error) {
	cfg := Config{
		AppEnv:            get("APP_ENV", defaultAppEnv),
		Port:              defaultPort,
		DBPath:            get("DB_PATH", defaultDBPath),
		JWTSecret:         get("JWT_SECRET", ""),
		CORSOrigins:       defaultCORSOrigins,
		LogLevel:          strings.ToLower(get("LOG_LEVEL", defaultLogLevel)),
		LowStockThreshold: defaultThreshold,
	}

	var err error
	if cfg.Port, err = getInt("PORT", defaultPort); err != nil {
		return Config{}, err
	}
	if cfg.LowStockThreshold, err = getInt("LOW_STOCK_THRESHOLD", defaultThreshold); err != nil {
		return Config{}, err
	}
	if cfg.LowStockThreshold < 0 {
		return Config{}, fmt.Errorf("LOW_STOCK_THRESHOLD must not be negative, got %d", cfg.LowStockThreshold)
	}
	if cfg.StockMonitorInterval, err = getDuration("STOCK_MONITOR_INTERVAL", defaultMonitorInterval); err != nil {
		return Config{}, err
	}
	if cfg.DemoScenarios, err = getBool("DEMO_SCENARIOS", !cfg.Production()); err != nil {
		return Config{}, err
	}
	if origins := get("CORS_ORIGINS", ""); origins != "" {
		cfg.CORSOrigins = splitList(origins)
	}

	if cfg.JWTSecret == "" {
		if cfg.Production() {
			return Config{}, errors.New("JWT_SECRET is required in production")
		}
		cfg.JWTSecret = defaultJWTSecret
	}
	return cfg, nil
}

func get(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	v := get(key, "")
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %q is not an integer", key, v)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := get(key, "")
	if v == "" {
		return fallback, nil
	}
	if v == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%s: %q is not a valid duration", key, v)
	}
	return d, nil
}

func getBool(key string, fallback bool) (bool, error) {
	v := get(key, "")
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %q is not a boolean", key, v)
	}
	return b, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
