// Package config reads service settings from the environment, optionally
// seeded from a .env file.
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

// Store drivers understood by the serve command.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Database holds PostgreSQL connection settings.
type Database struct {
	// URL takes precedence over the individual fields when set.
	URL      string
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN builds a libpq-compatible connection string.
func (c Database) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// Admission carries the admission controller policy knobs.
type Admission struct {
	ReservePendingSlots bool
	AutoConfirm         bool
	LockTimeout         time.Duration
	MaxAttempts         int
	RetryBackoff        time.Duration
	LedgerCacheTTL      time.Duration
}

// Config is the full service configuration.
type Config struct {
	Port        string
	StoreDriver string
	Database    Database
	SQLitePath  string
	Admission   Admission
	JWTSecret   string
	LogLevel    string
}

// Load reads .env (when present) and then the process environment,
// falling back to local-development defaults.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}

	cfg := Config{
		Port:        getEnv("PORT", "8080"),
		StoreDriver: strings.ToLower(getEnv("STORE_DRIVER", DriverPostgres)),
		Database: Database{
			URL:      os.Getenv("DATABASE_URL"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "volunteers"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		SQLitePath: getEnv("SQLITE_PATH", "volunteer.db"),
		JWTSecret:  getEnv("JWT_SECRET", "defaultsecret"),
		LogLevel:   strings.ToLower(getEnv("LOG_LEVEL", "info")),
	}

	var err error
	a := &cfg.Admission
	if a.ReservePendingSlots, err = getBool("RESERVE_PENDING_SLOTS", false); err != nil {
		return Config{}, err
	}
	if a.AutoConfirm, err = getBool("AUTO_CONFIRM", true); err != nil {
		return Config{}, err
	}
	if a.LockTimeout, err = getDuration("LOCK_TIMEOUT", 2*time.Second); err != nil {
		return Config{}, err
	}
	if a.RetryBackoff, err = getDuration("RETRY_BACKOFF", 25*time.Millisecond); err != nil {
		return Config{}, err
	}
	if a.LedgerCacheTTL, err = getDuration("LEDGER_CACHE_TTL", 2*time.Second); err != nil {
		return Config{}, err
	}
	if a.MaxAttempts, err = getInt("MAX_ATTEMPTS", 3); err != nil {
		return Config{}, err
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the service cannot run with.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be one of postgres, sqlite, memory; got %q", c.StoreDriver)
	}
	if c.Admission.MaxAttempts < 1 {
		return fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}
	if c.Admission.LockTimeout <= 0 {
		return fmt.Errorf("LOCK_TIMEOUT must be positive")
	}
	if c.Admission.RetryBackoff < 0 || c.Admission.LedgerCacheTTL < 0 {
		return fmt.Errorf("RETRY_BACKOFF and LEDGER_CACHE_TTL must not be negative")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getBool(key string, fallback bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func getInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
