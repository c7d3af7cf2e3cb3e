package store

import (
	"fmt"
	"os"
	"strconv"
)

// Config describes how to connect to the Postgres instance backing the
// store. Mirrors the teacher's database.Config (pkg/database/config.go):
// a plain struct loaded from the environment, not a yaml document, since
// connection details are process bootstrap, not orchestration policy.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime int // seconds
}

// LoadConfigFromEnv reads FLEET_DB_* variables, falling back to sane
// defaults for local development, matching the teacher's
// LoadConfigFromEnv/getEnvOrDefault idiom.
func LoadConfigFromEnv() *Config {
	return &Config{
		Host:            getEnvOrDefault("FLEET_DB_HOST", "localhost"),
		Port:            getEnvIntOrDefault("FLEET_DB_PORT", 5432),
		User:            getEnvOrDefault("FLEET_DB_USER", "fleet"),
		Password:        getEnvOrDefault("FLEET_DB_PASSWORD", "fleet"),
		Database:        getEnvOrDefault("FLEET_DB_NAME", "fleet"),
		SSLMode:         getEnvOrDefault("FLEET_DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvIntOrDefault("FLEET_DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvIntOrDefault("FLEET_DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvIntOrDefault("FLEET_DB_CONN_MAX_LIFETIME", 300),
	}
}

// Validate checks the required fields are present.
func (c *Config) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("database host is required")
	}
	if c.Database == "" {
		return fmt.Errorf("database name is required")
	}
	if c.Port <= 0 {
		return fmt.Errorf("database port must be positive")
	}
	return nil
}

// DSN renders the libpq connection string consumed by pgdriver.
func (c *Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode)
}

func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}
