// Package config provides configuration management for docsync commands.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
)

// EngineConfig holds configuration for the document engine and batch runner.
type EngineConfig struct {
	MaxChildDepth int
	Workers       int
	MaxBatchSize  int
	DataDir       string
	RulesFile     string
}

// DefaultEngineConfig returns configuration with default values.
func DefaultEngineConfig() *EngineConfig {
	return &EngineConfig{
		MaxChildDepth: 8,
		Workers:       4,
		MaxBatchSize:  1000,
		DataDir:       "./data",
		RulesFile:     "./rules.yaml",
	}
}

// DatabaseURL resolves the database URL: the --db-url flag value when set,
// else DS_DB_URL. Database URLs carry credentials, so they are never read
// from the config file.
func DatabaseURL(flagValue string) (string, error) {
	raw := strings.TrimSpace(flagValue)
	source := "--db-url"
	if raw == "" {
		raw = strings.TrimSpace(os.Getenv("DS_DB_URL"))
		source = "DS_DB_URL"
	}
	if raw == "" {
		return "", fmt.Errorf("database URL required (set --db-url or DS_DB_URL)")
	}
	if err := ParseDatabaseURL(raw); err != nil {
		return "", fmt.Errorf("%s: %w", source, err)
	}
	return raw, nil
}

// ParseDatabaseURL checks that raw names a supported database.
func ParseDatabaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid database URL: %w", err)
	}
	switch u.Scheme {
	case "sqlite":
		if u.Host == "" && u.Path == "" {
			return fmt.Errorf("sqlite URL needs a file path")
		}
	case "postgres", "postgresql":
		if u.Host == "" {
			return fmt.Errorf("postgres URL needs a host")
		}
	default:
		return fmt.Errorf("unsupported database scheme %q (expected sqlite or postgres)", u.Scheme)
	}
	return nil
}
