package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// LoadConfig loads configuration from file using viper.
// CLI flags > environment > config file > defaults precedence; commands
// apply flags on the returned config.
func LoadConfig(configPath string) (*EngineConfig, error) {
	v := viper.New()

	// Set defaults matching DefaultEngineConfig
	d := DefaultEngineConfig()
	v.SetDefault("engine.max_child_depth", d.MaxChildDepth)
	v.SetDefault("engine.workers", d.Workers)
	v.SetDefault("engine.max_batch_size", d.MaxBatchSize)
	v.SetDefault("engine.data_dir", d.DataDir)
	v.SetDefault("engine.rules_file", d.RulesFile)

	// Bind environment variables with DS_ prefix
	v.SetEnvPrefix("DS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := validateNoSecretsInConfig(v); err != nil {
		return nil, err
	}

	cfg := &EngineConfig{
		MaxChildDepth: v.GetInt("engine.max_child_depth"),
		Workers:       v.GetInt("engine.workers"),
		MaxBatchSize:  v.GetInt("engine.max_batch_size"),
		DataDir:       v.GetString("engine.data_dir"),
		RulesFile:     v.GetString("engine.rules_file"),
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks positive values for depth, workers and batch size.
func Validate(cfg *EngineConfig) error {
	if cfg.MaxChildDepth <= 0 {
		return fmt.Errorf("max_child_depth must be positive, got %d", cfg.MaxChildDepth)
	}
	if cfg.Workers <= 0 {
		return fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	if cfg.MaxBatchSize <= 0 {
		return fmt.Errorf("max_batch_size must be positive, got %d", cfg.MaxBatchSize)
	}
	if strings.TrimSpace(cfg.RulesFile) == "" {
		return fmt.Errorf("rules_file must be set")
	}
	return nil
}

// validateNoSecretsInConfig enforces environment-only secrets (12-factor principle).
func validateNoSecretsInConfig(v *viper.Viper) error {
	for _, key := range []string{"engine.password", "engine.db_password", "engine.db_url", "db_url"} {
		if v.InConfig(key) {
			return fmt.Errorf("secrets not allowed in config files (%s): use --db-url or the DS_DB_URL environment variable", key)
		}
	}
	return nil
}
