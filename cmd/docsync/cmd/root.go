package cmd

import (
	"github.com/spf13/cobra"
)

var (
	configFile string
	dbURL      string
	rulesFile  string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:          "docsync",
	Short:        "docsync document processing engine",
	Long:         `docsync moves source records through filters, relationship checks and field transformations until they are ready to send to the target system.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db-url", "", "database connection URL (sqlite://path or postgres://...), defaults to DS_DB_URL")
	rootCmd.PersistentFlags().StringVar(&rulesFile, "rules", "", "rule set file (overrides engine.rules_file)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "json", "log format (json, text)")
}

func Execute() error {
	return rootCmd.Execute()
}
