// Package migrations embeds the schema for every supported driver.
package migrations

import (
	"embed"
	"fmt"
)

//go:embed sqlite/*.sql
var sqliteFS embed.FS

//go:embed postgres/*.sql
var postgresFS embed.FS

// For returns the embedded migration files and their directory for a
// database/sql driver name.
func For(driver string) (embed.FS, string, error) {
	switch driver {
	case "sqlite3":
		return sqliteFS, "sqlite", nil
	case "postgres":
		return postgresFS, "postgres", nil
	default:
		return embed.FS{}, "", fmt.Errorf("unsupported database driver: %s", driver)
	}
}
