// Package migrations embeds the SQL migration files so the shims binary can
// create its schema without the files on disk.
package migrations

import (
	"embed"

	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/database"
)

//go:embed *.sql
var migrationsFS embed.FS

func init() {
	database.MigrationsFS = migrationsFS
	database.MigrationsDir = "."
}
