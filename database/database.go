// Package database opens the Postgres connection and owns the schema.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

func Connect(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return db, nil
}

func migrations() migrate.MigrationSource {
	return migrate.EmbedFileSystemMigrationSource{
		FileSystem: migrationFiles,
		Root:       "migrations",
	}
}

// Migrate applies (Up) or rolls back (Down) the embedded migrations and
// returns how many ran.
func Migrate(db *sql.DB, direction migrate.MigrationDirection) (int, error) {
	n, err := migrate.Exec(db, "postgres", migrations(), direction)
	if err != nil {
		return n, fmt.Errorf("running migrations: %w", err)
	}
	return n, nil
}

// Pending lists the migrations that Migrate(db, migrate.Up) would apply.
func Pending(db *sql.DB) ([]string, error) {
	planned, _, err := migrate.PlanMigration(db, "postgres", migrations(), migrate.Up, 0)
	if err != nil {
		return nil, fmt.Errorf("planning migrations: %w", err)
	}
	ids := make([]string, 0, len(planned))
	for _, m := range planned {
		ids = append(ids, m.Id)
	}
	return ids, nil
}
