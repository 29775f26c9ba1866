package store

import (
	"context"
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed migrations/postgres/*.sql migrations/sqlite/*.sql
var migrationFS embed.FS

const migrationsLedgerPostgres = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		id BIGSERIAL PRIMARY KEY,
		filename TEXT NOT NULL UNIQUE,
		checksum TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

const migrationsLedgerSQLite = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		filename TEXT NOT NULL UNIQUE,
		checksum TEXT NOT NULL,
		applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`

// Migrate applies every embedded migration for the dialect that is not yet
// recorded in schema_migrations. Each file runs in its own transaction. It
// returns the filenames applied by this call.
func (db *DB) Migrate(ctx context.Context) ([]string, error) {
	ledger := migrationsLedgerPostgres
	if db.dialect.Name() == "sqlite" {
		ledger = migrationsLedgerSQLite
	}
	if _, err := db.ExecContext(ctx, ledger); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	dir := path.Join("migrations", db.dialect.Name())
	entries, err := fs.ReadDir(migrationFS, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	var applied []string
	for _, name := range files {
		content, err := migrationFS.ReadFile(path.Join(dir, name))
		if err != nil {
			return applied, fmt.Errorf("read %s: %w", name, err)
		}
		sum := sha256.Sum256(content)
		checksum := hex.EncodeToString(sum[:])

		var recorded []string
		if err := db.SelectContext(ctx, &recorded,
			db.Rebind(`SELECT checksum FROM schema_migrations WHERE filename = ?`), name); err != nil {
			return applied, fmt.Errorf("check %s: %w", name, err)
		}
		if len(recorded) > 0 {
			if recorded[0] != checksum {
				db.log.WithField("migration", name).Warn("applied migration differs from embedded copy")
			}
			continue
		}

		err = db.InTx(ctx, nil, func(tx *sqlx.Tx) error {
			for _, stmt := range splitStatements(string(content)) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("apply %s: %w", name, err)
				}
			}
			_, err := tx.ExecContext(ctx,
				tx.Rebind(`INSERT INTO schema_migrations (filename, checksum) VALUES (?, ?)`), name, checksum)
			return err
		})
		if err != nil {
			return applied, err
		}
		db.log.WithField("migration", name).Info("applied migration")
		applied = append(applied, name)
	}
	return applied, nil
}

// splitStatements breaks a migration file on statement-terminating semicolons.
// Migrations never contain semicolons inside string literals or bodies.
func splitStatements(content string) []string {
	var out []string
	for _, part := range strings.Split(content, ";\n") {
		stmt := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(part), ";"))
		if stmt != "" {
			out = append(out, stmt)
		}
	}
	return out
}
