package postgres

import (
	"context"
	"embed"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type migration struct {
	version  int
	filename string
}

// listMigrations returns the files with the given suffix, ordered by version.
func listMigrations(suffix string) ([]migration, error) {
	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var out []migration
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), suffix) {
			continue
		}
		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%03d_", &version); err != nil {
			continue
		}
		out = append(out, migration{version: version, filename: entry.Name()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].version < out[j].version })
	return out, nil
}

func ensureMigrationsTable(ctx context.Context, pool *pgxpool.Pool) (int, error) {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return 0, fmt.Errorf("create migrations table: %w", err)
	}

	var currentVersion int
	err = pool.QueryRow(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&currentVersion)
	if err != nil {
		return 0, fmt.Errorf("get current version: %w", err)
	}
	return currentVersion, nil
}

// Migrate applies every pending up migration, each in its own transaction.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	currentVersion, err := ensureMigrationsTable(ctx, pool)
	if err != nil {
		return err
	}

	migrations, err := listMigrations(".up.sql")
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.version <= currentVersion {
			continue
		}
		sql, err := migrationsFS.ReadFile("migrations/" + m.filename)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", m.filename, err)
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx for migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec(ctx, string(sql)); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("apply migration %d: %w", m.version, err)
		}

		if _, err := tx.Exec(ctx, "INSERT INTO schema_migrations (version) VALUES ($1)", m.version); err != nil {
			tx.Rollback(ctx)
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}

		log.Info().Int("version", m.version).Str("file", m.filename).Msg("applied migration")
	}

	return nil
}

// MigrateDown rolls back the most recently applied migration.
func MigrateDown(ctx context.Context, pool *pgxpool.Pool) error {
	currentVersion, err := ensureMigrationsTable(ctx, pool)
	if err != nil {
		return err
	}
	if currentVersion == 0 {
		log.Info().Msg("no migrations to roll back")
		return nil
	}

	migrations, err := listMigrations(".down.sql")
	if err != nil {
		return err
	}
	var down *migration
	for i := range migrations {
		if migrations[i].version == currentVersion {
			down = &migrations[i]
		}
	}
	if down == nil {
		return fmt.Errorf("no down migration for version %d", currentVersion)
	}

	sql, err := migrationsFS.ReadFile("migrations/" + down.filename)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", down.filename, err)
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx for rollback %d: %w", down.version, err)
	}
	if _, err := tx.Exec(ctx, string(sql)); err != nil {
		tx.Rollback(ctx)
		return fmt.Errorf("roll back migration %d: %w", down.version, err)
	}
	if _, err := tx.Exec(ctx, "DELETE FROM schema_migrations WHERE version = $1", down.version); err != nil {
		tx.Rollback(ctx)
		return fmt.Errorf("unrecord migration %d: %w", down.version, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit rollback %d: %w", down.version, err)
	}

	log.Info().Int("version", down.version).Str("file", down.filename).Msg("rolled back migration")
	return nil
}
