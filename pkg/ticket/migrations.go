package ticket

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strconv"
	"strings"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// migration is one numbered, forward-only schema step.
type migration struct {
	version int
	name    string
	sql     string
}

// loadMigrations reads the embedded migration files sorted by version.
// File names follow NNNN_description.sql; the numeric prefix is the version.
func loadMigrations() ([]migration, error) {
	entries, err := fs.ReadDir(migrationFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations: %w", err)
	}

	var migrations []migration
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasSuffix(name, ".sql") {
			continue
		}
		prefix, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, fmt.Errorf("malformed migration file name: %s", name)
		}
		version, err := strconv.Atoi(prefix)
		if err != nil {
			return nil, fmt.Errorf("malformed migration version in %s: %w", name, err)
		}
		content, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return nil, fmt.Errorf("failed to read migration %s: %w", name, err)
		}
		migrations = append(migrations, migration{version: version, name: name, sql: string(content)})
	}

	sort.Slice(migrations, func(i, j int) bool {
		return migrations[i].version < migrations[j].version
	})
	return migrations, nil
}

// expectedVersion is the highest embedded migration version, the schema
// version this build of the code requires.
func expectedVersion() (int, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return 0, err
	}
	if len(migrations) == 0 {
		return 0, errors.New("no embedded migrations found")
	}
	return migrations[len(migrations)-1].version, nil
}

// currentVersion reads the schema version from the database.
// Returns (0, false, nil) when the schema_version table does not exist,
// meaning the database has never been migrated.
func currentVersion(ctx context.Context, db *sql.DB) (int, bool, error) {
	var version int
	err := db.QueryRowContext(ctx,
		"SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	switch {
	case err == nil:
		return version, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return 0, true, nil
	default:
		// modernc/sqlite reports a missing table as a generic query error.
		if strings.Contains(err.Error(), "no such table") {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to read schema version: %w", err)
	}
}

// checkVersion verifies the database schema matches what this build expects.
// An uninitialized or outdated database needs `warren migrate`; a newer
// database means the binary is stale.
func checkVersion(ctx context.Context, db *sql.DB) error {
	expected, err := expectedVersion()
	if err != nil {
		return err
	}
	current, initialized, err := currentVersion(ctx, db)
	if err != nil {
		return err
	}
	if !initialized {
		return fmt.Errorf("database not initialized: run 'warren migrate' first")
	}
	if current < expected {
		return fmt.Errorf("database schema outdated (v%d, need v%d): run 'warren migrate'", current, expected)
	}
	if current > expected {
		return fmt.Errorf("database schema newer than this binary (v%d > v%d): update warren", current, expected)
	}
	return nil
}

// Migrate applies all pending migrations to the database at path, creating it
// if necessary. Returns the resulting schema version and the names of the
// migrations applied (empty when already current).
func Migrate(ctx context.Context, path string) (int, []string, error) {
	migrations, err := loadMigrations()
	if err != nil {
		return 0, nil, err
	}

	db, err := openDB(path)
	if err != nil {
		return 0, nil, err
	}
	defer db.Close()

	current, _, err := currentVersion(ctx, db)
	if err != nil {
		return 0, nil, err
	}

	var applied []string
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to begin migration transaction: %w", err)
		}
		if _, err := tx.ExecContext(ctx, m.sql); err != nil {
			tx.Rollback()
			return 0, nil, fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT OR REPLACE INTO schema_version (version, applied_at) VALUES (?, datetime('now'))",
			m.version); err != nil {
			tx.Rollback()
			return 0, nil, fmt.Errorf("failed to record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return 0, nil, fmt.Errorf("failed to commit migration %s: %w", m.name, err)
		}
		applied = append(applied, m.name)
		current = m.version
	}

	return current, applied, nil
}
