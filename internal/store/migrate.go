package store

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
)

// migrationLockKey serializes migrations across instances sharing a database.
const migrationLockKey int64 = 0x636c617373636874

var migrationName = regexp.MustCompile(`^(\d+)_[a-z0-9_]+\.(up|down)\.sql$`)

type migrationFile struct {
	version string
	name    string
}

func listMigrations(fsys fs.FS, direction string) ([]migrationFile, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var files []migrationFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		match := migrationName.FindStringSubmatch(entry.Name())
		if match == nil || match[2] != direction {
			continue
		}
		files = append(files, migrationFile{version: match[1], name: entry.Name()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].version < files[j].version })
	return files, nil
}

// ApplyMigrations runs every pending up migration in version order. Each file
// commits in its own transaction together with its schema_migrations row.
func ApplyMigrations(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	files, err := listMigrations(fsys, "up")
	if err != nil {
		return err
	}
	return withMigrationLock(ctx, db, func(conn *sql.Conn) error {
		if err := ensureMigrationsTable(ctx, conn); err != nil {
			return err
		}
		for _, file := range files {
			migrated, err := isMigrated(ctx, conn, file.name)
			if err != nil {
				return err
			}
			if migrated {
				continue
			}
			if err := runMigration(ctx, conn, fsys, file.name, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations(version) VALUES($1)`, file.name)
				return err
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

// RollbackMigrations runs the down files of every applied migration, newest first.
func RollbackMigrations(ctx context.Context, db *sql.DB, fsys fs.FS) error {
	downs, err := listMigrations(fsys, "down")
	if err != nil {
		return err
	}
	return withMigrationLock(ctx, db, func(conn *sql.Conn) error {
		if err := ensureMigrationsTable(ctx, conn); err != nil {
			return err
		}
		for i := len(downs) - 1; i >= 0; i-- {
			down := downs[i]
			upName := strings.TrimSuffix(down.name, ".down.sql") + ".up.sql"
			migrated, err := isMigrated(ctx, conn, upName)
			if err != nil {
				return err
			}
			if !migrated {
				continue
			}
			if err := runMigration(ctx, conn, fsys, down.name, func(tx *sql.Tx) error {
				_, err := tx.ExecContext(ctx, `DELETE FROM schema_migrations WHERE version=$1`, upName)
				return err
			}); err != nil {
				return err
			}
		}
		return nil
	})
}

func runMigration(ctx context.Context, conn *sql.Conn, fsys fs.FS, name string, record func(*sql.Tx) error) error {
	contents, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read migration %s: %w", name, err)
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx %s: %w", name, err)
	}
	if body := strings.TrimSpace(string(contents)); body != "" {
		if _, err := tx.ExecContext(ctx, body); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("execute migration %s: %w", name, err)
		}
	}
	if err := record(tx); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func withMigrationLock(ctx context.Context, db *sql.DB, fn func(*sql.Conn) error) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("migration conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1)`, migrationLockKey); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		_, _ = conn.ExecContext(context.Background(), `SELECT pg_advisory_unlock($1)`, migrationLockKey)
	}()
	return fn(conn)
}

func ensureMigrationsTable(ctx context.Context, conn *sql.Conn) error {
	_, err := conn.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}
	return nil
}

func isMigrated(ctx context.Context, conn *sql.Conn, version string) (bool, error) {
	var exists bool
	err := conn.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version=$1)`, version).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check migration %s: %w", version, err)
	}
	return exists, nil
}
