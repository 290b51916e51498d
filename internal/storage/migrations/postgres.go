package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// postgresLockKey serializes migration runs of concurrently starting replicas.
const postgresLockKey int64 = 0x65766f6e6674 // "evonft"

const postgresVersionTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       TEXT NOT NULL,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`

// PostgresDB is the part of *pgxpool.Pool used by ApplyPostgres.
type PostgresDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ApplyPostgres applies the embedded PostgreSQL migrations that are not yet
// recorded and returns the versions it applied. Each migration runs in its own
// transaction together with its schema_migrations row.
func ApplyPostgres(ctx context.Context, db PostgresDB) ([]int, error) {
	return applyPostgres(ctx, db, PostgresFS, "postgres")
}

func applyPostgres(ctx context.Context, db PostgresDB, fsys fs.FS, dir string) ([]int, error) {
	all, err := Load(fsys, dir)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(ctx, postgresVersionTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}

	var applied []int
	for _, m := range all {
		ran, err := applyPostgresMigration(ctx, db, m)
		if err != nil {
			return applied, fmt.Errorf("migration %03d_%s: %w", m.Version, m.Name, err)
		}
		if ran {
			applied = append(applied, m.Version)
		}
	}
	return applied, nil
}

func applyPostgresMigration(ctx context.Context, db PostgresDB, m Migration) (bool, error) {
	var ran bool
	err := pgx.BeginFunc(ctx, db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, postgresLockKey); err != nil {
			return fmt.Errorf("lock: %w", err)
		}

		var done bool
		err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)`, m.Version).Scan(&done)
		if err != nil {
			return fmt.Errorf("check version: %w", err)
		}
		if done {
			return nil
		}

		// Without arguments pgx uses the simple protocol, which accepts the
		// whole multi-statement file.
		if strings.TrimSpace(m.SQL) != "" {
			if _, err := tx.Exec(ctx, m.SQL); err != nil {
				return err
			}
		}
		if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES ($1, $2)`, m.Version, m.Name); err != nil {
			return fmt.Errorf("record version: %w", err)
		}
		ran = true
		return nil
	})
	return ran, err
}
