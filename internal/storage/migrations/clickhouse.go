package migrations

import (
	"context"
	"fmt"
	"io/fs"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const clickhouseVersionTable = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		version    UInt32,
		name       String,
		applied_at DateTime DEFAULT now()
	) ENGINE = ReplacingMergeTree
	ORDER BY version`

// ClickhouseDB is the part of driver.Conn used by ApplyClickhouse.
type ClickhouseDB interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (driver.Rows, error)
}

// ApplyClickhouse applies the embedded ClickHouse migrations that are not yet
// recorded and returns the versions it applied. The native protocol takes one
// statement per call and has no transactions, so a failed migration may leave
// earlier statements applied; statements use IF NOT EXISTS to make a rerun safe.
func ApplyClickhouse(ctx context.Context, db ClickhouseDB) ([]int, error) {
	return applyClickhouse(ctx, db, ClickhouseFS, "clickhouse")
}

func applyClickhouse(ctx context.Context, db ClickhouseDB, fsys fs.FS, dir string) ([]int, error) {
	all, err := Load(fsys, dir)
	if err != nil {
		return nil, err
	}
	if err := db.Exec(ctx, clickhouseVersionTable); err != nil {
		return nil, fmt.Errorf("create schema_migrations: %w", err)
	}
	done, err := clickhouseVersions(ctx, db)
	if err != nil {
		return nil, err
	}

	var applied []int
	for _, m := range all {
		if done[m.Version] {
			continue
		}
		for _, stmt := range m.Statements() {
			if err := db.Exec(ctx, stmt); err != nil {
				return applied, fmt.Errorf("migration %03d_%s: %w", m.Version, m.Name, err)
			}
		}
		if err := db.Exec(ctx, `INSERT INTO schema_migrations (version, name) VALUES (?, ?)`, uint32(m.Version), m.Name); err != nil {
			return applied, fmt.Errorf("record migration %03d_%s: %w", m.Version, m.Name, err)
		}
		applied = append(applied, m.Version)
	}
	return applied, nil
}

func clickhouseVersions(ctx context.Context, db ClickhouseDB) (map[int]bool, error) {
	rows, err := db.Query(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("read schema_migrations: %w", err)
	}
	defer rows.Close()

	done := make(map[int]bool)
	for rows.Next() {
		var v uint32
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("scan schema_migrations: %w", err)
		}
		done[int(v)] = true
	}
	return done, rows.Err()
}
