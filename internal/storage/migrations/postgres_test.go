package migrations

import (
	"context"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func setupPostgres(t *testing.T) *pgxpool.Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestApplyPostgres_Idempotent(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()

	applied, err := ApplyPostgres(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, []int{1}, applied)

	applied, err = ApplyPostgres(ctx, pool)
	require.NoError(t, err)
	assert.Empty(t, applied)

	var n int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, 1, n)
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM evolution_attempts`).Scan(&n))
	assert.Zero(t, n)
}

func TestApplyPostgres_FailedMigrationRollsBack(t *testing.T) {
	pool := setupPostgres(t)
	ctx := context.Background()

	fsys := fstest.MapFS{
		"pg/001_ok.sql":     {Data: []byte("CREATE TABLE ok_table (id INT);")},
		"pg/002_broken.sql": {Data: []byte("CREATE TABLE half (id INT); SELECT * FROM no_such_table;")},
	}
	applied, err := applyPostgres(ctx, pool, fsys, "pg")
	require.Error(t, err)
	assert.Equal(t, []int{1}, applied)

	var exists bool
	require.NoError(t, pool.QueryRow(ctx, `SELECT to_regclass('half') IS NOT NULL`).Scan(&exists))
	assert.False(t, exists, "statements of the failed migration roll back")

	var versions []int
	rows, err := pool.Query(ctx, `SELECT version FROM schema_migrations ORDER BY version`)
	require.NoError(t, err)
	for rows.Next() {
		var v int
		require.NoError(t, rows.Scan(&v))
		versions = append(versions, v)
	}
	require.NoError(t, rows.Err())
	assert.Equal(t, []int{1}, versions)
}
