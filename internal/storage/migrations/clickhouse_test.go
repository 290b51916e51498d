package migrations

import (
	"context"
	"errors"
	"strings"
	"testing"
	"testing/fstest"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClickhouse records executed statements and serves schema_migrations.
type fakeClickhouse struct {
	execs   []string
	applied []uint32
	failOn  string
}

func (f *fakeClickhouse) Exec(_ context.Context, query string, args ...any) error {
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return errors.New("boom")
	}
	f.execs = append(f.execs, query)
	if strings.HasPrefix(query, "INSERT INTO schema_migrations") {
		f.applied = append(f.applied, args[0].(uint32))
	}
	return nil
}

func (f *fakeClickhouse) Query(context.Context, string, ...any) (driver.Rows, error) {
	return &versionRows{versions: append([]uint32(nil), f.applied...), pos: -1}, nil
}

type versionRows struct {
	driver.Rows
	versions []uint32
	pos      int
}

func (r *versionRows) Next() bool {
	r.pos++
	return r.pos < len(r.versions)
}

func (r *versionRows) Scan(dest ...any) error {
	*dest[0].(*uint32) = r.versions[r.pos]
	return nil
}

func (r *versionRows) Close() error { return nil }
func (r *versionRows) Err() error   { return nil }

func testClickhouseFS() fstest.MapFS {
	return fstest.MapFS{
		"ch/001_base.sql":  {Data: []byte("CREATE TABLE a (x UInt8) ENGINE = Memory;\nCREATE TABLE b (y UInt8) ENGINE = Memory;")},
		"ch/002_extra.sql": {Data: []byte("ALTER TABLE a ADD COLUMN z String;")},
	}
}

func TestApplyClickhouse_RecordsVersions(t *testing.T) {
	ctx := context.Background()
	db := &fakeClickhouse{}

	applied, err := applyClickhouse(ctx, db, testClickhouseFS(), "ch")
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, applied)
	assert.Equal(t, []uint32{1, 2}, db.applied)

	var ddl []string
	for _, q := range db.execs {
		if !strings.Contains(q, "schema_migrations") {
			ddl = append(ddl, q)
		}
	}
	assert.Equal(t, []string{
		"CREATE TABLE a (x UInt8) ENGINE = Memory",
		"CREATE TABLE b (y UInt8) ENGINE = Memory",
		"ALTER TABLE a ADD COLUMN z String",
	}, ddl)

	// Second run finds both versions recorded.
	db.execs = nil
	applied, err = applyClickhouse(ctx, db, testClickhouseFS(), "ch")
	require.NoError(t, err)
	assert.Empty(t, applied)
	assert.Len(t, db.execs, 1, "only the version table DDL runs")
}

func TestApplyClickhouse_StopsOnFailure(t *testing.T) {
	db := &fakeClickhouse{failOn: "ALTER TABLE"}

	applied, err := applyClickhouse(context.Background(), db, testClickhouseFS(), "ch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "002_extra")
	assert.Equal(t, []int{1}, applied)
	assert.Equal(t, []uint32{1}, db.applied)
}
