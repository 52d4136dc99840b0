package migrations

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func openMemory(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRun_AppliesAllMigrations(t *testing.T) {
	db := openMemory(t)

	require.NoError(t, Run(db))

	version, err := GetCurrentVersion(db)
	require.NoError(t, err)
	require.Equal(t, AllMigrations[len(AllMigrations)-1].Version, version)

	for _, table := range []string{"bench_runs", "bench_records", "schema_migrations"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		require.NoError(t, err, "table %s missing", table)
	}
}

func TestRun_Idempotent(t *testing.T) {
	db := openMemory(t)

	require.NoError(t, Run(db))
	require.NoError(t, Run(db))

	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	require.Equal(t, len(AllMigrations), applied)
}

func TestMigrations_Ordered(t *testing.T) {
	for i := 1; i < len(AllMigrations); i++ {
		require.Greater(t, AllMigrations[i].Version, AllMigrations[i-1].Version)
	}
}
