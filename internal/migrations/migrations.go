package migrations

import (
	"database/sql"
	"fmt"
)

// Migration represents a single database migration
type Migration struct {
	Version int
	Name    string
	Up      string
	Down    string
}

// AllMigrations contains all database migrations in order
var AllMigrations = []Migration{
	{
		Version: 1,
		Name:    "Add lookup indices for runs and records",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_bench_runs_name ON bench_runs(name);
			CREATE INDEX IF NOT EXISTS idx_bench_records_resource ON bench_records(run_id, resource);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_bench_runs_name;
			DROP INDEX IF EXISTS idx_bench_records_resource;
		`,
	},
	{
		Version: 2,
		Name:    "Add host usage columns to bench_runs",
		Up: `
			-- host_cpu_percent and host_mem_percent already exist in current schema
			-- This migration is kept for databases created before host sampling
		`,
		Down: `
			-- SQLite does not support DROP COLUMN easily
		`,
	},
	{
		Version: 3,
		Name:    "Add composite index for per-pool record queries",
		Up: `
			CREATE INDEX IF NOT EXISTS idx_bench_records_pool ON bench_records(run_id, iteration, pool_id, connection_id);
		`,
		Down: `
			DROP INDEX IF EXISTS idx_bench_records_pool;
		`,
	},
}

// InitSchema creates all tables required across all modules
// This must be called before running migrations to ensure all tables exist
func InitSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS bench_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL,
		target TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL,
		iterations INTEGER NOT NULL DEFAULT 0,
		iterations_completed INTEGER NOT NULL DEFAULT 0,
		pool_count INTEGER NOT NULL DEFAULT 1,
		pool_size INTEGER NOT NULL DEFAULT 1,
		requests_per_pool INTEGER NOT NULL DEFAULT 0,
		max_retries INTEGER NOT NULL DEFAULT 0,
		total_records INTEGER DEFAULT 0,
		total_failures INTEGER DEFAULT 0,
		total_retries INTEGER DEFAULT 0,
		avg_time_data_us REAL DEFAULT 0,
		min_time_data_us INTEGER DEFAULT 0,
		max_time_data_us INTEGER DEFAULT 0,
		p50_time_data_us INTEGER DEFAULT 0,
		p95_time_data_us INTEGER DEFAULT 0,
		p99_time_data_us INTEGER DEFAULT 0,
		host_cpu_percent REAL DEFAULT 0,
		host_mem_percent REAL DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_bench_runs_started_at ON bench_runs(started_at DESC);
	CREATE INDEX IF NOT EXISTS idx_bench_runs_status ON bench_runs(status);

	CREATE TABLE IF NOT EXISTS bench_records (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id INTEGER NOT NULL,
		iteration INTEGER NOT NULL,
		pool_id INTEGER NOT NULL,
		connection_id INTEGER NOT NULL,
		method TEXT NOT NULL,
		resource TEXT NOT NULL,
		success INTEGER NOT NULL,
		retries INTEGER NOT NULL DEFAULT 0,
		size INTEGER NOT NULL DEFAULT 0,
		status INTEGER NOT NULL DEFAULT 0,
		time_connect INTEGER NOT NULL DEFAULT -1,
		time_data INTEGER NOT NULL DEFAULT 0,
		FOREIGN KEY (run_id) REFERENCES bench_runs(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_bench_records_run_id ON bench_records(run_id, iteration);
	`

	_, err := db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	return nil
}

// Run executes all pending migrations on the database
func Run(db *sql.DB) error {
	// Initialize schema first to ensure all tables exist
	if err := InitSchema(db); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	currentVersion, err := GetCurrentVersion(db)
	if err != nil {
		return fmt.Errorf("failed to get current migration version: %w", err)
	}

	for _, migration := range AllMigrations {
		if migration.Version <= currentVersion {
			continue
		}

		if _, err := db.Exec(migration.Up); err != nil {
			return fmt.Errorf("failed to apply migration %d (%s): %w", migration.Version, migration.Name, err)
		}

		_, err = db.Exec(
			"INSERT INTO schema_migrations (version, name) VALUES (?, ?)",
			migration.Version,
			migration.Name,
		)
		if err != nil {
			return fmt.Errorf("failed to record migration %d: %w", migration.Version, err)
		}
	}

	return nil
}

// GetCurrentVersion returns the current database schema version
func GetCurrentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow(`
		SELECT COALESCE(MAX(version), 0)
		FROM schema_migrations
	`).Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}
	return version, nil
}
