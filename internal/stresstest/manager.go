package stresstest

import (
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/studiowebux/poolbench/internal/migrations"
	"github.com/studiowebux/poolbench/internal/types"
)

const runColumns = `
	id, name, target, started_at, completed_at, status, iterations, iterations_completed,
	pool_count, pool_size, requests_per_pool, max_retries,
	total_records, total_failures, total_retries,
	COALESCE(avg_time_data_us, 0), COALESCE(min_time_data_us, 0), COALESCE(max_time_data_us, 0),
	COALESCE(p50_time_data_us, 0), COALESCE(p95_time_data_us, 0), COALESCE(p99_time_data_us, 0),
	COALESCE(host_cpu_percent, 0), COALESCE(host_mem_percent, 0)`

// ErrRunNotFound is returned when no run has the requested ID
var ErrRunNotFound = errors.New("run not found")

// Manager handles run and record persistence
type Manager struct {
	db *sql.DB
}

// NewManager opens (or creates) the database at dbPath and migrates it
func NewManager(dbPath string) (*Manager, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// sqlite serializes writers; one handle also keeps :memory: databases shared
	db.SetMaxOpenConns(1)

	m := &Manager{db: db}

	if err := migrations.Run(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return m, nil
}

// Close closes the database connection
func (m *Manager) Close() error {
	return m.db.Close()
}

// CreateRun creates a new run record
func (m *Manager) CreateRun(run *Run) error {
	result, err := m.db.Exec(`
		INSERT INTO bench_runs
		(name, target, started_at, status, iterations, pool_count, pool_size, requests_per_pool, max_retries)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.Name, run.Target, run.StartedAt, run.Status, run.Iterations, run.PoolCount, run.PoolSize,
		run.RequestsPerPool, run.MaxRetries)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	run.ID = id
	return nil
}

// UpdateRun stores the progress and summary of a run
func (m *Manager) UpdateRun(run *Run) error {
	_, err := m.db.Exec(`
		UPDATE bench_runs
		SET completed_at = ?, status = ?, iterations_completed = ?,
		    total_records = ?, total_failures = ?, total_retries = ?,
		    avg_time_data_us = ?, min_time_data_us = ?, max_time_data_us = ?,
		    p50_time_data_us = ?, p95_time_data_us = ?, p99_time_data_us = ?,
		    host_cpu_percent = ?, host_mem_percent = ?
		WHERE id = ?
	`, run.CompletedAt, run.Status, run.IterationsCompleted,
		run.TotalRecords, run.TotalFailures, run.TotalRetries,
		run.AvgTimeDataUs, run.MinTimeDataUs, run.MaxTimeDataUs,
		run.P50TimeDataUs, run.P95TimeDataUs, run.P99TimeDataUs,
		run.HostCPUPercent, run.HostMemPercent, run.ID)
	if err != nil {
		return fmt.Errorf("failed to update run %d: %w", run.ID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	run := &Run{}
	var completedAt sql.NullTime

	err := row.Scan(&run.ID, &run.Name, &run.Target, &run.StartedAt, &completedAt, &run.Status,
		&run.Iterations, &run.IterationsCompleted, &run.PoolCount, &run.PoolSize,
		&run.RequestsPerPool, &run.MaxRetries, &run.TotalRecords, &run.TotalFailures,
		&run.TotalRetries, &run.AvgTimeDataUs, &run.MinTimeDataUs, &run.MaxTimeDataUs,
		&run.P50TimeDataUs, &run.P95TimeDataUs, &run.P99TimeDataUs,
		&run.HostCPUPercent, &run.HostMemPercent)
	if err != nil {
		return nil, err
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	return run, nil
}

// GetRun retrieves a run by ID
func (m *Manager) GetRun(id int64) (*Run, error) {
	row := m.db.QueryRow(`SELECT `+runColumns+` FROM bench_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %d: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run %d: %w", id, err)
	}
	return run, nil
}

// ListRuns returns the most recent runs first
func (m *Manager) ListRuns(limit int) ([]*Run, error) {
	query := `SELECT ` + runColumns + ` FROM bench_runs ORDER BY started_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := m.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// DeleteRun deletes a run; its records go with it through the foreign key
func (m *Manager) DeleteRun(id int64) error {
	result, err := m.db.Exec("DELETE FROM bench_runs WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete run %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to delete run %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("run %d: %w", id, ErrRunNotFound)
	}
	return nil
}

// SaveRecordsBatch saves the records of one iteration in a single transaction
func (m *Manager) SaveRecordsBatch(runID int64, iteration int, records []types.StatsRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := m.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO bench_records
		(run_id, iteration, pool_id, connection_id, method, resource, success, retries, size, status, time_connect, time_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.Exec(runID, iteration, r.PoolID, r.ConnectionID, r.Method, r.Resource,
			r.Success, r.Retries, r.Size, r.Status, r.TimeConnect, r.TimeData)
		if err != nil {
			return fmt.Errorf("failed to insert record: %w", err)
		}
	}

	return tx.Commit()
}

// GetRecords retrieves all records of a run in insertion order
func (m *Manager) GetRecords(runID int64) ([]types.IterationRecord, error) {
	rows, err := m.db.Query(`
		SELECT iteration, pool_id, connection_id, method, resource, success, retries, size, status,
		       time_connect, time_data
		FROM bench_records
		WHERE run_id = ?
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []types.IterationRecord
	for rows.Next() {
		var rec types.IterationRecord
		err := rows.Scan(&rec.Iteration, &rec.PoolID, &rec.ConnectionID, &rec.Method, &rec.Resource,
			&rec.Success, &rec.Retries, &rec.Size, &rec.Status, &rec.TimeConnect, &rec.TimeData)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// RecordSink stores iterations of one run through a Manager
type RecordSink struct {
	manager *Manager
	runID   int64
}

// Write implements Sink
func (s *RecordSink) Write(iteration int, records []types.StatsRecord) error {
	return s.manager.SaveRecordsBatch(s.runID, iteration, records)
}
