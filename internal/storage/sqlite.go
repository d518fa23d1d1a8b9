package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/gateway-fm/tpsbench/pkg/types"
)

// unmarshalJSON unmarshals JSON and logs any errors without failing.
// Used for nested result columns so one corrupt field does not hide the run.
func unmarshalJSON(data string, v any, field string, runID string) {
	if err := json.Unmarshal([]byte(data), v); err != nil {
		slog.Warn("failed to unmarshal JSON field",
			"field", field,
			"runID", runID,
			"error", err.Error(),
			"dataLen", len(data))
	}
}

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	// WAL lets the API read history while a run is being written.
	dsn := fmt.Sprintf("%s?_journal=WAL&_sync=NORMAL&_cache_size=10000&_foreign_keys=ON", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	s := &SQLiteStorage{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return s, nil
}

// migrate runs database migrations.
func (s *SQLiteStorage) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		started_at DATETIME NOT NULL,
		completed_at DATETIME,
		status TEXT NOT NULL,
		network TEXT,
		kind TEXT NOT NULL,
		target_tps INTEGER NOT NULL,
		total_transactions INTEGER NOT NULL,
		duration_ms INTEGER DEFAULT 0,
		tx_submitted INTEGER DEFAULT 0,
		tx_accepted INTEGER DEFAULT 0,
		tx_errors INTEGER DEFAULT 0,
		config TEXT NOT NULL,
		plan TEXT,
		finalization TEXT,
		throughput TEXT,
		error_message TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at DESC);

	CREATE TABLE IF NOT EXISTS batch_outcomes (
		run_id TEXT NOT NULL,
		batch INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL,
		submitted INTEGER NOT NULL,
		accepted INTEGER NOT NULL,
		error_count INTEGER NOT NULL,
		error_sample TEXT,
		PRIMARY KEY (run_id, batch),
		FOREIGN KEY (run_id) REFERENCES runs(id) ON DELETE CASCADE
	);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// Columns added after the first schema version.
	migrations := []struct {
		table  string
		column string
		sql    string
	}{
		{"runs", "measured_tps", "ALTER TABLE runs ADD COLUMN measured_tps REAL DEFAULT 0"},
		{"runs", "custom_name", "ALTER TABLE runs ADD COLUMN custom_name TEXT"},
		{"runs", "is_favorite", "ALTER TABLE runs ADD COLUMN is_favorite INTEGER DEFAULT 0"},
	}

	for _, m := range migrations {
		if !s.columnExists(m.table, m.column) {
			if _, err := s.db.Exec(m.sql); err != nil {
				return fmt.Errorf("failed to add column %s.%s: %w", m.table, m.column, err)
			}
		}
	}

	return nil
}

// columnExists checks if a column exists in a table.
func (s *SQLiteStorage) columnExists(table, column string) bool {
	if !isValidIdentifier(table) || !isValidIdentifier(column) {
		return false
	}
	query := fmt.Sprintf("SELECT COUNT(*) FROM pragma_table_info('%s') WHERE name = '%s'", table, column)
	var count int
	if err := s.db.QueryRow(query).Scan(&count); err != nil {
		return false
	}
	return count > 0
}

// isValidIdentifier checks if a string is a valid SQLite identifier.
func isValidIdentifier(s string) bool {
	if len(s) == 0 || len(s) > 128 {
		return false
	}
	for _, c := range s {
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9') || c == '_') {
			return false
		}
	}
	return true
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// CreateRun records a run that has just started.
func (s *SQLiteStorage) CreateRun(ctx context.Context, run *types.RunReport) error {
	configJSON, err := json.Marshal(run.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, started_at, status, network, kind, target_tps, total_transactions, config)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.StartedAt, run.Status, run.Config.Network, run.Config.Kind,
		run.Config.TargetTPS, run.Config.TotalTransactions, string(configJSON))
	return err
}

// CompleteRun stores the final state of a run.
func (s *SQLiteStorage) CompleteRun(ctx context.Context, run *types.RunReport) error {
	planJSON, err := json.Marshal(run.Plan)
	if err != nil {
		return fmt.Errorf("marshal plan: %w", err)
	}
	finalization, err := marshalOptional(run.Finalization)
	if err != nil {
		return fmt.Errorf("marshal finalization: %w", err)
	}
	throughput, err := marshalOptional(run.Throughput)
	if err != nil {
		return fmt.Errorf("marshal throughput: %w", err)
	}

	var measuredTPS float64
	if run.Throughput != nil {
		measuredTPS = run.Throughput.TPS
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE runs SET
			completed_at = ?, status = ?, duration_ms = ?,
			tx_submitted = ?, tx_accepted = ?, tx_errors = ?,
			plan = ?, finalization = ?, throughput = ?, measured_tps = ?,
			error_message = ?
		WHERE id = ?
	`, run.CompletedAt, run.Status, run.DurationMs,
		run.TxSubmitted, run.TxAccepted, run.TxErrors,
		string(planJSON), finalization, throughput, measuredTPS,
		nullString(run.Error), run.ID)
	if err != nil {
		return err
	}
	return requireRow(res, run.ID)
}

const runColumns = `
	id, started_at, completed_at, status, duration_ms,
	tx_submitted, tx_accepted, tx_errors,
	config, plan, finalization, throughput, error_message,
	custom_name, COALESCE(is_favorite, 0)
`

// GetRun returns a run by ID, or nil when it does not exist.
func (s *SQLiteStorage) GetRun(ctx context.Context, id string) (*Run, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE id = ?", id)
	run, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return run, err
}

// ListRuns returns one page of runs, favorites first, then newest first.
func (s *SQLiteStorage) ListRuns(ctx context.Context, limit, offset int) (*PaginatedRuns, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs").Scan(&total); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, "SELECT "+runColumns+`
		FROM runs
		ORDER BY is_favorite DESC, started_at DESC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &PaginatedRuns{
		Runs:   runs,
		Total:  total,
		Limit:  limit,
		Offset: offset,
	}, nil
}

// DeleteRun removes a run and its batch outcomes.
func (s *SQLiteStorage) DeleteRun(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// UpdateRunMetadata sets a run's custom name and favorite flag.
func (s *SQLiteStorage) UpdateRunMetadata(ctx context.Context, id string, update *RunMetadataUpdate) error {
	var sets []string
	var args []any

	if update.CustomName != nil {
		sets = append(sets, "custom_name = ?")
		args = append(args, nullString(*update.CustomName))
	}
	if update.IsFavorite != nil {
		sets = append(sets, "is_favorite = ?")
		if *update.IsFavorite {
			args = append(args, 1)
		} else {
			args = append(args, 0)
		}
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := "UPDATE runs SET " + strings.Join(sets, ", ") + " WHERE id = ?"
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return requireRow(res, id)
}

// BulkInsertBatches stores the per-batch outcomes of a run in one transaction.
func (s *SQLiteStorage) BulkInsertBatches(ctx context.Context, runID string, batches []types.BatchOutcome) error {
	if len(batches) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO batch_outcomes (run_id, batch, started_at, duration_ms, submitted, accepted, error_count, error_sample)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, b := range batches {
		var sample any
		if len(b.ErrorSample) > 0 {
			data, err := json.Marshal(b.ErrorSample)
			if err != nil {
				return fmt.Errorf("marshal error sample: %w", err)
			}
			sample = string(data)
		}
		_, err := stmt.ExecContext(ctx, runID, b.Batch, b.StartedAt, b.DurationMs,
			b.Submitted, b.Accepted, b.ErrorCount, sample)
		if err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetBatches returns a run's batch outcomes in dispatch order.
func (s *SQLiteStorage) GetBatches(ctx context.Context, runID string) ([]types.BatchOutcome, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT batch, started_at, duration_ms, submitted, accepted, error_count, error_sample
		FROM batch_outcomes
		WHERE run_id = ?
		ORDER BY batch ASC
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	batches := []types.BatchOutcome{}
	for rows.Next() {
		var b types.BatchOutcome
		var sample sql.NullString
		if err := rows.Scan(&b.Batch, &b.StartedAt, &b.DurationMs,
			&b.Submitted, &b.Accepted, &b.ErrorCount, &sample); err != nil {
			return nil, err
		}
		if sample.Valid {
			unmarshalJSON(sample.String, &b.ErrorSample, "error_sample", runID)
		}
		batches = append(batches, b)
	}
	return batches, rows.Err()
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (*Run, error) {
	var run Run
	var completedAt sql.NullTime
	var configJSON string
	var planJSON, finalization, throughput, errorMessage, customName sql.NullString
	var isFavorite int

	err := row.Scan(
		&run.ID, &run.StartedAt, &completedAt, &run.Status, &run.DurationMs,
		&run.TxSubmitted, &run.TxAccepted, &run.TxErrors,
		&configJSON, &planJSON, &finalization, &throughput, &errorMessage,
		&customName, &isFavorite,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		run.CompletedAt = completedAt.Time
	}
	unmarshalJSON(configJSON, &run.Config, "config", run.ID)
	if planJSON.Valid {
		unmarshalJSON(planJSON.String, &run.Plan, "plan", run.ID)
	}
	if finalization.Valid {
		run.Finalization = &types.FinalizationResult{}
		unmarshalJSON(finalization.String, run.Finalization, "finalization", run.ID)
	}
	if throughput.Valid {
		run.Throughput = &types.ThroughputResult{}
		unmarshalJSON(throughput.String, run.Throughput, "throughput", run.ID)
	}
	if errorMessage.Valid {
		run.Error = errorMessage.String
	}
	if customName.Valid {
		run.CustomName = &customName.String
	}
	run.IsFavorite = isFavorite != 0

	return &run, nil
}

// marshalOptional encodes v, storing NULL for a nil pointer.
func marshalOptional[T any](v *T) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func requireRow(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("run not found: %s", id)
	}
	return nil
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

var _ Storage = (*SQLiteStorage)(nil)
