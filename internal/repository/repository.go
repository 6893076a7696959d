// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, domain.Configurationf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != memoryPath {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveEvents replaces the events of a dataset in one transaction.
func (r *SQLRepository) SaveEvents(ctx context.Context, dataset string, events []domain.Event) error {
	if dataset == "" {
		return fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM events WHERE dataset = ?`), dataset); err != nil {
		return err
	}

	stmt, err := tx.PrepareContext(ctx, r.rebind(`
		INSERT INTO events (
			dataset, event_id, ts_unix_nano, customer_id, terminal_id,
			amount, fraud, scenario, time_seconds, time_days
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`))
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, ev := range events {
		fraud := 0
		if ev.Fraud {
			fraud = 1
		}
		if _, err := stmt.ExecContext(ctx,
			dataset, ev.EventID, ev.Timestamp.UnixNano(), ev.CustomerID, ev.TerminalID,
			ev.Amount, fraud, int(ev.Scenario), ev.TimeSeconds, ev.TimeDays,
		); err != nil {
			return fmt.Errorf("failed to insert event %d: %w", ev.EventID, err)
		}
	}

	return tx.Commit()
}

// ListEvents returns the events of a dataset in event id order.
// An unknown dataset yields no events.
func (r *SQLRepository) ListEvents(ctx context.Context, dataset string) ([]domain.Event, error) {
	if dataset == "" {
		return nil, fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}

	query := `
		SELECT event_id, ts_unix_nano, customer_id, terminal_id,
			   amount, fraud, scenario, time_seconds, time_days
		FROM events
		WHERE dataset = ?
		ORDER BY event_id
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), dataset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var ev domain.Event
		var ts int64
		var fraud, scenario int

		if err := rows.Scan(
			&ev.EventID, &ts, &ev.CustomerID, &ev.TerminalID,
			&ev.Amount, &fraud, &scenario, &ev.TimeSeconds, &ev.TimeDays,
		); err != nil {
			return nil, err
		}

		ev.Timestamp = time.Unix(0, ts).UTC()
		ev.Fraud = fraud == 1
		ev.Scenario = domain.Scenario(scenario)
		events = append(events, ev)
	}

	return events, rows.Err()
}

// DeleteEvents removes a dataset.
func (r *SQLRepository) DeleteEvents(ctx context.Context, dataset string) error {
	if dataset == "" {
		return fmt.Errorf("%w: dataset is required", ErrInvalidInput)
	}
	_, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM events WHERE dataset = ?`), dataset)
	return err
}

// SaveRun stores a training run.
func (r *SQLRepository) SaveRun(ctx context.Context, run *domain.TrainingRun) error {
	if run == nil || run.ID == "" {
		return fmt.Errorf("%w: run id is required", ErrInvalidInput)
	}

	scores, err := json.Marshal(run.Scores)
	if err != nil {
		return fmt.Errorf("failed to encode scores: %w", err)
	}
	params, err := json.Marshal(run.EstimatorParams)
	if err != nil {
		return fmt.Errorf("failed to encode estimator params: %w", err)
	}

	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	query := `
		INSERT INTO training_runs (
			id, algorithm, data_source, data_hash, scores, estimator_params,
			train_rows, test_rows, duration_ms, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		run.ID, run.Algorithm, run.DataSource, run.DataHash,
		string(scores), string(params),
		run.TrainRows, run.TestRows, run.DurationMs, createdAt,
	)
	return err
}

const runColumns = `
	id, algorithm, data_source, data_hash, scores, estimator_params,
	train_rows, test_rows, duration_ms, created_at
`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*domain.TrainingRun, error) {
	var run domain.TrainingRun
	var scores, params string

	if err := s.Scan(
		&run.ID, &run.Algorithm, &run.DataSource, &run.DataHash,
		&scores, &params,
		&run.TrainRows, &run.TestRows, &run.DurationMs, &run.CreatedAt,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(scores), &run.Scores); err != nil {
		return nil, fmt.Errorf("failed to parse scores of run %s: %w", run.ID, err)
	}
	if err := json.Unmarshal([]byte(params), &run.EstimatorParams); err != nil {
		return nil, fmt.Errorf("failed to parse estimator params of run %s: %w", run.ID, err)
	}
	return &run, nil
}

// GetRun retrieves a training run by ID.
func (r *SQLRepository) GetRun(ctx context.Context, runID string) (*domain.TrainingRun, error) {
	query := `SELECT ` + runColumns + ` FROM training_runs WHERE id = ?`

	run, err := scanRun(r.db.QueryRowContext(ctx, r.rebind(query), runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns runs newest first, for one algorithm or all when empty.
func (r *SQLRepository) ListRuns(ctx context.Context, algorithm string) ([]*domain.TrainingRun, error) {
	query := `SELECT ` + runColumns + ` FROM training_runs`
	var args []any
	if algorithm != "" {
		query += ` WHERE algorithm = ?`
		args = append(args, algorithm)
	}
	query += ` ORDER BY created_at DESC, id`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.TrainingRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// SaveArtifact stores or replaces one blob of a bundle.
func (r *SQLRepository) SaveArtifact(ctx context.Context, algorithm string, kind string, blob []byte) error {
	if algorithm == "" || kind == "" {
		return fmt.Errorf("%w: algorithm and kind are required", ErrInvalidInput)
	}

	query := `
		INSERT INTO artifacts (algorithm, kind, blob, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(algorithm, kind) DO UPDATE SET
			blob = excluded.blob,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query), algorithm, kind, string(blob), time.Now().UTC())
	return err
}

// GetArtifact retrieves one blob of a bundle.
func (r *SQLRepository) GetArtifact(ctx context.Context, algorithm string, kind string) ([]byte, error) {
	query := `SELECT blob FROM artifacts WHERE algorithm = ? AND kind = ?`

	var blob string
	err := r.db.QueryRowContext(ctx, r.rebind(query), algorithm, kind).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return []byte(blob), nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			n++
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
